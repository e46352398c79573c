package types

// TriggerContext describes the push that caused a pipeline run. It is created
// once per run and never modified.
type TriggerContext struct {
	RefName      string
	IsTagPush    bool
	TargetBranch string
}

func NewBranchTrigger(branch string) TriggerContext {
	return TriggerContext{RefName: branch}
}

func NewTagTrigger(tag string) TriggerContext {
	return TriggerContext{RefName: tag, IsTagPush: true}
}

// Variables returns the predefined variables a job sees for this trigger.
func (tc TriggerContext) Variables() []EnvVar {
	vars := []EnvVar{
		{Name: "CI_COMMIT_REF_NAME", Value: tc.RefName},
	}
	if tc.IsTagPush {
		vars = append(vars, EnvVar{Name: "CI_COMMIT_TAG", Value: tc.RefName})
	} else {
		vars = append(vars, EnvVar{Name: "CI_COMMIT_BRANCH", Value: tc.RefName})
	}
	if tc.TargetBranch != "" {
		vars = append(vars, EnvVar{Name: "CI_MERGE_REQUEST_TARGET_BRANCH_NAME", Value: tc.TargetBranch})
	}
	return vars
}
