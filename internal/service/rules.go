package service

import (
	"github.com/haatos/simple-dispatch/internal/types"
)

// ShouldRun decides whether job runs for the given trigger. A matching except
// predicate always wins; when only is set at least one of its predicates must
// match. A job without rules runs for every trigger.
func ShouldRun(job types.JobDefinition, ctx types.TriggerContext) bool {
	for _, p := range job.Rule.Except {
		if p.Matches(ctx) {
			return false
		}
	}
	if len(job.Rule.Only) == 0 {
		return true
	}
	for _, p := range job.Rule.Only {
		if p.Matches(ctx) {
			return true
		}
	}
	return false
}

// FilterJobs splits jobs into those that run for ctx and those skipped by
// their rules, keeping the input order in both.
func FilterJobs(
	jobs []types.JobDefinition,
	ctx types.TriggerContext,
) (eligible, skipped []types.JobDefinition) {
	for _, j := range jobs {
		if ShouldRun(j, ctx) {
			eligible = append(eligible, j)
		} else {
			skipped = append(skipped, j)
		}
	}
	return eligible, skipped
}
