package types

import (
	"regexp"
	"slices"
	"time"
)

type ReportKind string

const (
	ReportNone        ReportKind = ""
	ReportJUnit       ReportKind = "junit"
	ReportCoverage    ReportKind = "coverage_report"
	ReportCodequality ReportKind = "codequality"
)

// ArtifactDeclaration is one output path pattern a job promises to produce.
// Plain `artifacts: paths:` entries carry ReportNone.
type ArtifactDeclaration struct {
	Path   string
	Report ReportKind
}

type EnvVar struct {
	Name  string
	Value string
}

var envName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ValidEnvName reports whether name can be exported by a POSIX shell.
func ValidEnvName(name string) bool {
	return envName.MatchString(name)
}

type JobDefinition struct {
	Name  string
	Stage string
	Steps []string
	// AfterSteps run once Steps are done, whatever their outcome. They never
	// change the job's status.
	AfterSteps   []string
	Tags         []string
	Env          []EnvVar
	Rule         Rule
	AllowFailure bool
	// AllowFailureExitCodes limits allowed failures to these exit codes when
	// AllowFailure is false.
	AllowFailureExitCodes []int
	Interruptible         bool
	Artifacts             []ArtifactDeclaration
	// Timeout of zero means the configured default applies.
	Timeout time.Duration
}

// FailureAllowed reports whether a failure with exitCode leaves the run
// unaffected.
func (j JobDefinition) FailureAllowed(exitCode int) bool {
	return j.AllowFailure || slices.Contains(j.AllowFailureExitCodes, exitCode)
}

// EnvMap returns the job's variables keyed by name. Values are unexpanded.
func (j JobDefinition) EnvMap() map[string]string {
	m := make(map[string]string, len(j.Env))
	for _, v := range j.Env {
		m[v.Name] = v.Value
	}
	return m
}

// HasTags reports whether tags is a superset of the job's required tags.
func (j JobDefinition) HasTags(tags []string) bool {
	for _, required := range j.Tags {
		if !slices.Contains(tags, required) {
			return false
		}
	}
	return true
}

// PipelineDefinition is the parsed form of one definition file. Jobs keep the
// order in which they were declared.
type PipelineDefinition struct {
	Stages []string
	Jobs   []JobDefinition
}

func (pd *PipelineDefinition) Job(name string) (JobDefinition, bool) {
	for _, j := range pd.Jobs {
		if j.Name == name {
			return j, true
		}
	}
	return JobDefinition{}, false
}

func (pd *PipelineDefinition) JobNames() []string {
	names := make([]string, len(pd.Jobs))
	for i, j := range pd.Jobs {
		names[i] = j.Name
	}
	return names
}
