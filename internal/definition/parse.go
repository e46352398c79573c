package definition

import (
	"fmt"
	"os"
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/haatos/simple-dispatch/internal/types"
)

// top-level keys that configure the pipeline rather than declare a job
var reservedKeys = map[string]bool{
	"variables":     true,
	"stages":        true,
	"default":       true,
	"workflow":      true,
	"include":       true,
	"image":         true,
	"services":      true,
	"before_script": true,
	"after_script":  true,
	"cache":         true,
}

type ParseError struct {
	Job     string
	Field   string
	Message string
	Err     error
}

func (e *ParseError) Error() string {
	var b strings.Builder
	b.WriteString("invalid pipeline definition")
	if e.Job != "" {
		fmt.Fprintf(&b, ": job %q", e.Job)
	}
	if e.Field != "" {
		fmt.Fprintf(&b, ": %s", e.Field)
	}
	if e.Message != "" {
		fmt.Fprintf(&b, ": %s", e.Message)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

type stringList []string

func (sl *stringList) UnmarshalYAML(unmarshal func(any) error) error {
	var list []string
	if err := unmarshal(&list); err == nil {
		*sl = list
		return nil
	}
	var single string
	if err := unmarshal(&single); err != nil {
		return fmt.Errorf("expected a string or a list of strings")
	}
	*sl = stringList{single}
	return nil
}

type refList []string

func (rl *refList) UnmarshalYAML(unmarshal func(any) error) error {
	var list stringList
	if err := unmarshal(&list); err == nil {
		*rl = refList(list)
		return nil
	}
	var withRefs struct {
		Refs stringList `yaml:"refs"`
	}
	if err := unmarshal(&withRefs); err != nil {
		return fmt.Errorf("expected a list of refs or a mapping with refs")
	}
	*rl = refList(withRefs.Refs)
	return nil
}

type variables []types.EnvVar

func (v *variables) UnmarshalYAML(unmarshal func(any) error) error {
	var ms yaml.MapSlice
	if err := unmarshal(&ms); err != nil {
		return fmt.Errorf("expected a mapping of variables")
	}
	vars := make(variables, 0, len(ms))
	for _, item := range ms {
		name := fmt.Sprint(item.Key)
		if !types.ValidEnvName(name) {
			return fmt.Errorf("invalid variable name %q", name)
		}
		value, err := variableValue(item.Value)
		if err != nil {
			return fmt.Errorf("variable %s: %w", name, err)
		}
		vars = append(vars, types.EnvVar{Name: name, Value: value})
	}
	*v = vars
	return nil
}

// variableValue accepts both `NAME: value` and `NAME: {value: ..., description: ...}`.
func variableValue(raw any) (string, error) {
	switch val := raw.(type) {
	case nil:
		return "", nil
	case yaml.MapSlice:
		for _, item := range val {
			if fmt.Sprint(item.Key) == "value" {
				return variableValue(item.Value)
			}
		}
		return "", fmt.Errorf("mapping without value")
	case map[string]any:
		return variableValue(val["value"])
	case []any:
		return "", fmt.Errorf("lists are not supported")
	default:
		return fmt.Sprint(val), nil
	}
}

type intList []int

func (il *intList) UnmarshalYAML(unmarshal func(any) error) error {
	var list []int
	if err := unmarshal(&list); err == nil {
		*il = list
		return nil
	}
	var single int
	if err := unmarshal(&single); err != nil {
		return fmt.Errorf("expected an exit code or a list of exit codes")
	}
	*il = intList{single}
	return nil
}

// allowFailure is either `allow_failure: true` or
// `allow_failure: {exit_codes: [137, 255]}`.
type allowFailure struct {
	Allowed   bool
	ExitCodes []int
}

func (af *allowFailure) UnmarshalYAML(unmarshal func(any) error) error {
	var allowed bool
	if err := unmarshal(&allowed); err == nil {
		af.Allowed = allowed
		return nil
	}
	var withCodes struct {
		ExitCodes intList `yaml:"exit_codes"`
	}
	if err := unmarshal(&withCodes); err != nil {
		return fmt.Errorf("expected a boolean or a mapping with exit_codes")
	}
	if len(withCodes.ExitCodes) == 0 {
		return fmt.Errorf("exit_codes must list at least one exit code")
	}
	af.ExitCodes = withCodes.ExitCodes
	return nil
}

type rawArtifacts struct {
	Paths   stringList    `yaml:"paths"`
	Reports yaml.MapSlice `yaml:"reports"`
}

type rawJob struct {
	Stage         string       `yaml:"stage"`
	Script        stringList   `yaml:"script"`
	BeforeScript  *stringList  `yaml:"before_script"`
	AfterScript   *stringList  `yaml:"after_script"`
	Tags          stringList   `yaml:"tags"`
	Variables     variables    `yaml:"variables"`
	Only          refList      `yaml:"only"`
	Except        refList      `yaml:"except"`
	AllowFailure  allowFailure `yaml:"allow_failure"`
	Interruptible *bool        `yaml:"interruptible"`
	Artifacts     rawArtifacts `yaml:"artifacts"`
	Timeout       string       `yaml:"timeout"`
}

type rawDefaults struct {
	BeforeScript  *stringList `yaml:"before_script"`
	AfterScript   *stringList `yaml:"after_script"`
	Tags          stringList  `yaml:"tags"`
	Interruptible *bool       `yaml:"interruptible"`
}

// ParseFile reads and parses a definition file.
func ParseFile(path string) (*types.PipelineDefinition, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(b)
}

// Parse reads a GitLab-CI style definition: a mapping of job name to job.
// Job order follows the document.
func Parse(data []byte) (*types.PipelineDefinition, error) {
	var top yaml.MapSlice
	if err := yaml.UnmarshalWithOptions(data, &top, yaml.UseOrderedMap()); err != nil {
		return nil, &ParseError{Message: "malformed yaml", Err: err}
	}
	if len(top) == 0 {
		return nil, &ParseError{Message: "no jobs defined"}
	}

	pd := new(types.PipelineDefinition)
	var globalVars variables
	var defaults rawDefaults
	seen := make(map[string]bool)

	for _, item := range top {
		key := fmt.Sprint(item.Key)
		switch key {
		case "variables":
			if err := decodeValue(item.Value, &globalVars); err != nil {
				return nil, &ParseError{Field: "variables", Err: err}
			}
		case "stages":
			var stages stringList
			if err := decodeValue(item.Value, &stages); err != nil {
				return nil, &ParseError{Field: "stages", Err: err}
			}
			pd.Stages = stages
		case "default":
			if err := decodeValue(item.Value, &defaults); err != nil {
				return nil, &ParseError{Field: "default", Err: err}
			}
		case "before_script":
			var bs stringList
			if err := decodeValue(item.Value, &bs); err != nil {
				return nil, &ParseError{Field: "before_script", Err: err}
			}
			if defaults.BeforeScript == nil {
				defaults.BeforeScript = &bs
			}
		case "after_script":
			var as stringList
			if err := decodeValue(item.Value, &as); err != nil {
				return nil, &ParseError{Field: "after_script", Err: err}
			}
			if defaults.AfterScript == nil {
				defaults.AfterScript = &as
			}
		}
	}

	for _, item := range top {
		name := fmt.Sprint(item.Key)
		if reservedKeys[name] || strings.HasPrefix(name, ".") {
			continue
		}
		if strings.TrimSpace(name) == "" {
			return nil, &ParseError{Message: "job name must not be empty"}
		}
		if seen[name] {
			return nil, &ParseError{Job: name, Message: "duplicate job name"}
		}
		seen[name] = true

		var rj rawJob
		if err := decodeValue(item.Value, &rj); err != nil {
			return nil, &ParseError{Job: name, Err: err}
		}
		job, err := buildJob(name, rj, globalVars, defaults)
		if err != nil {
			return nil, err
		}
		pd.Jobs = append(pd.Jobs, job)
	}

	if len(pd.Jobs) == 0 {
		return nil, &ParseError{Message: "no jobs defined"}
	}
	return pd, nil
}

func decodeValue(value any, target any) error {
	b, err := yaml.Marshal(value)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(b, target)
}

func buildJob(
	name string,
	rj rawJob,
	globalVars variables,
	defaults rawDefaults,
) (types.JobDefinition, error) {
	job := types.JobDefinition{
		Name:                  name,
		Stage:                 rj.Stage,
		Tags:                  []string(rj.Tags),
		AllowFailure:          rj.AllowFailure.Allowed,
		AllowFailureExitCodes: rj.AllowFailure.ExitCodes,
		Interruptible:         true,
	}
	if job.Stage == "" {
		job.Stage = "test"
	}
	if len(job.Tags) == 0 {
		job.Tags = []string(defaults.Tags)
	}
	if rj.Interruptible != nil {
		job.Interruptible = *rj.Interruptible
	} else if defaults.Interruptible != nil {
		job.Interruptible = *defaults.Interruptible
	}

	if len(rj.Script) == 0 {
		return job, &ParseError{Job: name, Field: "script", Message: "at least one step is required"}
	}
	beforeScript := defaults.BeforeScript
	if rj.BeforeScript != nil {
		beforeScript = rj.BeforeScript
	}
	if beforeScript != nil {
		job.Steps = append(job.Steps, *beforeScript...)
	}
	job.Steps = append(job.Steps, rj.Script...)
	for i, step := range job.Steps {
		if strings.TrimSpace(step) == "" {
			return job, &ParseError{Job: name, Field: fmt.Sprintf("script[%d]", i), Message: "empty step"}
		}
	}

	afterScript := defaults.AfterScript
	if rj.AfterScript != nil {
		afterScript = rj.AfterScript
	}
	if afterScript != nil {
		for i, step := range *afterScript {
			if strings.TrimSpace(step) == "" {
				return job, &ParseError{Job: name, Field: fmt.Sprintf("after_script[%d]", i), Message: "empty step"}
			}
			job.AfterSteps = append(job.AfterSteps, step)
		}
	}

	job.Env = mergeVariables(globalVars, rj.Variables)

	var err error
	if job.Rule.Only, err = parsePredicates(rj.Only); err != nil {
		return job, &ParseError{Job: name, Field: "only", Err: err}
	}
	if job.Rule.Except, err = parsePredicates(rj.Except); err != nil {
		return job, &ParseError{Job: name, Field: "except", Err: err}
	}

	if job.Artifacts, err = parseArtifacts(rj.Artifacts); err != nil {
		return job, &ParseError{Job: name, Field: "artifacts", Err: err}
	}

	if rj.Timeout != "" {
		if job.Timeout, err = ParseTimeout(rj.Timeout); err != nil {
			return job, &ParseError{Job: name, Field: "timeout", Err: err}
		}
	}

	return job, nil
}

// mergeVariables keeps global variables in declaration order, replacing values
// the job overrides and appending the job's own variables after them.
func mergeVariables(global, job variables) []types.EnvVar {
	merged := make([]types.EnvVar, 0, len(global)+len(job))
	index := make(map[string]int)
	for _, v := range global {
		index[v.Name] = len(merged)
		merged = append(merged, v)
	}
	for _, v := range job {
		if i, ok := index[v.Name]; ok {
			merged[i] = v
			continue
		}
		index[v.Name] = len(merged)
		merged = append(merged, v)
	}
	return merged
}

func parsePredicates(refs refList) ([]types.Predicate, error) {
	if len(refs) == 0 {
		return nil, nil
	}
	predicates := make([]types.Predicate, 0, len(refs))
	for _, ref := range refs {
		p, err := types.ParsePredicate(ref)
		if err != nil {
			return nil, err
		}
		predicates = append(predicates, p)
	}
	return predicates, nil
}

func parseArtifacts(ra rawArtifacts) ([]types.ArtifactDeclaration, error) {
	var declarations []types.ArtifactDeclaration
	for _, reportItem := range ra.Reports {
		kind := types.ReportKind(fmt.Sprint(reportItem.Key))
		var paths stringList
		if err := decodeValue(reportItem.Value, &paths); err != nil {
			return nil, fmt.Errorf("report %s: %w", kind, err)
		}
		for _, p := range paths {
			declarations = append(declarations, types.ArtifactDeclaration{Path: p, Report: kind})
		}
	}
	for _, p := range ra.Paths {
		declarations = append(declarations, types.ArtifactDeclaration{Path: p})
	}
	for _, d := range declarations {
		if err := checkArtifactPath(d.Path); err != nil {
			return nil, err
		}
	}
	return declarations, nil
}

// checkArtifactPath keeps artifact patterns inside the job's workspace.
func checkArtifactPath(p string) error {
	if strings.TrimSpace(p) == "" {
		return fmt.Errorf("empty artifact path")
	}
	slashed := strings.ReplaceAll(p, `\`, "/")
	if path.IsAbs(slashed) || (len(slashed) > 1 && slashed[1] == ':') {
		return fmt.Errorf("artifact path %q must be relative to the project directory", p)
	}
	for segment := range strings.SplitSeq(slashed, "/") {
		if segment == ".." {
			return fmt.Errorf("artifact path %q must not leave the project directory", p)
		}
	}
	return nil
}

var timeoutWords = regexp.MustCompile(`(\d+)\s*(hours?|hrs?|h|minutes?|mins?|m|seconds?|secs?|s)\b`)

// ParseTimeout accepts Go durations ("1h30m") and the spelled out form used in
// CI files ("1 hour 30 minutes", "3h 15m").
func ParseTimeout(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if d, err := time.ParseDuration(s); err == nil {
		return d, nil
	}
	matches := timeoutWords.FindAllStringSubmatch(strings.ToLower(s), -1)
	if len(matches) == 0 {
		return 0, fmt.Errorf("invalid timeout %q", s)
	}
	var b strings.Builder
	for _, m := range matches {
		b.WriteString(m[1])
		b.WriteByte(m[2][0])
	}
	return time.ParseDuration(b.String())
}
