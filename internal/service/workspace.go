package service

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/haatos/simple-dispatch/internal/types"
	"github.com/haatos/simple-dispatch/internal/util"
)

// Workspace is a job's working directory on the runner it was assigned to.
type Workspace interface {
	Dir() string
	// RunStep runs one shell command in the workspace and returns its exit
	// code. A non-nil error means the command could not be run to completion.
	RunStep(ctx context.Context, command string, env []types.EnvVar, out io.Writer) (int, error)
	// Collect copies the files matching pattern, relative to Dir, into
	// destDir and returns the local paths of the copies.
	Collect(pattern, destDir string) ([]string, error)
	// LookupEnv reads a variable from the runner's own environment.
	LookupEnv(name string) (string, bool)
	Close() error
}

type WorkspaceOpener interface {
	Open(ctx context.Context, runner types.Runner, runID, jobName string) (Workspace, error)
}

// RunnerWorkspaces opens local workspaces below LocalRoot and remote ones
// below the runner's own workspace directory over SSH.
type RunnerWorkspaces struct {
	LocalRoot string
}

func NewRunnerWorkspaces(localRoot string) *RunnerWorkspaces {
	return &RunnerWorkspaces{LocalRoot: localRoot}
}

func (rw *RunnerWorkspaces) Open(
	ctx context.Context,
	runner types.Runner,
	runID, jobName string,
) (Workspace, error) {
	jobDir := util.SanitizeName(jobName)
	if runner.IsLocal() {
		root := rw.LocalRoot
		if runner.Workspace != "" {
			root = runner.Workspace
		}
		return NewLocalWorkspace(filepath.Join(root, runID, jobDir))
	}
	return NewSSHWorkspace(ctx, runner, runID, jobDir)
}

// JobEnvironment returns the variables visible to a job's steps: predefined
// CI variables followed by the job's own variables. A job variable may refer
// to predefined variables and to variables declared before it. Other
// references are resolved with hostEnv, the runner's environment, and expand
// to the empty string when the runner does not define them either.
func JobEnvironment(
	run *types.PipelineRun,
	job types.JobDefinition,
	runner types.Runner,
	dir string,
	hostEnv func(name string) (string, bool),
) []types.EnvVar {
	env := []types.EnvVar{
		{Name: "CI", Value: "true"},
		{Name: "CI_PIPELINE_ID", Value: run.ID},
		{Name: "CI_JOB_NAME", Value: job.Name},
		{Name: "CI_JOB_STAGE", Value: job.Stage},
		{Name: "CI_PROJECT_DIR", Value: dir},
		{Name: "CI_RUNNER_DESCRIPTION", Value: runner.Name},
		{Name: "CI_RUNNER_TAGS", Value: strings.Join(runner.Tags, ",")},
	}
	env = append(env, run.Trigger.Variables()...)

	values := make(map[string]string, len(env)+len(job.Env))
	for _, v := range env {
		values[v.Name] = v.Value
	}
	for _, v := range job.Env {
		expanded := os.Expand(v.Value, func(name string) string {
			if value, ok := values[name]; ok {
				return value
			}
			if hostEnv != nil {
				value, _ := hostEnv(name)
				return value
			}
			return ""
		})
		values[v.Name] = expanded
		env = append(env, types.EnvVar{Name: v.Name, Value: expanded})
	}
	return env
}

func envList(env []types.EnvVar) []string {
	list := make([]string, len(env))
	for i, v := range env {
		list[i] = v.Name + "=" + v.Value
	}
	return list
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'"'"'`) + "'"
}
