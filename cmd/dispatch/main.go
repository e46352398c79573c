// dispatch runs a pipeline definition on this machine without a server or
// database. Jobs are matched to the runners given on the command line, logs
// and artifacts are written below --out and the process exits with status 1
// when the run did not pass.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/haatos/simple-dispatch/internal"
	"github.com/haatos/simple-dispatch/internal/definition"
	"github.com/haatos/simple-dispatch/internal/service"
	"github.com/haatos/simple-dispatch/internal/types"
	"github.com/spf13/pflag"
)

const usage = `usage:
  dispatch run -f FILE --ref REF [--tag] [--runner NAME=TAG,...]... [--runners FILE]
               [--policy lru|first] [--timeout DURATION] [--out DIR]
  dispatch validate -f FILE
`

type exitError struct {
	code int
}

func (e exitError) Error() string {
	return fmt.Sprintf("exit status %d", e.code)
}

func main() {
	log.SetFlags(log.Ltime)
	if err := run(os.Args[1:], os.Stdout); err != nil {
		var ee exitError
		if errors.As(err, &ee) {
			os.Exit(ee.code)
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(2)
	}
}

func run(args []string, stdout io.Writer) error {
	if len(args) == 0 {
		fmt.Fprint(os.Stderr, usage)
		return exitError{code: 2}
	}
	switch args[0] {
	case "run":
		return runCommand(args[1:], stdout)
	case "validate":
		return validateCommand(args[1:], stdout)
	case "-h", "--help", "help":
		fmt.Fprint(stdout, usage)
		return nil
	}
	return fmt.Errorf("unknown command %q", args[0])
}

type runOptions struct {
	file         string
	ref          string
	tag          bool
	targetBranch string
	runners      []string
	runnersFile  string
	policy       string
	timeout      time.Duration
	out          string
}

func runCommand(args []string, stdout io.Writer) error {
	var opts runOptions
	flagSet := pflag.NewFlagSet("dispatch run", pflag.ContinueOnError)
	flagSet.StringVarP(&opts.file, "file", "f", ".gitlab-ci.yml", "pipeline definition file")
	flagSet.StringVar(&opts.ref, "ref", "", "branch or tag the run is for")
	flagSet.BoolVar(&opts.tag, "tag", false, "treat --ref as a tag push")
	flagSet.StringVar(&opts.targetBranch, "target-branch", "", "merge request target branch")
	flagSet.StringArrayVar(&opts.runners, "runner", nil, "local runner as NAME=TAG1,TAG2 (repeatable)")
	flagSet.StringVar(&opts.runnersFile, "runners", "", "YAML file listing local and SSH runners")
	flagSet.StringVar(&opts.policy, "policy", "lru", "runner selection policy: lru or first")
	flagSet.DurationVar(&opts.timeout, "timeout", 0, "default job timeout (0 disables it)")
	flagSet.StringVar(&opts.out, "out", "dispatch-out", "directory for logs, artifacts and workspaces")
	if err := flagSet.Parse(args); err != nil {
		return err
	}
	if opts.ref == "" {
		return errors.New("--ref is required")
	}

	pd, err := definition.ParseFile(opts.file)
	if err != nil {
		return err
	}
	policy, err := types.ParseRunnerPolicy(opts.policy)
	if err != nil {
		return err
	}
	runners, err := loadRunners(opts.runners, opts.runnersFile, newPassphrasePrompt())
	if err != nil {
		return err
	}

	trigger := types.NewBranchTrigger(opts.ref)
	if opts.tag {
		trigger = types.NewTagTrigger(opts.ref)
	}
	trigger.TargetBranch = opts.targetBranch

	runID := uuid.NewString()
	out, err := filepath.Abs(opts.out)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(out, os.ModePerm); err != nil {
		return err
	}

	logs := service.NewFileLogStore(filepath.Join(out, "logs"))
	coordinator := service.NewCoordinator(
		service.NewRunnerWorkspaces(filepath.Join(out, "workspaces")),
		logs,
		service.NewArtifactCollector(
			filepath.Join(out, "artifacts"),
			service.NewManifestSink(filepath.Join(out, internal.ManifestFile)),
		),
		opts.timeout,
	)
	pool := service.NewRunnerPool(policy, runners...)
	dispatcher := service.NewDispatcher(pool, coordinator,
		func(_ *types.PipelineRun, result types.ExecutionResult) {
			log.Printf("%s: %s\n", result.JobName, describe(result))
		},
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pr := types.NewPipelineRun(runID, 0, trigger)
	log.Printf("run %s: %d jobs on %d runners for %s\n", runID, len(pd.Jobs), len(runners), opts.ref)
	status := dispatcher.Dispatch(ctx, pr, pd.Jobs)

	writeResults(stdout, pd.Jobs, pr)
	fmt.Fprintf(stdout, "\nrun %s %s\n", runID, status)
	if status != types.RunPassed {
		return exitError{code: 1}
	}
	return nil
}

func describe(result types.ExecutionResult) string {
	switch {
	case result.Status == types.JobSkipped:
		return fmt.Sprintf("%s (%s)", result.Status, result.SkipReason.Message())
	case result.Error != "":
		return fmt.Sprintf("%s (%s)", result.Status, result.Error)
	}
	return string(result.Status)
}

func writeResults(w io.Writer, jobs []types.JobDefinition, pr *types.PipelineRun) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "JOB\tSTATUS\tRUNNER\tEXIT\tARTIFACTS\tDETAIL")
	for _, job := range jobs {
		result, ok := pr.Result(job.Name)
		if !ok {
			continue
		}
		detail := result.Error
		if result.Status == types.JobSkipped {
			detail = result.SkipReason.Message()
		}
		if len(result.Warnings) > 0 {
			detail = strings.TrimSpace(detail + " " + strings.Join(result.Warnings, "; "))
		}
		runner := result.RunnerName
		if runner == "" {
			runner = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%s\n",
			result.JobName, result.Status, runner, result.ExitCode, len(result.Artifacts), detail,
		)
	}
	tw.Flush()
}

func validateCommand(args []string, stdout io.Writer) error {
	var file string
	flagSet := pflag.NewFlagSet("dispatch validate", pflag.ContinueOnError)
	flagSet.StringVarP(&file, "file", "f", ".gitlab-ci.yml", "pipeline definition file")
	if err := flagSet.Parse(args); err != nil {
		return err
	}

	pd, err := definition.ParseFile(file)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "JOB\tSTAGE\tTAGS\tONLY\tEXCEPT\tSTEPS")
	for _, job := range pd.Jobs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%d\n",
			job.Name,
			job.Stage,
			strings.Join(job.Tags, ","),
			joinPredicates(job.Rule.Only),
			joinPredicates(job.Rule.Except),
			len(job.Steps),
		)
	}
	tw.Flush()
	fmt.Fprintf(stdout, "\n%s: %d jobs\n", file, len(pd.Jobs))
	return nil
}

func joinPredicates(predicates []types.Predicate) string {
	if len(predicates) == 0 {
		return "-"
	}
	s := make([]string, len(predicates))
	for i, p := range predicates {
		s[i] = p.String()
	}
	return strings.Join(s, ",")
}
