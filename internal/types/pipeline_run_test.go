package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPipelineRun_Record(t *testing.T) {
	t.Run("success - results are kept in recording order", func(t *testing.T) {
		// arrange
		run := NewPipelineRun("run-1", 1, NewBranchTrigger("main"))

		// act
		require.NoError(t, run.Record(ExecutionResult{JobName: "b", Status: JobPassed}))
		require.NoError(t, run.Record(NewSkippedResult("a", SkipRule)))

		// assert
		results := run.Results()
		require.Len(t, results, 2)
		assert.Equal(t, "b", results[0].JobName)
		assert.Equal(t, "a", results[1].JobName)
		a, ok := run.Result("a")
		assert.True(t, ok)
		assert.Equal(t, SkipRule, a.SkipReason)
		_, ok = run.Result("missing")
		assert.False(t, ok)
	})
	t.Run("success - returned results cannot change the run", func(t *testing.T) {
		// arrange
		run := NewPipelineRun("run-1", 1, NewBranchTrigger("main"))
		require.NoError(t, run.Record(ExecutionResult{JobName: "a", Status: JobPassed, Warnings: []string{"w"}}))

		// act
		results := run.Results()
		results[0].Warnings[0] = "changed"
		results[0].Status = JobFailed

		// assert
		a, _ := run.Result("a")
		assert.Equal(t, []string{"w"}, a.Warnings)
		assert.Equal(t, RunPassed, run.Status())
	})
	t.Run("failure - second result for a job", func(t *testing.T) {
		// arrange
		run := NewPipelineRun("run-1", 1, NewBranchTrigger("main"))
		require.NoError(t, run.Record(ExecutionResult{JobName: "a", Status: JobPassed}))

		// act
		err := run.Record(ExecutionResult{JobName: "a", Status: JobFailed})

		// assert
		assert.ErrorAs(t, err, &ErrDuplicateResult{})
		a, _ := run.Result("a")
		assert.Equal(t, JobPassed, a.Status)
	})
	t.Run("failure - non-terminal status", func(t *testing.T) {
		// arrange
		run := NewPipelineRun("run-1", 1, NewBranchTrigger("main"))

		// act
		err := run.Record(ExecutionResult{JobName: "a", Status: JobRunning})

		// assert
		assert.Error(t, err)
		assert.Empty(t, run.Results())
	})
}

func TestPipelineRun_Status(t *testing.T) {
	for _, tc := range []struct {
		name      string
		statuses  []JobStatus
		cancelled bool
		want      RunStatus
	}{
		{"no jobs", nil, false, RunPassed},
		{"all passed", []JobStatus{JobPassed, JobSkipped}, false, RunPassed},
		{"allowed failure", []JobStatus{JobPassed, JobFailedAllowed}, false, RunPassed},
		{"failed job", []JobStatus{JobPassed, JobFailed}, false, RunFailed},
		{"cancelled job", []JobStatus{JobCancelled}, false, RunFailed},
		{"cancelled run", []JobStatus{JobPassed}, true, RunCancelled},
	} {
		t.Run("success - "+tc.name, func(t *testing.T) {
			// arrange
			run := NewPipelineRun("run-1", 1, NewBranchTrigger("main"))
			for i, s := range tc.statuses {
				require.NoError(t, run.Record(ExecutionResult{JobName: string(rune('a' + i)), Status: s}))
			}
			if tc.cancelled {
				run.MarkCancelled()
			}

			// act & assert
			assert.Equal(t, tc.want, run.Status())
		})
	}
}
