package service

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/haatos/simple-dispatch/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/zeebo/blake3"
)

type MockArtifactSink struct {
	mock.Mock
}

func (m *MockArtifactSink) PublishArtifacts(
	ctx context.Context,
	artifacts []types.PublishedArtifact,
) error {
	args := m.Called(ctx, artifacts)
	return args.Error(0)
}

func newArtifactWorkspace(t *testing.T, files map[string]string) Workspace {
	t.Helper()
	ws, err := NewLocalWorkspace(t.TempDir())
	require.NoError(t, err)
	for name, content := range files {
		p := filepath.Join(ws.Dir(), name)
		require.NoError(t, os.MkdirAll(filepath.Dir(p), os.ModePerm))
		require.NoError(t, os.WriteFile(p, []byte(content), 0644))
	}
	return ws
}

func TestArtifactCollector_Collect(t *testing.T) {
	passed := types.ExecutionResult{JobName: "test", Status: types.JobPassed}

	t.Run("success - matching files are copied and digested", func(t *testing.T) {
		// arrange
		ws := newArtifactWorkspace(t, map[string]string{
			"report.xml":         "<testsuite/>",
			"coverage/lcov.info": "TN:",
		})
		collector := NewArtifactCollector(t.TempDir(), nil)
		job := types.JobDefinition{
			Name: "test",
			Artifacts: []types.ArtifactDeclaration{
				{Path: "report.xml", Report: types.ReportJUnit},
				{Path: "coverage"},
			},
		}
		sum := blake3.Sum256([]byte("<testsuite/>"))

		// act
		artifacts, warnings := collector.Collect(context.Background(), ws, "run-1", job, passed)

		// assert
		assert.Empty(t, warnings)
		require.Len(t, artifacts, 2)
		assert.Equal(t, types.ReportJUnit, artifacts[0].Report)
		assert.Equal(t, "run-1", artifacts[0].RunID)
		assert.Equal(t, filepath.Join(collector.JobDir("run-1", "test"), "report.xml"), artifacts[0].Path)
		assert.Equal(t, hex.EncodeToString(sum[:]), artifacts[0].Digest)
		assert.Equal(t, int64(len("<testsuite/>")), artifacts[0].Size)
		assert.Equal(t, filepath.Join(collector.JobDir("run-1", "test"), "coverage", "lcov.info"), artifacts[1].Path)
		assert.FileExists(t, artifacts[1].Path)
	})
	t.Run("success - missing pattern becomes a warning", func(t *testing.T) {
		// arrange
		ws := newArtifactWorkspace(t, map[string]string{"out.bin": "x"})
		collector := NewArtifactCollector(t.TempDir(), nil)
		job := types.JobDefinition{
			Name: "test",
			Artifacts: []types.ArtifactDeclaration{
				{Path: "report.xml", Report: types.ReportJUnit},
				{Path: "*.bin"},
			},
		}

		// act
		artifacts, warnings := collector.Collect(context.Background(), ws, "run-1", job, passed)

		// assert
		assert.Equal(t, []string{"artifact not found: report.xml"}, warnings)
		require.Len(t, artifacts, 1)
		assert.Equal(t, "*.bin", artifacts[0].Pattern)
	})
	t.Run("success - skipped job collects nothing", func(t *testing.T) {
		// arrange
		ws := newArtifactWorkspace(t, map[string]string{"report.xml": "x"})
		sink := new(MockArtifactSink)
		collector := NewArtifactCollector(t.TempDir(), sink)
		job := types.JobDefinition{
			Name:      "test",
			Artifacts: []types.ArtifactDeclaration{{Path: "report.xml"}},
		}

		// act
		artifacts, warnings := collector.Collect(
			context.Background(), ws, "run-1", job,
			types.NewSkippedResult("test", types.SkipRule),
		)

		// assert
		assert.Nil(t, artifacts)
		assert.Nil(t, warnings)
		sink.AssertNotCalled(t, "PublishArtifacts", mock.Anything, mock.Anything)
	})
	t.Run("success - overlapping patterns publish a file once", func(t *testing.T) {
		// arrange
		ws := newArtifactWorkspace(t, map[string]string{"report.xml": "x"})
		collector := NewArtifactCollector(t.TempDir(), nil)
		job := types.JobDefinition{
			Name: "test",
			Artifacts: []types.ArtifactDeclaration{
				{Path: "report.xml"},
				{Path: "*.xml"},
			},
		}

		// act
		artifacts, _ := collector.Collect(context.Background(), ws, "run-1", job, passed)

		// assert
		assert.Len(t, artifacts, 1)
	})
	t.Run("failure - sink error is reported as a warning", func(t *testing.T) {
		// arrange
		ws := newArtifactWorkspace(t, map[string]string{"report.xml": "x"})
		sink := new(MockArtifactSink)
		sink.On("PublishArtifacts", context.Background(), mock.Anything).Return(errors.New("disk full"))
		collector := NewArtifactCollector(t.TempDir(), sink)
		job := types.JobDefinition{
			Name:      "test",
			Artifacts: []types.ArtifactDeclaration{{Path: "report.xml"}},
		}

		// act
		artifacts, warnings := collector.Collect(
			context.Background(), ws, "run-1", job,
			types.ExecutionResult{JobName: "test", Status: types.JobFailed},
		)

		// assert
		assert.Len(t, artifacts, 1)
		require.Len(t, warnings, 1)
		assert.Contains(t, warnings[0], "disk full")
		sink.AssertExpectations(t)
	})
}

func TestManifestSink_PublishArtifacts(t *testing.T) {
	t.Run("success - manifest accumulates every publish", func(t *testing.T) {
		// arrange
		path := filepath.Join(t.TempDir(), "out", "manifest.json")
		sink := NewManifestSink(path)
		first := types.PublishedArtifact{RunID: "run-1", JobName: "a", Report: types.ReportJUnit, Pattern: "r.xml", Path: "/tmp/r.xml", Digest: "ab", Size: 2}
		second := types.PublishedArtifact{RunID: "run-1", JobName: "b", Pattern: "bin/*", Path: "/tmp/bin/x", Digest: "cd", Size: 4}

		// act
		require.NoError(t, sink.PublishArtifacts(context.Background(), []types.PublishedArtifact{first}))
		require.NoError(t, sink.PublishArtifacts(context.Background(), []types.PublishedArtifact{second}))

		// assert
		b, err := os.ReadFile(path)
		require.NoError(t, err)
		var entries []map[string]any
		require.NoError(t, json.Unmarshal(b, &entries))
		require.Len(t, entries, 2)
		assert.Equal(t, "junit", entries[0]["report"])
		assert.Equal(t, "ab", entries[0]["blake3"])
		assert.NotContains(t, entries[1], "report")
		assert.Equal(t, []types.PublishedArtifact{first, second}, sink.Artifacts())
	})
}
