package service

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"github.com/haatos/simple-dispatch/internal/types"
	"github.com/haatos/simple-dispatch/internal/util"
	"github.com/zeebo/blake3"
)

type ArtifactSink interface {
	PublishArtifacts(ctx context.Context, artifacts []types.PublishedArtifact) error
}

// ArtifactCollector copies a job's declared outputs from its workspace into
// <dir>/<runID>/<job>/ and publishes them to the sink.
type ArtifactCollector struct {
	dir  string
	sink ArtifactSink
}

func NewArtifactCollector(dir string, sink ArtifactSink) *ArtifactCollector {
	return &ArtifactCollector{dir: dir, sink: sink}
}

func (c *ArtifactCollector) JobDir(runID, jobName string) string {
	return filepath.Join(c.dir, runID, util.SanitizeName(jobName))
}

// Collect gathers the artifacts declared by job once it has finished with
// the given result. Skipped jobs produce nothing. Missing files and sink
// failures come back as warnings and never change the job's status.
func (c *ArtifactCollector) Collect(
	ctx context.Context,
	ws Workspace,
	runID string,
	job types.JobDefinition,
	result types.ExecutionResult,
) ([]types.PublishedArtifact, []string) {
	if result.Status == types.JobSkipped || ws == nil || len(job.Artifacts) == 0 {
		return nil, nil
	}

	destDir := c.JobDir(runID, job.Name)
	var published []types.PublishedArtifact
	var warnings []string
	for _, decl := range job.Artifacts {
		paths, err := ws.Collect(decl.Path, destDir)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("artifact %s: %v", decl.Path, err))
		}
		if err == nil && len(paths) == 0 {
			warnings = append(warnings, fmt.Sprintf("artifact not found: %s", decl.Path))
			continue
		}
		for _, p := range paths {
			if slices.ContainsFunc(published, func(a types.PublishedArtifact) bool {
				return a.Path == p
			}) {
				continue
			}
			digest, size, err := digestFile(p)
			if err != nil {
				warnings = append(warnings, fmt.Sprintf("artifact %s: %v", p, err))
				continue
			}
			published = append(published, types.PublishedArtifact{
				RunID:   runID,
				JobName: job.Name,
				Report:  decl.Report,
				Pattern: decl.Path,
				Path:    p,
				Digest:  digest,
				Size:    size,
			})
		}
	}

	if len(published) > 0 && c.sink != nil {
		if err := c.sink.PublishArtifacts(ctx, published); err != nil {
			warnings = append(warnings, fmt.Sprintf("err publishing artifacts: %v", err))
		}
	}
	return published, warnings
}

func digestFile(p string) (string, int64, error) {
	f, err := os.Open(p)
	if err != nil {
		return "", 0, err
	}
	defer f.Close()

	h := blake3.New()
	n, err := io.Copy(h, f)
	if err != nil {
		return "", 0, err
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}

// ManifestSink publishes artifacts to a manifest.json next to the collected
// files. It is used when no database is available.
type ManifestSink struct {
	path string

	mu        sync.Mutex
	artifacts []types.PublishedArtifact
}

func NewManifestSink(path string) *ManifestSink {
	return &ManifestSink{path: path}
}

type manifestEntry struct {
	RunID   string `json:"run_id"`
	JobName string `json:"job_name"`
	Report  string `json:"report,omitempty"`
	Pattern string `json:"pattern"`
	Path    string `json:"path"`
	Digest  string `json:"blake3"`
	Size    int64  `json:"size"`
}

func (s *ManifestSink) PublishArtifacts(
	_ context.Context,
	artifacts []types.PublishedArtifact,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.artifacts = append(s.artifacts, artifacts...)

	entries := make([]manifestEntry, len(s.artifacts))
	for i, a := range s.artifacts {
		entries[i] = manifestEntry{
			RunID:   a.RunID,
			JobName: a.JobName,
			Report:  string(a.Report),
			Pattern: a.Pattern,
			Path:    a.Path,
			Digest:  a.Digest,
			Size:    a.Size,
		}
	}
	b, err := json.MarshalIndent(entries, "", "    ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.path), os.ModePerm); err != nil {
		return err
	}
	return os.WriteFile(s.path, b, 0644)
}

func (s *ManifestSink) Artifacts() []types.PublishedArtifact {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.artifacts)
}
