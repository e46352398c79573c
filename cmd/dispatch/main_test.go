package main

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"encoding/pem"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/haatos/simple-dispatch/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"
)

const cliPipeline = `
build:
  tags: [python3]
  script:
    - mkdir -p out
    - echo built > out/app.txt
  artifacts:
    paths: [out/app.txt]

release:
  only: [tags]
  script: echo release

lint:
  allow_failure: true
  script: exit 3
`

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestParseRunnerFlag(t *testing.T) {
	t.Run("success - name and tags", func(t *testing.T) {
		r, err := parseRunnerFlag("opencl=python3, pocl,opencl")
		require.NoError(t, err)
		assert.Equal(t, "opencl", r.Name)
		assert.Equal(t, []string{"python3", "pocl", "opencl"}, r.Tags)
		assert.True(t, r.IsLocal())
	})
	t.Run("success - untagged runner", func(t *testing.T) {
		r, err := parseRunnerFlag("plain")
		require.NoError(t, err)
		assert.Equal(t, "plain", r.Name)
		assert.Empty(t, r.Tags)
	})
	t.Run("failure - missing name", func(t *testing.T) {
		_, err := parseRunnerFlag("=gpu")
		assert.Error(t, err)
	})
}

func TestLoadRunners(t *testing.T) {
	noPrompt := func(string) ([]byte, error) {
		return nil, errors.New("unexpected prompt")
	}

	t.Run("success - default local runner", func(t *testing.T) {
		// act
		runners, err := loadRunners(nil, "", noPrompt)

		// assert
		require.NoError(t, err)
		assert.Equal(t, []types.Runner{{RunnerID: 1, Name: "local"}}, runners)
	})
	t.Run("success - flags and file are combined in order", func(t *testing.T) {
		// arrange
		path := writeFile(t, t.TempDir(), "runners.yml", `
runners:
  - name: gpu
    tags: [cuda]
    workspace: /tmp/gpu
`)

		// act
		runners, err := loadRunners([]string{"cpu=python3"}, path, noPrompt)

		// assert
		require.NoError(t, err)
		require.Len(t, runners, 2)
		assert.Equal(t, "cpu", runners[0].Name)
		assert.Equal(t, int64(1), runners[0].RunnerID)
		assert.Equal(t, "gpu", runners[1].Name)
		assert.Equal(t, []string{"cuda"}, runners[1].Tags)
		assert.Equal(t, "/tmp/gpu", runners[1].Workspace)
		assert.Equal(t, int64(2), runners[1].RunnerID)
	})
	t.Run("failure - duplicate runner name", func(t *testing.T) {
		_, err := loadRunners([]string{"cpu", "cpu=python3"}, "", noPrompt)
		assert.ErrorContains(t, err, `runner "cpu" is defined more than once`)
	})
	t.Run("failure - ssh runner without key", func(t *testing.T) {
		// arrange
		path := writeFile(t, t.TempDir(), "runners.yml", `
runners:
  - name: remote
    hostname: ci-1.internal
    username: ci
`)

		// act
		_, err := loadRunners(nil, path, noPrompt)

		// assert
		assert.ErrorContains(t, err, "needs ssh_key")
	})
}

func TestReadPrivateKey(t *testing.T) {
	_, key, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	t.Run("success - plain key is returned as is", func(t *testing.T) {
		// arrange
		block, err := ssh.MarshalPrivateKey(key, "")
		require.NoError(t, err)
		path := writeFile(t, t.TempDir(), "id_ed25519", string(pem.EncodeToMemory(block)))

		// act
		b, err := readPrivateKey(path, func(string) ([]byte, error) {
			t.Fatal("prompted for a plain key")
			return nil, nil
		})

		// assert
		require.NoError(t, err)
		_, err = ssh.ParsePrivateKey(b)
		assert.NoError(t, err)
	})
	t.Run("success - encrypted key is decrypted with the prompted passphrase", func(t *testing.T) {
		// arrange
		block, err := ssh.MarshalPrivateKeyWithPassphrase(key, "", []byte("hunter2"))
		require.NoError(t, err)
		path := writeFile(t, t.TempDir(), "id_ed25519", string(pem.EncodeToMemory(block)))
		var prompted string

		// act
		b, err := readPrivateKey(path, func(p string) ([]byte, error) {
			prompted = p
			return []byte("hunter2"), nil
		})

		// assert
		require.NoError(t, err)
		assert.Equal(t, path, prompted)
		signer, err := ssh.ParsePrivateKey(b)
		require.NoError(t, err)
		assert.Equal(t, ssh.KeyAlgoED25519, signer.PublicKey().Type())
	})
	t.Run("failure - wrong passphrase", func(t *testing.T) {
		// arrange
		block, err := ssh.MarshalPrivateKeyWithPassphrase(key, "", []byte("hunter2"))
		require.NoError(t, err)
		path := writeFile(t, t.TempDir(), "id_ed25519", string(pem.EncodeToMemory(block)))

		// act
		_, err = readPrivateKey(path, func(string) ([]byte, error) {
			return []byte("wrong"), nil
		})

		// assert
		assert.ErrorContains(t, err, "err decrypting ssh key")
	})
}

func TestValidateCommand(t *testing.T) {
	t.Run("success - jobs listed", func(t *testing.T) {
		// arrange
		path := writeFile(t, t.TempDir(), ".gitlab-ci.yml", cliPipeline)
		var out bytes.Buffer

		// act
		err := run([]string{"validate", "-f", path}, &out)

		// assert
		require.NoError(t, err)
		lines := strings.Split(strings.TrimSpace(out.String()), "\n")
		assert.True(t, strings.HasPrefix(lines[0], "JOB"))
		assert.True(t, strings.HasPrefix(lines[1], "build"))
		assert.Contains(t, lines[2], "tags")
		assert.Contains(t, out.String(), "3 jobs")
	})
	t.Run("failure - invalid definition", func(t *testing.T) {
		// arrange
		path := writeFile(t, t.TempDir(), ".gitlab-ci.yml", "build:\n  tags: [x]\n")

		// act
		err := run([]string{"validate", "-f", path}, &bytes.Buffer{})

		// assert
		assert.Error(t, err)
	})
}

func TestRunCommand(t *testing.T) {
	t.Run("success - branch run passes with an allowed failure", func(t *testing.T) {
		// arrange
		dir := t.TempDir()
		path := writeFile(t, dir, ".gitlab-ci.yml", cliPipeline)
		outDir := filepath.Join(dir, "out")
		var out bytes.Buffer

		// act
		err := run([]string{
			"run", "-f", path, "--ref", "main",
			"--runner", "cpu=python3", "--out", outDir,
		}, &out)

		// assert
		require.NoError(t, err)
		body := out.String()
		assert.Regexp(t, `build\s+passed\s+cpu\s+0\s+1`, body)
		assert.Regexp(t, `release\s+skipped\s+-`, body)
		assert.Regexp(t, `lint\s+failed_allowed\s+cpu\s+3`, body)
		assert.Contains(t, body, "passed\n")

		manifest, err := os.ReadFile(filepath.Join(outDir, "manifest.json"))
		require.NoError(t, err)
		var entries []map[string]any
		require.NoError(t, json.Unmarshal(manifest, &entries))
		require.Len(t, entries, 1)
		assert.Equal(t, "build", entries[0]["job_name"])
	})
	t.Run("success - tag run skips jobs without an eligible runner", func(t *testing.T) {
		// arrange
		dir := t.TempDir()
		path := writeFile(t, dir, ".gitlab-ci.yml", cliPipeline)
		var out bytes.Buffer

		// act
		err := run([]string{
			"run", "-f", path, "--ref", "v1.0.0", "--tag", "--out", filepath.Join(dir, "out"),
		}, &out)

		// assert
		require.NoError(t, err)
		assert.Regexp(t, `build\s+skipped\s+-`, out.String())
		assert.Regexp(t, `release\s+passed\s+local`, out.String())
	})
	t.Run("failure - missing ref", func(t *testing.T) {
		err := run([]string{"run", "-f", "unused.yml"}, &bytes.Buffer{})
		assert.ErrorContains(t, err, "--ref is required")
	})
}
