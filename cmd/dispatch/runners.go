package main

import (
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/goccy/go-yaml"
	"github.com/haatos/simple-dispatch/internal/types"
	"golang.org/x/crypto/ssh"
	"golang.org/x/term"
)

type runnerFile struct {
	Runners []runnerEntry `yaml:"runners"`
}

type runnerEntry struct {
	Name      string   `yaml:"name"`
	Tags      []string `yaml:"tags"`
	Hostname  string   `yaml:"hostname"`
	Username  string   `yaml:"username"`
	Workspace string   `yaml:"workspace"`
	SSHKey    string   `yaml:"ssh_key"`
}

// passphraseFunc returns the passphrase for the encrypted key at path.
type passphraseFunc func(path string) ([]byte, error)

func newPassphrasePrompt() passphraseFunc {
	return func(path string) ([]byte, error) {
		fd := int(os.Stdin.Fd())
		if !term.IsTerminal(fd) {
			return nil, fmt.Errorf("ssh key %s is encrypted and stdin is not a terminal", path)
		}
		fmt.Fprintf(os.Stderr, "passphrase for %s: ", path)
		passphrase, err := term.ReadPassword(fd)
		fmt.Fprintln(os.Stderr)
		return passphrase, err
	}
}

// loadRunners builds the runner registry from --runner flags and the runners
// file. Without either a single untagged local runner is used.
func loadRunners(flags []string, path string, prompt passphraseFunc) ([]types.Runner, error) {
	var runners []types.Runner
	for _, f := range flags {
		r, err := parseRunnerFlag(f)
		if err != nil {
			return nil, err
		}
		runners = append(runners, r)
	}

	if path != "" {
		fromFile, err := readRunnerFile(path, prompt)
		if err != nil {
			return nil, err
		}
		runners = append(runners, fromFile...)
	}

	if len(runners) == 0 {
		runners = append(runners, types.Runner{Name: "local"})
	}

	seen := make(map[string]bool, len(runners))
	for i := range runners {
		if seen[runners[i].Name] {
			return nil, fmt.Errorf("runner %q is defined more than once", runners[i].Name)
		}
		seen[runners[i].Name] = true
		runners[i].RunnerID = int64(i + 1)
	}
	return runners, nil
}

func parseRunnerFlag(s string) (types.Runner, error) {
	name, tags, _ := strings.Cut(s, "=")
	name = strings.TrimSpace(name)
	if name == "" {
		return types.Runner{}, fmt.Errorf("invalid --runner %q: missing name", s)
	}
	r := types.Runner{Name: name, Tags: []string{}}
	for t := range strings.SplitSeq(tags, ",") {
		if t = strings.TrimSpace(t); t != "" {
			r.Tags = append(r.Tags, t)
		}
	}
	return r, nil
}

func readRunnerFile(path string, prompt passphraseFunc) ([]types.Runner, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var rf runnerFile
	if err := yaml.Unmarshal(b, &rf); err != nil {
		return nil, fmt.Errorf("err parsing %s: %w", path, err)
	}

	runners := make([]types.Runner, 0, len(rf.Runners))
	for i, entry := range rf.Runners {
		if entry.Name == "" {
			return nil, fmt.Errorf("%s: runner %d has no name", path, i+1)
		}
		r := types.Runner{
			Name:      entry.Name,
			Tags:      entry.Tags,
			Hostname:  entry.Hostname,
			Username:  entry.Username,
			Workspace: entry.Workspace,
		}
		if !r.IsLocal() {
			if entry.SSHKey == "" {
				return nil, fmt.Errorf("%s: runner %s needs ssh_key", path, entry.Name)
			}
			r.SSHPrivateKey, err = readPrivateKey(expandHome(entry.SSHKey), prompt)
			if err != nil {
				return nil, err
			}
		}
		runners = append(runners, r)
	}
	return runners, nil
}

// readPrivateKey returns the PEM encoding of the key at path, decrypting it
// with a prompted passphrase when needed.
func readPrivateKey(path string, prompt passphraseFunc) ([]byte, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	_, err = ssh.ParseRawPrivateKey(b)
	if err == nil {
		return b, nil
	}
	var missing *ssh.PassphraseMissingError
	if !errors.As(err, &missing) {
		return nil, fmt.Errorf("err parsing ssh key %s: %w", path, err)
	}

	passphrase, err := prompt(path)
	if err != nil {
		return nil, err
	}
	key, err := ssh.ParseRawPrivateKeyWithPassphrase(b, passphrase)
	if err != nil {
		return nil, fmt.Errorf("err decrypting ssh key %s: %w", path, err)
	}
	block, err := ssh.MarshalPrivateKey(key, "")
	if err != nil {
		return nil, err
	}
	return pem.EncodeToMemory(block), nil
}

func expandHome(path string) string {
	if rest, ok := strings.CutPrefix(path, "~/"); ok {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, rest)
		}
	}
	return path
}
