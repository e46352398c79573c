package types

import (
	"fmt"
	"strings"
)

type Runner struct {
	RunnerID  int64
	Name      string
	Tags      []string
	Hostname  string
	Username  string
	Workspace string
	// SSHPrivateKey is only populated for remote runners and never persisted in
	// plain text.
	SSHPrivateKey []byte
}

// IsLocal reports whether the runner executes steps on this machine.
func (r Runner) IsLocal() bool {
	return r.Hostname == "" || r.Hostname == "localhost"
}

func (r Runner) String() string {
	return fmt.Sprintf("%s [%s]", r.Name, strings.Join(r.Tags, ","))
}

type RunnerPolicy string

const (
	LeastRecentlyUsed RunnerPolicy = "least_recently_used"
	FirstRegistered   RunnerPolicy = "first_registered"
)

func ParseRunnerPolicy(s string) (RunnerPolicy, error) {
	switch strings.ToLower(s) {
	case "", "lru", string(LeastRecentlyUsed):
		return LeastRecentlyUsed, nil
	case "first", string(FirstRegistered):
		return FirstRegistered, nil
	}
	return "", fmt.Errorf("unknown runner policy %q", s)
}
