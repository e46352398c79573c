package store

import (
	"strings"
	"time"

	"github.com/haatos/simple-dispatch/internal/types"
)

type Runner struct {
	RunnerID          int64     `json:"runner_id" param:"runner_id"`
	Name              string    `json:"name"`
	Tags              string    `json:"-"`
	Hostname          string    `json:"hostname"`
	Username          string    `json:"username"`
	Workspace         string    `json:"workspace"`
	SSHPrivateKeyHash *string   `json:"-"`
	CreatedOn         time.Time `json:"created_on"`
}

func JoinTags(tags []string) string {
	return strings.Join(tags, ",")
}

func (r *Runner) TagList() []string {
	if r.Tags == "" {
		return []string{}
	}
	return strings.Split(r.Tags, ",")
}

// ToRunner converts the stored runner into the registry view used by the
// dispatcher. privateKey is the decrypted SSH key, if any.
func (r *Runner) ToRunner(privateKey []byte) types.Runner {
	return types.Runner{
		RunnerID:      r.RunnerID,
		Name:          r.Name,
		Tags:          r.TagList(),
		Hostname:      r.Hostname,
		Username:      r.Username,
		Workspace:     r.Workspace,
		SSHPrivateKey: privateKey,
	}
}
