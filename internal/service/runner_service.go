package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/haatos/simple-dispatch/internal/security"
	"github.com/haatos/simple-dispatch/internal/store"
	"github.com/haatos/simple-dispatch/internal/types"
	"github.com/haatos/simple-dispatch/internal/util"
	"golang.org/x/crypto/ssh"
)

type RunnerStore interface {
	CreateRunner(
		ctx context.Context,
		name string,
		tags []string,
		hostname, username, workspace string,
		sshPrivateKeyHash *string,
	) (*store.Runner, error)
	ReadRunnerByID(context.Context, int64) (*store.Runner, error)
	DeleteRunner(context.Context, int64) error
	ListRunners(context.Context) ([]*store.Runner, error)
}

type RunnerServicer interface {
	CreateRunner(
		ctx context.Context,
		name string,
		tags []string,
		hostname, username, workspace, sshPrivateKey string,
	) (*store.Runner, error)
	GetRunnerByID(context.Context, int64) (*store.Runner, error)
	ListRunners(context.Context) ([]*store.Runner, error)
	DeleteRunner(context.Context, int64) error
	TestRunnerConnection(context.Context, int64) error
}

// RunnerService manages the runner registry. SSH keys are stored encrypted
// and only decrypted when the registry is handed to the runner pool.
type RunnerService struct {
	runnerStore  RunnerStore
	aesEncrypter security.Encrypter
}

func NewRunnerService(s RunnerStore, encrypter security.Encrypter) *RunnerService {
	return &RunnerService{runnerStore: s, aesEncrypter: encrypter}
}

func (s *RunnerService) CreateRunner(
	ctx context.Context,
	name string,
	tags []string,
	hostname, username, workspace, sshPrivateKey string,
) (*store.Runner, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ValidationError{Message: "runner name must not be empty"}
	}
	cleaned := make([]string, 0, len(tags))
	for _, t := range tags {
		t = strings.TrimSpace(t)
		if strings.Contains(t, ",") {
			return nil, ValidationError{Message: fmt.Sprintf("invalid runner tag %q", t)}
		}
		if t != "" {
			cleaned = append(cleaned, t)
		}
	}

	var keyHash *string
	if sshPrivateKey != "" {
		if _, err := ssh.ParsePrivateKey([]byte(sshPrivateKey)); err != nil {
			return nil, ValidationError{Message: fmt.Sprintf("invalid ssh private key: %v", err)}
		}
		keyHash = util.AsPtr(s.aesEncrypter.EncryptAES(sshPrivateKey))
	}
	return s.runnerStore.CreateRunner(ctx, name, cleaned, hostname, username, workspace, keyHash)
}

func (s *RunnerService) GetRunnerByID(ctx context.Context, id int64) (*store.Runner, error) {
	return s.runnerStore.ReadRunnerByID(ctx, id)
}

func (s *RunnerService) ListRunners(ctx context.Context) ([]*store.Runner, error) {
	runners, err := s.runnerStore.ListRunners(ctx)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	return runners, nil
}

func (s *RunnerService) DeleteRunner(ctx context.Context, id int64) error {
	return s.runnerStore.DeleteRunner(ctx, id)
}

// Registry returns the registered runners in registration order with their
// SSH keys decrypted. Runners whose key cannot be decrypted are left out.
func (s *RunnerService) Registry(ctx context.Context) ([]types.Runner, error) {
	runners, err := s.ListRunners(ctx)
	if err != nil {
		return nil, err
	}
	registry := make([]types.Runner, 0, len(runners))
	for _, r := range runners {
		privateKey, err := s.privateKey(r)
		if err != nil {
			log.Printf("err decrypting ssh key of runner %s: %+v\n", r.Name, err)
			continue
		}
		registry = append(registry, r.ToRunner(privateKey))
	}
	return registry, nil
}

func (s *RunnerService) TestRunnerConnection(ctx context.Context, id int64) error {
	r, err := s.GetRunnerByID(ctx, id)
	if err != nil {
		return err
	}
	if r.ToRunner(nil).IsLocal() {
		return nil
	}

	privateKey, err := s.privateKey(r)
	if err != nil {
		return err
	}
	client, err := connectSSH(ctx, r.Username, r.Hostname, privateKey)
	if err != nil {
		return err
	}
	defer client.Close()
	return nil
}

func (s *RunnerService) privateKey(r *store.Runner) ([]byte, error) {
	if r.SSHPrivateKeyHash == nil {
		return nil, nil
	}
	return s.aesEncrypter.DecryptAES(*r.SSHPrivateKeyHash)
}
