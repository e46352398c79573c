package testutil

import (
	"context"

	"github.com/haatos/simple-dispatch/internal/store"
	"github.com/stretchr/testify/mock"
)

type MockRunnerService struct {
	mock.Mock
}

func (m *MockRunnerService) CreateRunner(
	ctx context.Context,
	name string,
	tags []string,
	hostname, username, workspace, sshPrivateKey string,
) (*store.Runner, error) {
	args := m.Called(ctx, name, tags, hostname, username, workspace, sshPrivateKey)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*store.Runner), args.Error(1)
}

func (m *MockRunnerService) GetRunnerByID(
	ctx context.Context,
	id int64,
) (*store.Runner, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*store.Runner), args.Error(1)
}

func (m *MockRunnerService) ListRunners(ctx context.Context) ([]*store.Runner, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*store.Runner), args.Error(1)
}

func (m *MockRunnerService) DeleteRunner(ctx context.Context, id int64) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockRunnerService) TestRunnerConnection(ctx context.Context, id int64) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}
