package testutil

import (
	"context"

	"github.com/haatos/simple-dispatch/internal/store"
	"github.com/stretchr/testify/mock"
)

// MockAPIKeyService mocks service.APIKeyServicer for the key routes and the
// authentication middleware.
type MockAPIKeyService struct {
	mock.Mock
}

// returned reads a (T, error) pair from a mocked call. A nil first value
// yields the zero T.
func returned[T any](args mock.Arguments) (T, error) {
	value, _ := args.Get(0).(T)
	return value, args.Error(1)
}

func (m *MockAPIKeyService) CreateAPIKey(ctx context.Context) (*store.APIKey, error) {
	return returned[*store.APIKey](m.Called(ctx))
}

func (m *MockAPIKeyService) GetAPIKeyByID(ctx context.Context, id int64) (*store.APIKey, error) {
	return returned[*store.APIKey](m.Called(ctx, id))
}

func (m *MockAPIKeyService) GetAPIKeyByValue(ctx context.Context, value string) (*store.APIKey, error) {
	return returned[*store.APIKey](m.Called(ctx, value))
}

func (m *MockAPIKeyService) DeleteAPIKey(ctx context.Context, id int64) error {
	return m.Called(ctx, id).Error(0)
}

func (m *MockAPIKeyService) ListAPIKeys(ctx context.Context) ([]*store.APIKey, error) {
	return returned[[]*store.APIKey](m.Called(ctx))
}
