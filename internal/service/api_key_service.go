package service

import (
	"context"
	"log"

	"github.com/google/uuid"
	"github.com/haatos/simple-dispatch/internal/store"
)

type APIKeyStore interface {
	CreateAPIKey(context.Context, string) (*store.APIKey, error)
	ReadAPIKeyByID(context.Context, int64) (*store.APIKey, error)
	ReadAPIKeyByValue(context.Context, string) (*store.APIKey, error)
	DeleteAPIKey(context.Context, int64) error
	ListAPIKeys(context.Context) ([]*store.APIKey, error)
	CountAPIKeys(context.Context) (int64, error)
}

type APIKeyServicer interface {
	CreateAPIKey(context.Context) (*store.APIKey, error)
	GetAPIKeyByID(context.Context, int64) (*store.APIKey, error)
	GetAPIKeyByValue(context.Context, string) (*store.APIKey, error)
	DeleteAPIKey(context.Context, int64) error
	ListAPIKeys(context.Context) ([]*store.APIKey, error)
}

type UUIDGenerator interface {
	GenerateUUID() string
}

func NewUUIDGen() *UUIDGen {
	return &UUIDGen{}
}

type UUIDGen struct{}

func (ug *UUIDGen) GenerateUUID() string {
	return uuid.NewString()
}

type APIKeyService struct {
	store         APIKeyStore
	uuidGenerator UUIDGenerator
}

func NewAPIKeyService(store APIKeyStore, uuidGenerator UUIDGenerator) *APIKeyService {
	return &APIKeyService{store, uuidGenerator}
}

// InitializeAPIKey creates and logs a first API key when none exist, so a
// fresh installation can be reached through the API.
func (s *APIKeyService) InitializeAPIKey(ctx context.Context) error {
	count, err := s.store.CountAPIKeys(ctx)
	if err != nil {
		return err
	}
	if count > 0 {
		return nil
	}
	key, err := s.CreateAPIKey(ctx)
	if err != nil {
		return err
	}
	log.Println("created initial API key:", key.Value)
	return nil
}

func (s *APIKeyService) CreateAPIKey(ctx context.Context) (*store.APIKey, error) {
	value := s.uuidGenerator.GenerateUUID()
	return s.store.CreateAPIKey(ctx, value)
}

func (s *APIKeyService) GetAPIKeyByID(ctx context.Context, id int64) (*store.APIKey, error) {
	return s.store.ReadAPIKeyByID(ctx, id)
}

func (s *APIKeyService) GetAPIKeyByValue(ctx context.Context, value string) (*store.APIKey, error) {
	return s.store.ReadAPIKeyByValue(ctx, value)
}

func (s *APIKeyService) DeleteAPIKey(ctx context.Context, id int64) error {
	return s.store.DeleteAPIKey(ctx, id)
}

func (s *APIKeyService) ListAPIKeys(ctx context.Context) ([]*store.APIKey, error) {
	return s.store.ListAPIKeys(ctx)
}
