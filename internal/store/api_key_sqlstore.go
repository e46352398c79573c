package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/georgysavva/scany/v2/sqlscan"
)

func NewAPIKeySQLStore(rdb, rwdb *sql.DB) *APIKeySQLStore {
	return &APIKeySQLStore{rdb, rwdb}
}

type APIKeySQLStore struct {
	rdb, rwdb *sql.DB
}

func (store *APIKeySQLStore) CreateAPIKey(ctx context.Context, value string) (*APIKey, error) {
	key := &APIKey{Value: value, CreatedOn: time.Now().UTC()}
	query := `insert into api_keys (value, created_on) values ($1, $2) returning id`
	err := sqlscan.Get(ctx, store.rwdb, key, query, key.Value, key.CreatedOn)
	if err != nil {
		return nil, err
	}
	return key, nil
}

func (store *APIKeySQLStore) ReadAPIKeyByID(ctx context.Context, id int64) (*APIKey, error) {
	key := new(APIKey)
	query := `select * from api_keys where id = $1`
	err := sqlscan.Get(ctx, store.rdb, key, query, id)
	if err != nil {
		return nil, err
	}
	return key, nil
}

func (store *APIKeySQLStore) ReadAPIKeyByValue(
	ctx context.Context,
	value string,
) (*APIKey, error) {
	key := new(APIKey)
	query := `select * from api_keys where value = $1`
	err := sqlscan.Get(ctx, store.rdb, key, query, value)
	if err != nil {
		return nil, err
	}
	return key, nil
}

func (store *APIKeySQLStore) DeleteAPIKey(ctx context.Context, id int64) error {
	query := `delete from api_keys where id = $1`
	return execAffecting(store.rwdb.ExecContext(ctx, query, id))
}

func (store *APIKeySQLStore) ListAPIKeys(ctx context.Context) ([]*APIKey, error) {
	query := `select * from api_keys order by id`
	keys := make([]*APIKey, 0)
	err := sqlscan.Select(ctx, store.rdb, &keys, query)
	return keys, err
}

func (store *APIKeySQLStore) CountAPIKeys(ctx context.Context) (int64, error) {
	var count int64
	query := `select count(*) from api_keys`
	err := sqlscan.Get(ctx, store.rdb, &count, query)
	return count, err
}
