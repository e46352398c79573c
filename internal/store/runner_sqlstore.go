package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/georgysavva/scany/v2/sqlscan"
)

type RunnerSQLStore struct {
	rdb, rwdb *sql.DB
}

func NewRunnerSQLStore(rdb, rwdb *sql.DB) *RunnerSQLStore {
	return &RunnerSQLStore{rdb, rwdb}
}

func (store *RunnerSQLStore) CreateRunner(
	ctx context.Context,
	name string,
	tags []string,
	hostname, username, workspace string,
	sshPrivateKeyHash *string,
) (*Runner, error) {
	r := &Runner{
		Name:              name,
		Tags:              JoinTags(tags),
		Hostname:          hostname,
		Username:          username,
		Workspace:         workspace,
		SSHPrivateKeyHash: sshPrivateKeyHash,
		CreatedOn:         time.Now().UTC(),
	}
	query := `insert into runners (
		name,
		tags,
		hostname,
		username,
		workspace,
		ssh_private_key_hash,
		created_on
	)
	values ($1, $2, $3, $4, $5, $6, $7)
	returning runner_id`
	err := sqlscan.Get(
		ctx, store.rwdb, r, query,
		r.Name,
		r.Tags,
		r.Hostname,
		r.Username,
		r.Workspace,
		r.SSHPrivateKeyHash,
		r.CreatedOn,
	)
	if err != nil {
		return nil, err
	}
	return r, nil
}

func (store *RunnerSQLStore) ReadRunnerByID(ctx context.Context, id int64) (*Runner, error) {
	r := &Runner{RunnerID: id}
	query := `select * from runners where runner_id = $1`
	if err := sqlscan.Get(ctx, store.rdb, r, query, r.RunnerID); err != nil {
		return nil, err
	}
	return r, nil
}

func (store *RunnerSQLStore) DeleteRunner(ctx context.Context, id int64) error {
	query := "delete from runners where runner_id = $1"
	return execAffecting(store.rwdb.ExecContext(ctx, query, id))
}

// ListRunners returns runners in registration order.
func (store *RunnerSQLStore) ListRunners(ctx context.Context) ([]*Runner, error) {
	query := `select * from runners order by runner_id`
	runners := make([]*Runner, 0)
	err := sqlscan.Select(ctx, store.rdb, &runners, query)
	return runners, err
}
