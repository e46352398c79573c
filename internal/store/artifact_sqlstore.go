package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/georgysavva/scany/v2/sqlscan"
	"github.com/haatos/simple-dispatch/internal/types"
)

type ArtifactSQLStore struct {
	rdb, rwdb *sql.DB
}

func NewArtifactSQLStore(rdb, rwdb *sql.DB) *ArtifactSQLStore {
	return &ArtifactSQLStore{rdb, rwdb}
}

// PublishArtifacts stores all artifacts of one collection in a single
// transaction.
func (store *ArtifactSQLStore) PublishArtifacts(
	ctx context.Context,
	artifacts []types.PublishedArtifact,
) error {
	tx, err := store.rwdb.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	createdOn := time.Now().UTC()
	query := `insert into artifacts (
		artifact_run_id,
		job_name,
		report,
		pattern,
		path,
		digest,
		size,
		created_on
	)
	values ($1, $2, $3, $4, $5, $6, $7, $8)`
	for _, a := range artifacts {
		if _, err := tx.ExecContext(
			ctx, query,
			a.RunID,
			a.JobName,
			string(a.Report),
			a.Pattern,
			a.Path,
			a.Digest,
			a.Size,
			createdOn,
		); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (store *ArtifactSQLStore) ReadArtifactByID(ctx context.Context, id int64) (*Artifact, error) {
	a := &Artifact{ArtifactID: id}
	query := `select * from artifacts where artifact_id = $1`
	if err := sqlscan.Get(ctx, store.rdb, a, query, a.ArtifactID); err != nil {
		return nil, err
	}
	return a, nil
}

func (store *ArtifactSQLStore) ListRunArtifacts(ctx context.Context, runID string) ([]Artifact, error) {
	query := `select * from artifacts
	where artifact_run_id = $1
	order by artifact_id`
	artifacts := make([]Artifact, 0)
	err := sqlscan.Select(ctx, store.rdb, &artifacts, query, runID)
	return artifacts, err
}
