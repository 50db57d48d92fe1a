package sqlxrepos

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/trezcool/masomo-portal/core/persist"
)

var nowFunc = time.Now // mockable

type stateRow struct {
	Partition string `db:"partition_key"`
	Payload   string `db:"payload"`
}

type stateRepository struct {
	db *sqlx.DB
}

var _ persist.Repository = (*stateRepository)(nil)

func NewStateRepository(db *sqlx.DB) persist.Repository {
	return &stateRepository{db: db}
}

func (repo stateRepository) LoadAll(ctx context.Context, root string) (map[string][]byte, error) {
	var rows []stateRow
	q := repo.db.Rebind(`SELECT partition_key, payload FROM persisted_state WHERE root_key = ?`)
	if err := repo.db.SelectContext(ctx, &rows, q, root); err != nil {
		return nil, errors.Wrap(err, "selecting persisted state")
	}
	payloads := make(map[string][]byte, len(rows))
	for _, row := range rows {
		payloads[row.Partition] = []byte(row.Payload)
	}
	return payloads, nil
}

func (repo stateRepository) Save(ctx context.Context, root, partition string, payload []byte) error {
	q := repo.db.Rebind(`
		INSERT INTO persisted_state (root_key, partition_key, payload, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (root_key, partition_key)
		DO UPDATE SET payload = excluded.payload, updated_at = excluded.updated_at`)
	if _, err := repo.db.ExecContext(ctx, q, root, partition, string(payload), nowFunc().UTC()); err != nil {
		return errors.Wrap(err, "saving persisted state")
	}
	return nil
}

func (repo stateRepository) Purge(ctx context.Context, root string) error {
	q := repo.db.Rebind(`DELETE FROM persisted_state WHERE root_key = ?`)
	if _, err := repo.db.ExecContext(ctx, q, root); err != nil {
		return errors.Wrap(err, "purging persisted state")
	}
	return nil
}
