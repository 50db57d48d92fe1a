package database_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/masomo-portal/core"
	"github.com/trezcool/masomo-portal/storage/database"
	"github.com/trezcool/masomo-portal/tests"
)

func TestMigrate(t *testing.T) {
	ctx := context.Background()
	db := testutil.PrepareDB(t)

	v, err := database.Version(ctx, db, core.StorageEngineSQLite)
	require.NoError(t, err)
	assert.Equal(t, int64(1), v)

	// idempotent
	require.NoError(t, database.Migrate(ctx, db, core.StorageEngineSQLite))
	var n int
	require.NoError(t, db.GetContext(ctx, &n, `SELECT COUNT(*) FROM persisted_state`))
	assert.Zero(t, n)
}

func TestUnsupportedEngine(t *testing.T) {
	ctx := context.Background()

	_, err := database.Open(ctx, core.StorageConfig{Engine: "mysql"})
	assert.EqualError(t, err, `unsupported storage engine "mysql"`)

	db := testutil.PrepareDB(t)
	assert.Error(t, database.Migrate(ctx, db, core.StorageEngineMemory))
	_, err = database.Version(ctx, db, core.StorageEngineMemory)
	assert.Error(t, err)
}
