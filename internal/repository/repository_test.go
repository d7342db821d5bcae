package repository_test

import (
	"context"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/SinaHo/referral-backend/internal/config"
	"github.com/SinaHo/referral-backend/internal/database"
)

// newTestDB returns a migrated in-memory SQLite database.
func newTestDB(t *testing.T) *sqlx.DB {
	t.Helper()
	ctx := context.Background()
	db, err := database.Open(ctx, config.DatabaseConfig{Driver: config.DriverSQLite, Path: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, database.Migrate(ctx, db, zap.NewNop().Sugar()))
	return db
}
