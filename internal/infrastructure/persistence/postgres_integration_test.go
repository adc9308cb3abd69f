//go:build integration

package persistence

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"
	gormpostgres "gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/vipm/backend/internal/domain/fulfillment"
	"github.com/vipm/backend/internal/infrastructure/migration"
	"github.com/vipm/backend/migrations"
)

// newPostgresTestDB starts a PostgreSQL container and applies the embedded
// migrations
func newPostgresTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("vipm_test"),
		tcpostgres.WithUsername("postgres"),
		tcpostgres.WithPassword("postgres"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(t, err, "Failed to start PostgreSQL container")
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	db, err := gorm.Open(gormpostgres.Open(dsn), &gorm.Config{SkipDefaultTransaction: true})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)

	m, err := migration.Open(sqlDB, migration.Source{FS: migrations.FS}, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, m.Up())

	return db
}

func TestPostgres_TransferLifecycle(t *testing.T) {
	db := newPostgresTestDB(t)
	repo := NewGormTransferRepository(db)
	ctx := context.Background()

	transfer, err := fulfillment.NewTransfer("PRD-1", "AUT-1", "SEL-1", "MEM-1")
	require.NoError(t, err)
	require.NoError(t, repo.Save(ctx, transfer))

	require.NoError(t, transfer.MarkRunning("TR-1"))
	require.NoError(t, repo.Save(ctx, transfer))

	running, err := repo.FindByStatus(ctx, "PRD-1", fulfillment.TransferStatusRunning)
	require.NoError(t, err)
	require.Len(t, running, 1)
	assert.Equal(t, "TR-1", running[0].TransferID)

	require.NoError(t, transfer.MarkProcessed("CUST-1", time.Now()))
	require.NoError(t, transfer.MarkSynchronized("ORD-1", time.Now()))
	require.NoError(t, repo.Save(ctx, transfer))

	found, err := repo.FindByCustomer(ctx, "PRD-1", "AUT-1", "CUST-1")
	require.NoError(t, err)
	assert.Equal(t, fulfillment.TransferStatusSynchronized, found.Status)
	assert.Equal(t, "ORD-1", found.PlatformOrderID)
}

func TestPostgres_PollAttemptsConcurrentIncrement(t *testing.T) {
	db := newPostgresTestDB(t)
	repo := NewGormPollAttemptRepository(db)
	ctx := context.Background()

	const workers = 20
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := repo.Increment(ctx, "ORD-1")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	attempt, err := repo.Get(ctx, "ORD-1")
	require.NoError(t, err)
	assert.Equal(t, workers, attempt.Attempts)
}
