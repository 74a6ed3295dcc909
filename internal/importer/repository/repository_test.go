package repository

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/smallbiznis/printmeter/internal/importer/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newTestRepo(t *testing.T) (domain.Repository, *gorm.DB) {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)

	require.NoError(t, db.AutoMigrate(
		&domain.Account{},
		&domain.UsageEvent{},
		&domain.MonthlyAggregate{},
		&domain.ImportBatch{},
	))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	repo := Provide(Params{DB: db, Log: zap.NewNop(), GenID: node})
	return repo, db
}

func TestApplyMonthlyDeltaCreatesThenAdds(t *testing.T) {
	repo, _ := newTestRepo(t)
	ctx := context.Background()
	key := domain.AggregateKey{AccountID: "u-1", Year: 2024, Month: 12}

	clamped, err := repo.ApplyMonthlyDelta(ctx, key, domain.UsageCounts{PrintTotal: 100, CopyColor: 3}, false)
	require.NoError(t, err)
	assert.False(t, clamped)

	clamped, err = repo.ApplyMonthlyDelta(ctx, key, domain.UsageCounts{PrintTotal: 50, ScanTotal: 9}, false)
	require.NoError(t, err)
	assert.False(t, clamped)

	agg, err := repo.FindAggregate(ctx, key)
	require.NoError(t, err)
	require.NotNil(t, agg)
	assert.Equal(t, int64(150), agg.PrintTotal)
	assert.Equal(t, int64(3), agg.CopyColor)
	assert.Equal(t, int64(9), agg.ScanTotal)
}

func TestApplyMonthlyDeltaClampFloorsAtZero(t *testing.T) {
	repo, _ := newTestRepo(t)
	ctx := context.Background()
	key := domain.AggregateKey{AccountID: "u-1", Year: 2024, Month: 9}

	_, err := repo.ApplyMonthlyDelta(ctx, key, domain.UsageCounts{PrintTotal: 100}, false)
	require.NoError(t, err)

	clamped, err := repo.ApplyMonthlyDelta(ctx, key, domain.UsageCounts{PrintTotal: 1000}, true)
	require.NoError(t, err)
	assert.True(t, clamped)

	agg, err := repo.FindAggregate(ctx, key)
	require.NoError(t, err)
	require.NotNil(t, agg)
	assert.Equal(t, int64(0), agg.PrintTotal)
}

func TestApplyMonthlyDeltaClampExactSubtract(t *testing.T) {
	repo, _ := newTestRepo(t)
	ctx := context.Background()
	key := domain.AggregateKey{AccountID: "u-1", Year: 2024, Month: 9}

	_, err := repo.ApplyMonthlyDelta(ctx, key, domain.UsageCounts{PrintTotal: 100, FaxTotal: 2}, false)
	require.NoError(t, err)

	clamped, err := repo.ApplyMonthlyDelta(ctx, key, domain.UsageCounts{PrintTotal: 40}, true)
	require.NoError(t, err)
	assert.False(t, clamped)

	agg, err := repo.FindAggregate(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, int64(60), agg.PrintTotal)
	assert.Equal(t, int64(2), agg.FaxTotal)
}

func TestApplyMonthlyDeltaClampMissingRowSeedsZeros(t *testing.T) {
	repo, _ := newTestRepo(t)
	ctx := context.Background()
	key := domain.AggregateKey{AccountID: "ghost", Year: 2023, Month: 1}

	clamped, err := repo.ApplyMonthlyDelta(ctx, key, domain.UsageCounts{PrintTotal: 10}, true)
	require.NoError(t, err)
	assert.True(t, clamped)

	agg, err := repo.FindAggregate(ctx, key)
	require.NoError(t, err)
	require.NotNil(t, agg)
	assert.True(t, agg.UsageCounts.IsZero())
}

func TestUpsertAccountRefreshesStatusOnly(t *testing.T) {
	repo, db := newTestRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.UpsertAccount(ctx, "u-1", "active"))
	require.NoError(t, repo.UpsertAccount(ctx, "u-1", "suspended"))

	var accounts []domain.Account
	require.NoError(t, db.Find(&accounts).Error)
	require.Len(t, accounts, 1)
	assert.Equal(t, "suspended", accounts[0].Status)
}

func TestDeleteEventsForBatchReturnsCount(t *testing.T) {
	repo, _ := newTestRepo(t)
	ctx := context.Background()

	node, _ := snowflake.NewNode(2)
	batchA := node.Generate()
	batchB := node.Generate()

	for i := 0; i < 3; i++ {
		require.NoError(t, repo.RecordEvent(ctx, &domain.UsageEvent{
			AccountID:  "u-1",
			OccurredAt: time.Now().UTC(),
			BatchID:    batchA,
		}))
	}
	require.NoError(t, repo.RecordEvent(ctx, &domain.UsageEvent{
		AccountID:  "u-2",
		OccurredAt: time.Now().UTC(),
		BatchID:    batchB,
	}))

	deleted, err := repo.DeleteEventsForBatch(ctx, batchA)
	require.NoError(t, err)
	assert.Equal(t, int64(3), deleted)

	remaining, err := repo.EventsForBatch(ctx, batchB)
	require.NoError(t, err)
	assert.Len(t, remaining, 1)
}

func TestFinalizeBatchIsTerminal(t *testing.T) {
	repo, _ := newTestRepo(t)
	ctx := context.Background()

	node, _ := snowflake.NewNode(3)
	batch := &domain.ImportBatch{
		ID:         node.Generate(),
		FileName:   "usage.csv",
		ImportedAt: time.Now().UTC(),
		Status:     domain.BatchStatusProcessing,
		TotalRows:  10,
	}
	require.NoError(t, repo.CreateBatch(ctx, batch))

	progress := domain.BatchProgress{RowsProcessed: 10, RowsSuccess: 10}
	require.NoError(t, repo.FinalizeBatch(ctx, batch.ID, domain.BatchStatusCompleted, progress))

	// A second finalize must not move the batch out of its terminal state.
	err := repo.FinalizeBatch(ctx, batch.ID, domain.BatchStatusFailed, progress)
	assert.ErrorIs(t, err, domain.ErrBatchNotFound)

	stored, err := repo.FindBatch(ctx, batch.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.BatchStatusCompleted, stored.Status)
}

func TestListBatchesFiltersAndOrders(t *testing.T) {
	repo, _ := newTestRepo(t)
	ctx := context.Background()

	node, _ := snowflake.NewNode(4)
	days := []time.Time{
		time.Date(2024, 11, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 11, 15, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 12, 1, 0, 0, 0, 0, time.UTC),
	}
	for _, day := range days {
		require.NoError(t, repo.CreateBatch(ctx, &domain.ImportBatch{
			ID:         node.Generate(),
			FileName:   "usage.csv",
			ImportedAt: day,
			Status:     domain.BatchStatusCompleted,
		}))
	}

	from := time.Date(2024, 11, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2024, 11, 30, 0, 0, 0, 0, time.UTC)
	batches, err := repo.ListBatches(ctx, domain.HistoryRequest{From: &from, To: &to})
	require.NoError(t, err)
	require.Len(t, batches, 2)
	// Newest first, and the inclusive bounds keep the Nov 1 batch.
	assert.Equal(t, days[1], batches[0].ImportedAt.UTC())
	assert.Equal(t, days[0], batches[1].ImportedAt.UTC())

	all, err := repo.ListBatches(ctx, domain.HistoryRequest{})
	require.NoError(t, err)
	assert.Len(t, all, 3)
}
