package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// BatchProgress is the mutable slice of an ImportBatch flushed during the
// row loop and on finalization.
type BatchProgress struct {
	RowsProcessed int
	RowsSuccess   int
	RowsFailed    int
	ErrorDetails  []RowError
}

// Repository is the store seam used by the coordinator and the reversal
// engine. Every method is individually atomic (a single-row write) because
// the row loop deliberately does not wrap a whole batch in one transaction;
// only reversal runs multi-step, through WithTx.
type Repository interface {
	// WithTx rebinds the repository to a transaction handle.
	WithTx(tx *gorm.DB) Repository

	// UpsertAccount creates the account or refreshes its status snapshot.
	// It is additive identity only and never destroys existing data.
	UpsertAccount(ctx context.Context, accountID, status string) error

	RecordEvent(ctx context.Context, event *UsageEvent) error
	EventsForBatch(ctx context.Context, batchID snowflake.ID) ([]UsageEvent, error)
	DeleteEventsForBatch(ctx context.Context, batchID snowflake.ID) (int64, error)

	// ApplyMonthlyDelta folds deltas into the aggregate row for key,
	// creating it when absent. With clampFloor false the write is a single
	// atomic insert-or-add; two concurrent batches on the same key must not
	// lose updates. With clampFloor true (the reversal path) each field is
	// floored at zero, and the return reports whether any field clamped.
	ApplyMonthlyDelta(ctx context.Context, key AggregateKey, deltas UsageCounts, clampFloor bool) (bool, error)

	FindAggregate(ctx context.Context, key AggregateKey) (*MonthlyAggregate, error)

	CreateBatch(ctx context.Context, batch *ImportBatch) error
	FindBatch(ctx context.Context, batchID snowflake.ID) (*ImportBatch, error)
	UpdateBatchProgress(ctx context.Context, batchID snowflake.ID, progress BatchProgress) error
	FinalizeBatch(ctx context.Context, batchID snowflake.ID, status string, progress BatchProgress) error
	ListBatches(ctx context.Context, req HistoryRequest) ([]ImportBatch, error)
	DeleteBatchLog(ctx context.Context, batchID snowflake.ID) error
}
