// Package repository implements the import engine's store seam over gorm.
//
// The monthly upsert-and-add must be a single atomic statement because two
// concurrent batches may land on the same (account, year, month) key; the
// clamped subtract used by reversal instead runs as a locked
// read-modify-write inside the caller's transaction.
package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/printmeter/internal/importer/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
}

type repo struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
}

func Provide(p Params) domain.Repository {
	return &repo{
		db:    p.DB,
		log:   p.Log.Named("importer.repository"),
		genID: p.GenID,
	}
}

func (r *repo) WithTx(tx *gorm.DB) domain.Repository {
	return &repo{db: tx, log: r.log, genID: r.genID}
}

func (r *repo) dialect() string {
	return strings.ToLower(r.db.Dialector.Name())
}

func (r *repo) UpsertAccount(ctx context.Context, accountID, status string) error {
	now := time.Now().UTC()
	if r.dialect() == "mysql" {
		return r.db.WithContext(ctx).Exec(
			`INSERT INTO accounts (account_id, status, created_at, updated_at)
			 VALUES (?, ?, ?, ?)
			 ON DUPLICATE KEY UPDATE status = VALUES(status), updated_at = VALUES(updated_at)`,
			accountID, status, now, now,
		).Error
	}
	return r.db.WithContext(ctx).Exec(
		`INSERT INTO accounts (account_id, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (account_id)
		 DO UPDATE SET status = excluded.status, updated_at = excluded.updated_at`,
		accountID, status, now, now,
	).Error
}

func (r *repo) RecordEvent(ctx context.Context, event *domain.UsageEvent) error {
	if event == nil {
		return errors.New("missing_usage_event")
	}
	if event.ID == 0 {
		event.ID = r.genID.Generate()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	return r.db.WithContext(ctx).Create(event).Error
}

func (r *repo) EventsForBatch(ctx context.Context, batchID snowflake.ID) ([]domain.UsageEvent, error) {
	var events []domain.UsageEvent
	err := r.db.WithContext(ctx).
		Where("batch_id = ?", batchID).
		Order("id ASC").
		Find(&events).Error
	return events, err
}

func (r *repo) DeleteEventsForBatch(ctx context.Context, batchID snowflake.ID) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("batch_id = ?", batchID).
		Delete(&domain.UsageEvent{})
	return result.RowsAffected, result.Error
}

func (r *repo) ApplyMonthlyDelta(ctx context.Context, key domain.AggregateKey, deltas domain.UsageCounts, clampFloor bool) (bool, error) {
	if clampFloor {
		return r.subtractClamped(ctx, key, deltas)
	}
	return false, r.addAtomic(ctx, key, deltas)
}

// addAtomic folds deltas into the aggregate row as one insert-or-add
// statement, seeding a fresh row with the deltas when the key is new.
func (r *repo) addAtomic(ctx context.Context, key domain.AggregateKey, deltas domain.UsageCounts) error {
	now := time.Now().UTC()
	args := []any{
		r.genID.Generate(), key.AccountID, key.Year, key.Month,
		deltas.PrintTotal, deltas.PrintColor, deltas.PrintMono,
		deltas.CopyTotal, deltas.CopyColor, deltas.CopyMono,
		deltas.ScanTotal, deltas.FaxTotal,
		now, now,
	}

	if r.dialect() == "mysql" {
		return r.db.WithContext(ctx).Exec(
			`INSERT INTO monthly_aggregates (
				id, account_id, year, month,
				print_total, print_color, print_mono,
				copy_total, copy_color, copy_mono,
				scan_total, fax_total, created_at, updated_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON DUPLICATE KEY UPDATE
				print_total = print_total + VALUES(print_total),
				print_color = print_color + VALUES(print_color),
				print_mono = print_mono + VALUES(print_mono),
				copy_total = copy_total + VALUES(copy_total),
				copy_color = copy_color + VALUES(copy_color),
				copy_mono = copy_mono + VALUES(copy_mono),
				scan_total = scan_total + VALUES(scan_total),
				fax_total = fax_total + VALUES(fax_total),
				updated_at = VALUES(updated_at)`,
			args...,
		).Error
	}

	// postgres and sqlite share the excluded.* form.
	return r.db.WithContext(ctx).Exec(
		`INSERT INTO monthly_aggregates (
			id, account_id, year, month,
			print_total, print_color, print_mono,
			copy_total, copy_color, copy_mono,
			scan_total, fax_total, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (account_id, year, month)
		DO UPDATE SET
			print_total = monthly_aggregates.print_total + excluded.print_total,
			print_color = monthly_aggregates.print_color + excluded.print_color,
			print_mono = monthly_aggregates.print_mono + excluded.print_mono,
			copy_total = monthly_aggregates.copy_total + excluded.copy_total,
			copy_color = monthly_aggregates.copy_color + excluded.copy_color,
			copy_mono = monthly_aggregates.copy_mono + excluded.copy_mono,
			scan_total = monthly_aggregates.scan_total + excluded.scan_total,
			fax_total = monthly_aggregates.fax_total + excluded.fax_total,
			updated_at = excluded.updated_at`,
		args...,
	).Error
}

// subtractClamped floors every field at zero. It expects to run inside the
// reversal transaction and takes a row lock where the dialect supports one,
// so a concurrent batch adding to the same key serializes against it.
func (r *repo) subtractClamped(ctx context.Context, key domain.AggregateKey, deltas domain.UsageCounts) (bool, error) {
	stmt := r.db.WithContext(ctx)
	if r.dialect() != "sqlite" {
		stmt = stmt.Clauses(clause.Locking{Strength: "UPDATE"})
	}

	var current domain.MonthlyAggregate
	err := stmt.
		Where("account_id = ? AND year = ? AND month = ?", key.AccountID, key.Year, key.Month).
		First(&current).Error
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return false, err
		}
		// Nothing to subtract into; seed an empty row so the key exists.
		now := time.Now().UTC()
		zero := domain.MonthlyAggregate{
			ID:        r.genID.Generate(),
			AccountID: key.AccountID,
			Year:      key.Year,
			Month:     key.Month,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := r.db.WithContext(ctx).Create(&zero).Error; err != nil {
			return false, err
		}
		if !deltas.IsZero() {
			r.warnClamp(key, deltas)
			return true, nil
		}
		return false, nil
	}

	next, clamped := current.UsageCounts.SubtractClamped(deltas)
	if clamped {
		r.warnClamp(key, deltas)
	}

	err = r.db.WithContext(ctx).
		Model(&domain.MonthlyAggregate{}).
		Where("id = ?", current.ID).
		Updates(map[string]any{
			"print_total": next.PrintTotal,
			"print_color": next.PrintColor,
			"print_mono":  next.PrintMono,
			"copy_total":  next.CopyTotal,
			"copy_color":  next.CopyColor,
			"copy_mono":   next.CopyMono,
			"scan_total":  next.ScanTotal,
			"fax_total":   next.FaxTotal,
			"updated_at":  time.Now().UTC(),
		}).Error
	return clamped, err
}

// warnClamp surfaces silent data loss: the aggregate held less than the
// reversal expected to subtract, so part of the delta was swallowed.
func (r *repo) warnClamp(key domain.AggregateKey, deltas domain.UsageCounts) {
	r.log.Warn("aggregate clamped at zero during subtract",
		zap.String("account_id", key.AccountID),
		zap.Int("year", key.Year),
		zap.Int("month", key.Month),
		zap.Int64("delta_print_total", deltas.PrintTotal),
		zap.Int64("delta_copy_total", deltas.CopyTotal),
	)
}

func (r *repo) FindAggregate(ctx context.Context, key domain.AggregateKey) (*domain.MonthlyAggregate, error) {
	var agg domain.MonthlyAggregate
	err := r.db.WithContext(ctx).
		Where("account_id = ? AND year = ? AND month = ?", key.AccountID, key.Year, key.Month).
		First(&agg).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &agg, nil
}

func (r *repo) CreateBatch(ctx context.Context, batch *domain.ImportBatch) error {
	if batch == nil {
		return errors.New("missing_import_batch")
	}
	now := time.Now().UTC()
	if batch.CreatedAt.IsZero() {
		batch.CreatedAt = now
	}
	batch.UpdatedAt = now
	return r.db.WithContext(ctx).Create(batch).Error
}

func (r *repo) FindBatch(ctx context.Context, batchID snowflake.ID) (*domain.ImportBatch, error) {
	var batch domain.ImportBatch
	err := r.db.WithContext(ctx).Where("id = ?", batchID).First(&batch).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &batch, nil
}

func (r *repo) UpdateBatchProgress(ctx context.Context, batchID snowflake.ID, progress domain.BatchProgress) error {
	return r.db.WithContext(ctx).
		Model(&domain.ImportBatch{}).
		Where("id = ?", batchID).
		Updates(map[string]any{
			"rows_processed": progress.RowsProcessed,
			"rows_success":   progress.RowsSuccess,
			"rows_failed":    progress.RowsFailed,
			"error_details":  datatypes.NewJSONSlice(progress.ErrorDetails),
			"updated_at":     time.Now().UTC(),
		}).Error
}

func (r *repo) FinalizeBatch(ctx context.Context, batchID snowflake.ID, status string, progress domain.BatchProgress) error {
	result := r.db.WithContext(ctx).
		Model(&domain.ImportBatch{}).
		Where("id = ? AND status = ?", batchID, domain.BatchStatusProcessing).
		Updates(map[string]any{
			"status":         status,
			"rows_processed": progress.RowsProcessed,
			"rows_success":   progress.RowsSuccess,
			"rows_failed":    progress.RowsFailed,
			"error_details":  datatypes.NewJSONSlice(progress.ErrorDetails),
			"updated_at":     time.Now().UTC(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrBatchNotFound
	}
	return nil
}

func (r *repo) ListBatches(ctx context.Context, req domain.HistoryRequest) ([]domain.ImportBatch, error) {
	stmt := r.db.WithContext(ctx).Model(&domain.ImportBatch{})
	if req.From != nil {
		stmt = stmt.Where("imported_at >= ?", *req.From)
	}
	if req.To != nil {
		stmt = stmt.Where("imported_at <= ?", *req.To)
	}
	var batches []domain.ImportBatch
	err := stmt.Order("imported_at DESC, created_at DESC").Find(&batches).Error
	return batches, err
}

func (r *repo) DeleteBatchLog(ctx context.Context, batchID snowflake.ID) error {
	return r.db.WithContext(ctx).
		Where("id = ?", batchID).
		Delete(&domain.ImportBatch{}).Error
}
