// Package service owns the batch lifecycle: submission returns as soon as
// the log row exists, the row loop runs in the background, progress is a
// pure read, and reversal is the exact inverse of a prior batch inside one
// transaction.
package service

import (
	"bytes"
	"context"
	"fmt"
	"math"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/printmeter/internal/clock"
	"github.com/smallbiznis/printmeter/internal/config"
	"github.com/smallbiznis/printmeter/internal/importer/domain"
	"github.com/smallbiznis/printmeter/internal/importer/metrics"
	"github.com/smallbiznis/printmeter/internal/importer/normalize"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type ServiceParam struct {
	fx.In

	Lifecycle fx.Lifecycle `optional:"true"`

	DB        *gorm.DB
	Log       *zap.Logger
	GenID     *snowflake.Node
	Repo      domain.Repository
	Clock     clock.Clock
	Cfg       config.Config
	ImportCfg *config.ImportConfigHolder `optional:"true"`
	Metrics   *metrics.Metrics           `optional:"true"`
}

type Service struct {
	db      *gorm.DB
	log     *zap.Logger
	genID   *snowflake.Node
	repo    domain.Repository
	norm    *normalize.Normalizer
	cfg     *config.ImportConfigHolder
	metrics *metrics.Metrics
	tasks   *tracker
	drain   time.Duration
}

func NewService(p ServiceParam) domain.Service {
	s := &Service{
		db:      p.DB,
		log:     p.Log.Named("importer.service"),
		genID:   p.GenID,
		repo:    p.Repo,
		norm:    normalize.New(p.Clock),
		cfg:     p.ImportCfg,
		metrics: p.Metrics,
		tasks:   newTracker(),
		drain:   p.Cfg.ShutdownDrainTimeout,
	}

	if p.Lifecycle != nil {
		p.Lifecycle.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				return s.drainTasks(ctx)
			},
		})
	}

	return s
}

func (s *Service) importConfig() config.ImportConfig {
	if s.cfg != nil {
		return s.cfg.Get()
	}
	return config.DefaultImportConfig()
}

// Submit parses the whole file up front so the caller gets a total row
// count, writes the processing log row, then hands the row loop to a
// background task and returns. Files run to tens of thousands of rows, so
// the caller must never block for the full duration.
func (s *Service) Submit(ctx context.Context, req domain.SubmitRequest) (domain.SubmitResponse, error) {
	rows, err := normalize.DecodeCSV(bytes.NewReader(req.Data))
	if err != nil {
		return domain.SubmitResponse{}, err
	}

	now := time.Now().UTC()
	importedAt := now
	if req.ImportedAt != nil {
		importedAt = req.ImportedAt.UTC()
	}

	batch := &domain.ImportBatch{
		ID:         s.genID.Generate(),
		FileName:   req.FileName,
		ImportedAt: importedAt,
		Status:     domain.BatchStatusProcessing,
		TotalRows:  len(rows),
		CreatedAt:  now,
	}
	if err := s.repo.CreateBatch(ctx, batch); err != nil {
		return domain.SubmitResponse{}, err
	}

	done := s.tasks.register(batch.ID)
	go s.processBatch(context.Background(), batch.ID, rows, req.ImportedAt, done)

	s.log.Info("import batch accepted",
		zap.Stringer("batch_id", batch.ID),
		zap.String("file_name", batch.FileName),
		zap.Int("total_rows", batch.TotalRows),
	)

	return domain.SubmitResponse{BatchID: batch.ID, TotalRows: batch.TotalRows}, nil
}

// processBatch is the per-batch background task. One bad row never aborts
// the batch; the only fatal path is a failure writing the log row itself.
func (s *Service) processBatch(ctx context.Context, batchID snowflake.ID, rows []normalize.Row, override *time.Time, done func()) {
	defer done()

	cfg := s.importConfig()
	progress := domain.BatchProgress{}

	recordFailure := func(rowIndex int, err error) {
		progress.RowsFailed++
		if len(progress.ErrorDetails) < cfg.MaxErrorDetails {
			progress.ErrorDetails = append(progress.ErrorDetails, domain.RowError{
				Row:   rowIndex,
				Error: err.Error(),
			})
		}
		s.metrics.RowProcessed("failed")
		s.log.Warn("import row failed",
			zap.Stringer("batch_id", batchID),
			zap.Int("row", rowIndex),
			zap.Error(err),
		)
	}

	for i, row := range rows {
		rowIndex := i + 1

		event, err := s.norm.Normalize(row, override)
		if err != nil {
			recordFailure(rowIndex, err)
		} else if err := s.applyRow(ctx, batchID, event); err != nil {
			recordFailure(rowIndex, err)
		} else {
			progress.RowsSuccess++
			s.metrics.RowProcessed("success")
		}
		progress.RowsProcessed++

		if progress.RowsProcessed%cfg.ProgressFlushRows == 0 {
			if err := s.repo.UpdateBatchProgress(ctx, batchID, progress); err != nil {
				s.failBatch(ctx, batchID, progress, err)
				return
			}
		}
	}

	if err := s.repo.FinalizeBatch(ctx, batchID, domain.BatchStatusCompleted, progress); err != nil {
		s.failBatch(ctx, batchID, progress, err)
		return
	}

	s.metrics.BatchFinished(domain.BatchStatusCompleted)
	s.log.Info("import batch completed",
		zap.Stringer("batch_id", batchID),
		zap.Int("rows_success", progress.RowsSuccess),
		zap.Int("rows_failed", progress.RowsFailed),
	)
}

// applyRow persists one normalized event: account upsert, raw event insert,
// then the atomic monthly add. Each write is individually durable so a
// mid-batch crash leaves a consistent prefix of applied rows.
func (s *Service) applyRow(ctx context.Context, batchID snowflake.ID, event *domain.UsageEvent) error {
	if err := s.repo.UpsertAccount(ctx, event.AccountID, event.AccountStatus); err != nil {
		return fmt.Errorf("upsert account: %w", err)
	}

	event.ID = s.genID.Generate()
	event.BatchID = batchID
	event.CreatedAt = time.Now().UTC()
	if err := s.repo.RecordEvent(ctx, event); err != nil {
		return fmt.Errorf("record event: %w", err)
	}

	key := domain.KeyFor(event.AccountID, event.OccurredAt)
	if _, err := s.repo.ApplyMonthlyDelta(ctx, key, event.UsageCounts, false); err != nil {
		return fmt.Errorf("apply monthly delta: %w", err)
	}
	return nil
}

// failBatch marks the batch failed with the escaping error as the sole
// error detail. Best effort: if even this write fails there is nothing
// left to update, so it is logged and dropped.
func (s *Service) failBatch(ctx context.Context, batchID snowflake.ID, progress domain.BatchProgress, cause error) {
	progress.ErrorDetails = []domain.RowError{{Row: 0, Error: cause.Error()}}
	if err := s.repo.FinalizeBatch(ctx, batchID, domain.BatchStatusFailed, progress); err != nil {
		s.log.Error("marking batch failed also failed",
			zap.Stringer("batch_id", batchID),
			zap.NamedError("cause", cause),
			zap.Error(err),
		)
	}
	s.metrics.BatchFinished(domain.BatchStatusFailed)
	s.log.Error("import batch failed",
		zap.Stringer("batch_id", batchID),
		zap.Error(cause),
	)
}

// Status is a pure read of the batch log row.
func (s *Service) Status(ctx context.Context, batchID snowflake.ID) (domain.StatusResponse, error) {
	batch, err := s.repo.FindBatch(ctx, batchID)
	if err != nil {
		return domain.StatusResponse{}, err
	}
	if batch == nil {
		return domain.StatusResponse{}, domain.ErrBatchNotFound
	}

	return domain.StatusResponse{
		BatchID:       batch.ID,
		FileName:      batch.FileName,
		ImportedAt:    batch.ImportedAt,
		Status:        batch.Status,
		RowsProcessed: batch.RowsProcessed,
		RowsSuccess:   batch.RowsSuccess,
		RowsFailed:    batch.RowsFailed,
		TotalRows:     batch.TotalRows,
		Percent:       percent(batch.RowsProcessed, batch.TotalRows),
		ErrorDetails:  []domain.RowError(batch.ErrorDetails),
	}, nil
}

func percent(processed, total int) int {
	if total < 1 {
		total = 1
	}
	p := int(math.Round(float64(processed) / float64(total) * 100))
	if p > 100 {
		p = 100
	}
	return p
}

func (s *Service) History(ctx context.Context, req domain.HistoryRequest) ([]domain.ImportBatch, error) {
	if req.From != nil && req.To != nil && req.From.After(*req.To) {
		return nil, domain.ErrInvalidRange
	}
	return s.repo.ListBatches(ctx, req)
}

// Reverse subtracts everything the batch contributed back out of the
// monthly aggregates (floored at zero), deletes the batch's raw events and
// its log row, all inside one transaction. A missing batch is a no-op, so
// repeated reversals are idempotent.
func (s *Service) Reverse(ctx context.Context, batchID snowflake.ID) (domain.ReverseResponse, error) {
	// A reversal racing the batch's own row loop would subtract a prefix of
	// the events and leave the rest orphaned, so let the loop finish first.
	s.tasks.wait(batchID)

	var resp domain.ReverseResponse
	found := false
	clampedKeys := 0

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		batch, err := repo.FindBatch(ctx, batchID)
		if err != nil {
			return err
		}
		if batch == nil {
			return nil
		}
		found = true

		events, err := repo.EventsForBatch(ctx, batchID)
		if err != nil {
			return err
		}

		// Fold the batch's events into one delta per aggregate key; the
		// arithmetic matches per-event subtraction exactly.
		deltas := make(map[domain.AggregateKey]domain.UsageCounts)
		for _, event := range events {
			key := domain.KeyFor(event.AccountID, event.OccurredAt)
			deltas[key] = deltas[key].Add(event.UsageCounts)
		}

		for key, delta := range deltas {
			clamped, err := repo.ApplyMonthlyDelta(ctx, key, delta, true)
			if err != nil {
				return err
			}
			if clamped {
				clampedKeys++
			}
		}

		deleted, err := repo.DeleteEventsForBatch(ctx, batchID)
		if err != nil {
			return err
		}
		resp.DeletedEventCount = deleted

		return repo.DeleteBatchLog(ctx, batchID)
	})
	if err != nil {
		return domain.ReverseResponse{}, err
	}

	if found {
		s.metrics.ReversalCompleted()
		for i := 0; i < clampedKeys; i++ {
			s.metrics.AggregateClamped()
		}
		s.log.Info("import batch reversed",
			zap.Stringer("batch_id", batchID),
			zap.Int64("deleted_events", resp.DeletedEventCount),
			zap.Int("clamped_keys", clampedKeys),
		)
	}

	return resp, nil
}

func (s *Service) Wait(batchID snowflake.ID) {
	s.tasks.wait(batchID)
}

func (s *Service) drainTasks(ctx context.Context) error {
	drainCtx := ctx
	if s.drain > 0 {
		var cancel context.CancelFunc
		drainCtx, cancel = context.WithTimeout(ctx, s.drain)
		defer cancel()
	}
	if err := s.tasks.drain(drainCtx); err != nil {
		s.log.Warn("shutdown abandoned in-flight import batches", zap.Error(err))
		return nil
	}
	return nil
}
