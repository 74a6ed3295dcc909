package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
)

// SubmitRequest carries one CSV submission. ImportedAt, when set, is the
// logical business date for the whole batch and overrides every row's own
// timestamp.
type SubmitRequest struct {
	FileName   string
	Data       []byte
	ImportedAt *time.Time
}

// SubmitResponse is returned as soon as the batch log row exists; row
// processing continues in the background.
type SubmitResponse struct {
	BatchID   snowflake.ID `json:"batch_id"`
	TotalRows int          `json:"total_rows"`
}

// StatusResponse is the pollable projection of one batch.
type StatusResponse struct {
	BatchID       snowflake.ID `json:"batch_id"`
	FileName      string       `json:"file_name"`
	ImportedAt    time.Time    `json:"imported_at"`
	Status        string       `json:"status"`
	RowsProcessed int          `json:"rows_processed"`
	RowsSuccess   int          `json:"rows_success"`
	RowsFailed    int          `json:"rows_failed"`
	TotalRows     int          `json:"total_rows"`
	Percent       int          `json:"percent"`
	ErrorDetails  []RowError   `json:"error_details"`
}

// HistoryRequest filters batch log entries by an inclusive imported_at range.
type HistoryRequest struct {
	From *time.Time
	To   *time.Time
}

// ReverseResponse reports how many raw events the reversal removed.
type ReverseResponse struct {
	DeletedEventCount int64 `json:"deleted_event_count"`
}

// Service is the batch import engine: accept-then-work submission, pollable
// progress, history listing and exact reversal of a prior batch.
type Service interface {
	Submit(ctx context.Context, req SubmitRequest) (SubmitResponse, error)
	Status(ctx context.Context, batchID snowflake.ID) (StatusResponse, error)
	History(ctx context.Context, req HistoryRequest) ([]ImportBatch, error)
	Reverse(ctx context.Context, batchID snowflake.ID) (ReverseResponse, error)

	// Wait blocks until the background processing for batchID has finished.
	// It returns immediately for unknown or already finished batches.
	Wait(batchID snowflake.ID)
}
