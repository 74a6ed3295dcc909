// Package domain contains persistence models and contracts for CSV usage imports.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// UsageCounts holds the numeric usage fields shared by raw events and
// monthly aggregates. All fields are non-negative running counters.
type UsageCounts struct {
	PrintTotal int64 `gorm:"not null;default:0" json:"print_total"`
	PrintColor int64 `gorm:"not null;default:0" json:"print_color"`
	PrintMono  int64 `gorm:"not null;default:0" json:"print_mono"`
	CopyTotal  int64 `gorm:"not null;default:0" json:"copy_total"`
	CopyColor  int64 `gorm:"not null;default:0" json:"copy_color"`
	CopyMono   int64 `gorm:"not null;default:0" json:"copy_mono"`
	ScanTotal  int64 `gorm:"not null;default:0" json:"scan_total"`
	FaxTotal   int64 `gorm:"not null;default:0" json:"fax_total"`
}

// Add returns the field-wise sum of c and other.
func (c UsageCounts) Add(other UsageCounts) UsageCounts {
	return UsageCounts{
		PrintTotal: c.PrintTotal + other.PrintTotal,
		PrintColor: c.PrintColor + other.PrintColor,
		PrintMono:  c.PrintMono + other.PrintMono,
		CopyTotal:  c.CopyTotal + other.CopyTotal,
		CopyColor:  c.CopyColor + other.CopyColor,
		CopyMono:   c.CopyMono + other.CopyMono,
		ScanTotal:  c.ScanTotal + other.ScanTotal,
		FaxTotal:   c.FaxTotal + other.FaxTotal,
	}
}

// SubtractClamped subtracts other from c, flooring each field at zero.
// The second return reports whether any field actually clamped, meaning
// the subtraction would have gone negative and information was lost.
func (c UsageCounts) SubtractClamped(other UsageCounts) (UsageCounts, bool) {
	clamped := false
	sub := func(cur, delta int64) int64 {
		if cur < delta {
			clamped = true
			return 0
		}
		return cur - delta
	}
	out := UsageCounts{
		PrintTotal: sub(c.PrintTotal, other.PrintTotal),
		PrintColor: sub(c.PrintColor, other.PrintColor),
		PrintMono:  sub(c.PrintMono, other.PrintMono),
		CopyTotal:  sub(c.CopyTotal, other.CopyTotal),
		CopyColor:  sub(c.CopyColor, other.CopyColor),
		CopyMono:   sub(c.CopyMono, other.CopyMono),
		ScanTotal:  sub(c.ScanTotal, other.ScanTotal),
		FaxTotal:   sub(c.FaxTotal, other.FaxTotal),
	}
	return out, clamped
}

// IsZero reports whether every counter is zero.
func (c UsageCounts) IsZero() bool {
	return c == UsageCounts{}
}

// Account is one printer/copier account. Import only ever inserts it or
// refreshes its status snapshot, never removes or rewrites anything else.
type Account struct {
	AccountID string    `gorm:"primaryKey;type:text" json:"account_id"`
	Status    string    `gorm:"type:text" json:"status"`
	CreatedAt time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null" json:"updated_at"`
}

func (Account) TableName() string { return "accounts" }

// UsageEvent is one normalized CSV row. Rows are append-only: they are owned
// by the batch that created them and deleted only when that batch is reversed.
type UsageEvent struct {
	ID            snowflake.ID `gorm:"primaryKey" json:"id"`
	AccountID     string       `gorm:"type:text;not null;index" json:"account_id"`
	OccurredAt    time.Time    `gorm:"not null" json:"occurred_at"`
	AccountStatus string       `gorm:"type:text" json:"account_status"`
	UsageCounts   `json:"counts"`
	BatchID       snowflake.ID `gorm:"not null;index" json:"batch_id"`
	CreatedAt     time.Time    `gorm:"not null" json:"created_at"`
}

func (UsageEvent) TableName() string { return "usage_events" }

// MonthlyAggregate is the running total for one account in one calendar
// month, summed across every non-reversed batch. Keyed uniquely by
// (account_id, year, month).
type MonthlyAggregate struct {
	ID          snowflake.ID `gorm:"primaryKey" json:"id"`
	AccountID   string       `gorm:"type:text;not null;uniqueIndex:idx_monthly_aggregates_key,priority:1" json:"account_id"`
	Year        int          `gorm:"not null;uniqueIndex:idx_monthly_aggregates_key,priority:2" json:"year"`
	Month       int          `gorm:"not null;uniqueIndex:idx_monthly_aggregates_key,priority:3" json:"month"`
	UsageCounts `json:"counts"`
	CreatedAt   time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt   time.Time `gorm:"not null" json:"updated_at"`
}

func (MonthlyAggregate) TableName() string { return "monthly_aggregates" }

// AggregateKey identifies one monthly aggregate row.
type AggregateKey struct {
	AccountID string
	Year      int
	Month     int
}

// KeyFor derives the aggregate key an event contributes to.
func KeyFor(accountID string, occurredAt time.Time) AggregateKey {
	return AggregateKey{
		AccountID: accountID,
		Year:      occurredAt.Year(),
		Month:     int(occurredAt.Month()),
	}
}

// Batch status values. Transitions run processing -> completed|failed and
// never leave a terminal state.
const (
	BatchStatusProcessing = "processing"
	BatchStatusCompleted  = "completed"
	BatchStatusFailed     = "failed"
)

// RowError records one failed CSV row. Row is the 1-based index within the
// file, excluding the header.
type RowError struct {
	Row   int    `json:"row"`
	Error string `json:"error"`
}

// ImportBatch is the log entry for one CSV submission. Created in
// processing state before the row loop starts, mutated as progress flushes,
// finalized exactly once, and deleted only by reversal.
type ImportBatch struct {
	ID            snowflake.ID                  `gorm:"primaryKey" json:"id"`
	FileName      string                        `gorm:"type:text;not null" json:"file_name"`
	ImportedAt    time.Time                     `gorm:"not null;index" json:"imported_at"`
	Status        string                        `gorm:"type:text;not null" json:"status"`
	RowsProcessed int                           `gorm:"not null;default:0" json:"rows_processed"`
	RowsSuccess   int                           `gorm:"not null;default:0" json:"rows_success"`
	RowsFailed    int                           `gorm:"not null;default:0" json:"rows_failed"`
	TotalRows     int                           `gorm:"not null;default:0" json:"total_rows"`
	ErrorDetails  datatypes.JSONSlice[RowError] `json:"error_details"`
	CreatedAt     time.Time                     `gorm:"not null" json:"created_at"`
	UpdatedAt     time.Time                     `gorm:"not null" json:"updated_at"`
}

func (ImportBatch) TableName() string { return "import_batches" }
