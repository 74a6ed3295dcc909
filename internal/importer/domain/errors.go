package domain

import "errors"

var (
	ErrEmptyAccountID = errors.New("empty_account_id")
	ErrEmptyFile      = errors.New("empty_file")
	ErrMissingHeader  = errors.New("missing_header")
	ErrInvalidCSV     = errors.New("invalid_csv")
	ErrBatchNotFound  = errors.New("batch_not_found")
	ErrInvalidBatchID = errors.New("invalid_batch_id")
	ErrInvalidRange   = errors.New("invalid_date_range")
)
