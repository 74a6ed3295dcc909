package normalize

import (
	"strconv"
	"strings"
	"time"

	"github.com/smallbiznis/printmeter/internal/clock"
	"github.com/smallbiznis/printmeter/internal/importer/domain"
)

// Normalizer converts one raw CSV row into a typed UsageEvent. The clock is
// the fallback time source for rows whose timestamp cannot be parsed.
type Normalizer struct {
	clock clock.Clock
}

func New(clk clock.Clock) *Normalizer {
	if clk == nil {
		clk = clock.System()
	}
	return &Normalizer{clock: clk}
}

// Normalize resolves the account, counters and event time for a row.
// A blank account id fails the row (the caller skips it and moves on);
// bad numeric cells default to zero and a bad timestamp degrades to now —
// neither is an error by policy.
func (n *Normalizer) Normalize(row Row, override *time.Time) (*domain.UsageEvent, error) {
	accountID := strings.TrimSpace(lookup(row, aliasAccountID))
	if accountID == "" {
		return nil, domain.ErrEmptyAccountID
	}

	event := &domain.UsageEvent{
		AccountID:     accountID,
		AccountStatus: strings.TrimSpace(lookup(row, aliasAccountStatus)),
		OccurredAt:    n.resolveTime(row, override),
		UsageCounts: domain.UsageCounts{
			PrintTotal: cleanNumber(lookup(row, aliasPrintTotal)),
			PrintColor: cleanNumber(lookup(row, aliasPrintColor)),
			PrintMono:  cleanNumber(lookup(row, aliasPrintMono)),
			CopyTotal:  cleanNumber(lookup(row, aliasCopyTotal)),
			CopyColor:  cleanNumber(lookup(row, aliasCopyColor)),
			CopyMono:   cleanNumber(lookup(row, aliasCopyMono)),
			ScanTotal:  cleanNumber(lookup(row, aliasScanTotal)),
			FaxTotal:   cleanNumber(lookup(row, aliasFaxTotal)),
		},
	}
	return event, nil
}

// resolveTime applies the priority order: a caller-supplied calendar date
// pins the whole batch to that day at midday; otherwise the row's own
// free-text timestamp is parsed tolerantly.
func (n *Normalizer) resolveTime(row Row, override *time.Time) time.Time {
	if override != nil {
		return time.Date(
			override.Year(), override.Month(), override.Day(),
			middayHour, 0, 0, 0, time.UTC,
		)
	}
	return parseFlexibleTime(lookup(row, aliasTimestamp), n.clock.Now())
}

// cleanNumber strips quote characters and whitespace and parses the rest.
// Empty or unparseable values count as zero; defaulting instead of erroring
// is the documented policy for these exports.
func cleanNumber(raw string) int64 {
	cleaned := strings.TrimSpace(raw)
	cleaned = strings.ReplaceAll(cleaned, `"`, "")
	cleaned = strings.ReplaceAll(cleaned, "'", "")
	cleaned = strings.Join(strings.Fields(cleaned), "")
	if cleaned == "" {
		return 0
	}
	value, err := strconv.ParseInt(cleaned, 10, 64)
	if err != nil {
		return 0
	}
	return value
}
