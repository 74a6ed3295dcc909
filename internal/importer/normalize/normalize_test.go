package normalize

import (
	"strings"
	"testing"
	"time"

	"github.com/smallbiznis/printmeter/internal/clock"
	"github.com/smallbiznis/printmeter/internal/importer/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeRejectsEmptyAccountID(t *testing.T) {
	n := New(clock.NewFakeClock(time.Now()))

	_, err := n.Normalize(Row{"account id": "   "}, nil)
	assert.ErrorIs(t, err, domain.ErrEmptyAccountID)

	_, err = n.Normalize(Row{}, nil)
	assert.ErrorIs(t, err, domain.ErrEmptyAccountID)
}

func TestNormalizeCleansNumericFields(t *testing.T) {
	n := New(clock.NewFakeClock(time.Now()))

	event, err := n.Normalize(Row{
		"account id":  "u-100",
		"print total": `"1234"`,
		"print color": " 12 ",
		"print mono":  "'7'",
		"copy total":  "not-a-number",
		"scan total":  "",
	}, nil)
	require.NoError(t, err)

	assert.Equal(t, int64(1234), event.PrintTotal)
	assert.Equal(t, int64(12), event.PrintColor)
	assert.Equal(t, int64(7), event.PrintMono)
	assert.Equal(t, int64(0), event.CopyTotal)
	assert.Equal(t, int64(0), event.ScanTotal)
}

func TestNormalizeOverrideDatePinsMidday(t *testing.T) {
	n := New(clock.NewFakeClock(time.Now()))

	override := time.Date(2024, 12, 5, 0, 0, 0, 0, time.UTC)
	event, err := n.Normalize(Row{
		"account id": "u-100",
		"timestamp":  "31/01/2020 08:00", // ignored when override is set
	}, &override)
	require.NoError(t, err)

	assert.Equal(t, time.Date(2024, 12, 5, 12, 0, 0, 0, time.UTC), event.OccurredAt)
}

func TestNormalizeRowTimestampFallsBackToNow(t *testing.T) {
	now := time.Date(2025, 3, 3, 10, 0, 0, 0, time.UTC)
	n := New(clock.NewFakeClock(now))

	event, err := n.Normalize(Row{
		"account id": "u-100",
		"timestamp":  "garbage",
	}, nil)
	require.NoError(t, err)

	assert.Equal(t, now, event.OccurredAt)
}

func TestNormalizeSpanishHeaders(t *testing.T) {
	n := New(clock.NewFakeClock(time.Now()))

	event, err := n.Normalize(Row{
		"cuenta":             "u-200",
		"estado":             "activo",
		"total de impresion": "42",
		"fecha":              "15/06/2024",
	}, nil)
	require.NoError(t, err)

	assert.Equal(t, "u-200", event.AccountID)
	assert.Equal(t, "activo", event.AccountStatus)
	assert.Equal(t, int64(42), event.PrintTotal)
	assert.Equal(t, time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC), event.OccurredAt)
}

func TestDecodeCSV(t *testing.T) {
	input := "\ufeff" + "Account ID;Account Status;Print Total;Timestamp\n" +
		"u-1;active;100;31/12/2024\n" +
		"u-2;active\n" + // ragged row: missing cells read as empty
		"u-3;inactive;50;15/11/2024\n"

	rows, err := DecodeCSV(strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, rows, 3)

	assert.Equal(t, "u-1", rows[0]["account id"])
	assert.Equal(t, "100", rows[0]["print total"])
	assert.Equal(t, "", rows[1]["print total"])
	assert.Equal(t, "inactive", rows[2]["account status"])
}

func TestDecodeCSVEmptyFile(t *testing.T) {
	_, err := DecodeCSV(strings.NewReader(""))
	assert.ErrorIs(t, err, domain.ErrEmptyFile)
}

func TestDecodeCSVHeaderOnly(t *testing.T) {
	rows, err := DecodeCSV(strings.NewReader("Account ID;Print Total\n"))
	require.NoError(t, err)
	assert.Empty(t, rows)
}
