package normalize

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestParseFlexibleTime(t *testing.T) {
	now := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		raw  string
		want time.Time
	}{
		{
			name: "day first with spaced meridiem",
			raw:  "31/12/2024 10:30 p.m.",
			want: time.Date(2024, 12, 31, 22, 30, 0, 0, time.UTC),
		},
		{
			name: "day first morning meridiem",
			raw:  "01/02/2024 09:15 a.m.",
			want: time.Date(2024, 2, 1, 9, 15, 0, 0, time.UTC),
		},
		{
			name: "unspaced meridiem",
			raw:  "15/07/2024 11:45PM",
			want: time.Date(2024, 7, 15, 23, 45, 0, 0, time.UTC),
		},
		{
			name: "midnight is twelve am",
			raw:  "15/07/2024 12:00 a.m.",
			want: time.Date(2024, 7, 15, 0, 0, 0, 0, time.UTC),
		},
		{
			name: "noon is twelve pm",
			raw:  "15/07/2024 12:00 p.m.",
			want: time.Date(2024, 7, 15, 12, 0, 0, 0, time.UTC),
		},
		{
			name: "date only defaults to midday",
			raw:  "31/12/2024",
			want: time.Date(2024, 12, 31, 12, 0, 0, 0, time.UTC),
		},
		{
			name: "four digit first dash segment is year first",
			raw:  "2024-12-31 08:15:30",
			want: time.Date(2024, 12, 31, 8, 15, 30, 0, time.UTC),
		},
		{
			name: "dash separated day first",
			raw:  "31-12-2024 08:15",
			want: time.Date(2024, 12, 31, 8, 15, 0, 0, time.UTC),
		},
		{
			name: "slash first segment above thirty one is year first",
			raw:  "2024/03/05",
			want: time.Date(2024, 3, 5, 12, 0, 0, 0, time.UTC),
		},
		{
			name: "ambiguous small segments read day first",
			raw:  "05/03/2025",
			want: time.Date(2025, 3, 5, 12, 0, 0, 0, time.UTC),
		},
		{
			name: "collapsed whitespace",
			raw:  "  31/12/2024    10:30   p.m. ",
			want: time.Date(2024, 12, 31, 22, 30, 0, 0, time.UTC),
		},
		{
			name: "empty degrades to now",
			raw:  "",
			want: now,
		},
		{
			name: "no separator degrades to now",
			raw:  "yesterday evening",
			want: now,
		},
		{
			name: "non numeric day degrades to now",
			raw:  "xx/12/2024",
			want: now,
		},
		{
			name: "non numeric year degrades to now",
			raw:  "31/12/20x4",
			want: now,
		},
		{
			name: "unparseable time falls back to midday",
			raw:  "31/12/2024 broken",
			want: time.Date(2024, 12, 31, 12, 0, 0, 0, time.UTC),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := parseFlexibleTime(tt.raw, now)
			assert.Equal(t, tt.want, got)
		})
	}
}
