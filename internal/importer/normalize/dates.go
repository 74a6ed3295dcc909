package normalize

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// middayHour pins override dates (and rows without a time-of-day) to the
// middle of the day, so a date-only value cannot flip into the neighboring
// month across timezone boundaries.
const middayHour = 12

// meridiemPattern matches a trailing locale AM/PM marker in its spaced or
// unspaced forms: "a.m.", "p. m.", "AM", "pm.".
var meridiemPattern = regexp.MustCompile(`(?i)([ap])\.?\s*m\.?\s*$`)

// parseFlexibleTime resolves the free-text timestamp column. The heuristic
// is intentionally permissive and preserved for compatibility with historical
// imports: a date whose integer segments do not parse degrades to now rather
// than failing the row.
//
// Ordering of `/`- or `-`-separated dates is decided by inspection: a first
// segment greater than 31, or a 4-character first segment of a `-`-separated
// date, means year-first; everything else is read day-first. This is
// locale-specific and fragile, but changing it would change historical
// import results.
func parseFlexibleTime(raw string, now time.Time) time.Time {
	cleaned := strings.Join(strings.Fields(strings.TrimSpace(raw)), " ")
	if cleaned == "" {
		return now
	}

	pm := false
	hasMeridiem := false
	if m := meridiemPattern.FindStringSubmatch(cleaned); m != nil {
		hasMeridiem = true
		pm = strings.EqualFold(m[1], "p")
		cleaned = strings.TrimSpace(cleaned[:len(cleaned)-len(m[0])])
	}

	parts := strings.SplitN(cleaned, " ", 2)
	dateToken := parts[0]
	timeToken := "12:00:00"
	if len(parts) == 2 && strings.TrimSpace(parts[1]) != "" {
		timeToken = strings.TrimSpace(parts[1])
	}

	day, month, year, ok := splitDateToken(dateToken)
	if !ok {
		return now
	}

	hour, minute, second := splitTimeToken(timeToken)
	if hasMeridiem {
		hour = to24Hour(hour, pm)
	}

	return time.Date(year, time.Month(month), day, hour, minute, second, 0, time.UTC)
}

func splitDateToken(token string) (day, month, year int, ok bool) {
	sep := ""
	switch {
	case strings.Contains(token, "/"):
		sep = "/"
	case strings.Contains(token, "-"):
		sep = "-"
	default:
		return 0, 0, 0, false
	}

	segs := strings.Split(token, sep)
	if len(segs) != 3 {
		return 0, 0, 0, false
	}

	first, err := strconv.Atoi(segs[0])
	if err != nil {
		return 0, 0, 0, false
	}

	yearFirst := first > 31 || (sep == "-" && len(segs[0]) == 4)

	var dayStr, monthStr, yearStr string
	if yearFirst {
		yearStr, monthStr, dayStr = segs[0], segs[1], segs[2]
	} else {
		dayStr, monthStr, yearStr = segs[0], segs[1], segs[2]
	}

	day, err = strconv.Atoi(dayStr)
	if err != nil {
		return 0, 0, 0, false
	}
	month, err = strconv.Atoi(monthStr)
	if err != nil {
		return 0, 0, 0, false
	}
	year, err = strconv.Atoi(yearStr)
	if err != nil {
		return 0, 0, 0, false
	}
	return day, month, year, true
}

func splitTimeToken(token string) (hour, minute, second int) {
	hour, minute, second = middayHour, 0, 0
	segs := strings.Split(token, ":")
	if len(segs) < 2 {
		return hour, minute, second
	}
	h, err := strconv.Atoi(strings.TrimSpace(segs[0]))
	if err != nil {
		return hour, minute, second
	}
	m, err := strconv.Atoi(strings.TrimSpace(segs[1]))
	if err != nil {
		return hour, minute, second
	}
	hour, minute = h, m
	if len(segs) >= 3 {
		if s, err := strconv.Atoi(strings.TrimSpace(segs[2])); err == nil {
			second = s
		}
	}
	return hour, minute, second
}

func to24Hour(hour int, pm bool) int {
	switch {
	case pm && hour < 12:
		return hour + 12
	case !pm && hour == 12:
		return 0
	default:
		return hour
	}
}
