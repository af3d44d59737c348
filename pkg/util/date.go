package util

import (
    "strconv"
    "time"
)

// DayLayout is the wire format for calendar days.
const DayLayout = "2006-01-02"

// ParseTime tries RFC3339, RFC3339Nano, zone-less ISO timestamps, YYYY-MM-DD and unix seconds.
// Returns (t, true) if any worked. Zone-less values are taken as UTC.
func ParseTime(s string) (time.Time, bool) {
    if s == "" {
        return time.Time{}, false
    }
    if t, err := time.Parse(time.RFC3339, s); err == nil {
        return t, true
    }
    if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
        return t, true
    }
    for _, layout := range []string{"2006-01-02T15:04:05", "2006-01-02 15:04:05", DayLayout} {
        if t, err := time.Parse(layout, s); err == nil {
            return t, true
        }
    }
    if ts, err := strconv.ParseInt(s, 10, 64); err == nil && ts > 0 {
        if ts > 1e11 { // ms
            return time.UnixMilli(ts), true
        }
        return time.Unix(ts, 0), true
    }
    return time.Time{}, false
}

// ParseTimeDefault parses time or returns default if empty/invalid.
func ParseTimeDefault(s string, def time.Time) time.Time {
    if t, ok := ParseTime(s); ok {
        return t
    }
    return def
}

// DayUTC truncates t to midnight UTC of its UTC calendar day.
func DayUTC(t time.Time) time.Time {
    u := t.UTC()
    return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

// FormatDay renders t as YYYY-MM-DD in UTC.
func FormatDay(t time.Time) string {
    return t.UTC().Format(DayLayout)
}

// DaysBetween returns the whole number of UTC days from a to b.
func DaysBetween(a, b time.Time) int {
    return int(DayUTC(b).Sub(DayUTC(a)).Hours() / 24)
}
