package util

import (
    "strconv"
    "testing"
    "time"
)

func TestParseTimeRFC3339(t *testing.T) {
    s := "2024-10-10T10:10:10Z"
    got, ok := ParseTime(s)
    if !ok {
        t.Fatalf("expected ok")
    }
    if got.UTC().Format(time.RFC3339) != s {
        t.Fatalf("unexpected time %v", got)
    }
}

func TestParseTimeDay(t *testing.T) {
    got, ok := ParseTime("2024-10-10")
    if !ok {
        t.Fatalf("expected ok")
    }
    if !got.Equal(time.Date(2024, 10, 10, 0, 0, 0, 0, time.UTC)) {
        t.Fatalf("unexpected day %v", got)
    }
}

func TestParseTimeUnix(t *testing.T) {
    ts := time.Date(2024, 10, 10, 10, 10, 10, 0, time.UTC).Unix()
    got, ok := ParseTime(strconv.FormatInt(ts, 10))
    if !ok {
        t.Fatalf("expected ok")
    }
    if got.Unix() != ts {
        t.Fatalf("unexpected unix %v", got.Unix())
    }
}

func TestParseTimeUnixMillis(t *testing.T) {
    ts := time.Date(2024, 10, 10, 10, 10, 10, 0, time.UTC)
    got, ok := ParseTime(strconv.FormatInt(ts.UnixMilli(), 10))
    if !ok {
        t.Fatalf("expected ok")
    }
    if !got.Equal(ts) {
        t.Fatalf("unexpected time %v", got)
    }
}

func TestParseTimeDefault(t *testing.T) {
    def := time.Date(2024, 10, 10, 10, 10, 10, 0, time.UTC)
    got := ParseTimeDefault("", def)
    if !got.Equal(def) {
        t.Fatalf("expected default")
    }
}

func TestDayUTC(t *testing.T) {
    loc := time.FixedZone("UTC+7", 7*3600)
    in := time.Date(2024, 10, 11, 3, 0, 0, 0, loc) // 2024-10-10T20:00Z
    got := DayUTC(in)
    if !got.Equal(time.Date(2024, 10, 10, 0, 0, 0, 0, time.UTC)) {
        t.Fatalf("unexpected day %v", got)
    }
    if FormatDay(in) != "2024-10-10" {
        t.Fatalf("unexpected format %s", FormatDay(in))
    }
}

func TestDaysBetween(t *testing.T) {
    a := time.Date(2024, 10, 1, 23, 0, 0, 0, time.UTC)
    b := time.Date(2024, 10, 4, 1, 0, 0, 0, time.UTC)
    if got := DaysBetween(a, b); got != 3 {
        t.Fatalf("expected 3, got %d", got)
    }
}

func TestParseTimeZoneless(t *testing.T) {
    for _, s := range []string{"2024-10-10T00:00:00", "2024-10-10 00:00:00"} {
        got, ok := ParseTime(s)
        if !ok {
            t.Fatalf("expected ok for %q", s)
        }
        if !got.Equal(time.Date(2024, 10, 10, 0, 0, 0, 0, time.UTC)) {
            t.Fatalf("unexpected time %v for %q", got, s)
        }
    }
}
