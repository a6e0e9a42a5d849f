// Package normalize turns the loosely typed TradingView webhook payload into
// the typed values the rest of the pipeline consumes. It owns bar-time
// coercion, symbol canonicalization, quantity quantization and the single
// validation pass over the raw JSON body.
package normalize

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	msThreshold  = 1e11
	secThreshold = 1e9
)

// CoerceBarTimeMS converts a raw bar_time JSON value into epoch milliseconds.
// Accepted shapes: numeric epoch seconds or milliseconds, digit strings of
// either, and ISO-8601 strings. Values at or above 1e11 are already
// milliseconds, values at or above 1e9 are seconds, anything smaller is kept
// as milliseconds verbatim. ISO strings without a timezone are read as UTC.
func CoerceBarTimeMS(raw json.RawMessage) (int64, error) {
	if len(raw) == 0 {
		return 0, errors.New("bar_time missing")
	}

	var num json.Number
	if err := json.Unmarshal(raw, &num); err == nil {
		val, err := num.Float64()
		if err != nil {
			return 0, fmt.Errorf("invalid numeric bar_time: %s", num)
		}
		return coerceNumeric(val), nil
	}

	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0, fmt.Errorf("unsupported bar_time value: %s", string(raw))
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, errors.New("bar_time empty")
	}
	if isDigits(s) {
		var n json.Number = json.Number(s)
		val, err := n.Float64()
		if err != nil {
			return 0, fmt.Errorf("invalid numeric bar_time: %s", s)
		}
		return coerceNumeric(val), nil
	}

	t, err := parseISO(s)
	if err != nil {
		return 0, fmt.Errorf("invalid ISO bar_time: %s", s)
	}
	return t.UnixMilli(), nil
}

// BarTimeUTC derives the UTC instant from coerced epoch milliseconds.
func BarTimeUTC(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func coerceNumeric(val float64) int64 {
	switch {
	case val >= msThreshold:
		return int64(val)
	case val >= secThreshold:
		return int64(val * 1000)
	default:
		return int64(val)
	}
}

// parseISO accepts the TradingView spellings: trailing Z, explicit offsets,
// a space instead of T, naive timestamps (read as UTC) and bare dates.
func parseISO(s string) (time.Time, error) {
	iso := strings.ReplaceAll(strings.ReplaceAll(s, "Z", "+00:00"), " ", "T")
	layouts := []string{
		time.RFC3339Nano,
		"2006-01-02T15:04:05.999999999",
		"2006-01-02",
	}
	for _, layout := range layouts {
		if t, err := time.ParseInLocation(layout, iso, time.UTC); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable timestamp %q", s)
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return len(s) > 0
}
