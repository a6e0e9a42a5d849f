package normalize

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"
)

func TestCoerceBarTimeMS(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    int64
		wantErr bool
	}{
		{name: "epoch milliseconds", raw: `1727357550000`, want: 1727357550000},
		{name: "epoch seconds", raw: `1727357550`, want: 1727357550000},
		{name: "small number kept as ms", raw: `12345`, want: 12345},
		{name: "float seconds", raw: `1727357550.5`, want: 1727357550500},
		{name: "digit string ms", raw: `"1727357550000"`, want: 1727357550000},
		{name: "digit string seconds", raw: `"1727357550"`, want: 1727357550000},
		{name: "iso with Z", raw: `"2025-09-26T13:32:30Z"`, want: 1758893550000},
		{name: "iso with offset", raw: `"2025-09-26T13:32:30+02:00"`, want: 1758886350000},
		{name: "iso with space", raw: `"2025-09-26 13:32:30"`, want: 1758893550000},
		{name: "naive iso read as utc", raw: `"2025-09-26T13:32:30"`, want: 1758893550000},
		{name: "date only", raw: `"2025-09-26"`, want: 1758844800000},
		{name: "empty string", raw: `""`, wantErr: true},
		{name: "whitespace string", raw: `"   "`, wantErr: true},
		{name: "garbage string", raw: `"not-a-time"`, wantErr: true},
		{name: "null", raw: `null`, wantErr: true},
		{name: "boolean", raw: `true`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := CoerceBarTimeMS(json.RawMessage(tt.raw))
			if tt.wantErr {
				if err == nil {
					t.Fatalf("CoerceBarTimeMS(%s) expected error, got %d", tt.raw, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("CoerceBarTimeMS(%s) unexpected error: %v", tt.raw, err)
			}
			if got != tt.want {
				t.Errorf("CoerceBarTimeMS(%s) = %d, want %d", tt.raw, got, tt.want)
			}
		})
	}
}

func TestCoerceBarTimeIdempotent(t *testing.T) {
	inputs := []string{`1727357550000`, `1727357550`, `"2025-09-26T13:32:30Z"`, `12345`}
	for _, raw := range inputs {
		first, err := CoerceBarTimeMS(json.RawMessage(raw))
		if err != nil {
			t.Fatalf("first coercion of %s failed: %v", raw, err)
		}
		second, err := CoerceBarTimeMS(json.RawMessage(fmt.Sprintf("%d", first)))
		if err != nil {
			t.Fatalf("second coercion of %d failed: %v", first, err)
		}
		if first != second {
			t.Errorf("coercion of %s not idempotent: %d then %d", raw, first, second)
		}
	}
}

func TestBarTimeUTC(t *testing.T) {
	got := BarTimeUTC(1727357550000)
	want := time.Date(2024, 9, 26, 13, 32, 30, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("BarTimeUTC = %v, want %v", got, want)
	}
	if got.Location() != time.UTC {
		t.Errorf("BarTimeUTC location = %v, want UTC", got.Location())
	}
}
