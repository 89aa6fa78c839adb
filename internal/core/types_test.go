package core

import (
	"encoding/json"
	"testing"
	"time"
)

func TestLocalDateTimeDiscardsOffset(t *testing.T) {
	// A zoned value on input keeps its wall-clock reading, not its instant.
	var l LocalDateTime
	if err := json.Unmarshal([]byte(`"2026-03-10T10:07:00+05:00"`), &l); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if l.Hour() != 10 || l.Minute() != 7 {
		t.Errorf("wall clock = %02d:%02d, want 10:07", l.Hour(), l.Minute())
	}

	out, err := json.Marshal(l)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if string(out) != `"2026-03-10T10:07:00"` {
		t.Errorf("Marshal = %s, want %q", out, "2026-03-10T10:07:00")
	}
}

func TestLocalDateTimeRejectsGarbage(t *testing.T) {
	var l LocalDateTime
	if err := json.Unmarshal([]byte(`"yesterday"`), &l); err == nil {
		t.Error("expected an error for a non-datetime value")
	}
}

func TestParsePrecision(t *testing.T) {
	tests := []struct {
		input   string
		want    Precision
		wantErr bool
	}{
		{"minute", PrecisionMinute, false},
		{"Minutes", PrecisionMinute, false},
		{"second", PrecisionSecond, false},
		{" seconds ", PrecisionSecond, false},
		{"hour", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		got, err := ParsePrecision(tt.input)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParsePrecision(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParsePrecision(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestWeekdayMatches(t *testing.T) {
	if !Monday.matches(time.Monday) {
		t.Error("MONDAY should match time.Monday")
	}
	if Monday.matches(time.Sunday) {
		t.Error("MONDAY should not match time.Sunday")
	}
	if !Weekday("friday").matches(time.Friday) {
		t.Error("weekday comparison should be case-insensitive")
	}
}
