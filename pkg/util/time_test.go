package util

import (
	"math"
	"testing"
	"time"
)

func TestParseSeconds(t *testing.T) {
	tests := []struct {
		in   string
		want float64
	}{
		{"45.5", 45.5},
		{"01:30", 90},
		{"01:00:02.250", 3602.25},
		{" 3 ", 3},
	}

	for _, tt := range tests {
		got, err := ParseSeconds(tt.in)
		if err != nil {
			t.Fatalf("ParseSeconds(%q): %v", tt.in, err)
		}
		if math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("ParseSeconds(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestParseSecondsInvalid(t *testing.T) {
	for _, in := range []string{"", "abc", "1:2:3:4", "-1"} {
		if _, err := ParseSeconds(in); err == nil {
			t.Errorf("expected error for %q", in)
		}
	}
}

func TestFormatSecondsRoundTrip(t *testing.T) {
	formatted := FormatSeconds(3725.5)
	if formatted != "01:02:05.500" {
		t.Fatalf("unexpected format %q", formatted)
	}

	d, err := ParseTimestamp(formatted)
	if err != nil {
		t.Fatalf("ParseTimestamp: %v", err)
	}
	if d != 3725500*time.Millisecond {
		t.Errorf("expected 3725.5s, got %v", d)
	}
}

func TestParseFrameRate(t *testing.T) {
	if got := ParseFrameRate("30000/1001"); math.Abs(got-29.97) > 0.01 {
		t.Errorf("expected ~29.97, got %v", got)
	}
	if got := ParseFrameRate("25/0"); got != 0 {
		t.Errorf("expected 0 for zero denominator, got %v", got)
	}
}
