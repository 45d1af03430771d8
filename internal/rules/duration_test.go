package rules

import (
	"testing"
	"time"
)

func TestParseISO8601Duration(t *testing.T) {
	cases := []struct {
		in   string
		want time.Duration
	}{
		{"PT10M", 10 * time.Minute},
		{"PT30S", 30 * time.Second},
		{"PT5M30S", 5*time.Minute + 30*time.Second},
		{"PT0S", 0},
	}
	for _, c := range cases {
		got, err := parseISO8601Duration(c.in)
		if err != nil {
			t.Errorf("parseISO8601Duration(%q): %v", c.in, err)
			continue
		}
		if got != c.want {
			t.Errorf("parseISO8601Duration(%q) = %v, want %v", c.in, got, c.want)
		}
	}
}

func TestParseISO8601DurationInvalid(t *testing.T) {
	for _, in := range []string{"10M", "PTxM", "PT10M5"} {
		if _, err := parseISO8601Duration(in); err == nil {
			t.Errorf("expected error for %q", in)
		}
	}
}
