package rules

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// parseISO8601Duration parses the minimal "PTxxMxxS" subset of ISO-8601
// durations used by sensor conditions' `for` field: an optional minutes
// component and an optional seconds component, both integers.
func parseISO8601Duration(s string) (time.Duration, error) {
	if !strings.HasPrefix(s, "PT") {
		return 0, fmt.Errorf("rules: duration %q must start with PT", s)
	}
	rest := s[2:]

	var minutes, seconds int
	var err error

	if idx := strings.IndexByte(rest, 'M'); idx >= 0 {
		minutes, err = strconv.Atoi(rest[:idx])
		if err != nil {
			return 0, fmt.Errorf("rules: invalid minutes in duration %q: %w", s, err)
		}
		rest = rest[idx+1:]
	}
	if idx := strings.IndexByte(rest, 'S'); idx >= 0 {
		seconds, err = strconv.Atoi(rest[:idx])
		if err != nil {
			return 0, fmt.Errorf("rules: invalid seconds in duration %q: %w", s, err)
		}
		rest = rest[idx+1:]
	}
	if rest != "" {
		return 0, fmt.Errorf("rules: trailing content in duration %q", s)
	}

	return time.Duration(minutes)*time.Minute + time.Duration(seconds)*time.Second, nil
}
