package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
)

var timeParser = func() *when.Parser {
	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)
	return w
}()

// parseSince accepts an RFC 3339 time, a date, a Go duration meaning "that
// long ago" ("72h"), or natural language ("last monday", "2 weeks ago").
func parseSince(s string, now time.Time) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty time")
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	if t, err := time.ParseInLocation(time.DateOnly, s, now.Location()); err == nil {
		return t, nil
	}
	if d, err := time.ParseDuration(s); err == nil {
		return now.Add(-d), nil
	}
	r, err := timeParser.Parse(s, now)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse %q: %w", s, err)
	}
	if r == nil {
		return time.Time{}, fmt.Errorf("unrecognized time %q", s)
	}
	return r.Time, nil
}

// sinceFlag reads --since, returning nil when it is unset.
func sinceFlag(value string) *time.Time {
	if value == "" {
		return nil
	}
	t, err := parseSince(value, time.Now())
	if err != nil {
		FatalErrorWithHint(err.Error(), "use a date (2024-06-01), a duration (72h) or a phrase (last monday)")
	}
	return &t
}
