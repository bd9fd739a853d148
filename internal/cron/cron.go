// Package cron evaluates 5-field cron expressions
// (minute hour day-of-month month day-of-week) against a reference time.
//
// The grammar is the standard one: `*`, integer literals, ranges, steps and
// lists, with day-of-week 0 = Sunday. Descriptors (@daily) and a seconds
// field are rejected. Anything the parser does not fully support fails
// loudly rather than being silently accepted.
package cron

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// ErrInvalid indicates a malformed cron expression.
var ErrInvalid = errors.New("invalid cron expression")

var parser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow,
)

// Parse validates a 5-field cron expression.
func Parse(expr string) (cron.Schedule, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, fmt.Errorf("%w: empty expression", ErrInvalid)
	}
	if fields := strings.Fields(expr); len(fields) != 5 {
		return nil, fmt.Errorf("%w: expected 5 fields (minute hour day-of-month month day-of-week), got %d", ErrInvalid, len(fields))
	}
	schedule, err := parser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return schedule, nil
}

// Next returns the first time strictly after now whose wall-clock
// decomposition satisfies the expression.
func Next(expr string, now time.Time) (time.Time, error) {
	schedule, err := Parse(expr)
	if err != nil {
		return time.Time{}, err
	}
	next := schedule.Next(now)
	if next.IsZero() {
		return time.Time{}, fmt.Errorf("%w: no future fire time", ErrInvalid)
	}
	return next, nil
}
