// Package cronexpr parses the classic 5-field cron form and computes the
// next matching instant, wrapping robfig/cron/v3's parser and Schedule the
// way gofire/internal/app.CronJobManager's calculateNextRun does, rather
// than re-deriving field-matching by hand.
package cronexpr

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// ParseError reports a malformed cron expression.
type ParseError struct {
	Expr   string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("cron: invalid expression %q: %s", e.Expr, e.Reason)
}

// Expr is a parsed cron expression.
type Expr struct {
	schedule cron.Schedule
}

// Parse parses a 5-field cron expression (minute hour dom month dow).
func Parse(expr string) (*Expr, error) {
	// robfig/cron's dow field only accepts 0-6, so a day-of-week item "7"
	// becomes "0" and a range "a-7" becomes "a-6,0" before parsing.
	normalized := expr
	if fields := strings.Fields(expr); len(fields) == 5 {
		items := strings.Split(fields[4], ",")
		for i, item := range items {
			if item == "7" {
				items[i] = "0"
			} else if strings.HasSuffix(item, "-7") {
				items[i] = strings.TrimSuffix(item, "-7") + "-6,0"
			}
		}
		fields[4] = strings.Join(items, ",")
		normalized = strings.Join(fields, " ")
	}
	schedule, err := parser.Parse(normalized)
	if err != nil {
		return nil, &ParseError{Expr: expr, Reason: err.Error()}
	}
	return &Expr{schedule: schedule}, nil
}

// NextAfter returns the smallest instant strictly greater than t, in UTC.
func (e *Expr) NextAfter(t time.Time) time.Time {
	return e.schedule.Next(t.UTC()).UTC()
}

// NextAfterExpr is a convenience wrapper: parse expr and compute NextAfter(t).
func NextAfterExpr(expr string, t time.Time) (time.Time, error) {
	e, err := Parse(expr)
	if err != nil {
		return time.Time{}, err
	}
	return e.NextAfter(t), nil
}
