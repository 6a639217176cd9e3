package scheduler

import (
	"fmt"
	"strings"

	"github.com/go-co-op/gocron/v2"
)

// CronSchedule runs a job on a standard 5-field cron expression:
// minute hour day-of-month month day-of-week.
// Examples:
//   - "*/5 * * * *"  every 5 minutes
//   - "0 3 * * *"    every day at 03:00
type CronSchedule struct {
	Expression string
}

// NewCronSchedule validates the field count and returns a CronSchedule.
// The expression itself is parsed by gocron on registration.
func NewCronSchedule(expr string) (*CronSchedule, error) {
	expr = strings.TrimSpace(expr)
	if len(strings.Fields(expr)) != 5 {
		return nil, fmt.Errorf("%w: %q needs 5 fields", ErrInvalidSchedule, expr)
	}
	return &CronSchedule{Expression: expr}, nil
}

func (s *CronSchedule) definition() gocron.JobDefinition {
	return gocron.CronJob(s.Expression, false)
}

// String returns the cron expression.
func (s *CronSchedule) String() string {
	return s.Expression
}
