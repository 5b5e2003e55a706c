package schedule

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// parser accepts 5 or 6 fields (leading seconds optional) and descriptors.
var parser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Parse parses a cron expression.
func Parse(expr string) (cron.Schedule, error) {
	s, err := parser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("schedule: invalid cron expression %q: %w", expr, err)
	}
	return s, nil
}

// Validate reports whether expr is a usable cron expression.
func Validate(expr string) error {
	_, err := Parse(expr)
	return err
}

// Next returns the first activation of expr after from, in from's location.
func Next(expr string, from time.Time) (time.Time, error) {
	s, err := Parse(expr)
	if err != nil {
		return time.Time{}, err
	}
	return s.Next(from), nil
}

// Every returns an expression that fires at fixed intervals.
// Intervals below one second are rounded up to one second by the ticker.
func Every(d time.Duration) string {
	return "@every " + d.String()
}

// Daily returns an expression that fires at hour:minute each day.
func Daily(hour, minute int) string {
	return fmt.Sprintf("%d %d * * *", minute, hour)
}

// Weekly returns an expression that fires at hour:minute on day each week.
func Weekly(day time.Weekday, hour, minute int) string {
	return fmt.Sprintf("%d %d * * %d", minute, hour, int(day))
}
