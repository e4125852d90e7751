// Package scheduler runs report schedules on cron semantics and fans
// artifacts out to their delivery channels.
package scheduler

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// cronParser accepts the standard five-field syntax plus descriptors
// (@hourly, @daily, ...).
var cronParser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// ParseSpec compiles a cron expression in a timezone. An empty timezone
// means UTC.
func ParseSpec(expr, timezone string) (cron.Schedule, error) {
	loc := time.UTC
	if timezone != "" {
		var err error
		loc, err = time.LoadLocation(timezone)
		if err != nil {
			return nil, fmt.Errorf("unknown timezone %q: %w", timezone, err)
		}
	}

	sched, err := cronParser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	return tzSchedule{inner: sched, loc: loc}, nil
}

// NextFire computes the first fire time strictly after now.
func NextFire(expr, timezone string, now time.Time) (time.Time, error) {
	sched, err := ParseSpec(expr, timezone)
	if err != nil {
		return time.Time{}, err
	}
	return sched.Next(now), nil
}

// tzSchedule evaluates the wrapped schedule in a fixed location so "0 9 * * 1"
// means 09:00 in the schedule's timezone, not the server's.
type tzSchedule struct {
	inner cron.Schedule
	loc   *time.Location
}

func (s tzSchedule) Next(t time.Time) time.Time {
	return s.inner.Next(t.In(s.loc))
}
