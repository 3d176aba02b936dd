package main

import (
	"time"

	"github.com/go-co-op/gocron"
)

// scheduler owns the daily blocklist refresh alarm (spec.md §4.6). It fires once a day at the
// configured AlarmHour and reloads every configured source, exactly mirroring the admin "Reload"
// command's effect.
type scheduler struct {
	gs *gocron.Scheduler
}

// newScheduler builds a scheduler bound to loc, so AlarmHour is interpreted in the configured
// timezone rather than the process's local time.
func newScheduler(loc *time.Location) *scheduler {
	return &scheduler{gs: gocron.NewScheduler(loc)}
}

// startDailyReload schedules reload to run once per day at hour:00, using gocron's Every(1).Day()
// combined with an explicit clock time so the next run is computed from a normalized time.Date
// rather than a fixed 86400-second addition. This fixes the DST-unsafe arithmetic flagged in
// spec.md §9: a fixed +86400s drifts by an hour across a DST transition, while gocron recomputes
// the next occurrence from wall-clock fields every time.
func (s *scheduler) startDailyReload(hour int, reload func()) error {
	timeStr := clockString(hour)
	_, err := s.gs.Every(1).Day().At(timeStr).Do(reload)
	if err != nil {
		return err
	}
	s.gs.StartAsync()
	return nil
}

// clockString renders hour as gocron's "HH:MM" time-of-day format.
func clockString(hour int) string {
	if hour < 0 {
		hour = 0
	}
	if hour > 23 {
		hour = 23
	}
	return time.Date(0, 1, 1, hour, 0, 0, 0, time.UTC).Format("15:04")
}

// stop halts the scheduler, used during graceful shutdown.
func (s *scheduler) stop() {
	s.gs.Stop()
}
