// This file implements the strategy pattern for contribution schedules.
// Each frequency has its own strategy that knows when the next debit falls.

package core

import (
	"fmt"
	"time"
)

// Scheduler computes contribution dates for one frequency.
type Scheduler interface {
	// Next returns the first contribution date strictly after last.
	Next(last time.Time) time.Time
}

type DailyScheduler struct{}

func (DailyScheduler) Next(last time.Time) time.Time {
	return truncateDay(last).AddDate(0, 0, 1)
}

type WeeklyScheduler struct{}

func (WeeklyScheduler) Next(last time.Time) time.Time {
	return truncateDay(last).AddDate(0, 0, 7)
}

// MonthlyScheduler keeps the day of month, clamping to the last day of shorter months.
type MonthlyScheduler struct{}

func (MonthlyScheduler) Next(last time.Time) time.Time {
	day := last.Day()
	first := time.Date(last.Year(), last.Month()+1, 1, 0, 0, 0, 0, last.Location())
	lastDayOfMonth := time.Date(first.Year(), first.Month()+1, 0, 0, 0, 0, 0, last.Location()).Day()
	if day > lastDayOfMonth {
		day = lastDayOfMonth
	}
	return time.Date(first.Year(), first.Month(), day, 0, 0, 0, 0, last.Location())
}

var schedulers = map[Frequency]Scheduler{
	Daily:   DailyScheduler{},
	Weekly:  WeeklyScheduler{},
	Monthly: MonthlyScheduler{},
}

// SchedulerFor returns the scheduler of a frequency.
func SchedulerFor(f Frequency) (Scheduler, error) {
	s, ok := schedulers[f]
	if !ok {
		return nil, fmt.Errorf("unknown frequency: %s", f)
	}
	return s, nil
}

// NextContribution returns the next scheduled debit after t, or the zero time
// when the goal is not active, has an unknown frequency, or the next date is past the deadline.
func (g Goal) NextContribution(t time.Time) time.Time {
	if g.Status != GoalActive {
		return time.Time{}
	}
	s, err := SchedulerFor(g.Frequency)
	if err != nil {
		return time.Time{}
	}
	next := s.Next(t)
	if !g.Deadline.IsZero() && next.After(g.Deadline.Time) {
		return time.Time{}
	}
	return next
}

// ContributionsUntil counts the scheduled debits after from up to and including the deadline.
func (g Goal) ContributionsUntil(from time.Time) int {
	s, err := SchedulerFor(g.Frequency)
	if err != nil || g.Deadline.IsZero() {
		return 0
	}
	n := 0
	for next := s.Next(from); !next.After(g.Deadline.Time); next = s.Next(next) {
		n++
	}
	return n
}

// OnTrack reports whether the scheduled contributions left before the deadline cover the remaining amount.
func (g Goal) OnTrack(now time.Time) bool {
	remaining := g.Remaining()
	if remaining.Cents == 0 {
		return true
	}
	projected := int64(g.ContributionsUntil(now)) * g.CombinedContribution().Cents
	return projected >= remaining.Cents
}

func truncateDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
