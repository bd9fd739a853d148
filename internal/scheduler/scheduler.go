// Package scheduler maintains a single wall-clock alarm over the mixed set
// of cron and one-shot reminders. The scheduler holds no state of its own;
// all source state lives in the reminders table.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/haasonsaas/outie/internal/cron"
	"github.com/haasonsaas/outie/internal/observability"
	"github.com/haasonsaas/outie/internal/storage"
	"github.com/haasonsaas/outie/pkg/models"
)

const (
	// FireWindow is the tolerance within which a due reminder fires.
	FireWindow = time.Minute

	// MissWindow is how far past its scheduled time a one-shot reminder may
	// be before it is deleted without firing.
	MissWindow = time.Minute
)

// Dispatcher receives fired reminders as synthetic alarm triggers.
type Dispatcher interface {
	Dispatch(reminder *models.Reminder)
}

// DispatcherFunc adapts a function to a Dispatcher.
type DispatcherFunc func(reminder *models.Reminder)

// Dispatch calls the function.
func (f DispatcherFunc) Dispatch(reminder *models.Reminder) { f(reminder) }

// Scheduler installs one alarm at the earliest next fire time across all
// reminders and scans the set when it goes off.
type Scheduler struct {
	store      *storage.Store
	dispatcher Dispatcher
	logger     *observability.Logger
	metrics    *observability.Metrics
	clock      func() time.Time

	mu        sync.Mutex
	timer     *time.Timer
	nextFire  time.Time
	firedSlot map[string]time.Time
}

// Option customizes a Scheduler.
type Option func(*Scheduler)

// WithClock overrides the time source (for tests).
func WithClock(clock func() time.Time) Option {
	return func(s *Scheduler) { s.clock = clock }
}

// WithMetrics wires reminder outcome counters.
func WithMetrics(metrics *observability.Metrics) Option {
	return func(s *Scheduler) { s.metrics = metrics }
}

// New creates a scheduler over the store. Nothing is armed until the first
// Reschedule call.
func New(store *storage.Store, dispatcher Dispatcher, logger *observability.Logger, opts ...Option) *Scheduler {
	s := &Scheduler{
		store:      store,
		dispatcher: dispatcher,
		logger:     logger,
		clock:      time.Now,
		firedSlot:  make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Reschedule recomputes the earliest next fire time across all reminders and
// installs a single alarm there, replacing any prior alarm. An empty
// reminder set clears the alarm. Calling twice with no intervening mutation
// is a no-op.
func (s *Scheduler) Reschedule(ctx context.Context) error {
	reminders, err := s.store.ListReminders(ctx)
	if err != nil {
		return err
	}
	now := s.clock()

	var next time.Time
	for _, r := range reminders {
		t, err := s.nextFireTime(r, now)
		if err != nil {
			s.logger.Warn(ctx, "skipping reminder with invalid schedule", "id", r.ID, "error", err)
			continue
		}
		if next.IsZero() || t.Before(next) {
			next = t
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if next.IsZero() {
		if s.timer != nil {
			s.timer.Stop()
			s.timer = nil
		}
		s.nextFire = time.Time{}
		return nil
	}

	if s.timer != nil && next.Equal(s.nextFire) {
		return nil
	}
	if s.timer != nil {
		s.timer.Stop()
	}
	delay := next.Sub(now)
	if delay < 0 {
		delay = 0
	}
	s.nextFire = next
	s.timer = time.AfterFunc(delay, func() { s.OnAlarm(context.Background()) })
	s.logger.Debug(ctx, "alarm installed", "at", next, "in", delay)
	return nil
}

// OnAlarm scans the reminder set: one-shots more than MissWindow past due
// are deleted without firing; reminders due within FireWindow are
// dispatched, one-shots being deleted before dispatch so a retried scan
// cannot fire them twice. The scan ends with a Reschedule.
func (s *Scheduler) OnAlarm(ctx context.Context) {
	now := s.clock()
	reminders, err := s.store.ListReminders(ctx)
	if err != nil {
		s.logger.Error(ctx, "alarm scan failed to list reminders", "error", err)
		return
	}

	for _, r := range reminders {
		if !r.Recurring() {
			scheduled := time.UnixMilli(r.ScheduledTime)
			if scheduled.Before(now.Add(-MissWindow)) {
				if _, err := s.store.DeleteReminder(ctx, r.ID); err != nil {
					s.logger.Error(ctx, "failed to delete missed reminder", "id", r.ID, "error", err)
					continue
				}
				s.logger.Warn(ctx, "reminder missed its window", "id", r.ID, "scheduled", scheduled)
				s.countOutcome("missed")
				continue
			}
			if within(scheduled, now, FireWindow) {
				// Delete before dispatch so a retried scan is idempotent.
				if _, err := s.store.DeleteReminder(ctx, r.ID); err != nil {
					s.logger.Error(ctx, "failed to delete fired reminder", "id", r.ID, "error", err)
					continue
				}
				s.dispatcher.Dispatch(r)
				s.countOutcome("fired")
			}
			continue
		}

		// Evaluate from the trailing edge of the fire window so an alarm
		// landing at (or just after) the slot still sees it.
		slot, err := cron.Next(r.CronExpression, now.Add(-FireWindow))
		if err != nil {
			s.logger.Warn(ctx, "recurring reminder has invalid cron", "id", r.ID, "error", err)
			continue
		}
		if within(slot, now, FireWindow) && !s.alreadyFired(r.ID, slot) {
			s.markFired(r.ID, slot)
			s.dispatcher.Dispatch(r)
			s.countOutcome("fired")
		}
	}

	if err := s.Reschedule(ctx); err != nil {
		s.logger.Error(ctx, "reschedule after alarm failed", "error", err)
	}
}

// NextFire returns the currently installed alarm time (zero when none).
func (s *Scheduler) NextFire() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextFire
}

// Stop clears any installed alarm.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.nextFire = time.Time{}
}

// nextFireTime computes when a reminder next wants to fire. Past-due
// one-shots clamp to now so the alarm goes off immediately and the scan can
// fire or expire them.
func (s *Scheduler) nextFireTime(r *models.Reminder, now time.Time) (time.Time, error) {
	if !r.Recurring() {
		t := time.UnixMilli(r.ScheduledTime)
		if t.Before(now) {
			return now, nil
		}
		return t, nil
	}
	return cron.Next(r.CronExpression, now)
}

func (s *Scheduler) countOutcome(outcome string) {
	if s.metrics != nil {
		s.metrics.ReminderCounter.WithLabelValues(outcome).Inc()
	}
}

func (s *Scheduler) alreadyFired(id string, slot time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.firedSlot[id].Equal(slot)
}

func (s *Scheduler) markFired(id string, slot time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.firedSlot[id] = slot
}

func within(t, now time.Time, window time.Duration) bool {
	diff := t.Sub(now)
	if diff < 0 {
		diff = -diff
	}
	return diff <= window
}
