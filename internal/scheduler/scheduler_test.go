package scheduler

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/haasonsaas/outie/internal/observability"
	"github.com/haasonsaas/outie/internal/storage"
	"github.com/haasonsaas/outie/pkg/models"
)

type recordingDispatcher struct {
	mu    sync.Mutex
	fired []*models.Reminder
}

func (d *recordingDispatcher) Dispatch(r *models.Reminder) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.fired = append(d.fired, r)
}

func (d *recordingDispatcher) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.fired)
}

func newFixture(t *testing.T, now time.Time) (*Scheduler, *storage.Store, *recordingDispatcher) {
	t.Helper()
	store, err := storage.Open(storage.Config{Path: ":memory:", Dimension: 4})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { store.Close() })

	dispatcher := &recordingDispatcher{}
	logger := observability.NewLogger(observability.LogConfig{Level: "error", Output: io.Discard})
	sched := New(store, dispatcher, logger, WithClock(func() time.Time { return now }))
	t.Cleanup(sched.Stop)
	return sched, store, dispatcher
}

func saveOneShot(t *testing.T, store *storage.Store, id string, at time.Time) {
	t.Helper()
	err := store.SaveReminder(context.Background(), &models.Reminder{
		ID: id, Description: "water", Payload: "drink water",
		ScheduledTime: at.UnixMilli(), CreatedAt: 1,
	})
	if err != nil {
		t.Fatalf("SaveReminder() error = %v", err)
	}
}

func TestRescheduleInstallsEarliestAlarm(t *testing.T) {
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	sched, store, _ := newFixture(t, now)
	ctx := context.Background()

	saveOneShot(t, store, "late", now.Add(10*time.Minute))
	saveOneShot(t, store, "soon", now.Add(2*time.Minute))

	if err := sched.Reschedule(ctx); err != nil {
		t.Fatalf("Reschedule() error = %v", err)
	}
	if got := sched.NextFire(); !got.Equal(now.Add(2 * time.Minute)) {
		t.Fatalf("NextFire() = %v, want %v", got, now.Add(2*time.Minute))
	}
}

func TestRescheduleTwiceIsNoOp(t *testing.T) {
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	sched, store, _ := newFixture(t, now)
	ctx := context.Background()

	saveOneShot(t, store, "r1", now.Add(5*time.Minute))

	if err := sched.Reschedule(ctx); err != nil {
		t.Fatalf("Reschedule() error = %v", err)
	}
	first := sched.NextFire()
	if err := sched.Reschedule(ctx); err != nil {
		t.Fatalf("second Reschedule() error = %v", err)
	}
	if !sched.NextFire().Equal(first) {
		t.Fatalf("second Reschedule changed the alarm: %v vs %v", sched.NextFire(), first)
	}
}

func TestRescheduleEmptySetClearsAlarm(t *testing.T) {
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	sched, _, _ := newFixture(t, now)
	ctx := context.Background()

	if err := sched.Reschedule(ctx); err != nil {
		t.Fatalf("Reschedule() error = %v", err)
	}
	if !sched.NextFire().IsZero() {
		t.Fatalf("expected no alarm for empty set, got %v", sched.NextFire())
	}
}

func TestOnAlarmFiresDueOneShotAndDeletesBeforeDispatch(t *testing.T) {
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	store, err := storage.Open(storage.Config{Path: ":memory:", Dimension: 4})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { store.Close() })
	ctx := context.Background()

	logger := observability.NewLogger(observability.LogConfig{Level: "error", Output: io.Discard})
	deletedBeforeDispatch := false
	dispatcher := DispatcherFunc(func(r *models.Reminder) {
		if _, err := store.GetReminder(ctx, r.ID); err == storage.ErrNotFound {
			deletedBeforeDispatch = true
		}
	})
	sched := New(store, dispatcher, logger, WithClock(func() time.Time { return now }))
	t.Cleanup(sched.Stop)

	saveOneShot(t, store, "due", now)

	sched.OnAlarm(ctx)

	if !deletedBeforeDispatch {
		t.Fatalf("one-shot must be deleted before dispatch")
	}
	reminders, err := store.ListReminders(ctx)
	if err != nil {
		t.Fatalf("ListReminders() error = %v", err)
	}
	if len(reminders) != 0 {
		t.Fatalf("expected reminder gone after firing, got %d", len(reminders))
	}
}

func TestOnAlarmDeletesMissedOneShotWithoutFiring(t *testing.T) {
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	sched, store, dispatcher := newFixture(t, now)
	ctx := context.Background()

	saveOneShot(t, store, "missed", now.Add(-10*time.Minute))

	sched.OnAlarm(ctx)

	if dispatcher.count() != 0 {
		t.Fatalf("missed reminder must not fire, fired %d", dispatcher.count())
	}
	reminders, err := store.ListReminders(ctx)
	if err != nil {
		t.Fatalf("ListReminders() error = %v", err)
	}
	if len(reminders) != 0 {
		t.Fatalf("expected missed reminder deleted, got %d", len(reminders))
	}
}

func TestOnAlarmLeavesFutureOneShotAlone(t *testing.T) {
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	sched, store, dispatcher := newFixture(t, now)
	ctx := context.Background()

	saveOneShot(t, store, "future", now.Add(30*time.Minute))

	sched.OnAlarm(ctx)

	if dispatcher.count() != 0 {
		t.Fatalf("future reminder must not fire")
	}
	reminders, _ := store.ListReminders(ctx)
	if len(reminders) != 1 {
		t.Fatalf("future reminder must survive the scan")
	}
}

func TestOnAlarmFiresRecurringOncePerSlot(t *testing.T) {
	now := time.Date(2026, 3, 10, 9, 0, 0, 500_000_000, time.UTC)
	sched, store, dispatcher := newFixture(t, now)
	ctx := context.Background()

	err := store.SaveReminder(ctx, &models.Reminder{
		ID: "daily", Description: "standup", Payload: "standup time",
		CronExpression: "0 9 * * *", CreatedAt: 1,
	})
	if err != nil {
		t.Fatalf("SaveReminder() error = %v", err)
	}

	sched.OnAlarm(ctx)
	if dispatcher.count() != 1 {
		t.Fatalf("expected 1 fire at the 09:00 slot, got %d", dispatcher.count())
	}

	// A second scan in the same window must not fire the same slot again.
	sched.OnAlarm(ctx)
	if dispatcher.count() != 1 {
		t.Fatalf("slot fired twice: %d dispatches", dispatcher.count())
	}

	// The recurring reminder survives.
	reminders, _ := store.ListReminders(ctx)
	if len(reminders) != 1 {
		t.Fatalf("recurring reminder must not be deleted")
	}
}
