package syncstatus

import (
	"errors"
	"testing"
	"time"

	"github.com/openscribe/syncd/internal/realtime"
)

// manualTimer captures scheduled banner callbacks so tests fire them
// explicitly instead of waiting.
type manualTimer struct {
	delay   time.Duration
	fn      func()
	stopped bool
}

type manualScheduler struct {
	timers []*manualTimer
}

func (s *manualScheduler) Start(d time.Duration, fn func()) StopTimer {
	timer := &manualTimer{delay: d, fn: fn}
	s.timers = append(s.timers, timer)
	return func() { timer.stopped = true }
}

func (s *manualScheduler) fire(t *testing.T, index int) {
	t.Helper()
	if index >= len(s.timers) {
		t.Fatalf("no timer %d scheduled (have %d)", index, len(s.timers))
	}
	timer := s.timers[index]
	if timer.stopped {
		t.Fatalf("timer %d was stopped", index)
	}
	timer.fn()
}

func newTestController(scheduler *manualScheduler, clock func() time.Time) *Controller {
	return NewController(Options{
		Clock:               clock,
		BannerReappearDelay: 30 * time.Second,
		StartTimer:          scheduler.Start,
	})
}

func TestControllerRecordsLastSyncedAtOnConnect(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	controller := newTestController(&manualScheduler{}, func() time.Time { return now })

	controller.SetSessionStatus(realtime.Status{State: realtime.StateConnected})
	if !controller.LastSyncedAt().Equal(now) {
		t.Fatalf("expected lastSyncedAt %v, got %v", now, controller.LastSyncedAt())
	}
	if controller.Status() != StatusSynced {
		t.Fatalf("expected synced, got %s", controller.Status())
	}
}

func TestControllerNetworkLossForcesOffline(t *testing.T) {
	controller := newTestController(&manualScheduler{}, time.Now)
	controller.SetSessionStatus(realtime.Status{State: realtime.StateConnected})

	controller.SetNetworkOnline(false)
	if controller.Status() != StatusOffline {
		t.Fatalf("network loss must force offline, got %s", controller.Status())
	}
	controller.SetNetworkOnline(true)
	if controller.Status() != StatusSynced {
		t.Fatalf("network recovery must restore transport state, got %s", controller.Status())
	}
}

func TestControllerErrorNotAbsorbedIntoOffline(t *testing.T) {
	controller := newTestController(&manualScheduler{}, time.Now)
	controller.SetError(errors.New("schema rejected"))
	controller.SetNetworkOnline(false)
	if controller.Status() != StatusError {
		t.Fatalf("error must override offline, got %s", controller.Status())
	}
	controller.ClearError()
	if controller.Status() != StatusOffline {
		t.Fatalf("cleared error should reveal offline, got %s", controller.Status())
	}
}

func TestControllerProgressClearedOnReconnect(t *testing.T) {
	controller := newTestController(&manualScheduler{}, time.Now)
	controller.SetSessionStatus(realtime.Status{State: realtime.StateConnected})
	controller.SetProgress(realtime.ReconnectProgress{SyncedUpdates: 1, TotalUpdates: 5})
	if controller.Status() != StatusSyncing {
		t.Fatalf("backlog in progress must be syncing, got %s", controller.Status())
	}
	// A fresh connected transition resets backlog tracking.
	controller.SetSessionStatus(realtime.Status{State: realtime.StateConnected})
	if controller.Status() != StatusSynced {
		t.Fatalf("expected synced after reconnect reset, got %s", controller.Status())
	}
}

func TestBannerDismissAndReappear(t *testing.T) {
	scheduler := &manualScheduler{}
	controller := newTestController(scheduler, time.Now)

	controller.SetSessionStatus(realtime.Status{State: realtime.StateOffline})
	if !controller.BannerVisible() {
		t.Fatalf("offline must show the banner")
	}

	controller.DismissBanner()
	if controller.BannerVisible() {
		t.Fatalf("dismissal must hide the banner")
	}
	if len(scheduler.timers) != 1 || scheduler.timers[0].delay != 30*time.Second {
		t.Fatalf("dismissal must schedule the reappear timer, got %+v", scheduler.timers)
	}

	// Still offline when the delay elapses: the banner comes back on its own.
	scheduler.fire(t, 0)
	if !controller.BannerVisible() {
		t.Fatalf("banner must reappear after the delay during a continued outage")
	}
}

func TestBannerHiddenOnceBackOnline(t *testing.T) {
	scheduler := &manualScheduler{}
	controller := newTestController(scheduler, time.Now)

	controller.SetSessionStatus(realtime.Status{State: realtime.StateOffline})
	controller.DismissBanner()
	controller.SetSessionStatus(realtime.Status{State: realtime.StateConnected})

	if controller.BannerVisible() {
		t.Fatalf("banner must not render while synced")
	}
	// Recovery cancels the reappear timer outright.
	if len(scheduler.timers) != 1 || !scheduler.timers[0].stopped {
		t.Fatalf("recovery must stop the pending reappear timer, got %+v", scheduler.timers)
	}
}

func TestBannerShowsImmediatelyOnFreshOutage(t *testing.T) {
	scheduler := &manualScheduler{}
	controller := newTestController(scheduler, time.Now)

	// Dismiss during a first outage, then recover well inside the 30s
	// reappear window.
	controller.SetSessionStatus(realtime.Status{State: realtime.StateOffline})
	controller.DismissBanner()
	controller.SetSessionStatus(realtime.Status{State: realtime.StateConnected})

	// A second outage is a new condition; the old dismissal must not
	// suppress its banner.
	controller.SetSessionStatus(realtime.Status{State: realtime.StateOffline})
	if !controller.BannerVisible() {
		t.Fatalf("a fresh outage must show the banner despite an earlier dismissal")
	}
}

func TestControllerObserverSnapshots(t *testing.T) {
	controller := newTestController(&manualScheduler{}, time.Now)
	var snapshots []Snapshot
	controller.Observe(func(s Snapshot) { snapshots = append(snapshots, s) })

	controller.SetSessionStatus(realtime.Status{State: realtime.StateConnected})
	controller.SetPending(2)
	controller.SetPending(0)

	if len(snapshots) != 3 {
		t.Fatalf("expected 3 notifications, got %d", len(snapshots))
	}
	if snapshots[0].Status != StatusSynced {
		t.Fatalf("expected synced first, got %s", snapshots[0].Status)
	}
	if snapshots[1].Status != StatusSyncing || snapshots[1].Pending != 2 {
		t.Fatalf("expected syncing with 2 pending, got %+v", snapshots[1])
	}
	if snapshots[2].Status != StatusSynced {
		t.Fatalf("expected synced after drain, got %+v", snapshots[2])
	}
}
