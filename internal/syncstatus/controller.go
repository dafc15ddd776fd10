package syncstatus

import (
	"sync"
	"time"

	"github.com/openscribe/syncd/internal/realtime"
)

// DefaultBannerReappearDelay is how long a dismissed offline banner stays
// hidden before it comes back if the outage persists.
const DefaultBannerReappearDelay = 30 * time.Second

// Snapshot is the state delivered to observers on every change.
type Snapshot struct {
	Status        DerivedStatus
	Pending       int
	LastSyncedAt  time.Time
	BannerVisible bool
}

// StopTimer cancels a scheduled banner-reappear callback.
type StopTimer func()

type Options struct {
	Clock               func() time.Time
	BannerReappearDelay time.Duration
	// StartTimer schedules fn after d; the default uses time.AfterFunc.
	// Injectable so banner reappearance is testable without real waits.
	StartTimer func(d time.Duration, fn func()) StopTimer
}

// Controller owns the derived sync status for one client. Inputs arrive from
// the realtime session, the local pending-edit counter, and the OS network
// signal; observers get one consistent snapshot per change, delivered one at
// a time in arrival order.
type Controller struct {
	clock       func() time.Time
	bannerDelay time.Duration
	startTimer  func(d time.Duration, fn func()) StopTimer

	mu              sync.Mutex
	raw             realtime.SessionState
	pending         int
	progress        *realtime.ReconnectProgress
	lastErr         error
	networkOnline   bool
	lastSyncedAt    time.Time
	bannerDismissed bool
	stopBannerTimer StopTimer
	observers       []func(Snapshot)

	emitMu sync.Mutex
}

func NewController(opts Options) *Controller {
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	delay := opts.BannerReappearDelay
	if delay <= 0 {
		delay = DefaultBannerReappearDelay
	}
	startTimer := opts.StartTimer
	if startTimer == nil {
		startTimer = func(d time.Duration, fn func()) StopTimer {
			timer := time.AfterFunc(d, fn)
			return func() { timer.Stop() }
		}
	}
	return &Controller{
		clock:         clock,
		bannerDelay:   delay,
		startTimer:    startTimer,
		raw:           realtime.StateOffline,
		networkOnline: true,
	}
}

// Observe registers an observer. Delivery is serialized: a notification is
// processed to completion before the next is admitted.
func (c *Controller) Observe(fn func(Snapshot)) {
	c.mu.Lock()
	c.observers = append(c.observers, fn)
	c.mu.Unlock()
}

// SetSessionStatus feeds a raw transport transition. Reaching connected
// records lastSyncedAt.
func (c *Controller) SetSessionStatus(status realtime.Status) {
	c.mu.Lock()
	c.raw = status.State
	if status.State == realtime.StateConnected {
		c.lastSyncedAt = c.clock()
		c.progress = nil
	}
	c.notifyLocked()
}

// SetPending feeds the local pending-edit count.
func (c *Controller) SetPending(count int) {
	c.mu.Lock()
	c.pending = count
	c.notifyLocked()
}

// SetProgress feeds reconnect-backlog progress from the session.
func (c *Controller) SetProgress(progress realtime.ReconnectProgress) {
	c.mu.Lock()
	p := progress
	c.progress = &p
	c.notifyLocked()
}

// SetError records a sync error; ClearError removes it. Errors are never
// silently absorbed into offline.
func (c *Controller) SetError(err error) {
	c.mu.Lock()
	c.lastErr = err
	c.notifyLocked()
}

func (c *Controller) ClearError() {
	c.mu.Lock()
	c.lastErr = nil
	c.notifyLocked()
}

// SetNetworkOnline feeds the OS/browser connectivity signal. Network loss
// forces offline regardless of what the transport believes.
func (c *Controller) SetNetworkOnline(online bool) {
	c.mu.Lock()
	c.networkOnline = online
	c.notifyLocked()
}

// Status computes the current derived status.
func (c *Controller) Status() DerivedStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.statusLocked()
}

func (c *Controller) statusLocked() DerivedStatus {
	raw := c.raw
	if !c.networkOnline {
		raw = realtime.StateOffline
	}
	return Derive(raw, c.pending, c.progress, c.lastErr)
}

// LastSyncedAt reports when the transport last reached connected.
func (c *Controller) LastSyncedAt() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastSyncedAt
}

// BannerVisible reports whether the offline/error banner should render.
func (c *Controller) BannerVisible() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.bannerVisibleLocked()
}

func (c *Controller) bannerVisibleLocked() bool {
	status := c.statusLocked()
	if status != StatusOffline && status != StatusError {
		return false
	}
	return !c.bannerDismissed
}

// DismissBanner hides the banner. Dismissal is not sticky: if the condition
// still holds after the reappear delay, the banner comes back on its own.
func (c *Controller) DismissBanner() {
	c.mu.Lock()
	if c.bannerDismissed {
		c.mu.Unlock()
		return
	}
	c.bannerDismissed = true
	if c.stopBannerTimer != nil {
		c.stopBannerTimer()
	}
	c.stopBannerTimer = c.startTimer(c.bannerDelay, c.reappearBanner)
	c.notifyLocked()
}

func (c *Controller) reappearBanner() {
	c.mu.Lock()
	c.bannerDismissed = false
	c.stopBannerTimer = nil
	c.notifyLocked()
}

// notifyLocked releases the state mutex and delivers a snapshot to every
// observer under the delivery mutex, so notifications never interleave.
func (c *Controller) notifyLocked() {
	// Dismissal only covers the outage it was made during. Once the status
	// recovers, forget it, so the next outage shows the banner immediately.
	if status := c.statusLocked(); status != StatusOffline && status != StatusError {
		c.bannerDismissed = false
		if c.stopBannerTimer != nil {
			c.stopBannerTimer()
			c.stopBannerTimer = nil
		}
	}
	snapshot := Snapshot{
		Status:        c.statusLocked(),
		Pending:       c.pending,
		LastSyncedAt:  c.lastSyncedAt,
		BannerVisible: c.bannerVisibleLocked(),
	}
	observers := append(([]func(Snapshot))(nil), c.observers...)
	c.mu.Unlock()

	c.emitMu.Lock()
	defer c.emitMu.Unlock()
	for _, fn := range observers {
		fn(snapshot)
	}
}
