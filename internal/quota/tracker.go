// Package quota accounts per-platform API budgets and makes throttle
// decisions before any platform call is attempted.
package quota

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/streamwatch/crawler/internal/watch"
)

// Budget configures one platform's quota window.
type Budget struct {
	LimitUnits int
	Window     time.Duration
	// PacingRPS spaces admitted calls inside the window; <= 0 disables pacing.
	PacingRPS float64
}

// Tracker tracks windowed API usage per platform. Admission is a single
// check-and-increment under the platform's lock so concurrent monitors
// sharing a budget cannot over-admit.
type Tracker struct {
	mu        sync.Mutex
	platforms map[watch.Platform]*platformQuota
	clock     watch.Clock
}

type platformQuota struct {
	mu            sync.Mutex
	used          int
	limit         int
	window        time.Duration
	windowResetAt time.Time
	pacer         *rate.Limiter
}

// NewTracker builds a Tracker with the given per-platform budgets.
func NewTracker(clock watch.Clock, budgets map[watch.Platform]Budget) *Tracker {
	t := &Tracker{
		platforms: make(map[watch.Platform]*platformQuota, len(budgets)),
		clock:     clock,
	}
	now := clock.Now()
	for platform, b := range budgets {
		pq := &platformQuota{
			limit:         b.LimitUnits,
			window:        b.Window,
			windowResetAt: now.Add(b.Window),
		}
		if b.PacingRPS > 0 {
			pq.pacer = rate.NewLimiter(rate.Limit(b.PacingRPS), 1)
		}
		t.platforms[platform] = pq
	}
	return t
}

func (t *Tracker) platform(p watch.Platform) *platformQuota {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.platforms[p]
}

// TryAdmit reserves cost units for one API call. It returns true and charges
// the window atomically, or false when the call would exceed the limit and
// must be skipped for this cycle. An elapsed window resets before the check.
func (t *Tracker) TryAdmit(platform watch.Platform, cost int) bool {
	pq := t.platform(platform)
	if pq == nil {
		// Unbudgeted platforms are never throttled.
		return true
	}
	now := t.clock.Now()
	pq.mu.Lock()
	defer pq.mu.Unlock()
	pq.resetLocked(now)
	if pq.used+cost > pq.limit {
		return false
	}
	pq.used += cost
	return true
}

// Pace blocks until the platform's pacing limiter releases a slot. It is a
// no-op for platforms without pacing configured.
func (t *Tracker) Pace(ctx context.Context, platform watch.Platform) error {
	pq := t.platform(platform)
	if pq == nil || pq.pacer == nil {
		return nil
	}
	if err := pq.pacer.Wait(ctx); err != nil {
		return fmt.Errorf("quota pace wait: %w", err)
	}
	return nil
}

// CurrentUsage returns a point-in-time view of the platform's window.
func (t *Tracker) CurrentUsage(platform watch.Platform) watch.QuotaState {
	pq := t.platform(platform)
	if pq == nil {
		return watch.QuotaState{Platform: platform}
	}
	pq.mu.Lock()
	defer pq.mu.Unlock()
	return watch.QuotaState{
		Platform:      platform,
		UsedUnits:     pq.used,
		LimitUnits:    pq.limit,
		WindowResetAt: pq.windowResetAt,
	}
}

// ResetIfWindowElapsed starts a fresh window for the platform when the
// current one has passed. Called from the maintenance loop; TryAdmit also
// resets lazily so admission never depends on maintenance cadence.
func (t *Tracker) ResetIfWindowElapsed(platform watch.Platform) {
	pq := t.platform(platform)
	if pq == nil {
		return
	}
	now := t.clock.Now()
	pq.mu.Lock()
	defer pq.mu.Unlock()
	pq.resetLocked(now)
}

// Platforms lists the budgeted platforms.
func (t *Tracker) Platforms() []watch.Platform {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]watch.Platform, 0, len(t.platforms))
	for p := range t.platforms {
		out = append(out, p)
	}
	return out
}

func (pq *platformQuota) resetLocked(now time.Time) {
	if now.Before(pq.windowResetAt) {
		return
	}
	pq.used = 0
	pq.windowResetAt = now.Add(pq.window)
}
