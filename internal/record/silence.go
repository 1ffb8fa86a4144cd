package record

import (
	"sync"
	"time"
)

// DefaultIdleWindow is how long the transcript may stay unchanged before an
// armed [AutoSubmitTimer] fires.
const DefaultIdleWindow = 10 * time.Second

// AutoSubmitTimer watches transcript activity and fires once after a full
// idle window with no Reset. It backs the silence-triggered stop-and-submit
// behaviour of the recording session.
//
// Guarantees: at most one fire per armed period; any Reset postpones firing
// by the full window; Cancel prevents a pending fire even if the underlying
// timer already expired. Safe for concurrent use.
type AutoSubmitTimer struct {
	idle time.Duration

	mu    sync.Mutex
	gen   uint64
	timer *time.Timer
	fire  func()
}

// NewAutoSubmitTimer creates a timer with the given idle window. A
// non-positive window falls back to [DefaultIdleWindow].
func NewAutoSubmitTimer(idle time.Duration) *AutoSubmitTimer {
	if idle <= 0 {
		idle = DefaultIdleWindow
	}
	return &AutoSubmitTimer{idle: idle}
}

// Arm starts a fresh armed period that will invoke fire after the idle
// window. Re-arming after a fire starts a new period; arming while armed
// replaces the previous period.
func (t *AutoSubmitTimer) Arm(fire func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.gen++
	t.fire = fire
	t.schedule(t.gen)
}

// Reset postpones the pending fire by the full idle window. It is a no-op
// when the timer is not armed (already fired or cancelled).
func (t *AutoSubmitTimer) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.timer == nil {
		return
	}
	t.gen++
	t.schedule(t.gen)
}

// Cancel disarms the timer. Any expiry already in flight is discarded.
func (t *AutoSubmitTimer) Cancel() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.gen++
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	t.fire = nil
}

// schedule (re)starts the underlying timer for generation g. Caller holds mu.
func (t *AutoSubmitTimer) schedule(g uint64) {
	if t.timer != nil {
		t.timer.Stop()
	}
	t.timer = time.AfterFunc(t.idle, func() { t.expire(g) })
}

// expire runs the fire callback if generation g is still current. A stale
// generation means the period was reset or cancelled after this expiry was
// scheduled.
func (t *AutoSubmitTimer) expire(g uint64) {
	t.mu.Lock()
	if g != t.gen || t.timer == nil {
		t.mu.Unlock()
		return
	}
	fire := t.fire
	t.timer = nil
	t.fire = nil
	t.mu.Unlock()

	if fire != nil {
		fire()
	}
}
