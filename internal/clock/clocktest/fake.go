// Package clocktest provides a manually advanced clock for tests.
package clocktest

import (
	"sort"
	"sync"
	"time"

	"github.com/projectm/lms-session/internal/clock"
)

// Fake is a clock.Clock whose time only moves when Advance or Set is called.
// Due callbacks run synchronously on the goroutine that advances the clock,
// in deadline order.
type Fake struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
	seq    int
}

type fakeTimer struct {
	clock    *Fake
	deadline time.Time
	seq      int
	fn       func()
	stopped  bool
	fired    bool
}

// NewFake creates a Fake clock starting at start.
func NewFake(start time.Time) *Fake {
	return &Fake{now: start}
}

// Now returns the fake current time.
func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// AfterFunc schedules fn to run when the fake time reaches now+d.
func (f *Fake) AfterFunc(d time.Duration, fn func()) clock.Timer {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.seq++
	t := &fakeTimer{
		clock:    f,
		deadline: f.now.Add(d),
		seq:      f.seq,
		fn:       fn,
	}
	f.timers = append(f.timers, t)
	return t
}

// Advance moves the clock forward by d, firing every timer that becomes due.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	target := f.now.Add(d)
	f.mu.Unlock()
	f.Set(target)
}

// Set moves the clock to t, firing every timer with a deadline at or before t.
// Callbacks may schedule new timers; those also fire if they fall due.
func (f *Fake) Set(t time.Time) {
	for {
		f.mu.Lock()
		next := f.nextDue(t)
		if next == nil {
			if t.After(f.now) {
				f.now = t
			}
			f.mu.Unlock()
			return
		}
		if next.deadline.After(f.now) {
			f.now = next.deadline
		}
		next.fired = true
		f.remove(next)
		f.mu.Unlock()

		next.fn()
	}
}

// Jump moves the clock forward by d without firing any timer, as if the
// process had been suspended. Pending timers fire on the next Advance or Set.
func (f *Fake) Jump(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

// Pending returns the number of timers that are scheduled and not stopped.
func (f *Fake) Pending() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.timers)
}

// nextDue returns the earliest timer due at or before t. Caller holds f.mu.
func (f *Fake) nextDue(t time.Time) *fakeTimer {
	due := make([]*fakeTimer, 0, len(f.timers))
	for _, tm := range f.timers {
		if !tm.deadline.After(t) {
			due = append(due, tm)
		}
	}
	if len(due) == 0 {
		return nil
	}
	sort.Slice(due, func(i, j int) bool {
		if due[i].deadline.Equal(due[j].deadline) {
			return due[i].seq < due[j].seq
		}
		return due[i].deadline.Before(due[j].deadline)
	})
	return due[0]
}

// remove drops tm from the pending list. Caller holds f.mu.
func (f *Fake) remove(tm *fakeTimer) {
	for i, other := range f.timers {
		if other == tm {
			f.timers = append(f.timers[:i], f.timers[i+1:]...)
			return
		}
	}
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()

	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	t.clock.remove(t)
	return true
}

var _ clock.Clock = (*Fake)(nil)
