package clocktest

import (
	"testing"
	"time"
)

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func TestFake_AdvanceFiresDueTimersInOrder(t *testing.T) {
	c := NewFake(epoch)
	var order []int

	c.AfterFunc(3*time.Second, func() { order = append(order, 3) })
	c.AfterFunc(1*time.Second, func() { order = append(order, 1) })
	c.AfterFunc(2*time.Second, func() { order = append(order, 2) })
	c.AfterFunc(10*time.Second, func() { order = append(order, 10) })

	c.Advance(5 * time.Second)

	if len(order) != 3 || order[0] != 1 || order[1] != 2 || order[2] != 3 {
		t.Errorf("fire order = %v, want [1 2 3]", order)
	}
	if got := c.Pending(); got != 1 {
		t.Errorf("Pending() = %d, want 1", got)
	}
	if got := c.Now(); !got.Equal(epoch.Add(5 * time.Second)) {
		t.Errorf("Now() = %v, want %v", got, epoch.Add(5*time.Second))
	}
}

func TestFake_CallbackSeesDeadlineAsNow(t *testing.T) {
	c := NewFake(epoch)
	var seen time.Time
	c.AfterFunc(2*time.Second, func() { seen = c.Now() })

	c.Advance(time.Minute)

	if !seen.Equal(epoch.Add(2 * time.Second)) {
		t.Errorf("Now() inside callback = %v, want %v", seen, epoch.Add(2*time.Second))
	}
}

func TestFake_StopPreventsFiring(t *testing.T) {
	c := NewFake(epoch)
	fired := false
	tm := c.AfterFunc(time.Second, func() { fired = true })

	if !tm.Stop() {
		t.Error("Stop() = false on pending timer, want true")
	}
	if tm.Stop() {
		t.Error("second Stop() = true, want false")
	}
	c.Advance(time.Hour)
	if fired {
		t.Error("stopped timer fired")
	}
}

func TestFake_RescheduleFromCallback(t *testing.T) {
	c := NewFake(epoch)
	count := 0
	var tick func()
	tick = func() {
		count++
		c.AfterFunc(time.Second, tick)
	}
	c.AfterFunc(time.Second, tick)

	c.Advance(3500 * time.Millisecond)

	if count != 3 {
		t.Errorf("count = %d, want 3", count)
	}
	if got := c.Pending(); got != 1 {
		t.Errorf("Pending() = %d, want 1", got)
	}
}

func TestFake_SetBackwardsDoesNotRewind(t *testing.T) {
	c := NewFake(epoch)
	c.Set(epoch.Add(-time.Hour))
	if !c.Now().Equal(epoch) {
		t.Errorf("Now() = %v, want %v", c.Now(), epoch)
	}
}

func TestFake_JumpDefersTimers(t *testing.T) {
	c := NewFake(epoch)
	fired := false
	c.AfterFunc(time.Second, func() { fired = true })

	c.Jump(time.Minute)
	if fired {
		t.Fatal("timer fired during Jump")
	}
	if !c.Now().Equal(epoch.Add(time.Minute)) {
		t.Errorf("Now() = %v, want %v", c.Now(), epoch.Add(time.Minute))
	}

	c.Advance(0)
	if !fired {
		t.Error("overdue timer did not fire on Advance")
	}
	if !c.Now().Equal(epoch.Add(time.Minute)) {
		t.Errorf("Now() after Advance(0) = %v, want %v", c.Now(), epoch.Add(time.Minute))
	}
}
