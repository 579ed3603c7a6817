package event_test

import (
	"testing"

	"github.com/v-architect/pcbus-core/core_engine/event"
)

func TestTickFiresInDeadlineOrder(t *testing.T) {
	var now int64
	sched := event.New(func() int64 { return now })
	owner := sched.NewOwner()

	var fired []int
	record := func(arg int) { fired = append(fired, arg) }

	a := sched.New(owner, record)
	b := sched.New(owner, record)
	c := sched.New(owner, record)

	sched.Arm(b, 20, 2)
	sched.Arm(a, 10, 1)
	sched.Arm(c, 10, 3) // same deadline as a, armed after -> fires after a

	now = 25
	sched.Tick()

	want := []int{1, 3, 2}
	if len(fired) != len(want) {
		t.Fatalf("fired = %v, want %v", fired, want)
	}
	for i := range want {
		if fired[i] != want[i] {
			t.Fatalf("fired = %v, want %v", fired, want)
		}
	}
}

func TestDisarmIsIdempotentAndPreventsFire(t *testing.T) {
	var now int64
	sched := event.New(func() int64 { return now })
	owner := sched.NewOwner()

	fired := false
	h := sched.New(owner, func(int) { fired = true })
	sched.Arm(h, 5, 0)
	sched.Disarm(h)
	sched.Disarm(h) // idempotent

	now = 100
	sched.Tick()

	if fired {
		t.Fatal("disarmed event fired")
	}
	if sched.Armed(h) {
		t.Fatal("handle reports armed after disarm")
	}
}

func TestNegativeDeltaClampsToZero(t *testing.T) {
	var now int64
	sched := event.New(func() int64 { return now })
	owner := sched.NewOwner()

	fired := false
	h := sched.New(owner, func(int) { fired = true })
	sched.Arm(h, -10, 0)

	sched.Tick() // now == 0, deadline clamped to 0
	if !fired {
		t.Fatal("event with clamped negative delta did not fire at now=0")
	}
}

func TestReArmFromCallback(t *testing.T) {
	var now int64
	sched := event.New(func() int64 { return now })
	owner := sched.NewOwner()

	count := 0
	var h event.Handle
	h = sched.New(owner, func(int) {
		count++
		if count < 3 {
			sched.Arm(h, 0, 0)
		}
	})
	sched.Arm(h, 0, 0)

	sched.Tick()
	if count != 3 {
		t.Fatalf("count = %d, want 3", count)
	}
}

func TestArmReplacesPendingArming(t *testing.T) {
	var now int64
	sched := event.New(func() int64 { return now })
	owner := sched.NewOwner()

	fired := -1
	h := sched.New(owner, func(arg int) { fired = arg })
	sched.Arm(h, 5, 1)
	sched.Arm(h, 50, 2) // supersedes

	now = 10
	sched.Tick()
	if fired != -1 {
		t.Fatalf("event fired early with stale arg %d", fired)
	}

	now = 60
	sched.Tick()
	if fired != 2 {
		t.Fatalf("fired = %d, want 2", fired)
	}
}
