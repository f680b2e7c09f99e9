package budget

import (
	"testing"
	"time"
)

// admit mimics the orchestrator loop: admit while capacity remains.
func admit(t *Tracker, queue *int, cost time.Duration) int {
	n := 0
	for *queue > 0 && t.HasCapacity() {
		t.Charge(cost)
		*queue--
		n++
	}
	return n
}

func TestSaturatedTickAdmitsBoundedItems(t *testing.T) {
	tr := NewTracker(4*time.Millisecond, 0)
	queue := 1000
	tr.BeginTick(true)
	n := admit(tr, &queue, time.Millisecond)
	if n < 1 || n >= 1000 {
		t.Fatalf("admitted %d items, want at least 1 and fewer than all", n)
	}
	if n != 4 {
		t.Fatalf("admitted %d items with 1ms cost under 4ms ceiling, want 4", n)
	}

	ticks := 1
	for queue > 0 {
		tr.BeginTick(true)
		if admit(tr, &queue, time.Millisecond) == 0 {
			t.Fatalf("tick %d admitted nothing", ticks)
		}
		ticks++
	}
	if ticks != 250 {
		t.Fatalf("ticks=%d want 250", ticks)
	}
}

func TestOvershootIsBilledNotPreempted(t *testing.T) {
	tr := NewTracker(4*time.Millisecond, 1)
	tr.BeginTick(true)
	tr.Charge(3 * time.Millisecond)
	if !tr.HasCapacity() {
		t.Fatalf("3ms of 4ms should leave capacity")
	}
	tr.Charge(10 * time.Millisecond)
	if tr.HasCapacity() || tr.Used() != 13*time.Millisecond {
		t.Fatalf("overshoot should be billed: used=%v", tr.Used())
	}
	tr.BeginTick(true)
	if tr.Used() != 0 || !tr.HasCapacity() {
		t.Fatalf("debt must not carry across ticks: used=%v", tr.Used())
	}
}

func TestEmergencyFactor(t *testing.T) {
	tr := NewTracker(2*time.Millisecond, 0)
	tr.BeginTick(false)
	if tr.Ceiling() != 8*time.Millisecond {
		t.Fatalf("ceiling=%v want 8ms", tr.Ceiling())
	}
	tr.BeginTick(true)
	if tr.Ceiling() != 2*time.Millisecond {
		t.Fatalf("ceiling=%v want 2ms", tr.Ceiling())
	}
}

func TestNegativeChargeIgnored(t *testing.T) {
	tr := NewTracker(time.Millisecond, 0)
	tr.BeginTick(true)
	tr.Charge(-time.Second)
	if tr.Used() != 0 || tr.Charged() != 1 {
		t.Fatalf("used=%v charged=%d", tr.Used(), tr.Charged())
	}
}

func TestLedgerPerCategory(t *testing.T) {
	l := NewLedger(time.Millisecond, 2*time.Millisecond, 3)
	l.BeginTick(func(c Category) bool { return c == Meshing })
	if got := l.Tracker(Generation).Ceiling(); got != 3*time.Millisecond {
		t.Fatalf("generation ceiling=%v want 3ms", got)
	}
	if got := l.Tracker(Meshing).Ceiling(); got != 2*time.Millisecond {
		t.Fatalf("meshing ceiling=%v want 2ms", got)
	}
	l.Tracker(Generation).Charge(5 * time.Millisecond)
	if l.Tracker(Meshing).Used() != 0 {
		t.Fatalf("categories must not share a ledger")
	}
	if u := l.Usage(); len(u) != 2 || u[0].Category != Generation || u[0].Used != 5*time.Millisecond {
		t.Fatalf("usage=%+v", u)
	}
}
