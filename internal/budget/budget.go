// Package budget meters how much main-loop wall time each work category may
// spend per tick.
package budget

import "time"

type Category uint8

const (
	Generation Category = iota
	Meshing
	numCategories
)

func (c Category) String() string {
	switch c {
	case Generation:
		return "generation"
	case Meshing:
		return "meshing"
	}
	return "unknown"
}

// DefaultEmergencyFactor scales the ceiling when nothing of the category is
// on screen.
const DefaultEmergencyFactor = 4

// Tracker is one category's ledger. Accumulated time resets every tick and
// never carries over. An admitted item may overshoot the ceiling; the next
// HasCapacity then reports false.
type Tracker struct {
	base      time.Duration
	emergency int

	ceiling time.Duration
	used    time.Duration
	charged int
}

func NewTracker(ceiling time.Duration, emergencyFactor int) *Tracker {
	if emergencyFactor <= 0 {
		emergencyFactor = DefaultEmergencyFactor
	}
	return &Tracker{base: ceiling, emergency: emergencyFactor, ceiling: ceiling}
}

// BeginTick resets the ledger. With no visible work of this category the
// ceiling is multiplied by the emergency factor.
func (t *Tracker) BeginTick(anyVisibleWork bool) {
	t.used = 0
	t.charged = 0
	t.ceiling = t.base
	if !anyVisibleWork {
		t.ceiling = t.base * time.Duration(t.emergency)
	}
}

func (t *Tracker) HasCapacity() bool { return t.used < t.ceiling }

// Charge bills d to the current tick. Negative durations are ignored.
func (t *Tracker) Charge(d time.Duration) {
	if d <= 0 {
		d = 0
	}
	t.used += d
	t.charged++
}

func (t *Tracker) Used() time.Duration    { return t.used }
func (t *Tracker) Ceiling() time.Duration { return t.ceiling }

// Charged counts items billed this tick.
func (t *Tracker) Charged() int { return t.charged }

// Ledger holds one Tracker per category.
type Ledger struct {
	trackers [numCategories]*Tracker
}

func NewLedger(generation, meshing time.Duration, emergencyFactor int) *Ledger {
	l := &Ledger{}
	l.trackers[Generation] = NewTracker(generation, emergencyFactor)
	l.trackers[Meshing] = NewTracker(meshing, emergencyFactor)
	return l
}

func (l *Ledger) Tracker(c Category) *Tracker { return l.trackers[c] }

// BeginTick resets every category; visible reports per category whether any
// of its work is currently on screen.
func (l *Ledger) BeginTick(visible func(Category) bool) {
	for c, t := range l.trackers {
		t.BeginTick(visible(Category(c)))
	}
}

// Usage is a point-in-time copy of one tracker.
type Usage struct {
	Category Category
	Used     time.Duration
	Ceiling  time.Duration
	Charged  int
}

func (l *Ledger) Usage() []Usage {
	out := make([]Usage, 0, len(l.trackers))
	for c, t := range l.trackers {
		out = append(out, Usage{Category: Category(c), Used: t.used, Ceiling: t.ceiling, Charged: t.charged})
	}
	return out
}
