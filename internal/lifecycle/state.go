// Package lifecycle holds the per-chunk processing state and the fixed graph
// of legal transitions between states.
package lifecycle

import "fmt"

type State uint8

const (
	Unloaded State = iota
	Scheduled
	Generating
	Generated
	Meshing
	Meshed
	Active
	Unloading
)

// States lists every state in declaration order.
var States = [...]State{Unloaded, Scheduled, Generating, Generated, Meshing, Meshed, Active, Unloading}

var stateNames = [...]string{
	Unloaded:   "UNLOADED",
	Scheduled:  "SCHEDULED",
	Generating: "GENERATING",
	Generated:  "GENERATED",
	Meshing:    "MESHING",
	Meshed:     "MESHED",
	Active:     "ACTIVE",
	Unloading:  "UNLOADING",
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("STATE(%d)", uint8(s))
}

// IsReady reports whether a chunk in this state has generated voxel data
// that neighbours may mesh against.
func (s State) IsReady() bool {
	switch s {
	case Generated, Meshing, Meshed, Active:
		return true
	}
	return false
}

var edges = map[State][]State{
	Unloaded:   {Scheduled},
	Scheduled:  {Generating, Unloaded},
	Generating: {Generated, Unloaded},
	Generated:  {Meshing, Unloading},
	Meshing:    {Meshed, Unloading},
	Meshed:     {Active},
	Active:     {Meshing, Unloading},
	Unloading:  {Unloaded},
}

// Allowed reports whether from -> to is in the transition table.
func Allowed(from, to State) bool {
	for _, t := range edges[from] {
		if t == to {
			return true
		}
	}
	return false
}

// Transition validates from -> to and returns the new state.
func Transition(from, to State) (State, error) {
	if !Allowed(from, to) {
		return from, &InvalidTransitionError{From: from, To: to}
	}
	return to, nil
}

// InvalidTransitionError names the rejected pair.
type InvalidTransitionError struct {
	From State
	To   State
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("lifecycle: invalid transition %s -> %s", e.From, e.To)
}
