package lifecycle

// Machine is the recorded state of one chunk. It is owned by the orchestrating
// goroutine and is not safe for concurrent use.
type Machine struct {
	state       State
	transitions uint64
}

func (m *Machine) State() State { return m.state }

// Transitions counts successful transitions. Diagnostic only.
func (m *Machine) Transitions() uint64 { return m.transitions }

// To applies a transition. On failure the recorded state is unchanged.
func (m *Machine) To(target State) (State, error) {
	next, err := Transition(m.state, target)
	if err != nil {
		return m.state, err
	}
	m.state = next
	m.transitions++
	return next, nil
}

// IsModifiable gates voxel edits: only Active chunks may be mutated.
func (m *Machine) IsModifiable() bool { return m.state == Active }

// IsMeshable gates initial meshing submissions.
func (m *Machine) IsMeshable() bool { return m.state == Generated }
