package solib

import "fmt"

// Manager owns the program spaces of a debugging session and the Ops
// implementation serving them.
type Manager struct {
	ops    Ops
	spaces map[int]*ProgramSpace
}

// NewManager returns a manager using ops.
func NewManager(ops Ops) *Manager {
	return &Manager{ops: ops, spaces: map[int]*ProgramSpace{}}
}

// Ops returns the ABI implementation used by m.
func (m *Manager) Ops() Ops {
	return m.ops
}

// Attach registers ps and prepares it for tracking shared libraries.
func (m *Manager) Attach(ps *ProgramSpace) error {
	if _, exists := m.spaces[ps.ID]; exists {
		return fmt.Errorf("program space %d already attached", ps.ID)
	}
	m.spaces[ps.ID] = ps
	return m.ops.CreateInferiorHook(ps)
}

// Exec must be called when the target of program space id calls exec, or
// is restarted. If path is not empty it becomes the new main executable.
func (m *Manager) Exec(id int, path string) error {
	ps, ok := m.spaces[id]
	if !ok {
		return fmt.Errorf("unknown program space %d", id)
	}
	m.ops.ClearSolib(ps)
	if path != "" {
		if err := ps.SetExecutable(path); err != nil {
			return err
		}
	} else if ps.Exec != nil {
		ps.Exec.ClearDisplacement()
	}
	return m.ops.CreateInferiorHook(ps)
}

// Remove is called when the target of program space id exits or is
// detached, all state associated with it is released.
func (m *Manager) Remove(id int) {
	ps, ok := m.spaces[id]
	if !ok {
		return
	}
	m.ops.Destroy(ps)
	delete(m.spaces, id)
}

// Space returns the program space with the given id.
func (m *Manager) Space(id int) (*ProgramSpace, bool) {
	ps, ok := m.spaces[id]
	return ps, ok
}

// OnStop forwards a stop of program space id to the Ops implementation.
func (m *Manager) OnStop(id int, pc uint64) (StopEvent, error) {
	ps, ok := m.spaces[id]
	if !ok {
		return StopEvent{}, fmt.Errorf("unknown program space %d", id)
	}
	return m.ops.OnStop(ps, pc)
}
