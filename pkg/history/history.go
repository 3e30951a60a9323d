// Package history keeps the undo/redo stacks of committed commands and the
// project they produced.
package history

import (
	"errors"
	"fmt"
	"sync"

	"github.com/framegraph/framegraph/pkg/command"
	"github.com/framegraph/framegraph/pkg/scene"
)

// DefaultLimit is the number of undoable steps kept when no limit is set.
const DefaultLimit = 100

var (
	// ErrNilCommand is returned by Commit for a nil command.
	ErrNilCommand = errors.New("history: nil command")

	// ErrOutOfRange is returned by JumpToHistory for an index outside the timeline.
	ErrOutOfRange = errors.New("history: index out of range")
)

// Op names a history transition.
type Op string

const (
	OpCommit  Op = "commit"
	OpUndo    Op = "undo"
	OpRedo    Op = "redo"
	OpJump    Op = "jump"
	OpReplace Op = "replace"
	OpReset   Op = "reset"
)

// Change describes one transition, delivered to listeners after it happened.
type Change struct {
	Op      Op
	Command *command.Command // nil for jump, replace and reset
	Steps   int              // signed step count for jump
	Project *scene.Project
	Past    int
	Future  int
}

// Listener observes history transitions. It runs outside the manager's lock
// and may read the manager, but must not mutate it.
type Listener func(Change)

// Manager owns the live project plus the past and future command stacks.
// past is oldest first; future[0] is the next command to redo.
type Manager struct {
	mu        sync.RWMutex
	project   *scene.Project
	past      []*command.Command
	future    []*command.Command
	limit     int
	listeners []Listener
}

// Option configures a Manager.
type Option func(*Manager)

// WithLimit caps the past stack. Values below 1 select DefaultLimit.
func WithLimit(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.limit = n
		}
	}
}

// WithListener registers l at construction.
func WithListener(l Listener) Option {
	return func(m *Manager) { m.listeners = append(m.listeners, l) }
}

// New creates a manager whose live state is p.
func New(p *scene.Project, opts ...Option) *Manager {
	if p == nil {
		p = scene.NewProject()
	}
	m := &Manager{project: p, limit: DefaultLimit}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Subscribe adds a listener.
func (m *Manager) Subscribe(l Listener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, l)
}

// Project returns the live project.
func (m *Manager) Project() *scene.Project {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.project
}

// Past returns a copy of the undo stack, oldest first.
func (m *Manager) Past() []*command.Command {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]*command.Command(nil), m.past...)
}

// Future returns a copy of the redo stack, next redo first.
func (m *Manager) Future() []*command.Command {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]*command.Command(nil), m.future...)
}

// Limit returns the past stack cap.
func (m *Manager) Limit() int { return m.limit }

// CanUndo reports whether Undo would do anything.
func (m *Manager) CanUndo() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.past) > 0
}

// CanRedo reports whether Redo would do anything.
func (m *Manager) CanRedo() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.future) > 0
}

// Commit applies cmd, pushes it onto the past stack and drops the future.
// When the stack exceeds the limit the oldest command is discarded for good.
func (m *Manager) Commit(cmd *command.Command) (*scene.Project, error) {
	if cmd == nil {
		return nil, ErrNilCommand
	}
	m.mu.Lock()
	m.project = cmd.Redo(m.project)
	m.past = append(m.past, cmd)
	if over := len(m.past) - m.limit; over > 0 {
		m.past = append([]*command.Command(nil), m.past[over:]...)
	}
	m.future = nil
	ch := m.change(OpCommit, cmd, 0)
	m.mu.Unlock()

	m.notify(ch)
	return ch.Project, nil
}

// Undo reverts the most recent command. It reports false when there is
// nothing to undo.
func (m *Manager) Undo() bool {
	m.mu.Lock()
	cmd, ok := m.undoLocked()
	if !ok {
		m.mu.Unlock()
		return false
	}
	ch := m.change(OpUndo, cmd, -1)
	m.mu.Unlock()

	m.notify(ch)
	return true
}

// Redo reapplies the next command of the future stack. It reports false when
// there is nothing to redo.
func (m *Manager) Redo() bool {
	m.mu.Lock()
	cmd, ok := m.redoLocked()
	if !ok {
		m.mu.Unlock()
		return false
	}
	ch := m.change(OpRedo, cmd, 1)
	m.mu.Unlock()

	m.notify(ch)
	return true
}

// JumpToHistory moves to the state right after the command at index of the
// combined timeline past ++ future. Index -1 is the state before every
// retained command.
func (m *Manager) JumpToHistory(index int) error {
	m.mu.Lock()
	total := len(m.past) + len(m.future)
	if index < -1 || index >= total {
		m.mu.Unlock()
		return fmt.Errorf("%w: %d not in [-1, %d)", ErrOutOfRange, index, total)
	}

	steps := index + 1 - len(m.past)
	for len(m.past) > index+1 {
		m.undoLocked()
	}
	for len(m.past) < index+1 {
		m.redoLocked()
	}
	if steps == 0 {
		m.mu.Unlock()
		return nil
	}
	ch := m.change(OpJump, nil, steps)
	m.mu.Unlock()

	m.notify(ch)
	return nil
}

// Replace swaps the live project without recording a command. The stacks are
// kept, so callers must only replace with states the commands can still act on.
func (m *Manager) Replace(p *scene.Project) {
	m.mu.Lock()
	m.project = p
	ch := m.change(OpReplace, nil, 0)
	m.mu.Unlock()

	m.notify(ch)
}

// Reset installs p and forgets both stacks.
func (m *Manager) Reset(p *scene.Project) {
	if p == nil {
		p = scene.NewProject()
	}
	m.mu.Lock()
	m.project = p
	m.past, m.future = nil, nil
	ch := m.change(OpReset, nil, 0)
	m.mu.Unlock()

	m.notify(ch)
}

func (m *Manager) undoLocked() (*command.Command, bool) {
	n := len(m.past)
	if n == 0 {
		return nil, false
	}
	cmd := m.past[n-1]
	m.past = m.past[:n-1]
	m.project = cmd.Undo(m.project)
	m.future = append([]*command.Command{cmd}, m.future...)
	return cmd, true
}

func (m *Manager) redoLocked() (*command.Command, bool) {
	if len(m.future) == 0 {
		return nil, false
	}
	cmd := m.future[0]
	m.future = m.future[1:]
	m.project = cmd.Redo(m.project)
	m.past = append(m.past, cmd)
	return cmd, true
}

func (m *Manager) change(op Op, cmd *command.Command, steps int) Change {
	return Change{
		Op:      op,
		Command: cmd,
		Steps:   steps,
		Project: m.project,
		Past:    len(m.past),
		Future:  len(m.future),
	}
}

func (m *Manager) notify(ch Change) {
	m.mu.RLock()
	listeners := append([]Listener(nil), m.listeners...)
	m.mu.RUnlock()
	for _, l := range listeners {
		l(ch)
	}
}
