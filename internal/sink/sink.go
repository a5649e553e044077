// Package sink holds per-worker live output buffers and the multiplexer
// that tracks which one a panel is currently viewing. Buffers are retained
// after their worker exits so history stays inspectable until the caller
// removes them.
package sink

import (
	"errors"
	"fmt"
	"strings"
	"sync"
)

// ErrDuplicateSink is returned when a worker id already owns a sink.
var ErrDuplicateSink = errors.New("sink already exists for worker")

// ErrUnknownSink is returned for lookups of worker ids without a sink.
var ErrUnknownSink = errors.New("no sink for worker")

// palette provides the color tags assigned to sinks in creation order.
var palette = []string{
	"#61afef",
	"#98c379",
	"#e5c07b",
	"#c678dd",
	"#56b6c2",
	"#e06c75",
	"#d19a66",
	"#abb2bf",
}

// Sink is one worker's append-only output buffer.
type Sink struct {
	workerID string
	label    string
	colorTag string

	mu    sync.Mutex
	buf   strings.Builder
	alive bool
}

// WorkerID returns the owning worker's id.
func (s *Sink) WorkerID() string { return s.workerID }

// Label returns the display label assigned at creation.
func (s *Sink) Label() string { return s.label }

// ColorTag returns the hex color assigned at creation.
func (s *Sink) ColorTag() string { return s.colorTag }

// Append adds text to the buffer. Safe to call from executor stream
// goroutines concurrently with appends on other sinks.
func (s *Sink) Append(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buf.WriteString(text)
}

// Text returns the accumulated buffer contents.
func (s *Sink) Text() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.String()
}

// Alive reports whether the bound process is still running.
func (s *Sink) Alive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.alive
}

// MarkExited clears the process-alive flag.
func (s *Sink) MarkExited() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alive = false
}

// View is a read-only snapshot of one sink for UI listings.
type View struct {
	WorkerID string `json:"workerId"`
	Label    string `json:"label"`
	ColorTag string `json:"colorTag"`
	Alive    bool   `json:"alive"`
	Active   bool   `json:"active"`
}

// Multiplexer owns the set of sinks for one panel and the active selection.
type Multiplexer struct {
	mu          sync.RWMutex
	order       []string
	sinks       map[string]*Sink
	terminators map[string]func()
	active      string
}

// NewMultiplexer creates an empty multiplexer.
func NewMultiplexer() *Multiplexer {
	return &Multiplexer{
		sinks:       make(map[string]*Sink),
		terminators: make(map[string]func()),
	}
}

// Create allocates a sink for a worker with the next palette color. The
// first sink created becomes the active selection.
func (m *Multiplexer) Create(workerID, label string) (*Sink, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.sinks[workerID]; exists {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateSink, workerID)
	}

	s := &Sink{
		workerID: workerID,
		label:    label,
		colorTag: palette[len(m.order)%len(palette)],
		alive:    true,
	}
	m.sinks[workerID] = s
	m.order = append(m.order, workerID)
	if m.active == "" {
		m.active = workerID
	}
	return s, nil
}

// Get returns the sink for a worker id.
func (m *Multiplexer) Get(workerID string) (*Sink, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sinks[workerID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSink, workerID)
	}
	return s, nil
}

// Select marks one sink as the active presentation target.
func (m *Multiplexer) Select(workerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sinks[workerID]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSink, workerID)
	}
	m.active = workerID
	return nil
}

// Active returns the currently selected sink, if any.
func (m *Multiplexer) Active() (*Sink, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sinks[m.active]
	return s, ok
}

// AliveCount returns how many sinks still have a running process.
func (m *Multiplexer) AliveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	count := 0
	for _, s := range m.sinks {
		if s.Alive() {
			count++
		}
	}
	return count
}

// Views lists all sinks in creation order for UI tab rendering.
func (m *Multiplexer) Views() []View {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]View, 0, len(m.order))
	for _, id := range m.order {
		s := m.sinks[id]
		out = append(out, View{
			WorkerID: id,
			Label:    s.Label(),
			ColorTag: s.ColorTag(),
			Alive:    s.Alive(),
			Active:   id == m.active,
		})
	}
	return out
}

// BindTerminator attaches the shutdown hook for a sink's live process.
func (m *Multiplexer) BindTerminator(workerID string, terminate func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.terminators[workerID] = terminate
}

// TerminateAll asks every live bound process to stop. Exits are observed
// through the owning scheduler's normal completion path.
func (m *Multiplexer) TerminateAll() {
	m.mu.RLock()
	terminators := make([]func(), 0, len(m.terminators))
	for id, terminate := range m.terminators {
		if terminate == nil {
			continue
		}
		if s, ok := m.sinks[id]; ok && !s.Alive() {
			continue
		}
		terminators = append(terminators, terminate)
	}
	m.mu.RUnlock()

	for _, terminate := range terminators {
		terminate()
	}
}

// Remove discards a sink and its terminator binding. Callers remove sinks
// explicitly when closing a panel; completion alone never removes them.
func (m *Multiplexer) Remove(workerID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.sinks, workerID)
	delete(m.terminators, workerID)
	for i, id := range m.order {
		if id == workerID {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	if m.active == workerID {
		m.active = ""
		if len(m.order) > 0 {
			m.active = m.order[0]
		}
	}
}
