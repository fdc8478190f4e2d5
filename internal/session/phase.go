package session

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// PhaseStatus is the lifecycle state of one executed stage.
type PhaseStatus string

const (
	PhasePending  PhaseStatus = "pending"
	PhaseRunning  PhaseStatus = "running"
	PhaseComplete PhaseStatus = "complete"
	PhaseFailed   PhaseStatus = "failed"
)

// ErrPhaseTerminal is returned when a complete or failed phase is
// asked to change state. Phases are never re-run.
var ErrPhaseTerminal = errors.New("phase already terminal")

// PhaseRecord is one executed stage within a session.
type PhaseRecord struct {
	Name        string      `json:"name"`
	Status      PhaseStatus `json:"status"`
	Output      string      `json:"output,omitempty"`
	StartedAt   *time.Time  `json:"started_at"`
	CompletedAt *time.Time  `json:"completed_at"`
	Error       *string     `json:"error"`
}

// Terminal reports whether the phase reached complete or failed.
func (p *PhaseRecord) Terminal() bool {
	return p.Status == PhaseComplete || p.Status == PhaseFailed
}

// MarkRunning transitions pending -> running.
func (p *PhaseRecord) MarkRunning() error {
	if p.Terminal() {
		return fmt.Errorf("%w: %s is %s", ErrPhaseTerminal, p.Name, p.Status)
	}
	now := time.Now().UTC()
	p.Status = PhaseRunning
	p.StartedAt = &now
	return nil
}

// MarkComplete records the stage output and finishes the phase.
func (p *PhaseRecord) MarkComplete(output string) error {
	if p.Terminal() {
		return fmt.Errorf("%w: %s is %s", ErrPhaseTerminal, p.Name, p.Status)
	}
	now := time.Now().UTC()
	p.Status = PhaseComplete
	p.Output = output
	p.CompletedAt = &now
	return nil
}

// MarkFailed records the failure cause and finishes the phase.
func (p *PhaseRecord) MarkFailed(cause error) error {
	if p.Terminal() {
		return fmt.Errorf("%w: %s is %s", ErrPhaseTerminal, p.Name, p.Status)
	}
	now := time.Now().UTC()
	msg := cause.Error()
	p.Status = PhaseFailed
	p.Error = &msg
	p.CompletedAt = &now
	return nil
}

// PhaseMap holds PhaseRecords keyed by name, preserving insertion
// order. Execution order within a phase group is the order stages were
// scheduled, and the JSON document reflects it.
type PhaseMap struct {
	order   []string
	records map[string]*PhaseRecord
}

// NewPhaseMap creates an empty PhaseMap.
func NewPhaseMap() *PhaseMap {
	return &PhaseMap{records: make(map[string]*PhaseRecord)}
}

// Add creates a pending PhaseRecord for name. Adding an existing name
// returns the existing record.
func (m *PhaseMap) Add(name string) *PhaseRecord {
	if rec, ok := m.records[name]; ok {
		return rec
	}
	rec := &PhaseRecord{Name: name, Status: PhasePending}
	m.order = append(m.order, name)
	m.records[name] = rec
	return rec
}

// Get returns the record for name, or nil.
func (m *PhaseMap) Get(name string) *PhaseRecord {
	return m.records[name]
}

// Names returns phase names in insertion order.
func (m *PhaseMap) Names() []string {
	out := make([]string, len(m.order))
	copy(out, m.order)
	return out
}

// Len returns the number of phases.
func (m *PhaseMap) Len() int {
	return len(m.order)
}

// All returns records in insertion order.
func (m *PhaseMap) All() []*PhaseRecord {
	out := make([]*PhaseRecord, 0, len(m.order))
	for _, name := range m.order {
		out = append(out, m.records[name])
	}
	return out
}

// MarshalJSON emits an object with keys in insertion order.
func (m *PhaseMap) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, name := range m.order {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(name)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		val, err := json.Marshal(m.records[name])
		if err != nil {
			return nil, err
		}
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON restores records preserving the document's key order.
func (m *PhaseMap) UnmarshalJSON(data []byte) error {
	m.order = nil
	m.records = make(map[string]*PhaseRecord)

	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("phases: expected object, got %v", tok)
	}

	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		name, ok := keyTok.(string)
		if !ok {
			return fmt.Errorf("phases: expected string key, got %v", keyTok)
		}

		var rec PhaseRecord
		if err := dec.Decode(&rec); err != nil {
			return err
		}
		m.order = append(m.order, name)
		m.records[name] = &rec
	}

	// Consume closing brace.
	if _, err := dec.Token(); err != nil {
		return err
	}
	return nil
}
