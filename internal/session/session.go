// Package session holds the evaluation session document and its
// lifecycle rules.
//
// A Session is the unit of work: one problem statement moving through
// the pipeline. Status transitions are monotonic; no status ever
// regresses, and terminal statuses accept no further transitions.
package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/othentic-ai/ideationd/internal/scoring"
)

// Status is the session lifecycle state.
type Status string

const (
	StatusStarted    Status = "started"
	StatusInProgress Status = "in_progress"
	StatusEliminated Status = "eliminated"
	StatusPassed     Status = "passed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
	StatusComplete   Status = "complete"
)

// ErrInvalidTransition is returned for a status change that would
// regress or leave a terminal state.
var ErrInvalidTransition = errors.New("invalid status transition")

// validTransitions encodes the monotonic forward-only status graph.
var validTransitions = map[Status][]Status{
	StatusStarted:    {StatusInProgress, StatusFailed, StatusCancelled},
	StatusInProgress: {StatusEliminated, StatusPassed, StatusFailed, StatusCancelled},
	StatusEliminated: {StatusComplete, StatusFailed},
	StatusPassed:     {StatusComplete, StatusFailed},
	StatusFailed:     {},
	StatusCancelled:  {},
	StatusComplete:   {},
}

// Terminal reports whether no further transitions are allowed.
func (s Status) Terminal() bool {
	return len(validTransitions[s]) == 0
}

// CanTransition reports whether the status may move to next.
func (s Status) CanTransition(next Status) bool {
	for _, allowed := range validTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Session is the unit of work. Its JSON form is the persisted state
// document other tooling may read, so field names are stable.
type Session struct {
	SessionID        string         `json:"session_id"`
	InputStatement   string         `json:"input_statement"`
	Threshold        float64        `json:"threshold"`
	Status           Status         `json:"status"`
	Phases           *PhaseMap      `json:"phases"`
	Scores           scoring.Scores `json:"scores"`
	Eliminated       bool           `json:"eliminated"`
	EliminationPhase *string        `json:"elimination_phase"`
	Degraded         []string       `json:"degraded,omitempty"`
	Verdict          string         `json:"verdict,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
}

// New creates a session for the given statement.
// session_id is generated here and immutable afterwards.
func New(statement string, threshold float64) *Session {
	now := time.Now().UTC()
	return &Session{
		SessionID:      uuid.NewString(),
		InputStatement: statement,
		Threshold:      threshold,
		Status:         StatusStarted,
		Phases:         NewPhaseMap(),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// Transition moves the session to the next status.
// Returns ErrInvalidTransition for regressions or moves out of a
// terminal state.
func (s *Session) Transition(next Status) error {
	if !s.Status.CanTransition(next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s.Status, next)
	}
	s.Status = next
	s.UpdatedAt = time.Now().UTC()
	return nil
}

// Eliminate marks the session eliminated at the named phase.
func (s *Session) Eliminate(phase string) error {
	if err := s.Transition(StatusEliminated); err != nil {
		return err
	}
	s.Eliminated = true
	s.EliminationPhase = &phase
	return nil
}

// AddDegraded records a non-critical stage whose findings the session
// continued without. Idempotent per stage.
func (s *Session) AddDegraded(stage string) {
	for _, d := range s.Degraded {
		if d == stage {
			return
		}
	}
	s.Degraded = append(s.Degraded, stage)
	s.UpdatedAt = time.Now().UTC()
}

// SetProblemScore records the problem bucket score.
func (s *Session) SetProblemScore(score float64) {
	s.Scores.Problem = &score
	s.refreshCombined()
	s.UpdatedAt = time.Now().UTC()
}

// SetSolutionScore records the solution bucket score.
func (s *Session) SetSolutionScore(score float64) {
	s.Scores.Solution = &score
	s.refreshCombined()
	s.UpdatedAt = time.Now().UTC()
}

func (s *Session) refreshCombined() {
	if s.Scores.Problem == nil {
		return
	}
	combined := scoring.Combined(*s.Scores.Problem, s.Scores.Solution)
	s.Scores.Combined = &combined
}
