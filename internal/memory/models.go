// Package memory provides the append-only context store shared by
// evaluation stages.
//
// Records are scoped to an owner of the form ideation_{stage}_{session_id}
// and carry metadata used for filtering. The underlying vector store is
// eventually consistent: a Write receipt does not guarantee immediate
// visibility to readers, so consumers that need a record use WaitFor.
package memory

import (
	"fmt"
	"time"

	"github.com/othentic-ai/ideationd/internal/sanitize"
)

// Metadata keys used for filtering.
const (
	MetaType      = "type"
	MetaSessionID = "session_id"
	MetaOwner     = "owner"
	MetaStage     = "stage"
	MetaCreatedAt = "created_at"
)

// Record types written by the pipeline.
const (
	TypeProblemStatement = "problem_statement"
	TypeProblemResearch  = "problem_research"
	TypeMarketAnalysis   = "market_analysis"
	TypeCustomerProfile  = "customer_profile"
	TypeCompetitorMap    = "competitor_map"
	TypeResourcePlan     = "resource_plan"
	TypeHypothesis       = "hypothesis"
	TypePivotAdvice      = "pivot_advice"
	TypeScorecard        = "scorecard"
	TypeReport           = "report"
	TypeSessionState     = "session_state"
	TypePendingIdea      = "pending_idea"
)

// RegistryOwner is the fixed owner scope session snapshots are written
// under, so listing sessions stays a bounded query.
const RegistryOwner = "ideation_session_registry"

// PendingOwner is the fixed owner scope for statements queued for later
// evaluation.
const PendingOwner = "ideation_pending_queue"

// OwnerScope builds the owner identifier for a stage within a session.
func OwnerScope(stage, sessionID string) string {
	return fmt.Sprintf("ideation_%s_%s", sanitize.Identifier(stage), sessionID)
}

// Record is a single append-only entry in the context store.
type Record struct {
	// ID is the unique record identifier. Assigned on write if empty.
	ID string

	// Owner is the owner scope, built via OwnerScope.
	Owner string

	// SessionID is the evaluation session this record belongs to.
	SessionID string

	// Type categorizes the record (see Type* constants).
	Type string

	// Content is the record body.
	Content string

	// Metadata carries additional key-value pairs. Reserved keys
	// (owner, session_id, type, created_at) are managed by the store.
	Metadata map[string]interface{}

	// CreatedAt is when the record was written.
	CreatedAt time.Time
}

// Receipt acknowledges a durable write. Visibility to readers may lag.
type Receipt struct {
	// ID is the stored record identifier.
	ID string

	// Owner is the record's owner scope.
	Owner string

	// WrittenAt is when the write was acknowledged.
	WrittenAt time.Time
}

// Filter selects records. At least one of Owner, SessionID, or Type
// must be set; unbounded queries are rejected with ErrUnboundedQuery.
type Filter struct {
	// Owner restricts to a single owner scope.
	Owner string

	// SessionID restricts to a single session.
	SessionID string

	// Type restricts to a record type. Optional.
	Type string
}

// Bounded reports whether the filter restricts the result set.
func (f Filter) Bounded() bool {
	return f.Owner != "" || f.SessionID != "" || f.Type != ""
}

func (f Filter) metadata() map[string]interface{} {
	m := make(map[string]interface{}, 3)
	if f.Owner != "" {
		m[MetaOwner] = f.Owner
	}
	if f.SessionID != "" {
		m[MetaSessionID] = f.SessionID
	}
	if f.Type != "" {
		m[MetaType] = f.Type
	}
	return m
}
