// Package notify publishes session lifecycle events.
//
// Notification is best-effort from the orchestrator's perspective: a
// publish failure is logged and never rolls back session state.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// Event is the published session outcome.
type Event struct {
	SessionID      string   `json:"session_id"`
	Status         string   `json:"status"`
	Verdict        string   `json:"verdict,omitempty"`
	InputStatement string   `json:"input_statement"`
	CombinedScore  *float64 `json:"combined_score"`
	ReportPath     string   `json:"report_path,omitempty"`
	OccurredAt     string   `json:"occurred_at"`
}

// Notifier delivers session events.
type Notifier interface {
	// Publish sends an event. Best-effort: callers log failures and
	// continue.
	Publish(ctx context.Context, event Event) error

	// Close releases the underlying connection.
	Close() error
}

// NATSNotifier publishes events to a NATS subject per status, e.g.
// ideation.sessions.complete.
type NATSNotifier struct {
	conn          *nats.Conn
	subjectPrefix string
	logger        *zap.Logger
}

// NewNATSNotifier connects to NATS and returns a notifier.
func NewNATSNotifier(url, subjectPrefix string, logger *zap.Logger) (*NATSNotifier, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if subjectPrefix == "" {
		subjectPrefix = "ideation"
	}

	nc, err := nats.Connect(url,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(5),
		nats.ReconnectWait(1*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS at %s: %w", url, err)
	}

	logger.Info("connected to NATS", zap.String("url", url))

	return &NATSNotifier{
		conn:          nc,
		subjectPrefix: subjectPrefix,
		logger:        logger,
	}, nil
}

// Publish sends the event to {prefix}.sessions.{status}.
func (n *NATSNotifier) Publish(ctx context.Context, event Event) error {
	if event.OccurredAt == "" {
		event.OccurredAt = time.Now().UTC().Format(time.RFC3339)
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshaling event: %w", err)
	}

	subject := fmt.Sprintf("%s.sessions.%s", n.subjectPrefix, event.Status)
	if err := n.conn.Publish(subject, payload); err != nil {
		return fmt.Errorf("publishing to %s: %w", subject, err)
	}

	n.logger.Debug("session event published",
		zap.String("subject", subject),
		zap.String("session_id", event.SessionID),
	)
	return nil
}

// Close drains and closes the NATS connection.
func (n *NATSNotifier) Close() error {
	if n.conn != nil {
		n.conn.Close()
	}
	return nil
}

// NoopNotifier discards all events. Used when no NATS URL is configured.
type NoopNotifier struct{}

func (NoopNotifier) Publish(context.Context, Event) error { return nil }
func (NoopNotifier) Close() error                         { return nil }

var (
	_ Notifier = (*NATSNotifier)(nil)
	_ Notifier = NoopNotifier{}
)
