package notify

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvent_JSON(t *testing.T) {
	score := 7.3
	event := Event{
		SessionID:      "s1",
		Status:         "complete",
		Verdict:        "PASS",
		InputStatement: "freelancers lose invoices",
		CombinedScore:  &score,
		OccurredAt:     "2026-08-30T10:00:00Z",
	}

	data, err := json.Marshal(event)
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "complete", decoded["status"])
	assert.InDelta(t, 7.3, decoded["combined_score"].(float64), 1e-9)
}

func TestNoopNotifier(t *testing.T) {
	n := NoopNotifier{}
	assert.NoError(t, n.Publish(context.Background(), Event{SessionID: "s1", Status: "complete"}))
	assert.NoError(t, n.Close())
}
