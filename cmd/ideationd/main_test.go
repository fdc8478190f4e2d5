package main

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/othentic-ai/ideationd/internal/memory"
	"github.com/othentic-ai/ideationd/internal/session"
)

func TestRootCommandRegistration(t *testing.T) {
	names := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	assert.True(t, names["evaluate"])
	assert.True(t, names["add"])
	assert.True(t, names["pending"])
	assert.True(t, names["similar"])
	assert.True(t, names["sessions"])
}

func TestPendingStatements(t *testing.T) {
	queued := []memory.Record{
		{Content: "Invoices get lost between email and accounting", CreatedAt: time.Unix(200, 0)},
		{Content: "Legal research is slow for small firms", CreatedAt: time.Unix(100, 0)},
		{Content: "Field notes are re-entered three times", CreatedAt: time.Unix(300, 0)},
	}
	evaluated := session.New("Legal research is slow for small firms", 5.0)

	remaining := pendingStatements(queued, []*session.Session{evaluated})
	require.Len(t, remaining, 2)
	// Oldest first, evaluated statement dropped.
	assert.Equal(t, "Invoices get lost between email and accounting", remaining[0].Content)
	assert.Equal(t, "Field notes are re-entered three times", remaining[1].Content)
}

func TestLatestSessions(t *testing.T) {
	sess := session.New("statement", 5.0)
	older, err := json.Marshal(sess)
	require.NoError(t, err)
	require.NoError(t, sess.Transition(session.StatusInProgress))
	sess.UpdatedAt = sess.UpdatedAt.Add(time.Second)
	newer, err := json.Marshal(sess)
	require.NoError(t, err)

	records := []memory.Record{
		{Content: string(newer)},
		{Content: string(older)},
		{Content: "not json"},
	}
	sessions := latestSessions(records, nil)
	require.Len(t, sessions, 1)
	assert.Equal(t, session.StatusInProgress, sessions[0].Status)
}

func TestPrintSummary(t *testing.T) {
	sess := session.New("Legal research is slow", 5.0)
	require.NoError(t, sess.Transition(session.StatusInProgress))
	sess.SetProblemScore(8)
	sess.SetSolutionScore(7)
	sess.Verdict = "PASS"

	var buf bytes.Buffer
	printSummary(&buf, sess)

	out := buf.String()
	assert.Contains(t, out, sess.SessionID)
	assert.Contains(t, out, "Verdict:  PASS")
	assert.Contains(t, out, "Problem:  8.00")
	assert.Contains(t, out, "Combined: 7.60")
}

func TestPrintSummary_NoSolutionScore(t *testing.T) {
	sess := session.New("x", 5.0)
	var buf bytes.Buffer
	printSummary(&buf, sess)
	assert.Contains(t, buf.String(), "Solution: n/a")
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "line one line two", truncate("line one\nline two", 40))
	assert.Equal(t, "0123...", truncate("0123456789", 7))
}
