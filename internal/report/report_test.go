package report

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/othentic-ai/ideationd/internal/session"
)

func sampleSession(t *testing.T) *session.Session {
	t.Helper()
	sess := session.New("Legal research is slow!", 5.0)
	require.NoError(t, sess.Transition(session.StatusInProgress))

	rec := sess.Phases.Add("researcher")
	require.NoError(t, rec.MarkRunning())
	require.NoError(t, rec.MarkComplete("findings"))

	sess.SetProblemScore(7.5)
	sess.SetSolutionScore(7.0)
	sess.Verdict = "PASS"
	require.NoError(t, sess.Transition(session.StatusPassed))
	return sess
}

func TestCompiler_ArtifactPath(t *testing.T) {
	dir := t.TempDir()
	c, err := NewCompiler(dir)
	require.NoError(t, err)

	sess := sampleSession(t)
	path := c.ArtifactPath(sess)

	assert.Equal(t, dir, filepath.Dir(path))
	base := filepath.Base(path)
	assert.True(t, strings.HasPrefix(base, "legal_research_is_slow-"), base)
	assert.True(t, strings.HasSuffix(base, sess.SessionID+".md"), base)
}

func TestCompiler_Write(t *testing.T) {
	c, err := NewCompiler(t.TempDir())
	require.NoError(t, err)

	sess := sampleSession(t)
	path, err := c.Write(sess, "The problem is validated and worth pursuing.")
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	content := string(data)

	assert.Contains(t, content, "# Evaluation: Legal research is slow!")
	assert.Contains(t, content, "**PASS**")
	assert.Contains(t, content, "| Problem | 7.50 |")
	assert.Contains(t, content, "| Combined | 7.30 |")
	assert.Contains(t, content, "| researcher | complete |")
	assert.Contains(t, content, "The problem is validated and worth pursuing.")
	assert.Contains(t, content, `"session_id"`)
}

func TestCompiler_Write_NoOverwrite(t *testing.T) {
	c, err := NewCompiler(t.TempDir())
	require.NoError(t, err)

	sess := sampleSession(t)
	_, err = c.Write(sess, "first")
	require.NoError(t, err)

	_, err = c.Write(sess, "second")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")
}

func TestCompiler_Render_Eliminated(t *testing.T) {
	c, err := NewCompiler(t.TempDir())
	require.NoError(t, err)

	sess := session.New("statement", 5.0)
	require.NoError(t, sess.Transition(session.StatusInProgress))
	sess.SetProblemScore(3.0)
	require.NoError(t, sess.Eliminate("problem"))
	sess.Verdict = "FAIL"

	content := c.Render(sess, "")
	assert.Contains(t, content, "Eliminated at: problem phase")
	assert.Contains(t, content, "| Solution | n/a |")
}

func TestRender_DegradedStages(t *testing.T) {
	c, err := NewCompiler(t.TempDir())
	require.NoError(t, err)

	sess := session.New("Spreadsheets are hard to audit", 5.0)
	sess.AddDegraded("market_analyst")

	out := c.Render(sess, "summary")
	assert.Contains(t, out, "Degraded: evaluated without market_analyst")
}
