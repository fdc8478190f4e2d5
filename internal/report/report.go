// Package report compiles the final evaluation artifact.
package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/othentic-ai/ideationd/internal/sanitize"
	"github.com/othentic-ai/ideationd/internal/session"
)

// Compiler renders and persists one report per completed session.
//
// The artifact name is {sanitized-statement}-{session_id}, written once
// when the session completes; reports are never overwritten.
type Compiler struct {
	outputDir string
}

// NewCompiler creates a compiler writing into outputDir.
func NewCompiler(outputDir string) (*Compiler, error) {
	if outputDir == "" {
		return nil, fmt.Errorf("output directory is required")
	}
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, fmt.Errorf("creating output directory: %w", err)
	}
	return &Compiler{outputDir: outputDir}, nil
}

// ArtifactPath returns where the session's report will be written.
func (c *Compiler) ArtifactPath(sess *session.Session) string {
	name := sanitize.ArtifactName(sess.InputStatement, sess.SessionID)
	return filepath.Join(c.outputDir, name+".md")
}

// Write renders the report and persists it. The narrative is the
// report stage's output; session data supplies the scorecard and
// phase table.
func (c *Compiler) Write(sess *session.Session, narrative string) (string, error) {
	path := c.ArtifactPath(sess)

	if _, err := os.Stat(path); err == nil {
		return "", fmt.Errorf("report already exists: %s", path)
	}

	content := c.Render(sess, narrative)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return "", fmt.Errorf("writing report: %w", err)
	}
	return path, nil
}

// Render produces the report markdown.
func (c *Compiler) Render(sess *session.Session, narrative string) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# Evaluation: %s\n\n", sess.InputStatement)
	fmt.Fprintf(&b, "- Session: `%s`\n", sess.SessionID)
	fmt.Fprintf(&b, "- Status: %s\n", sess.Status)
	if sess.Verdict != "" {
		fmt.Fprintf(&b, "- Verdict: **%s** (threshold %.1f)\n", sess.Verdict, sess.Threshold)
	}
	if sess.Eliminated && sess.EliminationPhase != nil {
		fmt.Fprintf(&b, "- Eliminated at: %s phase\n", *sess.EliminationPhase)
	}
	if len(sess.Degraded) > 0 {
		fmt.Fprintf(&b, "- Degraded: evaluated without %s\n", strings.Join(sess.Degraded, ", "))
	}
	fmt.Fprintf(&b, "- Generated: %s\n", time.Now().UTC().Format(time.RFC3339))

	b.WriteString("\n## Scores\n\n")
	b.WriteString("| Bucket | Score |\n|---|---|\n")
	fmt.Fprintf(&b, "| Problem | %s |\n", formatScore(sess.Scores.Problem))
	fmt.Fprintf(&b, "| Solution | %s |\n", formatScore(sess.Scores.Solution))
	fmt.Fprintf(&b, "| Combined | %s |\n", formatScore(sess.Scores.Combined))

	b.WriteString("\n## Stages\n\n")
	b.WriteString("| Stage | Status | Duration |\n|---|---|---|\n")
	for _, rec := range sess.Phases.All() {
		fmt.Fprintf(&b, "| %s | %s | %s |\n", rec.Name, rec.Status, phaseDuration(rec))
	}

	if narrative != "" {
		b.WriteString("\n## Summary\n\n")
		b.WriteString(narrative)
		b.WriteString("\n")
	}

	b.WriteString("\n## Session document\n\n```json\n")
	if doc, err := json.MarshalIndent(sess, "", "  "); err == nil {
		b.Write(doc)
	}
	b.WriteString("\n```\n")

	return b.String()
}

func formatScore(score *float64) string {
	if score == nil {
		return "n/a"
	}
	return fmt.Sprintf("%.2f", *score)
}

func phaseDuration(rec *session.PhaseRecord) string {
	if rec.StartedAt == nil || rec.CompletedAt == nil {
		return "n/a"
	}
	return rec.CompletedAt.Sub(*rec.StartedAt).Round(time.Millisecond).String()
}
