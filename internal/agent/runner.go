package agent

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/othentic-ai/ideationd/internal/logging"
	"github.com/othentic-ai/ideationd/internal/memory"
	"github.com/othentic-ai/ideationd/internal/session"
)

var tracer = otel.Tracer("ideationd.agent")

// similarityFloor is the minimum similarity for a past session to be
// flagged as related in the stage prompt.
const similarityFloor = 0.80

// maxSimilarSessions caps how many past sessions the prompt mentions.
const maxSimilarSessions = 3

// Runner executes one analysis stage at a time.
//
// The runner owns writes to the PhaseRecord it was handed and to the
// context store records tagged with its stage name; the session
// document itself belongs to the orchestrator.
type Runner struct {
	capability   Capability
	store        *memory.Store
	logger       *logging.Logger
	stageTimeout time.Duration
}

// NewRunner creates a stage runner.
func NewRunner(capability Capability, store *memory.Store, logger *logging.Logger, stageTimeout time.Duration) *Runner {
	if logger == nil {
		logger = logging.NewNop()
	}
	if stageTimeout <= 0 {
		stageTimeout = 5 * time.Minute
	}
	return &Runner{
		capability:   capability,
		store:        store,
		logger:       logger,
		stageTimeout: stageTimeout,
	}
}

// Run executes a stage: assembles its input context, invokes the
// reasoning capability exactly once, validates the output, and records
// it. On any failure the phase record is marked failed and the error
// returned; the capability call itself is never retried.
func (r *Runner) Run(ctx context.Context, spec Spec, sess *session.Session, rec *session.PhaseRecord) error {
	ctx = logging.WithStage(ctx, spec.Name)
	ctx, span := tracer.Start(ctx, "agent.Run")
	defer span.End()
	span.SetAttributes(
		attribute.String("stage", spec.Name),
		attribute.String("session_id", sess.SessionID),
	)

	if err := rec.MarkRunning(); err != nil {
		return err
	}

	prompt, err := r.assemblePrompt(ctx, spec, sess)
	if err != nil {
		return r.fail(ctx, span, rec, fmt.Errorf("assembling context: %w", err))
	}

	r.logger.Info(ctx, "stage dispatched", zap.String("record_type", spec.RecordType))

	invokeCtx, cancel := context.WithTimeout(ctx, r.stageTimeout)
	defer cancel()

	start := time.Now()
	output, err := r.capability.Invoke(invokeCtx, Request{System: spec.System, Prompt: prompt})
	if err != nil {
		if invokeCtx.Err() == context.DeadlineExceeded {
			err = fmt.Errorf("%w: timed out after %s", ErrCapabilityFailed, r.stageTimeout)
		}
		return r.fail(ctx, span, rec, err)
	}

	if spec.Validate != nil {
		if err := spec.Validate(output); err != nil {
			return r.fail(ctx, span, rec, err)
		}
	} else if strings.TrimSpace(output) == "" {
		return r.fail(ctx, span, rec, fmt.Errorf("%w: empty output", ErrInvalidOutput))
	}

	_, err = r.store.Write(ctx, memory.Record{
		Owner:     memory.OwnerScope(spec.Name, sess.SessionID),
		SessionID: sess.SessionID,
		Type:      spec.RecordType,
		Content:   output,
		Metadata:  map[string]interface{}{memory.MetaStage: spec.Name},
	})
	if err != nil {
		return r.fail(ctx, span, rec, fmt.Errorf("recording output: %w", err))
	}

	if err := rec.MarkComplete(output); err != nil {
		return err
	}

	span.SetStatus(codes.Ok, "success")
	r.logger.Info(ctx, "stage complete",
		zap.Duration("duration", time.Since(start)),
		zap.Int("output_bytes", len(output)),
	)
	return nil
}

func (r *Runner) fail(ctx context.Context, span trace.Span, rec *session.PhaseRecord, cause error) error {
	span.RecordError(cause)
	span.SetStatus(codes.Error, cause.Error())
	if err := rec.MarkFailed(cause); err != nil {
		r.logger.Warn(ctx, "could not mark phase failed", zap.Error(err))
	}
	r.logger.Error(ctx, "stage failed", zap.Error(cause))
	return cause
}

// assemblePrompt builds the stage input: the problem statement, prior
// session records if the stage depends on them, and a related-session
// advisory when similar past evaluations exist.
func (r *Runner) assemblePrompt(ctx context.Context, spec Spec, sess *session.Session) (string, error) {
	var b strings.Builder

	b.WriteString("## Problem statement\n\n")
	b.WriteString(sess.InputStatement)
	b.WriteString("\n")

	if spec.UsesPriorRecords {
		records, err := r.store.Query(ctx, memory.Filter{SessionID: sess.SessionID})
		if err != nil {
			return "", err
		}
		if len(records) > 0 {
			b.WriteString("\n## Findings so far\n")
			for _, rec := range records {
				if rec.Type == memory.TypeProblemStatement {
					continue
				}
				fmt.Fprintf(&b, "\n### %s\n%s\n", rec.Type, rec.Content)
			}
		}
	}

	if advisory := r.similarSessionAdvisory(ctx, sess); advisory != "" {
		b.WriteString(advisory)
	}

	b.WriteString("\n## Task\n\n")
	b.WriteString(spec.Instruction)
	b.WriteString("\n")

	return b.String(), nil
}

// similarSessionAdvisory is best-effort: a store failure degrades to no
// advisory rather than failing the stage.
func (r *Runner) similarSessionAdvisory(ctx context.Context, sess *session.Session) string {
	results, err := r.store.SearchSimilar(ctx, sess.InputStatement, memory.TypeProblemStatement, maxSimilarSessions+1)
	if err != nil {
		r.logger.Warn(ctx, "similar-session lookup failed", zap.Error(err))
		return ""
	}

	var lines []string
	for _, res := range results {
		if res.Score < similarityFloor {
			continue
		}
		if sid, _ := res.Metadata[memory.MetaSessionID].(string); sid == sess.SessionID {
			continue
		}
		lines = append(lines, fmt.Sprintf("- %q (similarity %.2f)", res.Content, res.Score))
		if len(lines) == maxSimilarSessions {
			break
		}
	}
	if len(lines) == 0 {
		return ""
	}

	return "\n## Related past evaluations\n\nThis problem resembles previously evaluated statements. Take their existence into account:\n" +
		strings.Join(lines, "\n") + "\n"
}
