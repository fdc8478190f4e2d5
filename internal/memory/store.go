package memory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/othentic-ai/ideationd/internal/vectorstore"
)

var tracer = otel.Tracer("ideationd.memory")

// Sentinel errors for context store operations.
var (
	// ErrUnboundedQuery is returned when a filter has no owner,
	// session, or type scope.
	ErrUnboundedQuery = errors.New("query must be bounded by owner, session, or type")

	// ErrNotYetVisible is returned when a record was not visible
	// within the wait deadline.
	ErrNotYetVisible = errors.New("record not yet visible")

	// ErrRetriesExhausted is returned when a write failed after all
	// retry attempts.
	ErrRetriesExhausted = errors.New("write retries exhausted")

	// ErrEmptyContent is returned for writes without content.
	ErrEmptyContent = errors.New("record content cannot be empty")

	// ErrMissingOwner is returned for writes without an owner scope.
	ErrMissingOwner = errors.New("record owner cannot be empty")
)

// maxQueryResults bounds how many records a single Query returns.
const maxQueryResults = 50

// Config holds tuning for the context store.
type Config struct {
	// MaxRetries is the maximum number of write attempts.
	MaxRetries int

	// VisibilityTimeout is the default WaitFor deadline.
	VisibilityTimeout time.Duration

	// PollInterval is how often WaitFor re-queries the store.
	PollInterval time.Duration
}

// ApplyDefaults sets default values for unset fields.
func (c *Config) ApplyDefaults() {
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.VisibilityTimeout == 0 {
		c.VisibilityTimeout = 60 * time.Second
	}
	if c.PollInterval == 0 {
		c.PollInterval = 2 * time.Second
	}
}

// Store is the append-only context store backed by a vector store.
//
// Writes are durable once acknowledged but may not be immediately
// visible to queries. Records are never updated or deleted.
type Store struct {
	backend vectorstore.Store
	config  Config
	logger  *zap.Logger
}

// NewStore creates a context store over the given backend.
func NewStore(backend vectorstore.Store, config Config, logger *zap.Logger) (*Store, error) {
	if backend == nil {
		return nil, errors.New("backend is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	config.ApplyDefaults()

	return &Store{
		backend: backend,
		config:  config,
		logger:  logger,
	}, nil
}

// Write appends a record to the store and returns a receipt.
//
// Transient backend failures are retried with exponential backoff up to
// the configured attempt limit; validation failures are not retried.
func (s *Store) Write(ctx context.Context, rec Record) (Receipt, error) {
	ctx, span := tracer.Start(ctx, "memory.Write")
	defer span.End()

	if rec.Content == "" {
		WritesTotal.WithLabelValues("error").Inc()
		return Receipt{}, ErrEmptyContent
	}
	if rec.Owner == "" {
		WritesTotal.WithLabelValues("error").Inc()
		return Receipt{}, ErrMissingOwner
	}

	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	span.SetAttributes(
		attribute.String("record.id", rec.ID),
		attribute.String("record.owner", rec.Owner),
		attribute.String("record.type", rec.Type),
	)

	metadata := make(map[string]interface{}, len(rec.Metadata)+4)
	for k, v := range rec.Metadata {
		metadata[k] = v
	}
	metadata[MetaOwner] = rec.Owner
	metadata[MetaSessionID] = rec.SessionID
	metadata[MetaType] = rec.Type
	metadata[MetaCreatedAt] = rec.CreatedAt.Format(time.RFC3339)

	doc := vectorstore.Document{
		ID:       rec.ID,
		Content:  rec.Content,
		Metadata: metadata,
	}

	attempts := 0
	operation := func() (Receipt, error) {
		attempts++
		if attempts > 1 {
			WriteRetriesTotal.Inc()
		}
		if _, err := s.backend.AddDocuments(ctx, []vectorstore.Document{doc}); err != nil {
			if errors.Is(err, vectorstore.ErrEmptyDocuments) || errors.Is(err, vectorstore.ErrInvalidConfig) {
				return Receipt{}, backoff.Permanent(err)
			}
			return Receipt{}, err
		}
		return Receipt{ID: rec.ID, Owner: rec.Owner, WrittenAt: time.Now().UTC()}, nil
	}

	receipt, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(uint(s.config.MaxRetries)),
	)
	if err != nil {
		WritesTotal.WithLabelValues("error").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.logger.Error("context store write failed",
			zap.String("owner", rec.Owner),
			zap.String("type", rec.Type),
			zap.Int("attempts", attempts),
			zap.Error(err),
		)
		return Receipt{}, fmt.Errorf("%w: %v", ErrRetriesExhausted, err)
	}

	WritesTotal.WithLabelValues("success").Inc()
	span.SetStatus(codes.Ok, "success")

	s.logger.Debug("record written",
		zap.String("id", receipt.ID),
		zap.String("owner", rec.Owner),
		zap.String("type", rec.Type),
		zap.Int("attempts", attempts),
	)

	return receipt, nil
}

// Query returns records matching the filter, most similar first.
//
// The filter must be bounded by owner, session, or type; unbounded
// scans are rejected with ErrUnboundedQuery. Results reflect the
// store's current visibility and may lag recent writes.
func (s *Store) Query(ctx context.Context, f Filter) ([]Record, error) {
	ctx, span := tracer.Start(ctx, "memory.Query")
	defer span.End()

	if !f.Bounded() {
		span.SetStatus(codes.Error, ErrUnboundedQuery.Error())
		return nil, ErrUnboundedQuery
	}

	span.SetAttributes(
		attribute.String("filter.owner", f.Owner),
		attribute.String("filter.session_id", f.SessionID),
		attribute.String("filter.type", f.Type),
	)

	results, err := s.backend.SearchWithFilters(ctx, probeText(f), maxQueryResults, f.metadata())
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("querying store: %w", err)
	}

	records := make([]Record, len(results))
	for i, r := range results {
		records[i] = recordFromResult(r)
	}

	span.SetAttributes(attribute.Int("results_count", len(records)))
	return records, nil
}

// WaitFor polls the store until a record matching the filter becomes
// visible or the configured visibility timeout elapses.
//
// Returns the first matching record, or ErrNotYetVisible on deadline.
func (s *Store) WaitFor(ctx context.Context, f Filter) (Record, error) {
	ctx, span := tracer.Start(ctx, "memory.WaitFor")
	defer span.End()

	if !f.Bounded() {
		return Record{}, ErrUnboundedQuery
	}

	start := time.Now()
	defer func() { WaitDuration.Observe(time.Since(start).Seconds()) }()

	deadline := time.NewTimer(s.config.VisibilityTimeout)
	defer deadline.Stop()
	ticker := time.NewTicker(s.config.PollInterval)
	defer ticker.Stop()

	for {
		records, err := s.Query(ctx, f)
		if err != nil {
			span.RecordError(err)
			return Record{}, err
		}
		if len(records) > 0 {
			span.SetStatus(codes.Ok, "success")
			return records[0], nil
		}

		select {
		case <-ctx.Done():
			return Record{}, ctx.Err()
		case <-deadline.C:
			WaitTimeoutsTotal.Inc()
			span.SetStatus(codes.Error, ErrNotYetVisible.Error())
			s.logger.Warn("visibility wait timed out",
				zap.String("owner", f.Owner),
				zap.String("type", f.Type),
				zap.Duration("timeout", s.config.VisibilityTimeout),
			)
			return Record{}, fmt.Errorf("%w: owner=%s type=%s after %s", ErrNotYetVisible, f.Owner, f.Type, s.config.VisibilityTimeout)
		case <-ticker.C:
		}
	}
}

// SearchSimilar finds records similar to the given text across all
// sessions, optionally restricted to a record type.
func (s *Store) SearchSimilar(ctx context.Context, text, recordType string, k int) ([]vectorstore.SearchResult, error) {
	ctx, span := tracer.Start(ctx, "memory.SearchSimilar")
	defer span.End()

	if text == "" {
		return nil, fmt.Errorf("search text cannot be empty")
	}
	if k <= 0 {
		k = 5
	}

	var filters map[string]interface{}
	if recordType != "" {
		filters = map[string]interface{}{MetaType: recordType}
	}

	results, err := s.backend.SearchWithFilters(ctx, text, k, filters)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("similarity search: %w", err)
	}

	span.SetAttributes(attribute.Int("results_count", len(results)))
	return results, nil
}

// probeText derives ranking text for a metadata-bounded query. The
// metadata filter determines the result set; the text only orders it.
func probeText(f Filter) string {
	if f.Type != "" {
		return f.Type
	}
	if f.Owner != "" {
		return f.Owner
	}
	return f.SessionID
}

func recordFromResult(r vectorstore.SearchResult) Record {
	rec := Record{
		ID:       r.ID,
		Content:  r.Content,
		Metadata: make(map[string]interface{}),
	}
	for k, v := range r.Metadata {
		switch k {
		case MetaOwner:
			rec.Owner, _ = v.(string)
		case MetaSessionID:
			rec.SessionID, _ = v.(string)
		case MetaType:
			rec.Type, _ = v.(string)
		case MetaCreatedAt:
			if s, ok := v.(string); ok {
				if ts, err := time.Parse(time.RFC3339, s); err == nil {
					rec.CreatedAt = ts
				}
			}
		default:
			rec.Metadata[k] = v
		}
	}
	return rec
}
