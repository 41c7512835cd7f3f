// Package generation runs one AI generation per request: rate check, context
// fetch, prompt build, provider call and publish to the store.
package generation

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/suPer8Hu/studytree-ai/internal/ai"
	"github.com/suPer8Hu/studytree-ai/internal/apperr"
	"github.com/suPer8Hu/studytree-ai/internal/auth"
	"github.com/suPer8Hu/studytree-ai/internal/common"
	"github.com/suPer8Hu/studytree-ai/internal/prompt"
	"github.com/suPer8Hu/studytree-ai/internal/ratelimit"
	"github.com/suPer8Hu/studytree-ai/internal/store/treestore"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// State names a pipeline stage. They appear in logs as the "state" field.
type State string

const (
	StateAuthenticating  State = "authenticating"
	StateRateChecking    State = "rate_checking"
	StateFetchingContext State = "fetching_context"
	StateBuildingPrompt  State = "building_prompt"
	StateGenerating      State = "generating"
	StateStreamingOut    State = "streaming_out"
	StatePublishing      State = "publishing"
	StateDone            State = "done"
	StateFailed          State = "failed"
)

// Terminal outcomes, logged as the "outcome" field.
const (
	OutcomeDone                   = "done"
	OutcomeFailed                 = "failed"
	OutcomeDeliveredPublishFailed = "delivered_publish_failed"
	OutcomePartialPublished       = "partial_published"
)

type Admitter interface {
	Admit(ctx context.Context, id auth.Identity) (ratelimit.Decision, error)
}

type NodeFetcher interface {
	FetchNode(ctx context.Context, nodeID int64, id auth.Identity) (*treestore.NodeContext, error)
}

type Publisher interface {
	Publish(ctx context.Context, a treestore.Artifact) (*treestore.PersistedArtifact, error)
}

// RetryQueue schedules a later publish of a pending ledger row.
type RetryQueue interface {
	EnqueuePublish(ctx context.Context, requestID string) error
}

type Request struct {
	NodeID            int64
	Kind              prompt.Kind
	AdditionalContext string
	Stream            bool
}

type Response struct {
	RequestID string `json:"request_id"`
	Response  string `json:"response"`
	ModelName string `json:"model_name"`
	TokensIn  int    `json:"tokens_in"`
	TokensOut int    `json:"tokens_out"`
}

type Options struct {
	Limiter Admitter
	Nodes   NodeFetcher
	Store   Publisher
	Engine  *ai.Engine
	// Ledger and Retry are optional.
	Ledger *Ledger
	Retry  RetryQueue
	Log    *zap.Logger

	PersistPartialOnDisconnect bool
	// NewRequestID defaults to a random UUID.
	NewRequestID func() string
}

type Service struct {
	limiter        Admitter
	nodes          NodeFetcher
	store          Publisher
	engine         *ai.Engine
	ledger         *Ledger
	retry          RetryQueue
	log            *zap.Logger
	tracer         trace.Tracer
	persistPartial bool
	newRequestID   func() string

	inflight sync.WaitGroup
}

func NewService(o Options) *Service {
	if o.Log == nil {
		o.Log = zap.NewNop()
	}
	if o.NewRequestID == nil {
		o.NewRequestID = uuid.NewString
	}
	return &Service{
		limiter:        o.Limiter,
		nodes:          o.Nodes,
		store:          o.Store,
		engine:         o.Engine,
		ledger:         o.Ledger,
		retry:          o.Retry,
		log:            o.Log,
		tracer:         otel.Tracer("github.com/suPer8Hu/studytree-ai/internal/generation"),
		persistPartial: o.PersistPartialOnDisconnect,
		newRequestID:   o.NewRequestID,
	}
}

func (s *Service) ModelName() string { return s.engine.ModelName() }

// prepared is everything known once the prompt is built and a RequestId is
// minted.
type prepared struct {
	requestID string
	prompt    string
	log       *zap.Logger
}

func (s *Service) prepare(ctx context.Context, id auth.Identity, req Request) (*prepared, error) {
	log := s.log.With(
		zap.Uint64("user_id", id.UserID),
		zap.Int64("node_id", req.NodeID),
		zap.String("kind", string(req.Kind)),
		zap.Bool("stream", req.Stream),
	)
	if !req.Kind.Valid() {
		return nil, apperr.Invalid(apperr.CodeInvalidKind, "unsupported kind")
	}

	log.Debug("pipeline", zap.String("state", string(StateRateChecking)))
	if err := s.admit(ctx, id); err != nil {
		s.fail(log, StateRateChecking, err)
		return nil, err
	}

	log.Debug("pipeline", zap.String("state", string(StateFetchingContext)))
	node, err := s.fetch(ctx, req.NodeID, id)
	if err != nil {
		s.fail(log, StateFetchingContext, err)
		return nil, err
	}

	log.Debug("pipeline", zap.String("state", string(StateBuildingPrompt)))
	_, span := s.tracer.Start(ctx, "prompt.build")
	text := prompt.Build(req.Kind, prompt.Node{Title: node.Title, UserNotes: node.UserNotes}, req.AdditionalContext)
	span.End()

	// The RequestId is minted here and nowhere else.
	rid := s.newRequestID()
	log = log.With(zap.String("request_id", rid))
	log.Debug("pipeline", zap.String("state", string(StateGenerating)))

	s.record(ctx, log, &Generation{
		RequestID: rid,
		UserID:    id.UserID,
		NodeID:    req.NodeID,
		Kind:      string(req.Kind),
		Stream:    req.Stream,
		Status:    StatusGenerating,
		ModelName: s.engine.ModelName(),
	})

	return &prepared{requestID: rid, prompt: text, log: log}, nil
}

func (s *Service) admit(ctx context.Context, id auth.Identity) error {
	ctx, span := s.tracer.Start(ctx, "ratelimit.admit")
	defer span.End()
	d, err := s.limiter.Admit(ctx, id)
	span.SetAttributes(attribute.Int64("ratelimit.count", d.Count), attribute.Bool("ratelimit.degraded", d.Degraded))
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func (s *Service) fetch(ctx context.Context, nodeID int64, id auth.Identity) (*treestore.NodeContext, error) {
	ctx, span := s.tracer.Start(ctx, "store.fetch_node", trace.WithAttributes(attribute.Int64("node_id", nodeID)))
	defer span.End()
	n, err := s.nodes.FetchNode(ctx, nodeID, id)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
	}
	return n, err
}

// Generate runs the batch pipeline. A publish failure fails the call since
// the caller has not received anything yet.
func (s *Service) Generate(ctx context.Context, id auth.Identity, req Request) (*Response, error) {
	req.Stream = false
	p, err := s.prepare(ctx, id, req)
	if err != nil {
		return nil, err
	}

	gctx, span := s.tracer.Start(ctx, "ai.generate")
	res, err := s.engine.Generate(gctx, p.prompt, false)
	span.End()
	if err != nil {
		s.failRecorded(ctx, p, StateGenerating, StatusFailed, err)
		return nil, err
	}

	a := s.artifact(p, id, req, res.Text, false)
	p.log.Debug("pipeline", zap.String("state", string(StatePublishing)))
	s.markStatus(ctx, p, StatusPublishing)

	// the write outlives a caller that gave up waiting
	pctx := context.WithoutCancel(ctx)
	persisted, err := s.publish(pctx, a)
	if err != nil {
		s.failRecorded(pctx, p, StatePublishing, StatusPublishFailed, err)
		return nil, err
	}
	s.done(pctx, p, a, persisted, OutcomeDone)

	return &Response{
		RequestID: p.requestID,
		Response:  res.Text,
		ModelName: a.ModelName,
		TokensIn:  a.TokensIn,
		TokensOut: a.TokensOut,
	}, nil
}

// PublishOutcome reports what happened to the durability write of a stream.
type PublishOutcome struct {
	Artifact *treestore.PersistedArtifact
	Partial  bool
	// Err is set when nothing was persisted.
	Err error
	// Pending is set when the publish failed and a replay was scheduled.
	Pending bool
}

// StreamSession is a running streaming generation. Fragments is closed when
// delivery ends, whatever the reason; Err is valid after that.
type StreamSession struct {
	RequestID string
	ModelName string
	Fragments <-chan string

	err       error
	persisted chan PublishOutcome
}

// Err is nil when the provider finished the stream. Call it only after
// Fragments is closed.
func (ss *StreamSession) Err() error { return ss.err }

// Persisted yields exactly one outcome once the publish step has finished.
// It never affects what the caller already received.
func (ss *StreamSession) Persisted() <-chan PublishOutcome { return ss.persisted }

// Stream runs the pipeline up to the provider call and returns a session
// that delivers fragments as the provider produces them. Errors returned
// here happened before any fragment was sent.
//
// Cancelling ctx means the caller went away: the provider stream is closed
// and, when enabled, whatever was generated is published tagged partial.
func (s *Service) Stream(ctx context.Context, id auth.Identity, req Request) (*StreamSession, error) {
	req.Stream = true
	p, err := s.prepare(ctx, id, req)
	if err != nil {
		return nil, err
	}

	gctx, span := s.tracer.Start(ctx, "ai.generate", trace.WithAttributes(attribute.Bool("stream", true)))
	res, err := s.engine.Generate(gctx, p.prompt, true)
	if err != nil {
		span.End()
		s.failRecorded(ctx, p, StateGenerating, StatusFailed, err)
		return nil, err
	}

	out := make(chan string)
	ss := &StreamSession{
		RequestID: p.requestID,
		ModelName: s.engine.ModelName(),
		Fragments: out,
		persisted: make(chan PublishOutcome, 1),
	}

	p.log.Debug("pipeline", zap.String("state", string(StateStreamingOut)))
	s.markStatus(ctx, p, StatusStreaming)

	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		defer close(ss.persisted)

		text, sent, interrupted, genErr := s.pump(ctx, res.Stream, out)
		span.SetAttributes(attribute.Int("fragments", sent))
		span.End()

		switch {
		case genErr != nil:
			ss.err = genErr
		case interrupted:
			ss.err = context.Cause(ctx)
		}
		close(out)

		ss.persisted <- s.finishStream(ctx, p, id, req, text, interrupted, genErr)
	}()

	return ss, nil
}

// pump moves fragments from the provider to out until the provider ends,
// fails, or ctx is cancelled. text is everything the provider produced,
// including a fragment read but not delivered.
func (s *Service) pump(ctx context.Context, st *ai.Stream, out chan<- string) (text string, sent int, interrupted bool, genErr error) {
	defer st.Close()

	var b strings.Builder
	for {
		frag, err := st.Next()
		if errors.Is(err, io.EOF) {
			return b.String(), sent, false, nil
		}
		if err != nil {
			if ctx.Err() != nil {
				return b.String(), sent, true, nil
			}
			return b.String(), sent, false, err
		}
		b.WriteString(frag)

		select {
		case out <- frag:
			sent++
		case <-ctx.Done():
			return b.String(), sent, true, nil
		}
	}
}

func (s *Service) finishStream(ctx context.Context, p *prepared, id auth.Identity, req Request, text string, interrupted bool, genErr error) PublishOutcome {
	pctx := context.WithoutCancel(ctx)

	if genErr != nil {
		s.failRecorded(pctx, p, StateStreamingOut, StatusFailed, genErr)
		return PublishOutcome{Err: genErr}
	}
	if interrupted {
		if !s.persistPartial || text == "" {
			err := apperr.Generation("caller disconnected before completion", context.Cause(ctx))
			s.failRecorded(pctx, p, StateStreamingOut, StatusFailed, err)
			return PublishOutcome{Err: err}
		}
		p.log.Info("caller disconnected, publishing partial output", zap.Int("chars", len(text)))
	}

	a := s.artifact(p, id, req, text, interrupted)
	p.log.Debug("pipeline", zap.String("state", string(StatePublishing)))
	s.markStatus(pctx, p, StatusPublishing)

	persisted, err := s.publish(pctx, a)
	if err != nil {
		// Delivery already happened; only durability is at stake now.
		pending := s.schedule(pctx, p, a, err)
		p.log.Warn("generation finished",
			zap.String("state", string(StateFailed)),
			zap.String("outcome", OutcomeDeliveredPublishFailed),
			zap.Bool("partial", a.Partial),
			zap.Bool("replay_scheduled", pending),
			zap.Error(err))
		return PublishOutcome{Partial: a.Partial, Err: err, Pending: pending}
	}

	outcome := OutcomeDone
	if a.Partial {
		outcome = OutcomePartialPublished
	}
	s.done(pctx, p, a, persisted, outcome)
	return PublishOutcome{Artifact: persisted, Partial: a.Partial}
}

// schedule parks a for replay. It reports false when no replay could be
// arranged and the row is left as publish_failed.
func (s *Service) schedule(ctx context.Context, p *prepared, a treestore.Artifact, cause error) bool {
	if s.ledger == nil || s.retry == nil {
		s.markFailed(ctx, p, StatusPublishFailed, cause)
		return false
	}
	if err := s.ledger.MarkPublishPending(ctx, a, cause.Error()); err != nil {
		p.log.Error("ledger: mark publish pending", zap.Error(err))
		return false
	}
	if err := s.retry.EnqueuePublish(ctx, a.RequestID); err != nil {
		p.log.Error("enqueue publish replay", zap.Error(err))
		s.markFailed(ctx, p, StatusPublishFailed, errors.Join(cause, err))
		return false
	}
	return true
}

func (s *Service) publish(ctx context.Context, a treestore.Artifact) (*treestore.PersistedArtifact, error) {
	ctx, span := s.tracer.Start(ctx, "store.publish", trace.WithAttributes(
		attribute.String("request_id", a.RequestID),
		attribute.Bool("partial", a.Partial),
	))
	defer span.End()
	persisted, err := s.store.Publish(ctx, a)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
	}
	return persisted, err
}

func (s *Service) artifact(p *prepared, id auth.Identity, req Request, text string, partial bool) treestore.Artifact {
	return treestore.Artifact{
		RequestID: p.requestID,
		NodeID:    req.NodeID,
		Kind:      string(req.Kind),
		Prompt:    p.prompt,
		Response:  text,
		ModelName: s.engine.ModelName(),
		TokensIn:  CountTokens(p.prompt),
		TokensOut: CountTokens(text),
		CreatedBy: id.UserID,
		Partial:   partial,
	}
}

// CountTokens approximates token usage by whitespace-delimited words.
func CountTokens(s string) int {
	return len(strings.Fields(s))
}

func (s *Service) done(ctx context.Context, p *prepared, a treestore.Artifact, persisted *treestore.PersistedArtifact, outcome string) {
	if s.ledger != nil {
		if err := s.ledger.MarkDone(ctx, p.requestID, a, persisted); err != nil {
			p.log.Error("ledger: mark done", zap.Error(err))
		}
	}
	p.log.Info("generation finished",
		zap.String("state", string(StateDone)),
		zap.String("outcome", outcome),
		zap.Int64("artifact_id", persisted.ID),
		zap.Int("tokens_in", a.TokensIn),
		zap.Int("tokens_out", a.TokensOut))
}

// fail logs a failure that happened before a RequestId existed.
func (s *Service) fail(log *zap.Logger, at State, err error) {
	log.Warn("generation finished",
		zap.String("state", string(StateFailed)),
		zap.String("failed_at", string(at)),
		zap.String("outcome", OutcomeFailed),
		zap.Error(err))
}

func (s *Service) failRecorded(ctx context.Context, p *prepared, at State, status Status, err error) {
	s.markFailed(ctx, p, status, err)
	s.fail(p.log, at, err)
}

func (s *Service) record(ctx context.Context, log *zap.Logger, g *Generation) {
	if s.ledger == nil {
		return
	}
	gid, err := common.NewULID()
	if err != nil {
		log.Error("ledger: new id", zap.Error(err))
		return
	}
	g.ID = gid
	if err := s.ledger.Create(ctx, g); err != nil {
		log.Error("ledger: create", zap.Error(err))
	}
}

func (s *Service) markStatus(ctx context.Context, p *prepared, st Status) {
	if s.ledger == nil {
		return
	}
	if err := s.ledger.MarkStatus(ctx, p.requestID, st); err != nil {
		p.log.Error("ledger: mark status", zap.String("status", string(st)), zap.Error(err))
	}
}

func (s *Service) markFailed(ctx context.Context, p *prepared, st Status, cause error) {
	if s.ledger == nil {
		return
	}
	if err := s.ledger.MarkFailed(ctx, p.requestID, st, cause.Error()); err != nil {
		p.log.Error("ledger: mark failed", zap.Error(err))
	}
}

// Wait blocks until every stream has finished its publish step, or ctx ends.
func (s *Service) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Lookup returns the ledger row for requestID if it belongs to id.
func (s *Service) Lookup(ctx context.Context, id auth.Identity, requestID string) (*Generation, error) {
	if s.ledger == nil {
		return nil, apperr.NotFound("generation not found")
	}
	g, err := s.ledger.GetByRequestID(ctx, requestID)
	if err != nil {
		if IsNotFound(err) {
			return nil, apperr.NotFound("generation not found")
		}
		return nil, err
	}
	if g.UserID != id.UserID {
		return nil, apperr.NotFound("generation not found")
	}
	return g, nil
}
