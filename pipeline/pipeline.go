package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"skinroutine"
	"skinroutine/retrieval"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type Retriever interface {
	Retrieve(ctx context.Context, analysis skinroutine.AnalysisSummary, strategy skinroutine.Strategy, catalog []skinroutine.CatalogItem) (retrieval.Result, error)
}

type Loop interface {
	Run(ctx context.Context, analysis skinroutine.AnalysisSummary, strategy skinroutine.Strategy, candidates []skinroutine.Candidate) (skinroutine.LoopOutcome, error)
}

// Deps are the collaborators of one pipeline. Routines may be nil, in which
// case approved routines are returned but not persisted.
type Deps struct {
	Strategist skinroutine.Strategist
	Catalog    skinroutine.CatalogStore
	Retriever  Retriever
	Loop       Loop
	Routines   skinroutine.RoutineStore
}

type Options struct {
	// CallTimeout bounds the Strategist call and the catalog read. Zero means
	// no timeout.
	CallTimeout time.Duration
	Tracer      trace.Tracer
	Now         func() time.Time
}

// Pipeline runs one recommendation session end to end.
type Pipeline struct {
	deps        Deps
	callTimeout time.Duration
	tracer      trace.Tracer
	now         func() time.Time
}

func New(deps Deps, opts Options) *Pipeline {
	if opts.Tracer == nil {
		opts.Tracer = otel.Tracer(skinroutine.ScopePipeline)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Pipeline{deps: deps, callTimeout: opts.CallTimeout, tracer: opts.Tracer, now: opts.Now}
}

// Session is everything a finished run produced.
type Session struct {
	SessionID  string
	Strategy   skinroutine.Strategy
	Retrieval  retrieval.Result
	Candidates []skinroutine.Candidate
	Outcome    skinroutine.LoopOutcome
	Persisted  bool
}

// Run executes Strategist, catalog snapshot, retrieval, grounding, the
// generate-review loop and persistence, in that order. An empty sessionID is
// replaced by a new UUID. Every failure is a *skinroutine.StageError.
func (p *Pipeline) Run(ctx context.Context, sessionID string, analysis skinroutine.AnalysisSummary) (Session, error) {
	if strings.TrimSpace(sessionID) == "" {
		sessionID = uuid.NewString()
	}

	ctx, span := p.tracer.Start(ctx, "Pipeline.Run", trace.WithAttributes(
		attribute.String("session.id", sessionID),
	))
	defer span.End()

	session, err := p.run(ctx, sessionID, analysis)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		span.RecordError(err)
		slog.Error("PIPELINE: Session failed", "session_id", sessionID, "error", err)
		return session, err
	}

	span.SetAttributes(
		attribute.String("session.status", string(session.Outcome.Status)),
		attribute.Int("session.attempts", session.Outcome.Attempts),
		attribute.Int("session.candidates", len(session.Candidates)),
	)
	slog.Info("PIPELINE: Session finished",
		"session_id", sessionID,
		"status", session.Outcome.Status,
		"attempts", session.Outcome.Attempts,
		"persisted", session.Persisted,
	)
	return session, nil
}

func (p *Pipeline) run(ctx context.Context, sessionID string, analysis skinroutine.AnalysisSummary) (Session, error) {
	session := Session{SessionID: sessionID}
	slog.Info("PIPELINE: Session started", "session_id", sessionID, "skin_type", analysis.SkinType, "concerns", len(analysis.TopConcerns))

	strategy, err := p.strategize(ctx, analysis)
	if err != nil {
		return session, &skinroutine.StageError{Stage: skinroutine.StageStrategist, Err: err}
	}
	session.Strategy = strategy

	catalog, err := p.listCatalog(ctx)
	if err != nil {
		return session, &skinroutine.StageError{Stage: skinroutine.StageCatalog, Err: err}
	}
	slog.Info("PIPELINE: Catalog snapshot loaded", "items", len(catalog))

	res, err := p.deps.Retriever.Retrieve(ctx, analysis, strategy, catalog)
	if err != nil {
		return session, &skinroutine.StageError{Stage: skinroutine.StageRetrieval, Err: err}
	}
	session.Retrieval = res

	session.Candidates = retrieval.Ground(res.Candidates, strategy)
	if len(session.Candidates) == 0 {
		slog.Warn("PIPELINE: No candidates retrieved, generating without products",
			"failures", len(res.Failures), "skipped", len(res.Skipped))
	}

	outcome, err := p.deps.Loop.Run(ctx, analysis, strategy, session.Candidates)
	if err != nil {
		var se *skinroutine.StageError
		if errors.As(err, &se) {
			return session, err
		}
		return session, &skinroutine.StageError{Stage: skinroutine.StageGenerator, Err: err}
	}
	session.Outcome = outcome

	if !outcome.Approved() || p.deps.Routines == nil {
		return session, nil
	}

	saved := skinroutine.SavedRoutine{
		SessionID: sessionID,
		Strategy:  strategy,
		Routine:   *outcome.Routine,
		Attempts:  outcome.Attempts,
		SavedAt:   p.now().UTC(),
	}
	if err := p.deps.Routines.Upsert(ctx, saved); err != nil {
		return session, &skinroutine.StageError{Stage: skinroutine.StagePersist, Err: err}
	}
	session.Persisted = true
	return session, nil
}

func (p *Pipeline) strategize(ctx context.Context, analysis skinroutine.AnalysisSummary) (skinroutine.Strategy, error) {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()
	return p.deps.Strategist.Strategize(ctx, analysis)
}

func (p *Pipeline) listCatalog(ctx context.Context) ([]skinroutine.CatalogItem, error) {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()
	return p.deps.Catalog.ListItems(ctx, "")
}

func (p *Pipeline) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if p.callTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, p.callTimeout)
}
