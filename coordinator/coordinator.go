package coordinator

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"skinroutine"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const defaultMaxRetries = 3

// State is a node of the generate-review state machine.
type State int

const (
	StateAttempting State = iota
	StateReviewing
	StateApproved
	StateExhausted
)

func (s State) String() string {
	switch s {
	case StateAttempting:
		return "attempting"
	case StateReviewing:
		return "reviewing"
	case StateApproved:
		return "approved"
	case StateExhausted:
		return "exhausted"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

func (s State) terminal() bool {
	return s == StateApproved || s == StateExhausted
}

type Options struct {
	// MaxRetries bounds the number of Generator invocations per Run.
	MaxRetries int
	// CallTimeout bounds each Generator and Reviewer call. Zero means no timeout.
	CallTimeout time.Duration
	Logger      skinroutine.AttemptLogger
	Tracer      trace.Tracer
	Meter       metric.Meter
}

// Coordinator alternates Generator and Reviewer calls until a draft is
// approved or the retry budget is spent.
type Coordinator struct {
	generator skinroutine.Generator
	reviewer  skinroutine.Reviewer
	opts      Options
	tracer    trace.Tracer

	attemptsCounter   metric.Int64Counter
	rejectionsCounter metric.Int64Counter
	outcomesCounter   metric.Int64Counter
	generatorLatency  metric.Float64Histogram
	reviewerLatency   metric.Float64Histogram
}

func New(generator skinroutine.Generator, reviewer skinroutine.Reviewer, opts Options) *Coordinator {
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = defaultMaxRetries
	}
	if opts.Logger == nil {
		opts.Logger = skinroutine.NewNoOpAttemptLogger()
	}
	if opts.Tracer == nil {
		opts.Tracer = otel.Tracer(skinroutine.ScopeCoordinator)
	}
	if opts.Meter == nil {
		opts.Meter = otel.Meter(skinroutine.ScopeCoordinator)
	}

	c := &Coordinator{
		generator: generator,
		reviewer:  reviewer,
		opts:      opts,
		tracer:    opts.Tracer,
	}
	c.attemptsCounter, _ = opts.Meter.Int64Counter("coordinator_attempts_total",
		metric.WithDescription("Total number of generate-review attempts"))
	c.rejectionsCounter, _ = opts.Meter.Int64Counter("coordinator_rejections_total",
		metric.WithDescription("Total number of drafts rejected by the reviewer"))
	c.outcomesCounter, _ = opts.Meter.Int64Counter("coordinator_outcomes_total",
		metric.WithDescription("Total number of finished loops by terminal status"))
	c.generatorLatency, _ = opts.Meter.Float64Histogram("generator_latency_seconds",
		metric.WithDescription("Time taken by a Generator call in seconds"))
	c.reviewerLatency, _ = opts.Meter.Float64Histogram("reviewer_latency_seconds",
		metric.WithDescription("Time taken by a Reviewer call in seconds"))
	return c
}

// loopState belongs to exactly one Run call.
type loopState struct {
	state    State
	attempt  int
	feedback []string
	routine  *skinroutine.RoutineDraft
}

type runInput struct {
	analysis   skinroutine.AnalysisSummary
	strategy   skinroutine.Strategy
	candidates []skinroutine.Candidate
}

// Run drives the loop to a terminal state. Exhaustion is reported through the
// outcome; any Generator or Reviewer failure, including malformed output or a
// timeout, is returned as a *skinroutine.StageError.
func (c *Coordinator) Run(ctx context.Context, analysis skinroutine.AnalysisSummary, strategy skinroutine.Strategy, candidates []skinroutine.Candidate) (skinroutine.LoopOutcome, error) {
	ctx, span := c.tracer.Start(ctx, "Coordinator.Run", trace.WithAttributes(
		attribute.Int("coordinator.max_retries", c.opts.MaxRetries),
		attribute.Int("coordinator.candidates", len(candidates)),
	))
	defer span.End()

	slog.Info("COORDINATOR: Starting generate-review loop", "max_retries", c.opts.MaxRetries, "candidates", len(candidates))

	in := runInput{analysis: analysis, strategy: strategy, candidates: candidates}
	st := &loopState{state: StateAttempting, feedback: make([]string, 0)}

	for !st.state.terminal() {
		if err := c.step(ctx, st, in); err != nil {
			span.SetStatus(codes.Error, err.Error())
			span.RecordError(err)
			c.outcomesCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("status", "failed")))
			return skinroutine.LoopOutcome{}, err
		}
	}

	outcome := skinroutine.LoopOutcome{
		Attempts: st.attempt + 1,
		Feedback: slices.Clone(st.feedback),
	}
	if st.state == StateApproved {
		outcome.Status = skinroutine.StatusApproved
		outcome.Routine = st.routine
	} else {
		outcome.Status = skinroutine.StatusExhausted
	}

	c.outcomesCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("status", string(outcome.Status))))
	span.SetAttributes(
		attribute.String("coordinator.status", string(outcome.Status)),
		attribute.Int("coordinator.attempts", outcome.Attempts),
	)
	slog.Info("COORDINATOR: Loop finished", "status", outcome.Status, "attempts", outcome.Attempts, "feedback_notes", len(outcome.Feedback))

	return outcome, nil
}

// step performs one Attempting -> Reviewing -> next-state pass.
func (c *Coordinator) step(ctx context.Context, st *loopState, in runInput) error {
	ctx, span := c.tracer.Start(ctx, "Coordinator.Attempt", trace.WithAttributes(
		attribute.Int("attempt", st.attempt),
		attribute.Int("feedback_notes", len(st.feedback)),
	))
	defer span.End()

	c.attemptsCounter.Add(ctx, 1)
	entry := skinroutine.AttemptLog{
		Attempt:    st.attempt,
		Timestamp:  time.Now(),
		Feedback:   slices.Clone(st.feedback),
		Candidates: len(in.candidates),
	}
	fail := func(stage skinroutine.Stage, err error) error {
		entry.Error = err.Error()
		c.logAttempt(entry)
		span.SetStatus(codes.Error, err.Error())
		span.RecordError(err)
		slog.Error("COORDINATOR: Attempt failed", "stage", stage, "attempt", st.attempt, "error", err)
		return &skinroutine.StageError{Stage: stage, Attempt: st.attempt, Err: err}
	}

	slog.Info("COORDINATOR: Generating draft", "attempt", st.attempt, "feedback_notes", len(st.feedback))
	draft, err := c.generate(ctx, skinroutine.GenerationInput{
		Analysis:   in.analysis,
		Strategy:   in.strategy,
		Candidates: in.candidates,
		Feedback:   slices.Clone(st.feedback),
		Attempt:    st.attempt,
	})
	if err != nil {
		return fail(skinroutine.StageGenerator, err)
	}
	entry.Draft = &draft
	st.state = StateReviewing

	slog.Info("COORDINATOR: Reviewing draft", "attempt", st.attempt, "products", len(draft.ProductKeys()))
	verdict, err := c.review(ctx, skinroutine.ReviewInput{
		Strategy: in.strategy,
		Draft:    draft,
		Attempt:  st.attempt,
	}, in.candidates)
	if err != nil {
		return fail(skinroutine.StageReviewer, err)
	}
	entry.Verdict = &verdict
	c.logAttempt(entry)

	span.SetAttributes(attribute.String("review_status", string(verdict.ReviewStatus)))

	if verdict.ReviewStatus == skinroutine.ReviewApproved {
		st.routine = verdict.ValidatedRecommendations
		st.state = StateApproved
		slog.Info("COORDINATOR: Draft approved", "attempt", st.attempt)
		return nil
	}

	c.rejectionsCounter.Add(ctx, 1)
	st.feedback = append(st.feedback, verdict.ReviewNotes...)
	if st.attempt+1 < c.opts.MaxRetries {
		slog.Warn("COORDINATOR: Draft rejected, retrying with feedback",
			"attempt", st.attempt,
			"notes", strings.Join(verdict.ReviewNotes, " | "),
		)
		st.attempt++
		st.state = StateAttempting
		return nil
	}

	slog.Warn("COORDINATOR: Draft rejected, retry budget exhausted", "attempt", st.attempt)
	st.state = StateExhausted
	return nil
}

func (c *Coordinator) generate(ctx context.Context, in skinroutine.GenerationInput) (skinroutine.RoutineDraft, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	start := time.Now()
	draft, err := c.generator.Generate(ctx, in)
	c.generatorLatency.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		return skinroutine.RoutineDraft{}, err
	}

	if err := draft.Validate(); err != nil {
		return skinroutine.RoutineDraft{}, skinroutine.Malformedf("draft: %v", err)
	}
	if unknown := draft.UnknownProductKeys(in.Candidates); len(unknown) > 0 {
		return skinroutine.RoutineDraft{}, skinroutine.Malformedf("draft references unknown products %v", unknown)
	}
	return draft, nil
}

func (c *Coordinator) review(ctx context.Context, in skinroutine.ReviewInput, candidates []skinroutine.Candidate) (skinroutine.ReviewVerdict, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	start := time.Now()
	verdict, err := c.reviewer.Review(ctx, in)
	c.reviewerLatency.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		return skinroutine.ReviewVerdict{}, err
	}

	if err := verdict.Validate(); err != nil {
		return skinroutine.ReviewVerdict{}, skinroutine.Malformedf("verdict: %v", err)
	}
	if verdict.ValidatedRecommendations != nil {
		if unknown := verdict.ValidatedRecommendations.UnknownProductKeys(candidates); len(unknown) > 0 {
			return skinroutine.ReviewVerdict{}, skinroutine.Malformedf("validated routine references unknown products %v", unknown)
		}
	}
	return verdict, nil
}

func (c *Coordinator) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.opts.CallTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.opts.CallTimeout)
}

func (c *Coordinator) logAttempt(entry skinroutine.AttemptLog) {
	if err := c.opts.Logger.LogAttempt(entry); err != nil {
		slog.Error("COORDINATOR: Failed to log attempt", "error", err, "attempt", entry.Attempt)
	}
}
