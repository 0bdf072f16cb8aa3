package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"skinroutine"
	"skinroutine/internal/wire"
	"skinroutine/slack"

	"github.com/aws/aws-lambda-go/lambda"
)

type Params struct {
	SessionID string                      `json:"session_id"`
	Analysis  skinroutine.AnalysisSummary `json:"analysis"`
}

type Results struct {
	SessionID string                    `json:"session_id"`
	Status    skinroutine.LoopStatus    `json:"status"`
	Attempts  int                       `json:"attempts"`
	Routine   *skinroutine.RoutineDraft `json:"routine,omitempty"`
	Feedback  []string                  `json:"feedback"`
	Persisted bool                      `json:"persisted"`
}

func main() {
	fn := func(ctx context.Context, params Params) (Results, error) {
		cfg, err := wire.LoadConfig()
		if err != nil {
			return Results{}, fmt.Errorf("failed to decode config: %w", err)
		}

		tracerProvider, _, otelShutdown, err := skinroutine.InitOtel(ctx)
		if err != nil {
			slog.Error("SETUP: Failed to initialize OpenTelemetry", "error", err)
			return Results{}, err
		}
		defer func() {
			if err := otelShutdown(ctx); err != nil {
				slog.Error("SETUP: Failed to shutdown OpenTelemetry", "error", err)
			}
		}()
		ctx, span := tracerProvider.Tracer(skinroutine.ScopePipeline).Start(ctx, "lambda")
		defer span.End()

		p, closeCatalog, err := wire.NewFactory(cfg).Pipeline(ctx, skinroutine.NewStdoutAttemptLogger())
		if err != nil {
			slog.Error("SETUP: Failed to build pipeline", "error", err)
			return Results{}, err
		}
		defer closeCatalog()

		session, err := p.Run(ctx, params.SessionID, params.Analysis)
		if err != nil {
			slog.Error("RESULT: Session failed", "error", err)
			return Results{}, err
		}

		if cfg.Storage.SlackWebhookURL != "" {
			var notifier skinroutine.SlackClient = slack.NewClient(cfg.Storage.SlackWebhookURL, http.DefaultClient)
			if err := notifier.PostOutcome(ctx, session.SessionID, session.Outcome); err != nil {
				slog.Error("Failed to post result to Slack", "error", err)
			}
		}

		return Results{
			SessionID: session.SessionID,
			Status:    session.Outcome.Status,
			Attempts:  session.Outcome.Attempts,
			Routine:   session.Outcome.Routine,
			Feedback:  session.Outcome.Feedback,
			Persisted: session.Persisted,
		}, nil
	}

	lambda.Start(fn)
}
