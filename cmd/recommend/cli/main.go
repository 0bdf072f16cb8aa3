package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"

	"skinroutine"
	"skinroutine/internal/wire"
	"skinroutine/slack"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Usage: cli [analysis.json] [session-id]
//
// Exits 1 when setup or the session fails. An exhausted session is a normal
// outcome and exits 0.
func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	ctx := context.Background()

	cfg, err := wire.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to decode: %s", err)
	}

	analysis, err := loadAnalysis(argOr(args, 0, "artifacts/analysis.json"))
	if err != nil {
		slog.Error("SETUP: Failed to load analysis", "error", err)
		return 1
	}

	sessionID := argOr(args, 1, uuid.NewString())

	logger, cleanup, err := newAttemptLogger(sessionID, cfg.Model.Provider+"-"+cfg.Model.ModelID)
	if err != nil {
		slog.Error("SETUP: Failed to create attempt logger", "error", err)
		return 1
	}
	defer func() {
		if err := cleanup(); err != nil {
			slog.Error("Failed to flush attempt log", "error", err)
		}
	}()

	if os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT") != "" {
		tracerProvider, _, otelShutdown, err := skinroutine.InitOtel(ctx)
		if err != nil {
			slog.Error("SETUP: Failed to initialize OpenTelemetry", "error", err)
			return 1
		}
		defer func() {
			if err := otelShutdown(ctx); err != nil {
				slog.Error("SETUP: Failed to shutdown OpenTelemetry", "error", err)
			}
		}()

		var span trace.Span
		ctx, span = tracerProvider.Tracer(skinroutine.ScopePipeline).Start(ctx, "cli", trace.WithAttributes(
			attribute.String("model.provider", cfg.Model.Provider),
			attribute.String("model.id", cfg.Model.ModelID),
			attribute.String("embedding.provider", cfg.Embedding.Provider),
		))
		defer span.End()
	}

	p, closeCatalog, err := wire.NewFactory(cfg).Pipeline(ctx, logger)
	if err != nil {
		slog.Error("SETUP: Failed to build pipeline", "error", err)
		return 1
	}
	defer closeCatalog()

	session, err := p.Run(ctx, sessionID, analysis)
	if err != nil {
		slog.Error("RESULT: Session failed", "error", err)
		return 1
	}

	if os.Getenv("DEBUG_DUMP") == "true" {
		skinroutine.Dump(session.Candidates)
	}

	out, err := json.MarshalIndent(session.Outcome, "", "  ")
	if err != nil {
		slog.Error("RESULT: Failed to marshal outcome", "error", err)
		return 1
	}
	fmt.Println(string(out))

	if cfg.Storage.SlackWebhookURL != "" {
		var notifier skinroutine.SlackClient = slack.NewClient(cfg.Storage.SlackWebhookURL, http.DefaultClient)
		if err := notifier.PostOutcome(ctx, session.SessionID, session.Outcome); err != nil {
			slog.Error("Failed to post result to Slack", "error", err)
		}
	}
	return 0
}

func argOr(args []string, i int, def string) string {
	if len(args) > i {
		return args[i]
	}
	return def
}

func loadAnalysis(path string) (skinroutine.AnalysisSummary, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return skinroutine.AnalysisSummary{}, err
	}
	var analysis skinroutine.AnalysisSummary
	if err := json.Unmarshal(data, &analysis); err != nil {
		return skinroutine.AnalysisSummary{}, fmt.Errorf("decode %s: %w", path, err)
	}
	return analysis, nil
}

func newAttemptLogger(sessionID, model string) (skinroutine.AttemptLogger, func() error, error) {
	if err := os.MkdirAll("logs", 0o755); err != nil {
		return nil, func() error { return err }, fmt.Errorf("failed to create logs dir: %w", err)
	}
	logFilePath := skinroutine.NewAttemptLogFilePath(sessionID, model)
	logFile, err := os.OpenFile(logFilePath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return nil, func() error { return err }, fmt.Errorf("failed to open log file: %w", err)
	}

	logger := skinroutine.NewFileAttemptLogger(sessionID, logFile)
	cleanup := func() error {
		return errors.Join(logger.Flush(), logFile.Close())
	}
	return logger, cleanup, nil
}
