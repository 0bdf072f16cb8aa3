package skinroutine

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"
)

// AttemptLogger records one entry per generate-review attempt.
type AttemptLogger interface {
	LogAttempt(attempt AttemptLog) error
}

// NewAttemptLogFilePath returns a file path based on a cleaned up model name or id to make it easier to identify logs produced with various models.
func NewAttemptLogFilePath(sessionID, model string) string {
	return fmt.Sprintf(
		"./logs/%d.%s.%s.json",
		time.Now().Unix(),
		sessionID,
		strings.NewReplacer(":", "_", "/", "_").Replace(strings.ToLower(model)),
	)
}

// AttemptLog represents a single attempt of the generate-review loop
type AttemptLog struct {
	Attempt    int            `json:"attempt"`
	Timestamp  time.Time      `json:"timestamp"`
	Feedback   []string       `json:"feedback,omitempty"`
	Candidates int            `json:"candidates"`
	Draft      *RoutineDraft  `json:"draft,omitempty"`
	Verdict    *ReviewVerdict `json:"verdict,omitempty"`
	Error      string         `json:"error,omitempty"`
}

// FileAttemptLogger accumulates attempts and flushes them as one JSON document
type FileAttemptLogger struct {
	sessionID string
	attempts  []AttemptLog
	writer    io.Writer
}

func NewFileAttemptLogger(sessionID string, writer io.Writer) *FileAttemptLogger {
	return &FileAttemptLogger{
		sessionID: sessionID,
		attempts:  make([]AttemptLog, 0),
		writer:    writer,
	}
}

// LogAttempt buffers the attempt (does not flush immediately)
func (l *FileAttemptLogger) LogAttempt(attempt AttemptLog) error {
	l.attempts = append(l.attempts, attempt)
	return nil
}

// Flush writes all buffered attempts to the writer
func (l *FileAttemptLogger) Flush() error {
	if l.writer == nil {
		return nil
	}

	data, err := json.MarshalIndent(map[string]any{
		"review_session": map[string]any{
			"session_id": l.sessionID,
			"timestamp":  time.Now(),
			"attempts":   l.attempts,
		},
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal attempt log: %w", err)
	}

	if _, err := l.writer.Write(data); err != nil {
		return fmt.Errorf("failed to write attempt log: %w", err)
	}

	l.attempts = l.attempts[:0]
	return nil
}

type NoOpAttemptLogger struct{}

func NewNoOpAttemptLogger() *NoOpAttemptLogger {
	return &NoOpAttemptLogger{}
}

func (NoOpAttemptLogger) LogAttempt(AttemptLog) error {
	return nil
}

// StdoutAttemptLogger logs each attempt as a JSON line (for Lambda/CloudWatch)
type StdoutAttemptLogger struct {
	out io.Writer
}

func NewStdoutAttemptLogger() *StdoutAttemptLogger {
	return &StdoutAttemptLogger{out: os.Stdout}
}

func (l *StdoutAttemptLogger) LogAttempt(attempt AttemptLog) error {
	data, err := json.Marshal(attempt)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(l.out, string(data))
	return err
}
