package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"skinroutine"
)

type Client struct {
	webhookURL string
	httpClient skinroutine.HTTPClient
}

func NewClient(webhookURL string, httpClient skinroutine.HTTPClient) *Client {
	return &Client{
		webhookURL: webhookURL,
		httpClient: httpClient,
	}
}

// PostMessage posts text to the webhook. An empty channel uses the webhook's
// default channel.
func (c *Client) PostMessage(ctx context.Context, channel string, message string) error {
	body := map[string]any{"text": message}
	if channel != "" {
		body["channel"] = channel
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.webhookURL, bytes.NewReader(payload))
	if err != nil {
		return err
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("failed to post message: %s", resp.Status)
	}

	return nil
}

// PostOutcome posts a short summary of a finished session.
func (c *Client) PostOutcome(ctx context.Context, sessionID string, outcome skinroutine.LoopOutcome) error {
	return c.PostMessage(ctx, "", FormatOutcome(sessionID, outcome))
}

// FormatOutcome renders a session outcome as Slack mrkdwn.
func FormatOutcome(sessionID string, outcome skinroutine.LoopOutcome) string {
	var b strings.Builder
	if !outcome.Approved() {
		fmt.Fprintf(&b, ":warning: No routine validated for session `%s` after %d attempt(s).", sessionID, outcome.Attempts)
		if n := len(outcome.Feedback); n > 0 {
			fmt.Fprintf(&b, "\n*Last reviewer note:* %s", outcome.Feedback[n-1])
		}
		return b.String()
	}

	fmt.Fprintf(&b, ":white_check_mark: Routine approved for session `%s` after %d attempt(s).", sessionID, outcome.Attempts)
	r := outcome.Routine.Routine
	writeSteps(&b, "AM", r.AM)
	writeSteps(&b, "PM", r.PM)
	writeSteps(&b, "Weekly", r.Weekly)
	return b.String()
}

func writeSteps(b *strings.Builder, label string, steps []skinroutine.RoutineStep) {
	if len(steps) == 0 {
		return
	}
	names := make([]string, 0, len(steps))
	for _, s := range steps {
		name := s.Step
		if s.IsOptional {
			name += " (optional)"
		}
		names = append(names, name)
	}
	fmt.Fprintf(b, "\n*%s:* %s", label, strings.Join(names, " → "))
}
