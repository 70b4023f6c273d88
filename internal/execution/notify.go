package execution

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/riverqueue/river"

	"github.com/iayos/backend/internal/events"
)

// NotifyArgs delivers one domain event to the notification webhook.
type NotifyArgs struct {
	Event events.Event `json:"event"`
}

func (NotifyArgs) Kind() string { return "notify" }

type NotifyWorker struct {
	river.WorkerDefaults[NotifyArgs]
	webhookURL string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewNotifyWorker posts events to webhookURL. With an empty URL events are only logged.
func NewNotifyWorker(webhookURL string, logger *slog.Logger) *NotifyWorker {
	if logger == nil {
		logger = slog.Default()
	}
	return &NotifyWorker{
		webhookURL: webhookURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     logger,
	}
}

func (w *NotifyWorker) Work(ctx context.Context, job *river.Job[NotifyArgs]) error {
	ev := job.Args.Event
	if w.webhookURL == "" {
		w.logger.Info("notification", "type", ev.Type, "job_id", ev.JobID, "recipients", ev.Recipients)
		return nil
	}

	body, err := json.Marshal(ev)
	if err != nil {
		return river.JobCancel(fmt.Errorf("encode event: %w", err))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.webhookURL, bytes.NewReader(body))
	if err != nil {
		return river.JobCancel(fmt.Errorf("build notify request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("network error calling notify webhook: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 500:
		return fmt.Errorf("notify webhook returned %d", resp.StatusCode)
	case resp.StatusCode >= 300:
		// A 4xx will not improve on retry.
		return river.JobCancel(fmt.Errorf("notify webhook returned %d", resp.StatusCode))
	}
	return nil
}
