package trigger

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"crontabd/internal/core"
)

// Header names carried on every trigger request so the target can correlate
// invocations.
const (
	HeaderTriggeredAt = "X-Crontab-Triggered-At"
	HeaderEventID     = "X-Crontab-Event-Id"
	HeaderTaskID      = "X-Crontab-Task-Id"
)

// WebhookTrigger invokes task webhooks over HTTP. It implements core.Trigger
// and never lets a transport error escape: any failure to reach the target or
// any response other than 204 counts as a failed trigger.
type WebhookTrigger struct {
	client *http.Client
	logger *slog.Logger
}

func NewWebhookTrigger(timeout time.Duration, logger *slog.Logger) *WebhookTrigger {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WebhookTrigger{
		client: &http.Client{Timeout: timeout},
		logger: logger,
	}
}

// Trig POSTs the task payload to the task's webhook URL. A 204 response is a
// successful trigger; a 410 marks the target gone; anything else fails.
func (t *WebhookTrigger) Trig(ctx context.Context, task core.TaskEntity, triggeredAt time.Time, eventID string) core.TriggerResult {
	body, err := json.Marshal(task.Task.Spec.Payload)
	if err != nil {
		t.logger.Error("marshal trigger payload", "task", task.ID, "err", err)
		return core.TriggerResult{}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, task.Task.Spec.URL, bytes.NewReader(body))
	if err != nil {
		t.logger.Error("build trigger request", "task", task.ID, "url", task.Task.Spec.URL, "err", err)
		return core.TriggerResult{}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderTriggeredAt, triggeredAt.UTC().Format(time.RFC3339))
	req.Header.Set(HeaderEventID, eventID)
	req.Header.Set(HeaderTaskID, task.ID)

	resp, err := t.client.Do(req)
	if err != nil {
		t.logger.Warn("trigger request failed", "task", task.ID, "url", task.Task.Spec.URL, "err", err)
		return core.TriggerResult{}
	}
	defer resp.Body.Close()
	// Drain so the connection can be reused.
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	switch resp.StatusCode {
	case http.StatusNoContent:
		return core.TriggerResult{Success: true}
	case http.StatusGone:
		return core.TriggerResult{Gone: true}
	default:
		t.logger.Warn("trigger target answered with unexpected status",
			"task", task.ID, "url", task.Task.Spec.URL, "status", resp.StatusCode)
		return core.TriggerResult{}
	}
}
