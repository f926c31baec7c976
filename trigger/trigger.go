// Package trigger kicks off the external conversion pipeline for a freshly
// created job. The invocation contract is fire-and-forget: only the success
// or failure of the kick itself is observable here; pipeline results arrive
// later as job-record updates.
package trigger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"footergen/streamq"
)

type PipelineTrigger interface {
	Kick(ctx context.Context, jobID string) error
}

// QueueTrigger enqueues the job id on the convert stream; the convert-worker
// fleet picks it up.
type QueueTrigger struct {
	q streamq.ConvertQueue
}

func NewQueueTrigger(q streamq.ConvertQueue) *QueueTrigger {
	return &QueueTrigger{q: q}
}

func (t *QueueTrigger) Kick(ctx context.Context, jobID string) error {
	if t == nil || t.q == nil {
		return errors.New("convert queue not initialized")
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return t.q.Enqueue(ctx, jobID)
}

// HTTPTrigger posts {"jobId": ...} to an external pipeline endpoint.
type HTTPTrigger struct {
	endpoint string
	apiKey   string
	http     *http.Client
}

func NewHTTPTrigger(endpoint, apiKey string) *HTTPTrigger {
	return &HTTPTrigger{
		endpoint: strings.TrimSpace(endpoint),
		apiKey:   strings.TrimSpace(apiKey),
		http: &http.Client{
			Timeout:   10 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

func (t *HTTPTrigger) Kick(ctx context.Context, jobID string) error {
	if t == nil || t.endpoint == "" {
		return errors.New("trigger endpoint empty")
	}
	jobID = strings.TrimSpace(jobID)
	if jobID == "" {
		return errors.New("jobID empty")
	}
	body, err := json.Marshal(map[string]string{"jobId": jobID})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if t.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+t.apiKey)
	}
	resp, err := t.http.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("trigger returned %s", resp.Status)
	}
	return nil
}
