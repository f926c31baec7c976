package aiclient

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"footergen/convert"
	"footergen/domain"
)

// Client talks to the AI sidecar that hosts the vision, drafting, rendering
// and correction models. One client implements all four pipeline adapters.
type Client struct {
	endpoint string
	apiKey   string
	http     *http.Client
}

var _ convert.VisionExtractor = (*Client)(nil)
var _ convert.Drafter = (*Client)(nil)
var _ convert.Renderer = (*Client)(nil)
var _ convert.Corrector = (*Client)(nil)

// NewClient creates a reusable HTTP client with an instrumented transport.
func NewClient(endpoint, apiKey string) *Client {
	return &Client{
		endpoint: strings.TrimRight(strings.TrimSpace(endpoint), "/"),
		apiKey:   apiKey,
		http: &http.Client{
			Timeout:   readEnvTimeout("AI_SIDECAR_TIMEOUT_SECONDS", 120*time.Second),
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

// NewClientFromEnv returns (nil, false) when no sidecar endpoint is
// configured.
func NewClientFromEnv() (*Client, bool) {
	endpoint := strings.TrimSpace(os.Getenv("AI_SIDECAR_ENDPOINT"))
	if endpoint == "" {
		return nil, false
	}
	return NewClient(endpoint, strings.TrimSpace(os.Getenv("AI_SIDECAR_API_KEY"))), true
}

// Describe sends an image URL for structured visual extraction.
func (c *Client) Describe(ctx context.Context, imageURL string) (*domain.VisualDescription, error) {
	if strings.TrimSpace(imageURL) == "" {
		return nil, errors.New("imageURL empty")
	}
	payload := map[string]any{
		"imageUrl": imageURL,
	}
	var desc domain.VisualDescription
	if err := c.post(ctx, "/describe", payload, &desc); err != nil {
		return nil, err
	}
	return &desc, nil
}

// Draft requests the initial HTML rendition for a job's reference.
func (c *Client) Draft(ctx context.Context, job *domain.ProcessingJob) (*convert.Draft, error) {
	if job == nil {
		return nil, errors.New("job is nil")
	}
	payload := map[string]any{
		"jobId":    job.ID,
		"source":   string(job.Source),
		"imageUrl": job.ImageURL,
		"width":    job.ImageWidth,
		"height":   job.ImageHeight,
	}
	if job.Source == domain.JobSourceFigma {
		payload["sourceUrl"] = job.SourceURL
	}
	if job.BrandID != "" {
		payload["brandId"] = job.BrandID
	}
	var draft convert.Draft
	if err := c.post(ctx, "/draft", payload, &draft); err != nil {
		return nil, err
	}
	return &draft, nil
}

// Render rasterizes candidate HTML at the given width. The sidecar returns
// the frame PNG base64-encoded and, when its vision stage is colocated, the
// description of the frame as well.
func (c *Client) Render(ctx context.Context, html string, width int) (*convert.Frame, error) {
	if strings.TrimSpace(html) == "" {
		return nil, errors.New("html empty")
	}
	payload := map[string]any{
		"html":  html,
		"width": width,
	}
	var resp struct {
		PNGBase64   string                    `json:"pngBase64"`
		Description *domain.VisualDescription `json:"description"`
	}
	if err := c.post(ctx, "/render", payload, &resp); err != nil {
		return nil, err
	}
	frame := &convert.Frame{Description: resp.Description}
	if resp.PNGBase64 != "" {
		png, err := base64.StdEncoding.DecodeString(resp.PNGBase64)
		if err != nil {
			return nil, fmt.Errorf("decode frame png: %w", err)
		}
		frame.PNG = png
	}
	if frame.Description == nil && len(frame.PNG) == 0 {
		return nil, errors.New("render returned neither description nor frame")
	}
	return frame, nil
}

// Revise asks the correction model to rewrite HTML against the directives.
func (c *Client) Revise(ctx context.Context, html string, directives []string) (string, error) {
	payload := map[string]any{
		"html":       html,
		"directives": directives,
	}
	var resp struct {
		HTML string `json:"html"`
	}
	if err := c.post(ctx, "/revise", payload, &resp); err != nil {
		return "", err
	}
	if strings.TrimSpace(resp.HTML) == "" {
		return "", errors.New("revise returned empty html")
	}
	return resp.HTML, nil
}

func (c *Client) post(ctx context.Context, path string, payload any, v any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("sidecar %s: unexpected status %s", path, resp.Status)
	}
	if v == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func readEnvTimeout(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || n <= 0 {
		return def
	}
	return time.Duration(n) * time.Second
}
