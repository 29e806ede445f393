// Package diagram implements the diagram-render HTTP client (against an
// external PlantUML-compatible renderer) and the diagrams.zip bundler.
package diagram

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"time"
)

// Format is a rendered diagram's output image format.
type Format string

const (
	FormatPNG Format = "png"
	FormatSVG Format = "svg"
)

// Renderer converts one diagram's source text into a rendered image. The
// production implementation is a thin HTTP client against an external
// PlantUML (or compatible) rendering service; the renderer itself is an
// external collaborator, not implemented here.
type Renderer interface {
	Render(ctx context.Context, sourceLanguage, sourceText string, format Format) ([]byte, error)
}

// HTTPRenderer calls an external rendering service at BaseURL. Requests are
// POSTed with the raw diagram source and the desired format as a query
// parameter; the response body is the rendered image bytes.
type HTTPRenderer struct {
	BaseURL string
	Client  *http.Client
	retry   retryConfig
}

type retryConfig struct {
	maxAttempts int
	baseDelay   time.Duration
	maxDelay    time.Duration
}

var defaultRetry = retryConfig{maxAttempts: 4, baseDelay: 250 * time.Millisecond, maxDelay: 10 * time.Second}

// NewHTTPRenderer builds a Renderer against baseURL, e.g.
// "http://localhost:8080/plantuml".
func NewHTTPRenderer(baseURL string) *HTTPRenderer {
	return &HTTPRenderer{
		BaseURL: baseURL,
		Client:  &http.Client{Timeout: 30 * time.Second},
		retry:   defaultRetry,
	}
}

func (r *HTTPRenderer) Render(ctx context.Context, sourceLanguage, sourceText string, format Format) ([]byte, error) {
	url := fmt.Sprintf("%s/render?lang=%s&format=%s", r.BaseURL, sourceLanguage, format)

	var lastErr error
	for attempt := 0; attempt < r.retry.maxAttempts; attempt++ {
		if attempt > 0 {
			if err := sleepBackoff(ctx, r.retry, attempt); err != nil {
				return nil, err
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader([]byte(sourceText)))
		if err != nil {
			return nil, fmt.Errorf("diagram: build request: %w", err)
		}
		req.Header.Set("Content-Type", "text/plain")

		resp, err := r.Client.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("diagram: request: %w", err)
			continue // network error: transient
		}

		body, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			if readErr != nil {
				return nil, fmt.Errorf("diagram: read response: %w", readErr)
			}
			return body, nil
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			lastErr = fmt.Errorf("diagram: renderer returned %d", resp.StatusCode)
			continue // transient
		default:
			return nil, fmt.Errorf("diagram: renderer returned %d: %s", resp.StatusCode, string(body))
		}
	}
	return nil, fmt.Errorf("diagram: exhausted retries: %w", lastErr)
}

func sleepBackoff(ctx context.Context, cfg retryConfig, attempt int) error {
	delay := cfg.baseDelay * time.Duration(1<<uint(attempt-1))
	if delay > cfg.maxDelay {
		delay = cfg.maxDelay
	}
	jitter := time.Duration(rand.Int63n(int64(delay)/2 + 1))
	select {
	case <-time.After(delay + jitter):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

var _ Renderer = (*HTTPRenderer)(nil)
