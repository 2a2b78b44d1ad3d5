// Package vision provides a client for an object-detection inference
// service. The service accepts an image upload and returns the classes it
// detected with confidence scores.
package vision

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/tena-analytics/warehouse-cli/internal/resilience"
)

// ErrUnreadable marks an image the service could not decode, or a local
// file that could not be opened. Callers treat it as a per-image condition,
// not a batch failure.
var ErrUnreadable = eris.New("vision: unreadable image")

// Detection is one detected object in an image.
type Detection struct {
	Class      string  `json:"class"`
	Confidence float64 `json:"confidence"`
}

// Client defines the detection operations used by the enricher.
type Client interface {
	// Detect uploads the image at path and returns detections at or above
	// the configured confidence floor.
	Detect(ctx context.Context, path string) ([]Detection, error)
}

// ClientOption configures the detection client.
type ClientOption func(*httpClient)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithRateLimit throttles detection calls to rps requests per second.
// Zero or negative disables throttling.
func WithRateLimit(rps float64) ClientOption {
	return func(c *httpClient) {
		if rps > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(rps), max(int(rps), 1))
		} else {
			c.limiter = nil
		}
	}
}

// WithMinConfidence drops detections below the given confidence score.
func WithMinConfidence(min float64) ClientOption {
	return func(c *httpClient) {
		c.minConfidence = min
	}
}

type httpClient struct {
	baseURL       string
	http          *http.Client
	limiter       *rate.Limiter
	minConfidence float64
}

// NewClient creates a detection client for the service at baseURL.
func NewClient(baseURL string, opts ...ClientOption) Client {
	c := &httpClient{
		baseURL:       baseURL,
		http:          &http.Client{Timeout: 60 * time.Second},
		minConfidence: 0.25,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type detectResponse struct {
	Detections []Detection `json:"detections"`
}

func (c *httpClient) Detect(ctx context.Context, path string) ([]Detection, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "vision: rate limit")
		}
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrap(ErrUnreadable, err.Error())
	}
	defer f.Close()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("image", filepath.Base(path))
	if err != nil {
		return nil, eris.Wrap(err, "vision: build multipart body")
	}
	if _, err := io.Copy(part, f); err != nil {
		return nil, eris.Wrap(ErrUnreadable, err.Error())
	}
	if err := mw.Close(); err != nil {
		return nil, eris.Wrap(err, "vision: build multipart body")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/detect", &body)
	if err != nil {
		return nil, eris.Wrap(err, "vision: build request")
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, resilience.NewTransientError(eris.Wrap(err, "vision: detect request"), 0)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		// fall through to decode
	case resilience.IsTransientHTTPStatus(resp.StatusCode):
		return nil, resilience.NewTransientError(
			eris.New(fmt.Sprintf("vision: detect returned status %d", resp.StatusCode)), resp.StatusCode)
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		// The service rejects images it cannot decode with a 4xx.
		return nil, eris.Wrap(ErrUnreadable, fmt.Sprintf("status %d", resp.StatusCode))
	default:
		return nil, eris.New(fmt.Sprintf("vision: detect returned status %d", resp.StatusCode))
	}

	var parsed detectResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, eris.Wrap(err, "vision: decode response")
	}

	out := parsed.Detections[:0]
	for _, d := range parsed.Detections {
		if d.Confidence >= c.minConfidence {
			out = append(out, d)
		}
	}
	return out, nil
}
