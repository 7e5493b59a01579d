// Package pdf renders medical certificates through an external
// HTML-to-PDF conversion service and polls until the rendered file is
// publicly reachable.
package pdf

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"
)

// Constants for the render client configuration
const (
	// DefaultRequestTimeout bounds each HTTP call to the render service
	DefaultRequestTimeout = 60 * time.Second
	// DefaultPollAttempts is how many times WaitUntilAvailable probes the file
	DefaultPollAttempts = 10
	// DefaultPollInterval is the delay between availability probes
	DefaultPollInterval = 2 * time.Second
)

// Opts holds configuration options for the render client.
type Opts struct {
	APIKey         string
	RenderURL      string // conversion service endpoint
	CertificateURL string // certificate page base URL, document id appended
	PollAttempts   int
	PollInterval   time.Duration
}

// Option defines a configuration option for the render client.
type Option func(*Opts)

// WithAPIKey sets the conversion service API key (overrides $PDF_API_KEY).
func WithAPIKey(key string) Option {
	return func(o *Opts) { o.APIKey = key }
}

// WithRenderURL sets the conversion service endpoint.
func WithRenderURL(url string) Option {
	return func(o *Opts) { o.RenderURL = url }
}

// WithCertificateURL sets the base URL of the certificate page to render.
func WithCertificateURL(url string) Option {
	return func(o *Opts) { o.CertificateURL = url }
}

// WithPollAttempts overrides the availability probe count.
func WithPollAttempts(n int) Option {
	return func(o *Opts) { o.PollAttempts = n }
}

// WithPollInterval overrides the delay between availability probes.
func WithPollInterval(d time.Duration) Option {
	return func(o *Opts) { o.PollInterval = d }
}

// Client renders certificate pages to PDF via the conversion service.
type Client struct {
	cfg     Opts
	httpCli *http.Client
}

// NewClient creates a render client from options, falling back to the
// PDF_API_KEY, PDF_RENDER_URL and CERTIFICATE_URL environment variables.
func NewClient(opts ...Option) (*Client, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("PDF_API_KEY")
	}
	if cfg.RenderURL == "" {
		cfg.RenderURL = os.Getenv("PDF_RENDER_URL")
	}
	if cfg.CertificateURL == "" {
		cfg.CertificateURL = os.Getenv("CERTIFICATE_URL")
	}
	if cfg.RenderURL == "" {
		return nil, fmt.Errorf("PDF render URL must be provided")
	}
	if cfg.CertificateURL == "" {
		return nil, fmt.Errorf("certificate page URL must be provided")
	}
	if cfg.PollAttempts <= 0 {
		cfg.PollAttempts = DefaultPollAttempts
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	slog.Debug("pdf.NewClient: config loaded", "renderURL", cfg.RenderURL, "apiKey_set", cfg.APIKey != "")
	return &Client{
		cfg:     cfg,
		httpCli: &http.Client{Timeout: DefaultRequestTimeout},
	}, nil
}

// renderRequest is the conversion service request payload.
type renderRequest struct {
	URL       string `json:"url"`
	InlinePDF bool   `json:"inline"`
	FileName  string `json:"fileName"`
}

// renderResponse is the conversion service response payload.
type renderResponse struct {
	Success bool   `json:"success"`
	FileURL string `json:"FileUrl"`
	Error   string `json:"error,omitempty"`
}

// Render converts the certificate page for a document id into a PDF and
// returns the URL of the generated file.
func (c *Client) Render(ctx context.Context, documentID string) (string, error) {
	if documentID == "" {
		return "", fmt.Errorf("document id cannot be empty")
	}
	pageURL := fmt.Sprintf("%s/%s", c.cfg.CertificateURL, documentID)
	payload := renderRequest{
		URL:       pageURL,
		InlinePDF: false,
		FileName:  fmt.Sprintf("certificado_%s.pdf", documentID),
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal render request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.RenderURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to build render request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", c.cfg.APIKey)
	}

	resp, err := c.httpCli.Do(req)
	if err != nil {
		slog.Error("pdf.Render: request failed", "error", err, "documentId", documentID)
		return "", fmt.Errorf("render request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("render service returned status %d", resp.StatusCode)
	}

	var rendered renderResponse
	if err := json.NewDecoder(resp.Body).Decode(&rendered); err != nil {
		return "", fmt.Errorf("failed to decode render response: %w", err)
	}
	if !rendered.Success || rendered.FileURL == "" {
		slog.Error("pdf.Render: service reported failure", "error", rendered.Error, "documentId", documentID)
		return "", fmt.Errorf("render service failed: %s", rendered.Error)
	}
	slog.Info("pdf.Render: certificate rendered", "documentId", documentID, "fileURL", rendered.FileURL)
	return rendered.FileURL, nil
}

// WaitUntilAvailable probes the rendered file until it responds with 200 or
// the attempt budget runs out.
func (c *Client) WaitUntilAvailable(ctx context.Context, pdfURL string) error {
	var lastStatus int
	for attempt := 1; attempt <= c.cfg.PollAttempts; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodHead, pdfURL, nil)
		if err != nil {
			return fmt.Errorf("failed to build availability probe: %w", err)
		}
		resp, err := c.httpCli.Do(req)
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				slog.Debug("pdf.WaitUntilAvailable: file reachable", "url", pdfURL, "attempt", attempt)
				return nil
			}
			lastStatus = resp.StatusCode
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.cfg.PollInterval):
		}
	}
	slog.Warn("pdf.WaitUntilAvailable: file never became reachable", "url", pdfURL, "lastStatus", lastStatus)
	return fmt.Errorf("pdf at %s not available after %d attempts", pdfURL, c.cfg.PollAttempts)
}
