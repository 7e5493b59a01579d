// Package patients is an HTTP client for the patient-information backend.
// It resolves appointment data by cédula and records payment confirmations.
package patients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/dtalero78/bot-bsl-sub000/internal/models"
)

// DefaultRequestTimeout bounds each HTTP call to the backend.
const DefaultRequestTimeout = 30 * time.Second

// Opts holds configuration options for the patients client.
type Opts struct {
	BaseURL string
	APIKey  string
}

// Option defines a configuration option for the patients client.
type Option func(*Opts)

// WithBaseURL sets the backend base URL.
func WithBaseURL(base string) Option {
	return func(o *Opts) { o.BaseURL = base }
}

// WithAPIKey sets the backend API key.
func WithAPIKey(key string) Option {
	return func(o *Opts) { o.APIKey = key }
}

// Client calls the patient-information backend.
type Client struct {
	cfg     Opts
	httpCli *http.Client
}

// NewClient creates a patients client from options, falling back to the
// PATIENTS_BASE_URL and PATIENTS_API_KEY environment variables.
func NewClient(opts ...Option) (*Client, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = os.Getenv("PATIENTS_BASE_URL")
	}
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("PATIENTS_API_KEY")
	}
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("patients base URL must be provided")
	}
	slog.Debug("patients.NewClient: config loaded", "baseURL", cfg.BaseURL, "apiKey_set", cfg.APIKey != "")
	return &Client{
		cfg:     cfg,
		httpCli: &http.Client{Timeout: DefaultRequestTimeout},
	}, nil
}

// patientInfoResponse is the backend response for a patient lookup.
type patientInfoResponse struct {
	Cedula      string `json:"cedula"`
	Name        string `json:"nombre"`
	Appointment string `json:"cita"`
	ExamType    string `json:"tipoExamen"`
	Paid        bool   `json:"pagado"`
}

// GetPatientInfo resolves appointment data for a cédula.
func (c *Client) GetPatientInfo(ctx context.Context, cedula string) (*models.PatientInfo, error) {
	if cedula == "" {
		return nil, fmt.Errorf("cedula cannot be empty")
	}
	endpoint := fmt.Sprintf("%s/patientInformation?cedula=%s", c.cfg.BaseURL, url.QueryEscape(cedula))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build patient request: %w", err)
	}
	c.authorize(req)

	resp, err := c.httpCli.Do(req)
	if err != nil {
		slog.Error("patients.GetPatientInfo: request failed", "error", err, "cedula", cedula)
		return nil, fmt.Errorf("patient lookup failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("no patient found for cedula %s", cedula)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("patient backend returned status %d", resp.StatusCode)
	}

	var payload patientInfoResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("failed to decode patient response: %w", err)
	}
	return &models.PatientInfo{
		Cedula:      payload.Cedula,
		Name:        payload.Name,
		Appointment: payload.Appointment,
		ExamType:    payload.ExamType,
		Paid:        payload.Paid,
	}, nil
}

// MarkPaid records a payment confirmation for a cédula.
func (c *Client) MarkPaid(ctx context.Context, cedula string) error {
	if cedula == "" {
		return fmt.Errorf("cedula cannot be empty")
	}
	body, err := json.Marshal(map[string]string{"cedula": cedula})
	if err != nil {
		return fmt.Errorf("failed to marshal payment request: %w", err)
	}
	endpoint := c.cfg.BaseURL + "/marcarPagado"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build payment request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)

	resp, err := c.httpCli.Do(req)
	if err != nil {
		slog.Error("patients.MarkPaid: request failed", "error", err, "cedula", cedula)
		return fmt.Errorf("payment confirmation failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("payment backend returned status %d", resp.StatusCode)
	}
	slog.Info("patients.MarkPaid: payment recorded", "cedula", cedula)
	return nil
}

func (c *Client) authorize(req *http.Request) {
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", c.cfg.APIKey)
	}
}
