package patients

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestNewClientRequiresBaseURL(t *testing.T) {
	t.Setenv("PATIENTS_BASE_URL", "")
	if _, err := NewClient(); err == nil {
		t.Error("expected error without base URL")
	}
	if _, err := NewClient(WithBaseURL("https://backend.example.com")); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestGetPatientInfo(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/patientInformation" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if r.Header.Get("Authorization") != "backend-key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		switch r.URL.Query().Get("cedula") {
		case "1234567":
			json.NewEncoder(w).Encode(patientInfoResponse{
				Cedula:      "1234567",
				Name:        "Ana Pérez",
				Appointment: "2026-09-02 10:00",
				ExamType:    "ocupacional",
				Paid:        false,
			})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c, err := NewClient(WithBaseURL(srv.URL), WithAPIKey("backend-key"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	info, err := c.GetPatientInfo(context.Background(), "1234567")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if info.Name != "Ana Pérez" || info.ExamType != "ocupacional" || info.Paid {
		t.Errorf("unexpected patient info: %+v", info)
	}

	if _, err := c.GetPatientInfo(context.Background(), "9999999"); err == nil || !strings.Contains(err.Error(), "no patient found") {
		t.Errorf("expected not-found error, got %v", err)
	}
	if _, err := c.GetPatientInfo(context.Background(), ""); err == nil {
		t.Error("expected error for empty cedula")
	}
}

func TestMarkPaid(t *testing.T) {
	var gotBody map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/marcarPagado" || r.Method != http.MethodPost {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		data, _ := io.ReadAll(r.Body)
		json.Unmarshal(data, &gotBody)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c, err := NewClient(WithBaseURL(srv.URL))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := c.MarkPaid(context.Background(), "1234567"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotBody["cedula"] != "1234567" {
		t.Errorf("unexpected payload: %v", gotBody)
	}
	if err := c.MarkPaid(context.Background(), ""); err == nil {
		t.Error("expected error for empty cedula")
	}
}

func TestMarkPaidBackendError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c, err := NewClient(WithBaseURL(srv.URL))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := c.MarkPaid(context.Background(), "1234567"); err == nil || !strings.Contains(err.Error(), "500") {
		t.Errorf("expected backend error, got %v", err)
	}
}
