package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestHealthz(t *testing.T) {
	start := time.Date(2025, time.March, 10, 9, 0, 0, 0, time.UTC)
	now := start.Add(30 * time.Second)
	h := NewHealthHandlers(
		WithHealthBuildInfo("1.2.0", "prod", start),
		WithHealthClock(func() time.Time { return now }),
	)

	rec := httptest.NewRecorder()
	h.Healthz(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("parse response: %v", err)
	}
	if body["status"] != "ok" {
		t.Fatalf("expected status ok, got %v", body["status"])
	}
	if body["version"] != "1.2.0" || body["environment"] != "prod" {
		t.Fatalf("missing build info: %v", body)
	}
	if body["uptime"] != "30s" {
		t.Fatalf("expected uptime 30s, got %v", body["uptime"])
	}
}

func TestReadyzReportsFailingCheck(t *testing.T) {
	h := NewHealthHandlers(
		WithReadinessCheck("firestore", func(context.Context) error { return nil }),
		WithReadinessCheck("gateway", func(context.Context) error { return errors.New("connection refused") }),
	)

	rec := httptest.NewRecorder()
	h.Readyz(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 got %d", rec.Code)
	}
	var body struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("parse response: %v", err)
	}
	if body.Status != "unavailable" {
		t.Fatalf("expected unavailable, got %s", body.Status)
	}
	if body.Checks["firestore"] != "ok" {
		t.Fatalf("healthy check must report ok, got %q", body.Checks["firestore"])
	}
	if body.Checks["gateway"] != "connection refused" {
		t.Fatalf("failing check must carry its error, got %q", body.Checks["gateway"])
	}
}

func TestReadyzWithoutChecks(t *testing.T) {
	h := NewHealthHandlers()

	rec := httptest.NewRecorder()
	h.Readyz(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", rec.Code)
	}
}
