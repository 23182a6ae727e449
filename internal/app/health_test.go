package app

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func readyServer(checks ...ReadyCheck) *HTTPServer {
	svc, _ := newTestService(&fakeStore{})
	svc.checks = checks
	return NewHTTPServer(svc, "*")
}

func getReady(t *testing.T, server *HTTPServer) (int, ReadyReport) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/api/ready", nil)
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)

	var report ReadyReport
	if err := json.Unmarshal(rr.Body.Bytes(), &report); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	return rr.Code, report
}

func readyOK(context.Context) error { return nil }

func TestHealthEndpoint(t *testing.T) {
	server := readyServer()
	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	rr := httptest.NewRecorder()

	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", rr.Code)
	}
	if rr.Header().Get("X-Request-ID") == "" {
		t.Error("expected a generated request id")
	}
}

func TestReadyEndpoint_Success(t *testing.T) {
	code, report := getReady(t, readyServer(
		ReadyCheck{Name: "database", Check: readyOK},
		ReadyCheck{Name: "redis", Check: readyOK},
		ReadyCheck{Name: "search", Optional: true, Check: readyOK},
	))

	if code != http.StatusOK || !report.OK || report.Status != "ready" {
		t.Fatalf("expected ready, got %d %+v", code, report)
	}
	for _, name := range []string{"database", "redis", "search"} {
		if report.Checks[name].Status != "ok" {
			t.Errorf("expected %s ok, got %+v", name, report.Checks[name])
		}
	}
}

func TestReadyEndpoint_DatabaseFailure(t *testing.T) {
	code, report := getReady(t, readyServer(
		ReadyCheck{Name: "database", Check: func(context.Context) error { return errors.New("connection refused") }},
		ReadyCheck{Name: "redis", Check: readyOK},
	))

	if code != http.StatusServiceUnavailable {
		t.Errorf("expected status 503, got %d", code)
	}
	if report.OK || report.Status != "not_ready" {
		t.Errorf("expected not_ready, got %+v", report)
	}
	if check := report.Checks["database"]; check.Status != "error" || check.Error != "connection refused" {
		t.Errorf("unexpected database check %+v", check)
	}
}

func TestReadyEndpoint_OptionalFailureDegrades(t *testing.T) {
	code, report := getReady(t, readyServer(
		ReadyCheck{Name: "database", Check: readyOK},
		ReadyCheck{Name: "search", Optional: true, Check: func(context.Context) error { return errors.New("meilisearch unreachable") }},
	))

	if code != http.StatusOK || !report.OK {
		t.Fatalf("optional failures must not fail readiness, got %d %+v", code, report)
	}
	if report.Status != "degraded" || report.Checks["search"].Status != "degraded" {
		t.Fatalf("expected degraded, got %+v", report)
	}
}
