package httpapi

import (
	"net/http/httptest"
	"testing"
)

func TestUnauthenticatedRequestRejected(t *testing.T) {
	stub := newIdentityStub(t)
	_, router := newTestServer(t, stub, "")

	req := httptest.NewRequest("GET", "/jobs", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != 401 {
		t.Fatalf("expected 401, got %d: %s", w.Code, w.Body.String())
	}

	requestID := w.Header().Get("X-Request-ID")
	if requestID == "" {
		t.Fatal("expected X-Request-ID response header")
	}

	var body struct {
		Detail    string `json:"detail"`
		RequestID string `json:"request_id"`
	}
	decodeBody(t, w, &body)
	if body.Detail != "Authorization header missing" {
		t.Fatalf("unexpected detail: %q", body.Detail)
	}
	if body.RequestID != requestID {
		t.Fatalf("request_id %q does not match header %q", body.RequestID, requestID)
	}
}

func TestInvalidCredentialsRejected(t *testing.T) {
	stub := newIdentityStub(t)
	_, router := newTestServer(t, stub, "")

	req := httptest.NewRequest("GET", "/jobs", nil)
	req.Header.Set("X-API-Key", "pk_test_wrong")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != 401 {
		t.Fatalf("expected 401, got %d", w.Code)
	}
}

func TestRootIsPublic(t *testing.T) {
	stub := newIdentityStub(t)
	_, router := newTestServer(t, stub, "")

	req := httptest.NewRequest("GET", "/", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != 200 {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var body struct {
		Message string `json:"message"`
	}
	decodeBody(t, w, &body)
	if body.Message == "" {
		t.Fatal("expected a greeting message")
	}
}

func TestHealthHealthy(t *testing.T) {
	stub := newIdentityStub(t)
	_, router := newTestServer(t, stub, "")

	req := httptest.NewRequest("GET", "/health", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != 200 {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var body struct {
		Status       string            `json:"status"`
		Dependencies map[string]string `json:"dependencies"`
	}
	decodeBody(t, w, &body)
	if body.Status != "healthy" {
		t.Fatalf("expected healthy, got %q", body.Status)
	}
	if body.Dependencies["auth_provider"] != "reachable" {
		t.Fatalf("unexpected dependencies: %v", body.Dependencies)
	}
}

func TestHealthUnhealthyWhenProviderDown(t *testing.T) {
	stub := newIdentityStub(t)
	_, router := newTestServer(t, stub, "")
	stub.Server.Close()

	req := httptest.NewRequest("GET", "/health", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != 503 {
		t.Fatalf("expected 503, got %d", w.Code)
	}

	var body struct {
		Status string `json:"status"`
	}
	decodeBody(t, w, &body)
	if body.Status != "unhealthy" {
		t.Fatalf("expected unhealthy, got %q", body.Status)
	}
}

func TestCORSPreflightAllowed(t *testing.T) {
	stub := newIdentityStub(t)
	_, router := newTestServer(t, stub, "")

	req := httptest.NewRequest("OPTIONS", "/jobs", nil)
	req.Header.Set("Origin", "https://app.example.com")
	req.Header.Set("Access-Control-Request-Method", "POST")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code >= 400 {
		t.Fatalf("preflight rejected with %d", w.Code)
	}
	if w.Header().Get("Access-Control-Allow-Origin") == "" {
		t.Fatal("expected CORS headers on preflight response")
	}
}
