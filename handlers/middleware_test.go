package handlers

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/csrf"

	"crudzocial/logging"
)

func TestSecurityHeadersMiddleware(t *testing.T) {
	dummyHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	middleware := SecurityHeadersMiddleware(dummyHandler)

	req := httptest.NewRequest("GET", "/", nil)
	rr := httptest.NewRecorder()
	middleware.ServeHTTP(rr, req)

	expectedHeaders := map[string]string{
		"X-Content-Type-Options": "nosniff",
		"X-Frame-Options":        "SAMEORIGIN",
		"Referrer-Policy":        "strict-origin-when-cross-origin",
	}
	for key, expectedValue := range expectedHeaders {
		if value := rr.Header().Get(key); value != expectedValue {
			t.Errorf("Header %s: expected %s, got %s", key, expectedValue, value)
		}
	}

	csp := rr.Header().Get("Content-Security-Policy")
	for _, directive := range []string{"default-src 'self'", "img-src 'self' data:", "form-action 'self'"} {
		if !strings.Contains(csp, directive) {
			t.Errorf("CSP missing directive: %s. Got: %s", directive, csp)
		}
	}

	if rr.Code != http.StatusOK {
		t.Errorf("Expected status OK, got %v", rr.Code)
	}
}

func TestCacheControlHeaders(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	middleware := SecurityHeadersMiddleware(handler)

	req := httptest.NewRequest("GET", "/dashboard", nil)
	w := httptest.NewRecorder()
	middleware.ServeHTTP(w, req)
	if cc := w.Header().Get("Cache-Control"); !strings.Contains(cc, "no-store") {
		t.Errorf("Expected Cache-Control: no-store for /dashboard, got %q", cc)
	}

	req = httptest.NewRequest("GET", "/static/style.css", nil)
	w = httptest.NewRecorder()
	middleware.ServeHTTP(w, req)
	if cc := w.Header().Get("Cache-Control"); strings.Contains(cc, "no-store") {
		t.Errorf("Expected NO Cache-Control: no-store for /static/style.css, got %q", cc)
	}
}

func TestCORSMiddleware(t *testing.T) {
	reached := false
	middleware := CORSMiddleware([]string{"http://localhost:3000/"})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reached = true
	}))

	req := httptest.NewRequest("OPTIONS", "/api/v1/notes", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	rr := httptest.NewRecorder()
	middleware.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Errorf("Expected preflight from an allowed origin to pass, got %d", rr.Code)
	}
	if val := rr.Header().Get("Access-Control-Allow-Origin"); val != "http://localhost:3000" {
		t.Errorf("Expected Access-Control-Allow-Origin to be http://localhost:3000, got %s", val)
	}
	if val := rr.Header().Get("Access-Control-Allow-Methods"); val != "POST, GET, OPTIONS, PUT, DELETE" {
		t.Errorf("Unexpected Access-Control-Allow-Methods: %s", val)
	}
	if reached {
		t.Error("Preflight must not reach the handler")
	}

	// httptest requests are addressed to example.com.
	req = httptest.NewRequest("GET", "/api/v1/notes", nil)
	req.Header.Set("Origin", "http://example.com")
	rr = httptest.NewRecorder()
	middleware.ServeHTTP(rr, req)
	if !reached {
		t.Error("Expected a same-origin GET to reach the handler")
	}
	if val := rr.Header().Get("Access-Control-Allow-Origin"); val != "http://example.com" {
		t.Errorf("Expected same origin to be echoed, got %s", val)
	}

	reached = false
	rr = httptest.NewRecorder()
	middleware.ServeHTTP(rr, httptest.NewRequest("GET", "/api/v1/notes", nil))
	if !reached {
		t.Error("Expected a request without Origin to reach the handler")
	}
	if val := rr.Header().Get("Access-Control-Allow-Origin"); val != "" {
		t.Errorf("Expected no CORS grant without Origin, got %s", val)
	}
}

func TestCORSMiddlewareRefusesForeignOrigin(t *testing.T) {
	middleware := CORSMiddleware(nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("%s %s reached the handler", r.Method, r.URL.Path)
	}))

	for _, tc := range []struct {
		method, origin string
	}{
		{"GET", "https://evil.example"},
		{"OPTIONS", "https://evil.example"},
		{"POST", "null"},
		{"DELETE", "http://example.com.evil.example"},
	} {
		req := httptest.NewRequest(tc.method, "/api/v1/notes", nil)
		req.Header.Set("Origin", tc.origin)
		rr := httptest.NewRecorder()
		middleware.ServeHTTP(rr, req)

		if rr.Code != http.StatusForbidden {
			t.Errorf("%s from %s: expected 403, got %d", tc.method, tc.origin, rr.Code)
		}
		if val := rr.Header().Get("Access-Control-Allow-Origin"); val != "" {
			t.Errorf("%s from %s: unexpected Access-Control-Allow-Origin %s", tc.method, tc.origin, val)
		}
	}
}

func TestRequestLogger(t *testing.T) {
	var buf bytes.Buffer
	base := slog.New(slog.NewTextHandler(&buf, nil))

	var seen *slog.Logger
	handler := RequestLogger(base)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = logging.FromContext(r.Context(), nil)
		w.WriteHeader(http.StatusTeapot)
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest("GET", "/notes", nil))

	id := rr.Header().Get("X-Request-ID")
	if len(id) != 36 {
		t.Fatalf("Expected a UUID request id, got %q", id)
	}
	if seen == nil || seen == slog.Default() {
		t.Fatal("Expected a request-scoped logger in the context")
	}
	out := buf.String()
	for _, s := range []string{"request_id=" + id, "path=/notes", "status=418"} {
		if !strings.Contains(out, s) {
			t.Errorf("Expected %q in log output:\n%s", s, out)
		}
	}
}

func TestCSRFContext(t *testing.T) {
	key := []byte("01234567890123456789012345678901")
	protected := CSRFContext(false)(csrf.Protect(key, csrf.Secure(false))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})))

	rr := httptest.NewRecorder()
	protected.ServeHTTP(rr, httptest.NewRequest("POST", "/notes", nil))
	if rr.Code != http.StatusForbidden {
		t.Errorf("Expected form POST without token to be rejected, got %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	protected.ServeHTTP(rr, httptest.NewRequest("POST", "/api/v1/notes", nil))
	if rr.Code != http.StatusOK {
		t.Errorf("Expected API POST to skip the token check, got %d", rr.Code)
	}
}
