package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestAPIRegisterRateLimiting(t *testing.T) {
	env := newTestEnv(t, nil)

	sendRegister := func(email string, ip string) *httptest.ResponseRecorder {
		body, _ := json.Marshal(map[string]string{
			"email":           email,
			"password":        "strongpassword123",
			"confirmPassword": "strongpassword123",
		})
		req := httptest.NewRequest("POST", "/api/v1/register", bytes.NewBuffer(body))
		req.Header.Set("Content-Type", "application/json")
		req.RemoteAddr = ip + ":12345"
		w := httptest.NewRecorder()
		env.handler.ServeHTTP(w, req)
		return w
	}

	ip := "192.168.1.100"

	for i := 0; i < 5; i++ {
		w := sendRegister("user"+string(rune('a'+i))+"@x.com", ip)
		if w.Code != http.StatusCreated {
			t.Fatalf("Expected created, got %d. Body: %s", w.Code, w.Body.String())
		}
	}

	w := sendRegister("blocked@x.com", ip)
	if w.Code != http.StatusTooManyRequests {
		t.Errorf("Expected 429 Too Many Requests, got %d", w.Code)
	}

	w2 := sendRegister("other@x.com", "10.0.0.5")
	if w2.Code != http.StatusCreated {
		t.Errorf("Expected created for different IP, got %d", w2.Code)
	}
}

func TestAPILoginRateLimiting(t *testing.T) {
	env := newTestEnv(t, nil)
	env.signup(t, "a@x.com", "pw1")

	sendLogin := func(password string) int {
		body, _ := json.Marshal(map[string]string{"email": "a@x.com", "password": password})
		req := httptest.NewRequest("POST", "/api/v1/session", bytes.NewBuffer(body))
		req.Header.Set("Content-Type", "application/json")
		req.RemoteAddr = "192.168.1.7:4000"
		w := httptest.NewRecorder()
		env.handler.ServeHTTP(w, req)
		return w.Code
	}

	for i := 0; i < 5; i++ {
		if code := sendLogin("wrong"); code != http.StatusUnauthorized {
			t.Fatalf("Attempt %d: expected 401, got %d", i+1, code)
		}
	}

	// Blocked even with the right password.
	if code := sendLogin("pw1"); code != http.StatusTooManyRequests {
		t.Errorf("Expected 429 after repeated failures, got %d", code)
	}
}
