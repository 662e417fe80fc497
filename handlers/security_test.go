package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestCredentialsNeverLeave(t *testing.T) {
	env := newTestEnv(t, nil)
	env.signup(t, "a@x.com", "pw1")

	u, err := env.users.Read(context.Background(), 1)
	if err != nil {
		t.Fatal(err)
	}

	check := func(name, body string) {
		t.Helper()
		for _, secret := range []string{u.PasswordHash, u.Salt, "passwordHash"} {
			if strings.Contains(body, secret) {
				t.Errorf("%s exposes %q", name, secret)
			}
		}
	}

	w := httptest.NewRecorder()
	env.handler.ServeHTTP(w, httptest.NewRequest("GET", "/api/v1/session", nil))
	check("GET /api/v1/session", w.Body.String())

	w = httptest.NewRecorder()
	env.handler.ServeHTTP(w, httptest.NewRequest("GET", "/profile", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("Expected profile page, got %d", w.Code)
	}
	check("GET /profile", w.Body.String())
}

func TestMarkupInUserDataIsEscaped(t *testing.T) {
	env := newTestEnv(t, nil)
	env.signup(t, "a@x.com", "pw1")

	if _, err := env.server.notes.Create(context.Background(), "<script>alert(1)</script>", ""); err != nil {
		t.Fatal(err)
	}

	w := httptest.NewRecorder()
	env.handler.ServeHTTP(w, httptest.NewRequest("GET", "/notes", nil))
	if strings.Contains(w.Body.String(), "<script>alert(1)</script>") {
		t.Error("Note title rendered unescaped")
	}
}

func TestImageURLRejectsNonImages(t *testing.T) {
	if got := imageURL("javascript:alert(1)"); got != "" {
		t.Errorf("Expected empty URL, got %q", got)
	}
	if got := imageURL("data:image/jpeg;base64,AAAA"); got != "data:image/jpeg;base64,AAAA" {
		t.Errorf("Expected data URL to pass, got %q", got)
	}
}
