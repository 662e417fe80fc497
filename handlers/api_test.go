package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"crudzocial/config"
	"crudzocial/models"
)

func apiRequest(t *testing.T, h http.Handler, method, path string, body any) (*httptest.ResponseRecorder, APIResponse) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if raw, ok := body.([]byte); ok {
			buf.Write(raw)
		} else if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	var resp APIResponse
	if w.Body.Len() > 0 {
		if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
			t.Fatalf("%s %s: response is not JSON: %s", method, path, w.Body.String())
		}
	}
	return w, resp
}

func dataMap(t *testing.T, resp APIResponse) map[string]any {
	t.Helper()
	m, ok := resp.Data.(map[string]any)
	if !ok {
		t.Fatalf("Expected object data, got %T", resp.Data)
	}
	return m
}

func TestAPIRegisterLoginFlow(t *testing.T) {
	env := newTestEnv(t, nil)
	h := env.handler

	w, resp := apiRequest(t, h, "POST", "/api/v1/register", map[string]string{
		"email": "a@x.com", "password": "pw1", "confirmPassword": "pw1", "firstName": "Ada",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("Register failed, expected 201, got %d. Body: %s", w.Code, w.Body.String())
	}
	if resp.Status != "success" || dataMap(t, resp)["id"] != float64(1) {
		t.Errorf("Unexpected response %+v", resp)
	}

	w, _ = apiRequest(t, h, "POST", "/api/v1/register", map[string]string{
		"email": "A@X.COM", "password": "pw2", "confirmPassword": "pw2",
	})
	if w.Code != http.StatusConflict {
		t.Errorf("Expected 409 for duplicate email, got %d", w.Code)
	}

	w, _ = apiRequest(t, h, "POST", "/api/v1/register", map[string]string{
		"email": "b@x.com", "password": "pw", "confirmPassword": "px",
	})
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for password mismatch, got %d", w.Code)
	}

	w, _ = apiRequest(t, h, "GET", "/api/v1/session", nil)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401 before login, got %d", w.Code)
	}

	w, resp = apiRequest(t, h, "POST", "/api/v1/session", map[string]string{"email": "a@x.com", "password": "wrong"})
	if w.Code != http.StatusUnauthorized || resp.Message != "Wrong email or password." {
		t.Errorf("Expected rejected login, got %d %+v", w.Code, resp)
	}

	w, resp = apiRequest(t, h, "POST", "/api/v1/session", map[string]string{"email": "a@x.com", "password": "pw1"})
	if w.Code != http.StatusOK {
		t.Fatalf("Login failed, expected 200, got %d", w.Code)
	}
	if dataMap(t, resp)["user_id"] != float64(1) {
		t.Errorf("Unexpected login data %+v", resp.Data)
	}

	w, resp = apiRequest(t, h, "GET", "/api/v1/session", nil)
	if w.Code != http.StatusOK || dataMap(t, resp)["email"] != "a@x.com" {
		t.Errorf("Expected current user, got %d %+v", w.Code, resp)
	}

	w, resp = apiRequest(t, h, "GET", "/api/v1/logs", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200 for logs, got %d", w.Code)
	}
	logs, _ := resp.Data.([]any)
	if len(logs) != 1 || logs[0].(map[string]any)["reason"] != "Logged in" {
		t.Errorf("Unexpected logs %+v", resp.Data)
	}

	w, _ = apiRequest(t, h, "DELETE", "/api/v1/session", nil)
	if w.Code != http.StatusOK {
		t.Errorf("Expected 200 on logout, got %d", w.Code)
	}
	w, _ = apiRequest(t, h, "GET", "/api/v1/logs", nil)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401 after logout, got %d", w.Code)
	}
}

func TestAPINotes(t *testing.T) {
	env := newTestEnv(t, nil)
	h := env.handler

	w, _ := apiRequest(t, h, "GET", "/api/v1/notes", nil)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("Expected 401 when anonymous, got %d", w.Code)
	}

	env.signup(t, "a@x.com", "pw1")

	w, resp := apiRequest(t, h, "POST", "/api/v1/notes", map[string]string{"title": "", "body": "text only"})
	if w.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d. Body: %s", w.Code, w.Body.String())
	}
	note := dataMap(t, resp)
	if note["title"] != "Untitled" {
		t.Errorf("Expected default title, got %v", note["title"])
	}
	id := int64(note["id"].(float64))

	w, _ = apiRequest(t, h, "POST", "/api/v1/notes", map[string]string{"title": " ", "body": ""})
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for empty note, got %d", w.Code)
	}
	w, _ = apiRequest(t, h, "POST", "/api/v1/notes", []byte("{not json"))
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for malformed body, got %d", w.Code)
	}

	w, resp = apiRequest(t, h, "PUT", "/api/v1/notes/"+itoa(id), map[string]string{"title": "Groceries", "body": "milk"})
	if w.Code != http.StatusOK || dataMap(t, resp)["title"] != "Groceries" {
		t.Errorf("Expected updated note, got %d %+v", w.Code, resp)
	}

	w, resp = apiRequest(t, h, "GET", "/api/v1/notes", nil)
	if list, _ := resp.Data.([]any); w.Code != http.StatusOK || len(list) != 1 {
		t.Errorf("Expected one note, got %d %+v", w.Code, resp.Data)
	}

	w, _ = apiRequest(t, h, "DELETE", "/api/v1/notes/"+itoa(id+1000), nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected 404 for unknown note, got %d", w.Code)
	}
	w, _ = apiRequest(t, h, "DELETE", "/api/v1/notes/"+itoa(id), nil)
	if w.Code != http.StatusOK {
		t.Errorf("Expected 200 on delete, got %d", w.Code)
	}
}

func TestAPIImages(t *testing.T) {
	env := newTestEnv(t, nil)
	h := env.handler
	env.signup(t, "a@x.com", "pw1")

	req := httptest.NewRequest("POST", "/api/v1/images", bytes.NewReader(pngBytes(t, 1000, 500)))
	req.Header.Set("Content-Type", "image/png")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusCreated {
		t.Fatalf("Expected 201 for raw upload, got %d. Body: %s", w.Code, w.Body.String())
	}
	var resp APIResponse
	json.Unmarshal(w.Body.Bytes(), &resp)
	img := dataMap(t, resp)
	if !strings.HasPrefix(img["data"].(string), "data:image/jpeg;base64,") {
		t.Errorf("Expected a JPEG data URL")
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, _ := mw.CreateFormFile("image", "a.png")
	part.Write(pngBytes(t, 20, 20))
	mw.Close()
	req = httptest.NewRequest("POST", "/api/v1/images", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusCreated {
		t.Fatalf("Expected 201 for multipart upload, got %d. Body: %s", w.Code, w.Body.String())
	}

	w, _ = apiRequest(t, h, "POST", "/api/v1/images", []byte("plain text"))
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for non-image, got %d", w.Code)
	}

	_, resp = apiRequest(t, h, "GET", "/api/v1/images", nil)
	list, _ := resp.Data.([]any)
	if len(list) != 2 {
		t.Fatalf("Expected 2 images, got %d", len(list))
	}
	id := int64(list[0].(map[string]any)["id"].(float64))

	w, _ = apiRequest(t, h, "DELETE", "/api/v1/images/"+itoa(id), nil)
	if w.Code != http.StatusOK {
		t.Errorf("Expected 200 on delete, got %d", w.Code)
	}
	w, _ = apiRequest(t, h, "DELETE", "/api/v1/images/"+itoa(id), nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected 404 on second delete, got %d", w.Code)
	}
}

func TestAPIImageTooLarge(t *testing.T) {
	env := newTestEnv(t, func(c *config.Config) { c.MaxUploadBytes = 64 })
	env.signup(t, "a@x.com", "pw1")

	req := httptest.NewRequest("POST", "/api/v1/images", bytes.NewReader(pngBytes(t, 300, 300)))
	req.Header.Set("Content-Type", "image/png")
	w := httptest.NewRecorder()
	env.handler.ServeHTTP(w, req)
	if w.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("Expected 413, got %d", w.Code)
	}
}

func TestAPIHealthAndRouting(t *testing.T) {
	env := newTestEnv(t, nil)
	h := env.handler

	w, resp := apiRequest(t, h, "GET", "/api/v1/health", nil)
	if w.Code != http.StatusOK || dataMap(t, resp)["users"] != float64(0) {
		t.Errorf("Unexpected health response %d %+v", w.Code, resp)
	}

	w, resp = apiRequest(t, h, "GET", "/api/v1/nope", nil)
	if w.Code != http.StatusNotFound || resp.Status != "error" {
		t.Errorf("Expected JSON 404, got %d %s", w.Code, w.Body.String())
	}

	w, _ = apiRequest(t, h, "PATCH", "/api/v1/session", nil)
	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("Expected 405, got %d", w.Code)
	}

	req := httptest.NewRequest("OPTIONS", "/api/v1/notes", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusForbidden {
		t.Errorf("Expected preflight from an unlisted origin to be refused, got %d", rr.Code)
	}

	env = newTestEnv(t, func(c *config.Config) { c.AllowedOrigins = []string{"http://localhost:3000"} })
	rr = httptest.NewRecorder()
	env.handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK || rr.Header().Get("Access-Control-Allow-Origin") != "http://localhost:3000" {
		t.Errorf("Unexpected preflight response %d %v", rr.Code, rr.Header())
	}
}

func TestAPIRefusesForeignOrigin(t *testing.T) {
	env := newTestEnv(t, nil)
	env.signup(t, "victim@x.com", "pw1")
	if _, err := env.server.notes.Create(context.Background(), "secret", "bank pin 1234"); err != nil {
		t.Fatal(err)
	}

	for _, path := range []string{"/api/v1/session", "/api/v1/notes", "/api/v1/logs", "/api/v1/images"} {
		req, _ := http.NewRequest("GET", env.ts.URL+path, nil)
		req.Header.Set("Origin", "https://evil.example")
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatal(err)
		}
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()

		if resp.StatusCode != http.StatusForbidden {
			t.Errorf("GET %s: expected 403, got %d", path, resp.StatusCode)
		}
		if acao := resp.Header.Get("Access-Control-Allow-Origin"); acao != "" {
			t.Errorf("GET %s: unexpected Access-Control-Allow-Origin %q", path, acao)
		}
		for _, leak := range []string{"victim@x.com", "bank pin"} {
			if strings.Contains(string(body), leak) {
				t.Errorf("GET %s leaked %q", path, leak)
			}
		}
	}

	// Same-origin callers still get through.
	req, _ := http.NewRequest("GET", env.ts.URL+"/api/v1/notes", nil)
	req.Header.Set("Origin", env.ts.URL)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected same-origin request to pass, got %d", resp.StatusCode)
	}
}

func TestAPIWritesRequireJSON(t *testing.T) {
	env := newTestEnv(t, nil)
	if _, err := env.auth.Register(context.Background(), models.Registration{Email: "a@x.com", Password: "pw1", ConfirmPassword: "pw1"}); err != nil {
		t.Fatal(err)
	}

	for _, ct := range []string{"text/plain", "application/x-www-form-urlencoded", ""} {
		req := httptest.NewRequest("POST", "/api/v1/session", strings.NewReader(`{"email":"a@x.com","password":"pw1"}`))
		if ct != "" {
			req.Header.Set("Content-Type", ct)
		}
		w := httptest.NewRecorder()
		env.handler.ServeHTTP(w, req)
		if w.Code != http.StatusUnsupportedMediaType {
			t.Errorf("Content-Type %q: expected 415, got %d", ct, w.Code)
		}
	}
	if env.server.sessions.IsAuthenticated(context.Background()) {
		t.Fatal("A non-JSON login must not start a session")
	}

	req := httptest.NewRequest("POST", "/api/v1/session", strings.NewReader(`{"email":"a@x.com","password":"pw1"}`))
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	w := httptest.NewRecorder()
	env.handler.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("Expected JSON login to succeed, got %d", w.Code)
	}

	req = httptest.NewRequest("POST", "/api/v1/notes", strings.NewReader(`{"title":"x"}`))
	req.Header.Set("Content-Type", "text/plain")
	w = httptest.NewRecorder()
	env.handler.ServeHTTP(w, req)
	if w.Code != http.StatusUnsupportedMediaType {
		t.Errorf("Expected 415 for a text/plain note, got %d", w.Code)
	}
}

func TestAPIMessagesFollowAcceptLanguage(t *testing.T) {
	env := newTestEnv(t, nil)

	req := httptest.NewRequest("GET", "/api/v1/notes", nil)
	req.Header.Set("Accept-Language", "es")
	w := httptest.NewRecorder()
	env.handler.ServeHTTP(w, req)

	var resp APIResponse
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Message != "Primero tienes que iniciar sesión." {
		t.Errorf("Expected Spanish message, got %q", resp.Message)
	}
}
