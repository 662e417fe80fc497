package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"crudzocial/auth"
	"crudzocial/gallery"
	"crudzocial/i18n"
	"crudzocial/logging"
	"crudzocial/models"
	"crudzocial/notes"
	"crudzocial/session"
	"crudzocial/users"
)

// multipartOverhead is the slack allowed on top of the image limit for form
// boundaries and fields.
const multipartOverhead = 1 << 20

type APIResponse struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

func sendJSONResponse(w http.ResponseWriter, status int, response APIResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(response)
}

// profileView is a user record without credentials or owned data.
type profileView struct {
	ID        int       `json:"id"`
	Email     string    `json:"email"`
	FirstName string    `json:"firstName"`
	LastName  string    `json:"lastName"`
	Phone     string    `json:"phone"`
	Country   string    `json:"country"`
	City      string    `json:"city"`
	CreatedAt time.Time `json:"createdAt"`
}

func viewOf(u *models.User) profileView {
	return profileView{
		ID:        u.ID,
		Email:     u.Email,
		FirstName: u.FirstName,
		LastName:  u.LastName,
		Phone:     u.Phone,
		Country:   u.Country,
		City:      u.City,
		CreatedAt: u.CreatedAt,
	}
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, users.ErrDuplicateEmail):
		return http.StatusConflict
	case errors.Is(err, gallery.ErrTooLarge):
		return http.StatusRequestEntityTooLarge
	case auth.IsValidation(err), errors.Is(err, notes.ErrEmptyNote), errors.Is(err, gallery.ErrUnsupportedImage):
		return http.StatusBadRequest
	case errors.Is(err, notes.ErrNotFound), errors.Is(err, gallery.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, session.ErrNoSession):
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) apiLang(r *http.Request) string {
	return i18n.DetectLanguage(r, "")
}

func (s *Server) apiError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		logging.FromContext(r.Context(), s.logger).ErrorContext(r.Context(), "api request failed", "error", err)
	}
	sendJSONResponse(w, status, APIResponse{Status: "error", Message: i18n.T(s.apiLang(r), messageKey(err))})
}

func (s *Server) apiRoutes(r chi.Router) {
	r.Use(CORSMiddleware(s.cfg.AllowedOrigins))
	r.Get("/health", s.APIHealthHandler)
	r.With(s.requireJSON).Post("/register", s.APIRegisterHandler)
	r.With(s.requireJSON).Post("/session", s.APILoginHandler)
	r.Get("/session", s.APISessionHandler)
	r.Delete("/session", s.APILogoutHandler)

	r.Group(func(r chi.Router) {
		r.Use(s.requireAPISession)
		r.Get("/logs", s.APILogsHandler)
		r.Get("/notes", s.APIListNotesHandler)
		r.With(s.requireJSON).Post("/notes", s.APIAddNoteHandler)
		r.With(s.requireJSON).Put("/notes/{id}", s.APIUpdateNoteHandler)
		r.Delete("/notes/{id}", s.APIDeleteNoteHandler)
		r.Get("/images", s.APIListImagesHandler)
		r.Post("/images", s.APIAddImageHandler)
		r.Delete("/images/{id}", s.APIDeleteImageHandler)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		sendJSONResponse(w, http.StatusNotFound, APIResponse{Status: "error", Message: i18n.T(s.apiLang(r), "NotFound")})
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		sendJSONResponse(w, http.StatusMethodNotAllowed, APIResponse{Status: "error", Message: i18n.T(s.apiLang(r), "MethodNotAllowed")})
	})
}

func (s *Server) requireAPISession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.guard.Authenticated(r) {
			sendJSONResponse(w, http.StatusUnauthorized, APIResponse{Status: "error", Message: i18n.T(s.apiLang(r), "Unauthorized")})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// requireJSON refuses bodies a browser could send cross-origin without a
// preflight, such as text/plain and form encodings.
func (s *Server) requireJSON(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
		if err != nil || mediaType != "application/json" {
			sendJSONResponse(w, http.StatusUnsupportedMediaType, APIResponse{Status: "error", Message: i18n.T(s.apiLang(r), "UnsupportedMediaType")})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) APIHealthHandler(w http.ResponseWriter, r *http.Request) {
	n, err := s.users.Count(r.Context())
	if err != nil {
		s.apiError(w, r, err)
		return
	}
	sendJSONResponse(w, http.StatusOK, APIResponse{Status: "success", Data: map[string]any{"users": n}})
}

func (s *Server) APIRegisterHandler(w http.ResponseWriter, r *http.Request) {
	lang := s.apiLang(r)

	ip := getClientIP(r)
	if !s.signupLimiter.Allow(ip) {
		sendJSONResponse(w, http.StatusTooManyRequests, APIResponse{Status: "error", Message: i18n.T(lang, "TooManyAttempts")})
		return
	}

	var input models.Registration
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		sendJSONResponse(w, http.StatusBadRequest, APIResponse{Status: "error", Message: i18n.T(lang, "InvalidRequestBody")})
		return
	}

	user, err := s.auth.Register(r.Context(), input)
	if err != nil {
		s.apiError(w, r, err)
		return
	}

	s.signupLimiter.RecordFailure(ip)
	sendJSONResponse(w, http.StatusCreated, APIResponse{Status: "success", Data: viewOf(user)})
}

func (s *Server) APILoginHandler(w http.ResponseWriter, r *http.Request) {
	lang := s.apiLang(r)

	ip := getClientIP(r)
	if !s.loginLimiter.Allow(ip) {
		sendJSONResponse(w, http.StatusTooManyRequests, APIResponse{Status: "error", Message: i18n.T(lang, "TooManyAttempts")})
		return
	}

	var input struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		sendJSONResponse(w, http.StatusBadRequest, APIResponse{Status: "error", Message: i18n.T(lang, "InvalidRequestBody")})
		return
	}

	res, err := s.auth.Login(r.Context(), input.Email, input.Password)
	if err != nil {
		s.apiError(w, r, err)
		return
	}
	if !res.OK() {
		s.loginLimiter.RecordFailure(ip)
		sendJSONResponse(w, http.StatusUnauthorized, APIResponse{Status: "error", Message: i18n.T(lang, "InvalidCredentials")})
		return
	}

	s.loginLimiter.Reset(ip)
	sendJSONResponse(w, http.StatusOK, APIResponse{Status: "success", Data: map[string]any{"user_id": res.UserID}})
}

func (s *Server) APISessionHandler(w http.ResponseWriter, r *http.Request) {
	user, err := s.sessions.CurrentUser(r.Context())
	if err != nil {
		s.apiError(w, r, err)
		return
	}
	sendJSONResponse(w, http.StatusOK, APIResponse{Status: "success", Data: viewOf(user)})
}

func (s *Server) APILogoutHandler(w http.ResponseWriter, r *http.Request) {
	if err := s.auth.Logout(r.Context()); err != nil {
		s.apiError(w, r, err)
		return
	}
	sendJSONResponse(w, http.StatusOK, APIResponse{Status: "success"})
}

func (s *Server) APILogsHandler(w http.ResponseWriter, r *http.Request) {
	entries, err := s.recorder.List(r.Context())
	if err != nil {
		s.apiError(w, r, err)
		return
	}
	sendJSONResponse(w, http.StatusOK, APIResponse{Status: "success", Data: entries})
}

type noteInput struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

func (s *Server) APIListNotesHandler(w http.ResponseWriter, r *http.Request) {
	list, err := s.notes.List(r.Context())
	if err != nil {
		s.apiError(w, r, err)
		return
	}
	sendJSONResponse(w, http.StatusOK, APIResponse{Status: "success", Data: list})
}

func (s *Server) APIAddNoteHandler(w http.ResponseWriter, r *http.Request) {
	var input noteInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		sendJSONResponse(w, http.StatusBadRequest, APIResponse{Status: "error", Message: i18n.T(s.apiLang(r), "InvalidRequestBody")})
		return
	}
	note, err := s.notes.Create(r.Context(), input.Title, input.Body)
	if err != nil {
		s.apiError(w, r, err)
		return
	}
	sendJSONResponse(w, http.StatusCreated, APIResponse{Status: "success", Data: note})
}

func (s *Server) APIUpdateNoteHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r)
	if !ok {
		s.apiError(w, r, notes.ErrNotFound)
		return
	}
	var input noteInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		sendJSONResponse(w, http.StatusBadRequest, APIResponse{Status: "error", Message: i18n.T(s.apiLang(r), "InvalidRequestBody")})
		return
	}
	note, err := s.notes.Update(r.Context(), id, input.Title, input.Body)
	if err != nil {
		s.apiError(w, r, err)
		return
	}
	sendJSONResponse(w, http.StatusOK, APIResponse{Status: "success", Data: note})
}

func (s *Server) APIDeleteNoteHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r)
	if !ok {
		s.apiError(w, r, notes.ErrNotFound)
		return
	}
	if err := s.notes.Delete(r.Context(), id); err != nil {
		s.apiError(w, r, err)
		return
	}
	sendJSONResponse(w, http.StatusOK, APIResponse{Status: "success"})
}

func (s *Server) APIListImagesHandler(w http.ResponseWriter, r *http.Request) {
	images, err := s.gallery.List(r.Context())
	if err != nil {
		s.apiError(w, r, err)
		return
	}
	sendJSONResponse(w, http.StatusOK, APIResponse{Status: "success", Data: images})
}

// APIAddImageHandler accepts either a multipart form with an "image" file or
// the raw image as the request body.
func (s *Server) APIAddImageHandler(w http.ResponseWriter, r *http.Request) {
	if s.cfg.MaxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes+multipartOverhead)
	}

	var src io.Reader = r.Body
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		file, _, err := r.FormFile("image")
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				s.apiError(w, r, gallery.ErrTooLarge)
			} else {
				s.apiError(w, r, gallery.ErrUnsupportedImage)
			}
			return
		}
		defer file.Close()
		src = file
	}

	image, err := s.gallery.Add(r.Context(), src)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			err = gallery.ErrTooLarge
		}
		s.apiError(w, r, err)
		return
	}
	sendJSONResponse(w, http.StatusCreated, APIResponse{Status: "success", Data: image})
}

func (s *Server) APIDeleteImageHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r)
	if !ok {
		s.apiError(w, r, gallery.ErrNotFound)
		return
	}
	if err := s.gallery.Delete(r.Context(), id); err != nil {
		s.apiError(w, r, err)
		return
	}
	sendJSONResponse(w, http.StatusOK, APIResponse{Status: "success"})
}
