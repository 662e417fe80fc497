package handlers

import (
	"bytes"
	"embed"
	"encoding/csv"
	"errors"
	"html/template"
	"io/fs"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/dchest/captcha"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/csrf"

	"crudzocial/activity"
	"crudzocial/auth"
	"crudzocial/config"
	"crudzocial/gallery"
	"crudzocial/i18n"
	"crudzocial/logging"
	"crudzocial/models"
	"crudzocial/notes"
	"crudzocial/session"
	"crudzocial/users"
)

//go:embed templates/*.html static/*
var assets embed.FS

// Deps are the services the HTTP surface is built on.
type Deps struct {
	Config   config.Config
	Users    *users.Store
	Sessions *session.Manager
	Auth     *auth.Service
	Recorder *activity.Recorder
	Notes    *notes.Service
	Gallery  *gallery.Service
	Flash    *auth.FlashStore
	Logger   *slog.Logger
}

type Server struct {
	cfg      config.Config
	users    *users.Store
	sessions *session.Manager
	auth     *auth.Service
	guard    *auth.Guard
	recorder *activity.Recorder
	notes    *notes.Service
	gallery  *gallery.Service
	flash    *auth.FlashStore
	logger   *slog.Logger

	loginLimiter  *rateLimiter
	signupLimiter *rateLimiter
}

func NewServer(d Deps) *Server {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:           d.Config,
		users:         d.Users,
		sessions:      d.Sessions,
		auth:          d.Auth,
		guard:         auth.NewGuard(d.Sessions, "/login"),
		recorder:      d.Recorder,
		notes:         d.Notes,
		gallery:       d.Gallery,
		flash:         d.Flash,
		logger:        logger,
		loginLimiter:  newRateLimiter(maxAttempts, windowDuration, blockDuration),
		signupLimiter: newRateLimiter(maxAttempts, windowDuration, blockDuration),
	}
}

// Routes builds the router. Pages behind the guard redirect anonymous
// visitors to /login; the JSON API answers them with 401.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(RequestLogger(s.logger))
	r.Use(SecurityHeadersMiddleware)

	static, _ := fs.Sub(assets, "static")
	r.Handle("/static/*", http.StripPrefix("/static/", http.FileServer(http.FS(static))))
	r.Handle("/captcha/*", captcha.Server(captcha.StdWidth, captcha.StdHeight))

	r.Get("/", s.IndexHandler)
	r.Get("/login", s.LoginHandler)
	r.Post("/login", s.LoginHandler)
	r.Get("/register", s.RegisterHandler)
	r.Post("/register", s.RegisterHandler)
	r.Post("/logout", s.LogoutHandler)

	r.Group(func(r chi.Router) {
		r.Use(s.guard.Middleware)
		r.Get("/dashboard", s.DashboardHandler)
		r.Get("/profile", s.ProfileHandler)
		r.Post("/profile", s.ProfileHandler)
		r.Post("/profile/delete", s.DeleteAccountHandler)
		r.Get("/logs", s.LogsHandler)
		r.Get("/logs/export", s.ExportLogsHandler)
		r.Get("/gallery", s.GalleryHandler)
		r.Post("/gallery", s.AddImageHandler)
		r.Post("/gallery/{id}/delete", s.DeleteImageHandler)
		r.Get("/notes", s.NotesHandler)
		r.Post("/notes", s.AddNoteHandler)
		r.Post("/notes/{id}", s.UpdateNoteHandler)
		r.Post("/notes/{id}/delete", s.DeleteNoteHandler)
	})

	r.Route("/api/v1", s.apiRoutes)
	return r
}

// messageKey maps an error to the translation key shown to the user.
func messageKey(err error) string {
	switch {
	case errors.Is(err, users.ErrDuplicateEmail):
		return "EmailAlreadyExists"
	case errors.Is(err, auth.ErrPasswordMismatch):
		return "PasswordsDoNotMatch"
	case errors.Is(err, auth.ErrMissingField):
		return "MissingFields"
	case errors.Is(err, auth.ErrInvalidCaptcha):
		return "InvalidCaptcha"
	case errors.Is(err, notes.ErrEmptyNote):
		return "EmptyNote"
	case errors.Is(err, gallery.ErrTooLarge):
		return "ImageTooLarge"
	case errors.Is(err, gallery.ErrUnsupportedImage):
		return "UnsupportedImage"
	case errors.Is(err, notes.ErrNotFound), errors.Is(err, gallery.ErrNotFound):
		return "NotFound"
	case errors.Is(err, session.ErrNoSession):
		return "Unauthorized"
	default:
		return "InternalError"
	}
}

// fail logs unexpected errors and queues the matching flash message.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	key := messageKey(err)
	if key == "InternalError" {
		logging.FromContext(r.Context(), s.logger).ErrorContext(r.Context(), "request failed", "error", err)
	}
	s.flash.Add(w, r, auth.FlashError, key)
}

func (s *Server) redirect(w http.ResponseWriter, r *http.Request, path string) {
	http.Redirect(w, r, path, http.StatusSeeOther)
}

func idParam(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	return id, err == nil
}

// language resolves the page language and remembers an explicit ?lang= choice.
func (s *Server) language(w http.ResponseWriter, r *http.Request) string {
	lang := i18n.DetectLanguage(r, s.flash.Language(r))
	if q := r.URL.Query().Get("lang"); q != "" && q == lang && q != s.flash.Language(r) {
		s.flash.SetLanguage(w, r, lang)
	}
	return lang
}

func imageURL(data string) template.URL {
	if strings.HasPrefix(data, "data:image/") {
		return template.URL(data)
	}
	return ""
}

func (s *Server) renderTemplate(w http.ResponseWriter, r *http.Request, name string, data map[string]any) {
	lang := s.language(w, r)

	funcMap := template.FuncMap{
		"T": func(key string) string {
			return i18n.T(lang, key)
		},
		"imageURL": imageURL,
	}

	tmpl, err := template.New(name).Funcs(funcMap).ParseFS(assets, "templates/layout.html", "templates/"+name)
	if err != nil {
		logging.FromContext(r.Context(), s.logger).ErrorContext(r.Context(), "parse template", "template", name, "error", err)
		http.Error(w, i18n.T(lang, "InternalError"), http.StatusInternalServerError)
		return
	}

	if data == nil {
		data = map[string]any{}
	}
	data["AppName"] = s.cfg.AppName
	data["Lang"] = lang
	data["Languages"] = i18n.Languages()
	data["csrfField"] = csrf.TemplateField(r)
	data["Flashes"] = s.flash.Pop(w, r)
	data["LoggedIn"] = s.guard.Authenticated(r)

	var buf bytes.Buffer
	if err := tmpl.ExecuteTemplate(&buf, "layout", data); err != nil {
		logging.FromContext(r.Context(), s.logger).ErrorContext(r.Context(), "render template", "template", name, "error", err)
		http.Error(w, i18n.T(lang, "InternalError"), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	buf.WriteTo(w)
}

func (s *Server) IndexHandler(w http.ResponseWriter, r *http.Request) {
	if s.guard.Authenticated(r) {
		s.redirect(w, r, "/dashboard")
		return
	}
	s.renderTemplate(w, r, "index.html", nil)
}

func (s *Server) LoginHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		if s.guard.Authenticated(r) {
			s.redirect(w, r, "/dashboard")
			return
		}
		s.renderTemplate(w, r, "login.html", nil)
		return
	}

	ip := getClientIP(r)
	if !s.loginLimiter.Allow(ip) {
		s.flash.Add(w, r, auth.FlashError, "TooManyAttempts")
		s.redirect(w, r, "/login")
		return
	}

	res, err := s.auth.Login(r.Context(), r.FormValue("email"), r.FormValue("password"))
	if err != nil {
		s.fail(w, r, err)
		s.redirect(w, r, "/login")
		return
	}
	if !res.OK() {
		s.loginLimiter.RecordFailure(ip)
		s.flash.Add(w, r, auth.FlashError, "InvalidCredentials")
		s.redirect(w, r, "/login")
		return
	}

	s.loginLimiter.Reset(ip)
	s.redirect(w, r, "/dashboard")
}

func registrationForm(r *http.Request) models.Registration {
	return models.Registration{
		FirstName:       r.FormValue("first_name"),
		LastName:        r.FormValue("last_name"),
		Email:           r.FormValue("email"),
		Phone:           r.FormValue("phone"),
		Country:         r.FormValue("country"),
		City:            r.FormValue("city"),
		Password:        r.FormValue("password"),
		ConfirmPassword: r.FormValue("confirm_password"),
	}
}

func (s *Server) RegisterHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		data := map[string]any{}
		if s.cfg.RequireCaptcha {
			data["CaptchaID"] = captcha.New()
		}
		s.renderTemplate(w, r, "register.html", data)
		return
	}

	ip := getClientIP(r)
	if !s.signupLimiter.Allow(ip) {
		s.flash.Add(w, r, auth.FlashError, "TooManyAttempts")
		s.redirect(w, r, "/register")
		return
	}

	if s.cfg.RequireCaptcha && !captcha.VerifyString(r.FormValue("captcha_id"), r.FormValue("captcha_solution")) {
		s.fail(w, r, auth.ErrInvalidCaptcha)
		s.redirect(w, r, "/register")
		return
	}

	if _, err := s.auth.Register(r.Context(), registrationForm(r)); err != nil {
		s.fail(w, r, err)
		s.redirect(w, r, "/register")
		return
	}

	// Count creations too so one address cannot mass-register.
	s.signupLimiter.RecordFailure(ip)
	s.flash.Add(w, r, auth.FlashSuccess, "RegistrationSuccess")
	s.redirect(w, r, "/login")
}

func (s *Server) LogoutHandler(w http.ResponseWriter, r *http.Request) {
	if err := s.auth.Logout(r.Context()); err != nil {
		s.fail(w, r, err)
	} else {
		s.flash.Add(w, r, auth.FlashSuccess, "LoggedOut")
	}
	s.redirect(w, r, "/")
}

func (s *Server) DashboardHandler(w http.ResponseWriter, r *http.Request) {
	user, err := s.sessions.CurrentUser(r.Context())
	if err != nil {
		s.fail(w, r, err)
		s.redirect(w, r, "/login")
		return
	}
	s.renderTemplate(w, r, "dashboard.html", map[string]any{"User": user})
}

func (s *Server) ProfileHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		user, err := s.sessions.CurrentUser(r.Context())
		if err != nil {
			s.fail(w, r, err)
			s.redirect(w, r, "/login")
			return
		}
		s.renderTemplate(w, r, "profile.html", map[string]any{"User": user})
		return
	}

	patch := models.ProfilePatch{
		FirstName: r.FormValue("first_name"),
		LastName:  r.FormValue("last_name"),
		Email:     r.FormValue("email"),
		Phone:     r.FormValue("phone"),
		Country:   r.FormValue("country"),
		City:      r.FormValue("city"),
	}
	changed, err := s.auth.UpdateProfile(r.Context(), patch, r.FormValue("password"), r.FormValue("confirm_password"))
	switch {
	case err != nil:
		s.fail(w, r, err)
	case changed:
		s.flash.Add(w, r, auth.FlashSuccess, "ProfileUpdated")
	default:
		s.flash.Add(w, r, auth.FlashSuccess, "NothingChanged")
	}
	s.redirect(w, r, "/profile")
}

func (s *Server) DeleteAccountHandler(w http.ResponseWriter, r *http.Request) {
	if err := s.auth.DeleteAccount(r.Context(), r.FormValue("password")); err != nil {
		s.fail(w, r, err)
		s.redirect(w, r, "/profile")
		return
	}
	s.flash.Add(w, r, auth.FlashSuccess, "AccountDeleted")
	s.redirect(w, r, "/")
}

func (s *Server) LogsHandler(w http.ResponseWriter, r *http.Request) {
	entries, err := s.recorder.List(r.Context())
	if err != nil {
		s.fail(w, r, err)
		s.redirect(w, r, "/dashboard")
		return
	}
	s.renderTemplate(w, r, "logs.html", map[string]any{"Logs": entries})
}

func (s *Server) ExportLogsHandler(w http.ResponseWriter, r *http.Request) {
	entries, err := s.recorder.List(r.Context())
	if err != nil {
		s.fail(w, r, err)
		s.redirect(w, r, "/logs")
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", "attachment; filename=\"activity.csv\"")

	writer := csv.NewWriter(w)
	defer writer.Flush()

	writer.Write([]string{"date", "time", "reason"})
	for _, e := range entries {
		writer.Write([]string{e.Date, e.Time, e.Reason})
	}
}

func (s *Server) GalleryHandler(w http.ResponseWriter, r *http.Request) {
	images, err := s.gallery.List(r.Context())
	if err != nil {
		s.fail(w, r, err)
		s.redirect(w, r, "/dashboard")
		return
	}
	s.renderTemplate(w, r, "gallery.html", map[string]any{"Images": images})
}

func (s *Server) AddImageHandler(w http.ResponseWriter, r *http.Request) {
	defer s.redirect(w, r, "/gallery")

	if s.cfg.MaxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes+multipartOverhead)
	}
	file, _, err := r.FormFile("image")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.fail(w, r, gallery.ErrTooLarge)
		} else {
			s.fail(w, r, gallery.ErrUnsupportedImage)
		}
		return
	}
	defer file.Close()

	if _, err := s.gallery.Add(r.Context(), file); err != nil {
		s.fail(w, r, err)
		return
	}
	s.flash.Add(w, r, auth.FlashSuccess, "ImageSaved")
}

func (s *Server) DeleteImageHandler(w http.ResponseWriter, r *http.Request) {
	defer s.redirect(w, r, "/gallery")

	id, ok := idParam(r)
	if !ok {
		s.fail(w, r, gallery.ErrNotFound)
		return
	}
	if err := s.gallery.Delete(r.Context(), id); err != nil {
		s.fail(w, r, err)
		return
	}
	s.flash.Add(w, r, auth.FlashSuccess, "ImageDeleted")
}

func (s *Server) NotesHandler(w http.ResponseWriter, r *http.Request) {
	list, err := s.notes.List(r.Context())
	if err != nil {
		s.fail(w, r, err)
		s.redirect(w, r, "/dashboard")
		return
	}
	s.renderTemplate(w, r, "notes.html", map[string]any{"Notes": list})
}

func (s *Server) AddNoteHandler(w http.ResponseWriter, r *http.Request) {
	if _, err := s.notes.Create(r.Context(), r.FormValue("title"), r.FormValue("body")); err != nil {
		s.fail(w, r, err)
	} else {
		s.flash.Add(w, r, auth.FlashSuccess, "NoteSaved")
	}
	s.redirect(w, r, "/notes")
}

func (s *Server) UpdateNoteHandler(w http.ResponseWriter, r *http.Request) {
	defer s.redirect(w, r, "/notes")

	id, ok := idParam(r)
	if !ok {
		s.fail(w, r, notes.ErrNotFound)
		return
	}
	if _, err := s.notes.Update(r.Context(), id, r.FormValue("title"), r.FormValue("body")); err != nil {
		s.fail(w, r, err)
		return
	}
	s.flash.Add(w, r, auth.FlashSuccess, "NoteSaved")
}

func (s *Server) DeleteNoteHandler(w http.ResponseWriter, r *http.Request) {
	defer s.redirect(w, r, "/notes")

	id, ok := idParam(r)
	if !ok {
		s.fail(w, r, notes.ErrNotFound)
		return
	}
	if err := s.notes.Delete(r.Context(), id); err != nil {
		s.fail(w, r, err)
		return
	}
	s.flash.Add(w, r, auth.FlashSuccess, "NoteDeleted")
}
