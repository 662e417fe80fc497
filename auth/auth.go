package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"crudzocial/activity"
	"crudzocial/models"
	"crudzocial/session"
	"crudzocial/users"
)

var (
	ErrMissingField     = errors.New("email and password are required")
	ErrPasswordMismatch = errors.New("passwords do not match")
	ErrInvalidCaptcha   = errors.New("invalid captcha")
)

// Activity reasons recorded by the service.
const (
	ReasonLogin         = "Logged in"
	ReasonLogout        = "Logged out"
	ReasonProfileUpdate = "Updated profile"
)

type LoginStatus int

const (
	Rejected LoginStatus = iota
	Authenticated
)

// LoginResult is either Authenticated with the user's id or Rejected with a
// reason fit for display.
type LoginResult struct {
	Status LoginStatus
	UserID int
	Reason string
}

func (r LoginResult) OK() bool { return r.Status == Authenticated }

// IsValidation reports whether err is a user input problem, as opposed to a
// storage or environment failure.
func IsValidation(err error) bool {
	return errors.Is(err, ErrMissingField) ||
		errors.Is(err, ErrPasswordMismatch) ||
		errors.Is(err, ErrInvalidCaptcha) ||
		errors.Is(err, users.ErrDuplicateEmail)
}

type Service struct {
	users    *users.Store
	sessions *session.Manager
	recorder *activity.Recorder
	logger   *slog.Logger
}

func NewService(userStore *users.Store, sessions *session.Manager, recorder *activity.Recorder, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{users: userStore, sessions: sessions, recorder: recorder, logger: logger}
}

// Register validates the form and creates the account. Nothing is stored when
// validation fails.
func (s *Service) Register(ctx context.Context, reg models.Registration) (*models.User, error) {
	reg.Email = strings.TrimSpace(reg.Email)
	if reg.Email == "" || reg.Password == "" {
		return nil, ErrMissingField
	}
	if reg.Password != reg.ConfirmPassword {
		return nil, ErrPasswordMismatch
	}

	exists, err := s.users.EmailExists(ctx, reg.Email)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, users.ErrDuplicateEmail
	}

	user, err := s.users.Create(ctx, reg)
	if err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "user registered", "user_id", user.ID)
	return user, nil
}

// Login checks the credentials, starts the session and records the event. A
// rejected login leaves the current session as it was.
func (s *Service) Login(ctx context.Context, email, password string) (LoginResult, error) {
	id, err := s.users.FindByEmailAndPassword(ctx, email, password)
	if errors.Is(err, users.ErrNotFound) {
		if errors.Is(err, users.ErrCorrupt) {
			s.logger.WarnContext(ctx, "stored users are unreadable", "error", err)
		}
		s.logger.InfoContext(ctx, "login rejected")
		return LoginResult{Status: Rejected, Reason: "invalid credentials"}, nil
	}
	if err != nil {
		return LoginResult{Status: Rejected, Reason: "internal error"}, err
	}

	if err := s.sessions.Start(ctx, id); err != nil {
		return LoginResult{Status: Rejected, Reason: "internal error"}, err
	}
	if err := s.recorder.RecordFor(ctx, id, ReasonLogin); err != nil {
		if endErr := s.sessions.End(ctx); endErr != nil {
			s.logger.ErrorContext(ctx, "roll back session", "error", endErr)
		}
		return LoginResult{Status: Rejected, Reason: "internal error"}, fmt.Errorf("record login: %w", err)
	}

	s.logger.InfoContext(ctx, "user logged in", "user_id", id)
	return LoginResult{Status: Authenticated, UserID: id}, nil
}

// Logout records the event for the signed-in user, if any, and clears the
// session.
func (s *Service) Logout(ctx context.Context) error {
	if id, err := s.sessions.Current(ctx); err == nil {
		if err := s.recorder.RecordFor(ctx, id, ReasonLogout); err != nil {
			s.logger.ErrorContext(ctx, "record logout", "user_id", id, "error", err)
		}
	}
	return s.sessions.End(ctx)
}

// UpdateProfile applies the patch to the signed-in user. A non-empty password
// or confirmation changes the password, and the two must match. The changes and
// their log entry are saved together. It reports whether anything changed.
func (s *Service) UpdateProfile(ctx context.Context, patch models.ProfilePatch, password, confirm string) (bool, error) {
	id, err := s.sessions.Current(ctx)
	if err != nil {
		return false, err
	}

	changePassword := password != "" || confirm != ""
	if changePassword && password != confirm {
		return false, ErrPasswordMismatch
	}

	entry := s.recorder.Entry(ReasonProfileUpdate)
	return s.users.UpdateProfile(ctx, id, patch, password, func(u *models.User) {
		u.Logs = append(u.Logs, entry)
	})
}

// DeleteAccount removes the signed-in user after re-checking the password and
// ends the session.
func (s *Service) DeleteAccount(ctx context.Context, password string) error {
	user, err := s.sessions.CurrentUser(ctx)
	if err != nil {
		return err
	}
	id, err := s.users.FindByEmailAndPassword(ctx, user.Email, password)
	if errors.Is(err, users.ErrNotFound) || (err == nil && id != user.ID) {
		return ErrPasswordMismatch
	}
	if err != nil {
		return err
	}
	if err := s.users.Delete(ctx, user.ID); err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "account deleted", "user_id", user.ID)
	return s.sessions.End(ctx)
}
