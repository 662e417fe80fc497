// Package session tracks which user, if any, is signed in. The pointer is a
// single process-wide value persisted under one storage key so it survives a
// restart, and it holds the user's id rather than a position in the
// collection.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"crudzocial/kv"
	"crudzocial/models"
	"crudzocial/users"
)

// Key is the storage key holding the active user id.
const Key = "session"

var ErrNoSession = errors.New("no active session")

type Manager struct {
	kv     kv.Store
	users  *users.Store
	logger *slog.Logger
}

func NewManager(store kv.Store, userStore *users.Store, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{kv: store, users: userStore, logger: logger}
}

// Start makes id the authenticated user.
func (m *Manager) Start(ctx context.Context, id int) error {
	if err := m.kv.Set(ctx, Key, []byte(strconv.Itoa(id))); err != nil {
		return fmt.Errorf("start session: %w", err)
	}
	return nil
}

func (m *Manager) End(ctx context.Context) error {
	if err := m.kv.Delete(ctx, Key); err != nil {
		return fmt.Errorf("end session: %w", err)
	}
	return nil
}

// Current returns the active user id. A pointer that cannot be parsed or that
// names a user who no longer exists is cleared and reported as ErrNoSession.
func (m *Manager) Current(ctx context.Context) (int, error) {
	user, err := m.CurrentUser(ctx)
	if err != nil {
		return 0, err
	}
	return user.ID, nil
}

// CurrentUser resolves the pointer to the stored record.
func (m *Manager) CurrentUser(ctx context.Context) (*models.User, error) {
	raw, err := m.kv.Get(ctx, Key)
	if errors.Is(err, kv.ErrNotFound) {
		return nil, ErrNoSession
	}
	if err != nil {
		return nil, fmt.Errorf("read session: %w", err)
	}

	id, err := strconv.Atoi(string(raw))
	if err != nil || id <= 0 {
		m.dropStale(ctx, string(raw))
		return nil, ErrNoSession
	}

	user, err := m.users.Read(ctx, id)
	if errors.Is(err, users.ErrNotFound) {
		m.dropStale(ctx, string(raw))
		return nil, ErrNoSession
	}
	if err != nil {
		return nil, err
	}
	return user, nil
}

func (m *Manager) IsAuthenticated(ctx context.Context) bool {
	_, err := m.Current(ctx)
	if err != nil && !errors.Is(err, ErrNoSession) {
		m.logger.ErrorContext(ctx, "session lookup failed", "error", err)
	}
	return err == nil
}

func (m *Manager) dropStale(ctx context.Context, pointer string) {
	m.logger.WarnContext(ctx, "clearing stale session pointer", "pointer", pointer)
	if err := m.kv.Delete(ctx, Key); err != nil {
		m.logger.ErrorContext(ctx, "clear stale session", "error", err)
	}
}
