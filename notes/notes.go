// Package notes keeps the signed-in user's free-text notes, newest first.
package notes

import (
	"context"
	"errors"
	"strings"
	"time"

	"crudzocial/activity"
	"crudzocial/models"
	"crudzocial/session"
	"crudzocial/users"
)

// DefaultTitle replaces a blank title.
const DefaultTitle = "Untitled"

const (
	ReasonCreate = "Created a note"
	ReasonUpdate = "Edited a note"
	ReasonDelete = "Deleted a note"
)

var (
	ErrEmptyNote = errors.New("note has neither title nor body")
	ErrNotFound  = errors.New("note not found")
)

type Service struct {
	sessions *session.Manager
	users    *users.Store
	recorder *activity.Recorder
	now      func() time.Time
}

func NewService(sessions *session.Manager, userStore *users.Store, recorder *activity.Recorder) *Service {
	return &Service{sessions: sessions, users: userStore, recorder: recorder, now: time.Now}
}

func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

func clean(title, body string) (string, string, error) {
	title = strings.TrimSpace(title)
	if title == "" && strings.TrimSpace(body) == "" {
		return "", "", ErrEmptyNote
	}
	if title == "" {
		title = DefaultTitle
	}
	return title, body, nil
}

func find(list []models.NoteEntry, id int64) int {
	for i := range list {
		if list[i].ID == id {
			return i
		}
	}
	return -1
}

// mutate runs fn against the signed-in user's record and appends reason to
// the log in the same write.
func (s *Service) mutate(ctx context.Context, reason string, fn func(u *models.User) error) error {
	id, err := s.sessions.Current(ctx)
	if err != nil {
		return err
	}
	entry := s.recorder.Entry(reason)
	return s.users.Mutate(ctx, id, func(u *models.User) error {
		if err := fn(u); err != nil {
			return err
		}
		u.Logs = append(u.Logs, entry)
		return nil
	})
}

// Create prepends a note. Its id is the creation time in milliseconds,
// bumped past any id already in use.
func (s *Service) Create(ctx context.Context, title, body string) (*models.NoteEntry, error) {
	title, body, err := clean(title, body)
	if err != nil {
		return nil, err
	}

	now := s.now()
	var note models.NoteEntry
	err = s.mutate(ctx, ReasonCreate, func(u *models.User) error {
		id := now.UnixMilli()
		for _, n := range u.Notes {
			if n.ID >= id {
				id = n.ID + 1
			}
		}
		note = models.NoteEntry{ID: id, Title: title, Body: body, CreatedAt: now, UpdatedAt: now}
		u.Notes = append([]models.NoteEntry{note}, u.Notes...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &note, nil
}

func (s *Service) Update(ctx context.Context, id int64, title, body string) (*models.NoteEntry, error) {
	title, body, err := clean(title, body)
	if err != nil {
		return nil, err
	}

	var note models.NoteEntry
	err = s.mutate(ctx, ReasonUpdate, func(u *models.User) error {
		i := find(u.Notes, id)
		if i < 0 {
			return ErrNotFound
		}
		u.Notes[i].Title = title
		u.Notes[i].Body = body
		u.Notes[i].UpdatedAt = s.now()
		note = u.Notes[i]
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &note, nil
}

func (s *Service) Delete(ctx context.Context, id int64) error {
	return s.mutate(ctx, ReasonDelete, func(u *models.User) error {
		i := find(u.Notes, id)
		if i < 0 {
			return ErrNotFound
		}
		u.Notes = append(u.Notes[:i], u.Notes[i+1:]...)
		return nil
	})
}

func (s *Service) Get(ctx context.Context, id int64) (*models.NoteEntry, error) {
	list, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	i := find(list, id)
	if i < 0 {
		return nil, ErrNotFound
	}
	return &list[i], nil
}

// List returns the signed-in user's notes, newest first.
func (s *Service) List(ctx context.Context) ([]models.NoteEntry, error) {
	user, err := s.sessions.CurrentUser(ctx)
	if err != nil {
		return nil, err
	}
	return user.Notes, nil
}
