package activity

import (
	"context"
	"time"

	"crudzocial/models"
	"crudzocial/session"
	"crudzocial/users"
)

const (
	dateLayout = "02/01/2006"
	timeLayout = "15:04:05"
)

// Recorder appends timestamped entries to the signed-in user's log.
type Recorder struct {
	sessions *session.Manager
	users    *users.Store
	now      func() time.Time
}

func NewRecorder(sessions *session.Manager, userStore *users.Store) *Recorder {
	return &Recorder{sessions: sessions, users: userStore, now: time.Now}
}

// SetClock replaces the time source, for tests.
func (r *Recorder) SetClock(now func() time.Time) {
	r.now = now
}

// Entry builds a log entry stamped with the recorder's clock.
func (r *Recorder) Entry(reason string) models.LogEntry {
	now := r.now()
	return models.LogEntry{
		Date:   now.Format(dateLayout),
		Time:   now.Format(timeLayout),
		Reason: reason,
	}
}

// Record appends reason to the active user's log. It returns
// session.ErrNoSession when nobody is signed in.
func (r *Recorder) Record(ctx context.Context, reason string) error {
	id, err := r.sessions.Current(ctx)
	if err != nil {
		return err
	}
	return r.RecordFor(ctx, id, reason)
}

// RecordFor appends to a known user's log without consulting the session.
func (r *Recorder) RecordFor(ctx context.Context, userID int, reason string) error {
	entry := r.Entry(reason)
	return r.users.Mutate(ctx, userID, func(u *models.User) error {
		u.Logs = append(u.Logs, entry)
		return nil
	})
}

// List returns the active user's entries, oldest first.
func (r *Recorder) List(ctx context.Context) ([]models.LogEntry, error) {
	user, err := r.sessions.CurrentUser(ctx)
	if err != nil {
		return nil, err
	}
	return user.Logs, nil
}
