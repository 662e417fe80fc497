package notes

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crudzocial/activity"
	"crudzocial/crypto"
	"crudzocial/kv"
	"crudzocial/models"
	"crudzocial/session"
	"crudzocial/users"
)

func setup(t *testing.T) (*Service, *users.Store, context.Context) {
	t.Helper()
	ctx := context.Background()
	mem := kv.NewMemory()
	userStore := users.NewStore(mem, crypto.Hasher{Time: 1, MemoryKiB: 1024, Threads: 1})
	sessions := session.NewManager(mem, userStore, nil)

	u, err := userStore.Create(ctx, models.Registration{Email: "a@x.com", Password: "pw1"})
	require.NoError(t, err)
	require.NoError(t, sessions.Start(ctx, u.ID))

	svc := NewService(sessions, userStore, activity.NewRecorder(sessions, userStore))
	fixed := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	svc.SetClock(func() time.Time { return fixed })
	return svc, userStore, ctx
}

func TestCreatePrependsAndDelete(t *testing.T) {
	svc, userStore, ctx := setup(t)

	a, err := svc.Create(ctx, "A", "first")
	require.NoError(t, err)
	b, err := svc.Create(ctx, "B", "second")
	require.NoError(t, err)
	assert.NotEqual(t, a.ID, b.ID, "same-millisecond notes must get distinct ids")

	list, err := svc.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "B", list[0].Title)
	assert.Equal(t, "A", list[1].Title)

	require.NoError(t, svc.Delete(ctx, b.ID))
	list, err = svc.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, a.ID, list[0].ID)

	user, err := userStore.Read(ctx, 1)
	require.NoError(t, err)
	require.Len(t, user.Logs, 3)
	assert.Equal(t, ReasonCreate, user.Logs[0].Reason)
	assert.Equal(t, ReasonDelete, user.Logs[2].Reason)
}

func TestCreateTitleRules(t *testing.T) {
	svc, _, ctx := setup(t)

	n, err := svc.Create(ctx, "  ", "just a body")
	require.NoError(t, err)
	assert.Equal(t, DefaultTitle, n.Title)

	_, err = svc.Create(ctx, " ", "\n")
	assert.ErrorIs(t, err, ErrEmptyNote)

	list, err := svc.List(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestUpdateAndGet(t *testing.T) {
	svc, _, ctx := setup(t)

	n, err := svc.Create(ctx, "Draft", "")
	require.NoError(t, err)

	updated, err := svc.Update(ctx, n.ID, "Final", "done")
	require.NoError(t, err)
	assert.Equal(t, "Final", updated.Title)

	got, err := svc.Get(ctx, n.ID)
	require.NoError(t, err)
	assert.Equal(t, "done", got.Body)

	_, err = svc.Update(ctx, n.ID+100, "x", "y")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = svc.Get(ctx, n.ID+100)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, svc.Delete(ctx, n.ID+100), ErrNotFound)
}

func TestRequiresSession(t *testing.T) {
	ctx := context.Background()
	mem := kv.NewMemory()
	userStore := users.NewStore(mem, crypto.Hasher{Time: 1, MemoryKiB: 1024, Threads: 1})
	sessions := session.NewManager(mem, userStore, nil)
	svc := NewService(sessions, userStore, activity.NewRecorder(sessions, userStore))

	_, err := svc.Create(ctx, "A", "")
	assert.ErrorIs(t, err, session.ErrNoSession)
	_, err = svc.List(ctx)
	assert.ErrorIs(t, err, session.ErrNoSession)
}
