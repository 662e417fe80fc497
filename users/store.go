// Package users owns the persisted collection of user records. Every call
// reads the collection from storage and every mutation writes the whole
// collection back, so no caller ever works on a stale private copy.
//
// Mutations are serialized within one process. Two processes sharing the same
// storage still race with last-write-wins semantics.
package users

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"crudzocial/crypto"
	"crudzocial/kv"
	"crudzocial/models"
)

// UsersKey is the storage key holding the serialized collection.
const UsersKey = "users"

var (
	ErrNotFound       = errors.New("user not found")
	ErrDuplicateEmail = errors.New("email already registered")
	ErrCorrupt        = errors.New("stored users are corrupt")
)

type Store struct {
	kv     kv.Store
	hasher crypto.Hasher
	mu     sync.Mutex
	now    func() time.Time
}

func NewStore(store kv.Store, hasher crypto.Hasher) *Store {
	return &Store{kv: store, hasher: hasher, now: time.Now}
}

// SetClock replaces the time source used for CreatedAt stamps.
func (s *Store) SetClock(now func() time.Time) {
	s.now = now
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (s *Store) load(ctx context.Context) ([]models.User, error) {
	raw, err := s.kv.Get(ctx, UsersKey)
	if errors.Is(err, kv.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read users: %w", err)
	}

	var list []models.User
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return list, nil
}

func (s *Store) save(ctx context.Context, list []models.User) error {
	raw, err := json.Marshal(list)
	if err != nil {
		return fmt.Errorf("encode users: %w", err)
	}
	if err := s.kv.Set(ctx, UsersKey, raw); err != nil {
		return fmt.Errorf("write users: %w", err)
	}
	return nil
}

func indexOf(list []models.User, id int) int {
	for i := range list {
		if list[i].ID == id {
			return i
		}
	}
	return -1
}

func emailTaken(list []models.User, email string, exceptID int) bool {
	email = normalizeEmail(email)
	for _, u := range list {
		if u.ID != exceptID && normalizeEmail(u.Email) == email {
			return true
		}
	}
	return false
}

func nextID(list []models.User) int {
	maxID := 0
	for _, u := range list {
		if u.ID > maxID {
			maxID = u.ID
		}
	}
	return maxID + 1
}

// EmailExists compares case-insensitively against every stored record.
func (s *Store) EmailExists(ctx context.Context, email string) (bool, error) {
	list, err := s.load(ctx)
	if err != nil {
		return false, err
	}
	return emailTaken(list, email, 0), nil
}

// Create hashes the password, assigns the next id and appends the record.
func (s *Store) Create(ctx context.Context, reg models.Registration) (*models.User, error) {
	// Hash before taking the lock; argon2 is the slow part.
	salt, err := crypto.GenerateSalt()
	if err != nil {
		return nil, err
	}
	hash := s.hasher.Hash(reg.Password, salt)

	s.mu.Lock()
	defer s.mu.Unlock()

	list, err := s.load(ctx)
	if err != nil {
		return nil, err
	}
	if emailTaken(list, reg.Email, 0) {
		return nil, ErrDuplicateEmail
	}

	user := models.User{
		ID:           nextID(list),
		Email:        strings.TrimSpace(reg.Email),
		PasswordHash: hash,
		Salt:         salt,
		FirstName:    reg.FirstName,
		LastName:     reg.LastName,
		Phone:        reg.Phone,
		Country:      reg.Country,
		City:         reg.City,
		CreatedAt:    s.now(),
		Logs:         []models.LogEntry{},
		Images:       []models.ImageEntry{},
		Notes:        []models.NoteEntry{},
	}

	if err := s.save(ctx, append(list, user)); err != nil {
		return nil, err
	}
	return &user, nil
}

// FindByEmailAndPassword returns the id of the first record, in collection
// order, whose email matches and whose hash verifies. Like Read, it reports an
// undecodable collection as ErrNotFound.
func (s *Store) FindByEmailAndPassword(ctx context.Context, email, password string) (int, error) {
	list, err := s.load(ctx)
	if errors.Is(err, ErrCorrupt) {
		return 0, fmt.Errorf("%w: %w", ErrNotFound, err)
	}
	if err != nil {
		return 0, err
	}

	email = normalizeEmail(email)
	checked := false
	for _, u := range list {
		if normalizeEmail(u.Email) != email {
			continue
		}
		checked = true
		if !s.hasher.Verify(password, u.Salt, u.PasswordHash) {
			continue
		}
		if u.Salt == "" {
			if err := s.SetPassword(ctx, u.ID, password); err != nil {
				return 0, fmt.Errorf("upgrade legacy hash: %w", err)
			}
		}
		return u.ID, nil
	}

	if !checked {
		// Keep unknown emails as slow as wrong passwords.
		s.hasher.Hash(password, "dummy-salt-for-timing")
	}
	return 0, ErrNotFound
}

// Read returns a copy of the record. A missing or undecodable collection
// reads as ErrNotFound.
func (s *Store) Read(ctx context.Context, id int) (*models.User, error) {
	list, err := s.load(ctx)
	if errors.Is(err, ErrCorrupt) {
		return nil, fmt.Errorf("%w: %w", ErrNotFound, err)
	}
	if err != nil {
		return nil, err
	}

	i := indexOf(list, id)
	if i < 0 {
		return nil, ErrNotFound
	}
	user := list[i]
	return &user, nil
}

// Mutate applies fn to the stored record and persists the collection. When fn
// returns an error nothing is written.
func (s *Store) Mutate(ctx context.Context, id int, fn func(u *models.User) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	list, err := s.load(ctx)
	if err != nil {
		return err
	}
	i := indexOf(list, id)
	if i < 0 {
		return ErrNotFound
	}
	if err := fn(&list[i]); err != nil {
		return err
	}
	return s.save(ctx, list)
}

// Update overwrites the fields of patch that are non-empty and differ from the
// stored values. It reports whether anything changed. A new email must not
// belong to another account.
func (s *Store) Update(ctx context.Context, id int, patch models.ProfilePatch) (bool, error) {
	return s.UpdateProfile(ctx, id, patch, "", nil)
}

// UpdateProfile applies patch like Update and, when password is not empty,
// replaces the salt and hash. If anything changed, onChange runs on the record
// before it is saved. Everything lands in a single write.
func (s *Store) UpdateProfile(ctx context.Context, id int, patch models.ProfilePatch, password string, onChange func(u *models.User)) (bool, error) {
	var salt, hash string
	if password != "" {
		var err error
		if salt, err = crypto.GenerateSalt(); err != nil {
			return false, err
		}
		hash = s.hasher.Hash(password, salt)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	list, err := s.load(ctx)
	if err != nil {
		return false, err
	}
	i := indexOf(list, id)
	if i < 0 {
		return false, ErrNotFound
	}

	u := &list[i]
	changed := false
	set := func(dst *string, value string) {
		if value != "" && value != *dst {
			*dst = value
			changed = true
		}
	}

	if email := strings.TrimSpace(patch.Email); email != "" && email != u.Email {
		if emailTaken(list, email, id) {
			return false, ErrDuplicateEmail
		}
		set(&u.Email, email)
	}
	set(&u.FirstName, patch.FirstName)
	set(&u.LastName, patch.LastName)
	set(&u.Phone, patch.Phone)
	set(&u.Country, patch.Country)
	set(&u.City, patch.City)
	if password != "" {
		u.Salt = salt
		u.PasswordHash = hash
		changed = true
	}

	if !changed {
		return false, nil
	}
	if onChange != nil {
		onChange(u)
	}
	if err := s.save(ctx, list); err != nil {
		return false, err
	}
	return true, nil
}

// SetPassword stores a fresh salt and hash for the record.
func (s *Store) SetPassword(ctx context.Context, id int, password string) error {
	salt, err := crypto.GenerateSalt()
	if err != nil {
		return err
	}
	hash := s.hasher.Hash(password, salt)

	return s.Mutate(ctx, id, func(u *models.User) error {
		u.Salt = salt
		u.PasswordHash = hash
		return nil
	})
}

func (s *Store) Delete(ctx context.Context, id int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	list, err := s.load(ctx)
	if err != nil {
		return err
	}
	i := indexOf(list, id)
	if i < 0 {
		return ErrNotFound
	}
	return s.save(ctx, append(list[:i], list[i+1:]...))
}

// Count returns the number of stored records.
func (s *Store) Count(ctx context.Context) (int, error) {
	list, err := s.load(ctx)
	if err != nil {
		return 0, err
	}
	return len(list), nil
}
