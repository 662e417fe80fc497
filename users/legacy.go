package users

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"crudzocial/crypto"
	"crudzocial/models"
)

// legacyUser is one element of the "users" array written by the browser
// version of the app. Early builds used Spanish field names.
type legacyUser struct {
	ID        int    `json:"id"`
	Email     string `json:"email"`
	Password  string `json:"password"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Phone     string `json:"phone"`
	Country   string `json:"country"`
	City      string `json:"city"`
	Nombres   string `json:"nombres"`
	Apellidos string `json:"apellidos"`
	Telefono  string `json:"telefono"`
	Pais      string `json:"pais"`
	Ciudad    string `json:"ciudad"`

	Logs []struct {
		Time   json.RawMessage `json:"time"`
		Reason string          `json:"reason"`
	} `json:"logs"`

	Imgs []struct {
		ID    int64  `json:"id"`
		Src   string `json:"src"`
		Fecha string `json:"fecha"`
	} `json:"imgs"`
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func isHexDigest(s string) bool {
	if len(s) != 64 {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}

// logTime accepts the [date, time] pair the browser stored as well as a bare
// string.
func logTime(raw json.RawMessage) (date, clock string) {
	var pair []string
	if err := json.Unmarshal(raw, &pair); err == nil {
		if len(pair) > 0 {
			date = pair[0]
		}
		if len(pair) > 1 {
			clock = pair[1]
		}
		return date, clock
	}
	var single string
	if err := json.Unmarshal(raw, &single); err == nil {
		return "", single
	}
	return "", ""
}

func (l legacyUser) toModel(id int, now time.Time) models.User {
	hash := strings.ToLower(l.Password)
	if !isHexDigest(hash) {
		// Some drafts never hashed the password.
		hash = crypto.LegacyDigest(l.Password)
	}

	u := models.User{
		ID:           id,
		Email:        strings.TrimSpace(l.Email),
		PasswordHash: hash,
		FirstName:    firstNonEmpty(l.FirstName, l.Nombres),
		LastName:     firstNonEmpty(l.LastName, l.Apellidos),
		Phone:        firstNonEmpty(l.Phone, l.Telefono),
		Country:      firstNonEmpty(l.Country, l.Pais),
		City:         firstNonEmpty(l.City, l.Ciudad),
		CreatedAt:    now,
		Logs:         make([]models.LogEntry, 0, len(l.Logs)),
		Images:       make([]models.ImageEntry, 0, len(l.Imgs)),
		Notes:        []models.NoteEntry{},
	}

	for _, entry := range l.Logs {
		date, clock := logTime(entry.Time)
		u.Logs = append(u.Logs, models.LogEntry{Date: date, Time: clock, Reason: entry.Reason})
	}
	for _, img := range l.Imgs {
		created, err := time.Parse(time.RFC3339, img.Fecha)
		if err != nil {
			created = time.UnixMilli(img.ID)
		}
		u.Images = append(u.Images, models.ImageEntry{ID: img.ID, Data: img.Src, CreatedAt: created.UTC()})
	}
	return u
}

// ImportLegacy merges a "users" export from the browser version into the
// store. Records whose email already exists, or repeats an earlier record of
// the same export, are skipped. Legacy ids are kept when free. It returns the
// number of imported records.
func (s *Store) ImportLegacy(ctx context.Context, blob []byte) (int, error) {
	var legacy []legacyUser
	if err := json.Unmarshal(blob, &legacy); err != nil {
		return 0, fmt.Errorf("decode legacy users: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	list, err := s.load(ctx)
	if err != nil {
		return 0, err
	}

	imported := 0
	for _, l := range legacy {
		if strings.TrimSpace(l.Email) == "" || emailTaken(list, l.Email, 0) {
			continue
		}
		id := l.ID
		if id <= 0 || indexOf(list, id) >= 0 {
			id = nextID(list)
		}
		list = append(list, l.toModel(id, s.now()))
		imported++
	}

	if imported == 0 {
		return 0, nil
	}
	if err := s.save(ctx, list); err != nil {
		return 0, err
	}
	return imported, nil
}
