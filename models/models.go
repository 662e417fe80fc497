package models

import "time"

// User is one account together with everything the account owns. The whole
// collection of users is persisted as a single JSON array.
type User struct {
	ID           int          `json:"id"`
	Email        string       `json:"email"`
	PasswordHash string       `json:"passwordHash"`
	Salt         string       `json:"salt,omitempty"` // empty for imported legacy records
	FirstName    string       `json:"firstName"`
	LastName     string       `json:"lastName"`
	Phone        string       `json:"phone"`
	Country      string       `json:"country"`
	City         string       `json:"city"`
	CreatedAt    time.Time    `json:"createdAt"`
	Logs         []LogEntry   `json:"logs"`
	Images       []ImageEntry `json:"images"`
	Notes        []NoteEntry  `json:"notes"`
}

type LogEntry struct {
	Date   string `json:"date"` // dd/mm/yyyy
	Time   string `json:"time"` // hh:mm:ss
	Reason string `json:"reason"`
}

type ImageEntry struct {
	ID        int64     `json:"id"`
	Data      string    `json:"data"`
	CreatedAt time.Time `json:"createdAt"`
}

type NoteEntry struct {
	ID        int64     `json:"id"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Registration carries the fields of the sign-up form.
type Registration struct {
	FirstName       string `json:"firstName"`
	LastName        string `json:"lastName"`
	Email           string `json:"email"`
	Phone           string `json:"phone"`
	Country         string `json:"country"`
	City            string `json:"city"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirmPassword"`
}

// ProfilePatch lists profile fields to overwrite. Empty fields are left alone.
type ProfilePatch struct {
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Email     string `json:"email"`
	Phone     string `json:"phone"`
	Country   string `json:"country"`
	City      string `json:"city"`
}
