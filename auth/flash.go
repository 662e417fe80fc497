package auth

import (
	"crypto/sha256"
	"net/http"

	"github.com/gorilla/sessions"
)

const FlashSessionName = "crudzocial-flash"

const (
	FlashError   = "error"
	FlashSuccess = "success"
)

const langValue = "lang"

type Flash struct {
	Kind    string
	Message string
}

// FlashStore carries one-shot user feedback and the language preference
// across redirects in an encrypted cookie. It holds nothing about who is
// signed in.
type FlashStore struct {
	store *sessions.CookieStore
}

func NewFlashStore(key string, secure bool) *FlashStore {
	// Derive two 32-byte keys from the session key to ensure secure encryption
	authKey := sha256.Sum256([]byte(key + "auth"))
	encKey := sha256.Sum256([]byte(key + "encryption"))

	store := sessions.NewCookieStore(authKey[:], encKey[:])
	store.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   86400 * 7,
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	}
	return &FlashStore{store: store}
}

func (f *FlashStore) Add(w http.ResponseWriter, r *http.Request, kind, message string) {
	sess, _ := f.store.Get(r, FlashSessionName)
	sess.AddFlash(message, kind)
	sess.Save(r, w)
}

// Pop returns and clears pending messages, errors first.
func (f *FlashStore) Pop(w http.ResponseWriter, r *http.Request) []Flash {
	sess, _ := f.store.Get(r, FlashSessionName)

	var out []Flash
	for _, kind := range []string{FlashError, FlashSuccess} {
		for _, v := range sess.Flashes(kind) {
			if msg, ok := v.(string); ok {
				out = append(out, Flash{Kind: kind, Message: msg})
			}
		}
	}
	if len(out) > 0 {
		sess.Save(r, w)
	}
	return out
}

func (f *FlashStore) SetLanguage(w http.ResponseWriter, r *http.Request, lang string) {
	sess, _ := f.store.Get(r, FlashSessionName)
	sess.Values[langValue] = lang
	sess.Save(r, w)
}

// Language returns the stored preference or "".
func (f *FlashStore) Language(r *http.Request) string {
	sess, _ := f.store.Get(r, FlashSessionName)
	lang, _ := sess.Values[langValue].(string)
	return lang
}
