package auth

import (
	"net/http"

	"crudzocial/session"
)

// Guard sends anonymous visitors of protected pages to the login page.
type Guard struct {
	sessions  *session.Manager
	loginPath string
}

func NewGuard(sessions *session.Manager, loginPath string) *Guard {
	return &Guard{sessions: sessions, loginPath: loginPath}
}

func (g *Guard) Authenticated(r *http.Request) bool {
	return g.sessions.IsAuthenticated(r.Context())
}

// Enforce redirects to the login page and returns false when nobody is signed
// in. The caller must stop handling the request on false.
func (g *Guard) Enforce(w http.ResponseWriter, r *http.Request) bool {
	if g.Authenticated(r) {
		return true
	}
	http.Redirect(w, r, g.loginPath, http.StatusSeeOther)
	return false
}

func (g *Guard) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !g.Enforce(w, r) {
			return
		}
		next.ServeHTTP(w, r)
	})
}
