package web

import (
	"context"
	"log"
	"net/http"
	"time"
)

// Principal identifies the authenticated caller of a request: the account
// name and the session the browser presented.
type Principal struct {
	Username  string
	SessionID string
}

type principalContextKey struct{}

// PrincipalFromContext returns the authenticated principal attached by the
// session middleware, if any.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalContextKey{}).(Principal)
	return p, ok
}

// withSession resolves the session cookie into a Principal. Requests with
// no cookie, or a cookie naming a session the store no longer has, pass
// through anonymously; the route guard decides whether that matters.
func (s *Server) withSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie(s.config.CookieName)
		if err != nil || cookie.Value == "" {
			next.ServeHTTP(w, r)
			return
		}

		sess, err := s.sessions.Get(r.Context(), cookie.Value)
		if err != nil {
			log.Printf("[web] session lookup sid=%s: %v", cookie.Value, err)
			next.ServeHTTP(w, r)
			return
		}
		if sess == nil {
			next.ServeHTTP(w, r)
			return
		}

		ctx := context.WithValue(r.Context(), principalContextKey{}, Principal{
			Username:  sess.Username,
			SessionID: sess.ID,
		})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// setSessionCookie points the browser at a freshly issued session.
func (s *Server) setSessionCookie(w http.ResponseWriter, sessionID string, ttl time.Duration) {
	http.SetCookie(w, &http.Cookie{
		Name:     s.config.CookieName,
		Value:    sessionID,
		Path:     "/",
		MaxAge:   int(ttl.Seconds()),
		HttpOnly: true,
		Secure:   s.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

// clearSessionCookie expires the session cookie.
func (s *Server) clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     s.config.CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

// terminateLocalSession destroys the caller's session record and expires
// the cookie. Used on logout and on guard rejections that invalidate the
// local session.
func (s *Server) terminateLocalSession(w http.ResponseWriter, r *http.Request, sessionID string) {
	if sessionID != "" {
		if _, err := s.sessions.Destroy(r.Context(), sessionID); err != nil {
			log.Printf("[web] terminate session sid=%s: %v", sessionID, err)
		}
	}
	s.clearSessionCookie(w)
}
