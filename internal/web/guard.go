package web

import (
	"encoding/json"
	"log"
	"net/http"
	"strings"

	"github.com/skycast/weather-app/internal/claim"
	"github.com/skycast/weather-app/internal/metrics"
)

// Protected wraps a handler with the route guard. Every request must carry
// a session that is still the account's current claim; anything else is
// rejected with a reason tag so the UI can tell "never logged in" from
// "logged in elsewhere" from "expired".
func (s *Server) Protected(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, ok := PrincipalFromContext(r.Context())

		var err error
		if !ok {
			err = claim.ErrUnauthenticated
		} else {
			err = s.claims.Check(r.Context(), p.Username, p.SessionID)
		}

		if err != nil {
			reason := claim.Reason(err)
			metrics.GuardRejectionsTotal.WithLabelValues(reason).Inc()

			if reason == "internal" {
				log.Printf("[web] guard check user=%s sid=%s: %v", p.Username, p.SessionID, err)
			}

			// A revoked, superseded, or expired session is dead weight on
			// the client; tear it down before redirecting.
			if claim.ShouldTerminate(err) {
				s.terminateLocalSession(w, r, p.SessionID)
			}

			s.rejectRequest(w, r, reason)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// rejectRequest answers a guard rejection: JSON for API clients, a tagged
// login redirect for browsers.
func (s *Server) rejectRequest(w http.ResponseWriter, r *http.Request, reason string) {
	status := http.StatusUnauthorized
	if reason == "internal" {
		status = http.StatusInternalServerError
	}

	if wantsJSON(r) {
		writeJSON(w, status, map[string]string{"error": reason})
		return
	}
	http.Redirect(w, r, "/login?reason="+reason, http.StatusSeeOther)
}

// wantsJSON reports whether the client prefers a JSON error over a
// redirect: API paths and explicit Accept headers.
func wantsJSON(r *http.Request) bool {
	if strings.HasPrefix(r.URL.Path, "/api/") {
		return true
	}
	return strings.Contains(r.Header.Get("Accept"), "application/json")
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Printf("[web] write json response: %v", err)
	}
}
