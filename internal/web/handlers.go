package web

import (
	"errors"
	"log"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/skycast/weather-app/internal/claim"
	"github.com/skycast/weather-app/internal/metrics"
	"github.com/skycast/weather-app/internal/ratelimit"
)

// handleLoginPage serves the login form. A ?reason= query parameter carries
// the rejection tag from a prior guard redirect; the page renders it
// client-side.
func (s *Server) handleLoginPage(w http.ResponseWriter, r *http.Request) {
	http.ServeFileFS(w, r, staticFS, "static/login.html")
}

// handleLogin authenticates the form credentials and claims the account for
// a brand-new session.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	defer func() {
		metrics.LoginDuration.Observe(time.Since(start).Seconds())
	}()

	if err := r.ParseForm(); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	username := strings.TrimSpace(r.PostFormValue("username"))
	password := r.PostFormValue("password")
	if username == "" || password == "" {
		metrics.LoginsTotal.WithLabelValues("invalid_credentials").Inc()
		s.loginFailure(w, r, http.StatusUnauthorized, "invalid_credentials")
		return
	}

	if s.limiter != nil {
		ok, _ := s.limiter.Allow(r.Context(), clientIP(r), ratelimit.RuleLogin)
		if !ok {
			metrics.LoginsTotal.WithLabelValues("rate_limited").Inc()
			s.loginFailure(w, r, http.StatusTooManyRequests, "rate_limited")
			return
		}
	}

	if s.lockouts != nil {
		locked, _, err := s.lockouts.IsLocked(r.Context(), username)
		if err != nil {
			// Fail open: a Redis outage must not lock everyone out.
			log.Printf("[web] lockout check user=%s: %v (failing open)", username, err)
		}
		if locked {
			metrics.LoginsTotal.WithLabelValues("locked").Inc()
			s.loginFailure(w, r, http.StatusTooManyRequests, "account_locked")
			return
		}
	}

	id, err := s.claims.Login(r.Context(), username, password)
	switch {
	case err == nil:
		metrics.LoginsTotal.WithLabelValues("success").Inc()
		if s.lockouts != nil {
			if err := s.lockouts.Clear(r.Context(), username); err != nil {
				log.Printf("[web] lockout clear user=%s: %v", username, err)
			}
		}
		s.setSessionCookie(w, id, s.config.SessionTTL)
		if wantsJSON(r) {
			writeJSON(w, http.StatusOK, map[string]string{"username": username})
			return
		}
		http.Redirect(w, r, "/", http.StatusSeeOther)

	case errors.Is(err, claim.ErrInvalidCredentials):
		metrics.LoginsTotal.WithLabelValues("invalid_credentials").Inc()
		if s.lockouts != nil {
			locked, duration, lerr := s.lockouts.RecordFailure(r.Context(), username)
			if lerr != nil {
				log.Printf("[web] lockout record user=%s: %v", username, lerr)
			} else if locked {
				log.Printf("[web] account locked user=%s duration=%s", username, duration)
			}
		}
		s.loginFailure(w, r, http.StatusUnauthorized, "invalid_credentials")

	case errors.Is(err, claim.ErrClaimLost):
		// Lost a race with a concurrent login for the same account.
		// Retrying the login resolves it.
		metrics.LoginsTotal.WithLabelValues("claim_lost").Inc()
		s.loginFailure(w, r, http.StatusConflict, "claim_lost")

	default:
		log.Printf("[web] login user=%s: %v", username, err)
		metrics.LoginsTotal.WithLabelValues("error").Inc()
		s.loginFailure(w, r, http.StatusInternalServerError, "internal")
	}
}

// loginFailure answers a failed login: JSON for API clients, a tagged
// redirect back to the form for browsers.
func (s *Server) loginFailure(w http.ResponseWriter, r *http.Request, status int, reason string) {
	if wantsJSON(r) {
		writeJSON(w, status, map[string]string{"error": reason})
		return
	}
	http.Redirect(w, r, "/login?reason="+reason, http.StatusSeeOther)
}

// handleLogout terminates the caller's session. Works for superseded
// sessions too; the claim core makes sure a stale logout never clears a
// newer session's claim.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	p, ok := PrincipalFromContext(r.Context())
	if !ok {
		s.clearSessionCookie(w)
		if wantsJSON(r) {
			writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
			return
		}
		http.Redirect(w, r, "/login", http.StatusSeeOther)
		return
	}

	if err := s.claims.Logout(r.Context(), p.Username, p.SessionID); err != nil {
		log.Printf("[web] logout user=%s sid=%s: %v", p.Username, p.SessionID, err)
		s.clearSessionCookie(w)
		if wantsJSON(r) {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal"})
			return
		}
		http.Redirect(w, r, "/login?reason=internal", http.StatusSeeOther)
		return
	}

	s.clearSessionCookie(w)
	if wantsJSON(r) {
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
		return
	}
	http.Redirect(w, r, "/login?reason=logged_out", http.StatusSeeOther)
}

// handleSessionProbe reports whether the caller currently holds the active
// session for their account. Public: an anonymous caller just gets
// active=false.
func (s *Server) handleSessionProbe(w http.ResponseWriter, r *http.Request) {
	type probe struct {
		Active   bool   `json:"active"`
		Username string `json:"username,omitempty"`
	}

	p, ok := PrincipalFromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusOK, probe{})
		return
	}

	if err := s.claims.Check(r.Context(), p.Username, p.SessionID); err != nil {
		writeJSON(w, http.StatusOK, probe{})
		return
	}
	writeJSON(w, http.StatusOK, probe{Active: true, Username: p.Username})
}

// handleHealth pings the configured backends and reports liveness.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	type health struct {
		Status   string `json:"status"`
		Postgres string `json:"postgres,omitempty"`
		Redis    string `json:"redis,omitempty"`
	}

	h := health{Status: "ok"}
	status := http.StatusOK

	if s.dbPing != nil {
		h.Postgres = "ok"
		if err := s.dbPing.Ping(r.Context()); err != nil {
			log.Printf("[web] health postgres: %v", err)
			h.Postgres = "unreachable"
			h.Status = "degraded"
			status = http.StatusServiceUnavailable
		}
	}
	if s.cachePing != nil {
		h.Redis = "ok"
		if err := s.cachePing.Ping(r.Context()); err != nil {
			log.Printf("[web] health redis: %v", err)
			h.Redis = "unreachable"
			h.Status = "degraded"
			status = http.StatusServiceUnavailable
		}
	}

	writeJSON(w, status, h)
}

// handleDashboard serves the portal landing page. Protected.
func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	http.ServeFileFS(w, r, staticFS, "static/dashboard.html")
}

// handleWeatherCurrent serves the cached current-conditions payload for a
// city. Protected.
func (s *Server) handleWeatherCurrent(w http.ResponseWriter, r *http.Request) {
	s.serveWeather(w, r, func(city string) (string, bool, error) {
		return s.weather.Current(r.Context(), city)
	})
}

// handleWeatherForecast serves the cached forecast payload for a city.
// Protected.
func (s *Server) handleWeatherForecast(w http.ResponseWriter, r *http.Request) {
	s.serveWeather(w, r, func(city string) (string, bool, error) {
		return s.weather.Forecast(r.Context(), city)
	})
}

func (s *Server) serveWeather(w http.ResponseWriter, r *http.Request, lookup func(string) (string, bool, error)) {
	if s.weather == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "weather_disabled"})
		return
	}

	city := r.URL.Query().Get("city")
	if city == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing_city"})
		return
	}

	payload, ok, err := lookup(city)
	if err != nil {
		log.Printf("[web] weather lookup city=%s: %v", city, err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal"})
		return
	}
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no_data"})
		return
	}

	// Payloads are stored as ready-to-serve JSON.
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(payload))
}

// clientIP extracts the caller's IP for rate limiting, preferring the
// first X-Forwarded-For hop when a proxy is in front.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if i := strings.IndexByte(xff, ','); i >= 0 {
			return strings.TrimSpace(xff[:i])
		}
		return strings.TrimSpace(xff)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
