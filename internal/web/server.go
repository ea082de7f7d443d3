package web

import (
	"context"
	"net/http"
	"time"

	"github.com/skycast/weather-app/internal/claim"
	"github.com/skycast/weather-app/internal/lockout"
	"github.com/skycast/weather-app/internal/metrics"
	"github.com/skycast/weather-app/internal/ratelimit"
	"github.com/skycast/weather-app/internal/session"
	"github.com/skycast/weather-app/internal/weather"
)

// Config holds HTTP server settings.
type Config struct {
	ListenAddr   string
	CookieName   string
	CookieSecure bool          // set for TLS deployments
	SessionTTL   time.Duration // mirrors the session store TTL; bounds cookie MaxAge
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		ListenAddr:   ":8080",
		CookieName:   "skycast_sid",
		SessionTTL:   session.DefaultTTL,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
}

// Pinger reports backend liveness for the health endpoint.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server is the portal's HTTP front. The claim service and session store
// are required; the weather cache, rate limiter, and health pingers are
// optional and disabled when unset.
type Server struct {
	config   Config
	claims   *claim.Service
	sessions claim.SessionStore

	weather   *weather.Cache
	limiter   *ratelimit.Limiter
	lockouts  *lockout.Store
	dbPing    Pinger
	cachePing Pinger

	httpSrv *http.Server
}

// NewServer constructs a server around the claim service and session store.
func NewServer(config Config, claims *claim.Service, sessions claim.SessionStore) *Server {
	if config.SessionTTL <= 0 {
		config.SessionTTL = session.DefaultTTL
	}
	return &Server{config: config, claims: claims, sessions: sessions}
}

// SetWeather enables the protected weather API surface.
func (s *Server) SetWeather(cache *weather.Cache) {
	s.weather = cache
}

// SetLimiter enables login rate limiting.
func (s *Server) SetLimiter(limiter *ratelimit.Limiter) {
	s.limiter = limiter
}

// SetLockouts enables escalating account lockout on repeated failed logins.
func (s *Server) SetLockouts(store *lockout.Store) {
	s.lockouts = store
}

// SetPingers wires backend liveness checks into /healthz. Either may be nil.
func (s *Server) SetPingers(db, cache Pinger) {
	s.dbPing = db
	s.cachePing = cache
}

// Handler builds the full route table wrapped in the session middleware.
// Exposed separately from Start for httptest use.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Public surface.
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.Handle("GET /metrics", metrics.Handler())
	mux.HandleFunc("GET /login", s.handleLoginPage)
	mux.HandleFunc("POST /login", s.handleLogin)
	mux.HandleFunc("POST /logout", s.handleLogout)
	mux.HandleFunc("GET /api/session", s.handleSessionProbe)
	mux.Handle("GET /static/", http.FileServerFS(staticFS))

	// Protected surface: everything behind the route guard.
	mux.Handle("GET /{$}", s.Protected(http.HandlerFunc(s.handleDashboard)))
	mux.Handle("GET /api/weather/current", s.Protected(http.HandlerFunc(s.handleWeatherCurrent)))
	mux.Handle("GET /api/weather/forecast", s.Protected(http.HandlerFunc(s.handleWeatherForecast)))

	return s.withSession(mux)
}

// Start runs the HTTP server until it is shut down.
func (s *Server) Start() error {
	s.httpSrv = &http.Server{
		Addr:         s.config.ListenAddr,
		Handler:      s.Handler(),
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}
	return s.httpSrv.ListenAndServe()
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}
