package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/afero"
	"go.uber.org/zap"

	"quarantine-drop/internal/adjudicate"
	"quarantine-drop/internal/auth"
	"quarantine-drop/internal/logging"
	"quarantine-drop/internal/metrics"
	"quarantine-drop/internal/scanner"
	"quarantine-drop/internal/upload"
)

// Scanner classifies a staged file. *scanner.Invoker implements it.
type Scanner interface {
	Scan(ctx context.Context, path string) scanner.Outcome
}

// Config holds transport settings.
type Config struct {
	Addr       string // e.g. ":3000"
	CookieName string
	// TrustProxy honors X-Forwarded-Proto and X-Forwarded-For / X-Real-IP.
	TrustProxy bool
	// AllowInsecureCookies permits login over plain HTTP (development only).
	AllowInsecureCookies bool
	MaxUploadBytes       int64
	RateLimitPerMin      int
	Version              string
	HSTS                 bool
	Endpoints            EndpointLimits
}

// Deps are the collaborators behind the routes. Metrics, Public and Checks
// are optional.
type Deps struct {
	Guard       *auth.Guard
	Ingestor    *upload.Ingestor
	Scanner     Scanner
	Adjudicator *adjudicate.Adjudicator
	Metrics     *metrics.Metrics
	Logger      *zap.Logger
	// Public is the directory served at GET /.
	Public afero.Fs
	Checks []HealthCheck
}

type Server struct {
	cfg         Config
	guard       *auth.Guard
	ingestor    *upload.Ingestor
	scanner     Scanner
	adjudicator *adjudicate.Adjudicator
	metrics     *metrics.Metrics
	logger      *zap.Logger
	audit       *zap.Logger
	public      afero.Fs
	checks      []HealthCheck
	limiter     *rateLimiter
	endpoints   endpointLimiters
	started     time.Time

	httpServer *http.Server
}

func New(cfg Config, deps Deps) *Server {
	if cfg.CookieName == "" {
		cfg.CookieName = "qd_session"
	}
	if cfg.RateLimitPerMin <= 0 {
		cfg.RateLimitPerMin = 120
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}

	s := &Server{
		cfg:         cfg,
		guard:       deps.Guard,
		ingestor:    deps.Ingestor,
		scanner:     deps.Scanner,
		adjudicator: deps.Adjudicator,
		metrics:     deps.Metrics,
		logger:      deps.Logger.Named("http"),
		audit:       logging.Audit(deps.Logger),
		public:      deps.Public,
		checks:      deps.Checks,
		limiter:     newRateLimiter(cfg.RateLimitPerMin, time.Minute),
		endpoints:   newEndpointLimiters(cfg.Endpoints),
		started:     time.Now(),
	}

	s.httpServer = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.routes(),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}
	return s
}

func (s *Server) routes() http.Handler {
	mux := chi.NewRouter()

	if s.cfg.TrustProxy {
		mux.Use(middleware.RealIP)
	}
	mux.Use(requestIDMiddleware)
	mux.Use(s.loggingMiddleware)
	mux.Use(securityHeadersMiddleware(s.cfg.HSTS))
	mux.Use(middleware.CleanPath)

	// Health endpoints and metrics are not rate limited.
	mux.Get("/health", s.handleHealth)
	mux.Get("/ready", s.handleReady)
	mux.Get("/live", s.handleLive)
	if s.metrics != nil {
		mux.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	}

	mux.Group(func(r chi.Router) {
		r.Use(s.limiter.middleware)
		r.Use(middleware.Compress(5, "application/json", "text/html", "text/css", "application/javascript"))

		r.With(s.limitAuth).Method(http.MethodPost, "/register", s.handle(s.handleRegister))
		r.With(s.limitAuth).Method(http.MethodPost, "/login", s.handle(s.handleLogin))
		r.Method(http.MethodPost, "/logout", s.handle(s.handleLogout))
		r.Method(http.MethodGet, "/session", s.handle(s.handleSession))
		r.Method(http.MethodPost, "/chat", s.handle(s.requireSession(s.handleChat)))
		r.Method(http.MethodPost, "/upload", s.handle(s.requireSession(s.limitUploads(s.handleUpload))))

		if s.public != nil {
			r.Handle("/*", s.staticHandler())
		}
	})

	mux.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, jMap{"message": "Not found."})
	})
	mux.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, jMap{"message": "Method not allowed."})
	})

	return mux
}

// Handler returns the root handler, for tests.
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

// Run starts background maintenance tied to ctx.
func (s *Server) Run(ctx context.Context) {
	go s.limiter.Run(ctx, time.Minute)
	go s.endpoints.auth.Run(ctx, time.Minute)
	go s.endpoints.upload.Run(ctx, 10*time.Minute)
}

func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return err
	}
	s.logger.Info("listening", zap.String("addr", ln.Addr().String()))
	if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
