package http

import (
	stdhttp "net/http"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humago"
	"github.com/getsentry/sentry-go"
	"github.com/rotisserie/eris"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"funblink/app/internal/domain/blink"
	"funblink/app/internal/platform/auth"
)

// Options configures the HTTP server wiring.
type Options struct {
	BlinkService      blink.Service
	Verifier          *auth.Verifier
	Database          *gorm.DB
	Logger            *logrus.Logger
	SentryHub         *sentry.Hub
	RateLimiter       RateLimiterSettings
	PublicBaseURL     string
	// TrustProxyHeaders keys rate limiting and CORS origins on forwarded headers.
	TrustProxyHeaders bool
}

// RateLimiterSettings configures the HTTP rate limiter behaviour.
type RateLimiterSettings struct {
	RequestsPerSecond float64
	Burst             int
	ClientTTL         time.Duration
}

// Server exposes the blink operations over JSON using Huma.
type Server struct {
	api           huma.API
	mux           *stdhttp.ServeMux
	blinks        blink.Service
	verifier      *auth.Verifier
	db            *gorm.DB
	logger        *logrus.Logger
	sentry        *sentry.Hub
	rateLimiter   *RateLimiter
	publicBaseURL string
	trustProxy    bool
}

// NewServer constructs the HTTP server.
func NewServer(opts Options) (*Server, error) {
	if opts.BlinkService == nil {
		return nil, eris.New("blink service is required")
	}
	if opts.Verifier == nil {
		return nil, eris.New("request verifier is required")
	}

	settings := opts.RateLimiter
	if settings.Burst <= 0 {
		return nil, eris.New("rate limiter burst must be greater than zero")
	}
	if settings.RequestsPerSecond <= 0 {
		return nil, eris.New("rate limiter requests per second must be greater than zero")
	}
	if settings.ClientTTL <= 0 {
		return nil, eris.New("rate limiter client TTL must be greater than zero")
	}

	mux := stdhttp.NewServeMux()
	api := humago.New(mux, huma.DefaultConfig("Funblink", "1.0.0"))

	srv := &Server{
		api:           api,
		mux:           mux,
		blinks:        opts.BlinkService,
		verifier:      opts.Verifier,
		db:            opts.Database,
		logger:        opts.Logger,
		sentry:        opts.SentryHub,
		rateLimiter:   NewRateLimiter(settings.Burst, settings.RequestsPerSecond, settings.ClientTTL),
		publicBaseURL: strings.TrimSuffix(opts.PublicBaseURL, "/"),
		trustProxy:    opts.TrustProxyHeaders,
	}

	srv.registerMiddlewares()
	srv.registerRoutes()

	return srv, nil
}

// Handler exposes the underlying HTTP handler for wiring into the application.
func (s *Server) Handler() stdhttp.Handler {
	return s.mux
}

// Close stops background work owned by the server.
func (s *Server) Close() {
	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
	}
}

func (s *Server) registerMiddlewares() {
	s.api.UseMiddleware(
		s.sentryMiddleware(),
		s.recoveryMiddleware(),
		s.requestIDMiddleware(),
		s.corsMiddleware(),
		s.rateLimitMiddleware(),
		s.authMiddleware(),
		s.loggingMiddleware(),
	)
}

func (s *Server) registerRoutes() {
	s.registerBlinkRoutes()
	s.registerOwnerRoutes()
	s.registerActionRoutes()
	s.registerHealthRoute()
}

func (s *Server) ServeHTTP(w stdhttp.ResponseWriter, r *stdhttp.Request) {
	s.mux.ServeHTTP(w, r)
}
