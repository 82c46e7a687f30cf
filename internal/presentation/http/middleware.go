package http

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	stdhttp "net/http"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humago"
	"github.com/getsentry/sentry-go"
	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/sirupsen/logrus"
)

const (
	metadataSigned = "funblink.signed"
	metadataCORS   = "funblink.cors"

	maxSignedBodyBytes = 64 << 10
	sentryFlushTimeout = 2 * time.Second
)

func (s *Server) sentryMiddleware() func(huma.Context, func(huma.Context)) {
	return func(ctx huma.Context, next func(huma.Context)) {
		if s.sentry == nil {
			next(ctx)
			return
		}

		hub := s.sentry.Clone()
		scope := hub.Scope()
		scope.SetTag("http.method", ctx.Method())
		if op := ctx.Operation(); op != nil {
			scope.SetTag("http.route", op.Path)
		}

		goCtx := sentry.SetHubOnContext(ctx.Context(), hub)
		ctx = huma.WithContext(ctx, goCtx)

		defer hub.Flush(sentryFlushTimeout)

		next(ctx)
	}
}

func (s *Server) recoveryMiddleware() func(huma.Context, func(huma.Context)) {
	return func(ctx huma.Context, next func(huma.Context)) {
		defer func() {
			if rec := recover(); rec != nil {
				var err error
				switch v := rec.(type) {
				case error:
					err = v
				default:
					err = fmt.Errorf("panic: %v", v)
				}

				s.recordError(ctx.Context(), err, "panic recovered", nil)

				if hub := sentry.GetHubFromContext(ctx.Context()); hub != nil {
					hub.RecoverWithContext(ctx.Context(), rec)
				}

				s.writeProblem(ctx, newProblem(ctx.Context(), stdhttp.StatusInternalServerError, "Internal", "internal error"))
			}
		}()

		next(ctx)
	}
}

func (s *Server) requestIDMiddleware() func(huma.Context, func(huma.Context)) {
	return func(ctx huma.Context, next func(huma.Context)) {
		reqID := uuid.NewString()
		goCtx := context.WithValue(ctx.Context(), requestIDContextKey, reqID)
		ctx = huma.WithContext(ctx, goCtx)
		ctx.SetHeader("X-Request-ID", reqID)

		if hub := sentry.GetHubFromContext(goCtx); hub != nil {
			hub.Scope().SetTag("request_id", reqID)
		}

		next(ctx)
	}
}

// corsMiddleware adds the cross-origin headers action clients expect, on success and error alike.
func (s *Server) corsMiddleware() func(huma.Context, func(huma.Context)) {
	return func(ctx huma.Context, next func(huma.Context)) {
		if !operationFlag(ctx, metadataCORS) {
			next(ctx)
			return
		}

		ctx.SetHeader("Access-Control-Allow-Origin", "*")
		ctx.SetHeader("Access-Control-Allow-Methods", "GET,POST,PUT,OPTIONS")
		ctx.SetHeader("Access-Control-Allow-Headers", "Content-Type, Authorization, Content-Encoding, Accept-Encoding")
		ctx.SetHeader("Access-Control-Expose-Headers", "X-Request-ID")

		origin := s.publicBaseURL
		if origin == "" {
			if req, _ := humago.Unwrap(ctx); req != nil {
				origin = requestOrigin(req, s.trustProxy)
			}
		}
		ctx = huma.WithContext(ctx, context.WithValue(ctx.Context(), originContextKey, origin))

		next(ctx)
	}
}

func (s *Server) rateLimitMiddleware() func(huma.Context, func(huma.Context)) {
	return func(ctx huma.Context, next func(huma.Context)) {
		if s.rateLimiter == nil {
			next(ctx)
			return
		}

		req, _ := humago.Unwrap(ctx)
		if req == nil {
			next(ctx)
			return
		}

		ip := clientIPFromRequest(req, s.trustProxy)
		if s.rateLimiter.Allow(ip) {
			next(ctx)
			return
		}

		if s.logger != nil {
			fields := logrus.Fields{
				"ip":   ip,
				"path": req.URL.Path,
			}
			if requestID := RequestIDFromContext(ctx.Context()); requestID != "" {
				fields["request_id"] = requestID
			}
			s.logger.WithError(eris.New("rate limit exceeded")).WithFields(fields).Warn("request rate limited")
		}

		ctx.SetHeader("Retry-After", "1")
		s.writeProblem(ctx, newProblem(ctx.Context(), stdhttp.StatusTooManyRequests, "RateLimited", "too many requests"))
	}
}

// authMiddleware verifies the owner signature on signed operations and stores the owner in
// the request context. The body is read once and restored for the handler.
func (s *Server) authMiddleware() func(huma.Context, func(huma.Context)) {
	return func(ctx huma.Context, next func(huma.Context)) {
		if !operationFlag(ctx, metadataSigned) {
			next(ctx)
			return
		}

		req, _ := humago.Unwrap(ctx)
		if req == nil {
			s.writeProblem(ctx, unauthenticated(ctx.Context()))
			return
		}

		var body []byte
		if req.Body != nil {
			read, err := io.ReadAll(io.LimitReader(req.Body, maxSignedBodyBytes+1))
			if err != nil {
				s.writeProblem(ctx, badRequest(ctx.Context(), "request body could not be read"))
				return
			}
			if len(read) > maxSignedBodyBytes {
				s.writeProblem(ctx, newProblem(ctx.Context(), stdhttp.StatusRequestEntityTooLarge, "BodyTooLarge", "request body is too large"))
				return
			}
			body = read
			req.Body = io.NopCloser(bytes.NewReader(body))
		}

		owner, err := s.verifier.Verify(req.Method, req.URL.RequestURI(), req.Header, body)
		if err != nil {
			if s.logger != nil {
				fields := logrus.Fields{
					"path":  req.URL.Path,
					"error": err.Error(),
				}
				if requestID := RequestIDFromContext(ctx.Context()); requestID != "" {
					fields["request_id"] = requestID
				}
				s.logger.WithFields(fields).Warn("request signature rejected")
			}
			s.writeProblem(ctx, unauthenticated(ctx.Context()))
			return
		}

		if hub := sentry.GetHubFromContext(ctx.Context()); hub != nil {
			hub.Scope().SetUser(sentry.User{ID: owner.String()})
		}

		ctx = huma.WithContext(ctx, context.WithValue(ctx.Context(), ownerContextKey, owner))
		next(ctx)
	}
}

func (s *Server) loggingMiddleware() func(huma.Context, func(huma.Context)) {
	return func(ctx huma.Context, next func(huma.Context)) {
		if s.logger == nil {
			next(ctx)
			return
		}

		start := time.Now()
		next(ctx)

		status := ctx.Status()
		if status == 0 {
			status = stdhttp.StatusOK
		}

		fields := logrus.Fields{
			"method":      ctx.Method(),
			"status":      status,
			"duration_ms": float64(time.Since(start).Microseconds()) / 1000,
		}

		if op := ctx.Operation(); op != nil {
			fields["route"] = op.Path
		}

		if req, _ := humago.Unwrap(ctx); req != nil {
			fields["path"] = req.URL.Path
			fields["remote_addr"] = req.RemoteAddr
		}

		if requestID := RequestIDFromContext(ctx.Context()); requestID != "" {
			fields["request_id"] = requestID
		}

		entry := s.logger.WithFields(fields)
		if status >= 500 {
			entry.Error("request failed")
		} else {
			entry.Info("request completed")
		}
	}
}

func operationFlag(ctx huma.Context, key string) bool {
	op := ctx.Operation()
	if op == nil || op.Metadata == nil {
		return false
	}
	flag, _ := op.Metadata[key].(bool)
	return flag
}

func requestOrigin(req *stdhttp.Request, trustProxy bool) string {
	scheme := "http"
	if req.TLS != nil {
		scheme = "https"
	}
	if forwarded := strings.TrimSpace(req.Header.Get("X-Forwarded-Proto")); trustProxy && forwarded != "" {
		scheme = forwarded
	}
	return scheme + "://" + req.Host
}

// clientIPFromRequest returns the address used as the rate limit key. Forwarded headers are
// client controlled and only read when the server sits behind a trusted proxy.
func clientIPFromRequest(req *stdhttp.Request, trustProxy bool) string {
	if req == nil {
		return ""
	}

	if trustProxy {
		if ip := forwardedClientIP(req); ip != "" {
			return ip
		}
	}

	host, _, err := net.SplitHostPort(req.RemoteAddr)
	if err != nil {
		return strings.TrimSpace(req.RemoteAddr)
	}
	return host
}

func forwardedClientIP(req *stdhttp.Request) string {
	if forwarded := strings.TrimSpace(req.Header.Get("X-Forwarded-For")); forwarded != "" {
		parts := strings.Split(forwarded, ",")
		if candidate := strings.TrimSpace(parts[0]); candidate != "" {
			return candidate
		}
	}

	return strings.TrimSpace(req.Header.Get("X-Real-IP"))
}
