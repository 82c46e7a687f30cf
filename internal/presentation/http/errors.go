package http

import (
	"context"
	"encoding/json"
	stdhttp "net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/getsentry/sentry-go"
	"github.com/rotisserie/eris"
	"github.com/sirupsen/logrus"

	"funblink/app/internal/domain/blink"
	"funblink/app/internal/platform/auth"
)

const jsonContentType = "application/json"

// problem is the JSON error body every route returns.
type problem struct {
	HTTPStatus int    `json:"status"`
	Code       string `json:"code"`
	Number     uint32 `json:"number"`
	Message    string `json:"message"`
	RequestID  string `json:"request_id,omitempty"`
}

var _ huma.StatusError = (*problem)(nil)

func (p *problem) Error() string {
	return p.Message
}

func (p *problem) GetStatus() int {
	return p.HTTPStatus
}

var codeStatuses = map[string]int{
	"AuthorizationFailed": stdhttp.StatusForbidden,
	"BlinkExists":         stdhttp.StatusConflict,
	"ListNotInitialized":  stdhttp.StatusNotFound,
	"CapacityExceeded":    stdhttp.StatusRequestEntityTooLarge,
	"BlinkNotFound":       stdhttp.StatusNotFound,
}

func newProblem(ctx context.Context, status int, code, message string) *problem {
	return &problem{
		HTTPStatus: status,
		Code:       code,
		Number:     uint32(status),
		Message:    message,
		RequestID:  RequestIDFromContext(ctx),
	}
}

func unauthenticated(ctx context.Context) *problem {
	return newProblem(ctx, stdhttp.StatusUnauthorized, "Unauthenticated", auth.ErrUnauthenticated.Error())
}

func badRequest(ctx context.Context, message string) *problem {
	return newProblem(ctx, stdhttp.StatusBadRequest, "BadRequest", message)
}

// toProblem maps err onto the error surface. Domain codes keep their numbers; anything
// unclassified is recorded and hidden behind a generic 500.
func (s *Server) toProblem(ctx context.Context, err error, message string, fields logrus.Fields) *problem {
	if code, ok := blink.CodeOf(err); ok {
		if s.logger != nil {
			entry := s.logger.WithFields(fields).WithField("code", code.Name)
			if requestID := RequestIDFromContext(ctx); requestID != "" {
				entry = entry.WithField("request_id", requestID)
			}
			entry.Info(message)
		}

		p := newProblem(ctx, codeStatuses[code.Name], code.Name, code.Message)
		p.Number = code.Number
		return p
	}

	switch {
	case eris.Is(err, auth.ErrUnauthenticated):
		return unauthenticated(ctx)
	case eris.Is(err, blink.ErrInvalidLink):
		return badRequest(ctx, "blink link is not a valid action definition")
	}

	s.recordError(ctx, err, message, fields)
	return newProblem(ctx, stdhttp.StatusInternalServerError, "Internal", "internal error")
}

// writeProblem renders p outside a handler, from middleware that short-circuits the chain.
func (s *Server) writeProblem(ctx huma.Context, p *problem) {
	body, err := json.Marshal(p)
	if err != nil {
		s.recordError(ctx.Context(), err, "encoding error response", nil)
		body = []byte(`{"status":500,"code":"Internal","number":500,"message":"internal error"}`)
	}

	ctx.SetHeader("Content-Type", jsonContentType)
	ctx.SetStatus(p.HTTPStatus)
	_, _ = ctx.BodyWriter().Write(body)
}

func (s *Server) recordError(ctx context.Context, err error, message string, fields logrus.Fields) {
	if err == nil {
		return
	}

	if s.logger != nil {
		entry := s.logger.WithField("error", err.Error())
		if fields != nil {
			entry = entry.WithFields(fields)
		}
		if requestID := RequestIDFromContext(ctx); requestID != "" {
			entry = entry.WithField("request_id", requestID)
		}
		entry.Error(message)
	}

	if hub := sentry.GetHubFromContext(ctx); hub != nil {
		hub.CaptureException(err)
		return
	}
	if s.sentry != nil {
		s.sentry.CaptureException(err)
	}
}
