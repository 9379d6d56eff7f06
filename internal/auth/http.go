// ABOUTME: HTTP middleware attaching the authenticated identity to requests
// ABOUTME: Shapes sensor token, JWT and unexpected failures into their distinct responses

package auth

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"runtime/debug"
	"time"
)

// Auth attempt outcomes reported to an AttemptRecorder
const (
	OutcomeSuccess   = "success"
	OutcomeRejected  = "rejected"
	OutcomeError     = "error"
	OutcomeAnonymous = "anonymous"
)

// AttemptRecorder observes authentication attempts.
type AttemptRecorder interface {
	ObserveAuthAttempt(scheme, outcome string)
}

// SensorTokenErrorBody is the 401 body for rejected sensor tokens.
type SensorTokenErrorBody struct {
	Message   string `json:"message"`
	Token     string `json:"token"`
	Timestamp string `json:"timestamp"`
}

// ProblemDetails is an RFC 7807 problem body.
type ProblemDetails struct {
	Type   string `json:"type"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail,omitempty"`
}

const genericProblemDetail = "An unexpected error occurred while processing the request"

// Middleware authenticates every request with authn.
// Authenticated requests carry an AuthContext; requests no strategy applies to
// continue anonymously. Failures never reach next.
func Middleware(authn *Authenticator, logger *slog.Logger, recorder AttemptRecorder) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "auth")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authCtx, scheme, err := authn.Authenticate(r)
			if err != nil {
				var tokenErr *SensorTokenError
				switch {
				case errors.As(err, &tokenErr):
					record(recorder, scheme, OutcomeRejected)
					logger.Warn("sensor token rejected", "reason", tokenErr.Kind, "path", r.URL.Path)
					WriteSensorTokenError(w, tokenErr)
				case isJWTError(err):
					record(recorder, scheme, OutcomeRejected)
					logger.Debug("bearer token rejected", "error", err, "path", r.URL.Path)
					WriteUnauthorized(w)
				default:
					record(recorder, scheme, OutcomeError)
					logger.Error("authentication failed unexpectedly", "error", err, "path", r.URL.Path)
					WriteProblem(w, http.StatusBadRequest, "Internal Server Error", genericProblemDetail)
				}
				return
			}

			if authCtx == nil {
				record(recorder, scheme, OutcomeAnonymous)
				next.ServeHTTP(w, r)
				return
			}

			record(recorder, scheme, OutcomeSuccess)
			next.ServeHTTP(w, r.WithContext(WithAuth(r.Context(), authCtx)))
		})
	}
}

func record(recorder AttemptRecorder, scheme, outcome string) {
	if recorder != nil {
		recorder.ObserveAuthAttempt(scheme, outcome)
	}
}

func isJWTError(err error) bool {
	return errors.Is(err, ErrInvalidToken) || errors.Is(err, ErrExpiredToken) || errors.Is(err, ErrMissingClaim)
}

// RequireAuth rejects requests without an AuthContext with 401 Unauthorized.
// Must be used after Middleware.
func RequireAuth() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if FromContext(r.Context()) == nil {
				WriteUnauthorized(w)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Recoverer converts panics in the wrapped chain into a 400 problem response.
func Recoverer(logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				logger.Error("panic in request handler",
					"panic", rec,
					"method", r.Method,
					"path", r.URL.Path,
					"stack", string(debug.Stack()),
				)
				WriteProblem(w, http.StatusBadRequest, "Internal Server Error", genericProblemDetail)
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// WriteSensorTokenError writes the 401 JSON body for a rejected sensor token.
func WriteSensorTokenError(w http.ResponseWriter, e *SensorTokenError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(SensorTokenErrorBody{
		Message:   e.Error(),
		Token:     e.Token,
		Timestamp: e.Timestamp.Format(time.RFC3339Nano),
	})
}

// WriteUnauthorized writes a 401 with the plain text body "Unauthorized".
func WriteUnauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte("Unauthorized"))
}

// WriteProblem writes an application/problem+json response.
func WriteProblem(w http.ResponseWriter, status int, title, detail string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(ProblemDetails{
		Type:   "about:blank",
		Title:  title,
		Status: status,
		Detail: detail,
	})
}
