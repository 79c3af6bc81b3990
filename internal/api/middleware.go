package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/golang-jwt/jwt/v5"

	"qc-review/internal/errs"
	"qc-review/internal/logging"
	"qc-review/internal/telemetry"
)

type reviewerKey struct{}

func reviewerFrom(ctx context.Context) string {
	v, _ := ctx.Value(reviewerKey{}).(string)
	return v
}

type requestInfoKey struct{}

// requestInfo carries values resolved by inner middleware back out to requestLogger.
type requestInfo struct {
	reviewer string
}

// requestLogger tags the context with the request id and logs one line per request.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		info := &requestInfo{}
		ctx := logging.WithAttrs(r.Context(), slog.String("request_id", middleware.GetReqID(r.Context())))
		ctx = context.WithValue(ctx, requestInfoKey{}, info)
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r.WithContext(ctx))

		attrs := []slog.Attr{
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", ww.Status()),
			slog.Duration("duration", time.Since(start)),
		}
		if info.reviewer != "" {
			attrs = append(attrs, slog.String("reviewer_id", info.reviewer))
		}
		logging.Info(ctx, "http request", attrs...)
	})
}

// identify resolves the acting reviewer. With a JWT secret configured the
// bearer token's subject is used and X-User-ID is ignored.
func (s *Server) identify(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var reviewer string
		if s.cfg.AuthJWTSecret != "" {
			if header := r.Header.Get("Authorization"); header != "" {
				sub, err := s.subjectFromBearer(header)
				if err != nil {
					logging.Warn(r.Context(), "rejected bearer token", slog.Any("err", errs.Loggable(err)))
					respondError(w, r, http.StatusUnauthorized, "QC_UNAUTHORIZED", "invalid bearer token")
					return
				}
				reviewer = sub
			}
		} else {
			reviewer = strings.TrimSpace(r.Header.Get("X-User-ID"))
		}
		ctx := r.Context()
		if reviewer != "" {
			ctx = context.WithValue(ctx, reviewerKey{}, reviewer)
			ctx = logging.WithAttrs(ctx, slog.String("reviewer_id", reviewer))
			if info, ok := ctx.Value(requestInfoKey{}).(*requestInfo); ok {
				info.reviewer = reviewer
			}
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) subjectFromBearer(header string) (string, error) {
	tokenStr, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		return "", errors.New("authorization header is not a bearer token")
	}
	token, err := jwt.Parse(strings.TrimSpace(tokenStr), func(t *jwt.Token) (interface{}, error) {
		return []byte(s.cfg.AuthJWTSecret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return "", fmt.Errorf("token parse error: %w", err)
	}
	sub, err := token.Claims.GetSubject()
	if err != nil {
		return "", fmt.Errorf("read subject: %w", err)
	}
	if sub == "" {
		return "", errors.New("token has no subject")
	}
	return sub, nil
}

// requireReviewer rejects anonymous decisions when AUTH_REQUIRED is set.
func (s *Server) requireReviewer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.AuthRequired && reviewerFrom(r.Context()) == "" {
			respondError(w, r, http.StatusUnauthorized, "QC_UNAUTHORIZED", "an authenticated reviewer is required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// rateLimit throttles decisions per reviewer. Limiter errors fail open.
func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		allowed, err := s.limiter.AllowReviewer(r.Context(), reviewerFrom(r.Context()))
		if err != nil {
			logging.Warn(r.Context(), "rate limiter unavailable", slog.Any("err", errs.Loggable(err)))
			allowed = true
		}
		if !allowed {
			telemetry.RateLimitRejects.Inc()
			respondError(w, r, http.StatusTooManyRequests, "QC_RATE_LIMITED", "too many review decisions, slow down")
			return
		}
		next.ServeHTTP(w, r)
	})
}
