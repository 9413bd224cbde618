package http

import (
	"bufio"
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"flowdelivery/internal/auth"
	"flowdelivery/internal/models"

	"go.uber.org/zap"
)

// DriverResolver looks a driver up by their capability token.
type DriverResolver interface {
	DriverByToken(ctx context.Context, token string) (*models.Driver, error)
}

// Authenticate resolves the bearer credential into a Principal: an owner
// session JWT first, then a driver access token. Handlers downstream only
// ever see the resolved principal.
func Authenticate(secret []byte, drivers DriverResolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tok, ok := auth.BearerToken(r.Header.Get("Authorization"))
			if !ok {
				writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing bearer credential")
				return
			}

			if storeID, err := auth.ParseSessionToken(secret, tok); err == nil {
				p := &auth.Principal{Kind: auth.KindStoreOwner, StoreID: storeID}
				next.ServeHTTP(w, r.WithContext(auth.WithPrincipal(r.Context(), p)))
				return
			}

			d, err := drivers.DriverByToken(r.Context(), tok)
			if err != nil || !d.IsActive {
				writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "invalid credential")
				return
			}
			p := &auth.Principal{Kind: auth.KindDriver, StoreID: d.StoreID, DriverID: d.DriverID}
			next.ServeHTTP(w, r.WithContext(auth.WithPrincipal(r.Context(), p)))
		})
	}
}

// RequireOwner rejects drivers on owner-only routes.
func RequireOwner(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, ok := auth.FromContext(r.Context())
		if !ok || p.Kind != auth.KindStoreOwner {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "store owner session required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Hijack passes through so the live-tracking upgrade still works behind the
// request logger.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	return hj.Hijack()
}

func requestLogger(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)
			log.Info("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", rec.status),
				zap.Duration("duration", time.Since(start)))
		})
	}
}
