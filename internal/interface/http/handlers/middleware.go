// Package handlers contains HTTP middleware and health checking shared by the
// API server.
package handlers

import (
	"context"
	"crypto/subtle"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/learnfi/learnfi-hub/internal/domain/shared"
)

// ErrorWriter renders an error response. The server passes its JSON envelope
// writer so middleware errors look like handler errors.
type ErrorWriter func(w http.ResponseWriter, r *http.Request, status int, code, message string)

func plainError(w http.ResponseWriter, _ *http.Request, status int, code, message string) {
	http.Error(w, `{"error":"`+code+`","message":"`+message+`"}`, status)
}

// ══════════════════════════════════════════════════════════════════════════════
// GATEWAY IDENTITY MIDDLEWARE
// ══════════════════════════════════════════════════════════════════════════════

// Identity headers set by the upstream gateway after it authenticated the
// caller.
const (
	HeaderUserID   = "X-User-ID"
	HeaderUserRole = "X-User-Role"
)

type actorContextKey struct{}

// WithActor returns a context carrying the actor.
func WithActor(ctx context.Context, actor shared.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

// ActorFromContext returns the actor set by GatewayAuth. The zero Actor means
// the request is anonymous.
func ActorFromContext(ctx context.Context) shared.Actor {
	actor, _ := ctx.Value(actorContextKey{}).(shared.Actor)
	return actor
}

// GatewayAuth turns the gateway identity headers into a shared.Actor.
// Requests without identity headers pass through anonymously; handlers that
// need an actor reject them. Malformed identity is always rejected.
type GatewayAuth struct {
	token   string
	onError ErrorWriter
}

// NewGatewayAuth creates the middleware. When token is set, every request must
// carry "Authorization: Bearer <token>" proving it came through the gateway.
func NewGatewayAuth(token string, onError ErrorWriter) *GatewayAuth {
	if onError == nil {
		onError = plainError
	}
	return &GatewayAuth{token: token, onError: onError}
}

// Middleware returns the HTTP middleware.
func (g *GatewayAuth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if g.token != "" {
			presented := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
			if subtle.ConstantTimeCompare([]byte(presented), []byte(g.token)) != 1 {
				g.onError(w, r, http.StatusUnauthorized, "invalid_gateway_token", "Request did not come through the gateway")
				return
			}
		}

		rawID := strings.TrimSpace(r.Header.Get(HeaderUserID))
		rawRole := strings.TrimSpace(r.Header.Get(HeaderUserRole))
		if rawID == "" && rawRole == "" {
			next.ServeHTTP(w, r)
			return
		}

		actor, err := parseActor(rawID, rawRole)
		if err != nil {
			g.onError(w, r, http.StatusUnauthorized, "invalid_identity", "Identity headers are malformed")
			return
		}

		next.ServeHTTP(w, r.WithContext(WithActor(r.Context(), actor)))
	})
}

func parseActor(rawID, rawRole string) (shared.Actor, error) {
	id, err := uuid.Parse(rawID)
	if err != nil {
		return shared.Actor{}, err
	}
	role, err := shared.ParseRole(rawRole)
	if err != nil {
		return shared.Actor{}, err
	}
	return shared.NewActor(id, role)
}

// ══════════════════════════════════════════════════════════════════════════════
// RATE LIMIT MIDDLEWARE
// ══════════════════════════════════════════════════════════════════════════════

// RateLimiter keeps a token bucket per client. Clients are keyed by the
// gateway user id when present, otherwise by IP.
type RateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*clientLimiter
	limit    rate.Limit
	burst    int
	onError  ErrorWriter
	now      func() time.Time
}

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter creates a limiter allowing rps requests per second with the
// given burst per client.
func NewRateLimiter(rps float64, burst int, onError ErrorWriter) *RateLimiter {
	if burst <= 0 {
		burst = 1
	}
	if onError == nil {
		onError = plainError
	}
	return &RateLimiter{
		limiters: make(map[string]*clientLimiter),
		limit:    rate.Limit(rps),
		burst:    burst,
		onError:  onError,
		now:      time.Now,
	}
}

// Allow reports whether the client may make a request now.
func (l *RateLimiter) Allow(key string) bool {
	l.mu.Lock()
	entry, ok := l.limiters[key]
	if !ok {
		entry = &clientLimiter{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.limiters[key] = entry
	}
	entry.lastSeen = l.now()
	l.mu.Unlock()

	return entry.limiter.Allow()
}

// Cleanup forgets clients idle for longer than idle and returns how many
// were removed.
func (l *RateLimiter) Cleanup(idle time.Duration) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().Add(-idle)
	removed := 0
	for key, entry := range l.limiters {
		if entry.lastSeen.Before(cutoff) {
			delete(l.limiters, key)
			removed++
		}
	}
	return removed
}

// Run calls Cleanup every interval until ctx is done.
func (l *RateLimiter) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.Cleanup(3 * interval)
		}
	}
}

// Middleware returns the HTTP middleware. It must run after GatewayAuth.
func (l *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !l.Allow(ClientKey(r)) {
			w.Header().Set("Retry-After", "1")
			l.onError(w, r, http.StatusTooManyRequests, "rate_limit_exceeded", "Too many requests, please try again later")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ClientKey identifies the caller for rate limiting.
func ClientKey(r *http.Request) string {
	if actor := ActorFromContext(r.Context()); !actor.IsZero() {
		return "user:" + actor.UserID.String()
	}
	return "ip:" + ClientIP(r)
}

// ClientIP extracts the client IP from the request.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// ══════════════════════════════════════════════════════════════════════════════
// TIMEOUT MIDDLEWARE
// ══════════════════════════════════════════════════════════════════════════════

// TimeoutMiddleware bounds the request context. Handlers pass the context to
// storage, so a slow query is cancelled rather than abandoned.
func TimeoutMiddleware(timeout time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if timeout <= 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), timeout)
			defer cancel()
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// CACHE CONTROL MIDDLEWARE
// ══════════════════════════════════════════════════════════════════════════════

// NoCacheMiddleware prevents caching.
func NoCacheMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate, max-age=0")
		w.Header().Set("Pragma", "no-cache")
		w.Header().Set("Expires", "0")
		next.ServeHTTP(w, r)
	})
}

// ══════════════════════════════════════════════════════════════════════════════
// SECURITY HEADERS MIDDLEWARE
// ══════════════════════════════════════════════════════════════════════════════

// SecurityHeadersMiddleware adds security-related headers.
func SecurityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
		next.ServeHTTP(w, r)
	})
}

// ══════════════════════════════════════════════════════════════════════════════
// REQUEST SIZE LIMIT MIDDLEWARE
// ══════════════════════════════════════════════════════════════════════════════

// RequestSizeLimitMiddleware limits the size of request bodies.
func RequestSizeLimitMiddleware(maxBytes int64, onError ErrorWriter) func(http.Handler) http.Handler {
	if onError == nil {
		onError = plainError
	}
	return func(next http.Handler) http.Handler {
		if maxBytes <= 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.ContentLength > maxBytes {
				onError(w, r, http.StatusRequestEntityTooLarge, "payload_too_large", "Request body too large")
				return
			}

			// Chunked bodies have no Content-Length.
			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)

			next.ServeHTTP(w, r)
		})
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// MIDDLEWARE CHAIN BUILDER
// ══════════════════════════════════════════════════════════════════════════════

// MiddlewareFunc is a function that wraps an http.Handler.
type MiddlewareFunc func(http.Handler) http.Handler

// Chain chains multiple middleware functions. The first one sees the request
// first.
func Chain(middlewares ...MiddlewareFunc) MiddlewareFunc {
	return func(final http.Handler) http.Handler {
		for i := len(middlewares) - 1; i >= 0; i-- {
			final = middlewares[i](final)
		}
		return final
	}
}
