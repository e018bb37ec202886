package handlers

import (
	"context"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/sdko-org/libproxy/internal/config"
	"github.com/sdko-org/libproxy/internal/models"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

type contextKey int

const callerKey contextKey = iota

func callerFrom(r *http.Request) models.Caller {
	if caller, ok := r.Context().Value(callerKey).(models.Caller); ok {
		return caller
	}
	return models.Caller{}
}

func withCaller(r *http.Request, caller models.Caller) *http.Request {
	return r.WithContext(context.WithValue(r.Context(), callerKey, caller))
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimPrefix(header, "Bearer ")
}

// optionalAuth resolves a caller when a bearer token is presented but lets
// anonymous requests through; the policy layer decides what anonymity means
// per journal. A presented-but-invalid token is still a 401.
func (h *Handler) optionalAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			next(w, r)
			return
		}
		caller, err := h.auth.ResolveCaller(r.Context(), token)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		next(w, withCaller(r, caller))
	}
}

func (h *Handler) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			h.writeJSON(w, http.StatusUnauthorized, errorBody{Error: "Authentication required"})
			return
		}
		caller, err := h.auth.ResolveCaller(r.Context(), token)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		next(w, withCaller(r, caller))
	}
}

func (h *Handler) requireAdmin(next http.HandlerFunc) http.HandlerFunc {
	return h.requireAuth(func(w http.ResponseWriter, r *http.Request) {
		if !callerFrom(r).IsAdmin {
			h.writeJSON(w, http.StatusForbidden, errorBody{Error: "Admin access required"})
			return
		}
		next(w, r)
	})
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
	bytesSent  int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Write(b []byte) (int, error) {
	n, err := lrw.ResponseWriter.Write(b)
	lrw.bytesSent += n
	return n, err
}

func LoggingMiddleware(logger *logrus.Logger) func(http.Handler) http.Handler {
	logEntry := logger.WithField("component", "http_middleware")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			lrw := &loggingResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			defer func() {
				logEntry.WithFields(logrus.Fields{
					"method":     r.Method,
					"path":       r.URL.Path,
					"status":     lrw.statusCode,
					"duration":   time.Since(start),
					"client_ip":  getClientIP(r),
					"bytes":      lrw.bytesSent,
					"user_agent": r.UserAgent(),
				}).Info("Request processed")
			}()

			next.ServeHTTP(lrw, r)
		})
	}
}

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter applies a per-client-IP token bucket. Stale client entries are
// dropped by a background cleanup loop.
type RateLimiter struct {
	mu      sync.Mutex
	clients map[string]*clientLimiter
	limit   rate.Limit
	burst   int
}

func NewRateLimiter(cfg *config.Config) *RateLimiter {
	rl := &RateLimiter{
		clients: make(map[string]*clientLimiter),
		limit:   rate.Limit(float64(cfg.RateLimit) / cfg.RateLimitWindow.Seconds()),
		burst:   cfg.RateLimit,
	}
	go rl.cleanup()
	return rl
}

func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		clientIP := getClientIP(r)

		rl.mu.Lock()
		client, exists := rl.clients[clientIP]
		if !exists {
			client = &clientLimiter{limiter: rate.NewLimiter(rl.limit, rl.burst)}
			rl.clients[clientIP] = client
		}
		client.lastSeen = time.Now()
		rl.mu.Unlock()

		if !client.limiter.Allow() {
			http.Error(w, "Too many requests", http.StatusTooManyRequests)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (rl *RateLimiter) cleanup() {
	for {
		time.Sleep(time.Minute)
		rl.mu.Lock()
		for ip, client := range rl.clients {
			if time.Since(client.lastSeen) > 3*time.Minute {
				delete(rl.clients, ip)
			}
		}
		rl.mu.Unlock()
	}
}

func getClientIP(r *http.Request) string {
	ip := r.Header.Get("X-Forwarded-For")
	if ip == "" {
		ip = r.Header.Get("X-Real-IP")
	}
	if ip == "" {
		var err error
		ip, _, err = net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			ip = r.RemoteAddr
		}
	}
	if strings.Contains(ip, ",") {
		parts := strings.Split(ip, ",")
		ip = strings.TrimSpace(parts[0])
	}
	return ip
}

func fingerprintFrom(r *http.Request) models.Fingerprint {
	return models.Fingerprint{
		IPAddress: getClientIP(r),
		UserAgent: r.UserAgent(),
		Referer:   r.Referer(),
	}
}
