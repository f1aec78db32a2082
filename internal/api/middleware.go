package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"github.com/leafsii/marketplace/internal/metrics"
	gocache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	HeaderCaller         = "X-User-Address"
	HeaderIdempotencyKey = "Idempotency-Key"
	HeaderReplayed       = "Idempotent-Replayed"
)

type Middleware struct {
	logger  *zap.SugaredLogger
	metrics *metrics.Metrics
}

func NewMiddleware(logger *zap.SugaredLogger, metrics *metrics.Metrics) *Middleware {
	return &Middleware{
		logger:  logger,
		metrics: metrics,
	}
}

// CORS middleware
func (m *Middleware) CORS(allowedOrigins []string) func(http.Handler) http.Handler {
	return cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", HeaderCaller, HeaderIdempotencyKey, "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID", HeaderReplayed},
		AllowCredentials: true,
		MaxAge:           300,
	})
}

// RateLimit allows rpm requests per minute per client IP, with a burst of a
// sixth of that.
func (m *Middleware) RateLimit(rpm int) func(http.Handler) http.Handler {
	burst := rpm / 6
	if burst < 1 {
		burst = 1
	}
	limiters := gocache.New(10*time.Minute, time.Minute)
	var mu sync.Mutex

	limiterFor := func(key string) *rate.Limiter {
		mu.Lock()
		defer mu.Unlock()
		if l, ok := limiters.Get(key); ok {
			return l.(*rate.Limiter)
		}
		l := rate.NewLimiter(rate.Limit(float64(rpm)/60.0), burst)
		limiters.SetDefault(key, l)
		return l
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiterFor(clientIP(r)).Allow() {
				writeErrorBody(w, http.StatusTooManyRequests, "RATE_LIMITED", "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

type storedResponse struct {
	status      int
	contentType string
	body        []byte
}

type inFlight struct{}

// recordingWriter tees the response so it can be stored for replay.
type recordingWriter struct {
	http.ResponseWriter
	status int
	body   bytes.Buffer
}

func (w *recordingWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

func (w *recordingWriter) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}

// Idempotency replays the stored response of a mutating request carrying an
// Idempotency-Key already seen from the same caller within ttl. A request
// whose twin is still running gets 409. Server errors are not stored.
func (m *Middleware) Idempotency(ttl time.Duration) func(http.Handler) http.Handler {
	responses := gocache.New(ttl, 2*ttl)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get(HeaderIdempotencyKey)
			if key == "" || (r.Method != http.MethodPost && r.Method != http.MethodPut && r.Method != http.MethodDelete) {
				next.ServeHTTP(w, r)
				return
			}
			cacheKey := r.Header.Get(HeaderCaller) + "|" + r.Method + "|" + r.URL.Path + "|" + key

			if err := responses.Add(cacheKey, inFlight{}, ttl); err != nil {
				cached, ok := responses.Get(cacheKey)
				if !ok {
					// expired between Add and Get
					next.ServeHTTP(w, r)
					return
				}
				stored, done := cached.(storedResponse)
				if !done {
					writeErrorBody(w, http.StatusConflict, "REQUEST_IN_PROGRESS", "a request with this idempotency key is in progress")
					return
				}
				m.logger.Debugw("Replaying idempotent response", "path", r.URL.Path, "key", key)
				if stored.contentType != "" {
					w.Header().Set("Content-Type", stored.contentType)
				}
				w.Header().Set(HeaderReplayed, "true")
				w.WriteHeader(stored.status)
				w.Write(stored.body)
				return
			}

			rec := &recordingWriter{ResponseWriter: w}
			defer func() {
				if rec.status == 0 || rec.status >= http.StatusInternalServerError {
					responses.Delete(cacheKey)
					return
				}
				responses.Set(cacheKey, storedResponse{
					status:      rec.status,
					contentType: rec.Header().Get("Content-Type"),
					body:        rec.body.Bytes(),
				}, ttl)
			}()
			next.ServeHTTP(rec, r)
		})
	}
}

// Request logging middleware
func (m *Middleware) RequestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		defer func() {
			duration := time.Since(start)

			m.logger.Infow("HTTP request",
				"request_id", middleware.GetReqID(r.Context()),
				"method", r.Method,
				"path", r.URL.Path,
				"query", r.URL.RawQuery,
				"status", ww.Status(),
				"size", ww.BytesWritten(),
				"duration", duration,
				"caller", r.Header.Get(HeaderCaller),
				"remote_addr", r.RemoteAddr,
			)

			if m.metrics != nil {
				m.metrics.RecordHTTPRequest(r.Context(), r.Method, routePattern(r), ww.Status(), duration)
			}
		}()

		next.ServeHTTP(ww, r)
	})
}

// routePattern keeps metric labels bounded by using the matched route.
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return "unmatched"
}

// Security headers middleware
func (m *Middleware) SecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Strict-Transport-Security", "max-age=63072000; includeSubDomains")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")

		next.ServeHTTP(w, r)
	})
}

// Recovery middleware with structured logging
func (m *Middleware) Recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rvr := recover(); rvr != nil {
				if rvr == http.ErrAbortHandler {
					panic(rvr)
				}
				m.logger.Errorw("Panic recovered",
					"panic", rvr,
					"method", r.Method,
					"path", r.URL.Path,
					"remote_addr", r.RemoteAddr,
				)
				writeErrorBody(w, http.StatusInternalServerError, "INTERNAL", http.StatusText(http.StatusInternalServerError))
			}
		}()

		next.ServeHTTP(w, r)
	})
}

// Request ID middleware
func (m *Middleware) RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}

		ctx := context.WithValue(r.Context(), middleware.RequestIDKey, requestID)
		w.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Timeout middleware
func (m *Middleware) Timeout(timeout time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, timeout, `{"code":"TIMEOUT","message":"request timeout"}`)
	}
}

func writeErrorBody(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{Code: code, Message: message})
}
