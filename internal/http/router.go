package httpx

import (
	"bufio"
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"log/slog"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/splax/timelogger/internal/repository"
	"github.com/splax/timelogger/internal/service/recorder"
	"github.com/splax/timelogger/internal/ws"
	"github.com/splax/timelogger/pkg/jwt"
)

// Router wires HTTP endpoints to the recorder service.
type Router struct {
	mux      *http.ServeMux
	logger   *slog.Logger
	recorder *recorder.Service
	upgrader websocket.Upgrader
	limiter  RateLimiter
	registry *prometheus.Registry
	dbHealth func(context.Context) error

	apiSecret string
	jwtSecret string
	tokenTTL  time.Duration

	metricsOnce        sync.Once
	metricsInitialized bool
	requestTotal       *prometheus.CounterVec
	requestLatency     *prometheus.HistogramVec
	rateLimitHits      *prometheus.CounterVec
}

const (
	rateWindowDefault  = time.Minute
	rateWindowRealtime = 30 * time.Second
	rateLimitToken     = 12
	rateLimitRead      = 120
	rateLimitStatus    = 240
	rateLimitWebsocket = 30
	healthCheckTimeout = 2 * time.Second

	defaultPageSize = 20
	maxPageSize     = 500
)

// NewRouter assembles routes with dependencies.
func NewRouter(logger *slog.Logger, svc *recorder.Service, limiter RateLimiter, registry *prometheus.Registry, apiSecret, jwtSecret string, tokenTTL time.Duration, dbHealth func(context.Context) error) *Router {
	r := &Router{
		mux:      http.NewServeMux(),
		logger:   logger,
		recorder: svc,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		limiter:   limiter,
		registry:  registry,
		dbHealth:  dbHealth,
		apiSecret: strings.TrimSpace(apiSecret),
		jwtSecret: jwtSecret,
		tokenTTL:  tokenTTL,
	}
	if r.limiter == nil {
		r.limiter = NewMemoryRateLimiter()
	}
	if r.registry == nil {
		r.registry = prometheus.NewRegistry()
	}
	r.initMetrics()
	r.register()
	return r
}

// ServeHTTP delegates to underlying mux.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

// Close releases background resources.
func (r *Router) Close() {
	if r.limiter != nil {
		r.limiter.Close()
	}
}

func (r *Router) register() {
	r.mux.HandleFunc("/healthz", r.audit(r.handleHealthz))
	r.mux.Handle("/metrics", promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{}))
	r.mux.HandleFunc("/auth/token", r.audit(r.withRateLimit("auth_token", rateLimitToken, rateWindowDefault, rateLimitKeyIP, r.handleToken)))
	r.mux.HandleFunc("/times", r.audit(r.handlerAuthRate("times", rateLimitRead, rateWindowDefault, r.handleTimes)))
	r.mux.HandleFunc("/times/count", r.audit(r.handlerAuthRate("times_count", rateLimitRead, rateWindowDefault, r.handleTimesCount)))
	r.mux.HandleFunc("/status", r.audit(r.withRateLimit("status", rateLimitStatus, rateWindowDefault, rateLimitKeyIP, r.handleStatus)))
	r.mux.HandleFunc("/ws/status", r.audit(r.handlerAuthRate("ws_status", rateLimitWebsocket, rateWindowRealtime, r.handleStatusWS)))
}

func (r *Router) handleToken(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	if r.apiSecret == "" {
		r.logger.Error("token requested but no API secret configured")
		writeError(w, http.StatusServiceUnavailable, "AUTH_DISABLED", "token issuance is not configured")
		return
	}
	var payload struct {
		Secret string `json:"secret"`
	}
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid JSON body")
		return
	}
	if subtle.ConstantTimeCompare([]byte(payload.Secret), []byte(r.apiSecret)) != 1 {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "invalid API secret")
		return
	}
	token, err := jwt.GenerateToken("api-client", r.jwtSecret, r.tokenTTL)
	if err != nil {
		r.logger.Error("token generation failed", "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "could not issue token")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"token":      token,
		"expires_in": int(r.tokenTTL.Seconds()),
	})
}

func (r *Router) handleTimes(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	page := queryInt(req, "page", 0)
	size := queryInt(req, "size", defaultPageSize)
	if page < 0 {
		page = 0
	}
	if size <= 0 {
		size = defaultPageSize
	}
	if size > maxPageSize {
		size = maxPageSize
	}

	records, hasNext, err := r.recorder.List(req.Context(), page, size)
	if err != nil {
		r.storeError(w, err)
		return
	}
	content := make([]map[string]any, 0, len(records))
	for _, rec := range records {
		content = append(content, map[string]any{
			"id":          rec.ID,
			"recorded_at": rec.RecordedAt.UTC().Format(time.RFC3339Nano),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"content":          content,
		"page":             page,
		"size":             size,
		"numberOfElements": len(content),
		"first":            page == 0,
		"last":             !hasNext,
		"hasNext":          hasNext,
		"hasPrevious":      page > 0,
	})
}

func (r *Router) handleTimesCount(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	count, err := r.recorder.Count(req.Context())
	if err != nil {
		r.storeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"count": count})
}

func (r *Router) handleStatus(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, r.recorder.Status(req.Context()))
}

func (r *Router) handleStatusWS(w http.ResponseWriter, req *http.Request) {
	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Error("websocket upgrade failed", "error", err)
		return
	}
	client := ws.NewClient(conn, r.logger)
	hub := r.recorder.Hub()
	if hub == nil {
		client.Close()
		return
	}
	hub.Register(recorder.StreamTopic, client)
	go func() {
		defer func() {
			hub.Unregister(recorder.StreamTopic, client)
			client.Close()
		}()
		client.ReadUntilClose()
	}()
}

func (r *Router) handleHealthz(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	components := make(map[string]any)
	status := "ok"
	if r.dbHealth != nil {
		ctx, cancel := context.WithTimeout(req.Context(), healthCheckTimeout)
		defer cancel()
		if err := r.dbHealth(ctx); err != nil {
			status = "degraded"
			components["database"] = map[string]any{
				"status": "down",
				"error":  err.Error(),
			}
		} else {
			components["database"] = map[string]any{"status": "up"}
		}
	}
	components["buffer"] = map[string]any{
		"status":  "up",
		"pending": r.recorder.BufferSize(),
	}
	payload := map[string]any{
		"status":     status,
		"components": components,
		"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
	}
	code := http.StatusOK
	if status != "ok" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, payload)
}

// storeError maps repository failures to API responses without leaking
// driver detail.
func (r *Router) storeError(w http.ResponseWriter, err error) {
	if errors.Is(err, repository.ErrUnavailable) {
		writeError(w, http.StatusServiceUnavailable, "DB_UNAVAILABLE", "database temporarily unavailable, retry later")
		return
	}
	r.logger.Error("unexpected handler error", "error", err)
	writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
}

func (r *Router) audit(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		reqID := strings.TrimSpace(req.Header.Get("X-Request-ID"))
		if reqID == "" {
			reqID = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", reqID)

		rec := &statusRecorder{ResponseWriter: w}
		start := time.Now()
		next(rec, req)

		status := rec.status
		if status == 0 {
			status = http.StatusOK
		}
		duration := time.Since(start)
		r.recordRequestMetrics(req.Method, req.URL.Path, status, duration)

		fields := []any{
			"method", req.Method,
			"path", req.URL.Path,
			"status", status,
			"bytes", rec.bytes,
			"duration_ms", duration.Milliseconds(),
			"request_id", reqID,
		}
		if ip := clientIP(req); ip != "" {
			fields = append(fields, "ip", ip)
		}
		switch {
		case status >= http.StatusInternalServerError:
			r.logger.Error("http_request", fields...)
		case status >= http.StatusBadRequest:
			r.logger.Warn("http_request", fields...)
		default:
			r.logger.Info("http_request", fields...)
		}
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Write(b []byte) (int, error) {
	if sr.status == 0 {
		sr.status = http.StatusOK
	}
	n, err := sr.ResponseWriter.Write(b)
	sr.bytes += n
	return n, err
}

// Hijack is required so the websocket upgrade still works through the audit
// wrapper.
func (sr *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := sr.ResponseWriter.(http.Hijacker); ok {
		return h.Hijack()
	}
	return nil, nil, errors.New("hijacker not supported")
}

func clientIP(req *http.Request) string {
	if forwarded := strings.TrimSpace(req.Header.Get("X-Forwarded-For")); forwarded != "" {
		parts := strings.Split(forwarded, ",")
		if len(parts) > 0 {
			ip := strings.TrimSpace(parts[0])
			if ip != "" {
				return ip
			}
		}
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(req.RemoteAddr))
	if err != nil {
		return strings.TrimSpace(req.RemoteAddr)
	}
	return host
}

func queryInt(req *http.Request, key string, fallback int) int {
	raw := strings.TrimSpace(req.URL.Query().Get(key))
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}

func (r *Router) methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
}
