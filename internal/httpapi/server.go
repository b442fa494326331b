package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/plfl21/openclaw-meeting-hub/internal/coord"
	"github.com/plfl21/openclaw-meeting-hub/internal/store"
	"github.com/plfl21/openclaw-meeting-hub/pkg/models"
)

// limitBody wraps r.Body with http.MaxBytesReader so handlers cannot read more than maxBytes.
func limitBody(w http.ResponseWriter, r *http.Request, maxBytes int64) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
}

// bodyLimitMiddleware limits request body size for POST, PUT, PATCH.
func bodyLimitMiddleware(maxBytes int64, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost || r.Method == http.MethodPut || r.Method == http.MethodPatch {
			limitBody(w, r, maxBytes)
		}
		next.ServeHTTP(w, r)
	})
}

// corsMiddleware sets permissive CORS headers for dev mode.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-API-Key")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ServerOptions configures the HTTP server.
type ServerOptions struct {
	Addr           string
	Dev            bool
	APIKey         string       // if set, require X-API-Key header or query api_key
	MetricsHandler http.Handler // if set, used for /metrics (e.g. the OTel Prometheus handler)
	UseOtelHTTP    bool         // wrap the handler with otelhttp for request metrics
	MaxBodyBytes   int64        // defaults to 1 MiB
	Logger         *slog.Logger
}

// App holds the HTTP server, the SSE hub and the coordination core it serves.
type App struct {
	Server *http.Server
	Hub    *SSEHub
	Core   *coord.Core

	mux    *http.ServeMux
	logger *slog.Logger
}

// NewApp registers every route over core and subscribes the SSE hub to core's events.
func NewApp(core *coord.Core, opts ServerOptions) (*App, error) {
	if core == nil {
		return nil, errors.New("httpapi: core is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{Hub: NewSSEHub(), Core: core, mux: http.NewServeMux(), logger: logger}
	core.Events.Add("sse", a.Hub)

	a.mux.HandleFunc("GET /health", a.handleHealth)
	a.mux.HandleFunc("GET /api/health", a.handleHealth)
	if opts.MetricsHandler != nil {
		a.mux.Handle("GET /metrics", opts.MetricsHandler)
	} else {
		a.mux.Handle("GET /metrics", promhttp.Handler())
	}
	a.mux.HandleFunc("GET /stream", a.Hub.Handler())

	a.registerNeuron()
	a.registerTasks()
	a.registerMeetings()

	maxBody := opts.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = models.DefaultMaxRequestBodyBytes
	}
	var handler http.Handler = a.mux
	handler = bodyLimitMiddleware(maxBody, handler)
	if opts.Dev {
		handler = corsMiddleware(handler)
	}
	if opts.APIKey != "" {
		handler = apiKeyMiddleware(opts.APIKey, handler)
	}
	handler = requestLogMiddleware(logger, handler)
	if opts.UseOtelHTTP {
		handler = otelhttp.NewHandler(handler, "meetinghub",
			otelhttp.WithFilter(func(r *http.Request) bool { return r.URL.Path != "/stream" }))
	}
	a.Server = &http.Server{
		Addr:              opts.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return a, nil
}

// Handler returns the fully wrapped handler (middlewares included).
func (a *App) Handler() http.Handler { return a.Server.Handler }

func (a *App) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := a.Core.Health(r.Context()); err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": false, "error": err.Error()})
		return
	}
	writeJSON(w, map[string]any{"ok": true, "timestamp": time.Now().UTC()})
}

// route registers fn under pattern and writes its result as {"data": ...} with status, or the
// classified error.
func (a *App) route(pattern string, status int, fn func(r *http.Request) (any, error)) {
	a.mux.HandleFunc(pattern, func(w http.ResponseWriter, r *http.Request) {
		v, err := fn(r)
		if err != nil {
			a.writeError(w, r, err)
			return
		}
		writeData(w, status, v)
	})
}

// decode reads the JSON body into v. Malformed or oversized bodies are validation errors.
func decode(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			return store.Validation("decode", "request body too large")
		}
		return store.Validation("decode", "invalid json")
	}
	return nil
}

// statusFor maps an error kind to an HTTP status.
func statusFor(k store.Kind) int {
	switch k {
	case store.KindValidation:
		return http.StatusBadRequest
	case store.KindNotFound:
		return http.StatusNotFound
	case store.KindInvalidTransition, store.KindCycleDetected:
		return http.StatusConflict
	case store.KindStoreUnavailable:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func (a *App) writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := store.KindOf(err)
	code := statusFor(kind)
	if code >= 500 {
		a.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "err", err)
	}
	if kind == "" {
		writeJSONError(w, code, "internal error", "internal")
		return
	}
	writeJSONError(w, code, store.Detail(err), string(kind))
}

// responseRecorder captures status code for logging and forwards Flusher if supported.
type responseRecorder struct {
	http.ResponseWriter
	status int
}

func (r *responseRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *responseRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Unwrap lets http.ResponseController reach the underlying connection.
func (r *responseRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

func apiKeyMiddleware(apiKey string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.Path
		if path == "/health" || path == "/api/health" || path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}
		key := r.Header.Get("X-API-Key")
		if key == "" {
			key = r.URL.Query().Get("api_key")
		}
		if key != apiKey {
			writeJSONError(w, http.StatusUnauthorized, "invalid or missing API key", "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func requestLogMiddleware(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		start := time.Now()
		rec := &responseRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, req)
		logger.Info("request",
			"method", req.Method,
			"path", req.URL.Path,
			"status", rec.status,
			"duration_ms", time.Since(start).Milliseconds())
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}

// writeData sends {"data": v} with the given status code.
func writeData(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(map[string]any{"data": v})
}

// writeJSONError sends {"error": message, "kind": kind} with the given status code.
func writeJSONError(w http.ResponseWriter, code int, message, kind string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]any{"error": message, "kind": kind})
}
