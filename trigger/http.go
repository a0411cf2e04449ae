package trigger

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/futureforging/omnia/api"
	"github.com/futureforging/omnia/host"
)

// HTTP serves inbound HTTP requests by spawning one instance per request
// and invoking the guest's http handler export.
type HTTP struct {
	addr    string
	spawner *host.Spawner
	mux     *http.ServeMux
	logger  zerolog.Logger
}

// NewHTTP builds the HTTP dispatcher with all routes registered.
func NewHTTP(spawner *host.Spawner, logger zerolog.Logger) *HTTP {
	h := &HTTP{
		addr:    spawner.Runtime().Config.HTTPAddr,
		spawner: spawner,
		mux:     http.NewServeMux(),
		logger:  logger.With().Str("dispatcher", "http").Logger(),
	}
	h.mux.HandleFunc("GET /health", h.handleHealth)
	h.mux.HandleFunc("GET /internal/metrics", h.handleInternalMetrics)
	h.mux.HandleFunc("/", h.handleTrigger)
	return h
}

// Name implements Dispatcher.
func (h *HTTP) Name() string { return "http" }

// Handler returns the dispatcher's full handler chain (for tests).
func (h *HTTP) Handler() http.Handler {
	return otelhttp.NewHandler(h.loggingMiddleware(h.mux), "omnia")
}

// Run serves until the context is cancelled, then shuts down gracefully.
func (h *HTTP) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         h.addr,
		Handler:      h.Handler(),
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		h.logger.Info().Str("addr", h.addr).Msg("http listening")
		errc <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errc:
		return err
	}
}

func (h *HTTP) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": "omnia"})
}

func (h *HTTP) handleInternalMetrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.spawner.Runtime().Metrics.Snapshot())
}

// handleTrigger is the guest path: every request that is not a management
// route becomes one instance execution.
func (h *HTTP) handleTrigger(w http.ResponseWriter, r *http.Request) {
	h.spawner.Runtime().Metrics.RecordTrigger("http")

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "reading request body", http.StatusBadRequest)
		return
	}

	input, err := api.Encode(api.HTTPRequest{
		Method:  r.Method,
		Path:    r.URL.Path,
		Query:   r.URL.RawQuery,
		Headers: r.Header,
		Body:    body,
	})
	if err != nil {
		http.Error(w, "encoding request", http.StatusInternalServerError)
		return
	}

	out, err := h.spawner.Handle(r.Context(), host.ExportHTTPHandle, input)
	if err != nil {
		h.writeGuestError(w, err)
		return
	}
	if out == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	var resp api.HTTPResponse
	if err := api.Decode(out, &resp); err != nil {
		h.logger.Error().Err(err).Msg("guest returned malformed response")
		http.Error(w, "malformed guest response", http.StatusInternalServerError)
		return
	}
	for k, vs := range resp.Headers {
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}
	if resp.Status == 0 {
		resp.Status = http.StatusOK
	}
	w.WriteHeader(resp.Status)
	if len(resp.Body) > 0 {
		_, _ = w.Write(resp.Body)
	}
}

// writeGuestError maps an instance failure to an HTTP status. The failure
// stays scoped to this request; the dispatcher keeps serving.
func (h *HTTP) writeGuestError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	if ge, ok := host.AsGuestError(err); ok {
		if ge.Timeout {
			status = http.StatusGatewayTimeout
		} else if errors.Is(ge.Err, host.ErrInstantiate) {
			status = http.StatusServiceUnavailable
		}
		h.logger.Warn().Str("instance", ge.InstanceID).Err(ge.Err).Msg("guest execution failed")
	} else {
		h.logger.Warn().Err(err).Msg("guest execution failed")
	}
	http.Error(w, "guest execution failed", status)
}

func (h *HTTP) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, status: 200}
		next.ServeHTTP(rw, r)
		h.logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rw.status).
			Dur("dur", time.Since(start)).
			Msg("request")
	})
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
