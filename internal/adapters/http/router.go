package httpadapter

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/kirillkom/hybrid-rag-agent/internal/config"
	"github.com/kirillkom/hybrid-rag-agent/internal/core/domain"
	"github.com/kirillkom/hybrid-rag-agent/internal/core/ports"
	"github.com/kirillkom/hybrid-rag-agent/internal/observability/metrics"
)

const serviceName = "api"

type Router struct {
	uploader  ports.DocumentUploader
	uploads   ports.UploadReader
	rebuilder ports.IndexRebuilder
	answerer  ports.QueryAnswerer

	apiKey           string
	rateLimitRPS     float64
	rateLimitBurst   int
	maxInFlight      int
	backpressureWait time.Duration
	maxUploadBytes   int64
	queryTimeout     time.Duration
	rebuildTimeout   time.Duration

	metrics  *metrics.HTTPServerMetrics
	breakers func() map[string]string
}

func NewRouter(
	cfg config.Config,
	uploader ports.DocumentUploader,
	uploads ports.UploadReader,
	rebuilder ports.IndexRebuilder,
	answerer ports.QueryAnswerer,
) *Router {
	maxUploadBytes := cfg.MaxUploadBytes
	if maxUploadBytes <= 0 {
		maxUploadBytes = 32 << 20
	}
	return &Router{
		uploader:         uploader,
		uploads:          uploads,
		rebuilder:        rebuilder,
		answerer:         answerer,
		apiKey:           cfg.APIKey,
		rateLimitRPS:     cfg.APIRateLimitRPS,
		rateLimitBurst:   cfg.APIRateLimitBurst,
		maxInFlight:      cfg.APIMaxInFlight,
		backpressureWait: cfg.APIBackpressureWait,
		maxUploadBytes:   maxUploadBytes,
		queryTimeout:     cfg.QueryTimeout,
		rebuildTimeout:   cfg.RebuildTimeout,
	}
}

func (rt *Router) WithMetrics(m *metrics.HTTPServerMetrics) *Router {
	rt.metrics = m
	return rt
}

// WithBreakerStates exposes circuit breaker states on /healthz.
func (rt *Router) WithBreakerStates(states func() map[string]string) *Router {
	rt.breakers = states
	return rt
}

func (rt *Router) Handler() http.Handler {
	api := http.NewServeMux()
	api.HandleFunc("POST /v1/documents", rt.uploadDocument)
	api.HandleFunc("GET /v1/documents/{id}", rt.getUpload)
	api.HandleFunc("POST /v1/index/rebuild", rt.rebuildIndex)
	api.HandleFunc("POST /v1/query", rt.query)

	var protected http.Handler = api
	protected = mustRequestValidator().middleware(protected)
	if rt.maxInFlight > 0 {
		protected = backpressureMiddleware(protected, rt.maxInFlight, rt.backpressureWait, rt.onReject("backpressure"))
	}
	if rt.rateLimitRPS > 0 {
		burst := rt.rateLimitBurst
		if burst <= 0 {
			burst = 1
		}
		protected = rateLimitMiddleware(protected, rate.NewLimiter(rate.Limit(rt.rateLimitRPS), burst), rt.onReject("rate_limited"))
	}
	if rt.apiKey != "" {
		protected = authMiddleware(protected, rt.apiKey)
	}

	root := http.NewServeMux()
	root.HandleFunc("GET /healthz", rt.healthz)
	if rt.metrics != nil {
		root.Handle("GET /metrics", rt.metrics.Handler())
	}
	root.Handle("/v1/", protected)

	var handler http.Handler = root
	if rt.metrics != nil {
		handler = rt.metrics.Middleware(serviceName, handler)
	}
	handler = accessLogMiddleware(handler)
	return requestIDMiddleware(handler)
}

func (rt *Router) onReject(reason string) func() {
	return func() {
		if rt.metrics != nil {
			rt.metrics.RecordRejected(serviceName, reason)
		}
	}
}

func (rt *Router) healthz(w http.ResponseWriter, _ *http.Request) {
	payload := map[string]any{"status": "ok"}
	if rt.breakers != nil {
		payload["circuit_breakers"] = rt.breakers()
	}
	writeJSON(w, http.StatusOK, payload)
}

func (rt *Router) uploadDocument(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, rt.maxUploadBytes)
	file, fileHeader, err := r.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"error": "upload exceeds size limit"})
			return
		}
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "multipart field 'file' is required"})
		return
	}
	defer file.Close()

	upload, err := rt.uploader.Upload(
		r.Context(),
		fileHeader.Filename,
		fileHeader.Header.Get("Content-Type"),
		file,
	)
	if err != nil {
		writeError(w, r, err)
		return
	}

	annotate(r.Context(), "upload_id", upload.ID)
	writeJSON(w, http.StatusAccepted, upload)
}

func (rt *Router) getUpload(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.PathValue("id"))
	if id == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "upload id is required"})
		return
	}

	upload, err := rt.uploads.GetByID(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, upload)
}

func (rt *Router) rebuildIndex(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := withOptionalTimeout(r.Context(), rt.rebuildTimeout)
	defer cancel()

	if rt.metrics != nil {
		rt.metrics.StartRebuild()
	}
	started := time.Now()
	report, err := rt.rebuilder.Rebuild(ctx)
	if rt.metrics != nil {
		rt.metrics.FinishRebuild(serviceName, report, time.Since(started), err)
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	annotate(r.Context(), "documents", report.Documents, "chunks", report.Chunks)
	writeJSON(w, http.StatusOK, report)
}

type queryRequest struct {
	Question string `json:"question"`
}

func (rt *Router) query(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	if strings.TrimSpace(req.Question) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "question is required"})
		return
	}

	ctx, cancel := withOptionalTimeout(r.Context(), rt.queryTimeout)
	defer cancel()

	started := time.Now()
	answer, err := rt.answerer.Answer(ctx, req.Question)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if rt.metrics != nil {
		rt.metrics.RecordAnswer(serviceName, "query", answer, time.Since(started))
	}
	annotate(r.Context(), "route", answer.Route, "used_local", answer.UsedLocal, "used_web", answer.UsedWeb)
	writeJSON(w, http.StatusOK, answer)
}

func withOptionalTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := mapErrorToHTTPStatus(err)
	if status >= http.StatusInternalServerError {
		slog.ErrorContext(r.Context(), "request_failed",
			"request_id", requestIDFromContext(r.Context()),
			"path", r.URL.Path,
			"status", status,
			"error", err,
		)
	}
	writeJSON(w, status, map[string]string{"error": errorMessage(err)})
}

func errorMessage(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "request timed out"
	case domain.IsKind(err, domain.ErrEmptyCorpus):
		return domain.ErrEmptyCorpus.Error()
	default:
		return err.Error()
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
