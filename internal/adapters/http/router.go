package httpadapter

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/kirillkom/analysis-portal/internal/config"
	"github.com/kirillkom/analysis-portal/internal/core/domain"
	"github.com/kirillkom/analysis-portal/internal/core/ports"
	"github.com/kirillkom/analysis-portal/internal/observability/metrics"
)

const serviceName = "api"

// QueueHealth is what /healthz asks of the queue transport.
type QueueHealth interface {
	Connected() bool
	OpenCircuits() []string
}

type Router struct {
	cfg        config.Config
	uploads    ports.UploadService
	resolver   ports.JobResolver
	normalizer ports.ResultNormalizer
	health     QueueHealth
	metrics    *metrics.HTTPServerMetrics
	views      *views
}

func NewRouter(
	cfg config.Config,
	uploads ports.UploadService,
	resolver ports.JobResolver,
	normalizer ports.ResultNormalizer,
) *Router {
	return &Router{
		cfg:        cfg,
		uploads:    uploads,
		resolver:   resolver,
		normalizer: normalizer,
		views:      newViews(),
	}
}

func (rt *Router) WithHealth(health QueueHealth) *Router {
	rt.health = health
	return rt
}

func (rt *Router) WithMetrics(m *metrics.HTTPServerMetrics) *Router {
	rt.metrics = m
	return rt
}

func (rt *Router) Handler() http.Handler {
	var limiter *rate.Limiter
	if rt.cfg.APIRateLimitRPS > 0 {
		burst := rt.cfg.APIRateLimitBurst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(rt.cfg.APIRateLimitRPS), burst)
	}
	gate := func(next http.Handler) http.Handler {
		return backpressureMiddleware(
			next,
			rt.cfg.APIMaxInFlight,
			time.Duration(rt.cfg.APIBackpressureWaitMS)*time.Millisecond,
		)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", rt.healthz)
	mux.Handle("GET /{$}", gate(http.HandlerFunc(rt.uploadForm)))
	mux.Handle("POST /{$}", gate(rateLimitMiddleware(http.HandlerFunc(rt.uploadFile), limiter)))
	mux.HandleFunc("GET /result/{job_id}", rt.resultRedirect)
	mux.Handle("GET /result/{job_id}/{$}", gate(http.HandlerFunc(rt.resultPage)))
	mux.Handle("GET /api/v1/jobs/{job_id}", gate(http.HandlerFunc(rt.jobStatus)))
	if prefix, ok := rt.resultsMountPath(); ok {
		files := http.StripPrefix(prefix, http.FileServer(http.Dir(rt.cfg.ResultsDir())))
		mux.Handle("GET "+prefix, noDirectoryListing(files))
	}
	if rt.metrics != nil {
		mux.Handle("GET /metrics", rt.metrics.Handler())
	}

	var handler http.Handler = mux
	if rt.metrics != nil {
		handler = rt.metrics.Middleware(serviceName, handler)
	}
	handler = recoverMiddleware(handler)
	handler = accessLogMiddleware(handler)
	handler = requestIDMiddleware(handler)
	return handler
}

// resultsMountPath is the URL prefix the results subtree is served from.
// Absolute media URLs point at another server and are not mounted here.
func (rt *Router) resultsMountPath() (string, bool) {
	prefix := strings.TrimSpace(rt.cfg.MediaURL)
	if !strings.HasPrefix(prefix, "/") {
		return "", false
	}
	return strings.TrimSuffix(prefix, "/") + "/results/", true
}

func (rt *Router) healthz(w http.ResponseWriter, _ *http.Request) {
	if rt.health == nil {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
		return
	}

	payload := map[string]any{"status": "ok", "queue": "connected"}
	status := http.StatusOK
	if !rt.health.Connected() {
		payload["status"] = "degraded"
		payload["queue"] = "disconnected"
		status = http.StatusServiceUnavailable
	}
	if open := rt.health.OpenCircuits(); len(open) > 0 {
		payload["status"] = "degraded"
		payload["open_circuits"] = open
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, payload)
}

func (rt *Router) uploadForm(w http.ResponseWriter, _ *http.Request) {
	rt.views.render(w, http.StatusOK, "upload", uploadPage{
		Extensions: strings.Join(rt.cfg.UploadAllowedExtensions, ","),
	})
}

func (rt *Router) uploadFile(w http.ResponseWriter, r *http.Request) {
	if rt.cfg.UploadMaxBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, rt.cfg.UploadMaxBytes)
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		rt.recordSubmission("rejected")
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			rt.renderUploadError(w, http.StatusRequestEntityTooLarge, "The uploaded file is too large.")
			return
		}
		rt.renderUploadError(w, http.StatusBadRequest, "Please choose a data file to upload.")
		return
	}
	defer file.Close()

	jobID, err := rt.uploads.Upload(r.Context(), header.Filename, file)
	if err != nil {
		status := mapErrorToHTTPStatus(err)
		switch status {
		case http.StatusBadRequest:
			rt.recordSubmission("rejected")
			rt.renderUploadError(w, status, userMessage(err))
		case http.StatusServiceUnavailable:
			rt.recordSubmission("unavailable")
			rt.renderError(w, r, err)
		default:
			rt.recordSubmission("error")
			rt.renderError(w, r, err)
		}
		return
	}

	rt.recordSubmission("accepted")
	if rt.metrics != nil {
		rt.metrics.ObserveUploadSize(serviceName, header.Size)
	}
	slog.Info("job_submitted", "job_id", jobID, "filename", header.Filename, "request_id", requestIDFromContext(r.Context()))
	http.Redirect(w, r, resultURL(jobID), http.StatusSeeOther)
}

func (rt *Router) resultRedirect(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, resultURL(r.PathValue("job_id")), http.StatusMovedPermanently)
}

func (rt *Router) resultPage(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("job_id")
	view, err := rt.resolver.Resolve(r.Context(), jobID)
	if err != nil {
		rt.renderError(w, r, err)
		return
	}
	rt.recordResolution(view.State)

	page := resultPage{JobID: jobID, Meta: view.Meta}
	switch view.State {
	case domain.StateNotFound:
		rt.renderError(w, r, domain.WrapError(domain.ErrJobNotFound, "result page", errors.New("id="+jobID)))
		return
	case domain.StatePending:
		page.Pending = true
		page.RefreshSeconds = rt.cfg.ResultRefreshSeconds
	case domain.StateFailed:
		page.Failed = true
		page.ErrorDetail = view.ErrorDetail
	case domain.StateFinished:
		normalized, err := rt.normalizer.Normalize(view.RawResult)
		if err != nil {
			rt.renderError(w, r, err)
			return
		}
		page.Finished = true
		page.DisplayPath = normalized.DisplayPath
		page.ServableURL = normalized.ServableURL
		page.Degraded = normalized.Degraded
		page.Embeddable = normalized.Servable() && strings.EqualFold(path.Ext(normalized.ServableURL), ".pdf")
	}
	rt.views.render(w, http.StatusOK, "result", page)
}

type jobStatusResponse struct {
	ID          string            `json:"id"`
	State       domain.JobState   `json:"state"`
	Result      string            `json:"result,omitempty"`
	Error       string            `json:"error,omitempty"`
	DisplayPath string            `json:"display_path,omitempty"`
	ServableURL string            `json:"servable_url,omitempty"`
	Degraded    bool              `json:"degraded,omitempty"`
	Meta        map[string]string `json:"meta,omitempty"`
}

func (rt *Router) jobStatus(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("job_id")
	view, err := rt.resolver.Resolve(r.Context(), jobID)
	if err != nil {
		rt.renderError(w, r, err)
		return
	}
	rt.recordResolution(view.State)

	resp := jobStatusResponse{
		ID:     jobID,
		State:  view.State,
		Result: view.RawResult,
		Error:  view.ErrorDetail,
		Meta:   view.Meta,
	}
	switch view.State {
	case domain.StateNotFound:
		writeJSON(w, http.StatusNotFound, resp)
		return
	case domain.StateFinished:
		normalized, err := rt.normalizer.Normalize(view.RawResult)
		if err != nil {
			rt.renderError(w, r, err)
			return
		}
		resp.DisplayPath = normalized.DisplayPath
		resp.ServableURL = normalized.ServableURL
		resp.Degraded = normalized.Degraded
	}
	writeJSON(w, http.StatusOK, resp)
}

func (rt *Router) renderUploadError(w http.ResponseWriter, status int, message string) {
	rt.views.render(w, status, "upload", uploadPage{
		Extensions: strings.Join(rt.cfg.UploadAllowedExtensions, ","),
		Error:      message,
	})
}

// renderError is the single boundary where typed errors become responses.
func (rt *Router) renderError(w http.ResponseWriter, r *http.Request, err error) {
	status := mapErrorToHTTPStatus(err)
	attrs := []any{"request_id", requestIDFromContext(r.Context()), "path", r.URL.Path, "status", status, "error", err}
	if status >= http.StatusInternalServerError {
		slog.Error("request_failed", attrs...)
	} else {
		slog.Warn("request_failed", attrs...)
	}

	if strings.HasPrefix(r.URL.Path, "/api/") {
		writeJSON(w, status, map[string]string{"error": userMessage(err)})
		return
	}
	rt.views.render(w, status, "error", errorPage{
		Title:   http.StatusText(status),
		Message: userMessage(err),
	})
}

func (rt *Router) recordSubmission(status string) {
	if rt.metrics != nil {
		rt.metrics.RecordJobSubmission(serviceName, status)
	}
}

func (rt *Router) recordResolution(state domain.JobState) {
	if rt.metrics != nil {
		rt.metrics.RecordJobResolution(serviceName, string(state))
	}
}

func resultURL(jobID string) string {
	return "/result/" + url.PathEscape(jobID) + "/"
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
