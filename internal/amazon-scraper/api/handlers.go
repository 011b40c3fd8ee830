package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/maltedev/amazon-product-fetcher/internal/amazon-scraper/jobs"
	"github.com/maltedev/amazon-product-fetcher/internal/amazon-scraper/scraper"
	"github.com/maltedev/amazon-product-fetcher/internal/database"
)

const maxRequestBytes = 1 << 20

// ProductService runs the product pipeline. Implemented by scraper.Service.
type ProductService interface {
	FetchProduct(ctx context.Context, input string) scraper.Result
}

// JobService manages bulk imports. Implemented by jobs.Manager.
type JobService interface {
	CreateJob(ctx context.Context, inputs []string) (*database.ImportJob, error)
	GetJob(ctx context.Context, jobID string) (*database.ImportJob, error)
	ListJobs(ctx context.Context) ([]*database.ImportJob, error)
	GetJobItems(ctx context.Context, jobID string) ([]*database.ImportJobItem, error)
	GetStats(ctx context.Context) (*database.ImportStats, error)
}

// HealthCheck reports whether a dependency is reachable.
type HealthCheck func(ctx context.Context) error

type Handlers struct {
	products ProductService
	jobs     JobService
	checks   map[string]HealthCheck
	logger   *slog.Logger
}

// NewHandlers wires the HTTP handlers. jobs may be nil when no database is
// configured; the import endpoints are then not mounted.
func NewHandlers(products ProductService, jobs JobService, checks map[string]HealthCheck, logger *slog.Logger) *Handlers {
	return &Handlers{
		products: products,
		jobs:     jobs,
		checks:   checks,
		logger:   logger.With("component", "api"),
	}
}

type FetchProductRequest struct {
	URL string `json:"url"`
}

// FetchProduct always answers 200. Pipeline failures are reported in the
// error and message fields of the body.
func (h *Handlers) FetchProduct(w http.ResponseWriter, r *http.Request) {
	var req FetchProductRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes)).Decode(&req); err != nil {
		h.logger.Warn("invalid fetch request body", "error", err)
		h.respondJSON(w, http.StatusOK, scraper.NewResponse(scraper.Rejected("request body must be JSON with a url field")))
		return
	}

	res := h.products.FetchProduct(r.Context(), req.URL)
	h.respondJSON(w, http.StatusOK, scraper.NewResponse(res))
}

// Preflight answers CORS pre-flight requests with an empty 204.
func (h *Handlers) Preflight(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
	w.WriteHeader(http.StatusNoContent)
}

type CreateJobRequest struct {
	Inputs []string `json:"inputs"`
}

func (h *Handlers) CreateJob(w http.ResponseWriter, r *http.Request) {
	var req CreateJobRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes)).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	job, err := h.jobs.CreateJob(r.Context(), req.Inputs)
	switch {
	case errors.Is(err, jobs.ErrNoInputs), errors.Is(err, jobs.ErrTooManyInputs):
		h.respondError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		h.logger.Error("failed to create job", "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to create job")
		return
	}

	h.respondJSON(w, http.StatusCreated, job)
}

func (h *Handlers) GetJob(w http.ResponseWriter, r *http.Request) {
	job, err := h.jobs.GetJob(r.Context(), chi.URLParam(r, "jobID"))
	if err != nil {
		h.respondJobError(w, err, "failed to get job")
		return
	}

	h.respondJSON(w, http.StatusOK, job)
}

func (h *Handlers) ListJobs(w http.ResponseWriter, r *http.Request) {
	list, err := h.jobs.ListJobs(r.Context())
	if err != nil {
		h.logger.Error("failed to list jobs", "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to list jobs")
		return
	}
	if list == nil {
		list = []*database.ImportJob{}
	}

	h.respondJSON(w, http.StatusOK, list)
}

func (h *Handlers) GetJobItems(w http.ResponseWriter, r *http.Request) {
	items, err := h.jobs.GetJobItems(r.Context(), chi.URLParam(r, "jobID"))
	if err != nil {
		h.respondJobError(w, err, "failed to get job items")
		return
	}
	if items == nil {
		items = []*database.ImportJobItem{}
	}

	h.respondJSON(w, http.StatusOK, items)
}

func (h *Handlers) GetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.jobs.GetStats(r.Context())
	if err != nil {
		h.logger.Error("failed to get stats", "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to get stats")
		return
	}

	h.respondJSON(w, http.StatusOK, stats)
}

const (
	outboxPendingWarn   = 1000
	outboxDeadLetterErr = 100
)

// Health reports dependency reachability and, with imports enabled, the
// outbox backlog.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	health := map[string]any{"status": "ok"}

	if len(h.checks) > 0 {
		results := make(map[string]string, len(h.checks))
		for name, check := range h.checks {
			if err := check(r.Context()); err != nil {
				results[name] = err.Error()
				health["status"] = "error"
				status = http.StatusServiceUnavailable
				continue
			}
			results[name] = "ok"
		}
		health["checks"] = results
	}

	if h.jobs != nil && status == http.StatusOK {
		if stats, err := h.jobs.GetStats(r.Context()); err == nil {
			health["outbox"] = map[string]int64{
				"pending":     stats.OutboxPending,
				"dead_letter": stats.OutboxDeadLetter,
			}
			if stats.OutboxPending > outboxPendingWarn {
				health["status"] = "warning"
				health["message"] = "High number of pending outbox events"
			}
			if stats.OutboxDeadLetter > outboxDeadLetterErr {
				health["status"] = "error"
				health["message"] = "High number of dead letter events"
				status = http.StatusServiceUnavailable
			}
		}
	}

	h.respondJSON(w, status, health)
}

func (h *Handlers) respondJobError(w http.ResponseWriter, err error, msg string) {
	if errors.Is(err, database.ErrJobNotFound) {
		h.respondError(w, http.StatusNotFound, "job not found")
		return
	}
	h.logger.Error(msg, "error", err)
	h.respondError(w, http.StatusInternalServerError, msg)
}

func (h *Handlers) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handlers) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, map[string]string{"error": message})
}
