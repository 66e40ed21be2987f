package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/opensource-finance/harrier/internal/dataset"
	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/pipeline"
	"github.com/opensource-finance/harrier/internal/portfolio"
	"github.com/opensource-finance/harrier/internal/repository"
	"github.com/opensource-finance/harrier/internal/rules"
	"github.com/opensource-finance/harrier/internal/worker"
)

// Handler holds dependencies for API handlers.
type Handler struct {
	processor *pipeline.Processor
	repo      domain.Repository
	cache     domain.Cache
	bus       domain.EventBus
	version   string

	// submitTimeout bounds how long POST /submit?wait=true waits for a worker.
	submitTimeout time.Duration
}

// NewHandler creates a new API handler. repo, cache and bus may be nil.
func NewHandler(processor *pipeline.Processor, repo domain.Repository, cache domain.Cache, bus domain.EventBus, version string) *Handler {
	return &Handler{
		processor:     processor,
		repo:          repo,
		cache:         cache,
		bus:           bus,
		version:       version,
		submitTimeout: 30 * time.Second,
	}
}

// ScoreRequest is the JSON body of POST /score, /submit and /portfolio.
type ScoreRequest struct {
	Source  string                `json:"source,omitempty"`
	Top     int                   `json:"top,omitempty"`
	Records []domain.PolicyRecord `json:"records"`
}

// SubmitResponse is returned by POST /submit when not waiting for the result.
type SubmitResponse struct {
	RunID  string `json:"runId"`
	Status string `json:"status"`
}

// ErrorResponse is the body of every error reply.
type ErrorResponse struct {
	Error      string `json:"error"`
	CustomerID int64  `json:"customerId,omitempty"`
	Line       int    `json:"line,omitempty"`
	Field      string `json:"field,omitempty"`
}

// errBadRequest marks request decoding failures.
var errBadRequest = errors.New("bad request")

// readDataset decodes the request body. text/csv bodies use the CSV layout,
// ?format=compact selects the compact JSON rows, anything else is a
// ScoreRequest. top and source query parameters override the body.
func readDataset(r *http.Request) (*ScoreRequest, error) {
	req := &ScoreRequest{}

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch {
	case mediaType == "text/csv" || mediaType == "application/csv":
		records, err := dataset.Read(r.Body, dataset.FormatCSV)
		if err != nil {
			return nil, badRequest(err)
		}
		req.Records = records

	case r.URL.Query().Get("format") == "compact":
		records, err := dataset.Read(r.Body, dataset.FormatJSON)
		if err != nil {
			return nil, badRequest(err)
		}
		req.Records = records

	default:
		if err := json.NewDecoder(r.Body).Decode(req); err != nil {
			return nil, badRequest(fmt.Errorf("invalid JSON request body: %w", err))
		}
	}

	q := r.URL.Query()
	if v := q.Get("top"); v != "" {
		top, err := strconv.Atoi(v)
		if err != nil || top < 0 {
			return nil, fmt.Errorf("%w: top must be a non-negative integer", errBadRequest)
		}
		req.Top = top
	}
	if v := q.Get("source"); v != "" {
		req.Source = v
	}
	if req.Source == "" {
		req.Source = "api"
	}
	return req, nil
}

// badRequest marks a decoding failure as the client's fault. Validation and
// body size errors keep their own status.
func badRequest(err error) error {
	var verr *domain.ValidationError
	var maxBytes *http.MaxBytesError
	if errors.As(err, &verr) || errors.As(err, &maxBytes) {
		return err
	}
	return fmt.Errorf("%w: %w", errBadRequest, err)
}

// Score handles POST /score requests.
func (h *Handler) Score(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	req, err := readDataset(r)
	if err != nil {
		writeError(w, err)
		return
	}

	out, err := h.processor.Process(ctx, &pipeline.Input{
		Source:  req.Source,
		TraceID: GetTraceID(ctx),
		TopN:    req.Top,
		Records: req.Records,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	cacheStatus := "miss"
	if out.Cached {
		cacheStatus = "hit"
	}
	w.Header().Set(CacheHeader, cacheStatus)

	writeJSON(w, http.StatusOK, out.Report)
}

// Submit handles POST /submit requests. The dataset is published for a
// worker to score. With ?wait=true the handler waits for the report.
func (h *Handler) Submit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.bus == nil {
		writeJSON(w, http.StatusServiceUnavailable, ErrorResponse{Error: "event bus not available"})
		return
	}

	req, err := readDataset(r)
	if err != nil {
		writeError(w, err)
		return
	}

	// Fail fast on malformed records instead of inside the worker.
	if err := rules.ValidateRecords(req.Records); err != nil {
		writeError(w, err)
		return
	}

	msg := domain.DatasetMessage{
		RunID:   uuid.New().String(),
		Source:  req.Source,
		TraceID: GetTraceID(ctx),
		TopN:    req.Top,
		Records: req.Records,
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		writeError(w, err)
		return
	}

	if r.URL.Query().Get("wait") != "true" {
		if err := h.bus.Publish(ctx, domain.TopicDatasetSubmitted, payload); err != nil {
			slog.Error("failed to publish dataset", "run_id", msg.RunID, "error", err)
			writeJSON(w, http.StatusServiceUnavailable, ErrorResponse{Error: "failed to submit dataset"})
			return
		}
		writeJSON(w, http.StatusAccepted, SubmitResponse{RunID: msg.RunID, Status: "submitted"})
		return
	}

	reqCtx, cancel := context.WithTimeout(ctx, h.submitTimeout)
	defer cancel()

	reply, err := h.bus.Request(reqCtx, domain.TopicDatasetSubmitted, payload)
	if err != nil {
		slog.Error("dataset request failed", "run_id", msg.RunID, "error", err)
		writeJSON(w, http.StatusGatewayTimeout, ErrorResponse{Error: "no worker answered in time"})
		return
	}

	var failure worker.ErrorReply
	if err := json.Unmarshal(reply, &failure); err == nil && failure.Error != "" {
		writeJSON(w, http.StatusUnprocessableEntity, ErrorResponse{Error: failure.Error})
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(reply)
}

// Portfolio handles POST /portfolio requests.
func (h *Handler) Portfolio(w http.ResponseWriter, r *http.Request) {
	req, err := readDataset(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := rules.ValidateRecords(req.Records); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, portfolio.Summarize(req.Records))
}

// ListRuns handles GET /runs. ?limit caps the number of reports.
func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, ErrorResponse{Error: "repository not available"})
		return
	}

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "limit must be a non-negative integer"})
			return
		}
		limit = n
	}

	reports, err := h.repo.ListReports(r.Context(), limit)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"runs":  reports,
		"count": len(reports),
	})
}

// GetRun handles GET /runs/{id}.
func (h *Handler) GetRun(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, ErrorResponse{Error: "repository not available"})
		return
	}

	report, err := h.repo.GetReport(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// DeleteRun handles DELETE /runs/{id}.
func (h *Handler) DeleteRun(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, ErrorResponse{Error: "repository not available"})
		return
	}

	id := chi.URLParam(r, "id")
	if err := h.repo.DeleteReport(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}

	slog.Info("run deleted", "run_id", id)
	writeJSON(w, http.StatusOK, map[string]string{
		"message": "run deleted",
	})
}

// ListRules returns the active rule set.
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	rs := h.processor.RuleSet()
	writeJSON(w, http.StatusOK, map[string]any{
		"version": rs.Version,
		"limits":  rs.Limits,
		"rules":   rs.Rules,
		"count":   len(rs.Rules),
	})
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}
	if h.cache != nil {
		if err := h.cache.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}
	if h.bus != nil {
		if err := h.bus.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.version,
	})
}

// Ready returns whether the server is ready to accept traffic.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

// writeError maps err onto a status code and writes it as JSON.
func writeError(w http.ResponseWriter, err error) {
	var verr *domain.ValidationError
	var maxBytes *http.MaxBytesError

	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Error:      verr.Error(),
			CustomerID: verr.CustomerID,
			Line:       verr.Line,
			Field:      verr.Field,
		})
	case errors.As(err, &maxBytes):
		writeJSON(w, http.StatusRequestEntityTooLarge, ErrorResponse{Error: "request body too large"})
	case errors.Is(err, errBadRequest), errors.Is(err, repository.ErrInvalidInput):
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: err.Error()})
	case errors.Is(err, repository.ErrNotFound):
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "run not found"})
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		writeJSON(w, http.StatusServiceUnavailable, ErrorResponse{Error: "request cancelled"})
	default:
		slog.Error("request failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
