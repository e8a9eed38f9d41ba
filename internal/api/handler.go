package api

import (
	"encoding/json"
	"encoding/xml"
	"errors"
	"log/slog"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/opensource-finance/turnstile/internal/domain"
	"github.com/opensource-finance/turnstile/internal/repository"
	"github.com/opensource-finance/turnstile/internal/worker"
)

// Handler holds dependencies for API handlers.
type Handler struct {
	processor worker.TapProcessor
	repo      domain.Repository
	bus       domain.EventBus
	async     bool
	version   string
}

// NewHandler creates a new API handler. When async is set, POST /taps
// validates the tap and queues it on the bus instead of deciding it inline.
func NewHandler(processor worker.TapProcessor, repo domain.Repository, bus domain.EventBus, async bool, version string) *Handler {
	return &Handler{
		processor: processor,
		repo:      repo,
		bus:       bus,
		async:     async,
		version:   version,
	}
}

// ResponseMetadata is attached to every tap response.
type ResponseMetadata struct {
	TraceID string `json:"traceId"`
	Version string `json:"version"`
}

// TapResponse is the response for a synchronously decided tap.
type TapResponse struct {
	*domain.Decision
	Metadata ResponseMetadata `json:"metadata"`
}

// QueuedResponse is the response for a tap accepted in async mode.
type QueuedResponse struct {
	Status     string           `json:"status"`
	TerminalID string           `json:"terminalId"`
	Metadata   ResponseMetadata `json:"metadata"`
}

// SubmitTap handles POST /taps. The body is a TapSubmission encoded as JSON
// or, with an XML content type, as a PaymentRequest document.
//
// Approved taps answer 202, declined taps 403 and malformed input 400.
func (h *Handler) SubmitTap(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	meta := ResponseMetadata{TraceID: GetTraceID(ctx), Version: h.version}

	sub, err := decodeSubmission(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid request body: " + err.Error(),
		})
		return
	}

	tap, err := sub.ToTap()
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": err.Error(),
		})
		return
	}

	if h.async {
		h.enqueue(w, r, sub, meta)
		return
	}

	if h.processor == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "tap processor not available",
		})
		return
	}

	decision, err := h.processor.Process(ctx, tap)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, domain.ErrMalformedTap) {
			status = http.StatusBadRequest
		}
		writeJSON(w, status, map[string]string{
			"error": err.Error(),
		})
		return
	}

	status := http.StatusForbidden
	if decision.Approved() {
		status = http.StatusAccepted
	}
	writeJSON(w, status, TapResponse{Decision: decision, Metadata: meta})
}

func (h *Handler) enqueue(w http.ResponseWriter, r *http.Request, sub *domain.TapSubmission, meta ResponseMetadata) {
	if h.bus == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "event bus not available",
		})
		return
	}

	// A queued tap is timed on arrival, not when a worker picks it up.
	if sub.Timestamp.IsZero() {
		sub.Timestamp = time.Now().UTC()
	}

	payload, err := json.Marshal(sub)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to encode tap",
		})
		return
	}

	if err := h.bus.Publish(r.Context(), domain.TopicTapSubmitted, payload); err != nil {
		slog.Error("failed to queue tap",
			"terminal_id", sub.TerminalID,
			"error", err,
		)
		msg := "failed to queue tap"
		if errors.Is(err, domain.ErrBufferFull) {
			msg = "tap queue is full"
		}
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": msg,
		})
		return
	}

	writeJSON(w, http.StatusAccepted, QueuedResponse{
		Status:     "queued",
		TerminalID: sub.TerminalID,
		Metadata:   meta,
	})
}

func decodeSubmission(r *http.Request) (*domain.TapSubmission, error) {
	var sub domain.TapSubmission

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/xml" || mediaType == "text/xml" || strings.HasSuffix(mediaType, "+xml") {
		if err := xml.NewDecoder(r.Body).Decode(&sub); err != nil {
			return nil, err
		}
		return &sub, nil
	}

	if err := json.NewDecoder(r.Body).Decode(&sub); err != nil {
		return nil, err
	}
	return &sub, nil
}

// GetTap retrieves a persisted tap record by ID.
func (h *Handler) GetTap(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tapID := chi.URLParam(r, "id")

	if tapID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "tap id is required",
		})
		return
	}

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	rec, err := h.repo.GetTap(ctx, tapID)
	if errors.Is(err, repository.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "tap not found",
		})
		return
	}
	if err != nil {
		slog.Error("failed to get tap", "tap_id", tapID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to load tap",
		})
		return
	}

	writeJSON(w, http.StatusOK, rec)
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			slog.Warn("repository health check failed", "error", err)
			status = "degraded"
		}
	}

	if h.bus != nil {
		if err := h.bus.Ping(r.Context()); err != nil {
			slog.Warn("event bus health check failed", "error", err)
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.version,
	})
}

// Ready reports whether the server can decide taps, which needs the store.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"ready": "false",
			})
			return
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
