package httpapi

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/matunokihanten/noda/internal/hub"
	"github.com/matunokihanten/noda/internal/models"
	"github.com/matunokihanten/noda/internal/printer"
	"github.com/matunokihanten/noda/internal/queue"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
)

const maxBodyBytes = 16 << 10

// Queue is the part of the waitlist served over plain HTTP.
type Queue interface {
	Register(input queue.RegisterInput) (models.Ticket, error)
	Snapshot() models.Snapshot
}

// PrintJobs is the printer side of the print job channel.
type PrintJobs interface {
	Poll() (printer.Job, bool)
	Fetch(token string) (printer.Job, bool)
	Acknowledge(token string) bool
	Peek() (printer.Job, bool)
	LastPollAt() time.Time
}

type Handler struct {
	queue          Queue
	jobs           PrintJobs
	hub            *hub.Hub
	limiter        *RateLimiter
	allowedOrigins []string
}

type Options struct {
	RateLimit      RateLimitConfig
	AllowedOrigins []string
}

type errorResponse struct {
	RequestID string        `json:"request_id"`
	Error     responseError `json:"error"`
}

type responseError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func NewHandler(q Queue, jobs PrintJobs, h *hub.Hub, options Options) *Handler {
	return &Handler{
		queue:          q,
		jobs:           jobs,
		hub:            h,
		limiter:        NewRateLimiter(options.RateLimit),
		allowedOrigins: options.AllowedOrigins,
	}
}

func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", h.handleHealthz)
	mux.HandleFunc("/health", h.handleHealth)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/cloudprnt", h.handleCloudPRNT)
	mux.HandleFunc("/api/state", h.handleState)
	mux.Handle("/api/register", h.limiter.Middleware(http.HandlerFunc(h.handleRegister)))
	mux.HandleFunc("/api/printer/job", h.handlePrinterJob)
	mux.Handle("/realtime/", h.sockJSHandler())
	mux.HandleFunc("/ws", h.handleWebSocket)

	return cors.New(cors.Options{
		AllowedOrigins: h.allowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "X-Request-ID"},
	}).Handler(mux)
}

func (h *Handler) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	w.WriteHeader(http.StatusOK)
}

type healthResponse struct {
	Status      string        `json:"status"`
	QueueLength int           `json:"queueLength"`
	NextNumber  int           `json:"nextNumber"`
	IsAccepting bool          `json:"isAccepting"`
	Viewers     int           `json:"viewers"`
	Printer     printerHealth `json:"printer"`
}

type printerHealth struct {
	Enabled    bool       `json:"enabled"`
	JobPending bool       `json:"jobPending"`
	LastPollAt *time.Time `json:"lastPollAt,omitempty"`
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	snapshot := h.queue.Snapshot()
	_, pending := h.jobs.Peek()
	resp := healthResponse{
		Status:      "ok",
		QueueLength: len(snapshot.Queue),
		NextNumber:  snapshot.NextNumber,
		IsAccepting: snapshot.IsAccepting,
		Viewers:     h.hub.Count(),
		Printer:     printerHealth{Enabled: snapshot.PrinterEnabled, JobPending: pending},
	}
	if last := h.jobs.LastPollAt(); !last.IsZero() {
		resp.Printer.LastPollAt = &last
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, h.queue.Snapshot())
}

// handleRegister serves the web reservation form. Tickets default to the
// web type.
func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	requestID := r.Header.Get("X-Request-ID")

	var cmd hub.RegisterCommand
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&cmd); err != nil {
		writeError(w, requestID, http.StatusBadRequest, "invalid_json", "invalid JSON")
		return
	}
	if strings.TrimSpace(cmd.Type) == "" {
		cmd.Type = models.TypeWeb
	}

	ticket, err := h.queue.Register(cmd.Input())
	if err != nil {
		status, code, message := mapError(err)
		if status == http.StatusInternalServerError {
			log.Printf("register failed request_id=%s err=%v", requestID, err)
		}
		writeError(w, requestID, status, code, message)
		return
	}
	writeJSON(w, http.StatusCreated, ticket)
}

type jobPreview struct {
	DisplayID string    `json:"displayId"`
	Token     string    `json:"jobToken"`
	StagedAt  time.Time `json:"stagedAt"`
	Bytes     int       `json:"bytes"`
	Text      []string  `json:"text"`
}

// handlePrinterJob shows the staged job without touching the printer
// handshake.
func (h *Handler) handlePrinterJob(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	job, ok := h.jobs.Peek()
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	text, err := printer.TextSegments(job.Payload)
	if err != nil {
		writeError(w, r.Header.Get("X-Request-ID"), http.StatusInternalServerError, "undecodable_job", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, jobPreview{
		DisplayID: job.DisplayID,
		Token:     job.Token,
		StagedAt:  job.StagedAt,
		Bytes:     len(job.Payload),
		Text:      text,
	})
}

func mapError(err error) (int, string, string) {
	switch {
	case errors.Is(err, queue.ErrAcceptanceClosed):
		return http.StatusConflict, "acceptance_closed", "registration is currently closed"
	case errors.Is(err, queue.ErrInvalidInput):
		return http.StatusBadRequest, "invalid_input", err.Error()
	case errors.Is(err, queue.ErrTicketNotFound):
		return http.StatusNotFound, "ticket_not_found", "ticket not found"
	case errors.Is(err, queue.ErrInvalidTransition):
		return http.StatusConflict, "invalid_transition", "ticket status does not allow this change"
	case errors.Is(err, queue.ErrQueueNotEmpty):
		return http.StatusConflict, "queue_not_empty", "queue must be empty"
	default:
		return http.StatusInternalServerError, "internal_error", "internal server error"
	}
}

func writeError(w http.ResponseWriter, requestID string, status int, code, message string) {
	writeJSON(w, status, errorResponse{
		RequestID: requestID,
		Error: responseError{
			Code:    code,
			Message: message,
		},
	})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}
