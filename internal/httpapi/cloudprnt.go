package httpapi

import (
	"encoding/json"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/matunokihanten/noda/internal/metrics"
	"github.com/matunokihanten/noda/internal/printer"
)

type pollResponse struct {
	JobReady   bool     `json:"jobReady"`
	MediaTypes []string `json:"mediaTypes"`
	JobToken   string   `json:"jobToken,omitempty"`
}

// pollRequest holds the fields of the printer's status report that are
// logged; the rest of the document is ignored.
type pollRequest struct {
	StatusCode string `json:"statusCode"`
	PrinterMAC string `json:"printerMAC"`
}

// handleCloudPRNT implements the printer's three-step handshake: POST asks
// whether a job is ready, GET downloads it, DELETE reports completion.
func (h *Handler) handleCloudPRNT(w http.ResponseWriter, r *http.Request) {
	metrics.PrinterRequests.WithLabelValues(r.Method).Inc()
	switch r.Method {
	case http.MethodPost:
		h.cloudPRNTPoll(w, r)
	case http.MethodGet:
		h.cloudPRNTFetch(w, r)
	case http.MethodDelete:
		h.cloudPRNTAcknowledge(w, r)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (h *Handler) cloudPRNTPoll(w http.ResponseWriter, r *http.Request) {
	var status pollRequest
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err == nil && len(body) > 0 {
		if err := json.Unmarshal(body, &status); err == nil && status.StatusCode != "" && !strings.HasPrefix(status.StatusCode, "200") {
			log.Printf("printer status mac=%s status=%q", status.PrinterMAC, status.StatusCode)
		}
	}

	resp := pollResponse{MediaTypes: []string{printer.MediaType}}
	if job, ready := h.jobs.Poll(); ready {
		resp.JobReady = true
		resp.JobToken = job.Token
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) cloudPRNTFetch(w http.ResponseWriter, r *http.Request) {
	if mediaType := r.URL.Query().Get("type"); mediaType != "" && mediaType != printer.MediaType {
		w.WriteHeader(http.StatusUnsupportedMediaType)
		return
	}
	job, ok := h.jobs.Fetch(r.URL.Query().Get("token"))
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	w.Header().Set("Content-Type", printer.MediaType)
	w.Header().Set("Content-Length", strconv.Itoa(len(job.Payload)))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(job.Payload); err != nil {
		log.Printf("printer fetch write failed ticket=%s err=%v", job.DisplayID, err)
	}
}

// cloudPRNTAcknowledge clears the job unless the printer reports that
// printing failed, in which case the job stays staged for the next poll.
func (h *Handler) cloudPRNTAcknowledge(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	token := query.Get("token")
	if code := query.Get("code"); code != "" && !strings.HasPrefix(code, "2") {
		job, _ := h.jobs.Peek()
		log.Printf("printer reported failure code=%q ticket=%s, keeping job", code, job.DisplayID)
		w.WriteHeader(http.StatusOK)
		return
	}
	if !h.jobs.Acknowledge(token) && token != "" {
		log.Printf("stale print acknowledgement token=%s ignored", token)
	}
	w.WriteHeader(http.StatusOK)
}
