package http

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"twostream/metrics"
	"twostream/monitoring"
	"twostream/training"
)

type StatusSource interface {
	Status() training.Status
}

type RecordSource interface {
	Records(ctx context.Context, stream metrics.Stream, runID string, limit int) ([]metrics.Record, error)
}

// API holds the collaborators behind the monitor endpoints. Any of them may
// be nil; the matching endpoint then answers 503.
type API struct {
	Status  StatusSource
	Records RecordSource
	Hub     *monitoring.Hub
}

func (a *API) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/health", handleHealth)
	mux.HandleFunc("GET /api/status", a.handleStatus)
	mux.HandleFunc("GET /api/records", a.handleRecords)
	mux.HandleFunc("GET /api/ws", a.handleWebSocket)
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *API) handleStatus(w http.ResponseWriter, r *http.Request) {
	if a.Status == nil {
		writeError(w, r, http.StatusServiceUnavailable, "no training run attached")
		return
	}
	response := map[string]interface{}{
		"run": a.Status.Status(),
	}
	if a.Hub != nil {
		response["ws"] = a.Hub.Stats()
	}
	writeJSON(w, http.StatusOK, response)
}

func (a *API) handleRecords(w http.ResponseWriter, r *http.Request) {
	if a.Records == nil {
		writeError(w, r, http.StatusServiceUnavailable, "record store not configured")
		return
	}

	stream := metrics.Stream(r.URL.Query().Get("stream"))
	if stream == "" {
		stream = metrics.StreamTrain
	}
	if stream != metrics.StreamTrain && stream != metrics.StreamTest {
		writeError(w, r, http.StatusBadRequest, "stream must be train or test")
		return
	}

	limit := 100
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		l, err := strconv.Atoi(limitStr)
		if err != nil || l < 0 {
			writeError(w, r, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = l
	}

	runID := r.URL.Query().Get("run")
	records, err := a.Records.Records(r.Context(), stream, runID, limit)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"stream":  stream,
		"columns": metrics.Header(),
		"data":    records,
	})
}

func (a *API) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if a.Hub == nil {
		writeError(w, r, http.StatusServiceUnavailable, "live feed not configured")
		return
	}
	a.Hub.HandleWebSocket(w, r)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError answers with the message and the request id assigned by
// LoggerMiddleware, so a failed call can be matched to its log line.
func writeError(w http.ResponseWriter, r *http.Request, status int, message string) {
	body := map[string]string{"error": message}
	if id := GetRequestID(r.Context()); id != "" {
		body["request_id"] = id
	}
	writeJSON(w, status, body)
}
