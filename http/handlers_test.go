package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"

	"twostream/metrics"
	"twostream/training"
)

type fakeStatus struct{ status training.Status }

func (f fakeStatus) Status() training.Status { return f.status }

type fakeRecords struct {
	records   []metrics.Record
	err       error
	gotStream metrics.Stream
	gotLimit  int
}

func (f *fakeRecords) Records(_ context.Context, stream metrics.Stream, _ string, limit int) ([]metrics.Record, error) {
	f.gotStream = stream
	f.gotLimit = limit
	return f.records, f.err
}

func newTestHandler(api *API) http.Handler {
	return NewServer(DefaultServerConfig(), api, nil).Handler()
}

func TestHealthHandler(t *testing.T) {
	req, err := http.NewRequest("GET", "/api/health", nil)
	if err != nil {
		t.Fatal(err)
	}

	rr := httptest.NewRecorder()
	handler := http.HandlerFunc(handleHealth)

	handler.ServeHTTP(rr, req)

	if status := rr.Code; status != http.StatusOK {
		t.Errorf("handler returned wrong status code: got %v want %v", status, http.StatusOK)
	}

	expected := `{"status":"ok"}`
	if rr.Body.String() != expected+"\n" && rr.Body.String() != expected {
		t.Errorf("handler returned unexpected body: got %v want %v", rr.Body.String(), expected)
	}
}

func TestStatusHandler(t *testing.T) {
	api := &API{Status: fakeStatus{status: training.Status{RunID: "r1", Stage: training.StageTraining, Epoch: 2, BestPrec1: 0.4}}}
	rr := httptest.NewRecorder()
	newTestHandler(api).ServeHTTP(rr, httptest.NewRequest("GET", "/api/status", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var body struct {
		Run training.Status `json:"run"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if body.Run.RunID != "r1" || body.Run.Stage != training.StageTraining || body.Run.Epoch != 2 {
		t.Fatalf("unexpected status %+v", body.Run)
	}

	rr = httptest.NewRecorder()
	newTestHandler(&API{}).ServeHTTP(rr, httptest.NewRequest("GET", "/api/status", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 without a run, got %d", rr.Code)
	}
}

func TestRecordsHandler(t *testing.T) {
	source := &fakeRecords{records: []metrics.Record{metrics.NewEpochRecord(1, 4, metrics.Scores{MAP: 0.25})}}
	handler := newTestHandler(&API{Records: source})

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest("GET", "/api/records?stream=test&limit=5", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if source.gotStream != metrics.StreamTest || source.gotLimit != 5 {
		t.Fatalf("unexpected query stream=%s limit=%d", source.gotStream, source.gotLimit)
	}
	var body struct {
		Columns []string         `json:"columns"`
		Data    []metrics.Record `json:"data"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(body.Data) != 1 || body.Data[0].Step != 4 || body.Data[0].Loss != nil {
		t.Fatalf("unexpected data %+v", body.Data)
	}
	if len(body.Columns) != 9 || body.Columns[0] != "Epoch" {
		t.Fatalf("unexpected columns %v", body.Columns)
	}

	for _, query := range []string{"?stream=val", "?limit=-1", "?limit=abc"} {
		rr = httptest.NewRecorder()
		handler.ServeHTTP(rr, httptest.NewRequest("GET", "/api/records"+query, nil))
		if rr.Code != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", query, rr.Code)
		}
	}

	source.err = errors.New("disk gone")
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest("GET", "/api/records", nil))
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rr.Code)
	}
	if source.gotStream != metrics.StreamTrain || source.gotLimit != 100 {
		t.Fatalf("expected default stream and limit, got %s %d", source.gotStream, source.gotLimit)
	}
}

func TestRecoveryMiddleware(t *testing.T) {
	handler := RecoveryMiddleware(zap.NewNop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest("GET", "/", nil))
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rr.Code)
	}
}

func TestErrorCarriesRequestID(t *testing.T) {
	rr := httptest.NewRecorder()
	newTestHandler(&API{Records: &fakeRecords{}}).ServeHTTP(rr, httptest.NewRequest("GET", "/api/records?stream=val", nil))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}

	header := rr.Header().Get("X-Request-ID")
	if header == "" {
		t.Fatal("expected an X-Request-ID header")
	}
	var body map[string]string
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if body["request_id"] != header {
		t.Fatalf("expected request_id %q in body, got %v", header, body)
	}
}
