package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"cronsage/internal/advisor"
	"cronsage/internal/storage"
	logx "cronsage/pkg/logx"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	st, err := storage.Open(storage.Config{Driver: "file", Path: filepath.Join(t.TempDir(), "data")}, logx.Nop())
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	adv, err := advisor.New(context.Background(), advisor.Config{}, st, logx.Nop())
	if err != nil {
		t.Fatalf("advisor.New: %v", err)
	}

	srv := httptest.NewServer(New(Config{RatePerSec: 1000}, adv, logx.Nop()).Handler())
	t.Cleanup(srv.Close)
	return srv
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func TestHealthz(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d, want 200", resp.StatusCode)
	}
}

func TestRecordThenPredict(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t)

	start := time.Date(2026, 8, 10, 3, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		resp := postJSON(t, srv.URL+"/v1/executions", recordRequest{
			JobID:           "build",
			StartTime:       start.AddDate(0, 0, i),
			DurationSeconds: 60,
			Success:         true,
		})
		resp.Body.Close()
		if resp.StatusCode != http.StatusCreated {
			t.Fatalf("record status %d, want 201", resp.StatusCode)
		}
	}

	resp, err := http.Get(srv.URL + "/v1/jobs/build/prediction")
	if err != nil {
		t.Fatalf("GET prediction: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("prediction status %d, want 200", resp.StatusCode)
	}
	var pred struct {
		RecommendedTime string  `json:"recommended_time"`
		Confidence      float64 `json:"confidence"`
	}
	decodeBody(t, resp, &pred)
	if pred.RecommendedTime != "0 3 * * *" {
		t.Fatalf("recommended %q, want hour 3", pred.RecommendedTime)
	}
	if pred.Confidence <= 0 {
		t.Fatalf("confidence %v, want > 0", pred.Confidence)
	}
}

func TestRecordRejectsInvalidPayload(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t)

	resp := postJSON(t, srv.URL+"/v1/executions", recordRequest{
		JobID:           "",
		StartTime:       time.Now(),
		DurationSeconds: 10,
	})
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status %d, want 400 for missing job_id", resp.StatusCode)
	}

	resp = postJSON(t, srv.URL+"/v1/executions", map[string]any{"job_id": "x", "bogus": true})
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status %d, want 400 for unknown field", resp.StatusCode)
	}
}

func TestTrackAndAccuracy(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t)

	start := time.Date(2026, 8, 10, 5, 0, 0, 0, time.UTC)
	resp := postJSON(t, srv.URL+"/v1/executions/track", trackRequest{
		JobID:     "etl",
		StartTime: start,
		EndTime:   start.Add(90 * time.Second),
		Success:   true,
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("track status %d, want 201", resp.StatusCode)
	}
	var cmp storage.ExecutionComparison
	decodeBody(t, resp, &cmp)
	if cmp.ActualDuration != 90 {
		t.Fatalf("actual duration %v, want 90", cmp.ActualDuration)
	}

	resp2, err := http.Get(srv.URL + "/v1/metrics/accuracy?job=etl")
	if err != nil {
		t.Fatalf("GET accuracy: %v", err)
	}
	var metrics struct {
		TotalComparisons int `json:"total_comparisons"`
	}
	decodeBody(t, resp2, &metrics)
	if metrics.TotalComparisons != 1 {
		t.Fatalf("total comparisons %d, want 1", metrics.TotalComparisons)
	}

	resp3 := postJSON(t, srv.URL+"/v1/executions/track", trackRequest{
		JobID:     "etl",
		StartTime: start,
		EndTime:   start.Add(-time.Second),
	})
	resp3.Body.Close()
	if resp3.StatusCode != http.StatusBadRequest {
		t.Fatalf("reversed window status %d, want 400", resp3.StatusCode)
	}
}

func TestPredictBatchEndpoint(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t)

	resp := postJSON(t, srv.URL+"/v1/predictions", batchRequest{JobIDs: []string{"a", "b"}})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("batch status %d, want 200", resp.StatusCode)
	}
	var preds map[string]json.RawMessage
	decodeBody(t, resp, &preds)
	if len(preds) != 2 {
		t.Fatalf("batch returned %d predictions, want 2", len(preds))
	}

	empty := postJSON(t, srv.URL+"/v1/predictions", batchRequest{})
	empty.Body.Close()
	if empty.StatusCode != http.StatusBadRequest {
		t.Fatalf("empty batch status %d, want 400", empty.StatusCode)
	}
}

func TestReportEndpoint(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/v1/report")
	if err != nil {
		t.Fatalf("GET report: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("report status %d, want 200", resp.StatusCode)
	}
	var report struct {
		BestStrategy string `json:"best_strategy"`
	}
	decodeBody(t, resp, &report)
	if report.BestStrategy == "" {
		t.Fatal("report has no best strategy")
	}
}
