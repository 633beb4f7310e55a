package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap/zaptest"

	"sleepywoodpecker/arff-collector/internal/collector"
	"sleepywoodpecker/arff-collector/internal/dataset"
	"sleepywoodpecker/arff-collector/internal/persistence"
)

func newTestServer(t *testing.T, exportRoot string) (*gin.Engine, *collector.Collector) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	logger := zaptest.NewLogger(t)
	registry := dataset.NewRegistry(nil)
	worker, err := persistence.NewWorker(t.TempDir(), registry, nil, logger)
	if err != nil {
		t.Fatal(err)
	}
	c := collector.New(collector.Config{
		DatasetName:  "acc-data",
		DefaultLabel: dataset.Walking,
		DrainTimeout: time.Second,
	}, registry, worker, logger)
	if err := c.Open(); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
		_ = c.Close()
	})

	return NewServer(c, exportRoot, logger).SetupRoutes(), c
}

func do(t *testing.T, r *gin.Engine, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestCurrentDataset(t *testing.T) {
	r, _ := newTestServer(t, t.TempDir())

	w := do(t, r, http.MethodGet, "/api/v1/datasets/current?content=true", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body)
	}
	var resp DatasetResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Name != "acc-data.arff" || resp.ClearName != "acc-data" || resp.Content != dataset.DefaultHeader {
		t.Errorf("response = %+v", resp)
	}
}

func TestCreateDataset(t *testing.T) {
	r, c := newTestServer(t, t.TempDir())

	w := do(t, r, http.MethodPost, "/api/v1/datasets", CreateDatasetRequest{Name: "morning-run"})
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d: %s", w.Code, w.Body)
	}
	if got := c.CurrentDataset().Name; got != "morning-run.arff" {
		t.Errorf("current = %q", got)
	}

	if w := do(t, r, http.MethodPost, "/api/v1/datasets", gin.H{}); w.Code != http.StatusBadRequest {
		t.Errorf("missing name: status = %d", w.Code)
	}
	if w := do(t, r, http.MethodPost, "/api/v1/datasets", CreateDatasetRequest{Name: "../up"}); w.Code != http.StatusBadRequest {
		t.Errorf("path name: status = %d", w.Code)
	}
}

func TestIngestSampleAndSize(t *testing.T) {
	r, c := newTestServer(t, t.TempDir())

	x, y, z := 1.0, 2.0, 3.0
	w := do(t, r, http.MethodPost, "/api/v1/samples", SampleRequest{X: &x, Y: &y, Z: &z, Sensor: "accelerometer"})
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d: %s", w.Code, w.Body)
	}

	deadline := time.Now().Add(2 * time.Second)
	for c.Stats().Written != 1 {
		if time.Now().After(deadline) {
			t.Fatal("sample not written")
		}
		time.Sleep(time.Millisecond)
	}

	w = do(t, r, http.MethodGet, "/api/v1/datasets/current/size", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("size status = %d", w.Code)
	}
	var size SizeResponse
	if err := json.Unmarshal(w.Body.Bytes(), &size); err != nil {
		t.Fatal(err)
	}
	if size.KB != 0 || size.Label != "0KB" {
		t.Errorf("size = %+v", size)
	}

	w = do(t, r, http.MethodPost, "/api/v1/samples", SampleRequest{X: &x, Y: &y, Z: &z, Sensor: "barometer"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("unknown sensor: status = %d", w.Code)
	}
	w = do(t, r, http.MethodPost, "/api/v1/samples", gin.H{"x": 1, "sensor": "gyroscope"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("missing axes: status = %d", w.Code)
	}
}

func TestSetLabel(t *testing.T) {
	r, c := newTestServer(t, t.TempDir())

	if w := do(t, r, http.MethodPut, "/api/v1/label", LabelRequest{Label: "sport"}); w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if c.Label() != dataset.Sport {
		t.Errorf("label = %q", c.Label())
	}
}

func TestExportCurrent(t *testing.T) {
	root := t.TempDir()
	r, _ := newTestServer(t, root)

	w := do(t, r, http.MethodPost, "/api/v1/datasets/current/export", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body)
	}
	var resp struct {
		Data struct {
			Destination string `json:"destination"`
		} `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if want := filepath.Join(root, persistence.ExportSubpath, "acc-data.arff"); resp.Data.Destination != want {
		t.Errorf("destination = %q, want %q", resp.Data.Destination, want)
	}
}

func TestExportToMissingStorage(t *testing.T) {
	r, _ := newTestServer(t, filepath.Join(t.TempDir(), "missing"))

	if w := do(t, r, http.MethodPost, "/api/v1/datasets/current/export", nil); w.Code != http.StatusInsufficientStorage {
		t.Errorf("status = %d, want %d", w.Code, http.StatusInsufficientStorage)
	}
}

func TestDeleteCurrent(t *testing.T) {
	r, _ := newTestServer(t, t.TempDir())

	w := do(t, r, http.MethodDelete, "/api/v1/datasets/current", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var resp struct {
		Data struct {
			Deleted bool `json:"deleted"`
		} `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if !resp.Data.Deleted {
		t.Error("expected deleted=true")
	}
}

func TestHealthCheck(t *testing.T) {
	r, _ := newTestServer(t, t.TempDir())

	w := do(t, r, http.MethodGet, "/api/v1/monitoring/health", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var resp HealthResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.WorkerState != "bound" || resp.Label != "walking" {
		t.Errorf("health = %+v", resp)
	}
}

func TestSetRecording(t *testing.T) {
	r, c := newTestServer(t, t.TempDir())

	on := true
	if w := do(t, r, http.MethodPut, "/api/v1/recording", RecordingRequest{Recording: &on}); w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body)
	}
	if !c.Recording() {
		t.Error("recording should be on")
	}
	if err := c.Ingest(1, 1, 1, dataset.Accelerometer); err != nil {
		t.Errorf("Ingest while recording: %v", err)
	}

	off := false
	if w := do(t, r, http.MethodPut, "/api/v1/recording", RecordingRequest{Recording: &off}); w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body)
	}
	if c.Recording() {
		t.Error("recording should be off")
	}

	if w := do(t, r, http.MethodPut, "/api/v1/recording", gin.H{}); w.Code != http.StatusBadRequest {
		t.Errorf("missing flag: status = %d", w.Code)
	}
}
