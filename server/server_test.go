package server

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YuminosukeSato/churnkit/config"
	"github.com/YuminosukeSato/churnkit/dataset"
	"github.com/YuminosukeSato/churnkit/insight"
	"github.com/YuminosukeSato/churnkit/predict"
	"github.com/YuminosukeSato/churnkit/registry"
	"github.com/YuminosukeSato/churnkit/train"
)

// writeFixtureCSV generates a small learnable churn dataset on disk.
func writeFixtureCSV(t *testing.T, dir string) {
	t.Helper()
	rng := rand.New(rand.NewSource(17))

	var sb strings.Builder
	sb.WriteString("tenure,monthly_charges,plan,churned\n")
	for i := 0; i < 80; i++ {
		tenure := rng.Intn(70)
		charges := 20 + 80*rng.Float64()
		plan := []string{"basic", "premium"}[rng.Intn(2)]
		label := "No"
		score := -0.08*float64(tenure) + 0.04*charges
		if plan == "basic" {
			score += 1.2
		}
		if score > 0.5 {
			label = "Yes"
		}
		fmt.Fprintf(&sb, "%d,%.2f,%s,%s\n", tenure, charges, plan, label)
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ds1.csv"), []byte(sb.String()), 0o600))
}

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	dir := t.TempDir()

	cfg := config.Default()
	cfg.DataDir = dir
	cfg.ModelsDir = filepath.Join(dir, "models")
	cfg.MetadataDir = filepath.Join(dir, "metadata")
	cfg.ProcessedDir = filepath.Join(dir, "processed")
	require.NoError(t, cfg.EnsureDirs())
	writeFixtureCSV(t, cfg.ProcessedDir)

	logger := zerolog.Nop()
	store := dataset.NewStore(cfg.ProcessedDir, logger)
	reg := registry.New(cfg.ModelsDir, cfg.MetadataDir)
	trainSvc := train.NewService(cfg, store, reg, logger)
	predictSvc := predict.NewService(reg, nil, logger)
	insightSvc := insight.NewService(reg, nil, logger)

	srv := httptest.NewServer(New(cfg, trainSvc, predictSvc, insightSvc, reg, logger).Handler())
	t.Cleanup(srv.Close)
	return srv
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(raw))
	require.NoError(t, err)
	return resp
}

func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func trainModel(t *testing.T, srv *httptest.Server) string {
	t.Helper()
	resp := postJSON(t, srv.URL+"/train", map[string]any{
		"dataset_id":    "ds1",
		"target_column": "churned",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody(t, resp)

	modelID, _ := body["model_id"].(string)
	require.True(t, strings.HasPrefix(modelID, "mdl_"), "model_id = %q", modelID)
	return modelID
}

func TestHealthz(t *testing.T) {
	srv := newTestServer(t)
	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", decodeBody(t, resp)["status"])
}

func TestTrainEndpoint(t *testing.T) {
	srv := newTestServer(t)
	resp := postJSON(t, srv.URL+"/train", map[string]any{
		"dataset_id":    "ds1",
		"target_column": "churned",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody(t, resp)

	metrics, ok := body["metrics"].(map[string]any)
	require.True(t, ok, "missing metrics: %v", body)
	acc, ok := metrics["accuracy"].(float64)
	require.True(t, ok)
	assert.GreaterOrEqual(t, acc, 0.0)
	assert.LessOrEqual(t, acc, 1.0)

	importance, ok := body["feature_importance"].([]any)
	require.True(t, ok)
	assert.Len(t, importance, 3)
}

func TestTrainUnknownDataset(t *testing.T) {
	srv := newTestServer(t)
	resp := postJSON(t, srv.URL+"/train", map[string]any{
		"dataset_id":    "nope",
		"target_column": "churned",
	})
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	body := decodeBody(t, resp)

	errObj, ok := body["error"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "processed_file_missing", errObj["code"])
	assert.NotEmpty(t, errObj["trace_id"])
}

func TestPredictEndpoint(t *testing.T) {
	srv := newTestServer(t)
	modelID := trainModel(t, srv)

	resp := postJSON(t, srv.URL+"/predict", map[string]any{
		"model_id": modelID,
		"input": map[string]any{
			"tenure":          3,
			"monthly_charges": 95.0,
			"plan":            "basic",
		},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody(t, resp)

	prob, ok := body["probability"].(float64)
	require.True(t, ok)
	assert.GreaterOrEqual(t, prob, 0.0)
	assert.LessOrEqual(t, prob, 1.0)
	assert.Contains(t, []any{"Low", "Medium", "High"}, body["risk_level"])
	assert.NotEmpty(t, body["key_factors"])
	assert.NotEmpty(t, body["explanation"])
}

func TestPredictMissingFields(t *testing.T) {
	srv := newTestServer(t)
	modelID := trainModel(t, srv)

	resp := postJSON(t, srv.URL+"/predict", map[string]any{
		"model_id": modelID,
		"input":    map[string]any{"plan": "basic"},
	})
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	body := decodeBody(t, resp)

	errObj := body["error"].(map[string]any)
	assert.Equal(t, "missing_fields", errObj["code"])
	missing, ok := errObj["details"].(map[string]any)["missing"].([]any)
	require.True(t, ok)
	assert.ElementsMatch(t, []any{"tenure", "monthly_charges"}, missing)
}

func TestPredictUnknownModel(t *testing.T) {
	srv := newTestServer(t)
	resp := postJSON(t, srv.URL+"/predict", map[string]any{
		"model_id": "mdl_missing",
		"input":    map[string]any{"a": 1},
	})
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	errObj := decodeBody(t, resp)["error"].(map[string]any)
	assert.Equal(t, "model_not_found", errObj["code"])
}

func TestSchemaEndpoint(t *testing.T) {
	srv := newTestServer(t)
	modelID := trainModel(t, srv)

	resp, err := http.Get(srv.URL + "/schema/" + modelID)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody(t, resp)

	assert.Equal(t, modelID, body["model_id"])
	assert.Equal(t, "churned", body["target_column"])
	fields, ok := body["fields"].([]any)
	require.True(t, ok)
	assert.Len(t, fields, 3)
}

func TestSummaryEndpoint(t *testing.T) {
	srv := newTestServer(t)
	modelID := trainModel(t, srv)

	resp, err := http.Get(srv.URL + "/summary/" + modelID)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody(t, resp)

	assert.Equal(t, modelID, body["model_id"])
	assert.NotEmpty(t, body["summary"])
	assert.Contains(t, body["metrics_summary"], "accuracy=")
	assert.Equal(t, false, body["llm_used"])

	features, ok := body["top_features"].([]any)
	require.True(t, ok)
	require.NotEmpty(t, features)
	assert.LessOrEqual(t, len(features), 5)
	first, ok := features[0].(map[string]any)
	require.True(t, ok)
	assert.NotEmpty(t, first["feature"])
}

func TestSummaryUnknownModel(t *testing.T) {
	srv := newTestServer(t)
	resp, err := http.Get(srv.URL + "/summary/mdl_missing")
	require.NoError(t, err)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	errObj := decodeBody(t, resp)["error"].(map[string]any)
	assert.Equal(t, "model_not_found", errObj["code"])
}

// sseEvent is one parsed server-sent event.
type sseEvent struct {
	name string
	data map[string]any
}

func readSSE(t *testing.T, resp *http.Response) []sseEvent {
	t.Helper()
	defer resp.Body.Close()

	var events []sseEvent
	var current sseEvent
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 1024*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event:"):
			current.name = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			require.NoError(t, json.Unmarshal([]byte(payload), &current.data))
		case line == "":
			if current.name != "" {
				events = append(events, current)
				current = sseEvent{}
			}
		}
	}
	if current.name != "" {
		events = append(events, current)
	}
	return events
}

func TestTrainStreamEndsWithSingleTerminalEvent(t *testing.T) {
	srv := newTestServer(t)
	resp := postJSON(t, srv.URL+"/train/stream", map[string]any{
		"dataset_id":    "ds1",
		"target_column": "churned",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, resp.Header.Get("Content-Type"), "text/event-stream")

	events := readSSE(t, resp)
	require.NotEmpty(t, events)

	terminal := 0
	lastPct := -1.0
	for _, ev := range events {
		switch ev.name {
		case "progress":
			pct, _ := ev.data["pct"].(float64)
			assert.GreaterOrEqual(t, pct, lastPct)
			lastPct = pct
		case "complete", "error":
			terminal++
		}
	}
	assert.Equal(t, 1, terminal)
	last := events[len(events)-1]
	assert.Equal(t, "complete", last.name)
	payload, ok := last.data["payload"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, payload["model_id"], "mdl_")
}

func TestTrainStreamReportsErrorEvent(t *testing.T) {
	srv := newTestServer(t)
	resp := postJSON(t, srv.URL+"/train/stream", map[string]any{
		"dataset_id":    "missing",
		"target_column": "churned",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	events := readSSE(t, resp)
	require.NotEmpty(t, events)
	last := events[len(events)-1]
	assert.Equal(t, "error", last.name)
	assert.Equal(t, "processed_file_missing", last.data["code"])
}
