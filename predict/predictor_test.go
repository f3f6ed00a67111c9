package predict

import (
	"context"
	"math/rand"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/YuminosukeSato/churnkit/frame"
	apperr "github.com/YuminosukeSato/churnkit/pkg/errors"
	"github.com/YuminosukeSato/churnkit/registry"
	"github.com/YuminosukeSato/churnkit/train"
)

// fitModel trains a small model on synthetic churn data and stores it,
// returning the service and the stored model id.
func fitModel(t *testing.T) (*Service, string, registry.Metadata) {
	t.Helper()

	const rows = 120
	rng := rand.New(rand.NewSource(21))
	tenure := make([]float64, rows)
	charges := make([]float64, rows)
	plans := make([]string, rows)
	labels := make([]string, rows)
	for i := 0; i < rows; i++ {
		tenure[i] = float64(rng.Intn(70))
		charges[i] = 20 + 80*rng.Float64()
		plans[i] = []string{"basic", "premium"}[rng.Intn(2)]
		score := -0.08*tenure[i] + 0.04*charges[i]
		if plans[i] == "basic" {
			score += 1.2
		}
		if score > 0.5 {
			labels[i] = "Yes"
		} else {
			labels[i] = "No"
		}
	}
	X, err := frame.New(
		frame.NewNumeric("tenure", tenure, nil),
		frame.NewNumeric("monthly_charges", charges, nil),
		frame.NewString("plan", plans, nil),
	)
	if err != nil {
		t.Fatalf("frame.New: %v", err)
	}

	arts, err := train.Run(X, frame.NewString("churned", labels, nil), train.Options{Seed: 42, TestFraction: 0.2})
	if err != nil {
		t.Fatalf("train.Run: %v", err)
	}

	dir := t.TempDir()
	reg := registry.New(filepath.Join(dir, "models"), filepath.Join(dir, "metadata"))
	modelID := "mdl_" + strconv.FormatInt(rng.Int63(), 16)

	artifactPath, err := reg.SaveArtifact(modelID, arts.Pipeline)
	if err != nil {
		t.Fatalf("SaveArtifact: %v", err)
	}
	meta := registry.Metadata{
		ModelID:        modelID,
		TargetColumn:   "churned",
		FeatureColumns: X.Names(),
		ArtifactPath:   artifactPath,
		Schema:         arts.Schema,
		Metrics:        arts.Metrics,
		Confusion:      arts.Confusion,
		Importance:     arts.Importance,
	}
	if err := reg.SaveMetadata(meta); err != nil {
		t.Fatalf("SaveMetadata: %v", err)
	}

	return NewService(reg, nil, zerolog.Nop()), modelID, meta
}

func TestPredictEndToEnd(t *testing.T) {
	svc, modelID, _ := fitModel(t)

	var pcts []int
	resp, err := svc.Predict(context.Background(), modelID, map[string]any{
		"tenure":          2.0,
		"monthly_charges": 95.0,
		"plan":            "basic",
	}, func(pct int, message string) { pcts = append(pcts, pct) })
	if err != nil {
		t.Fatalf("Predict: %v", err)
	}

	if resp.Probability < 0 || resp.Probability > 1 {
		t.Errorf("probability out of range: %v", resp.Probability)
	}
	if resp.Prediction != 0 && resp.Prediction != 1 {
		t.Errorf("prediction = %d", resp.Prediction)
	}
	if resp.RiskLevel != RiskLevel(resp.Probability) {
		t.Errorf("risk %q inconsistent with probability %v", resp.RiskLevel, resp.Probability)
	}
	if len(resp.KeyFactors) == 0 || len(resp.KeyFactors) > DefaultTopK {
		t.Errorf("key factors = %d", len(resp.KeyFactors))
	}
	if resp.Explanation == "" {
		t.Error("empty explanation")
	}
	if len(resp.RecommendedActions) == 0 {
		t.Error("no recommended actions")
	}
	for k := 1; k < len(pcts); k++ {
		if pcts[k] < pcts[k-1] {
			t.Fatalf("progress decreased: %v", pcts)
		}
	}
}

func TestPredictInputOrderIndependent(t *testing.T) {
	svc, modelID, _ := fitModel(t)

	input := map[string]any{"plan": "premium", "monthly_charges": 30.0, "tenure": 60.0}
	a, err := svc.Predict(context.Background(), modelID, input, nil)
	if err != nil {
		t.Fatalf("Predict: %v", err)
	}
	b, err := svc.Predict(context.Background(), modelID, input, nil)
	if err != nil {
		t.Fatalf("Predict: %v", err)
	}
	if a.Probability != b.Probability || a.Prediction != b.Prediction {
		t.Error("identical input produced different predictions")
	}
}

func TestPredictMissingFieldsListsAll(t *testing.T) {
	svc, modelID, _ := fitModel(t)

	_, err := svc.Predict(context.Background(), modelID, map[string]any{"plan": "basic"}, nil)
	app, ok := apperr.AsAppError(err)
	if !ok {
		t.Fatalf("expected AppError, got %v", err)
	}
	if app.Code != apperr.CodeMissingFields {
		t.Errorf("code = %q, want %q", app.Code, apperr.CodeMissingFields)
	}
	missing, ok := app.Details["missing"].([]string)
	if !ok {
		t.Fatalf("details = %v", app.Details)
	}
	if len(missing) != 2 {
		t.Errorf("missing = %v, want both omitted columns", missing)
	}
}

func TestPredictUnknownModel(t *testing.T) {
	svc, _, _ := fitModel(t)
	_, err := svc.Predict(context.Background(), "mdl_unknown", map[string]any{}, nil)
	if !apperr.IsCode(err, apperr.CodeModelNotFound) {
		t.Errorf("error = %v, want %s", err, apperr.CodeModelNotFound)
	}
}

func TestPredictCoercesStringNumbers(t *testing.T) {
	svc, modelID, _ := fitModel(t)

	resp, err := svc.Predict(context.Background(), modelID, map[string]any{
		"tenure":          "12",
		"monthly_charges": "55.5",
		"plan":            "basic",
	}, nil)
	if err != nil {
		t.Fatalf("Predict with string numbers: %v", err)
	}
	if resp.Probability < 0 || resp.Probability > 1 {
		t.Errorf("probability = %v", resp.Probability)
	}

	_, err = svc.Predict(context.Background(), modelID, map[string]any{
		"tenure":          "a lot",
		"monthly_charges": 55.5,
		"plan":            "basic",
	}, nil)
	if !apperr.IsCode(err, apperr.CodeInvalidFieldValue) {
		t.Errorf("error = %v, want %s", err, apperr.CodeInvalidFieldValue)
	}
}

func TestRiskLevelBoundaries(t *testing.T) {
	tests := []struct {
		prob float64
		want string
	}{
		{0.0, RiskLow},
		{0.32999, RiskLow},
		{0.33, RiskMedium},
		{0.5, RiskMedium},
		{0.65999, RiskMedium},
		{0.66, RiskHigh},
		{1.0, RiskHigh},
	}
	for _, tt := range tests {
		if got := RiskLevel(tt.prob); got != tt.want {
			t.Errorf("RiskLevel(%v) = %q, want %q", tt.prob, got, tt.want)
		}
	}
}

func TestMapBaseFeature(t *testing.T) {
	columns := []string{"tenure", "monthly_charges", "plan", "plan_tier"}
	tests := []struct {
		name string
		want string
	}{
		{"num__tenure", "tenure"},
		{"num__monthly_charges", "monthly_charges"},
		{"cat__plan_basic", "plan"},
		{"cat__plan_tier_gold", "plan_tier"},
		{"plan=premium", "plan"},
		{"mystery_value", "mystery"},
		{"standalone", "standalone"},
	}
	for _, tt := range tests {
		if got := mapBaseFeature(tt.name, columns); got != tt.want {
			t.Errorf("mapBaseFeature(%q) = %q, want %q", tt.name, got, tt.want)
		}
	}
}

func TestExplainRowGlobalFallback(t *testing.T) {
	svc, modelID, meta := fitModel(t)

	artifact, err := svc.reg.LoadArtifact(modelID)
	if err != nil {
		t.Fatalf("LoadArtifact: %v", err)
	}
	// strip the trees to force the degraded path
	artifact.Model.Trees = nil

	factors := ExplainRow(artifact, make([]float64, artifact.Transform.Width()), meta.FeatureColumns, meta.Importance, DefaultTopK)
	if len(factors) == 0 {
		t.Fatal("no fallback factors")
	}
	for _, f := range factors {
		if f.Reasoning != globalFallbackReason {
			t.Errorf("factor %q reasoning = %q, want fallback flag", f.Feature, f.Reasoning)
		}
		if f.Direction != "" {
			t.Errorf("fallback factor %q carries direction %q", f.Feature, f.Direction)
		}
	}
}

func TestExplainRowAggregatesToSourceColumns(t *testing.T) {
	svc, modelID, meta := fitModel(t)

	artifact, err := svc.reg.LoadArtifact(modelID)
	if err != nil {
		t.Fatalf("LoadArtifact: %v", err)
	}
	row, err := frame.New(
		frame.NewNumeric("tenure", []float64{3}, nil),
		frame.NewNumeric("monthly_charges", []float64{90}, nil),
		frame.NewString("plan", []string{"basic"}, nil),
	)
	if err != nil {
		t.Fatalf("frame.New: %v", err)
	}
	design, err := artifact.Transform.Apply(row)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	features := make([]float64, artifact.Transform.Width())
	for j := range features {
		features[j] = design.At(0, j)
	}

	factors := ExplainRow(artifact, features, meta.FeatureColumns, meta.Importance, DefaultTopK)
	known := map[string]bool{"tenure": true, "monthly_charges": true, "plan": true}
	for _, f := range factors {
		if !known[f.Feature] {
			t.Errorf("factor %q is not a source column", f.Feature)
		}
		if f.Direction != DirectionIncreases && f.Direction != DirectionDecreases {
			t.Errorf("factor %q has no direction", f.Feature)
		}
	}
}

func TestTemplateSummaryStatesFacts(t *testing.T) {
	facts := Facts{
		Probability: 0.82,
		RiskLevel:   RiskHigh,
		KeyFactors: []Factor{
			{Feature: "tenure", Direction: DirectionIncreases, Contribution: 0.4},
		},
	}
	summary := TemplateSummary(facts)
	for _, want := range []string{"82%", "high", "tenure"} {
		if !strings.Contains(summary, want) {
			t.Errorf("summary %q missing %q", summary, want)
		}
	}
}

func TestRecommendedActionsPerRisk(t *testing.T) {
	factors := []Factor{{Feature: "tenure", Direction: DirectionIncreases}}
	if len(RecommendedActions(RiskHigh, factors)) < 2 {
		t.Error("high risk should carry multiple actions")
	}
	if len(RecommendedActions(RiskLow, nil)) == 0 {
		t.Error("low risk should still carry an action")
	}
}
