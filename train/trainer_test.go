package train

import (
	"math"
	"math/rand"
	"reflect"
	"strconv"
	"testing"

	"github.com/YuminosukeSato/churnkit/frame"
	apperr "github.com/YuminosukeSato/churnkit/pkg/errors"
)

// churnTable builds a 200-row dataset with 8 numeric and 2 categorical
// feature columns and a Yes/No target at roughly 70/30, correlated with
// the features so the model has something to learn.
func churnTable(t *testing.T) (*frame.Table, frame.Column) {
	t.Helper()
	const rows = 200
	rng := rand.New(rand.NewSource(99))

	numeric := make([][]float64, 8)
	for j := range numeric {
		numeric[j] = make([]float64, rows)
	}
	plans := make([]string, rows)
	regions := make([]string, rows)
	labels := make([]string, rows)

	for i := 0; i < rows; i++ {
		for j := range numeric {
			numeric[j][i] = rng.NormFloat64()
		}
		plans[i] = []string{"basic", "standard", "premium"}[rng.Intn(3)]
		regions[i] = []string{"east", "west"}[rng.Intn(2)]

		score := 1.8*numeric[0][i] - 1.2*numeric[1][i] + 0.4*rng.NormFloat64()
		if plans[i] == "basic" {
			score += 0.8
		}
		if score > 0.55 {
			labels[i] = "Yes"
		} else {
			labels[i] = "No"
		}
	}

	cols := make([]frame.Column, 0, 10)
	for j := range numeric {
		cols = append(cols, frame.NewNumeric("f"+strconv.Itoa(j), numeric[j], nil))
	}
	cols = append(cols,
		frame.NewString("plan", plans, nil),
		frame.NewString("region", regions, nil),
	)
	tbl, err := frame.New(cols...)
	if err != nil {
		t.Fatalf("frame.New: %v", err)
	}
	return tbl, frame.NewString("churned", labels, nil)
}

func runOnce(t *testing.T, seed int64) *Artifacts {
	t.Helper()
	X, y := churnTable(t)
	arts, err := Run(X, y, Options{Seed: seed, TestFraction: 0.2})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	return arts
}

func TestRunEndToEnd(t *testing.T) {
	arts := runOnce(t, 42)

	if arts.Metrics.Accuracy < 0 || arts.Metrics.Accuracy > 1 {
		t.Errorf("accuracy out of range: %v", arts.Metrics.Accuracy)
	}
	if arts.TestRows != 40 {
		t.Errorf("test rows = %d, want 40", arts.TestRows)
	}

	cmSum := 0
	for _, row := range arts.Confusion {
		for _, v := range row {
			cmSum += v
		}
	}
	if cmSum != arts.TestRows {
		t.Errorf("confusion matrix sums to %d, want %d", cmSum, arts.TestRows)
	}

	if len(arts.Importance) != 10 {
		t.Errorf("importance entries = %d, want 10", len(arts.Importance))
	}
	if len(arts.Schema.Fields) != 10 {
		t.Errorf("schema fields = %d, want 10", len(arts.Schema.Fields))
	}
	if arts.Pipeline == nil || arts.Pipeline.Model == nil {
		t.Fatal("missing pipeline artifact")
	}
}

func TestRunDeterministicForSeed(t *testing.T) {
	a := runOnce(t, 42)
	b := runOnce(t, 42)

	if a.Metrics != b.Metrics {
		t.Errorf("metrics differ: %+v vs %+v", a.Metrics, b.Metrics)
	}
	if a.Confusion != b.Confusion {
		t.Errorf("confusion matrices differ: %v vs %v", a.Confusion, b.Confusion)
	}
	if !reflect.DeepEqual(a.Importance, b.Importance) {
		t.Error("importance rankings differ between identical runs")
	}
}

func TestRunImportanceConservation(t *testing.T) {
	arts := runOnce(t, 42)

	aggregated := 0.0
	for _, fi := range arts.Importance {
		if fi.Importance < 0 {
			t.Errorf("negative importance for %q", fi.Feature)
		}
		aggregated += fi.Importance
	}
	raw := 0.0
	for _, v := range arts.Pipeline.Model.FeatureImportance() {
		raw += v
	}
	if math.Abs(aggregated-raw) > 1e-9 {
		t.Errorf("aggregated importance %v != expanded importance %v", aggregated, raw)
	}
}

func TestRunProgressScaledAndMonotonic(t *testing.T) {
	X, y := churnTable(t)

	var pcts []int
	_, err := Run(X, y, Options{
		Seed:         42,
		TestFraction: 0.2,
		ProgressLo:   30,
		ProgressHi:   90,
		Progress: func(pct int, message string) {
			pcts = append(pcts, pct)
			if message == "" {
				t.Error("empty progress message")
			}
		},
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(pcts) == 0 {
		t.Fatal("no progress events")
	}
	for k := 1; k < len(pcts); k++ {
		if pcts[k] < pcts[k-1] {
			t.Fatalf("progress decreased: %v", pcts)
		}
	}
	for _, p := range pcts {
		if p < 30 || p > 90 {
			t.Fatalf("progress %d outside [30,90]", p)
		}
	}
	if pcts[len(pcts)-1] != 90 {
		t.Errorf("final progress = %d, want 90", pcts[len(pcts)-1])
	}
}

func TestRunGuardrails(t *testing.T) {
	small, err := frame.New(frame.NewNumeric("a", []float64{1, 2, 3}, nil))
	if err != nil {
		t.Fatalf("frame.New: %v", err)
	}
	_, err = Run(small, frame.NewNumeric("y", []float64{0, 1, 0}, nil), Options{TestFraction: 0.2})
	if !apperr.IsCode(err, apperr.CodeDatasetTooSmall) {
		t.Errorf("small dataset error = %v, want %s", err, apperr.CodeDatasetTooSmall)
	}

	X, _ := churnTable(t)
	constant := make([]float64, X.NumRows())
	_, err = Run(X, frame.NewNumeric("y", constant, nil), Options{TestFraction: 0.2})
	if !apperr.IsCode(err, apperr.CodeTargetNotBinary) {
		t.Errorf("constant target error = %v, want %s", err, apperr.CodeTargetNotBinary)
	}

	_, err = Run(nil, frame.Column{}, Options{})
	if !apperr.IsCode(err, "training_data_missing") {
		t.Errorf("nil table error = %v, want training_data_missing", err)
	}
}
