// Package train fits one durable model from one preprocessed dataset:
// target normalization, guardrails, a seeded stratified split, pipeline
// fitting with round-level progress, evaluation and source-column
// importance aggregation.
package train

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/churnkit/frame"
	"github.com/YuminosukeSato/churnkit/gbt"
	"github.com/YuminosukeSato/churnkit/metrics"
	"github.com/YuminosukeSato/churnkit/pipeline"
	apperr "github.com/YuminosukeSato/churnkit/pkg/errors"
)

// minTrainingRows is the smallest dataset considered trainable.
const minTrainingRows = 10

// Sink receives progress updates: a percentage in [0,100], non-decreasing
// within one run, and a short human message.
type Sink func(pct int, message string)

// Options configures one training run.
type Options struct {
	Seed         int64
	TestFraction float64
	Progress     Sink
	// ProgressLo/Hi scale fit progress into a sub-range of the 0-100
	// scale so multiple phases can share it. Zero values mean 0-100.
	ProgressLo int
	ProgressHi int
}

// FeatureImportance is one source column's aggregated global importance.
type FeatureImportance struct {
	Feature    string  `json:"feature"`
	Importance float64 `json:"importance"`
}

// Metrics is the evaluation summary of one run. ROCAUC and PRAUC are NaN
// when their computation failed on a degenerate test fold; the NaN is
// recorded, not an error.
type Metrics struct {
	Accuracy  float64       `json:"accuracy"`
	Precision float64       `json:"precision"`
	Recall    float64       `json:"recall"`
	F1        float64       `json:"f1"`
	ROCAUC    NullableFloat `json:"roc_auc"`
	PRAUC     NullableFloat `json:"pr_auc"`
}

// NullableFloat serializes NaN as JSON null so metadata records stay valid
// JSON while the in-memory value keeps the not-a-number sentinel.
type NullableFloat float64

// MarshalJSON implements json.Marshaler.
func (f NullableFloat) MarshalJSON() ([]byte, error) {
	if math.IsNaN(float64(f)) {
		return []byte("null"), nil
	}
	return []byte(fmt.Sprintf("%g", float64(f))), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (f *NullableFloat) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*f = NullableFloat(math.NaN())
		return nil
	}
	var v float64
	if _, err := fmt.Sscanf(string(data), "%g", &v); err != nil {
		return apperr.Wrap(err, "parse nullable float")
	}
	*f = NullableFloat(v)
	return nil
}

// Artifacts is the in-memory output of one training run, consumed
// immediately to produce model metadata and a response.
type Artifacts struct {
	Pipeline   *pipeline.Artifact
	Schema     pipeline.Schema
	Metrics    Metrics
	Confusion  [2][2]int
	Importance []FeatureImportance
	TestRows   int
}

// Run trains a pipeline on X/y. Validation failures carry their stable
// codes; anything unexpected inside fit or evaluate is wrapped as
// training_failed with the underlying message.
func Run(X *frame.Table, y frame.Column, opts Options) (*Artifacts, error) {
	emit := func(pct int, msg string) {
		if opts.Progress != nil {
			opts.Progress(pct, msg)
		}
	}
	lo, hi := clampRange(opts.ProgressLo, opts.ProgressHi)

	if X == nil || X.NumRows() == 0 {
		return nil, apperr.BadRequest("training_data_missing", "Training data is missing.", nil)
	}
	if X.NumRows() < minTrainingRows {
		return nil, apperr.BadRequest(
			apperr.CodeDatasetTooSmall,
			fmt.Sprintf("Dataset is too small to train reliably (need at least %d rows).", minTrainingRows),
			nil,
		)
	}

	yNorm, err := NormalizeTarget(y)
	if err != nil {
		return nil, err
	}
	classes := distinctClasses(yNorm)
	if len(classes) != 2 {
		return nil, apperr.BadRequest(
			apperr.CodeTargetNotBinary,
			"Target column must be binary (two classes).",
			map[string]any{"unique_values": formatClasses(classes)},
		)
	}

	emit(lo, "Splitting train/test")
	trainIdx, testIdx := stratifiedSplit(yNorm, opts.TestFraction, opts.Seed)
	xTrain := X.TakeRows(trainIdx)
	xTest := X.TakeRows(testIdx)
	yTrain := takeFloats(yNorm, trainIdx)
	yTest := takeFloats(yNorm, testIdx)

	def := pipeline.Build(xTrain, opts.Seed)
	emit(lo, "Preparing training pipeline")

	transform, err := def.Fit(xTrain)
	if err != nil {
		return nil, apperr.Internal(apperr.CodeTrainingFailed, "Training failed due to an internal error.", err)
	}
	design, err := transform.Apply(xTrain)
	if err != nil {
		return nil, apperr.Internal(apperr.CodeTrainingFailed, "Training failed due to an internal error.", err)
	}

	var hook gbt.RoundHook
	if opts.Progress != nil {
		lastPct := -1
		hook = func(round, total int) {
			frac := float64(round) / float64(total)
			pct := int(float64(lo) + float64(hi-lo)*frac)
			if pct != lastPct {
				lastPct = pct
				emit(pct, fmt.Sprintf("Training model (%d/%d)", round, total))
			}
		}
	}

	emit(lo, "Fitting model")
	model, err := gbt.NewTrainer(def.Params).Fit(design, yTrain, hook)
	if err != nil {
		return nil, apperr.Internal(apperr.CodeTrainingFailed, "Training failed due to an internal error.", err)
	}
	emit(hi, "Model fit complete")

	artifact := &pipeline.Artifact{
		Version:   pipeline.ArtifactVersion,
		Transform: transform,
		Model:     model,
	}

	evaluated, cm, err := evaluate(artifact, xTest, yTest)
	if err != nil {
		return nil, apperr.Internal(apperr.CodeTrainingFailed, "Training failed due to an internal error.", err)
	}

	return &Artifacts{
		Pipeline:   artifact,
		Schema:     pipeline.BuildSchema(X),
		Metrics:    evaluated,
		Confusion:  cm,
		Importance: aggregateImportance(model, transform, X.Names()),
		TestRows:   len(testIdx),
	}, nil
}

// evaluate scores the fitted pipeline on the held-out fold. The threshold
// metrics follow the zero-division convention; the ranking metrics are
// individually recovered to NaN so a degenerate fold never aborts a run
// that already produced a model.
func evaluate(artifact *pipeline.Artifact, xTest *frame.Table, yTest []float64) (Metrics, [2][2]int, error) {
	design, err := artifact.Transform.Apply(xTest)
	if err != nil {
		return Metrics{}, [2][2]int{}, err
	}
	rows, _ := design.Dims()
	probs := mat.NewVecDense(rows, nil)
	preds := mat.NewVecDense(rows, nil)
	for i := 0; i < rows; i++ {
		probs.SetVec(i, artifact.Model.PredictProba(mat.Row(nil, i, design)))
		if probs.AtVec(i) >= 0.5 {
			preds.SetVec(i, 1)
		}
	}
	truth := mat.NewVecDense(len(yTest), yTest)

	var m Metrics
	if m.Accuracy, err = metrics.Accuracy(truth, preds); err != nil {
		return m, [2][2]int{}, err
	}
	if m.Precision, err = metrics.Precision(truth, preds); err != nil {
		return m, [2][2]int{}, err
	}
	if m.Recall, err = metrics.Recall(truth, preds); err != nil {
		return m, [2][2]int{}, err
	}
	if m.F1, err = metrics.F1(truth, preds); err != nil {
		return m, [2][2]int{}, err
	}

	if auc, aucErr := metrics.ROCAUC(truth, probs); aucErr != nil {
		m.ROCAUC = NullableFloat(math.NaN())
	} else {
		m.ROCAUC = NullableFloat(auc)
	}
	if ap, apErr := metrics.PRAUC(truth, probs); apErr != nil {
		m.PRAUC = NullableFloat(math.NaN())
	} else {
		m.PRAUC = NullableFloat(ap)
	}

	cm, err := metrics.ConfusionMatrix(truth, preds)
	if err != nil {
		return m, cm, err
	}
	return m, cm, nil
}

// aggregateImportance reverses the one-hot expansion: the layout descriptor
// is walked in concatenation order, numeric slots map 1:1 and each
// categorical source column owns a contiguous run equal to its fitted
// category count. A layout that does not match the model width degrades to
// all-zero importances for every source column instead of failing.
func aggregateImportance(model *gbt.Model, transform *pipeline.Transform, sources []string) []FeatureImportance {
	totals, _ := transform.Layout().AggregateToSource(model.FeatureImportance(), sources)
	out := make([]FeatureImportance, 0, len(sources))
	for _, name := range sources {
		out = append(out, FeatureImportance{Feature: name, Importance: totals[name]})
	}
	return out
}

func takeFloats(values []float64, idx []int) []float64 {
	out := make([]float64, len(idx))
	for j, i := range idx {
		out[j] = values[i]
	}
	return out
}

func clampRange(lo, hi int) (int, int) {
	if lo == 0 && hi == 0 {
		return 0, 100
	}
	if lo < 0 {
		lo = 0
	}
	if lo > 100 {
		lo = 100
	}
	if hi < lo {
		hi = lo
	}
	if hi > 100 {
		hi = 100
	}
	return lo, hi
}
