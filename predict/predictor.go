// Package predict serves single-case inference against a stored model:
// input validation and coercion, probability and label, risk bucketing,
// per-case attribution and a plain-language explanation.
package predict

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/YuminosukeSato/churnkit/frame"
	"github.com/YuminosukeSato/churnkit/pipeline"
	apperr "github.com/YuminosukeSato/churnkit/pkg/errors"
	"github.com/YuminosukeSato/churnkit/registry"
)

// Risk buckets over the churn probability.
const (
	RiskLow    = "Low"
	RiskMedium = "Medium"
	RiskHigh   = "High"
)

// Sink receives progress updates during one prediction.
type Sink func(pct int, message string)

// Facts is the grounded input for narrative generation. It contains only
// values computed by the model so a narrator cannot introduce numbers of
// its own.
type Facts struct {
	Probability float64
	RiskLevel   string
	KeyFactors  []Factor
}

// Narrator turns prediction facts into a short human summary. It must
// degrade gracefully: implementations return a deterministic fallback
// rather than an error.
type Narrator interface {
	Narrate(ctx context.Context, facts Facts) (summary, confidenceNote string)
}

// Response is the full outcome of one prediction.
type Response struct {
	ModelID            string   `json:"model_id"`
	Prediction         int      `json:"prediction"`
	Probability        float64  `json:"probability"`
	RiskLevel          string   `json:"risk_level"`
	KeyFactors         []Factor `json:"key_factors"`
	Explanation        string   `json:"explanation"`
	ConfidenceNote     string   `json:"confidence_note,omitempty"`
	RecommendedActions []string `json:"recommended_actions"`
}

// Service performs predictions against models in the registry.
type Service struct {
	reg      *registry.Registry
	narrator Narrator
	log      zerolog.Logger
}

// NewService creates a prediction service. narrator may be nil, in which
// case the deterministic template summary is used.
func NewService(reg *registry.Registry, narrator Narrator, logger zerolog.Logger) *Service {
	return &Service{reg: reg, narrator: narrator, log: logger}
}

// Predict scores one input case against the given model. The input map is
// order-independent; rows are assembled in the fitted feature order from
// metadata. Every missing required field is reported at once.
func (s *Service) Predict(ctx context.Context, modelID string, input map[string]any, sink Sink) (*Response, error) {
	emit := func(pct int, msg string) {
		if sink != nil {
			sink(pct, msg)
		}
	}

	emit(5, "Loading model metadata")
	meta, err := s.reg.LoadMetadata(modelID)
	if err != nil {
		return nil, err
	}

	emit(15, "Loading model artifact")
	artifact, err := s.reg.LoadArtifact(modelID)
	if err != nil {
		return nil, err
	}

	emit(25, "Validating input")
	row, err := buildRow(meta, input)
	if err != nil {
		return nil, err
	}

	emit(45, "Running prediction")
	features, label, prob, err := scoreRow(artifact, row)
	if err != nil {
		return nil, apperr.Internal(apperr.CodePredictionFailed, "Prediction failed due to an internal error.", err)
	}
	risk := RiskLevel(prob)

	emit(60, "Computing key factors")
	factors := ExplainRow(artifact, features, meta.FeatureColumns, meta.Importance, DefaultTopK)

	emit(75, "Generating explanation")
	facts := Facts{Probability: prob, RiskLevel: risk, KeyFactors: factors}
	summary, note := s.narrate(ctx, facts)

	emit(90, "Preparing recommendations")
	actions := RecommendedActions(risk, factors)

	emit(95, "Finalizing")
	s.log.Info().
		Str("model_id", modelID).
		Float64("probability", prob).
		Str("risk_level", risk).
		Msg("prediction served")

	return &Response{
		ModelID:            modelID,
		Prediction:         label,
		Probability:        prob,
		RiskLevel:          risk,
		KeyFactors:         factors,
		Explanation:        summary,
		ConfidenceNote:     note,
		RecommendedActions: actions,
	}, nil
}

func (s *Service) narrate(ctx context.Context, facts Facts) (string, string) {
	if s.narrator == nil {
		return TemplateSummary(facts), ""
	}
	return s.narrator.Narrate(ctx, facts)
}

// TemplateSummary is the deterministic explanation used whenever no
// narrator is configured or one fails. It only restates computed facts.
func TemplateSummary(facts Facts) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "This customer has a %.0f%% probability of churning (%s risk).",
		facts.Probability*100, strings.ToLower(facts.RiskLevel))
	if len(facts.KeyFactors) > 0 {
		names := make([]string, 0, len(facts.KeyFactors))
		for i, f := range facts.KeyFactors {
			if i == 3 {
				break
			}
			names = append(names, f.Feature)
		}
		fmt.Fprintf(&sb, " The most influential factors were: %s.", strings.Join(names, ", "))
	}
	return sb.String()
}

// RiskLevel buckets a churn probability. Boundaries are inclusive on the
// upper side: 0.33 is Medium and 0.66 is High.
func RiskLevel(prob float64) string {
	switch {
	case prob < 0.33:
		return RiskLow
	case prob < 0.66:
		return RiskMedium
	default:
		return RiskHigh
	}
}

// scoreRow encodes one row and scores it. A model that cannot produce a
// probability still yields a usable response: the label maps to
// probability 1.0 or 0.0.
func scoreRow(artifact *pipeline.Artifact, row *frame.Table) (features []float64, label int, prob float64, err error) {
	features, label, prob, err = artifact.Score(row)
	if err != nil {
		return nil, 0, 0, err
	}
	if math.IsNaN(prob) || math.IsInf(prob, 0) {
		margin := artifact.Model.PredictMargin(features)
		if margin >= 0 {
			return features, 1, 1.0, nil
		}
		return features, 0, 0.0, nil
	}
	return features, label, prob, nil
}

// buildRow assembles a one-row table in the fitted feature order, coercing
// each value by its schema dtype. All missing required fields are collected
// and reported together.
func buildRow(meta registry.Metadata, input map[string]any) (*frame.Table, error) {
	dtypes := map[string]string{}
	for _, f := range meta.Schema.Fields {
		dtypes[f.Name] = f.DType
	}

	var missing []string
	cols := make([]frame.Column, 0, len(meta.FeatureColumns))
	for _, name := range meta.FeatureColumns {
		raw, ok := input[name]
		if !ok || raw == nil {
			missing = append(missing, name)
			continue
		}
		col, err := coerceValue(name, dtypes[name], raw)
		if err != nil {
			return nil, err
		}
		cols = append(cols, col)
	}
	if len(missing) > 0 {
		return nil, apperr.Unprocessable(
			apperr.CodeMissingFields,
			"Missing required input fields for prediction.",
			map[string]any{"missing": missing},
		)
	}
	return frame.New(cols...)
}

// coerceValue converts one JSON value into a one-element column of the
// fitted dtype. JSON numbers arrive as float64; anything else is converted
// where an unambiguous reading exists.
func coerceValue(name, dtype string, raw any) (frame.Column, error) {
	switch dtype {
	case frame.Numeric.String():
		switch v := raw.(type) {
		case float64:
			return frame.NewNumeric(name, []float64{v}, nil), nil
		case int:
			return frame.NewNumeric(name, []float64{float64(v)}, nil), nil
		case bool:
			f := 0.0
			if v {
				f = 1.0
			}
			return frame.NewNumeric(name, []float64{f}, nil), nil
		case string:
			f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
			if err != nil {
				return frame.Column{}, invalidField(name, dtype, raw)
			}
			return frame.NewNumeric(name, []float64{f}, nil), nil
		}
	case frame.Bool.String():
		switch v := raw.(type) {
		case bool:
			return frame.NewBool(name, []bool{v}, nil), nil
		case string:
			b, err := strconv.ParseBool(strings.ToLower(strings.TrimSpace(v)))
			if err != nil {
				return frame.Column{}, invalidField(name, dtype, raw)
			}
			return frame.NewBool(name, []bool{b}, nil), nil
		case float64:
			return frame.NewBool(name, []bool{v != 0}, nil), nil
		}
	default:
		switch v := raw.(type) {
		case string:
			return frame.NewString(name, []string{v}, nil), nil
		case float64:
			return frame.NewString(name, []string{strconv.FormatFloat(v, 'g', -1, 64)}, nil), nil
		case bool:
			return frame.NewString(name, []string{strconv.FormatBool(v)}, nil), nil
		}
	}
	return frame.Column{}, invalidField(name, dtype, raw)
}

func invalidField(name, dtype string, raw any) error {
	return apperr.Unprocessable(
		apperr.CodeInvalidFieldValue,
		fmt.Sprintf("Field %q could not be interpreted as %s.", name, dtype),
		map[string]any{"field": name, "expected_dtype": dtype, "value": fmt.Sprintf("%v", raw)},
	)
}
