// Package insight summarizes a completed training run for business users:
// restated metrics, the top-ranked features and rule-based risk callouts,
// optionally narrated with a deterministic fallback.
package insight

import (
	"context"
	"fmt"
	"sort"

	"github.com/rs/zerolog"

	"github.com/YuminosukeSato/churnkit/registry"
	"github.com/YuminosukeSato/churnkit/train"
)

// topFeatureCount caps the feature ranking in a summary.
const topFeatureCount = 5

// Facts is the grounded input for training-summary narration. It contains
// only values recorded at training time so a narrator cannot introduce
// numbers of its own.
type Facts struct {
	ModelName   string
	Target      string
	Metrics     train.Metrics
	TopFeatures []train.FeatureImportance
	Risks       []string
}

// Narrator turns training facts into a short human summary plus a metrics
// recap. Implementations must degrade gracefully: they return the
// deterministic fallback rather than an error. used reports whether
// generated text was produced.
type Narrator interface {
	SummarizeTraining(ctx context.Context, facts Facts) (summary, metricsSummary string, used bool)
}

// Summary is the training-run summary served for one model.
type Summary struct {
	ModelID        string                    `json:"model_id"`
	Summary        string                    `json:"summary"`
	MetricsSummary string                    `json:"metrics_summary"`
	TopFeatures    []train.FeatureImportance `json:"top_features"`
	Risks          []string                  `json:"risks"`
	LLMUsed        bool                      `json:"llm_used"`
}

// Service builds training summaries from recorded model metadata.
type Service struct {
	reg      *registry.Registry
	narrator Narrator
	log      zerolog.Logger
}

// NewService creates an insight service. narrator may be nil, in which case
// the deterministic template summary is used.
func NewService(reg *registry.Registry, narrator Narrator, logger zerolog.Logger) *Service {
	return &Service{reg: reg, narrator: narrator, log: logger}
}

// TrainingSummary summarizes the recorded run for one model: metrics, the
// strongest features and any rule-based risks, narrated when a narrator is
// configured.
func (s *Service) TrainingSummary(ctx context.Context, modelID string) (*Summary, error) {
	meta, err := s.reg.LoadMetadata(modelID)
	if err != nil {
		return nil, err
	}

	facts := Facts{
		ModelName:   meta.ModelName,
		Target:      meta.TargetColumn,
		Metrics:     meta.Metrics,
		TopFeatures: topFeatures(meta.Importance),
		Risks:       TrainingRisks(meta.Metrics),
	}
	summary, metricsSummary, used := s.summarize(ctx, facts)

	s.log.Info().
		Str("model_id", modelID).
		Bool("llm_used", used).
		Msg("training summary served")

	return &Summary{
		ModelID:        modelID,
		Summary:        summary,
		MetricsSummary: metricsSummary,
		TopFeatures:    facts.TopFeatures,
		Risks:          facts.Risks,
		LLMUsed:        used,
	}, nil
}

func (s *Service) summarize(ctx context.Context, facts Facts) (string, string, bool) {
	if s.narrator == nil {
		summary, metricsSummary := TemplateTrainingSummary(facts)
		return summary, metricsSummary, false
	}
	return s.narrator.SummarizeTraining(ctx, facts)
}

// TemplateTrainingSummary is the deterministic summary used whenever no
// narrator is configured or one fails. It only restates recorded facts.
func TemplateTrainingSummary(facts Facts) (summary, metricsSummary string) {
	summary = fmt.Sprintf("The %s model predicts %q using %d top-ranked features.",
		facts.ModelName, facts.Target, len(facts.TopFeatures))
	metricsSummary = fmt.Sprintf(
		"Metrics available: accuracy=%.3f, precision=%.3f, recall=%.3f, f1=%.3f.",
		facts.Metrics.Accuracy, facts.Metrics.Precision, facts.Metrics.Recall, facts.Metrics.F1)
	return summary, metricsSummary
}

// TrainingRisks derives rule-based callouts from the evaluation metrics.
func TrainingRisks(m train.Metrics) []string {
	var risks []string
	if m.Accuracy < 0.7 {
		risks = append(risks, "Overall accuracy is modest; consider more data or tuning.")
	}
	if m.Recall < 0.6 {
		risks = append(risks, "Recall is low; high-risk churn cases may be missed.")
	}
	if m.Precision < 0.6 {
		risks = append(risks, "Precision is low; false positives may be high.")
	}
	return risks
}

// topFeatures ranks importances descending and keeps the strongest few.
// Ties keep the source-column order of the metadata record.
func topFeatures(importance []train.FeatureImportance) []train.FeatureImportance {
	ranked := make([]train.FeatureImportance, len(importance))
	copy(ranked, importance)
	sort.SliceStable(ranked, func(a, b int) bool { return ranked[a].Importance > ranked[b].Importance })
	if len(ranked) > topFeatureCount {
		ranked = ranked[:topFeatureCount]
	}
	return ranked
}
