package predict

import (
	"fmt"
	"sort"
	"strings"

	"github.com/YuminosukeSato/churnkit/pipeline"
	"github.com/YuminosukeSato/churnkit/train"
)

// DefaultTopK is the number of key factors returned per prediction.
const DefaultTopK = 5

// Directions of a factor's contribution toward the positive class.
const (
	DirectionIncreases = "increases_risk"
	DirectionDecreases = "decreases_risk"
)

// globalFallbackReason flags factors that come from training-time global
// importance instead of this prediction's contributions. It must accompany
// any degraded explanation.
const globalFallbackReason = "Global feature importance (not prediction-specific)."

// Factor is one source column's signed contribution to a single
// prediction.
type Factor struct {
	Feature      string  `json:"feature"`
	Direction    string  `json:"direction,omitempty"`
	Contribution float64 `json:"contribution"`
	Reasoning    string  `json:"reasoning"`
}

// ExplainRow computes the per-case explanation for one encoded input row.
// The model's additive contributions per expanded feature are aggregated
// back to source columns, ranked by absolute value and truncated to topK.
// When tree attribution is unavailable the training-time global importance
// ranking is returned instead, each factor flagged as not
// prediction-specific.
func ExplainRow(
	artifact *pipeline.Artifact,
	features []float64,
	featureColumns []string,
	globalImportance []train.FeatureImportance,
	topK int,
) []Factor {
	if topK <= 0 {
		topK = DefaultTopK
	}

	expandedNames := artifact.Transform.FeatureNames()
	if len(artifact.Model.Trees) == 0 || len(expandedNames) != artifact.Model.NumFeatures {
		return globalFallback(globalImportance, topK)
	}

	contribs, _ := artifact.Model.Contributions(features)
	if len(contribs) != len(expandedNames) {
		return globalFallback(globalImportance, topK)
	}

	aggregated := map[string]float64{}
	for i, name := range expandedNames {
		aggregated[mapBaseFeature(name, featureColumns)] += contribs[i]
	}

	type pair struct {
		feature string
		value   float64
	}
	ranked := make([]pair, 0, len(aggregated))
	for f, v := range aggregated {
		ranked = append(ranked, pair{f, v})
	}
	sort.Slice(ranked, func(a, b int) bool {
		av, bv := abs(ranked[a].value), abs(ranked[b].value)
		if av != bv {
			return av > bv
		}
		return ranked[a].feature < ranked[b].feature
	})
	if len(ranked) > topK {
		ranked = ranked[:topK]
	}

	factors := make([]Factor, 0, len(ranked))
	for _, p := range ranked {
		direction := DirectionDecreases
		if p.value >= 0 {
			direction = DirectionIncreases
		}
		factors = append(factors, Factor{
			Feature:      p.feature,
			Direction:    direction,
			Contribution: p.value,
			Reasoning:    fmt.Sprintf("Contribution %+.4f toward churn prediction.", p.value),
		})
	}
	return factors
}

func globalFallback(importance []train.FeatureImportance, topK int) []Factor {
	ranked := make([]train.FeatureImportance, len(importance))
	copy(ranked, importance)
	sort.SliceStable(ranked, func(a, b int) bool {
		return ranked[a].Importance > ranked[b].Importance
	})
	if len(ranked) > topK {
		ranked = ranked[:topK]
	}
	factors := make([]Factor, 0, len(ranked))
	for _, fi := range ranked {
		factors = append(factors, Factor{
			Feature:      fi.Feature,
			Contribution: fi.Importance,
			Reasoning:    globalFallbackReason,
		})
	}
	return factors
}

// mapBaseFeature maps an expanded feature name back to its source column:
// strip the branch prefix, try an exact match, then the longest source
// column that prefixes the name at a separator (covers one-hot names like
// "plan_premium"), and finally the substring before the first separator.
func mapBaseFeature(name string, featureColumns []string) string {
	base := name
	if i := strings.Index(base, "__"); i >= 0 {
		base = base[i+2:]
	}
	for _, col := range featureColumns {
		if base == col {
			return base
		}
	}
	byLen := make([]string, len(featureColumns))
	copy(byLen, featureColumns)
	sort.Slice(byLen, func(a, b int) bool { return len(byLen[a]) > len(byLen[b]) })
	for _, col := range byLen {
		if strings.HasPrefix(base, col+"_") || strings.HasPrefix(base, col+"=") {
			return col
		}
	}
	if i := strings.Index(base, "_"); i >= 0 {
		return base[:i]
	}
	return base
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
