package train

import (
	"sort"
	"strconv"
	"strings"

	"github.com/YuminosukeSato/churnkit/frame"
	apperr "github.com/YuminosukeSato/churnkit/pkg/errors"
)

// labelVocabulary maps recognized churn-style target labels to {0,1}.
// Matching is case and surrounding-whitespace insensitive.
var labelVocabulary = map[string]float64{
	"1":         1,
	"0":         0,
	"yes":       1,
	"no":        0,
	"true":      1,
	"false":     0,
	"churn":     1,
	"no churn":  0,
	"not churn": 0,
	"exited":    1,
	"stayed":    0,
	"stay":      0,
}

// maxReportedLabels bounds how many offending labels an
// invalid_target_labels error lists.
const maxReportedLabels = 10

// NormalizeTarget maps a target column to 0/1 values. Booleans and numeric
// 0/1 map directly; strings go through the fixed vocabulary. Any label
// outside the vocabulary is a hard failure listing up to ten offending
// values, never a silent coercion. Re-applying to already-normalized input
// is a no-op.
func NormalizeTarget(y frame.Column) ([]float64, error) {
	out := make([]float64, y.Len())
	unknown := map[string]struct{}{}

	for i := 0; i < y.Len(); i++ {
		switch y.Kind {
		case frame.Bool:
			if y.Bools[i] {
				out[i] = 1
			}
		case frame.Numeric:
			out[i] = float64(int(y.Float(i)))
		default:
			token := strings.ToLower(strings.TrimSpace(y.Strings[i]))
			if y.IsMissing(i) {
				token = ""
			}
			v, ok := labelVocabulary[token]
			if !ok {
				// keep the caller's original casing in the report
				unknown[strings.TrimSpace(y.Strings[i])] = struct{}{}
				continue
			}
			out[i] = v
		}
	}

	if len(unknown) > 0 {
		examples := make([]string, 0, len(unknown))
		for label := range unknown {
			examples = append(examples, label)
		}
		sort.Strings(examples)
		if len(examples) > maxReportedLabels {
			examples = examples[:maxReportedLabels]
		}
		return nil, apperr.BadRequest(
			apperr.CodeInvalidTargetLabels,
			"Target column contains unsupported labels. Use a binary target (0/1 or Yes/No).",
			map[string]any{"examples_of_unknown_labels": examples},
		)
	}
	return out, nil
}

// distinctClasses returns the sorted distinct values of a normalized
// target.
func distinctClasses(y []float64) []float64 {
	seen := map[float64]struct{}{}
	for _, v := range y {
		seen[v] = struct{}{}
	}
	classes := make([]float64, 0, len(seen))
	for v := range seen {
		classes = append(classes, v)
	}
	sort.Float64s(classes)
	return classes
}

func formatClasses(classes []float64) []string {
	out := make([]string, len(classes))
	for i, c := range classes {
		out[i] = strconv.FormatFloat(c, 'g', -1, 64)
	}
	return out
}
