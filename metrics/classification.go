// Package metrics implements the binary classification metrics used to
// evaluate a trained model. Threshold metrics follow the zero-division
// convention of returning 0 rather than erroring; ranking metrics return an
// error on degenerate inputs so callers can decide how to record them.
package metrics

import (
	"sort"

	"gonum.org/v1/gonum/mat"

	apperr "github.com/YuminosukeSato/churnkit/pkg/errors"
)

func checkPair(op string, yTrue, yPred *mat.VecDense) error {
	if yTrue.Len() == 0 {
		return apperr.Newf("metrics: %s: empty input", op)
	}
	if yTrue.Len() != yPred.Len() {
		return apperr.Newf("metrics: %s: length mismatch %d vs %d", op, yTrue.Len(), yPred.Len())
	}
	return nil
}

// Accuracy is the fraction of exact label matches.
func Accuracy(yTrue, yPred *mat.VecDense) (float64, error) {
	if err := checkPair("Accuracy", yTrue, yPred); err != nil {
		return 0, err
	}
	correct := 0
	for i := 0; i < yTrue.Len(); i++ {
		if yTrue.AtVec(i) == yPred.AtVec(i) {
			correct++
		}
	}
	return float64(correct) / float64(yTrue.Len()), nil
}

// Precision is TP/(TP+FP) with positive class 1; 0 when nothing was
// predicted positive.
func Precision(yTrue, yPred *mat.VecDense) (float64, error) {
	if err := checkPair("Precision", yTrue, yPred); err != nil {
		return 0, err
	}
	tp, fp := counts(yTrue, yPred)
	if tp+fp == 0 {
		return 0, nil
	}
	return float64(tp) / float64(tp+fp), nil
}

// Recall is TP/(TP+FN); 0 when no positives exist.
func Recall(yTrue, yPred *mat.VecDense) (float64, error) {
	if err := checkPair("Recall", yTrue, yPred); err != nil {
		return 0, err
	}
	tp := 0
	fn := 0
	for i := 0; i < yTrue.Len(); i++ {
		if yTrue.AtVec(i) == 1 {
			if yPred.AtVec(i) == 1 {
				tp++
			} else {
				fn++
			}
		}
	}
	if tp+fn == 0 {
		return 0, nil
	}
	return float64(tp) / float64(tp+fn), nil
}

// F1 is the harmonic mean of precision and recall; 0 when both are 0.
func F1(yTrue, yPred *mat.VecDense) (float64, error) {
	p, err := Precision(yTrue, yPred)
	if err != nil {
		return 0, err
	}
	r, err := Recall(yTrue, yPred)
	if err != nil {
		return 0, err
	}
	if p+r == 0 {
		return 0, nil
	}
	return 2 * p * r / (p + r), nil
}

// ConfusionMatrix returns the fixed 2x2 matrix with label order [0,1]:
// rows are actual, columns are predicted.
func ConfusionMatrix(yTrue, yPred *mat.VecDense) ([2][2]int, error) {
	var cm [2][2]int
	if err := checkPair("ConfusionMatrix", yTrue, yPred); err != nil {
		return cm, err
	}
	for i := 0; i < yTrue.Len(); i++ {
		a, p := int(yTrue.AtVec(i)), int(yPred.AtVec(i))
		if a < 0 || a > 1 || p < 0 || p > 1 {
			return cm, apperr.Newf("metrics: ConfusionMatrix: non-binary label at row %d", i)
		}
		cm[a][p]++
	}
	return cm, nil
}

// ROCAUC computes the area under the ROC curve from scores, using the
// rank-sum formulation with midrank tie handling. Single-class input is an
// error.
func ROCAUC(yTrue, scores *mat.VecDense) (float64, error) {
	if err := checkPair("ROCAUC", yTrue, scores); err != nil {
		return 0, err
	}
	nPos, nNeg := classCounts(yTrue)
	if nPos == 0 || nNeg == 0 {
		return 0, apperr.Newf("metrics: ROCAUC: only one class present")
	}

	s := vecSlice(scores)
	order := argsort(s)
	ranks := make([]float64, len(s))
	for i := 0; i < len(order); {
		j := i
		for j+1 < len(order) && s[order[j+1]] == s[order[i]] {
			j++
		}
		// midrank for ties, 1-based
		mid := float64(i+j)/2 + 1
		for k := i; k <= j; k++ {
			ranks[order[k]] = mid
		}
		i = j + 1
	}

	sumPosRanks := 0.0
	for i := 0; i < yTrue.Len(); i++ {
		if yTrue.AtVec(i) == 1 {
			sumPosRanks += ranks[i]
		}
	}
	p := float64(nPos)
	n := float64(nNeg)
	return (sumPosRanks - p*(p+1)/2) / (p * n), nil
}

// PRAUC computes average precision: the precision-recall curve summarized
// as sum over recall steps. Input without positives is an error.
func PRAUC(yTrue, scores *mat.VecDense) (float64, error) {
	if err := checkPair("PRAUC", yTrue, scores); err != nil {
		return 0, err
	}
	nPos, _ := classCounts(yTrue)
	if nPos == 0 {
		return 0, apperr.Newf("metrics: PRAUC: no positive class present")
	}

	s := vecSlice(scores)
	order := argsort(s)
	// descending by score
	for l, r := 0, len(order)-1; l < r; l, r = l+1, r-1 {
		order[l], order[r] = order[r], order[l]
	}

	ap := 0.0
	tp, fp := 0, 0
	prevRecall := 0.0
	i := 0
	for i < len(order) {
		j := i
		for j+1 < len(order) && s[order[j+1]] == s[order[i]] {
			j++
		}
		for k := i; k <= j; k++ {
			if yTrue.AtVec(order[k]) == 1 {
				tp++
			} else {
				fp++
			}
		}
		precision := float64(tp) / float64(tp+fp)
		recall := float64(tp) / float64(nPos)
		ap += (recall - prevRecall) * precision
		prevRecall = recall
		i = j + 1
	}
	return ap, nil
}

func counts(yTrue, yPred *mat.VecDense) (tp, fp int) {
	for i := 0; i < yTrue.Len(); i++ {
		if yPred.AtVec(i) == 1 {
			if yTrue.AtVec(i) == 1 {
				tp++
			} else {
				fp++
			}
		}
	}
	return tp, fp
}

func classCounts(yTrue *mat.VecDense) (pos, neg int) {
	for i := 0; i < yTrue.Len(); i++ {
		if yTrue.AtVec(i) == 1 {
			pos++
		} else {
			neg++
		}
	}
	return pos, neg
}

func vecSlice(v *mat.VecDense) []float64 {
	out := make([]float64, v.Len())
	for i := range out {
		out[i] = v.AtVec(i)
	}
	return out
}

func argsort(values []float64) []int {
	order := make([]int, len(values))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return values[order[a]] < values[order[b]] })
	return order
}
