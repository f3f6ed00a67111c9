package gbt

import (
	"math"
	"math/rand"
	"sort"

	"gonum.org/v1/gonum/mat"

	apperr "github.com/YuminosukeSato/churnkit/pkg/errors"
)

// Params contains the training hyperparameters.
type Params struct {
	NumRounds       int     `json:"num_rounds"`
	LearningRate    float64 `json:"learning_rate"`
	MaxDepth        int     `json:"max_depth"`
	Lambda          float64 `json:"lambda_l2"`
	Subsample       float64 `json:"subsample"`
	ColsampleByTree float64 `json:"colsample_bytree"`
	MinSamplesLeaf  int     `json:"min_samples_leaf"`
	Seed            int64   `json:"seed"`
}

func (p Params) withDefaults() Params {
	if p.NumRounds == 0 {
		p.NumRounds = 100
	}
	if p.LearningRate == 0 {
		p.LearningRate = 0.1
	}
	if p.MaxDepth == 0 {
		p.MaxDepth = 6
	}
	if p.Subsample == 0 {
		p.Subsample = 1.0
	}
	if p.ColsampleByTree == 0 {
		p.ColsampleByTree = 1.0
	}
	if p.MinSamplesLeaf == 0 {
		p.MinSamplesLeaf = 1
	}
	return p
}

// RoundHook is invoked once after each boosting round. Round counts from 1
// to total.
type RoundHook func(round, total int)

// Trainer fits a boosted ensemble on a dense design matrix.
type Trainer struct {
	params Params
	rng    *rand.Rand

	x         *mat.Dense
	y         []float64
	gradients []float64
	hessians  []float64
	margins   []float64
}

// NewTrainer creates a trainer with the given hyperparameters.
func NewTrainer(params Params) *Trainer {
	params = params.withDefaults()
	return &Trainer{
		params: params,
		rng:    rand.New(rand.NewSource(params.Seed)),
	}
}

// Fit trains on X with binary labels y in {0,1}. hook may be nil; when set
// it fires once per completed round, which is the classifier's round-level
// progress surface.
func (t *Trainer) Fit(X *mat.Dense, y []float64, hook RoundHook) (*Model, error) {
	rows, cols := X.Dims()
	if rows == 0 || cols == 0 {
		return nil, apperr.Newf("gbt: empty training matrix (%dx%d)", rows, cols)
	}
	if len(y) != rows {
		return nil, apperr.Newf("gbt: target length %d does not match %d rows", len(y), rows)
	}

	t.x = X
	t.y = y
	t.gradients = make([]float64, rows)
	t.hessians = make([]float64, rows)
	t.margins = make([]float64, rows)

	model := &Model{
		NumFeatures:  cols,
		LearningRate: t.params.LearningRate,
		InitScore:    initScore(y),
		Seed:         t.params.Seed,
	}
	for i := range t.margins {
		t.margins[i] = model.InitScore
	}

	for round := 0; round < t.params.NumRounds; round++ {
		t.computeGradients()

		indices := t.sampleRows(rows)
		features := t.sampleFeatures(cols)

		tree := Tree{}
		t.buildNode(&tree, indices, features, 0)
		model.Trees = append(model.Trees, tree)

		for i := 0; i < rows; i++ {
			t.margins[i] += t.params.LearningRate * tree.Predict(mat.Row(nil, i, X))
		}

		if hook != nil {
			hook(round+1, t.params.NumRounds)
		}
	}
	return model, nil
}

// initScore is the base log-odds of the positive class, clamped away from
// degenerate rates.
func initScore(y []float64) float64 {
	pos := 0.0
	for _, v := range y {
		pos += v
	}
	p := pos / float64(len(y))
	const eps = 1e-6
	p = math.Min(1-eps, math.Max(eps, p))
	return math.Log(p / (1 - p))
}

// computeGradients evaluates the logistic objective at the current margins.
func (t *Trainer) computeGradients() {
	for i := range t.margins {
		p := sigmoid(t.margins[i])
		t.gradients[i] = p - t.y[i]
		t.hessians[i] = math.Max(p*(1-p), 1e-16)
	}
}

func (t *Trainer) sampleRows(rows int) []int {
	if t.params.Subsample >= 1.0 {
		indices := make([]int, rows)
		for i := range indices {
			indices[i] = i
		}
		return indices
	}
	n := int(math.Ceil(t.params.Subsample * float64(rows)))
	perm := t.rng.Perm(rows)[:n]
	sort.Ints(perm)
	return perm
}

func (t *Trainer) sampleFeatures(cols int) []int {
	if t.params.ColsampleByTree >= 1.0 {
		features := make([]int, cols)
		for j := range features {
			features[j] = j
		}
		return features
	}
	n := int(math.Ceil(t.params.ColsampleByTree * float64(cols)))
	if n < 1 {
		n = 1
	}
	perm := t.rng.Perm(cols)[:n]
	sort.Ints(perm)
	return perm
}

// buildNode grows the tree depth-wise and returns the new node's index.
// Every node records its would-be output value so prediction paths can be
// decomposed into contributions later.
func (t *Trainer) buildNode(tree *Tree, indices, features []int, depth int) int {
	nodeIdx := len(tree.Nodes)
	value, _, _ := t.leafValue(indices)
	tree.Nodes = append(tree.Nodes, Node{
		LeftChild:  -1,
		RightChild: -1,
		Value:      value,
		Count:      len(indices),
	})

	if depth >= t.params.MaxDepth || len(indices) < 2*t.params.MinSamplesLeaf {
		return nodeIdx
	}

	best := t.findBestSplit(indices, features)
	if best.gain <= 0 {
		return nodeIdx
	}

	var left, right []int
	for _, i := range indices {
		if t.x.At(i, best.feature) <= best.threshold {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}

	tree.Nodes[nodeIdx].SplitFeature = best.feature
	tree.Nodes[nodeIdx].Threshold = best.threshold
	tree.Nodes[nodeIdx].Gain = best.gain

	leftIdx := t.buildNode(tree, left, features, depth+1)
	rightIdx := t.buildNode(tree, right, features, depth+1)
	tree.Nodes[nodeIdx].LeftChild = leftIdx
	tree.Nodes[nodeIdx].RightChild = rightIdx
	return nodeIdx
}

type splitInfo struct {
	feature   int
	threshold float64
	gain      float64
}

// findBestSplit scans every candidate feature with an exact sorted sweep.
func (t *Trainer) findBestSplit(indices, features []int) splitInfo {
	best := splitInfo{gain: -math.MaxFloat64, feature: -1}

	totalGrad, totalHess := 0.0, 0.0
	for _, i := range indices {
		totalGrad += t.gradients[i]
		totalHess += t.hessians[i]
	}

	type valueIdx struct {
		value float64
		idx   int
	}
	buf := make([]valueIdx, len(indices))

	for _, feature := range features {
		for k, i := range indices {
			buf[k] = valueIdx{value: t.x.At(i, feature), idx: i}
		}
		sort.Slice(buf, func(a, b int) bool { return buf[a].value < buf[b].value })

		leftGrad, leftHess := 0.0, 0.0
		for k := 0; k < len(buf)-1; k++ {
			leftGrad += t.gradients[buf[k].idx]
			leftHess += t.hessians[buf[k].idx]

			if buf[k].value == buf[k+1].value {
				continue
			}
			leftCount := k + 1
			rightCount := len(buf) - leftCount
			if leftCount < t.params.MinSamplesLeaf || rightCount < t.params.MinSamplesLeaf {
				continue
			}

			gain := t.splitGain(leftGrad, leftHess, totalGrad-leftGrad, totalHess-leftHess, totalGrad, totalHess)
			if gain > best.gain {
				best = splitInfo{
					feature:   feature,
					threshold: (buf[k].value + buf[k+1].value) / 2,
					gain:      gain,
				}
			}
		}
	}
	return best
}

func (t *Trainer) splitGain(leftGrad, leftHess, rightGrad, rightHess, totalGrad, totalHess float64) float64 {
	lambda := t.params.Lambda
	leftScore := leftGrad * leftGrad / (leftHess + lambda)
	rightScore := rightGrad * rightGrad / (rightHess + lambda)
	totalScore := totalGrad * totalGrad / (totalHess + lambda)
	return 0.5 * (leftScore + rightScore - totalScore)
}

// leafValue is the regularized Newton step for a node.
func (t *Trainer) leafValue(indices []int) (value, sumGrad, sumHess float64) {
	for _, i := range indices {
		sumGrad += t.gradients[i]
		sumHess += t.hessians[i]
	}
	const eps = 1e-10
	return -sumGrad / (sumHess + t.params.Lambda + eps), sumGrad, sumHess
}
