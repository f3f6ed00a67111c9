// Package gbt implements a gradient-boosted decision tree binary
// classifier: exact greedy split search, logistic objective, deterministic
// seeded sampling, per-round hooks for progress reporting, gain-based
// feature importance and per-prediction path contributions.
package gbt

import (
	"math"
)

// Node is a single tree node. Leaves have LeftChild == RightChild == -1.
// Value is the regularized output the node would produce if it were a leaf;
// internal node values drive path attribution.
type Node struct {
	LeftChild    int     `json:"left"`
	RightChild   int     `json:"right"`
	SplitFeature int     `json:"feature"`
	Threshold    float64 `json:"threshold"`
	Gain         float64 `json:"gain"`
	Value        float64 `json:"value"`
	Count        int     `json:"count"`
}

// IsLeaf reports whether the node is terminal.
func (n *Node) IsLeaf() bool { return n.LeftChild == -1 && n.RightChild == -1 }

// Tree is one member of the ensemble. Node 0 is the root.
type Tree struct {
	Nodes []Node `json:"nodes"`
}

// Predict returns the raw leaf value for a feature vector, without
// shrinkage.
func (t *Tree) Predict(features []float64) float64 {
	idx := 0
	for idx >= 0 && idx < len(t.Nodes) {
		node := &t.Nodes[idx]
		if node.IsLeaf() {
			return node.Value
		}
		if features[node.SplitFeature] <= node.Threshold {
			idx = node.LeftChild
		} else {
			idx = node.RightChild
		}
	}
	return 0
}

// Model is the trained ensemble.
type Model struct {
	Trees        []Tree  `json:"trees"`
	NumFeatures  int     `json:"num_features"`
	LearningRate float64 `json:"learning_rate"`
	InitScore    float64 `json:"init_score"`
	Seed         int64   `json:"seed"`
}

// PredictMargin returns the raw additive score (log-odds) for one sample.
func (m *Model) PredictMargin(features []float64) float64 {
	margin := m.InitScore
	for i := range m.Trees {
		margin += m.LearningRate * m.Trees[i].Predict(features)
	}
	return margin
}

// PredictProba returns the probability of class 1.
func (m *Model) PredictProba(features []float64) float64 {
	return sigmoid(m.PredictMargin(features))
}

// FeatureImportance returns per-feature gain importance, normalized to sum
// to 1 when any split exists.
func (m *Model) FeatureImportance() []float64 {
	importance := make([]float64, m.NumFeatures)
	for _, tree := range m.Trees {
		for i := range tree.Nodes {
			node := &tree.Nodes[i]
			if !node.IsLeaf() {
				importance[node.SplitFeature] += node.Gain
			}
		}
	}
	total := 0.0
	for _, v := range importance {
		total += v
	}
	if total > 0 {
		for i := range importance {
			importance[i] /= total
		}
	}
	return importance
}

// Contributions decomposes one prediction into per-feature signed
// contributions plus a bias term: bias + sum(contribs) equals
// PredictMargin exactly. Each split's contribution is the change in node
// value along the decision path, credited to the split feature.
func (m *Model) Contributions(features []float64) (contribs []float64, bias float64) {
	contribs = make([]float64, m.NumFeatures)
	bias = m.InitScore
	for ti := range m.Trees {
		tree := &m.Trees[ti]
		if len(tree.Nodes) == 0 {
			continue
		}
		bias += m.LearningRate * tree.Nodes[0].Value
		idx := 0
		for {
			node := &tree.Nodes[idx]
			if node.IsLeaf() {
				break
			}
			next := node.LeftChild
			if features[node.SplitFeature] > node.Threshold {
				next = node.RightChild
			}
			child := &tree.Nodes[next]
			contribs[node.SplitFeature] += m.LearningRate * (child.Value - node.Value)
			idx = next
		}
	}
	return contribs, bias
}

func sigmoid(x float64) float64 {
	return 1.0 / (1.0 + math.Exp(-x))
}
