// Package pipeline builds the preprocessing+model pipeline used identically
// at training and inference time. The preprocessing half is a two-branch
// column transform (numeric and categorical) whose fitted state, together
// with the trained classifier, forms the persisted pipeline artifact.
package pipeline

import (
	"sort"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/churnkit/frame"
	"github.com/YuminosukeSato/churnkit/gbt"
	apperr "github.com/YuminosukeSato/churnkit/pkg/errors"
)

// Branch names used in expanded feature names ("num__age",
// "cat__plan_premium") and in the layout descriptor.
const (
	BranchNumeric     = "num"
	BranchCategorical = "cat"
	branchSeparator   = "__"
)

// LayoutVersion identifies the transform-layout descriptor format.
const LayoutVersion = 1

// Definition is an unfit pipeline: the column partition plus classifier
// hyperparameters. Building one has no side effects.
type Definition struct {
	NumericColumns     []string
	CategoricalColumns []string
	Params             gbt.Params
}

// Build partitions the table's columns into the numeric and categorical
// branches and fixes the classifier configuration. Booleans go to the
// categorical branch for encoding stability. Conservative capacity tuned
// for small-to-medium tabular datasets.
func Build(X *frame.Table, seed int64) Definition {
	def := Definition{
		Params: gbt.Params{
			NumRounds:       300,
			MaxDepth:        4,
			LearningRate:    0.05,
			Lambda:          1.0,
			Subsample:       0.9,
			ColsampleByTree: 0.9,
			MinSamplesLeaf:  5,
			Seed:            seed,
		},
	}
	for _, col := range X.Columns() {
		if col.Kind == frame.Numeric {
			def.NumericColumns = append(def.NumericColumns, col.Name)
		} else {
			def.CategoricalColumns = append(def.CategoricalColumns, col.Name)
		}
	}
	return def
}

// Transform is the fitted preprocessing state: per-column imputation
// statistics and the fitted one-hot categories. Imputation statistics come
// from training data only.
type Transform struct {
	NumericColumns     []string            `json:"numeric_columns"`
	CategoricalColumns []string            `json:"categorical_columns"`
	Medians            map[string]float64  `json:"medians"`
	Modes              map[string]string   `json:"modes"`
	Categories         map[string][]string `json:"categories"`
}

// Fit computes imputation statistics and one-hot categories from the
// training table.
func (d Definition) Fit(X *frame.Table) (*Transform, error) {
	tr := &Transform{
		NumericColumns:     d.NumericColumns,
		CategoricalColumns: d.CategoricalColumns,
		Medians:            make(map[string]float64, len(d.NumericColumns)),
		Modes:              make(map[string]string, len(d.CategoricalColumns)),
		Categories:         make(map[string][]string, len(d.CategoricalColumns)),
	}

	for _, name := range d.NumericColumns {
		col, ok := X.Column(name)
		if !ok {
			return nil, apperr.Newf("pipeline: numeric column %q not in table", name)
		}
		tr.Medians[name] = median(col)
	}

	for _, name := range d.CategoricalColumns {
		col, ok := X.Column(name)
		if !ok {
			return nil, apperr.Newf("pipeline: categorical column %q not in table", name)
		}
		mode, cats := fitCategories(col)
		tr.Modes[name] = mode
		tr.Categories[name] = cats
	}
	return tr, nil
}

// Width returns the number of expanded output features.
func (t *Transform) Width() int {
	w := len(t.NumericColumns)
	for _, name := range t.CategoricalColumns {
		w += len(t.Categories[name])
	}
	return w
}

// FeatureNames returns the expanded feature names in output order:
// numeric branch first, then one category slot per fitted category.
func (t *Transform) FeatureNames() []string {
	names := make([]string, 0, t.Width())
	for _, name := range t.NumericColumns {
		names = append(names, BranchNumeric+branchSeparator+name)
	}
	for _, name := range t.CategoricalColumns {
		for _, cat := range t.Categories[name] {
			names = append(names, BranchCategorical+branchSeparator+name+"_"+cat)
		}
	}
	return names
}

// Layout returns the explicit transform-layout descriptor: branch by
// branch, each source column with the number of expanded slots it owns, in
// exactly the order Transform concatenates them. Consumers aggregate
// expanded feature signal back to source columns with this instead of
// inspecting transform internals.
func (t *Transform) Layout() Layout {
	layout := Layout{Version: LayoutVersion}

	num := LayoutBranch{Name: BranchNumeric}
	for _, name := range t.NumericColumns {
		num.Columns = append(num.Columns, LayoutColumn{Source: name, Width: 1})
	}
	cat := LayoutBranch{Name: BranchCategorical}
	for _, name := range t.CategoricalColumns {
		cat.Columns = append(cat.Columns, LayoutColumn{Source: name, Width: len(t.Categories[name])})
	}
	layout.Branches = []LayoutBranch{num, cat}
	return layout
}

// Apply encodes a table into the expanded design matrix. Missing numeric
// cells impute to the fitted median, missing categorical cells to the
// fitted mode, and unseen categories encode to all-zero rather than
// erroring.
func (t *Transform) Apply(X *frame.Table) (*mat.Dense, error) {
	rows := X.NumRows()
	width := t.Width()
	if width == 0 {
		return nil, apperr.Newf("pipeline: transform has no output features")
	}
	out := mat.NewDense(rows, width, nil)

	j := 0
	for _, name := range t.NumericColumns {
		col, ok := X.Column(name)
		if !ok {
			return nil, apperr.Newf("pipeline: numeric column %q not in table", name)
		}
		if col.Kind != frame.Numeric {
			return nil, apperr.Newf("pipeline: column %q is %s, want number", name, col.Kind)
		}
		med := t.Medians[name]
		for i := 0; i < rows; i++ {
			v := med
			if !col.IsMissing(i) && !isNaN(col.Float(i)) {
				v = col.Float(i)
			}
			out.Set(i, j, v)
		}
		j++
	}

	for _, name := range t.CategoricalColumns {
		col, ok := X.Column(name)
		if !ok {
			return nil, apperr.Newf("pipeline: categorical column %q not in table", name)
		}
		cats := t.Categories[name]
		index := make(map[string]int, len(cats))
		for k, c := range cats {
			index[c] = k
		}
		mode := t.Modes[name]
		for i := 0; i < rows; i++ {
			token := mode
			if !col.IsMissing(i) {
				token = col.Categorical(i)
			}
			if k, seen := index[token]; seen {
				out.Set(i, j+k, 1)
			}
			// unseen category: row stays all-zero across this column's slots
		}
		j += len(cats)
	}
	return out, nil
}

func median(col frame.Column) float64 {
	vals := make([]float64, 0, col.Len())
	for i := 0; i < col.Len(); i++ {
		if col.IsMissing(i) {
			continue
		}
		v := col.Float(i)
		if isNaN(v) {
			continue
		}
		vals = append(vals, v)
	}
	if len(vals) == 0 {
		return 0
	}
	sort.Float64s(vals)
	mid := len(vals) / 2
	if len(vals)%2 == 1 {
		return vals[mid]
	}
	return (vals[mid-1] + vals[mid]) / 2
}

// fitCategories returns the most frequent token (ties broken by lexical
// order, matching deterministic refits) and the sorted unique categories.
func fitCategories(col frame.Column) (mode string, cats []string) {
	counts := make(map[string]int)
	for i := 0; i < col.Len(); i++ {
		if col.IsMissing(i) {
			continue
		}
		counts[col.Categorical(i)]++
	}
	cats = make([]string, 0, len(counts))
	for c := range counts {
		cats = append(cats, c)
	}
	sort.Strings(cats)

	best := -1
	for _, c := range cats {
		if counts[c] > best {
			best = counts[c]
			mode = c
		}
	}
	return mode, cats
}

func isNaN(f float64) bool { return f != f }
