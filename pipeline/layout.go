package pipeline

// Layout is the versioned transform-layout descriptor. It records, in
// output order, which source column owns each run of expanded feature
// slots, so importance aggregation never has to introspect the transform.
type Layout struct {
	Version  int            `json:"version"`
	Branches []LayoutBranch `json:"branches"`
}

// LayoutBranch is one branch of the column transform in concatenation
// order.
type LayoutBranch struct {
	Name    string         `json:"name"`
	Columns []LayoutColumn `json:"columns"`
}

// LayoutColumn maps one source column to a contiguous run of expanded
// slots.
type LayoutColumn struct {
	Source string `json:"source"`
	Width  int    `json:"width"`
}

// TotalWidth returns the number of expanded slots the layout describes.
func (l Layout) TotalWidth() int {
	w := 0
	for _, b := range l.Branches {
		for _, c := range b.Columns {
			w += c.Width
		}
	}
	return w
}

// AggregateToSource sums a per-expanded-slot vector back to source columns
// by walking the branches in concatenation order. sources fixes the output
// ordering; columns absent from the layout keep 0. A layout that does not
// match the vector width (an uninspectable or foreign transform) yields the
// all-zero fallback and ok=false rather than an error.
func (l Layout) AggregateToSource(expanded []float64, sources []string) (map[string]float64, bool) {
	totals := make(map[string]float64, len(sources))
	for _, s := range sources {
		totals[s] = 0
	}
	if l.TotalWidth() != len(expanded) || len(expanded) == 0 {
		return totals, false
	}
	idx := 0
	for _, b := range l.Branches {
		for _, c := range b.Columns {
			sum := 0.0
			for k := 0; k < c.Width; k++ {
				sum += expanded[idx]
				idx++
			}
			totals[c.Source] += sum
		}
	}
	return totals, true
}
