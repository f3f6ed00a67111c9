package pipeline

import (
	"github.com/YuminosukeSato/churnkit/frame"
)

// maxAllowedValues is the cardinality cutoff for exposing a dropdown-style
// allowed-value list for string columns.
const maxAllowedValues = 25

// Field describes one input column for prediction-time form generation.
type Field struct {
	Name          string   `json:"name"`
	DType         string   `json:"dtype"`
	Required      bool     `json:"required"`
	AllowedValues []string `json:"allowed_values,omitempty"`
	Example       any      `json:"example,omitempty"`
	Description   string   `json:"description,omitempty"`
}

// Schema is the UI-facing field schema derived from a feature table.
type Schema struct {
	Fields []Field `json:"fields"`
}

// BuildSchema derives the field schema: per source column the semantic
// dtype, the first non-missing value as an example, and for low-cardinality
// string columns the sorted allowed values.
func BuildSchema(X *frame.Table) Schema {
	fields := make([]Field, 0, X.NumCols())
	for _, col := range X.Columns() {
		f := Field{
			Name:     col.Name,
			DType:    col.Kind.String(),
			Required: true,
		}
		for i := 0; i < col.Len(); i++ {
			if !col.IsMissing(i) {
				f.Example = col.Value(i)
				break
			}
		}
		if col.Kind == frame.String {
			_, cats := fitCategories(col)
			if n := len(cats); n > 0 && n <= maxAllowedValues {
				f.AllowedValues = cats
			}
		}
		fields = append(fields, f)
	}
	return Schema{Fields: fields}
}
