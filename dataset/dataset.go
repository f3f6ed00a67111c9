// Package dataset loads processed CSV datasets into feature tables. Column
// types are inferred per column: boolean when every present cell is
// true/false, numeric when every present cell parses as a float, string
// otherwise. Empty cells are missing; a fully empty column is string.
package dataset

import (
	"encoding/csv"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/YuminosukeSato/churnkit/frame"
	apperr "github.com/YuminosukeSato/churnkit/pkg/errors"
)

// Store resolves dataset ids to processed CSV files under one directory.
type Store struct {
	processedDir string
	log          zerolog.Logger
}

// NewStore creates a store over the processed-datasets directory.
func NewStore(processedDir string, logger zerolog.Logger) *Store {
	return &Store{processedDir: processedDir, log: logger}
}

// Load reads the processed dataset for the given id.
func (s *Store) Load(datasetID string) (*frame.Table, error) {
	if datasetID == "" || strings.ContainsAny(datasetID, "/\\") || strings.Contains(datasetID, "..") {
		return nil, apperr.BadRequest("invalid_dataset_id", "Invalid dataset id.", map[string]any{"dataset_id": datasetID})
	}
	path := filepath.Join(s.processedDir, datasetID+".csv")
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, apperr.NotFound(
				apperr.CodeProcessedFileMissing,
				"Processed dataset not found. Please upload the dataset again.",
				map[string]any{"dataset_id": datasetID},
			)
		}
		return nil, apperr.Wrap(err, "open processed dataset")
	}
	defer f.Close()

	t, err := ReadCSV(f)
	if err != nil {
		return nil, err
	}
	s.log.Debug().Str("dataset_id", datasetID).Int("rows", t.NumRows()).Int("cols", t.NumCols()).Msg("dataset loaded")
	return t, nil
}

// ReadCSV parses a header-first CSV stream into a typed feature table.
func ReadCSV(r io.Reader) (*frame.Table, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, apperr.BadRequest("invalid_csv", "Dataset CSV is empty or has no header row.", nil)
	}
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}

	cells := make([][]string, len(header))
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, apperr.BadRequest("invalid_csv", "Dataset CSV is malformed.", map[string]any{"reason": err.Error()})
		}
		for i := range header {
			cells[i] = append(cells[i], strings.TrimSpace(record[i]))
		}
	}

	cols := make([]frame.Column, len(header))
	for i, name := range header {
		cols[i] = inferColumn(name, cells[i])
	}
	return frame.New(cols...)
}

// SplitTarget separates the target column from the features, dropping rows
// whose target cell is missing.
func SplitTarget(t *frame.Table, target string) (*frame.Table, frame.Column, error) {
	y, ok := t.Column(target)
	if !ok {
		return nil, frame.Column{}, apperr.BadRequest(
			"target_column_missing",
			"Target column not found in the dataset.",
			map[string]any{"target_column": target, "columns": t.Names()},
		)
	}

	keep := make([]int, 0, t.NumRows())
	for i := 0; i < t.NumRows(); i++ {
		if !y.IsMissing(i) {
			keep = append(keep, i)
		}
	}

	featureNames := make([]string, 0, t.NumCols()-1)
	for _, name := range t.Names() {
		if name != target {
			featureNames = append(featureNames, name)
		}
	}
	X, err := t.Select(featureNames)
	if err != nil {
		return nil, frame.Column{}, err
	}
	return X.TakeRows(keep), y.TakeRows(keep), nil
}

func inferColumn(name string, raw []string) frame.Column {
	missing := make([]bool, len(raw))
	present := 0
	allBool := true
	allFloat := true
	for i, cell := range raw {
		if cell == "" {
			missing[i] = true
			continue
		}
		present++
		switch strings.ToLower(cell) {
		case "true", "false":
		default:
			allBool = false
		}
		if _, err := strconv.ParseFloat(cell, 64); err != nil {
			allFloat = false
		}
	}
	if present == len(raw) {
		missing = nil
	}
	// a column with no present cells carries no type evidence; keep it string
	if present == 0 {
		allBool, allFloat = false, false
	}

	switch {
	case allBool:
		values := make([]bool, len(raw))
		for i, cell := range raw {
			values[i] = strings.EqualFold(cell, "true")
		}
		return frame.NewBool(name, values, missing)
	case allFloat:
		values := make([]float64, len(raw))
		for i, cell := range raw {
			if cell == "" {
				continue
			}
			values[i], _ = strconv.ParseFloat(cell, 64)
		}
		return frame.NewNumeric(name, values, missing)
	default:
		return frame.NewString(name, raw, missing)
	}
}
