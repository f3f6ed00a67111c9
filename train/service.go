package train

import (
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/YuminosukeSato/churnkit/config"
	"github.com/YuminosukeSato/churnkit/dataset"
	apperr "github.com/YuminosukeSato/churnkit/pkg/errors"
	"github.com/YuminosukeSato/churnkit/registry"
)

// Fit progress occupies this sub-range of the overall training progress
// scale; the phases around it (load, split, evaluate, save) use the rest.
const (
	fitProgressLo = 30
	fitProgressHi = 90
)

// Request identifies the dataset and target for one training run.
type Request struct {
	DatasetID    string `json:"dataset_id"`
	TargetColumn string `json:"target_column"`
	ModelName    string `json:"model_name,omitempty"`
}

// ConfusionMatrix pairs the fixed label order with the 2x2 count matrix,
// rows actual and columns predicted.
type ConfusionMatrix struct {
	Labels []string  `json:"labels"`
	Matrix [2][2]int `json:"matrix"`
}

// Response summarizes one completed training run.
type Response struct {
	ModelID           string              `json:"model_id"`
	ModelName         string              `json:"model_name"`
	TargetColumn      string              `json:"target_column"`
	FeatureColumns    []string            `json:"feature_columns"`
	Metrics           Metrics             `json:"metrics"`
	ConfusionMatrix   ConfusionMatrix     `json:"confusion_matrix"`
	FeatureImportance []FeatureImportance `json:"feature_importance"`
	TestRows          int                 `json:"test_rows"`
}

// Service orchestrates a full training run: dataset load, fit, evaluation
// and durable persistence of the artifact and metadata.
type Service struct {
	cfg   config.Config
	store *dataset.Store
	reg   *registry.Registry
	log   zerolog.Logger
}

// NewService wires the training service.
func NewService(cfg config.Config, store *dataset.Store, reg *registry.Registry, logger zerolog.Logger) *Service {
	return &Service{cfg: cfg, store: store, reg: reg, log: logger}
}

// Train runs one training job end to end. Every run that persists produces
// a fresh model id; existing models are never mutated.
func (s *Service) Train(req Request, sink Sink) (*Response, error) {
	emit := func(pct int, msg string) {
		if sink != nil {
			sink(pct, msg)
		}
	}

	if req.TargetColumn == "" {
		return nil, apperr.BadRequest("target_column_required", "target_column is required.", nil)
	}

	emit(5, "Loading dataset")
	table, err := s.store.Load(req.DatasetID)
	if err != nil {
		return nil, err
	}

	emit(15, "Preparing target")
	X, y, err := dataset.SplitTarget(table, req.TargetColumn)
	if err != nil {
		return nil, err
	}

	artifacts, err := Run(X, y, Options{
		Seed:         s.cfg.RandomSeed,
		TestFraction: s.cfg.TestFraction,
		Progress:     sink,
		ProgressLo:   fitProgressLo,
		ProgressHi:   fitProgressHi,
	})
	if err != nil {
		return nil, err
	}

	emit(92, "Evaluating model")
	modelID := NewModelID()
	modelName := req.ModelName
	if modelName == "" {
		modelName = "churn_" + req.TargetColumn
	}

	emit(95, "Saving model")
	artifactPath, err := s.reg.SaveArtifact(modelID, artifacts.Pipeline)
	if err != nil {
		return nil, err
	}
	meta := registry.Metadata{
		ModelID:        modelID,
		ModelName:      modelName,
		TargetColumn:   req.TargetColumn,
		FeatureColumns: X.Names(),
		ArtifactPath:   artifactPath,
		Schema:         artifacts.Schema,
		Metrics:        artifacts.Metrics,
		Confusion:      artifacts.Confusion,
		Importance:     artifacts.Importance,
		Training: registry.TrainingInfo{
			Seed:         s.cfg.RandomSeed,
			TestFraction: s.cfg.TestFraction,
			Rows:         X.NumRows(),
			TestRows:     artifacts.TestRows,
		},
	}
	if err := s.reg.SaveMetadata(meta); err != nil {
		return nil, err
	}

	s.log.Info().
		Str("model_id", modelID).
		Str("target_column", req.TargetColumn).
		Int("rows", X.NumRows()).
		Float64("accuracy", artifacts.Metrics.Accuracy).
		Msg("model trained")

	return &Response{
		ModelID:        modelID,
		ModelName:      modelName,
		TargetColumn:   req.TargetColumn,
		FeatureColumns: X.Names(),
		Metrics:        artifacts.Metrics,
		ConfusionMatrix: ConfusionMatrix{
			Labels: []string{"0", "1"},
			Matrix: artifacts.Confusion,
		},
		FeatureImportance: artifacts.Importance,
		TestRows:          artifacts.TestRows,
	}, nil
}

// NewModelID mints an opaque model id.
func NewModelID() string {
	return "mdl_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
}
