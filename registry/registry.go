// Package registry durably stores model artifacts and their metadata keyed
// by an opaque model id. Metadata is the single source of truth for feature
// order, target column, schema and metrics; inference never recomputes
// these from the artifact, which prevents drift between what was trained
// and what is served.
package registry

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/YuminosukeSato/churnkit/pipeline"
	apperr "github.com/YuminosukeSato/churnkit/pkg/errors"
	"github.com/YuminosukeSato/churnkit/train"
)

// Metadata is the immutable record of one successful training run.
// Retraining produces a new model id, never an in-place mutation.
type Metadata struct {
	ModelID        string                    `json:"model_id"`
	ModelName      string                    `json:"model_name"`
	TargetColumn   string                    `json:"target_column"`
	FeatureColumns []string                  `json:"feature_columns"`
	ArtifactPath   string                    `json:"artifact_path"`
	Schema         pipeline.Schema           `json:"schema"`
	Metrics        train.Metrics             `json:"metrics"`
	Confusion      [2][2]int                 `json:"confusion_matrix"`
	Importance     []train.FeatureImportance `json:"feature_importance"`
	Training       TrainingInfo              `json:"training"`
}

// TrainingInfo records the run parameters for reproducibility.
type TrainingInfo struct {
	Seed         int64   `json:"random_seed"`
	TestFraction float64 `json:"test_fraction"`
	Rows         int     `json:"rows"`
	TestRows     int     `json:"test_rows"`
}

// Registry persists artifacts and metadata under two directories. All
// writes are atomic (write-to-temp-then-rename in the destination
// directory) so a crash mid-write never leaves a partial record visible.
type Registry struct {
	modelsDir   string
	metadataDir string
}

// New creates a registry over the given directories.
func New(modelsDir, metadataDir string) *Registry {
	return &Registry{modelsDir: modelsDir, metadataDir: metadataDir}
}

// SaveArtifact persists a fitted pipeline and returns its storage path.
func (r *Registry) SaveArtifact(modelID string, artifact *pipeline.Artifact) (string, error) {
	path, err := r.artifactPath(modelID)
	if err != nil {
		return "", err
	}
	raw, err := json.Marshal(artifact)
	if err != nil {
		return "", apperr.Internal(apperr.CodeModelSaveFailed, "Failed to persist model artifact", err)
	}
	if err := atomicWrite(path, raw); err != nil {
		return "", apperr.Internal(apperr.CodeModelSaveFailed, "Failed to persist model artifact", err)
	}
	return path, nil
}

// LoadArtifact reads a fitted pipeline back. A missing file is the
// distinct model_artifact_missing error so callers can prompt a retrain
// rather than an input fix.
func (r *Registry) LoadArtifact(modelID string) (*pipeline.Artifact, error) {
	path, err := r.artifactPath(modelID)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, apperr.NotFound(
				apperr.CodeModelArtifactMissing,
				"Model artifact not found on server. Please retrain the model.",
				map[string]any{"model_id": modelID},
			)
		}
		return nil, apperr.Internal(apperr.CodeModelLoadFailed, "Failed to load model artifact", err)
	}
	defer f.Close()
	artifact, err := pipeline.DecodeArtifact(f)
	if err != nil {
		return nil, apperr.Internal(apperr.CodeModelLoadFailed, "Failed to load model artifact", err)
	}
	return artifact, nil
}

// SaveMetadata atomically writes the metadata record for a model id.
func (r *Registry) SaveMetadata(meta Metadata) error {
	path, err := r.metadataPath(meta.ModelID)
	if err != nil {
		return err
	}
	raw, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return apperr.Internal(apperr.CodeModelSaveFailed, "Failed to persist model metadata", err)
	}
	if err := atomicWrite(path, raw); err != nil {
		return apperr.Internal(apperr.CodeModelSaveFailed, "Failed to persist model metadata", err)
	}
	return nil
}

// LoadMetadata reads the metadata record for a model id, failing with
// model_not_found when absent.
func (r *Registry) LoadMetadata(modelID string) (Metadata, error) {
	var meta Metadata
	path, err := r.metadataPath(modelID)
	if err != nil {
		return meta, err
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return meta, apperr.NotFound(
				apperr.CodeModelNotFound,
				"Unknown model_id. Please train the model again.",
				map[string]any{"model_id": modelID},
			)
		}
		return meta, apperr.Internal(apperr.CodeModelLoadFailed, "Failed to load model metadata", err)
	}
	if err := json.Unmarshal(raw, &meta); err != nil {
		return meta, apperr.Internal(apperr.CodeModelLoadFailed, "Failed to load model metadata", err)
	}
	return meta, nil
}

func (r *Registry) artifactPath(modelID string) (string, error) {
	if err := checkID(modelID); err != nil {
		return "", err
	}
	return filepath.Join(r.modelsDir, modelID+".json"), nil
}

func (r *Registry) metadataPath(modelID string) (string, error) {
	if err := checkID(modelID); err != nil {
		return "", err
	}
	return filepath.Join(r.metadataDir, "models", modelID+".json"), nil
}

// checkID rejects ids that could escape the storage directories.
func checkID(modelID string) error {
	if modelID == "" || strings.ContainsAny(modelID, "/\\") || strings.Contains(modelID, "..") {
		return apperr.BadRequest("invalid_model_id", "Invalid model id.", map[string]any{"model_id": modelID})
	}
	return nil
}

// atomicWrite writes data to a temp file in the destination directory,
// fsyncs and renames it over the target.
func atomicWrite(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() {
		// best effort cleanup when the rename never happened
		_ = os.Remove(tmpName)
	}()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
