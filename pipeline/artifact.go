package pipeline

import (
	"encoding/json"
	"io"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/churnkit/frame"
	"github.com/YuminosukeSato/churnkit/gbt"
	apperr "github.com/YuminosukeSato/churnkit/pkg/errors"
)

// ArtifactVersion identifies the serialized artifact format.
const ArtifactVersion = 1

// Artifact is the immutable fitted pipeline: preprocessing transform plus
// trained classifier. Persisting and reloading the whole object graph is
// what guarantees train/serve consistency; inference never re-derives
// encodings from parameters.
type Artifact struct {
	Version   int        `json:"version"`
	Transform *Transform `json:"transform"`
	Model     *gbt.Model `json:"model"`
}

// Score encodes one input table row and returns the encoded feature vector
// alongside the hard label and the probability of class 1. The feature
// vector is returned so callers can attribute the score without re-applying
// the transform.
func (a *Artifact) Score(X *frame.Table) (features []float64, label int, prob float64, err error) {
	design, err := a.Transform.Apply(X)
	if err != nil {
		return nil, 0, 0, err
	}
	features = mat.Row(nil, 0, design)
	prob = a.Model.PredictProba(features)
	if prob >= 0.5 {
		label = 1
	}
	return features, label, prob, nil
}

// Encode writes the artifact as JSON.
func (a *Artifact) Encode(w io.Writer) error {
	enc := json.NewEncoder(w)
	if err := enc.Encode(a); err != nil {
		return apperr.Wrap(err, "encode pipeline artifact")
	}
	return nil
}

// DecodeArtifact reads a JSON artifact.
func DecodeArtifact(r io.Reader) (*Artifact, error) {
	var a Artifact
	if err := json.NewDecoder(r).Decode(&a); err != nil {
		return nil, apperr.Wrap(err, "decode pipeline artifact")
	}
	if a.Transform == nil || a.Model == nil {
		return nil, apperr.Newf("pipeline: artifact missing transform or model")
	}
	return &a, nil
}
