// Package churn loads versioned model artifacts and applies them to feature
// vectors, producing risk classifications with explainability metadata.
package churn

import (
	"fmt"
	"math"
	"time"
)

// Model family labels stored in artifact metadata.
const (
	ModelTypeLogistic         = "logistic_regression"
	ModelTypeGradientBoosting = "gradient_boosting"
)

// Model is the capability contract every model family implements. Instances
// are immutable after load and safe for concurrent scoring.
type Model interface {
	// PredictProba scores one standardized feature vector, returning a churn
	// probability in [0, 1].
	PredictProba(x []float64) float64

	// FeatureImportances returns one non-negative importance per feature, in
	// schema order.
	FeatureImportances() []float64

	// Type names the model family.
	Type() string
}

// Metadata describes a model artifact: its version, family, and the feature
// schema it was trained against.
type Metadata struct {
	Version       string    `json:"version"`
	ModelType     string    `json:"model_type"`
	FeatureSchema string    `json:"feature_schema"`
	FeatureNames  []string  `json:"feature_names"`
	CreatedAt     time.Time `json:"created_at"`
}

// Preprocessor is the fitted standard scaler shipped alongside the model.
// Means double as the population baseline for explanation weights.
type Preprocessor struct {
	Means  []float64 `json:"means"`
	Scales []float64 `json:"scales"`
}

// Transform standardizes a raw feature vector.
func (p *Preprocessor) Transform(x []float64) []float64 {
	out := make([]float64, len(x))
	for i, v := range x {
		scale := 1.0
		if i < len(p.Scales) && p.Scales[i] != 0 {
			scale = p.Scales[i]
		}
		mean := 0.0
		if i < len(p.Means) {
			mean = p.Means[i]
		}
		out[i] = (v - mean) / scale
	}
	return out
}

func (p *Preprocessor) validate(featureCount int) error {
	if len(p.Means) != featureCount || len(p.Scales) != featureCount {
		return fmt.Errorf("%w: preprocessor covers %d/%d features, schema has %d",
			ErrArtifactCorrupt, len(p.Means), len(p.Scales), featureCount)
	}
	return nil
}

func sigmoid(z float64) float64 {
	return 1 / (1 + math.Exp(-z))
}

func clamp01(p float64) float64 {
	return math.Max(0, math.Min(1, p))
}
