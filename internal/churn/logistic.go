package churn

import (
	"fmt"
	"math"
)

// logisticModel is a fitted logistic regression over standardized features.
type logisticModel struct {
	Intercept    float64   `json:"intercept"`
	Coefficients []float64 `json:"coefficients"`

	importances []float64
}

func (m *logisticModel) PredictProba(x []float64) float64 {
	z := m.Intercept
	for i, c := range m.Coefficients {
		if i < len(x) {
			z += c * x[i]
		}
	}
	return clamp01(sigmoid(z))
}

// FeatureImportances derives importances from the absolute coefficient
// magnitudes, normalized to sum to one.
func (m *logisticModel) FeatureImportances() []float64 {
	return m.importances
}

func (m *logisticModel) Type() string { return ModelTypeLogistic }

func (m *logisticModel) init(featureCount int) error {
	if len(m.Coefficients) != featureCount {
		return fmt.Errorf("%w: %d coefficients for %d features",
			ErrArtifactCorrupt, len(m.Coefficients), featureCount)
	}

	total := 0.0
	for _, c := range m.Coefficients {
		total += math.Abs(c)
	}
	m.importances = make([]float64, len(m.Coefficients))
	if total == 0 {
		return nil
	}
	for i, c := range m.Coefficients {
		m.importances[i] = math.Abs(c) / total
	}
	return nil
}
