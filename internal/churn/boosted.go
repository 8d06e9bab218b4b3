package churn

import (
	"fmt"
)

// stump is one depth-1 regression tree of the boosted ensemble.
type stump struct {
	Feature   int     `json:"feature"`
	Threshold float64 `json:"threshold"`
	Left      float64 `json:"left"`
	Right     float64 `json:"right"`
}

// boostedModel is a gradient-boosted ensemble of decision stumps over
// standardized features, with importances fitted at training time.
type boostedModel struct {
	BaseScore   float64   `json:"base_score"`
	Stumps      []stump   `json:"stumps"`
	Importances []float64 `json:"importances"`
}

func (m *boostedModel) PredictProba(x []float64) float64 {
	score := m.BaseScore
	for i := range m.Stumps {
		s := &m.Stumps[i]
		if s.Feature >= len(x) {
			continue
		}
		if x[s.Feature] < s.Threshold {
			score += s.Left
		} else {
			score += s.Right
		}
	}
	return clamp01(sigmoid(score))
}

func (m *boostedModel) FeatureImportances() []float64 {
	return m.Importances
}

func (m *boostedModel) Type() string { return ModelTypeGradientBoosting }

func (m *boostedModel) init(featureCount int) error {
	if len(m.Importances) != featureCount {
		return fmt.Errorf("%w: %d importances for %d features",
			ErrArtifactCorrupt, len(m.Importances), featureCount)
	}
	for i := range m.Stumps {
		if m.Stumps[i].Feature < 0 || m.Stumps[i].Feature >= featureCount {
			return fmt.Errorf("%w: stump %d splits on feature %d of %d",
				ErrArtifactCorrupt, i, m.Stumps[i].Feature, featureCount)
		}
	}
	return nil
}
