package model

import (
	"encoding/json"
	"time"
)

// Risk tiers and confidence labels.
const (
	RiskLow    = "low"
	RiskMedium = "medium"
	RiskHigh   = "high"
)

// RiskFactor is one (feature, contribution weight) explanation pair, ordered
// by absolute weight descending in Prediction.RiskFactors.
type RiskFactor struct {
	Feature string  `json:"feature"`
	Weight  float64 `json:"weight"`
}

// Prediction stores one churn scoring result for a (tenant, customer) pair.
// New runs insert new rows; older rows are kept for trend queries and the
// latest row per customer is what dashboards resolve to.
type Prediction struct {
	ID       uint `json:"id" gorm:"primaryKey"`
	TenantID uint `json:"tenant_id" gorm:"not null;index:idx_prediction_latest,priority:1"`

	// External CRM customer identifier
	CustomerID string `json:"customer_id" gorm:"type:varchar(100);not null;index:idx_prediction_latest,priority:2"`

	ChurnProbability float64 `json:"churn_probability" gorm:"not null"`
	ChurnRisk        string  `json:"churn_risk" gorm:"type:varchar(20);not null"`
	Confidence       string  `json:"confidence" gorm:"type:varchar(20)"`

	ModelVersion string `json:"model_version" gorm:"type:varchar(50)"`
	ModelType    string `json:"model_type" gorm:"type:varchar(100)"`

	// Serialized []RiskFactor and feature name -> value map
	RiskFactors   string `json:"-" gorm:"type:jsonb"`
	FeatureValues string `json:"-" gorm:"type:jsonb"`

	CreatedAt time.Time `json:"created_at" gorm:"not null;index:idx_prediction_latest,priority:3"`
	UpdatedAt time.Time `json:"updated_at" gorm:"not null"`
}

// SetRiskFactors serializes the explanation pairs into the JSON column.
func (p *Prediction) SetRiskFactors(factors []RiskFactor) error {
	raw, err := json.Marshal(factors)
	if err != nil {
		return err
	}
	p.RiskFactors = string(raw)
	return nil
}

// GetRiskFactors deserializes the explanation pairs from the JSON column.
func (p *Prediction) GetRiskFactors() ([]RiskFactor, error) {
	if p.RiskFactors == "" {
		return nil, nil
	}
	var factors []RiskFactor
	if err := json.Unmarshal([]byte(p.RiskFactors), &factors); err != nil {
		return nil, err
	}
	return factors, nil
}

// SetFeatureValues serializes the feature vector used for this prediction.
func (p *Prediction) SetFeatureValues(values map[string]float64) error {
	raw, err := json.Marshal(values)
	if err != nil {
		return err
	}
	p.FeatureValues = string(raw)
	return nil
}

// GetFeatureValues deserializes the feature vector used for this prediction.
func (p *Prediction) GetFeatureValues() (map[string]float64, error) {
	if p.FeatureValues == "" {
		return nil, nil
	}
	var values map[string]float64
	if err := json.Unmarshal([]byte(p.FeatureValues), &values); err != nil {
		return nil, err
	}
	return values, nil
}
