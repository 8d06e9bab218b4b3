package churn

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"churn-service/internal/feature"
	"churn-service/internal/model"
	"churn-service/internal/tenant"
	"churn-service/pkg/config"

	. "github.com/smartystreets/goconvey/convey"
)

type fakeReader struct {
	customers map[string]*model.Customer
	tickets   map[string][]model.Ticket
	payments  map[string][]model.Payment
}

func (r *fakeReader) GetCustomer(_ context.Context, _ tenant.Context, customerID string) (*model.Customer, error) {
	c, ok := r.customers[customerID]
	if !ok {
		return nil, fmt.Errorf("customer %s not found", customerID)
	}
	return c, nil
}

func (r *fakeReader) ListTickets(_ context.Context, _ tenant.Context, customerID string) ([]model.Ticket, error) {
	return r.tickets[customerID], nil
}

func (r *fakeReader) ListPayments(_ context.Context, _ tenant.Context, customerID string) ([]model.Payment, error) {
	return r.payments[customerID], nil
}

type fakeWriter struct {
	mu    sync.Mutex
	saved []*model.Prediction
	err   error
}

func (w *fakeWriter) Save(_ context.Context, _ tenant.Context, p *model.Prediction) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.saved = append(w.saved, p)
	return nil
}

func (w *fakeWriter) count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.saved)
}

func testPredictionConfig() *config.PredictionConfig {
	return &config.PredictionConfig{
		HighThreshold:    0.7,
		MediumThreshold:  0.4,
		HighConfidence:   0.15,
		MediumConfidence: 0.05,
		TopRiskFactors:   5,
		BatchWorkers:     4,
	}
}

func featureIndex(t *testing.T, name string) int {
	t.Helper()
	for i, n := range feature.Names {
		if n == name {
			return i
		}
	}
	t.Fatalf("unknown feature %s", name)
	return -1
}

// cvArtifact writes a logistic model whose only signal is the payment
// interval coefficient of variation: erratic payers score high, steady
// payers score low.
func cvArtifact(t *testing.T, dir string) {
	t.Helper()
	cvIdx := featureIndex(t, feature.PaymentIntervalCV)

	coefs := make([]float64, len(feature.Names))
	coefs[cvIdx] = 3.0

	pre := uniformPreprocessor()
	pre.Means[cvIdx] = 0.5
	pre.Scales[cvIdx] = 0.5

	writeArtifact(t, dir, "v1.0.0", testMetadata("v1.0.0", ModelTypeLogistic),
		map[string]any{"intercept": 0.0, "coefficients": coefs},
		pre)
}

func TestRiskTierAndConfidence(t *testing.T) {
	Convey("Given the default tier thresholds", t, func() {
		p := NewPredictor(nil, nil, nil, testPredictionConfig(), "v1.0.0")

		Convey("Boundary values belong to the higher tier", func() {
			So(p.RiskTier(0.7), ShouldEqual, model.RiskHigh)
			So(p.RiskTier(0.4), ShouldEqual, model.RiskMedium)
			So(p.RiskTier(0.39999), ShouldEqual, model.RiskLow)
			So(p.RiskTier(0.95), ShouldEqual, model.RiskHigh)
			So(p.RiskTier(0.0), ShouldEqual, model.RiskLow)
		})

		Convey("Confidence reflects distance to the nearest boundary", func() {
			So(p.Confidence(0.95), ShouldEqual, "high")
			So(p.Confidence(0.05), ShouldEqual, "high")
			So(p.Confidence(0.55), ShouldEqual, "high")
			So(p.Confidence(0.85), ShouldEqual, "high")
			So(p.Confidence(0.47), ShouldEqual, "medium")
			So(p.Confidence(0.45), ShouldEqual, "medium")
			So(p.Confidence(0.41), ShouldEqual, "low")
			So(p.Confidence(0.7), ShouldEqual, "low")
		})
	})
}

func TestPredict(t *testing.T) {
	Convey("Given a loaded artifact keyed on payment regularity", t, func() {
		dir := t.TempDir()
		cvArtifact(t, dir)

		tctx := tenant.Context{ID: 7, Name: "acme"}
		writer := &fakeWriter{}
		predictor := NewPredictor(NewLoader(dir), nil, writer, testPredictionConfig(), "v1.0.0")
		predictor.now = func() time.Time { return time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC) }

		asOf := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
		signup := asOf.AddDate(-2, 0, 0)
		customer := &model.Customer{TenantID: 7, CRMCustomerID: "C42", SignupDate: &signup, MonthlyCharges: 50}

		paymentsAt := func(intervalsDays ...int) []model.Payment {
			var out []model.Payment
			at := asOf.AddDate(0, 0, -300)
			for _, d := range intervalsDays {
				at = at.AddDate(0, 0, d)
				out = append(out, model.Payment{TenantID: 7, CRMCustomerID: "C42", Amount: 50, Status: model.PaymentStatusCompleted, PaidAt: at})
			}
			return out
		}

		Convey("A steady monthly payer scores low risk", func() {
			vec, err := feature.Build(tctx, customer, nil, paymentsAt(30, 30, 30, 30), asOf)
			So(err, ShouldBeNil)

			prediction, err := predictor.Predict(context.Background(), tctx, customer, vec)

			So(err, ShouldBeNil)
			So(prediction.ChurnProbability, ShouldBeLessThan, 0.4)
			So(prediction.ChurnRisk, ShouldEqual, model.RiskLow)
			So(prediction.ModelVersion, ShouldEqual, "v1.0.0")
			So(prediction.ModelType, ShouldEqual, ModelTypeLogistic)
			So(writer.count(), ShouldEqual, 1)

			Convey("And an erratic payer scores strictly higher", func() {
				erraticVec, err := feature.Build(tctx, customer, nil, paymentsAt(3, 90, 7, 120), asOf)
				So(err, ShouldBeNil)

				erratic, err := predictor.Predict(context.Background(), tctx, customer, erraticVec)

				So(err, ShouldBeNil)
				So(erratic.ChurnProbability, ShouldBeGreaterThan, prediction.ChurnProbability)
			})

			Convey("Payment regularity dominates the explanation", func() {
				factors, err := prediction.GetRiskFactors()
				So(err, ShouldBeNil)
				So(len(factors), ShouldBeLessThanOrEqualTo, 5)
				So(factors[0].Feature, ShouldEqual, feature.PaymentIntervalCV)
			})

			Convey("The full feature vector is stored with the result", func() {
				values, err := prediction.GetFeatureValues()
				So(err, ShouldBeNil)
				So(len(values), ShouldEqual, len(feature.Names))
			})
		})

		Convey("A vector from another schema version is rejected", func() {
			vec := feature.Vector{SchemaVersion: "v0", Values: make([]float64, len(feature.Names))}

			_, err := predictor.Predict(context.Background(), tctx, customer, vec)

			So(err, ShouldWrap, ErrSchemaMismatch)
			So(writer.count(), ShouldEqual, 0)
		})

		Convey("A customer from another tenant is rejected before scoring", func() {
			other := &model.Customer{TenantID: 8, CRMCustomerID: "X1"}
			vec := feature.Vector{SchemaVersion: feature.SchemaVersion, Values: make([]float64, len(feature.Names))}

			_, err := predictor.Predict(context.Background(), tctx, other, vec)

			So(err, ShouldWrap, tenant.ErrTenantMismatch)
			So(writer.count(), ShouldEqual, 0)
		})

		Convey("A failing store surfaces the error", func() {
			writer.err = errors.New("disk full")
			vec := feature.Vector{SchemaVersion: feature.SchemaVersion, Values: make([]float64, len(feature.Names))}

			_, err := predictor.Predict(context.Background(), tctx, customer, vec)

			So(err, ShouldNotBeNil)
			So(err.Error(), ShouldContainSubstring, "disk full")
		})
	})
}

func TestPredictBatch(t *testing.T) {
	Convey("Given a batch of customers", t, func() {
		dir := t.TempDir()
		cvArtifact(t, dir)

		tctx := tenant.Context{ID: 7, Name: "acme"}
		asOf := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
		signup := asOf.AddDate(-1, 0, 0)

		reader := &fakeReader{
			customers: map[string]*model.Customer{
				"C1": {TenantID: 7, CRMCustomerID: "C1", SignupDate: &signup},
				"C2": {TenantID: 7, CRMCustomerID: "C2", SignupDate: &signup},
				"C3": {TenantID: 7, CRMCustomerID: "C3", SignupDate: &signup},
			},
			tickets:  map[string][]model.Ticket{},
			payments: map[string][]model.Payment{},
		}
		writer := &fakeWriter{}
		predictor := NewPredictor(NewLoader(dir), reader, writer, testPredictionConfig(), "v1.0.0")
		predictor.now = func() time.Time { return asOf }

		Convey("All customers are scored and the summary is ordered by ID", func() {
			summary, err := predictor.PredictBatch(context.Background(), tctx, []string{"C3", "C1", "C2"})

			So(err, ShouldBeNil)
			So(summary.Total, ShouldEqual, 3)
			So(summary.Succeeded, ShouldEqual, 3)
			So(summary.Failed, ShouldEqual, 0)
			So(summary.Outcomes[0].CustomerID, ShouldEqual, "C1")
			So(summary.Outcomes[1].CustomerID, ShouldEqual, "C2")
			So(summary.Outcomes[2].CustomerID, ShouldEqual, "C3")
			So(writer.count(), ShouldEqual, 3)

			Convey("Submission order does not change the result set", func() {
				again := &fakeWriter{}
				p2 := NewPredictor(NewLoader(dir), reader, again, testPredictionConfig(), "v1.0.0")
				p2.now = func() time.Time { return asOf }

				reordered, err := p2.PredictBatch(context.Background(), tctx, []string{"C1", "C2", "C3"})

				So(err, ShouldBeNil)
				for i := range summary.Outcomes {
					So(reordered.Outcomes[i].CustomerID, ShouldEqual, summary.Outcomes[i].CustomerID)
					So(reordered.Outcomes[i].Prediction.ChurnProbability, ShouldAlmostEqual,
						summary.Outcomes[i].Prediction.ChurnProbability)
				}
			})
		})

		Convey("One missing customer does not abort the rest", func() {
			summary, err := predictor.PredictBatch(context.Background(), tctx, []string{"C1", "GHOST", "C2"})

			So(err, ShouldBeNil)
			So(summary.Succeeded, ShouldEqual, 2)
			So(summary.Failed, ShouldEqual, 1)
			So(writer.count(), ShouldEqual, 2)

			var failed *BatchOutcome
			for i := range summary.Outcomes {
				if summary.Outcomes[i].CustomerID == "GHOST" {
					failed = &summary.Outcomes[i]
				}
			}
			So(failed, ShouldNotBeNil)
			So(failed.Error, ShouldContainSubstring, "not found")
		})

		Convey("A missing artifact rejects the whole batch with no writes", func() {
			broken := NewPredictor(NewLoader(t.TempDir()), reader, writer, testPredictionConfig(), "v1.0.0")

			_, err := broken.PredictBatch(context.Background(), tctx, []string{"C1", "C2"})

			So(err, ShouldWrap, ErrArtifactNotFound)
			So(writer.count(), ShouldEqual, 0)
		})

		Convey("A missing tenant context rejects the batch", func() {
			_, err := predictor.PredictBatch(context.Background(), tenant.Context{}, []string{"C1"})

			So(err, ShouldWrap, tenant.ErrMissingTenant)
		})
	})
}
