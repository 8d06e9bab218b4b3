// Package feature turns a customer's raw CRM entities into the fixed-shape
// numeric vector the churn model consumes. Everything here is pure: no I/O,
// no clock reads, identical inputs always produce identical vectors.
package feature

// SchemaVersion names the feature layout below. The model artifact declares
// which schema version it was trained against; the predictor refuses to score
// a vector whose version differs.
const SchemaVersion = "v1"

// NeverSentinelDays stands in for "this never happened" on recency features,
// so the vector shape is identical for customers with no tickets or payments.
const NeverSentinelDays = 9999

// Feature names in vector order. The order is part of the schema; the model's
// coefficient layout depends on it.
const (
	TenureMonths            = "tenure_months"
	MonthlyCharges          = "monthly_charges"
	OutstandingBalance      = "outstanding_balance"
	BalanceRatio            = "balance_ratio"
	TotalTickets            = "total_tickets"
	TicketsLast30d          = "tickets_last_30d"
	TicketsLast90d          = "tickets_last_90d"
	DaysSinceLastTicket     = "days_since_last_ticket"
	HighPriorityRatio       = "high_priority_ratio"
	OpenTickets             = "open_tickets"
	AvgResolutionHours      = "avg_resolution_hours"
	TotalPayments           = "total_payments"
	DaysSinceLastPayment    = "days_since_last_payment"
	PaymentIntervalMeanDays = "payment_interval_mean_days"
	PaymentIntervalCV       = "payment_interval_cv"
	FailedPayments          = "failed_payments"
	TotalPaid               = "total_paid"
	PaidLast90d             = "paid_last_90d"
)

// Names lists the schema's features in vector order.
var Names = []string{
	TenureMonths,
	MonthlyCharges,
	OutstandingBalance,
	BalanceRatio,
	TotalTickets,
	TicketsLast30d,
	TicketsLast90d,
	DaysSinceLastTicket,
	HighPriorityRatio,
	OpenTickets,
	AvgResolutionHours,
	TotalPayments,
	DaysSinceLastPayment,
	PaymentIntervalMeanDays,
	PaymentIntervalCV,
	FailedPayments,
	TotalPaid,
	PaidLast90d,
}

var nameIndex = func() map[string]int {
	idx := make(map[string]int, len(Names))
	for i, n := range Names {
		idx[n] = i
	}
	return idx
}()

// Vector is one customer's feature values in schema order.
type Vector struct {
	SchemaVersion string
	Values        []float64
}

// Get returns a feature value by name.
func (v Vector) Get(name string) (float64, bool) {
	i, ok := nameIndex[name]
	if !ok || i >= len(v.Values) {
		return 0, false
	}
	return v.Values[i], true
}

// ToMap renders the vector as a name -> value map for persistence on the
// prediction row.
func (v Vector) ToMap() map[string]float64 {
	m := make(map[string]float64, len(Names))
	for i, n := range Names {
		if i < len(v.Values) {
			m[n] = v.Values[i]
		}
	}
	return m
}
