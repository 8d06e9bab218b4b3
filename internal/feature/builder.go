package feature

import (
	"math"
	"sort"
	"time"

	"churn-service/internal/model"
	"churn-service/internal/tenant"
)

const (
	hoursPerDay  = 24
	daysPerMonth = 30
)

// Build derives the feature vector for one customer as of a fixed point in
// time. Tickets and payments dated after asOf are excluded so re-running with
// the same asOf is reproducible regardless of when the call happens.
//
// Every row is checked against the tenant context before it contributes to
// the vector; a mismatch aborts immediately.
func Build(tctx tenant.Context, customer *model.Customer, tickets []model.Ticket, payments []model.Payment, asOf time.Time) (Vector, error) {
	if err := tctx.Check(customer.TenantID); err != nil {
		return Vector{}, err
	}
	for i := range tickets {
		if err := tctx.Check(tickets[i].TenantID); err != nil {
			return Vector{}, err
		}
	}
	for i := range payments {
		if err := tctx.Check(payments[i].TenantID); err != nil {
			return Vector{}, err
		}
	}

	values := make([]float64, len(Names))
	set := func(name string, v float64) { values[nameIndex[name]] = v }

	// Tenure and balances
	if customer.SignupDate != nil && customer.SignupDate.Before(asOf) {
		set(TenureMonths, asOf.Sub(*customer.SignupDate).Hours()/hoursPerDay/daysPerMonth)
	}
	set(MonthlyCharges, customer.MonthlyCharges)
	set(OutstandingBalance, customer.OutstandingBalance)
	set(BalanceRatio, customer.OutstandingBalance/(customer.MonthlyCharges+1))

	buildTicketFeatures(set, tickets, asOf)
	buildPaymentFeatures(set, payments, asOf)

	return Vector{SchemaVersion: SchemaVersion, Values: values}, nil
}

func buildTicketFeatures(set func(string, float64), tickets []model.Ticket, asOf time.Time) {
	var (
		total, last30, last90 float64
		highPriority, open    float64
		resolutionHours       float64
		resolvedCount         float64
		lastOpened            time.Time
	)

	for i := range tickets {
		t := &tickets[i]
		if t.OpenedAt.After(asOf) {
			continue
		}

		total++
		age := asOf.Sub(t.OpenedAt)
		if age <= 30*hoursPerDay*time.Hour {
			last30++
		}
		if age <= 90*hoursPerDay*time.Hour {
			last90++
		}
		if t.Priority == model.TicketPriorityHigh || t.Priority == model.TicketPriorityUrgent {
			highPriority++
		}
		if t.Status == model.TicketStatusOpen || t.Status == model.TicketStatusInProgress {
			open++
		}
		if t.ResolvedAt != nil && !t.ResolvedAt.After(asOf) {
			resolutionHours += t.ResolvedAt.Sub(t.OpenedAt).Hours()
			resolvedCount++
		}
		if t.OpenedAt.After(lastOpened) {
			lastOpened = t.OpenedAt
		}
	}

	set(TotalTickets, total)
	set(TicketsLast30d, last30)
	set(TicketsLast90d, last90)
	set(OpenTickets, open)

	if total > 0 {
		set(HighPriorityRatio, highPriority/total)
		set(DaysSinceLastTicket, asOf.Sub(lastOpened).Hours()/hoursPerDay)
	} else {
		set(HighPriorityRatio, 0)
		set(DaysSinceLastTicket, NeverSentinelDays)
	}
	if resolvedCount > 0 {
		set(AvgResolutionHours, resolutionHours/resolvedCount)
	}
}

func buildPaymentFeatures(set func(string, float64), payments []model.Payment, asOf time.Time) {
	// Chronological order matters for the interval statistics; sort a copy of
	// the timestamps so the caller's slice is untouched.
	var (
		paidAts   []time.Time
		totalPaid float64
		paid90    float64
		failed    float64
		total     float64
	)

	for i := range payments {
		p := &payments[i]
		if p.PaidAt.After(asOf) {
			continue
		}

		total++
		if p.Status == model.PaymentStatusFailed {
			failed++
			continue
		}
		totalPaid += p.Amount
		if asOf.Sub(p.PaidAt) <= 90*hoursPerDay*time.Hour {
			paid90 += p.Amount
		}
		paidAts = append(paidAts, p.PaidAt)
	}

	set(TotalPayments, total)
	set(FailedPayments, failed)
	set(TotalPaid, totalPaid)
	set(PaidLast90d, paid90)

	if len(paidAts) == 0 {
		set(DaysSinceLastPayment, NeverSentinelDays)
		return
	}

	sort.Slice(paidAts, func(i, j int) bool { return paidAts[i].Before(paidAts[j]) })
	set(DaysSinceLastPayment, asOf.Sub(paidAts[len(paidAts)-1]).Hours()/hoursPerDay)

	if len(paidAts) < 2 {
		return
	}

	intervals := make([]float64, 0, len(paidAts)-1)
	for i := 1; i < len(paidAts); i++ {
		intervals = append(intervals, paidAts[i].Sub(paidAts[i-1]).Hours()/hoursPerDay)
	}

	mean := 0.0
	for _, d := range intervals {
		mean += d
	}
	mean /= float64(len(intervals))
	set(PaymentIntervalMeanDays, mean)

	if mean > 0 {
		variance := 0.0
		for _, d := range intervals {
			variance += (d - mean) * (d - mean)
		}
		variance /= float64(len(intervals))
		set(PaymentIntervalCV, math.Sqrt(variance)/mean)
	}
}
