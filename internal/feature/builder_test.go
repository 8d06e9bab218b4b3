package feature_test

import (
	"errors"
	"testing"
	"time"

	"churn-service/internal/feature"
	"churn-service/internal/model"
	"churn-service/internal/tenant"

	. "github.com/smartystreets/goconvey/convey"
)

var asOf = time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

func testCustomer(tenantID uint) *model.Customer {
	signup := asOf.AddDate(-1, 0, 0)
	return &model.Customer{
		TenantID:           tenantID,
		CRMCustomerID:      "C42",
		Name:               "Test Customer",
		MonthlyCharges:     50,
		OutstandingBalance: 25,
		SignupDate:         &signup,
	}
}

func paymentsAtIntervals(tenantID uint, start time.Time, interval time.Duration, count int, amount float64) []model.Payment {
	payments := make([]model.Payment, 0, count)
	for i := 0; i < count; i++ {
		payments = append(payments, model.Payment{
			TenantID:      tenantID,
			CRMCustomerID: "C42",
			CRMPaymentID:  string(rune('a' + i)),
			Amount:        amount,
			Status:        model.PaymentStatusCompleted,
			PaidAt:        start.Add(time.Duration(i) * interval),
		})
	}
	return payments
}

func TestBuild(t *testing.T) {
	tctx := tenant.Context{ID: 1, Name: "acme"}

	Convey("Given a customer with no tickets and three evenly spaced payments", t, func() {
		customer := testCustomer(1)
		payments := paymentsAtIntervals(1, asOf.AddDate(0, 0, -70), 30*24*time.Hour, 3, 100)

		vec, err := feature.Build(tctx, customer, nil, payments, asOf)
		So(err, ShouldBeNil)

		Convey("The vector has the full fixed shape", func() {
			So(vec.SchemaVersion, ShouldEqual, feature.SchemaVersion)
			So(vec.Values, ShouldHaveLength, len(feature.Names))
		})

		Convey("Ticket recency sits at the never sentinel", func() {
			v, ok := vec.Get(feature.DaysSinceLastTicket)
			So(ok, ShouldBeTrue)
			So(v, ShouldEqual, feature.NeverSentinelDays)
		})

		Convey("Payment interval coefficient of variation is near zero", func() {
			cv, _ := vec.Get(feature.PaymentIntervalCV)
			So(cv, ShouldBeLessThan, 0.001)

			mean, _ := vec.Get(feature.PaymentIntervalMeanDays)
			So(mean, ShouldAlmostEqual, 30, 0.01)
		})

		Convey("Monetary features add up", func() {
			total, _ := vec.Get(feature.TotalPaid)
			So(total, ShouldAlmostEqual, 300)

			recent, _ := vec.Get(feature.PaidLast90d)
			So(recent, ShouldAlmostEqual, 300)
		})

		Convey("Building twice yields identical vectors", func() {
			again, err := feature.Build(tctx, customer, nil, payments, asOf)
			So(err, ShouldBeNil)
			So(again.Values, ShouldResemble, vec.Values)
		})
	})

	Convey("Given irregular payment intervals", t, func() {
		customer := testCustomer(1)
		base := asOf.AddDate(0, 0, -120)
		payments := []model.Payment{
			{TenantID: 1, CRMCustomerID: "C42", Amount: 100, Status: model.PaymentStatusCompleted, PaidAt: base},
			{TenantID: 1, CRMCustomerID: "C42", Amount: 100, Status: model.PaymentStatusCompleted, PaidAt: base.AddDate(0, 0, 5)},
			{TenantID: 1, CRMCustomerID: "C42", Amount: 100, Status: model.PaymentStatusCompleted, PaidAt: base.AddDate(0, 0, 95)},
		}

		vec, err := feature.Build(tctx, customer, nil, payments, asOf)
		So(err, ShouldBeNil)

		Convey("The coefficient of variation is clearly above zero", func() {
			cv, _ := vec.Get(feature.PaymentIntervalCV)
			So(cv, ShouldBeGreaterThan, 0.5)
		})
	})

	Convey("Given ticket history", t, func() {
		customer := testCustomer(1)
		resolved := asOf.AddDate(0, 0, -10)
		tickets := []model.Ticket{
			{TenantID: 1, CRMCustomerID: "C42", Priority: model.TicketPriorityHigh, Status: model.TicketStatusOpen, OpenedAt: asOf.AddDate(0, 0, -5)},
			{TenantID: 1, CRMCustomerID: "C42", Priority: model.TicketPriorityLow, Status: model.TicketStatusResolved, OpenedAt: asOf.AddDate(0, 0, -12), ResolvedAt: &resolved},
			{TenantID: 1, CRMCustomerID: "C42", Priority: model.TicketPriorityMedium, Status: model.TicketStatusClosed, OpenedAt: asOf.AddDate(0, 0, -60)},
			// Dated after asOf, must not count
			{TenantID: 1, CRMCustomerID: "C42", Priority: model.TicketPriorityUrgent, Status: model.TicketStatusOpen, OpenedAt: asOf.AddDate(0, 0, 2)},
		}

		vec, err := feature.Build(tctx, customer, tickets, nil, asOf)
		So(err, ShouldBeNil)

		Convey("Counts and windows line up", func() {
			total, _ := vec.Get(feature.TotalTickets)
			So(total, ShouldEqual, 3)

			last30, _ := vec.Get(feature.TicketsLast30d)
			So(last30, ShouldEqual, 2)

			last90, _ := vec.Get(feature.TicketsLast90d)
			So(last90, ShouldEqual, 3)

			open, _ := vec.Get(feature.OpenTickets)
			So(open, ShouldEqual, 1)
		})

		Convey("Recency tracks the newest counted ticket", func() {
			days, _ := vec.Get(feature.DaysSinceLastTicket)
			So(days, ShouldAlmostEqual, 5, 0.01)
		})

		Convey("Severity mix is a fraction of counted tickets", func() {
			ratio, _ := vec.Get(feature.HighPriorityRatio)
			So(ratio, ShouldAlmostEqual, 1.0/3.0, 0.001)
		})

		Convey("Resolution time averages resolved tickets only", func() {
			hours, _ := vec.Get(feature.AvgResolutionHours)
			So(hours, ShouldAlmostEqual, 48, 0.01)
		})
	})

	Convey("Given rows from a different tenant", t, func() {
		customer := testCustomer(1)
		foreign := []model.Payment{{TenantID: 2, CRMCustomerID: "C42", Amount: 5, PaidAt: asOf.AddDate(0, 0, -1)}}

		Convey("Build refuses with a tenant mismatch", func() {
			_, err := feature.Build(tctx, customer, nil, foreign, asOf)
			So(err, ShouldNotBeNil)
			So(errors.Is(err, tenant.ErrTenantMismatch), ShouldBeTrue)
		})
	})

	Convey("Given a customer with no history at all", t, func() {
		customer := testCustomer(1)
		customer.SignupDate = nil

		vec, err := feature.Build(tctx, customer, nil, nil, asOf)
		So(err, ShouldBeNil)

		Convey("Sentinels and zeros fill the vector, nothing is missing", func() {
			payDays, _ := vec.Get(feature.DaysSinceLastPayment)
			So(payDays, ShouldEqual, feature.NeverSentinelDays)

			tenure, _ := vec.Get(feature.TenureMonths)
			So(tenure, ShouldEqual, 0)

			So(vec.Values, ShouldHaveLength, len(feature.Names))
		})
	})
}
