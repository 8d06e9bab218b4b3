package store

import (
	"context"
	"testing"
	"time"

	"churn-service/internal/model"
	"churn-service/internal/tenant"

	"github.com/glebarez/sqlite"
	. "github.com/smartystreets/goconvey/convey"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func testDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := db.AutoMigrate(&model.Tenant{}, &model.Customer{}, &model.Ticket{}, &model.Payment{}, &model.Prediction{}); err != nil {
		t.Fatal(err)
	}
	return db
}

func TestEntityStoreUpserts(t *testing.T) {
	Convey("Given an entity store", t, func() {
		db := testDB(t)
		s := NewEntityStore(db)
		ctx := context.Background()
		tctx := tenant.Context{ID: 1, Name: "acme"}

		syncedAt := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
		customer := func() *model.Customer {
			return &model.Customer{
				TenantID:      1,
				CRMCustomerID: "C1",
				Name:          "Asha Traders",
				Email:         "asha@example.com",
				Status:        model.CustomerStatusActive,
				SyncedAt:      &syncedAt,
			}
		}

		Convey("A new customer is created", func() {
			action, err := s.UpsertCustomer(ctx, tctx, customer())
			So(err, ShouldBeNil)
			So(action, ShouldEqual, UpsertCreated)

			Convey("Re-applying the identical record is skipped", func() {
				action, err := s.UpsertCustomer(ctx, tctx, customer())
				So(err, ShouldBeNil)
				So(action, ShouldEqual, UpsertSkipped)

				var count int64
				db.Model(&model.Customer{}).Count(&count)
				So(count, ShouldEqual, 1)
			})

			Convey("A skipped record still advances the sync time", func() {
				later := syncedAt.Add(time.Hour)
				resynced := customer()
				resynced.SyncedAt = &later

				action, err := s.UpsertCustomer(ctx, tctx, resynced)
				So(err, ShouldBeNil)
				So(action, ShouldEqual, UpsertSkipped)

				got, err := s.GetCustomer(ctx, tctx, "C1")
				So(err, ShouldBeNil)
				So(got.SyncedAt.Equal(later), ShouldBeTrue)
			})

			Convey("A changed record is updated in place", func() {
				changed := customer()
				changed.OutstandingBalance = 150

				action, err := s.UpsertCustomer(ctx, tctx, changed)
				So(err, ShouldBeNil)
				So(action, ShouldEqual, UpsertUpdated)

				got, err := s.GetCustomer(ctx, tctx, "C1")
				So(err, ShouldBeNil)
				So(got.OutstandingBalance, ShouldEqual, 150)

				var count int64
				db.Model(&model.Customer{}).Count(&count)
				So(count, ShouldEqual, 1)
			})

			Convey("An update never touches the denormalized churn columns", func() {
				db.Model(&model.Customer{}).
					Where("crm_customer_id = ?", "C1").
					Update("churn_risk", model.RiskHigh)

				changed := customer()
				changed.Name = "Asha Traders Ltd"
				_, err := s.UpsertCustomer(ctx, tctx, changed)
				So(err, ShouldBeNil)

				got, err := s.GetCustomer(ctx, tctx, "C1")
				So(err, ShouldBeNil)
				So(got.ChurnRisk, ShouldEqual, model.RiskHigh)
			})
		})

		Convey("A record from another tenant is rejected", func() {
			foreign := customer()
			foreign.TenantID = 2

			_, err := s.UpsertCustomer(ctx, tctx, foreign)
			So(err, ShouldWrap, tenant.ErrTenantMismatch)
		})

		Convey("Lookups never cross tenants", func() {
			_, err := s.UpsertCustomer(ctx, tctx, customer())
			So(err, ShouldBeNil)

			_, err = s.GetCustomer(ctx, tenant.Context{ID: 2, Name: "other"}, "C1")
			So(err, ShouldWrap, ErrNotFound)
		})

		Convey("Tickets and payments upsert by external identifier", func() {
			opened := time.Date(2026, 1, 10, 9, 0, 0, 0, time.UTC)
			ticket := &model.Ticket{TenantID: 1, CRMTicketID: "T1", CRMCustomerID: "C1", Status: model.TicketStatusOpen, Priority: model.TicketPriorityHigh, OpenedAt: opened}

			action, err := s.UpsertTicket(ctx, tctx, ticket)
			So(err, ShouldBeNil)
			So(action, ShouldEqual, UpsertCreated)

			resolved := opened.Add(26 * time.Hour)
			update := &model.Ticket{TenantID: 1, CRMTicketID: "T1", CRMCustomerID: "C1", Status: model.TicketStatusResolved, Priority: model.TicketPriorityHigh, OpenedAt: opened, ResolvedAt: &resolved}
			action, err = s.UpsertTicket(ctx, tctx, update)
			So(err, ShouldBeNil)
			So(action, ShouldEqual, UpsertUpdated)

			tickets, err := s.ListTickets(ctx, tctx, "C1")
			So(err, ShouldBeNil)
			So(len(tickets), ShouldEqual, 1)
			So(tickets[0].Status, ShouldEqual, model.TicketStatusResolved)

			paid := time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC)
			payment := &model.Payment{TenantID: 1, CRMPaymentID: "P1", CRMCustomerID: "C1", Amount: 45, Status: model.PaymentStatusCompleted, PaidAt: paid}
			action, err = s.UpsertPayment(ctx, tctx, payment)
			So(err, ShouldBeNil)
			So(action, ShouldEqual, UpsertCreated)

			action, err = s.UpsertPayment(ctx, tctx, &model.Payment{TenantID: 1, CRMPaymentID: "P1", CRMCustomerID: "C1", Amount: 45, Status: model.PaymentStatusCompleted, PaidAt: paid})
			So(err, ShouldBeNil)
			So(action, ShouldEqual, UpsertSkipped)
		})

		Convey("Active customer listing is tenant-scoped and ordered", func() {
			for _, id := range []string{"C2", "C1"} {
				c := customer()
				c.CRMCustomerID = id
				_, err := s.UpsertCustomer(ctx, tctx, c)
				So(err, ShouldBeNil)
			}
			churned := customer()
			churned.CRMCustomerID = "C3"
			churned.Status = model.CustomerStatusChurned
			_, err := s.UpsertCustomer(ctx, tctx, churned)
			So(err, ShouldBeNil)

			ids, err := s.ListActiveCustomerIDs(ctx, tctx)
			So(err, ShouldBeNil)
			So(ids, ShouldResemble, []string{"C1", "C2"})
		})
	})
}

func TestPredictionStore(t *testing.T) {
	Convey("Given a prediction store", t, func() {
		db := testDB(t)
		entities := NewEntityStore(db)
		s := NewPredictionStore(db, 24*time.Hour)

		ctx := context.Background()
		tctx := tenant.Context{ID: 1, Name: "acme"}

		now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
		s.now = func() time.Time { return now }

		syncedAt := now.Add(-2 * time.Hour)
		_, err := entities.UpsertCustomer(ctx, tctx, &model.Customer{
			TenantID: 1, CRMCustomerID: "C1", Name: "Asha Traders",
			Status: model.CustomerStatusActive, SyncedAt: &syncedAt,
		})
		So(err, ShouldBeNil)

		prediction := func(customerID string, probability float64, risk string, at time.Time) *model.Prediction {
			return &model.Prediction{
				TenantID:         1,
				CustomerID:       customerID,
				ChurnProbability: probability,
				ChurnRisk:        risk,
				ModelVersion:     "v1.0.0",
				CreatedAt:        at,
				UpdatedAt:        at,
			}
		}

		Convey("Save inserts and refreshes the customer's churn columns", func() {
			So(s.Save(ctx, tctx, prediction("C1", 0.82, model.RiskHigh, now.Add(-time.Hour))), ShouldBeNil)

			got, err := entities.GetCustomer(ctx, tctx, "C1")
			So(err, ShouldBeNil)
			So(got.ChurnRisk, ShouldEqual, model.RiskHigh)
			So(*got.ChurnProbability, ShouldAlmostEqual, 0.82)

			Convey("A newer run supersedes without deleting history", func() {
				So(s.Save(ctx, tctx, prediction("C1", 0.35, model.RiskLow, now)), ShouldBeNil)

				latest, err := s.GetLatest(ctx, tctx, "C1")
				So(err, ShouldBeNil)
				So(latest.Prediction.ChurnProbability, ShouldAlmostEqual, 0.35)

				var count int64
				db.Model(&model.Prediction{}).Count(&count)
				So(count, ShouldEqual, 2)
			})
		})

		Convey("Staleness is derived at read time", func() {
			Convey("A fresh prediction scored after the last sync is not stale", func() {
				So(s.Save(ctx, tctx, prediction("C1", 0.5, model.RiskMedium, now.Add(-time.Hour))), ShouldBeNil)

				latest, err := s.GetLatest(ctx, tctx, "C1")
				So(err, ShouldBeNil)
				So(latest.PredictionAge, ShouldEqual, time.Hour)
				So(latest.Stale, ShouldBeFalse)
			})

			Convey("An old prediction is stale by age", func() {
				So(s.Save(ctx, tctx, prediction("C1", 0.5, model.RiskMedium, now.Add(-48*time.Hour))), ShouldBeNil)

				latest, err := s.GetLatest(ctx, tctx, "C1")
				So(err, ShouldBeNil)
				So(latest.Stale, ShouldBeTrue)
			})

			Convey("A re-sync after scoring makes the prediction data-stale", func() {
				So(s.Save(ctx, tctx, prediction("C1", 0.5, model.RiskMedium, now.Add(-3*time.Hour))), ShouldBeNil)

				// Customer synced 2h ago, scored 3h ago.
				latest, err := s.GetLatest(ctx, tctx, "C1")
				So(err, ShouldBeNil)
				So(latest.DataAge, ShouldEqual, time.Hour)
				So(latest.Stale, ShouldBeTrue)
			})
		})

		Convey("Batch reads resolve to the latest row per customer", func() {
			_, err := entities.UpsertCustomer(ctx, tctx, &model.Customer{
				TenantID: 1, CRMCustomerID: "C2", Name: "Beta Ltd",
				Status: model.CustomerStatusActive, SyncedAt: &syncedAt,
			})
			So(err, ShouldBeNil)

			So(s.Save(ctx, tctx, prediction("C1", 0.9, model.RiskHigh, now.Add(-2*time.Hour))), ShouldBeNil)
			So(s.Save(ctx, tctx, prediction("C1", 0.3, model.RiskLow, now.Add(-time.Hour))), ShouldBeNil)
			So(s.Save(ctx, tctx, prediction("C2", 0.75, model.RiskHigh, now.Add(-time.Hour))), ShouldBeNil)

			latest, err := s.GetLatestBatch(ctx, tctx, []string{"C1", "C2", "MISSING"})
			So(err, ShouldBeNil)
			So(len(latest), ShouldEqual, 2)
			So(latest["C1"].Prediction.ChurnProbability, ShouldAlmostEqual, 0.3)
			So(latest["C2"].Prediction.ChurnProbability, ShouldAlmostEqual, 0.75)

			Convey("High-risk listing follows the denormalized probability", func() {
				highRisk, err := s.ListHighRisk(ctx, tctx, 0.7)
				So(err, ShouldBeNil)
				So(len(highRisk), ShouldEqual, 1)
				So(highRisk[0].Prediction.CustomerID, ShouldEqual, "C2")
			})

			Convey("Risk tier counts come from the customers table", func() {
				counts, err := s.CountByRisk(ctx, tctx)
				So(err, ShouldBeNil)
				So(counts[model.RiskLow], ShouldEqual, 1)
				So(counts[model.RiskHigh], ShouldEqual, 1)
			})
		})

		Convey("Trend returns the in-window history oldest first", func() {
			So(s.Save(ctx, tctx, prediction("C1", 0.2, model.RiskLow, now.AddDate(0, 0, -40))), ShouldBeNil)
			So(s.Save(ctx, tctx, prediction("C1", 0.5, model.RiskMedium, now.AddDate(0, 0, -10))), ShouldBeNil)
			So(s.Save(ctx, tctx, prediction("C1", 0.8, model.RiskHigh, now.AddDate(0, 0, -1))), ShouldBeNil)

			trend, err := s.GetTrend(ctx, tctx, "C1", 30*24*time.Hour)
			So(err, ShouldBeNil)
			So(len(trend), ShouldEqual, 2)
			So(trend[0].ChurnProbability, ShouldAlmostEqual, 0.5)
			So(trend[1].ChurnProbability, ShouldAlmostEqual, 0.8)
		})

		Convey("Reads never cross tenants", func() {
			So(s.Save(ctx, tctx, prediction("C1", 0.9, model.RiskHigh, now)), ShouldBeNil)

			_, err := s.GetLatest(ctx, tenant.Context{ID: 2, Name: "other"}, "C1")
			So(err, ShouldWrap, ErrNotFound)
		})

		Convey("Saving for the wrong tenant is rejected", func() {
			p := prediction("C1", 0.9, model.RiskHigh, now)
			p.TenantID = 2

			So(s.Save(ctx, tctx, p), ShouldWrap, tenant.ErrTenantMismatch)
		})
	})
}
