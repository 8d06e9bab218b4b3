package tenant_test

import (
	"errors"
	"testing"

	"churn-service/internal/model"
	"churn-service/internal/tenant"

	. "github.com/smartystreets/goconvey/convey"
)

func TestContext(t *testing.T) {
	Convey("Given a tenant context built from a tenant row", t, func() {
		tctx := tenant.NewContext(&model.Tenant{ID: 7, Name: "acme"})

		Convey("It validates", func() {
			So(tctx.Validate(), ShouldBeNil)
		})

		Convey("It accepts rows carrying the same tenant ID", func() {
			So(tctx.Check(7), ShouldBeNil)
		})

		Convey("It rejects rows from another tenant", func() {
			err := tctx.Check(8)
			So(err, ShouldNotBeNil)
			So(errors.Is(err, tenant.ErrTenantMismatch), ShouldBeTrue)
		})
	})

	Convey("Given a zero tenant context", t, func() {
		var tctx tenant.Context

		Convey("Validate fails with ErrMissingTenant", func() {
			So(errors.Is(tctx.Validate(), tenant.ErrMissingTenant), ShouldBeTrue)
		})

		Convey("Check fails even for tenant zero rows", func() {
			So(tctx.Check(0), ShouldNotBeNil)
		})
	})
}
