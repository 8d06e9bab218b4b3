package crm_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"churn-service/internal/crm"
	"churn-service/pkg/config"

	. "github.com/smartystreets/goconvey/convey"
)

func testCRMConfig() *config.CRMConfig {
	return &config.CRMConfig{
		Timeout:      2 * time.Second,
		MaxRetries:   2,
		RetryBackoff: time.Millisecond,
		PageSize:     2,
	}
}

func TestClientFetchPage(t *testing.T) {
	Convey("Given a CRM API serving paginated customers", t, func() {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			page := r.URL.Query().Get("page")
			switch page {
			case "1":
				json.NewEncoder(w).Encode(map[string]any{
					"data": []map[string]any{
						{"id": "00001", "customer_name": "A"},
						{"id": "00002", "customer_name": "B"},
					},
					"has_more": true,
				})
			default:
				json.NewEncoder(w).Encode(map[string]any{
					"data":     []map[string]any{{"id": "00003", "customer_name": "C"}},
					"has_more": false,
				})
			}
		}))
		defer server.Close()

		client := crm.NewClient(server.URL, "key", testCRMConfig())

		Convey("FetchPage walks the pages and reports has_more", func() {
			p1, err := client.FetchPage(context.Background(), crm.EntityCustomers, 1, nil)
			So(err, ShouldBeNil)
			So(p1.Records, ShouldHaveLength, 2)
			So(p1.HasMore, ShouldBeTrue)

			p2, err := client.FetchPage(context.Background(), crm.EntityCustomers, 2, nil)
			So(err, ShouldBeNil)
			So(p2.Records, ShouldHaveLength, 1)
			So(p2.HasMore, ShouldBeFalse)
		})
	})

	Convey("Given a CRM API that fails once before responding", t, func() {
		var calls int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if atomic.AddInt32(&calls, 1) == 1 {
				http.Error(w, "upstream db down", http.StatusInternalServerError)
				return
			}
			json.NewEncoder(w).Encode(map[string]any{"data": []map[string]any{{"id": "1"}}})
		}))
		defer server.Close()

		client := crm.NewClient(server.URL, "", testCRMConfig())

		Convey("The failing page is retried and succeeds", func() {
			page, err := client.FetchPage(context.Background(), crm.EntityTickets, 1, nil)
			So(err, ShouldBeNil)
			So(page.Records, ShouldHaveLength, 1)
			So(atomic.LoadInt32(&calls), ShouldEqual, 2)
		})
	})

	Convey("Given a CRM API that never recovers", t, func() {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "boom", http.StatusInternalServerError)
		}))
		defer server.Close()

		client := crm.NewClient(server.URL, "", testCRMConfig())

		Convey("FetchPage gives up after the bounded retries with a PageError", func() {
			_, err := client.FetchPage(context.Background(), crm.EntityPayments, 3, nil)
			So(err, ShouldNotBeNil)

			var pageErr *crm.PageError
			So(errors.As(err, &pageErr), ShouldBeTrue)
			So(pageErr.Entity, ShouldEqual, crm.EntityPayments)
			So(pageErr.Page, ShouldEqual, 3)
			So(errors.Is(err, crm.ErrUnavailable), ShouldBeTrue)
		})
	})

	Convey("Given a CRM API rejecting the credentials", t, func() {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "bad key", http.StatusUnauthorized)
		}))
		defer server.Close()

		client := crm.NewClient(server.URL, "wrong", testCRMConfig())

		Convey("The failure is not retried", func() {
			_, err := client.FetchPage(context.Background(), crm.EntityCustomers, 1, nil)
			So(errors.Is(err, crm.ErrUnauthorized), ShouldBeTrue)
		})
	})

	Convey("Given an incremental fetch", t, func() {
		var gotSince string
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotSince = r.URL.Query().Get("updated_since")
			fmt.Fprint(w, `{"data": []}`)
		}))
		defer server.Close()

		client := crm.NewClient(server.URL, "", testCRMConfig())

		Convey("The updated_since cursor is passed through in RFC3339", func() {
			since := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
			_, err := client.FetchPage(context.Background(), crm.EntityCustomers, 1, &since)
			So(err, ShouldBeNil)
			So(gotSince, ShouldEqual, "2026-02-01T12:00:00Z")
		})
	})
}
