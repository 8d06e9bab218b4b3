package crm

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Canonical attribute names the pipeline understands. External CRM field
// names vary per instance and are translated onto these by a Mapping.
const (
	AttrID                 = "id"
	AttrCustomerID         = "customer_id"
	AttrName               = "name"
	AttrEmail              = "email"
	AttrPhone              = "phone"
	AttrAddress            = "address"
	AttrStatus             = "status"
	AttrAccountType        = "account_type"
	AttrMonthlyCharges     = "monthly_charges"
	AttrOutstandingBalance = "outstanding_balance"
	AttrServiceType        = "service_type"
	AttrBandwidthPlan      = "bandwidth_plan"
	AttrSignupDate         = "signup_date"
	AttrSubject            = "subject"
	AttrDescription        = "description"
	AttrCategory           = "category"
	AttrPriority           = "priority"
	AttrOpenedAt           = "opened_at"
	AttrResolvedAt         = "resolved_at"
	AttrAmount             = "amount"
	AttrCurrency           = "currency"
	AttrMethod             = "method"
	AttrReference          = "reference"
	AttrPaidAt             = "paid_at"
)

// Canonical attributes a mapping must cover for each entity. Everything else
// is optional; unmapped external fields are ignored, not errors.
var requiredAttrs = map[string][]string{
	EntityCustomers: {AttrID, AttrName},
	EntityTickets:   {AttrID, AttrCustomerID, AttrOpenedAt},
	EntityPayments:  {AttrID, AttrCustomerID, AttrAmount, AttrPaidAt},
}

// EntityMapping maps external field names to canonical attribute names.
type EntityMapping map[string]string

// Mapping is a versioned field mapping table for one CRM instance. It is
// validated once at sync start, not resolved ad hoc per record.
type Mapping struct {
	Version   string
	Customers EntityMapping
	Tickets   EntityMapping
	Payments  EntityMapping
}

// DefaultMapping returns the mapping for the stock CRM instance layout.
func DefaultMapping() Mapping {
	return Mapping{
		Version: "v1",
		Customers: EntityMapping{
			"id":                AttrID,
			"customer_name":     AttrName,
			"customer_email":    AttrEmail,
			"customer_phone":    AttrPhone,
			"address":           AttrAddress,
			"connection_status": AttrStatus,
			"classification":    AttrAccountType,
			"monthly_fee":       AttrMonthlyCharges,
			"customer_balance":  AttrOutstandingBalance,
			"category":          AttrServiceType,
			"package":           AttrBandwidthPlan,
			"date_installed":    AttrSignupDate,
		},
		Tickets: EntityMapping{
			"ticket_id":     AttrID,
			"customer_no":   AttrCustomerID,
			"subject":       AttrSubject,
			"message":       AttrDescription,
			"category_name": AttrCategory,
			"priority":      AttrPriority,
			"status":        AttrStatus,
			"created_at":    AttrOpenedAt,
			"resolved_at":   AttrResolvedAt,
		},
		Payments: EntityMapping{
			"id":         AttrID,
			"account_no": AttrCustomerID,
			"tx_amount":  AttrAmount,
			"currency":   AttrCurrency,
			"pay_method": AttrMethod,
			"tx_status":  AttrStatus,
			"mpesa_ref":  AttrReference,
			"tx_time":    AttrPaidAt,
		},
	}
}

// ForEntity returns the mapping table for an entity name.
func (m Mapping) ForEntity(entity string) EntityMapping {
	switch entity {
	case EntityCustomers:
		return m.Customers
	case EntityTickets:
		return m.Tickets
	case EntityPayments:
		return m.Payments
	}
	return nil
}

// Validate checks that every required canonical attribute has at least one
// external name mapped to it. A mapping gap is a contract violation; syncing
// with it would silently drop data, so it fails before anything is fetched.
func (m Mapping) Validate() error {
	for entity, required := range requiredAttrs {
		em := m.ForEntity(entity)
		covered := make(map[string]bool, len(em))
		for _, canonical := range em {
			covered[canonical] = true
		}
		for _, attr := range required {
			if !covered[attr] {
				return fmt.Errorf("%w: %s mapping (version %s) does not cover %q",
					ErrMappingIncomplete, entity, m.Version, attr)
			}
		}
	}
	return nil
}

// Apply translates a raw record's external field names into canonical
// attributes, dropping unmapped fields.
func (em EntityMapping) Apply(rec Record) Record {
	out := make(Record, len(em))
	for external, canonical := range em {
		if v, ok := rec[external]; ok {
			out[canonical] = v
		}
	}
	return out
}

// AsString reads a canonical attribute as a string.
func (r Record) AsString(attr string) string {
	switch v := r[attr].(type) {
	case string:
		return strings.TrimSpace(v)
	case float64:
		// JSON numbers decode as float64; external IDs are sometimes numeric
		return strconv.FormatFloat(v, 'f', -1, 64)
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", v)
	}
}

// AsFloat reads a canonical attribute as a float, zero when absent or unparseable.
func (r Record) AsFloat(attr string) float64 {
	switch v := r[attr].(type) {
	case float64:
		return v
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0
		}
		return f
	default:
		return 0
	}
}

var timeLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// AsTime reads a canonical attribute as a timestamp, nil when absent or unparseable.
func (r Record) AsTime(attr string) *time.Time {
	s := r.AsString(attr)
	if s == "" {
		return nil
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}
