package billing

import "slices"

// Resource represents a countable per-user resource type.
type Resource string

const (
	ResourceCustomers Resource = "customers"
	ResourceQRCodes   Resource = "qr_codes"
	ResourceDocuments Resource = "documents" // counted per calendar month
)

// Resources lists every resource the enforcer knows how to check.
var Resources = []Resource{
	ResourceCustomers,
	ResourceQRCodes,
	ResourceDocuments,
}

// Valid reports whether r is part of the closed resource enumeration.
func (r Resource) Valid() bool {
	return slices.Contains(Resources, r)
}

const (
	// Unlimited indicates no limit for a resource (-1 chosen for SQL compatibility)
	Unlimited int64 = -1
)

// Feature represents a plan-specific capability.
type Feature string

const (
	FeaturePDFExport      Feature = "pdf_export"
	FeatureScanTracking   Feature = "scan_tracking"
	FeatureCustomQRAlias  Feature = "custom_qr_alias"
	FeatureCustomBranding Feature = "custom_branding"
	FeatureQuoteToInvoice Feature = "quote_to_invoice"
	FeaturePriority       Feature = "priority_support"
	FeatureAPI            Feature = "api"
)

// Money represents a monetary amount in the smallest currency unit.
// For example, 10.00 EUR is Amount: 1000, Currency: "EUR".
type Money struct {
	Amount   int64  `json:"amount" yaml:"amount"`
	Currency string `json:"currency" yaml:"currency"`
}

// Interval is the billing frequency a price id belongs to.
type Interval string

const (
	IntervalNone    Interval = ""
	IntervalMonthly Interval = "month"
	IntervalYearly  Interval = "year"
)

// Provider identifies a payment provider.
type Provider string

const (
	ProviderNone   Provider = "none"
	ProviderStripe Provider = "stripe"
	ProviderPolar  Provider = "polar"
)

// Providers lists the supported payment providers in default lookup order.
var Providers = []Provider{ProviderStripe, ProviderPolar}

// ParseProvider converts a stored selector into a Provider.
// Empty and unknown values map to ProviderNone.
func ParseProvider(s string) Provider {
	switch Provider(s) {
	case ProviderStripe, ProviderPolar:
		return Provider(s)
	default:
		return ProviderNone
	}
}

// Subscription statuses as reported by the providers.
const (
	StatusActive   = "active"
	StatusTrialing = "trialing"
	StatusPastDue  = "past_due"
	StatusCanceled = "canceled"
	StatusUnpaid   = "unpaid"
)

// Role is the user's access role.
type Role string

const (
	RoleUser  Role = "USER"
	RoleAdmin Role = "ADMIN"
)
