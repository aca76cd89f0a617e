package billing

import "time"

// Plan cache backends selectable with BILLING_CACHE.
const (
	CacheBackendMemory = "memory"
	CacheBackendRedis  = "redis"
	CacheBackendNone   = "none"
)

// Config holds the plan catalog and cache settings.
type Config struct {
	// CatalogPath points at a YAML plan catalog. When empty the built-in
	// plans are used with the Stripe price ids below.
	CatalogPath  string        `env:"BILLING_CATALOG_PATH"`
	PlanCacheTTL time.Duration `env:"BILLING_PLAN_CACHE_TTL" envDefault:"10s"`
	Cache        string        `env:"BILLING_CACHE" envDefault:"memory"`
	CacheSize    int           `env:"BILLING_CACHE_SIZE" envDefault:"10000"`

	StripeProMonthly        string `env:"STRIPE_PRICE_PRO_MONTHLY"`
	StripeProYearly         string `env:"STRIPE_PRICE_PRO_YEARLY"`
	StripeEnterpriseMonthly string `env:"STRIPE_PRICE_ENTERPRISE_MONTHLY"`
	StripeEnterpriseYearly  string `env:"STRIPE_PRICE_ENTERPRISE_YEARLY"`
}

// LoadCatalog builds the catalog from CatalogPath or the built-in plans.
func (c Config) LoadCatalog() (*Catalog, error) {
	if c.CatalogPath != "" {
		return LoadCatalogFile(c.CatalogPath)
	}
	return NewCatalog(DefaultPlans(
		PriceIDs{Monthly: c.StripeProMonthly, Yearly: c.StripeProYearly},
		PriceIDs{Monthly: c.StripeEnterpriseMonthly, Yearly: c.StripeEnterpriseYearly},
	)...)
}
