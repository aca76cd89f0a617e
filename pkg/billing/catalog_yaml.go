package billing

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type catalogFile struct {
	Plans []planEntry `yaml:"plans"`
}

type planEntry struct {
	Plan   `yaml:",inline"`
	Limits map[Resource]limitValue `yaml:"limits"`
}

// limitValue accepts an integer or the word "unlimited".
type limitValue int64

func (l *limitValue) UnmarshalYAML(node *yaml.Node) error {
	if strings.EqualFold(strings.TrimSpace(node.Value), "unlimited") {
		*l = limitValue(Unlimited)
		return nil
	}
	n, err := strconv.ParseInt(node.Value, 10, 64)
	if err != nil {
		return fmt.Errorf("limit %q: must be an integer or \"unlimited\"", node.Value)
	}
	*l = limitValue(n)
	return nil
}

// LoadCatalog reads a YAML plan catalog. ${VAR} references are expanded
// from the environment before parsing, so provider price ids can be kept
// out of the file.
func LoadCatalog(r io.Reader) (*Catalog, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Join(ErrInvalidCatalog, err)
	}

	var f catalogFile
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(raw))), &f); err != nil {
		return nil, errors.Join(ErrInvalidCatalog, err)
	}

	plans := make([]Plan, 0, len(f.Plans))
	for _, e := range f.Plans {
		p := e.Plan
		p.Limits = make(map[Resource]int64, len(e.Limits))
		for res, v := range e.Limits {
			if !res.Valid() {
				return nil, errors.Join(ErrInvalidCatalog, fmt.Errorf("plan %q: %w: %s", p.Key, ErrUnknownResource, res))
			}
			p.Limits[res] = int64(v)
		}
		plans = append(plans, p)
	}

	return NewCatalog(plans...)
}

// LoadCatalogFile reads a YAML plan catalog from path.
func LoadCatalogFile(path string) (*Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Join(ErrInvalidCatalog, err)
	}
	defer f.Close()
	return LoadCatalog(f)
}

// DefaultPlans returns the built-in Free, Pro and Enterprise tiers.
// Stripe price ids are supplied by the caller since they differ per account.
func DefaultPlans(stripePro, stripeEnterprise PriceIDs) []Plan {
	return []Plan{
		{
			Key:         "free",
			Title:       "Free",
			Description: "Getting started",
			Prices: Prices{
				Monthly: Money{Currency: "EUR"},
				Yearly:  Money{Currency: "EUR"},
			},
			Limits: map[Resource]int64{
				ResourceCustomers: 3,
				ResourceQRCodes:   3,
				ResourceDocuments: 3,
			},
			Features: []Feature{FeaturePDFExport},
			Default:  true,
		},
		{
			Key:         "pro",
			Title:       "Pro",
			Description: "For professionals",
			Prices: Prices{
				Monthly: Money{Amount: 1000, Currency: "EUR"},
				Yearly:  Money{Amount: 10000, Currency: "EUR"},
			},
			StripeIDs: stripePro,
			PolarIDs: PriceIDs{
				Monthly: "77c6e131-56bc-46cf-8c5b-d8e6814a356b",
				Yearly:  "8bc98233-3a2c-46e5-ae90-c71ac7b4e22f",
			},
			Limits: map[Resource]int64{
				ResourceCustomers: Unlimited,
				ResourceQRCodes:   Unlimited,
				ResourceDocuments: Unlimited,
			},
			Features: []Feature{
				FeaturePDFExport,
				FeatureScanTracking,
				FeatureCustomQRAlias,
				FeatureCustomBranding,
				FeatureQuoteToInvoice,
			},
		},
		{
			Key:         "enterprise",
			Title:       "Enterprise",
			Description: "For larger companies",
			Prices: Prices{
				Monthly: Money{Amount: 2000, Currency: "EUR"},
				Yearly:  Money{Amount: 20000, Currency: "EUR"},
			},
			StripeIDs: stripeEnterprise,
			PolarIDs: PriceIDs{
				Monthly: "2a37d4e2-e513-4c3b-b463-9c79372a0e4f",
				Yearly:  "d05fc952-3c93-43cf-a8ac-9c2fea507e6c",
			},
			Limits: map[Resource]int64{
				ResourceCustomers: Unlimited,
				ResourceQRCodes:   Unlimited,
				ResourceDocuments: Unlimited,
			},
			Features: []Feature{
				FeaturePDFExport,
				FeatureScanTracking,
				FeatureCustomQRAlias,
				FeatureCustomBranding,
				FeatureQuoteToInvoice,
				FeaturePriority,
				FeatureAPI,
			},
		},
	}
}
