package billing

import (
	"maps"
	"slices"
)

// PriceIDs holds the provider identifiers of a plan for both billing intervals.
type PriceIDs struct {
	Monthly string `json:"monthly,omitempty" yaml:"monthly"`
	Yearly  string `json:"yearly,omitempty" yaml:"yearly"`
}

// Empty reports whether no identifier is configured.
func (p PriceIDs) Empty() bool {
	return p.Monthly == "" && p.Yearly == ""
}

// Prices holds the plan prices for both billing intervals.
type Prices struct {
	Monthly Money `json:"monthly" yaml:"monthly"`
	Yearly  Money `json:"yearly" yaml:"yearly"`
}

// Plan is a static catalog entry: a named tier with prices, provider ids
// and a feature-limit table.
type Plan struct {
	Key         string             `json:"key" yaml:"key"`
	Title       string             `json:"title" yaml:"title"`
	Description string             `json:"description,omitempty" yaml:"description"`
	Prices      Prices             `json:"prices" yaml:"prices"`
	StripeIDs   PriceIDs           `json:"stripe_ids" yaml:"stripe_ids"`
	PolarIDs    PriceIDs           `json:"polar_ids" yaml:"polar_ids"`
	Limits      map[Resource]int64 `json:"limits" yaml:"-"` // -1 represents unlimited; decoded by LoadCatalog
	Features    []Feature          `json:"features,omitempty" yaml:"features"`
	Default     bool               `json:"default,omitempty" yaml:"default"`
}

// Limit returns the limit for resource. Resources missing from the table
// are not available on the plan and report 0.
func (p Plan) Limit(resource Resource) int64 {
	limit, ok := p.Limits[resource]
	if !ok {
		return 0
	}
	return limit
}

// HasFeature reports whether the plan includes feature.
func (p Plan) HasFeature(feature Feature) bool {
	return slices.Contains(p.Features, feature)
}

// IDs returns the identifiers of the plan at provider.
func (p Plan) IDs(provider Provider) PriceIDs {
	switch provider {
	case ProviderStripe:
		return p.StripeIDs
	case ProviderPolar:
		return p.PolarIDs
	}
	return PriceIDs{}
}

func (p Plan) clone() Plan {
	p.Limits = maps.Clone(p.Limits)
	p.Features = slices.Clone(p.Features)
	return p
}

// PlanComparison contains the differences between two plans.
// Used to validate downgrades and communicate changes to users.
type PlanComparison struct {
	NewFeatures     []Feature                   `json:"new_features,omitempty"`
	LostFeatures    []Feature                   `json:"lost_features,omitempty"`
	IncreasedLimits map[Resource]ResourceChange `json:"increased_limits"`
	DecreasedLimits map[Resource]ResourceChange `json:"decreased_limits"`
}

// ResourceChange represents a change in resource limit.
type ResourceChange struct {
	From int64 `json:"from"`
	To   int64 `json:"to"`
}

// HasResourceDecreases returns true if any resources have decreased limits.
func (c PlanComparison) HasResourceDecreases() bool {
	return len(c.DecreasedLimits) > 0
}

// ComparePlans returns the differences between current and target plans.
// A resource missing from a plan is treated as limit 0.
func ComparePlans(current, target Plan) PlanComparison {
	cmp := PlanComparison{
		IncreasedLimits: make(map[Resource]ResourceChange),
		DecreasedLimits: make(map[Resource]ResourceChange),
	}

	for _, f := range target.Features {
		if !current.HasFeature(f) {
			cmp.NewFeatures = append(cmp.NewFeatures, f)
		}
	}
	for _, f := range current.Features {
		if !target.HasFeature(f) {
			cmp.LostFeatures = append(cmp.LostFeatures, f)
		}
	}

	resources := make(map[Resource]struct{}, len(current.Limits)+len(target.Limits))
	for r := range current.Limits {
		resources[r] = struct{}{}
	}
	for r := range target.Limits {
		resources[r] = struct{}{}
	}

	for r := range resources {
		from, to := current.Limit(r), target.Limit(r)
		if from == to {
			continue
		}
		change := ResourceChange{From: from, To: to}
		switch {
		case from == Unlimited:
			// unlimited to limited is always a decrease
			cmp.DecreasedLimits[r] = change
		case to == Unlimited, to > from:
			cmp.IncreasedLimits[r] = change
		default:
			cmp.DecreasedLimits[r] = change
		}
	}

	return cmp
}
