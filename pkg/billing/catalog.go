package billing

import (
	"cmp"
	"errors"
	"fmt"
	"slices"
)

// Catalog is the immutable set of plans loaded at process start.
// It resolves Stripe price ids and Polar product ids to plans; both
// identifier schemes point at the same entry for a given tier.
type Catalog struct {
	plans      []Plan
	byKey      map[string]int
	byID       map[string]catalogRef
	defaultIdx int
}

type catalogRef struct {
	idx      int
	interval Interval
}

// NewCatalog validates plans and builds a catalog.
// Exactly one plan must be marked default and it must not carry provider
// ids; provider ids must be unique across the whole catalog.
func NewCatalog(plans ...Plan) (*Catalog, error) {
	if len(plans) == 0 {
		return nil, errors.Join(ErrInvalidCatalog, errors.New("no plans configured"))
	}

	c := &Catalog{
		plans:      make([]Plan, 0, len(plans)),
		byKey:      make(map[string]int, len(plans)),
		byID:       make(map[string]catalogRef, len(plans)*4),
		defaultIdx: -1,
	}

	for _, p := range plans {
		if p.Key == "" {
			return nil, errors.Join(ErrInvalidCatalog, errors.New("plan key is required"))
		}
		if _, dup := c.byKey[p.Key]; dup {
			return nil, errors.Join(ErrInvalidCatalog, fmt.Errorf("duplicate plan key %q", p.Key))
		}
		for r, limit := range p.Limits {
			if limit < Unlimited {
				return nil, errors.Join(ErrInvalidCatalog, fmt.Errorf("plan %q: invalid %s limit %d", p.Key, r, limit))
			}
		}

		idx := len(c.plans)
		if p.Default {
			if c.defaultIdx >= 0 {
				return nil, errors.Join(ErrInvalidCatalog, fmt.Errorf("plans %q and %q are both default", c.plans[c.defaultIdx].Key, p.Key))
			}
			if !p.StripeIDs.Empty() || !p.PolarIDs.Empty() {
				return nil, errors.Join(ErrInvalidCatalog, fmt.Errorf("default plan %q must not have provider ids", p.Key))
			}
			c.defaultIdx = idx
		}

		for _, ids := range []PriceIDs{p.StripeIDs, p.PolarIDs} {
			for id, interval := range map[string]Interval{ids.Monthly: IntervalMonthly, ids.Yearly: IntervalYearly} {
				if id == "" {
					continue
				}
				if ref, dup := c.byID[id]; dup {
					return nil, errors.Join(ErrInvalidCatalog, fmt.Errorf("id %q used by plans %q and %q", id, c.plans[ref.idx].Key, p.Key))
				}
				c.byID[id] = catalogRef{idx: idx, interval: interval}
			}
		}

		c.byKey[p.Key] = idx
		c.plans = append(c.plans, p.clone())
	}

	if c.defaultIdx < 0 {
		return nil, errors.Join(ErrInvalidCatalog, errors.New("no default plan"))
	}

	return c, nil
}

// Lookup finds the plan a Stripe price id or Polar product id belongs to
// and reports which billing interval matched.
func (c *Catalog) Lookup(id string) (Plan, Interval, bool) {
	if id == "" {
		return Plan{}, IntervalNone, false
	}
	ref, ok := c.byID[id]
	if !ok {
		return Plan{}, IntervalNone, false
	}
	return c.plans[ref.idx].clone(), ref.interval, true
}

// Default returns the free plan every user falls back to.
func (c *Catalog) Default() Plan {
	return c.plans[c.defaultIdx].clone()
}

// Plan returns the plan with the given key.
func (c *Catalog) Plan(key string) (Plan, bool) {
	idx, ok := c.byKey[key]
	if !ok {
		return Plan{}, false
	}
	return c.plans[idx].clone(), true
}

// Plans returns all plans ordered by monthly price, default first on ties.
func (c *Catalog) Plans() []Plan {
	out := make([]Plan, 0, len(c.plans))
	for _, p := range c.plans {
		out = append(out, p.clone())
	}
	slices.SortStableFunc(out, func(a, b Plan) int {
		switch {
		case a.Prices.Monthly.Amount != b.Prices.Monthly.Amount:
			return cmp.Compare(a.Prices.Monthly.Amount, b.Prices.Monthly.Amount)
		case a.Default && !b.Default:
			return -1
		case b.Default && !a.Default:
			return 1
		}
		return 0
	})
	return out
}
