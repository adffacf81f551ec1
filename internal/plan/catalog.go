package plan

// Catalog resolves plan ids to catalog entries. The free plan is not
// purchasable but stays addressable as the demotion target.
type Catalog struct {
	plans map[Type]Plan
	order []Type
}

func NewCatalog() *Catalog {
	c := &Catalog{plans: make(map[Type]Plan)}
	for _, p := range defaultPlans() {
		c.plans[p.ID] = p
		c.order = append(c.order, p.ID)
	}
	return c
}

func defaultPlans() []Plan {
	return []Plan{
		{ID: TypeFree, Name: "Free", PriceCents: 0, TokensPerPeriod: 1000},
		{ID: TypeMonthly, Name: "Studio Monthly", PriceCents: 2900, Interval: IntervalMonth, TokensPerPeriod: 5000},
		{ID: TypeSixMonth, Name: "Studio 6 Months", PriceCents: 14900, Interval: IntervalSixMonths, TokensPerPeriod: 30000},
		{ID: TypeAnnual, Name: "Studio Annual", PriceCents: 27900, Interval: IntervalYear, TokensPerPeriod: 60000},
	}
}

// Get resolves any plan, including the free demotion target.
func (c *Catalog) Get(id Type) (Plan, error) {
	p, ok := c.plans[id]
	if !ok {
		return Plan{}, ErrUnknownPlan
	}
	return p, nil
}

// GetPurchasable resolves a plan a user may activate. The free plan is
// excluded here on purpose.
func (c *Catalog) GetPurchasable(id Type) (Plan, error) {
	p, err := c.Get(id)
	if err != nil {
		return Plan{}, err
	}
	if p.IsFree() {
		return Plan{}, ErrUnknownPlan
	}
	return p, nil
}

// Free returns the free-tier entry.
func (c *Catalog) Free() Plan {
	return c.plans[TypeFree]
}

// Purchasable lists the paid plans in catalog order.
func (c *Catalog) Purchasable() []Plan {
	out := make([]Plan, 0, len(c.order))
	for _, id := range c.order {
		p := c.plans[id]
		if p.IsFree() {
			continue
		}
		out = append(out, p)
	}
	return out
}
