package billing

import "strings"

const defaultTotalCount = 12

// Plan maps a local plan name onto provider plan identifiers.
type Plan struct {
	// Name is the local plan name; matched case-insensitively and stored lower-cased.
	Name string

	// PlanID is the provider plan id billed for the default (monthly) interval.
	PlanID string

	// AnnualPlanID is the provider plan id used when an annual subscription is requested.
	AnnualPlanID string

	// Group allows a reference to hold several live subscriptions, one per group.
	Group string

	// SeatBased plans track organization membership through the subscription quantity.
	SeatBased bool

	// TotalCount is the number of billing cycles requested on create (default 12).
	TotalCount int

	// AnnualTotalCount is TotalCount for the annual plan id (default 1).
	AnnualTotalCount int

	// FreeTrialDays delays the first charge when greater than zero.
	FreeTrialDays int
}

// ProviderPlanID returns the provider plan id for the requested interval.
func (p *Plan) ProviderPlanID(annual bool) string {
	if annual {
		return p.AnnualPlanID
	}
	return p.PlanID
}

// CycleCount returns the billing cycle count sent on create for the interval.
func (p *Plan) CycleCount(annual bool) int {
	if annual {
		if p.AnnualTotalCount > 0 {
			return p.AnnualTotalCount
		}
		return 1
	}
	if p.TotalCount > 0 {
		return p.TotalCount
	}
	return defaultTotalCount
}

// Plans is the configured plan catalogue.
type Plans []Plan

// ByName finds a plan by its local name, case-insensitively.
func (ps Plans) ByName(name string) (*Plan, bool) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, false
	}
	for i := range ps {
		if strings.EqualFold(ps[i].Name, name) {
			return &ps[i], true
		}
	}
	return nil, false
}

// ByProviderPlanID finds the plan owning a provider plan id (monthly or annual).
func (ps Plans) ByProviderPlanID(id string) (*Plan, bool) {
	if id == "" {
		return nil, false
	}
	for i := range ps {
		if ps[i].PlanID == id || (ps[i].AnnualPlanID != "" && ps[i].AnnualPlanID == id) {
			return &ps[i], true
		}
	}
	return nil, false
}

// Resolve accepts either a local plan name or a provider plan id.
func (ps Plans) Resolve(nameOrID string) (*Plan, bool) {
	if p, ok := ps.ByName(nameOrID); ok {
		return p, true
	}
	return ps.ByProviderPlanID(nameOrID)
}

// LocalName returns the lower-cased local plan name for a provider plan id,
// or an empty string when the id is not configured.
func (ps Plans) LocalName(providerPlanID string) string {
	if p, ok := ps.ByProviderPlanID(providerPlanID); ok {
		return strings.ToLower(p.Name)
	}
	return ""
}
