package billing

// Plan is a catalog entry: the internal plan identifier consumed by the rest of the product
// together with the vendor edition, seat tier and duration it is priced for.
type Plan struct {
	ID        string
	Name      string
	EditionID string
	Seats     int
	Months    int
	Price     Money
}

// Catalog maps vendor editions to internal plans.
// Implementations must be pure and safe for concurrent use; the engine never locks around them.
type Catalog interface {
	// PriceFor returns the plan for an edition, seat count and duration in months.
	// Returns ErrPlanNotFound when no plan matches.
	PriceFor(editionID string, seats, months int) (Plan, error)

	// FreePlan returns the default plan of a channel. It never expires.
	FreePlan(channel Channel) (Plan, error)

	// TrialPlan returns the plan granted while a vendor trial is active.
	TrialPlan(channel Channel) (Plan, error)
}
