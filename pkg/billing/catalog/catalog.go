package catalog

import (
	"cmp"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/dmitrymomot/seatledger/pkg/billing"
)

var (
	ErrInvalidCatalog = errors.New("catalog: invalid definition")
	ErrFailedToRead   = errors.New("catalog: failed to read definition")
)

type document struct {
	DefaultFreePlan  string            `yaml:"default_free_plan"`
	DefaultTrialPlan string            `yaml:"default_trial_plan"`
	FreePlans        map[string]string `yaml:"free_plans"`
	TrialPlans       map[string]string `yaml:"trial_plans"`
	Plans            []planDocument    `yaml:"plans"`
}

type planDocument struct {
	ID        string        `yaml:"id"`
	Name      string        `yaml:"name"`
	EditionID string        `yaml:"edition_id"`
	Seats     int           `yaml:"seats"`
	Months    int           `yaml:"months"`
	Price     billing.Money `yaml:"price"`
}

type tierKey struct {
	edition string
	months  int
}

// Catalog is an immutable, file-backed billing.Catalog.
// Paid plans are seat tiers: a request is priced with the smallest tier of the
// same edition and duration that holds the requested seats.
type Catalog struct {
	tiers        map[tierKey][]billing.Plan // sorted by seats
	byID         map[string]billing.Plan
	free         map[billing.Channel]string
	trial        map[billing.Channel]string
	defaultFree  string
	defaultTrial string
}

var _ billing.Catalog = (*Catalog)(nil)

// LoadFile reads a YAML catalog from path.
func LoadFile(path string) (*Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Join(ErrFailedToRead, err)
	}
	defer f.Close()
	return Load(f)
}

// Load parses and validates a YAML catalog.
func Load(r io.Reader) (*Catalog, error) {
	var doc document
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return nil, errors.Join(ErrFailedToRead, err)
	}
	return build(doc)
}

func build(doc document) (*Catalog, error) {
	c := &Catalog{
		tiers:        make(map[tierKey][]billing.Plan),
		byID:         make(map[string]billing.Plan, len(doc.Plans)),
		free:         make(map[billing.Channel]string, len(doc.FreePlans)),
		trial:        make(map[billing.Channel]string, len(doc.TrialPlans)),
		defaultFree:  doc.DefaultFreePlan,
		defaultTrial: cmp.Or(doc.DefaultTrialPlan, doc.DefaultFreePlan),
	}

	var errs []error
	if c.defaultFree == "" {
		errs = append(errs, errors.New("default_free_plan is required"))
	}

	for i, p := range doc.Plans {
		plan := billing.Plan{
			ID:        p.ID,
			Name:      cmp.Or(p.Name, p.ID),
			EditionID: p.EditionID,
			Seats:     p.Seats,
			Months:    p.Months,
			Price:     p.Price,
		}
		switch {
		case p.ID == "":
			errs = append(errs, fmt.Errorf("plan #%d: id is required", i))
			continue
		case p.EditionID == "":
			errs = append(errs, fmt.Errorf("plan %q: edition_id is required", p.ID))
			continue
		case p.Seats <= 0 || p.Months <= 0:
			errs = append(errs, fmt.Errorf("plan %q: seats and months must be positive", p.ID))
			continue
		case p.Price.Amount < 0:
			errs = append(errs, fmt.Errorf("plan %q: negative price", p.ID))
			continue
		}
		if _, exists := c.byID[p.ID]; exists {
			errs = append(errs, fmt.Errorf("plan %q: duplicate id", p.ID))
			continue
		}

		key := tierKey{edition: p.EditionID, months: p.Months}
		if slices.ContainsFunc(c.tiers[key], func(other billing.Plan) bool { return other.Seats == p.Seats }) {
			errs = append(errs, fmt.Errorf("plan %q: duplicate tier %s/%d seats/%d months", p.ID, p.EditionID, p.Seats, p.Months))
			continue
		}
		c.byID[p.ID] = plan
		c.tiers[key] = append(c.tiers[key], plan)
	}

	for key := range c.tiers {
		slices.SortFunc(c.tiers[key], func(a, b billing.Plan) int { return cmp.Compare(a.Seats, b.Seats) })
	}
	for ch, id := range doc.FreePlans {
		c.free[billing.Channel(ch)] = id
	}
	for ch, id := range doc.TrialPlans {
		c.trial[billing.Channel(ch)] = id
	}

	if len(errs) > 0 {
		return nil, errors.Join(append([]error{ErrInvalidCatalog}, errs...)...)
	}
	return c, nil
}

func (c *Catalog) PriceFor(editionID string, seats, months int) (billing.Plan, error) {
	if seats <= 0 || months <= 0 {
		return billing.Plan{}, fmt.Errorf("%w: %d seats for %d months", billing.ErrPlanNotFound, seats, months)
	}
	for _, plan := range c.tiers[tierKey{edition: editionID, months: months}] {
		if plan.Seats >= seats {
			return plan, nil
		}
	}
	return billing.Plan{}, fmt.Errorf("%w: edition %q, %d seats, %d months", billing.ErrPlanNotFound, editionID, seats, months)
}

func (c *Catalog) FreePlan(channel billing.Channel) (billing.Plan, error) {
	return c.basePlan(cmp.Or(c.free[channel], c.defaultFree)), nil
}

func (c *Catalog) TrialPlan(channel billing.Channel) (billing.Plan, error) {
	id := cmp.Or(c.trial[channel], c.defaultTrial)
	if id == "" {
		return billing.Plan{}, fmt.Errorf("%w: no trial plan for channel %q", billing.ErrPlanNotFound, channel)
	}
	return c.basePlan(id), nil
}

// Editions lists the editions that have at least one priced plan.
func (c *Catalog) Editions() []string {
	var out []string
	for key := range c.tiers {
		if !slices.Contains(out, key.edition) {
			out = append(out, key.edition)
		}
	}
	slices.Sort(out)
	return out
}

// basePlan resolves free and trial plans, which are referenced by id and need no tier entry.
func (c *Catalog) basePlan(id string) billing.Plan {
	if p, ok := c.byID[id]; ok {
		return p
	}
	return billing.Plan{ID: id, Name: id}
}
