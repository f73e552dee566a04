// Package catalog loads the plan catalog of the billing engine from YAML.
//
//	default_free_plan: free
//	default_trial_plan: trial
//	free_plans:
//	  wecom: wecom-free
//	plans:
//	  - id: pro-10-12m
//	    edition_id: pro
//	    seats: 10
//	    months: 12
//	    price: {amount: 360000, currency: CNY}
//	  - id: pro-50-12m
//	    edition_id: pro
//	    seats: 50
//	    months: 12
//	    price: {amount: 1500000, currency: CNY}
//
// A request for 20 seats of "pro" for 12 months resolves to pro-50-12m. Requests
// beyond the largest tier or for an unlisted duration return billing.ErrPlanNotFound.
// Free and trial plans are referenced by id per channel, falling back to the defaults.
package catalog
