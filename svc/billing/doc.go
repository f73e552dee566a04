// Package billing assembles the reconciliation engine into a runnable daemon.
//
// LoadConfig reads the environment, New connects the selected ledger and lock
// backends, registers the enabled channel classifiers and builds the HTTP intake,
// and Run serves it until the context is cancelled:
//
//	cfg, err := billing.LoadConfig()
//	if err != nil {
//		return err
//	}
//	app, err := billing.New(ctx, cfg, log)
//	if err != nil {
//		return err
//	}
//	return app.Run(ctx)
//
// Vendors deliver to POST /webhooks/{channel}. Acknowledged outcomes (processed,
// duplicate, unknown order) answer 200 and ignored event types answer 202, so the
// vendor stops redelivering. Signature failures answer 401, malformed payloads
// 400 and unknown channels 404. Failures a redelivery can fix, such as a catalog
// miss or a store outage, answer 503.
//
// When BILLING_NOTIFY_URL is set every new state is posted downstream as a
// signed "subscription.state_changed" webhook by a background worker.
package billing
