// Package paddle classifies payment provider notifications into billing events.
//
// Supported notifications:
//
//   - transaction.completed: a paid order. The transaction origin selects the order
//     type (subscription_recurring renews, subscription_update upgrades or, with
//     custom_data.edition_change set, changes edition; anything else is a new order).
//     Seats come from the first item quantity, the edition from custom_data.edition_id
//     or the first item price id, and the window from billing_period.
//   - adjustment.created, adjustment.updated: an approved refund of transaction_id.
//   - subscription.trialing: a trial grant ending at the first item trial end.
//
// Signatures are verified with the provider SDK webhook verifier unless the
// classifier runs in sandbox mode.
package paddle
