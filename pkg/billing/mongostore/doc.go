// Package mongostore persists the order ledger and trial grants in MongoDB.
//
// Orders live in one collection with a unique (channel, tenant_id, order_id)
// index; trial grants are upserted per (channel, tenant_id). Mongo stores
// timestamps with millisecond precision.
package mongostore
