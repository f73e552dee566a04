// Package clientip resolves the source address of webhook deliveries and
// checks it against per-vendor allowlists.
//
// FromRequest reads the configured proxy headers in order and falls back to
// the TCP peer address. Middleware stores the result in the request context so
// handlers and log records (see LoggerExtractor) can use it:
//
//	r.Use(clientip.Middleware("X-Forwarded-For"))
//
// Allowlist holds the address ranges a vendor publishes for its webhook
// senders. An empty Allowlist allows every address.
package clientip
