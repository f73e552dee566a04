// Package webhook signs and verifies webhook payloads and delivers outbound notifications.
//
// Signatures use a single header, "t=<unix>,v1=<hex>", where v1 is
// HMAC-SHA256(secret, "<unix>.<payload>"). Verify accepts several v1 entries so
// that secrets can be rotated on the signing side.
//
//	header, _ := webhook.Sign(secret, payload, time.Now())
//	err := webhook.Verify(secret, payload, header, time.Now(), webhook.DefaultTolerance)
//
// Notifier posts JSON to one endpoint, retrying with exponential backoff and
// stopping behind a circuit breaker when the endpoint keeps failing.
package webhook
