package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// SignatureHeader carries the signature of inbound and outbound payloads.
const SignatureHeader = "X-Webhook-Signature"

// Delivery headers set by Notifier.
const (
	IDHeader    = "X-Webhook-ID"    // stable across retries of one delivery
	EventHeader = "X-Webhook-Event" // event name
)

// DefaultTolerance is the accepted clock distance between signer and verifier.
const DefaultTolerance = 5 * time.Minute

// Sign returns the header value "t=<unix>,v1=<hex>" where v1 is
// HMAC-SHA256(secret, "<unix>.<payload>").
func Sign(secret string, payload []byte, at time.Time) (string, error) {
	if secret == "" {
		return "", ErrMissingSecret
	}
	ts := at.Unix()
	return fmt.Sprintf("t=%d,v1=%s", ts, digest(secret, ts, payload)), nil
}

// Verify checks a header produced by Sign. Any of several v1 entries may match, which
// allows rotating secrets on the signing side. A non-positive tolerance skips the
// timestamp check.
func Verify(secret string, payload []byte, header string, now time.Time, tolerance time.Duration) error {
	if secret == "" {
		return ErrMissingSecret
	}
	ts, sigs, err := parseHeader(header)
	if err != nil {
		return err
	}

	if tolerance > 0 {
		skew := now.Sub(time.Unix(ts, 0))
		if skew > tolerance || skew < -tolerance {
			return fmt.Errorf("%w: %s", ErrSignatureExpired, skew)
		}
	}

	expected := []byte(digest(secret, ts, payload))
	for _, sig := range sigs {
		if hmac.Equal(expected, []byte(sig)) {
			return nil
		}
	}
	return fmt.Errorf("%w: signature mismatch", ErrInvalidSignature)
}

func parseHeader(header string) (int64, []string, error) {
	var (
		ts   int64
		sigs []string
	)
	for part := range strings.SplitSeq(header, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch key {
		case "t":
			n, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return 0, nil, fmt.Errorf("%w: bad timestamp %q", ErrInvalidSignature, value)
			}
			ts = n
		case "v1":
			sigs = append(sigs, value)
		}
	}
	if ts == 0 || len(sigs) == 0 {
		return 0, nil, fmt.Errorf("%w: malformed header", ErrInvalidSignature)
	}
	return ts, sigs, nil
}

func digest(secret string, ts int64, payload []byte) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write([]byte(strconv.FormatInt(ts, 10)))
	h.Write([]byte{'.'})
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}
