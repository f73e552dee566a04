package ratelimiter

import (
	"hash/fnv"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// maxKeyLength bounds stored keys; longer composite keys are hashed.
const maxKeyLength = 64

// KeyFunc extracts a rate limit key from the request. An empty key skips limiting.
type KeyFunc func(r *http.Request) string

// Composite joins the non-empty keys of keyFuncs with ":".
// Keys longer than 64 bytes are replaced by their FNV-1a hash in base 36.
func Composite(keyFuncs ...KeyFunc) KeyFunc {
	return func(r *http.Request) string {
		parts := make([]string, 0, len(keyFuncs))
		for _, fn := range keyFuncs {
			if key := fn(r); key != "" {
				parts = append(parts, key)
			}
		}
		if len(parts) == 0 {
			return ""
		}

		combined := strings.Join(parts, ":")
		if len(combined) <= maxKeyLength {
			return combined
		}
		h := fnv.New64a()
		_, _ = h.Write([]byte(combined))
		return strconv.FormatUint(h.Sum64(), 36)
	}
}

// Middleware rejects requests over the limit of their key.
// Rate limit headers are set on every limited response. Over the limit, and when
// the limiter itself fails, onDenied writes the response; err is nil for plain denials.
func Middleware(limiter RateLimiter, keyFunc KeyFunc, onDenied func(w http.ResponseWriter, r *http.Request, err error)) func(http.Handler) http.Handler {
	if onDenied == nil {
		onDenied = func(w http.ResponseWriter, _ *http.Request, err error) {
			if err != nil {
				http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
				return
			}
			http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
		}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := keyFunc(r)
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}

			result, err := limiter.Allow(r.Context(), key)
			if err != nil {
				onDenied(w, r, err)
				return
			}

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(result.Limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(max(0, result.Remaining)))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt.Unix(), 10))

			if !result.Allowed() {
				if secs := int(result.RetryAfter(time.Now()).Round(time.Second).Seconds()); secs > 0 {
					w.Header().Set("Retry-After", strconv.Itoa(secs))
				}
				onDenied(w, r, nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
