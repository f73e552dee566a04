package requestid

import (
	"net/http"
	"regexp"

	"github.com/google/uuid"
)

const (
	Header      = "X-Request-ID"
	maxIDLength = 128
)

var validID = regexp.MustCompile(`^[a-zA-Z0-9_.:-]+$`)

// Middleware tags each request with an id taken from the first of headers that
// carries a valid one, or a fresh UUID. Vendor delivery ids (for example
// "X-Webhook-ID") can be listed so retries of one delivery share an id in logs.
// The id is echoed in the Header response header.
func Middleware(headers ...string) func(http.Handler) http.Handler {
	if len(headers) == 0 {
		headers = []string{Header}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := ""
			for _, h := range headers {
				if v := r.Header.Get(h); isValid(v) {
					id = v
					break
				}
			}
			if id == "" {
				id = uuid.NewString()
			}
			w.Header().Set(Header, id)
			next.ServeHTTP(w, r.WithContext(WithContext(r.Context(), id)))
		})
	}
}

func isValid(id string) bool {
	return id != "" && len(id) <= maxIDLength && validID.MatchString(id)
}
