package httpserver

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"maps"
	"slices"

	"github.com/dmitrymomot/seatledger/pkg/logger"
)

// Check probes one dependency.
type Check func(context.Context) error

// LivenessHandler answers 200 while the process serves requests.
func LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeStatus(w, http.StatusOK, map[string]any{"status": "alive"})
	}
}

// ReadinessHandler runs every check with the request context. It answers 200
// when all pass and 503 listing the failed dependencies otherwise.
func ReadinessHandler(log *slog.Logger, checks map[string]Check) http.HandlerFunc {
	if log == nil {
		log = logger.Discard()
	}
	names := slices.Sorted(maps.Keys(checks))

	return func(w http.ResponseWriter, r *http.Request) {
		results := make(map[string]string, len(names))
		code := http.StatusOK
		for _, name := range names {
			if err := checks[name](r.Context()); err != nil {
				log.WarnContext(r.Context(), "readiness check failed", slog.String("check", name), logger.Error(err))
				results[name] = "unavailable"
				code = http.StatusServiceUnavailable
				continue
			}
			results[name] = "ok"
		}

		status := "ready"
		if code != http.StatusOK {
			status = "not_ready"
		}
		writeStatus(w, code, map[string]any{"status": status, "checks": results})
	}
}

func writeStatus(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}
