package billing

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"slices"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/dmitrymomot/seatledger/pkg/billing"
	"github.com/dmitrymomot/seatledger/pkg/billing/paddle"
	"github.com/dmitrymomot/seatledger/pkg/clientip"
	"github.com/dmitrymomot/seatledger/pkg/httpserver"
	"github.com/dmitrymomot/seatledger/pkg/logger"
	"github.com/dmitrymomot/seatledger/pkg/ratelimiter"
	"github.com/dmitrymomot/seatledger/pkg/requestid"
	"github.com/dmitrymomot/seatledger/pkg/webhook"
)

const defaultMaxBodyBytes = 1 << 20

type routerConfig struct {
	log          *slog.Logger
	metrics      *Metrics
	checks       map[string]httpserver.Check
	maxBodyBytes int64
	ipHeaders    []string
	allowlists   map[billing.Channel]clientip.Allowlist
	limiter      ratelimiter.RateLimiter
}

// RouterOption configures NewRouter.
type RouterOption func(*routerConfig)

// WithRouterLogger sets the request logger.
func WithRouterLogger(log *slog.Logger) RouterOption {
	return func(c *routerConfig) {
		if log != nil {
			c.log = log
		}
	}
}

// WithMetrics counts requests and mounts GET /metrics.
func WithMetrics(m *Metrics) RouterOption {
	return func(c *routerConfig) { c.metrics = m }
}

// WithReadiness sets the dependency checks of GET /health/ready.
func WithReadiness(checks map[string]httpserver.Check) RouterOption {
	return func(c *routerConfig) { c.checks = checks }
}

// WithMaxBodyBytes limits webhook payload size.
func WithMaxBodyBytes(n int64) RouterOption {
	return func(c *routerConfig) {
		if n > 0 {
			c.maxBodyBytes = n
		}
	}
}

// WithClientIPHeaders sets the proxy headers trusted for the source address.
func WithClientIPHeaders(headers ...string) RouterOption {
	return func(c *routerConfig) { c.ipHeaders = headers }
}

// WithSourceAllowlist rejects deliveries of channel from addresses outside list.
func WithSourceAllowlist(channel billing.Channel, list clientip.Allowlist) RouterOption {
	return func(c *routerConfig) {
		if list.Empty() {
			return
		}
		if c.allowlists == nil {
			c.allowlists = make(map[billing.Channel]clientip.Allowlist)
		}
		c.allowlists[channel] = list
	}
}

// WithRateLimiter throttles webhook deliveries per channel and source address.
func WithRateLimiter(l ratelimiter.RateLimiter) RouterOption {
	return func(c *routerConfig) { c.limiter = l }
}

// NewRouter exposes the service over HTTP:
//
//	POST /webhooks/{channel}                       vendor deliveries
//	GET  /tenants/{channel}/{tenantID}/subscription current state
//	GET  /channels                                 registered channels
//	GET  /health/live, /health/ready, /metrics
func NewRouter(svc billing.Service, opts ...RouterOption) chi.Router {
	if svc == nil {
		panic("billing: Service is required")
	}
	cfg := &routerConfig{log: logger.Discard(), maxBodyBytes: defaultMaxBodyBytes}
	for _, opt := range opts {
		opt(cfg)
	}
	h := &handlers{
		svc:          svc,
		log:          cfg.log.With(logger.Component("intake")),
		maxBodyBytes: cfg.maxBodyBytes,
		allowlists:   cfg.allowlists,
	}

	r := chi.NewRouter()
	r.Use(requestid.Middleware(webhook.IDHeader, requestid.Header))
	r.Use(clientip.Middleware(cfg.ipHeaders...))
	r.Use(middleware.Recoverer)
	if cfg.metrics != nil {
		r.Use(countRequests(cfg.metrics))
	}

	if cfg.limiter != nil {
		r.With(ratelimiter.Middleware(cfg.limiter, deliveryKey, h.throttled)).Post("/webhooks/{channel}", h.webhook)
	} else {
		r.Post("/webhooks/{channel}", h.webhook)
	}
	r.Get("/tenants/{channel}/{tenantID}/subscription", h.subscription)
	r.Get("/channels", h.channels)

	r.Get("/health/live", httpserver.LivenessHandler())
	r.Get("/health/ready", httpserver.ReadinessHandler(cfg.log, cfg.checks))
	if cfg.metrics != nil {
		r.Method(http.MethodGet, "/metrics", cfg.metrics.Handler())
	}
	return r
}

type handlers struct {
	svc          billing.Service
	log          *slog.Logger
	maxBodyBytes int64
	allowlists   map[billing.Channel]clientip.Allowlist
}

func (h *handlers) webhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	channel := billing.Channel(chi.URLParam(r, "channel"))

	if list, ok := h.allowlists[channel]; ok && !list.Allows(clientip.FromContext(ctx)) {
		h.log.WarnContext(ctx, "webhook from disallowed source", logger.Channel(string(channel)))
		writeJSON(w, http.StatusForbidden, ErrorResponse{Error: "source address not allowed", Outcome: "forbidden_source"})
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, ErrorResponse{Error: "payload too large", Outcome: "malformed"})
			return
		}
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "failed to read payload", Outcome: "malformed"})
		return
	}

	signature := r.Header.Get(paddle.SignatureHeader)
	if signature == "" {
		signature = r.Header.Get(webhook.SignatureHeader)
	}

	start := time.Now()
	state, err := h.svc.HandleWebhook(ctx, channel, body, signature)
	outcome := billing.Outcome(err)
	code := statusFor(err)

	attrs := []any{
		logger.Channel(string(channel)),
		slog.String("outcome", outcome),
		slog.Int("status", code),
		logger.Duration(time.Since(start)),
	}
	if !state.Tenant.IsZero() {
		attrs = append(attrs, logger.Tenant(state.Tenant.Key()), logger.PlanID(state.PlanID))
	}
	switch {
	case code >= http.StatusInternalServerError:
		h.log.ErrorContext(ctx, "webhook not processed", append(attrs, logger.Error(err))...)
	case code >= http.StatusBadRequest:
		h.log.WarnContext(ctx, "webhook rejected", append(attrs, logger.Error(err))...)
	default:
		h.log.InfoContext(ctx, "webhook processed", attrs...)
	}

	if code >= http.StatusBadRequest {
		writeJSON(w, code, ErrorResponse{Error: publicMessage(err), Outcome: outcome})
		return
	}
	resp := WebhookResponse{Outcome: outcome}
	if !state.Tenant.IsZero() {
		view := NewStateView(state)
		resp.State = &view
	}
	writeJSON(w, code, resp)
}

func (h *handlers) throttled(w http.ResponseWriter, r *http.Request, err error) {
	if err != nil {
		h.log.ErrorContext(r.Context(), "rate limiter failed", logger.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, ErrorResponse{Error: "temporarily unavailable, retry later", Outcome: "retry"})
		return
	}
	h.log.WarnContext(r.Context(), "webhook throttled", logger.Channel(chi.URLParam(r, "channel")))
	writeJSON(w, http.StatusTooManyRequests, ErrorResponse{Error: "too many requests", Outcome: "rate_limited"})
}

// deliveryKey buckets deliveries by channel and source address.
var deliveryKey = ratelimiter.Composite(
	func(r *http.Request) string { return "webhook" },
	func(r *http.Request) string { return chi.URLParam(r, "channel") },
	func(r *http.Request) string { return clientip.FromContext(r.Context()) },
)

func (h *handlers) subscription(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenant := billing.Tenant{
		Channel: billing.Channel(chi.URLParam(r, "channel")),
		ID:      chi.URLParam(r, "tenantID"),
	}
	if !slices.Contains(h.svc.Channels(), tenant.Channel) {
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "unknown channel", Outcome: "unknown_channel"})
		return
	}

	state, err := h.svc.GetSubscription(ctx, tenant)
	if err != nil {
		code := statusFor(err)
		h.log.ErrorContext(ctx, "subscription lookup failed", logger.Tenant(tenant.Key()), logger.Error(err))
		writeJSON(w, code, ErrorResponse{Error: publicMessage(err), Outcome: billing.Outcome(err)})
		return
	}
	writeJSON(w, http.StatusOK, NewStateView(state))
}

func (h *handlers) channels(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"channels": h.svc.Channels()})
}

// statusFor maps handler errors to HTTP status codes. Vendors redeliver on 5xx,
// so only failures a redelivery can fix use that range.
func statusFor(err error) int {
	switch {
	case billing.IsAcknowledged(err):
		return http.StatusOK
	case errors.Is(err, billing.ErrUnsupportedEvent):
		// acknowledged and ignored: the vendor must not retry it
		return http.StatusAccepted
	case errors.Is(err, billing.ErrUnknownChannel):
		return http.StatusNotFound
	case errors.Is(err, billing.ErrInvalidSignature):
		return http.StatusUnauthorized
	case errors.Is(err, billing.ErrMalformedEvent), errors.Is(err, billing.ErrInvalidTenant):
		return http.StatusBadRequest
	case billing.IsRetryable(err):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// publicMessage hides internal error details from vendors.
func publicMessage(err error) string {
	switch {
	case errors.Is(err, billing.ErrUnknownChannel):
		return "unknown channel"
	case errors.Is(err, billing.ErrInvalidSignature):
		return "invalid signature"
	case errors.Is(err, billing.ErrMalformedEvent), errors.Is(err, billing.ErrInvalidTenant):
		return "malformed event"
	case billing.IsRetryable(err):
		return "temporarily unavailable, retry later"
	default:
		return "internal error"
	}
}

func countRequests(m *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			route := "unmatched"
			if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
				route = rctx.RoutePattern()
			}
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			m.ObserveRequest(route, status)
		})
	}
}

func writeJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}
