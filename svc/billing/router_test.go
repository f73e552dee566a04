package billing_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/seatledger/pkg/billing"
	"github.com/dmitrymomot/seatledger/pkg/billing/catalog"
	"github.com/dmitrymomot/seatledger/pkg/billing/wecom"
	"github.com/dmitrymomot/seatledger/pkg/clientip"
	"github.com/dmitrymomot/seatledger/pkg/httpserver"
	"github.com/dmitrymomot/seatledger/pkg/ratelimiter"
	"github.com/dmitrymomot/seatledger/pkg/webhook"
	svc "github.com/dmitrymomot/seatledger/svc/billing"
)

const (
	begin = int64(1_736_496_000) // 2025-01-10T08:00:00Z
	year  = int64(365 * 24 * 3600)
)

const catalogYAML = `
default_free_plan: free
default_trial_plan: trial
free_plans:
  wecom: wecom-free
plans:
  - id: pro-10-12m
    edition_id: pro
    seats: 10
    months: 12
  - id: pro-50-12m
    edition_id: pro
    seats: 50
    months: 12
`

var now = time.Unix(begin, 0).UTC().Add(24 * time.Hour)

func paidPayload(orderID string, seats int) []byte {
	return fmt.Appendf(nil, `{
		"info_type": "pay_for_app_success",
		"timestamp": %d,
		"order": {
			"order_id": %q,
			"paid_corp_id": "corp-1",
			"order_type": 0,
			"edition_id": "pro",
			"user_count": %d,
			"order_period": 365,
			"begin_time": %d,
			"end_time": %d
		}
	}`, begin, orderID, seats, begin, begin+year)
}

func newService(t *testing.T, classifiers ...billing.Classifier) billing.Service {
	t.Helper()
	cat, err := catalog.Load(strings.NewReader(catalogYAML))
	require.NoError(t, err)

	if len(classifiers) == 0 {
		classifiers = append(classifiers, wecom.New(wecom.Config{}))
	}
	opts := []billing.ServiceOption{billing.WithClock(func() time.Time { return now })}
	for _, c := range classifiers {
		opts = append(opts, billing.WithClassifier(c))
	}
	return billing.NewService(cat, billing.NewMemoryStore(), opts...)
}

func post(t *testing.T, h http.Handler, path string, body []byte, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestRouter_Webhook(t *testing.T) {
	t.Parallel()

	t.Run("paid order", func(t *testing.T) {
		t.Parallel()
		h := svc.NewRouter(newService(t))

		rec := post(t, h, "/webhooks/wecom", paidPayload("o-1", 10), nil)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

		var resp svc.WebhookResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "ok", resp.Outcome)
		require.NotNil(t, resp.State)
		assert.Equal(t, "pro-10-12m", resp.State.PlanID)
		assert.Equal(t, "paid", resp.State.Tier)
		assert.Equal(t, 10, resp.State.Seats)
		require.NotNil(t, resp.State.Deadline)
	})

	t.Run("redelivery is acknowledged", func(t *testing.T) {
		t.Parallel()
		h := svc.NewRouter(newService(t))

		require.Equal(t, http.StatusOK, post(t, h, "/webhooks/wecom", paidPayload("o-1", 10), nil).Code)
		rec := post(t, h, "/webhooks/wecom", paidPayload("o-1", 10), nil)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"outcome":"duplicate"`)
	})

	t.Run("refund of unknown order is acknowledged", func(t *testing.T) {
		t.Parallel()
		h := svc.NewRouter(newService(t))

		rec := post(t, h, "/webhooks/wecom",
			[]byte(`{"info_type":"refund","timestamp":1736496000,"refund":{"order_id":"missing","paid_corp_id":"corp-1"}}`), nil)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"outcome":"unknown_order"`)
	})

	t.Run("plan missing from catalog asks for redelivery", func(t *testing.T) {
		t.Parallel()
		h := svc.NewRouter(newService(t))

		rec := post(t, h, "/webhooks/wecom", paidPayload("o-1", 500), nil)
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

		var resp svc.ErrorResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "retry", resp.Outcome)
	})

	tests := []struct {
		name    string
		path    string
		body    string
		code    int
		outcome string
	}{
		{"unknown channel", "/webhooks/stripe", `{}`, http.StatusNotFound, "unknown_channel"},
		{"malformed payload", "/webhooks/wecom", `{`, http.StatusBadRequest, "malformed"},
		{"unsupported event", "/webhooks/wecom", `{"info_type":"cancel_auth"}`, http.StatusAccepted, "unsupported"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			h := svc.NewRouter(newService(t))

			rec := post(t, h, tt.path, []byte(tt.body), nil)
			assert.Equal(t, tt.code, rec.Code)
			assert.Contains(t, rec.Body.String(), fmt.Sprintf(`"outcome":%q`, tt.outcome))
		})
	}

	t.Run("signature", func(t *testing.T) {
		t.Parallel()
		clock := func() time.Time { return now }
		h := svc.NewRouter(newService(t, wecom.New(wecom.Config{Secret: "s3cret"}, wecom.WithClock(clock))))
		payload := paidPayload("o-1", 10)

		rec := post(t, h, "/webhooks/wecom", payload, map[string]string{webhook.SignatureHeader: "t=1,v1=bad"})
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Contains(t, rec.Body.String(), `"outcome":"invalid_signature"`)

		sig, err := webhook.Sign("s3cret", payload, now)
		require.NoError(t, err)
		rec = post(t, h, "/webhooks/wecom", payload, map[string]string{webhook.SignatureHeader: sig})
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("payload too large", func(t *testing.T) {
		t.Parallel()
		h := svc.NewRouter(newService(t), svc.WithMaxBodyBytes(16))

		rec := post(t, h, "/webhooks/wecom", paidPayload("o-1", 10), nil)
		assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	})

	t.Run("request id is propagated", func(t *testing.T) {
		t.Parallel()
		h := svc.NewRouter(newService(t))

		rec := post(t, h, "/webhooks/wecom", paidPayload("o-1", 10), map[string]string{webhook.IDHeader: "delivery-42"})
		assert.Equal(t, "delivery-42", rec.Header().Get("X-Request-ID"))
	})
}

func TestRouter_Subscription(t *testing.T) {
	t.Parallel()
	h := svc.NewRouter(newService(t))

	t.Run("free plan before any order", func(t *testing.T) {
		rec := get(t, h, "/tenants/wecom/corp-9/subscription")
		require.Equal(t, http.StatusOK, rec.Code)

		var view svc.StateView
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
		assert.Equal(t, "wecom-free", view.PlanID)
		assert.Equal(t, "free", view.Tier)
		assert.Equal(t, "corp-9", view.TenantID)
		assert.Nil(t, view.Deadline)
	})

	t.Run("paid plan after order", func(t *testing.T) {
		require.Equal(t, http.StatusOK, post(t, h, "/webhooks/wecom", paidPayload("o-7", 20), nil).Code)

		rec := get(t, h, "/tenants/wecom/corp-1/subscription")
		require.Equal(t, http.StatusOK, rec.Code)

		var view svc.StateView
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
		assert.Equal(t, "pro-50-12m", view.PlanID)
		assert.Equal(t, 20, view.Seats)
	})

	t.Run("unknown channel", func(t *testing.T) {
		rec := get(t, h, "/tenants/stripe/corp-1/subscription")
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestRouter_Channels(t *testing.T) {
	t.Parallel()
	h := svc.NewRouter(newService(t))

	rec := get(t, h, "/channels")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"channels":["wecom"]}`, rec.Body.String())
}

func TestRouter_Health(t *testing.T) {
	t.Parallel()

	t.Run("liveness", func(t *testing.T) {
		t.Parallel()
		rec := get(t, svc.NewRouter(newService(t)), "/health/live")
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("readiness reports failing checks", func(t *testing.T) {
		t.Parallel()
		h := svc.NewRouter(newService(t), svc.WithReadiness(map[string]httpserver.Check{
			"store": func(context.Context) error { return nil },
			"lock":  func(context.Context) error { return errors.New("down") },
		}))

		rec := get(t, h, "/health/ready")
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		assert.Contains(t, rec.Body.String(), "not_ready")
	})
}

func TestRouter_Metrics(t *testing.T) {
	t.Parallel()
	m := svc.NewMetrics()
	s := newService(t, wecom.New(wecom.Config{}))
	h := svc.NewRouter(s, svc.WithMetrics(m))

	require.Equal(t, http.StatusOK, post(t, h, "/webhooks/wecom", paidPayload("o-1", 10), nil).Code)

	rec := get(t, h, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `billing_http_requests_total{code="200",route="/webhooks/{channel}"} 1`)
}

func TestRouter_SourceAllowlist(t *testing.T) {
	t.Parallel()
	list, err := clientip.ParseAllowlist([]string{"203.0.113.0/24"})
	require.NoError(t, err)
	h := svc.NewRouter(newService(t),
		svc.WithClientIPHeaders("X-Forwarded-For"),
		svc.WithSourceAllowlist(wecom.Channel, list),
	)

	rec := post(t, h, "/webhooks/wecom", paidPayload("o-1", 10), map[string]string{"X-Forwarded-For": "198.51.100.7"})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, rec.Body.String(), `"outcome":"forbidden_source"`)

	rec = post(t, h, "/webhooks/wecom", paidPayload("o-1", 10), map[string]string{"X-Forwarded-For": "203.0.113.20"})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRouter_RateLimit(t *testing.T) {
	t.Parallel()
	store := ratelimiter.NewMemoryStore(ratelimiter.WithCleanupInterval(0))
	t.Cleanup(func() { _ = store.Close() })
	limiter, err := ratelimiter.NewBucket(store, ratelimiter.Config{Capacity: 1, RefillRate: 1, RefillInterval: time.Hour})
	require.NoError(t, err)
	h := svc.NewRouter(newService(t), svc.WithRateLimiter(limiter))

	assert.Equal(t, http.StatusOK, post(t, h, "/webhooks/wecom", paidPayload("o-1", 10), nil).Code)

	rec := post(t, h, "/webhooks/wecom", paidPayload("o-2", 10), nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Contains(t, rec.Body.String(), `"outcome":"rate_limited"`)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))

	assert.Equal(t, http.StatusOK, get(t, h, "/tenants/wecom/corp-1/subscription").Code, "reads are not throttled")
}
