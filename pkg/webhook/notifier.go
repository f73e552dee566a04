package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"math/rand/v2"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Notifier delivers signed JSON notifications to one endpoint with retries,
// exponential backoff and a circuit breaker. Safe for concurrent use.
type Notifier struct {
	url        string
	secret     string
	client     *http.Client
	timeout    time.Duration
	maxRetries int
	backoff    Backoff
	breaker    *breaker
	now        func() time.Time
}

// Option configures a Notifier.
type Option func(*Notifier)

// WithSecret signs every request with SignatureHeader.
func WithSecret(secret string) Option {
	return func(n *Notifier) { n.secret = secret }
}

// WithHTTPClient replaces the default client.
func WithHTTPClient(c *http.Client) Option {
	return func(n *Notifier) {
		if c != nil {
			n.client = c
		}
	}
}

// WithTimeout bounds each delivery attempt.
func WithTimeout(d time.Duration) Option {
	return func(n *Notifier) {
		if d > 0 {
			n.timeout = d
		}
	}
}

// WithRetries sets how many times a failed delivery is retried.
func WithRetries(attempts int, backoff Backoff) Option {
	return func(n *Notifier) {
		if attempts >= 0 {
			n.maxRetries = attempts
		}
		n.backoff = backoff
	}
}

// WithCircuitBreaker stops delivery for cooldown after threshold consecutive failures.
func WithCircuitBreaker(threshold int, cooldown time.Duration) Option {
	return func(n *Notifier) {
		if threshold > 0 && cooldown > 0 {
			n.breaker = &breaker{threshold: threshold, cooldown: cooldown}
		}
	}
}

// NewNotifier creates a notifier for an http(s) endpoint.
func NewNotifier(endpoint string, opts ...Option) (*Notifier, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidURL, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidURL, endpoint)
	}

	n := &Notifier{
		url:        endpoint,
		client:     &http.Client{},
		timeout:    10 * time.Second,
		maxRetries: 3,
		backoff:    Backoff{Initial: 500 * time.Millisecond, Max: 10 * time.Second, Jitter: 0.1},
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(n)
	}
	return n, nil
}

// Notify posts data as JSON. The event name is sent in X-Webhook-Event.
// 4xx responses other than 408, 425 and 429 are not retried.
func (n *Notifier) Notify(ctx context.Context, event string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidPayload, err)
	}
	if n.breaker != nil && !n.breaker.allow(n.now()) {
		return ErrCircuitOpen
	}

	id := uuid.NewString()
	var lastErr error
	for attempt := 0; attempt <= n.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(n.backoff.Interval(attempt)):
			}
		}

		status, err := n.deliver(ctx, id, event, payload)
		if n.breaker != nil {
			n.breaker.record(err == nil, n.now())
		}
		if err == nil {
			return nil
		}
		lastErr = err
		if isPermanent(status) {
			return fmt.Errorf("%w: %w", ErrPermanentFailure, err)
		}
	}
	return fmt.Errorf("%w after %d attempts: %w", ErrDeliveryFailed, n.maxRetries+1, lastErr)
}

func (n *Notifier) deliver(ctx context.Context, id, event string, payload []byte) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(payload))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "seatledger-notifier/1.0")
	req.Header.Set(IDHeader, id)
	if event != "" {
		req.Header.Set(EventHeader, event)
	}
	if n.secret != "" {
		sig, err := Sign(n.secret, payload, n.now())
		if err != nil {
			return 0, err
		}
		req.Header.Set(SignatureHeader, sig)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		return resp.StatusCode, nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	msg := strings.ReplaceAll(strings.TrimSpace(string(body)), "\n", " ")
	return resp.StatusCode, fmt.Errorf("endpoint returned %d: %s", resp.StatusCode, msg)
}

func isPermanent(status int) bool {
	if status < 400 || status >= 500 {
		return false
	}
	switch status {
	case http.StatusRequestTimeout, http.StatusTooEarly, http.StatusTooManyRequests:
		return false
	}
	return true
}

// Backoff computes exponential retry delays: Initial * 2^(attempt-1), capped at Max,
// spread by ±Jitter.
type Backoff struct {
	Initial time.Duration
	Max     time.Duration
	Jitter  float64
}

// Interval returns the delay before the given retry attempt (starting at 1).
func (b Backoff) Interval(attempt int) time.Duration {
	if attempt <= 0 || b.Initial <= 0 {
		return 0
	}
	d := float64(b.Initial) * math.Pow(2, float64(attempt-1))
	if b.Jitter > 0 {
		d *= 1 + (rand.Float64()*2-1)*b.Jitter
	}
	if b.Max > 0 && d > float64(b.Max) {
		d = float64(b.Max)
	}
	return time.Duration(d)
}

type breaker struct {
	mu        sync.Mutex
	threshold int
	cooldown  time.Duration
	failures  int
	openUntil time.Time
}

// allow lets one probe through once the cooldown has elapsed.
func (b *breaker) allow(now time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failures < b.threshold {
		return true
	}
	if now.Before(b.openUntil) {
		return false
	}
	b.openUntil = now.Add(b.cooldown)
	return true
}

func (b *breaker) record(ok bool, now time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ok {
		b.failures = 0
		return
	}
	b.failures++
	if b.failures >= b.threshold {
		b.openUntil = now.Add(b.cooldown)
	}
}
