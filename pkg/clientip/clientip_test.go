package clientip_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/seatledger/pkg/clientip"
)

func TestFromRequest(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		headers map[string]string
		remote  string
		use     []string
		want    string
	}{
		{name: "remote addr", remote: "198.51.100.4:5123", want: "198.51.100.4"},
		{name: "remote addr without port", remote: "198.51.100.4", want: "198.51.100.4"},
		{name: "ipv6 remote", remote: "[2001:db8::1]:443", want: "2001:db8::1"},
		{
			name:    "first valid forwarded entry",
			headers: map[string]string{"X-Forwarded-For": "garbage, 203.0.113.9, 10.0.0.1"},
			remote:  "10.0.0.2:80",
			use:     clientip.DefaultHeaders,
			want:    "203.0.113.9",
		},
		{
			name:    "untrusted header ignored",
			headers: map[string]string{"X-Forwarded-For": "203.0.113.9"},
			remote:  "10.0.0.2:80",
			want:    "10.0.0.2",
		},
		{
			name:    "mapped ipv4 is unmapped",
			headers: map[string]string{"X-Real-IP": "::ffff:203.0.113.9"},
			remote:  "10.0.0.2:80",
			use:     []string{"X-Real-IP"},
			want:    "203.0.113.9",
		},
		{name: "invalid remote", remote: "not-an-ip", want: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			r := httptest.NewRequest(http.MethodPost, "/", nil)
			r.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				r.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, clientip.FromRequest(r, tt.use...))
		})
	}
}

func TestMiddleware(t *testing.T) {
	t.Parallel()

	var got string
	h := clientip.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = clientip.FromContext(r.Context())
	}))
	r := httptest.NewRequest(http.MethodPost, "/", nil)
	r.Header.Set("X-Real-IP", "203.0.113.5")
	h.ServeHTTP(httptest.NewRecorder(), r)
	assert.Equal(t, "203.0.113.5", got)

	attr, ok := clientip.LoggerExtractor()(clientip.WithContext(context.Background(), "203.0.113.5"))
	require.True(t, ok)
	assert.Equal(t, "client_ip", attr.Key)

	_, ok = clientip.LoggerExtractor()(context.Background())
	assert.False(t, ok)
}

func TestAllowlist(t *testing.T) {
	t.Parallel()

	t.Run("empty allows everything", func(t *testing.T) {
		t.Parallel()
		var l clientip.Allowlist
		assert.True(t, l.Empty())
		assert.True(t, l.Allows("203.0.113.1"))
		assert.True(t, l.Allows(""))
	})

	t.Run("addresses and prefixes", func(t *testing.T) {
		t.Parallel()
		l, err := clientip.ParseAllowlist([]string{"34.232.58.13", " 203.0.113.0/24 ", "", "2001:db8::/32"})
		require.NoError(t, err)

		assert.True(t, l.Allows("34.232.58.13"))
		assert.True(t, l.Allows("203.0.113.200"))
		assert.True(t, l.Allows("2001:db8::5"))
		assert.True(t, l.Allows("::ffff:34.232.58.13"))
		assert.False(t, l.Allows("34.232.58.14"))
		assert.False(t, l.Allows("198.51.100.1"))
		assert.False(t, l.Allows(""))
	})

	t.Run("invalid entry", func(t *testing.T) {
		t.Parallel()
		_, err := clientip.ParseAllowlist([]string{"203.0.113.0/33"})
		assert.ErrorIs(t, err, clientip.ErrInvalidPrefix)
		_, err = clientip.ParseAllowlist([]string{"paddle.com"})
		assert.ErrorIs(t, err, clientip.ErrInvalidPrefix)
	})
}
