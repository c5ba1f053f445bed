package api

import (
	"net/http"
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock is a manually advanced time source.
type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func TestUserRateLimiter_AllowsBeforeThreshold(t *testing.T) {
	rl := newUserRateLimiter()

	for i := 0; i < userMaxFailures-1; i++ {
		rl.recordFailure("alice")
		blocked, _ := rl.check("alice")
		assert.False(t, blocked, "should not block before reaching userMaxFailures")
	}
}

func TestUserRateLimiter_BlocksAfterThreshold(t *testing.T) {
	clock := newFakeClock()
	rl := newUserRateLimiter()
	rl.now = clock.now

	for i := 0; i < userMaxFailures; i++ {
		rl.recordFailure("alice")
	}

	blocked, retryAfter := rl.check("alice")
	require.True(t, blocked)
	assert.Equal(t, userBaseLockout, retryAfter)

	clock.advance(userBaseLockout)
	blocked, _ = rl.check("alice")
	assert.False(t, blocked, "lockout should end after userBaseLockout")
}

func TestUserRateLimiter_ExponentialBackoff(t *testing.T) {
	clock := newFakeClock()
	rl := newUserRateLimiter()
	rl.now = clock.now

	for i := 0; i < userMaxFailures; i++ {
		rl.recordFailure("alice")
	}
	_, first := rl.check("alice")

	rl.recordFailure("alice")
	_, second := rl.check("alice")
	assert.Equal(t, 2*first, second)

	for range 20 {
		rl.recordFailure("alice")
	}
	_, capped := rl.check("alice")
	assert.Equal(t, userMaxLockout, capped)
}

func TestUserRateLimiter_SuccessResetsCounter(t *testing.T) {
	rl := newUserRateLimiter()

	for i := 0; i < userMaxFailures; i++ {
		rl.recordFailure("alice")
	}
	blocked, _ := rl.check("alice")
	require.True(t, blocked)

	rl.recordSuccess("alice")

	blocked, _ = rl.check("alice")
	assert.False(t, blocked, "should not block after a successful sign-in")
}

func TestUserRateLimiter_IsolatesUsers(t *testing.T) {
	rl := newUserRateLimiter()

	for i := 0; i < userMaxFailures; i++ {
		rl.recordFailure("alice")
	}
	blocked, _ := rl.check("alice")
	require.True(t, blocked)

	blocked, _ = rl.check("bob")
	assert.False(t, blocked)
}

func TestUserRateLimiter_Sweep(t *testing.T) {
	clock := newFakeClock()
	rl := newUserRateLimiter()
	rl.now = clock.now

	rl.recordFailure("old")
	clock.advance(attemptExpiry / 2)
	rl.recordFailure("recent")
	clock.advance(attemptExpiry/2 + time.Second)

	rl.sweep()

	rl.mu.Lock()
	defer rl.mu.Unlock()
	assert.NotContains(t, rl.attempts, "old")
	assert.Contains(t, rl.attempts, "recent")
}

func TestIPRateLimiter_Threshold(t *testing.T) {
	rl := newIPRateLimiter()

	for i := 0; i < ipMaxFailures-1; i++ {
		rl.recordFailure("192.0.2.1")
	}
	blocked, _ := rl.check("192.0.2.1")
	require.False(t, blocked)

	rl.recordFailure("192.0.2.1")
	blocked, retryAfter := rl.check("192.0.2.1")
	require.True(t, blocked)
	assert.LessOrEqual(t, retryAfter, ipMaxLockout)

	blocked, _ = rl.check("198.51.100.1")
	assert.False(t, blocked, "different IP should not be blocked")
}

func TestGlobalRateLimiter(t *testing.T) {
	clock := newFakeClock()
	rl := newGlobalRateLimiter()
	rl.now = clock.now

	for i := 0; i < globalMaxFailures-1; i++ {
		rl.recordFailure()
	}
	blocked, _ := rl.check()
	require.False(t, blocked)

	rl.recordFailure()
	blocked, retryAfter := rl.check()
	require.True(t, blocked)
	assert.Equal(t, globalLockout, retryAfter)
}

func TestGlobalRateLimiter_SlidingWindowExpiry(t *testing.T) {
	clock := newFakeClock()
	rl := newGlobalRateLimiter()
	rl.now = clock.now

	for i := 0; i < globalMaxFailures-1; i++ {
		rl.recordFailure()
	}
	clock.advance(2 * globalWindow)

	rl.recordFailure()
	blocked, _ := rl.check()
	assert.False(t, blocked, "failures outside the window should not count")
}

func TestRetryAfterString(t *testing.T) {
	assert.Equal(t, "1", retryAfterString(0))
	assert.Equal(t, "1", retryAfterString(300*time.Millisecond))
	assert.Equal(t, "60", retryAfterString(time.Minute))
}

func TestExtractClientIPWithProxies(t *testing.T) {
	trusted := []netip.Prefix{netip.MustParsePrefix("10.0.0.0/8")}

	tests := []struct {
		name       string
		remoteAddr string
		headers    map[string]string
		trusted    []netip.Prefix
		want       string
	}{
		{
			name:       "remote ipv4",
			remoteAddr: "192.168.1.1:12345",
			want:       "192.168.1.1",
		},
		{
			name:       "remote ipv6",
			remoteAddr: "[::1]:8080",
			want:       "::1",
		},
		{
			name:       "no trusted proxies ignores headers",
			remoteAddr: "192.168.1.1:80",
			headers:    map[string]string{"X-Forwarded-For": "198.51.100.25"},
			want:       "192.168.1.1",
		},
		{
			name:       "trusted proxy honors XFF",
			remoteAddr: "10.0.0.1:80",
			headers:    map[string]string{"X-Forwarded-For": "198.51.100.25, 10.0.0.3"},
			trusted:    trusted,
			want:       "198.51.100.25",
		},
		{
			name:       "XFF skips invalid entries",
			remoteAddr: "10.0.0.1:80",
			headers:    map[string]string{"X-Forwarded-For": "unknown, 203.0.113.7"},
			trusted:    trusted,
			want:       "203.0.113.7",
		},
		{
			name:       "Forwarded fallback",
			remoteAddr: "10.0.0.1:80",
			headers:    map[string]string{"Forwarded": `for="[2001:db8::42]:1234";proto=https`},
			trusted:    trusted,
			want:       "2001:db8::42",
		},
		{
			name:       "X-Real-IP fallback",
			remoteAddr: "10.0.0.1:80",
			headers:    map[string]string{"X-Real-IP": "203.0.113.11"},
			trusted:    trusted,
			want:       "203.0.113.11",
		},
		{
			name:       "untrusted peer spoofing headers",
			remoteAddr: "203.0.113.99:12345",
			headers: map[string]string{
				"X-Forwarded-For": "10.0.0.1",
				"Forwarded":       "for=10.0.0.2",
				"X-Real-IP":       "10.0.0.3",
			},
			trusted: trusted,
			want:    "203.0.113.99",
		},
		{
			name:       "trusted proxy without headers",
			remoteAddr: "10.0.0.1:80",
			trusted:    trusted,
			want:       "10.0.0.1",
		},
		{
			name:       "unparseable remote",
			remoteAddr: "not-a-hostport",
			want:       "",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &http.Request{RemoteAddr: tt.remoteAddr, Header: make(http.Header)}
			for k, v := range tt.headers {
				r.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, extractClientIPWithProxies(r, tt.trusted))
		})
	}
}

func TestWithTrustedProxies(t *testing.T) {
	opt, err := WithTrustedProxies([]string{"10.0.0.0/8", "192.0.2.7", "::1"})
	require.NoError(t, err)

	a := &API{}
	opt(a)
	require.Len(t, a.trustedProxies, 3)
	assert.Equal(t, netip.MustParsePrefix("192.0.2.7/32"), a.trustedProxies[1])
	assert.Equal(t, netip.MustParsePrefix("::1/128"), a.trustedProxies[2])

	r := &http.Request{
		RemoteAddr: "192.0.2.7:443",
		Header:     http.Header{"X-Forwarded-For": []string{"198.51.100.25"}},
	}
	assert.Equal(t, "198.51.100.25", a.extractClientIP(r))

	_, err = WithTrustedProxies([]string{"10.0.0.0/8", "garbage"})
	require.Error(t, err)
}
