package api

import (
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"sync"
	"time"
)

// backoffLimiter tracks failed sign-in attempts per key and locks a key out
// with exponential backoff once it reaches maxFailures. Keys are usernames
// or client IPs; passwords never reach the limiter.
type backoffLimiter struct {
	mu          sync.Mutex
	attempts    map[string]*attemptRecord
	maxFailures int
	baseLockout time.Duration
	maxLockout  time.Duration
	now         func() time.Time
}

type attemptRecord struct {
	failures    int
	lastFailure time.Time
	lockedUntil time.Time
}

const (
	// userMaxFailures is the number of consecutive failures for one
	// username before lockout begins.
	userMaxFailures = 5
	userBaseLockout = 1 * time.Minute
	userMaxLockout  = 15 * time.Minute

	ipMaxFailures = 20
	ipBaseLockout = 1 * time.Minute
	ipMaxLockout  = 30 * time.Minute

	// attemptExpiry is how long after the last failure before the record is
	// garbage-collected.
	attemptExpiry = 1 * time.Hour
)

func newUserRateLimiter() *backoffLimiter {
	return newBackoffLimiter(userMaxFailures, userBaseLockout, userMaxLockout)
}

func newIPRateLimiter() *backoffLimiter {
	return newBackoffLimiter(ipMaxFailures, ipBaseLockout, ipMaxLockout)
}

func newBackoffLimiter(maxFailures int, base, max time.Duration) *backoffLimiter {
	return &backoffLimiter{
		attempts:    make(map[string]*attemptRecord),
		maxFailures: maxFailures,
		baseLockout: base,
		maxLockout:  max,
		now:         time.Now,
	}
}

// check reports whether key is locked out and for how long.
func (rl *backoffLimiter) check(key string) (blocked bool, retryAfter time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rec, ok := rl.attempts[key]
	if !ok {
		return false, 0
	}
	now := rl.now()
	if now.Sub(rec.lastFailure) > attemptExpiry {
		delete(rl.attempts, key)
		return false, 0
	}
	if now.Before(rec.lockedUntil) {
		return true, rec.lockedUntil.Sub(now)
	}
	return false, 0
}

// recordFailure increments the failure counter and applies exponential
// backoff once maxFailures is reached.
func (rl *backoffLimiter) recordFailure(key string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rec, ok := rl.attempts[key]
	if !ok {
		rec = &attemptRecord{}
		rl.attempts[key] = rec
	}
	now := rl.now()
	rec.failures++
	rec.lastFailure = now

	if rec.failures >= rl.maxFailures {
		// baseLockout * 2^(failures - maxFailures), capped.
		lockout := rl.baseLockout
		for i := 0; i < rec.failures-rl.maxFailures; i++ {
			lockout *= 2
			if lockout >= rl.maxLockout {
				lockout = rl.maxLockout
				break
			}
		}
		rec.lockedUntil = now.Add(lockout)
	}
}

// recordSuccess clears the failure history of key.
func (rl *backoffLimiter) recordSuccess(key string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	delete(rl.attempts, key)
}

// sweep removes expired records. Call periodically from a background goroutine.
func (rl *backoffLimiter) sweep() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	for key, rec := range rl.attempts {
		if now.Sub(rec.lastFailure) > attemptExpiry {
			delete(rl.attempts, key)
		}
	}
}

// ---------------------------------------------------------------------------
// Global rate limiter (sliding window)
// ---------------------------------------------------------------------------

const (
	globalWindow      = 1 * time.Minute
	globalMaxFailures = 100
	globalLockout     = 5 * time.Minute
)

// globalRateLimiter tracks failed sign-ins across all users in a sliding
// window, to slow down credential stuffing spread over many usernames.
type globalRateLimiter struct {
	mu          sync.Mutex
	failures    []time.Time
	lockedUntil time.Time
	now         func() time.Time
}

func newGlobalRateLimiter() *globalRateLimiter {
	return &globalRateLimiter{now: time.Now}
}

func (rl *globalRateLimiter) check() (blocked bool, retryAfter time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	if now.Before(rl.lockedUntil) {
		return true, rl.lockedUntil.Sub(now)
	}
	return false, 0
}

func (rl *globalRateLimiter) recordFailure() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	rl.failures = trimWindow(append(rl.failures, now), now, globalWindow)
	if len(rl.failures) >= globalMaxFailures {
		rl.lockedUntil = now.Add(globalLockout)
	}
}

// writeRateLimited sends a 429 Too Many Requests response.
func writeRateLimited(w http.ResponseWriter, retryAfter time.Duration) {
	w.Header().Set("Retry-After", retryAfterString(retryAfter))
	writeError(w, http.StatusTooManyRequests, "too many failed sign-in attempts; try again later")
}

func retryAfterString(d time.Duration) string {
	secs := int(d.Seconds())
	if secs < 1 {
		secs = 1
	}
	return strconv.Itoa(secs)
}

// ---------------------------------------------------------------------------
// Client IP
// ---------------------------------------------------------------------------

// WithTrustedProxies lets proxy headers determine the client IP when the
// direct peer is inside one of cidrs. Bare addresses are treated as single
// host prefixes.
func WithTrustedProxies(cidrs []string) (Option, error) {
	prefixes := make([]netip.Prefix, 0, len(cidrs))
	for _, c := range cidrs {
		c = strings.TrimSpace(c)
		if p, err := netip.ParsePrefix(c); err == nil {
			prefixes = append(prefixes, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(c)
		if err != nil {
			return nil, fmt.Errorf("invalid trusted proxy %q", c)
		}
		prefixes = append(prefixes, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return func(a *API) { a.trustedProxies = prefixes }, nil
}

func (a *API) extractClientIP(r *http.Request) string {
	return extractClientIPWithProxies(r, a.trustedProxies)
}

// extractClientIPWithProxies returns the best-effort client IP address.
//
// Proxy headers are honored only when the request's RemoteAddr falls within
// one of trustedProxies. With no trusted proxies, RemoteAddr is used as is.
//
// Priority when proxy headers are trusted:
// 1. First valid entry in X-Forwarded-For
// 2. First valid "for=" value in Forwarded
// 3. X-Real-IP
// 4. RemoteAddr
func extractClientIPWithProxies(r *http.Request, trustedProxies []netip.Prefix) string {
	remoteIP, _ := parseIPCandidate(r.RemoteAddr)
	if !peerTrusted(remoteIP, trustedProxies) {
		return remoteIP
	}

	if xff := strings.TrimSpace(r.Header.Get("X-Forwarded-For")); xff != "" {
		for _, part := range strings.Split(xff, ",") {
			if ip, ok := parseIPCandidate(part); ok {
				return ip
			}
		}
	}

	if fwd := strings.TrimSpace(r.Header.Get("Forwarded")); fwd != "" {
		for _, elem := range strings.Split(fwd, ",") {
			for _, param := range strings.Split(elem, ";") {
				param = strings.TrimSpace(param)
				if !strings.HasPrefix(strings.ToLower(param), "for=") {
					continue
				}
				if ip, ok := parseIPCandidate(param[4:]); ok {
					return ip
				}
			}
		}
	}

	if xrip := strings.TrimSpace(r.Header.Get("X-Real-IP")); xrip != "" {
		if ip, ok := parseIPCandidate(xrip); ok {
			return ip
		}
	}
	return remoteIP
}

func peerTrusted(remoteIP string, trustedProxies []netip.Prefix) bool {
	if remoteIP == "" || len(trustedProxies) == 0 {
		return false
	}
	addr, err := netip.ParseAddr(remoteIP)
	if err != nil {
		return false
	}
	for _, prefix := range trustedProxies {
		if prefix.Contains(addr) {
			return true
		}
	}
	return false
}

func parseIPCandidate(raw string) (string, bool) {
	s := strings.Trim(strings.TrimSpace(raw), "\"")
	if s == "" {
		return "", false
	}

	// RFC 7239 quoted IPv6 may appear as [::1]:1234.
	if host, _, err := net.SplitHostPort(s); err == nil {
		s = host
	}
	s = strings.TrimSuffix(strings.TrimPrefix(s, "["), "]")
	// Drop zone if any (e.g. fe80::1%eth0).
	if i := strings.IndexByte(s, '%'); i >= 0 {
		s = s[:i]
	}

	if addr, err := netip.ParseAddr(s); err == nil {
		return addr.Unmap().String(), true
	}
	return "", false
}
