package ratelimit

import (
	"crypto/sha256"
	"encoding/hex"
	"math"
	"sync"
	"time"
)

// Config bounds how fast a client may join rooms and how many peers it may
// hold open at once.
type Config struct {
	JoinRPS   float64
	JoinBurst int

	MaxConcurrentPeers int

	// Operational bounds for the in-memory map (single-process only).
	MaxEntries int
	EntryTTL   time.Duration
}

type Limiter struct {
	cfg Config

	mu sync.Mutex
	m  map[string]*clientLimiter
}

type clientLimiter struct {
	mu sync.Mutex

	tb tokenBucket

	peerSem chan struct{}

	lastSeen time.Time
}

type tokenBucket struct {
	rps      float64
	capacity float64

	tokens float64
	last   time.Time
}

func New(cfg Config) *Limiter {
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = 10_000
	}
	if cfg.EntryTTL <= 0 {
		cfg.EntryTTL = 30 * time.Minute
	}
	return &Limiter{
		cfg: cfg,
		m:   make(map[string]*clientLimiter),
	}
}

// KeyFromToken buckets clients that authenticated with a bearer token.
func KeyFromToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return "k_" + hex.EncodeToString(sum[:16])
}

// KeyFromIP buckets anonymous clients by address.
func KeyFromIP(ip string) string {
	sum := sha256.Sum256([]byte(ip))
	return "ip_" + hex.EncodeToString(sum[:16])
}

type Permit struct {
	release func()
}

// Release frees the peer slot. Safe to call more than once.
func (p *Permit) Release() {
	if p == nil || p.release == nil {
		return
	}
	p.release()
	p.release = nil
}

type Decision struct {
	Allowed    bool
	RetryAfter int
	// Reason is "rate" or "concurrency" when denied.
	Reason string
	Permit *Permit
}

// AcquireJoin spends one join token and takes a peer slot for key. The slot
// is held until the returned Permit is released.
func (l *Limiter) AcquireJoin(key string, now time.Time) Decision {
	if l == nil {
		return Decision{Allowed: true, Permit: &Permit{}}
	}
	if key == "" {
		key = "anonymous"
	}

	cl := l.getOrCreate(key, now)
	cl.touch(now)

	if l.cfg.JoinRPS > 0 && l.cfg.JoinBurst > 0 {
		ok, retryAfter := cl.allowToken(now, l.cfg.JoinRPS, l.cfg.JoinBurst)
		if !ok {
			return Decision{Allowed: false, RetryAfter: retryAfter, Reason: "rate"}
		}
	}

	if l.cfg.MaxConcurrentPeers > 0 {
		select {
		case cl.peerSem <- struct{}{}:
			return Decision{
				Allowed: true,
				Permit:  &Permit{release: func() { <-cl.peerSem }},
			}
		default:
			return Decision{Allowed: false, RetryAfter: 1, Reason: "concurrency"}
		}
	}

	return Decision{Allowed: true, Permit: &Permit{}}
}

func (l *Limiter) getOrCreate(key string, now time.Time) *clientLimiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.m) >= l.cfg.MaxEntries {
		l.gcLocked(now)
		if len(l.m) >= l.cfg.MaxEntries {
			for k := range l.m {
				delete(l.m, k)
				break
			}
		}
	}

	if cl, ok := l.m[key]; ok {
		return cl
	}
	cl := &clientLimiter{
		peerSem:  make(chan struct{}, max(1, l.cfg.MaxConcurrentPeers)),
		lastSeen: now,
	}
	l.m[key] = cl
	return cl
}

// gcLocked drops idle entries. Entries still holding peer slots are kept so
// their permits stay accounted.
func (l *Limiter) gcLocked(now time.Time) {
	ttl := l.cfg.EntryTTL
	for k, v := range l.m {
		if now.Sub(v.lastSeen) > ttl && len(v.peerSem) == 0 {
			delete(l.m, k)
		}
	}
}

func (cl *clientLimiter) touch(now time.Time) {
	cl.mu.Lock()
	cl.lastSeen = now
	cl.mu.Unlock()
}

func (cl *clientLimiter) allowToken(now time.Time, rps float64, burst int) (bool, int) {
	cl.mu.Lock()
	defer cl.mu.Unlock()

	capacity := float64(burst)
	if cl.tb.capacity == 0 {
		cl.tb = tokenBucket{
			rps:      rps,
			capacity: capacity,
			tokens:   capacity,
			last:     now,
		}
	}
	cl.tb.rps = rps
	cl.tb.capacity = capacity

	elapsed := now.Sub(cl.tb.last).Seconds()
	if elapsed > 0 {
		cl.tb.tokens = math.Min(cl.tb.capacity, cl.tb.tokens+(elapsed*cl.tb.rps))
		cl.tb.last = now
	}

	if cl.tb.tokens >= 1.0 {
		cl.tb.tokens -= 1.0
		return true, 0
	}

	needed := 1.0 - cl.tb.tokens
	retryAfter := int(math.Ceil(needed / cl.tb.rps))
	if retryAfter < 1 {
		retryAfter = 1
	}
	return false, retryAfter
}
