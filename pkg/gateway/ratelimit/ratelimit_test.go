package ratelimit

import (
	"testing"
	"time"
)

func TestAcquireJoin_EnforcesConcurrency(t *testing.T) {
	l := New(Config{MaxConcurrentPeers: 1})
	now := time.Now()

	first := l.AcquireJoin("p1", now)
	if !first.Allowed || first.Permit == nil {
		t.Fatalf("first allowed=%v permit=%v", first.Allowed, first.Permit)
	}

	second := l.AcquireJoin("p1", now)
	if second.Allowed || second.Reason != "concurrency" {
		t.Fatalf("second = %+v, want concurrency denial", second)
	}
	if other := l.AcquireJoin("p2", now); !other.Allowed {
		t.Fatalf("other client should not share the slot")
	}

	first.Permit.Release()
	first.Permit.Release()
	third := l.AcquireJoin("p1", now)
	if !third.Allowed {
		t.Fatalf("third should be allowed after release")
	}
}

func TestAcquireJoin_TokenBucketRefills(t *testing.T) {
	l := New(Config{JoinRPS: 1, JoinBurst: 2})
	now := time.Unix(1000, 0)

	for i := 0; i < 2; i++ {
		if d := l.AcquireJoin("p1", now); !d.Allowed {
			t.Fatalf("join %d denied", i)
		}
	}
	denied := l.AcquireJoin("p1", now)
	if denied.Allowed || denied.Reason != "rate" || denied.RetryAfter != 1 {
		t.Fatalf("third join = %+v", denied)
	}

	if d := l.AcquireJoin("p1", now.Add(1100*time.Millisecond)); !d.Allowed {
		t.Fatalf("join after refill denied: %+v", d)
	}
}

func TestAcquireJoin_NilLimiterAllows(t *testing.T) {
	var l *Limiter
	d := l.AcquireJoin("x", time.Now())
	if !d.Allowed {
		t.Fatalf("nil limiter denied")
	}
	d.Permit.Release()
}

func TestKeys_AreStableAndDistinct(t *testing.T) {
	if KeyFromToken("a") != KeyFromToken("a") {
		t.Fatalf("token key not stable")
	}
	if KeyFromToken("1.2.3.4") == KeyFromIP("1.2.3.4") {
		t.Fatalf("token and ip keys collide")
	}
}
