package bootstrap_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"swarmline/internal/bootstrap"
	"swarmline/internal/rpc"
	"swarmline/internal/swarm"
)

// fakeClock advances instantly on Sleep so poll loops run without waiting.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(_ context.Context, d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// scriptedCaller returns results in order, repeating the last one.
type scriptedCaller struct {
	mu      sync.Mutex
	results []rpc.Result
	calls   int
}

func (s *scriptedCaller) Call(_ context.Context, _, method string, _ any) rpc.Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	if method != swarm.MethodGetStatus {
		return rpc.Transport("unexpected method " + method)
	}
	i := s.calls
	s.calls++
	if i >= len(s.results) {
		i = len(s.results) - 1
	}
	return s.results[i]
}

func status(agentID string, tier swarm.Tier) rpc.Result {
	return rpc.Ok(swarm.StatusResult{AgentID: agentID, Tier: tier, Status: "active"})
}

func newResolver(caller rpc.Caller) *bootstrap.Resolver {
	r := bootstrap.New(caller, "127.0.0.1:9370", "agent-7")
	r.Clock = &fakeClock{now: time.Unix(1700000000, 0)}
	return r
}

func TestResolveStabilizes(t *testing.T) {
	caller := &scriptedCaller{results: []rpc.Result{
		status("did:swarm:abc123", swarm.Tier1),
	}}
	id, tier := newResolver(caller).Resolve(context.Background())
	if tier != swarm.Tier1 {
		t.Fatalf("want Tier1, got %s", tier)
	}
	if id != "did:swarm:abc123" {
		t.Fatalf("identity not taken from status: %s", id)
	}
	// 3 consecutive matches exist by poll 4, but acceptance also requires
	// the minimum poll count.
	if caller.calls != 5 {
		t.Fatalf("want 5 polls before acceptance, got %d", caller.calls)
	}
}

func TestResolveIgnoresEarlyFlapping(t *testing.T) {
	caller := &scriptedCaller{results: []rpc.Result{
		status("did:swarm:abc123", swarm.Tier2),
		status("did:swarm:abc123", swarm.Tier1),
		status("did:swarm:abc123", swarm.Tier2),
		status("did:swarm:abc123", swarm.Tier1),
		status("did:swarm:abc123", swarm.Tier1),
		status("did:swarm:abc123", swarm.Tier1),
		status("did:swarm:abc123", swarm.Tier1),
	}}
	_, tier := newResolver(caller).Resolve(context.Background())
	if tier != swarm.Tier1 {
		t.Fatalf("want Tier1 after flapping settles, got %s", tier)
	}
	if caller.calls != 7 {
		t.Fatalf("want 7 polls, got %d", caller.calls)
	}
}

func TestResolveFallsBackToLastObserved(t *testing.T) {
	// Tier alternates forever, so stability is never reached and the
	// resolver exhausts its budget.
	var results []rpc.Result
	for i := 0; i < 12; i++ {
		tier := swarm.Tier1
		if i%2 == 0 {
			tier = swarm.Tier2
		}
		results = append(results, status("did:swarm:abc123", tier))
	}
	r := newResolver(&scriptedCaller{results: results})
	_, tier := r.Resolve(context.Background())
	if tier != swarm.Tier1 {
		t.Fatalf("want last observed tier Tier1, got %s", tier)
	}
}

func TestResolveUnreachableConnector(t *testing.T) {
	caller := &scriptedCaller{results: []rpc.Result{rpc.Transport("dial refused")}}
	id, tier := newResolver(caller).Resolve(context.Background())
	if tier != swarm.TierUnknown {
		t.Fatalf("want Unknown, got %s", tier)
	}
	if id != "did:swarm:agent-7" {
		t.Fatalf("want name-derived identity fallback, got %s", id)
	}
}

func TestResolveCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	caller := &scriptedCaller{results: []rpc.Result{status("did:swarm:abc", swarm.Tier1)}}
	_, tier := newResolver(caller).Resolve(ctx)
	if tier != swarm.TierUnknown {
		t.Fatalf("cancelled resolve should report Unknown, got %s", tier)
	}
	if caller.calls != 0 {
		t.Fatalf("cancelled resolve should not poll, got %d calls", caller.calls)
	}
}
