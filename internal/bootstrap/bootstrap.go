// Package bootstrap resolves the agent's identity and tier at startup. The
// membership signal settles while the swarm forms, so the first non-Unknown
// tier observation is not trustworthy; the resolver debounces until the value
// holds still.
package bootstrap

import (
	"context"
	"log"
	"time"

	"swarmline/internal/clock"
	"swarmline/internal/journal"
	"swarmline/internal/rpc"
	"swarmline/internal/swarm"
)

// Resolver polls swarm.get_status until the reported tier stabilizes.
type Resolver struct {
	Caller    rpc.Caller
	Clock     clock.Clock
	Journal   journal.Recorder
	Logger    *log.Logger
	Endpoint  string
	AgentName string

	PollInterval time.Duration // between status polls
	PollBudget   int           // total polls before falling back
	MinPolls     int           // polls that must elapse before accepting
	StableNeeded int           // consecutive identical non-Unknown polls
}

// New returns a resolver with the protocol's standard debounce: up to 12
// polls at 5s, accepted after at least 5 polls and 3 consecutive matches.
func New(caller rpc.Caller, endpoint, agentName string) *Resolver {
	return &Resolver{
		Caller:       caller,
		Clock:        clock.System(),
		Journal:      journal.Nop{},
		Endpoint:     endpoint,
		AgentName:    agentName,
		PollInterval: 5 * time.Second,
		PollBudget:   12,
		MinPolls:     5,
		StableNeeded: 3,
	}
}

func (r *Resolver) logf(format string, args ...any) {
	if r.Logger != nil {
		r.Logger.Printf(format, args...)
	}
}

// Resolve returns the agent identity and its debounced tier. It never blocks
// past the poll budget: on exhaustion the most recently observed tier wins,
// degraded but deterministic.
func (r *Resolver) Resolve(ctx context.Context) (swarm.Identity, swarm.Tier) {
	identity := swarm.Identity("did:swarm:" + r.AgentName)
	var prev swarm.Tier
	stable := 0

	for attempt := 0; attempt < r.PollBudget; attempt++ {
		if ctx.Err() != nil {
			break
		}
		var status swarm.StatusResult
		cur := swarm.TierUnknown
		res := r.Caller.Call(ctx, r.Endpoint, swarm.MethodGetStatus, nil)
		if res.Decode(&status) {
			if status.AgentID != "" {
				identity = swarm.Identity(status.AgentID)
			}
			if status.Tier != "" {
				cur = status.Tier
			}
		}
		r.logf("startup %d/%d: tier=%s known_agents=%d", attempt+1, r.PollBudget, cur, status.KnownAgents)

		if cur == prev && cur.Known() {
			stable++
		} else {
			stable = 0
		}
		prev = cur

		if attempt+1 >= r.MinPolls && stable >= r.StableNeeded {
			r.logf("tier stabilized: %s", cur)
			r.record(ctx, identity, cur, true)
			return identity, cur
		}
		r.Clock.Sleep(ctx, r.PollInterval)
	}

	tier := prev
	if tier == "" {
		tier = swarm.TierUnknown
	}
	r.logf("tier (best guess after timeout): %s", tier)
	r.record(ctx, identity, tier, false)
	return identity, tier
}

func (r *Resolver) record(ctx context.Context, id swarm.Identity, tier swarm.Tier, stabilized bool) {
	r.Journal.Record(ctx, journal.Entry{
		Type:     "role.resolved",
		AgentID:  string(id),
		Endpoint: r.Endpoint,
		Payload:  map[string]any{"tier": string(tier), "stabilized": stabilized},
	})
}
