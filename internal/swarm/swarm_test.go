package swarm_test

import (
	"testing"

	"swarmline/internal/swarm"
)

func TestIdentityShortPrefix(t *testing.T) {
	cases := []struct {
		id   swarm.Identity
		want string
	}{
		{"did:swarm:a1b2c3d4e5f6a7b8c9d0eeff0011", "a1b2c3d4e5f6a7b8c9d0"},
		{"did:swarm:short", "short"},
		{"raw-identity-without-scheme-at-all", "raw-identity-without"},
		{"", ""},
	}
	for _, c := range cases {
		if got := c.id.ShortPrefix(); got != c.want {
			t.Errorf("ShortPrefix(%q) = %q, want %q", c.id, got, c.want)
		}
	}
}

func TestTierPredicates(t *testing.T) {
	if swarm.TierUnknown.Known() || swarm.Tier("").Known() {
		t.Fatal("Unknown is not a usable tier")
	}
	if !swarm.Tier1.Known() || !swarm.TierExecutor.Known() {
		t.Fatal("concrete tiers are usable")
	}
	if !swarm.Tier1.Coordinator() {
		t.Fatal("Tier1 coordinates")
	}
	if swarm.Tier2.Coordinator() || swarm.TierExecutor.Coordinator() {
		t.Fatal("only Tier1 coordinates")
	}
}

func TestVotingStatePlanIDs(t *testing.T) {
	empty := swarm.VotingState{}
	if got := empty.PlanIDs(); got != nil {
		t.Fatalf("want nil for empty state, got %v", got)
	}
	state := swarm.VotingState{RFPCoordinators: []swarm.RFPState{
		{TaskID: "t1"},
		{TaskID: "t2", PlanIDs: []string{"plan-a", "plan-b"}},
		{TaskID: "t3", PlanIDs: []string{"plan-c"}},
	}}
	got := state.PlanIDs()
	if len(got) != 2 || got[0] != "plan-a" {
		t.Fatalf("want first non-empty list, got %v", got)
	}
}
