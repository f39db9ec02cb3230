// Package agent wires the driver together: it resolves the agent's role
// against the connector, then runs either the coordinator loop or the
// executor loop until completion or context cancellation.
package agent

import (
	"context"
	"log"
	"sync"
	"time"

	"swarmline/internal/bootstrap"
	"swarmline/internal/clock"
	"swarmline/internal/config"
	"swarmline/internal/coordinator"
	"swarmline/internal/discovery"
	"swarmline/internal/executor"
	"swarmline/internal/journal"
	"swarmline/internal/rpc"
	"swarmline/internal/signer"
	"swarmline/internal/swarm"
)

// Phase names the agent's lifecycle stage as exposed to the console.
type Phase string

const (
	PhaseIdle          Phase = "idle"
	PhaseBootstrapping Phase = "bootstrapping"
	PhaseCoordinating  Phase = "coordinating"
	PhaseExecuting     Phase = "executing"
	PhaseDone          Phase = "done"
)

// State is a read-only snapshot of the running agent for the console and the
// status command.
type State struct {
	AgentName      string         `json:"agent_name"`
	Endpoint       string         `json:"endpoint"`
	Identity       swarm.Identity `json:"identity,omitempty"`
	Tier           swarm.Tier     `json:"tier,omitempty"`
	Phase          Phase          `json:"phase"`
	TasksProcessed int            `json:"tasks_processed"`
	StartedAt      time.Time      `json:"started_at,omitempty"`
}

// Agent is one driver process. Zero-value fields are filled with defaults by
// New; tests construct Agents directly with fakes.
type Agent struct {
	Config  *config.Config
	Caller  rpc.Caller
	Clock   clock.Clock
	Journal journal.Recorder
	Logger  *log.Logger

	mu    sync.Mutex
	state State
}

// New builds an agent from config: a signing JSON-RPC client when a secret is
// configured, the system clock, and a no-op journal (the caller attaches a
// real one).
func New(cfg *config.Config, logger *log.Logger) *Agent {
	var sig rpc.Signer
	if cfg.Agent.SigningSecret != "" {
		sig = &signer.HS256{Secret: cfg.Agent.SigningSecret, Subject: cfg.Agent.Name}
	}
	client := rpc.NewClient(sig)
	client.Logger = logger
	return &Agent{
		Config:  cfg,
		Caller:  client,
		Clock:   clock.System(),
		Journal: journal.Nop{},
		Logger:  logger,
		state: State{
			AgentName: cfg.Agent.Name,
			Endpoint:  cfg.Agent.Endpoint,
			Phase:     PhaseIdle,
		},
	}
}

// Snapshot returns the agent's current state.
func (a *Agent) Snapshot() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

func (a *Agent) update(fn func(*State)) {
	a.mu.Lock()
	fn(&a.state)
	a.mu.Unlock()
}

func (a *Agent) logf(format string, args ...any) {
	if a.Logger != nil {
		a.Logger.Printf(format, args...)
	}
}

// Run resolves the agent's role and drives the matching protocol loop to
// completion. It returns the number of tasks the agent processed.
func (a *Agent) Run(ctx context.Context) int {
	cfg := a.Config
	a.update(func(s *State) {
		s.Phase = PhaseBootstrapping
		s.StartedAt = time.Now().UTC()
	})

	resolver := bootstrap.New(a.Caller, cfg.Agent.Endpoint, cfg.Agent.Name)
	resolver.Clock = a.Clock
	resolver.Journal = a.Journal
	resolver.Logger = a.Logger
	resolver.PollInterval = config.Duration(cfg.Timing.StatusPollSeconds, resolver.PollInterval)

	identity, tier := resolver.Resolve(ctx)
	a.logf("resolved identity=%s tier=%s", identity, tier)
	a.update(func(s *State) {
		s.Identity = identity
		s.Tier = tier
	})

	finder := discovery.New(a.Caller, cfg.Agent.Endpoint, cfg.Peers)
	finder.Logger = a.Logger
	finder.ScanTimeout = config.Duration(cfg.Timing.ScanTimeoutSeconds, finder.ScanTimeout)

	var processed int
	if tier.Coordinator() {
		a.update(func(s *State) { s.Phase = PhaseCoordinating })
		processed = a.coordinate(ctx, finder, identity)
	} else {
		a.update(func(s *State) { s.Phase = PhaseExecuting })
		processed = a.execute(ctx, finder, identity)
	}

	a.update(func(s *State) {
		s.Phase = PhaseDone
		s.TasksProcessed = processed
	})
	a.logf("agent done: %d task(s) processed as %s", processed, tier)
	return processed
}

func (a *Agent) coordinate(ctx context.Context, finder *discovery.Finder, identity swarm.Identity) int {
	cfg := a.Config
	co := coordinator.New(a.Caller, finder, identity, cfg.Agent.Name, cfg.Agent.Endpoint)
	co.Clock = a.Clock
	co.Journal = a.Journal
	co.Logger = a.Logger
	co.MaxDepth = cfg.Coordinator.MaxDepth
	co.Settle = config.Duration(cfg.Timing.SettleSeconds, co.Settle)
	co.MonitorPoll = config.Duration(cfg.Timing.MonitorPollSeconds, co.MonitorPoll)
	co.CycleDeadline = config.Duration(cfg.Timing.CycleDeadlineSeconds, co.CycleDeadline)
	co.LoopDeadline = config.Duration(cfg.Timing.CoordinatorDeadlineSeconds, co.LoopDeadline)
	return co.Loop(ctx)
}

func (a *Agent) execute(ctx context.Context, finder *discovery.Finder, identity swarm.Identity) int {
	cfg := a.Config
	ex := executor.New(a.Caller, finder, identity, cfg.Agent.Endpoint)
	ex.Clock = a.Clock
	ex.Journal = a.Journal
	ex.Logger = a.Logger
	ex.Deadline = config.Duration(cfg.Timing.ExecutorDeadlineSeconds, ex.Deadline)
	return ex.Run(ctx)
}
