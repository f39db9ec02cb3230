// Package coordinator runs the Tier-1 protocol for one task at a time:
// propose a two-way decomposition, vote, critique, monitor the resulting
// subtasks, and synthesize their artifacts into the parent's result. Subtasks
// that form sub-holons are coordinated by nested cycles of the same machine.
package coordinator

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"swarmline/internal/artifact"
	"swarmline/internal/clock"
	"swarmline/internal/discovery"
	"swarmline/internal/journal"
	"swarmline/internal/rpc"
	"swarmline/internal/swarm"
)

// Critique scoring is self-preferring: the proposer argues for its own plan
// on every dimension. Plan selection balance comes from IRV across all
// coordinators, not from any single critique.
const (
	ownFeasibility  = 0.90
	ownParallelism  = 0.85
	ownCompleteness = 0.88
	ownRisk         = 0.10

	otherFeasibility  = 0.75
	otherParallelism  = 0.70
	otherCompleteness = 0.72
	otherRisk         = 0.25

	critiqueRound = 2

	// Complexity steers the external planner: high on the first cycle at a
	// depth to force sub-holon formation, low afterwards to force direct
	// leaf assignment.
	complexFirst = 0.7
	complexLater = 0.2
)

// Coordinator drives propose/vote/critique/monitor/synthesize cycles.
type Coordinator struct {
	Caller    rpc.Caller
	Clock     clock.Clock
	Journal   journal.Recorder
	Logger    *log.Logger
	Finder    *discovery.Finder
	Identity  swarm.Identity
	AgentName string
	Endpoint  string
	MaxDepth  int

	Settle           time.Duration // pre-propose membership settle
	VoteDelay        time.Duration // propose -> first plan fetch
	VoteRetry        time.Duration // second plan fetch when none visible
	PostVote         time.Duration // vote -> critique
	PreMonitor       time.Duration // critique -> first subtask check
	MonitorPoll      time.Duration // between monitoring passes
	CycleDeadline    time.Duration // per-cycle monitoring ceiling
	SubtaskWaitPolls int           // polls waiting for subtasks to appear
	SynthesisRetry   time.Duration // backoff when synthesis is not accepted

	LoopDeadline     time.Duration // coordinator loop ceiling
	TaskPoll         time.Duration // between pending-task polls
	TaskPollAttempts int
	CyclePause       time.Duration // between cycles
}

// New returns a coordinator with the protocol's standard timings.
func New(caller rpc.Caller, finder *discovery.Finder, identity swarm.Identity, agentName, endpoint string) *Coordinator {
	return &Coordinator{
		Caller:    caller,
		Clock:     clock.System(),
		Journal:   journal.Nop{},
		Finder:    finder,
		Identity:  identity,
		AgentName: agentName,
		Endpoint:  endpoint,
		MaxDepth:  8,

		Settle:           20 * time.Second,
		VoteDelay:        8 * time.Second,
		VoteRetry:        10 * time.Second,
		PostVote:         5 * time.Second,
		PreMonitor:       8 * time.Second,
		MonitorPoll:      15 * time.Second,
		CycleDeadline:    480 * time.Second,
		SubtaskWaitPolls: 20,
		SynthesisRetry:   15 * time.Second,

		LoopDeadline:     900 * time.Second,
		TaskPoll:         8 * time.Second,
		TaskPollAttempts: 20,
		CyclePause:       5 * time.Second,
	}
}

func (c *Coordinator) logf(format string, args ...any) {
	if c.Logger != nil {
		c.Logger.Printf(format, args...)
	}
}

// Loop pulls top-level tasks from the coordinator's own endpoint and runs one
// cycle per task until quiescence or the loop deadline.
func (c *Coordinator) Loop(ctx context.Context) int {
	c.logf("running as coordinator")
	deadline := c.Clock.Now().Add(c.LoopDeadline)
	processed := 0

	for c.Clock.Now().Before(deadline) && ctx.Err() == nil {
		var taskID, taskDesc string
		for attempt := 0; attempt < c.TaskPollAttempts; attempt++ {
			id, task, ok := c.Finder.PendingLocal(ctx)
			if ok {
				taskID, taskDesc = id, task.Description
				c.logf("received task %s: %.60s", taskID, taskDesc)
				break
			}
			if processed > 0 && attempt >= 3 {
				c.logf("no more tasks after %d cycle(s), done", processed)
				c.Journal.Record(ctx, journal.Entry{Type: "loop.done", Payload: map[string]any{"cycles": processed}})
				return processed
			}
			c.logf("no task yet (attempt %d/%d)", attempt+1, c.TaskPollAttempts)
			c.Clock.Sleep(ctx, c.TaskPoll)
		}
		if taskID == "" {
			c.logf("no task received, exiting")
			return processed
		}

		ok := c.Cycle(ctx, taskID, taskDesc, processed+1)
		processed++
		if ok {
			c.logf("cycle %d succeeded", processed)
		} else {
			c.logf("cycle %d ended without synthesis", processed)
		}
		c.Clock.Sleep(ctx, c.CyclePause)
	}

	c.logf("coordinator loop timed out")
	return processed
}

// Cycle coordinates one top-level task and reports whether a synthesis
// artifact was accepted. cycleNum counts cycles at this level, 1 first; it
// selects the decomposition complexity and nothing else. Nesting depth is
// tracked separately, starting at 0 here.
func (c *Coordinator) Cycle(ctx context.Context, taskID, taskDesc string, cycleNum int) bool {
	return c.cycle(ctx, taskID, taskDesc, cycleNum, 0)
}

func (c *Coordinator) cycle(ctx context.Context, taskID, taskDesc string, cycleNum, depth int) bool {
	c.logf("coordinator cycle %d (depth %d) for task %s: %.60s", cycleNum, depth, taskID, taskDesc)

	complexity := complexLater
	if cycleNum == 1 {
		complexity = complexFirst
	}

	c.logf("waiting %s for membership propagation", c.Settle)
	c.Clock.Sleep(ctx, c.Settle)

	planID := c.propose(ctx, taskID, taskDesc, complexity)
	c.Clock.Sleep(ctx, c.VoteDelay)
	c.vote(ctx, taskID, planID)
	c.Clock.Sleep(ctx, c.PostVote)
	c.critique(ctx, taskID, taskDesc, planID)

	c.Clock.Sleep(ctx, c.PreMonitor)
	subtaskIDs := c.awaitSubtasks(ctx, taskID)
	if len(subtaskIDs) == 0 {
		c.logf("no subtasks found for cycle %d, cannot synthesize", cycleNum)
		return false
	}

	return c.monitor(ctx, taskID, taskDesc, cycleNum, depth, subtaskIDs)
}

func (c *Coordinator) propose(ctx context.Context, taskID, taskDesc string, complexity float64) string {
	planID := fmt.Sprintf("plan-%s-%s", c.AgentName, strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
	rationale := fmt.Sprintf("%s proposes two-phase holonic decomposition (complexity=%.1f) for '%s'",
		c.AgentName, complexity, clip(taskDesc, 50))
	plan := swarm.Plan{
		PlanID:               planID,
		TaskID:               taskID,
		Proposer:             c.Identity,
		Epoch:                1,
		EstimatedParallelism: 2.0,
		Subtasks: []swarm.PlanSubtask{
			{
				Index:                0,
				Description:          "Analyze and process first component of: " + clip(taskDesc, 60),
				EstimatedComplexity:  complexity,
				RequiredCapabilities: []string{"reasoning", "analysis"},
			},
			{
				Index:                1,
				Description:          "Synthesize and validate second component of: " + clip(taskDesc, 60),
				EstimatedComplexity:  complexity,
				RequiredCapabilities: []string{"reasoning", "validation"},
			},
		},
		Rationale: rationale,
	}
	res := c.Caller.Call(ctx, c.Endpoint, swarm.MethodProposePlan, plan)
	if res.Kind == rpc.ProtocolError {
		c.logf("propose error: %s", res.Message)
	} else {
		c.logf("proposed %s: %.60s", planID, rationale)
	}
	c.Journal.Record(ctx, journal.Entry{
		Type: "plan.proposed", TaskID: taskID, Endpoint: c.Endpoint,
		Payload: map[string]any{"plan_id": planID, "complexity": complexity},
	})
	return planID
}

func (c *Coordinator) planIDs(ctx context.Context, taskID string) []string {
	var state swarm.VotingState
	c.Caller.Call(ctx, c.Endpoint, swarm.MethodGetVotingState, swarm.TaskIDParams{TaskID: taskID}).Decode(&state)
	return state.PlanIDs()
}

// vote submits a ranked ballot: own plan first, every other known plan after
// in listed order. Missing the vote window is tolerated: with no plans
// visible after one retry the cycle simply does not vote.
func (c *Coordinator) vote(ctx context.Context, taskID, planID string) {
	known := c.planIDs(ctx, taskID)
	if len(known) == 0 {
		c.Clock.Sleep(ctx, c.VoteRetry)
		known = c.planIDs(ctx, taskID)
	}
	if len(known) == 0 {
		c.logf("no plan ids visible, skipping vote (relying on other coordinators)")
		return
	}
	ranked := []string{planID}
	for _, id := range known {
		if id != planID {
			ranked = append(ranked, id)
		}
	}
	res := c.Caller.Call(ctx, c.Endpoint, swarm.MethodSubmitVote, swarm.VoteParams{
		TaskID:        taskID,
		VoterID:       c.Identity,
		RankedPlanIDs: ranked,
	})
	c.logf("vote submitted for %s: ok=%t", taskID, res.Kind == rpc.Success)
	c.Journal.Record(ctx, journal.Entry{
		Type: "ballot.cast", TaskID: taskID, Endpoint: c.Endpoint,
		Payload: map[string]any{"ranked": ranked},
	})
}

// critique scores every known plan once, the proposer's own plan strictly
// higher on every dimension.
func (c *Coordinator) critique(ctx context.Context, taskID, taskDesc, planID string) {
	all := []string{planID}
	for _, id := range c.planIDs(ctx, taskID) {
		if id != planID {
			all = append(all, id)
		}
	}
	scores := make(map[string]swarm.CriticScore, len(all))
	for _, id := range all {
		if id == planID {
			scores[id] = swarm.CriticScore{Feasibility: ownFeasibility, Parallelism: ownParallelism, Completeness: ownCompleteness, Risk: ownRisk}
		} else {
			scores[id] = swarm.CriticScore{Feasibility: otherFeasibility, Parallelism: otherParallelism, Completeness: otherCompleteness, Risk: otherRisk}
		}
	}
	content := fmt.Sprintf("%s reviewed %d proposal(s). Own plan '%s' rated highest: "+
		"feasibility=%.2f, parallelism=%.2f, completeness=%.2f, risk=%.2f. "+
		"Two-phase holonic decomposition is optimal for '%s' because it separates "+
		"analysis from validation, enabling parallel execution.",
		c.AgentName, len(all), tail(planID, 12),
		ownFeasibility, ownParallelism, ownCompleteness, ownRisk, clip(taskDesc, 40))
	res := c.Caller.Call(ctx, c.Endpoint, swarm.MethodSubmitCritique, swarm.CritiqueParams{
		TaskID:     taskID,
		Round:      critiqueRound,
		PlanScores: scores,
		Content:    content,
	})
	c.logf("critique submitted for %s: ok=%t", taskID, res.Kind == rpc.Success)
	c.Journal.Record(ctx, journal.Entry{
		Type: "critique.submitted", TaskID: taskID, Endpoint: c.Endpoint,
		Payload: map[string]any{"plans": len(all), "round": critiqueRound},
	})
}

// awaitSubtasks polls until the task's subtask list is non-empty, up to the
// configured poll budget.
func (c *Coordinator) awaitSubtasks(ctx context.Context, taskID string) []string {
	subtasks := c.subtasks(ctx, taskID)
	if len(subtasks) > 0 {
		return subtasks
	}
	for wait := 0; wait < c.SubtaskWaitPolls && ctx.Err() == nil; wait++ {
		c.Clock.Sleep(ctx, c.MonitorPoll)
		subtasks = c.subtasks(ctx, taskID)
		if len(subtasks) > 0 {
			c.logf("subtasks appeared after %d poll(s): %v", wait+1, subtasks)
			return subtasks
		}
		c.logf("waiting for subtasks (%d/%d)", wait+1, c.SubtaskWaitPolls)
	}
	return nil
}

func (c *Coordinator) subtasks(ctx context.Context, taskID string) []string {
	var detail swarm.TaskDetail
	c.Caller.Call(ctx, c.Endpoint, swarm.MethodGetTask, swarm.TaskIDParams{TaskID: taskID}).Decode(&detail)
	return detail.Task.Subtasks
}

// monitor watches the original subtasks until all are Completed within one
// polling pass, spawning nested cycles for sub-holons as they appear, then
// synthesizes. Partial completion never produces a partial synthesis.
func (c *Coordinator) monitor(ctx context.Context, taskID, taskDesc string, cycleNum, depth int, subtaskIDs []string) bool {
	c.logf("monitoring %d subtask(s) in cycle %d", len(subtaskIDs), cycleNum)
	deadline := c.Clock.Now().Add(c.CycleDeadline)
	visited := make(map[string]bool)
	var nested sync.WaitGroup
	defer nested.Wait()

	for c.Clock.Now().Before(deadline) && ctx.Err() == nil {
		allDone := true
		var results []artifact.SubtaskResult

		for _, stID := range subtaskIDs {
			var detail swarm.TaskDetail
			c.Caller.Call(ctx, c.Endpoint, swarm.MethodGetTask, swarm.TaskIDParams{TaskID: stID}).Decode(&detail)
			st := detail.Task
			c.logf("  subtask %s: status=%s tier=%d", tail(stID, 12), st.Status, st.TierLevel)

			switch {
			case st.Status == swarm.StatusCompleted:
				content := fmt.Sprintf("(no content for %s)", tail(stID, 8))
				if st.Artifact != nil && st.Artifact.Content != "" {
					content = st.Artifact.Content
				}
				results = append(results, artifact.SubtaskResult{
					TaskID:      stID,
					Description: st.Description,
					Content:     content,
				})

			case st.Status == swarm.StatusPending && st.TierLevel == 1 && !visited[stID]:
				// A newly formed sub-holon. Coordinate it at most once,
				// concurrently with the rest of this pass's monitoring.
				visited[stID] = true
				allDone = false
				if depth+1 >= c.MaxDepth {
					c.logf("  sub-holon %s at depth ceiling %d, not recursing", tail(stID, 12), c.MaxDepth)
					c.Journal.Record(ctx, journal.Entry{
						Type: "depth.limit", TaskID: stID,
						Payload: map[string]any{"depth": depth, "max_depth": c.MaxDepth},
					})
					continue
				}
				desc := st.Description
				if desc == "" {
					desc = "subtask " + tail(stID, 8)
				}
				c.logf("  sub-holon %s pending at tier=1, starting nested cycle at depth %d", tail(stID, 12), depth+1)
				c.Journal.Record(ctx, journal.Entry{
					Type: "subholon.spawned", TaskID: stID,
					Payload: map[string]any{"parent": taskID, "depth": depth + 1},
				})
				nested.Add(1)
				go func() {
					defer nested.Done()
					ok := c.cycle(ctx, stID, desc, cycleNum+1, depth+1)
					c.logf("  sub-holon %s nested cycle complete=%t", tail(stID, 12), ok)
				}()

			default:
				allDone = false
			}
		}

		if allDone && len(results) == len(subtaskIDs) {
			if c.synthesize(ctx, taskID, taskDesc, cycleNum, results) {
				return true
			}
			// Non-acceptance here is a convergence signal, not a transport
			// failure: the connector's view of subtask completion has not
			// caught up yet. Wait and resubmit.
			c.logf("synthesis not accepted yet, waiting for local state to converge")
			c.Clock.Sleep(ctx, c.SynthesisRetry)
			continue
		}

		c.logf("still waiting for subtasks in cycle %d", cycleNum)
		c.Clock.Sleep(ctx, c.MonitorPoll)
	}

	c.logf("coordinator cycle %d timed out waiting for subtasks", cycleNum)
	c.Journal.Record(ctx, journal.Entry{
		Type: "cycle.timeout", TaskID: taskID,
		Payload: map[string]any{"cycle": cycleNum},
	})
	return false
}

func (c *Coordinator) synthesize(ctx context.Context, taskID, taskDesc string, cycleNum int, results []artifact.SubtaskResult) bool {
	content := artifact.SynthesisContent(c.Identity, taskDesc, cycleNum, results)
	art := artifact.Build(taskID, c.Identity, content)
	art.IsSynthesis = true
	var reply swarm.ResultReply
	res := c.Caller.Call(ctx, c.Endpoint, swarm.MethodSubmitResult, swarm.ResultParams{
		TaskID:      taskID,
		AgentID:     c.Identity,
		Artifact:    art,
		MerkleProof: []string{},
		IsSynthesis: true,
	})
	res.Decode(&reply)
	c.logf("synthesis cycle %d: accepted=%t", cycleNum, reply.Accepted)
	c.Journal.Record(ctx, journal.Entry{
		Type: "synthesis.submitted", TaskID: taskID, Endpoint: c.Endpoint,
		Payload: map[string]any{"accepted": reply.Accepted, "cycle": cycleNum, "content_cid": art.ContentCID},
	})
	return reply.Accepted
}

// clip and tail slice by rune so multibyte descriptions never get cut
// mid-sequence.
func clip(s string, n int) string {
	r := []rune(s)
	if len(r) > n {
		return string(r[:n])
	}
	return s
}

func tail(s string, n int) string {
	r := []rune(s)
	if len(r) > n {
		return string(r[len(r)-n:])
	}
	return s
}
