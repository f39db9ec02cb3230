// Package executor runs the leaf-agent loop: discover an assigned task,
// produce a deterministic result artifact, submit it, repeat until the swarm
// goes quiet or the wall clock runs out.
package executor

import (
	"context"
	"log"
	"time"

	"swarmline/internal/artifact"
	"swarmline/internal/clock"
	"swarmline/internal/discovery"
	"swarmline/internal/journal"
	"swarmline/internal/rpc"
	"swarmline/internal/swarm"
)

// Executor is the Tier-2 work loop.
type Executor struct {
	Caller   rpc.Caller
	Clock    clock.Clock
	Journal  journal.Recorder
	Logger   *log.Logger
	Finder   *discovery.Finder
	Identity swarm.Identity
	Endpoint string

	Deadline     time.Duration // hard wall-clock ceiling
	PollInterval time.Duration // between empty polls
	QuietPolls   int           // consecutive empty polls before quitting
	Pause        time.Duration // after a successful submission
}

// New returns an executor with the protocol's standard timings: 600s
// deadline, 10s polls, a 30-poll (5 minute) quiet period, 3s pause.
func New(caller rpc.Caller, finder *discovery.Finder, identity swarm.Identity, endpoint string) *Executor {
	return &Executor{
		Caller:       caller,
		Clock:        clock.System(),
		Journal:      journal.Nop{},
		Finder:       finder,
		Identity:     identity,
		Endpoint:     endpoint,
		Deadline:     600 * time.Second,
		PollInterval: 10 * time.Second,
		QuietPolls:   30,
		Pause:        3 * time.Second,
	}
}

func (e *Executor) logf(format string, args ...any) {
	if e.Logger != nil {
		e.Logger.Printf(format, args...)
	}
}

// Run polls for assigned tasks and executes them. It returns the number of
// tasks processed. Termination: the deadline elapses, or at least one task
// has been processed and the quiet period has passed. The loop never gives
// up early while it has seen no work at all.
func (e *Executor) Run(ctx context.Context) int {
	e.logf("running as executor")
	deadline := e.Clock.Now().Add(e.Deadline)
	processed := 0
	noTaskStreak := 0

	for e.Clock.Now().Before(deadline) && ctx.Err() == nil {
		endpoint := e.Endpoint
		taskID, task, ok := e.Finder.PendingLocal(ctx)

		// Nothing local: the assignment may have landed on another
		// connector. Scan the whole candidate set.
		if !ok {
			var scanEndpoint string
			scanEndpoint, taskID, task, ok = e.Finder.FindMine(ctx, e.Identity)
			if ok {
				endpoint = scanEndpoint
				e.logf("found my task %s via %s (gossip delay)", taskID, endpoint)
			}
		}

		if !ok {
			noTaskStreak++
			if processed > 0 && noTaskStreak >= e.QuietPolls {
				e.logf("no more tasks after %d completed, done", processed)
				return processed
			}
			e.logf("no task yet, waiting (streak=%d)", noTaskStreak)
			e.Clock.Sleep(ctx, e.PollInterval)
			continue
		}

		noTaskStreak = 0
		e.executeAndSubmit(ctx, endpoint, taskID, task)
		processed++
		e.Clock.Sleep(ctx, e.Pause)
	}

	e.logf("executor finished after %d task(s)", processed)
	return processed
}

func (e *Executor) executeAndSubmit(ctx context.Context, endpoint, taskID string, task swarm.Task) {
	e.logf("executing task %s via %s: %.60s", taskID, endpoint, task.Description)
	e.Journal.Record(ctx, journal.Entry{
		Type: "task.discovered", TaskID: taskID, Endpoint: endpoint,
		Payload: map[string]any{"description": task.Description},
	})

	content := artifact.ExecutionContent(e.Identity, task.Description)
	art := artifact.Build(taskID, e.Identity, content)
	var reply swarm.ResultReply
	res := e.Caller.Call(ctx, endpoint, swarm.MethodSubmitResult, swarm.ResultParams{
		TaskID:      taskID,
		AgentID:     e.Identity,
		Artifact:    art,
		MerkleProof: []string{},
	})
	res.Decode(&reply)
	if res.Kind == rpc.ProtocolError {
		// Not retried here: if the task stays pending the outer loop
		// will rediscover it on a later poll.
		e.logf("submit rejected for %s: %s", taskID, res.Message)
	}
	e.logf("submitted result for %s: accepted=%t", taskID, reply.Accepted)
	e.Journal.Record(ctx, journal.Entry{
		Type: "result.submitted", TaskID: taskID, Endpoint: endpoint,
		Payload: map[string]any{"accepted": reply.Accepted, "content_cid": art.ContentCID},
	})
}
