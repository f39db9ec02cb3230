// Package discovery locates a task assigned to this agent. Task assignment
// travels over a best-effort, eventually-consistent broadcast with no
// delivery acknowledgment, so the assignment record can surface at any
// connector endpoint before (or instead of) the local one. Scanning every
// candidate endpoint is the correct consumer-side compensation, not a
// workaround.
package discovery

import (
	"context"
	"log"
	"strings"
	"time"

	"swarmline/internal/rpc"
	"swarmline/internal/swarm"
)

// Finder queries connector endpoints for pending work.
type Finder struct {
	Caller   rpc.Caller
	Logger   *log.Logger
	Endpoint string   // the agent's own connector
	Peers    []string // full candidate set, in scan order

	ScanTimeout time.Duration // per-call bound during the scan
}

// New returns a finder with the protocol's 3s scan timeout.
func New(caller rpc.Caller, endpoint string, peers []string) *Finder {
	return &Finder{
		Caller:      caller,
		Endpoint:    endpoint,
		Peers:       peers,
		ScanTimeout: 3 * time.Second,
	}
}

func (f *Finder) logf(format string, args ...any) {
	if f.Logger != nil {
		f.Logger.Printf(format, args...)
	}
}

// PendingLocal polls the agent's own endpoint: the fast path. Returns the
// first pending task with its detail.
func (f *Finder) PendingLocal(ctx context.Context) (string, swarm.Task, bool) {
	var pending swarm.PendingResult
	if !f.Caller.Call(ctx, f.Endpoint, swarm.MethodReceiveTask, nil).Decode(&pending) || len(pending.PendingTasks) == 0 {
		return "", swarm.Task{}, false
	}
	taskID := pending.PendingTasks[0]
	var detail swarm.TaskDetail
	f.Caller.Call(ctx, f.Endpoint, swarm.MethodGetTask, swarm.TaskIDParams{TaskID: taskID}).Decode(&detail)
	return taskID, detail.Task, true
}

// FindMine scans every candidate endpoint's pending list for a task whose
// assigned_to contains this agent's truncated identity prefix. The returned
// endpoint is the one holding the assignment: submission must go through it,
// not necessarily the agent's own endpoint.
func (f *Finder) FindMine(ctx context.Context, identity swarm.Identity) (string, string, swarm.Task, bool) {
	prefix := identity.ShortPrefix()
	for _, endpoint := range f.Peers {
		var pending swarm.PendingResult
		if !f.scan(ctx, endpoint, swarm.MethodReceiveTask, nil, &pending) {
			continue
		}
		for _, taskID := range pending.PendingTasks {
			var detail swarm.TaskDetail
			if !f.scan(ctx, endpoint, swarm.MethodGetTask, swarm.TaskIDParams{TaskID: taskID}, &detail) {
				continue
			}
			assignee := detail.Task.AssignedTo
			if assignee != "" && strings.Contains(assignee, prefix) {
				f.logf("found task %s assigned to %s at %s", taskID, prefix, endpoint)
				return endpoint, taskID, detail.Task, true
			}
		}
	}
	return "", "", swarm.Task{}, false
}

func (f *Finder) scan(ctx context.Context, endpoint, method string, params, out any) bool {
	scanCtx := ctx
	if f.ScanTimeout > 0 {
		var cancel context.CancelFunc
		scanCtx, cancel = context.WithTimeout(ctx, f.ScanTimeout)
		defer cancel()
	}
	return f.Caller.Call(scanCtx, endpoint, method, params).Decode(out)
}
