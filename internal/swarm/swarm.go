// Package swarm defines the wire contract the driver shares with the
// connector service: task, plan, ballot, critique, and artifact shapes, plus
// the JSON-RPC method names. Decoding is tolerant: any field the service
// omits comes back as its zero value.
package swarm

import "strings"

// JSON-RPC methods consumed by the driver.
const (
	MethodGetStatus      = "swarm.get_status"
	MethodReceiveTask    = "swarm.receive_task"
	MethodGetTask        = "swarm.get_task"
	MethodGetVotingState = "swarm.get_voting_state"
	MethodProposePlan    = "swarm.propose_plan"
	MethodSubmitVote     = "swarm.submit_vote"
	MethodSubmitCritique = "swarm.submit_critique"
	MethodSubmitResult   = "swarm.submit_result"
	MethodInjectTask     = "swarm.inject_task"
)

// Tier is the agent's role class as reported by the connector.
type Tier string

const (
	TierUnknown  Tier = "Unknown"
	Tier1        Tier = "Tier1"
	Tier2        Tier = "Tier2"
	TierExecutor Tier = "Executor"
)

// Known reports whether the tier carries a usable value.
func (t Tier) Known() bool { return t != "" && t != TierUnknown }

// Coordinator reports whether this tier runs the propose/vote/critique/
// synthesize protocol. Everything below Tier1 executes leaf tasks.
func (t Tier) Coordinator() bool { return t == Tier1 }

type TaskStatus string

const (
	StatusPending    TaskStatus = "Pending"
	StatusInProgress TaskStatus = "InProgress"
	StatusCompleted  TaskStatus = "Completed"
)

// Identity is the agent's DID-like participant identity.
type Identity string

const didPrefix = "did:swarm:"

// ShortPrefix returns the first 20 characters of the identity with the DID
// scheme stripped. Assignment matching uses this loose prefix so formatting
// differences between local and remote identity views do not hide a task
// from its assignee.
func (id Identity) ShortPrefix() string {
	s := strings.TrimPrefix(string(id), didPrefix)
	if len(s) > 20 {
		s = s[:20]
	}
	return s
}

// Task is the connector's view of a unit of work. The driver observes tasks,
// it never owns them.
type Task struct {
	TaskID       string     `json:"task_id"`
	ParentTaskID string     `json:"parent_task_id,omitempty"`
	Epoch        uint64     `json:"epoch"`
	Status       TaskStatus `json:"status"`
	Description  string     `json:"description"`
	AssignedTo   string     `json:"assigned_to,omitempty"`
	TierLevel    int        `json:"tier_level"`
	Subtasks     []string   `json:"subtasks,omitempty"`
	Artifact     *Artifact  `json:"artifact,omitempty"`
}

// Plan is a proposed decomposition of a task, immutable once proposed.
type Plan struct {
	PlanID               string        `json:"plan_id"`
	TaskID               string        `json:"task_id"`
	Proposer             Identity      `json:"proposer"`
	Epoch                uint64        `json:"epoch"`
	Subtasks             []PlanSubtask `json:"subtasks"`
	Rationale            string        `json:"rationale"`
	EstimatedParallelism float64       `json:"estimated_parallelism"`
}

type PlanSubtask struct {
	Index                int      `json:"index"`
	Description          string   `json:"description"`
	EstimatedComplexity  float64  `json:"estimated_complexity"`
	RequiredCapabilities []string `json:"required_capabilities"`
}

// CriticScore is one agent's assessment of a plan, each dimension in [0,1].
type CriticScore struct {
	Feasibility  float64 `json:"feasibility"`
	Parallelism  float64 `json:"parallelism"`
	Completeness float64 `json:"completeness"`
	Risk         float64 `json:"risk"`
}

// Artifact is the content-addressed result of executing or synthesizing a
// task. ContentCID is the SHA-256 hex of Content, so identical content yields
// the same id regardless of which agent produced it.
type Artifact struct {
	ArtifactID  string   `json:"artifact_id"`
	TaskID      string   `json:"task_id"`
	Producer    Identity `json:"producer"`
	ContentCID  string   `json:"content_cid"`
	MerkleHash  string   `json:"merkle_hash"`
	ContentType string   `json:"content_type"`
	SizeBytes   int      `json:"size_bytes"`
	Content     string   `json:"content"`
	IsSynthesis bool     `json:"is_synthesis,omitempty"`
}

// StatusResult is the swarm.get_status payload.
type StatusResult struct {
	AgentID     string `json:"agent_id"`
	Status      string `json:"status"`
	Tier        Tier   `json:"tier"`
	Epoch       uint64 `json:"epoch"`
	ParentID    string `json:"parent_id,omitempty"`
	ActiveTasks int    `json:"active_tasks"`
	KnownAgents int    `json:"known_agents"`
}

// PendingResult is the swarm.receive_task payload.
type PendingResult struct {
	PendingTasks []string `json:"pending_tasks"`
}

// TaskDetail is the swarm.get_task payload.
type TaskDetail struct {
	Task      Task `json:"task"`
	IsPending bool `json:"is_pending"`
}

// VotingState is the swarm.get_voting_state payload. Plan ids live on the
// per-task RFP coordinator entries.
type VotingState struct {
	RFPCoordinators []RFPState `json:"rfp_coordinators"`
}

type RFPState struct {
	TaskID  string   `json:"task_id"`
	Phase   string   `json:"phase,omitempty"`
	PlanIDs []string `json:"plan_ids"`
}

// PlanIDs returns the first non-empty plan id list across RFP entries,
// mirroring how the connector reports a single task's voting state.
func (v VotingState) PlanIDs() []string {
	for _, rfp := range v.RFPCoordinators {
		if len(rfp.PlanIDs) > 0 {
			return rfp.PlanIDs
		}
	}
	return nil
}

// VoteParams is a ranked ballot over known plans for a task.
type VoteParams struct {
	TaskID        string   `json:"task_id"`
	VoterID       Identity `json:"voter_id"`
	RankedPlanIDs []string `json:"ranked_plan_ids"`
}

// CritiqueParams scores every known plan for a task in one round.
type CritiqueParams struct {
	TaskID     string                 `json:"task_id"`
	Round      int                    `json:"round"`
	PlanScores map[string]CriticScore `json:"plan_scores"`
	Content    string                 `json:"content"`
}

// ResultParams submits an artifact for a task.
type ResultParams struct {
	TaskID      string   `json:"task_id"`
	AgentID     Identity `json:"agent_id"`
	Artifact    Artifact `json:"artifact"`
	MerkleProof []string `json:"merkle_proof"`
	IsSynthesis bool     `json:"is_synthesis,omitempty"`
}

// ResultReply is the connector's answer to swarm.submit_result.
type ResultReply struct {
	Accepted   bool   `json:"accepted"`
	ArtifactID string `json:"artifact_id,omitempty"`
}

// TaskIDParams addresses a single task.
type TaskIDParams struct {
	TaskID string `json:"task_id"`
}

// InjectParams seeds a top-level task (bootstrap and test use only).
type InjectParams struct {
	Description string `json:"description"`
	TaskID      string `json:"task_id,omitempty"`
}
