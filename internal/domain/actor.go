package domain

import "fmt"

// ActorKind discriminates the actor identity union.
type ActorKind string

const (
	ActorUser   ActorKind = "USER"
	ActorMCP    ActorKind = "MCP"
	ActorAgent  ActorKind = "AGENT"
	ActorSystem ActorKind = "SYSTEM"
)

// Actor identifies who performed or is credited for an action. It is
// constructed exactly once at the request boundary and threaded everywhere;
// downstream code never re-derives it from headers or context fields.
//
// Only AGENT actors carry Label/Tool/RunID. A human approving an AI-authored
// proposal stays the audit actor while the proposal's author remains the
// content actor: the two are deliberately distinct values of this type.
type Actor struct {
	Kind  ActorKind `json:"kind" enum:"USER,MCP,AGENT,SYSTEM"`
	ID    string    `json:"id,omitempty"`
	Label string    `json:"label,omitempty"`
	Tool  string    `json:"tool,omitempty"`
	RunID string    `json:"run_id,omitempty"`
}

func UserActor(id string) Actor {
	return Actor{Kind: ActorUser, ID: id}
}

func MCPActor(callerID string) Actor {
	return Actor{Kind: ActorMCP, ID: callerID}
}

func AgentActor(callerID, label, tool, runID string) Actor {
	return Actor{Kind: ActorAgent, ID: callerID, Label: label, Tool: tool, RunID: runID}
}

func SystemActor() Actor {
	return Actor{Kind: ActorSystem}
}

// IsUser reports whether the actor is a human user. Only USER actors may
// approve or reject proposals.
func (a Actor) IsUser() bool { return a.Kind == ActorUser }

func (a Actor) IsZero() bool { return a.Kind == "" }

// Display returns a short human-readable identity for timeline summaries.
func (a Actor) Display() string {
	switch a.Kind {
	case ActorSystem:
		return "system"
	case ActorAgent:
		if a.Label != "" {
			return a.Label
		}
		return a.ID
	default:
		return a.ID
	}
}

func (a Actor) String() string {
	if a.Kind == ActorSystem {
		return "SYSTEM"
	}
	return fmt.Sprintf("%s:%s", a.Kind, a.ID)
}
