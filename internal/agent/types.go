// Package agent defines the registry domain model shared by the streaming
// clients, the proxy handlers, and the exporters.
package agent

import (
	"encoding/json"
	"time"
)

// Agent is a single registry entry.
type Agent struct {
	ID            string    `json:"id"`
	ChainID       int64     `json:"chainId"`
	Address       string    `json:"address,omitempty"`
	Name          string    `json:"name"`
	Description   string    `json:"description,omitempty"`
	Skills        []string  `json:"skills,omitempty"`
	MCP           bool      `json:"mcp"`
	A2A           bool      `json:"a2a"`
	Verified      bool      `json:"verified"`
	Reputation    float64   `json:"reputation"`
	FeedbackCount int64     `json:"feedbackCount"`
	RegisteredAt  time.Time `json:"registeredAt"`
	UpdatedAt     time.Time `json:"updatedAt,omitempty"`
}

// SearchPage is one batch of streamed search results.
type SearchPage struct {
	Agents []Agent `json:"agents"`
	Offset int     `json:"offset"`
	Total  int     `json:"total,omitempty"`
}

// SearchMetadata summarizes a finished or in-flight search.
type SearchMetadata struct {
	Total  int     `json:"total"`
	TookMS int64   `json:"took_ms"`
	Chains []int64 `json:"chains,omitempty"`
	Cached bool    `json:"cached,omitempty"`
}

// LeaderboardEntry is one row of the reputation leaderboard.
type LeaderboardEntry struct {
	Rank   int     `json:"rank"`
	Agent  Agent   `json:"agent"`
	Score  float64 `json:"score"`
	Change int     `json:"change,omitempty"`
}

// RealtimeEvent is a registry notification pushed over the event stream.
// The wire channel an event is published under equals its Type.
type RealtimeEvent struct {
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
	ChainID   int64           `json:"chainId,omitempty"`
}

// Realtime event types published by the registry.
const (
	EventAgentRegistered     = "agent.registered"
	EventAgentUpdated        = "agent.updated"
	EventFeedbackSubmitted   = "feedback.submitted"
	EventValidationCompleted = "validation.completed"
	EventLeaderboardUpdated  = "leaderboard.updated"
)
