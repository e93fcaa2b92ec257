package domain

import (
	"errors"
	"fmt"
	"time"
)

// DefaultAgent is the reserved agent that always exists and can never be deleted.
const DefaultAgent = "default"

// Message is a single entry of an agent's conversation.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// ToolCallRequest is an out-of-band request from the agent to run a tool.
// Args is kept as opaque serialized text.
type ToolCallRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Args        string `json:"args"`
}

// ConfirmationDecision is the human's answer to a ToolCallRequest.
type ConfirmationDecision string

const (
	// DecisionAlwaysAsk approves this call once and keeps asking in the future.
	DecisionAlwaysAsk ConfirmationDecision = "always_ask"
	// DecisionAlwaysConfirmed approves this call and all future calls.
	DecisionAlwaysConfirmed ConfirmationDecision = "always_confirmed"
	// DecisionAlwaysRejected rejects this call and all future calls.
	DecisionAlwaysRejected ConfirmationDecision = "always_rejected"
	// DecisionReject rejects this call only.
	DecisionReject ConfirmationDecision = "reject"
)

// ErrInvalidDecision is returned when parsing an unknown decision or policy.
var ErrInvalidDecision = errors.New("invalid confirmation decision")

// ParseDecision converts wire text into a ConfirmationDecision.
func ParseDecision(s string) (ConfirmationDecision, error) {
	switch d := ConfirmationDecision(s); d {
	case DecisionAlwaysAsk, DecisionAlwaysConfirmed, DecisionAlwaysRejected, DecisionReject:
		return d, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidDecision, s)
}

// Approves reports whether the pending call may run.
func (d ConfirmationDecision) Approves() bool {
	return d == DecisionAlwaysAsk || d == DecisionAlwaysConfirmed
}

// Policy returns the standing policy a decision implies, if any.
// The one-shot reject has none.
func (d ConfirmationDecision) Policy() (ConfirmationPolicy, bool) {
	switch d {
	case DecisionAlwaysAsk:
		return PolicyAlwaysAsk, true
	case DecisionAlwaysConfirmed:
		return PolicyAlwaysConfirmed, true
	case DecisionAlwaysRejected:
		return PolicyAlwaysRejected, true
	}
	return "", false
}

// ConfirmationPolicy is the standing policy stored for a function.
type ConfirmationPolicy string

const (
	PolicyAlwaysConfirmed ConfirmationPolicy = "always_confirmed"
	PolicyAlwaysAsk       ConfirmationPolicy = "always_ask"
	PolicyAlwaysRejected  ConfirmationPolicy = "always_rejected"
)

// ParsePolicy converts wire text into a ConfirmationPolicy.
func ParsePolicy(s string) (ConfirmationPolicy, error) {
	switch p := ConfirmationPolicy(s); p {
	case PolicyAlwaysConfirmed, PolicyAlwaysAsk, PolicyAlwaysRejected:
		return p, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidDecision, s)
}

// Next advances the policy around the ring
// always_confirmed -> always_ask -> always_rejected -> always_confirmed.
// Values off the ring restart at always_confirmed.
func (p ConfirmationPolicy) Next() ConfirmationPolicy {
	switch p {
	case PolicyAlwaysConfirmed:
		return PolicyAlwaysAsk
	case PolicyAlwaysAsk:
		return PolicyAlwaysRejected
	}
	return PolicyAlwaysConfirmed
}

// FunctionPermission holds the flags of one function exposed by a server.
type FunctionPermission struct {
	Allowed     bool               `json:"allowed" mapstructure:"allowed"`
	Confirmed   ConfirmationPolicy `json:"confirmed" mapstructure:"confirmed"`
	Description string             `json:"description" mapstructure:"description"`
}

// ServerPermission holds the flags of one tool server and its functions.
type ServerPermission struct {
	Allowed   bool                          `json:"allowed" mapstructure:"allowed"`
	Functions map[string]FunctionPermission `json:"functions" mapstructure:"-"`
}

// AgentConfig is the permission configuration of an agent.
type AgentConfig struct {
	Description string                      `json:"description"`
	Servers     map[string]ServerPermission `json:"servers"`
}

// Clone returns a deep copy of the config.
func (c AgentConfig) Clone() AgentConfig {
	out := AgentConfig{Description: c.Description, Servers: make(map[string]ServerPermission, len(c.Servers))}
	for name, srv := range c.Servers {
		fns := make(map[string]FunctionPermission, len(srv.Functions))
		for fn, perm := range srv.Functions {
			fns[fn] = perm
		}
		out.Servers[name] = ServerPermission{Allowed: srv.Allowed, Functions: fns}
	}
	return out
}

// Flag names accepted by a FlagUpdate.
const (
	FlagAllowed   = "allowed"
	FlagConfirmed = "confirmed"
)

// FlagUpdate is a single-field edit of an agent's permissions.
// An empty FunctionName targets the server itself.
type FlagUpdate struct {
	ServerName   string `json:"server_name"`
	FunctionName string `json:"function_name"`
	FlagName     string `json:"flag_name"`
	Value        any    `json:"value"`
}

// LogEntry is a line in the session log panel.
type LogEntry struct {
	Level   LogLevel `json:"level"`
	Time    string   `json:"time"`
	Message string   `json:"message"`
}

// NewLogEntry stamps a log entry with the current time.
func NewLogEntry(level LogLevel, msg string) LogEntry {
	return LogEntry{Level: level, Time: time.Now().Format(time.DateTime), Message: msg}
}

// UsageLevel is a coarse display bucket for token usage.
type UsageLevel int

const (
	UsageLow UsageLevel = iota
	UsageMedium
	UsageHigh
)

// UsageCounters holds token usage for the active agent.
type UsageCounters struct {
	LastTokensUsed int `json:"last_tokens_used"`
	AccumTokens    int `json:"accum_tokens"`
}

// Level buckets the last request's usage.
func (u UsageCounters) Level() UsageLevel {
	switch {
	case u.LastTokensUsed < 1500:
		return UsageLow
	case u.LastTokensUsed > 10000:
		return UsageHigh
	}
	return UsageMedium
}
