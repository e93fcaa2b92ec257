// Package protocol defines the JSON frames exchanged over the chat channel
// and normalizes the loosely typed payloads the backend produces.
package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/nstogner/lazymcp/pkg/domain"
)

// ErrMalformed marks a frame or payload that does not match the expected shape.
var ErrMalformed = errors.New("malformed payload")

// ChatFrame is sent by the client to deliver a user message to an agent.
type ChatFrame struct {
	Agent   string `json:"agent"`
	Message string `json:"message"`
}

// ConfirmFrame is sent by the client to answer a pending tool call.
type ConfirmFrame struct {
	ToolCallConfirmed domain.ConfirmationDecision `json:"tool_call_confirmed"`
}

// ClientFrame is the union of frames a client may send, as seen by a server.
type ClientFrame struct {
	Agent             string  `json:"agent,omitempty"`
	Message           *string `json:"message,omitempty"`
	ToolCallConfirmed string  `json:"tool_call_confirmed,omitempty"`
}

// IsChat reports whether the frame carries a user message.
func (f ClientFrame) IsChat() bool { return f.Message != nil }

// IsConfirmation reports whether the frame answers a tool call.
func (f ClientFrame) IsConfirmation() bool { return f.ToolCallConfirmed != "" }

// ServerFrame is what a server sends. Any subset of the fields may be present.
type ServerFrame struct {
	Reply           []string                `json:"reply,omitempty"`
	TokensUsed      *int                    `json:"tokens_used,omitempty"`
	ToolCallPending *domain.ToolCallRequest `json:"tool_call_pending,omitempty"`
}

// Event is one decoded inbound frame. Its parts are applied in field order:
// replies, then usage, then the tool call.
type Event struct {
	Replies    []string
	TokensUsed int
	HasUsage   bool
	ToolCall   *domain.ToolCallRequest

	// Problems lists the parts that were present but malformed.
	// The well-formed parts are still populated.
	Problems []error
}

// Empty reports whether the event carries nothing to apply.
func (e Event) Empty() bool {
	return len(e.Replies) == 0 && !e.HasUsage && e.ToolCall == nil
}

// DecodeServerFrame parses an inbound frame. An error is returned only when the
// frame is not a JSON object at all; malformed parts are reported in Problems.
func DecodeServerFrame(data []byte) (Event, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return Event{}, fmt.Errorf("%w: frame: %v", ErrMalformed, err)
	}

	var ev Event
	if r, ok := raw["reply"]; ok && !isNull(r) {
		replies, err := decodeReply(r)
		if err != nil {
			ev.Problems = append(ev.Problems, err)
		} else {
			ev.Replies = replies
		}
	}
	if r, ok := raw["tokens_used"]; ok && !isNull(r) {
		n, err := decodeTokens(r)
		if err != nil {
			ev.Problems = append(ev.Problems, err)
		} else {
			ev.TokensUsed, ev.HasUsage = n, true
		}
	}
	if r, ok := raw["tool_call_pending"]; ok && !isNull(r) {
		req, err := DecodeToolCall(r)
		if err != nil {
			ev.Problems = append(ev.Problems, err)
		} else {
			ev.ToolCall = &req
		}
	}
	return ev, nil
}

func decodeReply(r json.RawMessage) ([]string, error) {
	var replies []string
	if err := json.Unmarshal(r, &replies); err != nil {
		return nil, fmt.Errorf("%w: reply is not a list of strings", ErrMalformed)
	}
	return replies, nil
}

func decodeTokens(r json.RawMessage) (int, error) {
	var f float64
	if err := json.Unmarshal(r, &f); err != nil {
		return 0, fmt.Errorf("%w: tokens_used is not a number", ErrMalformed)
	}
	if f < 0 {
		return 0, fmt.Errorf("%w: tokens_used is negative", ErrMalformed)
	}
	return int(f), nil
}

// DecodeToolCall parses a tool_call_pending payload. Arguments that are not
// already text are re-serialized as compact JSON.
func DecodeToolCall(r json.RawMessage) (domain.ToolCallRequest, error) {
	var wire struct {
		Name        string          `json:"name"`
		Description string          `json:"description"`
		Args        json.RawMessage `json:"args"`
	}
	if err := json.Unmarshal(r, &wire); err != nil {
		return domain.ToolCallRequest{}, fmt.Errorf("%w: tool_call_pending: %v", ErrMalformed, err)
	}
	if wire.Name == "" {
		return domain.ToolCallRequest{}, fmt.Errorf("%w: tool_call_pending has no name", ErrMalformed)
	}
	return domain.ToolCallRequest{
		Name:        wire.Name,
		Description: wire.Description,
		Args:        ArgsText(wire.Args),
	}, nil
}

// ArgsText renders raw tool arguments as text.
func ArgsText(r json.RawMessage) string {
	if len(r) == 0 || isNull(r) {
		return ""
	}
	var s string
	if err := json.Unmarshal(r, &s); err == nil {
		return s
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, r); err != nil {
		return string(r)
	}
	return buf.String()
}

// LogRecord decodes a backend log entry that is either a plain string or a
// {level, time, message} object.
type LogRecord domain.LogEntry

// UnmarshalJSON implements json.Unmarshaler.
func (l *LogRecord) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*l = LogRecord{Level: domain.LevelInfo, Message: s}
		return nil
	}
	var obj struct {
		Level   string `json:"level"`
		Time    string `json:"time"`
		Message any    `json:"message"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return fmt.Errorf("%w: log entry: %v", ErrMalformed, err)
	}
	level := domain.LogLevel(strings.ToUpper(obj.Level))
	switch level {
	case domain.LevelError, domain.LevelWarn, domain.LevelInfo, domain.LevelDebug:
	case "WARNING":
		level = domain.LevelWarn
	default:
		level = domain.LevelInfo
	}
	msg, ok := obj.Message.(string)
	if !ok && obj.Message != nil {
		b, _ := json.Marshal(obj.Message)
		msg = string(b)
	}
	*l = LogRecord{Level: level, Time: obj.Time, Message: msg}
	return nil
}

// DecodeLogs parses a list of log records.
func DecodeLogs(r json.RawMessage) ([]domain.LogEntry, error) {
	var records []LogRecord
	if err := json.Unmarshal(r, &records); err != nil {
		return nil, fmt.Errorf("%w: logs is not a list: %v", ErrMalformed, err)
	}
	out := make([]domain.LogEntry, len(records))
	for i, rec := range records {
		out[i] = domain.LogEntry(rec)
	}
	return out, nil
}

func isNull(r json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(r), []byte("null"))
}
