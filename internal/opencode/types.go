// Package opencode defines the upstream OpenCode runtime collaborator: the
// event and message shapes the server emits, the Client interface the
// bridge consumes, and an HTTP/SSE implementation of it.
package opencode

import (
	"encoding/json"
	"strings"
)

// Event types emitted on the server's event feed.
const (
	EventPartUpdated       = "message.part.updated"
	EventMessageUpdated    = "message.updated"
	EventSessionError      = "session.error"
	EventSessionIdle       = "session.idle"
	EventPermissionUpdated = "permission.updated"
)

// Part types carried inside message.part.updated events.
const (
	PartText       = "text"
	PartReasoning  = "reasoning"
	PartTool       = "tool"
	PartFile       = "file"
	PartPatch      = "patch"
	PartSnapshot   = "snapshot"
	PartAgent      = "agent"
	PartStepStart  = "step-start"
	PartStepFinish = "step-finish"
)

// Tool lifecycle states. pending -> running -> {completed | error} is the
// only legal path.
const (
	ToolPending   = "pending"
	ToolRunning   = "running"
	ToolCompleted = "completed"
	ToolError     = "error"
)

// Event is one entry of the server's ordered event feed. Properties is a
// flat union; which fields are set depends on Type.
type Event struct {
	Type       string          `json:"type"`
	Properties EventProperties `json:"properties"`
}

// EventProperties carries the payload of every event type the bridge cares
// about. Unknown event types leave all fields zero.
type EventProperties struct {
	Part      *Part         `json:"part,omitempty"`
	Info      *Message      `json:"info,omitempty"`
	SessionID string        `json:"sessionID,omitempty"`
	MessageID string        `json:"messageID,omitempty"`
	Error     *MessageError `json:"error,omitempty"`
}

// SessionID returns the session an event belongs to, from whichever field
// the event type carries it in. Empty means the event is not session-scoped.
func (e *Event) SessionID() string {
	if e.Properties.SessionID != "" {
		return e.Properties.SessionID
	}
	if e.Properties.Part != nil {
		return e.Properties.Part.SessionID
	}
	if e.Properties.Info != nil {
		return e.Properties.Info.SessionID
	}
	return ""
}

// Part is one constituent unit of an in-progress message. The server sends
// the full current snapshot on every update, never a diff: text and
// reasoning parts carry the cumulative text produced so far.
type Part struct {
	ID        string `json:"id"`
	MessageID string `json:"messageID"`
	SessionID string `json:"sessionID"`
	Type      string `json:"type"`

	// text / reasoning
	Text string    `json:"text,omitempty"`
	Time *PartTime `json:"time,omitempty"`

	// tool
	Tool   string     `json:"tool,omitempty"`
	CallID string     `json:"callID,omitempty"`
	State  *ToolState `json:"state,omitempty"`

	// file
	MIME     string `json:"mime,omitempty"`
	Filename string `json:"filename,omitempty"`
	URL      string `json:"url,omitempty"`

	// patch
	Hash  string   `json:"hash,omitempty"`
	Files []string `json:"files,omitempty"`
}

// PartTime records when a part started and finished. Assistant-authored
// text parts always carry a start time; echoed user input does not.
type PartTime struct {
	Start int64  `json:"start"`
	End   *int64 `json:"end,omitempty"`
}

// ToolState is the lifecycle payload of a tool part.
type ToolState struct {
	Status   string         `json:"status"`
	Input    map[string]any `json:"input,omitempty"`
	Output   string         `json:"output,omitempty"`
	Title    string         `json:"title,omitempty"`
	Error    string         `json:"error,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
	Time     *PartTime      `json:"time,omitempty"`
}

// Message is a conversation message. A completion event is a
// message.updated whose Info has Role "assistant" and a non-zero
// Time.Completed.
type Message struct {
	ID        string        `json:"id"`
	SessionID string        `json:"sessionID"`
	Role      string        `json:"role"`
	Time      MessageTime   `json:"time"`
	Error     *MessageError `json:"error,omitempty"`
}

// MessageTime tracks message lifecycle timestamps (unix millis).
type MessageTime struct {
	Created   int64 `json:"created"`
	Completed int64 `json:"completed,omitempty"`
}

// Completed reports whether the message has finished.
func (m *Message) Completed() bool {
	return m.Time.Completed != 0
}

// MessageError is a message-level agent error.
type MessageError struct {
	Name string           `json:"name"`
	Data MessageErrorData `json:"data"`
}

// MessageErrorData carries the error detail.
type MessageErrorData struct {
	Message string `json:"message,omitempty"`
}

// Error names the server uses for message-level failures.
const (
	ErrorAborted = "MessageAbortedError"
)

// Session is an upstream conversation session.
type Session struct {
	ID        string `json:"id"`
	Directory string `json:"directory,omitempty"`
	Title     string `json:"title,omitempty"`
}

// MessageWithParts pairs a message with its parts, as returned by the
// message-list endpoint.
type MessageWithParts struct {
	Info  Message `json:"info"`
	Parts []Part  `json:"parts"`
}

// TextPartInput is a text part of an outgoing prompt.
type TextPartInput struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// PromptOptions selects the agent or model a prompt runs with.
type PromptOptions struct {
	Agent string `json:"agent,omitempty"`
	Model *Model `json:"model,omitempty"`
}

// Model is a provider/model pair.
type Model struct {
	ProviderID string `json:"providerID"`
	ModelID    string `json:"modelID"`
}

// ParseModel splits a "provider/model" reference. Returns nil if s is not
// of that shape.
func ParseModel(s string) *Model {
	provider, model, ok := strings.Cut(s, "/")
	if !ok || provider == "" || model == "" {
		return nil
	}
	return &Model{ProviderID: provider, ModelID: model}
}

// ResolveModel resolves the server config's default model against the
// provider list. Returns nil when no model is configured or when no known
// provider offers it.
func ResolveModel(cfg *Config, providers []Provider) *Model {
	if cfg == nil {
		return nil
	}
	m := ParseModel(cfg.Model)
	if m == nil {
		return nil
	}
	for _, p := range providers {
		if p.ID != m.ProviderID {
			continue
		}
		if _, ok := p.Models[m.ModelID]; ok {
			return m
		}
	}
	return nil
}

// Config is the server configuration the bridge reads model defaults from.
type Config struct {
	Model   string                   `json:"model,omitempty"`
	Command map[string]CommandConfig `json:"command,omitempty"`
}

// CommandConfig is one command declared in the server config.
type CommandConfig struct {
	Description string `json:"description,omitempty"`
	Template    string `json:"template"`
}

// Provider describes one model provider known to the server.
type Provider struct {
	ID     string                     `json:"id"`
	Name   string                     `json:"name,omitempty"`
	Models map[string]json.RawMessage `json:"models,omitempty"`
}
