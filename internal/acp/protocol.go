// Package acp implements the agent side of the Agent Client Protocol:
// JSON-RPC 2.0 over stdio, session/update notifications pushed to the
// client, and the blocking session/request_permission round trip.
package acp

import "encoding/json"

// JSON-RPC 2.0 method names.
const (
	MethodInitialize      = "initialize"
	MethodSessionNew      = "session/new"
	MethodSessionLoad     = "session/load"
	MethodSessionPrompt   = "session/prompt"
	MethodSessionUpdate   = "session/update"
	MethodSessionCancel   = "session/cancel"
	MethodSessionSetMode  = "session/set_mode"
	MethodRequestPerm     = "session/request_permission"
	MethodTerminalCreate  = "terminal/create"
	MethodTerminalOutput  = "terminal/output"
	MethodTerminalWait    = "terminal/wait_for_exit"
	MethodTerminalKill    = "terminal/kill"
	MethodTerminalRelease = "terminal/release"
)

// ProtocolVersion is the ACP major version this agent speaks.
const ProtocolVersion = 1

// --- Initialize ---

// InitializeParams is the client's opening handshake.
type InitializeParams struct {
	ProtocolVersion    int                 `json:"protocolVersion"`
	ClientCapabilities *ClientCapabilities `json:"clientCapabilities,omitempty"`
	ClientInfo         *Implementation     `json:"clientInfo,omitempty"`
}

// InitializeResult is the agent's handshake response.
type InitializeResult struct {
	ProtocolVersion   int                `json:"protocolVersion"`
	AgentCapabilities *AgentCapabilities `json:"agentCapabilities,omitempty"`
	AgentInfo         *Implementation    `json:"agentInfo,omitempty"`
}

// Implementation identifies a client or agent.
type Implementation struct {
	Name    string `json:"name"`
	Title   string `json:"title,omitempty"`
	Version string `json:"version"`
}

// ClientCapabilities declares client-side operations the client supports.
type ClientCapabilities struct {
	FS       *FileSystemCapability `json:"fs,omitempty"`
	Terminal bool                  `json:"terminal,omitempty"`
}

// FileSystemCapability declares file system operations the client supports.
type FileSystemCapability struct {
	ReadTextFile  bool `json:"readTextFile,omitempty"`
	WriteTextFile bool `json:"writeTextFile,omitempty"`
}

// AgentCapabilities declares what this agent supports.
type AgentCapabilities struct {
	LoadSession bool `json:"loadSession,omitempty"`
}

// --- Session lifecycle ---

// NewSessionParams creates a new session rooted at CWD.
type NewSessionParams struct {
	CWD        string      `json:"cwd"`
	MCPServers []MCPServer `json:"mcpServers,omitempty"`
}

// NewSessionResult carries the upstream-issued session id.
type NewSessionResult struct {
	SessionID string            `json:"sessionId"`
	Modes     *SessionModeState `json:"modes,omitempty"`
}

// LoadSessionParams resumes an existing session and replays its transcript.
type LoadSessionParams struct {
	SessionID string `json:"sessionId"`
	CWD       string `json:"cwd"`
}

// LoadSessionResult is the response to session/load.
type LoadSessionResult struct {
	Modes *SessionModeState `json:"modes,omitempty"`
}

// MCPServer describes an MCP server the client wants attached. The bridge
// accepts and ignores these; MCP wiring belongs to the upstream runtime.
type MCPServer struct {
	Name    string   `json:"name"`
	Command string   `json:"command"`
	Args    []string `json:"args"`
}

// SessionModeState describes the current and available permission modes.
type SessionModeState struct {
	CurrentModeID  string        `json:"currentModeId"`
	AvailableModes []SessionMode `json:"availableModes"`
}

// SessionMode is one selectable permission mode.
type SessionMode struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// --- Prompt ---

// PromptParams sends a user message to the session.
type PromptParams struct {
	SessionID string         `json:"sessionId"`
	Prompt    []ContentBlock `json:"prompt"`
}

// PromptResult reports why the prompt turn stopped.
type PromptResult struct {
	StopReason StopReason `json:"stopReason"`
}

// StopReason is the client-visible reason a turn ended.
type StopReason string

const (
	StopEndTurn   StopReason = "end_turn"
	StopCancelled StopReason = "cancelled"
	StopRefusal   StopReason = "refusal"
)

// CancelParams marks a session cancelled.
type CancelParams struct {
	SessionID string `json:"sessionId"`
}

// SetModeParams switches the session's permission mode.
type SetModeParams struct {
	SessionID string `json:"sessionId"`
	ModeID    string `json:"modeId"`
}

// --- Content ---

// ContentBlock is a single content element (text or image).
type ContentBlock struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
	URI      string `json:"uri,omitempty"`
	Data     string `json:"data,omitempty"`
}

// TextBlock builds a text content block.
func TextBlock(text string) ContentBlock {
	return ContentBlock{Type: "text", Text: text}
}

// ImageBlock builds an image content block referencing a URI.
func ImageBlock(mimeType, uri string) ContentBlock {
	return ContentBlock{Type: "image", MimeType: mimeType, URI: uri}
}

// --- Session updates ---

// SessionNotification is the outer envelope of a session/update notification.
type SessionNotification struct {
	SessionID string `json:"sessionId"`
	Update    Update `json:"update"`
}

// Update is one session/update payload. Concrete types carry their own
// sessionUpdate discriminator, set by the constructors below.
type Update interface {
	isUpdate()
}

// MessageChunk streams message, thought, or replayed-user-message content.
type MessageChunk struct {
	SessionUpdate string       `json:"sessionUpdate"`
	Content       ContentBlock `json:"content"`
}

func (MessageChunk) isUpdate() {}

// AgentMessageChunk builds an agent_message_chunk update.
func AgentMessageChunk(content ContentBlock) MessageChunk {
	return MessageChunk{SessionUpdate: "agent_message_chunk", Content: content}
}

// AgentThoughtChunk builds an agent_thought_chunk update.
func AgentThoughtChunk(content ContentBlock) MessageChunk {
	return MessageChunk{SessionUpdate: "agent_thought_chunk", Content: content}
}

// UserMessageChunk builds a user_message_chunk update (transcript replay).
func UserMessageChunk(content ContentBlock) MessageChunk {
	return MessageChunk{SessionUpdate: "user_message_chunk", Content: content}
}

// ToolKind classifies a tool call for client rendering.
type ToolKind string

const (
	KindRead       ToolKind = "read"
	KindEdit       ToolKind = "edit"
	KindExecute    ToolKind = "execute"
	KindSearch     ToolKind = "search"
	KindFetch      ToolKind = "fetch"
	KindThink      ToolKind = "think"
	KindSwitchMode ToolKind = "switch_mode"
	KindOther      ToolKind = "other"
)

// ToolStatus is the downstream lifecycle state of a tool call.
type ToolStatus string

const (
	StatusPending    ToolStatus = "pending"
	StatusInProgress ToolStatus = "in_progress"
	StatusCompleted  ToolStatus = "completed"
	StatusFailed     ToolStatus = "failed"
)

// ToolCallContent is one content element of a tool call: either a nested
// content block or a file diff.
type ToolCallContent struct {
	Type    string        `json:"type"` // "content" | "diff"
	Content *ContentBlock `json:"content,omitempty"`

	// diff fields
	Path    string  `json:"path,omitempty"`
	OldText *string `json:"oldText,omitempty"`
	NewText string  `json:"newText,omitempty"`
}

// ToolContent wraps a content block as tool-call content.
func ToolContent(block ContentBlock) ToolCallContent {
	return ToolCallContent{Type: "content", Content: &block}
}

// DiffContent builds a diff tool-call content element.
func DiffContent(path string, oldText *string, newText string) ToolCallContent {
	return ToolCallContent{Type: "diff", Path: path, OldText: oldText, NewText: newText}
}

// ToolCallStart announces a new tool call (sessionUpdate: tool_call).
type ToolCallStart struct {
	SessionUpdate string            `json:"sessionUpdate"`
	ToolCallID    string            `json:"toolCallId"`
	Title         string            `json:"title"`
	Kind          ToolKind          `json:"kind,omitempty"`
	Status        ToolStatus        `json:"status,omitempty"`
	Content       []ToolCallContent `json:"content,omitempty"`
	RawInput      json.RawMessage   `json:"rawInput,omitempty"`
}

func (ToolCallStart) isUpdate() {}

// NewToolCall builds a tool_call update.
func NewToolCall(id, title string, kind ToolKind, status ToolStatus) ToolCallStart {
	return ToolCallStart{
		SessionUpdate: "tool_call",
		ToolCallID:    id,
		Title:         title,
		Kind:          kind,
		Status:        status,
	}
}

// ToolCallProgress reports a tool call state change (sessionUpdate: tool_call_update).
type ToolCallProgress struct {
	SessionUpdate string            `json:"sessionUpdate"`
	ToolCallID    string            `json:"toolCallId"`
	Title         string            `json:"title,omitempty"`
	Kind          ToolKind          `json:"kind,omitempty"`
	Status        ToolStatus        `json:"status"`
	Content       []ToolCallContent `json:"content,omitempty"`
	RawInput      json.RawMessage   `json:"rawInput,omitempty"`
	RawOutput     json.RawMessage   `json:"rawOutput,omitempty"`
}

func (ToolCallProgress) isUpdate() {}

// ToolCallUpdate builds a tool_call_update.
func ToolCallUpdate(id string, status ToolStatus) ToolCallProgress {
	return ToolCallProgress{
		SessionUpdate: "tool_call_update",
		ToolCallID:    id,
		Status:        status,
	}
}

// AvailableCommand describes one slash command offered to the client.
type AvailableCommand struct {
	Name        string        `json:"name"`
	Description string        `json:"description"`
	Input       *CommandInput `json:"input,omitempty"`
}

// CommandInput hints at the arguments a command accepts.
type CommandInput struct {
	Hint string `json:"hint"`
}

// AvailableCommandsUpdate publishes the current slash command list.
type AvailableCommandsUpdate struct {
	SessionUpdate     string             `json:"sessionUpdate"`
	AvailableCommands []AvailableCommand `json:"availableCommands"`
}

func (AvailableCommandsUpdate) isUpdate() {}

// CommandsUpdate builds an available_commands_update.
func CommandsUpdate(commands []AvailableCommand) AvailableCommandsUpdate {
	return AvailableCommandsUpdate{
		SessionUpdate:     "available_commands_update",
		AvailableCommands: commands,
	}
}

// CurrentModeUpdate announces the session's active permission mode.
type CurrentModeUpdate struct {
	SessionUpdate string `json:"sessionUpdate"`
	CurrentModeID string `json:"currentModeId"`
}

func (CurrentModeUpdate) isUpdate() {}

// ModeUpdate builds a current_mode_update.
func ModeUpdate(modeID string) CurrentModeUpdate {
	return CurrentModeUpdate{SessionUpdate: "current_mode_update", CurrentModeID: modeID}
}

// --- Permission ---

// Permission option ids offered on every request. The menu is fixed: a
// one-shot allow and a one-shot reject.
const (
	OptionAllowOnce  = "allow_once"
	OptionRejectOnce = "reject_once"
)

// PermissionRequest asks the client to approve a tool call.
type PermissionRequest struct {
	SessionID string             `json:"sessionId"`
	ToolCall  ToolCallRef        `json:"toolCall"`
	Options   []PermissionOption `json:"options"`
}

// ToolCallRef identifies the tool call a permission request is about.
type ToolCallRef struct {
	ToolCallID string          `json:"toolCallId"`
	Title      string          `json:"title,omitempty"`
	Kind       ToolKind        `json:"kind,omitempty"`
	Status     ToolStatus      `json:"status,omitempty"`
	RawInput   json.RawMessage `json:"rawInput,omitempty"`
}

// PermissionOption is one selectable choice on a permission request.
type PermissionOption struct {
	OptionID string `json:"optionId"`
	Name     string `json:"name"`
	Kind     string `json:"kind"`
}

// DefaultPermissionOptions returns the fixed two-option menu.
func DefaultPermissionOptions() []PermissionOption {
	return []PermissionOption{
		{OptionID: OptionAllowOnce, Name: "Allow", Kind: "allow_once"},
		{OptionID: OptionRejectOnce, Name: "Reject", Kind: "reject_once"},
	}
}

// PermissionResult is the client's reply to session/request_permission.
type PermissionResult struct {
	Outcome PermissionOutcome `json:"outcome"`
}

// PermissionOutcome carries the selected option, or a non-selection outcome
// such as "cancelled".
type PermissionOutcome struct {
	Outcome  string `json:"outcome"` // "selected" | "cancelled"
	OptionID string `json:"optionId,omitempty"`
}

// Granted reports whether the outcome is a selected allow_once.
func (o PermissionOutcome) Granted() bool {
	return o.Outcome == "selected" && o.OptionID == OptionAllowOnce
}

// --- Terminals ---

// CreateTerminalParams spawns a background shell process.
type CreateTerminalParams struct {
	SessionID string   `json:"sessionId"`
	Command   string   `json:"command"`
	Args      []string `json:"args,omitempty"`
}

// CreateTerminalResult returns the locally generated terminal id.
type CreateTerminalResult struct {
	TerminalID string `json:"terminalId"`
}

// TerminalParams addresses an existing terminal.
type TerminalParams struct {
	SessionID  string `json:"sessionId"`
	TerminalID string `json:"terminalId"`
}

// TerminalExitStatus reports how a terminal's process ended.
type TerminalExitStatus struct {
	ExitCode *int    `json:"exitCode,omitempty"`
	Signal   *string `json:"signal,omitempty"`
}

// TerminalOutputResult returns the output accumulated so far.
type TerminalOutputResult struct {
	Output     string              `json:"output"`
	Truncated  bool                `json:"truncated"`
	ExitStatus *TerminalExitStatus `json:"exitStatus,omitempty"`
}

// WaitForExitResult is returned once the terminal leaves the running state.
type WaitForExitResult struct {
	ExitStatus TerminalExitStatus `json:"exitStatus"`
}
