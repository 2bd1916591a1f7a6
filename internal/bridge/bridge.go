// Package bridge implements the event-stream translation and session-state
// engine: it converts the upstream runtime's cumulative per-session event
// feed into incremental ACP session updates, arbitrates tool-call
// permissions against per-session policy, and tracks background terminals.
package bridge

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/opencode-ai/opencode-acp/internal/acp"
	"github.com/opencode-ai/opencode-acp/internal/command"
	"github.com/opencode-ai/opencode-acp/internal/event"
	"github.com/opencode-ai/opencode-acp/internal/logging"
	"github.com/opencode-ai/opencode-acp/internal/opencode"
	"github.com/opencode-ai/opencode-acp/internal/terminal"
)

// Version is stamped at build time.
var Version = "0.1.0"

// Options configures bridge behavior.
type Options struct {
	// DefaultMode is the permission mode new sessions start in.
	DefaultMode PermissionMode
	// TerminalTimeout bounds background terminal lifetime; zero disables it.
	TerminalTimeout time.Duration
	// Model, when set, is the resolved default model sent with every
	// prompt. Nil lets the server pick.
	Model *opencode.Model
}

// Bridge owns all translation state: the session registry, the terminal
// registry, the demux bus, and the downstream connection.
type Bridge struct {
	upstream  opencode.Client
	client    acp.Client
	sessions  *Registry
	terminals *terminal.Registry
	bus       *event.Bus
	commands  *command.Loader
	opts      Options
	log       zerolog.Logger

	runMu  sync.RWMutex
	runCtx context.Context
}

// New assembles a bridge. AttachClient must be called before any ACP
// request is served.
func New(upstream opencode.Client, bus *event.Bus, commands *command.Loader, opts Options) *Bridge {
	if opts.DefaultMode == "" {
		opts.DefaultMode = ModeDefault
	}
	return &Bridge{
		upstream:  upstream,
		sessions:  NewRegistry(),
		terminals: terminal.NewRegistry(),
		bus:       bus,
		commands:  commands,
		opts:      opts,
		log:       logging.Component("bridge"),
		runCtx:    context.Background(),
	}
}

// AttachClient wires the downstream connection.
func (b *Bridge) AttachClient(c acp.Client) {
	b.client = c
}

// setRunContext binds worker lifetimes to ctx. Run calls this on startup.
func (b *Bridge) setRunContext(ctx context.Context) {
	b.runMu.Lock()
	b.runCtx = ctx
	b.runMu.Unlock()
}

func (b *Bridge) runContext() context.Context {
	b.runMu.RLock()
	defer b.runMu.RUnlock()
	return b.runCtx
}

// notify pushes one session update downstream; failures are logged, never
// propagated into translation.
func (b *Bridge) notify(ctx context.Context, sessionID string, update acp.Update) {
	err := b.client.SessionUpdate(ctx, acp.SessionNotification{SessionID: sessionID, Update: update})
	if err != nil {
		b.log.Error().Err(err).Str("sessionID", sessionID).Msg("failed to send session update")
	}
}

// --- acp.Handler ---

// Initialize answers the handshake.
func (b *Bridge) Initialize(_ context.Context, params acp.InitializeParams) (*acp.InitializeResult, error) {
	if params.ClientInfo != nil {
		b.log.Info().Str("client", params.ClientInfo.Name).Str("version", params.ClientInfo.Version).Msg("client connected")
	}
	return &acp.InitializeResult{
		ProtocolVersion:   acp.ProtocolVersion,
		AgentCapabilities: &acp.AgentCapabilities{LoadSession: true},
		AgentInfo:         &acp.Implementation{Name: "opencode-acp", Title: "OpenCode", Version: Version},
	}, nil
}

// NewSession creates an upstream session and registers its worker.
func (b *Bridge) NewSession(ctx context.Context, params acp.NewSessionParams) (*acp.NewSessionResult, error) {
	upstreamSess, err := b.upstream.CreateSession(ctx, params.CWD)
	if err != nil {
		return nil, err
	}

	sess := newSession(upstreamSess.ID, params.CWD, b.opts.DefaultMode)
	b.sessions.Add(sess)
	if err := b.startWorker(sess); err != nil {
		return nil, err
	}
	b.log.Info().Str("sessionID", sess.ID).Str("cwd", params.CWD).Msg("session created")

	b.sendCommands(ctx, sess.ID)
	return &acp.NewSessionResult{
		SessionID: sess.ID,
		Modes:     b.modeState(sess),
	}, nil
}

// LoadSession registers an existing upstream session and replays its
// transcript as session updates.
func (b *Bridge) LoadSession(ctx context.Context, params acp.LoadSessionParams) (*acp.LoadSessionResult, error) {
	history, err := b.upstream.Messages(ctx, params.SessionID)
	if err != nil {
		return nil, err
	}

	sess := newSession(params.SessionID, params.CWD, b.opts.DefaultMode)
	b.sessions.Add(sess)
	if err := b.startWorker(sess); err != nil {
		return nil, err
	}
	b.log.Info().Str("sessionID", sess.ID).Int("messages", len(history)).Msg("session loaded")

	b.replay(ctx, sess, history)
	b.sendCommands(ctx, sess.ID)
	return &acp.LoadSessionResult{Modes: b.modeState(sess)}, nil
}

// Prompt forwards user content upstream and blocks until the resulting
// assistant message completes.
func (b *Bridge) Prompt(ctx context.Context, params acp.PromptParams) (*acp.PromptResult, error) {
	sess, err := b.sessions.Get(params.SessionID)
	if err != nil {
		return nil, err
	}

	waiter, err := sess.beginPrompt()
	if err != nil {
		return nil, err
	}
	defer sess.endPrompt()

	go b.sendPrompt(sess, params.Prompt)

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case c := <-waiter:
		return &acp.PromptResult{StopReason: stopReason(sess, c)}, nil
	}
}

// sendPrompt issues the upstream call for a prompt turn. Slash commands are
// resolved against the loaded definitions and routed through the command
// endpoint; call failures surface as a message chunk plus completion, per
// the message-level error path.
func (b *Bridge) sendPrompt(sess *Session, blocks []acp.ContentBlock) {
	ctx := b.runContext()
	text := promptText(blocks)

	var err error
	if name, args, ok := splitSlashCommand(text); ok {
		if b.commands == nil || !b.commands.Has(name) {
			b.failPrompt(ctx, sess, "unknown command: /"+name)
			return
		}
		_, err = b.upstream.Command(ctx, sess.ID, name, args)
	} else {
		parts := []opencode.TextPartInput{{Type: "text", Text: text}}
		_, err = b.upstream.Prompt(ctx, sess.ID, parts, opencode.PromptOptions{Model: b.opts.Model})
	}
	if err != nil {
		b.failPrompt(ctx, sess, err.Error())
		return
	}
	// A clean return is a fallback resolution; normally the completion
	// event arrives first and this send is a no-op.
	sess.resolveCompletion(completion{})
}

// failPrompt reports a failed upstream call as a visible chunk and resolves
// the waiter.
func (b *Bridge) failPrompt(ctx context.Context, sess *Session, reason string) {
	msgErr := &opencode.MessageError{Name: "RequestFailed", Data: opencode.MessageErrorData{Message: reason}}
	b.notify(ctx, sess.ID, errorChunk(msgErr))
	sess.resolveCompletion(completion{err: msgErr})
}

// stopReason maps a completion to the client-visible reason the turn ended.
func stopReason(sess *Session, c completion) acp.StopReason {
	if sess.Cancelled() {
		return acp.StopCancelled
	}
	if c.err != nil {
		if c.err.Name == opencode.ErrorAborted {
			return acp.StopCancelled
		}
		return acp.StopRefusal
	}
	return acp.StopEndTurn
}

// Cancel marks the session cancelled and asks the upstream runtime to
// abort. The mark is advisory; an in-flight permission round trip is not
// preempted.
func (b *Bridge) Cancel(ctx context.Context, params acp.CancelParams) error {
	sess, err := b.sessions.Get(params.SessionID)
	if err != nil {
		return err
	}
	sess.MarkCancelled()
	if err := b.upstream.Abort(ctx, sess.ID); err != nil {
		b.log.Warn().Err(err).Str("sessionID", sess.ID).Msg("abort failed")
	}
	return nil
}

// SetMode switches the session's permission mode.
func (b *Bridge) SetMode(ctx context.Context, params acp.SetModeParams) error {
	sess, err := b.sessions.Get(params.SessionID)
	if err != nil {
		return err
	}
	if !ValidMode(params.ModeID) {
		return acp.ErrInvalidParams("unknown mode: " + params.ModeID)
	}
	sess.SetMode(PermissionMode(params.ModeID))
	b.notify(ctx, sess.ID, acp.ModeUpdate(params.ModeID))
	return nil
}

// --- terminals ---

// CreateTerminal spawns a background shell via the upstream runtime and
// registers it with the process tracker.
func (b *Bridge) CreateTerminal(ctx context.Context, params acp.CreateTerminalParams) (*acp.CreateTerminalResult, error) {
	sess, err := b.sessions.Get(params.SessionID)
	if err != nil {
		return nil, err
	}

	commandLine := params.Command
	if len(params.Args) > 0 {
		commandLine += " " + strings.Join(params.Args, " ")
	}
	msg, err := b.upstream.Shell(ctx, sess.ID, commandLine)
	if err != nil {
		return nil, err
	}

	term := b.terminals.Create(sess.ID, msg.ID, b.opts.TerminalTimeout)
	return &acp.CreateTerminalResult{TerminalID: term.ID}, nil
}

// TerminalOutput returns the output accumulated so far.
func (b *Bridge) TerminalOutput(_ context.Context, params acp.TerminalParams) (*acp.TerminalOutputResult, error) {
	term, err := b.terminals.Get(params.TerminalID)
	if err != nil {
		return nil, err
	}
	output, status, exit := term.Snapshot()
	result := &acp.TerminalOutputResult{Output: output}
	if status != terminal.StatusStarted {
		result.ExitStatus = exitStatus(exit)
	}
	return result, nil
}

// WaitForExit blocks until the terminal leaves the started state.
func (b *Bridge) WaitForExit(ctx context.Context, params acp.TerminalParams) (*acp.WaitForExitResult, error) {
	term, err := b.terminals.Get(params.TerminalID)
	if err != nil {
		return nil, err
	}
	exit, err := term.WaitForExit(ctx)
	if err != nil {
		return nil, err
	}
	return &acp.WaitForExitResult{ExitStatus: *exitStatus(exit)}, nil
}

// KillTerminal marks the terminal killed. Best-effort: there is no
// confirmation the underlying process stopped.
func (b *Bridge) KillTerminal(_ context.Context, params acp.TerminalParams) error {
	term, err := b.terminals.Get(params.TerminalID)
	if err != nil {
		return err
	}
	term.Kill()
	return nil
}

// ReleaseTerminal discards the local record.
func (b *Bridge) ReleaseTerminal(_ context.Context, params acp.TerminalParams) error {
	return b.terminals.Release(params.TerminalID)
}

func exitStatus(exit *terminal.ExitStatus) *acp.TerminalExitStatus {
	if exit == nil {
		return &acp.TerminalExitStatus{}
	}
	return &acp.TerminalExitStatus{ExitCode: exit.ExitCode, Signal: exit.Signal}
}

// --- commands ---

// sendCommands pushes the current slash command list to one session.
func (b *Bridge) sendCommands(ctx context.Context, sessionID string) {
	if b.commands == nil {
		return
	}
	b.notify(ctx, sessionID, commandsUpdate(b.commands.Definitions()))
}

// BroadcastCommands pushes the command list to every active session; the
// command watcher calls this on definition changes.
func (b *Bridge) BroadcastCommands() {
	if b.commands == nil {
		return
	}
	update := commandsUpdate(b.commands.Definitions())
	for _, sess := range b.sessions.All() {
		b.notify(b.runContext(), sess.ID, update)
	}
}

func commandsUpdate(defs []command.Definition) acp.AvailableCommandsUpdate {
	available := make([]acp.AvailableCommand, 0, len(defs))
	for _, def := range defs {
		cmd := acp.AvailableCommand{Name: def.Name, Description: def.Description}
		if def.ArgumentHint != "" {
			cmd.Input = &acp.CommandInput{Hint: def.ArgumentHint}
		}
		available = append(available, cmd)
	}
	return acp.CommandsUpdate(available)
}

// --- helpers ---

// modeState advertises the available permission modes.
func (b *Bridge) modeState(sess *Session) *acp.SessionModeState {
	return &acp.SessionModeState{
		CurrentModeID: string(sess.Mode()),
		AvailableModes: []acp.SessionMode{
			{ID: string(ModeDefault), Name: "Always Ask", Description: "Request permission for every tool call"},
			{ID: string(ModeAcceptEdits), Name: "Accept Edits", Description: "Auto-approve tool calls"},
			{ID: string(ModeBypass), Name: "Bypass Permissions", Description: "Auto-approve tool calls"},
			{ID: string(ModePlan), Name: "Plan Mode", Description: "Block all tool calls"},
		},
	}
}

// promptText flattens the text blocks of a prompt.
func promptText(blocks []acp.ContentBlock) string {
	var sb strings.Builder
	for _, block := range blocks {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	return sb.String()
}

// splitSlashCommand parses "/name args..." prompt text.
func splitSlashCommand(text string) (name, args string, ok bool) {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "/") || len(trimmed) < 2 {
		return "", "", false
	}
	rest := trimmed[1:]
	name, args, _ = strings.Cut(rest, " ")
	return name, strings.TrimSpace(args), true
}
