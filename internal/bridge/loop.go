package bridge

import (
	"context"
	"encoding/json"
	"strconv"

	"github.com/opencode-ai/opencode-acp/internal/event"
	"github.com/opencode-ai/opencode-acp/internal/opencode"
	"github.com/opencode-ai/opencode-acp/internal/terminal"
)

// Run consumes the upstream event feed until ctx is cancelled. It is the
// only reader of the feed: each event is routed to its session's ordered
// topic, where the session worker translates it. A malformed event is
// logged and dropped; only feed failure ends the loop.
func (b *Bridge) Run(ctx context.Context) error {
	b.setRunContext(ctx)
	events, err := b.upstream.Subscribe(ctx)
	if err != nil {
		return err
	}
	b.log.Info().Msg("event loop started")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case payload, ok := <-events:
			if !ok {
				b.log.Error().Msg("upstream event feed closed")
				return ctx.Err()
			}
			b.route(payload)
		}
	}
}

// route publishes one raw event onto its session's topic.
func (b *Bridge) route(payload []byte) {
	var evt opencode.Event
	if err := json.Unmarshal(payload, &evt); err != nil {
		b.log.Warn().Err(err).Msg("dropping malformed event")
		return
	}

	sessionID := evt.SessionID()
	if sessionID == "" {
		b.log.Debug().Str("type", evt.Type).Msg("ignoring event without session")
		return
	}
	if _, err := b.sessions.Get(sessionID); err != nil {
		b.log.Debug().Str("type", evt.Type).Str("sessionID", sessionID).Msg("ignoring event for untracked session")
		return
	}

	if err := b.bus.Publish(event.SessionTopic(sessionID), payload); err != nil {
		b.log.Error().Err(err).Str("sessionID", sessionID).Msg("failed to enqueue event")
	}
}

// startWorker subscribes the session's ordered queue and drains it until
// the session's context is cancelled. In-order delivery within the session
// is preserved; a blocking permission round trip stalls only this worker.
func (b *Bridge) startWorker(sess *Session) error {
	ctx, cancel := context.WithCancel(b.runContext())
	sess.stopWorker = cancel

	queue, err := b.bus.Subscribe(ctx, event.SessionTopic(sess.ID))
	if err != nil {
		cancel()
		return err
	}

	go func() {
		for payload := range queue {
			b.dispatch(ctx, sess, payload)
		}
	}()
	return nil
}

// dispatch translates one event for a session.
func (b *Bridge) dispatch(ctx context.Context, sess *Session, payload []byte) {
	var evt opencode.Event
	if err := json.Unmarshal(payload, &evt); err != nil {
		b.log.Warn().Err(err).Msg("dropping malformed event")
		return
	}

	switch evt.Type {
	case opencode.EventPartUpdated:
		part := evt.Properties.Part
		if part == nil {
			b.log.Warn().Str("sessionID", sess.ID).Msg("part event without part")
			return
		}
		b.handlePart(ctx, sess, part)

	case opencode.EventMessageUpdated:
		info := evt.Properties.Info
		if info == nil {
			b.log.Warn().Str("sessionID", sess.ID).Msg("message event without info")
			return
		}
		b.handleMessage(ctx, sess, info)

	case opencode.EventSessionError:
		if msgErr := evt.Properties.Error; msgErr != nil {
			b.notify(ctx, sess.ID, errorChunk(msgErr))
			sess.resolveCompletion(completion{err: msgErr})
		}

	case opencode.EventSessionIdle:
		sess.resolveCompletion(completion{})

	case opencode.EventPermissionUpdated:
		// Server-side permission bookkeeping; arbitration happens here on
		// the pending tool part, so there is nothing to translate.

	default:
		b.log.Debug().Str("type", evt.Type).Msg("ignoring event type")
	}
}

// handlePart dispatches one part snapshot: terminal-owned parts feed the
// process tracker, pending tool parts go to the arbiter, everything else to
// the mapper.
func (b *Bridge) handlePart(ctx context.Context, sess *Session, part *opencode.Part) {
	if part.Type == opencode.PartTool {
		// Output of a tracked background shell stays out of the
		// conversation stream.
		if term, ok := b.terminals.ByMessage(sess.ID, part.MessageID); ok {
			b.feedTerminal(term, part)
			return
		}

		state := part.State
		if state == nil {
			b.log.Warn().Str("partID", part.ID).Msg("tool part without state")
			return
		}
		// One notification per lifecycle transition: collapse repeated
		// snapshots of the same status.
		if !sess.statusChanged(part.CallID, state.Status) {
			return
		}
		if state.Status == opencode.ToolPending {
			b.arbitrate(ctx, sess, part)
			return
		}
	}

	for _, update := range b.mapPart(sess, part) {
		b.notify(ctx, sess.ID, update)
	}
}

// handleMessage resolves the completion waiter when the session's assistant
// message finishes, rendering any message-level error first.
func (b *Bridge) handleMessage(ctx context.Context, sess *Session, info *opencode.Message) {
	if info.Role != "assistant" || !info.Completed() {
		return
	}
	if info.Error != nil {
		b.notify(ctx, sess.ID, errorChunk(info.Error))
	}
	sess.resolveCompletion(completion{err: info.Error})
}

// feedTerminal applies a shell tool snapshot to its terminal record.
func (b *Bridge) feedTerminal(term *terminal.Terminal, part *opencode.Part) {
	state := part.State
	if state == nil {
		return
	}
	if state.Output != "" {
		term.SetOutput(state.Output)
	}

	switch state.Status {
	case opencode.ToolCompleted:
		term.Finish(terminal.StatusExited, shellExitStatus(state))
	case opencode.ToolError:
		code := 1
		term.Finish(terminal.StatusExited, &terminal.ExitStatus{ExitCode: &code})
	}
}

// shellExitStatus extracts the exit code reported in the shell tool's
// metadata, defaulting to 0 for a completed run.
func shellExitStatus(state *opencode.ToolState) *terminal.ExitStatus {
	code := 0
	if raw, ok := state.Metadata["exit"]; ok {
		switch v := raw.(type) {
		case float64:
			code = int(v)
		case string:
			if parsed, err := strconv.Atoi(v); err == nil {
				code = parsed
			}
		}
	}
	return &terminal.ExitStatus{ExitCode: &code}
}
