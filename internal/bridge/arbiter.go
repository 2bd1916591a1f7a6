package bridge

import (
	"context"

	"github.com/opencode-ai/opencode-acp/internal/acp"
	"github.com/opencode-ai/opencode-acp/internal/opencode"
)

// arbitrate handles a tool part entering pending status, deciding between
// auto-grant, auto-deny, and the interactive permission round trip based on
// the session's permission mode.
//
// The blocking round trip in default mode stalls only this session's
// worker; other sessions keep streaming.
func (b *Bridge) arbitrate(ctx context.Context, sess *Session, part *opencode.Part) {
	title := toolTitle(part)
	kind := toolKind(part.Tool)
	var rawInput []byte
	if part.State != nil {
		rawInput = marshalRaw(part.State.Input)
	}

	switch sess.Mode() {
	case ModePlan:
		// Auto-deny: one failed update, no pending notification, no round trip.
		update := acp.ToolCallUpdate(part.CallID, acp.StatusFailed)
		update.Title = title
		update.Kind = kind
		update.Content = []acp.ToolCallContent{
			acp.ToolContent(acp.TextBlock("Tool call blocked in Plan Mode")),
		}
		b.notify(ctx, sess.ID, update)
		return

	case ModeBypass, ModeAcceptEdits:
		b.sendPendingOnce(ctx, sess, part, title, kind, rawInput)
		return

	default:
		// The pending notification goes out before the permission request
		// so the client can render the call while the human decides.
		b.sendPendingOnce(ctx, sess, part, title, kind, rawInput)

		outcome, err := b.client.RequestPermission(ctx, acp.PermissionRequest{
			SessionID: sess.ID,
			ToolCall: acp.ToolCallRef{
				ToolCallID: part.CallID,
				Title:      title,
				Kind:       kind,
				Status:     acp.StatusPending,
				RawInput:   rawInput,
			},
			Options: acp.DefaultPermissionOptions(),
		})
		if err != nil {
			b.log.Warn().Err(err).Str("callID", part.CallID).Msg("permission request failed")
		}
		if err == nil && outcome.Granted() {
			// The tool proceeds upstream; nothing more to gate here.
			return
		}

		update := acp.ToolCallUpdate(part.CallID, acp.StatusFailed)
		update.Title = title
		update.Kind = kind
		update.Content = []acp.ToolCallContent{
			acp.ToolContent(acp.TextBlock("Permission denied by user")),
		}
		b.notify(ctx, sess.ID, update)
	}
}

// sendPendingOnce emits the tool_call pending notification exactly once per
// callID, regardless of mode.
func (b *Bridge) sendPendingOnce(ctx context.Context, sess *Session, part *opencode.Part, title string, kind acp.ToolKind, rawInput []byte) {
	if !sess.markPendingSent(part.CallID) {
		return
	}
	update := acp.NewToolCall(part.CallID, title, kind, acp.StatusPending)
	update.RawInput = rawInput
	b.notify(ctx, sess.ID, update)
}
