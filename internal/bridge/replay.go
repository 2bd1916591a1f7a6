package bridge

import (
	"context"

	"github.com/opencode-ai/opencode-acp/internal/acp"
	"github.com/opencode-ai/opencode-acp/internal/opencode"
)

// replay renders a loaded session's transcript as session updates, oldest
// first. User text becomes user_message_chunk; assistant parts flow through
// the mapper so replayed output matches live output. Replay seeds the delta
// tracker and the tool-call dedup tables, so a live re-delivery of an
// already-replayed snapshot produces nothing new.
func (b *Bridge) replay(ctx context.Context, sess *Session, history []opencode.MessageWithParts) {
	for i := range history {
		msg := &history[i]
		if msg.Info.Role == "user" {
			for j := range msg.Parts {
				part := &msg.Parts[j]
				if part.Type == opencode.PartText && part.Text != "" {
					b.notify(ctx, sess.ID, acp.UserMessageChunk(acp.TextBlock(part.Text)))
				}
			}
			continue
		}

		for j := range msg.Parts {
			b.replayAssistantPart(ctx, sess, &msg.Parts[j])
		}
		if msg.Info.Error != nil {
			b.notify(ctx, sess.ID, errorChunk(msg.Info.Error))
		}
	}
}

// replayAssistantPart renders one stored assistant part. Tool parts are
// emitted as a single tool_call carrying their final state, since the
// intermediate lifecycle is already over.
func (b *Bridge) replayAssistantPart(ctx context.Context, sess *Session, part *opencode.Part) {
	if part.Type != opencode.PartTool {
		for _, update := range b.mapPart(sess, part) {
			b.notify(ctx, sess.ID, update)
		}
		return
	}

	state := part.State
	if state == nil {
		return
	}
	// Seed dedup state so live snapshots of this call stay quiet.
	sess.markPendingSent(part.CallID)
	sess.statusChanged(part.CallID, state.Status)

	status := acp.StatusCompleted
	if state.Status == opencode.ToolError {
		status = acp.StatusFailed
	}
	update := acp.NewToolCall(part.CallID, toolTitle(part), toolKind(part.Tool), status)
	update.RawInput = marshalRaw(state.Input)
	if content, ok := b.editDiffContent(part); ok {
		update.Content = []acp.ToolCallContent{content}
	} else if state.Output != "" {
		update.Content = []acp.ToolCallContent{acp.ToolContent(acp.TextBlock(state.Output))}
	} else if state.Error != "" {
		update.Content = []acp.ToolCallContent{acp.ToolContent(acp.TextBlock(state.Error))}
	}
	b.notify(ctx, sess.ID, update)
}
