package bridge

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/opencode-ai/opencode-acp/internal/acp"
	"github.com/opencode-ai/opencode-acp/internal/opencode"
)

// kindRule maps a tool-name prefix to a downstream tool kind.
type kindRule struct {
	prefix string
	kind   acp.ToolKind
}

// kindRules is checked in order; the first matching prefix wins.
var kindRules = []kindRule{
	{"read", acp.KindRead},
	{"write", acp.KindEdit},
	{"edit", acp.KindEdit},
	{"apply", acp.KindEdit},
	{"insert", acp.KindEdit},
	{"execute", acp.KindExecute},
	{"search", acp.KindSearch},
	{"list", acp.KindSearch},
	{"browser", acp.KindFetch},
	{"update", acp.KindThink},
	{"ask", acp.KindThink},
	{"new_task", acp.KindThink},
	{"switch", acp.KindSwitchMode},
}

// toolKind infers the downstream kind from an upstream tool name.
func toolKind(name string) acp.ToolKind {
	for _, r := range kindRules {
		if strings.HasPrefix(name, r.prefix) {
			return r.kind
		}
	}
	return acp.KindOther
}

// toolTitle prefers the state's human title over the raw tool name.
func toolTitle(part *opencode.Part) string {
	if part.State != nil && part.State.Title != "" {
		return part.State.Title
	}
	return part.Tool
}

// mapPart converts one upstream part snapshot into downstream updates.
// Tool parts in pending status are not handled here; they belong to the
// permission arbiter. Returns nil for parts with no downstream
// representation.
func (b *Bridge) mapPart(sess *Session, part *opencode.Part) []acp.Update {
	switch part.Type {
	case opencode.PartText:
		// Echoed user input lacks the timestamp assistant parts always
		// carry; drop it before it reaches the delta tracker.
		if part.Time == nil {
			return nil
		}
		delta := sess.computeDelta(part.ID, part.Text)
		if delta == "" {
			return nil
		}
		return []acp.Update{acp.AgentMessageChunk(acp.TextBlock(delta))}

	case opencode.PartReasoning:
		delta := sess.computeDelta(part.ID, part.Text)
		if delta == "" {
			return nil
		}
		return []acp.Update{acp.AgentThoughtChunk(acp.TextBlock(delta))}

	case opencode.PartTool:
		return b.mapToolPart(part)

	case opencode.PartFile:
		return []acp.Update{mapFilePart(part)}

	case opencode.PartPatch:
		return []acp.Update{mapPatchPart(part)}

	case opencode.PartSnapshot, opencode.PartAgent, opencode.PartStepStart, opencode.PartStepFinish:
		return nil // internal bookkeeping

	default:
		b.log.Warn().Str("partType", part.Type).Str("partID", part.ID).Msg("unrecognized part type")
		return nil
	}
}

// mapToolPart translates running/completed/error tool snapshots.
func (b *Bridge) mapToolPart(part *opencode.Part) []acp.Update {
	state := part.State
	if state == nil {
		return nil
	}

	switch state.Status {
	case opencode.ToolRunning:
		update := acp.ToolCallUpdate(part.CallID, acp.StatusInProgress)
		update.Title = toolTitle(part)
		update.RawInput = marshalRaw(state.Input)
		if len(update.RawInput) > 0 {
			update.Content = []acp.ToolCallContent{
				acp.ToolContent(acp.TextBlock(string(update.RawInput))),
			}
		}
		return []acp.Update{update}

	case opencode.ToolCompleted:
		update := acp.ToolCallUpdate(part.CallID, acp.StatusCompleted)
		update.Title = toolTitle(part)
		if content, ok := b.editDiffContent(part); ok {
			update.Content = []acp.ToolCallContent{content}
		} else {
			update.RawOutput = marshalRaw(state.Output)
			if state.Output != "" {
				update.Content = []acp.ToolCallContent{
					acp.ToolContent(acp.TextBlock(state.Output)),
				}
			}
		}
		return []acp.Update{update}

	case opencode.ToolError:
		update := acp.ToolCallUpdate(part.CallID, acp.StatusFailed)
		update.Title = toolTitle(part)
		reason := state.Error
		if reason == "" {
			reason = state.Output
		}
		if reason != "" {
			update.Content = []acp.ToolCallContent{
				acp.ToolContent(acp.TextBlock(reason)),
			}
			update.RawOutput = marshalRaw(reason)
		}
		return []acp.Update{update}

	default:
		// pending is the arbiter's job; anything else is unknown.
		return nil
	}
}

// editDiffContent extracts a diff block from a completed Edit-kind tool
// whose input carries the edited file's old and new text.
func (b *Bridge) editDiffContent(part *opencode.Part) (acp.ToolCallContent, bool) {
	if toolKind(part.Tool) != acp.KindEdit || part.State == nil {
		return acp.ToolCallContent{}, false
	}

	path, _ := part.State.Input["filePath"].(string)
	newText, hasNew := part.State.Input["newString"].(string)
	if path == "" || !hasNew {
		return acp.ToolCallContent{}, false
	}

	var oldText *string
	if old, ok := part.State.Input["oldString"].(string); ok {
		oldText = &old
		additions, deletions := diffStats(old, newText)
		b.log.Debug().
			Str("path", path).
			Int("additions", additions).
			Int("deletions", deletions).
			Msg("edit completed")
	}
	return acp.DiffContent(path, oldText, newText), true
}

// diffStats counts added and deleted lines between two texts.
func diffStats(before, after string) (int, int) {
	dmp := diffmatchpatch.New()
	a, b, lines := dmp.DiffLinesToChars(before, after)
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(a, b, false), lines)

	additions, deletions := 0, 0
	for _, d := range diffs {
		switch d.Type {
		case diffmatchpatch.DiffInsert:
			additions += countLines(d.Text)
		case diffmatchpatch.DiffDelete:
			deletions += countLines(d.Text)
		}
	}
	return additions, deletions
}

func countLines(text string) int {
	if text == "" {
		return 0
	}
	n := strings.Count(text, "\n")
	if !strings.HasSuffix(text, "\n") {
		n++
	}
	return n
}

// mapFilePart renders a file reference: images as an image block, anything
// else as a text description.
func mapFilePart(part *opencode.Part) acp.Update {
	if strings.HasPrefix(part.MIME, "image/") && part.URL != "" {
		return acp.AgentMessageChunk(acp.ImageBlock(part.MIME, part.URL))
	}
	name := part.Filename
	if name == "" {
		name = part.URL
	}
	return acp.AgentMessageChunk(acp.TextBlock(fmt.Sprintf("[file: %s (%s)]", name, part.MIME)))
}

// mapPatchPart renders an applied patch as a synthetic completed tool call
// keyed by a hash-derived id, so re-deliveries of the same patch coalesce.
func mapPatchPart(part *opencode.Part) acp.Update {
	update := acp.NewToolCall(patchCallID(part), patchTitle(part), acp.KindEdit, acp.StatusCompleted)
	if len(part.Files) > 0 {
		update.Content = []acp.ToolCallContent{
			acp.ToolContent(acp.TextBlock("Patched files:\n" + strings.Join(part.Files, "\n"))),
		}
	}
	return update
}

func patchCallID(part *opencode.Part) string {
	h := sha256.New()
	h.Write([]byte(part.Hash))
	for _, f := range part.Files {
		h.Write([]byte(f))
	}
	return "patch_" + hex.EncodeToString(h.Sum(nil))[:16]
}

func patchTitle(part *opencode.Part) string {
	switch len(part.Files) {
	case 0:
		return "Applied patch"
	case 1:
		return "Applied patch to " + part.Files[0]
	default:
		return fmt.Sprintf("Applied patch to %d files", len(part.Files))
	}
}

// errorChunk renders a message-level agent error as a visible message chunk.
func errorChunk(msgErr *opencode.MessageError) acp.Update {
	text := msgErr.Name
	if msgErr.Data.Message != "" {
		text += ": " + msgErr.Data.Message
	}
	return acp.AgentMessageChunk(acp.TextBlock(text))
}

// marshalRaw serializes a value for rawInput/rawOutput fields, or nil if it
// is empty or unserializable.
func marshalRaw(v any) json.RawMessage {
	if v == nil {
		return nil
	}
	if s, ok := v.(string); ok && s == "" {
		return nil
	}
	if m, ok := v.(map[string]any); ok && len(m) == 0 {
		return nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return raw
}
