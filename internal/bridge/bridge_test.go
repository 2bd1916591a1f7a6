package bridge

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opencode-ai/opencode-acp/internal/acp"
	"github.com/opencode-ai/opencode-acp/internal/event"
	"github.com/opencode-ai/opencode-acp/internal/opencode"
)

func TestInitialize(t *testing.T) {
	b, _, _ := newTestBridge()

	result, err := b.Initialize(context.Background(), acp.InitializeParams{
		ProtocolVersion: 1,
		ClientInfo:      &acp.Implementation{Name: "zed", Version: "1.0"},
	})
	require.NoError(t, err)
	assert.Equal(t, acp.ProtocolVersion, result.ProtocolVersion)
	assert.True(t, result.AgentCapabilities.LoadSession)
	assert.Equal(t, "opencode-acp", result.AgentInfo.Name)
}

func TestNewSession_AdvertisesModes(t *testing.T) {
	b, _, _ := startBridge(t)

	result, err := b.NewSession(context.Background(), acp.NewSessionParams{CWD: "/work"})
	require.NoError(t, err)
	assert.Equal(t, "sess1", result.SessionID)
	require.NotNil(t, result.Modes)
	assert.Equal(t, "default", result.Modes.CurrentModeID)
	assert.Len(t, result.Modes.AvailableModes, 4)
}

func TestPrompt_EndTurn(t *testing.T) {
	b, _, upstream := startBridge(t)

	result, err := b.Prompt(context.Background(), acp.PromptParams{
		SessionID: "sess1",
		Prompt:    []acp.ContentBlock{acp.TextBlock("hello there")},
	})
	require.NoError(t, err)
	assert.Equal(t, acp.StopEndTurn, result.StopReason)
	assert.Contains(t, upstream.prompts, "hello there")
}

func TestPrompt_ForwardsConfiguredModel(t *testing.T) {
	upstream := newFakeUpstream()
	client := newFakeClient()
	model := &opencode.Model{ProviderID: "anthropic", ModelID: "claude-sonnet-4"}
	b := New(upstream, event.NewBus(), nil, Options{Model: model})
	b.AttachClient(client)
	b.sessions.Add(newSession("sess1", "/tmp", ModeDefault))

	_, err := b.Prompt(context.Background(), acp.PromptParams{
		SessionID: "sess1",
		Prompt:    []acp.ContentBlock{acp.TextBlock("hello")},
	})
	require.NoError(t, err)
	require.Len(t, upstream.models, 1)
	assert.Equal(t, model, upstream.models[0])
}

func TestPrompt_NoModelConfigured(t *testing.T) {
	b, _, upstream := startBridge(t)

	_, err := b.Prompt(context.Background(), acp.PromptParams{
		SessionID: "sess1",
		Prompt:    []acp.ContentBlock{acp.TextBlock("hello")},
	})
	require.NoError(t, err)
	require.Len(t, upstream.models, 1)
	assert.Nil(t, upstream.models[0])
}

func TestPrompt_CancelledStopReason(t *testing.T) {
	b, _, upstream := startBridge(t)
	upstream.blockPrompt = make(chan struct{})
	defer close(upstream.blockPrompt)

	done := make(chan *acp.PromptResult, 1)
	go func() {
		result, err := b.Prompt(context.Background(), acp.PromptParams{
			SessionID: "sess1",
			Prompt:    []acp.ContentBlock{acp.TextBlock("long task")},
		})
		require.NoError(t, err)
		done <- result
	}()

	// Wait for the prompt slot to be installed, then cancel.
	sess, err := b.sessions.Get("sess1")
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		sess.mu.Lock()
		defer sess.mu.Unlock()
		return sess.pendingCompletion != nil
	}, time.Second, time.Millisecond)

	require.NoError(t, b.Cancel(context.Background(), acp.CancelParams{SessionID: "sess1"}))
	assert.Contains(t, upstream.aborted, "sess1")

	upstream.emit(`{"type":"session.error","properties":{"sessionID":"sess1","error":{"name":"MessageAbortedError","data":{}}}}`)

	select {
	case result := <-done:
		assert.Equal(t, acp.StopCancelled, result.StopReason)
	case <-time.After(time.Second):
		t.Fatal("prompt did not return")
	}
}

func TestPrompt_RefusalOnMessageError(t *testing.T) {
	b, _, upstream := startBridge(t)
	upstream.blockPrompt = make(chan struct{})
	defer close(upstream.blockPrompt)

	done := make(chan *acp.PromptResult, 1)
	go func() {
		result, err := b.Prompt(context.Background(), acp.PromptParams{
			SessionID: "sess1",
			Prompt:    []acp.ContentBlock{acp.TextBlock("do something")},
		})
		require.NoError(t, err)
		done <- result
	}()

	sess, err := b.sessions.Get("sess1")
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		sess.mu.Lock()
		defer sess.mu.Unlock()
		return sess.pendingCompletion != nil
	}, time.Second, time.Millisecond)

	upstream.emit(`{"type":"message.updated","properties":{"info":{"id":"msg1","sessionID":"sess1","role":"assistant","time":{"created":1,"completed":2},"error":{"name":"ProviderAuthError","data":{"message":"bad key"}}}}}`)

	select {
	case result := <-done:
		assert.Equal(t, acp.StopRefusal, result.StopReason)
	case <-time.After(time.Second):
		t.Fatal("prompt did not return")
	}
}

func TestPrompt_RejectsConcurrent(t *testing.T) {
	b, _, upstream := startBridge(t)
	upstream.blockPrompt = make(chan struct{})
	defer close(upstream.blockPrompt)

	go func() {
		_, _ = b.Prompt(context.Background(), acp.PromptParams{
			SessionID: "sess1",
			Prompt:    []acp.ContentBlock{acp.TextBlock("first")},
		})
	}()

	sess, err := b.sessions.Get("sess1")
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		sess.mu.Lock()
		defer sess.mu.Unlock()
		return sess.pendingCompletion != nil
	}, time.Second, time.Millisecond)

	_, err = b.Prompt(context.Background(), acp.PromptParams{
		SessionID: "sess1",
		Prompt:    []acp.ContentBlock{acp.TextBlock("second")},
	})
	assert.ErrorIs(t, err, ErrPromptInFlight)

	upstream.emit(`{"type":"session.idle","properties":{"sessionID":"sess1"}}`)
}

func TestPrompt_UnknownSession(t *testing.T) {
	b, _, _ := newTestBridge()
	_, err := b.Prompt(context.Background(), acp.PromptParams{SessionID: "nope"})
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestPrompt_UnknownSlashCommand(t *testing.T) {
	b, client, _ := startBridge(t)

	result, err := b.Prompt(context.Background(), acp.PromptParams{
		SessionID: "sess1",
		Prompt:    []acp.ContentBlock{acp.TextBlock("/doesnotexist now")},
	})
	require.NoError(t, err)
	assert.Equal(t, acp.StopRefusal, result.StopReason)

	require.Eventually(t, func() bool {
		return len(chunkTexts(client.Updates())) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Contains(t, chunkTexts(client.Updates())[0], "unknown command: /doesnotexist")
}

func TestSetMode(t *testing.T) {
	b, client, _ := startBridge(t)

	err := b.SetMode(context.Background(), acp.SetModeParams{SessionID: "sess1", ModeID: "plan"})
	require.NoError(t, err)

	sess, err := b.sessions.Get("sess1")
	require.NoError(t, err)
	assert.Equal(t, ModePlan, sess.Mode())

	updates := client.Updates()
	require.NotEmpty(t, updates)
	last := updates[len(updates)-1].Update.(acp.CurrentModeUpdate)
	assert.Equal(t, "plan", last.CurrentModeID)
}

func TestSetMode_RejectsUnknown(t *testing.T) {
	b, _, _ := startBridge(t)

	err := b.SetMode(context.Background(), acp.SetModeParams{SessionID: "sess1", ModeID: "superuser"})
	require.Error(t, err)
	var reqErr *acp.RequestError
	assert.ErrorAs(t, err, &reqErr)
}

func TestSplitSlashCommand(t *testing.T) {
	name, args, ok := splitSlashCommand("/review src/main.go")
	assert.True(t, ok)
	assert.Equal(t, "review", name)
	assert.Equal(t, "src/main.go", args)

	name, args, ok = splitSlashCommand("/compact")
	assert.True(t, ok)
	assert.Equal(t, "compact", name)
	assert.Equal(t, "", args)

	_, _, ok = splitSlashCommand("plain text")
	assert.False(t, ok)
	_, _, ok = splitSlashCommand("/")
	assert.False(t, ok)
}

func TestStopReason(t *testing.T) {
	sess := newSession("sess1", "/tmp", ModeDefault)

	assert.Equal(t, acp.StopEndTurn, stopReason(sess, completion{}))
	assert.Equal(t, acp.StopRefusal, stopReason(sess, completion{err: &opencode.MessageError{Name: "ProviderAuthError"}}))
	assert.Equal(t, acp.StopCancelled, stopReason(sess, completion{err: &opencode.MessageError{Name: opencode.ErrorAborted}}))

	sess.MarkCancelled()
	assert.Equal(t, acp.StopCancelled, stopReason(sess, completion{}))
}
