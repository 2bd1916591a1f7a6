package bridge

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opencode-ai/opencode-acp/internal/acp"
)

func textEvent(sessionID, partID, text string) string {
	return fmt.Sprintf(`{"type":"message.part.updated","properties":{"part":{"id":%q,"sessionID":%q,"messageID":"msg1","type":"text","text":%q,"time":{"start":1}}}}`,
		partID, sessionID, text)
}

func toolEvent(sessionID, callID, status string) string {
	return fmt.Sprintf(`{"type":"message.part.updated","properties":{"part":{"id":"pt1","sessionID":%q,"messageID":"msg1","type":"tool","tool":"execute_bash","callID":%q,"state":{"status":%q,"input":{"command":"ls"}}}}}`,
		sessionID, callID, status)
}

// startBridge runs the event loop and registers one session.
func startBridge(t *testing.T) (*Bridge, *fakeClient, *fakeUpstream) {
	t.Helper()
	b, client, upstream := newTestBridge()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { _ = b.Run(ctx) }()

	// Run installs the worker context before subscribing; wait for it.
	require.Eventually(t, func() bool {
		return b.runContext() == ctx
	}, time.Second, time.Millisecond)

	_, err := b.NewSession(ctx, acp.NewSessionParams{CWD: "/tmp"})
	require.NoError(t, err)
	return b, client, upstream
}

func chunkTexts(updates []acp.SessionNotification) []string {
	var texts []string
	for _, n := range updates {
		if chunk, ok := n.Update.(acp.MessageChunk); ok && chunk.SessionUpdate == "agent_message_chunk" {
			texts = append(texts, chunk.Content.Text)
		}
	}
	return texts
}

func TestRun_StreamsTextDeltas(t *testing.T) {
	_, client, upstream := startBridge(t)

	upstream.emit(textEvent("sess1", "p1", "Hel"))
	upstream.emit(textEvent("sess1", "p1", "Hello"))

	require.Eventually(t, func() bool {
		return len(chunkTexts(client.Updates())) == 2
	}, time.Second, 5*time.Millisecond)

	assert.Equal(t, []string{"Hel", "lo"}, chunkTexts(client.Updates()))
}

func TestRun_DropsUntrackedSessions(t *testing.T) {
	_, client, upstream := startBridge(t)

	upstream.emit(textEvent("someone-else", "p1", "not for us"))
	upstream.emit(textEvent("sess1", "p1", "ours"))

	require.Eventually(t, func() bool {
		return len(chunkTexts(client.Updates())) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"ours"}, chunkTexts(client.Updates()))
}

func TestRun_ToolLifecycleOneNotificationPerTransition(t *testing.T) {
	b, client, upstream := startBridge(t)
	sess, err := b.sessions.Get("sess1")
	require.NoError(t, err)
	sess.SetMode(ModeBypass)

	// Repeated snapshots of the same status collapse to one notification.
	upstream.emit(toolEvent("sess1", "call1", "pending"))
	upstream.emit(toolEvent("sess1", "call1", "pending"))
	upstream.emit(toolEvent("sess1", "call1", "running"))
	upstream.emit(toolEvent("sess1", "call1", "running"))
	upstream.emit(toolEvent("sess1", "call1", "completed"))

	require.Eventually(t, func() bool {
		return len(client.Updates()) == 3
	}, time.Second, 5*time.Millisecond)

	updates := client.Updates()
	assert.Equal(t, acp.StatusPending, updates[0].Update.(acp.ToolCallStart).Status)
	assert.Equal(t, acp.StatusInProgress, updates[1].Update.(acp.ToolCallProgress).Status)
	assert.Equal(t, acp.StatusCompleted, updates[2].Update.(acp.ToolCallProgress).Status)
}

func TestRun_SessionErrorRendersChunkAndResolves(t *testing.T) {
	b, client, upstream := startBridge(t)
	sess, err := b.sessions.Get("sess1")
	require.NoError(t, err)
	waiter, err := sess.beginPrompt()
	require.NoError(t, err)

	upstream.emit(`{"type":"session.error","properties":{"sessionID":"sess1","error":{"name":"ProviderAuthError","data":{"message":"invalid key"}}}}`)

	select {
	case c := <-waiter:
		require.NotNil(t, c.err)
		assert.Equal(t, "ProviderAuthError", c.err.Name)
	case <-time.After(time.Second):
		t.Fatal("completion not resolved")
	}

	require.Eventually(t, func() bool {
		return len(chunkTexts(client.Updates())) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, "ProviderAuthError: invalid key", chunkTexts(client.Updates())[0])
}

func TestRun_IdleResolvesCleanly(t *testing.T) {
	b, _, upstream := startBridge(t)
	sess, err := b.sessions.Get("sess1")
	require.NoError(t, err)
	waiter, err := sess.beginPrompt()
	require.NoError(t, err)

	upstream.emit(`{"type":"session.idle","properties":{"sessionID":"sess1"}}`)

	select {
	case c := <-waiter:
		assert.Nil(t, c.err)
	case <-time.After(time.Second):
		t.Fatal("completion not resolved")
	}
}

func TestRun_PermissionUpdatedIsIgnored(t *testing.T) {
	_, client, upstream := startBridge(t)

	upstream.emit(`{"type":"permission.updated","properties":{"sessionID":"sess1","messageID":"msg1"}}`)
	upstream.emit(textEvent("sess1", "p1", "still streaming"))

	require.Eventually(t, func() bool {
		return len(client.Updates()) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"still streaming"}, chunkTexts(client.Updates()))
}

func TestRun_TerminalOutputStaysOutOfConversation(t *testing.T) {
	b, client, upstream := startBridge(t)

	result, err := b.CreateTerminal(context.Background(), acp.CreateTerminalParams{
		SessionID: "sess1",
		Command:   "sleep",
		Args:      []string{"5"},
	})
	require.NoError(t, err)

	// Snapshots of the tracked shell message feed the terminal, not the
	// session update stream.
	upstream.emit(`{"type":"message.part.updated","properties":{"part":{"id":"pt1","sessionID":"sess1","messageID":"shellmsg1","type":"tool","tool":"bash","callID":"c1","state":{"status":"running","output":"build started"}}}}`)
	upstream.emit(`{"type":"message.part.updated","properties":{"part":{"id":"pt1","sessionID":"sess1","messageID":"shellmsg1","type":"tool","tool":"bash","callID":"c1","state":{"status":"completed","output":"build started, build done","metadata":{"exit":0}}}}}`)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	wait, err := b.WaitForExit(ctx, acp.TerminalParams{SessionID: "sess1", TerminalID: result.TerminalID})
	require.NoError(t, err)
	require.NotNil(t, wait.ExitStatus.ExitCode)
	assert.Equal(t, 0, *wait.ExitStatus.ExitCode)
	assert.Nil(t, wait.ExitStatus.Signal)

	out, err := b.TerminalOutput(context.Background(), acp.TerminalParams{SessionID: "sess1", TerminalID: result.TerminalID})
	require.NoError(t, err)
	assert.Equal(t, "build started, build done", out.Output)

	// Nothing about the shell reached the conversation stream.
	for _, n := range client.Updates() {
		_, isToolCall := n.Update.(acp.ToolCallStart)
		_, isToolUpdate := n.Update.(acp.ToolCallProgress)
		assert.False(t, isToolCall || isToolUpdate)
	}
}
