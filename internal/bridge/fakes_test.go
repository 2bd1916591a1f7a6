package bridge

import (
	"context"
	"sync"

	"github.com/opencode-ai/opencode-acp/internal/acp"
	"github.com/opencode-ai/opencode-acp/internal/opencode"
)

// fakeClient records downstream traffic and answers permission requests with
// a scripted outcome.
type fakeClient struct {
	mu          sync.Mutex
	updates     []acp.SessionNotification
	permissions []acp.PermissionRequest
	outcome     acp.PermissionOutcome
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		outcome: acp.PermissionOutcome{Outcome: "selected", OptionID: acp.OptionAllowOnce},
	}
}

func (c *fakeClient) SessionUpdate(_ context.Context, n acp.SessionNotification) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.updates = append(c.updates, n)
	return nil
}

func (c *fakeClient) RequestPermission(_ context.Context, req acp.PermissionRequest) (*acp.PermissionOutcome, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.permissions = append(c.permissions, req)
	outcome := c.outcome
	return &outcome, nil
}

func (c *fakeClient) deny() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.outcome = acp.PermissionOutcome{Outcome: "selected", OptionID: acp.OptionRejectOnce}
}

func (c *fakeClient) Updates() []acp.SessionNotification {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]acp.SessionNotification, len(c.updates))
	copy(out, c.updates)
	return out
}

func (c *fakeClient) Permissions() []acp.PermissionRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]acp.PermissionRequest, len(c.permissions))
	copy(out, c.permissions)
	return out
}

// fakeUpstream is an in-memory opencode.Client whose event feed the test
// drives directly.
type fakeUpstream struct {
	mu       sync.Mutex
	events   chan []byte
	sessions int
	prompts  []string
	shells   []string
	aborted  []string
	models   []*opencode.Model

	// blockPrompt, when non-nil, holds Prompt open until closed.
	blockPrompt chan struct{}

	// history is returned by Messages.
	history []opencode.MessageWithParts
}

func newFakeUpstream() *fakeUpstream {
	return &fakeUpstream{events: make(chan []byte, 64)}
}

func (u *fakeUpstream) CreateSession(_ context.Context, directory string) (*opencode.Session, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.sessions++
	return &opencode.Session{ID: "sess1", Directory: directory}, nil
}

func (u *fakeUpstream) Prompt(_ context.Context, sessionID string, parts []opencode.TextPartInput, opts opencode.PromptOptions) (*opencode.Message, error) {
	u.mu.Lock()
	for _, p := range parts {
		u.prompts = append(u.prompts, p.Text)
	}
	u.models = append(u.models, opts.Model)
	block := u.blockPrompt
	u.mu.Unlock()
	if block != nil {
		<-block
	}
	return &opencode.Message{ID: "msg1", SessionID: sessionID, Role: "assistant"}, nil
}

func (u *fakeUpstream) Abort(_ context.Context, sessionID string) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.aborted = append(u.aborted, sessionID)
	return nil
}

func (u *fakeUpstream) Shell(_ context.Context, sessionID, command string) (*opencode.Message, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.shells = append(u.shells, command)
	return &opencode.Message{ID: "shellmsg1", SessionID: sessionID, Role: "assistant"}, nil
}

func (u *fakeUpstream) Messages(context.Context, string) ([]opencode.MessageWithParts, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.history, nil
}

func (u *fakeUpstream) Command(_ context.Context, sessionID, name, args string) (*opencode.Message, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.prompts = append(u.prompts, "/"+name+" "+args)
	return &opencode.Message{ID: "msg1", SessionID: sessionID, Role: "assistant"}, nil
}

func (u *fakeUpstream) GetConfig(context.Context) (*opencode.Config, error) {
	return &opencode.Config{}, nil
}

func (u *fakeUpstream) Providers(context.Context) ([]opencode.Provider, error) {
	return nil, nil
}

func (u *fakeUpstream) Subscribe(context.Context) (<-chan []byte, error) {
	return u.events, nil
}

func (u *fakeUpstream) emit(payload string) {
	u.events <- []byte(payload)
}
