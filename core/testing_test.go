package core

import (
	"context"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"verdictbot/core/llm"
)

var pngHeader = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n', 0, 0, 0, 0x0d, 'I', 'H', 'D', 'R'}

type fakeProvider struct {
	mu        sync.Mutex
	text      string
	tokens    int
	err       error
	requests  []llm.Request
	forgotten []string
}

func (f *fakeProvider) ID() string { return "fake" }

func (f *fakeProvider) Generate(_ context.Context, req llm.Request) (*llm.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if f.err != nil {
		return nil, f.err
	}
	return &llm.Response{Text: f.text, Tokens: f.tokens, Model: req.Model}, nil
}

func (f *fakeProvider) Forget(apiKey string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.forgotten = append(f.forgotten, apiKey)
}

func (f *fakeProvider) lastRequest(t *testing.T) llm.Request {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.requests)
	return f.requests[len(f.requests)-1]
}

type sent struct {
	chatID  string
	replyTo string
	text    string
}

type fakeResponder struct {
	mu        sync.Mutex
	messages  []sent
	reactions []string
}

func (r *fakeResponder) SendText(chatID, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, sent{chatID: chatID, text: text})
	return nil
}

func (r *fakeResponder) ReplyText(chatID, originalMsgID, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, sent{chatID: chatID, replyTo: originalMsgID, text: text})
	return nil
}

func (r *fakeResponder) SendReaction(_, _, emoji string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reactions = append(r.reactions, emoji)
	return nil
}

func (r *fakeResponder) last(t *testing.T) sent {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	require.NotEmpty(t, r.messages)
	return r.messages[len(r.messages)-1]
}

func newTestUsers(t *testing.T, cfg UsersConfig) *UserStore {
	t.Helper()
	us, err := NewUserStore(cfg, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, us.Close()) })
	return us
}
