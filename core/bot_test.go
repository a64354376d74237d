package core

import (
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"verdictbot/core/llm"
)

const smashReply = "```json\n{\"verdict\":\"SMASH\",\"rating\":8,\"explanation\":\"Nice.\"}\n```"

func newTestBot(t *testing.T, p *fakeProvider, users UsersConfig) *Bot {
	t.Helper()
	favs, err := NewFavoriteStore(FavoritesConfig{})
	require.NoError(t, err)
	b := NewBot(p, &BotConfig{
		Name:   "Judge",
		Mode:   "concise",
		Model:  "gemini-2.5-flash",
		Models: []string{"gemini-2.5-flash", "gemini-2.5-pro"},
	}, newTestUsers(t, users), NewSessionManager(5), favs, zerolog.Nop())
	RegisterDefaultCommands(b)
	return b
}

func imageMsg(content string) IncomingMessage {
	return IncomingMessage{
		Platform:  "test",
		MessageID: "$evt1",
		UserID:    "@alice:example.org",
		ChatID:    "!room:example.org",
		Content:   content,
		IsImage:   true,
		ImageName: "photo.png",
		ImageData: pngHeader,
	}
}

func textMsg(content string) IncomingMessage {
	return IncomingMessage{
		Platform:  "test",
		MessageID: "$evt2",
		UserID:    "@alice:example.org",
		ChatID:    "!room:example.org",
		Content:   content,
	}
}

func TestBotJudgesAddressedImage(t *testing.T) {
	p := &fakeProvider{text: smashReply, tokens: 42}
	b := newTestBot(t, p, UsersConfig{GlobalLimit: -1})
	r := &fakeResponder{}

	b.HandleMessage(imageMsg("judge, is this good?"), r)

	require.Equal(t, []string{"👀"}, r.reactions)
	reply := r.last(t)
	require.Equal(t, "$evt1", reply.replyTo)
	require.Contains(t, reply.text, "**SMASH** (8/10)")

	req := p.lastRequest(t)
	require.Equal(t, "is this good?", req.Prompt)
	require.Equal(t, "gemini-2.5-flash", req.Model)
	require.Equal(t, "image/png", req.Media.MIMEType)

	tokens, judged, _ := b.Users.GetUserStats("@alice:example.org")
	require.Equal(t, 42, tokens)
	require.Equal(t, 1, judged)

	last, ok := b.Sessions.Last("!room:example.org", "@alice:example.org")
	require.True(t, ok)
	require.Equal(t, "photo.png", last.Image)
}

func TestBotIgnoresUnaddressed(t *testing.T) {
	p := &fakeProvider{text: smashReply}
	b := newTestBot(t, p, UsersConfig{GlobalLimit: -1})
	r := &fakeResponder{}

	b.HandleMessage(imageMsg("my holiday"), r)
	require.Empty(t, r.messages)
	require.Empty(t, p.requests)

	msg := imageMsg("my holiday")
	msg.IsDirect = true
	b.HandleMessage(msg, r)
	require.Len(t, p.requests, 1)
}

func TestBotTextHint(t *testing.T) {
	b := newTestBot(t, &fakeProvider{}, UsersConfig{GlobalLimit: -1})
	r := &fakeResponder{}

	b.HandleMessage(textMsg("hey judge"), r)
	require.Contains(t, r.last(t).text, "!judge help")
}

func TestBotUsageLimit(t *testing.T) {
	p := &fakeProvider{text: smashReply, tokens: 100}
	b := newTestBot(t, p, UsersConfig{GlobalLimit: 100, MasterKey: "m"})
	r := &fakeResponder{}

	b.HandleMessage(imageMsg("judge"), r)
	require.Len(t, p.requests, 1)

	b.HandleMessage(imageMsg("judge"), r)
	require.Len(t, p.requests, 1)
	require.Contains(t, r.last(t).text, "usage limit")

	// own key lifts the limit and is passed to the provider
	require.NoError(t, b.Users.SetUserAPIKey("@alice:example.org", "own-key"))
	b.HandleMessage(imageMsg("judge"), r)
	require.Len(t, p.requests, 2)
	require.Equal(t, "own-key", p.lastRequest(t).APIKey)
}

func TestBotUnreadableStoredKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "users.json")
	before := newTestUsers(t, UsersConfig{FilePath: path, MasterKey: "A"})
	require.NoError(t, before.SetUserAPIKey("@alice:example.org", "own-key"))

	p := &fakeProvider{text: smashReply, tokens: 100}
	b := newTestBot(t, p, UsersConfig{FilePath: path, MasterKey: "B", GlobalLimit: 0})
	r := &fakeResponder{}

	b.HandleMessage(imageMsg("judge"), r)
	require.Empty(t, p.requests)
	require.Contains(t, r.last(t).text, "setkey")

	// setting the key again under the new master key works
	require.NoError(t, b.Users.SetUserAPIKey("@alice:example.org", "new-key"))
	b.HandleMessage(imageMsg("judge"), r)
	require.Len(t, p.requests, 1)
	require.Equal(t, "new-key", p.lastRequest(t).APIKey)
}

func TestBotProviderErrors(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{err: llm.ErrBlocked, want: "refused"},
		{err: llm.ErrNoAPIKey, want: "setkey"},
		{err: llm.ErrEmptyResponse, want: "Error judging image."},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			b := newTestBot(t, &fakeProvider{err: tt.err}, UsersConfig{GlobalLimit: -1})
			r := &fakeResponder{}
			b.HandleMessage(imageMsg("judge"), r)
			require.Contains(t, r.last(t).text, tt.want)

			_, ok := b.Sessions.Last("!room:example.org", "@alice:example.org")
			require.False(t, ok)
		})
	}
}

func TestBotRejectsNonImage(t *testing.T) {
	p := &fakeProvider{text: smashReply}
	b := newTestBot(t, p, UsersConfig{GlobalLimit: -1})
	r := &fakeResponder{}

	msg := imageMsg("judge")
	msg.ImageData = []byte("just some text")
	b.HandleMessage(msg, r)

	require.Empty(t, p.requests)
	require.Contains(t, r.last(t).text, "not an image")
}

func TestBotPreferences(t *testing.T) {
	p := &fakeProvider{text: smashReply}
	b := newTestBot(t, p, UsersConfig{GlobalLimit: -1})
	r := &fakeResponder{}

	b.HandleMessage(textMsg("!judge model gemini-2.5-pro"), r)
	require.Contains(t, r.last(t).text, "gemini-2.5-pro")

	b.HandleMessage(textMsg("!judge model gpt-4"), r)
	require.Contains(t, r.last(t).text, "Unknown model")

	b.HandleMessage(textMsg("!judge mode sideways"), r)
	require.Contains(t, r.last(t).text, "unknown mode")

	b.HandleMessage(textMsg("!judge mode custom"), r)
	require.Contains(t, r.last(t).text, "prompt <text>")

	b.HandleMessage(imageMsg("judge"), r)
	require.Contains(t, r.last(t).text, "Custom mode needs a prompt")

	b.HandleMessage(textMsg("!judge prompt Rate it like a food critic."), r)
	b.HandleMessage(imageMsg("judge"), r)

	req := p.lastRequest(t)
	require.Equal(t, "gemini-2.5-pro", req.Model)
	require.Contains(t, req.SystemInstruction, "Rate it like a food critic.")

	b.HandleMessage(textMsg("!judge model default"), r)
	require.Equal(t, "", b.Users.GetPreferences("@alice:example.org").Model)
}

func TestBotKeyCommands(t *testing.T) {
	p := &fakeProvider{}
	b := newTestBot(t, p, UsersConfig{MasterKey: "m"})
	r := &fakeResponder{}

	b.HandleMessage(textMsg("!judge setkey"), r)
	require.Contains(t, r.last(t).text, "Usage")

	b.HandleMessage(textMsg("!judge setkey AIzaKey"), r)
	require.Contains(t, r.last(t).text, "Delete your message")

	b.HandleMessage(textMsg("!judge stats"), r)
	require.Contains(t, r.last(t).text, "using your own API key")

	b.HandleMessage(textMsg("!judge delkey"), r)
	require.Contains(t, r.last(t).text, "deleted")
	require.Equal(t, []string{"AIzaKey"}, p.forgotten)

	b.HandleMessage(textMsg("!judge delkey"), r)
	require.Contains(t, r.last(t).text, "don't have")
}

func TestBotSetKeyWithoutMasterKey(t *testing.T) {
	b := newTestBot(t, &fakeProvider{}, UsersConfig{})
	r := &fakeResponder{}
	b.HandleMessage(textMsg("!judge setkey AIzaKey"), r)
	require.Contains(t, r.last(t).text, "disabled")
}

func TestBotHistoryAndFavorites(t *testing.T) {
	p := &fakeProvider{text: smashReply}
	b := newTestBot(t, p, UsersConfig{GlobalLimit: -1})
	r := &fakeResponder{}

	b.HandleMessage(textMsg("!judge last"), r)
	require.Contains(t, r.last(t).text, "Nothing judged")
	b.HandleMessage(textMsg("!judge fav"), r)
	require.Contains(t, r.last(t).text, "Nothing judged")

	b.HandleMessage(imageMsg("judge"), r)

	b.HandleMessage(textMsg("!judge last"), r)
	require.Contains(t, r.last(t).text, "**SMASH**")

	b.HandleMessage(textMsg("!judge history"), r)
	require.Contains(t, r.last(t).text, "1. ")
	require.Contains(t, r.last(t).text, "SMASH 8/10")

	b.HandleMessage(textMsg("!judge fav"), r)
	require.Contains(t, r.last(t).text, "Saved")
	b.HandleMessage(textMsg("!judge fav"), r)
	require.Contains(t, r.last(t).text, "Already")

	b.HandleMessage(textMsg("!judge favs"), r)
	require.Contains(t, r.last(t).text, "photo.png SMASH 8/10 [concise, gemini-2.5-flash]")

	b.HandleMessage(textMsg("!judge unfav x"), r)
	require.Contains(t, r.last(t).text, "not a number")
	b.HandleMessage(textMsg("!judge unfav 2"), r)
	require.Contains(t, r.last(t).text, "No favorite #2")
	b.HandleMessage(textMsg("!judge unfav 1"), r)
	require.Contains(t, r.last(t).text, "Removed favorite #1")
	require.Empty(t, b.Favorites.List("@alice:example.org"))

	b.HandleMessage(textMsg("!judge clear"), r)
	_, ok := b.Sessions.Last("!room:example.org", "@alice:example.org")
	require.False(t, ok)
}

func TestBotHelp(t *testing.T) {
	b := newTestBot(t, &fakeProvider{}, UsersConfig{})
	r := &fakeResponder{}
	b.HandleMessage(textMsg("!Judge HELP"), r)

	help := r.last(t).text
	for _, name := range []string{"setkey", "delkey", "stats", "mode", "prompt", "model", "last", "fav", "favs", "unfav", "history", "clear"} {
		require.Contains(t, help, "`!judge "+name)
	}
}

func TestBotRecoversFromPanic(t *testing.T) {
	b := newTestBot(t, &fakeProvider{}, UsersConfig{})
	b.Commands.Register("boom", "", func(CommandContext) error { panic("boom") })
	require.NotPanics(t, func() {
		b.HandleMessage(textMsg("!judge boom"), &fakeResponder{})
	})
}
