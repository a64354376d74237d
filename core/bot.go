package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"verdictbot/core/llm"
	"verdictbot/core/prompt"
)

type BotConfig struct {
	Name         string `toml:"name"`
	Mode         string `toml:"mode"`
	CustomPrompt string `toml:"custom_prompt"`
	Model        string `toml:"model"`
	// Models users may pick with the model command. Empty allows any.
	Models            []string `toml:"models"`
	MaxResponseTokens int      `toml:"max_response_tokens"`
	Temperature       float32  `toml:"temperature"`
	MaxHistory        int      `toml:"max_history"`
	// MaxReplyLength is in runes; platforms with tighter limits cut again.
	MaxReplyLength        int `toml:"max_reply_length"`
	RequestTimeoutSeconds int `toml:"request_timeout_seconds"`
}

// keyForgetter is implemented by providers that cache clients per key.
type keyForgetter interface {
	Forget(apiKey string)
}

type Bot struct {
	LLM         llm.Provider
	Config      *BotConfig
	Users       *UserStore
	Sessions    *SessionManager
	Favorites   *FavoriteStore
	Commands    *CommandRegistry
	UploadFiles bool

	Log zerolog.Logger
}

func NewBot(provider llm.Provider, cfg *BotConfig, users *UserStore, sessions *SessionManager, favorites *FavoriteStore, log zerolog.Logger) *Bot {
	return &Bot{
		LLM:       provider,
		Config:    cfg,
		Users:     users,
		Sessions:  sessions,
		Favorites: favorites,
		Commands:  NewCommandRegistry(),
		Log:       log.With().Str("component", "bot").Logger(),
	}
}

func (b *Bot) prefix() string {
	return "!" + strings.ToLower(b.Config.Name)
}

func (b *Bot) HandleMessage(msg IncomingMessage, responder Responder) {
	defer func() {
		if r := recover(); r != nil {
			b.Log.Error().Interface("panic", r).Str("chat_id", msg.ChatID).Msg("Panic in HandleMessage")
		}
	}()

	prefix := b.prefix()
	msgLower := strings.ToLower(msg.Content)

	if strings.HasPrefix(msgLower, prefix) {
		parts := strings.Fields(msg.Content)
		if len(parts) >= 2 {
			ctx := CommandContext{
				Msg:       msg,
				Responder: responder,
				Bot:       b,
				Args:      parts[2:],
			}
			if b.Commands.Execute(parts[1], ctx) {
				return
			}
		}
	}

	if !b.Addressed(msg) {
		return
	}

	if !msg.IsImage {
		b.reply(responder, msg, fmt.Sprintf("Send me an image (or reply to one) mentioning %s and I'll judge it. Try `%s help`.", b.Config.Name, prefix))
		return
	}

	b.processImage(msg, responder)
}

// Addressed reports whether msg is meant for the bot: a direct message, a
// command or any text naming it.
func (b *Bot) Addressed(msg IncomingMessage) bool {
	content := strings.ToLower(msg.Content)
	return msg.IsDirect ||
		strings.HasPrefix(content, b.prefix()) ||
		strings.Contains(content, strings.ToLower(b.Config.Name))
}

func (b *Bot) reply(responder Responder, msg IncomingMessage, text string) {
	var err error
	if msg.MessageID != "" {
		err = responder.ReplyText(msg.ChatID, msg.MessageID, text)
	} else {
		err = responder.SendText(msg.ChatID, text)
	}
	if err != nil {
		b.Log.Warn().Err(err).Str("chat_id", msg.ChatID).Msg("Failed to send reply")
	}
}

// caption strips the bot's name and command prefix from content.
func (b *Bot) caption(content string) string {
	words := strings.Fields(content)
	out := words[:0]
	name := strings.ToLower(b.Config.Name)
	for _, w := range words {
		lw := strings.ToLower(strings.Trim(w, ",:!@"))
		if lw == name {
			continue
		}
		out = append(out, w)
	}
	return strings.Join(out, " ")
}

// resolve merges the user's preferences over the bot defaults.
func (b *Bot) resolve(userID string) (prompt.Mode, string, string) {
	prefs := b.Users.GetPreferences(userID)

	mode := prompt.Mode(b.Config.Mode)
	if prefs.Mode != "" {
		mode = prompt.Mode(prefs.Mode)
	}
	custom := b.Config.CustomPrompt
	if prefs.CustomPrompt != "" {
		custom = prefs.CustomPrompt
	}
	model := b.Config.Model
	if prefs.Model != "" {
		model = prefs.Model
	}
	return mode, custom, model
}

func (b *Bot) processImage(msg IncomingMessage, responder Responder) {
	log := b.Log.With().Str("user_id", msg.UserID).Str("chat_id", msg.ChatID).Logger()

	if !b.Users.CanUseAPI(msg.UserID) {
		b.reply(responder, msg, fmt.Sprintf("Sorry, you've reached the shared usage limit. Use `%s setkey <your_api_key>` to add your own key.", b.prefix()))
		return
	}

	apiKey, err := b.Users.GetUserAPIKey(msg.UserID)
	if err != nil && !errors.Is(err, ErrNoUserKey) {
		// users with a stored key never fall back to the shared one
		log.Warn().Err(err).Msg("Failed to read user API key")
		b.reply(responder, msg, fmt.Sprintf("Your stored API key can't be read. Set it again with `%s setkey <your_api_key>`.", b.prefix()))
		return
	}
	mode, custom, model := b.resolve(msg.UserID)

	media, err := llm.NewMedia(msg.ImageName, msg.ImageData, msg.ImageMimeType)
	if err != nil {
		b.reply(responder, msg, "I couldn't read that image.")
		return
	}
	if !media.IsImage() {
		b.reply(responder, msg, fmt.Sprintf("That looks like %s, not an image.", media.MIMEType))
		return
	}

	if msg.MessageID != "" {
		if err := responder.SendReaction(msg.ChatID, msg.MessageID, "👀"); err != nil {
			log.Debug().Err(err).Msg("Failed to react")
		}
	}

	ctx := context.Background()
	if secs := b.Config.RequestTimeoutSeconds; secs > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(secs)*time.Second)
		defer cancel()
	}

	j, err := Judge(ctx, b.LLM, JudgeInput{
		Media:        media,
		Caption:      b.caption(msg.Content),
		Mode:         mode,
		CustomPrompt: custom,
		Model:        model,
		APIKey:       apiKey,
		Upload:       b.UploadFiles,
		Temperature:  b.Config.Temperature,
		MaxTokens:    b.Config.MaxResponseTokens,
	})
	if err != nil {
		log.Error().Err(err).Str("mode", string(mode)).Msg("Judging failed")
		switch {
		case errors.Is(err, prompt.ErrMissingCustom):
			b.reply(responder, msg, fmt.Sprintf("Custom mode needs a prompt. Set one with `%s prompt <text>`.", b.prefix()))
		case errors.Is(err, llm.ErrBlocked):
			b.reply(responder, msg, "The model refused to judge that one.")
		case errors.Is(err, llm.ErrNoAPIKey):
			b.reply(responder, msg, fmt.Sprintf("No API key available. Use `%s setkey <your_api_key>`.", b.prefix()))
		default:
			b.reply(responder, msg, "Error judging image.")
		}
		return
	}

	b.Users.RecordUsage(msg.UserID, j.Tokens)
	b.Sessions.Add(msg.ChatID, msg.UserID, *j)

	log.Info().
		Str("model", j.Model).
		Str("mode", j.Mode).
		Int("tokens", j.Tokens).
		Stringer("result", j.Result).
		Msg("Judged image")

	b.reply(responder, msg, FormatJudgement(*j, b.Config.MaxReplyLength))
}

// forgetKey drops any client the provider cached for apiKey.
func (b *Bot) forgetKey(apiKey string) {
	if f, ok := b.LLM.(keyForgetter); ok && apiKey != "" {
		f.Forget(apiKey)
	}
}
