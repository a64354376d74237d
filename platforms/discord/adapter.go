package discord

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/bwmarrin/discordgo"
	"github.com/rs/zerolog"

	"verdictbot/core"
)

// maxMessageLength is Discord's limit on message content, in runes.
const maxMessageLength = 2000

// maxAttachmentSize bounds image downloads.
const maxAttachmentSize = 20 << 20

type Config struct {
	Enabled bool   `toml:"enabled"`
	Token   string `toml:"token"`
}

type DiscordAdapter struct {
	Session *discordgo.Session
	Core    *core.Bot
	BotID   string

	http    *http.Client
	maxSize int64
	log     zerolog.Logger
}

var _ core.Responder = (*DiscordAdapter)(nil)

func NewDiscordAdapter(token string, coreBot *core.Bot, log zerolog.Logger) (*DiscordAdapter, error) {
	dg, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, err
	}
	dg.Identify.Intents = discordgo.IntentGuildMessages |
		discordgo.IntentDirectMessages |
		discordgo.IntentMessageContent

	return &DiscordAdapter{
		Session: dg,
		Core:    coreBot,
		http:    &http.Client{Timeout: 30 * time.Second},
		maxSize: maxAttachmentSize,
		log:     log.With().Str("component", "discord").Logger(),
	}, nil
}

func (da *DiscordAdapter) Start() error {
	da.Session.AddHandler(da.handleMessage)

	if err := da.Session.Open(); err != nil {
		return fmt.Errorf("error opening discord connection: %w", err)
	}

	u, err := da.Session.User("@me")
	if err != nil {
		return fmt.Errorf("error fetching self user: %w", err)
	}
	da.BotID = u.ID

	da.log.Info().Str("username", u.Username).Msg("Discord adapter started")
	return nil
}

func (da *DiscordAdapter) Close() error {
	return da.Session.Close()
}

// stripMention replaces the bot's mention with its configured name so the
// core sees the message as addressed to it.
func stripMention(content, botID, name string) string {
	mentions := []string{"<@" + botID + ">", "<@!" + botID + ">"}
	found := false
	for _, m := range mentions {
		if strings.Contains(content, m) {
			found = true
			content = strings.ReplaceAll(content, m, "")
		}
	}
	content = strings.TrimSpace(content)
	if found {
		content = strings.TrimSpace(name + " " + content)
	}
	return content
}

// imageAttachment returns the first attachment that looks like an image.
func imageAttachment(atts []*discordgo.MessageAttachment) *discordgo.MessageAttachment {
	for _, att := range atts {
		if strings.HasPrefix(att.ContentType, "image/") {
			return att
		}
		switch strings.ToLower(path.Ext(att.Filename)) {
		case ".png", ".jpg", ".jpeg", ".webp", ".gif", ".heic":
			return att
		}
	}
	return nil
}

func (da *DiscordAdapter) handleMessage(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.ID == da.BotID || m.Author.Bot {
		return
	}
	go da.Core.HandleMessage(da.incoming(context.Background(), m), da)
}

// incoming converts m for the core. Attachments are only fetched for
// messages addressed to the bot.
func (da *DiscordAdapter) incoming(ctx context.Context, m *discordgo.MessageCreate) core.IncomingMessage {
	msg := core.IncomingMessage{
		Platform:  "discord",
		MessageID: m.ID,
		UserID:    m.Author.ID,
		UserName:  m.Author.Username,
		ChatID:    m.ChannelID,
		Content:   stripMention(m.Content, da.BotID, da.Core.Config.Name),
		IsDirect:  m.GuildID == "",
	}

	att := imageAttachment(m.Attachments)
	if att == nil || !da.Core.Addressed(msg) {
		return msg
	}
	log := da.log.With().Str("attachment", att.Filename).Logger()
	if int64(att.Size) > da.maxSize {
		log.Warn().Int("size", att.Size).Msg("Attachment too large")
		return msg
	}

	data, err := da.downloadAttachment(ctx, att.URL)
	if err != nil {
		log.Error().Err(err).Msg("Failed to download attachment")
		return msg
	}
	msg.IsImage = true
	msg.ImageName = att.Filename
	msg.ImageData = data
	// empty content types are sniffed by the core
	msg.ImageMimeType = att.ContentType
	return msg
}

func (da *DiscordAdapter) downloadAttachment(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := da.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %s", resp.Status)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, da.maxSize+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > da.maxSize {
		return nil, fmt.Errorf("attachment exceeds %d bytes", da.maxSize)
	}
	return data, nil
}

func clip(text string) string {
	if utf8.RuneCountInString(text) <= maxMessageLength {
		return text
	}
	return string([]rune(text)[:maxMessageLength-3]) + "..."
}

func (da *DiscordAdapter) SendText(chatID string, text string) error {
	_, err := da.Session.ChannelMessageSend(chatID, clip(text))
	return err
}

func (da *DiscordAdapter) ReplyText(chatID string, originalMsgID string, text string) error {
	_, err := da.Session.ChannelMessageSendComplex(chatID, &discordgo.MessageSend{
		Content: clip(text),
		Reference: &discordgo.MessageReference{
			MessageID: originalMsgID,
			ChannelID: chatID,
		},
	})
	return err
}

func (da *DiscordAdapter) SendReaction(chatID string, messageID string, emoji string) error {
	return da.Session.MessageReactionAdd(chatID, messageID, emoji)
}
