package matrix

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/format"
	"maunium.net/go/mautrix/id"

	"verdictbot/core"
)

// maxEventAge drops backlog delivered by the first sync after a restart.
const maxEventAge = 2 * time.Minute

type MatrixAdapter struct {
	Client   *mautrix.Client
	Core     *core.Bot
	AutoJoin bool

	log zerolog.Logger
}

var _ core.Responder = (*MatrixAdapter)(nil)

func NewMatrixAdapter(client *mautrix.Client, coreBot *core.Bot, autoJoin bool, log zerolog.Logger) *MatrixAdapter {
	return &MatrixAdapter{
		Client:   client,
		Core:     coreBot,
		AutoJoin: autoJoin,
		log:      log.With().Str("component", "matrix").Logger(),
	}
}

// Start runs the sync loop until ctx is cancelled.
func (ma *MatrixAdapter) Start(ctx context.Context) error {
	syncer := ma.Client.Syncer.(*mautrix.DefaultSyncer)
	syncer.OnEventType(event.EventMessage, ma.handleEvent)
	syncer.OnEventType(event.StateMember, ma.handleInvite)

	ma.log.Info().Str("user_id", ma.Client.UserID.String()).Msg("Starting Matrix sync")
	err := ma.Client.SyncWithContext(ctx)
	if ctx.Err() != nil {
		return nil
	}
	return err
}

func (ma *MatrixAdapter) handleInvite(ctx context.Context, evt *event.Event) {
	if !ma.AutoJoin {
		return
	}

	state := evt.Content.AsMember()
	if state.Membership != event.MembershipInvite || evt.GetStateKey() != ma.Client.UserID.String() {
		return
	}

	log := ma.log.With().Stringer("room_id", evt.RoomID).Stringer("inviter", evt.Sender).Logger()
	log.Info().Msg("Received invite, joining")
	if _, err := ma.Client.JoinRoom(ctx, evt.RoomID.String(), nil); err != nil {
		log.Error().Err(err).Msg("Failed to join room")
		return
	}
	log.Info().Msg("Joined room")
	_ = ma.SendText(evt.RoomID.String(), "Hello! Send me an image and mention me to get a verdict.")
}

func (ma *MatrixAdapter) send(chatID string, content *event.MessageEventContent) error {
	_, err := ma.Client.SendMessageEvent(context.Background(), id.RoomID(chatID), event.EventMessage, content)
	return err
}

// SendText sends text rendered from markdown.
func (ma *MatrixAdapter) SendText(chatID string, text string) error {
	content := format.RenderMarkdown(text, true, false)
	return ma.send(chatID, &content)
}

func (ma *MatrixAdapter) ReplyText(chatID string, originalMsgID string, text string) error {
	content := format.RenderMarkdown(text, true, false)
	content.RelatesTo = &event.RelatesTo{
		InReplyTo: &event.InReplyTo{EventID: id.EventID(originalMsgID)},
	}
	return ma.send(chatID, &content)
}

func (ma *MatrixAdapter) SendReaction(chatID string, messageID string, emoji string) error {
	_, err := ma.Client.SendMessageEvent(context.Background(), id.RoomID(chatID), event.EventReaction, &event.ReactionEventContent{
		RelatesTo: event.RelatesTo{
			Type:    event.RelAnnotation,
			EventID: id.EventID(messageID),
			Key:     emoji,
		},
	})
	return err
}

// downloadImage fetches the media of content, decrypting it when the room
// is encrypted.
func (ma *MatrixAdapter) downloadImage(ctx context.Context, content *event.MessageEventContent) ([]byte, string, error) {
	var mimeType string
	if info := content.GetInfo(); info != nil {
		mimeType = info.MimeType
	}

	if content.File != nil {
		uri, err := content.File.URL.Parse()
		if err != nil {
			return nil, "", err
		}
		data, err := ma.Client.DownloadBytes(ctx, uri)
		if err != nil {
			return nil, "", err
		}
		if err := content.File.DecryptInPlace(data); err != nil {
			return nil, "", err
		}
		return data, mimeType, nil
	}

	uri, err := content.URL.Parse()
	if err != nil {
		return nil, "", err
	}
	data, err := ma.Client.DownloadBytes(ctx, uri)
	return data, mimeType, err
}

// caption returns the text accompanying an image. Body holds the caption
// only when a separate file name is present.
func caption(content *event.MessageEventContent) string {
	if content.FileName != "" && content.FileName != content.Body {
		return content.Body
	}
	return ""
}

func fileName(content *event.MessageEventContent) string {
	if content.FileName != "" {
		return content.FileName
	}
	return content.Body
}

func (ma *MatrixAdapter) attachImage(ctx context.Context, msg *core.IncomingMessage, content *event.MessageEventContent) {
	data, mime, err := ma.downloadImage(ctx, content)
	if err != nil {
		ma.log.Error().Err(err).Str("chat_id", msg.ChatID).Msg("Failed to download image")
		return
	}
	msg.IsImage = true
	msg.ImageName = fileName(content)
	msg.ImageData = data
	msg.ImageMimeType = mime
}

// repliedImage loads eventID and returns its content when it is an image.
func (ma *MatrixAdapter) repliedImage(ctx context.Context, roomID id.RoomID, eventID id.EventID) *event.MessageEventContent {
	log := ma.log.With().Stringer("room_id", roomID).Stringer("event_id", eventID).Logger()

	replyEvt, err := ma.Client.GetEvent(ctx, roomID, eventID)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to fetch replied event")
		return nil
	}
	replyEvt.RoomID = roomID
	_ = replyEvt.Content.ParseRaw(replyEvt.Type)

	if replyEvt.Type == event.EventEncrypted && ma.Client.Crypto != nil {
		decrypted, err := ma.Client.Crypto.Decrypt(ctx, replyEvt)
		if err != nil {
			log.Warn().Err(err).Msg("Failed to decrypt replied event")
			return nil
		}
		replyEvt = decrypted
		_ = replyEvt.Content.ParseRaw(replyEvt.Type)
	}

	content, ok := replyEvt.Content.Parsed.(*event.MessageEventContent)
	if !ok || content.MsgType != event.MsgImage {
		return nil
	}
	return content
}

func (ma *MatrixAdapter) handleEvent(ctx context.Context, evt *event.Event) {
	if evt.Sender == ma.Client.UserID || time.Since(time.UnixMilli(evt.Timestamp)) > maxEventAge {
		return
	}

	content, ok := evt.Content.Parsed.(*event.MessageEventContent)
	if !ok {
		return
	}
	content.RemoveReplyFallback()

	msg := core.IncomingMessage{
		Platform:  "matrix",
		MessageID: evt.ID.String(),
		UserID:    evt.Sender.String(),
		UserName:  evt.Sender.Localpart(),
		ChatID:    evt.RoomID.String(),
		Content:   content.Body,
	}

	if content.MsgType == event.MsgImage {
		msg.Content = caption(content)
		ma.attachImage(ctx, &msg, content)
	} else if content.RelatesTo != nil && content.RelatesTo.InReplyTo != nil {
		if img := ma.repliedImage(ctx, evt.RoomID, content.RelatesTo.InReplyTo.EventID); img != nil {
			ma.log.Debug().Str("chat_id", msg.ChatID).Msg("Found image in replied event")
			ma.attachImage(ctx, &msg, img)
		}
	}

	go ma.Core.HandleMessage(msg, ma)
}
