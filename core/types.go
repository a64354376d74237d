package core

type IncomingMessage struct {
	Platform  string
	MessageID string
	UserID    string
	UserName  string
	ChatID    string
	Content   string
	// IsDirect is set for one-to-one chats where every message is addressed
	// to the bot.
	IsDirect bool

	IsImage       bool
	ImageName     string
	ImageData     []byte
	ImageMimeType string
}

type Responder interface {
	SendText(chatID string, text string) error
	ReplyText(chatID string, originalMsgID string, text string) error
	SendReaction(chatID string, messageID string, emoji string) error
}
