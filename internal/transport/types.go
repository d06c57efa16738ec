package transport

import "context"

type UpdateKind string

const (
	UpdateMessage  UpdateKind = "message"
	UpdateCallback UpdateKind = "callback"
	UpdatePhoto    UpdateKind = "photo"
	UpdateDocument UpdateKind = "document"
)

type Update struct {
	Kind     UpdateKind
	Message  *Message
	Callback *Callback
}

type Message struct {
	ID           int
	ChatID       int64
	FromID       int64
	FromUsername string
	Text         string

	// Photo/document payloads are resolved lazily via Adapter.DownloadFile
	// to keep the update pipeline cheap.
	FileID   string
	FileName string
}

type Callback struct {
	ID        string
	FromID    int64
	ChatID    int64
	MessageID int
	Data      string
}

type ChatTarget struct {
	ChatID int64
}

type MessageRef struct {
	ChatID    int64
	MessageID int
}

type SendOptions struct {
	ParseMode      string
	DisablePreview bool
	ReplyMarkup    any // adapter-specific markup (Telegram: *telebot.ReplyMarkup)
}

type Notification struct {
	Target  ChatTarget
	Text    string
	Options *SendOptions
}

type Adapter interface {
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error

	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
	SendDocument(ctx context.Context, to ChatTarget, name string, data []byte, caption string, opt *SendOptions) error
	EditMarkup(ctx context.Context, ref MessageRef, markup any) error
	AnswerCallback(ctx context.Context, callbackID string, text string) error
	DownloadFile(ctx context.Context, fileID string) ([]byte, error)
}

// BotCommand represents a single bot command menu entry.
type BotCommand struct {
	Command     string
	Description string
}

// CommandMenuUpdater is an optional interface adapters can implement to update
// platform-specific command menus (e.g. Telegram's / list).
type CommandMenuUpdater interface {
	UpdateMenuCommands(ctx context.Context, cmds []BotCommand) error
}
