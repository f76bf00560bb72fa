package transport

import "context"

type UpdateKind string

const (
	UpdateMessage   UpdateKind = "message"
	UpdateMigration UpdateKind = "migration"
	UpdateInline    UpdateKind = "inline_query"
)

type Update struct {
	Kind      UpdateKind
	Message   *Message
	Migration *Migration
	Inline    *InlineQuery
}

type Message struct {
	ID           int
	ChatID       int64
	ThreadID     int // telegram forum topic thread id (0 if none)
	FromID       int64
	FromUsername string
	Text         string
}

// Migration reports that a chat moved to a new id (group upgraded to supergroup).
type Migration struct {
	FromChatID int64
	ToChatID   int64
}

// InlineQuery is a search typed after the bot's username in any chat.
type InlineQuery struct {
	ID           string
	FromID       int64
	FromUsername string
	Query        string
}

// InlineResult is one photo answer to an InlineQuery.
type InlineResult struct {
	ID          string
	PhotoURL    string
	ThumbURL    string
	Title       string
	Description string
	Caption     string
	ParseMode   string
	Buttons     [][]Button
}

type ChatTarget struct {
	ChatID   int64
	ThreadID int
}

type MessageRef struct {
	ChatID    int64
	ThreadID  int
	MessageID int
}

type SendOptions struct {
	ParseMode      string
	DisablePreview bool
}

// ChatKind classifies the chat a message was delivered to.
type ChatKind int

const (
	ChatUnknown ChatKind = iota
	ChatPrivate
	ChatGroup
	ChatSuperGroup
	ChatChannel
)

func (k ChatKind) String() string {
	switch k {
	case ChatPrivate:
		return "private"
	case ChatGroup:
		return "group"
	case ChatSuperGroup:
		return "supergroup"
	case ChatChannel:
		return "channel"
	default:
		return "unknown"
	}
}

// HasMembers reports whether member counts are meaningful for the kind.
func (k ChatKind) HasMembers() bool {
	return k == ChatGroup || k == ChatSuperGroup || k == ChatChannel
}

// Button is an inline keyboard button. Exactly one of URL or InlineQuery is set.
type Button struct {
	Text        string
	URL         string
	InlineQuery string
}

// Post is a rich message: a photo with caption when PhotoURL is set, text otherwise.
type Post struct {
	Text           string
	PhotoURL       string
	ParseMode      string
	DisablePreview bool
	Buttons        [][]Button
}

// Delivery is the metadata of a successfully sent Post.
type Delivery struct {
	Ref  MessageRef
	Kind ChatKind
}

type Adapter interface {
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error

	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
	SendPost(ctx context.Context, to ChatTarget, post Post) (Delivery, error)
	MemberCount(ctx context.Context, chatID int64) (int, error)
}

// BotCommand is an entry of the bot's command menu.
type BotCommand struct {
	Command     string
	Description string
}
