package models

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrNotConnected = errors.New("not connected")
)

// ConnState is the connection status exposed to the UI.
type ConnState string

const (
	StateDisconnected ConnState = "disconnected"
	StateConnecting   ConnState = "connecting"
	StateConnected    ConnState = "connected"
)

// Session holds the authenticated identity. The zero value means signed out.
// Owned by the session manager; read-only everywhere else.
type Session struct {
	Token    string `json:"token"`
	Username string `json:"username"`
}

func (s Session) Valid() bool {
	return s.Token != ""
}

type ContextTag string

const (
	ContextGlobal  ContextTag = "global"
	ContextChannel ContextTag = "server-channel"
	ContextDM      ContextTag = "direct-message"
)

// Context identifies one conversation scope. It is comparable and used
// directly as the message bucket key; equality is field equality.
type Context struct {
	Tag       ContextTag
	ServerID  int64
	ChannelID int64
	DMID      int64
}

func GlobalContext() Context {
	return Context{Tag: ContextGlobal}
}

func ChannelContext(serverID, channelID int64) Context {
	return Context{Tag: ContextChannel, ServerID: serverID, ChannelID: channelID}
}

func DMContext(dmID int64) Context {
	return Context{Tag: ContextDM, DMID: dmID}
}

// Key returns a stable string form, independent of construction order.
func (c Context) Key() string {
	switch c.Tag {
	case ContextChannel:
		return fmt.Sprintf("channel:%d:%d", c.ServerID, c.ChannelID)
	case ContextDM:
		return fmt.Sprintf("dm:%d", c.DMID)
	default:
		return "global"
	}
}

// ParseContextKey is the inverse of Context.Key. Unrecognized keys map to the
// global context.
func ParseContextKey(key string) Context {
	var c Context
	if n, err := fmt.Sscanf(key, "channel:%d:%d", &c.ServerID, &c.ChannelID); err == nil && n == 2 {
		c.Tag = ContextChannel
		return c
	}
	if n, err := fmt.Sscanf(key, "dm:%d", &c.DMID); err == nil && n == 1 {
		c.Tag = ContextDM
		return c
	}
	return GlobalContext()
}

type ReactionType string

const (
	ReactionStandard ReactionType = "standard"
	ReactionCustom   ReactionType = "custom"
)

// Reaction is one user's reaction. Same emoji from different users stays as
// distinct entries; grouping is a display concern.
type Reaction struct {
	Emoji     string       `json:"emoji"`
	EmojiType ReactionType `json:"emoji_type"`
	Username  string       `json:"username"`
}

type Attachment struct {
	ID       int64  `json:"attachment_id"`
	Filename string `json:"filename"`
	FileSize int64  `json:"file_size"`
	URL      string `json:"url"`
}

// ReplySummary is the quoted head of the message being replied to.
type ReplySummary struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Content  string `json:"content"`
}

// MessageRecord is one message in a conversation bucket. ID is 0 only during
// the optimistic window between a local send and the server acknowledgment;
// LocalID identifies the record during that window.
type MessageRecord struct {
	ID          int64         `json:"id"`
	LocalID     string        `json:"-"`
	Username    string        `json:"username"`
	Content     string        `json:"content"`
	Timestamp   int64         `json:"timestamp"`
	EditedAt    int64         `json:"edited_at,omitempty"`
	Attachments []Attachment  `json:"attachments,omitempty"`
	Reactions   []Reaction    `json:"reactions,omitempty"`
	ReplyTo     *ReplySummary `json:"reply_to,omitempty"`
	Context     Context       `json:"-"`
}

// User is a member known to the client, fed by init/data_synced frames.
type User struct {
	Username    string `json:"username"`
	DisplayName string `json:"display_name"`
	AvatarURL   string `json:"avatar_url"`
	Online      bool   `json:"online"`
}

// Emoji is a custom server emoji usable via :name: substitution.
type Emoji struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}
