package models

// FrameType discriminates the JSON frames exchanged over the persistent
// connection. Unknown values are ignored by the dispatch path so newer
// servers stay compatible.
type FrameType string

const (
	// Client -> server.
	FrameLogin             FrameType = "login"
	FrameToken             FrameType = "token"
	FrameSendMessage       FrameType = "send_message"
	FrameGetChannelHistory FrameType = "get_channel_history"
	FrameGetDMHistory      FrameType = "get_dm_history"
	FrameGetHistory        FrameType = "get_history"

	// Server -> client.
	FrameAuthSuccess       FrameType = "auth_success"
	FrameAuthError         FrameType = "auth_error"
	FrameTwoFactorRequired FrameType = "2fa_required"
	FrameInit              FrameType = "init"
	FrameDataSynced        FrameType = "data_synced"
	FrameMessage           FrameType = "message"
	FrameChannelHistory    FrameType = "channel_history"
	FrameDMHistory         FrameType = "dm_history"
	FrameHistory           FrameType = "history"
	FrameMessageEdited     FrameType = "message_edited"
	FrameMessageDeleted    FrameType = "message_deleted"
	FrameReactionAdded     FrameType = "reaction_added"
	FrameReactionRemoved   FrameType = "reaction_removed"
	FrameError             FrameType = "error"
)

// Frame is one unit on the wire. All fields besides Type are optional and
// populated per frame type.
type Frame struct {
	Type FrameType `json:"type"`

	// Authentication.
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
	TOTP     string `json:"totp,omitempty"`
	Token    string `json:"token,omitempty"`

	// auth_error / error.
	Message string `json:"message,omitempty"`

	// Message push and send.
	ID          int64         `json:"id,omitempty"`
	Content     string        `json:"content,omitempty"`
	Timestamp   int64         `json:"timestamp,omitempty"`
	ContextTag  string        `json:"context,omitempty"`
	ContextID   int64         `json:"context_id,omitempty"`
	Mentions    []string      `json:"mentions,omitempty"`
	ReplyTo     *ReplySummary `json:"reply_to,omitempty"`
	Attachments []Attachment  `json:"attachments,omitempty"`

	// History requests and pages.
	ServerID  int64           `json:"server_id,omitempty"`
	ChannelID int64           `json:"channel_id,omitempty"`
	DMID      int64           `json:"dm_id,omitempty"`
	Messages  []MessageRecord `json:"messages,omitempty"`

	// Edit / delete / reaction events.
	MessageID int64      `json:"message_id,omitempty"`
	EditedAt  int64      `json:"edited_at,omitempty"`
	Reactions []Reaction `json:"reactions,omitempty"`

	// init / data_synced snapshots.
	Users []User  `json:"users,omitempty"`
	Emoji []Emoji `json:"emoji,omitempty"`
}

// MessageContext derives the conversation scope a message frame targets.
func (f *Frame) MessageContext() Context {
	switch ContextTag(f.ContextTag) {
	case ContextChannel:
		return ChannelContext(f.ServerID, f.ContextID)
	case ContextDM:
		return DMContext(f.ContextID)
	default:
		return GlobalContext()
	}
}

// Record converts a message frame into a store record. Absent optional
// fields keep their zero values so a sparse frame never fails dispatch.
func (f *Frame) Record() MessageRecord {
	return MessageRecord{
		ID:          f.ID,
		Username:    f.Username,
		Content:     f.Content,
		Timestamp:   f.Timestamp,
		Attachments: f.Attachments,
		Reactions:   f.Reactions,
		ReplyTo:     f.ReplyTo,
		Context:     f.MessageContext(),
	}
}

// HistoryRequest builds the history frame for a context; the server never
// pushes missed history, so this is re-sent after every reconnect.
func HistoryRequest(ctx Context) Frame {
	switch ctx.Tag {
	case ContextChannel:
		return Frame{Type: FrameGetChannelHistory, ServerID: ctx.ServerID, ChannelID: ctx.ChannelID}
	case ContextDM:
		return Frame{Type: FrameGetDMHistory, DMID: ctx.DMID}
	default:
		return Frame{Type: FrameGetHistory}
	}
}

// HistoryContext derives the conversation scope of a history page frame.
func (f *Frame) HistoryContext() Context {
	switch f.Type {
	case FrameChannelHistory:
		return ChannelContext(f.ServerID, f.ChannelID)
	case FrameDMHistory:
		return DMContext(f.DMID)
	default:
		return GlobalContext()
	}
}
