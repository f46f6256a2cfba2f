// Package client ties the connection manager, the conversation store, the
// content pipeline and the upload side channel into one chat client. All
// inbound frames funnel through applyFrame on the manager's dispatch path,
// keeping the store single-writer.
package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"parley/internal/content"
	"parley/internal/links"
	"parley/internal/models"
	"parley/internal/notify"
	"parley/internal/store"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
)

// connection is the slice of the session manager the client needs; tests
// substitute a fake.
type connection interface {
	State() models.ConnState
	Session() models.Session
	Send(models.Frame) error
	CorrelateSend(ctx context.Context, send func() error) (int64, error)
	OnMessage(fn func(models.Frame)) func()
}

type uploader interface {
	UploadAttachment(ctx context.Context, token string, messageID int64, filename string, data []byte) (models.Attachment, error)
}

// contextSaver remembers the selected conversation across restarts.
type contextSaver interface {
	SaveContext(models.Context) error
}

type Config struct {
	Conn      connection
	Store     *store.Store
	Uploads   uploader
	Notifier  notify.Notifier
	Extractor *links.Extractor
	Contexts  contextSaver
	Logger    *slog.Logger
}

type Client struct {
	conn      connection
	store     *store.Store
	uploads   uploader
	notifier  notify.Notifier
	extractor *links.Extractor
	contexts  contextSaver
	logger    *slog.Logger

	histories singleflight.Group

	mu          sync.Mutex
	selected    models.Context
	unsubscribe func()
}

// File is one attachment candidate for SendMessage.
type File struct {
	Name string
	Data []byte
}

func New(cfg Config) *Client {
	if cfg.Notifier == nil {
		cfg.Notifier = notify.Nop{}
	}
	if cfg.Extractor == nil {
		cfg.Extractor = links.New()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	c := &Client{
		conn:      cfg.Conn,
		store:     cfg.Store,
		uploads:   cfg.Uploads,
		notifier:  cfg.Notifier,
		extractor: cfg.Extractor,
		contexts:  cfg.Contexts,
		logger:    cfg.Logger,
		selected:  models.GlobalContext(),
	}
	c.unsubscribe = cfg.Conn.OnMessage(c.applyFrame)
	return c
}

// Close detaches the client from the connection's event stream.
func (c *Client) Close() {
	if c.unsubscribe != nil {
		c.unsubscribe()
	}
}

// applyFrame routes one inbound frame to the store. It runs on the
// manager's dispatch path, strictly in arrival order. Unknown frame types
// are ignored for forward compatibility; known types with missing optional
// fields fall back to safe defaults.
func (c *Client) applyFrame(f models.Frame) {
	switch f.Type {
	case models.FrameAuthSuccess:
		// The server never pushes missed history; re-request the
		// selected context after every (re)authentication.
		c.requestHistory(c.Selected())

	case models.FrameMessage:
		rec := f.Record()
		c.store.Append(rec)
		if me := c.conn.Session().Username; rec.Username != me && me != "" {
			if err := c.notifier.Show(rec.Username, rec.Content); err != nil {
				c.logger.Warn("notification failed", "error", err)
			}
		}

	case models.FrameMessageEdited:
		c.store.ApplyEdit(f.MessageID, f.Content, f.EditedAt)

	case models.FrameMessageDeleted:
		c.store.ApplyDelete(f.MessageID)

	case models.FrameReactionAdded, models.FrameReactionRemoved:
		// The frame carries the authoritative full set; absent means empty.
		c.store.ApplyReactions(f.MessageID, f.Reactions)

	case models.FrameChannelHistory, models.FrameDMHistory, models.FrameHistory:
		c.store.ReplaceHistory(f.HistoryContext(), f.Messages)

	case models.FrameInit, models.FrameDataSynced:
		c.store.SetUsers(f.Users)
		c.store.SetEmoji(f.Emoji)
	}
}

// Selected returns the conversation currently in view.
func (c *Client) Selected() models.Context {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.selected
}

// SelectContext switches the viewed conversation and fetches its history.
func (c *Client) SelectContext(ctx models.Context) {
	c.mu.Lock()
	c.selected = ctx
	c.mu.Unlock()

	if c.contexts != nil {
		if err := c.contexts.SaveContext(ctx); err != nil {
			c.logger.Warn("persisting selected context failed", "error", err)
		}
	}
	c.requestHistory(ctx)
}

// requestHistory asks the server for a context's page, collapsing
// concurrent requests for the same context into one frame.
func (c *Client) requestHistory(ctx models.Context) {
	if c.conn.State() != models.StateConnected {
		return
	}
	_, _, _ = c.histories.Do(ctx.Key(), func() (any, error) {
		if err := c.conn.Send(models.HistoryRequest(ctx)); err != nil {
			c.logger.Warn("history request failed", "context", ctx.Key(), "error", err)
		}
		return nil, nil
	})
}

// SendMessage sends text to the selected conversation, appending an
// optimistic local record that the server's echo later acknowledges.
func (c *Client) SendMessage(text string) error {
	if c.conn.State() != models.StateConnected {
		return models.ErrNotConnected
	}

	target := c.Selected()
	c.store.Append(c.localRecord(target, text))

	f := models.Frame{Type: models.FrameSendMessage, Content: text}
	applyTarget(&f, target)
	return c.conn.Send(f)
}

// SendMessageWithFiles sends text, waits for the server-assigned id, then
// uploads each file and attaches the results. A failed upload surfaces its
// own error without rolling back the message or the other files.
func (c *Client) SendMessageWithFiles(ctx context.Context, text string, files []File) error {
	if c.conn.State() != models.StateConnected {
		return models.ErrNotConnected
	}

	target := c.Selected()
	c.store.Append(c.localRecord(target, text))

	f := models.Frame{Type: models.FrameSendMessage, Content: text}
	applyTarget(&f, target)

	id, err := c.conn.CorrelateSend(ctx, func() error { return c.conn.Send(f) })
	if err != nil {
		return fmt.Errorf("message was not acknowledged: %w", err)
	}

	token := c.conn.Session().Token
	var attachments []models.Attachment
	var failures []error
	for _, file := range files {
		att, err := c.uploads.UploadAttachment(ctx, token, id, file.Name, file.Data)
		if err != nil {
			c.logger.Warn("attachment upload failed", "filename", file.Name, "error", err)
			failures = append(failures, fmt.Errorf("%s: %w", file.Name, err))
			continue
		}
		attachments = append(attachments, att)
	}
	if len(attachments) > 0 {
		c.store.UpdateAttachments(id, attachments)
	}
	return errors.Join(failures...)
}

// Render produces the display structure for one message, resolving
// mentions and custom emoji against the store's tables.
func (c *Client) Render(text string) content.Rendered {
	return content.Render(text, c.extractor, content.Lookups{
		UserExists: func(name string) bool {
			_, ok := c.store.User(name)
			return ok
		},
		EmojiURL: c.store.EmojiURL,
	})
}

func (c *Client) localRecord(target models.Context, text string) models.MessageRecord {
	return models.MessageRecord{
		LocalID:   uuid.NewString(),
		Username:  c.conn.Session().Username,
		Content:   text,
		Timestamp: time.Now().Unix(),
		Context:   target,
	}
}

func applyTarget(f *models.Frame, ctx models.Context) {
	f.ContextTag = string(ctx.Tag)
	switch ctx.Tag {
	case models.ContextChannel:
		f.ServerID = ctx.ServerID
		f.ContextID = ctx.ChannelID
	case models.ContextDM:
		f.ContextID = ctx.DMID
	}
}
