package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"parley/internal/client"
	"parley/internal/models"
	"parley/internal/session"
	"parley/internal/sessionstore"
	"parley/internal/store"
	"parley/internal/upload"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

// Minimal valid PNG header recognized by h2non/filetype.
var testPNG = []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A, 0, 0, 0, 0}

// fakeServer is an in-process stand-in for the chat server: a websocket
// endpoint speaking the frame protocol plus the upload side channel.
type fakeServer struct {
	mux      *http.ServeMux
	upgrader websocket.Upgrader

	mu         sync.Mutex
	conn       *websocket.Conn
	token      string
	nextID     int64
	history    map[models.Context][]models.MessageRecord
	handshakes []models.FrameType
	uploads    []int64
}

func newFakeServer() *fakeServer {
	s := &fakeServer{
		mux:     http.NewServeMux(),
		nextID:  2,
		history: map[models.Context][]models.MessageRecord{},
	}
	s.history[models.ChannelContext(1, 2)] = []models.MessageRecord{
		{ID: 1, Username: "bob", Content: "welcome", Timestamp: 1000},
	}
	s.mux.HandleFunc("/ws", s.handleWS)
	s.mux.HandleFunc("/api/upload-attachment", s.handleUpload)
	return s
}

func (s *fakeServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *fakeServer) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer func() { _ = conn.Close() }()

	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()

	for {
		var f models.Frame
		if err := conn.ReadJSON(&f); err != nil {
			return
		}
		s.handleFrame(conn, f)
	}
}

func (s *fakeServer) handleFrame(conn *websocket.Conn, f models.Frame) {
	switch f.Type {
	case models.FrameLogin:
		s.mu.Lock()
		s.handshakes = append(s.handshakes, f.Type)
		s.token = "session-token-1"
		token := s.token
		s.mu.Unlock()
		if f.Username != "alice" || f.Password != "hunter2" {
			s.write(conn, models.Frame{Type: models.FrameAuthError, Message: "bad credentials"})
			return
		}
		s.write(conn, models.Frame{Type: models.FrameAuthSuccess, Token: token, Username: "alice"})
		s.sendInit(conn)

	case models.FrameToken:
		s.mu.Lock()
		s.handshakes = append(s.handshakes, f.Type)
		ok := f.Token == s.token && s.token != ""
		token := s.token
		s.mu.Unlock()
		if !ok {
			s.write(conn, models.Frame{Type: models.FrameAuthError, Message: "token expired"})
			return
		}
		s.write(conn, models.Frame{Type: models.FrameAuthSuccess, Token: token, Username: "alice"})
		s.sendInit(conn)

	case models.FrameGetChannelHistory:
		ctx := models.ChannelContext(f.ServerID, f.ChannelID)
		s.mu.Lock()
		page := append([]models.MessageRecord(nil), s.history[ctx]...)
		s.mu.Unlock()
		s.write(conn, models.Frame{
			Type: models.FrameChannelHistory, ServerID: f.ServerID, ChannelID: f.ChannelID,
			Messages: page,
		})

	case models.FrameGetDMHistory:
		ctx := models.DMContext(f.DMID)
		s.mu.Lock()
		page := append([]models.MessageRecord(nil), s.history[ctx]...)
		s.mu.Unlock()
		s.write(conn, models.Frame{Type: models.FrameDMHistory, DMID: f.DMID, Messages: page})

	case models.FrameGetHistory:
		s.mu.Lock()
		page := append([]models.MessageRecord(nil), s.history[models.GlobalContext()]...)
		s.mu.Unlock()
		s.write(conn, models.Frame{Type: models.FrameHistory, Messages: page})

	case models.FrameSendMessage:
		ctx := f.MessageContext()
		s.mu.Lock()
		id := s.nextID
		s.nextID++
		rec := models.MessageRecord{ID: id, Username: "alice", Content: f.Content, Timestamp: time.Now().Unix()}
		s.history[ctx] = append(s.history[ctx], rec)
		s.mu.Unlock()
		s.write(conn, models.Frame{
			Type: models.FrameMessage, ID: id, Username: "alice", Content: f.Content,
			Timestamp: rec.Timestamp, ContextTag: f.ContextTag, ServerID: f.ServerID, ContextID: f.ContextID,
		})
	}
}

func (s *fakeServer) sendInit(conn *websocket.Conn) {
	s.write(conn, models.Frame{
		Type:  models.FrameInit,
		Users: []models.User{{Username: "alice"}, {Username: "bob"}},
		Emoji: []models.Emoji{{Name: "blob", URL: "/emoji/blob.png"}},
	})
}

func (s *fakeServer) write(conn *websocket.Conn, f models.Frame) {
	_ = conn.WriteJSON(f)
}

func (s *fakeServer) handleUpload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(1 << 20); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.mu.Lock()
	token := s.token
	s.mu.Unlock()
	if r.FormValue("token") != token {
		_, _ = fmt.Fprint(w, `{"success": false, "error": "invalid token"}`)
		return
	}

	var messageID int64
	_, _ = fmt.Sscanf(r.FormValue("message_id"), "%d", &messageID)
	_, header, err := r.FormFile("file")
	if err != nil {
		_, _ = fmt.Fprint(w, `{"success": false, "error": "missing file"}`)
		return
	}

	s.mu.Lock()
	s.uploads = append(s.uploads, messageID)
	s.mu.Unlock()

	_, _ = fmt.Fprintf(w,
		`{"success": true, "attachment": {"attachment_id": 500, "filename": %q, "file_size": %d}}`,
		header.Filename, header.Size)
}

// dropActive closes the current websocket from the server side, simulating
// a transport-level loss.
func (s *fakeServer) dropActive() {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
}

func (s *fakeServer) handshakeTypes() []models.FrameType {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.FrameType(nil), s.handshakes...)
}

func TestIntegration(t *testing.T) {
	fake := newFakeServer()
	srv := httptest.NewServer(fake)
	defer srv.Close()

	sessions, err := sessionstore.Open(filepath.Join(t.TempDir(), "parley.db"))
	require.NoError(t, err)
	defer func() { _ = sessions.Close() }()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	manager := session.NewManager(session.Config{
		URL:      "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws",
		Sessions: sessions,
		Backoff:  func(int) time.Duration { return 10 * time.Millisecond },
		Logger:   logger,
	})
	defer manager.Teardown()

	messages := store.New()
	chat := client.New(client.Config{
		Conn:     manager,
		Store:    messages,
		Uploads:  upload.New(srv.URL),
		Contexts: sessions,
		Logger:   logger,
	})
	defer chat.Close()

	// Step 1: Authenticate with credentials; the frame is queued until the
	// transport opens, then the handshake completes.
	require.NoError(t, manager.Authenticate("alice", "hunter2", ""))
	require.Eventually(t, func() bool {
		return manager.State() == models.StateConnected
	}, 2*time.Second, 10*time.Millisecond, "never reached connected")

	sess := manager.Session()
	require.Equal(t, "alice", sess.Username)
	require.Equal(t, "session-token-1", sess.Token)

	// The init snapshot fills the lookup tables.
	require.Eventually(t, func() bool {
		_, known := messages.User("bob")
		return known
	}, 2*time.Second, 10*time.Millisecond, "init snapshot never applied")

	// Step 2: Select a channel; its history page replaces the bucket.
	channel := models.ChannelContext(1, 2)
	chat.SelectContext(channel)
	require.Eventually(t, func() bool {
		return messages.Len(channel) == 1
	}, 2*time.Second, 10*time.Millisecond, "history never arrived")
	require.Equal(t, "welcome", messages.Messages(channel)[0].Content)

	// Step 3: Send a message with a file. The send correlates with the
	// server-assigned id, then the upload attaches to that id.
	err = chat.SendMessageWithFiles(context.Background(), "here you go", []client.File{
		{Name: "cat.png", Data: testPNG},
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		msgs := messages.Messages(channel)
		return len(msgs) == 2 && msgs[1].ID != 0 && len(msgs[1].Attachments) == 1
	}, 2*time.Second, 10*time.Millisecond, "sent message never acknowledged with attachment")

	msgs := messages.Messages(channel)
	require.Equal(t, "cat.png", msgs[1].Attachments[0].Filename)

	fake.mu.Lock()
	uploaded := append([]int64(nil), fake.uploads...)
	fake.mu.Unlock()
	require.Equal(t, []int64{msgs[1].ID}, uploaded)

	// Step 4: Session and selected context were persisted.
	saved, savedCtx, err := sessions.Load()
	require.NoError(t, err)
	require.Equal(t, "session-token-1", saved.Token)
	require.Equal(t, channel, savedCtx)

	// Step 5: Drop the transport. A message lands server-side while the
	// client is offline; only the history re-fetch after reconnect can
	// recover it, because the server never pushes what was missed.
	fake.mu.Lock()
	fake.history[channel] = append(fake.history[channel],
		models.MessageRecord{ID: 99, Username: "bob", Content: "missed anything?", Timestamp: 2000})
	fake.mu.Unlock()

	fake.dropActive()
	require.Eventually(t, func() bool {
		return manager.State() == models.StateConnected
	}, 2*time.Second, 10*time.Millisecond, "never reconnected after drop")

	require.Eventually(t, func() bool {
		return messages.Len(channel) == 3
	}, 2*time.Second, 10*time.Millisecond, "history not re-fetched after reconnect")
	refreshed := messages.Messages(channel)
	require.Equal(t, "missed anything?", refreshed[2].Content)

	types := fake.handshakeTypes()
	require.GreaterOrEqual(t, len(types), 2)
	require.Equal(t, models.FrameLogin, types[0])
	require.Equal(t, models.FrameToken, types[len(types)-1])
}
