// ABOUTME: HTTP and websocket surface for the funnel board frontend
// ABOUTME: Upload endpoint plus a websocket command loop mirroring the board's event contract

package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/sendero/funnel-gateway/internal/config"
	"github.com/sendero/funnel-gateway/internal/conversation"
	"github.com/sendero/funnel-gateway/internal/events"
	"github.com/sendero/funnel-gateway/internal/session"
	"github.com/sendero/funnel-gateway/internal/store"
)

// writeTimeout bounds each websocket write so one dead client can't stall
// its writer goroutine forever.
const writeTimeout = 10 * time.Second

// outboundBufferSize is the per-connection merged event buffer.
const outboundBufferSize = 128

// Server is the outward-facing HTTP/websocket API.
type Server struct {
	manager *session.Manager
	bus     *events.Broadcaster
	uploads config.UploadsConfig
	logger  *slog.Logger
}

// NewServer creates the API server.
func NewServer(manager *session.Manager, bus *events.Broadcaster, uploads config.UploadsConfig, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		manager: manager,
		bus:     bus,
		uploads: uploads,
		logger:  logger.With("component", "api"),
	}
}

// Router builds the chi router for the server.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Post("/upload", s.handleUpload)
	r.Get("/ws", s.handleWS)

	return r
}

type uploadResponse struct {
	Success      bool   `json:"success"`
	FilePath     string `json:"filePath,omitempty"`
	OriginalName string `json:"originalName,omitempty"`
	MimeType     string `json:"mimeType,omitempty"`
	Size         int64  `json:"size,omitempty"`
	IsImage      bool   `json:"isImage,omitempty"`
	Error        string `json:"error,omitempty"`
}

// handleUpload stores one multipart file for a later send_image or
// send_document command. Files land under the configured uploads dir with a
// generated name; the original name survives in the response only.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.uploads.MaxSizeBytes)

	file, header, err := r.FormFile("file")
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, &uploadResponse{Error: "no file provided"})
		return
	}
	defer file.Close()

	if err := os.MkdirAll(s.uploads.Dir, 0o755); err != nil {
		s.logger.Error("failed to create uploads dir", "dir", s.uploads.Dir, "error", err)
		s.writeJSON(w, http.StatusInternalServerError, &uploadResponse{Error: "upload storage unavailable"})
		return
	}

	ext := filepath.Ext(header.Filename)
	name := fmt.Sprintf("%d-%s%s", time.Now().UnixMilli(), uuid.New().String()[:8], ext)
	destPath := filepath.Join(s.uploads.Dir, name)

	dest, err := os.Create(destPath)
	if err != nil {
		s.logger.Error("failed to create upload file", "path", destPath, "error", err)
		s.writeJSON(w, http.StatusInternalServerError, &uploadResponse{Error: "upload storage unavailable"})
		return
	}
	defer dest.Close()

	size, err := dest.ReadFrom(file)
	if err != nil {
		_ = os.Remove(destPath)
		s.writeJSON(w, http.StatusRequestEntityTooLarge, &uploadResponse{Error: "upload failed or too large"})
		return
	}

	mimeType := header.Header.Get("Content-Type")
	if mimeType == "" {
		mimeType = mime.TypeByExtension(ext)
	}

	s.logger.Info("file uploaded", "path", destPath, "size", size)
	s.writeJSON(w, http.StatusOK, &uploadResponse{
		Success:      true,
		FilePath:     destPath,
		OriginalName: header.Filename,
		MimeType:     mimeType,
		Size:         size,
		IsImage:      strings.HasPrefix(mimeType, "image/"),
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Debug("failed to write response", "error", err)
	}
}

// command is one inbound websocket message from the board.
type command struct {
	Action string          `json:"action"`
	Data   json.RawMessage `json:"data"`
}

// initPayload is the init event sent once per connection.
type initPayload struct {
	Sessions []*session.Status `json:"sessions"`
}

// sentPayload acknowledges a manual or media send on the issuing socket.
type sentPayload struct {
	SessionID string `json:"sessionId"`
	ChatID    string `json:"chatId"`
	Success   bool   `json:"success"`
	MediaType string `json:"type,omitempty"`
	Error     string `json:"error,omitempty"`
}

// buttonsPayload answers get_session_buttons.
type buttonsPayload struct {
	SessionID string          `json:"sessionId"`
	Buttons   []*store.Button `json:"buttons"`
}

// handleWS runs one board client connection: an init snapshot, then a merged
// stream of broadcast events and per-socket command replies, while the read
// loop dispatches commands.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		s.logger.Debug("websocket accept failed", "error", err)
		return
	}
	defer conn.Close(websocket.StatusInternalError, "connection closed")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	c := &client{
		conn:   conn,
		out:    make(chan *events.Event, outboundBufferSize),
		server: s,
		logger: s.logger.With("remote", r.RemoteAddr),
	}

	sub, subID := s.bus.Subscribe(ctx)
	defer s.bus.Unsubscribe(subID)

	go c.writeLoop(ctx)
	go func() {
		for ev := range sub {
			c.send(ev)
		}
	}()

	c.send(&events.Event{Type: events.TypeInit, Data: &initPayload{
		Sessions: s.manager.Statuses(ctx),
	}})

	c.readLoop(ctx)
}

// client is one connected board socket.
type client struct {
	conn   *websocket.Conn
	out    chan *events.Event
	server *Server
	logger *slog.Logger
}

// send queues an event for the writer, dropping it if the client is stalled.
func (c *client) send(ev *events.Event) {
	select {
	case c.out <- ev:
	default:
		c.logger.Debug("dropped event for slow client", "event", ev.Type)
	}
}

func (c *client) sendError(format string, args ...any) {
	c.send(&events.Event{
		Type: events.TypeError,
		Data: &events.ErrorData{Message: fmt.Sprintf(format, args...)},
	})
}

func (c *client) writeLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-c.out:
			data, err := json.Marshal(ev)
			if err != nil {
				c.logger.Debug("failed to marshal event", "event", ev.Type, "error", err)
				continue
			}
			writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
			err = c.conn.Write(writeCtx, websocket.MessageText, data)
			cancel()
			if err != nil {
				return
			}
		}
	}
}

func (c *client) readLoop(ctx context.Context) {
	for {
		_, data, err := c.conn.Read(ctx)
		if err != nil {
			return
		}

		var cmd command
		if err := json.Unmarshal(data, &cmd); err != nil {
			c.sendError("malformed command")
			continue
		}
		c.dispatch(ctx, &cmd)
	}
}

func (c *client) dispatch(ctx context.Context, cmd *command) {
	switch cmd.Action {
	case "create_session":
		c.createSession(ctx, cmd.Data)
	case "delete_session":
		c.deleteSession(ctx, cmd.Data)
	case "get_conversations":
		c.getConversations(cmd.Data)
	case "send_manual_message":
		c.sendManualMessage(ctx, cmd.Data)
	case "update_conversation_stage":
		c.updateStage(cmd.Data)
	case "send_image":
		c.sendMedia(ctx, cmd.Data, "image")
	case "send_document":
		c.sendMedia(ctx, cmd.Data, "document")
	case "send_button_message":
		c.sendButtonMessage(ctx, cmd.Data)
	case "get_session_buttons":
		c.getButtons(ctx, cmd.Data)
	case "save_session_buttons":
		c.saveButtons(ctx, cmd.Data)
	case "delete_session_button":
		c.deleteButton(ctx, cmd.Data)
	case "update_session_config":
		c.updateConfig(ctx, cmd.Data)
	case "toggle_bot":
		c.toggleBot(ctx, cmd.Data)
	default:
		c.sendError("unknown action %q", cmd.Action)
	}
}

func (c *client) decode(data json.RawMessage, v any) bool {
	if err := json.Unmarshal(data, v); err != nil {
		c.sendError("malformed command payload")
		return false
	}
	return true
}

func (c *client) createSession(ctx context.Context, data json.RawMessage) {
	var req struct {
		ID string `json:"id"`
	}
	if !c.decode(data, &req) {
		return
	}
	if err := c.server.manager.Create(ctx, req.ID); err != nil {
		c.sendError("failed to create session: %v", err)
	}
}

func (c *client) deleteSession(ctx context.Context, data json.RawMessage) {
	var req struct {
		ID string `json:"id"`
	}
	if !c.decode(data, &req) {
		return
	}
	if err := c.server.manager.Delete(ctx, req.ID); err != nil {
		c.sendError("failed to delete session: %v", err)
	}
}

func (c *client) getConversations(data json.RawMessage) {
	var req struct {
		ID string `json:"id"`
	}
	if !c.decode(data, &req) {
		return
	}
	c.send(&events.Event{Type: events.TypeConversations, Data: &conversation.ConversationList{
		ID:            req.ID,
		SessionID:     req.ID,
		Conversations: c.server.manager.Conversations(req.ID),
	}})
}

func (c *client) sendManualMessage(ctx context.Context, data json.RawMessage) {
	var req struct {
		ID     string `json:"id"`
		ChatID string `json:"chatId"`
		Text   string `json:"text"`
	}
	if !c.decode(data, &req) {
		return
	}
	if err := c.server.manager.SendText(ctx, req.ID, req.ChatID, req.Text); err != nil {
		c.sendError("failed to send message: %v", err)
		c.send(&events.Event{Type: events.TypeMessageSent, Data: &sentPayload{SessionID: req.ID, ChatID: req.ChatID}})
		return
	}
	c.send(&events.Event{Type: events.TypeMessageSent, Data: &sentPayload{SessionID: req.ID, ChatID: req.ChatID, Success: true}})
}

func (c *client) updateStage(data json.RawMessage) {
	var req struct {
		ID     string      `json:"id"`
		ChatID string      `json:"chatId"`
		Stage  store.Stage `json:"stage"`
	}
	if !c.decode(data, &req) {
		return
	}
	if err := c.server.manager.SetStage(req.ID, req.ChatID, req.Stage); err != nil {
		if errors.Is(err, conversation.ErrInvalidStage) {
			c.sendError("invalid stage %q", req.Stage)
			return
		}
		c.sendError("failed to update stage: %v", err)
	}
}

func (c *client) sendMedia(ctx context.Context, data json.RawMessage, mediaType string) {
	var req struct {
		ID       string `json:"id"`
		ChatID   string `json:"chatId"`
		FilePath string `json:"filePath"`
		FileName string `json:"fileName"`
		Caption  string `json:"caption"`
	}
	if !c.decode(data, &req) {
		return
	}
	err := c.server.manager.SendMedia(ctx, req.ID, req.ChatID, req.FilePath, mediaType, req.FileName, req.Caption)
	if err != nil {
		c.sendError("failed to send %s: %v", mediaType, err)
		c.send(&events.Event{Type: events.TypeMediaSent, Data: &sentPayload{
			SessionID: req.ID,
			ChatID:    req.ChatID,
			MediaType: mediaType,
			Error:     err.Error(),
		}})
		return
	}
	c.send(&events.Event{Type: events.TypeMediaSent, Data: &sentPayload{
		SessionID: req.ID,
		ChatID:    req.ChatID,
		Success:   true,
		MediaType: mediaType,
	}})
}

func (c *client) sendButtonMessage(ctx context.Context, data json.RawMessage) {
	var req struct {
		ID      string          `json:"id"`
		ChatID  string          `json:"chatId"`
		Title   string          `json:"title"`
		Text    string          `json:"text"`
		Footer  string          `json:"footer"`
		Buttons []*store.Button `json:"buttons"`
	}
	if !c.decode(data, &req) {
		return
	}
	err := c.server.manager.SendButtons(ctx, req.ID, req.ChatID, req.Title, req.Text, req.Footer, req.Buttons)
	if err != nil {
		c.sendError("failed to send button message: %v", err)
		return
	}
	c.send(&events.Event{Type: events.TypeButtonMessageSent, Data: &sentPayload{SessionID: req.ID, ChatID: req.ChatID, Success: true}})
}

func (c *client) getButtons(ctx context.Context, data json.RawMessage) {
	var req struct {
		ID string `json:"id"`
	}
	if !c.decode(data, &req) {
		return
	}
	buttons, err := c.server.manager.Buttons(ctx, req.ID)
	if err != nil {
		c.sendError("failed to load buttons: %v", err)
		return
	}
	c.send(&events.Event{Type: events.TypeSessionButtons, Data: &buttonsPayload{
		SessionID: req.ID,
		Buttons:   buttons,
	}})
}

func (c *client) saveButtons(ctx context.Context, data json.RawMessage) {
	var req struct {
		ID      string          `json:"id"`
		Buttons []*store.Button `json:"buttons"`
	}
	if !c.decode(data, &req) {
		return
	}
	for _, b := range req.Buttons {
		if b.ID == "" {
			b.ID = "btn-" + uuid.New().String()[:8]
		}
	}
	if err := c.server.manager.SaveButtons(ctx, req.ID, req.Buttons); err != nil {
		c.sendError("failed to save buttons: %v", err)
	}
}

func (c *client) deleteButton(ctx context.Context, data json.RawMessage) {
	var req struct {
		ID       string `json:"id"`
		ButtonID string `json:"buttonId"`
	}
	if !c.decode(data, &req) {
		return
	}
	if err := c.server.manager.DeleteButton(ctx, req.ID, req.ButtonID); err != nil {
		c.sendError("failed to delete button: %v", err)
	}
}

func (c *client) updateConfig(ctx context.Context, data json.RawMessage) {
	var req struct {
		ID            string  `json:"id"`
		ModelProvider string  `json:"modelProvider"`
		ModelName     string  `json:"modelName"`
		SystemPrompt  *string `json:"systemPrompt"`
		APIKey        string  `json:"apiKey"`
	}
	if !c.decode(data, &req) {
		return
	}
	err := c.server.manager.UpdateConfig(ctx, req.ID, session.ConfigUpdate{
		ModelProvider: req.ModelProvider,
		ModelName:     req.ModelName,
		SystemPrompt:  req.SystemPrompt,
		APIKey:        req.APIKey,
	})
	if err != nil {
		c.sendError("failed to update config: %v", err)
	}
}

func (c *client) toggleBot(ctx context.Context, data json.RawMessage) {
	var req struct {
		ID            string  `json:"id"`
		Enabled       bool    `json:"enabled"`
		ModelProvider string  `json:"modelProvider"`
		ModelName     string  `json:"modelName"`
		SystemPrompt  *string `json:"systemPrompt"`
		APIKey        string  `json:"apiKey"`
	}
	if !c.decode(data, &req) {
		return
	}
	err := c.server.manager.ToggleBot(ctx, req.ID, req.Enabled, session.ConfigUpdate{
		ModelProvider: req.ModelProvider,
		ModelName:     req.ModelName,
		SystemPrompt:  req.SystemPrompt,
		APIKey:        req.APIKey,
	})
	if err != nil {
		c.sendError("failed to toggle bot: %v", err)
	}
}
