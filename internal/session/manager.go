// ABOUTME: Manages session lifecycles, reconnects and the inbound message pipeline
// ABOUTME: Central coordinator owning the session and task-queue registries

package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sendero/funnel-gateway/internal/ai"
	"github.com/sendero/funnel-gateway/internal/config"
	"github.com/sendero/funnel-gateway/internal/conversation"
	"github.com/sendero/funnel-gateway/internal/events"
	"github.com/sendero/funnel-gateway/internal/queue"
	"github.com/sendero/funnel-gateway/internal/store"
	"github.com/sendero/funnel-gateway/internal/transport"
)

// ErrInvalidSessionID indicates an empty or malformed session id.
var ErrInvalidSessionID = errors.New("invalid session id")

// ErrSessionExists indicates a session with the same id is already live.
var ErrSessionExists = errors.New("session already exists")

// ErrSessionNotFound indicates the specified session is not live.
var ErrSessionNotFound = errors.New("session not found")

// ErrBotEnabled rejects manual sends while the bot is active. Manual and
// automatic replies are mutually exclusive per session.
var ErrBotEnabled = errors.New("bot is enabled; disable it to send manually")

// ErrMissingCredential rejects enabling the bot without an API key.
var ErrMissingCredential = errors.New("an API key is required to enable the bot")

// teardownTimeout bounds the graceful sign-out attempt during delete.
const teardownTimeout = 5 * time.Second

// Manager owns every live session and its task queue. Sessions are
// independent units of concurrency; the only shared mutable state is the
// two registries behind mu.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	queues   map[string]*queue.Queue

	dialer    transport.Dialer
	store     store.Store
	convs     *conversation.Service
	generator ai.Generator
	bus       *events.Broadcaster

	botCfg       config.BotConfig
	reconnectCfg config.ReconnectConfig
	logger       *slog.Logger
}

// NewManager creates a session manager. All collaborators are required.
func NewManager(
	dialer transport.Dialer,
	st store.Store,
	convs *conversation.Service,
	generator ai.Generator,
	bus *events.Broadcaster,
	cfg *config.Config,
	logger *slog.Logger,
) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		sessions:     make(map[string]*Session),
		queues:       make(map[string]*queue.Queue),
		dialer:       dialer,
		store:        st,
		convs:        convs,
		generator:    generator,
		bus:          bus,
		botCfg:       cfg.Bot,
		reconnectCfg: cfg.Reconnect,
		logger:       logger.With("component", "session"),
	}
}

// Status is the session_status event payload, part of the frontend contract.
type Status struct {
	ID            string              `json:"id"`
	Status        State               `json:"status"`
	User          *transport.Identity `json:"user"`
	BotEnabled    bool                `json:"botEnabled"`
	HasAPIKey     bool                `json:"hasApiKey"`
	ModelProvider string              `json:"modelProvider"`
	ModelName     string              `json:"modelName"`
	SystemPrompt  string              `json:"systemPrompt"`
}

// QR is the session_qr event payload. The pairing challenge is forwarded
// verbatim from the transport.
type QR struct {
	ID string `json:"id"`
	QR string `json:"qr"`
}

// Typing is the bot_typing event payload.
type Typing struct {
	ID     string `json:"id"`
	ChatID string `json:"chatId"`
	Typing bool   `json:"typing"`
}

// Deleted is the session_deleted event payload.
type Deleted struct {
	ID string `json:"id"`
}

// ButtonsUpdated is the session_buttons_updated event payload.
type ButtonsUpdated struct {
	SessionID string          `json:"sessionId"`
	Buttons   []*store.Button `json:"buttons"`
}

// ConfigUpdate is a partial session config change. Empty strings leave the
// corresponding field untouched; SystemPrompt is a pointer so it can be
// cleared explicitly.
type ConfigUpdate struct {
	ModelProvider string
	ModelName     string
	SystemPrompt  *string
	APIKey        string
}

// Create validates the id, brings up a new session and starts its lifecycle
// loop. Stored config and conversations are loaded first so a restart
// resumes where the process left off.
func (m *Manager) Create(ctx context.Context, id string) error {
	id = strings.TrimSpace(id)
	if id == "" || strings.ContainsAny(id, "/\\ ") {
		return ErrInvalidSessionID
	}

	cfg := store.BotConfig{}
	if stored, err := m.store.LoadConfig(ctx, id); err == nil {
		cfg = *stored
	} else if !errors.Is(err, store.ErrNotFound) {
		m.logger.Error("failed to load session config", "session_id", id, "error", err)
	}

	s := newSession(id, cfg)

	m.mu.Lock()
	if _, exists := m.sessions[id]; exists {
		m.mu.Unlock()
		s.cancel()
		return ErrSessionExists
	}
	m.sessions[id] = s
	m.mu.Unlock()

	m.convs.Load(ctx, id)

	m.logger.Info("session created", "session_id", id)
	go m.run(s)
	return nil
}

// Restore brings up every session with stored state. Used at startup.
func (m *Manager) Restore(ctx context.Context) {
	ids, err := m.store.ListSessions(ctx)
	if err != nil {
		m.logger.Error("failed to list stored sessions", "error", err)
		return
	}
	for _, id := range ids {
		if err := m.Create(ctx, id); err != nil && !errors.Is(err, ErrSessionExists) {
			m.logger.Error("failed to restore session", "session_id", id, "error", err)
		}
	}
}

// Get returns a live session, or nil.
func (m *Manager) Get(id string) *Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sessions[id]
}

// run is the per-session lifecycle loop: dial, consume transport events,
// and on transient closures reconnect in place with bounded exponential
// backoff. The loop exits on delete, on explicit logout, or when the
// session's durable credentials are gone.
func (m *Manager) run(s *Session) {
	attempts := 0
	backoff := m.reconnectCfg.InitialBackoff

	for {
		if s.deleting() {
			return
		}
		s.setState(StateConnecting)
		m.publishStatus(s.ID)

		t, err := m.dialer.Dial(s.ctx, s.ID)
		if err != nil {
			m.logger.Warn("transport dial failed", "session_id", s.ID, "error", err)
			if !m.waitReconnect(s, &attempts, &backoff) {
				return
			}
			continue
		}

		s.setTransport(t)
		attempts = 0
		backoff = m.reconnectCfg.InitialBackoff

		loggedOut, ended := m.consumeEvents(s, t)
		s.setTransport(nil)
		_ = t.Close()
		if ended {
			return
		}

		credsExist, err := m.store.CredentialsExist(context.Background(), s.ID)
		if err != nil {
			m.logger.Error("credential check failed", "session_id", s.ID, "error", err)
		}
		if loggedOut || !credsExist {
			m.finishDisconnect(s, true)
			return
		}

		m.logger.Info("transport closed, reconnecting", "session_id", s.ID)
		if !m.waitReconnect(s, &attempts, &backoff) {
			return
		}
	}
}

// waitReconnect sleeps out the current backoff. Returns false when the
// session was deleted while waiting or the attempt ceiling was reached.
func (m *Manager) waitReconnect(s *Session, attempts *int, backoff *time.Duration) bool {
	*attempts++
	if *attempts > m.reconnectCfg.MaxAttempts {
		m.logger.Warn("reconnect attempts exhausted", "session_id", s.ID, "attempts", *attempts-1)
		// The pairing is still valid; keep the stored credentials so a
		// recreated session resumes without a new scan.
		m.finishDisconnect(s, false)
		return false
	}

	timer := time.NewTimer(*backoff)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-s.ctx.Done():
		return false
	}

	*backoff *= 2
	if *backoff > m.reconnectCfg.MaxBackoff {
		*backoff = m.reconnectCfg.MaxBackoff
	}
	return true
}

// consumeEvents drains the transport event stream until the connection
// ends. Returns whether the closure was an explicit logout, and whether the
// lifecycle loop should end without reconnect consideration (delete).
func (m *Manager) consumeEvents(s *Session, t transport.Transport) (loggedOut, ended bool) {
	for {
		select {
		case <-s.ctx.Done():
			return false, true

		case ev, ok := <-t.Events():
			if !ok {
				return loggedOut, s.deleting()
			}
			switch ev.Type {
			case transport.EventPairing:
				s.setState(StateAwaitingScan)
				m.bus.Publish(events.TypeSessionQR, &QR{ID: s.ID, QR: ev.Pairing})

			case transport.EventConnected:
				s.setUser(ev.User)
				s.setState(StateConnected)
				m.logger.Info("session connected", "session_id", s.ID)
				m.publishStatus(s.ID)

			case transport.EventMessage:
				m.handleInbound(s, ev)

			case transport.EventClosed:
				loggedOut = ev.LoggedOut
				m.logger.Info("transport closed",
					"session_id", s.ID,
					"reason", ev.Reason,
					"logged_out", ev.LoggedOut)
				// The event channel closes right after; loop once more to
				// observe it.
			}
		}
	}
}

// finishDisconnect removes the live session and reports disconnected. No
// automatic action follows. Credentials are discarded only for logout-class
// closures; a reconnect budget running out leaves them in place.
func (m *Manager) finishDisconnect(s *Session, discardCreds bool) {
	if discardCreds {
		if err := m.store.DeleteCredentials(context.Background(), s.ID); err != nil {
			m.logger.Error("failed to discard credentials", "session_id", s.ID, "error", err)
		}
	}

	m.mu.Lock()
	delete(m.sessions, s.ID)
	q := m.queues[s.ID]
	delete(m.queues, s.ID)
	m.mu.Unlock()
	if q != nil {
		q.Close()
	}
	m.convs.Drop(s.ID)
	s.cancel()

	s.setState(StateDisconnected)
	cfg := s.Config()
	m.bus.Publish(events.TypeSessionStatus, &Status{
		ID:            s.ID,
		Status:        StateDisconnected,
		BotEnabled:    false,
		HasAPIKey:     false,
		ModelProvider: ai.NormalizeProvider(cfg.ModelProvider),
		ModelName:     ai.ResolveModel(cfg.ModelProvider, cfg.ModelName),
		SystemPrompt:  cfg.SystemPrompt,
	})
}

// handleInbound runs the inbound-message pipeline: filter, record, and when
// the bot is eligible, enqueue a reply task on the session's queue.
func (m *Manager) handleInbound(s *Session, ev transport.Event) {
	if s.State() != StateConnected {
		return
	}
	if ev.FromSelf {
		return
	}
	// Group and broadcast/status chats never create conversations and never
	// reach the task queue.
	if !transport.IsDirectChat(ev.ChatID) {
		return
	}
	if ev.Text == "" {
		return
	}

	title := ev.PushName
	if title == "" {
		title = ev.ChatID
	}

	// History for the generator is the state before this message arrives.
	rec := m.convs.Ensure(s.ID, ev.ChatID, title)
	history := rec.Recent(m.botCfg.HistoryLimit)

	m.convs.RecordInbound(s.ID, ev.ChatID, title, store.Message{
		ID:        ev.MessageID,
		Text:      ev.Text,
		Timestamp: time.Now(),
	})

	cfg := s.Config()
	if !cfg.BotEnabled || cfg.APIKey == "" {
		return
	}

	q := m.queueFor(s.ID)
	done := q.Submit(func(ctx context.Context) error {
		return m.replyTask(ctx, s, ev.ChatID, ev.Text, history)
	})
	go func() {
		if err := <-done; err != nil && !errors.Is(err, queue.ErrQueueClosed) {
			m.logger.Warn("bot reply failed",
				"session_id", s.ID,
				"chat_id", ev.ChatID,
				"error", err)
		}
	}()
}

// replyTask generates and delivers one bot reply. The typing signal is
// always cleared, and a failure or empty result drops the reply silently:
// no retry, nothing sent into the chat.
func (m *Manager) replyTask(ctx context.Context, s *Session, chatID, userText string, history []store.Message) error {
	m.bus.Publish(events.TypeBotTyping, &Typing{ID: s.ID, ChatID: chatID, Typing: true})
	defer m.bus.Publish(events.TypeBotTyping, &Typing{ID: s.ID, ChatID: chatID, Typing: false})

	cfg := s.Config()
	genCtx, cancel := context.WithTimeout(ctx, m.botCfg.RequestTimeout)
	reply, err := m.generator.Generate(genCtx, &ai.Request{
		Provider:     cfg.ModelProvider,
		Model:        cfg.ModelName,
		APIKey:       cfg.APIKey,
		SystemPrompt: cfg.SystemPrompt,
		History:      history,
		UserText:     userText,
	})
	cancel()

	if err != nil {
		return fmt.Errorf("generating reply: %w", err)
	}

	// The session may have been deleted while the provider call was in
	// flight; discard the result rather than resurrect its state.
	if m.Get(s.ID) != s || s.deleting() {
		m.logger.Debug("discarding reply for removed session", "session_id", s.ID)
		return nil
	}

	t := s.Transport()
	if t == nil {
		return fmt.Errorf("no live transport for session %s", s.ID)
	}
	if err := t.Send(ctx, chatID, transport.Content{Text: reply}); err != nil {
		return fmt.Errorf("sending reply: %w", err)
	}

	m.convs.RecordOutbound(s.ID, chatID, store.Message{
		ID:        "bot-" + uuid.New().String(),
		Text:      reply,
		Timestamp: time.Now(),
	})
	return nil
}

// queueFor returns the session's task queue, creating it lazily.
func (m *Manager) queueFor(id string) *queue.Queue {
	m.mu.Lock()
	defer m.mu.Unlock()
	q, ok := m.queues[id]
	if !ok {
		q = queue.New(m.botCfg.Cooldown, m.logger)
		m.queues[id] = q
	}
	return q
}

// SendText delivers an operator-authored message. Rejected while the bot is
// enabled.
func (m *Manager) SendText(ctx context.Context, sessionID, chatID, text string) error {
	if sessionID == "" || chatID == "" || text == "" {
		return ErrInvalidSessionID
	}
	s := m.Get(sessionID)
	if s == nil {
		return ErrSessionNotFound
	}
	if s.Config().BotEnabled {
		return ErrBotEnabled
	}
	t := s.Transport()
	if t == nil {
		return ErrSessionNotFound
	}

	if err := t.Send(ctx, chatID, transport.Content{Text: text}); err != nil {
		return fmt.Errorf("sending message: %w", err)
	}

	m.convs.RecordOutbound(sessionID, chatID, store.Message{
		ID:        "manual-" + uuid.New().String(),
		Text:      text,
		Timestamp: time.Now(),
	})
	return nil
}

// SendMedia delivers an uploaded file as an image or document and removes
// the upload afterwards, success or not.
func (m *Manager) SendMedia(ctx context.Context, sessionID, chatID, filePath, mediaType, fileName, caption string) error {
	defer m.cleanupUpload(filePath)

	if sessionID == "" || chatID == "" || filePath == "" {
		return ErrInvalidSessionID
	}
	s := m.Get(sessionID)
	if s == nil {
		return ErrSessionNotFound
	}
	t := s.Transport()
	if t == nil {
		return ErrSessionNotFound
	}

	data, err := os.ReadFile(filePath)
	if err != nil {
		return fmt.Errorf("reading upload: %w", err)
	}

	mimeType := mime.TypeByExtension(filepath.Ext(filePath))
	if mimeType == "" {
		if mediaType == "image" {
			mimeType = "image/jpeg"
		} else {
			mimeType = "application/octet-stream"
		}
	}
	if fileName == "" {
		fileName = filepath.Base(filePath)
	}

	err = t.Send(ctx, chatID, transport.Content{
		Media:     data,
		MediaType: mediaType,
		MimeType:  mimeType,
		FileName:  fileName,
		Caption:   caption,
	})
	if err != nil {
		return fmt.Errorf("sending %s: %w", mediaType, err)
	}

	text := "Document: " + fileName
	if mediaType == "image" {
		text = "Image sent"
		if caption != "" {
			text = "Image: " + caption
		}
	}
	m.convs.RecordOutbound(sessionID, chatID, store.Message{
		ID:        mediaType + "-" + uuid.New().String(),
		Text:      text,
		Timestamp: time.Now(),
	})
	return nil
}

func (m *Manager) cleanupUpload(filePath string) {
	if filePath == "" {
		return
	}
	if err := os.Remove(filePath); err != nil && !os.IsNotExist(err) {
		m.logger.Warn("failed to remove upload", "path", filePath, "error", err)
	}
}

// SendButtons delivers an interactive quick-reply message.
func (m *Manager) SendButtons(ctx context.Context, sessionID, chatID, title, body, footer string, buttons []*store.Button) error {
	if sessionID == "" || chatID == "" || len(buttons) == 0 {
		return ErrInvalidSessionID
	}
	s := m.Get(sessionID)
	if s == nil {
		return ErrSessionNotFound
	}
	t := s.Transport()
	if t == nil {
		return ErrSessionNotFound
	}

	content := transport.Content{Title: title, Text: body, Footer: footer}
	labels := make([]string, 0, len(buttons))
	for _, b := range buttons {
		btnType := b.Type
		if btnType == "" {
			btnType = "quick_reply"
		}
		content.Buttons = append(content.Buttons, transport.Button{ID: b.ID, Text: b.Text, Type: btnType})
		labels = append(labels, b.Text)
	}

	if err := t.Send(ctx, chatID, content); err != nil {
		return fmt.Errorf("sending button message: %w", err)
	}

	heading := title
	if heading == "" {
		heading = body
	}
	m.convs.RecordOutbound(sessionID, chatID, store.Message{
		ID:        "btn-" + uuid.New().String(),
		Text:      "Button message: " + heading + " [" + strings.Join(labels, ", ") + "]",
		Timestamp: time.Now(),
	})
	return nil
}

// Buttons returns the stored quick-reply button set for a session.
func (m *Manager) Buttons(ctx context.Context, sessionID string) ([]*store.Button, error) {
	return m.store.LoadButtons(ctx, sessionID)
}

// SaveButtons replaces the stored button set and notifies all clients.
func (m *Manager) SaveButtons(ctx context.Context, sessionID string, buttons []*store.Button) error {
	if sessionID == "" {
		return ErrInvalidSessionID
	}
	if err := m.store.SaveButtons(ctx, sessionID, buttons); err != nil {
		return fmt.Errorf("saving buttons: %w", err)
	}
	m.bus.Publish(events.TypeSessionButtonsUpd, &ButtonsUpdated{SessionID: sessionID, Buttons: buttons})
	return nil
}

// DeleteButton removes one button from the stored set and notifies clients.
func (m *Manager) DeleteButton(ctx context.Context, sessionID, buttonID string) error {
	if sessionID == "" || buttonID == "" {
		return ErrInvalidSessionID
	}
	buttons, err := m.store.LoadButtons(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("loading buttons: %w", err)
	}
	kept := buttons[:0]
	for _, b := range buttons {
		if b.ID != buttonID {
			kept = append(kept, b)
		}
	}
	return m.SaveButtons(ctx, sessionID, kept)
}

// SetStage validates and applies a funnel stage change.
func (m *Manager) SetStage(sessionID, chatID string, stage store.Stage) error {
	if m.Get(sessionID) == nil {
		return ErrSessionNotFound
	}
	return m.convs.SetStage(sessionID, chatID, stage)
}

// Conversations returns board payloads for a session's conversations.
func (m *Manager) Conversations(sessionID string) []*conversation.Payload {
	return m.convs.List(sessionID, true)
}

// ToggleBot enables or disables the auto-responder, updating the rest of
// the config alongside. Enabling requires an API key.
func (m *Manager) ToggleBot(ctx context.Context, id string, enabled bool, upd ConfigUpdate) error {
	s := m.Get(id)
	if s == nil {
		return ErrSessionNotFound
	}

	cfg := applyUpdate(s.Config(), upd)

	if enabled && strings.TrimSpace(cfg.APIKey) == "" {
		cfg.BotEnabled = false
		s.setConfig(cfg)
		m.publishStatus(id)
		return ErrMissingCredential
	}

	cfg.BotEnabled = enabled
	s.setConfig(cfg)
	m.persistConfig(ctx, id, cfg)
	m.publishStatus(id)
	return nil
}

// UpdateConfig applies a partial config change without touching the bot
// toggle.
func (m *Manager) UpdateConfig(ctx context.Context, id string, upd ConfigUpdate) error {
	s := m.Get(id)
	if s == nil {
		return ErrSessionNotFound
	}

	cfg := applyUpdate(s.Config(), upd)
	s.setConfig(cfg)
	m.persistConfig(ctx, id, cfg)
	m.publishStatus(id)
	return nil
}

func applyUpdate(cfg store.BotConfig, upd ConfigUpdate) store.BotConfig {
	if upd.ModelProvider != "" {
		cfg.ModelProvider = upd.ModelProvider
	}
	cfg.ModelProvider = ai.NormalizeProvider(cfg.ModelProvider)
	if upd.ModelName != "" {
		cfg.ModelName = upd.ModelName
	}
	cfg.ModelName = ai.ResolveModel(cfg.ModelProvider, cfg.ModelName)
	if upd.SystemPrompt != nil {
		cfg.SystemPrompt = *upd.SystemPrompt
	}
	if key := strings.TrimSpace(upd.APIKey); key != "" {
		cfg.APIKey = key
	}
	return cfg
}

func (m *Manager) persistConfig(ctx context.Context, id string, cfg store.BotConfig) {
	if err := m.store.SaveConfig(ctx, id, &cfg); err != nil {
		m.logger.Error("failed to persist session config", "session_id", id, "error", err)
	}
}

// Delete tears a session down: graceful sign-out with forced close
// fallback, registry and queue removal, durable storage deletion. The
// deleting state is set before anything else so no transport event observed
// afterwards can trigger a reconnect.
func (m *Manager) Delete(ctx context.Context, id string) error {
	if strings.TrimSpace(id) == "" {
		return ErrInvalidSessionID
	}

	m.mu.Lock()
	s := m.sessions[id]
	delete(m.sessions, id)
	q := m.queues[id]
	delete(m.queues, id)
	m.mu.Unlock()

	if s != nil {
		// The transport is snapshotted and signed out before the session
		// context is cancelled; cancelling first lets the lifecycle loop
		// tear the transport down concurrently and skip the sign-out.
		s.markDeleting()

		if t := s.Transport(); t != nil {
			signCtx, cancel := context.WithTimeout(context.Background(), teardownTimeout)
			if err := t.SignOut(signCtx); err != nil {
				m.logger.Debug("graceful sign-out failed, forcing close", "session_id", id, "error", err)
			}
			cancel()
			_ = t.Close()
		}
		s.cancel()
	}

	if q != nil {
		q.Close()
	}
	m.convs.Drop(id)

	if err := m.store.DeleteSession(ctx, id); err != nil {
		m.logger.Error("failed to delete session storage", "session_id", id, "error", err)
	}

	m.logger.Info("session deleted", "session_id", id)
	m.bus.Publish(events.TypeSessionDeleted, &Deleted{ID: id})
	return nil
}

// Shutdown closes every live session's transport and queue without touching
// durable state. Used on process exit.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	queues := make([]*queue.Queue, 0, len(m.queues))
	for _, q := range m.queues {
		queues = append(queues, q)
	}
	m.sessions = make(map[string]*Session)
	m.queues = make(map[string]*queue.Queue)
	m.mu.Unlock()

	for _, s := range sessions {
		s.markDeleting()
		s.cancel()
		if t := s.Transport(); t != nil {
			_ = t.Close()
		}
	}
	for _, q := range queues {
		q.Close()
	}
}

// StatusOf builds the session_status payload for an id, live or not.
func (m *Manager) StatusOf(id string) *Status {
	s := m.Get(id)
	if s == nil {
		return &Status{
			ID:            id,
			Status:        StateDisconnected,
			ModelProvider: ai.ProviderGemini,
			ModelName:     ai.ResolveModel(ai.ProviderGemini, ""),
		}
	}

	cfg := s.Config()
	return &Status{
		ID:            id,
		Status:        s.State(),
		User:          s.User(),
		BotEnabled:    cfg.BotEnabled,
		HasAPIKey:     cfg.APIKey != "",
		ModelProvider: cfg.ModelProvider,
		ModelName:     cfg.ModelName,
		SystemPrompt:  cfg.SystemPrompt,
	}
}

// Statuses lists the status of every stored session, for the init snapshot.
func (m *Manager) Statuses(ctx context.Context) []*Status {
	ids, err := m.store.ListSessions(ctx)
	if err != nil {
		m.logger.Error("failed to list sessions", "error", err)
	}

	seen := make(map[string]bool, len(ids))
	statuses := make([]*Status, 0, len(ids))
	for _, id := range ids {
		seen[id] = true
		statuses = append(statuses, m.StatusOf(id))
	}

	// Live sessions that have not flushed any state yet still show up.
	m.mu.RLock()
	for id := range m.sessions {
		if !seen[id] {
			statuses = append(statuses, m.StatusOf(id))
		}
	}
	m.mu.RUnlock()
	return statuses
}

func (m *Manager) publishStatus(id string) {
	m.bus.Publish(events.TypeSessionStatus, m.StatusOf(id))
}
