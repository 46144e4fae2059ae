// ABOUTME: Service is the central layer for conversation state and persistence
// ABOUTME: All messages flow through here - record first, then flush, then broadcast

package conversation

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/sendero/funnel-gateway/internal/events"
	"github.com/sendero/funnel-gateway/internal/store"
)

// flushTimeout bounds each persistence call so a slow disk can't stall a
// session's event loop indefinitely.
const flushTimeout = 5 * time.Second

// ConversationStore defines what the service needs from the persistence
// adapter.
type ConversationStore interface {
	LoadConversations(ctx context.Context, sessionID string) ([]*store.Conversation, error)
	SaveConversations(ctx context.Context, sessionID string, convs []*store.Conversation) error
}

// Service owns the per-session conversation maps. It applies the
// record-first principle: mutations land in memory, are flushed to the
// persistence adapter best-effort, and are then broadcast to UI clients.
// Flush failures are logged, never rolled back; the loss window is the gap
// until the next successful flush.
type Service struct {
	mu       sync.RWMutex
	sessions map[string]map[string]*Record // sessionID -> chatID -> record

	store       ConversationStore
	broadcaster *events.Broadcaster
	maxMessages int
	logger      *slog.Logger
}

// NewService creates a conversation service. maxMessages bounds each
// record's retained history.
func NewService(st ConversationStore, broadcaster *events.Broadcaster, maxMessages int, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		sessions:    make(map[string]map[string]*Record),
		store:       st,
		broadcaster: broadcaster,
		maxMessages: maxMessages,
		logger:      logger.With("component", "conversation"),
	}
}

// ConversationUpdate is the payload for conversation_update events.
type ConversationUpdate struct {
	ID           string   `json:"id"`
	SessionID    string   `json:"sessionId"`
	Conversation *Payload `json:"conversation"`
}

// ConversationList is the payload for conversations events.
type ConversationList struct {
	ID            string     `json:"id"`
	SessionID     string     `json:"sessionId"`
	Conversations []*Payload `json:"conversations"`
}

// Load replaces the in-memory state for a session with the stored mirror.
// A load error leaves the session with an empty map; the session still runs.
func (s *Service) Load(ctx context.Context, sessionID string) {
	convs, err := s.store.LoadConversations(ctx, sessionID)
	if err != nil {
		s.logger.Error("failed to load conversations", "session_id", sessionID, "error", err)
		convs = nil
	}

	records := make(map[string]*Record, len(convs))
	for _, conv := range convs {
		records[conv.ChatID] = newRecord(conv, s.maxMessages)
	}

	s.mu.Lock()
	s.sessions[sessionID] = records
	s.mu.Unlock()

	s.logger.Debug("conversations loaded", "session_id", sessionID, "count", len(records))
}

// Ensure returns the record for a chat, creating it lazily on first use.
// Never fails. A non-empty fallbackTitle upgrades placeholder titles.
func (s *Service) Ensure(sessionID, chatID, fallbackTitle string) *Record {
	s.mu.Lock()
	records, ok := s.sessions[sessionID]
	if !ok {
		records = make(map[string]*Record)
		s.sessions[sessionID] = records
	}
	rec, ok := records[chatID]
	if !ok {
		rec = newRecord(&store.Conversation{
			ChatID:    chatID,
			Title:     fallbackTitle,
			Stage:     store.StageInterest,
			UpdatedAt: time.Now(),
		}, s.maxMessages)
		records[chatID] = rec
	}
	s.mu.Unlock()

	if ok {
		rec.adoptTitle(fallbackTitle)
	}
	return rec
}

// Get returns the record for a chat if it exists.
func (s *Service) Get(sessionID, chatID string) (*Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.sessions[sessionID][chatID]
	return rec, ok
}

// RecordInbound appends an incoming message, flushes the session mirror and
// broadcasts the update. Returns the record for follow-up processing.
func (s *Service) RecordInbound(sessionID, chatID, title string, msg store.Message) *Record {
	msg.Direction = store.DirectionIncoming
	return s.record(sessionID, chatID, title, msg)
}

// RecordOutbound appends an outgoing message, flushes and broadcasts.
func (s *Service) RecordOutbound(sessionID, chatID string, msg store.Message) *Record {
	msg.Direction = store.DirectionOutgoing
	return s.record(sessionID, chatID, chatID, msg)
}

func (s *Service) record(sessionID, chatID, title string, msg store.Message) *Record {
	rec := s.Ensure(sessionID, chatID, title)
	rec.Append(msg)
	s.Flush(sessionID)
	s.broadcastUpdate(sessionID, rec)
	return rec
}

// SetStage validates and applies a funnel stage change, then flushes and
// broadcasts. Unknown chats are ignored, matching the tolerant behavior the
// board UI expects on stale drags.
func (s *Service) SetStage(sessionID, chatID string, stage store.Stage) error {
	rec, ok := s.Get(sessionID, chatID)
	if !ok {
		return nil
	}
	if err := rec.SetStage(stage); err != nil {
		return err
	}
	s.Flush(sessionID)
	s.broadcastUpdate(sessionID, rec)
	return nil
}

// List returns board payloads for every conversation in a session.
func (s *Service) List(sessionID string, includeMessages bool) []*Payload {
	s.mu.RLock()
	records := make([]*Record, 0, len(s.sessions[sessionID]))
	for _, rec := range s.sessions[sessionID] {
		records = append(records, rec)
	}
	s.mu.RUnlock()

	payloads := make([]*Payload, 0, len(records))
	for _, rec := range records {
		payloads = append(payloads, rec.ToPayload(includeMessages))
	}
	return payloads
}

// Flush mirrors the session's conversations to the persistence adapter.
// Best effort: failures are logged and the in-memory state stands.
func (s *Service) Flush(sessionID string) {
	s.mu.RLock()
	snapshots := make([]*store.Conversation, 0, len(s.sessions[sessionID]))
	for _, rec := range s.sessions[sessionID] {
		snapshots = append(snapshots, rec.Snapshot())
	}
	s.mu.RUnlock()

	// Separate timeout context so persistence survives caller cancellation.
	ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()

	if err := s.store.SaveConversations(ctx, sessionID, snapshots); err != nil {
		s.logger.Error("failed to flush conversations",
			"session_id", sessionID,
			"count", len(snapshots),
			"error", err)
	}
}

// Drop discards a session's in-memory conversations. Durable removal is the
// persistence adapter's DeleteSession.
func (s *Service) Drop(sessionID string) {
	s.mu.Lock()
	delete(s.sessions, sessionID)
	s.mu.Unlock()
}

func (s *Service) broadcastUpdate(sessionID string, rec *Record) {
	if s.broadcaster == nil {
		return
	}
	s.broadcaster.Publish(events.TypeConversationUpdate, &ConversationUpdate{
		ID:           sessionID,
		SessionID:    sessionID,
		Conversation: rec.ToPayload(true),
	})
}
