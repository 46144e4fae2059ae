// ABOUTME: Bounded in-memory conversation records with funnel stage metadata
// ABOUTME: Message normalization and FIFO truncation happen here, at the ingestion boundary

package conversation

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sendero/funnel-gateway/internal/store"
)

// ErrInvalidStage is returned when a stage outside the enumerated funnel
// values is requested. The record is left unchanged.
var ErrInvalidStage = errors.New("invalid stage")

// Record is one conversation's live state. All mutation goes through its
// methods; the internal mutex makes each append or stage change atomic with
// respect to concurrent inbound events and completing bot tasks.
type Record struct {
	mu   sync.Mutex
	conv store.Conversation
	max  int
}

// newRecord wraps a stored conversation. Messages are normalized on load so
// malformed entries from older mirrors can't leak into the live state.
func newRecord(conv *store.Conversation, maxMessages int) *Record {
	r := &Record{max: maxMessages}
	r.conv = store.Conversation{
		ChatID:    conv.ChatID,
		Title:     conv.Title,
		Stage:     conv.Stage,
		UpdatedAt: conv.UpdatedAt,
	}
	if r.conv.Title == "" {
		r.conv.Title = conv.ChatID
	}
	if !store.ValidStage(r.conv.Stage) {
		r.conv.Stage = store.StageInterest
	}
	for _, msg := range conv.Messages {
		r.conv.Messages = append(r.conv.Messages, Normalize(msg))
	}
	r.truncateLocked()
	return r
}

// Normalize is the explicit validation-and-defaulting step for messages
// entering a record: missing ids get a fresh unique id, missing timestamps
// get the current time, and unknown directions are coerced to incoming.
// Malformed input is repaired rather than rejected so operator-visible
// history is never silently dropped.
func Normalize(msg store.Message) store.Message {
	if msg.ID == "" {
		msg.ID = "msg-" + uuid.New().String()
	}
	if msg.Direction != store.DirectionOutgoing {
		msg.Direction = store.DirectionIncoming
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	return msg
}

// ChatID returns the chat identity this record belongs to.
func (r *Record) ChatID() string {
	return r.conv.ChatID
}

// Append adds a normalized message, truncating the oldest entries when the
// record exceeds its capacity. UpdatedAt follows the appended message's
// timestamp. Persistence is the caller's responsibility.
func (r *Record) Append(msg store.Message) store.Message {
	normalized := Normalize(msg)

	r.mu.Lock()
	defer r.mu.Unlock()

	r.conv.Messages = append(r.conv.Messages, normalized)
	r.truncateLocked()
	r.conv.UpdatedAt = normalized.Timestamp
	return normalized
}

// truncateLocked drops the oldest messages past capacity. Must be called
// with mu held.
func (r *Record) truncateLocked() {
	if r.max > 0 && len(r.conv.Messages) > r.max {
		overflow := len(r.conv.Messages) - r.max
		r.conv.Messages = append([]store.Message(nil), r.conv.Messages[overflow:]...)
	}
}

// SetStage moves the conversation to a new funnel stage.
// Returns ErrInvalidStage and leaves the record untouched for unknown values.
func (r *Record) SetStage(stage store.Stage) error {
	if !store.ValidStage(stage) {
		return ErrInvalidStage
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.conv.Stage = stage
	return nil
}

// Stage returns the current funnel stage.
func (r *Record) Stage() store.Stage {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.conv.Stage
}

// adoptTitle upgrades a placeholder title (empty or the bare chat id) to a
// display name learned from the transport.
func (r *Record) adoptTitle(title string) {
	if title == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conv.Title == "" || r.conv.Title == r.conv.ChatID {
		r.conv.Title = title
	}
}

// Recent returns a copy of the most recent n messages in arrival order.
// n <= 0 returns the whole history.
func (r *Record) Recent(n int) []store.Message {
	r.mu.Lock()
	defer r.mu.Unlock()

	msgs := r.conv.Messages
	if n > 0 && len(msgs) > n {
		msgs = msgs[len(msgs)-n:]
	}
	return append([]store.Message(nil), msgs...)
}

// Len returns the number of retained messages.
func (r *Record) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conv.Messages)
}

// Snapshot returns a deep copy of the underlying conversation for
// persistence or serialization.
func (r *Record) Snapshot() *store.Conversation {
	r.mu.Lock()
	defer r.mu.Unlock()

	conv := r.conv
	conv.Messages = append([]store.Message(nil), r.conv.Messages...)
	return &conv
}

// Payload is the conversation shape the frontend renders on the kanban
// board. Timestamps are unix milliseconds on the wire.
type Payload struct {
	ChatID          string           `json:"chatId"`
	Title           string           `json:"title"`
	LastMessageText string           `json:"lastMessageText"`
	LastMessageAt   int64            `json:"lastMessageAt"`
	MessageCount    int              `json:"messageCount"`
	Stage           store.Stage      `json:"stage"`
	Messages        []MessagePayload `json:"messages,omitempty"`
}

// MessagePayload is a single message on the wire.
type MessagePayload struct {
	ID        string          `json:"id"`
	Direction store.Direction `json:"direction"`
	Text      string          `json:"text"`
	Timestamp int64           `json:"timestamp"`
}

// ToPayload serializes the record for the frontend. includeMessages controls
// whether the full history rides along or just the board summary.
func (r *Record) ToPayload(includeMessages bool) *Payload {
	snap := r.Snapshot()

	p := &Payload{
		ChatID:       snap.ChatID,
		Title:        snap.Title,
		MessageCount: len(snap.Messages),
		Stage:        snap.Stage,
	}
	if p.Title == "" {
		p.Title = snap.ChatID
	}
	p.LastMessageAt = snap.UpdatedAt.UnixMilli()
	if n := len(snap.Messages); n > 0 {
		last := snap.Messages[n-1]
		p.LastMessageText = last.Text
		p.LastMessageAt = last.Timestamp.UnixMilli()
	}

	if includeMessages {
		p.Messages = make([]MessagePayload, 0, len(snap.Messages))
		for _, msg := range snap.Messages {
			p.Messages = append(p.Messages, MessagePayload{
				ID:        msg.ID,
				Direction: msg.Direction,
				Text:      msg.Text,
				Timestamp: msg.Timestamp.UnixMilli(),
			})
		}
	}
	return p
}
