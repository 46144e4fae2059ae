// ABOUTME: Store interface and data types for funnel-gateway persistence
// ABOUTME: Defines Conversation, Message, BotConfig and the Store interface for database operations

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// Stage is the funnel classification attached to a conversation.
type Stage string

// Funnel stages, in pipeline order.
const (
	StageInterest    Stage = "interest"
	StageQuote       Stage = "quote"
	StageNegotiation Stage = "negotiation"
	StageClosed      Stage = "closed"
)

// ValidStage reports whether s is one of the enumerated funnel stages.
func ValidStage(s Stage) bool {
	switch s {
	case StageInterest, StageQuote, StageNegotiation, StageClosed:
		return true
	}
	return false
}

// Direction indicates which way a message travelled.
type Direction string

const (
	DirectionIncoming Direction = "incoming"
	DirectionOutgoing Direction = "outgoing"
)

// Message is a single entry in a conversation's history.
// Messages are immutable once appended.
type Message struct {
	ID        string    `json:"id"`
	Direction Direction `json:"direction"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// Conversation is the message history and CRM metadata for one counterparty
// chat within a session.
type Conversation struct {
	ChatID    string
	Title     string
	Stage     Stage
	Messages  []Message
	UpdatedAt time.Time
}

// BotConfig is the per-session auto-reply configuration.
type BotConfig struct {
	BotEnabled    bool   `json:"botEnabled"`
	APIKey        string `json:"apiKey"`
	ModelProvider string `json:"modelProvider"`
	ModelName     string `json:"modelName"`
	SystemPrompt  string `json:"systemPrompt"`
}

// Button is a stored quick-reply button template for a session.
type Button struct {
	ID   string `json:"id"`
	Text string `json:"text"`
	Type string `json:"type"`
}

// Store is the persistence adapter consumed by the conversation service and
// the session manager. Implementations must be safe for concurrent use.
type Store interface {
	// Conversations are mirrored whole per session: a save replaces the
	// stored state for that session id.
	LoadConversations(ctx context.Context, sessionID string) ([]*Conversation, error)
	SaveConversations(ctx context.Context, sessionID string, convs []*Conversation) error

	LoadConfig(ctx context.Context, sessionID string) (*BotConfig, error)
	SaveConfig(ctx context.Context, sessionID string, cfg *BotConfig) error

	// Credentials hold the opaque transport auth state. CredentialsExist is
	// the capability query the reconnect predicate relies on.
	SaveCredentials(ctx context.Context, sessionID string, data []byte) error
	LoadCredentials(ctx context.Context, sessionID string) ([]byte, error)
	CredentialsExist(ctx context.Context, sessionID string) (bool, error)
	DeleteCredentials(ctx context.Context, sessionID string) error

	LoadButtons(ctx context.Context, sessionID string) ([]*Button, error)
	SaveButtons(ctx context.Context, sessionID string, buttons []*Button) error

	// ListSessions returns every session id with stored state, for restore
	// at startup.
	ListSessions(ctx context.Context) ([]string, error)

	// DeleteSession removes all durable state for a session: conversations,
	// config, credentials and buttons.
	DeleteSession(ctx context.Context, sessionID string) error

	Close() error
}
