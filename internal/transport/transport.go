// ABOUTME: Transport contracts for the external chat-protocol connection
// ABOUTME: Event types, send content shapes and direct-chat filtering helpers

package transport

import (
	"context"
	"strings"
)

// Identity is the authenticated account behind a connected transport.
type Identity struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// EventType discriminates transport events.
type EventType int

const (
	// EventPairing carries a pairing challenge (e.g. a scannable code)
	// that must be forwarded outward verbatim.
	EventPairing EventType = iota
	// EventConnected reports an authenticated identity.
	EventConnected
	// EventClosed reports the connection ended. LoggedOut distinguishes an
	// explicit logout/unauthorized closure from a transient drop.
	EventClosed
	// EventMessage carries one inbound message.
	EventMessage
)

// Event is a single occurrence on a session's transport.
type Event struct {
	Type EventType

	// EventPairing
	Pairing string

	// EventConnected
	User *Identity

	// EventClosed
	Reason    string
	LoggedOut bool

	// EventMessage
	ChatID    string
	MessageID string
	PushName  string
	Text      string
	FromSelf  bool
}

// Button is a quick-reply button attached to outbound content.
type Button struct {
	ID   string `json:"id"`
	Text string `json:"text"`
	Type string `json:"type,omitempty"`
}

// Content is what a send call delivers to a chat. Exactly one of Text,
// media (Media + MediaType) or Buttons is the primary payload.
type Content struct {
	Text string `json:"text,omitempty"`

	// Media payloads
	Media     []byte `json:"media,omitempty"`
	MediaType string `json:"mediaType,omitempty"` // "image" or "document"
	MimeType  string `json:"mimeType,omitempty"`
	FileName  string `json:"fileName,omitempty"`
	Caption   string `json:"caption,omitempty"`

	// Interactive button message
	Title   string   `json:"title,omitempty"`
	Footer  string   `json:"footer,omitempty"`
	Buttons []Button `json:"buttons,omitempty"`
}

// Transport is one live connection to an external chat account. Events()
// is closed when the connection ends; the final EventClosed arrives first.
type Transport interface {
	Events() <-chan Event
	Send(ctx context.Context, chatID string, content Content) error
	SignOut(ctx context.Context) error
	Close() error
}

// Dialer opens transports. The session id doubles as the credential handle:
// the dialer resumes stored auth state for that id when it exists.
type Dialer interface {
	Dial(ctx context.Context, sessionID string) (Transport, error)
}

// Chat identifier suffixes used by the wire protocol.
const (
	groupSuffix     = "@g.us"
	broadcastSuffix = "@broadcast"
)

// IsGroupChat reports whether the chat id names a group.
func IsGroupChat(chatID string) bool {
	return strings.HasSuffix(chatID, groupSuffix)
}

// IsBroadcastChat reports whether the chat id names a broadcast or status
// channel.
func IsBroadcastChat(chatID string) bool {
	return strings.HasSuffix(chatID, broadcastSuffix)
}

// IsDirectChat reports whether the chat id names a one-to-one chat. Group
// and broadcast identifiers are filtered out unconditionally upstream of
// conversation tracking.
func IsDirectChat(chatID string) bool {
	return chatID != "" && !IsGroupChat(chatID) && !IsBroadcastChat(chatID)
}
