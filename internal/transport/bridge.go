// ABOUTME: Websocket bridge transport speaking JSON frames to the protocol sidecar
// ABOUTME: One socket per session; sidecar owns the wire protocol and credential material

package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
)

// eventBufferSize is the transport event channel buffer. Inbound bursts
// beyond this apply backpressure on the socket read loop, not on sessions.
const eventBufferSize = 32

// bridgeFrame is the JSON envelope on the bridge socket, both directions.
type bridgeFrame struct {
	Type string `json:"type"`

	// Inbound event fields
	QR        string    `json:"qr,omitempty"`
	User      *Identity `json:"user,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	LoggedOut bool      `json:"loggedOut,omitempty"`
	ChatID    string    `json:"chatId,omitempty"`
	MessageID string    `json:"messageId,omitempty"`
	PushName  string    `json:"pushName,omitempty"`
	Text      string    `json:"text,omitempty"`
	FromSelf  bool      `json:"fromSelf,omitempty"`

	// Outbound command fields
	Content *Content `json:"content,omitempty"`
}

// Frame types on the bridge socket.
const (
	frameQR      = "qr"
	frameOpen    = "open"
	frameClose   = "close"
	frameMessage = "message"
	frameSend    = "send"
	frameSignOut = "signout"
)

// BridgeDialer dials the protocol sidecar's per-session websocket endpoint.
type BridgeDialer struct {
	baseURL string
	logger  *slog.Logger
}

// NewBridgeDialer creates a dialer for the sidecar at baseURL
// (e.g. ws://127.0.0.1:3001).
func NewBridgeDialer(baseURL string, logger *slog.Logger) *BridgeDialer {
	if logger == nil {
		logger = slog.Default()
	}
	return &BridgeDialer{
		baseURL: baseURL,
		logger:  logger.With("component", "bridge"),
	}
}

// Dial opens the session's bridge socket and starts the read loop.
func (d *BridgeDialer) Dial(ctx context.Context, sessionID string) (Transport, error) {
	endpoint := fmt.Sprintf("%s/sessions/%s", d.baseURL, sessionID)

	conn, _, err := websocket.Dial(ctx, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("dialing bridge %s: %w", endpoint, err)
	}

	t := &bridgeTransport{
		conn:      conn,
		sessionID: sessionID,
		events:    make(chan Event, eventBufferSize),
		done:      make(chan struct{}),
		logger:    d.logger.With("session_id", sessionID),
	}
	go t.readLoop()

	d.logger.Debug("bridge connected", "session_id", sessionID)
	return t, nil
}

// bridgeTransport is one live sidecar connection.
type bridgeTransport struct {
	conn      *websocket.Conn
	sessionID string
	events    chan Event
	done      chan struct{}
	logger    *slog.Logger

	closeOnce sync.Once
}

// Events returns the transport event stream. Closed after the final
// EventClosed.
func (t *bridgeTransport) Events() <-chan Event {
	return t.events
}

// readLoop translates bridge frames into transport events until the socket
// drops. A read error without a prior close frame is reported as a
// transient closure so the lifecycle manager can decide on a reconnect.
func (t *bridgeTransport) readLoop() {
	defer close(t.events)

	for {
		_, data, err := t.conn.Read(context.Background())
		if err != nil {
			t.deliver(Event{
				Type:   EventClosed,
				Reason: fmt.Sprintf("bridge read: %v", err),
			})
			return
		}

		var frame bridgeFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			t.logger.Warn("dropping malformed bridge frame", "error", err)
			continue
		}

		switch frame.Type {
		case frameQR:
			if !t.deliver(Event{Type: EventPairing, Pairing: frame.QR}) {
				return
			}
		case frameOpen:
			if !t.deliver(Event{Type: EventConnected, User: frame.User}) {
				return
			}
		case frameClose:
			t.deliver(Event{Type: EventClosed, Reason: frame.Reason, LoggedOut: frame.LoggedOut})
			return
		case frameMessage:
			ok := t.deliver(Event{
				Type:      EventMessage,
				ChatID:    frame.ChatID,
				MessageID: frame.MessageID,
				PushName:  frame.PushName,
				Text:      frame.Text,
				FromSelf:  frame.FromSelf,
			})
			if !ok {
				return
			}
		default:
			t.logger.Debug("ignoring unknown bridge frame", "type", frame.Type)
		}
	}
}

// deliver forwards one event to the consumer. Returns false when the
// transport was closed; a consumer that stopped draining must not park the
// read loop forever.
func (t *bridgeTransport) deliver(ev Event) bool {
	select {
	case t.events <- ev:
		return true
	case <-t.done:
		return false
	}
}

// Send delivers content to a chat through the sidecar.
func (t *bridgeTransport) Send(ctx context.Context, chatID string, content Content) error {
	return t.write(ctx, &bridgeFrame{
		Type:    frameSend,
		ChatID:  chatID,
		Content: &content,
	})
}

// SignOut asks the sidecar for a graceful logout.
func (t *bridgeTransport) SignOut(ctx context.Context) error {
	return t.write(ctx, &bridgeFrame{Type: frameSignOut})
}

// Close force-closes the socket and releases the read loop.
func (t *bridgeTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		close(t.done)
		err = t.conn.Close(websocket.StatusNormalClosure, "session teardown")
	})
	return err
}

func (t *bridgeTransport) write(ctx context.Context, frame *bridgeFrame) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("marshaling bridge frame: %w", err)
	}

	writeCtx := ctx
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		writeCtx, cancel = context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
	}

	if err := t.conn.Write(writeCtx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("writing bridge frame: %w", err)
	}
	return nil
}
