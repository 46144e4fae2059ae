// ABOUTME: Per-session state for one managed external chat account
// ABOUTME: Connection state machine values and synchronized access to config, user and transport

package session

import (
	"context"
	"sync"

	"github.com/sendero/funnel-gateway/internal/ai"
	"github.com/sendero/funnel-gateway/internal/store"
	"github.com/sendero/funnel-gateway/internal/transport"
)

// State is a session's position in the connection lifecycle.
type State string

const (
	// StateConnecting means the transport handshake is in progress.
	StateConnecting State = "connecting"
	// StateAwaitingScan means a pairing challenge was issued and not yet
	// completed.
	StateAwaitingScan State = "awaiting_scan"
	// StateConnected means the transport reported an authenticated identity.
	StateConnected State = "connected"
	// StateDisconnected means the transport closed and no automatic action
	// will be taken.
	StateDisconnected State = "disconnected"
	// StateDeleting is terminal and absorbing: once entered, all reconnect
	// logic is suppressed regardless of later transport events.
	StateDeleting State = "deleting"
)

// Session is one managed chat account. It is owned exclusively by the
// Manager; all mutation happens through Manager handlers.
type Session struct {
	ID string

	mu        sync.RWMutex
	state     State
	user      *transport.Identity
	cfg       store.BotConfig
	transport transport.Transport

	// ctx is cancelled on delete; it parents every blocking operation the
	// session performs, including reconnect backoff waits.
	ctx    context.Context
	cancel context.CancelFunc
}

func newSession(id string, cfg store.BotConfig) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	cfg.ModelProvider = ai.NormalizeProvider(cfg.ModelProvider)
	cfg.ModelName = ai.ResolveModel(cfg.ModelProvider, cfg.ModelName)
	return &Session{
		ID:     id,
		state:  StateConnecting,
		cfg:    cfg,
		ctx:    ctx,
		cancel: cancel,
	}
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// setState moves the session to a new state. The deleting state is
// absorbing and never left.
func (s *Session) setState(state State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateDeleting {
		return
	}
	s.state = state
}

// markDeleting enters the terminal deleting state.
func (s *Session) markDeleting() {
	s.mu.Lock()
	s.state = StateDeleting
	s.mu.Unlock()
}

// deleting reports whether teardown has begun.
func (s *Session) deleting() bool {
	return s.State() == StateDeleting
}

// User returns the authenticated identity, nil before authentication.
func (s *Session) User() *transport.Identity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.user
}

func (s *Session) setUser(user *transport.Identity) {
	s.mu.Lock()
	s.user = user
	s.mu.Unlock()
}

// Config returns a copy of the bot configuration.
func (s *Session) Config() store.BotConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

func (s *Session) setConfig(cfg store.BotConfig) {
	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()
}

// Transport returns the live transport, nil between reconnect attempts.
func (s *Session) Transport() transport.Transport {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.transport
}

func (s *Session) setTransport(t transport.Transport) {
	s.mu.Lock()
	s.transport = t
	s.mu.Unlock()
}
