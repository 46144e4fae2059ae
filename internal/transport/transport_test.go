// ABOUTME: Tests for chat identifier classification and the bridge transport
// ABOUTME: Group and broadcast ids must never be treated as direct chats

package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChatClassification(t *testing.T) {
	tests := []struct {
		chatID    string
		group     bool
		broadcast bool
		direct    bool
	}{
		{"5215512345678@s.whatsapp.net", false, false, true},
		{"1234567890-1600000000@g.us", true, false, false},
		{"status@broadcast", false, true, false},
		{"some-list@broadcast", false, true, false},
		{"", false, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.chatID, func(t *testing.T) {
			assert.Equal(t, tt.group, IsGroupChat(tt.chatID))
			assert.Equal(t, tt.broadcast, IsBroadcastChat(tt.chatID))
			assert.Equal(t, tt.direct, IsDirectChat(tt.chatID))
		})
	}
}

func TestBridgeTransport_CloseReleasesStalledReadLoop(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "done")

		frame := []byte(`{"type":"message","chatId":"1@s.whatsapp.net","messageId":"m1","text":"hola"}`)
		for i := 0; i < eventBufferSize*2; i++ {
			if err := conn.Write(r.Context(), websocket.MessageText, frame); err != nil {
				return
			}
		}
		<-r.Context().Done()
	}))
	t.Cleanup(srv.Close)

	d := NewBridgeDialer("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	tr, err := d.Dial(context.Background(), "work")
	require.NoError(t, err)

	// Nothing drains the event stream while the sidecar writes past the
	// buffer, so the read loop ends up parked on a send.
	time.Sleep(100 * time.Millisecond)
	_ = tr.Close()

	drained := make(chan struct{})
	go func() {
		for range tr.Events() {
		}
		close(drained)
	}()

	select {
	case <-drained:
	case <-time.After(2 * time.Second):
		t.Fatal("event stream not closed after transport close")
	}
}
