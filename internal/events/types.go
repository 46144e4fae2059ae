// ABOUTME: Wire event names consumed by the CRM frontend
// ABOUTME: Payload shapes are owned by the publishing packages

package events

// Event names on the websocket wire. These are part of the frontend
// contract and must not change shape silently.
const (
	TypeInit               = "init"
	TypeSessionStatus      = "session_status"
	TypeSessionQR          = "session_qr"
	TypeSessionDeleted     = "session_deleted"
	TypeConversations      = "conversations"
	TypeConversationUpdate = "conversation_update"
	TypeBotTyping          = "bot_typing"
	TypeMessageSent        = "message_sent"
	TypeMediaSent          = "media_sent"
	TypeButtonMessageSent  = "button_message_sent"
	TypeSessionButtons     = "session_buttons"
	TypeSessionButtonsUpd  = "session_buttons_updated"
	TypeError              = "error"
)

// ErrorData is the payload for TypeError events.
type ErrorData struct {
	Message string `json:"message"`
}
