// ABOUTME: Wire event names and the JSON envelope framing every transport message
// ABOUTME: Shared vocabulary between the realtime server and this client

package transport

import "encoding/json"

// Event names used on the realtime channel.
const (
	// EventRosterUpdate carries a full snapshot of online user ids.
	EventRosterUpdate = "roster_update"
	// EventNewMessage carries one server-confirmed chat message.
	EventNewMessage = "new_message"
	// EventSendMessage mirrors a locally-sent message to the server.
	EventSendMessage = "send_message"
)

// Envelope frames every message on the websocket as an event name plus a
// raw payload, decoded lazily by whichever handler is registered.
type Envelope struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
}
