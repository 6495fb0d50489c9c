// ABOUTME: Message model shared by the merger, the API client, and the cache store
// ABOUTME: Wire format uses unix-millisecond timestamps and optional correlation ids

package timeline

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DeliveryState tracks a message's progress through the send pipeline.
type DeliveryState string

const (
	// DeliveryPending marks an optimistic message awaiting server confirmation.
	DeliveryPending DeliveryState = "pending"
	// DeliverySent marks a server-confirmed, durable message.
	DeliverySent DeliveryState = "sent"
	// DeliveryFailed marks an optimistic message whose persistence request failed.
	// It stays in the timeline so the UI can offer a retry.
	DeliveryFailed DeliveryState = "failed"
)

// Message is one chat message. Immutable once durable; an optimistic entry
// is replaced wholesale during reconciliation, never edited in pieces.
type Message struct {
	ID            string
	CorrelationID string // client-generated, echoed back by the server
	SenderID      string
	RecipientID   string
	Body          string
	CreatedAt     time.Time
	State         DeliveryState
}

// wireMessage is the JSON shape used on both the websocket and the REST API.
type wireMessage struct {
	ID            string `json:"id"`
	CorrelationID string `json:"correlationId,omitempty"`
	SenderID      string `json:"senderId"`
	RecipientID   string `json:"recipientId"`
	Body          string `json:"body"`
	CreatedAt     int64  `json:"createdAt"` // unix milliseconds
}

// MarshalJSON encodes the message in wire format. Delivery state is local
// bookkeeping and never serialized.
func (m Message) MarshalJSON() ([]byte, error) {
	return json.Marshal(wireMessage{
		ID:            m.ID,
		CorrelationID: m.CorrelationID,
		SenderID:      m.SenderID,
		RecipientID:   m.RecipientID,
		Body:          m.Body,
		CreatedAt:     m.CreatedAt.UnixMilli(),
	})
}

// UnmarshalJSON decodes a wire-format message. Anything arriving over the
// wire is server-confirmed, so the state is set to sent.
func (m *Message) UnmarshalJSON(data []byte) error {
	var w wireMessage
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	m.ID = w.ID
	m.CorrelationID = w.CorrelationID
	m.SenderID = w.SenderID
	m.RecipientID = w.RecipientID
	m.Body = w.Body
	m.CreatedAt = time.UnixMilli(w.CreatedAt).UTC()
	m.State = DeliverySent
	return nil
}

// NewOptimistic builds a locally-originated message with a temporary id and
// a fresh correlation id, ready for immediate display while the persistence
// request is in flight.
func NewOptimistic(senderID, recipientID, body string) Message {
	correlation := uuid.New().String()
	return Message{
		ID:            "tmp-" + correlation,
		CorrelationID: correlation,
		SenderID:      senderID,
		RecipientID:   recipientID,
		Body:          strings.TrimSpace(body),
		CreatedAt:     time.Now().UTC(),
		State:         DeliveryPending,
	}
}

// CounterpartyOf returns the other participant of the message from the
// perspective of selfID.
func (m Message) CounterpartyOf(selfID string) string {
	if m.SenderID == selfID {
		return m.RecipientID
	}
	return m.SenderID
}
