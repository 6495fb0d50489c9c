// ABOUTME: Tests for the message wire format and optimistic construction
// ABOUTME: Covers millisecond timestamps, correlation ids, and counterparty resolution

package timeline

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessage_WireFormat(t *testing.T) {
	raw := `{"id":"m1","senderId":"u2","recipientId":"u1","body":"hello","createdAt":1700000000123}`

	var m Message
	require.NoError(t, json.Unmarshal([]byte(raw), &m))

	assert.Equal(t, "m1", m.ID)
	assert.Equal(t, "u2", m.SenderID)
	assert.Equal(t, int64(1700000000123), m.CreatedAt.UnixMilli())
	assert.Equal(t, DeliverySent, m.State, "wire messages are server-confirmed")

	out, err := json.Marshal(m)
	require.NoError(t, err)
	assert.JSONEq(t, raw, string(out))
}

func TestMessage_CorrelationIDRoundTrips(t *testing.T) {
	m := Message{
		ID:            "m1",
		CorrelationID: "corr-1",
		SenderID:      "u1",
		RecipientID:   "u2",
		Body:          "hi",
		CreatedAt:     time.UnixMilli(100).UTC(),
	}

	out, err := json.Marshal(m)
	require.NoError(t, err)
	assert.Contains(t, string(out), `"correlationId":"corr-1"`)
}

func TestNewOptimistic(t *testing.T) {
	m := NewOptimistic("u1", "u2", "  hi there  ")

	assert.Equal(t, "hi there", m.Body, "body is trimmed")
	assert.Equal(t, DeliveryPending, m.State)
	assert.NotEmpty(t, m.CorrelationID)
	assert.Equal(t, "tmp-"+m.CorrelationID, m.ID)
	assert.NotEqual(t, NewOptimistic("u1", "u2", "x").CorrelationID, m.CorrelationID)
}

func TestMessage_CounterpartyOf(t *testing.T) {
	m := Message{SenderID: "u1", RecipientID: "u2"}

	assert.Equal(t, "u2", m.CounterpartyOf("u1"))
	assert.Equal(t, "u1", m.CounterpartyOf("u2"))
}
