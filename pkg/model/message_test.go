package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fractal-im/fractal-go/pkg/matrix"
)

func TestMessageEqual(t *testing.T) {
	date := time.Now()

	acked := &Message{Sender: "@a:x", Body: "hi", ID: "$1:x", Date: date}
	echo := &Message{Sender: "@a:x", Body: "hi", Date: date}
	otherID := &Message{Sender: "@a:x", Body: "hi", ID: "$2:x", Date: date}
	otherBody := &Message{Sender: "@a:x", Body: "bye", Date: date}

	assert.True(t, acked.Equal(echo), "echo matches ack by (sender, body)")
	assert.False(t, acked.Equal(otherID), "distinct event ids are distinct messages")
	assert.False(t, echo.Equal(otherBody))
	assert.False(t, echo.Equal(nil))
}

func TestTransactionIDIsPure(t *testing.T) {
	date := time.UnixMilli(1500013000)

	m := &Message{Room: "!r:x", Body: "hi", Date: date, Sender: "@a:x"}

	first := m.TransactionID()
	assert.Equal(t, first, TransactionID("!r:x", "hi", date))
	assert.Len(t, first, 32)

	// Any input change yields a different id.
	assert.NotEqual(t, first, TransactionID("!r:y", "hi", date))
	assert.NotEqual(t, first, TransactionID("!r:x", "hi!", date))
	assert.NotEqual(t, first, TransactionID("!r:x", "hi", date.Add(time.Millisecond)))
}

func TestNewMessageFromEvent(t *testing.T) {
	ev := &matrix.Event{
		Type:           "m.room.message",
		EventID:        "$evt:x",
		Sender:         "@a:x",
		OriginServerTS: 1500013000,
		Content: map[string]interface{}{
			"msgtype":        "m.image",
			"body":           "cat.png",
			"url":            "mxc://x/abc",
			"format":         "org.matrix.custom.html",
			"formatted_body": "<b>cat.png</b>",
			"info": map[string]interface{}{
				"thumbnail_url": "mxc://x/thumb",
			},
		},
	}

	m, ok := NewMessageFromEvent("!r:x", ev)
	require.True(t, ok)
	assert.Equal(t, "@a:x", m.Sender)
	assert.Equal(t, MsgImage, m.MType)
	assert.Equal(t, "cat.png", m.Body)
	assert.Equal(t, "mxc://x/abc", m.URL)
	assert.Equal(t, "mxc://x/thumb", m.Thumb)
	assert.Equal(t, "$evt:x", m.ID)
	assert.Equal(t, "!r:x", m.Room)
	assert.Equal(t, int64(1500013000), m.Date.UnixMilli())
}

func TestNewMessageFromEventDropsUnknown(t *testing.T) {
	_, ok := NewMessageFromEvent("!r:x", &matrix.Event{
		Type:    "m.room.member",
		Content: map[string]interface{}{"membership": "join"},
	})
	assert.False(t, ok)

	_, ok = NewMessageFromEvent("!r:x", &matrix.Event{
		Type:    "m.room.message",
		Content: map[string]interface{}{"msgtype": "m.server_notice.custom"},
	})
	assert.False(t, ok)
}

func TestMessagesFromChunkOrders(t *testing.T) {
	events := []matrix.Event{
		{Type: "m.room.message", EventID: "$2:x", OriginServerTS: 2000, Content: map[string]interface{}{"msgtype": "m.text", "body": "second"}},
		{Type: "m.room.topic", OriginServerTS: 1500, Content: map[string]interface{}{"topic": "t"}},
		{Type: "m.room.message", EventID: "$1:x", OriginServerTS: 1000, Content: map[string]interface{}{"msgtype": "m.text", "body": "first"}},
	}

	msgs := MessagesFromChunk("!r:x", events)
	require.Len(t, msgs, 2)
	assert.Equal(t, "first", msgs[0].Body)
	assert.Equal(t, "second", msgs[1].Body)
}
