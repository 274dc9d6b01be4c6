package model

import (
	"crypto/md5" //nolint:gosec
	"encoding/hex"
	"sort"
	"strconv"
	"time"

	"github.com/fractal-im/fractal-go/pkg/matrix"
)

// Renderable message types.
const (
	MsgText   = "m.text"
	MsgEmote  = "m.emote"
	MsgImage  = "m.image"
	MsgFile   = "m.file"
	MsgAudio  = "m.audio"
	MsgVideo  = "m.video"
	MsgNotice = "m.notice"
)

// Message is one timeline entry of a room. ID is the server-assigned
// event id and is empty on an optimistic local echo.
type Message struct {
	Sender        string    `json:"sender"`
	MType         string    `json:"mtype"`
	Body          string    `json:"body"`
	Date          time.Time `json:"date"`
	Room          string    `json:"room"`
	Thumb         string    `json:"thumb,omitempty"`
	URL           string    `json:"url,omitempty"`
	ID            string    `json:"id,omitempty"`
	Format        string    `json:"format,omitempty"`
	FormattedBody string    `json:"formatted_body,omitempty"`
}

// Equal implements message identity: event ids decide when both are
// present, otherwise (sender, body) so an optimistic echo matches its
// server acknowledgement.
func (m *Message) Equal(other *Message) bool {
	if other == nil {
		return false
	}

	if m.ID != "" && other.ID != "" {
		return m.ID == other.ID
	}

	return m.Sender == other.Sender && m.Body == other.Body
}

// TransactionID derives the deterministic transaction id used to
// correlate an optimistic echo with the server acknowledgement. It is
// stable across retries of the same logical message.
func (m *Message) TransactionID() string {
	return TransactionID(m.Room, m.Body, m.Date)
}

func TransactionID(room, body string, date time.Time) string {
	sum := md5.Sum([]byte(room + body + strconv.FormatInt(date.UnixMilli(), 10))) //nolint:gosec
	return hex.EncodeToString(sum[:])
}

// SortMessages orders messages by server timestamp.
func SortMessages(msgs []*Message) {
	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].Date.Before(msgs[j].Date)
	})
}

// NewMessageFromEvent converts a timeline event into a Message.
// ok is false for events that are not renderable messages.
func NewMessageFromEvent(roomID string, ev *matrix.Event) (*Message, bool) {
	if ev.Type != "m.room.message" {
		return nil, false
	}

	mtype := ev.ContentString("msgtype")

	switch mtype {
	case MsgText, MsgEmote, MsgImage, MsgFile, MsgAudio, MsgVideo, MsgNotice:
	default:
		return nil, false
	}

	m := &Message{
		Sender:        ev.Sender,
		MType:         mtype,
		Body:          ev.ContentString("body"),
		Date:          time.UnixMilli(ev.OriginServerTS),
		Room:          roomID,
		URL:           ev.ContentString("url"),
		ID:            ev.EventID,
		Format:        ev.ContentString("format"),
		FormattedBody: ev.ContentString("formatted_body"),
	}

	if info, ok := ev.Content["info"].(map[string]interface{}); ok {
		if thumb, ok := info["thumbnail_url"].(string); ok {
			m.Thumb = thumb
		}
	}

	return m, true
}

// MessagesFromChunk converts a /messages or /search chunk, dropping
// non-renderable rows, and returns the result in chronological order.
func MessagesFromChunk(roomID string, events []matrix.Event) []*Message {
	var msgs []*Message

	for i := range events {
		if m, ok := NewMessageFromEvent(roomID, &events[i]); ok {
			msgs = append(msgs, m)
		}
	}

	SortMessages(msgs)

	return msgs
}
