package cache

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fractal-im/fractal-go/pkg/model"
)

func testLogger() *logrus.Entry {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)

	return l.WithField("prefix", "test")
}

func TestStoreLoadRoundTrip(t *testing.T) {
	c := New(t.TempDir(), testLogger())

	room := model.NewRoom("!r:x", model.MembershipJoined)
	room.Name = "Ops"
	room.Members["@a:x"] = &model.Member{UID: "@a:x", Alias: "Alice"}
	room.AddMessage(&model.Message{
		Sender: "@a:x",
		MType:  model.MsgText,
		Body:   "hi",
		ID:     "$1:x",
		Room:   room.ID,
		Date:   time.UnixMilli(1000).UTC(),
	})

	in := &Data{
		Since:    "s_42",
		Rooms:    map[string]*model.Room{room.ID: room},
		Username: "Alice",
		UID:      "@alice:x",
		LastViewedMessages: map[string]*model.Message{
			room.ID: room.Messages[0],
		},
	}

	require.NoError(t, c.Store(in))

	out, err := c.Load()
	require.NoError(t, err)
	assert.Equal(t, in.Since, out.Since)
	assert.Equal(t, in.UID, out.UID)
	assert.Equal(t, in.Username, out.Username)
	require.Contains(t, out.Rooms, room.ID)
	assert.Equal(t, room.Name, out.Rooms[room.ID].Name)
	require.Len(t, out.Rooms[room.ID].Messages, 1)
	assert.True(t, out.Rooms[room.ID].Messages[0].Equal(room.Messages[0]))
	assert.True(t, out.LastViewedMessages[room.ID].Equal(room.Messages[0]))
}

func TestLoadMissingFile(t *testing.T) {
	c := New(t.TempDir(), testLogger())

	out, err := c.Load()
	assert.ErrorIs(t, err, ErrIO)
	require.NotNil(t, out)
	assert.Empty(t, out.Rooms)
	assert.Empty(t, out.Since)
}

func TestLoadCorruptFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "rooms.json"), []byte("{broken"), 0o600))

	c := New(dir, testLogger())

	out, err := c.Load()
	assert.ErrorIs(t, err, ErrIO)
	assert.Empty(t, out.Rooms)
}

func TestDestroy(t *testing.T) {
	c := New(t.TempDir(), testLogger())
	require.NoError(t, c.Store(&Data{}))
	require.NoError(t, c.Destroy())
	require.NoError(t, c.Destroy(), "destroy is idempotent")

	_, err := c.Load()
	assert.ErrorIs(t, err, ErrIO)
}
