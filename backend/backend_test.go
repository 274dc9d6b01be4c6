package backend

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fractal-im/fractal-go/pkg/matrix"
	"github.com/fractal-im/fractal-go/pkg/model"
)

func newTestBackend(t *testing.T, server string) *Backend {
	t.Helper()

	v := viper.New()
	v.Set("server", server)
	v.Set("cache_dir", t.TempDir())
	v.Set("config_dir", t.TempDir())
	v.Set("credentials.backend", "file")
	v.Set("media.workers", 4)

	b, err := New(v)
	require.NoError(t, err)

	t.Cleanup(b.close)

	return b
}

func authedBackend(t *testing.T, server string) *Backend {
	t.Helper()

	b := newTestBackend(t, server)
	b.adoptSession(server, "tk", "@alice:example.org")

	return b
}

// nextResponse drains the bus until a response of the wanted type
// arrives.
func nextResponse(t *testing.T, b *Backend, typ string) *Response {
	t.Helper()

	deadline := time.After(5 * time.Second)

	for {
		select {
		case r := <-b.Responses:
			if r.Type == typ {
				return r
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s", typ)
			return nil
		}
	}
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func TestLoginColdSyncScenario(t *testing.T) {
	var syncs int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/_matrix/client/r0/login":
			var body map[string]interface{}
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "m.login.password", body["type"])
			assert.Equal(t, "alice", body["user"])

			writeJSON(w, map[string]string{
				"user_id":      "@alice:example.org",
				"access_token": "tk",
			})
		case r.URL.Path == "/_matrix/client/r0/sync":
			if atomic.AddInt32(&syncs, 1) == 1 {
				assert.Equal(t, "0", r.URL.Query().Get("timeout"))
				assert.NotEmpty(t, r.URL.Query().Get("filter"))
			} else {
				time.Sleep(50 * time.Millisecond)
			}

			writeJSON(w, map[string]interface{}{"next_batch": "s_1"})
		default:
			t.Errorf("unexpected request %s", r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	b := newTestBackend(t, srv.URL)
	b.login("alice", "s3cret", srv.URL)

	token := nextResponse(t, b, RespToken).Data.(TokenData)
	assert.Equal(t, "@alice:example.org", token.UID)
	assert.Equal(t, "tk", token.Token)

	rooms := nextResponse(t, b, RespRooms).Data.(RoomsData)
	assert.Empty(t, rooms.Rooms)
	assert.Nil(t, rooms.Default)

	done := nextResponse(t, b, RespSync).Data.(SyncDoneData)
	assert.Equal(t, "s_1", done.Since)
}

func TestSendMsgEchoesTransactionID(t *testing.T) {
	var gotPath string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPut, r.Method)
		gotPath = r.URL.Path

		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "hi", body["body"])
		assert.Equal(t, model.MsgText, body["msgtype"])

		writeJSON(w, map[string]string{"event_id": "$evt"})
	}))
	defer srv.Close()

	b := authedBackend(t, srv.URL)

	msg := &model.Message{
		Sender: "@alice:example.org",
		MType:  model.MsgText,
		Body:   "hi",
		Room:   "!r:x",
		Date:   time.UnixMilli(1500000000000),
	}

	b.sendMsg(msg)

	sent := nextResponse(t, b, RespSentMsg).Data.(SentMsgData)
	assert.Equal(t, msg.TransactionID(), sent.TxnID)
	assert.Equal(t, "$evt", sent.EventID)
	assert.True(t, strings.HasSuffix(gotPath, "/send/m.room.message/"+sent.TxnID))
}

func TestSendMsgServerErrorPassthrough(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"errcode":"M_FORBIDDEN","error":"denied"}`))
	}))
	defer srv.Close()

	b := authedBackend(t, srv.URL)
	b.sendMsg(&model.Message{MType: model.MsgText, Body: "hi", Room: "!r:x", Date: time.Now()})

	failed := nextResponse(t, b, RespSendMsgError).Data.(SendMsgErrorData)

	var serr *matrix.ServerError
	require.True(t, errors.As(failed.Err, &serr))
	assert.Equal(t, "M_FORBIDDEN", serr.Code)
	assert.Equal(t, "denied", serr.Message)
	assert.Equal(t, http.StatusForbidden, serr.StatusCode)
}

func TestJoinRoomRecordsHint(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		assert.Contains(t, r.URL.Path, "/join/")
		writeJSON(w, map[string]string{"room_id": "!r:x"})
	}))
	defer srv.Close()

	b := authedBackend(t, srv.URL)
	b.joinRoom("#alias:x")

	joined := nextResponse(t, b, RespJoinedRoom).Data.(JoinedRoomData)
	assert.Equal(t, "!r:x", joined.RoomID)

	b.mu.Lock()
	assert.Equal(t, "!r:x", b.session.joinTarget)
	b.mu.Unlock()
}

func TestDirectorySearchPagination(t *testing.T) {
	var calls int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)

		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))

		if atomic.AddInt32(&calls, 1) == 1 {
			assert.Nil(t, body["since"])
			writeJSON(w, map[string]interface{}{
				"chunk":      []map[string]interface{}{{"room_id": "!one:x", "name": "One"}},
				"next_batch": "p2",
			})

			return
		}

		assert.Equal(t, "p2", body["since"])
		writeJSON(w, map[string]interface{}{
			"chunk": []map[string]interface{}{{"room_id": "!two:x", "name": "Two"}},
		})
	}))
	defer srv.Close()

	b := authedBackend(t, srv.URL)

	b.directorySearch("", "", false)
	first := nextResponse(t, b, RespDirectorySearch).Data.(DirectorySearchResultsData)
	require.Len(t, first.Rooms, 1)

	b.directorySearch("", "", true)
	second := nextResponse(t, b, RespDirectorySearch).Data.(DirectorySearchResultsData)
	require.Len(t, second.Rooms, 1)

	assert.NotEqual(t, first.Rooms[0].ID, second.Rooms[0].ID)
}

func TestDirectoryProtocolsNativeFirst(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]interface{}{
			"irc": map[string]interface{}{
				"instances": []map[string]interface{}{
					{"desc": "Freenode", "instance_id": "irc-freenode"},
				},
			},
		})
	}))
	defer srv.Close()

	b := authedBackend(t, srv.URL)
	b.directoryProtocols()

	got := nextResponse(t, b, RespDirectoryProtocols).Data.(DirectoryProtocolsData)
	require.Len(t, got.Protocols, 2)
	assert.Empty(t, got.Protocols[0].ID)
	assert.Equal(t, model.Protocol{ID: "irc-freenode", Description: "Freenode"}, got.Protocols[1])
}

func TestUserCacheSharesInFlightFetch(t *testing.T) {
	var fetches int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, "/profile/")
		atomic.AddInt32(&fetches, 1)
		time.Sleep(30 * time.Millisecond)
		writeJSON(w, map[string]string{"displayname": "Alice"})
	}))
	defer srv.Close()

	b := authedBackend(t, srv.URL)

	first := make(chan [2]string, 1)
	second := make(chan [2]string, 1)
	b.users.getAsync("@alice:example.org", first)
	b.users.getAsync("@alice:example.org", second)

	for _, reply := range []chan [2]string{first, second} {
		select {
		case info := <-reply:
			assert.Equal(t, "Alice", info[0])
			// No avatar URL, so the identicon fallback kicked in.
			assert.FileExists(t, info[1])
		case <-time.After(5 * time.Second):
			t.Fatal("reply never arrived")
		}
	}

	assert.EqualValues(t, 1, atomic.LoadInt32(&fetches))
}

func TestGetThumbAsync(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, "/_matrix/media/r0/thumbnail/x/abc")
		assert.Equal(t, "64", r.URL.Query().Get("width"))
		_, _ = w.Write([]byte("png-bytes"))
	}))
	defer srv.Close()

	b := authedBackend(t, srv.URL)

	reply := make(chan string, 1)
	b.getThumbAsync("mxc://x/abc", 0, 0, reply)

	path := <-reply
	require.NotEmpty(t, path)
	assert.True(t, strings.HasSuffix(path, "/thumbs/abc"))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "png-bytes", string(raw))
}

func TestFetchMediaServesCachedCopy(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("cached media must not be re-fetched")
	}))
	defer srv.Close()

	b := authedBackend(t, srv.URL)

	dest := b.mediaPath("abc")
	require.NoError(t, os.MkdirAll(b.cfg.CacheDir+"/medias", 0o700))
	require.NoError(t, os.WriteFile(dest, []byte("cached"), 0o600))

	path, err := b.fetchFullMedia("mxc://x/abc")
	require.NoError(t, err)
	assert.Equal(t, dest, path)
}

func TestMarkerStoreRoundTrip(t *testing.T) {
	store, err := openMarkerStore(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.Set("@alice:x", "!r:x", "$evt"))

	got, err := store.Get("@alice:x", "!r:x")
	require.NoError(t, err)
	assert.Equal(t, "$evt", got)

	missing, err := store.Get("@alice:x", "!other:x")
	require.NoError(t, err)
	assert.Empty(t, missing)
}

func TestClientURLRequiresToken(t *testing.T) {
	b := newTestBackend(t, "https://example.org")

	_, err := b.clientURL("sync", nil)
	assert.ErrorIs(t, err, matrix.ErrNotAuthenticated)
}

func TestSnapshotPersistsUsername(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.URL.Path, "/login") {
			writeJSON(w, map[string]interface{}{
				"access_token": "tk",
				"user_id":      "@alice:example.org",
			})

			return
		}

		writeJSON(w, map[string]interface{}{"next_batch": "s_1"})
	}))
	defer srv.Close()

	b := newTestBackend(t, srv.URL)
	b.login("alice", "pw", srv.URL)
	nextResponse(t, b, RespSync)

	b.storeSnapshot()

	data, err := b.roomCache.Load()
	require.NoError(t, err)
	assert.Equal(t, "alice", data.Username)
	assert.Equal(t, "@alice:example.org", data.UID)
}

func TestGetMessageContextRequiresEventID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("unexpected request %s", r.URL.Path)
	}))
	defer srv.Close()

	b := authedBackend(t, srv.URL)
	b.getMessageContext(&model.Message{Room: "!r:x"})

	resp := nextResponse(t, b, RespCommandError)
	assert.Equal(t, CmdGetMessageContext, resp.Data.(CommandErrorData).Command)
}

func TestGetRoomMessagesDoublesLimit(t *testing.T) {
	var limits []string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Contains(t, r.URL.Path, "/messages")
		assert.Equal(t, "b", r.URL.Query().Get("dir"))
		assert.Equal(t, "t0", r.URL.Query().Get("from"))

		limit := r.URL.Query().Get("limit")
		limits = append(limits, limit)

		if limit == "40" {
			// A page of nothing but state keeps the pagination going.
			writeJSON(w, map[string]interface{}{
				"chunk": []map[string]interface{}{
					{
						"type": "m.room.member", "event_id": "$m1", "sender": "@bob:example.org",
						"state_key": "@bob:example.org", "origin_server_ts": 1000,
						"content": map[string]interface{}{"membership": "join"},
					},
				},
				"start": "t0",
				"end":   "t1",
			})

			return
		}

		writeJSON(w, map[string]interface{}{"chunk": []interface{}{}, "start": "t0", "end": "t2"})
	}))
	defer srv.Close()

	b := authedBackend(t, srv.URL)
	b.mu.Lock()
	b.session.since = "t0"
	b.mu.Unlock()

	b.getRoomMessages("!r:x")

	assert.Equal(t, []string{"40", "80"}, limits)

	data := nextResponse(t, b, RespRoomMessagesTo).Data.(RoomMessagesToData)
	assert.Empty(t, data.Msgs)
	assert.Equal(t, "t2", data.End)
}

func TestGetMessageContextDoublesLimit(t *testing.T) {
	var limits []string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Contains(t, r.URL.Path, "/context/$target")

		limit := r.URL.Query().Get("limit")
		limits = append(limits, limit)

		if limit == "40" {
			// Only state within the window, so the caller widens it.
			writeJSON(w, map[string]interface{}{
				"events_before": []map[string]interface{}{
					{
						"type": "m.room.member", "event_id": "$m1", "sender": "@bob:example.org",
						"state_key": "@bob:example.org", "origin_server_ts": 1000,
						"content": map[string]interface{}{"membership": "join"},
					},
				},
			})

			return
		}

		writeJSON(w, map[string]interface{}{
			"events_before": []map[string]interface{}{
				{
					"type": "m.room.message", "event_id": "$m2", "sender": "@bob:example.org",
					"origin_server_ts": 2000,
					"content":          map[string]interface{}{"msgtype": "m.text", "body": "hello"},
				},
			},
		})
	}))
	defer srv.Close()

	b := authedBackend(t, srv.URL)
	b.getMessageContext(&model.Message{ID: "$target", Room: "!r:x"})

	assert.Equal(t, []string{"40", "80"}, limits)

	msgs := nextResponse(t, b, RespRoomMessages).Data.(RoomMessagesData).Msgs
	require.Len(t, msgs, 1)
	assert.Equal(t, "hello", msgs[0].Body)
}

func TestMediaSemaphoreCeiling(t *testing.T) {
	var inflight, peak int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&inflight, 1)
		defer atomic.AddInt32(&inflight, -1)

		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}

		time.Sleep(50 * time.Millisecond)
		_, _ = w.Write([]byte("img"))
	}))
	defer srv.Close()

	v := viper.New()
	v.Set("server", srv.URL)
	v.Set("cache_dir", t.TempDir())
	v.Set("config_dir", t.TempDir())
	v.Set("credentials.backend", "file")
	v.Set("media.workers", 2)

	b, err := New(v)
	require.NoError(t, err)

	t.Cleanup(b.close)
	b.adoptSession(srv.URL, "tk", "@alice:example.org")

	var wg sync.WaitGroup

	for i := 0; i < 6; i++ {
		wg.Add(1)

		go func(i int) {
			defer wg.Done()

			_, err := b.fetchFullMedia(fmt.Sprintf("mxc://example.org/media%d", i))
			assert.NoError(t, err)
		}(i)
	}

	wg.Wait()

	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(2))
}
