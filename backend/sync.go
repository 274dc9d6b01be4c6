package backend

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/jpillora/backoff"

	"github.com/fractal-im/fractal-go/pkg/cache"
	"github.com/fractal-im/fractal-go/pkg/matrix"
	"github.com/fractal-im/fractal-go/pkg/model"
)

// longPollTimeoutMS is the server-side hold on warm /sync calls.
const longPollTimeoutMS = 30000

// runSyncLoop is the long-poll engine. One instance runs at a time;
// it exits when the session has no token or on shutdown, and the
// login path restarts it.
func (b *Backend) runSyncLoop() {
	b.mu.Lock()
	if b.syncRunning {
		b.mu.Unlock()
		return
	}

	b.syncRunning = true
	b.mu.Unlock()

	defer func() {
		b.mu.Lock()
		b.syncRunning = false
		b.mu.Unlock()
	}()

	bo := &backoff.Backoff{
		Min:    10 * time.Second,
		Max:    5 * time.Minute,
		Jitter: true,
	}

	for {
		select {
		case <-b.quit:
			return
		default:
		}

		base, token, uid := b.snapshotCreds()
		if token == "" {
			b.send(&Response{Type: RespSyncError, Data: SyncErrorData{Err: matrix.ErrNotAuthenticated}})
			return
		}

		b.mu.Lock()
		since := b.session.since
		b.mu.Unlock()

		params := []matrix.Param{{Key: "access_token", Value: token}}
		httpTimeout := matrix.DefaultTimeout

		if since == "" {
			// Cold start: a server-side filter keeps the response
			// small and the request returns immediately.
			filter, err := json.Marshal(coldStartFilter())
			if err == nil {
				params = append(params, matrix.Param{Key: "filter", Value: string(filter)})
			}

			params = append(params, matrix.Param{Key: "timeout", Value: "0"})
		} else {
			params = append(params,
				matrix.Param{Key: "since", Value: since},
				matrix.Param{Key: "timeout", Value: "30000"},
			)
			httpTimeout = longPollTimeoutMS/1000 + 10
		}

		url, err := matrix.ClientURL(base, "sync", params)
		if err != nil {
			b.send(&Response{Type: RespSyncError, Data: SyncErrorData{Err: err}})
			return
		}

		var resp matrix.SyncResponse
		if err := b.api.RequestInto(http.MethodGet, url, nil, &resp, httpTimeout); err != nil {
			b.send(&Response{Type: RespSyncError, Data: SyncErrorData{Err: err}})

			// Mandatory back-off so a down server is not hammered.
			select {
			case <-time.After(bo.Duration()):
			case <-b.quit:
				return
			}

			continue
		}

		bo.Reset()

		b.processSync(&resp, since, uid)

		// The cursor is published only after every derived response
		// has been delivered; observing Sync(c) means the iteration
		// is complete.
		b.mu.Lock()
		b.session.since = resp.NextBatch
		b.mu.Unlock()

		b.send(&Response{Type: RespSync, Data: SyncDoneData{Since: resp.NextBatch}})
	}
}

// coldStartFilter requests only the room state and message timeline
// needed to render the sidebar: m.room.* state without the (large)
// member list, message events capped at one page, no ephemerals and
// no presence.
func coldStartFilter() *matrix.Filter {
	return &matrix.Filter{
		Room: &matrix.RoomFilter{
			State: &matrix.FilterPart{
				Types:    []string{"m.room.*"},
				NotTypes: []string{"m.room.member"},
			},
			Timeline: &matrix.FilterPart{
				Types: []string{"m.room.message"},
				Limit: pageLimit,
			},
			Ephemeral: &matrix.FilterPart{Types: []string{}},
		},
		Presence: &matrix.FilterPart{Types: []string{}},
	}
}

// storeSnapshot persists the current room model to the cache file.
// Called on shutdown and whenever new rooms arrive.
func (b *Backend) storeSnapshot() {
	b.mu.Lock()
	rooms := make(map[string]*model.Room, len(b.knownRooms))
	last := make(map[string]*model.Message)

	for id, room := range b.knownRooms {
		c := room.Copy()
		rooms[id] = c

		if n := len(c.Messages); n > 0 {
			last[id] = c.Messages[n-1]
		}
	}

	data := &cache.Data{
		Since:              b.session.since,
		Rooms:              rooms,
		Username:           b.session.username,
		UID:                b.session.uid,
		LastViewedMessages: last,
	}
	b.mu.Unlock()

	if data.UID == "" {
		return
	}

	if err := b.roomCache.Store(data); err != nil {
		b.logger.Debugf("storing room snapshot: %v", err)
	}
}

// RestoreFromCache primes the engine from the on-disk snapshot so the
// UI can render before the first sync completes. The snapshot is only
// adopted when it belongs to the logged-in account; the next sync
// overrides it either way.
func (b *Backend) RestoreFromCache() {
	data, err := b.roomCache.Load()
	if err != nil {
		b.logger.Debugf("no usable room snapshot: %v", err)
		return
	}

	_, _, uid := b.snapshotCreds()
	if data.UID == "" || data.UID != uid {
		return
	}

	b.mu.Lock()
	b.session.since = data.Since
	b.knownRooms = data.Rooms

	if b.session.username == "" {
		b.session.username = data.Username
	}

	rooms := roomList(data.Rooms)
	b.mu.Unlock()

	if len(rooms) > 0 {
		b.send(&Response{Type: RespRooms, Data: RoomsData{Rooms: rooms}})
	}
}
