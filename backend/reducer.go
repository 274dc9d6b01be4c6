package backend

import (
	"net/http"
	"sort"
	"strconv"

	"github.com/davecgh/go-spew/spew"
	"github.com/sirupsen/logrus"

	"github.com/fractal-im/fractal-go/pkg/matrix"
	"github.com/fractal-im/fractal-go/pkg/model"
)

// syncDelta accumulates everything one sync iteration derives before
// it is flushed onto the bus in the documented order.
type syncDelta struct {
	newRooms      []*model.Room
	msgs          []*model.Message
	notifications []RoomNotificationsData
	names         []RoomNameData
	topics        []RoomTopicData
	avatars       []NewRoomAvatarData
	memberEvents  []*model.Event
	left          []string
}

// processSync projects a /sync response onto typed responses. It runs
// on the sync goroutine; the engine is the sole mutator of the room
// projections, so only the map lookups take the lock.
func (b *Backend) processSync(resp *matrix.SyncResponse, since, uid string) {
	if b.rootLogger.IsLevelEnabled(logrus.TraceLevel) {
		b.logger.Trace(spew.Sdump(resp))
	}

	initial := since == ""
	delta := &syncDelta{}
	direct := directRoomSet(resp.AccountData.Events)

	for _, roomID := range sortedJoinIDs(resp.Rooms.Join) {
		jr := resp.Rooms.Join[roomID]
		b.reduceJoinedRoom(roomID, &jr, uid, since, initial, direct, delta)
	}

	for roomID, inv := range resp.Rooms.Invite {
		room, fresh := b.trackRoom(roomID, model.MembershipInvited)
		if !fresh {
			continue
		}

		b.synthesizeInvite(room, inv.InviteState.Events, uid)
		delta.newRooms = append(delta.newRooms, room)
	}

	for roomID := range resp.Rooms.Leave {
		b.forgetRoom(roomID)
		delta.left = append(delta.left, roomID)
	}

	sort.Strings(delta.left)

	b.flush(initial, delta)
}

func (b *Backend) reduceJoinedRoom(roomID string, jr *matrix.JoinedRoom, uid, since string, initial bool, direct map[string]bool, delta *syncDelta) {
	room, fresh := b.trackRoom(roomID, model.MembershipJoined)
	room.Membership = model.MembershipJoined

	if fresh && !initial {
		delta.newRooms = append(delta.newRooms, room)
	}

	for i := range jr.State.Events {
		b.applyStateEvent(room, &jr.State.Events[i], uid, initial, delta)
	}

	if direct[roomID] {
		room.Direct = true
	}

	for i := range jr.AccountData.Events {
		if jr.AccountData.Events[i].Type == "m.tag" {
			room.Fav = hasFavouriteTag(&jr.AccountData.Events[i])
		}
	}

	n := jr.UnreadNotifications.NotificationCount
	h := jr.UnreadNotifications.HighlightCount

	if n != room.Notifications || h != room.Highlights {
		room.Notifications, room.Highlights = n, h

		if !initial {
			delta.notifications = append(delta.notifications, RoomNotificationsData{
				RoomID:        roomID,
				Notifications: n,
				Highlights:    h,
			})
		}
	}

	// A limited timeline has a hole between the prior cursor and its
	// prev_batch; fill it before applying the fresher events so the
	// timeline stays ordered.
	if !initial && jr.Timeline.Limited && jr.Timeline.PrevBatch != "" {
		delta.msgs = append(delta.msgs, b.fillGap(room, since, jr.Timeline.PrevBatch)...)
	}

	for i := range jr.Timeline.Events {
		ev := &jr.Timeline.Events[i]

		if ev.Type == "m.room.message" {
			msg, ok := model.NewMessageFromEvent(roomID, ev)
			if ok && room.AddMessage(msg) && !initial {
				delta.msgs = append(delta.msgs, msg)
			}

			continue
		}

		b.applyStateEvent(room, ev, uid, initial, delta)
	}
}

// applyStateEvent folds one non-message event into the room
// projection. Later events win. On incremental syncs each change also
// produces a response.
func (b *Backend) applyStateEvent(room *model.Room, ev *matrix.Event, uid string, initial bool, delta *syncDelta) {
	switch ev.Type {
	case "m.room.name":
		room.Name = ev.ContentString("name")

		if !initial {
			delta.names = append(delta.names, RoomNameData{RoomID: room.ID, Name: room.CalculateName(uid)})
		}
	case "m.room.canonical_alias":
		room.Alias = ev.ContentString("alias")

		if !initial {
			delta.names = append(delta.names, RoomNameData{RoomID: room.ID, Name: room.CalculateName(uid)})
		}
	case "m.room.topic":
		room.Topic = ev.ContentString("topic")

		if !initial {
			delta.topics = append(delta.topics, RoomTopicData{RoomID: room.ID, Topic: room.Topic})
		}
	case "m.room.avatar":
		room.Avatar = ev.ContentString("url")

		if !initial {
			delta.avatars = append(delta.avatars, NewRoomAvatarData{RoomID: room.ID, Avatar: room.Avatar})
		}
	case "m.room.member":
		b.applyMemberEvent(room, ev, uid, initial, delta)
	case "m.room.power_levels":
		applyPowerLevels(room, ev)
	}
}

// applyMemberEvent updates the member map and, on incremental syncs,
// emits the raw membership event. Rooms named after their members get
// a recomputed name too.
func (b *Backend) applyMemberEvent(room *model.Room, ev *matrix.Event, uid string, initial bool, delta *syncDelta) {
	if ev.StateKey == nil {
		return
	}

	target := *ev.StateKey

	switch ev.ContentString("membership") {
	case "join", "invite":
		room.Members[target] = &model.Member{
			UID:    target,
			Alias:  ev.ContentString("displayname"),
			Avatar: ev.ContentString("avatar_url"),
		}
	case "leave", "ban":
		delete(room.Members, target)
	}

	if initial {
		return
	}

	delta.memberEvents = append(delta.memberEvents, &model.Event{
		Room:    room.ID,
		Sender:  ev.Sender,
		Content: ev.Content,
		Type:    ev.Type,
		ID:      ev.EventID,
	})

	if room.Name == "" && room.Alias == "" {
		delta.names = append(delta.names, RoomNameData{RoomID: room.ID, Name: room.CalculateName(uid)})
	}
}

func applyPowerLevels(room *model.Room, ev *matrix.Event) {
	users, ok := ev.Content["users"].(map[string]interface{})
	if !ok {
		return
	}

	for target, level := range users {
		if v, ok := level.(float64); ok {
			room.PowerLevels[target] = int(v)
		}
	}
}

// synthesizeInvite fills an invite-membership room from its stripped
// state and resolves the inviter through the user-info cache, which
// falls back to an identicon when the inviter has no avatar.
func (b *Backend) synthesizeInvite(room *model.Room, events []matrix.Event, uid string) {
	sender := ""

	for i := range events {
		ev := &events[i]

		switch ev.Type {
		case "m.room.name":
			room.Name = ev.ContentString("name")
		case "m.room.canonical_alias":
			room.Alias = ev.ContentString("alias")
		case "m.room.topic":
			room.Topic = ev.ContentString("topic")
		case "m.room.avatar":
			room.Avatar = ev.ContentString("url")
		case "m.room.member":
			if ev.StateKey != nil && *ev.StateKey == uid {
				sender = ev.Sender
			}
		}
	}

	if sender == "" {
		return
	}

	name, avatar := b.users.get(sender)
	room.InviteSender = &model.Member{UID: sender, Alias: name, Avatar: avatar}

	if room.Name == "" && room.Alias == "" {
		room.Name = room.InviteSender.DisplayName()
	}
}

// fillGap pages /messages forward from the prior cursor up to the
// limited timeline's prev_batch, until a chunk comes back empty.
func (b *Backend) fillGap(room *model.Room, from, to string) []*model.Message {
	var out []*model.Message

	for {
		url, err := b.clientURL("rooms/"+room.ID+"/messages", []matrix.Param{
			{Key: "from", Value: from},
			{Key: "to", Value: to},
			{Key: "dir", Value: "f"},
			{Key: "limit", Value: strconv.Itoa(pageLimit)},
		})
		if err != nil {
			return out
		}

		var resp matrix.MessagesResponse
		if err := b.api.RequestInto(http.MethodGet, url, nil, &resp, matrix.DefaultTimeout); err != nil {
			b.logger.Debugf("gap fill for %s: %v", room.ID, err)
			return out
		}

		if len(resp.Chunk) == 0 {
			return out
		}

		for _, msg := range model.MessagesFromChunk(room.ID, resp.Chunk) {
			if room.AddMessage(msg) {
				out = append(out, msg)
			}
		}

		if resp.End == "" || resp.End == from {
			return out
		}

		from = resp.End
	}
}

// flush delivers the delta in bus order. Cold start collapses into a
// single Rooms response; the cursor itself is published by the loop
// afterwards. Rooms and messages cross the bus as deep copies, the
// live projections stay private to the sync goroutine.
func (b *Backend) flush(initial bool, delta *syncDelta) {
	if initial {
		rooms, def := b.roomListWithDefault()
		b.send(&Response{Type: RespRooms, Data: RoomsData{Rooms: rooms, Default: def}})
		b.storeSnapshot()

		return
	}

	if len(delta.newRooms) > 0 {
		rooms := make([]*model.Room, len(delta.newRooms))
		for i, room := range delta.newRooms {
			rooms[i] = room.Copy()
		}

		b.send(&Response{Type: RespNewRooms, Data: NewRoomsData{Rooms: rooms}})
		b.storeSnapshot()
	}

	if len(delta.msgs) > 0 {
		model.SortMessages(delta.msgs)

		msgs := make([]*model.Message, len(delta.msgs))
		for i, msg := range delta.msgs {
			m := *msg
			msgs[i] = &m
		}

		b.send(&Response{Type: RespRoomMessages, Data: RoomMessagesData{Msgs: msgs}})
	}

	for _, n := range delta.notifications {
		b.send(&Response{Type: RespRoomNotifications, Data: n})
	}

	for _, n := range delta.names {
		b.send(&Response{Type: RespRoomName, Data: n})
	}

	for _, t := range delta.topics {
		b.send(&Response{Type: RespRoomTopic, Data: t})
	}

	for _, a := range delta.avatars {
		b.send(&Response{Type: RespNewRoomAvatar, Data: a})
	}

	for _, ev := range delta.memberEvents {
		b.send(&Response{Type: RespRoomMemberEvent, Data: RoomMemberEventData{Event: ev}})
	}

	for _, id := range delta.left {
		b.send(&Response{Type: RespLeftRoom, Data: LeftRoomData{RoomID: id}})
	}
}

// trackRoom returns the projection for roomID, creating it when the
// room is first seen.
func (b *Backend) trackRoom(roomID, membership string) (*model.Room, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if room, ok := b.knownRooms[roomID]; ok {
		return room, false
	}

	room := model.NewRoom(roomID, membership)
	b.knownRooms[roomID] = room

	return room, true
}

func (b *Backend) forgetRoom(roomID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.knownRooms, roomID)
}

// roomListWithDefault copies the known rooms and resolves the pending
// join-target hint: a matching room becomes the default selection and
// the hint is consumed.
func (b *Backend) roomListWithDefault() ([]*model.Room, *model.Room) {
	b.mu.Lock()
	defer b.mu.Unlock()

	rooms := roomList(b.knownRooms)

	var def *model.Room

	if target := b.session.joinTarget; target != "" {
		for _, room := range rooms {
			if room.ID == target {
				def = room
				b.session.joinTarget = ""

				break
			}
		}
	}

	return rooms, def
}

// roomList returns deep copies sorted by room id.
func roomList(rooms map[string]*model.Room) []*model.Room {
	out := make([]*model.Room, 0, len(rooms))

	for _, room := range rooms {
		out = append(out, room.Copy())
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].ID < out[j].ID
	})

	return out
}

func sortedJoinIDs(join map[string]matrix.JoinedRoom) []string {
	ids := make([]string, 0, len(join))

	for id := range join {
		ids = append(ids, id)
	}

	sort.Strings(ids)

	return ids
}

// directRoomSet flattens the m.direct account-data event, whose
// content maps user ids to lists of room ids.
func directRoomSet(events []matrix.Event) map[string]bool {
	out := make(map[string]bool)

	for i := range events {
		if events[i].Type != "m.direct" {
			continue
		}

		for _, rooms := range events[i].Content {
			list, ok := rooms.([]interface{})
			if !ok {
				continue
			}

			for _, id := range list {
				if s, ok := id.(string); ok {
					out[s] = true
				}
			}
		}
	}

	return out
}

func hasFavouriteTag(ev *matrix.Event) bool {
	tags, ok := ev.Content["tags"].(map[string]interface{})
	if !ok {
		return false
	}

	_, fav := tags["m.favourite"]

	return fav
}
