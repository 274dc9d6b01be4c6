package backend

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/fractal-im/fractal-go/pkg/identicon"
	"github.com/fractal-im/fractal-go/pkg/matrix"
	"github.com/fractal-im/fractal-go/pkg/model"
)

// maxPageLimit bounds the doubling of /messages and /context page
// limits, guaranteeing termination on rooms full of state events.
const maxPageLimit = 1280

// errNoEventID rejects context lookups for messages the server has
// not acknowledged yet.
var errNoEventID = errors.New("message has no event id")

func (b *Backend) setRoom(roomID string) {
	b.mu.Lock()
	b.activeRoom = roomID
	b.mu.Unlock()
}

func (b *Backend) sendMsg(msg *model.Message) {
	txn := msg.TransactionID()

	b.mu.Lock()
	b.session.txnCounter++
	counter := b.session.txnCounter
	b.mu.Unlock()

	b.logger.Debugf("sending message %d (txn %s) to %s", counter, txn, msg.Room)

	url, err := b.clientURL("rooms/"+msg.Room+"/send/m.room.message/"+txn, nil)
	if err != nil {
		b.send(&Response{Type: RespSendMsgError, Data: SendMsgErrorData{TxnID: txn, Err: err}})
		return
	}

	body := map[string]interface{}{
		"msgtype": msg.MType,
		"body":    msg.Body,
	}

	if msg.URL != "" {
		body["url"] = msg.URL
	}

	if msg.FormattedBody != "" {
		body["formatted_body"] = msg.FormattedBody
		body["format"] = msg.Format
	}

	var resp matrix.SendResponse
	if err := b.api.RequestInto(http.MethodPut, url, body, &resp, matrix.DefaultTimeout); err != nil {
		b.send(&Response{Type: RespSendMsgError, Data: SendMsgErrorData{TxnID: txn, Err: err}})
		return
	}

	b.send(&Response{Type: RespSentMsg, Data: SentMsgData{TxnID: txn, EventID: resp.EventID}})
}

// attachFile uploads the local file behind msg.URL, then sends the
// message. Messages that already carry an mxc URI go straight out.
func (b *Backend) attachFile(msg *model.Message) {
	if strings.HasPrefix(msg.URL, "mxc://") {
		b.sendMsg(msg)
		return
	}

	base, token, _ := b.snapshotCreds()
	if token == "" {
		b.send(&Response{Type: RespSendMsgError, Data: SendMsgErrorData{TxnID: msg.TransactionID(), Err: matrix.ErrNotAuthenticated}})
		return
	}

	url, err := matrix.MediaURL(base, "upload", []matrix.Param{{Key: "access_token", Value: token}})
	if err != nil {
		b.send(&Response{Type: RespSendMsgError, Data: SendMsgErrorData{TxnID: msg.TransactionID(), Err: err}})
		return
	}

	raw, err := b.api.UploadFile(url, msg.URL)
	if err != nil {
		b.send(&Response{Type: RespSendMsgError, Data: SendMsgErrorData{TxnID: msg.TransactionID(), Err: err}})
		return
	}

	var resp matrix.UploadResponse
	if err := unmarshal(raw, &resp); err != nil || resp.ContentURI == "" {
		b.send(&Response{Type: RespSendMsgError, Data: SendMsgErrorData{TxnID: msg.TransactionID(), Err: matrix.ErrDecoding}})
		return
	}

	msg.URL = resp.ContentURI

	b.send(&Response{Type: RespAttachedFile, Data: AttachedFileData{Msg: msg}})

	b.sendMsg(msg)
}

// getRoomMessages pages the room timeline backwards from the last
// known cursor, doubling the page limit until at least a full page of
// renderable messages accumulated.
func (b *Backend) getRoomMessages(roomID string) {
	from := b.paginationToken(roomID)
	limit := pageLimit

	for {
		url, err := b.clientURL("rooms/"+roomID+"/messages", []matrix.Param{
			{Key: "from", Value: from},
			{Key: "dir", Value: "b"},
			{Key: "limit", Value: strconv.Itoa(limit)},
		})
		if err != nil {
			b.sendError(CmdGetRoomMessages, err)
			return
		}

		var resp matrix.MessagesResponse
		if err := b.api.RequestInto(http.MethodGet, url, nil, &resp, matrix.DefaultTimeout); err != nil {
			b.sendError(CmdGetRoomMessages, err)
			return
		}

		msgs := model.MessagesFromChunk(roomID, resp.Chunk)

		if len(resp.Chunk) == 0 || len(msgs) >= pageLimit || limit >= maxPageLimit {
			b.setPaginationToken(roomID, resp.End)
			b.send(&Response{Type: RespRoomMessagesTo, Data: RoomMessagesToData{
				Msgs:  msgs,
				Start: resp.Start,
				End:   resp.End,
			}})

			return
		}

		limit *= 2
	}
}

// getMessageContext fetches the events around msg. Degenerate
// responses where no renderable message sits within the window are
// retried with a doubled limit, bounded by maxPageLimit.
func (b *Backend) getMessageContext(msg *model.Message) {
	// An optimistic echo has no event id yet, so there is nothing the
	// server could anchor the context on.
	if msg.ID == "" {
		b.sendError(CmdGetMessageContext, errNoEventID)
		return
	}

	limit := pageLimit

	for {
		url, err := b.clientURL("rooms/"+msg.Room+"/context/"+msg.ID, []matrix.Param{
			{Key: "limit", Value: strconv.Itoa(limit)},
		})
		if err != nil {
			b.sendError(CmdGetMessageContext, err)
			return
		}

		var resp matrix.ContextResponse
		if err := b.api.RequestInto(http.MethodGet, url, nil, &resp, matrix.DefaultTimeout); err != nil {
			b.sendError(CmdGetMessageContext, err)
			return
		}

		msgs := model.MessagesFromChunk(msg.Room, resp.EventsBefore)

		if len(msgs) == 0 && len(resp.EventsBefore) > 0 && limit < maxPageLimit {
			limit *= 2
			continue
		}

		b.send(&Response{Type: RespRoomMessages, Data: RoomMessagesData{Msgs: msgs}})

		return
	}
}

func (b *Backend) joinRoom(roomIDOrAlias string) {
	url, err := b.clientURL("join/"+roomIDOrAlias, nil)
	if err != nil {
		b.sendError(CmdJoinRoom, err)
		return
	}

	var resp matrix.JoinResponse
	if err := b.api.RequestInto(http.MethodPost, url, struct{}{}, &resp, matrix.DefaultTimeout); err != nil {
		b.sendError(CmdJoinRoom, err)
		return
	}

	roomID := resp.RoomID
	if roomID == "" {
		roomID = roomIDOrAlias
	}

	// The next sync that contains this room selects it in the UI.
	b.mu.Lock()
	b.session.joinTarget = roomID
	b.mu.Unlock()

	b.send(&Response{Type: RespJoinedRoom, Data: JoinedRoomData{RoomID: roomID}})
}

func (b *Backend) leaveRoom(roomID string) {
	url, err := b.clientURL("rooms/"+roomID+"/leave", nil)
	if err != nil {
		b.sendError(CmdLeaveRoom, err)
		return
	}

	if _, err := b.api.RequestJSON(http.MethodPost, url, struct{}{}, matrix.DefaultTimeout); err != nil {
		b.sendError(CmdLeaveRoom, err)
		return
	}

	b.send(&Response{Type: RespLeftRoom, Data: LeftRoomData{RoomID: roomID}})
}

func (b *Backend) markAsRead(roomID, eventID string) {
	url, err := b.clientURL("rooms/"+roomID+"/receipt/m.read/"+eventID, nil)
	if err != nil {
		b.sendError(CmdMarkAsRead, err)
		return
	}

	if _, err := b.api.RequestJSON(http.MethodPost, url, struct{}{}, matrix.DefaultTimeout); err != nil {
		b.sendError(CmdMarkAsRead, err)
		return
	}

	_, _, uid := b.snapshotCreds()

	if b.markers != nil {
		if err := b.markers.Set(uid, roomID, eventID); err != nil {
			b.logger.Debugf("persisting read marker: %v", err)
		}
	}

	b.send(&Response{Type: RespMarkedAsRead, Data: MarkedAsReadData{RoomID: roomID, EventID: eventID}})
}

// LastViewed returns the persisted read marker for a room, "" when
// none is known.
func (b *Backend) LastViewed(roomID string) string {
	if b.markers == nil {
		return ""
	}

	_, _, uid := b.snapshotCreds()

	eventID, err := b.markers.Get(uid, roomID)
	if err != nil {
		return ""
	}

	return eventID
}

func (b *Backend) setRoomName(roomID, name string) {
	url, err := b.clientURL("rooms/"+roomID+"/state/m.room.name", nil)
	if err != nil {
		b.sendError(CmdSetRoomName, err)
		return
	}

	if _, err := b.api.RequestJSON(http.MethodPut, url, map[string]string{"name": name}, matrix.DefaultTimeout); err != nil {
		b.sendError(CmdSetRoomName, err)
		return
	}

	b.send(&Response{Type: RespRoomName, Data: RoomNameData{RoomID: roomID, Name: name}})
}

func (b *Backend) setRoomTopic(roomID, topic string) {
	url, err := b.clientURL("rooms/"+roomID+"/state/m.room.topic", nil)
	if err != nil {
		b.sendError(CmdSetRoomTopic, err)
		return
	}

	if _, err := b.api.RequestJSON(http.MethodPut, url, map[string]string{"topic": topic}, matrix.DefaultTimeout); err != nil {
		b.sendError(CmdSetRoomTopic, err)
		return
	}

	b.send(&Response{Type: RespRoomTopic, Data: RoomTopicData{RoomID: roomID, Topic: topic}})
}

func (b *Backend) setRoomAvatar(roomID, path string) {
	base, token, _ := b.snapshotCreds()
	if token == "" {
		b.sendError(CmdSetRoomAvatar, matrix.ErrNotAuthenticated)
		return
	}

	uploadURL, err := matrix.MediaURL(base, "upload", []matrix.Param{{Key: "access_token", Value: token}})
	if err != nil {
		b.sendError(CmdSetRoomAvatar, err)
		return
	}

	raw, err := b.api.UploadFile(uploadURL, path)
	if err != nil {
		b.sendError(CmdSetRoomAvatar, err)
		return
	}

	var upload matrix.UploadResponse
	if err := unmarshal(raw, &upload); err != nil || upload.ContentURI == "" {
		b.sendError(CmdSetRoomAvatar, matrix.ErrDecoding)
		return
	}

	url, err := b.clientURL("rooms/"+roomID+"/state/m.room.avatar", nil)
	if err != nil {
		b.sendError(CmdSetRoomAvatar, err)
		return
	}

	if _, err := b.api.RequestJSON(http.MethodPut, url, map[string]string{"url": upload.ContentURI}, matrix.DefaultTimeout); err != nil {
		b.sendError(CmdSetRoomAvatar, err)
		return
	}

	b.send(&Response{Type: RespNewRoomAvatar, Data: NewRoomAvatarData{RoomID: roomID, Avatar: upload.ContentURI}})
}

func (b *Backend) getRoomAvatar(roomID string) {
	url, err := b.clientURL("rooms/"+roomID+"/state/m.room.avatar", nil)
	if err != nil {
		b.sendError(CmdGetRoomAvatar, err)
		return
	}

	path := ""

	var state struct {
		URL string `json:"url"`
	}

	err = b.api.RequestInto(http.MethodGet, url, nil, &state, matrix.DefaultTimeout)

	switch {
	case err == nil && state.URL != "":
		if p, ferr := b.fetchThumb(state.URL, defaultThumbSize, defaultThumbSize); ferr == nil {
			path = p
		}
	case err == nil || matrix.IsNotFound(err):
		p, rerr := identicon.Render(b.thumbPath(strings.TrimPrefix(roomID, "!")), roomID, "")
		if rerr == nil {
			path = p
		}
	default:
		b.sendError(CmdGetRoomAvatar, err)
		return
	}

	b.send(&Response{Type: RespRoomAvatar, Data: RoomAvatarData{RoomID: roomID, Path: path}})
}

func (b *Backend) addToFav(roomID string, fav bool) {
	_, _, uid := b.snapshotCreds()

	url, err := b.clientURL("user/"+uid+"/rooms/"+roomID+"/tags/m.favourite", nil)
	if err != nil {
		b.sendError(CmdAddToFav, err)
		return
	}

	if fav {
		_, err = b.api.RequestJSON(http.MethodPut, url, map[string]interface{}{"order": 0.5}, matrix.DefaultTimeout)
	} else {
		_, err = b.api.RequestJSON(http.MethodDelete, url, nil, matrix.DefaultTimeout)
	}

	if err != nil {
		b.sendError(CmdAddToFav, err)
		return
	}

	b.send(&Response{Type: RespAddedToFav, Data: AddedToFavData{RoomID: roomID, Fav: fav}})
}

func (b *Backend) invite(roomID, userID string) {
	url, err := b.clientURL("rooms/"+roomID+"/invite", nil)
	if err != nil {
		b.sendError(CmdInvite, err)
		return
	}

	if _, err := b.api.RequestJSON(http.MethodPost, url, map[string]string{"user_id": userID}, matrix.DefaultTimeout); err != nil {
		b.sendError(CmdInvite, err)
		return
	}

	b.send(&Response{Type: RespInvited, Data: InvitedData{RoomID: roomID, UserID: userID}})
}

func (b *Backend) newRoom(name, visibility, clientID string) {
	preset := "private_chat"
	if visibility == RoomVisibilityPublic {
		preset = "public_chat"
	} else {
		visibility = RoomVisibilityPrivate
	}

	url, err := b.clientURL("createRoom", nil)
	if err != nil {
		b.sendError(CmdNewRoom, err)
		return
	}

	body := map[string]interface{}{
		"name":       name,
		"visibility": visibility,
		"preset":     preset,
	}

	var resp matrix.CreateRoomResponse
	if err := b.api.RequestInto(http.MethodPost, url, body, &resp, matrix.DefaultTimeout); err != nil {
		b.sendError(CmdNewRoom, err)
		return
	}

	room := model.NewRoom(resp.RoomID, model.MembershipJoined)
	room.Name = name

	b.mu.Lock()
	b.session.joinTarget = resp.RoomID
	b.mu.Unlock()

	b.send(&Response{Type: RespNewRoom, Data: NewRoomResponseData{Room: room, ClientID: clientID}})
}

func (b *Backend) directChat(user *model.Member, clientID string) {
	url, err := b.clientURL("createRoom", nil)
	if err != nil {
		b.sendError(CmdDirectChat, err)
		return
	}

	body := map[string]interface{}{
		"invite":     []string{user.UID},
		"visibility": "private",
		"preset":     "private_chat",
		"is_direct":  true,
	}

	var resp matrix.CreateRoomResponse
	if err := b.api.RequestInto(http.MethodPost, url, body, &resp, matrix.DefaultTimeout); err != nil {
		b.sendError(CmdDirectChat, err)
		return
	}

	b.persistDirect(user.UID, resp.RoomID)

	room := model.NewRoom(resp.RoomID, model.MembershipJoined)
	room.Name = user.DisplayName()
	room.Direct = true
	room.Members[user.UID] = user

	b.mu.Lock()
	b.session.joinTarget = resp.RoomID
	b.mu.Unlock()

	b.send(&Response{Type: RespNewRoom, Data: NewRoomResponseData{Room: room, ClientID: clientID}})
}

// persistDirect merges the new room into the account's m.direct map
// so other clients agree on the directness.
func (b *Backend) persistDirect(uid, roomID string) {
	_, _, self := b.snapshotCreds()

	url, err := b.clientURL("user/"+self+"/account_data/m.direct", nil)
	if err != nil {
		b.logger.Debugf("m.direct update: %v", err)
		return
	}

	directs := map[string][]string{}
	if err := b.api.RequestInto(http.MethodGet, url, nil, &directs, matrix.DefaultTimeout); err != nil {
		directs = map[string][]string{}
	}

	directs[uid] = append(directs[uid], roomID)

	if _, err := b.api.RequestJSON(http.MethodPut, url, directs, matrix.DefaultTimeout); err != nil {
		b.logger.Debugf("m.direct update: %v", err)
	}
}

func (b *Backend) search(roomID, term string) {
	if term == "" {
		b.send(&Response{Type: RespSearchEnd})
		go b.getRoomMessages(roomID)

		return
	}

	url, err := b.clientURL("search", nil)
	if err != nil {
		b.sendError(CmdSearch, err)
		return
	}

	body := map[string]interface{}{
		"search_categories": map[string]interface{}{
			"room_events": map[string]interface{}{
				"search_term": term,
				"keys":        []string{"content.body"},
				"order_by":    "recent",
				"filter": map[string]interface{}{
					"rooms": []string{roomID},
				},
			},
		},
	}

	var resp matrix.SearchResponse
	if err := b.api.RequestInto(http.MethodPost, url, body, &resp, matrix.DefaultTimeout); err != nil {
		b.sendError(CmdSearch, err)
		b.send(&Response{Type: RespSearchEnd})

		return
	}

	var events []matrix.Event
	for _, result := range resp.SearchCategories.RoomEvents.Results {
		events = append(events, result.Result)
	}

	msgs := model.MessagesFromChunk(roomID, events)

	// Search results render newest first.
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}

	b.send(&Response{Type: RespSearch, Data: SearchResultsData{Msgs: msgs}})
	b.send(&Response{Type: RespSearchEnd})
}

func (b *Backend) userSearch(term string) {
	url, err := b.clientURL("user_directory/search", nil)
	if err != nil {
		b.sendError(CmdUserSearch, err)
		return
	}

	body := map[string]interface{}{
		"search_term": term,
		"limit":       pageLimit,
	}

	var resp matrix.UserDirectoryResponse
	if err := b.api.RequestInto(http.MethodPost, url, body, &resp, matrix.DefaultTimeout); err != nil {
		b.sendError(CmdUserSearch, err)
		return
	}

	users := make([]*model.Member, 0, len(resp.Results))
	for _, u := range resp.Results {
		users = append(users, &model.Member{
			UID:    u.UserID,
			Alias:  u.DisplayName,
			Avatar: u.AvatarURL,
		})
	}

	b.send(&Response{Type: RespUserSearch, Data: UserSearchResultsData{Users: users}})
}

func (b *Backend) paginationToken(roomID string) string {
	b.mu.Lock()
	defer b.mu.Unlock()

	if token, ok := b.pagination[roomID]; ok && token != "" {
		return token
	}

	return b.session.since
}

func (b *Backend) setPaginationToken(roomID, token string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.pagination[roomID] = token
}
