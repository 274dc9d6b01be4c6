package backend

import "github.com/fractal-im/fractal-go/pkg/model"

// Response is one message from the engine back to the presentation
// layer. The response channel is multi-producer: the dispatcher, the
// workers and the sync loop all publish on it.
type Response struct {
	Type string
	Data interface{}
}

const (
	RespToken         = "token"
	RespLogout        = "logout"
	RespName          = "name"
	RespAvatar        = "avatar"
	RespLoginError    = "login_error"
	RespGuestError    = "guest_error"
	RespRegisterError = "register_error"

	RespSync      = "sync"
	RespSyncError = "sync_error"

	RespRooms             = "rooms"
	RespNewRooms          = "new_rooms"
	RespRoomMessages      = "room_messages"
	RespRoomMessagesTo    = "room_messages_to"
	RespRoomNotifications = "room_notifications"
	RespRoomName          = "room_name"
	RespRoomTopic         = "room_topic"
	RespNewRoomAvatar     = "new_room_avatar"
	RespRoomMemberEvent   = "room_member_event"
	RespRoomAvatar        = "room_avatar"

	RespSentMsg      = "sent_msg"
	RespSendMsgError = "send_msg_error"
	RespAttachedFile = "attached_file"

	RespJoinedRoom   = "joined_room"
	RespLeftRoom     = "left_room"
	RespMarkedAsRead = "marked_as_read"
	RespNewRoom      = "new_room"
	RespAddedToFav   = "added_to_fav"
	RespInvited      = "invited"

	RespSearch    = "search"
	RespSearchEnd = "search_end"

	RespUserSearch = "user_search"

	RespMedia = "media"

	RespDirectoryProtocols = "directory_protocols"
	RespDirectorySearch    = "directory_search"

	// RespCommandError reports a failed operation that has no richer
	// error variant of its own.
	RespCommandError = "command_error"
)

type TokenData struct {
	UID   string
	Token string
}

type NameData struct {
	Name string
}

type AvatarData struct {
	Path string
}

type SyncDoneData struct {
	Since string
}

type SyncErrorData struct {
	Err error
}

type RoomsData struct {
	Rooms []*model.Room
	// Default is the room to select, set when a join-target hint
	// matched the cold sync. Nil leaves the selection alone.
	Default *model.Room
}

type NewRoomsData struct {
	Rooms []*model.Room
}

type RoomMessagesData struct {
	Msgs []*model.Message
}

type RoomMessagesToData struct {
	Msgs  []*model.Message
	Start string
	End   string
}

type RoomNotificationsData struct {
	RoomID        string
	Notifications int
	Highlights    int
}

type RoomNameData struct {
	RoomID string
	Name   string
}

type RoomTopicData struct {
	RoomID string
	Topic  string
}

type NewRoomAvatarData struct {
	RoomID string
	Avatar string
}

type RoomMemberEventData struct {
	Event *model.Event
}

type RoomAvatarData struct {
	RoomID string
	Path   string
}

type SentMsgData struct {
	TxnID   string
	EventID string
}

type SendMsgErrorData struct {
	TxnID string
	Err   error
}

type AttachedFileData struct {
	Msg *model.Message
}

type JoinedRoomData struct {
	RoomID string
}

type LeftRoomData struct {
	RoomID string
}

type MarkedAsReadData struct {
	RoomID  string
	EventID string
}

type NewRoomResponseData struct {
	Room     *model.Room
	ClientID string
}

type AddedToFavData struct {
	RoomID string
	Fav    bool
}

type InvitedData struct {
	RoomID string
	UserID string
}

type SearchResultsData struct {
	Msgs []*model.Message
}

type UserSearchResultsData struct {
	Users []*model.Member
}

type MediaData struct {
	MXC  string
	Path string
}

type DirectoryProtocolsData struct {
	Protocols []model.Protocol
}

type DirectorySearchResultsData struct {
	Rooms []*model.Room
}

type CommandErrorData struct {
	Command string
	Err     error
}
