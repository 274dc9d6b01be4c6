package backend

import "github.com/fractal-im/fractal-go/pkg/model"

// Command is one request from the presentation layer. Type selects
// the operation, Data carries the matching payload struct.
type Command struct {
	Type string
	Data interface{}
}

// Command types. The dispatcher consumes these; anything that touches
// the network runs on a short-lived worker goroutine.
const (
	CmdLogin    = "login"
	CmdSetToken = "set_token"
	CmdLogout   = "logout"
	CmdRegister = "register"
	CmdGuest    = "guest"

	CmdGetUsername      = "get_username"
	CmdGetAvatar        = "get_avatar"
	CmdGetUserInfoAsync = "get_user_info_async"

	CmdSync       = "sync"
	CmdSyncForced = "sync_forced"

	CmdSetRoom           = "set_room"
	CmdGetRoomMessages   = "get_room_messages"
	CmdGetMessageContext = "get_message_context"
	CmdSendMsg           = "send_msg"
	CmdGetRoomAvatar     = "get_room_avatar"
	CmdJoinRoom          = "join_room"
	CmdLeaveRoom         = "leave_room"
	CmdMarkAsRead        = "mark_as_read"
	CmdSetRoomName       = "set_room_name"
	CmdSetRoomTopic      = "set_room_topic"
	CmdSetRoomAvatar     = "set_room_avatar"
	CmdAttachFile        = "attach_file"
	CmdAttachImage       = "attach_image"
	CmdNewRoom           = "new_room"
	CmdDirectChat        = "direct_chat"
	CmdAddToFav          = "add_to_fav"
	CmdAcceptInv         = "accept_inv"
	CmdRejectInv         = "reject_inv"
	CmdSearch            = "search"
	CmdUserSearch        = "user_search"
	CmdInvite            = "invite"

	CmdGetThumbAsync = "get_thumb_async"
	CmdGetMediaAsync = "get_media_async"
	CmdGetFileAsync  = "get_file_async"
	CmdGetMedia      = "get_media"

	CmdDirectoryProtocols = "directory_protocols"
	CmdDirectorySearch    = "directory_search"

	CmdShutDown = "shutdown"
)

type LoginData struct {
	Username string
	Password string
	Server   string
}

type SetTokenData struct {
	Token  string
	UID    string
	Server string
}

type RegisterData struct {
	Username string
	Password string
	Server   string
}

type GuestData struct {
	Server string
}

type GetUserInfoData struct {
	UID string
	// Reply receives (displayName, avatarPath). The channel stays
	// owned by the caller.
	Reply chan<- [2]string
}

type SetRoomData struct {
	RoomID string
}

type GetRoomMessagesData struct {
	RoomID string
}

type GetMessageContextData struct {
	Msg *model.Message
}

type SendMsgData struct {
	Msg *model.Message
}

type AttachFileData struct {
	Msg *model.Message
}

type GetRoomAvatarData struct {
	RoomID string
}

type JoinRoomData struct {
	// RoomID is a room id or alias.
	RoomID string
}

type LeaveRoomData struct {
	RoomID string
}

type MarkAsReadData struct {
	RoomID  string
	EventID string
}

type SetRoomNameData struct {
	RoomID string
	Name   string
}

type SetRoomTopicData struct {
	RoomID string
	Topic  string
}

type SetRoomAvatarData struct {
	RoomID string
	// Path of the local image to upload.
	Path string
}

type NewRoomData struct {
	Name       string
	Visibility string
	// ClientID is an opaque caller-chosen token echoed back so the UI
	// can reconcile its optimistic placeholder row.
	ClientID string
}

type DirectChatData struct {
	User     *model.Member
	ClientID string
}

type AddToFavData struct {
	RoomID string
	Fav    bool
}

type SearchData struct {
	RoomID string
	Term   string
}

type UserSearchData struct {
	Term string
}

type InviteData struct {
	RoomID string
	UserID string
}

type GetMediaAsyncData struct {
	MXC   string
	Reply chan<- string
}

type GetThumbAsyncData struct {
	MXC    string
	Width  int
	Height int
	Reply  chan<- string
}

type GetMediaData struct {
	MXC string
}

type DirectorySearchData struct {
	Query    string
	Protocol string
	More     bool
}

// Room visibilities for NewRoom.
const (
	RoomVisibilityPublic  = "public"
	RoomVisibilityPrivate = "private"
)
