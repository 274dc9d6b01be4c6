package matrix

import "encoding/json"

// Wire shapes of the client-server API. Only the fields the engine
// consumes are declared; everything else is dropped on decode.

type Event struct {
	Type           string                 `json:"type"`
	EventID        string                 `json:"event_id"`
	Sender         string                 `json:"sender"`
	OriginServerTS int64                  `json:"origin_server_ts"`
	StateKey       *string                `json:"state_key,omitempty"`
	Content        map[string]interface{} `json:"content"`
	Redacts        string                 `json:"redacts,omitempty"`
}

// ContentString returns a string field of the event content, or ""
// when absent or of another type.
func (e *Event) ContentString(key string) string {
	if v, ok := e.Content[key].(string); ok {
		return v
	}

	return ""
}

// ContentInt returns an integer field of the event content. JSON
// numbers decode as float64.
func (e *Event) ContentInt(key string) (int, bool) {
	if v, ok := e.Content[key].(float64); ok {
		return int(v), true
	}

	return 0, false
}

type EventList struct {
	Events []Event `json:"events"`
}

type Timeline struct {
	Events    []Event `json:"events"`
	Limited   bool    `json:"limited"`
	PrevBatch string  `json:"prev_batch"`
}

type UnreadNotifications struct {
	NotificationCount int `json:"notification_count"`
	HighlightCount    int `json:"highlight_count"`
}

type JoinedRoom struct {
	State               EventList           `json:"state"`
	Timeline            Timeline            `json:"timeline"`
	Ephemeral           EventList           `json:"ephemeral"`
	AccountData         EventList           `json:"account_data"`
	UnreadNotifications UnreadNotifications `json:"unread_notifications"`
}

type InvitedRoom struct {
	InviteState EventList `json:"invite_state"`
}

type LeftRoom struct {
	State    EventList `json:"state"`
	Timeline Timeline  `json:"timeline"`
}

type SyncRooms struct {
	Join   map[string]JoinedRoom  `json:"join"`
	Invite map[string]InvitedRoom `json:"invite"`
	Leave  map[string]LeftRoom    `json:"leave"`
}

type SyncResponse struct {
	NextBatch   string    `json:"next_batch"`
	Rooms       SyncRooms `json:"rooms"`
	AccountData EventList `json:"account_data"`
}

type LoginResponse struct {
	UserID      string `json:"user_id"`
	AccessToken string `json:"access_token"`
	DeviceID    string `json:"device_id"`
}

type ProfileResponse struct {
	DisplayName string `json:"displayname"`
	AvatarURL   string `json:"avatar_url"`
}

type MessagesResponse struct {
	Start string  `json:"start"`
	End   string  `json:"end"`
	Chunk []Event `json:"chunk"`
}

type ContextResponse struct {
	Start        string  `json:"start"`
	End          string  `json:"end"`
	EventsBefore []Event `json:"events_before"`
	Event        *Event  `json:"event"`
	EventsAfter  []Event `json:"events_after"`
	State        []Event `json:"state"`
}

type SendResponse struct {
	EventID string `json:"event_id"`
}

type UploadResponse struct {
	ContentURI string `json:"content_uri"`
}

type CreateRoomResponse struct {
	RoomID string `json:"room_id"`
}

type JoinResponse struct {
	RoomID string `json:"room_id"`
}

type SearchResult struct {
	Rank   float64 `json:"rank"`
	Result Event   `json:"result"`
}

type SearchRoomEvents struct {
	Count     int            `json:"count"`
	Results   []SearchResult `json:"results"`
	NextBatch string         `json:"next_batch"`
}

type SearchResponse struct {
	SearchCategories struct {
		RoomEvents SearchRoomEvents `json:"room_events"`
	} `json:"search_categories"`
}

type PublicRoom struct {
	RoomID           string `json:"room_id"`
	Name             string `json:"name"`
	Topic            string `json:"topic"`
	CanonicalAlias   string `json:"canonical_alias"`
	AvatarURL        string `json:"avatar_url"`
	NumJoinedMembers int    `json:"num_joined_members"`
	WorldReadable    bool   `json:"world_readable"`
	GuestCanJoin     bool   `json:"guest_can_join"`
}

type PublicRoomsResponse struct {
	Chunk                  []PublicRoom `json:"chunk"`
	NextBatch              string       `json:"next_batch"`
	PrevBatch              string       `json:"prev_batch"`
	TotalRoomCountEstimate int          `json:"total_room_count_estimate"`
}

type ProtocolInstance struct {
	Desc       string          `json:"desc"`
	Icon       string          `json:"icon"`
	InstanceID string          `json:"instance_id"`
	Fields     json.RawMessage `json:"fields"`
}

type ThirdPartyProtocol struct {
	Instances []ProtocolInstance `json:"instances"`
}

type UserDirectoryUser struct {
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
	AvatarURL   string `json:"avatar_url"`
}

type UserDirectoryResponse struct {
	Results []UserDirectoryUser `json:"results"`
	Limited bool                `json:"limited"`
}

type JoinedMembersResponse struct {
	Joined map[string]struct {
		DisplayName string `json:"display_name"`
		AvatarURL   string `json:"avatar_url"`
	} `json:"joined"`
}

type ThreePID struct {
	Medium  string `json:"medium"`
	Address string `json:"address"`
}

type ThreePIDResponse struct {
	ThreePIDs []ThreePID `json:"threepids"`
}

// Filter is the server-side /sync filter. Only the parts the cold
// start path needs are modelled.
type Filter struct {
	Room     *RoomFilter `json:"room,omitempty"`
	Presence *FilterPart `json:"presence,omitempty"`
}

type RoomFilter struct {
	State     *FilterPart `json:"state,omitempty"`
	Timeline  *FilterPart `json:"timeline,omitempty"`
	Ephemeral *FilterPart `json:"ephemeral,omitempty"`
}

type FilterPart struct {
	Types    []string `json:"types"`
	NotTypes []string `json:"not_types,omitempty"`
	Limit    int      `json:"limit,omitempty"`
}
