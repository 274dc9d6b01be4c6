package backend

import (
	"net/http"
	"net/url"

	"github.com/fractal-im/fractal-go/pkg/matrix"
	"github.com/fractal-im/fractal-go/pkg/model"
)

// directoryProtocols lists the directory sources the homeserver can
// search: its native directory first (empty id), then every bridged
// third-party network instance.
func (b *Backend) directoryProtocols() {
	reqURL, err := b.clientURL("thirdparty/protocols", nil)
	if err != nil {
		b.sendError(CmdDirectoryProtocols, err)
		return
	}

	var protocols map[string]matrix.ThirdPartyProtocol
	if err := b.api.RequestInto(http.MethodGet, reqURL, nil, &protocols, matrix.DefaultTimeout); err != nil {
		b.sendError(CmdDirectoryProtocols, err)
		return
	}

	base, _, _ := b.snapshotCreds()
	native := base

	if u, err := url.Parse(base); err == nil && u.Host != "" {
		native = u.Host
	}

	out := []model.Protocol{{ID: "", Description: native}}

	for _, protocol := range protocols {
		for _, instance := range protocol.Instances {
			out = append(out, model.Protocol{
				ID:          instance.InstanceID,
				Description: instance.Desc,
			})
		}
	}

	b.send(&Response{Type: RespDirectoryProtocols, Data: DirectoryProtocolsData{Protocols: out}})
}

// directorySearch queries /publicRooms. With more set, the stored
// pagination token continues the previous query; without it, the
// query starts over.
func (b *Backend) directorySearch(query, protocol string, more bool) {
	reqURL, err := b.clientURL("publicRooms", nil)
	if err != nil {
		b.sendError(CmdDirectorySearch, err)
		return
	}

	body := map[string]interface{}{
		"limit": pageLimit,
	}

	if query != "" {
		body["filter"] = map[string]interface{}{"generic_search_term": query}
	}

	if protocol != "" {
		body["third_party_instance_id"] = protocol
	}

	b.mu.Lock()
	if more && b.session.roomsSince != "" {
		body["since"] = b.session.roomsSince
	}
	b.mu.Unlock()

	var resp matrix.PublicRoomsResponse
	if err := b.api.RequestInto(http.MethodPost, reqURL, body, &resp, matrix.DefaultTimeout); err != nil {
		b.sendError(CmdDirectorySearch, err)
		return
	}

	b.mu.Lock()
	b.session.roomsSince = resp.NextBatch
	b.mu.Unlock()

	rooms := make([]*model.Room, 0, len(resp.Chunk))

	for _, pr := range resp.Chunk {
		room := model.NewRoom(pr.RoomID, model.MembershipLeft)
		room.Name = pr.Name
		room.Alias = pr.CanonicalAlias
		room.Topic = pr.Topic
		room.Avatar = pr.AvatarURL
		rooms = append(rooms, room)
	}

	b.send(&Response{Type: RespDirectorySearch, Data: DirectorySearchResultsData{Rooms: rooms}})
}
