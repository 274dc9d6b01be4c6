package model

import (
	"sort"
)

// Membership of the logged-in user in a room.
const (
	MembershipJoined  = "joined"
	MembershipInvited = "invited"
	MembershipLeft    = "left"
)

// EmptyRoomName is the sentinel used when no name can be computed.
const EmptyRoomName = "EMPTY ROOM"

// Room is the local projection of a server room. The presentation
// layer owns the collection; the engine only describes deltas.
type Room struct {
	ID            string             `json:"id"`
	Name          string             `json:"name,omitempty"`
	Alias         string             `json:"alias,omitempty"`
	Topic         string             `json:"topic,omitempty"`
	Avatar        string             `json:"avatar,omitempty"`
	Membership    string             `json:"membership"`
	Direct        bool               `json:"direct,omitempty"`
	Notifications int                `json:"notifications,omitempty"`
	Highlights    int                `json:"highlights,omitempty"`
	Fav           bool               `json:"fav,omitempty"`
	PowerLevels   map[string]int     `json:"power_levels,omitempty"`
	Members       map[string]*Member `json:"members,omitempty"`
	Messages      []*Message         `json:"messages,omitempty"`
	InviteSender  *Member            `json:"invite_sender,omitempty"`
}

func NewRoom(id, membership string) *Room {
	return &Room{
		ID:          id,
		Membership:  membership,
		Members:     make(map[string]*Member),
		PowerLevels: make(map[string]int),
	}
}

// Copy returns a deep copy for handing across a goroutine boundary.
// The receiver keeps sole ownership of its maps and slices.
func (r *Room) Copy() *Room {
	c := *r

	c.Members = make(map[string]*Member, len(r.Members))
	for uid, member := range r.Members {
		m := *member
		c.Members[uid] = &m
	}

	c.PowerLevels = make(map[string]int, len(r.PowerLevels))
	for uid, level := range r.PowerLevels {
		c.PowerLevels[uid] = level
	}

	c.Messages = make([]*Message, len(r.Messages))
	for i, msg := range r.Messages {
		m := *msg
		c.Messages[i] = &m
	}

	if r.InviteSender != nil {
		sender := *r.InviteSender
		c.InviteSender = &sender
	}

	return &c
}

// AddMessage inserts m keeping the timeline ordered by timestamp.
// Duplicates under message identity are dropped; a server-acked copy
// replaces a matching optimistic echo so the event id sticks.
func (r *Room) AddMessage(m *Message) bool {
	for _, existing := range r.Messages {
		if existing.Equal(m) {
			if existing.ID == "" && m.ID != "" {
				*existing = *m
			}

			return false
		}
	}

	idx := sort.Search(len(r.Messages), func(i int) bool {
		return r.Messages[i].Date.After(m.Date)
	})

	r.Messages = append(r.Messages, nil)
	copy(r.Messages[idx+1:], r.Messages[idx:])
	r.Messages[idx] = m

	return true
}

// CalculateName computes the display name per the standard
// precedence: explicit name, canonical alias, then a summary built
// from the other members.
func (r *Room) CalculateName(selfUID string) string {
	if r.Name != "" && r.Name != EmptyRoomName {
		return r.Name
	}

	if r.Alias != "" {
		return r.Alias
	}

	others := make([]*Member, 0, len(r.Members))

	for uid, member := range r.Members {
		if uid != selfUID {
			others = append(others, member)
		}
	}

	sort.Slice(others, func(i, j int) bool {
		return others[i].UID < others[j].UID
	})

	switch len(others) {
	case 0:
		return EmptyRoomName
	case 1:
		return others[0].DisplayName()
	case 2:
		return others[0].DisplayName() + " and " + others[1].DisplayName()
	default:
		return others[0].DisplayName() + " and Others"
	}
}
