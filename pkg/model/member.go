package model

import "strings"

// ircSuffix marks users bridged in from IRC; it is stripped for
// display purposes.
const ircSuffix = " (IRC)"

// Member is one room member. Identity is the user id.
type Member struct {
	UID    string `json:"uid"`
	Alias  string `json:"alias,omitempty"`
	Avatar string `json:"avatar,omitempty"`
}

// DisplayName returns the name shown in the UI: the alias when set,
// otherwise the user id, with any trailing IRC marker removed.
func (m *Member) DisplayName() string {
	name := m.UID
	if m.Alias != "" {
		name = m.Alias
	}

	return strings.TrimSuffix(name, ircSuffix)
}
