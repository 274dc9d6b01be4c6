package model

// Event is a server event outside the message timeline: membership
// changes, name/topic/avatar changes, account-data updates.
type Event struct {
	Room    string                 `json:"room"`
	Sender  string                 `json:"sender"`
	Content map[string]interface{} `json:"content"`
	Type    string                 `json:"type"`
	ID      string                 `json:"id"`
}

// Protocol describes one entry of the public-rooms directory chooser.
// An empty ID selects the homeserver's native directory.
type Protocol struct {
	ID          string `json:"id"`
	Description string `json:"description"`
}
