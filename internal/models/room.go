package models

// Room represents a named chat room.
type Room struct {
	UUID    string `json:"uuid"`
	Name    string `json:"name"`
	Creator *User  `json:"creator,omitempty"`
}
