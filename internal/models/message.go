package models

import "time"

// Message represents a chat message. Messages are append-only.
type Message struct {
	ID        string    `json:"id"` // ULID
	Timestamp time.Time `json:"timeStamp"`
	Author    User      `json:"author"`
	Room      Room      `json:"room"`
	Text      string    `json:"text"`
}
