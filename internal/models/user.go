package models

// User represents a chat participant, identified by email.
type User struct {
	UUID  string `json:"uuid"`
	Email string `json:"email"`
}
