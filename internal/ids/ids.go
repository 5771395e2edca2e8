package ids

import (
	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// NewUUID generates the stable identifier assigned to users and rooms at creation.
func NewUUID() string {
	return uuid.NewString()
}

// NewMessageID generates a time-ordered message identifier.
func NewMessageID() string {
	return ulid.Make().String()
}

// IsUUID reports whether s is a well-formed UUID.
func IsUUID(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}
