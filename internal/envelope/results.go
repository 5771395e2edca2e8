package envelope

import "github.com/eldtechnologies/chatty/internal/models"

// MessagesResult is the result payload of fetch-messages.
type MessagesResult struct {
	Messages []models.Message `json:"messages"`
}

// RoomsResult is the result payload of find-rooms.
type RoomsResult struct {
	Rooms []models.Room `json:"rooms"`
}

// GeneralRoomResult is the result payload of get-general-room-uuid.
type GeneralRoomResult struct {
	UUID string `json:"uuid"`
}
