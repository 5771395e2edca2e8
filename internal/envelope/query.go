package envelope

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/eldtechnologies/chatty/internal/models"
)

// QueryType names a request kind on the wire.
type QueryType string

const (
	TypeFindCreateUserByEmail QueryType = "find-create-user-by-email"
	TypeFindCreateRoomByName  QueryType = "find-create-room-by-name"
	TypeFindUserByUUID        QueryType = "find-user-by-uuid"
	TypeFindRoomByUUID        QueryType = "find-room-by-uuid"
	TypeRecordMessage         QueryType = "record-message"
	TypeFetchMessages         QueryType = "fetch-messages"
	TypeFindRooms             QueryType = "find-rooms"
	TypeGetGeneralRoomUUID    QueryType = "get-general-room-uuid"
)

// Query is one of the request kinds understood by the data actor. The set is
// closed: only types in this package implement it.
type Query interface {
	Type() QueryType
	validate() error
}

// FindCreateUserByEmail resolves a user by email, creating it if absent.
type FindCreateUserByEmail struct {
	Email string `json:"email"`
}

// FindCreateRoomByName resolves a room by name, creating it if absent.
type FindCreateRoomByName struct {
	Name string `json:"name"`
}

// FindUserByUUID looks a user up by uuid. Never creates.
type FindUserByUUID struct {
	UUID string `json:"uuid"`
}

// FindRoomByUUID looks a room up by uuid. Never creates.
type FindRoomByUUID struct {
	UUID string `json:"uuid"`
}

// RecordMessage persists a message. All fields are required.
type RecordMessage struct {
	User        *models.User `json:"user"`
	MessageText *string      `json:"messageText"`
	TimeStamp   *time.Time   `json:"timeStamp"`
	Room        *models.Room `json:"room"`
}

// FetchMessages lists the messages of a room.
type FetchMessages struct {
	RoomUUID string `json:"roomUUID"`
}

// FindRooms lists every room.
type FindRooms struct{}

// GetGeneralRoomUUID returns the uuid of the distinguished General room.
type GetGeneralRoomUUID struct{}

func (FindCreateUserByEmail) Type() QueryType { return TypeFindCreateUserByEmail }
func (FindCreateRoomByName) Type() QueryType  { return TypeFindCreateRoomByName }
func (FindUserByUUID) Type() QueryType        { return TypeFindUserByUUID }
func (FindRoomByUUID) Type() QueryType        { return TypeFindRoomByUUID }
func (RecordMessage) Type() QueryType         { return TypeRecordMessage }
func (FetchMessages) Type() QueryType         { return TypeFetchMessages }
func (FindRooms) Type() QueryType             { return TypeFindRooms }
func (GetGeneralRoomUUID) Type() QueryType    { return TypeGetGeneralRoomUUID }

func (q FindCreateUserByEmail) validate() error { return required("email", q.Email) }
func (q FindCreateRoomByName) validate() error  { return required("name", q.Name) }
func (q FindUserByUUID) validate() error        { return nil }
func (q FindRoomByUUID) validate() error        { return nil }
func (q FetchMessages) validate() error         { return required("roomUUID", q.RoomUUID) }
func (FindRooms) validate() error               { return nil }
func (GetGeneralRoomUUID) validate() error      { return nil }

func (q RecordMessage) validate() error {
	switch {
	case q.User == nil || q.User.UUID == "":
		return errors.New("missing parameter: user")
	case q.MessageText == nil:
		return errors.New("missing parameter: messageText")
	case q.TimeStamp == nil || q.TimeStamp.IsZero():
		return errors.New("missing parameter: timeStamp")
	case q.Room == nil || q.Room.UUID == "":
		return errors.New("missing parameter: room")
	}
	return nil
}

func required(name, value string) error {
	if value == "" {
		return fmt.Errorf("missing parameter: %s", name)
	}
	return nil
}

// Encode converts a query to its wire request.
func Encode(q Query) (Request, error) {
	req := Request{Type: q.Type()}
	switch q.(type) {
	case FindRooms, GetGeneralRoomUUID:
		return req, nil
	}
	params, err := json.Marshal(q)
	if err != nil {
		return Request{}, err
	}
	req.Params = params
	return req, nil
}

// Decode converts a wire request into a validated query.
func Decode(req Request) (Query, error) {
	var q Query
	var err error
	switch req.Type {
	case TypeFindCreateUserByEmail:
		q, err = decodeParams[FindCreateUserByEmail](req.Params)
	case TypeFindCreateRoomByName:
		q, err = decodeParams[FindCreateRoomByName](req.Params)
	case TypeFindUserByUUID:
		q, err = decodeParams[FindUserByUUID](req.Params)
	case TypeFindRoomByUUID:
		q, err = decodeParams[FindRoomByUUID](req.Params)
	case TypeRecordMessage:
		q, err = decodeParams[RecordMessage](req.Params)
	case TypeFetchMessages:
		q, err = decodeParams[FetchMessages](req.Params)
	case TypeFindRooms:
		q = FindRooms{}
	case TypeGetGeneralRoomUUID:
		q = GetGeneralRoomUUID{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownQuery, req.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("malformed %s params: %w", req.Type, err)
	}
	if err := q.validate(); err != nil {
		return nil, err
	}
	return q, nil
}

func decodeParams[T Query](raw json.RawMessage) (T, error) {
	var params T
	if len(raw) == 0 || string(raw) == "null" {
		return params, nil
	}
	err := json.Unmarshal(raw, &params)
	return params, err
}

// MarshalRequest encodes a query as a wire request document.
func MarshalRequest(q Query) ([]byte, error) {
	req, err := Encode(q)
	if err != nil {
		return nil, err
	}
	return json.Marshal(req)
}

// ParseRequest decodes a wire request document into a query.
func ParseRequest(data []byte) (Query, error) {
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("malformed request: %w", err)
	}
	return Decode(req)
}
