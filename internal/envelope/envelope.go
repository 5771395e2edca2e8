// Package envelope defines the request/reply contract spoken on the data
// actor's address. A request is {"type", "params"}; a reply carries exactly
// one of {"result"} or {"failure": {"cause"}}.
package envelope

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrMalformedReply is returned for replies carrying neither result nor failure.
	ErrMalformedReply = errors.New("envelope: reply has neither result nor failure")
	// ErrUnknownQuery is returned when a request names no known query type.
	ErrUnknownQuery = errors.New("envelope: unknown query type")
)

// Request is the wire form of a query.
type Request struct {
	Type   QueryType       `json:"type"`
	Params json.RawMessage `json:"params,omitempty"`
}

// Failure describes why a query failed.
type Failure struct {
	Cause string `json:"cause"`
}

// Reply is the wire form of a query outcome. A nil Failure with a Result of
// "null" is a valid "not found" answer.
type Reply struct {
	Result  json.RawMessage
	Failure *Failure
}

// QueryError is a failure reply surfaced to a caller.
type QueryError struct {
	Type  QueryType
	Cause string
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("%s: %s", e.Type, e.Cause)
}

// Succeed builds a result reply. A nil v encodes as a null result.
func Succeed(v any) (Reply, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return Reply{}, err
	}
	return Reply{Result: data}, nil
}

// Fail builds a failure reply.
func Fail(cause string) Reply {
	return Reply{Failure: &Failure{Cause: cause}}
}

// Failf builds a failure reply from a format string.
func Failf(format string, args ...any) Reply {
	return Fail(fmt.Sprintf(format, args...))
}

// MarshalJSON writes exactly one of the two reply shapes.
func (r Reply) MarshalJSON() ([]byte, error) {
	if r.Failure != nil {
		return json.Marshal(struct {
			Failure *Failure `json:"failure"`
		}{r.Failure})
	}
	result := r.Result
	if result == nil {
		result = json.RawMessage("null")
	}
	return json.Marshal(struct {
		Result json.RawMessage `json:"result"`
	}{result})
}

// UnmarshalJSON reads a reply, rejecting documents with neither key.
func (r *Reply) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	if raw, ok := fields["failure"]; ok {
		var f Failure
		if err := json.Unmarshal(raw, &f); err != nil {
			return fmt.Errorf("envelope: decoding failure: %w", err)
		}
		*r = Reply{Failure: &f}
		return nil
	}
	if raw, ok := fields["result"]; ok {
		*r = Reply{Result: raw}
		return nil
	}
	return ErrMalformedReply
}

// Decode unpacks a reply for a query of type t into v. It returns false when
// the result is null, a *QueryError for failures, and ErrMalformedReply for
// replies carrying neither shape.
func (r Reply) Decode(t QueryType, v any) (bool, error) {
	if r.Failure != nil {
		return false, &QueryError{Type: t, Cause: r.Failure.Cause}
	}
	if r.Result == nil {
		return false, ErrMalformedReply
	}
	if string(r.Result) == "null" {
		return false, nil
	}
	if err := json.Unmarshal(r.Result, v); err != nil {
		return false, fmt.Errorf("envelope: decoding %s result: %w", t, err)
	}
	return true, nil
}

// ParseReply decodes a wire reply.
func ParseReply(data []byte) (Reply, error) {
	var r Reply
	if err := json.Unmarshal(data, &r); err != nil {
		return Reply{}, err
	}
	return r, nil
}
