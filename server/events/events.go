// Package events defines the closed set of events delivered to clients and their wire format.
package events

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/cosmopolite/cosmopolite/server/store/types"
)

// Event types as they appear in the "event_type" field.
const (
	TypeMessage = "message"
	TypePin     = "pin"
	TypeUnpin   = "unpin"
	TypeLogin   = "login"
	TypeLogout  = "logout"
	TypeClose   = "close"
)

// Me replaces the restricted owner in events delivered to the owner.
const Me = "me"

// Event is one of *Message, *Pin, *Login, *Logout, *Close.
type Event interface {
	// Type returns the value of the event_type field.
	Type() string
	// SetEventId assigns the id of the buffered copy of the event. Only buffered events have ids.
	SetEventId(id string)

	sealed()
}

// Header is embedded into every event.
type Header struct {
	// Id to acknowledge a buffered event with.
	EventId string `json:"event_id,omitempty"`
}

// SetEventId implements Event.
func (h *Header) SetEventId(id string) {
	h.EventId = id
}

func (*Header) sealed() {}

// Subject is the public description of a subject.
type Subject struct {
	Name           string `json:"name"`
	ReadableOnlyBy string `json:"readable_only_by,omitempty"`
	WritableOnlyBy string `json:"writable_only_by,omitempty"`
}

// SubjectOf converts stored subject to its public form.
func SubjectOf(subj *types.Subject) Subject {
	return Subject{
		Name:           subj.Name,
		ReadableOnlyBy: subj.ReadableOnlyBy,
		WritableOnlyBy: subj.WritableOnlyBy,
	}
}

// Message is a new entry in the subject's log.
type Message struct {
	Header
	Id              int64   `json:"id"`
	Sender          string  `json:"sender"`
	Subject         Subject `json:"subject"`
	Created         float64 `json:"created"`
	SenderMessageId string  `json:"sender_message_id"`
	RandomValue     uint32  `json:"random_value"`
	Message         string  `json:"message"`
}

// Type implements Event.
func (*Message) Type() string { return TypeMessage }

// MarshalJSON adds the event_type field.
func (m Message) MarshalJSON() ([]byte, error) {
	type plain Message
	return json.Marshal(struct {
		EventType string `json:"event_type"`
		plain
	}{TypeMessage, plain(m)})
}

// FromMessage builds the message event.
func FromMessage(msg *types.Message, subj *types.Subject) *Message {
	return &Message{
		Id:              msg.Id,
		Sender:          msg.Sender,
		Subject:         SubjectOf(subj),
		Created:         unixSeconds(msg.CreatedAt),
		SenderMessageId: msg.SenderMessageId,
		RandomValue:     msg.RandomValue,
		Message:         msg.Message,
	}
}

// Pin reports a pin being added to or removed from the subject.
type Pin struct {
	Header
	Id              string  `json:"id"`
	Sender          string  `json:"sender"`
	Subject         Subject `json:"subject"`
	Created         float64 `json:"created"`
	SenderMessageId string  `json:"sender_message_id"`
	Message         string  `json:"message"`
	// Pin was removed: serialized as "unpin".
	Removed bool `json:"-"`
}

// Type implements Event.
func (p *Pin) Type() string {
	if p.Removed {
		return TypeUnpin
	}
	return TypePin
}

// MarshalJSON adds the event_type field.
func (p Pin) MarshalJSON() ([]byte, error) {
	type plain Pin
	return json.Marshal(struct {
		EventType string `json:"event_type"`
		plain
	}{p.Type(), plain(p)})
}

// FromPin builds the pin or unpin event.
func FromPin(pin *types.Pin, subj *types.Subject, removed bool) *Pin {
	return &Pin{
		Id:              pin.Id,
		Sender:          pin.Sender,
		Subject:         SubjectOf(subj),
		Created:         unixSeconds(pin.CreatedAt),
		SenderMessageId: pin.SenderMessageId,
		Message:         pin.Message,
		Removed:         removed,
	}
}

// Login tells the client which account it is logged in as.
type Login struct {
	Header
	Account string `json:"account"`
}

// Type implements Event.
func (*Login) Type() string { return TypeLogin }

// MarshalJSON adds the event_type field.
func (l Login) MarshalJSON() ([]byte, error) {
	type plain Login
	return json.Marshal(struct {
		EventType string `json:"event_type"`
		plain
	}{TypeLogin, plain(l)})
}

// Logout tells the client it is anonymous.
type Logout struct {
	Header
}

// Type implements Event.
func (*Logout) Type() string { return TypeLogout }

// MarshalJSON adds the event_type field.
func (l Logout) MarshalJSON() ([]byte, error) {
	type plain Logout
	return json.Marshal(struct {
		EventType string `json:"event_type"`
		plain
	}{TypeLogout, plain(l)})
}

// Close tells a push channel that its instance is unknown and it should reconnect.
type Close struct {
	Header
}

// Type implements Event.
func (*Close) Type() string { return TypeClose }

// MarshalJSON adds the event_type field.
func (c Close) MarshalJSON() ([]byte, error) {
	type plain Close
	return json.Marshal(struct {
		EventType string `json:"event_type"`
		plain
	}{TypeClose, plain(c)})
}

// Session returns the login event for an account or the logout event for an anonymous caller.
func Session(account string) Event {
	if account == "" {
		return &Logout{}
	}
	return &Login{Account: account}
}

// Translate returns a copy of the event as seen by the owner of the subject's restrictions:
// the owner's id is replaced with "me". Events without a subject are returned unchanged.
func Translate(ev Event, readableByMe, writableByMe bool) Event {
	if !readableByMe && !writableByMe {
		return ev
	}
	switch e := ev.(type) {
	case *Message:
		c := *e
		c.Subject = c.Subject.asSeenByOwner(readableByMe, writableByMe)
		return &c
	case *Pin:
		c := *e
		c.Subject = c.Subject.asSeenByOwner(readableByMe, writableByMe)
		return &c
	}
	return ev
}

func (s Subject) asSeenByOwner(readableByMe, writableByMe bool) Subject {
	if readableByMe {
		s.ReadableOnlyBy = Me
	}
	if writableByMe {
		s.WritableOnlyBy = Me
	}
	return s
}

// Encode serializes the event.
func Encode(ev Event) ([]byte, error) {
	return json.Marshal(ev)
}

// Decode parses a serialized event.
func Decode(data []byte) (Event, error) {
	var peek struct {
		EventType string `json:"event_type"`
	}
	if err := json.Unmarshal(data, &peek); err != nil {
		return nil, err
	}

	var ev Event
	switch peek.EventType {
	case TypeMessage:
		ev = &Message{}
	case TypePin:
		ev = &Pin{}
	case TypeUnpin:
		ev = &Pin{Removed: true}
	case TypeLogin:
		ev = &Login{}
	case TypeLogout:
		ev = &Logout{}
	case TypeClose:
		ev = &Close{}
	default:
		return nil, errors.New("events: unknown event type '" + peek.EventType + "'")
	}
	if err := json.Unmarshal(data, ev); err != nil {
		return nil, err
	}
	return ev, nil
}

// unixSeconds converts time to fractional seconds since epoch.
func unixSeconds(ts time.Time) float64 {
	if ts.IsZero() {
		return 0
	}
	return float64(ts.UnixMicro()) / 1e6
}
