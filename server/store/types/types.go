// Package types provides data types for persisting objects in the databases.
package types

import (
	"encoding/base64"
	"encoding/binary"
	"errors"
	"time"
)

// StoreError satisfies Error interface but allows constant values for
// direct comparison.
type StoreError string

// Error is required by error interface.
func (s StoreError) Error() string {
	return string(s)
}

const (
	// ErrInternal means DB or other internal failure.
	ErrInternal = StoreError("internal")
	// ErrMalformed means the request is malformed and cannot be processed.
	ErrMalformed = StoreError("malformed")
	// ErrFailed means the operation failed, e.g. the database rejected a write.
	ErrFailed = StoreError("failed")
	// ErrDuplicate means the object with the same dedup key already exists.
	ErrDuplicate = StoreError("duplicate value")
	// ErrAccessDenied means the caller is not permitted to read or write the subject.
	ErrAccessDenied = StoreError("access denied")
	// ErrNotFound means the object was not found.
	ErrNotFound = StoreError("not found")
	// ErrUnsupported means an operation is not supported.
	ErrUnsupported = StoreError("unsupported")
	// ErrRetry means the addressed instance is not active yet and the caller should try again shortly.
	ErrRetry = StoreError("retry")
)

// Uid is a database-specific record id, suitable to be used as a primary key.
type Uid uint64

// ZeroUid is a constant representing uninitialized Uid.
const ZeroUid Uid = 0

// Lengths of various Uid representations.
const (
	uidBase64Unpadded = 11
	uidBase64Padded   = 12
)

// IsZero checks if Uid is uninitialized.
func (uid Uid) IsZero() bool {
	return uid == ZeroUid
}

// Compare returns 0 if uid is equal to u2, 1 if u2 is greater than uid, -1 if u2 is smaller.
func (uid Uid) Compare(u2 Uid) int {
	if uid < u2 {
		return -1
	} else if uid > u2 {
		return 1
	}
	return 0
}

// MarshalBinary converts Uid to byte slice.
func (uid Uid) MarshalBinary() ([]byte, error) {
	dst := make([]byte, 8)
	binary.LittleEndian.PutUint64(dst, uint64(uid))
	return dst, nil
}

// UnmarshalBinary reads Uid from byte slice.
func (uid *Uid) UnmarshalBinary(b []byte) error {
	if len(b) < 8 {
		return errors.New("Uid.UnmarshalBinary: invalid length")
	}
	*uid = Uid(binary.LittleEndian.Uint64(b))
	return nil
}

// UnmarshalText reads Uid from string represented as byte slice.
func (uid *Uid) UnmarshalText(src []byte) error {
	if len(src) != uidBase64Unpadded {
		return errors.New("Uid.UnmarshalText: invalid length")
	}
	dec := make([]byte, base64.URLEncoding.WithPadding(base64.NoPadding).DecodedLen(uidBase64Unpadded))
	count, err := base64.URLEncoding.WithPadding(base64.NoPadding).Decode(dec, src)
	if count < 8 {
		if err != nil {
			return errors.New("Uid.UnmarshalText: failed to decode " + err.Error())
		}
		return errors.New("Uid.UnmarshalText: failed to decode")
	}
	*uid = Uid(binary.LittleEndian.Uint64(dec))
	return nil
}

// MarshalText converts Uid to string represented as byte slice.
func (uid Uid) MarshalText() ([]byte, error) {
	if uid.IsZero() {
		return []byte{}, nil
	}
	src := make([]byte, 8)
	dst := make([]byte, base64.URLEncoding.WithPadding(base64.NoPadding).EncodedLen(8))
	binary.LittleEndian.PutUint64(src, uint64(uid))
	base64.URLEncoding.WithPadding(base64.NoPadding).Encode(dst, src)
	return dst, nil
}

// MarshalJSON converts Uid to double quoted ("ajjj") string.
func (uid Uid) MarshalJSON() ([]byte, error) {
	dst, _ := uid.MarshalText()
	return append(append([]byte{'"'}, dst...), '"'), nil
}

// UnmarshalJSON reads Uid from a double quoted string.
func (uid *Uid) UnmarshalJSON(b []byte) error {
	size := len(b)
	if size != (uidBase64Unpadded + 2) {
		return errors.New("Uid.UnmarshalJSON: invalid length")
	} else if b[0] != '"' || b[size-1] != '"' {
		return errors.New("Uid.UnmarshalJSON: unrecognized")
	}
	return uid.UnmarshalText(b[1 : size-1])
}

// String converts Uid to base64 string.
func (uid Uid) String() string {
	buf, _ := uid.MarshalText()
	return string(buf)
}

// ParseUid parses string NOT prefixed with anything.
func ParseUid(s string) Uid {
	var uid Uid
	uid.UnmarshalText([]byte(s))
	return uid
}

// ObjHeader is the header shared by all stored objects.
type ObjHeader struct {
	// using string to get around rethinkdb's problems with uint64;
	// `bson:"_id"` tag is for mongodb to use as primary key '_id'.
	Id        string `bson:"_id"`
	id        Uid
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Uid assigns Uid header field.
func (h *ObjHeader) Uid() Uid {
	if h.id.IsZero() && h.Id != "" {
		h.id.UnmarshalText([]byte(h.Id))
	}
	return h.id
}

// SetUid assigns given Uid to appropriate header fields.
func (h *ObjHeader) SetUid(uid Uid) {
	h.id = uid
	h.Id = uid.String()
}

// TimeNow returns current wall time in UTC rounded to milliseconds.
func TimeNow() time.Time {
	return time.Now().UTC().Round(time.Millisecond)
}

// InitTimes initializes time.Time variables in the header to current time.
func (h *ObjHeader) InitTimes() {
	if h.CreatedAt.IsZero() {
		h.CreatedAt = TimeNow()
	}
	h.UpdatedAt = h.CreatedAt
}

// Profile is the identity root. Account is empty for anonymous profiles.
type Profile struct {
	ObjHeader `bson:",inline"`
	// External account linked to this profile, e.g. an e-mail verified by the front proxy.
	Account string
}

// IsAnonymous reports if the profile has no linked external account.
func (p *Profile) IsAnonymous() bool {
	return p.Account == ""
}

// Client is a browser or device identity. It always belongs to exactly one Profile.
type Client struct {
	// Client id as presented by the caller.
	Id        string `bson:"_id"`
	CreatedAt time.Time
	UpdatedAt time.Time
	Profile   string
}

// Instance is one logical connected session, either a push channel or a polling session.
type Instance struct {
	Id        string `bson:"_id"`
	CreatedAt time.Time
	// Set once the push transport confirms the connection. Polling instances are active right away.
	Active bool
	// Instance retrieves events by polling instead of receiving pushes.
	Polling bool
	// Time of the most recent poll request.
	LastPoll time.Time
}

// AdminOwner is the value of a subject restriction which limits access to administrators.
const AdminOwner = "admin"

// Subject is a named, access-controlled message stream.
// Id is derived from Name and both restrictions, see store.SubjectKey.
type Subject struct {
	Id        string `bson:"_id"`
	CreatedAt time.Time
	Name      string
	// Empty for no restriction, AdminOwner, or the string form of a profile Uid.
	ReadableOnlyBy string
	WritableOnlyBy string
	// Id to assign to the next message.
	NextMessageId int64
}

func verifyOwner(owner string, who Uid, isAdmin bool) error {
	if owner == "" || isAdmin {
		return nil
	}
	if owner != AdminOwner && !who.IsZero() && owner == who.String() {
		return nil
	}
	return ErrAccessDenied
}

// VerifyReadable checks if the profile 'who' may read from the subject.
// Administrators may read anything.
func (s *Subject) VerifyReadable(who Uid, isAdmin bool) error {
	return verifyOwner(s.ReadableOnlyBy, who, isAdmin)
}

// VerifyWritable checks if the profile 'who' may write to the subject.
// Administrators may write anything.
func (s *Subject) VerifyWritable(who Uid, isAdmin bool) error {
	return verifyOwner(s.WritableOnlyBy, who, isAdmin)
}

// IsReadableOnlyBy reports if the subject's read restriction names the given profile.
func (s *Subject) IsReadableOnlyBy(who Uid) bool {
	return !who.IsZero() && s.ReadableOnlyBy == who.String()
}

// IsWritableOnlyBy reports if the subject's write restriction names the given profile.
func (s *Subject) IsWritableOnlyBy(who Uid) bool {
	return !who.IsZero() && s.WritableOnlyBy == who.String()
}

// Message is an immutable entry in a subject's log.
type Message struct {
	// Subject the message belongs to.
	Subject string
	// Sequential id within the subject.
	Id              int64
	CreatedAt       time.Time
	Sender          string
	SenderMessageId string
	SenderAddress   string
	RandomValue     uint32
	Message         string
}

// Pin is a sticky message attached to the instance which created it.
type Pin struct {
	ObjHeader       `bson:",inline"`
	Subject         string
	Instance        string
	Sender          string
	SenderMessageId string
	SenderAddress   string
	Message         string
}

// Subscription records interest of one instance in one subject.
type Subscription struct {
	ObjHeader `bson:",inline"`
	Subject   string
	Instance  string
	// The subscriber is the owner of the subject's read or write restriction.
	ReadableOnlyByMe bool
	WritableOnlyByMe bool
	// Copied from the instance: events are buffered instead of pushed.
	Polling bool
}

// Event is a serialized event buffered for a polling subscription.
type Event struct {
	ObjHeader    `bson:",inline"`
	Subscription string
	// Decrypted snowflake value of the id: orders events of one subscription.
	Seq     int64
	Payload []byte
}

// BackfillOpt describes which part of a subject's history to return to a new subscriber.
type BackfillOpt struct {
	// Number of most recent messages to return. Negative means all messages.
	Messages int
	// Return all messages with ids greater than this one.
	SinceId *int64
	// Include current pins.
	Pins bool
}

// Backfill is the history returned to a new subscriber.
type Backfill struct {
	Pins     []Pin
	Messages []Message
}
