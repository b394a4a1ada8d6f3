// Package adapter contains the interfaces to be implemented by the database adapter
package adapter

//go:generate mockgen -source=adapter.go -destination=../mock_store/mock_store.go -package=mock_store

import (
	"encoding/json"
	"time"

	t "github.com/cosmopolite/cosmopolite/server/store/types"
)

// Adapter is the interface that must be implemented by a database
// adapter. The current schema supports a single connection by database type.
//
// Operations on one subject (its counter, messages, pins and subscriptions) are
// serialized by the adapter: each such call is a single transaction. Calls spanning
// several subjects or profiles are not atomic.
type Adapter interface {
	// General

	// Open and configure the adapter
	Open(config json.RawMessage) error
	// Close the adapter
	Close() error
	// IsOpen checks if the adapter is ready for use
	IsOpen() bool
	// GetDbVersion returns current database version.
	GetDbVersion() (int, error)
	// CheckDbVersion checks if the actual database version matches adapter version.
	CheckDbVersion() error
	// GetName returns the name of the adapter
	GetName() string
	// SetMaxResults configures how many results can be returned in a single DB call.
	SetMaxResults(val int) error
	// CreateDb creates the database optionally dropping an existing database first.
	CreateDb(reset bool) error
	// UpgradeDb upgrades database to the current adapter version.
	UpgradeDb() error
	// Version returns adapter version
	Version() int
	// DB connection stats object.
	Stats() interface{}

	// Profiles

	// ProfileCreate creates a profile record. Returns ErrDuplicate if the account is already taken.
	ProfileCreate(prof *t.Profile) error
	// ProfileGet returns a profile by id or (nil, nil) if not found.
	ProfileGet(id t.Uid) (*t.Profile, error)
	// ProfileGetByAccount returns the profile linked to the account or (nil, nil).
	ProfileGetByAccount(account string) (*t.Profile, error)
	// ProfileSetAccount links an anonymous profile to an account. Returns ErrDuplicate
	// if another profile owns the account already.
	ProfileSetAccount(id t.Uid, account string) error
	// MessageReassignSender rewrites sender of every message sent by 'from' to 'into'.
	// Not transactional, returns the number of rewritten messages.
	MessageReassignSender(from, into t.Uid) (int, error)

	// Clients

	// ClientGet returns a client by id or (nil, nil).
	ClientGet(id string) (*t.Client, error)
	// ClientCreate creates a client record. Returns ErrDuplicate if it exists.
	ClientCreate(cl *t.Client) error
	// ClientSetProfile re-parents the client.
	ClientSetProfile(id string, profile t.Uid) error

	// Instances

	// InstanceGet returns an instance by id or (nil, nil).
	InstanceGet(id string) (*t.Instance, error)
	// InstanceGetOrCreate returns the existing instance or inserts the given one.
	// The boolean is true if the instance was created.
	InstanceGetOrCreate(inst *t.Instance) (*t.Instance, bool, error)
	// InstanceUpdate updates some fields of the instance: "Active", "LastPoll".
	InstanceUpdate(id string, update map[string]interface{}) error
	// InstanceDelete deletes the instance record only.
	InstanceDelete(id string) error
	// InstanceGetStale returns polling instances last polled before the given time.
	InstanceGetStale(olderThan time.Time, limit int) ([]t.Instance, error)

	// Subjects

	// SubjectGetOrCreate returns the subject with the given id, inserting it if missing.
	SubjectGetOrCreate(subj *t.Subject) (*t.Subject, error)
	// SubjectGet returns a subject by id or (nil, nil).
	SubjectGet(id string) (*t.Subject, error)
	// SubjectBackfill reads subject history without creating a subscription.
	SubjectBackfill(subject string, opt *t.BackfillOpt) (*t.Backfill, error)

	// Messages

	// MessageAppend assigns the next id of the subject to msg and saves it, in one transaction
	// with the duplicate check and the counter increment. Returns subscriptions to the subject as
	// seen by the transaction. On duplicate returns the stored message and ErrDuplicate.
	MessageAppend(msg *t.Message) (*t.Message, []t.Subscription, error)
	// MessageGetRecent returns up to n most recent messages in ascending order. n <= 0 means all.
	MessageGetRecent(subject string, n int) ([]t.Message, error)
	// MessageGetSince returns messages with id greater than sinceId in ascending order.
	MessageGetSince(subject string, sinceId int64) ([]t.Message, error)

	// Pins

	// PinCreate saves a pin unless the same (subject, sender message id, instance) exists.
	// Returns subscriptions to the subject. On duplicate returns the stored pin and ErrDuplicate.
	PinCreate(pin *t.Pin) (*t.Pin, []t.Subscription, error)
	// PinDelete removes pins matching (sender, sender message id, instance) and returns them
	// with the subscriptions to the subject.
	PinDelete(subject, sender, senderMessageId, instance string) ([]t.Pin, []t.Subscription, error)
	// PinsForSubject returns all current pins of a subject.
	PinsForSubject(subject string) ([]t.Pin, error)
	// PinsForInstance returns all pins created by an instance.
	PinsForInstance(instance string) ([]t.Pin, error)

	// Subscriptions

	// SubsCreate finds or creates the subscription keyed by (subject, instance, view flags)
	// and reads the backfill in the same transaction.
	SubsCreate(sub *t.Subscription, opt *t.BackfillOpt) (*t.Backfill, error)
	// SubsDelete removes matching subscriptions and their buffered events.
	SubsDelete(subject, instance string, readableByMe, writableByMe bool) error
	// SubsDeleteById removes one subscription and its buffered events.
	SubsDeleteById(id string) error
	// SubsForSubject returns all subscriptions to a subject.
	SubsForSubject(subject string) ([]t.Subscription, error)
	// SubsForInstance returns all subscriptions of an instance.
	SubsForInstance(instance string) ([]t.Subscription, error)

	// Buffered events

	// EventEnqueue appends an event to the subscription's buffer.
	EventEnqueue(evt *t.Event) error
	// EventDrain deletes buffered events listed in acks and returns the rest in insertion order.
	EventDrain(subscription string, acks []string) ([]t.Event, error)
}
