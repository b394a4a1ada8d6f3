// Package store provides methods for registering and accessing database adapters.
package store

import (
	"encoding/json"
	"errors"
	"math/rand"
	"time"

	"github.com/cosmopolite/cosmopolite/server/logs"
	"github.com/cosmopolite/cosmopolite/server/store/adapter"
	"github.com/cosmopolite/cosmopolite/server/store/types"
)

var adp adapter.Adapter
var availableAdapters = make(map[string]adapter.Adapter)

// Unique ID generator
var uGen types.UidGenerator

const defaultCacheSize = 4096

type configType struct {
	// 16-byte key for XTEA. Used to initialize types.UidGenerator.
	UidKey []byte `json:"uid_key"`
	// Maximum number of results to return from adapter.
	MaxResults int `json:"max_results"`
	// Number of subjects and account lookups to keep in memory. Negative disables caching.
	CacheSize int `json:"cache_size"`
	// DB adapter name to use. Should be one of those specified in `Adapters`.
	UseAdapter string `json:"use_adapter"`
	// Configurations for individual adapters.
	Adapters map[string]json.RawMessage `json:"adapters"`
}

func openAdapter(workerId int, jsonconf json.RawMessage) error {
	var config configType
	if err := json.Unmarshal(jsonconf, &config); err != nil {
		return errors.New("store: failed to parse config: " + err.Error() + "(" + string(jsonconf) + ")")
	}

	if adp == nil {
		if len(config.UseAdapter) > 0 {
			// Adapter name specified explicitly.
			if ad, ok := availableAdapters[config.UseAdapter]; ok {
				adp = ad
			} else {
				return errors.New("store: " + config.UseAdapter + " adapter is not available in this binary")
			}
		} else if len(availableAdapters) == 1 {
			// Default to the only entry in availableAdapters.
			for _, v := range availableAdapters {
				adp = v
			}
		} else {
			return errors.New("store: db adapter is not specified. Please set `store_config.use_adapter` in `cosmo.conf`")
		}
	}

	if adp.IsOpen() {
		return errors.New("store: connection is already opened")
	}

	// Initialize snowflake.
	if workerId < 0 || workerId > 1023 {
		return errors.New("store: invalid worker ID")
	}

	if err := uGen.Init(uint(workerId), config.UidKey); err != nil {
		return errors.New("store: failed to init snowflake: " + err.Error())
	}

	if err := adp.SetMaxResults(config.MaxResults); err != nil {
		return err
	}

	size := config.CacheSize
	if size == 0 {
		size = defaultCacheSize
	}
	initCaches(size)

	var adapterConfig json.RawMessage
	if config.Adapters != nil {
		adapterConfig = config.Adapters[adp.GetName()]
	}

	return adp.Open(adapterConfig)
}

// PersistentStorageInterface defines methods used for interation with persistent storage.
type PersistentStorageInterface interface {
	Open(workerId int, jsonconf json.RawMessage) error
	Close() error
	IsOpen() bool
	GetAdapterName() string
	GetAdapterVersion() int
	GetDbVersion() int
	InitDb(jsonconf json.RawMessage, reset bool) error
	UpgradeDb(jsonconf json.RawMessage) error
	GetUid() types.Uid
	GetUidString() string
	DbStats() func() interface{}
}

// Store is the main object for interacting with persistent storage.
var Store PersistentStorageInterface

type storeObj struct{}

// Open initializes the persistence system. Adapter holds a connection pool for a database instance.
//
//	workerId - snowflake worker id
//	jsonconf - configuration string
func (storeObj) Open(workerId int, jsonconf json.RawMessage) error {
	if err := openAdapter(workerId, jsonconf); err != nil {
		return err
	}

	return adp.CheckDbVersion()
}

// Close terminates connection to persistent storage.
func (storeObj) Close() error {
	purgeCaches()
	if adp.IsOpen() {
		return adp.Close()
	}

	return nil
}

// IsOpen checks if persistent storage connection has been initialized.
func (storeObj) IsOpen() bool {
	if adp != nil {
		return adp.IsOpen()
	}

	return false
}

// GetAdapterName returns the name of the current adater.
func (storeObj) GetAdapterName() string {
	if adp != nil {
		return adp.GetName()
	}

	return ""
}

// GetAdapterVersion returns version of the current adater.
func (storeObj) GetAdapterVersion() int {
	if adp != nil {
		return adp.Version()
	}

	return -1
}

// GetDbVersion returns version of the underlying database.
func (storeObj) GetDbVersion() int {
	if adp != nil {
		vers, _ := adp.GetDbVersion()
		return vers
	}

	return -1
}

// InitDb creates and configures a new database instance. If 'reset' is true it will first
// attempt to drop an existing database. If jsconf is nil it will assume that the adapter is
// already open. If it's non-nil and the adapter is not open, it will use the config string
// to open the adapter first.
func (s storeObj) InitDb(jsonconf json.RawMessage, reset bool) error {
	if !s.IsOpen() {
		if err := openAdapter(1, jsonconf); err != nil {
			return err
		}
	}
	return adp.CreateDb(reset)
}

// UpgradeDb performes an upgrade of the database to the current adapter version.
// If jsconf is nil it will assume that the adapter is already open. If it's non-nil and the
// adapter is not open, it will use the config string to open the adapter first.
func (s storeObj) UpgradeDb(jsonconf json.RawMessage) error {
	if !s.IsOpen() {
		if err := openAdapter(1, jsonconf); err != nil {
			return err
		}
	}
	return adp.UpgradeDb()
}

// RegisterAdapter makes a persistence adapter available.
// If Register is called twice or if the adapter is nil, it panics.
func RegisterAdapter(a adapter.Adapter) {
	if a == nil {
		panic("store: Register adapter is nil")
	}

	adapterName := a.GetName()
	if _, ok := availableAdapters[adapterName]; ok {
		panic("store: adapter '" + adapterName + "' is already registered")
	}
	availableAdapters[adapterName] = a
}

// GetUid generates a unique ID suitable for use as a primary key.
func (storeObj) GetUid() types.Uid {
	return uGen.Get()
}

// GetUidString generate unique ID as string
func (storeObj) GetUidString() string {
	return uGen.GetStr()
}

// DecodeUid takes an XTEA encrypted Uid and decrypts it into an int64.
// This is needed for sql compatibility. Tte original int64 values
// are generated by snowflake which ensures that the top bit is unset.
func DecodeUid(uid types.Uid) int64 {
	if uid.IsZero() {
		return 0
	}
	return uGen.DecodeUid(uid)
}

// EncodeUid applies XTEA encryption to an int64 value. It's the inverse of DecodeUid.
func EncodeUid(id int64) types.Uid {
	if id == 0 {
		return types.ZeroUid
	}
	return uGen.EncodeInt64(id)
}

// DbStats returns a callback returning db connection stats object.
func (s storeObj) DbStats() func() interface{} {
	if !s.IsOpen() {
		return nil
	}
	return adp.Stats
}

// ProfilesPersistenceInterface is an interface which defines methods for persistent storage of profiles.
type ProfilesPersistenceInterface interface {
	FindOrCreate(account string) (*types.Profile, error)
	Get(id types.Uid) (*types.Profile, error)
	Merge(into, from types.Uid) (int, error)
}

// ProfilesObjMapper is a struct to hold methods for persistence mapping for the Profile object.
type ProfilesObjMapper struct{}

// Profiles is the ancor for storing/retrieving Profile objects.
var Profiles ProfilesPersistenceInterface

// FindOrCreate returns the profile linked to the account. If there is none, a new profile
// is created for the account. An empty account always produces a new anonymous profile.
func (ProfilesObjMapper) FindOrCreate(account string) (*types.Profile, error) {
	if account != "" {
		prof, err := profileByAccount(account)
		if err != nil || prof != nil {
			return prof, err
		}
	}

	prof := &types.Profile{Account: account}
	prof.SetUid(Store.GetUid())
	prof.InitTimes()
	err := adp.ProfileCreate(prof)
	if err == types.ErrDuplicate && account != "" {
		// Someone else created the profile for this account concurrently.
		if prof, err = adp.ProfileGetByAccount(account); err == nil && prof == nil {
			err = types.ErrInternal
		}
	}
	if err != nil {
		return nil, err
	}
	if account != "" {
		accountCache.Add(account, prof.Uid())
	}
	return prof, nil
}

// Get returns a profile by id, or nil if it does not exist.
func (ProfilesObjMapper) Get(id types.Uid) (*types.Profile, error) {
	return adp.ProfileGet(id)
}

// Merge reassigns all messages sent by 'from' to 'into' and returns the number of reassigned messages.
//
// The rewrite is not atomic with respect to concurrent senders: a message sent as 'from' while
// the merge is running may keep the old sender.
func (ProfilesObjMapper) Merge(into, from types.Uid) (int, error) {
	if into == from {
		return 0, nil
	}
	count, err := adp.MessageReassignSender(from, into)
	if err != nil {
		logs.Warn.Printf("store: merge of profile %s into %s failed after %d messages: %v", from, into, count, err)
	}
	return count, err
}

func profileByAccount(account string) (*types.Profile, error) {
	if uid, ok := accountCache.Get(account); ok {
		prof, err := adp.ProfileGet(uid)
		if err != nil {
			return nil, err
		}
		if prof != nil && prof.Account == account {
			return prof, nil
		}
		accountCache.Remove(account)
	}

	prof, err := adp.ProfileGetByAccount(account)
	if err != nil {
		return nil, err
	}
	if prof != nil {
		accountCache.Add(account, prof.Uid())
	}
	return prof, nil
}

// ClientsPersistenceInterface is an interface which defines methods for persistent storage of clients.
type ClientsPersistenceInterface interface {
	Get(id string) (*types.Client, error)
	Resolve(id, account string) (*types.Client, *types.Profile, error)
}

// ClientsObjMapper is a struct to hold methods for persistence mapping for the Client object.
type ClientsObjMapper struct{}

// Clients is the ancor for storing/retrieving Client objects.
var Clients ClientsPersistenceInterface

// Get returns a client by id, or nil if it does not exist.
func (ClientsObjMapper) Get(id string) (*types.Client, error) {
	return adp.ClientGet(id)
}

// Resolve finds or creates the client and reconciles its profile with the verified account:
//   - no verified account, or the profile already has it: nothing changes;
//   - the profile has a different account: the client switches to the verified account's profile;
//   - the profile is anonymous and another profile owns the account: the anonymous profile
//     is merged into the owner and the client switches to the owner;
//   - the profile is anonymous and nobody owns the account: the account is attached to the profile.
func (ClientsObjMapper) Resolve(id, account string) (*types.Client, *types.Profile, error) {
	if id == "" {
		return nil, nil, types.ErrMalformed
	}

	cl, err := adp.ClientGet(id)
	if err != nil {
		return nil, nil, err
	}

	if cl == nil {
		prof, err := Profiles.FindOrCreate(account)
		if err != nil {
			return nil, nil, err
		}
		now := types.TimeNow()
		cl = &types.Client{Id: id, CreatedAt: now, UpdatedAt: now, Profile: prof.Id}
		err = adp.ClientCreate(cl)
		if err == nil {
			return cl, prof, nil
		}
		if err != types.ErrDuplicate {
			return nil, nil, err
		}
		// Created by a concurrent request.
		if cl, err = adp.ClientGet(id); err != nil {
			return nil, nil, err
		} else if cl == nil {
			return nil, nil, types.ErrInternal
		}
	}

	prof, err := adp.ProfileGet(types.ParseUid(cl.Profile))
	if err != nil {
		return nil, nil, err
	}
	if prof == nil {
		logs.Warn.Println("store: client", id, "points to missing profile", cl.Profile)
		if prof, err = Profiles.FindOrCreate(account); err != nil {
			return nil, nil, err
		}
		return switchProfile(cl, prof)
	}

	if account == "" || prof.Account == account {
		return cl, prof, nil
	}

	if !prof.IsAnonymous() {
		// Authenticated identity wins.
		target, err := Profiles.FindOrCreate(account)
		if err != nil {
			return nil, nil, err
		}
		return switchProfile(cl, target)
	}

	owner, err := profileByAccount(account)
	if err != nil {
		return nil, nil, err
	}
	if owner == nil {
		err = adp.ProfileSetAccount(prof.Uid(), account)
		if err == nil {
			prof.Account = account
			accountCache.Add(account, prof.Uid())
			return cl, prof, nil
		}
		if err != types.ErrDuplicate {
			return nil, nil, err
		}
		// The account was claimed by another profile in the meantime.
		if owner, err = adp.ProfileGetByAccount(account); err != nil {
			return nil, nil, err
		} else if owner == nil {
			return nil, nil, types.ErrInternal
		}
	}

	if _, err = Profiles.Merge(owner.Uid(), prof.Uid()); err != nil {
		return nil, nil, err
	}
	return switchProfile(cl, owner)
}

func switchProfile(cl *types.Client, prof *types.Profile) (*types.Client, *types.Profile, error) {
	if err := adp.ClientSetProfile(cl.Id, prof.Uid()); err != nil {
		return nil, nil, err
	}
	cl.Profile = prof.Id
	cl.UpdatedAt = types.TimeNow()
	return cl, prof, nil
}

// InstancesPersistenceInterface is an interface which defines methods for persistent storage of instances.
type InstancesPersistenceInterface interface {
	Get(id string) (*types.Instance, error)
	GetOrCreate(id string, polling bool) (*types.Instance, bool, error)
	SetActive(id string) error
	Polled(id string, when time.Time) error
	Delete(id string) error
	GetStale(olderThan time.Time, limit int) ([]types.Instance, error)
}

// InstancesObjMapper is a struct to hold methods for persistence mapping for the Instance object.
type InstancesObjMapper struct{}

// Instances is the ancor for storing/retrieving Instance objects.
var Instances InstancesPersistenceInterface

// Get returns an instance by id, or nil if it does not exist.
func (InstancesObjMapper) Get(id string) (*types.Instance, error) {
	return adp.InstanceGet(id)
}

// GetOrCreate returns an existing instance or creates a new one. Polling instances are active from the start.
func (InstancesObjMapper) GetOrCreate(id string, polling bool) (*types.Instance, bool, error) {
	if id == "" {
		return nil, false, types.ErrMalformed
	}
	now := types.TimeNow()
	inst := &types.Instance{Id: id, CreatedAt: now, Polling: polling, Active: polling}
	if polling {
		inst.LastPoll = now
	}
	return adp.InstanceGetOrCreate(inst)
}

// SetActive marks the instance as connected.
func (InstancesObjMapper) SetActive(id string) error {
	return adp.InstanceUpdate(id, map[string]interface{}{"Active": true})
}

// Polled records the time of the latest poll.
func (InstancesObjMapper) Polled(id string, when time.Time) error {
	return adp.InstanceUpdate(id, map[string]interface{}{"LastPoll": when})
}

// Delete removes the instance record. Subscriptions and pins are not touched.
func (InstancesObjMapper) Delete(id string) error {
	return adp.InstanceDelete(id)
}

// GetStale returns polling instances which have not polled since olderThan.
func (InstancesObjMapper) GetStale(olderThan time.Time, limit int) ([]types.Instance, error) {
	return adp.InstanceGetStale(olderThan, limit)
}

// SubjectsPersistenceInterface is an interface which defines methods for persistent storage of subjects.
type SubjectsPersistenceInterface interface {
	FindOrCreate(name, readableOnlyBy, writableOnlyBy string) (*types.Subject, error)
	Get(id string) (*types.Subject, error)
	Backfill(subject string, opt *types.BackfillOpt) (*types.Backfill, error)
}

// SubjectsObjMapper is a struct to hold methods for persistence mapping for the Subject object.
type SubjectsObjMapper struct{}

// Subjects is the ancor for storing/retrieving Subject objects.
var Subjects SubjectsPersistenceInterface

// FindOrCreate returns the subject identified by the name and both restrictions, creating it if needed.
// Restrictions must be empty, types.AdminOwner or a profile id. NextMessageId of the returned
// subject is not authoritative.
func (SubjectsObjMapper) FindOrCreate(name, readableOnlyBy, writableOnlyBy string) (*types.Subject, error) {
	name = NormalizeSubjectName(name)
	if name == "" || !validOwner(readableOnlyBy) || !validOwner(writableOnlyBy) {
		return nil, types.ErrMalformed
	}

	id := SubjectKey(name, readableOnlyBy, writableOnlyBy)
	if subj, ok := subjectCache.Get(id); ok {
		return &subj, nil
	}

	subj, err := adp.SubjectGetOrCreate(&types.Subject{
		Id:             id,
		CreatedAt:      types.TimeNow(),
		Name:           name,
		ReadableOnlyBy: readableOnlyBy,
		WritableOnlyBy: writableOnlyBy,
		NextMessageId:  1,
	})
	if err != nil {
		return nil, err
	}
	subjectCache.Add(id, *subj)
	return subj, nil
}

// Get returns a subject by id, or nil if it does not exist.
func (SubjectsObjMapper) Get(id string) (*types.Subject, error) {
	if subj, ok := subjectCache.Get(id); ok {
		return &subj, nil
	}
	subj, err := adp.SubjectGet(id)
	if err == nil && subj != nil {
		subjectCache.Add(id, *subj)
	}
	return subj, err
}

// Backfill reads subject history without subscribing.
func (SubjectsObjMapper) Backfill(subject string, opt *types.BackfillOpt) (*types.Backfill, error) {
	return adp.SubjectBackfill(subject, opt)
}

// MessagesPersistenceInterface is an interface which defines methods for persistent storage of messages.
type MessagesPersistenceInterface interface {
	Append(msg *types.Message) (*types.Message, []types.Subscription, error)
	GetRecent(subject string, n int) ([]types.Message, error)
	GetSince(subject string, sinceId int64) ([]types.Message, error)
}

// MessagesObjMapper is a struct to hold methods for persistence mapping for the Message object.
type MessagesObjMapper struct{}

// Messages is the ancor for storing/retrieving Message objects.
var Messages MessagesPersistenceInterface

// Append saves a new message to the subject's log and returns it with the subject's subscriptions.
// If a message with the same sender message id exists, the stored one is returned with types.ErrDuplicate.
func (MessagesObjMapper) Append(msg *types.Message) (*types.Message, []types.Subscription, error) {
	if msg.Subject == "" || msg.SenderMessageId == "" {
		return nil, nil, types.ErrMalformed
	}
	msg.Id = 0
	msg.CreatedAt = types.TimeNow()
	msg.RandomValue = rand.Uint32()
	return adp.MessageAppend(msg)
}

// GetRecent returns the last n messages in ascending order, all of them if n <= 0.
func (MessagesObjMapper) GetRecent(subject string, n int) ([]types.Message, error) {
	return adp.MessageGetRecent(subject, n)
}

// GetSince returns messages with ids greater than sinceId in ascending order.
func (MessagesObjMapper) GetSince(subject string, sinceId int64) ([]types.Message, error) {
	return adp.MessageGetSince(subject, sinceId)
}

// PinsPersistenceInterface is an interface which defines methods for persistent storage of pins.
type PinsPersistenceInterface interface {
	Create(pin *types.Pin) (*types.Pin, []types.Subscription, error)
	Delete(subject, sender, senderMessageId, instance string) ([]types.Pin, []types.Subscription, error)
	GetAll(subject string) ([]types.Pin, error)
	ForInstance(instance string) ([]types.Pin, error)
}

// PinsObjMapper is a struct to hold methods for persistence mapping for the Pin object.
type PinsObjMapper struct{}

// Pins is the ancor for storing/retrieving Pin objects.
var Pins PinsPersistenceInterface

// Create saves a pin. An existing pin with the same subject, sender message id and instance
// is returned with types.ErrDuplicate.
func (PinsObjMapper) Create(pin *types.Pin) (*types.Pin, []types.Subscription, error) {
	if pin.Subject == "" || pin.Instance == "" || pin.SenderMessageId == "" {
		return nil, nil, types.ErrMalformed
	}
	pin.SetUid(Store.GetUid())
	pin.InitTimes()
	return adp.PinCreate(pin)
}

// Delete removes matching pins and returns them together with subscriptions to the subject.
func (PinsObjMapper) Delete(subject, sender, senderMessageId, instance string) ([]types.Pin, []types.Subscription, error) {
	return adp.PinDelete(subject, sender, senderMessageId, instance)
}

// GetAll returns the current pins of a subject.
func (PinsObjMapper) GetAll(subject string) ([]types.Pin, error) {
	return adp.PinsForSubject(subject)
}

// ForInstance returns the pins created by an instance.
func (PinsObjMapper) ForInstance(instance string) ([]types.Pin, error) {
	return adp.PinsForInstance(instance)
}

// SubsPersistenceInterface is an interface which defines methods for persistent storage of subscriptions.
type SubsPersistenceInterface interface {
	Create(sub *types.Subscription, opt *types.BackfillOpt) (*types.Backfill, error)
	Delete(subject, instance string, readableByMe, writableByMe bool) error
	DeleteById(id string) error
	ForSubject(subject string) ([]types.Subscription, error)
	ForInstance(instance string) ([]types.Subscription, error)
}

// SubsObjMapper is a struct to hold methods for persistence mapping for the Subscription object.
type SubsObjMapper struct{}

// Subs is the ancor for storing/retrieving Subscription objects.
var Subs SubsPersistenceInterface

// Create finds or creates a subscription and returns the backfill read in the same transaction.
func (SubsObjMapper) Create(sub *types.Subscription, opt *types.BackfillOpt) (*types.Backfill, error) {
	if sub.Subject == "" || sub.Instance == "" {
		return nil, types.ErrMalformed
	}
	sub.SetUid(Store.GetUid())
	sub.InitTimes()
	return adp.SubsCreate(sub, opt)
}

// Delete removes matching subscriptions. Not finding any is not an error.
func (SubsObjMapper) Delete(subject, instance string, readableByMe, writableByMe bool) error {
	return adp.SubsDelete(subject, instance, readableByMe, writableByMe)
}

// DeleteById removes one subscription with its buffered events.
func (SubsObjMapper) DeleteById(id string) error {
	return adp.SubsDeleteById(id)
}

// ForSubject returns all subscriptions to the subject.
func (SubsObjMapper) ForSubject(subject string) ([]types.Subscription, error) {
	return adp.SubsForSubject(subject)
}

// ForInstance returns all subscriptions of the instance.
func (SubsObjMapper) ForInstance(instance string) ([]types.Subscription, error) {
	return adp.SubsForInstance(instance)
}

// EventsPersistenceInterface is an interface which defines methods for the poll-mode event buffer.
type EventsPersistenceInterface interface {
	Enqueue(subscription string, payload []byte) (*types.Event, error)
	Drain(subscription string, acks []string) ([]types.Event, error)
}

// EventsObjMapper is a struct to hold methods for persistence mapping for the Event object.
type EventsObjMapper struct{}

// Events is the ancor for storing/retrieving buffered events.
var Events EventsPersistenceInterface

// Enqueue appends a serialized event to the subscription's buffer.
func (EventsObjMapper) Enqueue(subscription string, payload []byte) (*types.Event, error) {
	uid := Store.GetUid()
	if uid.IsZero() {
		return nil, types.ErrInternal
	}
	evt := &types.Event{Subscription: subscription, Seq: DecodeUid(uid), Payload: payload}
	evt.SetUid(uid)
	evt.InitTimes()
	if err := adp.EventEnqueue(evt); err != nil {
		return nil, err
	}
	return evt, nil
}

// Drain deletes acknowledged events and returns the rest.
func (EventsObjMapper) Drain(subscription string, acks []string) ([]types.Event, error) {
	return adp.EventDrain(subscription, acks)
}

func init() {
	Store = storeObj{}
	Profiles = ProfilesObjMapper{}
	Clients = ClientsObjMapper{}
	Instances = InstancesObjMapper{}
	Subjects = SubjectsObjMapper{}
	Messages = MessagesObjMapper{}
	Pins = PinsObjMapper{}
	Subs = SubsObjMapper{}
	Events = EventsObjMapper{}
}
