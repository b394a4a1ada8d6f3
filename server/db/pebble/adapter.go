// Package pebble is an embedded database adapter built on CockroachDB's Pebble.
//
// Every call which touches a subject takes the subject's lock and applies its
// writes as one atomic batch, which gives the per-subject serialization the store
// expects. Indexed batches are used so reads inside the call observe its own writes.
package pebble

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"errors"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	pdb "github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"

	"github.com/cosmopolite/cosmopolite/server/concurrency"
	"github.com/cosmopolite/cosmopolite/server/db/common"
	"github.com/cosmopolite/cosmopolite/server/store"
	t "github.com/cosmopolite/cosmopolite/server/store/types"
)

// adapter holds Pebble connection data.
type adapter struct {
	db      *pdb.DB
	dir     string
	inMem   bool
	fsync   bool
	version int
	// Maximum number of records to return
	maxResults int

	locks *concurrency.KeyedMutex
}

const (
	defaultDir = "cosmo-data"

	adpVersion  = 1
	adapterName = "pebble"

	defaultMaxResults = 1024
)

type configType struct {
	// Directory for the database files.
	Dir string `json:"dir,omitempty"`
	// Keep everything in memory. Used for tests and ephemeral deployments.
	InMemory bool `json:"in_memory,omitempty"`
	// Sync WAL on every commit. Default true.
	Fsync *bool `json:"fsync,omitempty"`
	// Size of the block cache in bytes.
	CacheSize int64 `json:"cache_size,omitempty"`
}

// Open initializes database session
func (a *adapter) Open(jsonconfig json.RawMessage) error {
	if a.db != nil {
		return errors.New("pebble adapter is already connected")
	}

	var config configType
	if len(jsonconfig) > 0 {
		if err := json.Unmarshal(jsonconfig, &config); err != nil {
			return errors.New("pebble adapter failed to parse config: " + err.Error())
		}
	}

	a.dir = config.Dir
	if a.dir == "" {
		a.dir = defaultDir
	}
	// MemFS does not resolve "." and ".." path elements.
	a.dir = filepath.Clean(a.dir)
	a.inMem = config.InMemory
	a.fsync = config.Fsync == nil || *config.Fsync
	if a.maxResults <= 0 {
		a.maxResults = defaultMaxResults
	}
	a.locks = concurrency.NewKeyedMutex()

	opts := &pdb.Options{}
	if a.inMem {
		opts.FS = vfs.NewMem()
	}
	if config.CacheSize > 0 {
		cache := pdb.NewCache(config.CacheSize)
		defer cache.Unref()
		opts.Cache = cache
	}

	db, err := pdb.Open(a.dir, opts)
	if err != nil {
		return err
	}
	a.db = db
	a.version = -1

	if a.inMem {
		// Nothing to upgrade in a fresh in-memory store.
		return a.CreateDb(false)
	}
	return nil
}

// Close closes the underlying database connection
func (a *adapter) Close() error {
	var err error
	if a.db != nil {
		err = a.db.Close()
		a.db = nil
		a.version = -1
	}
	return err
}

// IsOpen returns true if connection to database has been established.
func (a *adapter) IsOpen() bool {
	return a.db != nil
}

// GetDbVersion returns current database version.
func (a *adapter) GetDbVersion() (int, error) {
	if a.version > 0 {
		return a.version, nil
	}

	val, found, err := getRaw(a.db, keyVersion)
	if err != nil {
		return -1, err
	}
	if !found {
		return -1, errors.New("Database not initialized")
	}
	a.version, err = strconv.Atoi(string(val))
	if err != nil {
		return -1, err
	}
	return a.version, nil
}

// CheckDbVersion checks whether the actual DB version matches the expected version of this adapter.
func (a *adapter) CheckDbVersion() error {
	version, err := a.GetDbVersion()
	if err != nil {
		return err
	}

	if version != adpVersion {
		return errors.New("Invalid database version " + strconv.Itoa(version) +
			". Expected " + strconv.Itoa(adpVersion))
	}

	return nil
}

// Version returns adapter version.
func (adapter) Version() int {
	return adpVersion
}

// Stats returns DB metrics object.
func (a *adapter) Stats() interface{} {
	if a.db == nil {
		return nil
	}
	return a.db.Metrics()
}

// GetName returns string that adapter uses to register itself with store.
func (a *adapter) GetName() string {
	return adapterName
}

// SetMaxResults configures how many results can be returned in a single DB call.
func (a *adapter) SetMaxResults(val int) error {
	if val <= 0 {
		a.maxResults = defaultMaxResults
	} else {
		a.maxResults = val
	}
	return nil
}

// CreateDb initializes the storage. With reset all existing keys are dropped first.
func (a *adapter) CreateDb(reset bool) error {
	if a.db == nil {
		return errors.New("pebble adapter is not connected")
	}

	b := a.db.NewBatch()
	defer b.Close()
	if reset {
		if err := b.DeleteRange([]byte{0}, []byte{0xff}, nil); err != nil {
			return err
		}
	} else if _, found, err := getRaw(a.db, keyVersion); err != nil {
		return err
	} else if found {
		return errors.New("pebble adapter: database already initialized")
	}
	if err := b.Set(keyVersion, []byte(strconv.Itoa(adpVersion)), nil); err != nil {
		return err
	}
	a.version = -1
	return b.Commit(pdb.Sync)
}

// UpgradeDb upgrades the database, if necessary.
func (a *adapter) UpgradeDb() error {
	version, err := a.GetDbVersion()
	if err != nil {
		return err
	}
	if version != adpVersion {
		return errors.New("pebble adapter: unable to upgrade from version " + strconv.Itoa(version))
	}
	return nil
}

func (a *adapter) writeOpts() *pdb.WriteOptions {
	if a.fsync {
		return pdb.Sync
	}
	return pdb.NoSync
}

// Low-level helpers.

func getRaw(r pdb.Reader, k []byte) ([]byte, bool, error) {
	val, closer, err := r.Get(k)
	if err == pdb.ErrNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	defer closer.Close()
	return append([]byte(nil), val...), true, nil
}

func getJSON(r pdb.Reader, k []byte, v interface{}) (bool, error) {
	val, found, err := getRaw(r, k)
	if err != nil || !found {
		return false, err
	}
	return true, json.Unmarshal(val, v)
}

func setJSON(b *pdb.Batch, k []byte, v interface{}) error {
	val, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return b.Set(k, val, nil)
}

// scan calls fn for every key with the given prefix in ascending order, or descending if reverse is set.
// Returning false from fn stops the iteration.
func scan(r pdb.Reader, prefix []byte, reverse bool, fn func(k, v []byte) (bool, error)) error {
	return scanRange(r, prefix, prefixEnd(prefix), reverse, fn)
}

func scanRange(r pdb.Reader, lower, upper []byte, reverse bool, fn func(k, v []byte) (bool, error)) error {
	iter, err := r.NewIter(&pdb.IterOptions{LowerBound: lower, UpperBound: upper})
	if err != nil {
		return err
	}
	defer iter.Close()

	var valid bool
	if reverse {
		valid = iter.Last()
	} else {
		valid = iter.First()
	}
	for valid {
		more, err := fn(append([]byte(nil), iter.Key()...), append([]byte(nil), iter.Value()...))
		if err != nil {
			return err
		}
		if !more {
			break
		}
		if reverse {
			valid = iter.Prev()
		} else {
			valid = iter.Next()
		}
	}
	return iter.Error()
}

// keyParts splits the key into components after the prefix, ignoring the trailing big-endian
// sequence if trim is set.
func keyParts(k []byte, prefix string, trimSeq bool) []string {
	k = bytes.TrimPrefix(k, []byte(prefix+"/"))
	if trimSeq && len(k) >= 9 {
		k = k[:len(k)-9]
	}
	return strings.Split(string(k), "/")
}

func (a *adapter) lockSubject(subject string) func() {
	return a.locks.Lock("s/" + subject)
}

// Profiles

// ProfileCreate creates a profile record.
func (a *adapter) ProfileCreate(prof *t.Profile) error {
	b := a.db.NewIndexedBatch()
	defer b.Close()

	if prof.Account != "" {
		unlock := a.locks.Lock("pa/" + prof.Account)
		defer unlock()
		if _, found, err := getRaw(b, accountKey(prof.Account)); err != nil {
			return err
		} else if found {
			return t.ErrDuplicate
		}
		if err := b.Set(accountKey(prof.Account), []byte(prof.Id), nil); err != nil {
			return err
		}
	}
	if err := setJSON(b, profileKey(prof.Id), prof); err != nil {
		return err
	}
	return b.Commit(a.writeOpts())
}

// ProfileGet returns a profile by id.
func (a *adapter) ProfileGet(id t.Uid) (*t.Profile, error) {
	var prof t.Profile
	found, err := getJSON(a.db, profileKey(id.String()), &prof)
	if err != nil || !found {
		return nil, err
	}
	return &prof, nil
}

// ProfileGetByAccount returns the profile which owns the account.
func (a *adapter) ProfileGetByAccount(account string) (*t.Profile, error) {
	id, found, err := getRaw(a.db, accountKey(account))
	if err != nil || !found {
		return nil, err
	}
	return a.ProfileGet(t.ParseUid(string(id)))
}

// ProfileSetAccount links an anonymous profile to the account.
func (a *adapter) ProfileSetAccount(id t.Uid, account string) error {
	unlock := a.locks.Lock("pa/" + account)
	defer unlock()

	b := a.db.NewIndexedBatch()
	defer b.Close()

	if owner, found, err := getRaw(b, accountKey(account)); err != nil {
		return err
	} else if found {
		if string(owner) == id.String() {
			return nil
		}
		return t.ErrDuplicate
	}

	var prof t.Profile
	if found, err := getJSON(b, profileKey(id.String()), &prof); err != nil {
		return err
	} else if !found {
		return t.ErrNotFound
	}
	if prof.Account != "" {
		return t.ErrFailed
	}
	prof.Account = account
	prof.UpdatedAt = t.TimeNow()
	if err := setJSON(b, profileKey(prof.Id), &prof); err != nil {
		return err
	}
	if err := b.Set(accountKey(account), []byte(prof.Id), nil); err != nil {
		return err
	}
	return b.Commit(a.writeOpts())
}

// MessageReassignSender rewrites the sender of messages one subject at a time.
func (a *adapter) MessageReassignSender(from, into t.Uid) (int, error) {
	type ref struct {
		subject string
		id      int64
	}
	var refs []ref
	err := scan(a.db, key(pfxMessageBy, from.String(), ""), false, func(k, _ []byte) (bool, error) {
		parts := keyParts(k, pfxMessageBy, true)
		if len(parts) == 2 {
			refs = append(refs, ref{subject: parts[1], id: int64(seqFromKey(k))})
		}
		return true, nil
	})
	if err != nil {
		return 0, err
	}

	count := 0
	for _, r := range refs {
		changed, err := a.reassignOne(r.subject, r.id, from.String(), into.String())
		if err != nil {
			return count, err
		}
		if changed {
			count++
		}
	}
	return count, nil
}

func (a *adapter) reassignOne(subject string, id int64, from, into string) (bool, error) {
	unlock := a.lockSubject(subject)
	defer unlock()

	b := a.db.NewIndexedBatch()
	defer b.Close()

	var msg t.Message
	found, err := getJSON(b, messageKey(subject, id), &msg)
	if err != nil || !found || msg.Sender != from {
		return false, err
	}
	msg.Sender = into
	if err = setJSON(b, messageKey(subject, id), &msg); err != nil {
		return false, err
	}
	if err = b.Delete(messageBySenderKey(from, subject, id), nil); err != nil {
		return false, err
	}
	if err = b.Set(messageBySenderKey(into, subject, id), nil, nil); err != nil {
		return false, err
	}
	return true, b.Commit(a.writeOpts())
}

// Clients

// ClientGet returns a client by id.
func (a *adapter) ClientGet(id string) (*t.Client, error) {
	var cl t.Client
	found, err := getJSON(a.db, clientKey(id), &cl)
	if err != nil || !found {
		return nil, err
	}
	return &cl, nil
}

// ClientCreate creates a client record.
func (a *adapter) ClientCreate(cl *t.Client) error {
	unlock := a.locks.Lock("c/" + cl.Id)
	defer unlock()

	b := a.db.NewIndexedBatch()
	defer b.Close()
	if _, found, err := getRaw(b, clientKey(cl.Id)); err != nil {
		return err
	} else if found {
		return t.ErrDuplicate
	}
	if err := setJSON(b, clientKey(cl.Id), cl); err != nil {
		return err
	}
	return b.Commit(a.writeOpts())
}

// ClientSetProfile re-parents the client.
func (a *adapter) ClientSetProfile(id string, profile t.Uid) error {
	unlock := a.locks.Lock("c/" + id)
	defer unlock()

	b := a.db.NewIndexedBatch()
	defer b.Close()
	var cl t.Client
	if found, err := getJSON(b, clientKey(id), &cl); err != nil {
		return err
	} else if !found {
		return t.ErrNotFound
	}
	cl.Profile = profile.String()
	cl.UpdatedAt = t.TimeNow()
	if err := setJSON(b, clientKey(id), &cl); err != nil {
		return err
	}
	return b.Commit(a.writeOpts())
}

// Instances

// InstanceGet returns an instance by id.
func (a *adapter) InstanceGet(id string) (*t.Instance, error) {
	var inst t.Instance
	found, err := getJSON(a.db, instanceKey(id), &inst)
	if err != nil || !found {
		return nil, err
	}
	return &inst, nil
}

// InstanceGetOrCreate returns the existing instance or saves the new one.
func (a *adapter) InstanceGetOrCreate(inst *t.Instance) (*t.Instance, bool, error) {
	unlock := a.locks.Lock("i/" + inst.Id)
	defer unlock()

	b := a.db.NewIndexedBatch()
	defer b.Close()

	var existing t.Instance
	if found, err := getJSON(b, instanceKey(inst.Id), &existing); err != nil {
		return nil, false, err
	} else if found {
		return &existing, false, nil
	}
	if err := setJSON(b, instanceKey(inst.Id), inst); err != nil {
		return nil, false, err
	}
	if inst.Polling {
		if err := b.Set(pollIndexKey(inst.LastPoll, inst.Id), nil, nil); err != nil {
			return nil, false, err
		}
	}
	if err := b.Commit(a.writeOpts()); err != nil {
		return nil, false, err
	}
	return inst, true, nil
}

// InstanceUpdate updates Active and LastPoll fields of an instance.
func (a *adapter) InstanceUpdate(id string, update map[string]interface{}) error {
	unlock := a.locks.Lock("i/" + id)
	defer unlock()

	b := a.db.NewIndexedBatch()
	defer b.Close()

	var inst t.Instance
	if found, err := getJSON(b, instanceKey(id), &inst); err != nil {
		return err
	} else if !found {
		return t.ErrNotFound
	}
	for field, val := range update {
		switch field {
		case "Active":
			active, ok := val.(bool)
			if !ok {
				return t.ErrMalformed
			}
			inst.Active = active
		case "LastPoll":
			when, ok := val.(time.Time)
			if !ok {
				return t.ErrMalformed
			}
			if inst.Polling {
				if err := b.Delete(pollIndexKey(inst.LastPoll, id), nil); err != nil {
					return err
				}
				if err := b.Set(pollIndexKey(when, id), nil, nil); err != nil {
					return err
				}
			}
			inst.LastPoll = when
		default:
			return t.ErrMalformed
		}
	}
	if err := setJSON(b, instanceKey(id), &inst); err != nil {
		return err
	}
	return b.Commit(a.writeOpts())
}

// InstanceDelete deletes the instance record.
func (a *adapter) InstanceDelete(id string) error {
	unlock := a.locks.Lock("i/" + id)
	defer unlock()

	b := a.db.NewIndexedBatch()
	defer b.Close()

	var inst t.Instance
	if found, err := getJSON(b, instanceKey(id), &inst); err != nil || !found {
		return err
	}
	if inst.Polling {
		if err := b.Delete(pollIndexKey(inst.LastPoll, id), nil); err != nil {
			return err
		}
	}
	if err := b.Delete(instanceKey(id), nil); err != nil {
		return err
	}
	return b.Commit(a.writeOpts())
}

// InstanceGetStale returns polling instances which were last polled before olderThan.
func (a *adapter) InstanceGetStale(olderThan time.Time, limit int) ([]t.Instance, error) {
	if limit <= 0 || limit > a.maxResults {
		limit = a.maxResults
	}
	lower := append(key(pfxPollIndex), sep)
	upper := appendBE8(append(key(pfxPollIndex), sep), uint64(olderThan.UnixNano()))

	var ids []string
	err := scanRange(a.db, lower, upper, false, func(k, _ []byte) (bool, error) {
		// ip/{be8}/{instance}
		enc := string(k[len(lower)+9:])
		if raw, err := hex.DecodeString(enc); err == nil {
			ids = append(ids, string(raw))
		}
		return len(ids) < limit, nil
	})
	if err != nil {
		return nil, err
	}

	var out []t.Instance
	for _, id := range ids {
		inst, err := a.InstanceGet(id)
		if err != nil {
			return nil, err
		}
		if inst != nil {
			out = append(out, *inst)
		}
	}
	return out, nil
}

// Subjects

// SubjectGetOrCreate returns the subject, creating it if necessary.
func (a *adapter) SubjectGetOrCreate(subj *t.Subject) (*t.Subject, error) {
	unlock := a.lockSubject(subj.Id)
	defer unlock()

	b := a.db.NewIndexedBatch()
	defer b.Close()

	var existing t.Subject
	if found, err := getJSON(b, subjectKey(subj.Id), &existing); err != nil {
		return nil, err
	} else if found {
		return &existing, nil
	}
	if err := setJSON(b, subjectKey(subj.Id), subj); err != nil {
		return nil, err
	}
	if err := b.Commit(a.writeOpts()); err != nil {
		return nil, err
	}
	return subj, nil
}

// SubjectGet returns a subject by id.
func (a *adapter) SubjectGet(id string) (*t.Subject, error) {
	var subj t.Subject
	found, err := getJSON(a.db, subjectKey(id), &subj)
	if err != nil || !found {
		return nil, err
	}
	return &subj, nil
}

// SubjectBackfill reads subject history from a consistent snapshot.
func (a *adapter) SubjectBackfill(subject string, opt *t.BackfillOpt) (*t.Backfill, error) {
	snap := a.db.NewSnapshot()
	defer snap.Close()
	return common.ReadBackfill(opt, a.backfillReader(snap, subject))
}

func (a *adapter) backfillReader(r pdb.Reader, subject string) common.BackfillReader {
	return common.BackfillReader{
		Pins:   func() ([]t.Pin, error) { return pinsForSubject(r, subject) },
		Recent: func(n int) ([]t.Message, error) { return messagesRecent(r, subject, n) },
		Since:  func(id int64) ([]t.Message, error) { return messagesSince(r, subject, id) },
	}
}

// Messages

// MessageAppend saves a message with the next id of its subject.
func (a *adapter) MessageAppend(msg *t.Message) (*t.Message, []t.Subscription, error) {
	unlock := a.lockSubject(msg.Subject)
	defer unlock()

	b := a.db.NewIndexedBatch()
	defer b.Close()

	var subj t.Subject
	if found, err := getJSON(b, subjectKey(msg.Subject), &subj); err != nil {
		return nil, nil, err
	} else if !found {
		return nil, nil, t.ErrNotFound
	}

	if idb, found, err := getRaw(b, messageDedupKey(msg.Subject, msg.SenderMessageId)); err != nil {
		return nil, nil, err
	} else if found {
		var orig t.Message
		if _, err := getJSON(b, messageKey(msg.Subject, int64(seqFromKey(idb))), &orig); err != nil {
			return nil, nil, err
		}
		return &orig, nil, t.ErrDuplicate
	}

	if subj.NextMessageId < 1 {
		subj.NextMessageId = 1
	}
	msg.Id = subj.NextMessageId
	subj.NextMessageId++

	if err := setJSON(b, subjectKey(subj.Id), &subj); err != nil {
		return nil, nil, err
	}
	if err := setJSON(b, messageKey(msg.Subject, msg.Id), msg); err != nil {
		return nil, nil, err
	}
	if err := b.Set(messageDedupKey(msg.Subject, msg.SenderMessageId), appendBE8(nil, uint64(msg.Id)), nil); err != nil {
		return nil, nil, err
	}
	if msg.Sender != "" {
		if err := b.Set(messageBySenderKey(msg.Sender, msg.Subject, msg.Id), nil, nil); err != nil {
			return nil, nil, err
		}
	}

	subs, err := subsForSubject(b, msg.Subject)
	if err != nil {
		return nil, nil, err
	}
	if err := b.Commit(a.writeOpts()); err != nil {
		return nil, nil, err
	}
	return msg, subs, nil
}

// MessageGetRecent returns the last n messages in ascending order.
func (a *adapter) MessageGetRecent(subject string, n int) ([]t.Message, error) {
	return messagesRecent(a.db, subject, n)
}

// MessageGetSince returns messages after sinceId in ascending order.
func (a *adapter) MessageGetSince(subject string, sinceId int64) ([]t.Message, error) {
	return messagesSince(a.db, subject, sinceId)
}

func messagesRecent(r pdb.Reader, subject string, n int) ([]t.Message, error) {
	var out []t.Message
	err := scan(r, key(pfxMessage, subject, ""), true, func(_, v []byte) (bool, error) {
		var msg t.Message
		if err := json.Unmarshal(v, &msg); err != nil {
			return false, err
		}
		out = append(out, msg)
		return n <= 0 || len(out) < n, nil
	})
	if err != nil {
		return nil, err
	}
	return common.Reversed(out), nil
}

func messagesSince(r pdb.Reader, subject string, sinceId int64) ([]t.Message, error) {
	if sinceId < 0 {
		sinceId = 0
	}
	prefix := key(pfxMessage, subject, "")
	var out []t.Message
	err := scanRange(r, messageKey(subject, sinceId+1), prefixEnd(prefix), false, func(_, v []byte) (bool, error) {
		var msg t.Message
		if err := json.Unmarshal(v, &msg); err != nil {
			return false, err
		}
		out = append(out, msg)
		return true, nil
	})
	return out, err
}

// Pins

// PinCreate saves a pin unless one with the same subject, sender message id and instance exists.
func (a *adapter) PinCreate(pin *t.Pin) (*t.Pin, []t.Subscription, error) {
	unlock := a.lockSubject(pin.Subject)
	defer unlock()

	b := a.db.NewIndexedBatch()
	defer b.Close()

	if _, found, err := getRaw(b, subjectKey(pin.Subject)); err != nil {
		return nil, nil, err
	} else if !found {
		return nil, nil, t.ErrNotFound
	}

	dedup := pinDedupKey(pin.Subject, pin.SenderMessageId, pin.Instance)
	if id, found, err := getRaw(b, dedup); err != nil {
		return nil, nil, err
	} else if found {
		var orig t.Pin
		if _, err := getJSON(b, pinKey(pin.Subject, string(id)), &orig); err != nil {
			return nil, nil, err
		}
		return &orig, nil, t.ErrDuplicate
	}

	if err := setJSON(b, pinKey(pin.Subject, pin.Id), pin); err != nil {
		return nil, nil, err
	}
	if err := b.Set(dedup, []byte(pin.Id), nil); err != nil {
		return nil, nil, err
	}
	if err := b.Set(pinByInstanceKey(pin.Instance, pin.Subject, pin.Id), nil, nil); err != nil {
		return nil, nil, err
	}

	subs, err := subsForSubject(b, pin.Subject)
	if err != nil {
		return nil, nil, err
	}
	if err := b.Commit(a.writeOpts()); err != nil {
		return nil, nil, err
	}
	return pin, subs, nil
}

// PinDelete removes the pins matching sender, sender message id and instance.
func (a *adapter) PinDelete(subject, sender, senderMessageId, instance string) ([]t.Pin, []t.Subscription, error) {
	unlock := a.lockSubject(subject)
	defer unlock()

	b := a.db.NewIndexedBatch()
	defer b.Close()

	dedup := pinDedupKey(subject, senderMessageId, instance)
	id, found, err := getRaw(b, dedup)
	if err != nil || !found {
		return nil, nil, err
	}
	var pin t.Pin
	if found, err := getJSON(b, pinKey(subject, string(id)), &pin); err != nil {
		return nil, nil, err
	} else if !found || pin.Sender != sender {
		return nil, nil, nil
	}

	for _, k := range [][]byte{dedup, pinKey(subject, pin.Id), pinByInstanceKey(instance, subject, pin.Id)} {
		if err := b.Delete(k, nil); err != nil {
			return nil, nil, err
		}
	}
	subs, err := subsForSubject(b, subject)
	if err != nil {
		return nil, nil, err
	}
	if err := b.Commit(a.writeOpts()); err != nil {
		return nil, nil, err
	}
	return []t.Pin{pin}, subs, nil
}

// PinsForSubject returns current pins of the subject.
func (a *adapter) PinsForSubject(subject string) ([]t.Pin, error) {
	return pinsForSubject(a.db, subject)
}

func pinsForSubject(r pdb.Reader, subject string) ([]t.Pin, error) {
	var out []t.Pin
	err := scan(r, key(pfxPin, subject, ""), false, func(_, v []byte) (bool, error) {
		var pin t.Pin
		if err := json.Unmarshal(v, &pin); err != nil {
			return false, err
		}
		out = append(out, pin)
		return true, nil
	})
	return out, err
}

// PinsForInstance returns pins created by the instance.
func (a *adapter) PinsForInstance(instance string) ([]t.Pin, error) {
	var out []t.Pin
	err := scan(a.db, key(pfxPinByInst, esc(instance), ""), false, func(k, _ []byte) (bool, error) {
		parts := keyParts(k, pfxPinByInst, false)
		if len(parts) != 3 {
			return true, nil
		}
		var pin t.Pin
		if found, err := getJSON(a.db, pinKey(parts[1], parts[2]), &pin); err != nil {
			return false, err
		} else if found {
			out = append(out, pin)
		}
		return true, nil
	})
	return out, err
}

// Subscriptions

// SubsCreate finds or creates the subscription and reads the backfill in the same batch.
func (a *adapter) SubsCreate(sub *t.Subscription, opt *t.BackfillOpt) (*t.Backfill, error) {
	unlock := a.lockSubject(sub.Subject)
	defer unlock()

	b := a.db.NewIndexedBatch()
	defer b.Close()

	if _, found, err := getRaw(b, subjectKey(sub.Subject)); err != nil {
		return nil, err
	} else if !found {
		return nil, t.ErrNotFound
	}

	ident := subIdentityKey(sub.Subject, sub.Instance, sub.ReadableOnlyByMe, sub.WritableOnlyByMe)
	if _, found, err := getRaw(b, ident); err != nil {
		return nil, err
	} else if !found {
		if err := setJSON(b, subKey(sub.Subject, sub.Id), sub); err != nil {
			return nil, err
		}
		if err := b.Set(ident, []byte(sub.Id), nil); err != nil {
			return nil, err
		}
		if err := b.Set(subByInstanceKey(sub.Instance, sub.Subject, sub.Id), nil, nil); err != nil {
			return nil, err
		}
		if err := b.Set(subIndexKey(sub.Id), []byte(sub.Subject), nil); err != nil {
			return nil, err
		}
	}

	bf, err := common.ReadBackfill(opt, a.backfillReader(b, sub.Subject))
	if err != nil {
		return nil, err
	}
	if err := b.Commit(a.writeOpts()); err != nil {
		return nil, err
	}
	return bf, nil
}

// SubsDelete removes the subscription with the given identity.
func (a *adapter) SubsDelete(subject, instance string, readableByMe, writableByMe bool) error {
	unlock := a.lockSubject(subject)
	defer unlock()

	id, found, err := getRaw(a.db, subIdentityKey(subject, instance, readableByMe, writableByMe))
	if err != nil || !found {
		return err
	}
	return a.deleteSub(subject, string(id))
}

// SubsDeleteById removes one subscription.
func (a *adapter) SubsDeleteById(id string) error {
	subject, found, err := getRaw(a.db, subIndexKey(id))
	if err != nil || !found {
		return err
	}
	unlock := a.lockSubject(string(subject))
	defer unlock()
	return a.deleteSub(string(subject), id)
}

// deleteSub removes a subscription and its buffered events. The subject lock must be held.
func (a *adapter) deleteSub(subject, id string) error {
	unlock := a.locks.Lock("e/" + id)
	defer unlock()

	b := a.db.NewIndexedBatch()
	defer b.Close()

	var sub t.Subscription
	if found, err := getJSON(b, subKey(subject, id), &sub); err != nil || !found {
		return err
	}
	for _, k := range [][]byte{
		subKey(subject, id),
		subIdentityKey(subject, sub.Instance, sub.ReadableOnlyByMe, sub.WritableOnlyByMe),
		subByInstanceKey(sub.Instance, subject, id),
		subIndexKey(id),
	} {
		if err := b.Delete(k, nil); err != nil {
			return err
		}
	}
	prefix := eventPrefix(id)
	if err := b.DeleteRange(prefix, prefixEnd(prefix), nil); err != nil {
		return err
	}
	return b.Commit(a.writeOpts())
}

// SubsForSubject returns all subscriptions to the subject.
func (a *adapter) SubsForSubject(subject string) ([]t.Subscription, error) {
	return subsForSubject(a.db, subject)
}

func subsForSubject(r pdb.Reader, subject string) ([]t.Subscription, error) {
	var out []t.Subscription
	err := scan(r, key(pfxSub, subject, ""), false, func(_, v []byte) (bool, error) {
		var sub t.Subscription
		if err := json.Unmarshal(v, &sub); err != nil {
			return false, err
		}
		out = append(out, sub)
		return true, nil
	})
	return out, err
}

// SubsForInstance returns all subscriptions of the instance.
func (a *adapter) SubsForInstance(instance string) ([]t.Subscription, error) {
	var out []t.Subscription
	err := scan(a.db, key(pfxSubByInst, esc(instance), ""), false, func(k, _ []byte) (bool, error) {
		parts := keyParts(k, pfxSubByInst, false)
		if len(parts) != 3 {
			return true, nil
		}
		var sub t.Subscription
		if found, err := getJSON(a.db, subKey(parts[1], parts[2]), &sub); err != nil {
			return false, err
		} else if found {
			out = append(out, sub)
		}
		return true, nil
	})
	return out, err
}

// Buffered events

// EventEnqueue appends the event to its subscription's buffer. Returns ErrNotFound
// if the subscription no longer exists.
func (a *adapter) EventEnqueue(evt *t.Event) error {
	unlock := a.locks.Lock("e/" + evt.Subscription)
	defer unlock()

	if _, found, err := getRaw(a.db, subIndexKey(evt.Subscription)); err != nil {
		return err
	} else if !found {
		return t.ErrNotFound
	}

	b := a.db.NewBatch()
	defer b.Close()
	if err := setJSON(b, eventKey(evt.Subscription, evt.Seq), evt); err != nil {
		return err
	}
	return b.Commit(a.writeOpts())
}

// EventDrain deletes acknowledged events and returns the remaining ones.
func (a *adapter) EventDrain(subscription string, acks []string) ([]t.Event, error) {
	unlock := a.locks.Lock("e/" + subscription)
	defer unlock()

	acked := common.AckSet(acks)
	var out []t.Event
	var done [][]byte
	err := scan(a.db, eventPrefix(subscription), false, func(k, v []byte) (bool, error) {
		var evt t.Event
		if err := json.Unmarshal(v, &evt); err != nil {
			return false, err
		}
		if acked[evt.Id] {
			done = append(done, k)
		} else {
			out = append(out, evt)
		}
		return true, nil
	})
	if err != nil {
		return nil, err
	}

	if len(done) > 0 {
		b := a.db.NewBatch()
		defer b.Close()
		for _, k := range done {
			if err := b.Delete(k, nil); err != nil {
				return nil, err
			}
		}
		if err := b.Commit(a.writeOpts()); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func init() {
	store.RegisterAdapter(&adapter{})
}
