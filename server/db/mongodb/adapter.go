// Package mongodb is a database adapter for MongoDB.
//
// Message ids are allocated with an atomic $inc of the subject's counter and dedup keys are
// enforced by unique indexes. When a replica set is configured every call which touches a
// subject runs in a multi-document transaction. A standalone server has no transactions: a
// lost dedup race then leaves an unused message id.
package mongodb

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	b "go.mongodb.org/mongo-driver/bson"
	mdb "go.mongodb.org/mongo-driver/mongo"
	mdbopts "go.mongodb.org/mongo-driver/mongo/options"

	"github.com/cosmopolite/cosmopolite/server/db/common"
	"github.com/cosmopolite/cosmopolite/server/logs"
	"github.com/cosmopolite/cosmopolite/server/store"
	t "github.com/cosmopolite/cosmopolite/server/store/types"
)

// adapter holds MongoDB connection data.
type adapter struct {
	conn            *mdb.Client
	db              *mdb.Database
	dbName          string
	maxResults      int
	version         int
	ctx             context.Context
	useTransactions bool
}

const (
	defaultHost     = "localhost:27017"
	defaultDatabase = "cosmopolite"

	adpVersion  = 1
	adapterName = "mongodb"

	defaultMaxResults = 1024
)

// See https://godoc.org/go.mongodb.org/mongo-driver/mongo/options#ClientOptions for explanations.
type configType struct {
	Addresses      interface{} `json:"addresses,omitempty"`
	ConnectTimeout int         `json:"timeout,omitempty"`

	// Options separately from ClientOptions (custom options):
	Database   string `json:"database,omitempty"`
	ReplicaSet string `json:"replica_set,omitempty"`

	AuthSource string `json:"auth_source,omitempty"`
	Username   string `json:"username,omitempty"`
	Password   string `json:"password,omitempty"`
}

// Open initializes mongodb session
func (a *adapter) Open(jsonconfig json.RawMessage) error {
	if a.conn != nil {
		return errors.New("adapter mongodb is already connected")
	}

	var err error
	var config configType
	if len(jsonconfig) > 0 {
		if err = json.Unmarshal(jsonconfig, &config); err != nil {
			return errors.New("adapter mongodb failed to parse config: " + err.Error())
		}
	}

	var opts mdbopts.ClientOptions

	switch addr := config.Addresses.(type) {
	case nil:
		opts.SetHosts([]string{defaultHost})
	case string:
		opts.SetHosts([]string{addr})
	case []interface{}:
		var hosts []string
		for _, h := range addr {
			host, ok := h.(string)
			if !ok {
				return errors.New("adapter mongodb failed to parse config.Addresses")
			}
			hosts = append(hosts, host)
		}
		opts.SetHosts(hosts)
	default:
		return errors.New("adapter mongodb failed to parse config.Addresses")
	}

	if config.ConnectTimeout > 0 {
		opts.SetConnectTimeout(time.Duration(config.ConnectTimeout) * time.Second)
	}

	if config.Database == "" {
		a.dbName = defaultDatabase
	} else {
		a.dbName = config.Database
	}

	if config.ReplicaSet == "" {
		logs.Info.Println("MongoDB configured as standalone or replica_set option not set. Transaction support is disabled.")
	} else {
		opts.SetReplicaSet(config.ReplicaSet)
		a.useTransactions = true
	}

	if config.Username != "" {
		var passwordSet bool
		if config.AuthSource == "" {
			config.AuthSource = "admin"
		}
		if config.Password != "" {
			passwordSet = true
		}
		opts.SetAuth(
			mdbopts.Credential{
				AuthMechanism: "SCRAM-SHA-256",
				AuthSource:    config.AuthSource,
				Username:      config.Username,
				Password:      config.Password,
				PasswordSet:   passwordSet,
			})
	}

	if a.maxResults <= 0 {
		a.maxResults = defaultMaxResults
	}

	a.ctx = context.Background()
	conn, err := mdb.Connect(a.ctx, &opts)
	if err != nil {
		return err
	}
	if err = conn.Ping(a.ctx, nil); err != nil {
		conn.Disconnect(a.ctx)
		return err
	}
	a.conn = conn
	a.db = a.conn.Database(a.dbName)
	a.version = -1

	return nil
}

// Close the adapter
func (a *adapter) Close() error {
	var err error
	if a.conn != nil {
		err = a.conn.Disconnect(a.ctx)
		a.conn = nil
		a.version = -1
	}
	return err
}

// IsOpen checks if the adapter is ready for use
func (a *adapter) IsOpen() bool {
	return a.conn != nil
}

// GetDbVersion returns current database version.
func (a *adapter) GetDbVersion() (int, error) {
	if a.version > 0 {
		return a.version, nil
	}

	var result struct {
		Key   string `bson:"_id"`
		Value int
	}
	if err := a.db.Collection("kvmeta").FindOne(a.ctx, b.M{"_id": "version"}).Decode(&result); err != nil {
		if err == mdb.ErrNoDocuments {
			err = errors.New("Database not initialized")
		}
		return -1, err
	}

	a.version = result.Value
	return result.Value, nil
}

func (a *adapter) isDbInitialized() bool {
	var result b.M
	return a.db.Collection("kvmeta").FindOne(a.ctx, b.M{"_id": "version"}).Decode(&result) == nil
}

// CheckDbVersion checks if the actual database version matches adapter version.
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

// Version returns adapter version
func (a *adapter) Version() int {
	return adpVersion
}

// GetName returns the name of the adapter
func (a *adapter) GetName() string {
	return adapterName
}

// Stats returns the output of the dbStats command.
func (a *adapter) Stats() interface{} {
	if a.db == nil {
		return nil
	}
	var stats b.M
	if err := a.db.RunCommand(a.ctx, b.D{{Key: "dbStats", Value: 1}}).Decode(&stats); err != nil {
		return nil
	}
	return stats
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

// CreateDb creates the database optionally dropping an existing database first.
func (a *adapter) CreateDb(reset bool) error {
	if reset {
		logs.Info.Print("Dropping database...")
		if err := a.db.Drop(a.ctx); err != nil {
			return err
		}
	} else if a.isDbInitialized() {
		return errors.New("Database already initialized")
	}
	// Collections (tables) do not need to be explicitly created since MongoDB creates them with first write operation

	unique := mdbopts.Index().SetUnique(true)
	indexes := []struct {
		Collection string
		IndexOpts  mdb.IndexModel
	}{
		// Only linked accounts are unique, anonymous profiles have an empty account.
		{
			Collection: "profiles",
			IndexOpts: mdb.IndexModel{
				Keys: b.D{{Key: "account", Value: 1}},
				Options: mdbopts.Index().
					SetUnique(true).
					SetPartialFilterExpression(b.M{"account": b.M{"$gt": ""}}),
			},
		},
		// Finding stale polling instances.
		{
			Collection: "instances",
			IndexOpts:  mdb.IndexModel{Keys: b.D{{Key: "polling", Value: 1}, {Key: "lastpoll", Value: 1}}},
		},
		{
			Collection: "messages",
			IndexOpts:  mdb.IndexModel{Keys: b.D{{Key: "subject", Value: 1}, {Key: "id", Value: 1}}, Options: unique},
		},
		// Message dedup key.
		{
			Collection: "messages",
			IndexOpts:  mdb.IndexModel{Keys: b.D{{Key: "subject", Value: 1}, {Key: "sendermessageid", Value: 1}}, Options: unique},
		},
		{
			Collection: "messages",
			IndexOpts:  mdb.IndexModel{Keys: b.D{{Key: "sender", Value: 1}}},
		},
		// Pin dedup key.
		{
			Collection: "pins",
			IndexOpts: mdb.IndexModel{Keys: b.D{{Key: "subject", Value: 1}, {Key: "sendermessageid", Value: 1},
				{Key: "instance", Value: 1}}, Options: unique},
		},
		{
			Collection: "pins",
			IndexOpts:  mdb.IndexModel{Keys: b.D{{Key: "instance", Value: 1}}},
		},
		// Subscription identity.
		{
			Collection: "subscriptions",
			IndexOpts: mdb.IndexModel{Keys: b.D{{Key: "subject", Value: 1}, {Key: "instance", Value: 1},
				{Key: "readableonlybyme", Value: 1}, {Key: "writableonlybyme", Value: 1}}, Options: unique},
		},
		{
			Collection: "subscriptions",
			IndexOpts:  mdb.IndexModel{Keys: b.D{{Key: "instance", Value: 1}}},
		},
		{
			Collection: "events",
			IndexOpts:  mdb.IndexModel{Keys: b.D{{Key: "subscription", Value: 1}, {Key: "seq", Value: 1}}},
		},
	}

	for _, idx := range indexes {
		if _, err := a.db.Collection(idx.Collection).Indexes().CreateOne(a.ctx, idx.IndexOpts); err != nil {
			return err
		}
	}

	// Collection "kvmeta" with metadata key-value pairs.
	// Key in "_id" field.
	// Record current DB version.
	if _, err := a.db.Collection("kvmeta").InsertOne(a.ctx, map[string]interface{}{"_id": "version", "value": adpVersion}); err != nil {
		return err
	}
	a.version = -1
	return nil
}

// UpgradeDb upgrades database to the current adapter version.
func (a *adapter) UpgradeDb() error {
	version, err := a.GetDbVersion()
	if err != nil {
		return err
	}
	if version != adpVersion {
		return errors.New("mongodb adapter: unable to upgrade from version " + strconv.Itoa(version))
	}
	return nil
}

// inTx runs fn in a transaction if transactions are enabled. Transient errors are retried by the driver.
func (a *adapter) inTx(fn func(ctx context.Context) error) error {
	if !a.useTransactions {
		return fn(a.ctx)
	}
	sess, err := a.conn.StartSession()
	if err != nil {
		return err
	}
	defer sess.EndSession(a.ctx)

	_, err = sess.WithTransaction(a.ctx, func(sc mdb.SessionContext) (interface{}, error) {
		return nil, fn(sc)
	})
	return err
}

func (a *adapter) findOne(ctx context.Context, collection string, filter interface{}, out interface{}) (bool, error) {
	err := a.db.Collection(collection).FindOne(ctx, filter).Decode(out)
	if err == mdb.ErrNoDocuments {
		return false, nil
	}
	return err == nil, err
}

// Profiles

// ProfileCreate creates a profile record.
func (a *adapter) ProfileCreate(prof *t.Profile) error {
	_, err := a.db.Collection("profiles").InsertOne(a.ctx, prof)
	if isDuplicateErr(err) {
		return t.ErrDuplicate
	}
	return err
}

// ProfileGet returns a profile by id.
func (a *adapter) ProfileGet(id t.Uid) (*t.Profile, error) {
	var prof t.Profile
	if found, err := a.findOne(a.ctx, "profiles", b.M{"_id": id.String()}, &prof); !found {
		return nil, err
	}
	return &prof, nil
}

// ProfileGetByAccount returns the profile which owns the account.
func (a *adapter) ProfileGetByAccount(account string) (*t.Profile, error) {
	if account == "" {
		return nil, nil
	}
	var prof t.Profile
	if found, err := a.findOne(a.ctx, "profiles", b.M{"account": account}, &prof); !found {
		return nil, err
	}
	return &prof, nil
}

// ProfileSetAccount links an anonymous profile to the account.
func (a *adapter) ProfileSetAccount(id t.Uid, account string) error {
	owner, err := a.ProfileGetByAccount(account)
	if err != nil {
		return err
	}
	if owner != nil {
		if owner.Id == id.String() {
			return nil
		}
		return t.ErrDuplicate
	}

	res, err := a.db.Collection("profiles").UpdateOne(a.ctx,
		b.M{"_id": id.String(), "account": ""},
		b.M{"$set": b.M{"account": account, "updatedat": t.TimeNow()}})
	if isDuplicateErr(err) {
		return t.ErrDuplicate
	}
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		// Either missing or linked to another account already.
		prof, err := a.ProfileGet(id)
		if err != nil {
			return err
		}
		if prof == nil {
			return t.ErrNotFound
		}
		return t.ErrFailed
	}
	return nil
}

// MessageReassignSender rewrites the sender of messages.
func (a *adapter) MessageReassignSender(from, into t.Uid) (int, error) {
	res, err := a.db.Collection("messages").UpdateMany(a.ctx,
		b.M{"sender": from.String()},
		b.M{"$set": b.M{"sender": into.String()}})
	if err != nil {
		return 0, err
	}
	return int(res.ModifiedCount), nil
}

// Clients

// ClientGet returns a client by id.
func (a *adapter) ClientGet(id string) (*t.Client, error) {
	var cl t.Client
	if found, err := a.findOne(a.ctx, "clients", b.M{"_id": id}, &cl); !found {
		return nil, err
	}
	return &cl, nil
}

// ClientCreate creates a client record.
func (a *adapter) ClientCreate(cl *t.Client) error {
	_, err := a.db.Collection("clients").InsertOne(a.ctx, cl)
	if isDuplicateErr(err) {
		return t.ErrDuplicate
	}
	return err
}

// ClientSetProfile re-parents the client.
func (a *adapter) ClientSetProfile(id string, profile t.Uid) error {
	res, err := a.db.Collection("clients").UpdateOne(a.ctx, b.M{"_id": id},
		b.M{"$set": b.M{"profile": profile.String(), "updatedat": t.TimeNow()}})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return t.ErrNotFound
	}
	return nil
}

// Instances

// InstanceGet returns an instance by id.
func (a *adapter) InstanceGet(id string) (*t.Instance, error) {
	var inst t.Instance
	if found, err := a.findOne(a.ctx, "instances", b.M{"_id": id}, &inst); !found {
		return nil, err
	}
	return &inst, nil
}

// InstanceGetOrCreate returns the existing instance or saves the new one.
func (a *adapter) InstanceGetOrCreate(inst *t.Instance) (*t.Instance, bool, error) {
	_, err := a.db.Collection("instances").InsertOne(a.ctx, inst)
	if err == nil {
		return inst, true, nil
	}
	if !isDuplicateErr(err) {
		return nil, false, err
	}
	existing, err := a.InstanceGet(inst.Id)
	if err == nil && existing == nil {
		// Deleted concurrently.
		err = t.ErrFailed
	}
	return existing, false, err
}

// InstanceUpdate updates Active and LastPoll fields of an instance.
func (a *adapter) InstanceUpdate(id string, update map[string]interface{}) error {
	set := b.M{}
	for field, val := range update {
		switch field {
		case "Active":
			if _, ok := val.(bool); !ok {
				return t.ErrMalformed
			}
		case "LastPoll":
			if _, ok := val.(time.Time); !ok {
				return t.ErrMalformed
			}
		default:
			return t.ErrMalformed
		}
		set[strings.ToLower(field)] = val
	}
	if len(set) == 0 {
		return t.ErrMalformed
	}

	res, err := a.db.Collection("instances").UpdateOne(a.ctx, b.M{"_id": id}, b.M{"$set": set})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return t.ErrNotFound
	}
	return nil
}

// InstanceDelete deletes the instance record.
func (a *adapter) InstanceDelete(id string) error {
	_, err := a.db.Collection("instances").DeleteOne(a.ctx, b.M{"_id": id})
	return err
}

// InstanceGetStale returns polling instances which were last polled before olderThan.
func (a *adapter) InstanceGetStale(olderThan time.Time, limit int) ([]t.Instance, error) {
	if limit <= 0 || limit > a.maxResults {
		limit = a.maxResults
	}
	findOpts := mdbopts.Find().SetSort(b.D{{Key: "lastpoll", Value: 1}}).SetLimit(int64(limit))
	cur, err := a.db.Collection("instances").Find(a.ctx,
		b.M{"polling": true, "lastpoll": b.M{"$lt": olderThan}}, findOpts)
	if err != nil {
		return nil, err
	}
	var out []t.Instance
	if err = cur.All(a.ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Subjects

// SubjectGetOrCreate returns the subject, creating it if necessary.
func (a *adapter) SubjectGetOrCreate(subj *t.Subject) (*t.Subject, error) {
	doc := *subj
	if doc.NextMessageId < 1 {
		doc.NextMessageId = 1
	}
	if _, err := a.db.Collection("subjects").InsertOne(a.ctx, &doc); err != nil && !isDuplicateErr(err) {
		return nil, err
	}
	return a.SubjectGet(subj.Id)
}

// SubjectGet returns a subject by id.
func (a *adapter) SubjectGet(id string) (*t.Subject, error) {
	var subj t.Subject
	if found, err := a.findOne(a.ctx, "subjects", b.M{"_id": id}, &subj); !found {
		return nil, err
	}
	return &subj, nil
}

func (a *adapter) subjectExists(ctx context.Context, id string) error {
	var subj t.Subject
	found, err := a.findOne(ctx, "subjects", b.M{"_id": id}, &subj)
	if err == nil && !found {
		err = t.ErrNotFound
	}
	return err
}

// SubjectBackfill reads subject history, from one snapshot if transactions are enabled.
func (a *adapter) SubjectBackfill(subject string, opt *t.BackfillOpt) (*t.Backfill, error) {
	var bf *t.Backfill
	err := a.inTx(func(ctx context.Context) error {
		var err error
		bf, err = common.ReadBackfill(opt, a.backfillReader(ctx, subject))
		return err
	})
	return bf, err
}

func (a *adapter) backfillReader(ctx context.Context, subject string) common.BackfillReader {
	return common.BackfillReader{
		Pins:   func() ([]t.Pin, error) { return a.pinsForSubject(ctx, subject) },
		Recent: func(n int) ([]t.Message, error) { return a.messagesRecent(ctx, subject, n) },
		Since:  func(id int64) ([]t.Message, error) { return a.messagesSince(ctx, subject, id) },
	}
}

// Messages

func (a *adapter) findMessage(ctx context.Context, subject, senderMessageId string) (*t.Message, error) {
	var msg t.Message
	if found, err := a.findOne(ctx, "messages", b.M{"subject": subject, "sendermessageid": senderMessageId}, &msg); !found {
		return nil, err
	}
	return &msg, nil
}

// MessageAppend saves a message with the next id of its subject.
func (a *adapter) MessageAppend(msg *t.Message) (*t.Message, []t.Subscription, error) {
	var orig *t.Message
	var subs []t.Subscription
	err := a.inTx(func(ctx context.Context) error {
		var err error
		if orig, err = a.findMessage(ctx, msg.Subject, msg.SenderMessageId); err != nil {
			return err
		} else if orig != nil {
			return t.ErrDuplicate
		}

		var subj t.Subject
		err = a.db.Collection("subjects").FindOneAndUpdate(ctx,
			b.M{"_id": msg.Subject},
			b.M{"$inc": b.M{"nextmessageid": 1}},
			mdbopts.FindOneAndUpdate().SetReturnDocument(mdbopts.Before)).Decode(&subj)
		if err == mdb.ErrNoDocuments {
			return t.ErrNotFound
		} else if err != nil {
			return err
		}
		msg.Id = subj.NextMessageId

		if _, err = a.db.Collection("messages").InsertOne(ctx, msg); err != nil {
			return err
		}
		subs, err = a.subsForSubject(ctx, msg.Subject)
		return err
	})
	if isDuplicateErr(err) {
		// A concurrent append with the same dedup key won.
		if orig, err = a.findMessage(a.ctx, msg.Subject, msg.SenderMessageId); err != nil {
			return nil, nil, err
		}
		if orig == nil {
			return nil, nil, t.ErrFailed
		}
		err = t.ErrDuplicate
	}
	if err == t.ErrDuplicate {
		return orig, nil, err
	}
	if err != nil {
		return nil, nil, err
	}
	return msg, subs, nil
}

// MessageGetRecent returns the last n messages in ascending order.
func (a *adapter) MessageGetRecent(subject string, n int) ([]t.Message, error) {
	return a.messagesRecent(a.ctx, subject, n)
}

// MessageGetSince returns messages after sinceId in ascending order.
func (a *adapter) MessageGetSince(subject string, sinceId int64) ([]t.Message, error) {
	return a.messagesSince(a.ctx, subject, sinceId)
}

func (a *adapter) findMessages(ctx context.Context, filter b.M, opts *mdbopts.FindOptions) ([]t.Message, error) {
	cur, err := a.db.Collection("messages").Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	var out []t.Message
	if err = cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (a *adapter) messagesRecent(ctx context.Context, subject string, n int) ([]t.Message, error) {
	opts := mdbopts.Find().SetSort(b.D{{Key: "id", Value: -1}})
	if n > 0 {
		opts.SetLimit(int64(n))
	}
	msgs, err := a.findMessages(ctx, b.M{"subject": subject}, opts)
	if err != nil {
		return nil, err
	}
	return common.Reversed(msgs), nil
}

func (a *adapter) messagesSince(ctx context.Context, subject string, sinceId int64) ([]t.Message, error) {
	return a.findMessages(ctx, b.M{"subject": subject, "id": b.M{"$gt": sinceId}},
		mdbopts.Find().SetSort(b.D{{Key: "id", Value: 1}}))
}

// Pins

func pinKey(subject, senderMessageId, instance string) b.M {
	return b.M{"subject": subject, "sendermessageid": senderMessageId, "instance": instance}
}

func (a *adapter) findPin(ctx context.Context, subject, senderMessageId, instance string) (*t.Pin, error) {
	var pin t.Pin
	if found, err := a.findOne(ctx, "pins", pinKey(subject, senderMessageId, instance), &pin); !found {
		return nil, err
	}
	return &pin, nil
}

// PinCreate saves a pin unless one with the same subject, sender message id and instance exists.
func (a *adapter) PinCreate(pin *t.Pin) (*t.Pin, []t.Subscription, error) {
	var orig *t.Pin
	var subs []t.Subscription
	err := a.inTx(func(ctx context.Context) error {
		if err := a.subjectExists(ctx, pin.Subject); err != nil {
			return err
		}
		var err error
		if orig, err = a.findPin(ctx, pin.Subject, pin.SenderMessageId, pin.Instance); err != nil {
			return err
		} else if orig != nil {
			return t.ErrDuplicate
		}
		if _, err = a.db.Collection("pins").InsertOne(ctx, pin); err != nil {
			return err
		}
		subs, err = a.subsForSubject(ctx, pin.Subject)
		return err
	})
	if isDuplicateErr(err) {
		if orig, err = a.findPin(a.ctx, pin.Subject, pin.SenderMessageId, pin.Instance); err != nil {
			return nil, nil, err
		}
		if orig == nil {
			return nil, nil, t.ErrFailed
		}
		err = t.ErrDuplicate
	}
	if err == t.ErrDuplicate {
		return orig, nil, err
	}
	if err != nil {
		return nil, nil, err
	}
	return pin, subs, nil
}

// PinDelete removes the pins matching sender, sender message id and instance.
func (a *adapter) PinDelete(subject, sender, senderMessageId, instance string) ([]t.Pin, []t.Subscription, error) {
	var removed []t.Pin
	var subs []t.Subscription
	err := a.inTx(func(ctx context.Context) error {
		removed, subs = nil, nil
		filter := pinKey(subject, senderMessageId, instance)
		filter["sender"] = sender

		var pin t.Pin
		err := a.db.Collection("pins").FindOneAndDelete(ctx, filter).Decode(&pin)
		if err == mdb.ErrNoDocuments {
			return nil
		} else if err != nil {
			return err
		}
		removed = []t.Pin{pin}
		subs, err = a.subsForSubject(ctx, subject)
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	return removed, subs, nil
}

// PinsForSubject returns current pins of the subject.
func (a *adapter) PinsForSubject(subject string) ([]t.Pin, error) {
	return a.pinsForSubject(a.ctx, subject)
}

func (a *adapter) findPins(ctx context.Context, filter b.M) ([]t.Pin, error) {
	cur, err := a.db.Collection("pins").Find(ctx, filter,
		mdbopts.Find().SetSort(b.D{{Key: "createdat", Value: 1}, {Key: "_id", Value: 1}}))
	if err != nil {
		return nil, err
	}
	var out []t.Pin
	if err = cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (a *adapter) pinsForSubject(ctx context.Context, subject string) ([]t.Pin, error) {
	return a.findPins(ctx, b.M{"subject": subject})
}

// PinsForInstance returns pins created by the instance.
func (a *adapter) PinsForInstance(instance string) ([]t.Pin, error) {
	return a.findPins(a.ctx, b.M{"instance": instance})
}

// Subscriptions

// SubsCreate finds or creates the subscription and reads the backfill. The subscription is saved
// before the backfill is read, so a message appended concurrently is either in the backfill or
// sent to the subscription.
func (a *adapter) SubsCreate(sub *t.Subscription, opt *t.BackfillOpt) (*t.Backfill, error) {
	var bf *t.Backfill
	err := a.inTx(func(ctx context.Context) error {
		if err := a.subjectExists(ctx, sub.Subject); err != nil {
			return err
		}
		_, err := a.db.Collection("subscriptions").UpdateOne(ctx,
			b.M{
				"subject":          sub.Subject,
				"instance":         sub.Instance,
				"readableonlybyme": sub.ReadableOnlyByMe,
				"writableonlybyme": sub.WritableOnlyByMe,
			},
			b.M{"$setOnInsert": b.M{
				"_id":       sub.Id,
				"createdat": sub.CreatedAt,
				"updatedat": sub.UpdatedAt,
				"polling":   sub.Polling,
			}},
			mdbopts.Update().SetUpsert(true))
		if err != nil && !isDuplicateErr(err) {
			return err
		}
		bf, err = common.ReadBackfill(opt, a.backfillReader(ctx, sub.Subject))
		return err
	})
	if err != nil {
		return nil, err
	}
	return bf, nil
}

// SubsDelete removes the subscription with the given identity and its buffered events.
func (a *adapter) SubsDelete(subject, instance string, readableByMe, writableByMe bool) error {
	var sub t.Subscription
	found, err := a.findOne(a.ctx, "subscriptions", b.M{
		"subject":          subject,
		"instance":         instance,
		"readableonlybyme": readableByMe,
		"writableonlybyme": writableByMe,
	}, &sub)
	if !found {
		return err
	}
	return a.SubsDeleteById(sub.Id)
}

// SubsDeleteById removes one subscription and its buffered events.
func (a *adapter) SubsDeleteById(id string) error {
	return a.inTx(func(ctx context.Context) error {
		if _, err := a.db.Collection("subscriptions").DeleteOne(ctx, b.M{"_id": id}); err != nil {
			return err
		}
		_, err := a.db.Collection("events").DeleteMany(ctx, b.M{"subscription": id})
		return err
	})
}

func (a *adapter) findSubs(ctx context.Context, filter b.M) ([]t.Subscription, error) {
	cur, err := a.db.Collection("subscriptions").Find(ctx, filter)
	if err != nil {
		return nil, err
	}
	var out []t.Subscription
	if err = cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// SubsForSubject returns all subscriptions to the subject.
func (a *adapter) SubsForSubject(subject string) ([]t.Subscription, error) {
	return a.subsForSubject(a.ctx, subject)
}

func (a *adapter) subsForSubject(ctx context.Context, subject string) ([]t.Subscription, error) {
	return a.findSubs(ctx, b.M{"subject": subject})
}

// SubsForInstance returns all subscriptions of the instance.
func (a *adapter) SubsForInstance(instance string) ([]t.Subscription, error) {
	return a.findSubs(a.ctx, b.M{"instance": instance})
}

// Buffered events

// EventEnqueue appends the event to its subscription's buffer.
func (a *adapter) EventEnqueue(evt *t.Event) error {
	return a.inTx(func(ctx context.Context) error {
		var sub t.Subscription
		if found, err := a.findOne(ctx, "subscriptions", b.M{"_id": evt.Subscription}, &sub); err != nil {
			return err
		} else if !found {
			return t.ErrNotFound
		}
		_, err := a.db.Collection("events").InsertOne(ctx, evt)
		return err
	})
}

// EventDrain deletes acknowledged events and returns the remaining ones.
func (a *adapter) EventDrain(subscription string, acks []string) ([]t.Event, error) {
	var out []t.Event
	err := a.inTx(func(ctx context.Context) error {
		out = nil
		if len(acks) > 0 {
			if _, err := a.db.Collection("events").DeleteMany(ctx,
				b.M{"subscription": subscription, "_id": b.M{"$in": acks}}); err != nil {
				return err
			}
		}
		cur, err := a.db.Collection("events").Find(ctx, b.M{"subscription": subscription},
			mdbopts.Find().SetSort(b.D{{Key: "seq", Value: 1}}))
		if err != nil {
			return err
		}
		return cur.All(ctx, &out)
	})
	return out, err
}

func isDuplicateErr(err error) bool {
	return mdb.IsDuplicateKeyError(err)
}

func init() {
	store.RegisterAdapter(&adapter{})
}
