// Package mysql is a database adapter for MySQL.
package mysql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	ms "github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"

	"github.com/cosmopolite/cosmopolite/server/db/common"
	"github.com/cosmopolite/cosmopolite/server/store"
	t "github.com/cosmopolite/cosmopolite/server/store/types"
)

// adapter holds MySQL connection data.
type adapter struct {
	db     *sqlx.DB
	dsn    *ms.Config
	dbName string
	// Maximum number of records to return
	maxResults int
	version    int

	// Single query timeout.
	sqlTimeout time.Duration
	// DB transaction timeout.
	txTimeout time.Duration
}

const (
	defaultDSN      = "root:@tcp(localhost:3306)/cosmopolite?parseTime=true"
	defaultDatabase = "cosmopolite"

	adpVersion  = 1
	adapterName = "mysql"

	defaultMaxResults = 1024

	// If DB request timeout is specified,
	// we allocate txTimeoutMultiplier times more time for transactions.
	txTimeoutMultiplier = 1.5

	// How many times a transaction is attempted when it is rolled back as a deadlock victim.
	maxTxAttempts = 5
)

type configType struct {
	DSN      string `json:"dsn,omitempty"`
	Database string `json:"database,omitempty"`

	// Connection pool settings.
	//
	// Maximum number of open connections to the database.
	MaxOpenConns int `json:"max_open_conns,omitempty"`
	// Maximum number of connections in the idle connection pool.
	MaxIdleConns int `json:"max_idle_conns,omitempty"`
	// Maximum amount of time a connection may be reused (in seconds).
	ConnMaxLifetime int `json:"conn_max_lifetime,omitempty"`

	// DB request timeout (in seconds).
	// If 0 (or negative), no timeout is applied.
	SqlTimeout int `json:"sql_timeout,omitempty"`
}

func (a *adapter) getContext() (context.Context, context.CancelFunc) {
	if a.sqlTimeout > 0 {
		return context.WithTimeout(context.Background(), a.sqlTimeout)
	}
	return context.Background(), func() {}
}

func (a *adapter) getContextForTx() (context.Context, context.CancelFunc) {
	if a.txTimeout > 0 {
		return context.WithTimeout(context.Background(), a.txTimeout)
	}
	return context.Background(), func() {}
}

// Open initializes database session
func (a *adapter) Open(jsonconfig json.RawMessage) error {
	if a.db != nil {
		return errors.New("mysql adapter is already connected")
	}

	var err error
	var config configType
	if len(jsonconfig) > 0 {
		if err = json.Unmarshal(jsonconfig, &config); err != nil {
			return errors.New("mysql adapter failed to parse config: " + err.Error())
		}
	}

	dsn := config.DSN
	if dsn == "" {
		dsn = defaultDSN
	}
	if a.dsn, err = ms.ParseDSN(dsn); err != nil {
		return errors.New("mysql adapter failed to parse dsn: " + err.Error())
	}
	// Times are scanned into time.Time, UPDATE reports matched rather than changed rows.
	a.dsn.ParseTime = true
	a.dsn.ClientFoundRows = true
	a.dsn.Loc = time.UTC

	a.dbName = config.Database
	if a.dbName == "" {
		a.dbName = a.dsn.DBName
	}
	if a.dbName == "" {
		a.dbName = defaultDatabase
	}
	a.dsn.DBName = a.dbName

	if a.maxResults <= 0 {
		a.maxResults = defaultMaxResults
	}
	if config.SqlTimeout > 0 {
		a.sqlTimeout = time.Duration(config.SqlTimeout) * time.Second
		a.txTimeout = time.Duration(float64(config.SqlTimeout)*txTimeoutMultiplier) * time.Second
	}

	a.db, err = a.connect(a.dbName)
	if isMissingDb(err) {
		// Missing DB is OK if we are initializing the database.
		a.db, err = a.connect("")
	}
	if err != nil {
		return err
	}

	if config.MaxOpenConns > 0 {
		a.db.SetMaxOpenConns(config.MaxOpenConns)
	}
	if config.MaxIdleConns > 0 {
		a.db.SetMaxIdleConns(config.MaxIdleConns)
	}
	if config.ConnMaxLifetime > 0 {
		a.db.SetConnMaxLifetime(time.Duration(config.ConnMaxLifetime) * time.Second)
	}

	a.version = -1
	return nil
}

// connect opens a connection pool to the named database and verifies it.
func (a *adapter) connect(dbName string) (*sqlx.DB, error) {
	cfg := a.dsn.Clone()
	cfg.DBName = dbName
	db, err := sqlx.Open("mysql", cfg.FormatDSN())
	if err != nil {
		return nil, err
	}
	// sql.Open does not open the network connection.
	// Force network connection here.
	if err = db.Ping(); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
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

// IsOpen returns true if connection to database has been established. It does not check if
// connection is actually live.
func (a *adapter) IsOpen() bool {
	return a.db != nil
}

// GetDbVersion returns current database version.
func (a *adapter) GetDbVersion() (int, error) {
	if a.version > 0 {
		return a.version, nil
	}

	ctx, cancel := a.getContext()
	defer cancel()

	var vers string
	err := a.db.GetContext(ctx, &vers, "SELECT `value` FROM kvmeta WHERE `key`='version'")
	if err != nil {
		if isMissingDb(err) || isMissingTable(err) || isNoDbSelected(err) || err == sql.ErrNoRows {
			err = errors.New("Database not initialized")
		}
		return -1, err
	}

	a.version, _ = strconv.Atoi(vers)

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

// Stats returns DB connection stats object.
func (a *adapter) Stats() interface{} {
	if a.db == nil {
		return nil
	}
	return a.db.Stats()
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

// CreateDb initializes the storage. MySQL commits DDL statements implicitly, so
// the tables are not created in a transaction.
func (a *adapter) CreateDb(reset bool) error {
	ctx, cancel := a.getContext()
	defer cancel()

	// The current connection may point to a database which does not exist yet.
	if a.db != nil {
		a.db.Close()
	}
	var err error
	if a.db, err = a.connect(""); err != nil {
		return err
	}

	if reset {
		if _, err = a.db.ExecContext(ctx, "DROP DATABASE IF EXISTS "+a.dbName); err != nil {
			return err
		}
	}
	if _, err = a.db.ExecContext(ctx, "CREATE DATABASE "+a.dbName+
		" CHARACTER SET utf8mb4 COLLATE utf8mb4_unicode_ci"); err != nil {
		return err
	}

	a.db.Close()
	if a.db, err = a.connect(a.dbName); err != nil {
		return err
	}

	for _, stmt := range schema {
		if _, err = a.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}

	if _, err = a.db.ExecContext(ctx, "INSERT INTO kvmeta(`key`, createdat, `value`) VALUES(?, ?, ?)",
		"version", t.TimeNow(), strconv.Itoa(adpVersion)); err != nil {
		return err
	}
	a.version = -1
	return nil
}

var schema = []string{
	"CREATE TABLE kvmeta(" +
		"`key`     VARCHAR(64) NOT NULL," +
		"createdat DATETIME(3)," +
		"`value`   TEXT," +
		"PRIMARY KEY(`key`)" +
		")",

	// Anonymous profiles have NULL account.
	`CREATE TABLE profiles(
		id        VARCHAR(16) NOT NULL,
		createdat DATETIME(3) NOT NULL,
		updatedat DATETIME(3) NOT NULL,
		account   VARCHAR(255),
		PRIMARY KEY(id),
		UNIQUE INDEX profiles_account(account)
	)`,

	`CREATE TABLE clients(
		id        VARCHAR(255) NOT NULL,
		createdat DATETIME(3) NOT NULL,
		updatedat DATETIME(3) NOT NULL,
		profile   VARCHAR(16) NOT NULL,
		PRIMARY KEY(id)
	)`,

	`CREATE TABLE instances(
		id        VARCHAR(255) NOT NULL,
		createdat DATETIME(3) NOT NULL,
		active    BOOLEAN NOT NULL DEFAULT FALSE,
		polling   BOOLEAN NOT NULL DEFAULT FALSE,
		lastpoll  DATETIME(3),
		PRIMARY KEY(id),
		INDEX instances_polling_lastpoll(polling, lastpoll)
	)`,

	// The row is the lock of the subject's entity group.
	`CREATE TABLE subjects(
		id             CHAR(64) NOT NULL,
		createdat      DATETIME(3) NOT NULL,
		name           TEXT NOT NULL,
		readableonlyby VARCHAR(16) NOT NULL DEFAULT '',
		writableonlyby VARCHAR(16) NOT NULL DEFAULT '',
		nextmessageid  BIGINT NOT NULL DEFAULT 1,
		PRIMARY KEY(id)
	)`,

	`CREATE TABLE messages(
		subject         CHAR(64) NOT NULL,
		id              BIGINT NOT NULL,
		createdat       DATETIME(3) NOT NULL,
		sender          VARCHAR(16) NOT NULL DEFAULT '',
		sendermessageid VARCHAR(255) NOT NULL,
		senderaddress   VARCHAR(64) NOT NULL DEFAULT '',
		randomvalue     INT UNSIGNED NOT NULL DEFAULT 0,
		message         MEDIUMTEXT NOT NULL,
		PRIMARY KEY(subject, id),
		FOREIGN KEY(subject) REFERENCES subjects(id),
		UNIQUE INDEX messages_subject_sendermessageid(subject, sendermessageid),
		INDEX messages_sender(sender)
	)`,

	`CREATE TABLE pins(
		id              VARCHAR(16) NOT NULL,
		createdat       DATETIME(3) NOT NULL,
		updatedat       DATETIME(3) NOT NULL,
		subject         CHAR(64) NOT NULL,
		instance        VARCHAR(255) NOT NULL,
		sender          VARCHAR(16) NOT NULL DEFAULT '',
		sendermessageid VARCHAR(255) NOT NULL,
		senderaddress   VARCHAR(64) NOT NULL DEFAULT '',
		message         MEDIUMTEXT NOT NULL,
		PRIMARY KEY(id),
		FOREIGN KEY(subject) REFERENCES subjects(id),
		UNIQUE INDEX pins_subject_sendermessageid_instance(subject, sendermessageid, instance),
		INDEX pins_instance(instance)
	)`,

	`CREATE TABLE subscriptions(
		id               VARCHAR(16) NOT NULL,
		createdat        DATETIME(3) NOT NULL,
		updatedat        DATETIME(3) NOT NULL,
		subject          CHAR(64) NOT NULL,
		instance         VARCHAR(255) NOT NULL,
		readableonlybyme BOOLEAN NOT NULL DEFAULT FALSE,
		writableonlybyme BOOLEAN NOT NULL DEFAULT FALSE,
		polling          BOOLEAN NOT NULL DEFAULT FALSE,
		PRIMARY KEY(id),
		FOREIGN KEY(subject) REFERENCES subjects(id),
		UNIQUE INDEX subscriptions_identity(subject, instance, readableonlybyme, writableonlybyme),
		INDEX subscriptions_instance(instance)
	)`,

	`CREATE TABLE events(
		id           VARCHAR(16) NOT NULL,
		createdat    DATETIME(3) NOT NULL,
		updatedat    DATETIME(3) NOT NULL,
		subscription VARCHAR(16) NOT NULL,
		seq          BIGINT NOT NULL,
		payload      MEDIUMBLOB,
		PRIMARY KEY(id),
		FOREIGN KEY(subscription) REFERENCES subscriptions(id) ON DELETE CASCADE,
		INDEX events_subscription_seq(subscription, seq)
	)`,
}

// UpgradeDb upgrades the database, if necessary.
func (a *adapter) UpgradeDb() error {
	version, err := a.GetDbVersion()
	if err != nil {
		return err
	}
	if version != adpVersion {
		return errors.New("mysql adapter: unable to upgrade from version " + strconv.Itoa(version))
	}
	return nil
}

// withTx runs fn in a READ COMMITTED transaction. Deadlock victims are retried.
func (a *adapter) withTx(fn func(ctx context.Context, tx *sqlx.Tx) error) error {
	ctx, cancel := a.getContextForTx()
	defer cancel()

	var err error
	for attempt := 0; attempt < maxTxAttempts; attempt++ {
		var tx *sqlx.Tx
		if tx, err = a.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted}); err != nil {
			return err
		}
		if err = fn(ctx, tx); err == nil {
			err = tx.Commit()
		} else {
			tx.Rollback()
		}
		if !isRetryable(err) {
			return err
		}
	}
	return err
}

// lockSubject locks the subject row until the end of the transaction.
func lockSubject(ctx context.Context, tx *sqlx.Tx, subject string) (int64, error) {
	var next int64
	err := tx.GetContext(ctx, &next, "SELECT nextmessageid FROM subjects WHERE id=? FOR UPDATE", subject)
	if err == sql.ErrNoRows {
		return 0, t.ErrNotFound
	}
	return next, err
}

// Profiles

// ProfileCreate creates a profile record.
func (a *adapter) ProfileCreate(prof *t.Profile) error {
	ctx, cancel := a.getContext()
	defer cancel()

	_, err := a.db.ExecContext(ctx, "INSERT INTO profiles(id, createdat, updatedat, account) VALUES(?, ?, ?, ?)",
		prof.Id, prof.CreatedAt, prof.UpdatedAt, nullable(prof.Account))
	if isDupe(err) {
		return t.ErrDuplicate
	}
	return err
}

const profileColumns = "id, createdat, updatedat, COALESCE(account, '') AS account"

func (a *adapter) profileBy(where string, arg interface{}) (*t.Profile, error) {
	ctx, cancel := a.getContext()
	defer cancel()

	var prof t.Profile
	err := a.db.GetContext(ctx, &prof, "SELECT "+profileColumns+" FROM profiles WHERE "+where, arg)
	if err == nil {
		return &prof, nil
	}
	if err == sql.ErrNoRows {
		// Clear the error if profile does not exist
		err = nil
	}
	return nil, err
}

// ProfileGet returns a profile by id.
func (a *adapter) ProfileGet(id t.Uid) (*t.Profile, error) {
	return a.profileBy("id=?", id.String())
}

// ProfileGetByAccount returns the profile which owns the account.
func (a *adapter) ProfileGetByAccount(account string) (*t.Profile, error) {
	if account == "" {
		return nil, nil
	}
	return a.profileBy("account=?", account)
}

// ProfileSetAccount links an anonymous profile to the account.
func (a *adapter) ProfileSetAccount(id t.Uid, account string) error {
	err := a.withTx(func(ctx context.Context, tx *sqlx.Tx) error {
		var owner string
		err := tx.GetContext(ctx, &owner, "SELECT id FROM profiles WHERE account=?", account)
		if err == nil {
			if owner == id.String() {
				return nil
			}
			return t.ErrDuplicate
		} else if err != sql.ErrNoRows {
			return err
		}

		var current string
		err = tx.GetContext(ctx, &current, "SELECT COALESCE(account, '') FROM profiles WHERE id=? FOR UPDATE", id.String())
		if err == sql.ErrNoRows {
			return t.ErrNotFound
		} else if err != nil {
			return err
		}
		if current != "" {
			return t.ErrFailed
		}
		_, err = tx.ExecContext(ctx, "UPDATE profiles SET account=?, updatedat=? WHERE id=?", account, t.TimeNow(), id.String())
		return err
	})
	if isDupe(err) {
		return t.ErrDuplicate
	}
	return err
}

// MessageReassignSender rewrites the sender of messages.
func (a *adapter) MessageReassignSender(from, into t.Uid) (int, error) {
	ctx, cancel := a.getContext()
	defer cancel()

	res, err := a.db.ExecContext(ctx, "UPDATE messages SET sender=? WHERE sender=?", into.String(), from.String())
	if err != nil {
		return 0, err
	}
	count, err := res.RowsAffected()
	return int(count), err
}

// Clients

// ClientGet returns a client by id.
func (a *adapter) ClientGet(id string) (*t.Client, error) {
	ctx, cancel := a.getContext()
	defer cancel()

	var cl t.Client
	err := a.db.GetContext(ctx, &cl, "SELECT id, createdat, updatedat, profile FROM clients WHERE id=?", id)
	if err == nil {
		return &cl, nil
	}
	if err == sql.ErrNoRows {
		err = nil
	}
	return nil, err
}

// ClientCreate creates a client record.
func (a *adapter) ClientCreate(cl *t.Client) error {
	ctx, cancel := a.getContext()
	defer cancel()

	_, err := a.db.ExecContext(ctx, "INSERT INTO clients(id, createdat, updatedat, profile) VALUES(?, ?, ?, ?)",
		cl.Id, cl.CreatedAt, cl.UpdatedAt, cl.Profile)
	if isDupe(err) {
		return t.ErrDuplicate
	}
	return err
}

// ClientSetProfile re-parents the client.
func (a *adapter) ClientSetProfile(id string, profile t.Uid) error {
	ctx, cancel := a.getContext()
	defer cancel()

	res, err := a.db.ExecContext(ctx, "UPDATE clients SET profile=?, updatedat=? WHERE id=?", profile.String(), t.TimeNow(), id)
	return updated(res, err)
}

// Instances

// instanceRow is the stored form of an instance: push instances have no poll time.
type instanceRow struct {
	Id        string
	CreatedAt time.Time
	Active    bool
	Polling   bool
	LastPoll  sql.NullTime
}

func (r *instanceRow) instance() *t.Instance {
	inst := &t.Instance{Id: r.Id, CreatedAt: r.CreatedAt, Active: r.Active, Polling: r.Polling}
	if r.LastPoll.Valid {
		inst.LastPoll = r.LastPoll.Time
	}
	return inst
}

const instanceColumns = "id, createdat, active, polling, lastpoll"

// InstanceGet returns an instance by id.
func (a *adapter) InstanceGet(id string) (*t.Instance, error) {
	ctx, cancel := a.getContext()
	defer cancel()

	var row instanceRow
	err := a.db.GetContext(ctx, &row, "SELECT "+instanceColumns+" FROM instances WHERE id=?", id)
	if err == nil {
		return row.instance(), nil
	}
	if err == sql.ErrNoRows {
		err = nil
	}
	return nil, err
}

// InstanceGetOrCreate returns the existing instance or saves the new one.
func (a *adapter) InstanceGetOrCreate(inst *t.Instance) (*t.Instance, bool, error) {
	ctx, cancel := a.getContext()
	defer cancel()

	lastPoll := sql.NullTime{Time: inst.LastPoll, Valid: !inst.LastPoll.IsZero()}
	res, err := a.db.ExecContext(ctx, "INSERT IGNORE INTO instances("+instanceColumns+") VALUES(?, ?, ?, ?, ?)",
		inst.Id, inst.CreatedAt, inst.Active, inst.Polling, lastPoll)
	if err != nil {
		return nil, false, err
	}
	if count, _ := res.RowsAffected(); count > 0 {
		return inst, true, nil
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
	cols, args, err := instanceUpdate(update)
	if err != nil {
		return err
	}

	ctx, cancel := a.getContext()
	defer cancel()

	args = append(args, id)
	res, err := a.db.ExecContext(ctx, "UPDATE instances SET "+strings.Join(cols, ",")+" WHERE id=?", args...)
	return updated(res, err)
}

// InstanceDelete deletes the instance record.
func (a *adapter) InstanceDelete(id string) error {
	ctx, cancel := a.getContext()
	defer cancel()

	_, err := a.db.ExecContext(ctx, "DELETE FROM instances WHERE id=?", id)
	return err
}

// InstanceGetStale returns polling instances which were last polled before olderThan.
func (a *adapter) InstanceGetStale(olderThan time.Time, limit int) ([]t.Instance, error) {
	if limit <= 0 || limit > a.maxResults {
		limit = a.maxResults
	}

	ctx, cancel := a.getContext()
	defer cancel()

	var rows []instanceRow
	if err := a.db.SelectContext(ctx, &rows, "SELECT "+instanceColumns+" FROM instances "+
		"WHERE polling=TRUE AND lastpoll<? ORDER BY lastpoll LIMIT ?", olderThan, limit); err != nil {
		return nil, err
	}
	var out []t.Instance
	for i := range rows {
		out = append(out, *rows[i].instance())
	}
	return out, nil
}

// Subjects

// SubjectGetOrCreate returns the subject, creating it if necessary.
func (a *adapter) SubjectGetOrCreate(subj *t.Subject) (*t.Subject, error) {
	ctx, cancel := a.getContext()
	defer cancel()

	next := subj.NextMessageId
	if next < 1 {
		next = 1
	}
	if _, err := a.db.ExecContext(ctx, "INSERT IGNORE INTO subjects(id, createdat, name, readableonlyby, writableonlyby, nextmessageid) "+
		"VALUES(?, ?, ?, ?, ?, ?)", subj.Id, subj.CreatedAt, subj.Name, subj.ReadableOnlyBy, subj.WritableOnlyBy, next); err != nil {
		return nil, err
	}
	return a.SubjectGet(subj.Id)
}

// SubjectGet returns a subject by id.
func (a *adapter) SubjectGet(id string) (*t.Subject, error) {
	ctx, cancel := a.getContext()
	defer cancel()

	var subj t.Subject
	err := a.db.GetContext(ctx, &subj, "SELECT * FROM subjects WHERE id=?", id)
	if err == nil {
		return &subj, nil
	}
	if err == sql.ErrNoRows {
		err = nil
	}
	return nil, err
}

// SubjectBackfill reads subject history from one snapshot.
func (a *adapter) SubjectBackfill(subject string, opt *t.BackfillOpt) (*t.Backfill, error) {
	ctx, cancel := a.getContextForTx()
	defer cancel()

	tx, err := a.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true})
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	return common.ReadBackfill(opt, backfillReader(ctx, tx, subject))
}

func backfillReader(ctx context.Context, q sqlx.QueryerContext, subject string) common.BackfillReader {
	return common.BackfillReader{
		Pins:   func() ([]t.Pin, error) { return pinsForSubject(ctx, q, subject) },
		Recent: func(n int) ([]t.Message, error) { return messagesRecent(ctx, q, subject, n) },
		Since:  func(id int64) ([]t.Message, error) { return messagesSince(ctx, q, subject, id) },
	}
}

// Messages

// MessageAppend saves a message with the next id of its subject.
func (a *adapter) MessageAppend(msg *t.Message) (*t.Message, []t.Subscription, error) {
	var orig t.Message
	var subs []t.Subscription
	err := a.withTx(func(ctx context.Context, tx *sqlx.Tx) error {
		next, err := lockSubject(ctx, tx, msg.Subject)
		if err != nil {
			return err
		}

		err = tx.GetContext(ctx, &orig, "SELECT * FROM messages WHERE subject=? AND sendermessageid=?",
			msg.Subject, msg.SenderMessageId)
		if err == nil {
			return t.ErrDuplicate
		} else if err != sql.ErrNoRows {
			return err
		}

		if next < 1 {
			next = 1
		}
		msg.Id = next
		if _, err = tx.ExecContext(ctx, "UPDATE subjects SET nextmessageid=? WHERE id=?", next+1, msg.Subject); err != nil {
			return err
		}
		if _, err = tx.NamedExecContext(ctx, "INSERT INTO messages(subject, id, createdat, sender, sendermessageid, "+
			"senderaddress, randomvalue, message) VALUES(:subject, :id, :createdat, :sender, :sendermessageid, "+
			":senderaddress, :randomvalue, :message)", msg); err != nil {
			return err
		}
		subs, err = subsForSubject(ctx, tx, msg.Subject)
		return err
	})
	if err == t.ErrDuplicate {
		return &orig, nil, err
	}
	if err != nil {
		return nil, nil, err
	}
	return msg, subs, nil
}

// MessageGetRecent returns the last n messages in ascending order.
func (a *adapter) MessageGetRecent(subject string, n int) ([]t.Message, error) {
	ctx, cancel := a.getContext()
	defer cancel()
	return messagesRecent(ctx, a.db, subject, n)
}

// MessageGetSince returns messages after sinceId in ascending order.
func (a *adapter) MessageGetSince(subject string, sinceId int64) ([]t.Message, error) {
	ctx, cancel := a.getContext()
	defer cancel()
	return messagesSince(ctx, a.db, subject, sinceId)
}

func messagesRecent(ctx context.Context, q sqlx.QueryerContext, subject string, n int) ([]t.Message, error) {
	query := "SELECT * FROM messages WHERE subject=? ORDER BY id DESC"
	args := []interface{}{subject}
	if n > 0 {
		query += " LIMIT ?"
		args = append(args, n)
	}
	var msgs []t.Message
	if err := sqlx.SelectContext(ctx, q, &msgs, query, args...); err != nil {
		return nil, err
	}
	return common.Reversed(msgs), nil
}

func messagesSince(ctx context.Context, q sqlx.QueryerContext, subject string, sinceId int64) ([]t.Message, error) {
	var msgs []t.Message
	err := sqlx.SelectContext(ctx, q, &msgs, "SELECT * FROM messages WHERE subject=? AND id>? ORDER BY id", subject, sinceId)
	return msgs, err
}

// Pins

const insertPin = "INSERT INTO pins(id, createdat, updatedat, subject, instance, sender, sendermessageid, senderaddress, message) " +
	"VALUES(:id, :createdat, :updatedat, :subject, :instance, :sender, :sendermessageid, :senderaddress, :message)"

// PinCreate saves a pin unless one with the same subject, sender message id and instance exists.
func (a *adapter) PinCreate(pin *t.Pin) (*t.Pin, []t.Subscription, error) {
	var orig t.Pin
	var subs []t.Subscription
	err := a.withTx(func(ctx context.Context, tx *sqlx.Tx) error {
		if _, err := lockSubject(ctx, tx, pin.Subject); err != nil {
			return err
		}
		err := tx.GetContext(ctx, &orig, "SELECT * FROM pins WHERE subject=? AND sendermessageid=? AND instance=?",
			pin.Subject, pin.SenderMessageId, pin.Instance)
		if err == nil {
			return t.ErrDuplicate
		} else if err != sql.ErrNoRows {
			return err
		}
		if _, err = tx.NamedExecContext(ctx, insertPin, pin); err != nil {
			return err
		}
		subs, err = subsForSubject(ctx, tx, pin.Subject)
		return err
	})
	if err == t.ErrDuplicate {
		return &orig, nil, err
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
	err := a.withTx(func(ctx context.Context, tx *sqlx.Tx) error {
		removed, subs = nil, nil
		if _, err := lockSubject(ctx, tx, subject); err != nil {
			return err
		}
		if err := tx.SelectContext(ctx, &removed, "SELECT * FROM pins WHERE subject=? AND sendermessageid=? "+
			"AND instance=? AND sender=?", subject, senderMessageId, instance, sender); err != nil || len(removed) == 0 {
			return err
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM pins WHERE subject=? AND sendermessageid=? AND instance=? AND sender=?",
			subject, senderMessageId, instance, sender); err != nil {
			return err
		}
		var err error
		subs, err = subsForSubject(ctx, tx, subject)
		return err
	})
	if err == t.ErrNotFound {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, err
	}
	return removed, subs, nil
}

// PinsForSubject returns current pins of the subject.
func (a *adapter) PinsForSubject(subject string) ([]t.Pin, error) {
	ctx, cancel := a.getContext()
	defer cancel()
	return pinsForSubject(ctx, a.db, subject)
}

func pinsForSubject(ctx context.Context, q sqlx.QueryerContext, subject string) ([]t.Pin, error) {
	var pins []t.Pin
	err := sqlx.SelectContext(ctx, q, &pins, "SELECT * FROM pins WHERE subject=? ORDER BY createdat, id", subject)
	return pins, err
}

// PinsForInstance returns pins created by the instance.
func (a *adapter) PinsForInstance(instance string) ([]t.Pin, error) {
	ctx, cancel := a.getContext()
	defer cancel()

	var pins []t.Pin
	err := a.db.SelectContext(ctx, &pins, "SELECT * FROM pins WHERE instance=?", instance)
	return pins, err
}

// Subscriptions

// SubsCreate finds or creates the subscription and reads the backfill in the same transaction.
func (a *adapter) SubsCreate(sub *t.Subscription, opt *t.BackfillOpt) (*t.Backfill, error) {
	var bf *t.Backfill
	err := a.withTx(func(ctx context.Context, tx *sqlx.Tx) error {
		if _, err := lockSubject(ctx, tx, sub.Subject); err != nil {
			return err
		}
		// The subject is locked: the identity index is the only constraint which can be violated.
		if _, err := tx.NamedExecContext(ctx, "INSERT IGNORE INTO subscriptions(id, createdat, updatedat, subject, "+
			"instance, readableonlybyme, writableonlybyme, polling) VALUES(:id, :createdat, :updatedat, :subject, "+
			":instance, :readableonlybyme, :writableonlybyme, :polling)", sub); err != nil {
			return err
		}
		var err error
		bf, err = common.ReadBackfill(opt, backfillReader(ctx, tx, sub.Subject))
		return err
	})
	if err != nil {
		return nil, err
	}
	return bf, nil
}

// SubsDelete removes the subscription with the given identity. Buffered events are removed by the cascade.
func (a *adapter) SubsDelete(subject, instance string, readableByMe, writableByMe bool) error {
	ctx, cancel := a.getContext()
	defer cancel()

	_, err := a.db.ExecContext(ctx, "DELETE FROM subscriptions WHERE subject=? AND instance=? AND "+
		"readableonlybyme=? AND writableonlybyme=?", subject, instance, readableByMe, writableByMe)
	return err
}

// SubsDeleteById removes one subscription.
func (a *adapter) SubsDeleteById(id string) error {
	ctx, cancel := a.getContext()
	defer cancel()

	_, err := a.db.ExecContext(ctx, "DELETE FROM subscriptions WHERE id=?", id)
	return err
}

// SubsForSubject returns all subscriptions to the subject.
func (a *adapter) SubsForSubject(subject string) ([]t.Subscription, error) {
	ctx, cancel := a.getContext()
	defer cancel()
	return subsForSubject(ctx, a.db, subject)
}

func subsForSubject(ctx context.Context, q sqlx.QueryerContext, subject string) ([]t.Subscription, error) {
	var subs []t.Subscription
	err := sqlx.SelectContext(ctx, q, &subs, "SELECT * FROM subscriptions WHERE subject=?", subject)
	return subs, err
}

// SubsForInstance returns all subscriptions of the instance.
func (a *adapter) SubsForInstance(instance string) ([]t.Subscription, error) {
	ctx, cancel := a.getContext()
	defer cancel()

	var subs []t.Subscription
	err := a.db.SelectContext(ctx, &subs, "SELECT * FROM subscriptions WHERE instance=?", instance)
	return subs, err
}

// Buffered events

// EventEnqueue appends the event to its subscription's buffer.
func (a *adapter) EventEnqueue(evt *t.Event) error {
	ctx, cancel := a.getContext()
	defer cancel()

	_, err := a.db.NamedExecContext(ctx, "INSERT INTO events(id, createdat, updatedat, subscription, seq, payload) "+
		"VALUES(:id, :createdat, :updatedat, :subscription, :seq, :payload)", evt)
	if isMissingRef(err) {
		return t.ErrNotFound
	}
	return err
}

// EventDrain deletes acknowledged events and returns the remaining ones.
func (a *adapter) EventDrain(subscription string, acks []string) ([]t.Event, error) {
	var out []t.Event
	err := a.withTx(func(ctx context.Context, tx *sqlx.Tx) error {
		out = nil
		if len(acks) > 0 {
			query, args, err := sqlx.In("DELETE FROM events WHERE subscription=? AND id IN (?)", subscription, acks)
			if err != nil {
				return err
			}
			if _, err = tx.ExecContext(ctx, query, args...); err != nil {
				return err
			}
		}
		return tx.SelectContext(ctx, &out, "SELECT * FROM events WHERE subscription=? ORDER BY seq", subscription)
	})
	return out, err
}

// Helper functions

func errorNumber(err error) uint16 {
	var myerr *ms.MySQLError
	if errors.As(err, &myerr) {
		return myerr.Number
	}
	return 0
}

// Error Code: 1062. Duplicate entry ... for key ...
func isDupe(err error) bool {
	return errorNumber(err) == 1062
}

// Cannot add or update a child row: a foreign key constraint fails.
func isMissingRef(err error) bool {
	return errorNumber(err) == 1452
}

func isMissingDb(err error) bool {
	return errorNumber(err) == 1049
}

func isNoDbSelected(err error) bool {
	return errorNumber(err) == 1046
}

func isMissingTable(err error) bool {
	return errorNumber(err) == 1146
}

// Deadlock or lock wait timeout.
func isRetryable(err error) bool {
	num := errorNumber(err)
	return num == 1213 || num == 1205
}

// updated converts the result of UPDATE of a single row into ErrNotFound if no row matched.
func updated(res sql.Result, err error) error {
	if err != nil {
		return err
	}
	if count, err := res.RowsAffected(); err != nil {
		return err
	} else if count == 0 {
		return t.ErrNotFound
	}
	return nil
}

// Empty strings are stored as NULL so they don't collide in unique indexes.
func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// instanceUpdate converts instance update to a list of columns and arguments.
func instanceUpdate(update map[string]interface{}) (cols []string, args []interface{}, err error) {
	for field, val := range update {
		switch field {
		case "Active":
			if _, ok := val.(bool); !ok {
				return nil, nil, t.ErrMalformed
			}
		case "LastPoll":
			if _, ok := val.(time.Time); !ok {
				return nil, nil, t.ErrMalformed
			}
		default:
			return nil, nil, t.ErrMalformed
		}
		cols = append(cols, strings.ToLower(field)+"=?")
		args = append(args, val)
	}
	if len(cols) == 0 {
		return nil, nil, t.ErrMalformed
	}
	return cols, args, nil
}

func init() {
	store.RegisterAdapter(&adapter{})
}
