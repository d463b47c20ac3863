// Package billstore persists bill records to a local SQLite database which is
// mirrored to a remote object store.
//
// A Store is opened from the remote object when it exists, and otherwise
// creates and uploads a new database. If the remote can't be used, the Store
// instead operates in fallback mode over a permanent local database, and
// never pushes. Writes classify their natural key as NORMAL or DUPLICATA,
// commit locally, and then opportunistically push the database subject to a
// cooldown. Failures of the push never fail the write.
package billstore

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3" // Import for registration side-effect.
	pkgerrors "github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/tesouraria/brkmon/bills"
	"github.com/tesouraria/brkmon/codecs"
	"github.com/tesouraria/brkmon/credentials"
	"github.com/tesouraria/brkmon/metrics"
	"github.com/tesouraria/brkmon/stores"
)

// Mode is the operating mode of a Store.
type Mode int

const (
	// ModeRemote Stores work over a cached copy of the remote object.
	ModeRemote Mode = iota
	// ModeFallback Stores work directly over the permanent local database.
	ModeFallback
)

func (m Mode) String() string {
	if m == ModeFallback {
		return "fallback"
	}
	return "remote"
}

// Config of a Store.
type Config struct {
	// Remote folder holding the database object.
	Remote stores.Endpoint
	// FileName of the database object. Its extension selects a codec (.gz, .sz, .zst).
	FileName string
	// CacheDir holds temporary working copies of the database.
	CacheDir string
	// FallbackPath is the permanent local database used if the remote is unavailable.
	FallbackPath string
	// Cooldown is the minimum interval between successful pushes.
	Cooldown time.Duration
	// RetryInterval is the minimum interval between a failed push and the next
	// attempt. Zero retries on the next write.
	RetryInterval time.Duration
	// UploadTimeout and DownloadTimeout bound remote operations.
	UploadTimeout   time.Duration
	DownloadTimeout time.Duration

	// Now returns the current time. If nil, time.Now is used.
	Now func() time.Time
}

// Defaults of Config.
const (
	DefaultFileName        = "faturas_brk.db"
	DefaultCooldown        = time.Hour
	DefaultRetryInterval   = time.Minute
	DefaultUploadTimeout   = 120 * time.Second
	DefaultDownloadTimeout = 60 * time.Second
)

func (cfg *Config) withDefaults() {
	if cfg.FileName == "" {
		cfg.FileName = DefaultFileName
	}
	if cfg.FallbackPath == "" {
		cfg.FallbackPath = "brkmon-local/" + cfg.FileName
	}
	if cfg.Cooldown == 0 {
		cfg.Cooldown = DefaultCooldown
	}
	if cfg.RetryInterval < 0 {
		cfg.RetryInterval = 0
	}
	if cfg.UploadTimeout == 0 {
		cfg.UploadTimeout = DefaultUploadTimeout
	}
	if cfg.DownloadTimeout == 0 {
		cfg.DownloadTimeout = DefaultDownloadTimeout
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
}

// PostCommit is a task run after each committed write. Its error is logged
// and never undoes the write.
type PostCommit func(ctx context.Context, rec bills.Record) error

// Store is the handle of the bill database.
type Store struct {
	cfg    Config
	fs     afero.Fs
	cache  *Cache
	client RemoteClient
	creds  credentials.Provider
	syncer *Syncer

	path   string
	mode   Mode
	handle *stores.FileHandle

	// mu guards |db| and serializes every transaction and query, including
	// the classify-then-insert sequence of writes.
	mu      sync.Mutex
	db      *sql.DB
	closing bool // Writes are refused; the final push may still snapshot.
	closed  bool

	// classify determines the duplicate status of inserted Drafts.
	classify func(ctx context.Context, q rowQuerier, clientCode, period string) Classification

	hooksMu sync.Mutex
	hooks   []namedHook
}

type namedHook struct {
	name string
	fn   PostCommit
}

// Open a Store over the remote database of |cfg|, or over its local
// fallback database if the remote can't be used. An error is returned only
// if the fallback database also can't be opened. |client| and |creds| may
// be nil, in which case the Store opens in fallback mode.
func Open(ctx context.Context, cfg Config, client RemoteClient, creds credentials.Provider) (*Store, error) {
	cfg.withDefaults()

	var fs = afero.NewOsFs()
	var s = &Store{
		cfg:    cfg,
		fs:     fs,
		cache:  NewCache(fs, cfg.CacheDir, cfg.FallbackPath),
		client: client,
		creds:  creds,

		classify: Classify,
	}
	s.syncer = &Syncer{
		client:        client,
		creds:         creds,
		remote:        cfg.Remote,
		name:          cfg.FileName,
		codec:         codecs.FromFilename(cfg.FileName),
		snapshot:      s.snapshot,
		now:           cfg.Now,
		cooldown:      cfg.Cooldown,
		retryInterval: cfg.RetryInterval,
		uploadTimeout: cfg.UploadTimeout,
	}

	var remoteErr = s.openRemote(ctx)
	if remoteErr == nil {
		metrics.StoreFallbackMode.Set(0)

		log.WithFields(log.Fields{
			"remote": s.handle,
			"path":   s.path,
		}).Info("opened remote-backed bill store")

		return s, nil
	}

	log.WithFields(log.Fields{
		"remote":   cfg.Remote,
		"fallback": cfg.FallbackPath,
		"err":      remoteErr,
	}).Warn("remote bill store is unavailable; using local fallback database")

	if err := s.openFallback(ctx); err != nil {
		return nil, pkgerrors.WithMessagef(err, "opening fallback database (after remote failed: %v)", remoteErr)
	}
	metrics.StoreFallbackMode.Set(1)

	return s, nil
}

func (s *Store) openRemote(ctx context.Context) error {
	if s.client == nil || s.cfg.Remote == "" {
		return fmt.Errorf("no remote store is configured")
	}

	var dlCtx, cancel = context.WithTimeout(ctx, s.cfg.DownloadTimeout)
	defer cancel()

	var handle *stores.FileHandle
	var content []byte

	if err := withAuthRetry(dlCtx, s.creds, func() (err error) {
		handle, err = s.client.Exists(dlCtx, s.cfg.Remote, s.cfg.FileName)
		return err
	}); err != nil {
		return pkgerrors.WithMessage(err, "resolving remote database")
	}

	if handle != nil {
		if err := withAuthRetry(dlCtx, s.creds, func() (err error) {
			content, err = s.client.Download(dlCtx, *handle)
			return err
		}); err != nil {
			return pkgerrors.WithMessage(err, "downloading remote database")
		}

		var err error
		if content, err = codecs.Decode(content, codecs.FromFilename(s.cfg.FileName)); err != nil {
			return pkgerrors.WithMessage(err, "decoding remote database")
		}
	}

	var path, err = s.cache.Acquire()
	if err != nil {
		return pkgerrors.WithMessage(err, "acquiring cache file")
	}
	s.path = path

	if err = s.initLocal(ctx, content); err == nil && handle == nil {
		// The remote has no database: upload the one we initialized.
		s.syncer.MarkDirty()
		if err = s.syncer.Flush(ctx); err == nil {
			handle = &stores.FileHandle{Folder: s.cfg.Remote, Name: s.cfg.FileName}
		}
	}
	if err != nil {
		s.closeDB()
		_ = s.cache.Release(s.path)
		s.path = ""
		return err
	}

	s.handle, s.mode = handle, ModeRemote
	return nil
}

// initLocal writes |content| (if non-empty) to the cache file, then opens
// it and initializes its schema.
func (s *Store) initLocal(ctx context.Context, content []byte) error {
	if len(content) != 0 {
		if err := afero.WriteFile(s.fs, s.path, content, 0600); err != nil {
			return pkgerrors.WithMessage(err, "writing cache file")
		}
	}
	var db, err = openDB(s.path)
	if err != nil {
		return err
	}
	if err = InitSchema(ctx, db, s.path); err != nil {
		_ = db.Close()
		return err
	}
	s.mu.Lock()
	s.db = db
	s.mu.Unlock()

	return nil
}

func (s *Store) openFallback(ctx context.Context) error {
	var path, err = s.cache.Permanent()
	if err != nil {
		return err
	}
	s.path, s.handle, s.mode = path, nil, ModeFallback
	s.syncer.EnterFallback()

	if err = s.initLocal(ctx, nil); err != nil {
		return err
	}
	log.WithField("path", path).Info("opened local fallback bill store")
	return nil
}

func openDB(path string) (*sql.DB, error) {
	// A rollback journal (rather than WAL) leaves a complete database image
	// in the main file once the connection is closed.
	var db, err = sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=DELETE")
	if err != nil {
		return nil, pkgerrors.WithMessagef(err, "opening %s", path)
	}
	db.SetMaxOpenConns(1)

	if err = db.Ping(); err != nil {
		_ = db.Close()
		return nil, pkgerrors.WithMessagef(err, "opening %s", path)
	}
	return db, nil
}

// conn returns the open database, reopening it if a prior snapshot failed
// to. |mu| must be held.
func (s *Store) conn() (*sql.DB, error) {
	if s.closed {
		return nil, ErrClosed
	} else if s.db != nil {
		return s.db, nil
	}
	var db, err = openDB(s.path)
	if err != nil {
		return nil, err
	}
	s.db = db
	return db, nil
}

// snapshot closes the database connection to obtain a consistent image of
// the database file, and returns it. The connection is always reopened
// before snapshot returns, including when reading the image fails.
func (s *Store) snapshot() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.conn(); err != nil {
		return nil, err
	}
	var closeErr = s.db.Close()
	s.db = nil

	defer func() {
		if db, err := openDB(s.path); err != nil {
			log.WithFields(log.Fields{"path": s.path, "err": err}).
				Error("failed to reopen database after staging (will retry on next use)")
		} else {
			s.db = db
		}
	}()

	if closeErr != nil {
		return nil, pkgerrors.WithMessage(closeErr, "closing database for staging")
	}
	return afero.ReadFile(s.fs, s.path)
}

// OnCommit registers a named PostCommit task, run after each committed write
// and after the opportunistic push.
func (s *Store) OnCommit(name string, fn PostCommit) {
	s.hooksMu.Lock()
	s.hooks = append(s.hooks, namedHook{name: name, fn: fn})
	s.hooksMu.Unlock()
}

// Write classifies and inserts the Draft. The result is a success if the
// insert committed, regardless of the outcome of post-commit tasks.
func (s *Store) Write(ctx context.Context, d bills.Draft) bills.WriteResult {
	var rec, err = s.insert(ctx, d)
	if err != nil {
		metrics.WritesTotal.WithLabelValues(string(bills.WriteFailed), "").Inc()
		log.WithFields(log.Fields{
			"cdc":         d.ClientCode,
			"competencia": d.BillingPeriod,
			"err":         err,
		}).Error("failed to write bill record")

		return bills.Failed(err)
	}
	metrics.WritesTotal.WithLabelValues(string(bills.WriteSuccess), string(rec.DuplicateStatus)).Inc()

	log.WithFields(log.Fields{
		"id":          rec.ID,
		"cdc":         rec.ClientCode,
		"competencia": rec.BillingPeriod,
		"status":      rec.DuplicateStatus,
	}).Debug("wrote bill record")

	s.runPostCommit(ctx, rec)

	return bills.WriteResult{
		Status:          bills.WriteSuccess,
		ID:              rec.ID,
		DuplicateStatus: rec.DuplicateStatus,
		DerivedFilename: rec.DerivedFilename,
	}
}

func (s *Store) insert(ctx context.Context, d bills.Draft) (bills.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closing {
		return bills.Record{}, &WriteError{Op: "connecting", Err: ErrClosed}
	}
	var db, err = s.conn()
	if err != nil {
		return bills.Record{}, &WriteError{Op: "connecting", Err: err}
	}
	d.ClientCode, d.BillingPeriod = d.NaturalKey()

	var status bills.DuplicateStatus
	if c := s.classify(ctx, db, d.ClientCode, d.BillingPeriod); c.Failed() {
		status = bills.StatusNormal
		d.Observation = appendNote(d.Observation, "duplicate check failed; assumed NORMAL: "+c.Err.Error())
		metrics.ClassificationFailuresTotal.Inc()

		log.WithFields(log.Fields{
			"cdc":         d.ClientCode,
			"competencia": d.BillingPeriod,
			"err":         c.Err,
		}).Warn("duplicate classification failed; defaulting to NORMAL")
	} else {
		status = c.Status
	}

	var rec = bills.Record{
		Draft:           d,
		DerivedFilename: bills.DeriveFilename(d),
		DuplicateStatus: status,
		ProcessedAt:     s.cfg.Now().UTC().Truncate(time.Second),
	}

	txn, err := db.BeginTx(ctx, nil)
	if err != nil {
		return rec, &WriteError{Op: "beginning transaction", Err: err}
	}
	res, err := txn.ExecContext(ctx, insertSQL, recordArgs(rec)...)
	if err == nil {
		rec.ID, err = res.LastInsertId()
	}
	if err != nil {
		_ = txn.Rollback()
		return rec, &WriteError{Op: "inserting record", Err: err}
	}
	if err = txn.Commit(); err != nil {
		return rec, &WriteError{Op: "committing record", Err: err}
	}
	// Marked while |mu| is held, so that Close's final push observes it.
	s.syncer.MarkDirty()

	return rec, nil
}

// runPostCommit runs the opportunistic push, followed by registered
// PostCommit tasks, each with its own error.
func (s *Store) runPostCommit(ctx context.Context, rec bills.Record) {
	var tasks = []namedHook{{name: "sync", fn: func(ctx context.Context, _ bills.Record) error {
		var _, err = s.syncer.MaybePush(ctx)
		return err
	}}}
	s.hooksMu.Lock()
	tasks = append(tasks, s.hooks...)
	s.hooksMu.Unlock()

	for _, task := range tasks {
		if err := task.fn(ctx, rec); err != nil {
			log.WithFields(log.Fields{
				"task": task.name,
				"id":   rec.ID,
				"err":  err,
			}).Warn("post-commit task failed (record remains committed)")
		}
	}
}

// Sync pushes unpushed changes now, regardless of cooldown. It's a no-op in
// fallback mode.
func (s *Store) Sync(ctx context.Context) error { return s.syncer.Flush(ctx) }

// Mode returns the operating Mode of the Store.
func (s *Store) Mode() Mode { return s.mode }

// Path returns the local database path of the Store.
func (s *Store) Path() string { return s.path }

// Remote returns the handle of the remote database, or nil in fallback mode.
func (s *Store) Remote() *stores.FileHandle { return s.handle }

// SyncStatus returns the status of the Store's Syncer.
func (s *Store) SyncStatus() SyncStatus { return s.syncer.Status() }

// Close the Store: further writes are refused, unpushed changes are pushed,
// the database is closed, and its cache file removed. Closing a closed (or
// closing) Store is a no-op.
func (s *Store) Close(ctx context.Context) error {
	s.mu.Lock()
	var closing = s.closing
	s.closing = true
	s.mu.Unlock()

	if closing {
		return nil
	} else if err := s.syncer.Flush(ctx); err != nil {
		log.WithField("err", err).Warn("final push of bill store failed")
	}

	s.mu.Lock()
	var err error
	if s.db != nil {
		err = s.db.Close()
		s.db = nil
	}
	s.closed = true
	s.mu.Unlock()

	if s.mode == ModeRemote {
		if rmErr := s.cache.Release(s.path); err == nil {
			err = rmErr
		}
	}
	log.WithFields(log.Fields{"path": s.path, "mode": s.mode}).Info("closed bill store")

	return err
}

func (s *Store) closeDB() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db != nil {
		_ = s.db.Close()
		s.db = nil
	}
}

func appendNote(observation, note string) string {
	if observation == "" {
		return note
	}
	return observation + "; " + note
}
