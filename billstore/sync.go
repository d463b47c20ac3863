package billstore

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	pkgerrors "github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/tesouraria/brkmon/codecs"
	"github.com/tesouraria/brkmon/credentials"
	"github.com/tesouraria/brkmon/metrics"
	"github.com/tesouraria/brkmon/stores"
)

// SyncState is the state of a Syncer.
type SyncState int

const (
	// Idle Syncers push when written to and not cooling down.
	Idle SyncState = iota
	// Syncing Syncers have a push in flight.
	Syncing
	// Fallback Syncers never push. Fallback is terminal.
	Fallback
)

func (s SyncState) String() string {
	switch s {
	case Idle:
		return "idle"
	case Syncing:
		return "syncing"
	case Fallback:
		return "fallback"
	default:
		return "unknown"
	}
}

// RemoteClient uploads and downloads whole objects of a remote folder.
// *stores.Client is the production implementation.
type RemoteClient interface {
	Exists(ctx context.Context, folder stores.Endpoint, name string) (*stores.FileHandle, error)
	Download(ctx context.Context, h stores.FileHandle) ([]byte, error)
	Upload(ctx context.Context, folder stores.Endpoint, name string, content []byte, contentType string) (stores.FileHandle, error)
}

// ContentType of pushed database blobs.
const ContentType = "application/x-sqlite3"

// Syncer pushes a consistent image of the local database to its remote
// object. Pushes are gated by a cooldown following each successful push,
// and by a shorter retry interval following each failed one.
type Syncer struct {
	client   RemoteClient
	creds    credentials.Provider
	remote   stores.Endpoint
	name     string
	codec    codecs.Codec
	snapshot func() ([]byte, error)
	now      func() time.Time

	cooldown      time.Duration
	retryInterval time.Duration
	uploadTimeout time.Duration

	pushMu sync.Mutex // Held while a push is in flight.

	mu          sync.Mutex
	fallback    bool
	syncing     bool
	dirty       bool
	lastSync    time.Time
	lastFailure time.Time
	lastErr     error
	pushes      int
}

// SyncStatus is a snapshot of the state of a Syncer.
type SyncStatus struct {
	State       SyncState
	Dirty       bool
	LastSync    time.Time
	LastFailure time.Time
	LastErr     error
	// Pushes is the number of attempted pushes.
	Pushes int
}

// MarkDirty notes that the local database has changes not yet pushed.
func (s *Syncer) MarkDirty() {
	s.mu.Lock()
	s.dirty = true
	s.mu.Unlock()
}

// EnterFallback transitions the Syncer to the terminal Fallback state.
// Push history of the abandoned remote is discarded.
func (s *Syncer) EnterFallback() {
	s.mu.Lock()
	s.fallback, s.dirty, s.pushes = true, false, 0
	s.lastSync, s.lastFailure, s.lastErr = time.Time{}, time.Time{}, nil
	s.mu.Unlock()
}

// Status returns the current SyncStatus.
func (s *Syncer) Status() SyncStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	var state = Idle
	if s.fallback {
		state = Fallback
	} else if s.syncing {
		state = Syncing
	}
	return SyncStatus{
		State:       state,
		Dirty:       s.dirty,
		LastSync:    s.lastSync,
		LastFailure: s.lastFailure,
		LastErr:     s.lastErr,
		Pushes:      s.pushes,
	}
}

// MaybePush pushes the database if it has unpushed changes, no other push
// is in flight, and the Syncer isn't cooling down from a prior push or
// failure. It returns whether a push was attempted, and its error.
func (s *Syncer) MaybePush(ctx context.Context) (bool, error) {
	if !s.pushMu.TryLock() {
		return false, nil // Syncing.
	}
	defer s.pushMu.Unlock()

	if !s.due(s.now()) {
		return false, nil
	}
	return true, s.push(ctx)
}

// Flush pushes the database if it has unpushed changes, regardless of
// cooldown. It waits for a push already in flight.
func (s *Syncer) Flush(ctx context.Context) error {
	s.pushMu.Lock()
	defer s.pushMu.Unlock()

	s.mu.Lock()
	var skip = s.fallback || !s.dirty
	s.mu.Unlock()

	if skip {
		return nil
	}
	return s.push(ctx)
}

func (s *Syncer) due(now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case s.fallback, !s.dirty:
		return false
	case !s.lastSync.IsZero() && now.Sub(s.lastSync) < s.cooldown:
		return false
	case !s.lastFailure.IsZero() && now.Sub(s.lastFailure) < s.retryInterval:
		return false
	}
	return true
}

// push requires that pushMu is held.
func (s *Syncer) push(ctx context.Context) error {
	var started, t0 = s.now(), time.Now()

	s.mu.Lock()
	s.syncing, s.dirty = true, false
	s.pushes++
	s.mu.Unlock()

	var size, err = s.doPush(ctx)

	s.mu.Lock()
	s.syncing = false
	if err != nil {
		s.dirty = true // Retry on a later write.
		s.lastFailure, s.lastErr = started, err
	} else {
		s.lastSync, s.lastFailure, s.lastErr = started, time.Time{}, nil
	}
	s.mu.Unlock()

	metrics.SyncPushDurationSeconds.Observe(time.Since(t0).Seconds())

	if err != nil {
		metrics.SyncPushesTotal.WithLabelValues(metrics.Fail).Inc()
		log.WithFields(log.Fields{
			"remote": s.remote,
			"name":   s.name,
			"err":    err,
		}).Warn("failed to push database to remote store (will retry)")
		return err
	}

	metrics.SyncPushesTotal.WithLabelValues(metrics.Ok).Inc()
	metrics.SyncPushBytesTotal.Add(float64(size))

	log.WithFields(log.Fields{
		"remote": s.remote,
		"name":   s.name,
		"size":   humanize.Bytes(uint64(size)),
		"codec":  s.codec,
	}).Info("pushed database to remote store")

	return nil
}

func (s *Syncer) doPush(ctx context.Context) (int, error) {
	var b, err = s.snapshot()
	if err != nil {
		return 0, pkgerrors.WithMessage(err, "staging database image")
	}
	if b, err = codecs.Encode(b, s.codec); err != nil {
		return 0, pkgerrors.WithMessage(err, "encoding database image")
	}

	ctx, cancel := context.WithTimeout(ctx, s.uploadTimeout)
	defer cancel()

	err = withAuthRetry(ctx, s.creds, func() error {
		var _, err = s.client.Upload(ctx, s.remote, s.name, b, ContentType)
		return err
	})
	return len(b), err
}

// withAuthRetry invokes |fn|. If it fails with stores.ErrAuthExpired, the
// credentials are refreshed and |fn| is retried exactly once.
func withAuthRetry(ctx context.Context, creds credentials.Provider, fn func() error) error {
	var err = fn()
	if !errors.Is(err, stores.ErrAuthExpired) || creds == nil {
		return err
	}

	if ok, rErr := creds.Refresh(ctx); rErr != nil {
		return pkgerrors.WithMessagef(err, "refreshing credentials: %v", rErr)
	} else if !ok {
		return pkgerrors.WithMessage(err, "credentials could not be refreshed")
	}
	log.Info("refreshed expired credentials; retrying remote operation")

	return fn()
}
