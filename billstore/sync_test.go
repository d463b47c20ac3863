package billstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/tesouraria/brkmon/stores"
)

func TestSyncerSkipsWhileSyncing(t *testing.T) {
	var ctx, remote, clock = context.Background(), newFakeRemote(), newFakeClock()
	var s = newTestSyncer(remote, clock)

	var block = make(chan struct{})
	remote.mu.Lock()
	remote.block = block
	remote.mu.Unlock()

	s.MarkDirty()
	var flushed = make(chan error, 1)
	go func() { flushed <- s.Flush(ctx) }()

	require.Eventually(t, func() bool { return s.Status().State == Syncing },
		time.Second, time.Millisecond)

	// A write during the push marks the Syncer dirty, but doesn't push.
	s.MarkDirty()
	var attempted, err = s.MaybePush(ctx)
	require.False(t, attempted)
	require.NoError(t, err)

	close(block)
	require.NoError(t, <-flushed)

	var status = s.Status()
	require.Equal(t, Idle, status.State)
	require.True(t, status.Dirty)
	require.Equal(t, 1, status.Pushes)
	require.Equal(t, []byte("image"), remote.object("mem://brk/", "faturas_brk.db"))
}

func TestSyncerGating(t *testing.T) {
	var ctx, remote, clock = context.Background(), newFakeRemote(), newFakeClock()
	var s = newTestSyncer(remote, clock)

	// Clean Syncers don't push.
	var attempted, err = s.MaybePush(ctx)
	require.False(t, attempted)
	require.NoError(t, err)
	require.NoError(t, s.Flush(ctx))
	require.Equal(t, 0, remote.uploadCount())

	s.MarkDirty()
	attempted, err = s.MaybePush(ctx)
	require.True(t, attempted)
	require.NoError(t, err)

	s.MarkDirty()
	clock.Advance(time.Hour - time.Second)
	attempted, _ = s.MaybePush(ctx)
	require.False(t, attempted)

	// Flush ignores the cooldown.
	require.NoError(t, s.Flush(ctx))
	require.Equal(t, 2, remote.uploadCount())

	// Fallback Syncers never push, even when flushed.
	s.MarkDirty()
	s.EnterFallback()
	clock.Advance(2 * time.Hour)

	attempted, _ = s.MaybePush(ctx)
	require.False(t, attempted)
	require.NoError(t, s.Flush(ctx))
	require.Equal(t, 2, remote.uploadCount())
	require.Equal(t, Fallback, s.Status().State)
}

func TestSyncerSnapshotFailure(t *testing.T) {
	var ctx, remote, clock = context.Background(), newFakeRemote(), newFakeClock()
	var s = newTestSyncer(remote, clock)
	s.snapshot = func() ([]byte, error) { return nil, errors.New("disk on fire") }

	s.MarkDirty()
	var attempted, err = s.MaybePush(ctx)
	require.True(t, attempted)
	require.EqualError(t, err, "staging database image: disk on fire")
	require.Equal(t, 0, remote.uploadCount())
	require.True(t, s.Status().Dirty)
}

func TestWithAuthRetry(t *testing.T) {
	var ctx = context.Background()
	var other = errors.New("other")

	var cases = []struct {
		errs      []error
		creds     *fakeCreds
		calls     int
		refreshes int32
		expect    error
	}{
		// Success, and non-auth errors, aren't retried.
		{errs: []error{nil}, creds: new(fakeCreds), calls: 1},
		{errs: []error{other}, creds: new(fakeCreds), calls: 1, expect: other},
		// Expired auth is refreshed and retried once.
		{errs: []error{stores.ErrAuthExpired, nil}, creds: new(fakeCreds), calls: 2, refreshes: 1},
		{errs: []error{stores.ErrAuthExpired, stores.ErrAuthExpired}, creds: new(fakeCreds),
			calls: 2, refreshes: 1, expect: stores.ErrAuthExpired},
		// Credentials which can't refresh aren't retried.
		{errs: []error{stores.ErrAuthExpired}, creds: &fakeCreds{fail: true},
			calls: 1, refreshes: 1, expect: stores.ErrAuthExpired},
		{errs: []error{stores.ErrAuthExpired}, calls: 1, expect: stores.ErrAuthExpired},
	}
	for _, tc := range cases {
		var calls int
		var fn = func() error {
			calls++
			return tc.errs[calls-1]
		}

		var err error
		if tc.creds != nil {
			err = withAuthRetry(ctx, tc.creds, fn)
			require.Equal(t, tc.refreshes, tc.creds.refreshes.Load())
		} else {
			err = withAuthRetry(ctx, nil, fn)
		}
		require.Equal(t, tc.calls, calls)

		if tc.expect == nil {
			require.NoError(t, err)
		} else {
			require.ErrorIs(t, err, tc.expect)
		}
	}
}

func newTestSyncer(remote *fakeRemote, clock *fakeClock) *Syncer {
	return &Syncer{
		client:        remote,
		remote:        "mem://brk/",
		name:          "faturas_brk.db",
		snapshot:      func() ([]byte, error) { return []byte("image"), nil },
		now:           clock.Now,
		cooldown:      time.Hour,
		retryInterval: time.Minute,
		uploadTimeout: 10 * time.Second,
	}
}
