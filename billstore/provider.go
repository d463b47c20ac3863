package billstore

import (
	"context"
	"reflect"
	"sync"

	log "github.com/sirupsen/logrus"
	"github.com/tesouraria/brkmon/credentials"
	"github.com/tesouraria/brkmon/stores"
)

// Provider owns the single Store of a process. It's constructed once at
// process start and passed to each component which uses the Store.
type Provider struct {
	cfg    Config
	client RemoteClient

	mu     sync.Mutex
	store  *Store
	creds  credentials.Provider
	remote stores.Endpoint
}

// NewProvider returns a Provider of Stores having Config |cfg| (excepting
// its Remote, which is supplied to Acquire) over |client|.
func NewProvider(cfg Config, client RemoteClient) *Provider {
	return &Provider{cfg: cfg, client: client}
}

// Acquire returns the Store of the Provider, opening it on first use.
// Concurrent first calls open exactly one Store. Construction parameters
// are accepted only once: later calls return the existing Store even if
// they supply different credentials or remote folder, which is logged.
func (p *Provider) Acquire(ctx context.Context, creds credentials.Provider, remote stores.Endpoint) (*Store, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.store != nil {
		if !sameProvider(creds, p.creds) || remote != p.remote {
			log.WithFields(log.Fields{
				"remote":    p.remote,
				"requested": remote,
			}).Warn("bill store is already open; ignoring differing credentials or remote")
		}
		return p.store, nil
	}

	var cfg = p.cfg
	cfg.Remote = remote

	var store, err = Open(ctx, cfg, p.client, creds)
	if err != nil {
		return nil, err
	}
	p.store, p.creds, p.remote = store, creds, remote

	return store, nil
}

// Current returns the open Store, or nil if there isn't one.
func (p *Provider) Current() *Store {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.store
}

// Close the open Store, if any. A later Acquire opens a new Store.
func (p *Provider) Close(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.store == nil {
		return nil
	}
	var err = p.store.Close(ctx)
	p.store, p.creds, p.remote = nil, nil, ""

	return err
}

// sameProvider compares credential Providers without panicking on
// implementations of uncomparable types.
func sameProvider(a, b credentials.Provider) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	var ta, tb = reflect.TypeOf(a), reflect.TypeOf(b)
	if ta != tb {
		return false
	} else if !ta.Comparable() {
		return false
	}
	return a == b
}
