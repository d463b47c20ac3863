package stores

import (
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	constructors = make(map[string]Constructor)
	stores       = make(map[Endpoint]*ActiveStore)
	storesMu     sync.RWMutex
)

// RegisterProviders registers store constructors for different storage schemes.
// This should be called during initialization to register all available store types.
func RegisterProviders(providers map[string]Constructor) {
	storesMu.Lock()
	defer storesMu.Unlock()

	for scheme, constructor := range providers {
		constructors[scheme] = constructor
	}
}

// Get returns an ActiveStore for the given Endpoint.
// It will attempt to initialize the store if not already cached.
func Get(ep Endpoint) (*ActiveStore, error) {
	// Fast path: check if store already exists
	storesMu.RLock()
	if active, ok := stores[ep]; ok {
		storesMu.RUnlock()
		return active, nil
	}
	storesMu.RUnlock()

	if err := ep.Validate(); err != nil {
		return nil, err
	}

	storesMu.Lock()
	defer storesMu.Unlock()

	// Double-check after acquiring write lock
	if active, ok := stores[ep]; ok {
		return active, nil
	}

	var u = ep.URL()
	constructor, ok := constructors[u.Scheme]
	if !ok {
		return nil, fmt.Errorf("unsupported store scheme: %s", u.Scheme)
	}

	store, err := constructor(u)
	if err != nil {
		// Return error but don't cache - will retry on next call
		return nil, err
	}

	var active = NewActiveStore(ep, store)
	stores[ep] = active
	activeStores.Set(float64(len(stores)))

	return active, nil
}

var (
	activeStores = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "brkmon_store_active",
		Help: "Number of active remote stores",
	})

	storeOperationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "brkmon_store_operation_duration_seconds",
		Help:    "Duration of store operations in seconds",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 18), // 1ms to ~2m
	}, []string{"store", "operation", "status"})

	storeOperationTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "brkmon_store_operation_total",
		Help: "Total number of store operations",
	}, []string{"store", "operation", "status"})

	storePutBytesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "brkmon_store_put_bytes_total",
		Help: "Total bytes written to stores",
	}, []string{"store"})
)
