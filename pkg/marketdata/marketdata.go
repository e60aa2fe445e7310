// Package marketdata defines the market-data collaborator contract the
// Catalyst Scanner uses for technical validation — a price/volume
// snapshot client plus an in-memory fake for tests.
package marketdata

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"
)

// Snapshot is the current market-data read for one symbol used by
// technical validation.
type Snapshot struct {
	Symbol             string
	Price              decimal.Decimal
	Volume             decimal.Decimal
	RelativeVolume     float64
	PriceChangePct     float64
	PreMarketVolume    decimal.Decimal
	PreMarketChangePct float64
}

// Client is the collaborator contract: a snapshot provider plus a
// most-active baseline for universe construction.
type Client interface {
	GetSnapshot(ctx context.Context, symbol string) (*Snapshot, error)
	MostActive(ctx context.Context, limit int) ([]string, error)
}

// FakeClient is an in-memory Client for scanner tests and local
// development, seeded with fixed snapshots.
type FakeClient struct {
	mu         sync.RWMutex
	snapshots  map[string]Snapshot
	mostActive []string
}

// NewFakeClient returns an empty FakeClient.
func NewFakeClient() *FakeClient {
	return &FakeClient{snapshots: make(map[string]Snapshot)}
}

// Seed registers a snapshot for a symbol.
func (f *FakeClient) Seed(snap Snapshot) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snapshots[snap.Symbol] = snap
}

// SeedMostActive sets the most-active baseline returned by MostActive.
func (f *FakeClient) SeedMostActive(symbols []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.mostActive = symbols
}

func (f *FakeClient) GetSnapshot(_ context.Context, symbol string) (*Snapshot, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	snap, ok := f.snapshots[symbol]
	if !ok {
		return nil, fmt.Errorf("marketdata: no snapshot seeded for %s", symbol)
	}
	return &snap, nil
}

func (f *FakeClient) MostActive(_ context.Context, limit int) ([]string, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if limit <= 0 || limit > len(f.mostActive) {
		limit = len(f.mostActive)
	}
	out := make([]string, limit)
	copy(out, f.mostActive[:limit])
	return out, nil
}
