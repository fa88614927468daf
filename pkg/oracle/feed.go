// Package oracle defines the price-feed contract consumed by the engine and
// the staleness guard that every valuation goes through.
//
// Feeds report 8-decimal USD prices (Chainlink convention). The guard is the
// only supported way to read a feed: a raw feed read bypasses the staleness
// and sign checks that keep valuations safe.
package oracle

import (
	"math/big"
	"sync"
	"time"

	"github.com/crucible-fi/crucible/pkg/util"
)

// PriceFeed is the upstream price source for one collateral asset.
type PriceFeed interface {
	// LatestPrice returns the most recent price (8 decimals) and the time
	// it was observed upstream.
	LatestPrice() (price *big.Int, updatedAt time.Time, err error)
	// Decimals reports the feed's native price precision.
	Decimals() uint8
	// Description identifies the feed pair, e.g. "ETH / USD".
	Description() string
}

// SettableFeed is an in-process feed whose price is pushed by an operator or
// a test. Each update stamps the feed's observation time from the clock.
type SettableFeed struct {
	mu        sync.RWMutex
	desc      string
	decimals  uint8
	price     *big.Int
	updatedAt time.Time
	clock     util.Clock
}

func NewSettableFeed(desc string, clock util.Clock) *SettableFeed {
	if clock == nil {
		clock = util.RealClock{}
	}
	return &SettableFeed{
		desc:     desc,
		decimals: 8,
		clock:    clock,
	}
}

// Set updates the feed price and refreshes its observation timestamp.
func (f *SettableFeed) Set(price *big.Int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.price = new(big.Int).Set(price)
	f.updatedAt = f.clock.Now()
}

// SetAt updates the price with an explicit observation time. Used to
// simulate a feed that stopped updating.
func (f *SettableFeed) SetAt(price *big.Int, updatedAt time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.price = new(big.Int).Set(price)
	f.updatedAt = updatedAt
}

func (f *SettableFeed) LatestPrice() (*big.Int, time.Time, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.price == nil {
		return nil, time.Time{}, ErrNoData
	}
	return new(big.Int).Set(f.price), f.updatedAt, nil
}

func (f *SettableFeed) Decimals() uint8 { return f.decimals }

func (f *SettableFeed) Description() string { return f.desc }
