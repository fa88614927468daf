package oracle

import (
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/crucible-fi/crucible/pkg/util"
)

var (
	// ErrNoData is returned by a feed that has never reported a price.
	ErrNoData = errors.New("oracle: no data")

	// ErrStalePrice is returned when the feed's last update is older than
	// the guard's timeout. Callers must treat this as a freeze, not retry.
	ErrStalePrice = errors.New("oracle: stale price")

	// ErrInvalidPrice is returned for a zero or negative price. The feed
	// contract leaves this case unspecified; the guard fails it the same
	// way as stale data so it can never reach a divisor.
	ErrInvalidPrice = errors.New("oracle: invalid price")
)

// Guard wraps a PriceFeed and enforces the staleness window. Every
// valuation in the engine reads prices through a Guard; no price is ever
// cached across calls.
type Guard struct {
	feed    PriceFeed
	timeout time.Duration
	clock   util.Clock
}

func NewGuard(feed PriceFeed, timeout time.Duration, clock util.Clock) *Guard {
	if clock == nil {
		clock = util.RealClock{}
	}
	return &Guard{feed: feed, timeout: timeout, clock: clock}
}

// LatestPrice returns the feed price after checking freshness and sign.
func (g *Guard) LatestPrice() (*big.Int, time.Time, error) {
	price, updatedAt, err := g.feed.LatestPrice()
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("feed %s: %w", g.feed.Description(), err)
	}

	age := g.clock.Now().Sub(updatedAt)
	if age > g.timeout {
		return nil, time.Time{}, fmt.Errorf("feed %s: age %s exceeds %s: %w",
			g.feed.Description(), age, g.timeout, ErrStalePrice)
	}

	if price.Sign() <= 0 {
		return nil, time.Time{}, fmt.Errorf("feed %s: price %s: %w",
			g.feed.Description(), price, ErrInvalidPrice)
	}

	return price, updatedAt, nil
}

// Decimals reports the wrapped feed's native precision.
func (g *Guard) Decimals() uint8 { return g.feed.Decimals() }

// Description identifies the wrapped feed.
func (g *Guard) Description() string { return g.feed.Description() }
