// Package registry holds the immutable set of accepted collateral assets
// and the price feed backing each one.
package registry

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/crucible-fi/crucible/pkg/oracle"
)

// Registry maps accepted collateral assets to their guarded price feeds.
// Built once at construction and immutable afterward, so reads need no
// locking. Enumeration order is insertion order and is part of the public
// contract: valuation sums collateral in this order.
type Registry struct {
	assets []common.Address
	feeds  map[common.Address]*oracle.Guard
	debt   common.Address
}

// New builds a registry from two equal-length ordered slices. A duplicate
// asset keeps both enumeration entries while the later feed wins the
// mapping; callers must not rely on set semantics of Assets().
func New(assets []common.Address, feeds []*oracle.Guard, debtToken common.Address) (*Registry, error) {
	if len(assets) != len(feeds) {
		return nil, fmt.Errorf("registry: %d assets but %d price feeds", len(assets), len(feeds))
	}

	r := &Registry{
		assets: make([]common.Address, 0, len(assets)),
		feeds:  make(map[common.Address]*oracle.Guard, len(assets)),
		debt:   debtToken,
	}
	for i, asset := range assets {
		if feeds[i] == nil {
			return nil, fmt.Errorf("registry: nil price feed for asset %s", asset.Hex())
		}
		r.assets = append(r.assets, asset)
		r.feeds[asset] = feeds[i]
	}
	return r, nil
}

// Assets returns the accepted collateral assets in insertion order.
func (r *Registry) Assets() []common.Address {
	out := make([]common.Address, len(r.assets))
	copy(out, r.assets)
	return out
}

// Feed resolves the guarded price feed for an asset.
func (r *Registry) Feed(asset common.Address) (*oracle.Guard, error) {
	g, ok := r.feeds[asset]
	if !ok {
		return nil, fmt.Errorf("registry: asset %s not accepted", asset.Hex())
	}
	return g, nil
}

// IsAccepted reports whether an asset has a registered price feed.
func (r *Registry) IsAccepted(asset common.Address) bool {
	_, ok := r.feeds[asset]
	return ok
}

// DebtToken returns the debt-token identity the registry was built with.
func (r *Registry) DebtToken() common.Address {
	return r.debt
}

// Len returns the number of enumeration entries (duplicates counted).
func (r *Registry) Len() int {
	return len(r.assets)
}
