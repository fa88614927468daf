package ledger

import (
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/cockroachdb/pebble"
	"github.com/ethereum/go-ethereum/common"
)

// Store provides pebble-based persistence for position records. All writes
// go through the Ledger's mutex, so the store itself does no locking.
type Store struct {
	db *pebble.DB
}

// NewStore opens a pebble database at the given path.
func NewStore(dbPath string) (*Store, error) {
	opts := &pebble.Options{
		Cache:                    pebble.NewCache(64 << 20),
		MemTableSize:             32 << 20,
		MaxConcurrentCompactions: func() int { return 2 },
		L0CompactionThreshold:    2,
		L0StopWritesThreshold:    12,
		LBaseMaxBytes:            64 << 20,
		MaxOpenFiles:             1000,
		BytesPerSync:             512 << 10,
	}

	db, err := pebble.Open(dbPath, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open pebble db at %s: %w", dbPath, err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// SavePosition persists a position record. Balance data is written with
// Sync: a crash must never lose a confirmed deposit or mint.
func (s *Store) SavePosition(pos *Position) error {
	data, err := json.Marshal(pos)
	if err != nil {
		return fmt.Errorf("failed to marshal position: %w", err)
	}

	if err := s.db.Set(positionKey(pos.Account), data, pebble.Sync); err != nil {
		return fmt.Errorf("failed to save position: %w", err)
	}
	return nil
}

// LoadPosition loads an account's position record.
// Returns nil if the account has never been persisted.
func (s *Store) LoadPosition(account common.Address) (*Position, error) {
	data, closer, err := s.db.Get(positionKey(account))
	if err == pebble.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get position: %w", err)
	}
	defer closer.Close()

	var pos Position
	if err := json.Unmarshal(data, &pos); err != nil {
		return nil, fmt.Errorf("failed to unmarshal position: %w", err)
	}

	// JSON unmarshal may leave zero-value fields nil.
	if pos.Collateral == nil {
		pos.Collateral = make(map[common.Address]*big.Int)
	}
	if pos.DebtMinted == nil {
		pos.DebtMinted = new(big.Int)
	}

	return &pos, nil
}

// LoadAllPositions scans every persisted position record.
func (s *Store) LoadAllPositions() ([]*Position, error) {
	prefix := positionPrefixAll()
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open iterator: %w", err)
	}
	defer iter.Close()

	var positions []*Position
	for iter.First(); iter.Valid(); iter.Next() {
		var pos Position
		if err := json.Unmarshal(iter.Value(), &pos); err != nil {
			continue // skip invalid entries
		}
		positions = append(positions, &pos)
	}

	return positions, nil
}
