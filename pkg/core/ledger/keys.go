package ledger

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// Pebble key schema. Prefix-based so range scans can enumerate every
// persisted position; the account address is the primary key.
const prefixPosition = "pos:"

// positionKey returns the key for an account's position record.
// Format: "pos:{address}"
func positionKey(account common.Address) []byte {
	return []byte(fmt.Sprintf("%s%s", prefixPosition, account.Hex()))
}

// positionPrefixAll returns the prefix covering every position record.
func positionPrefixAll() []byte {
	return []byte(prefixPosition)
}

// keyUpperBound returns the exclusive upper bound for a prefix scan.
func keyUpperBound(prefix []byte) []byte {
	bound := make([]byte, len(prefix))
	copy(bound, prefix)
	bound[len(bound)-1]++
	return bound
}
