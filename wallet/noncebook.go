package wallet

import (
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// NonceBook tracks the next nonce to assign per address. Values are seeded
// once from the node ("latest" tag) and then advanced locally: a nonce is
// consumed when a transaction is enqueued, not when it is submitted.
//
// The map is mutex-protected, but the contract is stronger: collaborators
// never call Reserve concurrently for the same address, so per-address
// blocks are always contiguous.
type NonceBook struct {
	mu    sync.Mutex
	next  map[common.Address]uint64
	known map[common.Address]bool
}

// NewNonceBook returns an empty nonce book.
func NewNonceBook() *NonceBook {
	return &NonceBook{
		next:  make(map[common.Address]uint64),
		known: make(map[common.Address]bool),
	}
}

// Initialize seeds the next nonce for addr, typically with the value of
// eth_getTransactionCount(addr, "latest"). Re-initializing overwrites any
// locally advanced value.
func (nb *NonceBook) Initialize(addr common.Address, nonce uint64) {
	nb.mu.Lock()
	defer nb.mu.Unlock()
	nb.next[addr] = nonce
	nb.known[addr] = true
}

// Reserve returns the ordered nonce block [base, base+n) for addr and
// advances the stored value. It fails if the address was never initialized.
func (nb *NonceBook) Reserve(addr common.Address, n int) ([]uint64, error) {
	nb.mu.Lock()
	defer nb.mu.Unlock()
	if !nb.known[addr] {
		return nil, fmt.Errorf("nonce book: address %s not initialized", addr.Hex())
	}
	base := nb.next[addr]
	block := make([]uint64, n)
	for i := range block {
		block[i] = base + uint64(i)
	}
	nb.next[addr] = base + uint64(n)
	return block, nil
}

// Next returns the next nonce that Reserve would hand out for addr.
func (nb *NonceBook) Next(addr common.Address) (uint64, bool) {
	nb.mu.Lock()
	defer nb.mu.Unlock()
	if !nb.known[addr] {
		return 0, false
	}
	return nb.next[addr], true
}
