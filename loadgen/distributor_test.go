package loadgen

import (
	"context"
	"math/big"
	"testing"

	qt "github.com/frankban/quicktest"

	"github.com/moatlabs/surge/wallet"
)

func TestDistributorTopsUpShortAccounts(t *testing.T) {
	c := qt.New(t)

	book := wallet.NewNonceBook()
	accounts := testAccounts(t, book, 4, 0)
	funderSet := testAccounts(t, book, 1, 0)
	funder := funderSet[0]
	funder.Index = 0

	gasPrice := big.NewInt(1_000_000_000)
	txValue := big.NewInt(1)
	const txPerAccount = 5
	perTx := new(big.Int).Add(new(big.Int).Mul(gasPrice, big.NewInt(baseTransferGas)), txValue)
	required := new(big.Int).Mul(perTx, big.NewInt(txPerAccount))

	node := newFakeNode()
	node.balances[funder.Address] = new(big.Int).Mul(required, big.NewInt(100))
	node.balances[accounts[0].Address] = new(big.Int).Set(required) // already ready
	node.balances[accounts[1].Address] = big.NewInt(0)
	node.balances[accounts[2].Address] = new(big.Int).Sub(required, big.NewInt(1000))
	node.balances[accounts[3].Address] = big.NewInt(0)

	d := NewDistributor(node, book, node.chainID, gasPrice, 2)
	ready, err := d.Run(context.Background(), funder, accounts, txPerAccount, txValue)
	c.Assert(err, qt.IsNil)
	c.Assert(ready, qt.HasLen, 4)
	for i := 1; i < len(ready); i++ {
		c.Assert(ready[i-1].Index < ready[i].Index, qt.IsTrue)
	}

	// Three top-ups from the funder with contiguous nonces.
	sent := node.sentBySender()[funder.Address]
	c.Assert(sent, qt.HasLen, 3)
	seen := make(map[uint64]bool)
	for _, tx := range sent {
		seen[tx.Nonce()] = true
	}
	c.Assert(seen, qt.DeepEquals, map[uint64]bool{0: true, 1: true, 2: true})

	// The nearly ready account got exactly its missing amount.
	for _, tx := range sent {
		if *tx.To() == accounts[2].Address {
			c.Assert(tx.Value().Cmp(big.NewInt(1000)), qt.Equals, 0)
		}
	}
}

func TestDistributorFunderBroke(t *testing.T) {
	c := qt.New(t)

	book := wallet.NewNonceBook()
	accounts := testAccounts(t, book, 2, 0)
	funder := testAccounts(t, book, 1, 0)[0]

	node := newFakeNode()
	node.balances[funder.Address] = big.NewInt(1) // cannot cover anything

	d := NewDistributor(node, book, node.chainID, big.NewInt(1_000_000_000), 2)
	_, err := d.Run(context.Background(), funder, accounts, 5, big.NewInt(1))
	c.Assert(err, qt.ErrorIs, ErrNotEnoughFunds)
}

func TestDistributorAllReady(t *testing.T) {
	c := qt.New(t)

	book := wallet.NewNonceBook()
	accounts := testAccounts(t, book, 3, 0)
	funder := testAccounts(t, book, 1, 0)[0]

	node := newFakeNode()
	big9 := new(big.Int).SetUint64(1 << 62)
	node.balances[funder.Address] = big9
	for _, acc := range accounts {
		node.balances[acc.Address] = big9
	}

	d := NewDistributor(node, book, node.chainID, big.NewInt(1_000_000_000), 2)
	ready, err := d.Run(context.Background(), funder, accounts, 5, big.NewInt(1))
	c.Assert(err, qt.IsNil)
	c.Assert(ready, qt.HasLen, 3)
	c.Assert(node.sent, qt.HasLen, 0) // nothing to fund
}
