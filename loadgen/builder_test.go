package loadgen

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	qt "github.com/frankban/quicktest"

	"github.com/moatlabs/surge/wallet"
)

// testAccounts makes n accounts with throwaway keys and seeds the book at
// the given starting nonce for each.
func testAccounts(t *testing.T, book *wallet.NonceBook, n int, startNonce uint64) []*wallet.Account {
	t.Helper()
	accounts := make([]*wallet.Account, n)
	for i := range accounts {
		key, err := crypto.GenerateKey()
		if err != nil {
			t.Fatalf("generate key: %v", err)
		}
		accounts[i] = &wallet.Account{
			Index:   uint32(i + 1),
			Address: crypto.PubkeyToAddress(key.PublicKey),
			PrivKey: key,
		}
		book.Initialize(accounts[i].Address, startNonce)
	}
	return accounts
}

func eoaBuilder(book *wallet.NonceBook) *Builder {
	b := NewBuilder(book)
	b.Mode = ModeEOA
	b.ChainID = big.NewInt(1337)
	b.GasPrice = big.NewInt(1_000_000_000)
	b.GasLimit = baseTransferGas
	b.Value = big.NewInt(1)
	return b
}

func TestBuildSingleSenderNonces(t *testing.T) {
	c := qt.New(t)

	book := wallet.NewNonceBook()
	accounts := testAccounts(t, book, 1, 7)
	res, err := eoaBuilder(book).Build(accounts, 5)
	c.Assert(err, qt.IsNil)
	c.Assert(res.Queues, qt.HasLen, 1)
	c.Assert(res.Queues[0], qt.HasLen, 5)

	for i, spec := range res.Queues[0] {
		c.Assert(spec.Nonce, qt.Equals, uint64(7+i))
	}
	c.Assert(AuditNonces(res.Queues), qt.Equals, 0)
}

func TestBuildRoundRobinPairing(t *testing.T) {
	c := qt.New(t)

	book := wallet.NewNonceBook()
	accounts := testAccounts(t, book, 4, 0)
	res, err := eoaBuilder(book).Build(accounts, 10)
	c.Assert(err, qt.IsNil)
	c.Assert(res.Specs, qt.HasLen, 10)

	// 10 txs over 4 senders: the first two senders carry one extra.
	c.Assert(res.Queues[0], qt.HasLen, 3)
	c.Assert(res.Queues[1], qt.HasLen, 3)
	c.Assert(res.Queues[2], qt.HasLen, 2)
	c.Assert(res.Queues[3], qt.HasLen, 2)

	for i, spec := range res.Specs {
		c.Assert(spec.GlobalIndex, qt.Equals, i)
		c.Assert(spec.From, qt.Equals, accounts[i%4].Address)
		c.Assert(*spec.To, qt.Equals, accounts[(i+1)%4].Address)
	}

	// Each queue is a contiguous ascending nonce run from its seed.
	for _, queue := range res.Queues {
		for i, spec := range queue {
			c.Assert(spec.Nonce, qt.Equals, uint64(i))
		}
	}
	c.Assert(AuditNonces(res.Queues), qt.Equals, 0)
}

func TestBuildWithdrawalValues(t *testing.T) {
	c := qt.New(t)

	book := wallet.NewNonceBook()
	accounts := testAccounts(t, book, 2, 0)

	b := NewBuilder(book)
	b.Mode = ModeWithdrawal
	b.ChainID = big.NewInt(1337)
	b.GasPrice = big.NewInt(1_000_000_000)
	b.GasLimit = 100_000
	b.Moat = accounts[0].Address
	b.Target = [20]byte{0xaa}
	b.MinValue = big.NewInt(5_000)
	b.UIDBase = 100

	res, err := b.Build(accounts, 4)
	c.Assert(err, qt.IsNil)
	for i, spec := range res.Specs {
		c.Assert(*spec.To, qt.Equals, b.Moat)
		// value = minValue + (uidBase+i)*divisor, unique per tx.
		want := new(big.Int).Mul(big.NewInt(int64(100+i)), big.NewInt(1e10))
		want.Add(want, b.MinValue)
		c.Assert(spec.Value.Cmp(want), qt.Equals, 0)
	}
}

func TestAuditNoncesDetectsCollisions(t *testing.T) {
	c := qt.New(t)

	book := wallet.NewNonceBook()
	accounts := testAccounts(t, book, 1, 0)
	res, err := eoaBuilder(book).Build(accounts, 3)
	c.Assert(err, qt.IsNil)

	// Force a duplicate assignment.
	res.Queues[0][2].Nonce = res.Queues[0][0].Nonce
	c.Assert(AuditNonces(res.Queues), qt.Equals, 1)
}
