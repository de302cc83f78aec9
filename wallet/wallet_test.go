package wallet

import (
	"testing"

	qt "github.com/frankban/quicktest"
	"github.com/ethereum/go-ethereum/common"
)

// Standard test vector mnemonic.
const testMnemonic = "test test test test test test test test test test test junk"

func TestDeriveDeterministic(t *testing.T) {
	c := qt.New(t)

	d, err := NewDeriver(testMnemonic)
	c.Assert(err, qt.IsNil)

	// The "test ... junk" mnemonic has well-known addresses (used by most
	// EVM dev tooling); index 0 is the funder.
	funder, err := d.Derive(0)
	c.Assert(err, qt.IsNil)
	c.Assert(funder.Address, qt.Equals, common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"))

	second, err := d.Derive(1)
	c.Assert(err, qt.IsNil)
	c.Assert(second.Address, qt.Equals, common.HexToAddress("0x70997970C51812dc3A010C7d01b50e0d17dc79C8"))

	// Same index derives the same account.
	again, err := d.Derive(1)
	c.Assert(err, qt.IsNil)
	c.Assert(again.Address, qt.Equals, second.Address)
}

func TestDeriveRange(t *testing.T) {
	c := qt.New(t)

	d, err := NewDeriver(testMnemonic)
	c.Assert(err, qt.IsNil)

	accs, err := d.DeriveRange(1, 4)
	c.Assert(err, qt.IsNil)
	c.Assert(accs, qt.HasLen, 4)
	seen := map[common.Address]bool{}
	for i, a := range accs {
		c.Assert(a.Index, qt.Equals, uint32(i+1))
		c.Assert(seen[a.Address], qt.IsFalse)
		seen[a.Address] = true
	}
}

func TestInvalidMnemonic(t *testing.T) {
	c := qt.New(t)

	_, err := NewDeriver("definitely not a valid mnemonic")
	c.Assert(err, qt.IsNotNil)
}

func TestNonceBookReserve(t *testing.T) {
	c := qt.New(t)

	nb := NewNonceBook()
	addr := common.HexToAddress("0x01")

	_, err := nb.Reserve(addr, 1)
	c.Assert(err, qt.IsNotNil) // not initialized

	nb.Initialize(addr, 7)
	block, err := nb.Reserve(addr, 5)
	c.Assert(err, qt.IsNil)
	c.Assert(block, qt.DeepEquals, []uint64{7, 8, 9, 10, 11})

	next, ok := nb.Next(addr)
	c.Assert(ok, qt.IsTrue)
	c.Assert(next, qt.Equals, uint64(12))

	// Subsequent reservation continues the run.
	block, err = nb.Reserve(addr, 2)
	c.Assert(err, qt.IsNil)
	c.Assert(block, qt.DeepEquals, []uint64{12, 13})
}
