package loadgen

import (
	"context"
	"math/big"
	"testing"

	qt "github.com/frankban/quicktest"

	"github.com/moatlabs/surge/wallet"
	"github.com/moatlabs/surge/web3"
)

const testMnemonic = "test test test test test test test test test test test junk"

func TestRunnerSmallEOARun(t *testing.T) {
	c := qt.New(t)

	deriver, err := wallet.NewDeriver(testMnemonic)
	c.Assert(err, qt.IsNil)
	funder, err := deriver.Derive(0)
	c.Assert(err, qt.IsNil)

	node := newFakeNode()
	node.autoMine = true
	node.blocks[0] = &web3.Block{Number: 0, Timestamp: 1000, GasLimit: 30_000_000}
	node.balances[funder.Address] = new(big.Int).Lsh(big.NewInt(1), 70)

	runner := NewRunner(node, deriver, RunConfig{
		Mode:          ModeEOA,
		SubAccounts:   4,
		NumTx:         10,
		BatchSize:     3,
		Concurrency:   2,
		FixedGasPrice: true,
	})
	res, err := runner.Run(context.Background())
	c.Assert(err, qt.IsNil)
	c.Assert(res.Submitted, qt.Equals, 10)
	c.Assert(res.Found, qt.Equals, 10)

	bySender := node.sentBySender()
	// Four funding transfers from the funder.
	c.Assert(bySender[funder.Address], qt.HasLen, 4)

	// 10 transactions round-robined over 4 senders: 3,3,2,2 with contiguous
	// nonces from zero.
	var loads []int
	for addr, txs := range bySender {
		if addr == funder.Address {
			continue
		}
		loads = append(loads, len(txs))
		for i, tx := range txs {
			c.Assert(tx.Nonce(), qt.Equals, uint64(i))
			c.Assert(tx.GasPrice().Cmp(fixedGasPriceWei), qt.Equals, 0)
		}
	}
	c.Assert(loads, qt.HasLen, 4)
	total, threes := 0, 0
	for _, n := range loads {
		total += n
		if n == 3 {
			threes++
		}
	}
	c.Assert(total, qt.Equals, 10)
	c.Assert(threes, qt.Equals, 2)
}

func TestRunnerNoHeadBlock(t *testing.T) {
	c := qt.New(t)

	deriver, err := wallet.NewDeriver(testMnemonic)
	c.Assert(err, qt.IsNil)
	funder, err := deriver.Derive(0)
	c.Assert(err, qt.IsNil)

	// A node with no blocks at all: the pre-submission head read must fail
	// with a clear message, not a wrapped nil.
	node := newFakeNode()
	node.balances[funder.Address] = new(big.Int).Lsh(big.NewInt(1), 70)

	runner := NewRunner(node, deriver, RunConfig{
		Mode:          ModeEOA,
		SubAccounts:   2,
		NumTx:         4,
		BatchSize:     2,
		Concurrency:   2,
		FixedGasPrice: true,
	})
	_, err = runner.Run(context.Background())
	c.Assert(err, qt.ErrorMatches, ".*no latest block.*")
}

func TestRunnerPendingCountMode(t *testing.T) {
	c := qt.New(t)

	node := newFakeNode()
	node.pending = 42
	runner := NewRunner(node, nil, RunConfig{Mode: ModePendingCount})
	res, err := runner.Run(context.Background())
	c.Assert(err, qt.IsNil)
	c.Assert(res, qt.IsNil)
}

func TestRunnerClearPendingRangeValidation(t *testing.T) {
	c := qt.New(t)

	deriver, err := wallet.NewDeriver(testMnemonic)
	c.Assert(err, qt.IsNil)
	runner := NewRunner(newFakeNode(), deriver, RunConfig{
		Mode:       ModeClearPending,
		StartIndex: 5,
		EndIndex:   5,
	})
	_, err = runner.Run(context.Background())
	c.Assert(err, qt.ErrorMatches, ".*empty index range.*")
}
