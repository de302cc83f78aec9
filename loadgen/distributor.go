package loadgen

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"sync"

	gtypes "github.com/ethereum/go-ethereum/core/types"
	"golang.org/x/sync/errgroup"

	"github.com/moatlabs/surge/log"
	"github.com/moatlabs/surge/wallet"
	"github.com/moatlabs/surge/web3"
)

// baseTransferGas is the intrinsic gas of a plain value transfer.
const baseTransferGas = 21000

// ErrNotEnoughFunds aborts the run when the funder cannot cover even one
// sub-account top-up.
var ErrNotEnoughFunds = errors.New("funder cannot cover any sub-account top-up")

// Distributor tops sub-accounts up with native currency so each can pay for
// its share of the planned transactions.
type Distributor struct {
	node        Node
	book        *wallet.NonceBook
	chainID     *big.Int
	gasPrice    *big.Int
	concurrency int
}

// NewDistributor wires a distributor; gasPrice is the price every funding
// transfer uses.
func NewDistributor(node Node, book *wallet.NonceBook, chainID, gasPrice *big.Int, concurrency int) *Distributor {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Distributor{
		node:        node,
		book:        book,
		chainID:     chainID,
		gasPrice:    gasPrice,
		concurrency: concurrency,
	}
}

// candidate is a sub-account short of funds, keyed by how much it misses.
type candidate struct {
	acc     *wallet.Account
	missing *big.Int
}

type candidateHeap []*candidate

func (h candidateHeap) Len() int            { return len(h) }
func (h candidateHeap) Less(i, j int) bool  { return h[i].missing.Cmp(h[j].missing) < 0 }
func (h candidateHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *candidateHeap) Push(x any)         { *h = append(*h, x.(*candidate)) }
func (h *candidateHeap) Pop() any {
	old := *h
	n := len(old)
	c := old[n-1]
	*h = old[:n-1]
	return c
}

// Run makes as many sub-accounts ready as the funder can afford. Each ready
// account holds at least required = txPerAccount * (gasPrice*baseGas + txValue).
// The returned set is sorted by derivation index.
func (d *Distributor) Run(ctx context.Context, funder *wallet.Account, subs []*wallet.Account, txPerAccount int, txValue *big.Int) ([]*wallet.Account, error) {
	perTx := new(big.Int).Mul(d.gasPrice, big.NewInt(baseTransferGas))
	perTx.Add(perTx, txValue)
	required := new(big.Int).Mul(perTx, big.NewInt(int64(txPerAccount)))
	log.Infow("distributing funds",
		"sub_accounts", len(subs),
		"required_per_account", required.String(),
		"concurrency", d.concurrency)

	ready, candidates := d.scanBalances(ctx, subs, required)

	fundable, err := d.selectFundable(ctx, funder, candidates, required)
	if err != nil {
		return nil, err
	}
	if len(fundable) > 0 {
		funded := d.fund(ctx, funder, fundable, required)
		ready = append(ready, funded...)
	}

	sort.Slice(ready, func(i, j int) bool { return ready[i].Index < ready[j].Index })
	log.Infow("distribution done", "ready", len(ready), "of", len(subs))
	return ready, nil
}

// scanBalances queries every sub-account balance with bounded concurrency.
// A timeout marks the account assumed ready so one slow node answer cannot
// stall the run; other errors skip the account.
func (d *Distributor) scanBalances(ctx context.Context, subs []*wallet.Account, required *big.Int) (ready []*wallet.Account, short []*candidate) {
	type result struct {
		acc     *wallet.Account
		balance *big.Int
		err     error
	}
	results := make([]result, len(subs))

	g := &errgroup.Group{}
	g.SetLimit(d.concurrency)
	for i, acc := range subs {
		g.Go(func() error {
			balance, err := d.node.GetBalance(ctx, acc.Address)
			results[i] = result{acc: acc, balance: balance, err: err}
			return nil
		})
	}
	g.Wait() //nolint:errcheck // workers never return errors

	for _, r := range results {
		switch {
		case r.err == nil && r.balance.Cmp(required) >= 0:
			ready = append(ready, r.acc)
		case r.err == nil:
			short = append(short, &candidate{
				acc:     r.acc,
				missing: new(big.Int).Sub(required, r.balance),
			})
		case web3.Classify(r.err) == web3.ErrKindTimeout:
			log.Warnw("balance query timed out, assuming ready", "index", r.acc.Index)
			ready = append(ready, r.acc)
		default:
			log.Warnw("balance query failed, skipping account", "index", r.acc.Index, "error", r.err)
		}
	}
	return ready, short
}

// selectFundable pops the cheapest candidates while the funder balance
// covers them.
func (d *Distributor) selectFundable(ctx context.Context, funder *wallet.Account, candidates []*candidate, required *big.Int) ([]*candidate, error) {
	if len(candidates) == 0 {
		return nil, nil
	}
	balance, err := d.node.GetBalance(ctx, funder.Address)
	if err != nil {
		return nil, fmt.Errorf("funder balance: %w", err)
	}
	fee := new(big.Int).Mul(d.gasPrice, big.NewInt(baseTransferGas))

	h := candidateHeap(candidates)
	heap.Init(&h)
	var fundable []*candidate
	remaining := new(big.Int).Set(balance)
	for h.Len() > 0 && remaining.Cmp(required) > 0 {
		c := heap.Pop(&h).(*candidate)
		cost := new(big.Int).Add(c.missing, fee)
		if remaining.Cmp(cost) <= 0 {
			break
		}
		remaining.Sub(remaining, cost)
		fundable = append(fundable, c)
	}
	if len(fundable) == 0 {
		return nil, fmt.Errorf("%w: balance %s, cheapest top-up %s",
			ErrNotEnoughFunds, balance.String(), candidates[0].missing.String())
	}
	return fundable, nil
}

// fund sends one top-up transfer per fundable account in waves. Nonces are
// reserved locally up front so wave w uses the contiguous block
// [base + w*concurrency, ...). Partial failures drop accounts, not the run.
func (d *Distributor) fund(ctx context.Context, funder *wallet.Account, fundable []*candidate, required *big.Int) []*wallet.Account {
	nonces, err := d.book.Reserve(funder.Address, len(fundable))
	if err != nil {
		log.Errorw(err, "reserve funder nonces")
		return nil
	}

	var mu sync.Mutex
	var funded []*wallet.Account
	g := &errgroup.Group{}
	g.SetLimit(d.concurrency)
	for i, c := range fundable {
		g.Go(func() error {
			if err := d.transfer(ctx, funder, c, nonces[i]); err != nil {
				log.Warnw("funding transfer failed, dropping account",
					"index", c.acc.Index, "nonce", nonces[i], "error", err)
				return nil
			}
			mu.Lock()
			funded = append(funded, c.acc)
			mu.Unlock()
			return nil
		})
	}
	g.Wait() //nolint:errcheck // failures are dropped per account
	return funded
}

// transfer sends one funding transaction and waits for its confirmation.
func (d *Distributor) transfer(ctx context.Context, funder *wallet.Account, c *candidate, nonce uint64) error {
	to := c.acc.Address
	raw, hash, err := signLegacy(funder.PrivKey, d.chainID, &gtypes.LegacyTx{
		Nonce:    nonce,
		GasPrice: d.gasPrice,
		Gas:      baseTransferGas,
		To:       &to,
		Value:    c.missing,
	})
	if err != nil {
		return err
	}
	if _, err := d.node.SendRaw(ctx, raw); err != nil {
		return err
	}
	if _, err := d.node.WaitMined(ctx, hash); err != nil {
		return err
	}
	log.Debugw("funded sub-account", "index", c.acc.Index, "amount", c.missing.String())
	return nil
}
