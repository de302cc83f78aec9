package loadgen

import (
	"context"
	"math/big"
	"sync/atomic"

	gtypes "github.com/ethereum/go-ethereum/core/types"
	"golang.org/x/sync/errgroup"

	"github.com/moatlabs/surge/log"
	"github.com/moatlabs/surge/wallet"
)

// ClearPending replaces stuck transactions: for every account whose pending
// count exceeds its latest count, it emits one self-transfer per stuck
// nonce at an elevated gas price.
type ClearPending struct {
	node        Node
	chainID     *big.Int
	gasPrice    *big.Int
	concurrency int
}

// gasPriceElevation multiplies the base price so replacements outbid the
// stuck originals.
var gasPriceElevation = big.NewInt(2)

// NewClearPending wires the utility; gasPrice is the base price before
// elevation.
func NewClearPending(node Node, chainID, gasPrice *big.Int, concurrency int) *ClearPending {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &ClearPending{
		node:        node,
		chainID:     chainID,
		gasPrice:    gasPrice,
		concurrency: concurrency,
	}
}

// Run scans the accounts in waves and returns how many replacement
// transactions were emitted. Per-account and per-transaction errors are
// logged and do not abort the scan.
func (cp *ClearPending) Run(ctx context.Context, accounts []*wallet.Account) (int, error) {
	elevated := new(big.Int).Mul(cp.gasPrice, gasPriceElevation)
	var emitted atomic.Int64

	g := &errgroup.Group{}
	g.SetLimit(cp.concurrency)
	for _, acc := range accounts {
		g.Go(func() error {
			n, err := cp.clearAccount(ctx, acc, elevated)
			if err != nil {
				log.Warnw("clear-pending scan failed for account", "index", acc.Index, "error", err)
				return nil
			}
			emitted.Add(int64(n))
			return nil
		})
	}
	g.Wait() //nolint:errcheck // per-account errors already logged
	if ctx.Err() != nil {
		return int(emitted.Load()), ctx.Err()
	}
	log.Infow("clear-pending done", "accounts", len(accounts), "replacements", emitted.Load())
	return int(emitted.Load()), nil
}

// clearAccount emits one self-transfer per nonce in [latest, pending).
func (cp *ClearPending) clearAccount(ctx context.Context, acc *wallet.Account, gasPrice *big.Int) (int, error) {
	pending, err := cp.node.GetTxCount(ctx, acc.Address, "pending")
	if err != nil {
		return 0, err
	}
	latest, err := cp.node.GetTxCount(ctx, acc.Address, "latest")
	if err != nil {
		return 0, err
	}
	if pending <= latest {
		return 0, nil
	}
	log.Infow("clearing stuck nonces",
		"index", acc.Index,
		"latest", latest,
		"pending", pending)

	emitted := 0
	for nonce := latest; nonce < pending; nonce++ {
		to := acc.Address
		raw, _, err := signLegacy(acc.PrivKey, cp.chainID, &gtypes.LegacyTx{
			Nonce:    nonce,
			GasPrice: gasPrice,
			Gas:      baseTransferGas,
			To:       &to,
			Value:    big.NewInt(0),
		})
		if err != nil {
			log.Warnw("replacement signing failed", "index", acc.Index, "nonce", nonce, "error", err)
			continue
		}
		if _, err := cp.node.SendRaw(ctx, raw); err != nil {
			log.Warnw("replacement send failed", "index", acc.Index, "nonce", nonce, "error", err)
			continue
		}
		emitted++
	}
	return emitted, nil
}
