package loadgen

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"

	"github.com/moatlabs/surge/contracts"
	"github.com/moatlabs/surge/log"
	"github.com/moatlabs/surge/wallet"
)

// fixedGasPriceWei is the forced price under --fixed-gas-price: 1 gwei.
var fixedGasPriceWei = big.NewInt(1_000_000_000)

// defaultTxValue is the per-transaction amount moved in EOA mode.
var defaultTxValue = big.NewInt(1_000_000_000) // 1 gwei

// RunConfig is the resolved configuration of one run.
type RunConfig struct {
	Mode          Mode
	SubAccounts   int
	NumTx         int
	BatchSize     int
	Concurrency   int
	FixedGasPrice bool

	// TxValue is the EOA transfer amount; nil selects the default.
	TxValue *big.Int

	// ERC20Artifact / ERC721Artifact carry externally loaded bytecode for
	// the token modes.
	ERC20Artifact  *contracts.Artifact
	ERC721Artifact *contracts.Artifact
	// TokenSupply is the ERC-20 constructor argument.
	TokenSupply *big.Int

	// Withdrawal mode.
	Moat     common.Address
	Target   [20]byte
	MinValue *big.Int
	UIDBase  uint64

	// Clear-pending address range [StartIndex, EndIndex).
	StartIndex int
	EndIndex   int

	// Output is the results JSON path ("" disables the dump).
	Output string
}

// Runner sequences one run: distribution, optional token setup, building,
// signing, submission and statistics collection.
type Runner struct {
	node    Node
	deriver *wallet.Deriver
	book    *wallet.NonceBook
	cfg     RunConfig
}

// NewRunner wires a runner.
func NewRunner(node Node, deriver *wallet.Deriver, cfg RunConfig) *Runner {
	if cfg.MinValue == nil {
		cfg.MinValue = big.NewInt(0)
	}
	return &Runner{
		node:    node,
		deriver: deriver,
		book:    wallet.NewNonceBook(),
		cfg:     cfg,
	}
}

// Run executes the configured mode and returns the statistics summary for
// transfer modes (nil for the utility modes).
func (r *Runner) Run(ctx context.Context) (*Results, error) {
	switch r.cfg.Mode {
	case ModeEOA, ModeERC20, ModeERC721, ModeWithdrawal:
		return r.runTransfers(ctx)
	case ModeClearPending:
		return nil, r.runClearPending(ctx)
	case ModePendingCount:
		return nil, r.runPendingCount(ctx)
	default:
		return nil, fmt.Errorf("unknown mode %q", r.cfg.Mode)
	}
}

func (r *Runner) runTransfers(ctx context.Context) (*Results, error) {
	chainID, err := r.node.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("chain id: %w", err)
	}
	gasPrice, err := r.gasPrice(ctx)
	if err != nil {
		return nil, err
	}
	txValue := r.cfg.TxValue
	if txValue == nil {
		txValue = defaultTxValue
	}

	funder, err := r.deriver.Derive(0)
	if err != nil {
		return nil, err
	}
	subs, err := r.deriver.DeriveRange(1, uint32(r.cfg.SubAccounts))
	if err != nil {
		return nil, err
	}
	if err := r.seedNonce(ctx, funder); err != nil {
		return nil, err
	}
	log.Infow("run starting",
		"mode", string(r.cfg.Mode),
		"funder", funder.Address.Hex(),
		"sub_accounts", len(subs),
		"transactions", r.cfg.NumTx,
		"gas_price", gasPrice.String())

	dist := NewDistributor(r.node, r.book, chainID, gasPrice, r.cfg.Concurrency)
	txPerAccount := (r.cfg.NumTx + len(subs) - 1) / len(subs)
	ready, err := dist.Run(ctx, funder, subs, txPerAccount, r.perTxBudget(txValue))
	if err != nil {
		return nil, err
	}
	if len(ready) == 0 {
		return nil, fmt.Errorf("no sub-account became ready")
	}

	builder := NewBuilder(r.book)
	builder.Mode = r.cfg.Mode
	builder.ChainID = chainID
	builder.GasPrice = gasPrice
	builder.Value = txValue
	builder.Moat = r.cfg.Moat
	builder.Target = r.cfg.Target
	builder.MinValue = r.cfg.MinValue
	builder.UIDBase = r.cfg.UIDBase

	if err := r.setupTokens(ctx, funder, ready, chainID, gasPrice, builder); err != nil {
		return nil, err
	}
	if err := r.seedReadyNonces(ctx, ready); err != nil {
		return nil, err
	}
	if builder.GasLimit, err = r.estimateMode(ctx, ready, builder); err != nil {
		return nil, err
	}

	// The scan starts at the head observed before any load is submitted.
	head, err := r.node.GetBlock(ctx, "latest")
	if err != nil {
		return nil, fmt.Errorf("read head before submission: %w", err)
	}
	if head == nil {
		return nil, fmt.Errorf("read head before submission: no latest block")
	}
	startHeight := uint64(head.Number)

	built, err := builder.Build(ready, r.cfg.NumTx)
	if err != nil {
		return nil, err
	}
	keys := make(map[common.Address]*ecdsa.PrivateKey, len(ready))
	for _, acc := range ready {
		keys[acc.Address] = acc.PrivKey
	}
	// Signing is CPU-bound; size the pool by core count, not by the I/O
	// concurrency cap.
	signed, err := NewSigner(keys, 0).Sign(ctx, built.Specs)
	if err != nil {
		return nil, err
	}
	queues := regroup(signed, len(ready))

	report, err := NewSubmitter(r.node, r.cfg.BatchSize, r.cfg.Concurrency).Submit(ctx, queues)
	if err != nil {
		return nil, err
	}

	collector, err := NewStatCollector(r.node)
	if err != nil {
		return nil, err
	}
	results, err := collector.Collect(ctx, report.Hashes, startHeight)
	if err != nil {
		return nil, err
	}
	log.Infow("run finished",
		"run_id", results.RunID,
		"submitted", results.Submitted,
		"found", results.Found,
		"tps", results.TPS)
	if r.cfg.Output != "" {
		if err := results.WriteJSON(r.cfg.Output); err != nil {
			return results, err
		}
		log.Infow("results written", "path", r.cfg.Output)
	}
	return results, nil
}

// perTxBudget is the native amount a sub-account spends per transaction on
// top of gas: the moved value in EOA mode, the encoded withdrawal value in
// withdrawal mode, zero for token calls.
func (r *Runner) perTxBudget(txValue *big.Int) *big.Int {
	switch r.cfg.Mode {
	case ModeEOA:
		return txValue
	case ModeWithdrawal:
		// Upper bound over the run: the last uid carries the largest value.
		return contracts.WithdrawValue(r.cfg.MinValue, r.cfg.UIDBase+uint64(r.cfg.NumTx))
	default:
		return big.NewInt(0)
	}
}

func (r *Runner) setupTokens(ctx context.Context, funder *wallet.Account, ready []*wallet.Account, chainID, gasPrice *big.Int, builder *Builder) error {
	switch r.cfg.Mode {
	case ModeERC20:
		if r.cfg.ERC20Artifact == nil {
			return fmt.Errorf("ERC20 mode requires a loaded token artifact")
		}
		runtime := NewTokenRuntime(r.node, r.book, chainID, gasPrice, r.cfg.Concurrency)
		if err := runtime.Deploy(ctx, funder, r.cfg.ERC20Artifact, r.cfg.TokenSupply); err != nil {
			return err
		}
		if err := runtime.Fund(ctx, funder, ready, r.cfg.NumTx, big.NewInt(1)); err != nil {
			return err
		}
		builder.Token = runtime.Token
	case ModeERC721:
		if r.cfg.ERC721Artifact == nil {
			return fmt.Errorf("ERC721 mode requires a loaded token artifact")
		}
		runtime := NewTokenRuntime(r.node, r.book, chainID, gasPrice, r.cfg.Concurrency)
		if err := runtime.Deploy(ctx, funder, r.cfg.ERC721Artifact); err != nil {
			return err
		}
		builder.Token = runtime.Token
	}
	return nil
}

// seedNonce initializes the nonce book for one account from the node.
func (r *Runner) seedNonce(ctx context.Context, acc *wallet.Account) error {
	nonce, err := r.node.GetTxCount(ctx, acc.Address, "latest")
	if err != nil {
		return fmt.Errorf("seed nonce for %s: %w", acc.Address.Hex(), err)
	}
	acc.NextNonce = nonce
	r.book.Initialize(acc.Address, nonce)
	return nil
}

// seedReadyNonces initializes every ready account in waves.
func (r *Runner) seedReadyNonces(ctx context.Context, ready []*wallet.Account) error {
	g := &errgroup.Group{}
	g.SetLimit(max(r.cfg.Concurrency, 1))
	for _, acc := range ready {
		g.Go(func() error {
			return r.seedNonce(ctx, acc)
		})
	}
	return g.Wait()
}

// estimateMode estimates the gas limit once for a representative
// transaction of the configured mode.
func (r *Runner) estimateMode(ctx context.Context, ready []*wallet.Account, builder *Builder) (uint64, error) {
	sender := ready[0].Address
	receiver := ready[len(ready)-1].Address
	msg := ethereum.CallMsg{From: sender, GasPrice: builder.GasPrice}

	switch r.cfg.Mode {
	case ModeEOA:
		msg.To = &receiver
		msg.Value = builder.Value
	case ModeERC20:
		data, err := contracts.EncodeERC20Transfer(receiver, big.NewInt(1))
		if err != nil {
			return 0, err
		}
		msg.To = &builder.Token
		msg.Data = data
	case ModeERC721:
		data, err := contracts.EncodeERC721Mint(receiver)
		if err != nil {
			return 0, err
		}
		msg.To = &builder.Token
		msg.Data = data
	case ModeWithdrawal:
		data, err := contracts.EncodeWithdrawToL1(builder.Target)
		if err != nil {
			return 0, err
		}
		msg.To = &builder.Moat
		msg.Data = data
		msg.Value = contracts.WithdrawValue(builder.MinValue, builder.UIDBase)
	}

	gas, err := r.node.EstimateGas(ctx, msg)
	if err != nil {
		if r.cfg.Mode == ModeEOA {
			log.Warnw("gas estimate failed, using intrinsic transfer gas", "error", err)
			return baseTransferGas, nil
		}
		return 0, fmt.Errorf("estimate gas for mode %s: %w", r.cfg.Mode, err)
	}
	return gas, nil
}

// regroup rebuilds per-sender queues from the globally sorted signed list.
// Build order within a sender equals nonce order, so each queue stays
// ascending.
func regroup(signed []*SignedTx, senders int) [][]*SignedTx {
	queues := make([][]*SignedTx, senders)
	for _, tx := range signed {
		queues[tx.SenderIndex] = append(queues[tx.SenderIndex], tx)
	}
	return queues
}

// runClearPending replaces stuck transactions for the configured index
// range.
func (r *Runner) runClearPending(ctx context.Context) error {
	if r.cfg.EndIndex <= r.cfg.StartIndex {
		return fmt.Errorf("clear-pending: empty index range [%d, %d)", r.cfg.StartIndex, r.cfg.EndIndex)
	}
	chainID, err := r.node.ChainID(ctx)
	if err != nil {
		return fmt.Errorf("chain id: %w", err)
	}
	gasPrice, err := r.gasPrice(ctx)
	if err != nil {
		return err
	}
	accounts, err := r.deriver.DeriveRange(uint32(r.cfg.StartIndex), uint32(r.cfg.EndIndex-r.cfg.StartIndex))
	if err != nil {
		return err
	}
	_, err = NewClearPending(r.node, chainID, gasPrice, r.cfg.Concurrency).Run(ctx, accounts)
	return err
}

// runPendingCount reports the node's pending transaction count.
func (r *Runner) runPendingCount(ctx context.Context) error {
	count, err := r.node.PendingTxCount(ctx)
	if err != nil {
		return err
	}
	log.Infow("pending transactions", "count", count)

	// Per-sender breakdown when the node exposes the full pool.
	if content, err := r.node.TxpoolContent(ctx); err == nil {
		log.Infow("txpool senders",
			"pending", len(content.Pending),
			"queued", len(content.Queued))
	} else {
		log.Debugw("txpool_content unavailable", "error", err)
	}
	return nil
}

func (r *Runner) gasPrice(ctx context.Context) (*big.Int, error) {
	if r.cfg.FixedGasPrice {
		return fixedGasPriceWei, nil
	}
	price, err := r.node.GetGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("gas price: %w", err)
	}
	return price, nil
}
