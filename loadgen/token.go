package loadgen

import (
	"context"
	"fmt"
	"math/big"
	"sync/atomic"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	gtypes "github.com/ethereum/go-ethereum/core/types"
	"golang.org/x/sync/errgroup"

	"github.com/moatlabs/surge/contracts"
	"github.com/moatlabs/surge/log"
	"github.com/moatlabs/surge/wallet"
)

// TokenRuntime deploys a fresh ERC-20 from the funder and tops ready
// sub-accounts up from the minted supply. Because the token is freshly
// deployed no balance scan is needed: every sub-account starts at zero.
type TokenRuntime struct {
	node        Node
	book        *wallet.NonceBook
	chainID     *big.Int
	gasPrice    *big.Int
	concurrency int

	// Token is set after a successful Deploy.
	Token common.Address
}

// NewTokenRuntime wires a token runtime.
func NewTokenRuntime(node Node, book *wallet.NonceBook, chainID, gasPrice *big.Int, concurrency int) *TokenRuntime {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &TokenRuntime{
		node:        node,
		book:        book,
		chainID:     chainID,
		gasPrice:    gasPrice,
		concurrency: concurrency,
	}
}

// Deploy creates the contract from the funder and waits for it to land.
// The contract address is derived from (funder, nonce).
func (t *TokenRuntime) Deploy(ctx context.Context, funder *wallet.Account, artifact *contracts.Artifact, ctorArgs ...any) error {
	data, err := artifact.DeployData(ctorArgs...)
	if err != nil {
		return err
	}
	gas, err := t.node.EstimateGas(ctx, ethereum.CallMsg{
		From:     funder.Address,
		GasPrice: t.gasPrice,
		Data:     data,
	})
	if err != nil {
		return fmt.Errorf("estimate deployment gas: %w", err)
	}
	nonces, err := t.book.Reserve(funder.Address, 1)
	if err != nil {
		return err
	}
	raw, hash, err := signLegacy(funder.PrivKey, t.chainID, &gtypes.LegacyTx{
		Nonce:    nonces[0],
		GasPrice: t.gasPrice,
		Gas:      gas,
		Value:    big.NewInt(0),
		Data:     data,
	})
	if err != nil {
		return err
	}
	if _, err := t.node.SendRaw(ctx, raw); err != nil {
		return fmt.Errorf("send deployment: %w", err)
	}
	receipt, err := t.node.WaitMined(ctx, hash)
	if err != nil {
		return fmt.Errorf("wait for deployment: %w", err)
	}
	if receipt.Status != gtypes.ReceiptStatusSuccessful {
		return fmt.Errorf("deployment reverted in block %d", receipt.BlockNumber)
	}
	t.Token = contracts.ContractAddress(funder.Address, nonces[0])
	log.Infow("contract deployed", "address", t.Token.Hex(), "block", receipt.BlockNumber)
	return nil
}

// Fund transfers cToken = transferValue * ceil(numTx/|ready|) tokens from
// the funder to each ready account, in waves. Per-account failures are
// logged and reduce the fleet, not the run.
func (t *TokenRuntime) Fund(ctx context.Context, funder *wallet.Account, ready []*wallet.Account, numTx int, transferValue *big.Int) error {
	if t.Token == (common.Address{}) {
		return fmt.Errorf("token not deployed")
	}
	if len(ready) == 0 {
		return fmt.Errorf("no ready accounts to fund")
	}
	perAccount := (numTx + len(ready) - 1) / len(ready)
	cToken := new(big.Int).Mul(transferValue, big.NewInt(int64(perAccount)))

	// One estimate covers all transfers; calldata shape is identical.
	probe, err := contracts.EncodeERC20Transfer(ready[0].Address, cToken)
	if err != nil {
		return err
	}
	gas, err := t.node.EstimateGas(ctx, ethereum.CallMsg{
		From:     funder.Address,
		To:       &t.Token,
		GasPrice: t.gasPrice,
		Data:     probe,
	})
	if err != nil {
		return fmt.Errorf("estimate token transfer gas: %w", err)
	}
	nonces, err := t.book.Reserve(funder.Address, len(ready))
	if err != nil {
		return err
	}

	var failed atomic.Int64
	g := &errgroup.Group{}
	g.SetLimit(t.concurrency)
	for i, acc := range ready {
		g.Go(func() error {
			if err := t.tokenTransfer(ctx, funder, acc.Address, cToken, gas, nonces[i]); err != nil {
				failed.Add(1)
				log.Warnw("token top-up failed", "index", acc.Index, "error", err)
			}
			return nil
		})
	}
	g.Wait() //nolint:errcheck // failures counted above
	log.Infow("token distribution done",
		"token", t.Token.Hex(),
		"funded", len(ready)-int(failed.Load()),
		"amount_each", cToken.String())
	return nil
}

func (t *TokenRuntime) tokenTransfer(ctx context.Context, funder *wallet.Account, to common.Address, amount *big.Int, gas, nonce uint64) error {
	data, err := contracts.EncodeERC20Transfer(to, amount)
	if err != nil {
		return err
	}
	raw, hash, err := signLegacy(funder.PrivKey, t.chainID, &gtypes.LegacyTx{
		Nonce:    nonce,
		GasPrice: t.gasPrice,
		Gas:      gas,
		To:       &t.Token,
		Value:    big.NewInt(0),
		Data:     data,
	})
	if err != nil {
		return err
	}
	if _, err := t.node.SendRaw(ctx, raw); err != nil {
		return err
	}
	_, err = t.node.WaitMined(ctx, hash)
	return err
}
