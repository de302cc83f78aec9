// Package web3 wraps a single JSON-RPC endpoint with typed calls, batched
// requests and fixed per-category timeouts. Batched requests are one HTTP
// POST carrying a JSON array; responses correlate by id.
package web3

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	gtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	gethrpc "github.com/ethereum/go-ethereum/rpc"

	"github.com/moatlabs/surge/log"
)

// Per-category operation budgets. Every network operation has a timeout.
const (
	// ReadTimeout bounds read-only queries (balances, counts, blocks).
	ReadTimeout = 5 * time.Second
	// SendTimeout bounds eth_sendRawTransaction, single or batched.
	SendTimeout = 15 * time.Second
	// ConfirmTimeout bounds waiting for a transaction confirmation.
	ConfirmTimeout = 18 * time.Second
)

// BatchElem aliases the go-ethereum batch element so callers do not import
// the rpc package directly.
type BatchElem = gethrpc.BatchElem

// Client is a thin typed layer over a JSON-RPC connection.
type Client struct {
	rpc *gethrpc.Client
	eth *ethclient.Client
	url string
}

// Dial connects to the given HTTP(S) JSON-RPC endpoint.
func Dial(ctx context.Context, url string) (*Client, error) {
	rpcCli, err := gethrpc.DialContext(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("dial %q: %w", url, err)
	}
	return &Client{
		rpc: rpcCli,
		eth: ethclient.NewClient(rpcCli),
		url: url,
	}, nil
}

// Close releases the underlying connection.
func (c *Client) Close() {
	c.rpc.Close()
}

// URL returns the endpoint this client is connected to.
func (c *Client) URL() string { return c.url }

// EthClient exposes the underlying ethclient for operations with no typed
// wrapper here (receipts, chain id).
func (c *Client) EthClient() *ethclient.Client { return c.eth }

// Call performs a single JSON-RPC call with the read budget.
func (c *Client) Call(ctx context.Context, result any, method string, args ...any) error {
	internalCtx, cancel := context.WithTimeout(ctx, ReadTimeout)
	defer cancel()
	return c.rpc.CallContext(internalCtx, result, method, args...)
}

// BatchCall POSTs all elements as one JSON array with the send budget.
// A returned error means the whole HTTP round trip failed; per-element
// errors are left in each BatchElem for the caller to inspect.
func (c *Client) BatchCall(ctx context.Context, elems []BatchElem) error {
	internalCtx, cancel := context.WithTimeout(ctx, SendTimeout)
	defer cancel()
	return c.rpc.BatchCallContext(internalCtx, elems)
}

// ChainID fetches the chain id.
func (c *Client) ChainID(ctx context.Context) (*big.Int, error) {
	internalCtx, cancel := context.WithTimeout(ctx, ReadTimeout)
	defer cancel()
	return c.eth.ChainID(internalCtx)
}

// GetTxCount returns the transaction count of addr under the given tag
// ("latest" or "pending").
func (c *Client) GetTxCount(ctx context.Context, addr common.Address, tag string) (uint64, error) {
	var count hexutil.Uint64
	if err := c.Call(ctx, &count, "eth_getTransactionCount", addr, tag); err != nil {
		return 0, fmt.Errorf("eth_getTransactionCount %s %s: %w", addr.Hex(), tag, err)
	}
	return uint64(count), nil
}

// GetBalance returns the native balance of addr at "latest".
func (c *Client) GetBalance(ctx context.Context, addr common.Address) (*big.Int, error) {
	var bal hexutil.Big
	if err := c.Call(ctx, &bal, "eth_getBalance", addr, "latest"); err != nil {
		return nil, fmt.Errorf("eth_getBalance %s: %w", addr.Hex(), err)
	}
	return (*big.Int)(&bal), nil
}

// GetGasPrice returns the node's suggested gas price.
func (c *Client) GetGasPrice(ctx context.Context) (*big.Int, error) {
	var price hexutil.Big
	if err := c.Call(ctx, &price, "eth_gasPrice"); err != nil {
		return nil, fmt.Errorf("eth_gasPrice: %w", err)
	}
	return (*big.Int)(&price), nil
}

// EstimateGas estimates the gas for the given call.
func (c *Client) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	internalCtx, cancel := context.WithTimeout(ctx, ReadTimeout)
	defer cancel()
	gas, err := c.eth.EstimateGas(internalCtx, msg)
	if err != nil {
		return 0, fmt.Errorf("eth_estimateGas: %w", err)
	}
	return gas, nil
}

// GetBlock fetches a block (transaction hashes only) by tag: "latest",
// "pending" or a hex height. Returns nil without error when the block does
// not exist yet.
func (c *Client) GetBlock(ctx context.Context, tag string) (*Block, error) {
	var blk *Block
	if err := c.Call(ctx, &blk, "eth_getBlockByNumber", tag, false); err != nil {
		return nil, fmt.Errorf("eth_getBlockByNumber %s: %w", tag, err)
	}
	return blk, nil
}

// GetBlockByHeight fetches a block (transaction hashes only) by number.
func (c *Client) GetBlockByHeight(ctx context.Context, height uint64) (*Block, error) {
	return c.GetBlock(ctx, hexutil.EncodeUint64(height))
}

// GetBlockWithTxs fetches a block with full transaction bodies.
func (c *Client) GetBlockWithTxs(ctx context.Context, height uint64) (*BlockWithTxs, error) {
	var blk *BlockWithTxs
	if err := c.Call(ctx, &blk, "eth_getBlockByNumber", hexutil.EncodeUint64(height), true); err != nil {
		return nil, fmt.Errorf("eth_getBlockByNumber %d: %w", height, err)
	}
	return blk, nil
}

// GetReceipt fetches the receipt of a mined transaction.
func (c *Client) GetReceipt(ctx context.Context, hash common.Hash) (*gtypes.Receipt, error) {
	internalCtx, cancel := context.WithTimeout(ctx, ReadTimeout)
	defer cancel()
	return c.eth.TransactionReceipt(internalCtx, hash)
}

// SendRaw submits a signed raw transaction with the send budget and returns
// the node-reported hash.
func (c *Client) SendRaw(ctx context.Context, raw []byte) (common.Hash, error) {
	internalCtx, cancel := context.WithTimeout(ctx, SendTimeout)
	defer cancel()
	var hash common.Hash
	if err := c.rpc.CallContext(internalCtx, &hash, "eth_sendRawTransaction", hexutil.Encode(raw)); err != nil {
		return common.Hash{}, fmt.Errorf("eth_sendRawTransaction: %w", err)
	}
	return hash, nil
}

// WaitMined polls for the receipt of hash within the confirm budget.
func (c *Client) WaitMined(ctx context.Context, hash common.Hash) (*gtypes.Receipt, error) {
	internalCtx, cancel := context.WithTimeout(ctx, ConfirmTimeout)
	defer cancel()
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	for {
		receipt, err := c.eth.TransactionReceipt(internalCtx, hash)
		if err == nil && receipt != nil {
			return receipt, nil
		}
		select {
		case <-internalCtx.Done():
			return nil, fmt.Errorf("wait for confirmation of %s: %w", hash.Hex(), internalCtx.Err())
		case <-ticker.C:
		}
	}
}

// TxpoolContent fetches the pool grouped by sender. Not every node exposes
// the txpool namespace; callers treat failure as non-fatal.
func (c *Client) TxpoolContent(ctx context.Context) (*TxpoolContent, error) {
	var content TxpoolContent
	if err := c.Call(ctx, &content, "txpool_content"); err != nil {
		return nil, fmt.Errorf("txpool_content: %w", err)
	}
	return &content, nil
}

// PendingTxCount reports the node's pending transaction count. It tries, in
// order, txpool_status, eth_getBlockTransactionCountByNumber("pending") and
// finally eth_getTransactionCount(0x0, "pending") as a weak upper bound;
// the first method that responds without error wins.
func (c *Client) PendingTxCount(ctx context.Context) (uint64, error) {
	var status TxpoolStatus
	if err := c.Call(ctx, &status, "txpool_status"); err == nil {
		return uint64(status.Pending), nil
	} else {
		log.Debugw("txpool_status unavailable, falling back", "error", err)
	}

	var blockCount hexutil.Uint64
	if err := c.Call(ctx, &blockCount, "eth_getBlockTransactionCountByNumber", "pending"); err == nil {
		return uint64(blockCount), nil
	} else {
		log.Debugw("pending block tx count unavailable, falling back", "error", err)
	}

	count, err := c.GetTxCount(ctx, common.Address{}, "pending")
	if err != nil {
		return 0, fmt.Errorf("all pending-count methods failed: %w", err)
	}
	return count, nil
}
