package loadgen

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	gtypes "github.com/ethereum/go-ethereum/core/types"

	"github.com/moatlabs/surge/web3"
)

// Node is the JSON-RPC surface the load generator consumes. *web3.Client
// implements it; tests substitute fakes.
type Node interface {
	ChainID(ctx context.Context) (*big.Int, error)
	GetTxCount(ctx context.Context, addr common.Address, tag string) (uint64, error)
	GetBalance(ctx context.Context, addr common.Address) (*big.Int, error)
	GetGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendRaw(ctx context.Context, raw []byte) (common.Hash, error)
	WaitMined(ctx context.Context, hash common.Hash) (*gtypes.Receipt, error)
	PendingTxCount(ctx context.Context) (uint64, error)
	TxpoolContent(ctx context.Context) (*web3.TxpoolContent, error)
	GetBlock(ctx context.Context, tag string) (*web3.Block, error)
	GetBlockByHeight(ctx context.Context, height uint64) (*web3.Block, error)
	BatchCall(ctx context.Context, elems []web3.BatchElem) error
}
