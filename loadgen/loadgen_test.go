package loadgen

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	gtypes "github.com/ethereum/go-ethereum/core/types"

	"github.com/moatlabs/surge/web3"
)

// fakeNode is an in-memory Node used across the package tests. Sent raw
// transactions are decoded and recorded in arrival order.
type fakeNode struct {
	mu sync.Mutex

	chainID  *big.Int
	gasPrice *big.Int
	balances map[common.Address]*big.Int
	latest   map[common.Address]uint64
	pendingN map[common.Address]uint64
	pending  uint64
	blocks   map[uint64]*web3.Block
	head     uint64

	// sent holds every accepted transaction in arrival order.
	sent []*gtypes.Transaction
	// rejectNonce marks (sender, nonce) pairs the node refuses.
	rejectNonce map[string]bool

	// autoMine makes the next-height block query mine everything accepted
	// so far, letting full runs complete against the fake.
	autoMine bool
	mined    int
}

func newFakeNode() *fakeNode {
	return &fakeNode{
		chainID:     big.NewInt(1337),
		gasPrice:    big.NewInt(2_000_000_000),
		balances:    make(map[common.Address]*big.Int),
		latest:      make(map[common.Address]uint64),
		pendingN:    make(map[common.Address]uint64),
		blocks:      make(map[uint64]*web3.Block),
		rejectNonce: make(map[string]bool),
	}
}

func rejectKey(from common.Address, nonce uint64) string {
	return fmt.Sprintf("%s/%d", from.Hex(), nonce)
}

func (f *fakeNode) ChainID(context.Context) (*big.Int, error) { return f.chainID, nil }

func (f *fakeNode) GetTxCount(_ context.Context, addr common.Address, tag string) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if tag == "pending" {
		return f.pendingN[addr], nil
	}
	return f.latest[addr], nil
}

func (f *fakeNode) GetBalance(_ context.Context, addr common.Address) (*big.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	bal, ok := f.balances[addr]
	if !ok {
		return big.NewInt(0), nil
	}
	return new(big.Int).Set(bal), nil
}

func (f *fakeNode) GetGasPrice(context.Context) (*big.Int, error) { return f.gasPrice, nil }

func (f *fakeNode) EstimateGas(context.Context, ethereum.CallMsg) (uint64, error) {
	return baseTransferGas, nil
}

func (f *fakeNode) SendRaw(_ context.Context, raw []byte) (common.Hash, error) {
	tx := new(gtypes.Transaction)
	if err := tx.UnmarshalBinary(raw); err != nil {
		return common.Hash{}, err
	}
	from, err := gtypes.Sender(gtypes.LatestSignerForChainID(f.chainID), tx)
	if err != nil {
		return common.Hash{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.rejectNonce[rejectKey(from, tx.Nonce())] {
		return common.Hash{}, fmt.Errorf("nonce too low")
	}
	f.sent = append(f.sent, tx)
	return tx.Hash(), nil
}

func (f *fakeNode) WaitMined(_ context.Context, hash common.Hash) (*gtypes.Receipt, error) {
	return &gtypes.Receipt{
		Status:      gtypes.ReceiptStatusSuccessful,
		TxHash:      hash,
		BlockNumber: big.NewInt(1),
	}, nil
}

func (f *fakeNode) PendingTxCount(context.Context) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pending, nil
}

func (f *fakeNode) TxpoolContent(context.Context) (*web3.TxpoolContent, error) {
	return nil, fmt.Errorf("txpool namespace not exposed")
}

func (f *fakeNode) GetBlock(_ context.Context, tag string) (*web3.Block, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if tag == "latest" {
		return f.blocks[f.head], nil
	}
	return nil, fmt.Errorf("unexpected tag %q", tag)
}

func (f *fakeNode) GetBlockByHeight(_ context.Context, height uint64) (*web3.Block, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if blk, ok := f.blocks[height]; ok {
		return blk, nil
	}
	if f.autoMine && height == f.head+1 && f.mined < len(f.sent) {
		hashes := make([]common.Hash, 0, len(f.sent)-f.mined)
		for _, tx := range f.sent[f.mined:] {
			hashes = append(hashes, tx.Hash())
		}
		f.mined = len(f.sent)
		parentTs := f.blocks[f.head].Timestamp
		f.head = height
		f.blocks[height] = &web3.Block{
			Number:       hexutil.Uint64(height),
			Timestamp:    parentTs + 2,
			GasUsed:      hexutil.Uint64(baseTransferGas * len(hashes)),
			GasLimit:     30_000_000,
			Transactions: hashes,
		}
		return f.blocks[height], nil
	}
	return nil, nil
}

func (f *fakeNode) BatchCall(ctx context.Context, elems []web3.BatchElem) error {
	for i := range elems {
		raw, err := hexutil.Decode(elems[i].Args[0].(string))
		if err != nil {
			elems[i].Error = err
			continue
		}
		hash, err := f.SendRaw(ctx, raw)
		if err != nil {
			elems[i].Error = err
			continue
		}
		*(elems[i].Result.(*common.Hash)) = hash
	}
	return nil
}

// sentBySender groups the recorded transactions per sender in arrival
// order.
func (f *fakeNode) sentBySender() map[common.Address][]*gtypes.Transaction {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[common.Address][]*gtypes.Transaction)
	signer := gtypes.LatestSignerForChainID(f.chainID)
	for _, tx := range f.sent {
		from, _ := gtypes.Sender(signer, tx)
		out[from] = append(out[from], tx)
	}
	return out
}
