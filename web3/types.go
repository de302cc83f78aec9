package web3

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Block is the subset of an eth_getBlockByNumber response (without full
// transaction bodies) consumed by the statistics collector and the L2
// follower.
type Block struct {
	Number       hexutil.Uint64 `json:"number"`
	Hash         common.Hash    `json:"hash"`
	ParentHash   common.Hash    `json:"parentHash"`
	Timestamp    hexutil.Uint64 `json:"timestamp"`
	GasUsed      hexutil.Uint64 `json:"gasUsed"`
	GasLimit     hexutil.Uint64 `json:"gasLimit"`
	Transactions []common.Hash  `json:"transactions"`
}

// BlockWithTxs is the same block shape with full transaction bodies.
type BlockWithTxs struct {
	Number       hexutil.Uint64 `json:"number"`
	Hash         common.Hash    `json:"hash"`
	ParentHash   common.Hash    `json:"parentHash"`
	Timestamp    hexutil.Uint64 `json:"timestamp"`
	GasUsed      hexutil.Uint64 `json:"gasUsed"`
	GasLimit     hexutil.Uint64 `json:"gasLimit"`
	Transactions []Transaction  `json:"transactions"`
}

// Transaction is the subset of a full transaction body needed to follow
// withdrawal traffic on the L2 side.
type Transaction struct {
	Hash  common.Hash     `json:"hash"`
	From  common.Address  `json:"from"`
	To    *common.Address `json:"to"`
	Value *hexutil.Big    `json:"value"`
	Input hexutil.Bytes   `json:"input"`
}

// TxpoolStatus mirrors the txpool_status response.
type TxpoolStatus struct {
	Pending hexutil.Uint64 `json:"pending"`
	Queued  hexutil.Uint64 `json:"queued"`
}

// TxpoolContent mirrors the txpool_content response: the pool grouped by
// sender, then by nonce (as a decimal string key).
type TxpoolContent struct {
	Pending map[common.Address]map[string]Transaction `json:"pending"`
	Queued  map[common.Address]map[string]Transaction `json:"queued"`
}
