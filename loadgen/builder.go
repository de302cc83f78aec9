package loadgen

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/moatlabs/surge/contracts"
	"github.com/moatlabs/surge/wallet"
)

// Mode selects what each generated transaction does.
type Mode string

const (
	ModeEOA          Mode = "EOA"
	ModeERC20        Mode = "ERC20"
	ModeERC721       Mode = "ERC721"
	ModeWithdrawal   Mode = "WITHDRAWAL"
	ModeClearPending Mode = "CLEAR_PENDING"
	ModePendingCount Mode = "GET_PENDING_COUNT"
)

// ParseMode validates a mode string from the command line.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeEOA, ModeERC20, ModeERC721, ModeWithdrawal, ModeClearPending, ModePendingCount:
		return Mode(s), nil
	}
	return "", fmt.Errorf("unknown mode %q", s)
}

// TxSpec is one fully populated, not yet signed transaction. GlobalIndex is
// the build-order position used to restore ordering after parallel signing.
type TxSpec struct {
	GlobalIndex int
	SenderIndex int
	From        common.Address
	To          *common.Address
	Value       *big.Int
	Data        []byte
	GasLimit    uint64
	GasPrice    *big.Int
	Nonce       uint64
	ChainID     *big.Int
}

// BuildResult carries the per-sender queues plus the flat build-order list
// over the same TxSpec values.
type BuildResult struct {
	// Queues is indexed by sender position; each queue is in ascending
	// nonce order.
	Queues [][]*TxSpec
	// Specs is every TxSpec in build order.
	Specs []*TxSpec
}

// Builder populates per-sender transaction queues. Nonces come from the
// shared nonce book; the builder is the only writer for the sub-account
// addresses while it runs.
type Builder struct {
	Mode     Mode
	ChainID  *big.Int
	GasPrice *big.Int
	GasLimit uint64

	// Value is the per-transaction native amount (EOA mode).
	Value *big.Int
	// Token is the deployed ERC-20 or ERC-721 contract (token modes).
	Token common.Address

	// Moat, Target, MinValue and UIDBase configure withdrawal mode: tx i
	// carries value MinValue + (UIDBase+i)*UIDDivisor so each emitted uid
	// is unique within the run.
	Moat     common.Address
	Target   [20]byte
	MinValue *big.Int
	UIDBase  uint64

	book *wallet.NonceBook
}

// NewBuilder wires a builder to the nonce book.
func NewBuilder(book *wallet.NonceBook) *Builder {
	return &Builder{book: book}
}

// Build distributes numTx transactions over the ready accounts: tx i is
// sent by accounts[i mod N] to accounts[(i+1) mod N] where a receiver
// applies.
func (b *Builder) Build(accounts []*wallet.Account, numTx int) (*BuildResult, error) {
	if len(accounts) == 0 {
		return nil, fmt.Errorf("build: no ready accounts")
	}
	if numTx <= 0 {
		return nil, fmt.Errorf("build: transaction count %d", numTx)
	}

	res := &BuildResult{
		Queues: make([][]*TxSpec, len(accounts)),
		Specs:  make([]*TxSpec, 0, numTx),
	}
	n := len(accounts)
	for i := 0; i < numTx; i++ {
		sender := accounts[i%n]
		receiver := accounts[(i+1)%n]

		nonces, err := b.book.Reserve(sender.Address, 1)
		if err != nil {
			return nil, fmt.Errorf("build tx %d: %w", i, err)
		}
		spec := &TxSpec{
			GlobalIndex: i,
			SenderIndex: i % n,
			From:        sender.Address,
			GasLimit:    b.GasLimit,
			GasPrice:    b.GasPrice,
			Nonce:       nonces[0],
			ChainID:     b.ChainID,
		}
		if err := b.populate(spec, i, receiver.Address); err != nil {
			return nil, fmt.Errorf("build tx %d: %w", i, err)
		}
		res.Queues[spec.SenderIndex] = append(res.Queues[spec.SenderIndex], spec)
		res.Specs = append(res.Specs, spec)
	}
	if dups := AuditNonces(res.Queues); dups != 0 {
		return nil, fmt.Errorf("build: %d duplicate (sender, nonce) assignments", dups)
	}
	return res, nil
}

func (b *Builder) populate(spec *TxSpec, i int, receiver common.Address) error {
	switch b.Mode {
	case ModeEOA:
		spec.To = &receiver
		spec.Value = b.Value
	case ModeERC20:
		data, err := contracts.EncodeERC20Transfer(receiver, big.NewInt(1))
		if err != nil {
			return err
		}
		token := b.Token
		spec.To = &token
		spec.Value = big.NewInt(0)
		spec.Data = data
	case ModeERC721:
		data, err := contracts.EncodeERC721Mint(receiver)
		if err != nil {
			return err
		}
		token := b.Token
		spec.To = &token
		spec.Value = big.NewInt(0)
		spec.Data = data
	case ModeWithdrawal:
		data, err := contracts.EncodeWithdrawToL1(b.Target)
		if err != nil {
			return err
		}
		moat := b.Moat
		spec.To = &moat
		spec.Value = contracts.WithdrawValue(b.MinValue, b.UIDBase+uint64(i))
		spec.Data = data
	default:
		return fmt.Errorf("mode %q does not build transactions", b.Mode)
	}
	return nil
}

// AuditNonces counts duplicate (sender, nonce) pairs across all queues.
// Any non-zero count means the nonce chain of some sender is broken.
func AuditNonces(queues [][]*TxSpec) int {
	type key struct {
		from  common.Address
		nonce uint64
	}
	seen := make(map[key]bool)
	dups := 0
	for _, queue := range queues {
		for _, spec := range queue {
			k := key{spec.From, spec.Nonce}
			if seen[k] {
				dups++
				continue
			}
			seen[k] = true
		}
	}
	return dups
}
