// Package contracts holds the ABI surface the load generator speaks:
// ERC-20 transfers, ERC-721 mints and the moat withdrawal contract. The
// compiled bytecode of deployable artifacts is loaded externally and handed
// in through Artifact; only call encoding lives here.
package contracts

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// UIDDivisor converts an on-chain withdrawal amount into the compact uid
// used as the cross-chain join key: uid = (value - minValue) / UIDDivisor.
// Sources disagree on whether the divisor is part of the wire contract, so
// it stays configurable.
var UIDDivisor = big.NewInt(1e10)

const (
	erc20ABIJSON = `[
		{"type":"constructor","inputs":[{"name":"totalSupply","type":"uint256"}]},
		{"type":"function","name":"transfer","inputs":[{"name":"to","type":"address"},{"name":"value","type":"uint256"}],"outputs":[{"type":"bool"}]},
		{"type":"function","name":"balanceOf","inputs":[{"name":"owner","type":"address"}],"outputs":[{"type":"uint256"}],"stateMutability":"view"}
	]`
	erc721ABIJSON = `[
		{"type":"constructor","inputs":[]},
		{"type":"function","name":"mint","inputs":[{"name":"to","type":"address"}],"outputs":[]}
	]`
	moatABIJSON = `[
		{"type":"function","name":"withdrawToL1","inputs":[{"name":"targetHash","type":"bytes20"}],"outputs":[]},
		{"type":"event","name":"WithdrawalQueued","inputs":[
			{"name":"sender","type":"address","indexed":true},
			{"name":"target","type":"bytes20","indexed":false},
			{"name":"amount","type":"uint256","indexed":false}
		]}
	]`
)

var (
	// ERC20ABI, ERC721ABI and MoatABI are parsed once at init; the JSON is
	// static so a parse failure is a programming error.
	ERC20ABI  = mustParseABI(erc20ABIJSON)
	ERC721ABI = mustParseABI(erc721ABIJSON)
	MoatABI   = mustParseABI(moatABIJSON)

	// WithdrawalQueuedTopic is topic[0] of the WithdrawalQueued event.
	WithdrawalQueuedTopic = MoatABI.Events["WithdrawalQueued"].ID
)

func mustParseABI(s string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(s))
	if err != nil {
		panic(fmt.Sprintf("static ABI does not parse: %v", err))
	}
	return parsed
}

// Artifact is a deployable compiled contract. Bytecode loading is an
// external collaborator concern; runs receive artifacts already loaded.
type Artifact struct {
	ABI abi.ABI
	Bin []byte
}

// DeployData returns the creation payload (bytecode plus encoded
// constructor arguments).
func (a *Artifact) DeployData(args ...any) ([]byte, error) {
	ctorArgs, err := a.ABI.Pack("", args...)
	if err != nil {
		return nil, fmt.Errorf("pack constructor args: %w", err)
	}
	return append(append([]byte{}, a.Bin...), ctorArgs...), nil
}

// EncodeERC20Transfer encodes transfer(to, value).
func EncodeERC20Transfer(to common.Address, value *big.Int) ([]byte, error) {
	data, err := ERC20ABI.Pack("transfer", to, value)
	if err != nil {
		return nil, fmt.Errorf("pack transfer: %w", err)
	}
	return data, nil
}

// EncodeERC721Mint encodes mint(to); the receiver rides in the payload.
func EncodeERC721Mint(to common.Address) ([]byte, error) {
	data, err := ERC721ABI.Pack("mint", to)
	if err != nil {
		return nil, fmt.Errorf("pack mint: %w", err)
	}
	return data, nil
}

// EncodeWithdrawToL1 encodes withdrawToL1(targetHash).
func EncodeWithdrawToL1(targetHash [20]byte) ([]byte, error) {
	data, err := MoatABI.Pack("withdrawToL1", targetHash)
	if err != nil {
		return nil, fmt.Errorf("pack withdrawToL1: %w", err)
	}
	return data, nil
}

// DecodeWithdrawalAmount extracts the amount from a WithdrawalQueued log's
// data section.
func DecodeWithdrawalAmount(data []byte) (*big.Int, error) {
	vals, err := MoatABI.Events["WithdrawalQueued"].Inputs.NonIndexed().Unpack(data)
	if err != nil {
		return nil, fmt.Errorf("unpack WithdrawalQueued: %w", err)
	}
	if len(vals) != 2 {
		return nil, fmt.Errorf("unpack WithdrawalQueued: %d values, want 2", len(vals))
	}
	amount, ok := vals[1].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unpack WithdrawalQueued: amount has type %T", vals[1])
	}
	return amount, nil
}

// WithdrawValue computes the tx value that encodes uid on-chain:
// value = minValue + uid*UIDDivisor, so that uid survives the round trip
// through the withdrawal event and the L1 output.
func WithdrawValue(minValue *big.Int, uid uint64) *big.Int {
	v := new(big.Int).Mul(new(big.Int).SetUint64(uid), UIDDivisor)
	return v.Add(v, minValue)
}

// UIDFromWithdrawValue inverts WithdrawValue.
func UIDFromWithdrawValue(minValue, value *big.Int) uint64 {
	diff := new(big.Int).Sub(value, minValue)
	return new(big.Int).Div(diff, UIDDivisor).Uint64()
}

// UIDFromAmount derives the uid from a WithdrawalQueued amount.
func UIDFromAmount(amount *big.Int) uint64 {
	return new(big.Int).Div(amount, UIDDivisor).Uint64()
}

// ContractAddress computes the address a deployment from sender at nonce
// will land on.
func ContractAddress(sender common.Address, nonce uint64) common.Address {
	return crypto.CreateAddress(sender, nonce)
}
