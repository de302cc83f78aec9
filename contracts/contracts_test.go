package contracts

import (
	"math/big"
	"testing"

	qt "github.com/frankban/quicktest"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

func TestSelectors(t *testing.T) {
	c := qt.New(t)

	data, err := EncodeERC20Transfer(common.HexToAddress("0x02"), big.NewInt(1))
	c.Assert(err, qt.IsNil)
	c.Assert(data[:4], qt.DeepEquals, crypto.Keccak256([]byte("transfer(address,uint256)"))[:4])

	data, err = EncodeERC721Mint(common.HexToAddress("0x03"))
	c.Assert(err, qt.IsNil)
	c.Assert(data[:4], qt.DeepEquals, crypto.Keccak256([]byte("mint(address)"))[:4])

	var target [20]byte
	copy(target[:], common.HexToAddress("0x04").Bytes())
	data, err = EncodeWithdrawToL1(target)
	c.Assert(err, qt.IsNil)
	c.Assert(data[:4], qt.DeepEquals, crypto.Keccak256([]byte("withdrawToL1(bytes20)"))[:4])

	c.Assert(WithdrawalQueuedTopic, qt.Equals,
		common.Hash(crypto.Keccak256Hash([]byte("WithdrawalQueued(address,bytes20,uint256)"))))
}

func TestUIDRoundTrip(t *testing.T) {
	c := qt.New(t)

	minValue := big.NewInt(1e15)
	value := WithdrawValue(minValue, 110_000_000)
	c.Assert(UIDFromWithdrawValue(minValue, value), qt.Equals, uint64(110_000_000))

	amount := new(big.Int).Mul(big.NewInt(110_000_000), UIDDivisor)
	c.Assert(UIDFromAmount(amount), qt.Equals, uint64(110_000_000))
}

func TestDecodeWithdrawalAmount(t *testing.T) {
	c := qt.New(t)

	var target [20]byte
	copy(target[:], common.HexToAddress("0x04").Bytes())
	amount := new(big.Int).Mul(big.NewInt(42), UIDDivisor)

	data, err := MoatABI.Events["WithdrawalQueued"].Inputs.NonIndexed().Pack(target, amount)
	c.Assert(err, qt.IsNil)

	got, err := DecodeWithdrawalAmount(data)
	c.Assert(err, qt.IsNil)
	c.Assert(got.Cmp(amount), qt.Equals, 0)
}

func TestDeployData(t *testing.T) {
	c := qt.New(t)

	artifact := &Artifact{ABI: ERC20ABI, Bin: []byte{0x60, 0x80}}
	data, err := artifact.DeployData(big.NewInt(1_000_000))
	c.Assert(err, qt.IsNil)
	c.Assert(data[:2], qt.DeepEquals, []byte{0x60, 0x80})
	c.Assert(len(data), qt.Equals, 2+32) // bin + one uint256 constructor arg
}
