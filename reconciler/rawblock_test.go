package reconciler

import (
	"encoding/binary"
	"testing"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	qt "github.com/frankban/quicktest"
)

// blockBuilder serializes a minimal legacy block for parser tests.
type blockBuilder struct {
	buf []byte
}

func (b *blockBuilder) bytes(p []byte) *blockBuilder {
	b.buf = append(b.buf, p...)
	return b
}

func (b *blockBuilder) u32(v uint32) *blockBuilder {
	var p [4]byte
	binary.LittleEndian.PutUint32(p[:], v)
	return b.bytes(p[:])
}

func (b *blockBuilder) u64(v uint64) *blockBuilder {
	var p [8]byte
	binary.LittleEndian.PutUint64(p[:], v)
	return b.bytes(p[:])
}

func (b *blockBuilder) varInt(v uint64) *blockBuilder {
	if v >= 0xfd {
		panic("test builder only handles small counts")
	}
	return b.bytes([]byte{byte(v)})
}

func (b *blockBuilder) header(timestamp uint32) *blockBuilder {
	b.u32(0x20000000)             // version
	b.bytes(make([]byte, 32))     // prev hash
	b.bytes(make([]byte, 32))     // merkle root
	b.u32(timestamp)
	b.u32(0x1d00ffff) // bits
	return b.u32(12345)
}

// coinbaseTx appends a coinbase transaction whose input script carries the
// height push, paying out to the miner hash.
func (b *blockBuilder) coinbaseTx(height uint32, miner [20]byte) *blockBuilder {
	b.u32(1)                      // tx version
	b.varInt(1)                   // vin count
	b.bytes(make([]byte, 32))     // null outpoint hash
	b.u32(0xffffffff)             // outpoint index
	script := []byte{0x03, byte(height), byte(height >> 8), byte(height >> 16)}
	b.varInt(uint64(len(script)))
	b.bytes(script)
	b.u32(0xffffffff)             // sequence
	b.varInt(1)                   // vout count
	b.u64(50_0000_0000)           // reward
	b.bytes(p2pkhScript(miner))
	return b.u32(0) // locktime
}

type payout struct {
	value  uint64
	pkHash [20]byte
}

// paymentTx appends a one-input transaction with the given P2PKH outputs.
func (b *blockBuilder) paymentTx(outs ...payout) *blockBuilder {
	b.u32(1)                  // tx version
	b.varInt(1)               // vin count
	b.bytes(make([]byte, 36)) // outpoint
	b.varInt(0)               // empty script
	b.u32(0xffffffff)         // sequence
	b.varInt(uint64(len(outs)))
	for _, out := range outs {
		b.u64(out.value)
		b.bytes(p2pkhScript(out.pkHash))
	}
	return b.u32(0) // locktime
}

func p2pkhScript(pkHash [20]byte) []byte {
	script := make([]byte, 0, p2pkhScriptSize+1)
	script = append(script, byte(p2pkhScriptSize), 0x76, 0xa9, 0x14)
	script = append(script, pkHash[:]...)
	return append(script, 0x88, 0xac)
}

func TestParseRawBlock(t *testing.T) {
	c := qt.New(t)

	var target, miner, other [20]byte
	for i := range target {
		target[i] = 0xaa
		miner[i] = 0xbb
		other[i] = 0xcc
	}

	b := &blockBuilder{}
	b.header(1_700_000_000)
	b.varInt(2)
	b.coinbaseTx(510_000, miner)
	b.paymentTx(
		payout{value: 110_000_000, pkHash: target},
		payout{value: 99, pkHash: other},
	)

	blk, err := ParseRawBlock(b.buf)
	c.Assert(err, qt.IsNil)
	c.Assert(blk.Header.Height, qt.Equals, uint64(510_000))
	c.Assert(blk.Header.Timestamp, qt.Equals, uint32(1_700_000_000))
	c.Assert(blk.Header.Version, qt.Equals, uint32(0x20000000))
	c.Assert(blk.Header.Bits, qt.Equals, uint32(0x1d00ffff))
	c.Assert(blk.Header.Nonce, qt.Equals, uint32(12345))
	c.Assert(blk.Header.SizeBytes, qt.Equals, len(b.buf))
	c.Assert(blk.Txs, qt.HasLen, 2)
	c.Assert(blk.Txs[1].Outputs, qt.HasLen, 2)

	wantHash, err := chainhash.NewHash(chainhash.DoubleHashB(b.buf[:headerSize]))
	c.Assert(err, qt.IsNil)
	c.Assert(blk.Header.Hash, qt.Equals, wantHash.String())

	c.Run("matches", func(c *qt.C) {
		matches := blk.Matches(target)
		c.Assert(matches, qt.HasLen, 1)
		c.Assert(matches[0].UID, qt.Equals, uint64(110_000_000))
		c.Assert(matches[0].Height, qt.Equals, uint64(510_000))
		c.Assert(matches[0].TxHash, qt.Equals, blk.Txs[1].Hash)

		c.Assert(blk.Matches(other), qt.HasLen, 1)
		var unknown [20]byte
		c.Assert(blk.Matches(unknown), qt.HasLen, 0)
	})
}

func TestParseRawBlockShortPayload(t *testing.T) {
	c := qt.New(t)
	_, err := ParseRawBlock(make([]byte, headerSize-1))
	c.Assert(err, qt.Equals, ErrShortPayload)
}

func TestParseRawBlockTruncatedBody(t *testing.T) {
	c := qt.New(t)
	b := &blockBuilder{}
	b.header(1_700_000_000)
	b.varInt(1)
	b.u32(1) // tx version, then nothing
	_, err := ParseRawBlock(b.buf)
	c.Assert(err, qt.IsNotNil)
}

func TestParseP2PKH(t *testing.T) {
	c := qt.New(t)

	var pkHash [20]byte
	pkHash[0], pkHash[19] = 0x01, 0x14
	got, ok := parseP2PKH(p2pkhScript(pkHash)[1:]) // strip length byte
	c.Assert(ok, qt.IsTrue)
	c.Assert(got, qt.Equals, pkHash)

	_, ok = parseP2PKH([]byte{0x6a, 0x04, 0xde, 0xad, 0xbe, 0xef}) // OP_RETURN
	c.Assert(ok, qt.IsFalse)

	bad := p2pkhScript(pkHash)[1:]
	bad[24] = 0xab
	_, ok = parseP2PKH(bad)
	c.Assert(ok, qt.IsFalse)
}

func TestCoinbaseHeight(t *testing.T) {
	c := qt.New(t)

	h, err := coinbaseHeight([]byte{0x03, 0x40, 0xc8, 0x07, 0xff, 0xff})
	c.Assert(err, qt.IsNil)
	c.Assert(h, qt.Equals, uint64(0x07c840))

	_, err = coinbaseHeight(nil)
	c.Assert(err, qt.IsNotNil)
	_, err = coinbaseHeight([]byte{0x09, 1, 2, 3, 4, 5, 6, 7, 8, 9})
	c.Assert(err, qt.IsNotNil)
}

func TestDecodeTargetAddress(t *testing.T) {
	c := qt.New(t)

	// Genesis coinbase address, version byte 0x00.
	target, err := DecodeTargetAddress("1A1zP1eP5QGefi2DMPTfTL5SLmv7DivfNa")
	c.Assert(err, qt.IsNil)
	c.Assert(target[:], qt.HasLen, 20)
	c.Assert(target, qt.Not(qt.Equals), [20]byte{})

	_, err = DecodeTargetAddress("not-base58check")
	c.Assert(err, qt.IsNotNil)
}
