// Package reconciler couples the two halves of a withdrawal: an L1 listener
// parsing raw UTXO-chain blocks from a pub/sub feed, and an L2 follower
// tracking withdrawal events with reorg rollback. Both persist into the
// same store so that rows join on uid.
package reconciler

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/moatlabs/surge/store"
)

const (
	// headerSize is the fixed size of a serialized L1 block header.
	headerSize = 80
	// p2pkhScriptSize is the exact size of a pay-to-pubkey-hash script:
	// OP_DUP OP_HASH160 <20> OP_EQUALVERIFY OP_CHECKSIG.
	p2pkhScriptSize = 25
)

// ErrShortPayload marks a pub/sub message too small to carry a header.
var ErrShortPayload = errors.New("raw block shorter than header")

// TxOut is one parsed transaction output.
type TxOut struct {
	// Value in satoshis (8-byte little-endian on the wire).
	Value uint64
	// PKHash is the 20-byte hash of a P2PKH output; valid when IsP2PKH.
	PKHash  [20]byte
	IsP2PKH bool
}

// Tx is one parsed L1 transaction.
type Tx struct {
	// Hash is the double-SHA256 of the full transaction body, in the
	// conventional reversed display order.
	Hash    string
	Outputs []TxOut
}

// RawBlock is a fully parsed raw L1 block payload.
type RawBlock struct {
	Header store.L1Header
	Txs    []Tx
}

// reader is a cursor over the raw payload.
type reader struct {
	buf []byte
	off int
}

func (r *reader) remaining() int { return len(r.buf) - r.off }

func (r *reader) bytes(n int) ([]byte, error) {
	if r.remaining() < n {
		return nil, fmt.Errorf("truncated payload: need %d bytes at offset %d, have %d", n, r.off, r.remaining())
	}
	out := r.buf[r.off : r.off+n]
	r.off += n
	return out, nil
}

func (r *reader) uint32LE() (uint32, error) {
	b, err := r.bytes(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (r *reader) uint64LE() (uint64, error) {
	b, err := r.bytes(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

// varInt reads a Bitcoin-style variable-length integer.
func (r *reader) varInt() (uint64, error) {
	b, err := r.bytes(1)
	if err != nil {
		return 0, err
	}
	switch b[0] {
	case 0xfd:
		v, err := r.bytes(2)
		if err != nil {
			return 0, err
		}
		return uint64(binary.LittleEndian.Uint16(v)), nil
	case 0xfe:
		v, err := r.bytes(4)
		if err != nil {
			return 0, err
		}
		return uint64(binary.LittleEndian.Uint32(v)), nil
	case 0xff:
		return r.uint64LE()
	default:
		return uint64(b[0]), nil
	}
}

// ParseRawBlock decodes a raw L1 block payload: the 80-byte header followed
// by a VarInt transaction count and legacy (non-segwit) transactions. The
// block height is recovered from the coinbase input script.
func ParseRawBlock(payload []byte) (*RawBlock, error) {
	if len(payload) < headerSize {
		return nil, ErrShortPayload
	}

	blockHash, err := chainhash.NewHash(chainhash.DoubleHashB(payload[:headerSize]))
	if err != nil {
		return nil, fmt.Errorf("block hash: %w", err)
	}

	r := &reader{buf: payload}
	version, _ := r.uint32LE()
	prevHashRaw, _ := r.bytes(32)
	merkleRootRaw, _ := r.bytes(32)
	timestamp, _ := r.uint32LE()
	bits, _ := r.uint32LE()
	nonce, err := r.uint32LE()
	if err != nil {
		return nil, fmt.Errorf("parse header: %w", err)
	}
	prevHash, err := chainhash.NewHash(prevHashRaw)
	if err != nil {
		return nil, fmt.Errorf("prev hash: %w", err)
	}
	merkleRoot, err := chainhash.NewHash(merkleRootRaw)
	if err != nil {
		return nil, fmt.Errorf("merkle root: %w", err)
	}

	blk := &RawBlock{
		Header: store.L1Header{
			// chainhash.Hash.String() emits the reversed byte order.
			Hash:       blockHash.String(),
			Version:    version,
			PrevHash:   prevHash.String(),
			MerkleRoot: merkleRoot.String(),
			Timestamp:  timestamp,
			Bits:       bits,
			Nonce:      nonce,
			SizeBytes:  len(payload),
		},
	}

	txCount, err := r.varInt()
	if err != nil {
		return nil, fmt.Errorf("tx count: %w", err)
	}
	for i := uint64(0); i < txCount; i++ {
		tx, coinbaseScript, err := parseTx(r)
		if err != nil {
			return nil, fmt.Errorf("tx %d: %w", i, err)
		}
		if i == 0 {
			height, err := coinbaseHeight(coinbaseScript)
			if err != nil {
				return nil, fmt.Errorf("coinbase height: %w", err)
			}
			blk.Header.Height = height
		}
		blk.Txs = append(blk.Txs, *tx)
	}
	return blk, nil
}

// parseTx decodes one legacy transaction and returns it along with the
// script of its first input (the coinbase script for the first tx).
func parseTx(r *reader) (*Tx, []byte, error) {
	start := r.off
	if _, err := r.uint32LE(); err != nil { // version
		return nil, nil, err
	}

	vinCount, err := r.varInt()
	if err != nil {
		return nil, nil, fmt.Errorf("vin count: %w", err)
	}
	var firstScript []byte
	for i := uint64(0); i < vinCount; i++ {
		if _, err := r.bytes(32 + 4); err != nil { // prev hash + index
			return nil, nil, fmt.Errorf("vin %d outpoint: %w", i, err)
		}
		scriptLen, err := r.varInt()
		if err != nil {
			return nil, nil, fmt.Errorf("vin %d script len: %w", i, err)
		}
		script, err := r.bytes(int(scriptLen))
		if err != nil {
			return nil, nil, fmt.Errorf("vin %d script: %w", i, err)
		}
		if i == 0 {
			firstScript = script
		}
		if _, err := r.bytes(4); err != nil { // sequence
			return nil, nil, fmt.Errorf("vin %d sequence: %w", i, err)
		}
	}

	voutCount, err := r.varInt()
	if err != nil {
		return nil, nil, fmt.Errorf("vout count: %w", err)
	}
	tx := &Tx{}
	for i := uint64(0); i < voutCount; i++ {
		value, err := r.uint64LE()
		if err != nil {
			return nil, nil, fmt.Errorf("vout %d value: %w", i, err)
		}
		scriptLen, err := r.varInt()
		if err != nil {
			return nil, nil, fmt.Errorf("vout %d script len: %w", i, err)
		}
		script, err := r.bytes(int(scriptLen))
		if err != nil {
			return nil, nil, fmt.Errorf("vout %d script: %w", i, err)
		}
		out := TxOut{Value: value}
		if pkHash, ok := parseP2PKH(script); ok {
			out.IsP2PKH = true
			out.PKHash = pkHash
		}
		tx.Outputs = append(tx.Outputs, out)
	}

	if _, err := r.bytes(4); err != nil { // locktime
		return nil, nil, fmt.Errorf("locktime: %w", err)
	}

	txHash, err := chainhash.NewHash(chainhash.DoubleHashB(r.buf[start:r.off]))
	if err != nil {
		return nil, nil, fmt.Errorf("tx hash: %w", err)
	}
	tx.Hash = txHash.String()
	return tx, firstScript, nil
}

// parseP2PKH extracts the 20-byte hash from a standard P2PKH output script.
func parseP2PKH(script []byte) ([20]byte, bool) {
	var pkHash [20]byte
	if len(script) != p2pkhScriptSize {
		return pkHash, false
	}
	if script[0] != 0x76 || script[1] != 0xa9 || script[2] != 0x14 ||
		script[23] != 0x88 || script[24] != 0xac {
		return pkHash, false
	}
	copy(pkHash[:], script[3:23])
	return pkHash, true
}

// coinbaseHeight reads the BIP34-style height from the coinbase script:
// the first push opcode gives the byte length, the pushed bytes are the
// height in little-endian order.
func coinbaseHeight(script []byte) (uint64, error) {
	if len(script) == 0 {
		return 0, errors.New("empty coinbase script")
	}
	n := int(script[0])
	if n == 0 || n > 8 || len(script) < 1+n {
		return 0, fmt.Errorf("unexpected height push (opcode %#x, script %d bytes)", script[0], len(script))
	}
	var height uint64
	for i := n - 1; i >= 0; i-- {
		height = height<<8 | uint64(script[1+i])
	}
	return height, nil
}

// Matches returns one store row per P2PKH output paying the target hash;
// the uid is the output value in satoshis.
func (b *RawBlock) Matches(target [20]byte) []store.L1Match {
	var matches []store.L1Match
	for _, tx := range b.Txs {
		for _, out := range tx.Outputs {
			if out.IsP2PKH && out.PKHash == target {
				matches = append(matches, store.L1Match{
					UID:       out.Value,
					TxHash:    tx.Hash,
					Height:    b.Header.Height,
					Timestamp: uint64(b.Header.Timestamp),
				})
			}
		}
	}
	return matches
}
