/*
Package store persists the cross-chain reconciliation state in an embedded
key-value database with three table-like namespaces:

  - l1h/ : height (8-byte BE) → L1Header
  - l2h/ : height (8-byte BE) → L2Header
  - tx/  : uid (8-byte BE)    → TxJoin (the L1/L2 join row)

Rows are CBOR-encoded. All multi-row changes for one block (header plus its
tx rows) are applied inside a single write transaction. The database is
single-writer per process.
*/
package store

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/moatlabs/surge/db"
)

// ErrNotFound is returned when a row does not exist.
var ErrNotFound = errors.New("not found")

var (
	l1HeaderPrefix = []byte("l1h/")
	l2HeaderPrefix = []byte("l2h/")
	txPrefix       = []byte("tx/")
)

// L1Header is one parsed raw L1 block header.
type L1Header struct {
	Height     uint64 `cbor:"height"`
	Hash       string `cbor:"hash"`
	Version    uint32 `cbor:"version"`
	PrevHash   string `cbor:"prev_hash"`
	MerkleRoot string `cbor:"merkle_root"`
	Timestamp  uint32 `cbor:"timestamp"`
	CreatedAt  int64  `cbor:"create_at"`
	Bits       uint32 `cbor:"bits"`
	Nonce      uint32 `cbor:"nonce"`
	SizeBytes  int    `cbor:"size_bytes"`
}

// L2Header is one observed L2 block header, kept for reorg detection.
type L2Header struct {
	Height    uint64 `cbor:"height"`
	Hash      string `cbor:"hash"`
	Timestamp uint64 `cbor:"timestamp"`
	CreatedAt int64  `cbor:"create_at"`
}

// TxJoin is the L1/L2 join row keyed by uid. Either side may be populated
// first; a row is reconciled once both are.
type TxJoin struct {
	UID         uint64 `cbor:"uid"`
	L2TxHash    string `cbor:"l2_txhash,omitempty"`
	L2Height    uint64 `cbor:"l2_height,omitempty"`
	L2Timestamp uint64 `cbor:"l2_timestamp,omitempty"`
	L1TxHash    string `cbor:"l1_txhash,omitempty"`
	L1Height    uint64 `cbor:"l1_height,omitempty"`
	L1Timestamp uint64 `cbor:"l1_timestamp,omitempty"`
}

// Reconciled reports whether both sides of the row are populated.
func (r *TxJoin) Reconciled() bool {
	return r.L1TxHash != "" && r.L2TxHash != ""
}

// L1Match is one observed L1 payment to the watched target.
type L1Match struct {
	UID       uint64
	TxHash    string
	Height    uint64
	Timestamp uint64
}

// L2Match is one observed withdrawal event on the L2 side.
type L2Match struct {
	UID       uint64
	TxHash    string
	Height    uint64
	Timestamp uint64
}

// Store wraps the embedded database.
type Store struct {
	db db.Database
}

// New creates a Store over the given database.
func New(database db.Database) *Store {
	return &Store{db: database}
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func heightKey(prefix []byte, height uint64) []byte {
	key := make([]byte, len(prefix)+8)
	copy(key, prefix)
	binary.BigEndian.PutUint64(key[len(prefix):], height)
	return key
}

func encodeRow(v any) ([]byte, error) {
	opts := cbor.CoreDetEncOptions()
	em, err := opts.EncMode()
	if err != nil {
		return nil, fmt.Errorf("encode row: %w", err)
	}
	return em.Marshal(v)
}

// PutL1Block stores the parsed header and upserts the L1 side of one join
// row per matched transaction, all in a single database transaction.
func (s *Store) PutL1Block(header *L1Header, matches []L1Match) error {
	header.CreatedAt = time.Now().Unix()
	tx := s.db.WriteTx()
	defer tx.Discard()

	raw, err := encodeRow(header)
	if err != nil {
		return err
	}
	if err := tx.Set(heightKey(l1HeaderPrefix, header.Height), raw); err != nil {
		return fmt.Errorf("put l1 header %d: %w", header.Height, err)
	}
	for _, m := range matches {
		row, err := s.txRowInTx(tx, m.UID)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return err
		}
		if row == nil {
			row = &TxJoin{UID: m.UID}
		}
		row.L1TxHash = m.TxHash
		row.L1Height = m.Height
		row.L1Timestamp = m.Timestamp
		if err := s.setTxRowInTx(tx, row); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// PutL2Block upserts the L2 side of one join row per withdrawal event and
// then inserts (or replaces) the L2 header, in a single transaction.
func (s *Store) PutL2Block(header *L2Header, matches []L2Match) error {
	header.CreatedAt = time.Now().Unix()
	tx := s.db.WriteTx()
	defer tx.Discard()

	for _, m := range matches {
		row, err := s.txRowInTx(tx, m.UID)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return err
		}
		if row == nil {
			row = &TxJoin{UID: m.UID}
		}
		row.L2TxHash = m.TxHash
		row.L2Height = m.Height
		row.L2Timestamp = m.Timestamp
		if err := s.setTxRowInTx(tx, row); err != nil {
			return err
		}
	}
	raw, err := encodeRow(header)
	if err != nil {
		return err
	}
	if err := tx.Set(heightKey(l2HeaderPrefix, header.Height), raw); err != nil {
		return fmt.Errorf("put l2 header %d: %w", header.Height, err)
	}
	return tx.Commit()
}

// RollbackL2 removes the stored L2 header at the given height and clears
// the l2_* columns of every join row tagged to it, in one transaction.
// Used when a parent-hash mismatch reveals the height was orphaned.
func (s *Store) RollbackL2(height uint64) error {
	tx := s.db.WriteTx()
	defer tx.Discard()

	if err := tx.Delete(heightKey(l2HeaderPrefix, height)); err != nil {
		return fmt.Errorf("delete l2 header %d: %w", height, err)
	}

	var rows []*TxJoin
	err := tx.Iterate(txPrefix, func(_, value []byte) bool {
		var row TxJoin
		if err := cbor.Unmarshal(value, &row); err != nil {
			return true
		}
		if row.L2Height == height {
			rows = append(rows, &row)
		}
		return true
	})
	if err != nil {
		return fmt.Errorf("scan tx rows for rollback: %w", err)
	}
	for _, row := range rows {
		row.L2TxHash = ""
		row.L2Height = 0
		row.L2Timestamp = 0
		if err := s.setTxRowInTx(tx, row); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// L1Header returns the stored L1 header at the given height.
func (s *Store) L1Header(height uint64) (*L1Header, error) {
	raw, err := s.db.Get(heightKey(l1HeaderPrefix, height))
	if errors.Is(err, db.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var header L1Header
	if err := cbor.Unmarshal(raw, &header); err != nil {
		return nil, fmt.Errorf("decode l1 header %d: %w", height, err)
	}
	return &header, nil
}

// L2Header returns the stored L2 header at the given height.
func (s *Store) L2Header(height uint64) (*L2Header, error) {
	raw, err := s.db.Get(heightKey(l2HeaderPrefix, height))
	if errors.Is(err, db.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var header L2Header
	if err := cbor.Unmarshal(raw, &header); err != nil {
		return nil, fmt.Errorf("decode l2 header %d: %w", height, err)
	}
	return &header, nil
}

// LastL2Header returns the highest stored L2 header, or ErrNotFound when
// no L2 block was processed yet.
func (s *Store) LastL2Header() (*L2Header, error) {
	var last []byte
	err := s.db.Iterate(l2HeaderPrefix, func(_, value []byte) bool {
		last = append(last[:0], value...)
		return true
	})
	if err != nil {
		return nil, err
	}
	if last == nil {
		return nil, ErrNotFound
	}
	var header L2Header
	if err := cbor.Unmarshal(last, &header); err != nil {
		return nil, fmt.Errorf("decode last l2 header: %w", err)
	}
	return &header, nil
}

// Tx returns the join row for uid.
func (s *Store) Tx(uid uint64) (*TxJoin, error) {
	raw, err := s.db.Get(heightKey(txPrefix, uid))
	if errors.Is(err, db.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var row TxJoin
	if err := cbor.Unmarshal(raw, &row); err != nil {
		return nil, fmt.Errorf("decode tx row %d: %w", uid, err)
	}
	return &row, nil
}

// JoinedRows returns every row with both sides populated, in uid order.
func (s *Store) JoinedRows() ([]*TxJoin, error) {
	var rows []*TxJoin
	err := s.db.Iterate(txPrefix, func(_, value []byte) bool {
		var row TxJoin
		if err := cbor.Unmarshal(value, &row); err != nil {
			return true
		}
		if row.Reconciled() {
			rows = append(rows, &row)
		}
		return true
	})
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (s *Store) txRowInTx(tx db.WriteTx, uid uint64) (*TxJoin, error) {
	raw, err := tx.Get(heightKey(txPrefix, uid))
	if errors.Is(err, db.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var row TxJoin
	if err := cbor.Unmarshal(raw, &row); err != nil {
		return nil, fmt.Errorf("decode tx row %d: %w", uid, err)
	}
	return &row, nil
}

func (s *Store) setTxRowInTx(tx db.WriteTx, row *TxJoin) error {
	raw, err := encodeRow(row)
	if err != nil {
		return err
	}
	if err := tx.Set(heightKey(txPrefix, row.UID), raw); err != nil {
		return fmt.Errorf("put tx row %d: %w", row.UID, err)
	}
	return nil
}
