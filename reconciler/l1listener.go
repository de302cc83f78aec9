package reconciler

import (
	"context"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcutil/base58"
	"github.com/go-zeromq/zmq4"

	"github.com/moatlabs/surge/log"
	"github.com/moatlabs/surge/store"
)

// rawBlockTopic is the pub/sub topic carrying serialized blocks.
const rawBlockTopic = "rawblock"

// DecodeTargetAddress base58check-decodes an L1 address and strips the
// one-byte version, yielding the 20-byte hash compared against P2PKH
// outputs. An undecodable address is a fatal configuration error.
func DecodeTargetAddress(addr string) ([20]byte, error) {
	var target [20]byte
	payload, _, err := base58.CheckDecode(addr)
	if err != nil {
		return target, fmt.Errorf("decode target address %q: %w", addr, err)
	}
	if len(payload) != 20 {
		return target, fmt.Errorf("target address %q: payload is %d bytes, want 20", addr, len(payload))
	}
	copy(target[:], payload)
	return target, nil
}

// L1Listener subscribes to raw L1 block payloads and persists headers plus
// any outputs paying the watched target.
type L1Listener struct {
	endpoint string
	target   [20]byte
	store    *store.Store
}

// NewL1Listener builds a listener for the given pub/sub endpoint.
func NewL1Listener(endpoint string, target [20]byte, st *store.Store) *L1Listener {
	return &L1Listener{endpoint: endpoint, target: target, store: st}
}

// Run subscribes and processes messages until ctx is canceled. Per-block
// errors are logged and the block skipped; the subscription itself failing
// ends the run.
func (l *L1Listener) Run(ctx context.Context) error {
	sub := zmq4.NewSub(ctx)
	defer func() {
		if err := sub.Close(); err != nil {
			log.Warnw("closing L1 subscription", "error", err)
		}
	}()

	if err := sub.Dial(l.endpoint); err != nil {
		return fmt.Errorf("dial %q: %w", l.endpoint, err)
	}
	if err := sub.SetOption(zmq4.OptionSubscribe, rawBlockTopic); err != nil {
		return fmt.Errorf("subscribe %q: %w", rawBlockTopic, err)
	}
	log.Infow("L1 listener subscribed", "endpoint", l.endpoint, "topic", rawBlockTopic)

	for {
		msg, err := sub.Recv()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("recv: %w", err)
		}
		if len(msg.Frames) < 2 || string(msg.Frames[0]) != rawBlockTopic {
			continue
		}
		if err := l.handlePayload(msg.Frames[1]); err != nil {
			log.Errorw(err, "skipping L1 block")
		}
	}
}

// handlePayload parses one raw block and stores it in a single database
// transaction.
func (l *L1Listener) handlePayload(payload []byte) error {
	blk, err := ParseRawBlock(payload)
	if errors.Is(err, ErrShortPayload) {
		return fmt.Errorf("payload of %d bytes rejected: %w", len(payload), err)
	}
	if err != nil {
		return fmt.Errorf("parse raw block: %w", err)
	}

	matches := blk.Matches(l.target)
	if err := l.store.PutL1Block(&blk.Header, matches); err != nil {
		return fmt.Errorf("persist L1 block %d: %w", blk.Header.Height, err)
	}
	log.Debugw("L1 block stored",
		"height", blk.Header.Height,
		"hash", blk.Header.Hash,
		"txs", len(blk.Txs),
		"matches", len(matches))
	return nil
}
