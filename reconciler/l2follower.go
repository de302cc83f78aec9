package reconciler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	gtypes "github.com/ethereum/go-ethereum/core/types"

	"github.com/moatlabs/surge/contracts"
	"github.com/moatlabs/surge/log"
	"github.com/moatlabs/surge/store"
	"github.com/moatlabs/surge/web3"
)

// defaultPumpInterval is how often the follower checks for a new head.
const defaultPumpInterval = 2 * time.Second

// ChainSource is the read surface the follower needs from the L2 node.
// *web3.Client implements it.
type ChainSource interface {
	GetBlock(ctx context.Context, tag string) (*web3.Block, error)
	GetBlockByHeight(ctx context.Context, height uint64) (*web3.Block, error)
	GetBlockWithTxs(ctx context.Context, height uint64) (*web3.BlockWithTxs, error)
	GetReceipt(ctx context.Context, hash common.Hash) (*gtypes.Receipt, error)
}

// L2Follower walks the L2 chain sequentially, extracting withdrawal events
// sent to the moat contract and persisting them alongside the block header.
// A parent-hash mismatch triggers a one-height rollback and retry.
type L2Follower struct {
	source   ChainSource
	moat     common.Address
	store    *store.Store
	interval time.Duration

	lastProcessed uint64
	lastHash      string

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewL2Follower builds a follower; interval <= 0 selects the default.
func NewL2Follower(source ChainSource, moat common.Address, st *store.Store, interval time.Duration) *L2Follower {
	if interval <= 0 {
		interval = defaultPumpInterval
	}
	return &L2Follower{
		source:   source,
		moat:     moat,
		store:    st,
		interval: interval,
	}
}

// Start seeds the follower position and launches the pump loop. It resumes
// from the last stored L2 header when present, otherwise from the current
// head.
func (f *L2Follower) Start(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cancel != nil {
		return fmt.Errorf("follower already running")
	}

	if last, err := f.store.LastL2Header(); err == nil {
		f.lastProcessed = last.Height
		f.lastHash = last.Hash
	} else if errors.Is(err, store.ErrNotFound) {
		head, err := f.source.GetBlock(ctx, "latest")
		if err != nil {
			return fmt.Errorf("seed from head: %w", err)
		}
		if head == nil {
			return fmt.Errorf("seed from head: no latest block")
		}
		f.lastProcessed = uint64(head.Number)
		f.lastHash = head.Hash.Hex()
		if err := f.store.PutL2Block(&store.L2Header{
			Height:    uint64(head.Number),
			Hash:      head.Hash.Hex(),
			Timestamp: uint64(head.Timestamp),
		}, nil); err != nil {
			return fmt.Errorf("seed header: %w", err)
		}
	} else {
		return fmt.Errorf("read last header: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	f.cancel = cancel
	f.done = make(chan struct{})
	log.Infow("L2 follower started", "from", f.lastProcessed, "moat", f.moat.Hex())

	go func() {
		defer close(f.done)
		ticker := time.NewTicker(f.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := f.Pump(ctx); err != nil && ctx.Err() == nil {
					log.Errorw(err, "L2 pump failed, will reattempt on next head")
				}
			}
		}
	}()
	return nil
}

// Stop cancels the pump loop and waits for it to exit.
func (f *L2Follower) Stop() {
	f.mu.Lock()
	cancel, done := f.cancel, f.done
	f.cancel = nil
	f.mu.Unlock()
	if cancel != nil {
		cancel()
		<-done
	}
}

// Pump advances the follower up to the current head, one block per
// iteration. Exported so tests (and the run orchestrator) can drive the
// follower synchronously.
func (f *L2Follower) Pump(ctx context.Context) error {
	head, err := f.source.GetBlock(ctx, "latest")
	if err != nil {
		return fmt.Errorf("fetch head: %w", err)
	}
	if head == nil {
		return nil
	}

	for f.lastProcessed < uint64(head.Number) {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		next := f.lastProcessed + 1
		blk, err := f.source.GetBlockWithTxs(ctx, next)
		if err != nil {
			return fmt.Errorf("fetch block %d: %w", next, err)
		}
		if blk == nil {
			return nil // head advanced past availability; retry next tick
		}

		if blk.ParentHash.Hex() != f.lastHash {
			if err := f.rollback(ctx); err != nil {
				return fmt.Errorf("rollback at %d: %w", f.lastProcessed, err)
			}
			continue // step back done, retry from the new position
		}

		// Gather all RPC reads before the database transaction opens.
		matches, err := f.withdrawalMatches(ctx, blk)
		if err != nil {
			return fmt.Errorf("scan block %d: %w", next, err)
		}
		header := &store.L2Header{
			Height:    uint64(blk.Number),
			Hash:      blk.Hash.Hex(),
			Timestamp: uint64(blk.Timestamp),
		}
		if err := f.store.PutL2Block(header, matches); err != nil {
			return fmt.Errorf("persist block %d: %w", next, err)
		}
		if len(matches) > 0 {
			log.Infow("withdrawals observed", "height", next, "count", len(matches))
		}
		f.lastProcessed = next
		f.lastHash = blk.Hash.Hex()
	}
	return nil
}

// rollback deletes the state recorded for lastProcessed and steps the
// follower back one height.
func (f *L2Follower) rollback(ctx context.Context) error {
	orphaned := f.lastProcessed
	log.Warnw("L2 reorg detected", "height", orphaned+1, "lastHash", f.lastHash)

	if err := f.store.RollbackL2(orphaned); err != nil {
		return err
	}
	if orphaned == 0 {
		// Nothing below genesis to step back to; re-anchor on the chain's
		// block zero and retry from there.
		blk, err := f.source.GetBlockByHeight(ctx, 0)
		if err != nil || blk == nil {
			return fmt.Errorf("refetch genesis after rollback: %w", err)
		}
		f.lastHash = blk.Hash.Hex()
		if err := f.store.PutL2Block(&store.L2Header{
			Height:    0,
			Hash:      blk.Hash.Hex(),
			Timestamp: uint64(blk.Timestamp),
		}, nil); err != nil {
			return fmt.Errorf("re-anchor genesis: %w", err)
		}
		return nil
	}
	f.lastProcessed = orphaned - 1

	prev, err := f.store.L2Header(f.lastProcessed)
	if err == nil {
		f.lastHash = prev.Hash
		return nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return err
	}
	// No stored header below the rollback point; trust the chain.
	blk, err := f.source.GetBlockByHeight(ctx, f.lastProcessed)
	if err != nil || blk == nil {
		return fmt.Errorf("refetch block %d after rollback: %w", f.lastProcessed, err)
	}
	f.lastHash = blk.Hash.Hex()
	return nil
}

// withdrawalMatches extracts one match per WithdrawalQueued log emitted by
// the moat contract in transactions addressed to it.
func (f *L2Follower) withdrawalMatches(ctx context.Context, blk *web3.BlockWithTxs) ([]store.L2Match, error) {
	var matches []store.L2Match
	for _, tx := range blk.Transactions {
		if tx.To == nil || *tx.To != f.moat {
			continue
		}
		receipt, err := f.source.GetReceipt(ctx, tx.Hash)
		if err != nil {
			return nil, fmt.Errorf("receipt %s: %w", tx.Hash.Hex(), err)
		}
		for _, lg := range receipt.Logs {
			if lg.Address != f.moat || len(lg.Topics) == 0 || lg.Topics[0] != contracts.WithdrawalQueuedTopic {
				continue
			}
			amount, err := contracts.DecodeWithdrawalAmount(lg.Data)
			if err != nil {
				log.Warnw("undecodable withdrawal event", "tx", tx.Hash.Hex(), "error", err)
				continue
			}
			matches = append(matches, store.L2Match{
				UID:       contracts.UIDFromAmount(amount),
				TxHash:    tx.Hash.Hex(),
				Height:    uint64(blk.Number),
				Timestamp: uint64(blk.Timestamp),
			})
		}
	}
	return matches, nil
}
