package loadgen

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/moatlabs/surge/log"
	"github.com/moatlabs/surge/web3"
)

const (
	// blockWaitBudget bounds how long the scan waits for the next block to
	// appear before giving up on the whole scan.
	blockWaitBudget = 10 * time.Second
	// scanPollInterval paces retries while waiting for a block.
	scanPollInterval = 500 * time.Millisecond
	// blockCacheSize bounds the LRU of fetched blocks; each height is
	// fetched from the node at most once.
	blockCacheSize = 1024
)

// BlockStat is the per-block row of the results report.
type BlockStat struct {
	Height      uint64         `json:"height"`
	GasUsed     hexutil.Uint64 `json:"gasUsed"`
	GasLimit    hexutil.Uint64 `json:"gasLimit"`
	NumTxs      int            `json:"numTxs"`
	Utilization float64        `json:"utilization"`
	TPS         float64        `json:"tps"`
}

// Results is the run summary dumped as JSON.
type Results struct {
	RunID      string      `json:"runId"`
	TPS        uint64      `json:"tps"`
	Blocks     []BlockStat `json:"blocks"`
	Found      int         `json:"found"`
	Submitted  int         `json:"submitted"`
	StartedAt  time.Time   `json:"startedAt"`
	FinishedAt time.Time   `json:"finishedAt"`
}

// StatCollector discovers which block each submitted hash landed in by
// scanning blocks sequentially, then aggregates per-block throughput and
// utilization.
type StatCollector struct {
	node  Node
	cache *lru.Cache[uint64, *web3.Block]
}

// NewStatCollector builds a collector.
func NewStatCollector(node Node) (*StatCollector, error) {
	cache, err := lru.New[uint64, *web3.Block](blockCacheSize)
	if err != nil {
		return nil, fmt.Errorf("block cache: %w", err)
	}
	return &StatCollector{node: node, cache: cache}, nil
}

// Collect scans from start upward until either every hash is found and the
// node's pending count is zero, or no new block appears for the wait
// budget. Per-block errors are warnings; the summary reports found/total.
func (sc *StatCollector) Collect(ctx context.Context, hashes []common.Hash, start uint64) (*Results, error) {
	res := &Results{
		RunID:     uuid.New().String(),
		Submitted: len(hashes),
		StartedAt: time.Now(),
	}
	wanted := make(map[common.Hash]bool, len(hashes))
	for _, h := range hashes {
		wanted[h] = true
	}

	heightOf := make(map[common.Hash]uint64, len(hashes))
	height := start
	var waitStart time.Time

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		pending, err := sc.node.PendingTxCount(ctx)
		if err != nil {
			log.Warnw("pending count unavailable", "error", err)
			pending = 1 // unknown, assume work remains
		}
		if pending == 0 && len(heightOf) == len(wanted) {
			log.Infow("scan complete", "found", len(heightOf), "height", height)
			break
		}

		blk, err := sc.fetchBlock(ctx, height)
		if err != nil {
			log.Warnw("block fetch failed", "height", height, "error", err)
		}
		if blk == nil {
			if waitStart.IsZero() {
				waitStart = time.Now()
			} else if time.Since(waitStart) > blockWaitBudget {
				log.Warnw("no new block within wait budget, terminating scan",
					"height", height, "found", len(heightOf), "of", len(wanted))
				break
			}
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(scanPollInterval):
			}
			continue
		}
		waitStart = time.Time{}

		for _, h := range blk.Transactions {
			if wanted[h] {
				heightOf[h] = height
			}
		}
		height++
	}

	res.Found = len(heightOf)
	if err := sc.aggregate(ctx, heightOf, res); err != nil {
		return nil, err
	}
	res.FinishedAt = time.Now()
	return res, nil
}

// fetchBlock reads a block through the cache; a nil block without error
// means the height does not exist yet.
func (sc *StatCollector) fetchBlock(ctx context.Context, height uint64) (*web3.Block, error) {
	if blk, ok := sc.cache.Get(height); ok {
		return blk, nil
	}
	blk, err := sc.node.GetBlockByHeight(ctx, height)
	if err != nil {
		return nil, err
	}
	if blk != nil {
		sc.cache.Add(height, blk)
	}
	return blk, nil
}

// aggregate computes per-block stats for every distinct height referenced
// by a found hash, plus the overall TPS.
func (sc *StatCollector) aggregate(ctx context.Context, heightOf map[common.Hash]uint64, res *Results) error {
	counts := make(map[uint64]int)
	for _, h := range heightOf {
		counts[h]++
	}
	heights := make([]uint64, 0, len(counts))
	for h := range counts {
		heights = append(heights, h)
	}
	sort.Slice(heights, func(i, j int) bool { return heights[i] < heights[j] })

	var totalTxs int
	var totalSpan uint64
	var prev *web3.Block
	for _, height := range heights {
		blk, err := sc.fetchBlock(ctx, height)
		if err != nil || blk == nil {
			log.Warnw("block unavailable for aggregation", "height", height, "error", err)
			continue
		}
		stat := BlockStat{
			Height:   height,
			GasUsed:  blk.GasUsed,
			GasLimit: blk.GasLimit,
			NumTxs:   len(blk.Transactions),
		}
		if blk.GasLimit > 0 {
			stat.Utilization = math.Round(float64(blk.GasUsed)/float64(blk.GasLimit)*100*100) / 100
		}
		if prev != nil && blk.Timestamp > prev.Timestamp {
			span := uint64(blk.Timestamp - prev.Timestamp)
			stat.TPS = float64(len(blk.Transactions)) / float64(span)
			totalSpan += span
			totalTxs += len(blk.Transactions)
		}
		res.Blocks = append(res.Blocks, stat)
		prev = blk
	}
	if totalSpan > 0 {
		res.TPS = uint64(math.Ceil(float64(totalTxs) / float64(totalSpan)))
	}
	return nil
}

// WriteJSON dumps the results to path.
func (r *Results) WriteJSON(path string) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("encode results: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write results: %w", err)
	}
	return nil
}
