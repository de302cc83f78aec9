package loadgen

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/moatlabs/surge/log"
	"github.com/moatlabs/surge/web3"
)

// Submitter ships signed queues to the node in HTTP-level batches. Each
// sender is statically bound to one worker (senderIndex mod W) and a worker
// dispatches its batches sequentially, so any sender's nonces arrive at the
// node in ascending order. Cross-sender ordering is best-effort.
type Submitter struct {
	node        Node
	batchSize   int
	concurrency int
}

// SubmitReport summarizes one submission round.
type SubmitReport struct {
	// Hashes of every transaction the node accepted.
	Hashes []common.Hash
	// Rejected counts per-element RPC errors (reported, not fatal).
	Rejected int
	// FailedBatches counts whole batches lost to transport failures.
	FailedBatches int
}

// NewSubmitter builds a submitter; batch and concurrency must be positive.
func NewSubmitter(node Node, batchSize, concurrency int) *Submitter {
	if batchSize <= 0 {
		batchSize = 1
	}
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Submitter{node: node, batchSize: batchSize, concurrency: concurrency}
}

// Submit sends every queue. Per-element errors and batch transport failures
// are accumulated in the report; only context cancellation aborts.
func (s *Submitter) Submit(ctx context.Context, queues [][]*SignedTx) (*SubmitReport, error) {
	if len(queues) == 0 {
		return &SubmitReport{}, nil
	}
	workers := s.concurrency
	if workers > len(queues) {
		workers = len(queues)
	}

	reports := make([]SubmitReport, workers)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.runWorker(ctx, w, workers, queues, &reports[w])
		}()
	}
	wg.Wait()
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	total := &SubmitReport{}
	for i := range reports {
		total.Hashes = append(total.Hashes, reports[i].Hashes...)
		total.Rejected += reports[i].Rejected
		total.FailedBatches += reports[i].FailedBatches
	}
	log.Infow("submission finished",
		"accepted", len(total.Hashes),
		"rejected", total.Rejected,
		"failed_batches", total.FailedBatches)
	return total, nil
}

// runWorker concatenates the queues owned by worker w in sender order,
// packs them into batches and dispatches the batches one after another.
func (s *Submitter) runWorker(ctx context.Context, w, workers int, queues [][]*SignedTx, report *SubmitReport) {
	var owned []*SignedTx
	for senderIdx := w; senderIdx < len(queues); senderIdx += workers {
		owned = append(owned, queues[senderIdx]...)
	}
	for _, batch := range GenerateBatches(owned, s.batchSize) {
		if ctx.Err() != nil {
			return
		}
		s.dispatch(ctx, batch, report)
	}
}

func (s *Submitter) dispatch(ctx context.Context, batch []*SignedTx, report *SubmitReport) {
	elems := make([]web3.BatchElem, len(batch))
	results := make([]common.Hash, len(batch))
	for i, tx := range batch {
		elems[i] = web3.BatchElem{
			Method: "eth_sendRawTransaction",
			Args:   []any{hexutil.Encode(tx.Raw)},
			Result: &results[i],
		}
	}
	if err := s.node.BatchCall(ctx, elems); err != nil {
		report.FailedBatches++
		log.Warnw("batch transport failure",
			"size", len(batch),
			"first_sender", batch[0].From.Hex(),
			"error", err)
		return
	}
	for i, elem := range elems {
		if elem.Error != nil {
			report.Rejected++
			log.Warnw("transaction rejected",
				"sender", batch[i].From.Hex(),
				"nonce", batch[i].Nonce,
				"error", elem.Error)
			continue
		}
		report.Hashes = append(report.Hashes, results[i])
	}
}
