package loadgen

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"runtime"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	gtypes "github.com/ethereum/go-ethereum/core/types"
	"golang.org/x/sync/errgroup"

	"github.com/moatlabs/surge/log"
)

// signProgressStep is how often each worker reports progress.
const signProgressStep = 256

// SignedTx is one signed transaction together with the ordering metadata
// the submitter needs.
type SignedTx struct {
	GlobalIndex int
	SenderIndex int
	From        common.Address
	Nonce       uint64
	Hash        common.Hash
	Raw         []byte
}

// Signer signs TxSpecs offline over a fixed worker pool. Each worker gets a
// contiguous slice of the build-order list; results are merged back by
// global index so per-sender nonce order survives.
type Signer struct {
	keys    map[common.Address]*ecdsa.PrivateKey
	workers int
}

// NewSigner builds a signer for the given accounts. workers <= 0 selects
// the CPU count.
func NewSigner(keys map[common.Address]*ecdsa.PrivateKey, workers int) *Signer {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	return &Signer{keys: keys, workers: workers}
}

/// Sign signs every spec. A failure in any slice is fatal: a missing
// signature would break its sender's nonce chain.
func (s *Signer) Sign(ctx context.Context, specs []*TxSpec) ([]*SignedTx, error) {
	if len(specs) == 0 {
		return nil, nil
	}
	workers := s.workers
	if workers > len(specs) {
		workers = len(specs)
	}

	out := make([]*SignedTx, len(specs))
	g, ctx := errgroup.WithContext(ctx)
	per := (len(specs) + workers - 1) / workers
	for w := 0; w < workers; w++ {
		start := w * per
		if start >= len(specs) {
			break
		}
		end := start + per
		if end > len(specs) {
			end = len(specs)
		}
		g.Go(func() error {
			return s.signSlice(ctx, specs[start:end], out[start:end], start)
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.Slice(out, func(i, j int) bool { return out[i].GlobalIndex < out[j].GlobalIndex })
	return out, nil
}

func (s *Signer) signSlice(ctx context.Context, specs []*TxSpec, out []*SignedTx, base int) error {
	for i, spec := range specs {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		signed, err := s.signOne(spec)
		if err != nil {
			return fmt.Errorf("sign tx %d (sender %s nonce %d): %w",
				base+i, spec.From.Hex(), spec.Nonce, err)
		}
		out[i] = signed
		if (i+1)%signProgressStep == 0 {
			log.Debugw("signing progress", "worker_base", base, "signed", i+1, "of", len(specs))
		}
	}
	return nil
}

func (s *Signer) signOne(spec *TxSpec) (*SignedTx, error) {
	key, ok := s.keys[spec.From]
	if !ok {
		return nil, fmt.Errorf("no key for %s", spec.From.Hex())
	}
	tx := gtypes.NewTx(&gtypes.LegacyTx{
		Nonce:    spec.Nonce,
		GasPrice: spec.GasPrice,
		Gas:      spec.GasLimit,
		To:       spec.To,
		Value:    spec.Value,
		Data:     spec.Data,
	})
	signed, err := gtypes.SignTx(tx, gtypes.LatestSignerForChainID(spec.ChainID), key)
	if err != nil {
		return nil, err
	}
	raw, err := signed.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("encode signed tx: %w", err)
	}
	return &SignedTx{
		GlobalIndex: spec.GlobalIndex,
		SenderIndex: spec.SenderIndex,
		From:        spec.From,
		Nonce:       spec.Nonce,
		Hash:        signed.Hash(),
		Raw:         raw,
	}, nil
}
