package loadgen

import (
	"crypto/ecdsa"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	gtypes "github.com/ethereum/go-ethereum/core/types"
)

// signLegacy signs a legacy transaction and returns its wire encoding plus
// the hash to wait on.
func signLegacy(key *ecdsa.PrivateKey, chainID *big.Int, tx *gtypes.LegacyTx) ([]byte, common.Hash, error) {
	signed, err := gtypes.SignTx(gtypes.NewTx(tx), gtypes.LatestSignerForChainID(chainID), key)
	if err != nil {
		return nil, common.Hash{}, fmt.Errorf("sign: %w", err)
	}
	raw, err := signed.MarshalBinary()
	if err != nil {
		return nil, common.Hash{}, fmt.Errorf("encode signed tx: %w", err)
	}
	return raw, signed.Hash(), nil
}
