// Package wallet derives the account fleet used by a load run from a single
// mnemonic seed, and tracks locally assigned nonces per address.
//
// Index 0 is the funder: the only account holding native currency (and the
// token supply) at the start of a run. Every index >= 1 is a sub-account.
package wallet

import (
	"crypto/ecdsa"
	"fmt"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	bip39 "github.com/tyler-smith/go-bip39"
)

// pathFormat is the standard ethereum BIP-44 derivation path; the account
// index is the last (non-hardened) component.
const pathFormat = "m/44'/60'/0'/0/%d"

// Account is a derived signing identity plus its locally tracked nonce.
type Account struct {
	Index     uint32
	Address   common.Address
	PrivKey   *ecdsa.PrivateKey
	NextNonce uint64
}

// Deriver derives accounts from a mnemonic. It is stateless after New; all
// derivations are pure functions of (seed, index).
type Deriver struct {
	masterKey *hdkeychain.ExtendedKey
}

// NewDeriver validates the mnemonic and prepares the BIP-32 master key.
// An invalid mnemonic is a fatal configuration error for the whole run.
func NewDeriver(mnemonic string) (*Deriver, error) {
	if !bip39.IsMnemonicValid(mnemonic) {
		return nil, fmt.Errorf("invalid mnemonic seed")
	}
	seed := bip39.NewSeed(mnemonic, "")
	masterKey, err := hdkeychain.NewMaster(seed, &chaincfg.MainNetParams)
	if err != nil {
		return nil, fmt.Errorf("derive master key: %w", err)
	}
	return &Deriver{masterKey: masterKey}, nil
}

// Derive returns the account at m/44'/60'/0'/0/index.
func (d *Deriver) Derive(index uint32) (*Account, error) {
	path, err := accounts.ParseDerivationPath(fmt.Sprintf(pathFormat, index))
	if err != nil {
		return nil, fmt.Errorf("parse derivation path for index %d: %w", index, err)
	}

	key := d.masterKey
	for _, n := range path {
		var err error
		key, err = key.Derive(n)
		if err != nil {
			return nil, fmt.Errorf("derive path component %d for index %d: %w", n, index, err)
		}
	}
	btcecPriv, err := key.ECPrivKey()
	if err != nil {
		return nil, fmt.Errorf("extract private key for index %d: %w", index, err)
	}
	// Rebuild the key through geth's crypto package: its signer compares the
	// curve by instance, so a btcec-built key is rejected even though the
	// curve and key bytes are identical.
	privKey, err := crypto.ToECDSA(btcecPriv.Serialize())
	if err != nil {
		return nil, fmt.Errorf("convert private key for index %d: %w", index, err)
	}
	return &Account{
		Index:   index,
		Address: crypto.PubkeyToAddress(privKey.PublicKey),
		PrivKey: privKey,
	}, nil
}

// DeriveRange returns accounts for indices [start, start+count).
func (d *Deriver) DeriveRange(start, count uint32) ([]*Account, error) {
	out := make([]*Account, 0, count)
	for i := start; i < start+count; i++ {
		acc, err := d.Derive(i)
		if err != nil {
			return nil, err
		}
		out = append(out, acc)
	}
	return out, nil
}
