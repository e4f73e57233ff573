package deposit

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"

	"github.com/cosmos/go-bip39"
	"github.com/ethereum/go-ethereum/crypto"
	hdwallet "github.com/miguelmota/go-ethereum-hdwallet"
	"github.com/mysocial/bridge-relayers/pkg/clients/native"
	"github.com/mysocial/bridge-relayers/pkg/db"
	"github.com/mysocial/bridge-relayers/pkg/types"
)

const (
	EvmDerivationPath    = "m/44'/60'/0'/0/%d"
	NativeDerivationPath = "m/54'/784'/0'/0/%d"

	// MaxHDIndex keeps the last path component a non-hardened child.
	MaxHDIndex = 1<<31 - 1
)

var (
	ErrInvalidMnemonic = errors.New("invalid deposit mnemonic")
	ErrIndexOutOfRange = errors.New("hd index out of range")
)

// AddressManager derives custodial deposit addresses from one master mnemonic
// and hands out fresh HD indices per chain family.
type AddressManager struct {
	wallet *hdwallet.Wallet
	store  db.Store
}

func NewAddressManager(mnemonic string, store db.Store) (*AddressManager, error) {
	if !bip39.IsMnemonicValid(mnemonic) {
		return nil, ErrInvalidMnemonic
	}
	seed, err := bip39.NewSeedWithErrorChecking(mnemonic, "")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMnemonic, err)
	}
	wallet, err := hdwallet.NewFromSeed(seed)
	if err != nil {
		return nil, fmt.Errorf("failed to create wallet from seed: %w", err)
	}
	return &AddressManager{wallet: wallet, store: store}, nil
}

func counterNamespace(chain types.BridgeChainId) string {
	if chain.IsNative() {
		return db.NativeHDCounter
	}
	return db.EvmHDCounter
}

// AllocateNextIndex returns the next unused index for the chain family.
// Allocated indices are never handed out again, even when the caller fails.
func (m *AddressManager) AllocateNextIndex(ctx context.Context, chain types.BridgeChainId) (uint64, error) {
	index, err := m.store.IncrementCounter(ctx, counterNamespace(chain))
	if err != nil {
		return 0, fmt.Errorf("failed to allocate %s hd index: %w", counterNamespace(chain), err)
	}
	if index > MaxHDIndex {
		return 0, fmt.Errorf("%w: %d", ErrIndexOutOfRange, index)
	}
	return index, nil
}

func (m *AddressManager) derive(pathFormat string, index uint64) (*ecdsa.PrivateKey, error) {
	if index > MaxHDIndex {
		return nil, fmt.Errorf("%w: %d", ErrIndexOutOfRange, index)
	}
	path, err := hdwallet.ParseDerivationPath(fmt.Sprintf(pathFormat, index))
	if err != nil {
		return nil, err
	}
	account, err := m.wallet.Derive(path, false)
	if err != nil {
		return nil, fmt.Errorf("failed to derive index %d: %w", index, err)
	}
	return m.wallet.PrivateKey(account)
}

func (m *AddressManager) DeriveEvmKey(index uint64) (*ecdsa.PrivateKey, error) {
	return m.derive(EvmDerivationPath, index)
}

func (m *AddressManager) DeriveNativeSigner(index uint64) (*native.Signer, error) {
	key, err := m.derive(NativeDerivationPath, index)
	if err != nil {
		return nil, err
	}
	return native.SignerFromBytes(crypto.FromECDSA(key))
}

// DeriveAddress returns the raw deposit address for chain at index.
func (m *AddressManager) DeriveAddress(chain types.BridgeChainId, index uint64) ([]byte, error) {
	if chain.IsNative() {
		signer, err := m.DeriveNativeSigner(index)
		if err != nil {
			return nil, err
		}
		addr := signer.Address()
		return addr[:], nil
	}
	key, err := m.DeriveEvmKey(index)
	if err != nil {
		return nil, err
	}
	return crypto.PubkeyToAddress(key.PublicKey).Bytes(), nil
}

// Resolve maps an issued deposit address back to its registration.
func (m *AddressManager) Resolve(ctx context.Context, depositAddress []byte) (*types.DepositRegistration, error) {
	reg, err := m.store.FindRegistrationByDepositAddress(ctx, depositAddress)
	if err != nil {
		return nil, err
	}
	return reg, nil
}
