package config

import (
	"crypto/ecdsa"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/kelseyhightower/envconfig"
	hdwallet "github.com/miguelmota/go-ethereum-hdwallet"
)

// Secrets never live in the config files.
type Secrets struct {
	DepositMnemonic       string `envconfig:"DEPOSIT_MNEMONIC"`
	RelayerEvmPrivateKey  string `envconfig:"RELAYER_EVM_PRIVATE_KEY"`
	RelayerEvmMnemonic    string `envconfig:"RELAYER_EVM_MNEMONIC"`
	RelayerEvmWalletIndex uint32 `envconfig:"RELAYER_EVM_WALLET_INDEX"`
	RelayerNativeKey      string `envconfig:"RELAYER_MYSO_PRIVATE_KEY"`
	AuthorityPrivateKey   string `envconfig:"AUTHORITY_PRIVATE_KEY"`
}

func LoadSecrets() (*Secrets, error) {
	var secrets Secrets
	if err := envconfig.Process("", &secrets); err != nil {
		return nil, fmt.Errorf("failed to read secrets from environment: %w", err)
	}
	return &secrets, nil
}

// RelayerEvmKey returns the funding and governance key, either given directly
// or derived at m/44'/60'/0'/0/{index} from a mnemonic.
func (s *Secrets) RelayerEvmKey() (*ecdsa.PrivateKey, error) {
	if s.RelayerEvmPrivateKey != "" {
		key, err := crypto.HexToECDSA(strings.TrimPrefix(s.RelayerEvmPrivateKey, "0x"))
		if err != nil {
			return nil, fmt.Errorf("invalid RELAYER_EVM_PRIVATE_KEY: %w", err)
		}
		return key, nil
	}
	if s.RelayerEvmMnemonic == "" {
		return nil, fmt.Errorf("no relayer evm key configured")
	}
	wallet, err := hdwallet.NewFromMnemonic(s.RelayerEvmMnemonic)
	if err != nil {
		return nil, fmt.Errorf("failed to create wallet from mnemonic: %w", err)
	}
	path, err := hdwallet.ParseDerivationPath(fmt.Sprintf("m/44'/60'/0'/0/%d", s.RelayerEvmWalletIndex))
	if err != nil {
		return nil, err
	}
	account, err := wallet.Derive(path, false)
	if err != nil {
		return nil, fmt.Errorf("failed to derive account: %w", err)
	}
	return wallet.PrivateKey(account)
}

func (s *Secrets) AuthorityKey() (*ecdsa.PrivateKey, error) {
	if s.AuthorityPrivateKey == "" {
		return nil, fmt.Errorf("AUTHORITY_PRIVATE_KEY is not set")
	}
	key, err := crypto.HexToECDSA(strings.TrimPrefix(s.AuthorityPrivateKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid AUTHORITY_PRIVATE_KEY: %w", err)
	}
	return key, nil
}
