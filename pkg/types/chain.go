package types

import (
	"fmt"
	"strings"
)

// BridgeChainId identifies a chain on either side of the bridge. It is
// encoded on the wire as a single byte.
type BridgeChainId uint8

const (
	MySoMainnet BridgeChainId = 0
	MySoTestnet BridgeChainId = 1
	MySoCustom  BridgeChainId = 2

	EthMainnet BridgeChainId = 10
	EthSepolia BridgeChainId = 11
	EthCustom  BridgeChainId = 12
)

var chainNames = map[BridgeChainId]string{
	MySoMainnet: "MySoMainnet",
	MySoTestnet: "MySoTestnet",
	MySoCustom:  "MySoCustom",
	EthMainnet:  "EthMainnet",
	EthSepolia:  "EthSepolia",
	EthCustom:   "EthCustom",
}

func ParseChainId(id uint8) (BridgeChainId, error) {
	chain := BridgeChainId(id)
	if _, ok := chainNames[chain]; !ok {
		return 0, fmt.Errorf("%w: %d", ErrUnknownChain, id)
	}
	return chain, nil
}

// ParseChainName accepts the enum names case-insensitively.
func ParseChainName(name string) (BridgeChainId, error) {
	for id, n := range chainNames {
		if strings.EqualFold(n, name) {
			return id, nil
		}
	}
	return 0, fmt.Errorf("%w: %s", ErrUnknownChain, name)
}

func (c BridgeChainId) String() string {
	if name, ok := chainNames[c]; ok {
		return name
	}
	return fmt.Sprintf("BridgeChainId(%d)", uint8(c))
}

func (c BridgeChainId) IsNative() bool {
	return c == MySoMainnet || c == MySoTestnet || c == MySoCustom
}

func (c BridgeChainId) IsEvm() bool {
	return c == EthMainnet || c == EthSepolia || c == EthCustom
}

// AddressLength is the byte length of an account address on the chain.
func (c BridgeChainId) AddressLength() int {
	if c.IsNative() {
		return NativeAddressLength
	}
	return EvmAddressLength
}

// IsValidRoute reports whether assets may move between the two chains.
// Mainnets only pair with each other.
func IsValidRoute(a, b BridgeChainId) bool {
	if a.IsNative() == b.IsNative() {
		return false
	}
	native, evm := a, b
	if b.IsNative() {
		native, evm = b, a
	}
	if !native.IsNative() || !evm.IsEvm() {
		return false
	}
	if native == MySoMainnet || evm == EthMainnet {
		return native == MySoMainnet && evm == EthMainnet
	}
	return true
}
