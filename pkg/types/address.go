package types

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

const (
	NativeAddressLength = 32
	EvmAddressLength    = common.AddressLength
)

// NativeAddress is an account address on the MySo chain.
type NativeAddress [NativeAddressLength]byte

func ParseNativeAddress(s string) (NativeAddress, error) {
	var addr NativeAddress
	raw, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(s), "0x"))
	if err != nil {
		return addr, fmt.Errorf("invalid native address %q: %w", s, err)
	}
	return NativeAddressFromBytes(raw)
}

func NativeAddressFromBytes(b []byte) (NativeAddress, error) {
	var addr NativeAddress
	if len(b) != NativeAddressLength {
		return addr, fmt.Errorf("%w: native address must be %d bytes, got %d", ErrInvalidAddressLength, NativeAddressLength, len(b))
	}
	copy(addr[:], b)
	return addr, nil
}

func (a NativeAddress) Hex() string {
	return "0x" + hex.EncodeToString(a[:])
}

func (a NativeAddress) String() string {
	return a.Hex()
}

func (a NativeAddress) Bytes() []byte {
	return a[:]
}

func (a NativeAddress) IsZero() bool {
	return a == NativeAddress{}
}

func ParseEvmAddress(s string) (common.Address, error) {
	s = strings.TrimSpace(s)
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("invalid evm address %q", s)
	}
	return common.HexToAddress(s), nil
}

func EvmAddressFromBytes(b []byte) (common.Address, error) {
	if len(b) != EvmAddressLength {
		return common.Address{}, fmt.Errorf("%w: evm address must be %d bytes, got %d", ErrInvalidAddressLength, EvmAddressLength, len(b))
	}
	return common.BytesToAddress(b), nil
}

// CheckAddressLength validates raw address bytes against the chain they belong to.
func CheckAddressLength(chain BridgeChainId, addr []byte) error {
	if want := chain.AddressLength(); len(addr) != want {
		return fmt.Errorf("%w: %s address must be %d bytes, got %d", ErrInvalidAddressLength, chain, want, len(addr))
	}
	return nil
}

func (a NativeAddress) MarshalText() ([]byte, error) {
	return []byte(a.Hex()), nil
}

func (a *NativeAddress) UnmarshalText(text []byte) error {
	parsed, err := ParseNativeAddress(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}
