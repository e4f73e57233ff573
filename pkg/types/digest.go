package types

import (
	"fmt"

	"github.com/btcsuite/btcd/btcutil/base58"
)

// TxDigest is a native chain transaction digest. Its text form is base58.
type TxDigest [32]byte

func ParseTxDigest(s string) (TxDigest, error) {
	var d TxDigest
	raw := base58.Decode(s)
	if len(raw) != len(d) {
		return d, fmt.Errorf("invalid transaction digest %q", s)
	}
	copy(d[:], raw)
	return d, nil
}

func (d TxDigest) String() string {
	return base58.Encode(d[:])
}

func (d TxDigest) IsZero() bool {
	return d == TxDigest{}
}

func (d TxDigest) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *TxDigest) UnmarshalText(text []byte) error {
	parsed, err := ParseTxDigest(string(text))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}
