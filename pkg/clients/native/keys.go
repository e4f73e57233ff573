package native

import (
	"bytes"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/btcutil/bech32"
	"github.com/mysocial/bridge-relayers/pkg/bcs"
	"github.com/mysocial/bridge-relayers/pkg/types"
	"golang.org/x/crypto/blake2b"
)

const (
	// Secp256k1Flag prefixes serialized signatures and address preimages.
	Secp256k1Flag byte = 0x01
	PrivateKeyHRP      = "mysoprivkey"

	signatureLength  = 64
	serializedSigLen = 1 + signatureLength + btcec.PubKeyBytesLenCompressed
)

var (
	intentTransaction     = []byte{0, 0, 0}
	intentPersonalMessage = []byte{3, 0, 0}

	ErrUnsupportedScheme = errors.New("unsupported signature scheme")
	ErrBadSignature      = errors.New("signature verification failed")
)

// Signer holds a secp256k1 account key on the native chain.
type Signer struct {
	key     *btcec.PrivateKey
	address types.NativeAddress
}

func NewSigner(key *btcec.PrivateKey) *Signer {
	return &Signer{
		key:     key,
		address: AddressFromPublicKey(key.PubKey()),
	}
}

func SignerFromBytes(raw []byte) (*Signer, error) {
	if len(raw) != btcec.PrivKeyBytesLen {
		return nil, fmt.Errorf("private key must be %d bytes, got %d", btcec.PrivKeyBytesLen, len(raw))
	}
	key, _ := btcec.PrivKeyFromBytes(raw)
	return NewSigner(key), nil
}

// ParsePrivateKey accepts the bech32 "mysoprivkey1..." export format or a
// hex encoded 32-byte secret.
func ParsePrivateKey(s string) (*Signer, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, PrivateKeyHRP+"1") {
		hrp, data, err := bech32.DecodeToBase256(s)
		if err != nil {
			return nil, fmt.Errorf("invalid bech32 private key: %w", err)
		}
		if hrp != PrivateKeyHRP {
			return nil, fmt.Errorf("unexpected key prefix %q", hrp)
		}
		if len(data) != 1+btcec.PrivKeyBytesLen {
			return nil, fmt.Errorf("private key payload must be %d bytes, got %d", 1+btcec.PrivKeyBytesLen, len(data))
		}
		if data[0] != Secp256k1Flag {
			return nil, fmt.Errorf("%w: flag %#x", ErrUnsupportedScheme, data[0])
		}
		return SignerFromBytes(data[1:])
	}
	raw, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid hex private key: %w", err)
	}
	return SignerFromBytes(raw)
}

func (s *Signer) EncodePrivateKey() (string, error) {
	payload := append([]byte{Secp256k1Flag}, s.key.Serialize()...)
	return bech32.EncodeFromBase256(PrivateKeyHRP, payload)
}

func (s *Signer) Address() types.NativeAddress {
	return s.address
}

// PublicKey is the 33-byte compressed key.
func (s *Signer) PublicKey() []byte {
	return s.key.PubKey().SerializeCompressed()
}

// AddressFromPublicKey is blake2b-256(flag || compressed public key).
func AddressFromPublicKey(pub *btcec.PublicKey) types.NativeAddress {
	return types.NativeAddress(blake2b.Sum256(append([]byte{Secp256k1Flag}, pub.SerializeCompressed()...)))
}

// SignTransaction returns the base64 serialized signature over TransactionData bytes.
func (s *Signer) SignTransaction(txBytes []byte) string {
	return s.sign(intentTransaction, txBytes)
}

// SignPersonalMessage signs msg the way wallets sign arbitrary text.
func (s *Signer) SignPersonalMessage(msg []byte) string {
	return s.sign(intentPersonalMessage, bcs.NewEncoder().ByteVector(msg).Bytes())
}

func (s *Signer) sign(intent, payload []byte) string {
	hash := signingHash(intent, payload)
	compact := ecdsa.SignCompact(s.key, hash[:], true)
	out := make([]byte, 0, serializedSigLen)
	out = append(out, Secp256k1Flag)
	out = append(out, compact[1:]...)
	out = append(out, s.PublicKey()...)
	return base64.StdEncoding.EncodeToString(out)
}

// VerifyPersonalMessage checks a serialized signature over msg and returns
// the address of the signing key.
func VerifyPersonalMessage(msg []byte, signature string) (types.NativeAddress, error) {
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(signature))
	if err != nil {
		return types.NativeAddress{}, fmt.Errorf("signature is not base64: %w", err)
	}
	if len(raw) != serializedSigLen {
		return types.NativeAddress{}, fmt.Errorf("%w: serialized signature has %d bytes", ErrBadSignature, len(raw))
	}
	if raw[0] != Secp256k1Flag {
		return types.NativeAddress{}, fmt.Errorf("%w: flag %#x", ErrUnsupportedScheme, raw[0])
	}
	pub, err := btcec.ParsePubKey(raw[1+signatureLength:])
	if err != nil {
		return types.NativeAddress{}, fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	var r, sv btcec.ModNScalar
	if overflow := r.SetByteSlice(raw[1:33]); overflow {
		return types.NativeAddress{}, fmt.Errorf("%w: r overflows", ErrBadSignature)
	}
	if overflow := sv.SetByteSlice(raw[33 : 1+signatureLength]); overflow {
		return types.NativeAddress{}, fmt.Errorf("%w: s overflows", ErrBadSignature)
	}
	hash := signingHash(intentPersonalMessage, bcs.NewEncoder().ByteVector(msg).Bytes())
	if !ecdsa.NewSignature(&r, &sv).Verify(hash[:], pub) {
		return types.NativeAddress{}, ErrBadSignature
	}
	return AddressFromPublicKey(pub), nil
}

// signingHash is sha256(blake2b-256(intent || payload)).
func signingHash(intent, payload []byte) [32]byte {
	digest := blake2b.Sum256(bytes.Join([][]byte{intent, payload}, nil))
	return sha256.Sum256(digest[:])
}
