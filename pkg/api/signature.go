package api

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/mysocial/bridge-relayers/pkg/clients/native"
	"github.com/mysocial/bridge-relayers/pkg/types"
)

var (
	ErrSignatureMismatch = errors.New("signature does not match address")
	ErrStaleTimestamp    = errors.New("timestamp too old or invalid")
)

func GenerateMessage(destinationChain, destinationAddress string, timestamp uint64) string {
	return fmt.Sprintf("Generate deposit for %s:%s at %d", destinationChain, destinationAddress, timestamp)
}

// LinkMessageForNative is signed by the native account.
func LinkMessageForNative(ethAddress string, timestamp uint64) string {
	return fmt.Sprintf("Link to ETH %s at %d", ethAddress, timestamp)
}

// LinkMessageForEvm is signed by the EVM account.
func LinkMessageForEvm(nativeAddress string, timestamp uint64) string {
	return fmt.Sprintf("Link to MYSO %s at %d", nativeAddress, timestamp)
}

// VerifyEthSignature checks an EIP-191 personal_sign signature over message.
func VerifyEthSignature(message, signature string, expected common.Address) error {
	if !strings.HasPrefix(signature, "0x") {
		signature = "0x" + signature
	}
	sig, err := hexutil.Decode(signature)
	if err != nil {
		return fmt.Errorf("failed to parse ethereum signature: %w", err)
	}
	if len(sig) != crypto.SignatureLength {
		return fmt.Errorf("failed to parse ethereum signature: expected %d bytes, got %d", crypto.SignatureLength, len(sig))
	}
	if sig[crypto.RecoveryIDOffset] >= 27 {
		sig[crypto.RecoveryIDOffset] -= 27
	}
	pub, err := crypto.SigToPub(accounts.TextHash([]byte(message)), sig)
	if err != nil {
		return fmt.Errorf("failed to recover ethereum signer: %w", err)
	}
	if recovered := crypto.PubkeyToAddress(*pub); recovered != expected {
		return fmt.Errorf("%w: recovered %s, expected %s", ErrSignatureMismatch, recovered.Hex(), expected.Hex())
	}
	return nil
}

// VerifyNativeSignature checks a base64 serialized personal message signature.
func VerifyNativeSignature(message, signature string, expected types.NativeAddress) error {
	signer, err := native.VerifyPersonalMessage([]byte(message), signature)
	if err != nil {
		return err
	}
	if signer != expected {
		return fmt.Errorf("%w: signed by %s, expected %s", ErrSignatureMismatch, signer, expected)
	}
	return nil
}

// CheckTimestamp accepts unix second timestamps no older than maxAge and no
// more than skew in the future.
func CheckTimestamp(now time.Time, timestamp uint64, maxAge, skew time.Duration) error {
	current := now.Unix()
	ts := int64(timestamp)
	if ts < 0 || ts > current+int64(skew/time.Second) {
		return fmt.Errorf("%w: %d is in the future", ErrStaleTimestamp, timestamp)
	}
	if current-ts > int64(maxAge/time.Second) {
		return fmt.Errorf("%w: %d is older than %s", ErrStaleTimestamp, timestamp, maxAge)
	}
	return nil
}
