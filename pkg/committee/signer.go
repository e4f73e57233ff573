package committee

import (
	"crypto/ecdsa"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/mysocial/bridge-relayers/pkg/bridge"
)

// SignAction produces the 65 byte recoverable signature [r || s || v] over
// the signing digest, with v in {0, 1}.
func SignAction(key *ecdsa.PrivateKey, action bridge.Action) ([]byte, error) {
	digest, err := bridge.SigningDigest(action)
	if err != nil {
		return nil, err
	}
	return crypto.Sign(digest.Bytes(), key)
}

// RecoverSigner accepts v in {0, 1} or {27, 28}.
func RecoverSigner(action bridge.Action, signature []byte) (common.Address, error) {
	if len(signature) != crypto.SignatureLength {
		return common.Address{}, fmt.Errorf("%w: length %d", ErrInvalidSignature, len(signature))
	}
	digest, err := bridge.SigningDigest(action)
	if err != nil {
		return common.Address{}, err
	}
	sig := append([]byte(nil), signature...)
	if sig[crypto.RecoveryIDOffset] >= 27 {
		sig[crypto.RecoveryIDOffset] -= 27
	}
	pub, err := crypto.SigToPub(digest.Bytes(), sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// AuthoritySigner is the signing side of one committee member.
type AuthoritySigner struct {
	key      *ecdsa.PrivateKey
	address  common.Address
	verifier *GovernanceVerifier
}

func NewAuthoritySigner(key *ecdsa.PrivateKey, verifier *GovernanceVerifier) *AuthoritySigner {
	return &AuthoritySigner{key: key, address: crypto.PubkeyToAddress(key.PublicKey), verifier: verifier}
}

func (s *AuthoritySigner) Address() common.Address {
	return s.address
}

// Sign refuses governance actions missing from the allow-list.
func (s *AuthoritySigner) Sign(action bridge.Action) ([]byte, error) {
	if bridge.IsGovernance(action) {
		if err := s.verifier.Verify(action); err != nil {
			return nil, err
		}
	}
	return SignAction(s.key, action)
}
