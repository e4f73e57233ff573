package committee

import (
	"bytes"
	"fmt"

	"github.com/mysocial/bridge-relayers/pkg/bridge"
	"github.com/mysocial/bridge-relayers/pkg/types"
)

type governanceKey struct {
	Type    bridge.MessageType
	ChainID types.BridgeChainId
	Nonce   uint64
}

// GovernanceVerifier holds the governance actions this authority agreed to
// sign. An action passes only if an identical action is listed.
type GovernanceVerifier struct {
	approved map[governanceKey][]byte
}

func NewGovernanceVerifier(actions []bridge.Action) (*GovernanceVerifier, error) {
	v := &GovernanceVerifier{approved: make(map[governanceKey][]byte, len(actions))}
	for _, action := range actions {
		if !bridge.IsGovernance(action) {
			return nil, fmt.Errorf("%w: %s", bridge.ErrNotGovernanceAction, action.Type())
		}
		msg, err := bridge.ToMessage(action)
		if err != nil {
			return nil, err
		}
		v.approved[keyOf(action)] = msg.Bytes()
	}
	return v, nil
}

func (v *GovernanceVerifier) Verify(action bridge.Action) error {
	if !bridge.IsGovernance(action) {
		return fmt.Errorf("%w: %s", bridge.ErrNotGovernanceAction, action.Type())
	}
	approved, ok := v.approved[keyOf(action)]
	if !ok {
		return fmt.Errorf("%w: %s nonce %d on %s", ErrGovernanceNotApproved, action.Type(), action.Header().Nonce, action.Header().ChainID)
	}
	msg, err := bridge.ToMessage(action)
	if err != nil {
		return err
	}
	if !bytes.Equal(approved, msg.Bytes()) {
		return fmt.Errorf("%w: %s nonce %d differs from the approved action", ErrGovernanceNotApproved, action.Type(), action.Header().Nonce)
	}
	return nil
}

func keyOf(action bridge.Action) governanceKey {
	h := action.Header()
	return governanceKey{Type: action.Type(), ChainID: h.ChainID, Nonce: h.Nonce}
}
