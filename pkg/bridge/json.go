package bridge

import (
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

// ActionEnvelope is the JSON form of an action: {"type": "...", "action": {...}}.
// Token transfers use "token_transfer" and "token_transfer_v2".
type ActionEnvelope struct {
	Type   string          `json:"type"`
	Action json.RawMessage `json:"action"`
}

func actionTypeName(a Action) string {
	if _, ok := a.(*TokenTransferV2Action); ok {
		return "token_transfer_v2"
	}
	return a.Type().String()
}

func MarshalAction(a Action) ([]byte, error) {
	body, err := json.Marshal(a)
	if err != nil {
		return nil, err
	}
	return json.Marshal(ActionEnvelope{Type: actionTypeName(a), Action: body})
}

func UnmarshalAction(data []byte) (Action, error) {
	var env ActionEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode action envelope: %w", err)
	}
	return env.Decode()
}

func (env ActionEnvelope) Decode() (Action, error) {
	var action Action
	switch env.Type {
	case "emergency_button":
		action = &EmergencyAction{}
	case "update_committee_blocklist":
		return decodeBlocklist(env.Action)
	case "limit_update":
		action = &LimitUpdateAction{}
	case "asset_price_update":
		action = &AssetPriceUpdateAction{}
	case "evm_contract_upgrade":
		action = &EvmContractUpgradeAction{}
	case "add_tokens_on_myso":
		action = &AddTokensOnMySoAction{}
	case "add_tokens_on_evm":
		action = &AddTokensOnEvmAction{}
	case "token_transfer":
		action = &TokenTransferAction{}
	case "token_transfer_v2":
		action = &TokenTransferV2Action{}
	default:
		return nil, fmt.Errorf("%w: unknown action type %q", ErrInvalidAction, env.Type)
	}
	if err := json.Unmarshal(env.Action, action); err != nil {
		return nil, fmt.Errorf("decode %s action: %w", env.Type, err)
	}
	if _, err := action.Payload(); err != nil {
		return nil, err
	}
	return action, nil
}

// decodeBlocklist accepts member addresses or compressed authority keys.
func decodeBlocklist(raw json.RawMessage) (Action, error) {
	var body struct {
		BlocklistCommitteeAction
		MemberPubkeys []hexutil.Bytes `json:"memberPubkeys"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, fmt.Errorf("decode update_committee_blocklist action: %w", err)
	}
	action := body.BlocklistCommitteeAction
	if len(body.MemberPubkeys) > 0 {
		pubkeys := make([][]byte, len(body.MemberPubkeys))
		for i, pk := range body.MemberPubkeys {
			pubkeys[i] = pk
		}
		fromKeys, err := NewBlocklistCommitteeAction(action.ActionHeader, action.BlocklistType, pubkeys)
		if err != nil {
			return nil, err
		}
		action.Members = append(action.Members, fromKeys.Members...)
	}
	return &action, nil
}
