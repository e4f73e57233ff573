package bridge

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// EvmContracts are the proxy addresses of the bridge deployment on an EVM chain.
type EvmContracts struct {
	BridgeProxy common.Address
	Committee   common.Address
	Limiter     common.Address
	Config      common.Address
}

// SelectTargetContract returns the EVM contract that executes a governance action.
func SelectTargetContract(a Action, contracts EvmContracts) (common.Address, error) {
	switch action := a.(type) {
	case *EmergencyAction:
		return contracts.BridgeProxy, nil
	case *BlocklistCommitteeAction:
		return contracts.Committee, nil
	case *LimitUpdateAction:
		return contracts.Limiter, nil
	case *AssetPriceUpdateAction:
		return contracts.Config, nil
	case *AddTokensOnEvmAction:
		return contracts.Config, nil
	case *EvmContractUpgradeAction:
		return action.ProxyAddress, nil
	case *AddTokensOnMySoAction, *TokenTransferAction, *TokenTransferV2Action:
		return common.Address{}, fmt.Errorf("%w: %s", ErrNotEvmGovernance, a.Type())
	}
	return common.Address{}, fmt.Errorf("%w: %T", ErrInvalidAction, a)
}

// EvmGovernanceMethod names the contract function that accepts the signed
// message for a governance action.
func EvmGovernanceMethod(a Action) (string, error) {
	switch action := a.(type) {
	case *EmergencyAction:
		return "executeEmergencyOpWithSignatures", nil
	case *BlocklistCommitteeAction:
		return "updateBlocklistWithSignatures", nil
	case *LimitUpdateAction:
		return "updateLimitWithSignatures", nil
	case *AssetPriceUpdateAction:
		return "updateTokenPriceWithSignatures", nil
	case *AddTokensOnEvmAction:
		return "addTokensWithSignatures", nil
	case *EvmContractUpgradeAction:
		return "upgradeWithSignatures", nil
	case *AddTokensOnMySoAction, *TokenTransferAction, *TokenTransferV2Action:
		return "", fmt.Errorf("%w: %s", ErrNotEvmGovernance, action.Type())
	}
	return "", fmt.Errorf("%w: %T", ErrInvalidAction, a)
}
