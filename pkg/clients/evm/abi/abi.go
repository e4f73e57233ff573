package contracts_abi

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

const messageTuple = `{"name": "message", "type": "tuple", "components": [
	{"name": "messageType", "type": "uint8"},
	{"name": "version", "type": "uint8"},
	{"name": "nonce", "type": "uint64"},
	{"name": "chainID", "type": "uint8"},
	{"name": "payload", "type": "bytes"}
]}`

func withSignatures(name string) string {
	return `{"type": "function", "name": "` + name + `", "stateMutability": "nonpayable",
		"inputs": [{"name": "signatures", "type": "bytes[]"}, ` + messageTuple + `], "outputs": []}`
}

var bridgeJSON = `[
	{"type": "function", "name": "bridgeERC20", "stateMutability": "nonpayable", "inputs": [
		{"name": "tokenID", "type": "uint8"},
		{"name": "amount", "type": "uint256"},
		{"name": "recipientAddress", "type": "bytes"},
		{"name": "destinationChainID", "type": "uint8"}
	], "outputs": []},
	` + withSignatures("transferBridgedTokensWithSignatures") + `,
	` + withSignatures("executeEmergencyOpWithSignatures") + `,
	{"type": "function", "name": "isTransferProcessed", "stateMutability": "view",
		"inputs": [{"name": "nonce", "type": "uint64"}], "outputs": [{"name": "", "type": "bool"}]},
	{"type": "function", "name": "paused", "stateMutability": "view",
		"inputs": [], "outputs": [{"name": "", "type": "bool"}]}
]`

var configJSON = `[
	{"type": "function", "name": "tokenAddressOf", "stateMutability": "view",
		"inputs": [{"name": "tokenID", "type": "uint8"}], "outputs": [{"name": "", "type": "address"}]},
	` + withSignatures("updateTokenPriceWithSignatures") + `,
	` + withSignatures("addTokensWithSignatures") + `
]`

var committeeJSON = `[` + withSignatures("updateBlocklistWithSignatures") + `]`

var limiterJSON = `[` + withSignatures("updateLimitWithSignatures") + `]`

var upgradeableJSON = `[` + withSignatures("upgradeWithSignatures") + `]`

var erc20JSON = `[
	{"type": "function", "name": "balanceOf", "stateMutability": "view",
		"inputs": [{"name": "account", "type": "address"}], "outputs": [{"name": "", "type": "uint256"}]},
	{"type": "function", "name": "approve", "stateMutability": "nonpayable",
		"inputs": [{"name": "spender", "type": "address"}, {"name": "amount", "type": "uint256"}],
		"outputs": [{"name": "", "type": "bool"}]},
	{"type": "function", "name": "decimals", "stateMutability": "view",
		"inputs": [], "outputs": [{"name": "", "type": "uint8"}]},
	{"type": "event", "name": "Transfer", "anonymous": false, "inputs": [
		{"indexed": true, "name": "from", "type": "address"},
		{"indexed": true, "name": "to", "type": "address"},
		{"indexed": false, "name": "value", "type": "uint256"}
	]}
]`

var (
	BridgeABI      = mustParse(bridgeJSON)
	ConfigABI      = mustParse(configJSON)
	CommitteeABI   = mustParse(committeeJSON)
	LimiterABI     = mustParse(limiterJSON)
	UpgradeableABI = mustParse(upgradeableJSON)
	ERC20ABI       = mustParse(erc20JSON)
)

// TransferEventID is the topic of Transfer(address,address,uint256).
var TransferEventID = ERC20ABI.Events["Transfer"].ID

// GovernanceABI returns the ABI declaring the given *WithSignatures method.
func GovernanceABI(method string) (abi.ABI, bool) {
	for _, candidate := range []abi.ABI{BridgeABI, ConfigABI, CommitteeABI, LimiterABI, UpgradeableABI} {
		if _, ok := candidate.Methods[method]; ok {
			return candidate, true
		}
	}
	return abi.ABI{}, false
}

func mustParse(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(err)
	}
	return parsed
}
