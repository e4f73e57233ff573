package bridge

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/mysocial/bridge-relayers/pkg/bcs"
	"github.com/mysocial/bridge-relayers/pkg/types"
)

type MessageType uint8

const (
	TokenTransferMessage      MessageType = 0
	CommitteeBlocklistMessage MessageType = 1
	EmergencyButtonMessage    MessageType = 2
	LimitUpdateMessage        MessageType = 3
	AssetPriceUpdateMessage   MessageType = 4
	EvmContractUpgradeMessage MessageType = 5
	AddTokensOnMySoMessage    MessageType = 6
	AddTokensOnEvmMessage     MessageType = 7
)

// A new payload layout for an existing message type bumps the version.
const (
	TokenTransferMessageVersion      uint8 = 1
	TokenTransferMessageVersionV2    uint8 = 2
	CommitteeBlocklistMessageVersion uint8 = 1
	EmergencyButtonMessageVersion    uint8 = 1
	LimitUpdateMessageVersion        uint8 = 1
	AssetPriceUpdateMessageVersion   uint8 = 1
	EvmContractUpgradeMessageVersion uint8 = 1
	AddTokensOnMySoMessageVersion    uint8 = 1
	AddTokensOnEvmMessageVersion     uint8 = 1
)

var (
	ErrInvalidAction       = errors.New("invalid bridge action")
	ErrZeroValueTransfer   = errors.New("zero value bridge transfer")
	ErrNotEvmGovernance    = errors.New("action is not routed to an evm governance contract")
	ErrNotGovernanceAction = errors.New("action is not a governance action")
)

func (t MessageType) String() string {
	switch t {
	case TokenTransferMessage:
		return "token_transfer"
	case CommitteeBlocklistMessage:
		return "update_committee_blocklist"
	case EmergencyButtonMessage:
		return "emergency_button"
	case LimitUpdateMessage:
		return "limit_update"
	case AssetPriceUpdateMessage:
		return "asset_price_update"
	case EvmContractUpgradeMessage:
		return "evm_contract_upgrade"
	case AddTokensOnMySoMessage:
		return "add_tokens_on_myso"
	case AddTokensOnEvmMessage:
		return "add_tokens_on_evm"
	}
	return fmt.Sprintf("message_type(%d)", uint8(t))
}

// Action is a single cross-chain instruction. It is plain data: signing and
// submission are protocol states around it.
type Action interface {
	Type() MessageType
	Version() uint8
	Header() ActionHeader
	Payload() ([]byte, error)
	isAction()
}

type ActionHeader struct {
	Nonce   uint64              `json:"nonce"`
	ChainID types.BridgeChainId `json:"chainId"`
}

func (h ActionHeader) Header() ActionHeader { return h }

// IsGovernance reports whether the action has to pass the allow-list.
func IsGovernance(a Action) bool {
	switch a.(type) {
	case *EmergencyAction, *BlocklistCommitteeAction, *LimitUpdateAction, *AssetPriceUpdateAction,
		*EvmContractUpgradeAction, *AddTokensOnMySoAction, *AddTokensOnEvmAction:
		return true
	case *TokenTransferAction, *TokenTransferV2Action:
		return false
	}
	return false
}

type EmergencyActionType uint8

const (
	EmergencyPause   EmergencyActionType = 0
	EmergencyUnpause EmergencyActionType = 1
)

func ParseEmergencyActionType(s string) (EmergencyActionType, error) {
	switch strings.ToLower(s) {
	case "pause":
		return EmergencyPause, nil
	case "unpause":
		return EmergencyUnpause, nil
	}
	return 0, fmt.Errorf("%w: unknown emergency action type %q", ErrInvalidAction, s)
}

type EmergencyAction struct {
	ActionHeader
	ActionType EmergencyActionType `json:"actionType"`
}

func (*EmergencyAction) Type() MessageType { return EmergencyButtonMessage }
func (*EmergencyAction) Version() uint8    { return EmergencyButtonMessageVersion }
func (*EmergencyAction) isAction()         {}

func (a *EmergencyAction) Payload() ([]byte, error) {
	if a.ActionType > EmergencyUnpause {
		return nil, fmt.Errorf("%w: emergency action type %d", ErrInvalidAction, a.ActionType)
	}
	return []byte{byte(a.ActionType)}, nil
}

type BlocklistType uint8

const (
	Blocklist   BlocklistType = 0
	Unblocklist BlocklistType = 1
)

func ParseBlocklistType(s string) (BlocklistType, error) {
	switch strings.ToLower(s) {
	case "blocklist":
		return Blocklist, nil
	case "unblocklist":
		return Unblocklist, nil
	}
	return 0, fmt.Errorf("%w: unknown blocklist type %q", ErrInvalidAction, s)
}

// BlocklistCommitteeAction carries the EVM addresses of the members, which is
// what both chains identify authorities by.
type BlocklistCommitteeAction struct {
	ActionHeader
	BlocklistType BlocklistType    `json:"blocklistType"`
	Members       []common.Address `json:"members"`
}

// NewBlocklistCommitteeAction converts compressed secp256k1 authority keys to
// member addresses.
func NewBlocklistCommitteeAction(header ActionHeader, blocklistType BlocklistType, pubkeys [][]byte) (*BlocklistCommitteeAction, error) {
	members := make([]common.Address, 0, len(pubkeys))
	for _, raw := range pubkeys {
		pub, err := crypto.DecompressPubkey(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: member key %x: %v", ErrInvalidAction, raw, err)
		}
		members = append(members, crypto.PubkeyToAddress(*pub))
	}
	return &BlocklistCommitteeAction{ActionHeader: header, BlocklistType: blocklistType, Members: members}, nil
}

func (*BlocklistCommitteeAction) Type() MessageType { return CommitteeBlocklistMessage }
func (*BlocklistCommitteeAction) Version() uint8    { return CommitteeBlocklistMessageVersion }
func (*BlocklistCommitteeAction) isAction()         {}

func (a *BlocklistCommitteeAction) Payload() ([]byte, error) {
	if len(a.Members) > 255 {
		return nil, fmt.Errorf("%w: too many blocklist members (%d)", ErrInvalidAction, len(a.Members))
	}
	payload := []byte{byte(a.BlocklistType), byte(len(a.Members))}
	for _, m := range a.Members {
		payload = append(payload, m.Bytes()...)
	}
	return payload, nil
}

type LimitUpdateAction struct {
	ActionHeader
	SendingChainID types.BridgeChainId `json:"sendingChainId"`
	NewUsdLimit    uint64              `json:"newUsdLimit"`
}

func (*LimitUpdateAction) Type() MessageType { return LimitUpdateMessage }
func (*LimitUpdateAction) Version() uint8    { return LimitUpdateMessageVersion }
func (*LimitUpdateAction) isAction()         {}

func (a *LimitUpdateAction) Payload() ([]byte, error) {
	return appendU64([]byte{byte(a.SendingChainID)}, a.NewUsdLimit), nil
}

type AssetPriceUpdateAction struct {
	ActionHeader
	TokenID     uint8  `json:"tokenId"`
	NewUsdPrice uint64 `json:"newUsdPrice"`
}

func (*AssetPriceUpdateAction) Type() MessageType { return AssetPriceUpdateMessage }
func (*AssetPriceUpdateAction) Version() uint8    { return AssetPriceUpdateMessageVersion }
func (*AssetPriceUpdateAction) isAction()         {}

func (a *AssetPriceUpdateAction) Payload() ([]byte, error) {
	return appendU64([]byte{a.TokenID}, a.NewUsdPrice), nil
}

type EvmContractUpgradeAction struct {
	ActionHeader
	ProxyAddress   common.Address `json:"proxyAddress"`
	NewImplAddress common.Address `json:"newImplAddress"`
	CallData       hexutil.Bytes  `json:"callData"`
}

func (*EvmContractUpgradeAction) Type() MessageType { return EvmContractUpgradeMessage }
func (*EvmContractUpgradeAction) Version() uint8    { return EvmContractUpgradeMessageVersion }
func (*EvmContractUpgradeAction) isAction()         {}

func (a *EvmContractUpgradeAction) Payload() ([]byte, error) {
	payload, err := upgradePayloadArgs.Pack(a.ProxyAddress, a.NewImplAddress, []byte(a.CallData))
	if err != nil {
		return nil, fmt.Errorf("%w: pack upgrade payload: %v", ErrInvalidAction, err)
	}
	return payload, nil
}

type AddTokensOnMySoAction struct {
	ActionHeader
	Native         bool     `json:"native"`
	TokenIDs       []uint8  `json:"tokenIds"`
	TokenTypeNames []string `json:"tokenTypeNames"`
	TokenPrices    []uint64 `json:"tokenPrices"`
}

func (*AddTokensOnMySoAction) Type() MessageType { return AddTokensOnMySoMessage }
func (*AddTokensOnMySoAction) Version() uint8    { return AddTokensOnMySoMessageVersion }
func (*AddTokensOnMySoAction) isAction()         {}

func (a *AddTokensOnMySoAction) Validate() error {
	if len(a.TokenIDs) != len(a.TokenTypeNames) || len(a.TokenIDs) != len(a.TokenPrices) {
		return fmt.Errorf("%w: token ids, type names and prices differ in length", ErrInvalidAction)
	}
	return nil
}

func (a *AddTokensOnMySoAction) Payload() ([]byte, error) {
	if err := a.Validate(); err != nil {
		return nil, err
	}
	w := bcs.NewEncoder().Bool(a.Native).ByteVector(a.TokenIDs)
	names := make([]string, len(a.TokenTypeNames))
	for i, name := range a.TokenTypeNames {
		tag, err := types.ParseTypeTag(name)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidAction, err)
		}
		names[i] = tag.Canonical(false)
	}
	return w.Strings(names).U64s(a.TokenPrices).Bytes(), nil
}

type AddTokensOnEvmAction struct {
	ActionHeader
	Native            bool             `json:"native"`
	TokenIDs          []uint8          `json:"tokenIds"`
	TokenAddresses    []common.Address `json:"tokenAddresses"`
	TokenMySoDecimals []uint8          `json:"tokenMySoDecimals"`
	TokenPrices       []uint64         `json:"tokenPrices"`
}

func (*AddTokensOnEvmAction) Type() MessageType { return AddTokensOnEvmMessage }
func (*AddTokensOnEvmAction) Version() uint8    { return AddTokensOnEvmMessageVersion }
func (*AddTokensOnEvmAction) isAction()         {}

func (a *AddTokensOnEvmAction) Validate() error {
	n := len(a.TokenIDs)
	if len(a.TokenAddresses) != n || len(a.TokenMySoDecimals) != n || len(a.TokenPrices) != n {
		return fmt.Errorf("%w: token ids, addresses, decimals and prices differ in length", ErrInvalidAction)
	}
	if n > 255 {
		return fmt.Errorf("%w: too many tokens (%d)", ErrInvalidAction, n)
	}
	return nil
}

func (a *AddTokensOnEvmAction) Payload() ([]byte, error) {
	if err := a.Validate(); err != nil {
		return nil, err
	}
	n := byte(len(a.TokenIDs))
	payload := []byte{boolByte(a.Native), n}
	payload = append(payload, a.TokenIDs...)
	payload = append(payload, n)
	for _, addr := range a.TokenAddresses {
		payload = append(payload, addr.Bytes()...)
	}
	payload = append(payload, n)
	payload = append(payload, a.TokenMySoDecimals...)
	payload = append(payload, n)
	for _, price := range a.TokenPrices {
		payload = appendU64(payload, price)
	}
	return payload, nil
}

// TokenTransferAction moves tokens between chains. The header chain id is the
// source chain and the nonce is the source chain's transfer sequence number.
type TokenTransferAction struct {
	ActionHeader
	SenderAddress hexutil.Bytes       `json:"senderAddress"`
	TargetChain   types.BridgeChainId `json:"targetChain"`
	TargetAddress hexutil.Bytes       `json:"targetAddress"`
	TokenID       uint8               `json:"tokenId"`
	Amount        uint64              `json:"amount"`
}

func (*TokenTransferAction) Type() MessageType { return TokenTransferMessage }
func (*TokenTransferAction) Version() uint8    { return TokenTransferMessageVersion }
func (*TokenTransferAction) isAction()         {}

func (a *TokenTransferAction) Validate() error {
	if !types.IsValidRoute(a.ChainID, a.TargetChain) {
		return fmt.Errorf("%w: %s -> %s", types.ErrInvalidRoute, a.ChainID, a.TargetChain)
	}
	if err := types.CheckAddressLength(a.ChainID, a.SenderAddress); err != nil {
		return fmt.Errorf("sender: %w", err)
	}
	if err := types.CheckAddressLength(a.TargetChain, a.TargetAddress); err != nil {
		return fmt.Errorf("recipient: %w", err)
	}
	if a.Amount == 0 {
		return ErrZeroValueTransfer
	}
	return nil
}

func (a *TokenTransferAction) Payload() ([]byte, error) {
	if err := a.Validate(); err != nil {
		return nil, err
	}
	payload := []byte{byte(len(a.SenderAddress))}
	payload = append(payload, a.SenderAddress...)
	payload = append(payload, byte(a.TargetChain), byte(len(a.TargetAddress)))
	payload = append(payload, a.TargetAddress...)
	payload = append(payload, a.TokenID)
	return appendU64(payload, a.Amount), nil
}

// TokenTransferV2Action adds the source chain timestamp, which the receiving
// chain uses for its rate limiter.
type TokenTransferV2Action struct {
	TokenTransferAction
	TimestampMs uint64 `json:"timestampMs"`
}

func (*TokenTransferV2Action) Version() uint8 { return TokenTransferMessageVersionV2 }

func (a *TokenTransferV2Action) Payload() ([]byte, error) {
	payload, err := a.TokenTransferAction.Payload()
	if err != nil {
		return nil, err
	}
	return appendU64(payload, a.TimestampMs), nil
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}
