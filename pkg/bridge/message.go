package bridge

import (
	"encoding/binary"
	"fmt"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/mysocial/bridge-relayers/pkg/bcs"
	"github.com/mysocial/bridge-relayers/pkg/types"
)

// MessagePrefix is prepended to the message bytes before hashing for signatures.
const MessagePrefix = "MYSO_BRIDGE_MESSAGE"

const messageHeaderLength = 1 + 1 + 8 + 1

var upgradePayloadArgs = mustArguments("address", "address", "bytes")

// Message is the canonical wire tuple both chains and the committee agree on.
type Message struct {
	Type    MessageType
	Version uint8
	Nonce   uint64
	ChainID types.BridgeChainId
	Payload []byte
}

func ToMessage(a Action) (*Message, error) {
	payload, err := a.Payload()
	if err != nil {
		return nil, err
	}
	h := a.Header()
	return &Message{
		Type:    a.Type(),
		Version: a.Version(),
		Nonce:   h.Nonce,
		ChainID: h.ChainID,
		Payload: payload,
	}, nil
}

// Bytes is [type][version][nonce u64 BE][chain id][payload].
func (m *Message) Bytes() []byte {
	out := make([]byte, 0, messageHeaderLength+len(m.Payload))
	out = append(out, byte(m.Type), m.Version)
	out = appendU64(out, m.Nonce)
	out = append(out, byte(m.ChainID))
	return append(out, m.Payload...)
}

func (m *Message) SigningDigest() common.Hash {
	return crypto.Keccak256Hash([]byte(MessagePrefix), m.Bytes())
}

// SigningDigest hashes the canonical encoding of an action.
func SigningDigest(a Action) (common.Hash, error) {
	msg, err := ToMessage(a)
	if err != nil {
		return common.Hash{}, err
	}
	return msg.SigningDigest(), nil
}

func DecodeMessage(b []byte) (*Message, error) {
	if len(b) < messageHeaderLength {
		return nil, fmt.Errorf("%w: message too short (%d bytes)", ErrInvalidAction, len(b))
	}
	chain, err := types.ParseChainId(b[10])
	if err != nil {
		return nil, err
	}
	return &Message{
		Type:    MessageType(b[0]),
		Version: b[1],
		Nonce:   binary.BigEndian.Uint64(b[2:10]),
		ChainID: chain,
		Payload: append([]byte(nil), b[messageHeaderLength:]...),
	}, nil
}

// ParseAction reverses ToMessage.
func ParseAction(m *Message) (Action, error) {
	header := ActionHeader{Nonce: m.Nonce, ChainID: m.ChainID}
	r := &payloadReader{buf: m.Payload}
	var action Action
	switch m.Type {
	case EmergencyButtonMessage:
		t := r.u8()
		action = &EmergencyAction{ActionHeader: header, ActionType: EmergencyActionType(t)}
	case CommitteeBlocklistMessage:
		a := &BlocklistCommitteeAction{ActionHeader: header, BlocklistType: BlocklistType(r.u8())}
		n := int(r.u8())
		for i := 0; i < n; i++ {
			a.Members = append(a.Members, common.BytesToAddress(r.fixed(common.AddressLength)))
		}
		action = a
	case LimitUpdateMessage:
		sending := r.u8()
		limit := r.u64()
		chain, err := types.ParseChainId(sending)
		if err != nil && r.err == nil {
			r.err = err
		}
		action = &LimitUpdateAction{ActionHeader: header, SendingChainID: chain, NewUsdLimit: limit}
	case AssetPriceUpdateMessage:
		action = &AssetPriceUpdateAction{ActionHeader: header, TokenID: r.u8(), NewUsdPrice: r.u64()}
	case EvmContractUpgradeMessage:
		values, err := upgradePayloadArgs.Unpack(m.Payload)
		if err != nil {
			return nil, fmt.Errorf("%w: upgrade payload: %v", ErrInvalidAction, err)
		}
		r.pos = len(m.Payload)
		action = &EvmContractUpgradeAction{
			ActionHeader:   header,
			ProxyAddress:   values[0].(common.Address),
			NewImplAddress: values[1].(common.Address),
			CallData:       values[2].([]byte),
		}
	case AddTokensOnMySoMessage:
		a, err := parseAddTokensOnMySo(header, m.Payload)
		if err != nil {
			return nil, err
		}
		r.pos = len(m.Payload)
		action = a
	case AddTokensOnEvmMessage:
		a := &AddTokensOnEvmAction{ActionHeader: header, Native: r.u8() == 1}
		a.TokenIDs = r.fixed(int(r.u8()))
		n := int(r.u8())
		for i := 0; i < n; i++ {
			a.TokenAddresses = append(a.TokenAddresses, common.BytesToAddress(r.fixed(common.AddressLength)))
		}
		a.TokenMySoDecimals = r.fixed(int(r.u8()))
		n = int(r.u8())
		for i := 0; i < n; i++ {
			a.TokenPrices = append(a.TokenPrices, r.u64())
		}
		action = a
	case TokenTransferMessage:
		t := TokenTransferAction{ActionHeader: header}
		t.SenderAddress = r.fixed(int(r.u8()))
		target := r.u8()
		t.TargetAddress = r.fixed(int(r.u8()))
		t.TokenID = r.u8()
		t.Amount = r.u64()
		chain, err := types.ParseChainId(target)
		if err != nil && r.err == nil {
			r.err = err
		}
		t.TargetChain = chain
		switch m.Version {
		case TokenTransferMessageVersion:
			action = &t
		case TokenTransferMessageVersionV2:
			action = &TokenTransferV2Action{TokenTransferAction: t, TimestampMs: r.u64()}
		default:
			return nil, fmt.Errorf("%w: token transfer version %d", ErrInvalidAction, m.Version)
		}
	default:
		return nil, fmt.Errorf("%w: unknown message type %d", ErrInvalidAction, m.Type)
	}
	if r.err != nil {
		return nil, fmt.Errorf("%w: %s payload: %v", ErrInvalidAction, m.Type, r.err)
	}
	if r.pos != len(m.Payload) {
		return nil, fmt.Errorf("%w: %s payload has %d trailing bytes", ErrInvalidAction, m.Type, len(m.Payload)-r.pos)
	}
	if action.Version() != m.Version {
		return nil, fmt.Errorf("%w: %s version %d", ErrInvalidAction, m.Type, m.Version)
	}
	return action, nil
}

func parseAddTokensOnMySo(header ActionHeader, payload []byte) (*AddTokensOnMySoAction, error) {
	r := bcs.NewDecoder(payload)
	native, err := r.U8()
	if err != nil {
		return nil, fmt.Errorf("%w: add tokens payload: %v", ErrInvalidAction, err)
	}
	ids, err := r.ByteVector()
	if err != nil {
		return nil, fmt.Errorf("%w: token ids: %v", ErrInvalidAction, err)
	}
	names, err := r.Strings()
	if err != nil {
		return nil, fmt.Errorf("%w: token type names: %v", ErrInvalidAction, err)
	}
	prices, err := r.U64s()
	if err != nil {
		return nil, fmt.Errorf("%w: token prices: %v", ErrInvalidAction, err)
	}
	if r.Remaining() != 0 {
		return nil, fmt.Errorf("%w: add tokens payload has trailing bytes", ErrInvalidAction)
	}
	return &AddTokensOnMySoAction{
		ActionHeader:   header,
		Native:         native == 1,
		TokenIDs:       ids,
		TokenTypeNames: names,
		TokenPrices:    prices,
	}, nil
}

// payloadReader reads big-endian fixed width fields and remembers the first error.
type payloadReader struct {
	buf []byte
	pos int
	err error
}

func (r *payloadReader) fixed(n int) []byte {
	if r.err != nil {
		return nil
	}
	if len(r.buf)-r.pos < n {
		r.err = bcs.ErrShortBuffer
		return nil
	}
	out := append([]byte(nil), r.buf[r.pos:r.pos+n]...)
	r.pos += n
	return out
}

func (r *payloadReader) u8() uint8 {
	b := r.fixed(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (r *payloadReader) u64() uint64 {
	b := r.fixed(8)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint64(b)
}

func appendU64(b []byte, v uint64) []byte {
	return binary.BigEndian.AppendUint64(b, v)
}

func mustArguments(typeNames ...string) abi.Arguments {
	args := make(abi.Arguments, 0, len(typeNames))
	for _, name := range typeNames {
		args = append(args, abi.Argument{Type: mustType(name)})
	}
	return args
}
