package native

import (
	"fmt"

	"github.com/mysocial/bridge-relayers/pkg/bcs"
	"github.com/mysocial/bridge-relayers/pkg/types"
	"golang.org/x/crypto/blake2b"
)

const txDigestSalt = "TransactionData::"

// ObjectRef pins an owned object at a version.
type ObjectRef struct {
	ObjectID types.NativeAddress
	Version  uint64
	Digest   types.TxDigest
}

func (r ObjectRef) encode(e *bcs.Encoder) {
	e.Fixed(r.ObjectID[:]).U64(r.Version).ByteVector(r.Digest[:])
}

const (
	argGasCoin uint32 = iota
	argInput
	argResult
	argNestedResult
)

// Argument refers to a transaction input or to the result of an earlier command.
type Argument struct {
	kind   uint32
	index  uint16
	nested uint16
}

var GasCoin = Argument{kind: argGasCoin}

func (a Argument) encode(e *bcs.Encoder) {
	e.Variant(a.kind)
	switch a.kind {
	case argInput, argResult:
		e.U16(a.index)
	case argNestedResult:
		e.U16(a.index).U16(a.nested)
	}
}

// Nested selects one value of a command returning several.
func (a Argument) Nested(i uint16) Argument {
	return Argument{kind: argNestedResult, index: a.index, nested: i}
}

type callArg struct {
	pure    []byte
	object  *ObjectRef
	shared  *types.NativeAddress
	version uint64
	mutable bool
}

func (c callArg) encode(e *bcs.Encoder) {
	switch {
	case c.object != nil:
		e.Variant(1).Variant(0)
		c.object.encode(e)
	case c.shared != nil:
		e.Variant(1).Variant(1).Fixed(c.shared[:]).U64(c.version).Bool(c.mutable)
	default:
		e.Variant(0).ByteVector(c.pure)
	}
}

type command interface {
	encode(e *bcs.Encoder) error
}

type moveCall struct {
	pkg      types.NativeAddress
	module   string
	function string
	typeArgs []types.TypeTag
	args     []Argument
}

func (c moveCall) encode(e *bcs.Encoder) error {
	e.Variant(0).Fixed(c.pkg[:]).String(c.module).String(c.function)
	e.Uleb128(uint64(len(c.typeArgs)))
	for _, tag := range c.typeArgs {
		if err := EncodeTypeTag(e, tag); err != nil {
			return err
		}
	}
	encodeArgs(e, c.args)
	return nil
}

type transferObjects struct {
	objects []Argument
	address Argument
}

func (c transferObjects) encode(e *bcs.Encoder) error {
	e.Variant(1)
	encodeArgs(e, c.objects)
	c.address.encode(e)
	return nil
}

type splitCoins struct {
	coin    Argument
	amounts []Argument
}

func (c splitCoins) encode(e *bcs.Encoder) error {
	e.Variant(2)
	c.coin.encode(e)
	encodeArgs(e, c.amounts)
	return nil
}

func encodeArgs(e *bcs.Encoder, args []Argument) {
	e.Uleb128(uint64(len(args)))
	for _, arg := range args {
		arg.encode(e)
	}
}

// TransactionBuilder assembles a programmable transaction.
type TransactionBuilder struct {
	inputs   []callArg
	commands []command
}

func NewTransactionBuilder() *TransactionBuilder {
	return &TransactionBuilder{}
}

func (b *TransactionBuilder) input(arg callArg) Argument {
	b.inputs = append(b.inputs, arg)
	return Argument{kind: argInput, index: uint16(len(b.inputs) - 1)}
}

// Pure adds an already BCS encoded value.
func (b *TransactionBuilder) Pure(value []byte) Argument {
	return b.input(callArg{pure: value})
}

func (b *TransactionBuilder) PureU8(v uint8) Argument {
	return b.Pure([]byte{v})
}

func (b *TransactionBuilder) PureU64(v uint64) Argument {
	return b.Pure(bcs.NewEncoder().U64(v).Bytes())
}

func (b *TransactionBuilder) PureAddress(addr types.NativeAddress) Argument {
	return b.Pure(append([]byte(nil), addr[:]...))
}

// PureBytes adds a vector<u8>.
func (b *TransactionBuilder) PureBytes(v []byte) Argument {
	return b.Pure(bcs.NewEncoder().ByteVector(v).Bytes())
}

func (b *TransactionBuilder) Object(ref ObjectRef) Argument {
	return b.input(callArg{object: &ref})
}

func (b *TransactionBuilder) SharedObject(id types.NativeAddress, initialVersion uint64, mutable bool) Argument {
	return b.input(callArg{shared: &id, version: initialVersion, mutable: mutable})
}

func (b *TransactionBuilder) command(c command) Argument {
	b.commands = append(b.commands, c)
	return Argument{kind: argResult, index: uint16(len(b.commands) - 1)}
}

func (b *TransactionBuilder) MoveCall(pkg types.NativeAddress, module, function string, typeArgs []types.TypeTag, args ...Argument) Argument {
	return b.command(moveCall{pkg: pkg, module: module, function: function, typeArgs: typeArgs, args: args})
}

func (b *TransactionBuilder) SplitCoins(coin Argument, amounts ...Argument) Argument {
	return b.command(splitCoins{coin: coin, amounts: amounts})
}

func (b *TransactionBuilder) TransferObjects(objects []Argument, address Argument) {
	b.command(transferObjects{objects: objects, address: address})
}

// Finish wraps the programmable transaction into TransactionData paid by sender.
func (b *TransactionBuilder) Finish(sender types.NativeAddress, payment []ObjectRef, budget, price uint64) *TransactionData {
	return &TransactionData{
		Sender:     sender,
		GasPayment: payment,
		GasOwner:   sender,
		GasPrice:   price,
		GasBudget:  budget,
		inputs:     b.inputs,
		commands:   b.commands,
	}
}

type TransactionData struct {
	Sender     types.NativeAddress
	GasPayment []ObjectRef
	GasOwner   types.NativeAddress
	GasPrice   uint64
	GasBudget  uint64

	inputs   []callArg
	commands []command
}

// Bytes is the BCS encoding of TransactionData::V1 with a programmable kind
// and no expiration.
func (t *TransactionData) Bytes() ([]byte, error) {
	e := bcs.NewEncoder()
	e.Variant(0) // V1
	e.Variant(0) // ProgrammableTransaction
	e.Uleb128(uint64(len(t.inputs)))
	for _, in := range t.inputs {
		in.encode(e)
	}
	e.Uleb128(uint64(len(t.commands)))
	for i, c := range t.commands {
		if err := c.encode(e); err != nil {
			return nil, fmt.Errorf("command %d: %w", i, err)
		}
	}
	e.Fixed(t.Sender[:])
	e.Uleb128(uint64(len(t.GasPayment)))
	for _, ref := range t.GasPayment {
		ref.encode(e)
	}
	e.Fixed(t.GasOwner[:]).U64(t.GasPrice).U64(t.GasBudget)
	e.Variant(0) // TransactionExpiration::None
	return e.Bytes(), nil
}

// TransactionDigest is blake2b-256 over the salted transaction bytes.
func TransactionDigest(txBytes []byte) types.TxDigest {
	h, _ := blake2b.New256(nil)
	h.Write([]byte(txDigestSalt))
	h.Write(txBytes)
	var d types.TxDigest
	copy(d[:], h.Sum(nil))
	return d
}

var primitiveTags = map[string]uint32{
	"bool": 0, "u8": 1, "u64": 2, "u128": 3, "address": 4, "signer": 5,
	"u16": 8, "u32": 9, "u256": 10,
}

func EncodeTypeTag(e *bcs.Encoder, tag types.TypeTag) error {
	if tag.IsStruct() {
		e.Variant(7).Fixed(tag.Address[:]).String(tag.Module).String(tag.Name)
		e.Uleb128(uint64(len(tag.TypeParams)))
		for _, param := range tag.TypeParams {
			if err := EncodeTypeTag(e, param); err != nil {
				return err
			}
		}
		return nil
	}
	if tag.Primitive == "vector" {
		if len(tag.TypeParams) != 1 {
			return fmt.Errorf("vector type tag needs exactly one parameter")
		}
		e.Variant(6)
		return EncodeTypeTag(e, tag.TypeParams[0])
	}
	variant, ok := primitiveTags[tag.Primitive]
	if !ok {
		return fmt.Errorf("unknown primitive type %q", tag.Primitive)
	}
	e.Variant(variant)
	return nil
}

var frameworkAddress = types.NativeAddress{31: 0x2}

// IsCoin reports whether tag is 0x2::coin::Coin<T>.
func IsCoin(tag types.TypeTag) bool {
	return tag.IsStruct() && tag.Address == frameworkAddress &&
		tag.Module == "coin" && tag.Name == "Coin" && len(tag.TypeParams) == 1
}

func CoinOf(inner types.TypeTag) types.TypeTag {
	return types.TypeTag{Address: frameworkAddress, Module: "coin", Name: "Coin", TypeParams: []types.TypeTag{inner}}
}

// SplitCoinType returns the inner token type T and the object type Coin<T>
// for a balance change coin type given either way.
func SplitCoinType(coinType string) (inner, object types.TypeTag, err error) {
	tag, err := types.ParseTypeTag(coinType)
	if err != nil {
		return types.TypeTag{}, types.TypeTag{}, err
	}
	if IsCoin(tag) {
		return tag.TypeParams[0], tag, nil
	}
	return tag, CoinOf(tag), nil
}
