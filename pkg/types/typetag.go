package types

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// TypeTag is a Move type. Primitive types only set Primitive; vectors set
// Primitive to "vector" with one type parameter.
type TypeTag struct {
	Primitive  string
	Address    NativeAddress
	Module     string
	Name       string
	TypeParams []TypeTag
}

var primitiveTypes = map[string]bool{
	"bool": true, "u8": true, "u16": true, "u32": true, "u64": true,
	"u128": true, "u256": true, "address": true, "signer": true,
}

func ParseTypeTag(s string) (TypeTag, error) {
	p := &typeTagParser{src: strings.ReplaceAll(s, " ", "")}
	tag, err := p.parse()
	if err != nil {
		return TypeTag{}, fmt.Errorf("invalid type tag %q: %w", s, err)
	}
	if p.pos != len(p.src) {
		return TypeTag{}, fmt.Errorf("invalid type tag %q: trailing input", s)
	}
	return tag, nil
}

func (t TypeTag) IsStruct() bool {
	return t.Primitive == ""
}

// Canonical renders the tag with full-length addresses, optionally 0x prefixed.
func (t TypeTag) Canonical(withPrefix bool) string {
	if !t.IsStruct() {
		if t.Primitive == "vector" && len(t.TypeParams) == 1 {
			return "vector<" + t.TypeParams[0].Canonical(withPrefix) + ">"
		}
		return t.Primitive
	}
	var b strings.Builder
	if withPrefix {
		b.WriteString("0x")
	}
	b.WriteString(hex.EncodeToString(t.Address[:]))
	b.WriteString("::")
	b.WriteString(t.Module)
	b.WriteString("::")
	b.WriteString(t.Name)
	if len(t.TypeParams) > 0 {
		b.WriteString("<")
		for i, param := range t.TypeParams {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(param.Canonical(withPrefix))
		}
		b.WriteString(">")
	}
	return b.String()
}

func (t TypeTag) String() string {
	return t.Canonical(true)
}

type typeTagParser struct {
	src string
	pos int
}

func (p *typeTagParser) ident() string {
	start := p.pos
	for p.pos < len(p.src) {
		c := p.src[p.pos]
		if c == '_' || c >= '0' && c <= '9' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' {
			p.pos++
			continue
		}
		break
	}
	return p.src[start:p.pos]
}

func (p *typeTagParser) expect(tok string) error {
	if !strings.HasPrefix(p.src[p.pos:], tok) {
		return fmt.Errorf("expected %q at offset %d", tok, p.pos)
	}
	p.pos += len(tok)
	return nil
}

func (p *typeTagParser) parse() (TypeTag, error) {
	head := p.ident()
	if head == "" {
		return TypeTag{}, fmt.Errorf("expected identifier at offset %d", p.pos)
	}
	if head == "vector" {
		if err := p.expect("<"); err != nil {
			return TypeTag{}, err
		}
		inner, err := p.parse()
		if err != nil {
			return TypeTag{}, err
		}
		if err := p.expect(">"); err != nil {
			return TypeTag{}, err
		}
		return TypeTag{Primitive: "vector", TypeParams: []TypeTag{inner}}, nil
	}
	if primitiveTypes[head] && !strings.HasPrefix(p.src[p.pos:], "::") {
		return TypeTag{Primitive: head}, nil
	}
	addr, err := ParseShortNativeAddress(head)
	if err != nil {
		return TypeTag{}, err
	}
	tag := TypeTag{Address: addr}
	if err := p.expect("::"); err != nil {
		return TypeTag{}, err
	}
	if tag.Module = p.ident(); tag.Module == "" {
		return TypeTag{}, fmt.Errorf("missing module name")
	}
	if err := p.expect("::"); err != nil {
		return TypeTag{}, err
	}
	if tag.Name = p.ident(); tag.Name == "" {
		return TypeTag{}, fmt.Errorf("missing struct name")
	}
	if p.pos < len(p.src) && p.src[p.pos] == '<' {
		p.pos++
		for {
			param, err := p.parse()
			if err != nil {
				return TypeTag{}, err
			}
			tag.TypeParams = append(tag.TypeParams, param)
			if p.pos < len(p.src) && p.src[p.pos] == ',' {
				p.pos++
				continue
			}
			break
		}
		if err := p.expect(">"); err != nil {
			return TypeTag{}, err
		}
	}
	return tag, nil
}

// ParseShortNativeAddress accepts "0x2", "2" or a full 64 digit address.
func ParseShortNativeAddress(s string) (NativeAddress, error) {
	var addr NativeAddress
	digits := strings.TrimPrefix(s, "0x")
	if len(digits) == 0 || len(digits) > 2*NativeAddressLength {
		return addr, fmt.Errorf("invalid address %q", s)
	}
	if len(digits)%2 == 1 {
		digits = "0" + digits
	}
	raw, err := hex.DecodeString(digits)
	if err != nil {
		return addr, fmt.Errorf("invalid address %q: %w", s, err)
	}
	copy(addr[NativeAddressLength-len(raw):], raw)
	return addr, nil
}
