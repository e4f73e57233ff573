// Package bcs implements the subset of Binary Canonical Serialization used
// by the native chain: fixed width little-endian integers, ULEB128 lengths,
// byte vectors, strings and enum variant tags.
package bcs

import (
	"encoding/binary"
	"errors"
	"fmt"
)

var ErrShortBuffer = errors.New("bcs: unexpected end of input")

type Encoder struct {
	buf []byte
}

func NewEncoder() *Encoder {
	return &Encoder{}
}

func (e *Encoder) Bytes() []byte {
	return e.buf
}

func (e *Encoder) U8(v uint8) *Encoder {
	e.buf = append(e.buf, v)
	return e
}

func (e *Encoder) Bool(v bool) *Encoder {
	if v {
		return e.U8(1)
	}
	return e.U8(0)
}

func (e *Encoder) U16(v uint16) *Encoder {
	e.buf = binary.LittleEndian.AppendUint16(e.buf, v)
	return e
}

func (e *Encoder) U64(v uint64) *Encoder {
	e.buf = binary.LittleEndian.AppendUint64(e.buf, v)
	return e
}

func (e *Encoder) Uleb128(v uint64) *Encoder {
	for v >= 0x80 {
		e.buf = append(e.buf, byte(v)|0x80)
		v >>= 7
	}
	e.buf = append(e.buf, byte(v))
	return e
}

// Variant writes an enum tag.
func (e *Encoder) Variant(index uint32) *Encoder {
	return e.Uleb128(uint64(index))
}

// Fixed appends raw bytes with no length prefix.
func (e *Encoder) Fixed(b []byte) *Encoder {
	e.buf = append(e.buf, b...)
	return e
}

func (e *Encoder) ByteVector(b []byte) *Encoder {
	e.Uleb128(uint64(len(b)))
	return e.Fixed(b)
}

func (e *Encoder) String(s string) *Encoder {
	return e.ByteVector([]byte(s))
}

func (e *Encoder) Strings(values []string) *Encoder {
	e.Uleb128(uint64(len(values)))
	for _, s := range values {
		e.String(s)
	}
	return e
}

func (e *Encoder) U64s(values []uint64) *Encoder {
	e.Uleb128(uint64(len(values)))
	for _, v := range values {
		e.U64(v)
	}
	return e
}

type Decoder struct {
	buf []byte
	pos int
}

func NewDecoder(b []byte) *Decoder {
	return &Decoder{buf: b}
}

func (d *Decoder) Remaining() int {
	return len(d.buf) - d.pos
}

func (d *Decoder) U8() (uint8, error) {
	if d.Remaining() < 1 {
		return 0, ErrShortBuffer
	}
	v := d.buf[d.pos]
	d.pos++
	return v, nil
}

func (d *Decoder) U64() (uint64, error) {
	if d.Remaining() < 8 {
		return 0, ErrShortBuffer
	}
	v := binary.LittleEndian.Uint64(d.buf[d.pos:])
	d.pos += 8
	return v, nil
}

func (d *Decoder) Uleb128() (uint64, error) {
	var v uint64
	for shift := uint(0); shift < 64; shift += 7 {
		b, err := d.U8()
		if err != nil {
			return 0, err
		}
		v |= uint64(b&0x7f) << shift
		if b&0x80 == 0 {
			return v, nil
		}
	}
	return 0, fmt.Errorf("bcs: uleb128 overflow")
}

func (d *Decoder) Fixed(n int) ([]byte, error) {
	if n < 0 || d.Remaining() < n {
		return nil, ErrShortBuffer
	}
	out := make([]byte, n)
	copy(out, d.buf[d.pos:d.pos+n])
	d.pos += n
	return out, nil
}

func (d *Decoder) ByteVector() ([]byte, error) {
	n, err := d.Uleb128()
	if err != nil {
		return nil, err
	}
	if n > uint64(d.Remaining()) {
		return nil, ErrShortBuffer
	}
	return d.Fixed(int(n))
}

func (d *Decoder) Strings() ([]string, error) {
	n, err := d.Uleb128()
	if err != nil {
		return nil, err
	}
	if n > uint64(d.Remaining()) {
		return nil, ErrShortBuffer
	}
	out := make([]string, 0, n)
	for i := uint64(0); i < n; i++ {
		b, err := d.ByteVector()
		if err != nil {
			return nil, err
		}
		out = append(out, string(b))
	}
	return out, nil
}

func (d *Decoder) U64s() ([]uint64, error) {
	n, err := d.Uleb128()
	if err != nil {
		return nil, err
	}
	if n > uint64(d.Remaining()/8) {
		return nil, ErrShortBuffer
	}
	out := make([]uint64, 0, n)
	for i := uint64(0); i < n; i++ {
		v, err := d.U64()
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}
