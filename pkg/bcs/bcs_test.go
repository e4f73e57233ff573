package bcs_test

import (
	"testing"

	"github.com/mysocial/bridge-relayers/pkg/bcs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUleb128(t *testing.T) {
	for _, tc := range []struct {
		value uint64
		want  []byte
	}{
		{0, []byte{0x00}},
		{127, []byte{0x7f}},
		{128, []byte{0x80, 0x01}},
		{300, []byte{0xac, 0x02}},
		{16384, []byte{0x80, 0x80, 0x01}},
	} {
		got := bcs.NewEncoder().Uleb128(tc.value).Bytes()
		assert.Equal(t, tc.want, got)
		decoded, err := bcs.NewDecoder(got).Uleb128()
		require.NoError(t, err)
		assert.Equal(t, tc.value, decoded)
	}
}

func TestEncoderLayout(t *testing.T) {
	got := bcs.NewEncoder().
		U8(7).
		Bool(true).
		U16(0x0102).
		U64(1).
		ByteVector([]byte{0xaa, 0xbb}).
		Strings([]string{"a"}).
		Bytes()
	want := []byte{
		7,
		1,
		0x02, 0x01,
		1, 0, 0, 0, 0, 0, 0, 0,
		2, 0xaa, 0xbb,
		1, 1, 'a',
	}
	assert.Equal(t, want, got)
}

func TestDecoderRejectsTruncatedInput(t *testing.T) {
	_, err := bcs.NewDecoder([]byte{1, 2, 3}).U64()
	assert.ErrorIs(t, err, bcs.ErrShortBuffer)

	_, err = bcs.NewDecoder([]byte{5, 1}).ByteVector()
	assert.ErrorIs(t, err, bcs.ErrShortBuffer)

	_, err = bcs.NewDecoder([]byte{2, 1, 0, 0, 0, 0, 0, 0, 0}).U64s()
	assert.ErrorIs(t, err, bcs.ErrShortBuffer)

	d := bcs.NewDecoder([]byte{1, 1, 'x', 9})
	values, err := d.Strings()
	require.NoError(t, err)
	assert.Equal(t, []string{"x"}, values)
	assert.Equal(t, 1, d.Remaining())
}
