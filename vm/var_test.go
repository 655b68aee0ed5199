package vm

import (
	"testing"

	"github.com/bsv-blockchain/go-bt/v2/chainhash"
	"github.com/holiman/uint256"
	"github.com/madMAx43v3r/mmx-node-sub001/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVarEncoding(t *testing.T) {
	array := Array(MEM_HEAP + 5)
	array.Size = 12
	array.RefCount = 300

	key := String("k")
	key.Flags = FLAG_KEY | FLAG_DIRTY

	vars := []*Var{
		Nil(),
		Bool(true),
		Bool(false),
		Ref(MEM_HEAP),
		Uint(new(uint256.Int).SetAllOne()),
		String("hello"),
		Binary([]byte{1, 2, 3}),
		array,
		Map(MEM_HEAP + 9),
		key,
	}

	for _, v := range vars {
		t.Run(v.Type.String(), func(t *testing.T) {
			decoded, err := DecodeVar(v.Bytes())
			require.NoError(t, err)
			require.Equal(t, 0, Compare(v, decoded))
			require.Equal(t, v.RefCount, decoded.RefCount)
			require.Equal(t, v.Flags&FLAG_KEY, decoded.Flags)
		})
	}

	_, err := DecodeVar([]byte{0, 0, 99})
	require.True(t, errors.Is(err, errors.ErrStorageCorrupt))

	_, err = DecodeVar(nil)
	require.Error(t, err)
}

func TestCompare(t *testing.T) {
	assert.Equal(t, -1, Compare(Uint64(1), Uint64(2)))
	assert.Equal(t, 0, Compare(String("a"), String("a")))
	assert.Equal(t, 1, Compare(String("b"), String("a")))
	assert.Equal(t, -1, Compare(nil, Uint64(0)), "NIL sorts first")
	assert.Equal(t, -1, Compare(Uint64(9), String("")), "type decides before value")
	assert.Equal(t, 0, Compare(nil, Nil()))
}

func TestIsTrue(t *testing.T) {
	assert.True(t, Bool(true).IsTrue())
	assert.True(t, Uint64(3).IsTrue())
	assert.False(t, Uint64(0).IsTrue())
	assert.False(t, Bool(false).IsTrue())
	assert.False(t, String("x").IsTrue())

	var v *Var
	assert.False(t, v.IsTrue())
	assert.True(t, v.IsNil())
}

func TestKeyBytesIgnoreRefCount(t *testing.T) {
	a, b := String("same"), String("same")
	b.RefCount = 5
	b.Flags = FLAG_KEY

	assert.Equal(t, a.KeyBytes(), b.KeyBytes())
	assert.NotEqual(t, a.Bytes(), b.Bytes())
}

func TestConvert(t *testing.T) {
	addr := chainhash.HashH([]byte("addr"))

	tests := []struct {
		name   string
		in     *Var
		target VarType
		format uint64
		want   *Var
	}{
		{"uint to string", Uint64(255), TYPE_STRING, CONVTYPE_DEFAULT, String("255")},
		{"uint to hex", Uint64(255), TYPE_STRING, CONVTYPE_BASE_16, String("ff")},
		{"string to uint", String("1000"), TYPE_UINT, CONVTYPE_DEFAULT, Uint64(1000)},
		{"hex to uint", String("ff"), TYPE_UINT, CONVTYPE_BASE_16, Uint64(255)},
		{"binary to uint", Binary([]byte{1, 0}), TYPE_UINT, CONVTYPE_DEFAULT, Uint64(256)},
		{"bool to uint", Bool(true), TYPE_UINT, CONVTYPE_DEFAULT, Uint64(1)},
		{"hex to binary", String("0a0b"), TYPE_BINARY, CONVTYPE_BASE_16, Binary([]byte{10, 11})},
		{"binary to hex", Binary([]byte{10, 11}), TYPE_STRING, CONVTYPE_DEFAULT, String("0a0b")},
		{"address round trip", Binary(addr[:]), TYPE_STRING, CONVTYPE_ADDRESS, String(addr.String())},
		{"string to address", String(addr.String()), TYPE_BINARY, CONVTYPE_ADDRESS, Binary(addr[:])},
		{"uint to bool", Uint64(2), TYPE_TRUE, CONVTYPE_DEFAULT, Bool(true)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := convert(tt.in, tt.target, tt.format)
			require.NoError(t, err)
			require.Equal(t, 0, Compare(tt.want, out), "got %s", out)
		})
	}

	_, err := convert(String("zz"), TYPE_UINT, CONVTYPE_BASE_16)
	require.True(t, errors.Is(err, errors.ErrVMTypeMismatch))

	_, err = convert(Map(MEM_HEAP), TYPE_STRING, CONVTYPE_DEFAULT)
	require.True(t, errors.Is(err, errors.ErrVMTypeMismatch))

	_, err = convert(Binary(make([]byte, 33)), TYPE_UINT, CONVTYPE_DEFAULT)
	require.True(t, errors.Is(err, errors.ErrVMOutOfBounds))
}

func TestVerifySignatureRejectsGarbage(t *testing.T) {
	assert.False(t, verifySignature(make([]byte, 32), []byte{1, 2, 3}, []byte{4, 5, 6}))
}
