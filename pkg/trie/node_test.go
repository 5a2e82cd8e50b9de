package trie

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashBytes_KnownVector(t *testing.T) {
	// Keccak-256 of the empty string.
	h := HashBytes(nil)
	assert.Equal(t, "c5d2460186f7233c927e7db2dcc703c0e500b653ca82273b7bfad8045d85a470", h.String())
}

func TestHash_Words(t *testing.T) {
	var h Hash
	for i := range h {
		h[i] = byte(i)
	}

	assert.Equal(t, uint64(0x0001020304050607), h.Word(0))
	assert.Equal(t, uint64(0x08090a0b0c0d0e0f), h.Word(1))
	assert.Equal(t, uint64(0x1011121314151617), h.Word(2))
	assert.Equal(t, uint64(0x18191a1b1c1d1e1f), h.Word(3))
}

func TestParseHash(t *testing.T) {
	h := HashBytes([]byte("node"))

	parsed, err := ParseHash("0x" + h.String())
	require.NoError(t, err)
	assert.Equal(t, h, parsed)

	_, err = ParseHash("abcd")
	assert.ErrorIs(t, err, ErrInvalidHash)

	_, err = ParseHash("zz")
	assert.Error(t, err)
}

func TestHash_JSON(t *testing.T) {
	h := HashBytes([]byte("json"))

	data, err := json.Marshal(struct{ H Hash }{h})
	require.NoError(t, err)
	assert.Contains(t, string(data), h.String())

	var out struct{ H Hash }
	require.NoError(t, json.Unmarshal(data, &out))
	assert.Equal(t, h, out.H)
}

func TestDecodeChildren(t *testing.T) {
	a := Leaf([]byte("a"))
	b := Leaf([]byte("b"))

	tests := []struct {
		name     string
		data     []byte
		expected []Hash
		wantErr  error
	}{
		{name: "leaf", data: a.Data, expected: nil},
		{name: "internal", data: EncodeInternal(a.Hash, b.Hash), expected: []Hash{a.Hash, b.Hash}},
		{name: "internal without children", data: EncodeInternal(), expected: []Hash{}},
		{name: "empty", data: nil, wantErr: ErrEmptyNode},
		{name: "truncated child", data: append(EncodeInternal(a.Hash), 0x01), wantErr: ErrMalformedNode},
		{name: "unknown kind", data: []byte{0x7f}, wantErr: ErrMalformedNode},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			children, err := DefaultResolver.Children(tt.data)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, children)
		})
	}
}

func TestNode_ContentAddressed(t *testing.T) {
	assert.Equal(t, Leaf([]byte("same")).Hash, Leaf([]byte("same")).Hash)
	assert.NotEqual(t, Leaf([]byte("same")).Hash, Leaf([]byte("other")).Hash)
	assert.NotEqual(t, Leaf(nil).Hash, Internal().Hash)
}
