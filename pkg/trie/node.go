package trie

import (
	"errors"
	"fmt"
)

// Node kinds. The first byte of every encoded node.
const (
	KindLeaf     byte = 0x00
	KindInternal byte = 0x01
)

var (
	// ErrEmptyNode is returned when decoding a zero-length node.
	ErrEmptyNode = errors.New("empty node")

	// ErrMalformedNode is returned when an internal node's child list is not
	// a whole number of hashes.
	ErrMalformedNode = errors.New("malformed node")
)

// ChildResolver lists the child hashes referenced by an encoded node.
// Leaves return no children.
type ChildResolver interface {
	Children(data []byte) ([]Hash, error)
}

// ChildResolverFunc adapts a plain function to ChildResolver.
type ChildResolverFunc func(data []byte) ([]Hash, error)

// Children implements ChildResolver.
func (f ChildResolverFunc) Children(data []byte) ([]Hash, error) {
	return f(data)
}

// DefaultResolver decodes the node format produced by EncodeLeaf and
// EncodeInternal.
var DefaultResolver ChildResolver = ChildResolverFunc(DecodeChildren)

// EncodeLeaf encodes a leaf node carrying value.
func EncodeLeaf(value []byte) []byte {
	out := make([]byte, 1+len(value))
	out[0] = KindLeaf
	copy(out[1:], value)
	return out
}

// EncodeInternal encodes an internal node referencing children.
func EncodeInternal(children ...Hash) []byte {
	out := make([]byte, 1+len(children)*HashSize)
	out[0] = KindInternal
	for i, c := range children {
		copy(out[1+i*HashSize:], c[:])
	}
	return out
}

// DecodeChildren returns the children of an encoded node.
func DecodeChildren(data []byte) ([]Hash, error) {
	if len(data) == 0 {
		return nil, ErrEmptyNode
	}

	switch data[0] {
	case KindLeaf:
		return nil, nil
	case KindInternal:
		body := data[1:]
		if len(body)%HashSize != 0 {
			return nil, fmt.Errorf("%w: %d trailing bytes", ErrMalformedNode, len(body)%HashSize)
		}
		children := make([]Hash, len(body)/HashSize)
		for i := range children {
			copy(children[i][:], body[i*HashSize:])
		}
		return children, nil
	default:
		return nil, fmt.Errorf("%w: unknown kind 0x%02x", ErrMalformedNode, data[0])
	}
}

// Node pairs an encoded node with its hash.
type Node struct {
	Hash Hash
	Data []byte
}

// NewNode hashes data and returns the Node.
func NewNode(data []byte) Node {
	return Node{Hash: HashBytes(data), Data: data}
}

// Leaf builds a leaf Node.
func Leaf(value []byte) Node {
	return NewNode(EncodeLeaf(value))
}

// Internal builds an internal Node over the given children.
func Internal(children ...Hash) Node {
	return NewNode(EncodeInternal(children...))
}
