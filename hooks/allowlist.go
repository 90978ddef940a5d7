package hooks

import (
	"bytes"
	"context"
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	checkout "github.com/mintgate/checkout-go"
)

// AllowList gates purchases on membership in a fixed address list. Payloads
// are merkle inclusion proofs over keccak256 leaves with sorted-pair hashing,
// the layout allow-list hook contracts verify on chain.
type AllowList struct {
	leaves [][]byte
	index  map[common.Address]int
	levels [][][]byte
}

// NewAllowList builds the proof tree for the given addresses.
func NewAllowList(addresses []common.Address) (*AllowList, error) {
	if len(addresses) == 0 {
		return nil, fmt.Errorf("%w: empty allow list", checkout.ErrGatingFailed)
	}

	l := &AllowList{
		index: make(map[common.Address]int, len(addresses)),
	}

	l.leaves = make([][]byte, len(addresses))
	for i, addr := range addresses {
		l.leaves[i] = crypto.Keccak256(addr.Bytes())
	}
	sort.Slice(l.leaves, func(i, j int) bool {
		return bytes.Compare(l.leaves[i], l.leaves[j]) < 0
	})
	for _, addr := range addresses {
		leaf := crypto.Keccak256(addr.Bytes())
		for i, sorted := range l.leaves {
			if bytes.Equal(sorted, leaf) {
				l.index[addr] = i
				break
			}
		}
	}

	l.build()
	return l, nil
}

// Root returns the merkle root the hook contract must be configured with.
func (l *AllowList) Root() []byte {
	top := l.levels[len(l.levels)-1]
	return top[0]
}

// Contains reports whether address is in the list.
func (l *AllowList) Contains(address common.Address) bool {
	_, ok := l.index[address]
	return ok
}

// Payloads implements checkout.GatingProvider. Each payload is the
// concatenated 32-byte proof nodes for the recipient, leaf to root.
func (l *AllowList) Payloads(_ context.Context, recipients []common.Address) ([][]byte, error) {
	payloads := make([][]byte, len(recipients))
	for i, recipient := range recipients {
		proof, err := l.Proof(recipient)
		if err != nil {
			return nil, err
		}
		payloads[i] = proof
	}
	return payloads, nil
}

// Proof returns the inclusion proof for one address.
func (l *AllowList) Proof(address common.Address) ([]byte, error) {
	pos, ok := l.index[address]
	if !ok {
		return nil, fmt.Errorf("%w: %s not on the allow list", checkout.ErrGatingFailed, address.Hex())
	}

	var proof []byte
	for _, level := range l.levels[:len(l.levels)-1] {
		sibling := pos ^ 1
		// Odd node without a sibling is promoted unhashed.
		if sibling < len(level) {
			proof = append(proof, level[sibling]...)
		}
		pos /= 2
	}

	return proof, nil
}

// Verify checks a proof against the tree root.
func (l *AllowList) Verify(address common.Address, proof []byte) bool {
	if len(proof)%32 != 0 {
		return false
	}
	node := crypto.Keccak256(address.Bytes())
	for i := 0; i < len(proof); i += 32 {
		node = hashPair(node, proof[i:i+32])
	}
	return bytes.Equal(node, l.Root())
}

func (l *AllowList) build() {
	l.levels = [][][]byte{l.leaves}
	for level := l.leaves; len(level) > 1; {
		var next [][]byte
		for i := 0; i < len(level); i += 2 {
			if i+1 == len(level) {
				next = append(next, level[i])
				continue
			}
			next = append(next, hashPair(level[i], level[i+1]))
		}
		l.levels = append(l.levels, next)
		level = next
	}
}

func hashPair(a, b []byte) []byte {
	if bytes.Compare(a, b) > 0 {
		a, b = b, a
	}
	return crypto.Keccak256(a, b)
}
