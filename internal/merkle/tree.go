package merkle

import (
	"bytes"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Tree is a keccak256 Merkle accumulator over 32-byte leaves.
//
// Internal nodes hash the byte-sorted pair of their children, so membership
// proofs carry no direction bits and verification is symmetric. At each level
// an odd trailing node is paired with itself. The level cache is rebuilt
// lazily after insertions.
type Tree struct {
	leaves []common.Hash
	levels [][]common.Hash
	dirty  bool
}

// New returns an accumulator seeded with the given leaves, in order.
func New(leaves ...common.Hash) *Tree {
	t := &Tree{dirty: true}
	t.leaves = append(t.leaves, leaves...)
	return t
}

// Insert appends a leaf. Duplicate leaves are allowed; suppression by call
// identifier happens at the adjudicator, not here.
func (t *Tree) Insert(leaf common.Hash) {
	t.leaves = append(t.leaves, leaf)
	t.dirty = true
}

// Len returns the number of inserted leaves.
func (t *Tree) Len() int { return len(t.leaves) }

// Root returns the current root, or the zero hash for an empty tree.
func (t *Tree) Root() common.Hash {
	if len(t.leaves) == 0 {
		return common.Hash{}
	}
	t.build()
	return t.levels[len(t.levels)-1][0]
}

// Proof returns the sibling path for the leaf at index, bottom-up.
func (t *Tree) Proof(index int) ([]common.Hash, error) {
	if index < 0 || index >= len(t.leaves) {
		return nil, fmt.Errorf("merkle: leaf index %d out of bounds (tree has %d leaves)", index, len(t.leaves))
	}
	t.build()

	var proof []common.Hash
	for level := 0; level < len(t.levels)-1; level++ {
		nodes := t.levels[level]
		sibling := index ^ 1
		if sibling >= len(nodes) {
			sibling = index // odd trailing node pairs with itself
		}
		proof = append(proof, nodes[sibling])
		index /= 2
	}
	return proof, nil
}

func (t *Tree) build() {
	if !t.dirty {
		return
	}
	level := make([]common.Hash, len(t.leaves))
	copy(level, t.leaves)
	t.levels = [][]common.Hash{level}

	for len(level) > 1 {
		next := make([]common.Hash, 0, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			right := level[i]
			if i+1 < len(level) {
				right = level[i+1]
			}
			next = append(next, hashPair(level[i], right))
		}
		t.levels = append(t.levels, next)
		level = next
	}
	t.dirty = false
}

// Verify folds leaf up the proof path and compares against root. An empty
// proof verifies iff leaf == root (single-leaf tree).
func Verify(leaf common.Hash, proof []common.Hash, root common.Hash) bool {
	current := leaf
	for _, sibling := range proof {
		current = hashPair(current, sibling)
	}
	return current == root
}

// hashPair hashes the byte-sorted pair, smaller side first.
func hashPair(a, b common.Hash) common.Hash {
	if bytes.Compare(a[:], b[:]) > 0 {
		a, b = b, a
	}
	return crypto.Keccak256Hash(a[:], b[:])
}
