// merkle.go - Append-only incremental Merkle trees over indexer-sourced leaves.
//
// Both the state tree (all commitments ever created) and the ASP tree
// (currently approved labels) are built here with Poseidon2 as the
// compression function. Odd layers are padded with the field's zero element,
// so every proof carries exactly depth siblings.

package withdraw

import (
	"fmt"
	"math/big"

	"github.com/shinobi-cash/shinobi-mini-app-sub001/internal/field"
)

// MaxTreeDepth is the fixed circuit depth. Sibling arrays are padded to
// exactly this length before witness assembly.
const MaxTreeDepth = 32

// Tree is an incremental Merkle tree built from an ordered leaf snapshot.
type Tree struct {
	leafCount int
	layers    [][]field.Element
}

// InclusionProof locates one leaf under the tree's root.
type InclusionProof struct {
	Root      field.Element
	Siblings  []field.Element
	LeafIndex uint64
	Depth     int
}

// NewTree builds a tree over the given leaves, in leaf-index order.
func NewTree(leaves []*big.Int) (*Tree, error) {
	if len(leaves) == 0 {
		return nil, fmt.Errorf("merkle tree requires at least one leaf")
	}
	layer := make([]field.Element, len(leaves))
	for i, l := range leaves {
		layer[i] = field.FromBig(l)
	}

	t := &Tree{leafCount: len(leaves)}
	for {
		if len(layer) > 1 && len(layer)%2 == 1 {
			layer = append(layer, field.Zero())
		}
		t.layers = append(t.layers, layer)
		if len(layer) == 1 {
			return t, nil
		}
		next := make([]field.Element, len(layer)/2)
		for j := range next {
			next[j] = field.Poseidon(layer[2*j], layer[2*j+1])
		}
		layer = next
	}
}

// Depth is the number of compression levels. A single-leaf tree has depth 0.
func (t *Tree) Depth() int {
	return len(t.layers) - 1
}

// Root returns the tree root. For a single-leaf tree the root is the leaf.
func (t *Tree) Root() field.Element {
	return t.layers[len(t.layers)-1][0]
}

// IndexOf locates a leaf by linear scan, returning -1 when absent.
func (t *Tree) IndexOf(leaf *big.Int) int {
	needle := field.FromBig(leaf)
	for i := 0; i < t.leafCount; i++ {
		if t.layers[0][i].Equal(&needle) {
			return i
		}
	}
	return -1
}

// Prove generates the inclusion proof for the leaf at index. For a
// single-leaf tree the proof has no siblings and the leaf index is
// normalized to 0 rather than left undefined.
func (t *Tree) Prove(index int) (*InclusionProof, error) {
	if index < 0 || index >= t.leafCount {
		return nil, fmt.Errorf("leaf index %d out of range [0, %d)", index, t.leafCount)
	}
	proof := &InclusionProof{
		Root:      t.Root(),
		LeafIndex: uint64(index),
		Depth:     t.Depth(),
	}
	pos := index
	for level := 0; level < t.Depth(); level++ {
		proof.Siblings = append(proof.Siblings, t.layers[level][pos^1])
		pos >>= 1
	}
	return proof, nil
}

// ComputeRoot hashes the proof's siblings up from the given leaf. Used by
// callers to check a proof against the tree's reported root.
func (p *InclusionProof) ComputeRoot(leaf field.Element) field.Element {
	cur := leaf
	for level, sibling := range p.Siblings {
		if (p.LeafIndex>>uint(level))&1 == 1 {
			cur = field.Poseidon(sibling, cur)
		} else {
			cur = field.Poseidon(cur, sibling)
		}
	}
	return cur
}

// PadSiblings pads a sibling array to exactly MaxTreeDepth with the field's
// zero element. Arrays already at full length are returned untouched; a
// longer array is a fatal configuration error.
func PadSiblings(siblings []field.Element) ([]field.Element, error) {
	if len(siblings) > MaxTreeDepth {
		return nil, &ConfigurationError{
			Reason: fmt.Sprintf("sibling array of length %d exceeds circuit depth %d", len(siblings), MaxTreeDepth),
		}
	}
	if len(siblings) == MaxTreeDepth {
		return siblings, nil
	}
	padded := make([]field.Element, MaxTreeDepth)
	copy(padded, siblings)
	for i := len(siblings); i < MaxTreeDepth; i++ {
		padded[i] = field.Zero()
	}
	return padded, nil
}
