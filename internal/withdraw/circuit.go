// circuit.go - The withdrawal circuit consumed by the proof builder.
//
// Proves, against fresh public roots, that the spender owns an unspent note
// of sufficient value in the state tree whose label is currently approved by
// the ASP, and that the revealed nullifier hash and new change commitment
// are consistent with that note. All hashing is Poseidon2 with the same
// parameters as the native side, so witness values computed in Go match the
// in-circuit recomputation bit for bit.

package withdraw

import (
	poseidonbn254 "github.com/consensys/gnark-crypto/ecc/bn254/fr/poseidon2"
	"github.com/consensys/gnark/frontend"
	stdhash "github.com/consensys/gnark/std/hash"
	"github.com/consensys/gnark/std/permutation/poseidon2"
)

// Circuit is the groth16 withdrawal statement. Public inputs appear in the
// order of the struct fields; the builder assembles PublicSignals in the
// same order.
type Circuit struct {
	// Public
	WithdrawnValue        frontend.Variable `gnark:",public"`
	StateRoot             frontend.Variable `gnark:",public"`
	StateTreeDepth        frontend.Variable `gnark:",public"`
	ASPRoot               frontend.Variable `gnark:",public"`
	ASPTreeDepth          frontend.Variable `gnark:",public"`
	Context               frontend.Variable `gnark:",public"`
	NewCommitmentHash     frontend.Variable `gnark:",public"`
	ExistingNullifierHash frontend.Variable `gnark:",public"`

	// Private
	Label             frontend.Variable
	ExistingValue     frontend.Variable
	ExistingNullifier frontend.Variable
	ExistingSecret    frontend.Variable
	NewNullifier      frontend.Variable
	NewSecret         frontend.Variable
	StateSiblings     [MaxTreeDepth]frontend.Variable
	StateLeafIndex    frontend.Variable
	ASPSiblings       [MaxTreeDepth]frontend.Variable
	ASPLeafIndex      frontend.Variable
}

func (c *Circuit) Define(api frontend.API) error {
	params := poseidonbn254.GetDefaultParameters()
	perm, err := poseidon2.NewPoseidon2FromParameters(api, params.Width, params.NbFullRounds, params.NbPartialRounds)
	if err != nil {
		return err
	}
	hasher := stdhash.NewMerkleDamgardHasher(api, perm, 0)
	hash := func(vals ...frontend.Variable) frontend.Variable {
		hasher.Reset()
		hasher.Write(vals...)
		return hasher.Sum()
	}

	// Existing note: recompute its commitment and nullifier hash.
	existingPrecommitment := hash(c.ExistingNullifier, c.ExistingSecret)
	existingCommitment := hash(c.ExistingValue, c.Label, existingPrecommitment)
	api.AssertIsEqual(c.ExistingNullifierHash, hash(c.ExistingNullifier))

	// The commitment must exist in the state tree and the label must be
	// currently ASP-approved.
	api.AssertIsEqual(c.StateRoot, merkleRoot(api, hash, existingCommitment, c.StateTreeDepth, c.StateLeafIndex, c.StateSiblings))
	api.AssertIsEqual(c.ASPRoot, merkleRoot(api, hash, c.Label, c.ASPTreeDepth, c.ASPLeafIndex, c.ASPSiblings))

	// Value conservation: the change note carries the remainder.
	api.AssertIsLessOrEqual(c.WithdrawnValue, c.ExistingValue)
	remaining := api.Sub(c.ExistingValue, c.WithdrawnValue)
	newPrecommitment := hash(c.NewNullifier, c.NewSecret)
	api.AssertIsEqual(c.NewCommitmentHash, hash(remaining, c.Label, newPrecommitment))

	// Bind the withdrawal context into the constraint system so relayer
	// data cannot be swapped under an existing proof.
	api.Mul(c.Context, c.Context)

	return nil
}

// merkleRoot recomputes the root of a dynamic-depth inclusion proof padded
// to MaxTreeDepth. nodes[i] is the running hash after i levels; the public
// depth selects which node is the root, so trees shallower than the circuit
// depth verify without rehashing padding into the root.
func merkleRoot(api frontend.API, hash func(...frontend.Variable) frontend.Variable, leaf, depth, index frontend.Variable, siblings [MaxTreeDepth]frontend.Variable) frontend.Variable {
	bits := api.ToBinary(index, MaxTreeDepth)

	nodes := make([]frontend.Variable, MaxTreeDepth+1)
	nodes[0] = leaf
	for i := 0; i < MaxTreeDepth; i++ {
		left := api.Select(bits[i], siblings[i], nodes[i])
		right := api.Select(bits[i], nodes[i], siblings[i])
		nodes[i+1] = hash(left, right)
	}

	root := frontend.Variable(0)
	for i := 0; i <= MaxTreeDepth; i++ {
		atDepth := api.IsZero(api.Sub(depth, i))
		root = api.Add(root, api.Mul(atDepth, nodes[i]))
	}
	return root
}
