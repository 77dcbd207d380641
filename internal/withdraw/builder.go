// builder.go - Withdrawal proof assembly.
//
// Builds both Merkle trees from network-fresh oracle snapshots, locates the
// note being spent, assembles the circuit witness, invokes the groth16
// prover and self-verifies the result. A proof that fails self-verification
// is never returned: on-chain verification would reject it too, and the
// caller could not distinguish a bad proof from a bad connection.

package withdraw

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark/backend/groth16"
	"github.com/consensys/gnark/frontend"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/shinobi-cash/shinobi-mini-app-sub001/internal/field"
	"github.com/shinobi-cash/shinobi-mini-app-sub001/internal/indexer"
	"github.com/shinobi-cash/shinobi-mini-app-sub001/internal/keylock"
	"github.com/shinobi-cash/shinobi-mini-app-sub001/internal/keys"
	"github.com/shinobi-cash/shinobi-mini-app-sub001/internal/notes"
)

// WithdrawalData is the externally supplied relay payload bound into the
// proof's context hash.
type WithdrawalData struct {
	Recipient string `json:"recipient"`
	Relayer   string `json:"relayer,omitempty"`
	Data      []byte `json:"data,omitempty"`
}

// ProofBundle is the hand-off artifact for the external submission layer,
// plus the change note the spend will create once confirmed.
type ProofBundle struct {
	Proof          []byte
	PublicSignals  []string
	WithdrawalData WithdrawalData
	NewNote        notes.Note
}

// Builder assembles withdrawal proofs.
type Builder struct {
	oracle  indexer.Oracle
	labels  indexer.LabelFetcher
	proving *ProvingSystem
	log     zerolog.Logger

	locks keylock.KeyedMutex
}

// NewBuilder creates a proof builder on top of the given collaborators.
func NewBuilder(oracle indexer.Oracle, labels indexer.LabelFetcher, proving *ProvingSystem, log zerolog.Logger) *Builder {
	return &Builder{
		oracle:  oracle,
		labels:  labels,
		proving: proving,
		log:     log.With().Str("component", "withdraw").Logger(),
	}
}

// BuildProof builds and self-verifies a withdrawal proof for an unspent
// note. At most one proof build is in flight per (account, pool).
func (b *Builder) BuildProof(ctx context.Context, existing *notes.Note, withdrawAmount *big.Int, data WithdrawalData, accountKey *field.Element) (*ProofBundle, error) {
	if existing.Status != notes.StatusUnspent {
		return nil, fmt.Errorf("note at deposit %d change %d is not unspent", existing.DepositIndex, existing.ChangeIndex)
	}
	if withdrawAmount == nil || withdrawAmount.Sign() <= 0 {
		return nil, fmt.Errorf("withdrawal amount must be positive")
	}
	if withdrawAmount.Cmp(existing.Amount) > 0 {
		return nil, fmt.Errorf("withdrawal amount %s exceeds note value %s", withdrawAmount, existing.Amount)
	}

	publicKey, err := keys.PublicKeyID(accountKey)
	if err != nil {
		return nil, err
	}
	unlock := b.locks.Lock(publicKey + "|" + existing.PoolAddress)
	defer unlock()

	// Independent oracle reads are issued concurrently and joined before
	// tree construction; none blocks on another unless data-dependent.
	var (
		stateLeaves []*big.Int
		aspInfo     *indexer.ASPRootInfo
		aspLabels   []*big.Int
		scope       *big.Int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		stateLeaves, err = indexer.CollectStateTreeLeaves(gctx, b.oracle, existing.PoolAddress)
		return err
	})
	g.Go(func() error {
		var err error
		aspInfo, err = b.oracle.ASPRoot(gctx)
		if err != nil {
			return err
		}
		aspLabels, err = b.labels.Labels(gctx, aspInfo.ContentID)
		return err
	})
	g.Go(func() error {
		var err error
		scope, err = b.oracle.PoolScope(gctx, existing.PoolAddress)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	stateTree, err := NewTree(stateLeaves)
	if err != nil {
		return nil, err
	}
	aspTree, err := NewTree(aspLabels)
	if err != nil {
		return nil, err
	}
	if root := aspTree.Root(); field.ToBig(root).Cmp(aspInfo.Root) != 0 {
		return nil, fmt.Errorf("approved label list %s does not match published ASP root; stale snapshot", aspInfo.ContentID)
	}

	commitment, err := existing.Commitment(accountKey)
	if err != nil {
		return nil, err
	}
	stateIndex := stateTree.IndexOf(field.ToBig(commitment))
	if stateIndex < 0 {
		return nil, &NotFoundInTreeError{Kind: "commitment", Value: field.ToBig(commitment)}
	}
	labelIndex := aspTree.IndexOf(existing.Label)
	if labelIndex < 0 {
		return nil, &NotFoundInTreeError{Kind: "label", Value: existing.Label}
	}

	stateProof, err := stateTree.Prove(stateIndex)
	if err != nil {
		return nil, err
	}
	aspProof, err := aspTree.Prove(labelIndex)
	if err != nil {
		return nil, err
	}

	// Post-withdrawal nullifier and secret live at the next change index;
	// indices are never reused.
	newNullifier, err := keys.DeriveNullifier(accountKey, existing.PoolAddress, existing.DepositIndex, existing.ChangeIndex+1, keys.RoleChange)
	if err != nil {
		return nil, err
	}
	newSecret, err := keys.DeriveSecret(accountKey, existing.PoolAddress, existing.DepositIndex, existing.ChangeIndex+1, keys.RoleChange)
	if err != nil {
		return nil, err
	}

	existingNullifier, err := existing.Nullifier(accountKey)
	if err != nil {
		return nil, err
	}
	existingSecret, err := existing.Secret(accountKey)
	if err != nil {
		return nil, err
	}

	remaining := new(big.Int).Sub(existing.Amount, withdrawAmount)
	newCommitment := field.Poseidon(field.FromBig(remaining), field.FromBig(existing.Label), field.Poseidon(newNullifier, newSecret))
	nullifierHash := field.Poseidon(existingNullifier)
	contextHash, err := contextHash(data, scope)
	if err != nil {
		return nil, err
	}

	assignment, err := buildAssignment(assignmentInputs{
		withdrawAmount:    withdrawAmount,
		existing:          existing,
		existingNullifier: existingNullifier,
		existingSecret:    existingSecret,
		newNullifier:      newNullifier,
		newSecret:         newSecret,
		newCommitment:     newCommitment,
		nullifierHash:     nullifierHash,
		contextHash:       contextHash,
		stateProof:        stateProof,
		aspProof:          aspProof,
	})
	if err != nil {
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	witness, err := frontend.NewWitness(assignment, ecc.BN254.ScalarField())
	if err != nil {
		return nil, &ProofGenerationError{Err: err}
	}
	proof, err := groth16.Prove(b.proving.ccs, b.proving.pk, witness)
	if err != nil {
		return nil, &ProofGenerationError{Err: err}
	}

	// Mandatory self-verification before the proof leaves this function.
	publicWitness, err := witness.Public()
	if err != nil {
		return nil, &ProofGenerationError{Err: err}
	}
	if err := groth16.Verify(proof, b.proving.vk, publicWitness); err != nil {
		return nil, &ProofVerificationFailure{Err: err}
	}

	var proofBuf bytes.Buffer
	if _, err := proof.WriteTo(&proofBuf); err != nil {
		return nil, &ProofGenerationError{Err: err}
	}

	b.log.Info().
		Uint64("depositIndex", existing.DepositIndex).
		Uint64("changeIndex", existing.ChangeIndex).
		Str("withdrawn", withdrawAmount.String()).
		Msg("withdrawal proof built and self-verified")

	return &ProofBundle{
		Proof: proofBuf.Bytes(),
		PublicSignals: []string{
			new(big.Int).Set(withdrawAmount).String(),
			field.DecimalString(stateProof.Root),
			fmt.Sprintf("%d", stateProof.Depth),
			field.DecimalString(aspProof.Root),
			fmt.Sprintf("%d", aspProof.Depth),
			field.DecimalString(contextHash),
			field.DecimalString(newCommitment),
			field.DecimalString(nullifierHash),
		},
		WithdrawalData: data,
		NewNote: notes.Note{
			PoolAddress:  existing.PoolAddress,
			DepositIndex: existing.DepositIndex,
			ChangeIndex:  existing.ChangeIndex + 1,
			Amount:       remaining,
			Label:        new(big.Int).Set(existing.Label),
			Status:       notes.StatusUnspent,
		},
	}, nil
}

type assignmentInputs struct {
	withdrawAmount    *big.Int
	existing          *notes.Note
	existingNullifier field.Element
	existingSecret    field.Element
	newNullifier      field.Element
	newSecret         field.Element
	newCommitment     field.Element
	nullifierHash     field.Element
	contextHash       field.Element
	stateProof        *InclusionProof
	aspProof          *InclusionProof
}

// buildAssignment lays out every numeric circuit input as a
// decimal-string-encoded field element, with both sibling arrays padded to
// the fixed circuit depth.
func buildAssignment(in assignmentInputs) (*Circuit, error) {
	stateSiblings, err := PadSiblings(in.stateProof.Siblings)
	if err != nil {
		return nil, err
	}
	aspSiblings, err := PadSiblings(in.aspProof.Siblings)
	if err != nil {
		return nil, err
	}

	assignment := &Circuit{
		WithdrawnValue:        in.withdrawAmount.String(),
		StateRoot:             field.DecimalString(in.stateProof.Root),
		StateTreeDepth:        fmt.Sprintf("%d", in.stateProof.Depth),
		ASPRoot:               field.DecimalString(in.aspProof.Root),
		ASPTreeDepth:          fmt.Sprintf("%d", in.aspProof.Depth),
		Context:               field.DecimalString(in.contextHash),
		NewCommitmentHash:     field.DecimalString(in.newCommitment),
		ExistingNullifierHash: field.DecimalString(in.nullifierHash),
		Label:                 in.existing.Label.String(),
		ExistingValue:         in.existing.Amount.String(),
		ExistingNullifier:     field.DecimalString(in.existingNullifier),
		ExistingSecret:        field.DecimalString(in.existingSecret),
		NewNullifier:          field.DecimalString(in.newNullifier),
		NewSecret:             field.DecimalString(in.newSecret),
		StateLeafIndex:        fmt.Sprintf("%d", in.stateProof.LeafIndex),
		ASPLeafIndex:          fmt.Sprintf("%d", in.aspProof.LeafIndex),
	}
	for i := 0; i < MaxTreeDepth; i++ {
		assignment.StateSiblings[i] = field.DecimalString(stateSiblings[i])
		assignment.ASPSiblings[i] = field.DecimalString(aspSiblings[i])
	}
	return assignment, nil
}

// contextHash binds the withdrawal payload and the pool scope:
// reduce(keccak256(json(data) || scope)).
func contextHash(data WithdrawalData, scope *big.Int) (field.Element, error) {
	encoded, err := json.Marshal(data)
	if err != nil {
		return field.Zero(), err
	}
	scopeBytes := make([]byte, 32)
	scope.FillBytes(scopeBytes)
	return field.Reduce(field.Keccak256(encoded, scopeBytes)), nil
}
