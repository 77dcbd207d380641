// note.go - Note type and commitment computation for the privacy pool wallet.
//
// A Note represents one confidential position inside a pool. Nullifier and
// secret are never stored as fields; they are recomputed on demand from the
// account key, so a stolen cache never exposes spend authority.

package notes

import (
	"math/big"

	"github.com/shinobi-cash/shinobi-mini-app-sub001/internal/field"
	"github.com/shinobi-cash/shinobi-mini-app-sub001/internal/keys"
)

// Status marks whether a note has been consumed by a spend.
type Status string

const (
	StatusUnspent Status = "unspent"
	StatusSpent   Status = "spent"
)

// Note is one element of a note chain. Amount and Label are field-sized
// integers; TransactionHash and BlockNumber tie the note to its on-chain
// deposit or spend event.
type Note struct {
	PoolAddress     string   `json:"poolAddress"`
	DepositIndex    uint64   `json:"depositIndex"`
	ChangeIndex     uint64   `json:"changeIndex"`
	Amount          *big.Int `json:"amount"`
	Label           *big.Int `json:"label"`
	TransactionHash string   `json:"transactionHash"`
	BlockNumber     uint64   `json:"blockNumber"`
	Timestamp       int64    `json:"timestamp"`
	Status          Status   `json:"status"`
}

// role returns the derivation role and indices for this note: the original
// deposit note derives under the deposit role, change notes under the change
// role with their own change index.
func (n *Note) role() keys.Role {
	if n.ChangeIndex == 0 {
		return keys.RoleDeposit
	}
	return keys.RoleChange
}

// Nullifier recomputes the note's nullifier from the account key.
func (n *Note) Nullifier(accountKey *field.Element) (field.Element, error) {
	return keys.DeriveNullifier(accountKey, n.PoolAddress, n.DepositIndex, n.ChangeIndex, n.role())
}

// Secret recomputes the note's companion secret from the account key.
func (n *Note) Secret(accountKey *field.Element) (field.Element, error) {
	return keys.DeriveSecret(accountKey, n.PoolAddress, n.DepositIndex, n.ChangeIndex, n.role())
}

// Precommitment computes Poseidon(nullifier, secret) for this note.
func (n *Note) Precommitment(accountKey *field.Element) (field.Element, error) {
	nullifier, err := n.Nullifier(accountKey)
	if err != nil {
		return field.Zero(), err
	}
	secret, err := n.Secret(accountKey)
	if err != nil {
		return field.Zero(), err
	}
	return field.Poseidon(nullifier, secret), nil
}

// Commitment computes the on-chain commitment
// Poseidon(amount, label, precommitment) for this note.
func (n *Note) Commitment(accountKey *field.Element) (field.Element, error) {
	pre, err := n.Precommitment(accountKey)
	if err != nil {
		return field.Zero(), err
	}
	return field.Poseidon(field.FromBig(n.Amount), field.FromBig(n.Label), pre), nil
}

// NullifierHash computes Poseidon(nullifier), the public value revealed when
// the note is spent and indexed by the spent-nullifier oracle.
func (n *Note) NullifierHash(accountKey *field.Element) (field.Element, error) {
	nullifier, err := n.Nullifier(accountKey)
	if err != nil {
		return field.Zero(), err
	}
	return field.Poseidon(nullifier), nil
}

// PrecommitmentAt computes the deposit precommitment for a candidate deposit
// index without materializing a Note. Used by the allocator's probe loop.
func PrecommitmentAt(accountKey *field.Element, poolAddress string, depositIndex uint64) (field.Element, error) {
	nullifier, err := keys.DeriveNullifier(accountKey, poolAddress, depositIndex, 0, keys.RoleDeposit)
	if err != nil {
		return field.Zero(), err
	}
	secret, err := keys.DeriveSecret(accountKey, poolAddress, depositIndex, 0, keys.RoleDeposit)
	if err != nil {
		return field.Zero(), err
	}
	return field.Poseidon(nullifier, secret), nil
}
