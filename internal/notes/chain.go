// chain.go - Note chains: the ordered history of one deposit and its change notes.

package notes

import (
	"errors"
	"fmt"
	"math/big"
)

// NoteChain is the ordered, non-empty sequence of notes produced by
// successively partial-spending one original deposit. All notes share the
// deposit index; change indices increase strictly from 0. At most one note
// is unspent, and it is always the last element.
type NoteChain []Note

// Validate checks the chain invariants.
func (c NoteChain) Validate() error {
	if len(c) == 0 {
		return errors.New("note chain must not be empty")
	}
	for i := range c {
		if c[i].ChangeIndex != uint64(i) {
			return fmt.Errorf("change index %d at position %d; chain indices must increase from 0", c[i].ChangeIndex, i)
		}
		if c[i].DepositIndex != c[0].DepositIndex {
			return fmt.Errorf("note at change index %d does not share deposit index %d", c[i].ChangeIndex, c[0].DepositIndex)
		}
		if i < len(c)-1 && c[i].Status != StatusSpent {
			return fmt.Errorf("note at change index %d precedes the tail but is not spent", c[i].ChangeIndex)
		}
	}
	return nil
}

// DepositIndex returns the deposit index shared by the whole chain.
func (c NoteChain) DepositIndex() uint64 {
	return c[0].DepositIndex
}

// Unspent returns the chain's unspent tail note, if any.
func (c NoteChain) Unspent() (*Note, bool) {
	if len(c) == 0 {
		return nil, false
	}
	tail := &c[len(c)-1]
	if tail.Status != StatusUnspent {
		return nil, false
	}
	return tail, true
}

// Spend marks the unspent tail as spent and appends the change note produced
// by the spend at the next change index. Indices are never reused: spending
// the note at change index i always produces change index i+1.
func (c NoteChain) Spend(remaining *big.Int, txHash string, blockNumber uint64, timestamp int64) (NoteChain, error) {
	tail, ok := c.Unspent()
	if !ok {
		return nil, errors.New("note chain has no unspent note to spend")
	}
	if remaining.Sign() < 0 {
		return nil, errors.New("remaining amount must not be negative")
	}
	spent := *tail
	spent.Status = StatusSpent

	change := Note{
		PoolAddress:     tail.PoolAddress,
		DepositIndex:    tail.DepositIndex,
		ChangeIndex:     tail.ChangeIndex + 1,
		Amount:          new(big.Int).Set(remaining),
		Label:           new(big.Int).Set(tail.Label),
		TransactionHash: txHash,
		BlockNumber:     blockNumber,
		Timestamp:       timestamp,
		Status:          StatusUnspent,
	}

	next := make(NoteChain, 0, len(c)+1)
	next = append(next, c[:len(c)-1]...)
	next = append(next, spent, change)
	return next, nil
}

// Merge combines two views of the same chain without duplication, keyed by
// (depositIndex, changeIndex). The longer view wins; spent status is sticky.
func (c NoteChain) Merge(other NoteChain) NoteChain {
	if len(other) == 0 {
		return c
	}
	if len(c) == 0 {
		return other
	}
	longer, shorter := c, other
	if len(other) > len(c) {
		longer, shorter = other, c
	}
	merged := make(NoteChain, len(longer))
	copy(merged, longer)
	for i := range shorter {
		if i < len(merged) && shorter[i].Status == StatusSpent {
			merged[i].Status = StatusSpent
		}
	}
	return merged
}
