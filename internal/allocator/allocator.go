// allocator.go - Collision-avoiding deposit index allocation.
//
// Two devices sharing one account key can race to deposit; naive index
// reuse would produce nullifier collisions on spend. The allocator probes
// the indexer for each candidate precommitment and converts that race into
// either a fast self-healing retry or an explicit terminal error.

package allocator

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/rs/zerolog"

	"github.com/shinobi-cash/shinobi-mini-app-sub001/internal/field"
	"github.com/shinobi-cash/shinobi-mini-app-sub001/internal/indexer"
	"github.com/shinobi-cash/shinobi-mini-app-sub001/internal/keylock"
	"github.com/shinobi-cash/shinobi-mini-app-sub001/internal/notes"
	"github.com/shinobi-cash/shinobi-mini-app-sub001/internal/store"
)

// DefaultMaxAttempts is the allocator's collision-probe budget.
const DefaultMaxAttempts = 5

// Allocation is a reserved deposit slot: the index and the precommitment
// the pool contract will see.
type Allocation struct {
	DepositIndex  uint64
	Precommitment *big.Int
}

// CollisionExhaustedError reports that every probed candidate index was
// already occupied on-chain. The caller should retry later or check for
// other devices using the same account.
type CollisionExhaustedError struct {
	Attempts       int
	FirstCandidate uint64
}

func (e *CollisionExhaustedError) Error() string {
	return fmt.Sprintf("deposit index allocation exhausted %d attempts starting at index %d", e.Attempts, e.FirstCandidate)
}

// Allocator reserves collision-free deposit indices.
type Allocator struct {
	store  *store.Store
	oracle indexer.Oracle
	log    zerolog.Logger

	locks keylock.KeyedMutex

	maxAttempts   int
	retryAttempts int
	retryBackoff  time.Duration
}

// New creates an allocator with the default probe and retry budgets.
func New(st *store.Store, oracle indexer.Oracle, log zerolog.Logger) *Allocator {
	return &Allocator{
		store:         st,
		oracle:        oracle,
		log:           log.With().Str("component", "allocator").Logger(),
		maxAttempts:   DefaultMaxAttempts,
		retryAttempts: 3,
		retryBackoff:  500 * time.Millisecond,
	}
}

// AllocateDepositIndex reserves the next unoccupied deposit index for the
// account on the given pool. At most one allocation is in flight per
// (account, pool); concurrent callers are serialized, never merged.
func (a *Allocator) AllocateDepositIndex(ctx context.Context, accountKey *field.Element, poolAddress, publicKey string) (*Allocation, error) {
	unlock := a.locks.Lock(publicKey + "|" + poolAddress)
	defer unlock()

	candidate, err := a.store.NextDepositIndex(publicKey, poolAddress)
	if err != nil {
		return nil, err
	}
	first := candidate

	for attempt := 0; attempt < a.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		pre, err := notes.PrecommitmentAt(accountKey, poolAddress, candidate)
		if err != nil {
			return nil, err
		}
		preBig := field.ToBig(pre)

		// Transient network errors retry silently with fixed backoff;
		// only an exhausted budget surfaces to the caller.
		var existing *indexer.Deposit
		err = indexer.WithRetry(ctx, a.retryAttempts, a.retryBackoff, func() error {
			var lookupErr error
			existing, lookupErr = a.oracle.DepositByPrecommitment(ctx, poolAddress, preBig)
			return lookupErr
		})
		if err != nil {
			return nil, fmt.Errorf("deposit lookup for index %d failed: %w", candidate, err)
		}

		if existing == nil {
			if err := a.persistIndex(publicKey, poolAddress, candidate); err != nil {
				return nil, err
			}
			a.log.Debug().Uint64("depositIndex", candidate).Int("attempt", attempt+1).Msg("allocated deposit index")
			return &Allocation{DepositIndex: candidate, Precommitment: preBig}, nil
		}

		a.log.Debug().Uint64("depositIndex", candidate).Msg("deposit index occupied, probing next")
		candidate++
	}

	return nil, &CollisionExhaustedError{Attempts: a.maxAttempts, FirstCandidate: first}
}

// persistIndex records the reserved index through a read-modify-write merge
// so a concurrently discovered chain update is never lost. The last used
// index only ever moves forward.
func (a *Allocator) persistIndex(publicKey, poolAddress string, index uint64) error {
	_, err := a.store.MergeNoteData(publicKey, poolAddress, func(data *store.CachedNoteData) error {
		if data.LastUsedDepositIndex == nil || *data.LastUsedDepositIndex < index {
			v := index
			data.LastUsedDepositIndex = &v
		}
		return nil
	})
	return err
}
