// oracle.go - Read-only oracle interfaces over the external indexer.
//
// The indexer is eventually consistent and untrusted: it sees precommitments
// and nullifier hashes, never key material. All proof-relevant reads must be
// network-fresh; implementations must not serve staleness-tolerant caches.

package indexer

import (
	"context"
	"errors"
	"math/big"
	"time"
)

// Deposit is an on-chain deposit event matched by precommitment.
type Deposit struct {
	Precommitment   *big.Int `json:"precommitment"`
	Label           *big.Int `json:"label"`
	Amount          *big.Int `json:"amount"`
	TransactionHash string   `json:"transactionHash"`
	BlockNumber     uint64   `json:"blockNumber"`
	Timestamp       int64    `json:"timestamp"`
}

// SpendRecord is a spent-nullifier event. RemainingAmount is the value
// carried into the change note the spend created.
type SpendRecord struct {
	NullifierHash   *big.Int `json:"nullifierHash"`
	RemainingAmount *big.Int `json:"remainingAmount"`
	TransactionHash string   `json:"transactionHash"`
	BlockNumber     uint64   `json:"blockNumber"`
	Timestamp       int64    `json:"timestamp"`
}

// LeafPage is one page of state-tree commitment leaves, ordered by leaf
// index ascending. An empty NextCursor marks the last page.
type LeafPage struct {
	Leaves     []*big.Int `json:"leaves"`
	NextCursor string     `json:"nextCursor"`
}

// ASPRootInfo is the latest Association Set Provider root and the content
// identifier of the approved label list it commits to.
type ASPRootInfo struct {
	Root      *big.Int `json:"root"`
	ContentID string   `json:"contentId"`
}

// Oracle is the indexer query surface consumed by the wallet core.
type Oracle interface {
	// StateTreeLeaves returns one page of historical commitment leaves.
	StateTreeLeaves(ctx context.Context, poolAddress, cursor string) (*LeafPage, error)
	// DepositByPrecommitment returns the deposit matching the given
	// precommitment, or nil when none exists.
	DepositByPrecommitment(ctx context.Context, poolAddress string, precommitment *big.Int) (*Deposit, error)
	// SpentNullifier returns the spend event for a nullifier hash, or nil
	// when the nullifier has not been revealed.
	SpentNullifier(ctx context.Context, poolAddress string, nullifierHash *big.Int) (*SpendRecord, error)
	// ASPRoot returns the latest approved-label-set root and content id.
	ASPRoot(ctx context.Context) (*ASPRootInfo, error)
	// PoolScope returns the pool contract's scope scalar.
	PoolScope(ctx context.Context, poolAddress string) (*big.Int, error)
}

// LabelFetcher retrieves the ASP-approved label array referenced by a
// content identifier (content-addressed storage, e.g. an IPFS gateway).
type LabelFetcher interface {
	Labels(ctx context.Context, contentID string) ([]*big.Int, error)
}

// WithRetry runs fn up to attempts times with a fixed backoff between
// tries. Used for transient network failures during note-index generation;
// the last error is returned once the budget is exhausted. Cancellation of
// ctx stops further attempts immediately.
func WithRetry(ctx context.Context, attempts int, backoff time.Duration, fn func() error) error {
	var last error
	for i := 0; i < attempts; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		last = fn()
		if last == nil {
			return nil
		}
		if i == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}
	if last == nil {
		last = errors.New("retry budget exhausted")
	}
	return last
}

// CollectStateTreeLeaves drains the paginated leaf feed into one ordered
// slice. Proof construction always starts from the first page so the tree
// is built from a complete, fresh snapshot.
func CollectStateTreeLeaves(ctx context.Context, o Oracle, poolAddress string) ([]*big.Int, error) {
	var leaves []*big.Int
	cursor := ""
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		page, err := o.StateTreeLeaves(ctx, poolAddress, cursor)
		if err != nil {
			return nil, err
		}
		leaves = append(leaves, page.Leaves...)
		if page.NextCursor == "" {
			return leaves, nil
		}
		cursor = page.NextCursor
	}
}
