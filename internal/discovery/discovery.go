// discovery.go - Note-history reconstruction from the indexer.
//
// Replays deterministic derivation against indexer activity: deposit chains
// are found by probing successive deposit-index precommitments, and each
// chain's spend history by walking change-index nullifiers through the
// spent-nullifier index until an unspent tail is found. Re-running merges
// with the cached view without duplication, so syncs are incremental.

package discovery

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/shinobi-cash/shinobi-mini-app-sub001/internal/field"
	"github.com/shinobi-cash/shinobi-mini-app-sub001/internal/indexer"
	"github.com/shinobi-cash/shinobi-mini-app-sub001/internal/notes"
	"github.com/shinobi-cash/shinobi-mini-app-sub001/internal/store"
)

// DefaultGapProbeWindow is how many consecutive unmatched deposit indices
// discovery tolerates before concluding the allocated history has ended.
// A window greater than one keeps a reserved-but-never-deposited index from
// permanently truncating discovery of later chains.
const DefaultGapProbeWindow = 3

// Result is the reconstructed note history for one account and pool.
type Result struct {
	NoteChains     []notes.NoteChain
	NewChainsFound int
}

// Progress reports incremental discovery state to an optional subscriber.
type Progress struct {
	DepositIndex uint64
	ChainsFound  int
}

// Option configures a single Discover call.
type Option func(*options)

type options struct {
	progress func(Progress)
}

// WithProgress subscribes a callback to per-index discovery progress.
// Presentation layers can drive progress UI from it without the core
// depending on them.
func WithProgress(fn func(Progress)) Option {
	return func(o *options) { o.progress = fn }
}

// Engine reconstructs note chains owned by an account.
type Engine struct {
	store  *store.Store
	oracle indexer.Oracle
	log    zerolog.Logger

	gapProbeWindow int
	retryAttempts  int
	retryBackoff   time.Duration
}

// New creates a discovery engine with default probe and retry budgets.
func New(st *store.Store, oracle indexer.Oracle, log zerolog.Logger) *Engine {
	return &Engine{
		store:          st,
		oracle:         oracle,
		log:            log.With().Str("component", "discovery").Logger(),
		gapProbeWindow: DefaultGapProbeWindow,
		retryAttempts:  3,
		retryBackoff:   500 * time.Millisecond,
	}
}

// Discover rebuilds the account's note chains on the given pool,
// incrementally from the persisted cursor, and merges the result into the
// encrypted cache. Idempotent: re-running never duplicates notes.
func (e *Engine) Discover(ctx context.Context, accountKey *field.Element, poolAddress, publicKey string, opts ...Option) (*Result, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	cached, err := e.store.GetNoteData(publicKey, poolAddress)
	if err != nil {
		return nil, err
	}

	chains := make(map[uint64]notes.NoteChain)
	scanFrom := uint64(0)
	if cached != nil {
		for _, chain := range cached.NoteChains {
			if len(chain) == 0 {
				continue
			}
			// Known chains may have been spent elsewhere since the last
			// sync; extend each one to its current unspent tail.
			extended, err := e.extendChain(ctx, accountKey, chain)
			if err != nil {
				return nil, err
			}
			chains[extended.DepositIndex()] = extended
			if extended.DepositIndex()+1 > scanFrom {
				scanFrom = extended.DepositIndex() + 1
			}
		}
		if cached.SyncCursor != "" {
			if v, err := strconv.ParseUint(cached.SyncCursor, 10, 64); err == nil && v > scanFrom {
				scanFrom = v
			}
		}
	}

	newChains, nextCursor, err := e.scan(ctx, accountKey, poolAddress, scanFrom, len(chains), o.progress)
	if err != nil {
		return nil, err
	}
	for idx, chain := range newChains {
		if existing, ok := chains[idx]; ok {
			chains[idx] = existing.Merge(chain)
		} else {
			chains[idx] = chain
		}
	}

	merged, err := e.persist(publicKey, poolAddress, chains, nextCursor)
	if err != nil {
		return nil, err
	}

	e.log.Debug().Int("chains", len(merged.NoteChains)).Int("new", len(newChains)).Msg("discovery sync complete")
	return &Result{NoteChains: merged.NoteChains, NewChainsFound: len(newChains)}, nil
}

// scan probes deposit indices from scanFrom upward. Discovery of new chains
// stops only after gapProbeWindow consecutive unmatched indices, and the
// returned cursor points at the first index of that trailing miss run so a
// stranded reservation is re-probed on the next sync.
func (e *Engine) scan(ctx context.Context, accountKey *field.Element, poolAddress string, scanFrom uint64, knownChains int, progress func(Progress)) (map[uint64]notes.NoteChain, uint64, error) {
	found := make(map[uint64]notes.NoteChain)
	misses := 0
	candidate := scanFrom

	for misses < e.gapProbeWindow {
		if err := ctx.Err(); err != nil {
			return nil, scanFrom, err
		}

		pre, err := notes.PrecommitmentAt(accountKey, poolAddress, candidate)
		if err != nil {
			return nil, scanFrom, err
		}

		var dep *indexer.Deposit
		err = indexer.WithRetry(ctx, e.retryAttempts, e.retryBackoff, func() error {
			var lookupErr error
			dep, lookupErr = e.oracle.DepositByPrecommitment(ctx, poolAddress, field.ToBig(pre))
			return lookupErr
		})
		if err != nil {
			return nil, scanFrom, fmt.Errorf("deposit probe at index %d failed: %w", candidate, err)
		}

		if dep == nil {
			misses++
			candidate++
			continue
		}

		chain, err := e.buildChain(ctx, accountKey, poolAddress, candidate, dep)
		if err != nil {
			return nil, scanFrom, err
		}
		found[candidate] = chain
		misses = 0
		candidate++

		if progress != nil {
			progress(Progress{DepositIndex: candidate, ChainsFound: knownChains + len(found)})
		}
	}

	return found, candidate - uint64(misses), nil
}

// buildChain materializes the full chain for a confirmed deposit.
func (e *Engine) buildChain(ctx context.Context, accountKey *field.Element, poolAddress string, depositIndex uint64, dep *indexer.Deposit) (notes.NoteChain, error) {
	chain := notes.NoteChain{{
		PoolAddress:     poolAddress,
		DepositIndex:    depositIndex,
		ChangeIndex:     0,
		Amount:          dep.Amount,
		Label:           dep.Label,
		TransactionHash: dep.TransactionHash,
		BlockNumber:     dep.BlockNumber,
		Timestamp:       dep.Timestamp,
		Status:          notes.StatusUnspent,
	}}
	return e.extendChain(ctx, accountKey, chain)
}

// extendChain walks successive change-index nullifiers through the
// spent-nullifier index until the unspent tail is reached.
func (e *Engine) extendChain(ctx context.Context, accountKey *field.Element, chain notes.NoteChain) (notes.NoteChain, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		tail, ok := chain.Unspent()
		if !ok {
			return chain, nil
		}

		nh, err := tail.NullifierHash(accountKey)
		if err != nil {
			return nil, err
		}

		var rec *indexer.SpendRecord
		err = indexer.WithRetry(ctx, e.retryAttempts, e.retryBackoff, func() error {
			var lookupErr error
			rec, lookupErr = e.oracle.SpentNullifier(ctx, tail.PoolAddress, field.ToBig(nh))
			return lookupErr
		})
		if err != nil {
			return nil, fmt.Errorf("spent-nullifier probe for chain %d failed: %w", chain.DepositIndex(), err)
		}
		if rec == nil {
			return chain, nil
		}

		chain, err = chain.Spend(rec.RemainingAmount, rec.TransactionHash, rec.BlockNumber, rec.Timestamp)
		if err != nil {
			return nil, err
		}
	}
}

// persist merges the discovered chains into the encrypted cache through a
// read-modify-write so a concurrent allocator write is never lost.
func (e *Engine) persist(publicKey, poolAddress string, chains map[uint64]notes.NoteChain, nextCursor uint64) (*store.CachedNoteData, error) {
	return e.store.MergeNoteData(publicKey, poolAddress, func(data *store.CachedNoteData) error {
		byIndex := make(map[uint64]notes.NoteChain, len(chains))
		for idx, chain := range chains {
			byIndex[idx] = chain
		}
		for _, chain := range data.NoteChains {
			if len(chain) == 0 {
				continue
			}
			if discovered, ok := byIndex[chain.DepositIndex()]; ok {
				byIndex[chain.DepositIndex()] = discovered.Merge(chain)
			} else {
				byIndex[chain.DepositIndex()] = chain
			}
		}

		indices := make([]uint64, 0, len(byIndex))
		for idx := range byIndex {
			indices = append(indices, idx)
		}
		sort.Slice(indices, func(i, j int) bool { return indices[i] < indices[j] })

		data.NoteChains = data.NoteChains[:0]
		var maxIndex uint64
		for _, idx := range indices {
			data.NoteChains = append(data.NoteChains, byIndex[idx])
			if idx > maxIndex {
				maxIndex = idx
			}
		}
		if len(indices) > 0 && (data.LastUsedDepositIndex == nil || *data.LastUsedDepositIndex < maxIndex) {
			v := maxIndex
			data.LastUsedDepositIndex = &v
		}
		data.SyncCursor = strconv.FormatUint(nextCursor, 10)
		return nil
	})
}
