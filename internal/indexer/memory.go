// memory.go - In-memory oracle used by tests and the demo wiring.
//
// Mirrors the canonical append-only view a real indexer maintains over a
// pool: commitment leaves in insertion order, deposits keyed by
// precommitment, and the set of revealed nullifier hashes.

package indexer

import (
	"context"
	"fmt"
	"math/big"
	"strconv"
	"sync"
)

// MemoryOracle is an Oracle and LabelFetcher backed by process memory.
type MemoryOracle struct {
	mu sync.RWMutex

	leaves   map[string][]*big.Int    // pool -> state-tree leaves
	deposits map[string]*Deposit      // pool|precommitment -> deposit
	spent    map[string]*SpendRecord  // pool|nullifierHash -> spend
	scopes   map[string]*big.Int      // pool -> scope
	labels   map[string][]*big.Int    // contentID -> approved labels
	aspRoot  *ASPRootInfo

	// PageSize bounds each StateTreeLeaves page so pagination paths are
	// exercised. Zero means a single page.
	PageSize int
}

// NewMemoryOracle creates an empty in-memory oracle.
func NewMemoryOracle() *MemoryOracle {
	return &MemoryOracle{
		leaves:   make(map[string][]*big.Int),
		deposits: make(map[string]*Deposit),
		spent:    make(map[string]*SpendRecord),
		scopes:   make(map[string]*big.Int),
		labels:   make(map[string][]*big.Int),
	}
}

func depositKey(pool string, precommitment *big.Int) string {
	return pool + "|" + precommitment.String()
}

// AddDeposit records a deposit event and appends its commitment leaf.
func (m *MemoryOracle) AddDeposit(pool string, dep *Deposit, commitment *big.Int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deposits[depositKey(pool, dep.Precommitment)] = dep
	m.leaves[pool] = append(m.leaves[pool], new(big.Int).Set(commitment))
}

// AddCommitment appends a bare commitment leaf to the pool's state tree.
func (m *MemoryOracle) AddCommitment(pool string, commitment *big.Int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.leaves[pool] = append(m.leaves[pool], new(big.Int).Set(commitment))
}

// MarkSpent records a revealed nullifier hash and the change commitment the
// spend created.
func (m *MemoryOracle) MarkSpent(pool string, rec *SpendRecord, newCommitment *big.Int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.spent[pool+"|"+rec.NullifierHash.String()] = rec
	if newCommitment != nil {
		m.leaves[pool] = append(m.leaves[pool], new(big.Int).Set(newCommitment))
	}
}

// SetScope sets the pool's scope scalar.
func (m *MemoryOracle) SetScope(pool string, scope *big.Int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scopes[pool] = new(big.Int).Set(scope)
}

// SetLabels publishes an approved label list under a content id and makes
// it the latest ASP root.
func (m *MemoryOracle) SetLabels(contentID string, root *big.Int, labels []*big.Int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.labels[contentID] = labels
	m.aspRoot = &ASPRootInfo{Root: new(big.Int).Set(root), ContentID: contentID}
}

func (m *MemoryOracle) StateTreeLeaves(_ context.Context, poolAddress, cursor string) (*LeafPage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	leaves := m.leaves[poolAddress]

	start := 0
	if cursor != "" {
		v, err := strconv.Atoi(cursor)
		if err != nil || v < 0 || v > len(leaves) {
			return nil, fmt.Errorf("invalid leaf cursor %q", cursor)
		}
		start = v
	}
	end := len(leaves)
	next := ""
	if m.PageSize > 0 && start+m.PageSize < end {
		end = start + m.PageSize
		next = strconv.Itoa(end)
	}
	page := &LeafPage{NextCursor: next}
	for _, leaf := range leaves[start:end] {
		page.Leaves = append(page.Leaves, new(big.Int).Set(leaf))
	}
	return page, nil
}

func (m *MemoryOracle) DepositByPrecommitment(_ context.Context, poolAddress string, precommitment *big.Int) (*Deposit, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	dep, ok := m.deposits[depositKey(poolAddress, precommitment)]
	if !ok {
		return nil, nil
	}
	return dep, nil
}

func (m *MemoryOracle) SpentNullifier(_ context.Context, poolAddress string, nullifierHash *big.Int) (*SpendRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.spent[poolAddress+"|"+nullifierHash.String()]
	if !ok {
		return nil, nil
	}
	return rec, nil
}

func (m *MemoryOracle) ASPRoot(_ context.Context) (*ASPRootInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.aspRoot == nil {
		return nil, fmt.Errorf("no ASP root published")
	}
	return m.aspRoot, nil
}

func (m *MemoryOracle) PoolScope(_ context.Context, poolAddress string) (*big.Int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	scope, ok := m.scopes[poolAddress]
	if !ok {
		return nil, fmt.Errorf("no scope for pool %s", poolAddress)
	}
	return new(big.Int).Set(scope), nil
}

func (m *MemoryOracle) Labels(_ context.Context, contentID string) ([]*big.Int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	labels, ok := m.labels[contentID]
	if !ok {
		return nil, fmt.Errorf("unknown label list %s", contentID)
	}
	out := make([]*big.Int, len(labels))
	for i, l := range labels {
		out[i] = new(big.Int).Set(l)
	}
	return out, nil
}
