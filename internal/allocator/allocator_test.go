// allocator_test.go - Deposit-index allocation against an in-memory oracle.

package allocator

import (
	"context"
	"math/big"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/shinobi-cash/shinobi-mini-app-sub001/internal/field"
	"github.com/shinobi-cash/shinobi-mini-app-sub001/internal/indexer"
	"github.com/shinobi-cash/shinobi-mini-app-sub001/internal/keys"
	"github.com/shinobi-cash/shinobi-mini-app-sub001/internal/notes"
	"github.com/shinobi-cash/shinobi-mini-app-sub001/internal/store"
)

const testPool = "0xpool"

type fixture struct {
	allocator *Allocator
	oracle    *indexer.MemoryOracle
	store     *store.Store
	key       field.Element
	publicKey string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	raw := make([]byte, 32)
	for i := range raw {
		raw[i] = byte(0x30 + i)
	}
	key, err := keys.AccountKeyFromPrivateKey(raw)
	require.NoError(t, err)
	publicKey, err := keys.PublicKeyID(&key)
	require.NoError(t, err)

	st := store.New(store.NewMemoryBackend())
	require.NoError(t, st.InitializeAccountSession("alice", make32(0x11)))

	oracle := indexer.NewMemoryOracle()
	return &fixture{
		allocator: New(st, oracle, zerolog.Nop()),
		oracle:    oracle,
		store:     st,
		key:       key,
		publicKey: publicKey,
	}
}

func make32(b byte) []byte {
	key := make([]byte, 32)
	for i := range key {
		key[i] = b
	}
	return key
}

// occupy registers a deposit for the account's precommitment at the given
// index, as if another device had already used it.
func (f *fixture) occupy(t *testing.T, index uint64) {
	t.Helper()
	pre, err := notes.PrecommitmentAt(&f.key, testPool, index)
	require.NoError(t, err)
	f.oracle.AddDeposit(testPool, &indexer.Deposit{
		Precommitment: field.ToBig(pre),
		Amount:        big.NewInt(100),
		Label:         big.NewInt(1),
	}, big.NewInt(int64(1000+index)))
}

func TestAllocateFreshAccount(t *testing.T) {
	f := newFixture(t)

	alloc, err := f.allocator.AllocateDepositIndex(context.Background(), &f.key, testPool, f.publicKey)
	require.NoError(t, err)
	require.Equal(t, uint64(0), alloc.DepositIndex)

	pre, err := notes.PrecommitmentAt(&f.key, testPool, 0)
	require.NoError(t, err)
	require.Equal(t, field.ToBig(pre), alloc.Precommitment)
}

func TestAllocateSkipsOccupiedIndices(t *testing.T) {
	f := newFixture(t)
	f.occupy(t, 0)
	f.occupy(t, 1)
	f.occupy(t, 2)

	alloc, err := f.allocator.AllocateDepositIndex(context.Background(), &f.key, testPool, f.publicKey)
	require.NoError(t, err)
	require.Equal(t, uint64(3), alloc.DepositIndex)
}

func TestAllocateWithEmptyCacheAndOccupiedChain(t *testing.T) {
	// Fresh install on a second device: the local cache is empty but the
	// account already deposited at index 0 elsewhere. The allocator must
	// detect the occupied precommitment and return index 1.
	f := newFixture(t)
	f.occupy(t, 0)

	alloc, err := f.allocator.AllocateDepositIndex(context.Background(), &f.key, testPool, f.publicKey)
	require.NoError(t, err)
	require.Equal(t, uint64(1), alloc.DepositIndex)
}

func TestAllocatePersistsIndex(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.allocator.AllocateDepositIndex(ctx, &f.key, testPool, f.publicKey)
	require.NoError(t, err)
	require.Equal(t, uint64(0), first.DepositIndex)

	// The reservation sticks even though no deposit confirmed yet.
	second, err := f.allocator.AllocateDepositIndex(ctx, &f.key, testPool, f.publicKey)
	require.NoError(t, err)
	require.Equal(t, uint64(1), second.DepositIndex)

	next, err := f.store.NextDepositIndex(f.publicKey, testPool)
	require.NoError(t, err)
	require.Equal(t, uint64(2), next)
}

func TestAllocateExhaustsProbeBudget(t *testing.T) {
	f := newFixture(t)
	for i := uint64(0); i < DefaultMaxAttempts; i++ {
		f.occupy(t, i)
	}

	_, err := f.allocator.AllocateDepositIndex(context.Background(), &f.key, testPool, f.publicKey)
	var exhausted *CollisionExhaustedError
	require.ErrorAs(t, err, &exhausted)
	require.Equal(t, DefaultMaxAttempts, exhausted.Attempts)
	require.Equal(t, uint64(0), exhausted.FirstCandidate)

	// Nothing was reserved, so the next call starts from the same candidate.
	next, err := f.store.NextDepositIndex(f.publicKey, testPool)
	require.NoError(t, err)
	require.Equal(t, uint64(0), next)
}

func TestAllocateHonorsCancellation(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.allocator.AllocateDepositIndex(ctx, &f.key, testPool, f.publicKey)
	require.ErrorIs(t, err, context.Canceled)
}

func TestAllocateIsolatesPools(t *testing.T) {
	f := newFixture(t)
	f.occupy(t, 0)

	alloc, err := f.allocator.AllocateDepositIndex(context.Background(), &f.key, "0xotherpool", f.publicKey)
	require.NoError(t, err)
	require.Equal(t, uint64(0), alloc.DepositIndex, "occupancy on one pool must not shift another pool's indices")
}
