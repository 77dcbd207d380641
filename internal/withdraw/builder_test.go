// builder_test.go - End-to-end proof building against an in-memory oracle.

package withdraw

import (
	"context"
	"math/big"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/shinobi-cash/shinobi-mini-app-sub001/internal/field"
	"github.com/shinobi-cash/shinobi-mini-app-sub001/internal/indexer"
	"github.com/shinobi-cash/shinobi-mini-app-sub001/internal/keys"
	"github.com/shinobi-cash/shinobi-mini-app-sub001/internal/notes"
)

const testPool = "0xpool"

var (
	provingOnce sync.Once
	proving     *ProvingSystem
	provingErr  error
)

// sharedProving compiles and sets up the circuit once per test binary.
func sharedProving(t *testing.T) *ProvingSystem {
	t.Helper()
	provingOnce.Do(func() {
		proving, provingErr = Setup()
	})
	require.NoError(t, provingErr)
	return proving
}

type fixture struct {
	oracle *indexer.MemoryOracle
	key    field.Element
	note   notes.Note
}

// newFixture seeds the oracle with one confirmed deposit for the account,
// an approved label list containing the deposit's label, and a pool scope.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	raw := make([]byte, 32)
	for i := range raw {
		raw[i] = byte(0x60 + i)
	}
	key, err := keys.AccountKeyFromPrivateKey(raw)
	require.NoError(t, err)

	note := notes.Note{
		PoolAddress:  testPool,
		DepositIndex: 0,
		ChangeIndex:  0,
		Amount:       big.NewInt(1_000_000),
		Label:        big.NewInt(7),
		Status:       notes.StatusUnspent,
	}
	commitment, err := note.Commitment(&key)
	require.NoError(t, err)
	pre, err := note.Precommitment(&key)
	require.NoError(t, err)

	oracle := indexer.NewMemoryOracle()
	oracle.AddDeposit(testPool, &indexer.Deposit{
		Precommitment: field.ToBig(pre),
		Label:         note.Label,
		Amount:        note.Amount,
	}, field.ToBig(commitment))
	oracle.AddCommitment(testPool, big.NewInt(424242))

	labels := []*big.Int{big.NewInt(5), big.NewInt(7), big.NewInt(11)}
	aspTree, err := NewTree(labels)
	require.NoError(t, err)
	oracle.SetLabels("bafytestlabels", field.ToBig(aspTree.Root()), labels)
	oracle.SetScope(testPool, big.NewInt(987654321))

	return &fixture{oracle: oracle, key: key, note: note}
}

func (f *fixture) builder(t *testing.T, proving *ProvingSystem) *Builder {
	t.Helper()
	return NewBuilder(f.oracle, f.oracle, proving, zerolog.Nop())
}

func TestBuildProofEndToEnd(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping groth16 setup and prove in short mode")
	}
	f := newFixture(t)
	b := f.builder(t, sharedProving(t))

	bundle, err := b.BuildProof(context.Background(), &f.note, big.NewInt(400_000), WithdrawalData{Recipient: "0xrecipient"}, &f.key)
	require.NoError(t, err)
	require.NotEmpty(t, bundle.Proof)
	require.Len(t, bundle.PublicSignals, 8)
	require.Equal(t, "400000", bundle.PublicSignals[0])

	change := bundle.NewNote
	require.Equal(t, uint64(0), change.DepositIndex)
	require.Equal(t, uint64(1), change.ChangeIndex)
	require.Equal(t, int64(600_000), change.Amount.Int64())
	require.Equal(t, int64(7), change.Label.Int64())
	require.Equal(t, notes.StatusUnspent, change.Status)

	// The new commitment signal matches the change note recomputed from the
	// account key, so discovery will recognize it after confirmation.
	changeCommitment, err := change.Commitment(&f.key)
	require.NoError(t, err)
	require.Equal(t, field.DecimalString(changeCommitment), bundle.PublicSignals[6])

	nh, err := f.note.NullifierHash(&f.key)
	require.NoError(t, err)
	require.Equal(t, field.DecimalString(nh), bundle.PublicSignals[7])
}

func TestBuildProofFullWithdrawal(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping groth16 setup and prove in short mode")
	}
	f := newFixture(t)
	b := f.builder(t, sharedProving(t))

	bundle, err := b.BuildProof(context.Background(), &f.note, big.NewInt(1_000_000), WithdrawalData{Recipient: "0xrecipient"}, &f.key)
	require.NoError(t, err)
	require.Zero(t, bundle.NewNote.Amount.Sign(), "a full withdrawal leaves a zero-value change note")
}

func TestBuildProofRejectsBadRequests(t *testing.T) {
	f := newFixture(t)
	b := f.builder(t, nil)
	ctx := context.Background()

	spent := f.note
	spent.Status = notes.StatusSpent
	_, err := b.BuildProof(ctx, &spent, big.NewInt(1), WithdrawalData{}, &f.key)
	require.Error(t, err)

	_, err = b.BuildProof(ctx, &f.note, big.NewInt(0), WithdrawalData{}, &f.key)
	require.Error(t, err)

	_, err = b.BuildProof(ctx, &f.note, big.NewInt(1_000_001), WithdrawalData{}, &f.key)
	require.Error(t, err)
}

func TestBuildProofCommitmentNotInTree(t *testing.T) {
	f := newFixture(t)
	b := f.builder(t, nil)

	// A different account's note never appears in this account's tree scan.
	other := f.note
	other.DepositIndex = 5

	_, err := b.BuildProof(context.Background(), &other, big.NewInt(1), WithdrawalData{}, &f.key)
	var nf *NotFoundInTreeError
	require.ErrorAs(t, err, &nf)
	require.Equal(t, "commitment", nf.Kind)
}

func TestBuildProofLabelNotApproved(t *testing.T) {
	f := newFixture(t)

	// Reseed the deposit with a label outside the approved set.
	f.note.Label = big.NewInt(13)
	commitment, err := f.note.Commitment(&f.key)
	require.NoError(t, err)
	f.oracle.AddCommitment(testPool, field.ToBig(commitment))

	b := f.builder(t, nil)
	_, err = b.BuildProof(context.Background(), &f.note, big.NewInt(1), WithdrawalData{}, &f.key)
	var nf *NotFoundInTreeError
	require.ErrorAs(t, err, &nf)
	require.Equal(t, "label", nf.Kind)
}

func TestBuildProofDetectsStaleLabelList(t *testing.T) {
	f := newFixture(t)

	// Published root moves on but the content-addressed list lags behind.
	f.oracle.SetLabels("bafystale", big.NewInt(111111), []*big.Int{big.NewInt(5), big.NewInt(7)})

	b := f.builder(t, nil)
	_, err := b.BuildProof(context.Background(), &f.note, big.NewInt(1), WithdrawalData{}, &f.key)
	require.Error(t, err)
	require.Contains(t, err.Error(), "stale")
}
