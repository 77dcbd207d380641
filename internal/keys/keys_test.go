// keys_test.go - Derivation purity, distinctness and key-material validation.

package keys

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/shinobi-cash/shinobi-mini-app-sub001/internal/field"
)

const testMnemonic = "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"

func testAccountKey(t *testing.T) field.Element {
	t.Helper()
	raw := make([]byte, 32)
	for i := range raw {
		raw[i] = byte(i + 1)
	}
	key, err := AccountKeyFromPrivateKey(raw)
	require.NoError(t, err)
	return key
}

func TestDeriveIsPure(t *testing.T) {
	key := testAccountKey(t)

	a, err := DeriveNullifier(&key, "0xPoolA", 3, 1, RoleChange)
	require.NoError(t, err)
	b, err := DeriveNullifier(&key, "0xPoolA", 3, 1, RoleChange)
	require.NoError(t, err)
	require.True(t, a.Equal(&b), "identical inputs must derive identical nullifiers")

	s1, err := DeriveSecret(&key, "0xPoolA", 3, 1, RoleChange)
	require.NoError(t, err)
	s2, err := DeriveSecret(&key, "0xPoolA", 3, 1, RoleChange)
	require.NoError(t, err)
	require.True(t, s1.Equal(&s2))
	require.False(t, a.Equal(&s1), "nullifier and secret purposes must not collide")
}

func TestDeriveDistinctAcrossInputs(t *testing.T) {
	key := testAccountKey(t)

	type position struct {
		pool         string
		depositIndex uint64
		changeIndex  uint64
		role         Role
	}
	positions := []position{
		{"0xpool1", 0, 0, RoleDeposit},
		{"0xpool1", 1, 0, RoleDeposit},
		{"0xpool1", 0, 1, RoleChange},
		{"0xpool1", 0, 2, RoleChange},
		{"0xpool1", 0, 0, RoleRefund},
		{"0xpool2", 0, 0, RoleDeposit},
	}

	seen := make(map[string]position)
	for _, p := range positions {
		out, err := DeriveNullifier(&key, p.pool, p.depositIndex, p.changeIndex, p.role)
		require.NoError(t, err)
		enc := field.DecimalString(out)
		prev, dup := seen[enc]
		require.False(t, dup, "positions %+v and %+v derived the same nullifier", prev, p)
		seen[enc] = p
	}
}

func TestDerivePoolAddressCaseInsensitive(t *testing.T) {
	key := testAccountKey(t)

	lower, err := DeriveNullifier(&key, "0xabcdef", 0, 0, RoleDeposit)
	require.NoError(t, err)
	mixed, err := DeriveNullifier(&key, "0xAbCdEf", 0, 0, RoleDeposit)
	require.NoError(t, err)
	require.True(t, lower.Equal(&mixed))
}

func TestAccountKeyFromMnemonic(t *testing.T) {
	a, err := AccountKeyFromMnemonic(testMnemonic, "")
	require.NoError(t, err)
	b, err := AccountKeyFromMnemonic(testMnemonic, "")
	require.NoError(t, err)
	require.True(t, a.Equal(&b))

	withPassphrase, err := AccountKeyFromMnemonic(testMnemonic, "trezor")
	require.NoError(t, err)
	require.False(t, a.Equal(&withPassphrase), "passphrase must change the account key")

	_, err = AccountKeyFromMnemonic("not a valid mnemonic phrase at all whatsoever really truly honestly nope", "")
	var derr *DerivationError
	require.ErrorAs(t, err, &derr)
}

func TestAccountKeyFromPrivateKeyValidation(t *testing.T) {
	var derr *DerivationError

	_, err := AccountKeyFromPrivateKey(make([]byte, 31))
	require.ErrorAs(t, err, &derr)

	_, err = AccountKeyFromPrivateKey(make([]byte, 33))
	require.ErrorAs(t, err, &derr)

	_, err = AccountKeyFromPrivateKey(make([]byte, 32))
	require.ErrorAs(t, err, &derr, "all-zero key must be rejected")
}

func TestPublicKeyID(t *testing.T) {
	key := testAccountKey(t)

	id1, err := PublicKeyID(&key)
	require.NoError(t, err)
	id2, err := PublicKeyID(&key)
	require.NoError(t, err)
	require.Equal(t, id1, id2)
	require.Len(t, id1, 64)

	nullifier, err := DeriveNullifier(&key, "0xpool", 0, 0, RoleDeposit)
	require.NoError(t, err)
	require.NotEqual(t, id1, field.DecimalString(nullifier))

	var zero field.Element
	var derr *DerivationError
	_, err = PublicKeyID(&zero)
	require.ErrorAs(t, err, &derr)
	_, err = PublicKeyID(nil)
	require.ErrorAs(t, err, &derr)
}
