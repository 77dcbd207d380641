// store_test.go - Encrypted store session lifecycle and merge semantics.

package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/shinobi-cash/shinobi-mini-app-sub001/internal/notes"
)

func testKey(b byte) []byte {
	key := make([]byte, 32)
	for i := range key {
		key[i] = b
	}
	return key
}

func openedStore(t *testing.T) *Store {
	t.Helper()
	s := New(NewMemoryBackend())
	require.NoError(t, s.InitializeAccountSession("alice", testKey(0x11)))
	return s
}

func TestSessionRequired(t *testing.T) {
	s := New(NewMemoryBackend())

	var serr *StorageError
	_, err := s.GetAccount("alice")
	require.ErrorAs(t, err, &serr)
	require.Equal(t, "session", serr.Op)

	err = s.PutAccount(AccountRecord{Name: "alice"})
	require.ErrorAs(t, err, &serr)

	_, ok := s.SessionAccount()
	require.False(t, ok)
}

func TestSessionLifecycle(t *testing.T) {
	s := openedStore(t)

	account, ok := s.SessionAccount()
	require.True(t, ok)
	require.Equal(t, "alice", account)

	require.NoError(t, s.PutAccount(AccountRecord{Name: "alice", PublicKey: "pk1", CreatedAt: time.Unix(1000, 0).UTC()}))

	s.ClearSession()
	var serr *StorageError
	_, err := s.GetAccount("alice")
	require.ErrorAs(t, err, &serr)

	// Re-deriving the same key restores access to existing ciphertext.
	require.NoError(t, s.InitializeAccountSession("alice", testKey(0x11)))
	rec, err := s.GetAccount("alice")
	require.NoError(t, err)
	require.NotNil(t, rec)
	require.Equal(t, "pk1", rec.PublicKey)
}

func TestWrongKeyFailsDecryption(t *testing.T) {
	backend := NewMemoryBackend()
	s := New(backend)
	require.NoError(t, s.InitializeAccountSession("alice", testKey(0x11)))
	require.NoError(t, s.PutAccount(AccountRecord{Name: "alice", PublicKey: "pk1"}))

	require.NoError(t, s.InitializeAccountSession("alice", testKey(0x22)))
	var serr *StorageError
	_, err := s.GetAccount("alice")
	require.ErrorAs(t, err, &serr)
	require.Equal(t, "decrypt", serr.Op)
}

func TestCiphertextBoundToRecordKey(t *testing.T) {
	backend := NewMemoryBackend()
	s := New(backend)
	require.NoError(t, s.InitializeAccountSession("alice", testKey(0x11)))
	require.NoError(t, s.PutAccount(AccountRecord{Name: "alice", PublicKey: "pk1"}))

	// Replaying alice's ciphertext under bob's record key must not decrypt.
	ct, ok, err := backend.Get("account/alice")
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, backend.Put("account/bob", ct))

	var serr *StorageError
	_, err = s.GetAccount("bob")
	require.ErrorAs(t, err, &serr)
	require.Equal(t, "decrypt", serr.Op)
}

func TestSessionKeyFromPassword(t *testing.T) {
	salt := []byte("0123456789abcdef")

	k1 := SessionKeyFromPassword("hunter2", salt)
	k2 := SessionKeyFromPassword("hunter2", salt)
	require.Equal(t, k1, k2)
	require.Len(t, k1, 32)

	require.NotEqual(t, k1, SessionKeyFromPassword("hunter3", salt))
	require.NotEqual(t, k1, SessionKeyFromPassword("hunter2", []byte("fedcba9876543210")))
}

func TestSessionMaterialRoundTrip(t *testing.T) {
	s := openedStore(t)

	m, err := s.GetSessionMaterial("alice")
	require.NoError(t, err)
	require.Nil(t, m)

	require.NoError(t, s.PutSessionMaterial("alice", SessionMaterial{Salt: []byte("salt"), KDF: "argon2id"}))
	m, err = s.GetSessionMaterial("alice")
	require.NoError(t, err)
	require.NotNil(t, m)
	require.Equal(t, "argon2id", m.KDF)
}

func TestMergeNoteData(t *testing.T) {
	s := openedStore(t)

	data, err := s.GetNoteData("pk1", "0xpool")
	require.NoError(t, err)
	require.Nil(t, data)

	next, err := s.NextDepositIndex("pk1", "0xpool")
	require.NoError(t, err)
	require.Equal(t, uint64(0), next)

	merged, err := s.MergeNoteData("pk1", "0xpool", func(d *CachedNoteData) error {
		v := uint64(2)
		d.LastUsedDepositIndex = &v
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, uint64(2), *merged.LastUsedDepositIndex)

	// A later merge sees the earlier write.
	_, err = s.MergeNoteData("pk1", "0xpool", func(d *CachedNoteData) error {
		require.NotNil(t, d.LastUsedDepositIndex)
		require.Equal(t, uint64(2), *d.LastUsedDepositIndex)
		d.NoteChains = append(d.NoteChains, notes.NoteChain{{PoolAddress: "0xpool", DepositIndex: 2, Status: notes.StatusUnspent}})
		return nil
	})
	require.NoError(t, err)

	next, err = s.NextDepositIndex("pk1", "0xpool")
	require.NoError(t, err)
	require.Equal(t, uint64(3), next)

	// Pools are isolated.
	other, err := s.GetNoteData("pk1", "0xother")
	require.NoError(t, err)
	require.Nil(t, other)
}

func TestRemoveAccount(t *testing.T) {
	backend := NewMemoryBackend()
	s := New(backend)
	require.NoError(t, s.InitializeAccountSession("alice", testKey(0x11)))
	require.NoError(t, s.PutAccount(AccountRecord{Name: "alice", PublicKey: "pk1"}))
	require.NoError(t, s.PutSessionMaterial("alice", SessionMaterial{Salt: []byte("s")}))
	_, err := s.MergeNoteData("pk1", "0xpool", func(*CachedNoteData) error { return nil })
	require.NoError(t, err)

	require.NoError(t, s.RemoveAccount("alice", "pk1"))

	keys, err := backend.List("")
	require.NoError(t, err)
	require.Empty(t, keys)
}

func TestFileBackendPersistsAcrossStores(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wallet.json")

	s1 := New(NewFileBackend(path))
	require.NoError(t, s1.InitializeAccountSession("alice", testKey(0x11)))
	require.NoError(t, s1.PutAccount(AccountRecord{Name: "alice", PublicKey: "pk1"}))

	s2 := New(NewFileBackend(path))
	require.NoError(t, s2.InitializeAccountSession("alice", testKey(0x11)))
	rec, err := s2.GetAccount("alice")
	require.NoError(t, err)
	require.NotNil(t, rec)
	require.Equal(t, "pk1", rec.PublicKey)
}
