// records.go - Record types and namespaced accessors for the encrypted store.
//
// Persisted layout: account metadata and passkey-derived session material
// are scoped by account name; note caches are scoped by (publicKey,
// poolAddress). Note-cache updates are read-modify-write merges so a
// concurrently discovered chain is never lost to an allocator-only write.

package store

import (
	"fmt"
	"time"

	"github.com/shinobi-cash/shinobi-mini-app-sub001/internal/notes"
)

// AccountRecord holds non-secret account metadata.
type AccountRecord struct {
	Name      string    `json:"name"`
	PublicKey string    `json:"publicKey"`
	CreatedAt time.Time `json:"createdAt"`
}

// SessionMaterial holds passkey/password-derived parameters needed to
// re-derive the session key. It never contains the key itself.
type SessionMaterial struct {
	Salt []byte `json:"salt"`
	KDF  string `json:"kdf"`
}

// CachedNoteData is the per-(publicKey, poolAddress) note cache shared by
// the allocator and the discovery engine.
type CachedNoteData struct {
	NoteChains           []notes.NoteChain `json:"noteChains"`
	LastUsedDepositIndex *uint64           `json:"lastUsedDepositIndex,omitempty"`
	SyncCursor           string            `json:"syncCursor,omitempty"`
}

func accountRecordKey(name string) string {
	return "account/" + name
}

func sessionMaterialKey(name string) string {
	return "passkey/" + name
}

func noteCacheKey(publicKey, poolAddress string) string {
	return fmt.Sprintf("notes/%s/%s", publicKey, poolAddress)
}

// PutAccount persists the session account's metadata record.
func (s *Store) PutAccount(rec AccountRecord) error {
	return s.putRecord(accountRecordKey(rec.Name), rec)
}

// GetAccount loads the session account's metadata record.
func (s *Store) GetAccount(name string) (*AccountRecord, error) {
	var rec AccountRecord
	ok, err := s.getRecord(accountRecordKey(name), &rec)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

// PutSessionMaterial persists passkey-derived session parameters.
func (s *Store) PutSessionMaterial(name string, m SessionMaterial) error {
	return s.putRecord(sessionMaterialKey(name), m)
}

// GetSessionMaterial loads passkey-derived session parameters.
func (s *Store) GetSessionMaterial(name string) (*SessionMaterial, error) {
	var m SessionMaterial
	ok, err := s.getRecord(sessionMaterialKey(name), &m)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return &m, nil
}

// GetNoteData loads the note cache for (publicKey, poolAddress).
// Returns nil when no cache exists yet.
func (s *Store) GetNoteData(publicKey, poolAddress string) (*CachedNoteData, error) {
	var data CachedNoteData
	ok, err := s.getRecord(noteCacheKey(publicKey, poolAddress), &data)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return &data, nil
}

// MergeNoteData applies mutate to the current cache under the store lock and
// persists the result. The cache passed to mutate is never nil; a fresh one
// is created on first use.
func (s *Store) MergeNoteData(publicKey, poolAddress string, mutate func(*CachedNoteData) error) (*CachedNoteData, error) {
	key := noteCacheKey(publicKey, poolAddress)

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	data, err := s.GetNoteData(publicKey, poolAddress)
	if err != nil {
		return nil, err
	}
	if data == nil {
		data = &CachedNoteData{}
	}
	if err := mutate(data); err != nil {
		return nil, err
	}
	if err := s.putRecord(key, data); err != nil {
		return nil, err
	}
	return data, nil
}

// NextDepositIndex returns lastUsedDepositIndex+1, or 0 when no index has
// been used for this account and pool.
func (s *Store) NextDepositIndex(publicKey, poolAddress string) (uint64, error) {
	data, err := s.GetNoteData(publicKey, poolAddress)
	if err != nil {
		return 0, err
	}
	if data == nil || data.LastUsedDepositIndex == nil {
		return 0, nil
	}
	return *data.LastUsedDepositIndex + 1, nil
}

// RemoveAccount deletes an account's records: the metadata record, session
// material and every note cache under the given public key. This is the
// only path that deletes ciphertext.
func (s *Store) RemoveAccount(name, publicKey string) error {
	if _, err := s.currentSession(); err != nil {
		return err
	}
	keys, err := s.backend.List("notes/" + publicKey + "/")
	if err != nil {
		return &StorageError{Op: "list", Err: err}
	}
	keys = append(keys, accountRecordKey(name), sessionMaterialKey(name))
	for _, k := range keys {
		if err := s.backend.Delete(k); err != nil {
			return &StorageError{Op: "delete", Err: err}
		}
	}
	return nil
}
