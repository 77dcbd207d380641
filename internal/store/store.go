// store.go - Session-scoped, account-namespaced encrypted persistence.
//
// All values are encrypted at rest with the session's symmetric key. The key
// lives only in memory for the session's duration and is never persisted;
// clearing the session is functionally a logout and leaves ciphertext in
// place, so re-deriving the same key later restores full access.

package store

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"sync"

	"golang.org/x/crypto/argon2"
)

// StorageError reports a failure to decrypt or decode a persisted record,
// typically a wrong or missing session key. It forces re-authentication
// rather than silent data loss.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s failed: %s", e.Op, e.Err.Error())
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

type session struct {
	account string
	aead    cipher.AEAD
}

// Store is the encrypted note store. Multiple named accounts may coexist in
// the same physical backend; each account's keyspace is isolated by name.
type Store struct {
	backend Backend

	mu      sync.Mutex
	session *session

	// writeMu serializes read-modify-write merges of note caches.
	writeMu sync.Mutex
}

// New creates a store on top of the given backend.
func New(backend Backend) *Store {
	return &Store{backend: backend}
}

// SessionKeyFromPassword stretches a password into a 32-byte session key
// with argon2id. The salt is public and stored alongside account metadata.
func SessionKeyFromPassword(password string, salt []byte) []byte {
	return argon2.IDKey([]byte(password), salt, 3, 64*1024, 4, 32)
}

// InitializeAccountSession binds the store to one account and its symmetric
// key. The key must be 32 bytes and is held in memory only.
func (s *Store) InitializeAccountSession(accountName string, symmetricKey []byte) error {
	if accountName == "" {
		return &StorageError{Op: "session", Err: fmt.Errorf("account name must not be empty")}
	}
	block, err := aes.NewCipher(symmetricKey)
	if err != nil {
		return &StorageError{Op: "session", Err: err}
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return &StorageError{Op: "session", Err: err}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.session = &session{account: accountName, aead: aead}
	return nil
}

// ClearSession wipes the in-memory key without deleting any ciphertext.
func (s *Store) ClearSession() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.session = nil
}

// SessionAccount returns the account name bound to the current session.
func (s *Store) SessionAccount() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session == nil {
		return "", false
	}
	return s.session.account, true
}

func (s *Store) currentSession() (*session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session == nil {
		return nil, &StorageError{Op: "session", Err: fmt.Errorf("no account session initialized")}
	}
	return s.session, nil
}

// seal encrypts plaintext under the session key. The record key is bound as
// associated data so a ciphertext cannot be replayed under another name.
func (sess *session) seal(recordKey string, plaintext []byte) ([]byte, error) {
	nonce := make([]byte, sess.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, &StorageError{Op: "encrypt", Err: err}
	}
	return sess.aead.Seal(nonce, nonce, plaintext, []byte(recordKey)), nil
}

func (sess *session) open(recordKey string, ciphertext []byte) ([]byte, error) {
	ns := sess.aead.NonceSize()
	if len(ciphertext) < ns {
		return nil, &StorageError{Op: "decrypt", Err: fmt.Errorf("ciphertext shorter than nonce")}
	}
	plaintext, err := sess.aead.Open(nil, ciphertext[:ns], ciphertext[ns:], []byte(recordKey))
	if err != nil {
		return nil, &StorageError{Op: "decrypt", Err: err}
	}
	return plaintext, nil
}

// putRecord marshals, encrypts and persists a record.
func (s *Store) putRecord(recordKey string, v interface{}) error {
	sess, err := s.currentSession()
	if err != nil {
		return err
	}
	plaintext, err := json.Marshal(v)
	if err != nil {
		return &StorageError{Op: "encode", Err: err}
	}
	ciphertext, err := sess.seal(recordKey, plaintext)
	if err != nil {
		return err
	}
	if err := s.backend.Put(recordKey, ciphertext); err != nil {
		return &StorageError{Op: "write", Err: err}
	}
	return nil
}

// getRecord loads and decrypts a record into v. Returns false when absent.
func (s *Store) getRecord(recordKey string, v interface{}) (bool, error) {
	sess, err := s.currentSession()
	if err != nil {
		return false, err
	}
	ciphertext, ok, err := s.backend.Get(recordKey)
	if err != nil {
		return false, &StorageError{Op: "read", Err: err}
	}
	if !ok {
		return false, nil
	}
	plaintext, err := sess.open(recordKey, ciphertext)
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(plaintext, v); err != nil {
		return false, &StorageError{Op: "decode", Err: err}
	}
	return true, nil
}
