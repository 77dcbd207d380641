// keys.go - Deterministic account-bound key derivation for the privacy pool wallet.
//
// Implements the keyed PRF that turns a single account scalar into per-note
// nullifiers and secrets. Identical inputs always yield identical outputs,
// across processes and restarts, so a wallet is fully recoverable from its
// mnemonic with zero persisted secret state.

package keys

import (
	"encoding/binary"
	"encoding/hex"
	"strings"
	"sync"

	bip39 "github.com/tyler-smith/go-bip39"

	"github.com/shinobi-cash/shinobi-mini-app-sub001/internal/field"
)

// Role selects the domain tag for a derivation. Tags must differ across
// roles, and from any other keyed-PRF use in the system, so nullifiers can
// never collide across purposes.
type Role uint8

const (
	RoleDeposit Role = iota
	RoleChange
	RoleRefund
)

// Per-role domain tags. Never reuse these strings for any other PRF.
var roleTags = map[Role][]byte{
	RoleDeposit: []byte("shinobi.kdf.deposit.v1"),
	RoleChange:  []byte("shinobi.kdf.change.v1"),
	RoleRefund:  []byte("shinobi.kdf.refund.v1"),
}

const (
	purposeNullifier = byte(0x4e)
	purposeSecret    = byte(0x53)
)

// DerivationError reports corrupt or malformed account key material.
// This is fatal and should be unreachable in correct operation.
type DerivationError struct {
	Reason string
}

func (e *DerivationError) Error() string {
	return "key derivation failed: " + e.Reason
}

var domainConstant = sync.OnceValue(func() field.Element {
	return field.Reduce(field.Keccak256([]byte("shinobi.cash/kdf/domain/v1")))
})

var publicIDConstant = sync.OnceValue(func() field.Element {
	return field.Reduce(field.Keccak256([]byte("shinobi.cash/kdf/public-id/v1")))
})

// AccountKeyFromMnemonic derives the account scalar from a BIP-39 mnemonic.
// The scalar is the sole secret driving all note derivation.
func AccountKeyFromMnemonic(mnemonic, passphrase string) (field.Element, error) {
	if !bip39.IsMnemonicValid(mnemonic) {
		return field.Zero(), &DerivationError{Reason: "invalid mnemonic"}
	}
	seed := bip39.NewSeed(mnemonic, passphrase)
	key := field.Reduce(seed)
	if key.IsZero() {
		return field.Zero(), &DerivationError{Reason: "mnemonic reduces to zero scalar"}
	}
	return key, nil
}

// AccountKeyFromPrivateKey derives the account scalar from a raw 32-byte key.
func AccountKeyFromPrivateKey(raw []byte) (field.Element, error) {
	if len(raw) != 32 {
		return field.Zero(), &DerivationError{Reason: "private key must be exactly 32 bytes"}
	}
	key := field.Reduce(raw)
	if key.IsZero() {
		return field.Zero(), &DerivationError{Reason: "private key reduces to zero scalar"}
	}
	return key, nil
}

// PublicKeyID returns the non-secret identifier for an account key. It is
// used only as a cache/namespace key and never as cryptographic input.
func PublicKeyID(accountKey *field.Element) (string, error) {
	if err := checkKey(accountKey); err != nil {
		return "", err
	}
	id := field.Poseidon(*accountKey, publicIDConstant())
	b := id.Bytes()
	return hex.EncodeToString(b[:]), nil
}

// DeriveNullifier derives the nullifier for a note position.
func DeriveNullifier(accountKey *field.Element, poolAddress string, depositIndex, changeIndex uint64, role Role) (field.Element, error) {
	return derive(accountKey, poolAddress, depositIndex, changeIndex, role, purposeNullifier)
}

// DeriveSecret derives the companion secret for a note position.
func DeriveSecret(accountKey *field.Element, poolAddress string, depositIndex, changeIndex uint64, role Role) (field.Element, error) {
	return derive(accountKey, poolAddress, depositIndex, changeIndex, role, purposeSecret)
}

// derive computes ReduceToField(Poseidon2(accountKey,
// ReduceToField(Poseidon2(context, domainConstant)))) where context packs the
// pool address, indices, role tag and purpose byte through keccak256.
func derive(accountKey *field.Element, poolAddress string, depositIndex, changeIndex uint64, role Role, purpose byte) (field.Element, error) {
	if err := checkKey(accountKey); err != nil {
		return field.Zero(), err
	}
	tag, ok := roleTags[role]
	if !ok {
		return field.Zero(), &DerivationError{Reason: "unknown derivation role"}
	}
	ctx := field.Reduce(field.Keccak256(packContext(poolAddress, depositIndex, changeIndex, tag, purpose)))
	inner := field.Poseidon(ctx, domainConstant())
	return field.Poseidon(*accountKey, inner), nil
}

func packContext(poolAddress string, depositIndex, changeIndex uint64, tag []byte, purpose byte) []byte {
	var idx [16]byte
	binary.BigEndian.PutUint64(idx[:8], depositIndex)
	binary.BigEndian.PutUint64(idx[8:], changeIndex)

	packed := make([]byte, 0, len(poolAddress)+len(idx)+len(tag)+1)
	packed = append(packed, []byte(strings.ToLower(poolAddress))...)
	packed = append(packed, idx[:]...)
	packed = append(packed, tag...)
	packed = append(packed, purpose)
	return packed
}

func checkKey(accountKey *field.Element) error {
	if accountKey == nil {
		return &DerivationError{Reason: "nil account key"}
	}
	if accountKey.IsZero() {
		return &DerivationError{Reason: "zero account key"}
	}
	return nil
}
