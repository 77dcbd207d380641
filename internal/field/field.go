// field.go - BN254 scalar-field helpers shared by derivation, note and tree code.
//
// Every value the wallet derives, commits to or feeds into the withdrawal
// circuit lives in the BN254 scalar field. This package centralizes reduction
// into the field and the native Poseidon2 hash so that the Go side and the
// in-circuit side always agree on encodings.

package field

import (
	"math/big"

	fr "github.com/consensys/gnark-crypto/ecc/bn254/fr"
	poseidon2 "github.com/consensys/gnark-crypto/ecc/bn254/fr/poseidon2"
	"golang.org/x/crypto/sha3"
)

// Element is the BN254 scalar-field element type used throughout the wallet.
type Element = fr.Element

// Modulus returns the BN254 scalar-field modulus.
func Modulus() *big.Int {
	return fr.Modulus()
}

// Zero returns the field's zero element, used to pad Merkle sibling arrays.
func Zero() Element {
	var z Element
	return z
}

// Reduce maps arbitrary bytes into the scalar field (big-endian, mod r).
func Reduce(data []byte) Element {
	v := new(big.Int).SetBytes(data)
	v.Mod(v, fr.Modulus())
	var e Element
	e.SetBigInt(v)
	return e
}

// ReduceBig maps a big integer into the scalar field.
func ReduceBig(v *big.Int) Element {
	r := new(big.Int).Mod(v, fr.Modulus())
	var e Element
	e.SetBigInt(r)
	return e
}

// Keccak256 hashes the concatenation of the given byte slices with keccak256.
// Used to build derivation contexts and the withdrawal context hash.
func Keccak256(data ...[]byte) []byte {
	h := sha3.NewLegacyKeccak256()
	for _, d := range data {
		h.Write(d)
	}
	return h.Sum(nil)
}

// Poseidon hashes the given field elements with the Poseidon2
// Merkle-Damgard construction over BN254. The circuit recomputes the same
// construction, so outputs here are bit-compatible with in-circuit hashes.
func Poseidon(elems ...Element) Element {
	h := poseidon2.NewMerkleDamgardHasher()
	for i := range elems {
		b := elems[i].Bytes()
		h.Write(b[:])
	}
	var out Element
	out.SetBytes(h.Sum(nil))
	return out
}

// DecimalString returns the canonical decimal encoding of an element, the
// representation expected by the circuit input layout.
func DecimalString(e Element) string {
	return e.BigInt(new(big.Int)).String()
}

// ToBig returns the element as a big integer.
func ToBig(e Element) *big.Int {
	return e.BigInt(new(big.Int))
}

// FromBig reduces a big integer into an element.
func FromBig(v *big.Int) Element {
	return ReduceBig(v)
}
