// prover.go - Proving artifact management.
//
// The compiled constraint system and groth16 key material are loaded (or
// generated and persisted) once per session and cached in memory for the
// session's lifetime.

package withdraw

import (
	"fmt"
	"os"
	"sync"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark/backend/groth16"
	"github.com/consensys/gnark/constraint"
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/frontend/cs/r1cs"
)

// ProvingSystem bundles the compiled withdrawal circuit with its groth16
// proving and verification keys.
type ProvingSystem struct {
	ccs constraint.ConstraintSystem
	pk  groth16.ProvingKey
	vk  groth16.VerifyingKey
}

// Setup compiles the withdrawal circuit and runs a fresh groth16 setup.
// Tests and demos use this path; production wallets load persisted keys.
func Setup() (*ProvingSystem, error) {
	var circuit Circuit
	ccs, err := frontend.Compile(ecc.BN254.ScalarField(), r1cs.NewBuilder, &circuit)
	if err != nil {
		return nil, fmt.Errorf("circuit compilation failed: %w", err)
	}
	pk, vk, err := groth16.Setup(ccs)
	if err != nil {
		return nil, fmt.Errorf("groth16 setup failed: %w", err)
	}
	return &ProvingSystem{ccs: ccs, pk: pk, vk: vk}, nil
}

// SetupOrLoad compiles the circuit, then loads the groth16 keys from the
// given paths if both exist; otherwise it generates and persists new keys.
func SetupOrLoad(pkPath, vkPath string) (*ProvingSystem, error) {
	var circuit Circuit
	ccs, err := frontend.Compile(ecc.BN254.ScalarField(), r1cs.NewBuilder, &circuit)
	if err != nil {
		return nil, fmt.Errorf("circuit compilation failed: %w", err)
	}

	pk, pkErr := loadProvingKey(pkPath)
	vk, vkErr := loadVerifyingKey(vkPath)
	if pkErr == nil && vkErr == nil {
		return &ProvingSystem{ccs: ccs, pk: pk, vk: vk}, nil
	}

	pk, vk, err = groth16.Setup(ccs)
	if err != nil {
		return nil, fmt.Errorf("groth16 setup failed: %w", err)
	}
	if err := saveProvingKey(pkPath, pk); err != nil {
		return nil, err
	}
	if err := saveVerifyingKey(vkPath, vk); err != nil {
		return nil, err
	}
	return &ProvingSystem{ccs: ccs, pk: pk, vk: vk}, nil
}

var (
	sessionMu     sync.Mutex
	sessionSystem *ProvingSystem
)

// Session returns the session-cached proving system, initializing it from
// the given key paths on first use.
func Session(pkPath, vkPath string) (*ProvingSystem, error) {
	sessionMu.Lock()
	defer sessionMu.Unlock()
	if sessionSystem != nil {
		return sessionSystem, nil
	}
	ps, err := SetupOrLoad(pkPath, vkPath)
	if err != nil {
		return nil, err
	}
	sessionSystem = ps
	return ps, nil
}

func saveProvingKey(path string, pk groth16.ProvingKey) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = pk.WriteTo(f)
	return err
}

func saveVerifyingKey(path string, vk groth16.VerifyingKey) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = vk.WriteTo(f)
	return err
}

func loadProvingKey(path string) (groth16.ProvingKey, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	pk := groth16.NewProvingKey(ecc.BN254)
	_, err = pk.ReadFrom(f)
	return pk, err
}

func loadVerifyingKey(path string) (groth16.VerifyingKey, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	vk := groth16.NewVerifyingKey(ecc.BN254)
	_, err = vk.ReadFrom(f)
	return vk, err
}
