// errors.go - Typed failures of withdrawal proof construction.

package withdraw

import (
	"fmt"
	"math/big"
)

// NotFoundInTreeError reports that a referenced commitment or label is
// absent from a freshly fetched tree. This signals a stale indexer snapshot
// or an invalid note reference; proof construction never proceeds
// best-effort past it.
type NotFoundInTreeError struct {
	Kind  string // "commitment" or "label"
	Value *big.Int
}

func (e *NotFoundInTreeError) Error() string {
	return fmt.Sprintf("%s %s not found in freshly fetched tree", e.Kind, e.Value.String())
}

// ProofGenerationError reports that the prover invocation itself failed.
type ProofGenerationError struct {
	Err error
}

func (e *ProofGenerationError) Error() string {
	return "proof generation failed: " + e.Err.Error()
}

func (e *ProofGenerationError) Unwrap() error {
	return e.Err
}

// ProofVerificationFailure reports that a generated proof failed the
// mandatory self-check against the verification key. Always fatal: the
// proof is never returned, since on-chain verification would reject it too
// and the caller could not tell a bad proof from a bad connection.
type ProofVerificationFailure struct {
	Err error
}

func (e *ProofVerificationFailure) Error() string {
	return "generated proof failed self-verification: " + e.Err.Error()
}

func (e *ProofVerificationFailure) Unwrap() error {
	return e.Err
}

// ConfigurationError reports an input that violates the fixed circuit
// layout, such as a sibling array longer than the circuit depth.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return "withdrawal configuration error: " + e.Reason
}
