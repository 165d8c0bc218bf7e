package fhebatch

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Handle is an opaque reference to an encrypted value. It can only be
// operated on by the Engine that produced it.
type Handle interface{}

// Engine is the encrypted-value capability. Implementations never expose the
// plaintext behind a handle.
type Engine interface {
	// Encrypt encrypts a plaintext scalar under the engine's public key.
	Encrypt(value uint64) (Handle, error)

	// Import turns externally produced ciphertext bytes into a handle.
	Import(ciphertext []byte) (Handle, error)

	Add(a, b Handle) (Handle, error)
	Mul(a, b Handle) (Handle, error)

	// Export returns the canonical byte representation of h.
	Export(h Handle) ([]byte, error)

	IsInitialized(h Handle) bool
}

// Decrypter recovers plaintexts from exported ciphertexts. Only key holders
// implement it; the coordinator never does.
type Decrypter interface {
	Decrypt(ciphertext []byte) (*big.Int, error)
}

// Dispatcher forwards exported ciphertexts to the decryption oracle and returns
// the oracle-assigned request id without waiting for the result.
type Dispatcher interface {
	SubmitDecryptionRequest(ciphertexts [][]byte) (common.Hash, error)
}

// ProofVerifier checks that cleartext is the correct decryption for requestID.
type ProofVerifier interface {
	VerifyProof(requestID common.Hash, cleartext, proof []byte) error
}

// Receiver is the inbound side of the oracle boundary.
type Receiver interface {
	OnDecryptionResult(requestID common.Hash, cleartext, proof []byte) error
}
