package fhebatch

import "errors"

// Rejections returned by coordinator entry points. Each one aborts the call
// with no effect on state.
var (
	ErrUnauthorized         = errors.New("fhebatch: caller not authorized")
	ErrPaused               = errors.New("fhebatch: coordinator is paused")
	ErrAlreadyPaused        = errors.New("fhebatch: coordinator already paused")
	ErrCooldownActive       = errors.New("fhebatch: cooldown active")
	ErrBatchAlreadyOpen     = errors.New("fhebatch: batch already open")
	ErrBatchNotOpen         = errors.New("fhebatch: batch not open")
	ErrInvalidBatchID       = errors.New("fhebatch: invalid batch id")
	ErrInvalidAddress       = errors.New("fhebatch: invalid address")
	ErrInvalidValue         = errors.New("fhebatch: invalid value")
	ErrInvalidRequestID     = errors.New("fhebatch: invalid request id")
	ErrReplayAttempt        = errors.New("fhebatch: decryption request already processed")
	ErrStateMismatch        = errors.New("fhebatch: ciphertext state changed since request")
	ErrProofVerification    = errors.New("fhebatch: decryption proof verification failed")
	ErrUninitializedHandle  = errors.New("fhebatch: uninitialized handle")
	ErrPlaintextOutOfRange  = errors.New("fhebatch: plaintext outside message space")
	ErrMalformedCiphertext  = errors.New("fhebatch: malformed ciphertext")
	ErrUnsupportedOperation = errors.New("fhebatch: operation not supported by engine")
)

var rejections = []error{
	ErrUnauthorized,
	ErrPaused,
	ErrAlreadyPaused,
	ErrCooldownActive,
	ErrBatchAlreadyOpen,
	ErrBatchNotOpen,
	ErrInvalidBatchID,
	ErrInvalidAddress,
	ErrInvalidValue,
	ErrInvalidRequestID,
	ErrReplayAttempt,
	ErrStateMismatch,
	ErrProofVerification,
}

// IsRejection reports whether err is one of the coordinator's validation
// rejections, as opposed to a transport, storage or engine failure.
func IsRejection(err error) bool {
	for _, r := range rejections {
		if errors.Is(err, r) {
			return true
		}
	}
	return false
}
