package fhebatch

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// WordSize is the width of one encoded cleartext value.
const WordSize = 32

// EncodeCleartext packs values as consecutive 32-byte big-endian words.
func EncodeCleartext(values ...*uint256.Int) []byte {
	out := make([]byte, 0, WordSize*len(values))
	for _, v := range values {
		w := v.Bytes32()
		out = append(out, w[:]...)
	}
	return out
}

// DecodeCleartext unpacks a single 32-byte word.
func DecodeCleartext(cleartext []byte) (*uint256.Int, error) {
	if len(cleartext) != WordSize {
		return nil, fmt.Errorf("%w: cleartext is %d bytes, want %d", ErrInvalidValue, len(cleartext), WordSize)
	}
	return new(uint256.Int).SetBytes32(cleartext), nil
}

// OnDecryptionResult is the oracle callback. Checks run cheapest first:
// replay, then state binding, then the proof. A rejected callback leaves the
// context pending and is never retried by the coordinator.
func (c *Coordinator) OnDecryptionResult(requestID common.Hash, cleartext, proof []byte) error {
	var (
		batch  uint64
		result *uint256.Int
	)
	err := c.exec("onDecryptionResult", common.Address{}, nil, func(tx *stateTx, now uint64) error {
		dc, err := tx.decryptionContext(requestID)
		if err != nil {
			return err
		}
		if dc == nil {
			return ErrInvalidRequestID
		}
		if dc.Processed {
			return ErrReplayAttempt
		}

		_, current, err := c.outputBinding(tx, dc.BatchID)
		if err != nil {
			return err
		}
		if current != dc.StateHash {
			return ErrStateMismatch
		}

		if err := c.verifier.VerifyProof(requestID, cleartext, proof); err != nil {
			return fmt.Errorf("%w: %v", ErrProofVerification, err)
		}

		if result, err = DecodeCleartext(cleartext); err != nil {
			return err
		}
		dc.Processed = true
		if err := tx.putDecryptionContext(requestID, dc); err != nil {
			return err
		}
		batch = dc.BatchID
		return tx.emit(Event{Kind: EventDecryptionCompleted, Time: now, Batch: batch, RequestID: requestID, Result: result})
	})
	switch {
	case err == nil:
		c.log.Info("Decryption completed", "request", requestID, "batch", batch, "result", result)
	case IsRejection(err):
		c.log.Warn("Rejected decryption result", "request", requestID, "err", err)
	}
	return err
}
