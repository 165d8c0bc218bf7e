package fhebatch

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// DecryptionContext binds an oracle request id to the ciphertext state that
// existed when the request was made. Contexts are never deleted.
type DecryptionContext struct {
	BatchID     uint64
	StateHash   common.Hash
	Processed   bool
	Requester   common.Address
	RequestedAt uint64
}

// StateHash is the binding digest over exported ciphertexts and the
// coordinator identity.
func StateHash(ciphertexts [][]byte, identity common.Address) common.Hash {
	parts := make([][]byte, 0, 2*len(ciphertexts)+2)
	parts = append(parts, binary.BigEndian.AppendUint64(nil, uint64(len(ciphertexts))))
	for _, ct := range ciphertexts {
		parts = append(parts, binary.BigEndian.AppendUint64(nil, uint64(len(ct))), ct)
	}
	parts = append(parts, identity.Bytes())
	return crypto.Keccak256Hash(parts...)
}

// outputBinding exports the current output of batch and digests it.
func (c *Coordinator) outputBinding(tx *stateTx, batch uint64) ([]byte, common.Hash, error) {
	enc, err := tx.exported(c.engine, outputKey(batch))
	if err != nil {
		return nil, common.Hash{}, err
	}
	return enc, StateHash([][]byte{enc}, c.identity), nil
}

// RequestModelOutputDecryption dispatches the current output of batch to the
// oracle and returns the oracle request id. The plaintext arrives later
// through OnDecryptionResult.
func (c *Coordinator) RequestModelOutputDecryption(caller common.Address, batch uint64) (common.Hash, error) {
	var requestID common.Hash
	guards := []guard{onlyProvider, whenNotPaused, cooldown(ActionDecryptionRequest)}
	err := c.exec("requestModelOutputDecryption", caller, guards, func(tx *stateTx, now uint64) error {
		if err := tx.requireOpen(batch); err != nil {
			if errors.Is(err, ErrBatchNotOpen) {
				return ErrInvalidBatchID
			}
			return err
		}
		enc, stateHash, err := c.outputBinding(tx, batch)
		if err != nil {
			return err
		}
		id, err := c.oracle.SubmitDecryptionRequest([][]byte{enc})
		if err != nil {
			return fmt.Errorf("dispatch decryption request: %w", err)
		}
		existing, err := tx.decryptionContext(id)
		if err != nil {
			return err
		}
		if existing != nil {
			return fmt.Errorf("%w: oracle reused request id %x", ErrInvalidRequestID, id)
		}
		dc := &DecryptionContext{
			BatchID:     batch,
			StateHash:   stateHash,
			Requester:   caller,
			RequestedAt: now,
		}
		if err := tx.putDecryptionContext(id, dc); err != nil {
			return err
		}
		if err := tx.setLastAction(ActionDecryptionRequest, caller, now); err != nil {
			return err
		}
		requestID = id
		return tx.emit(Event{Kind: EventDecryptionRequested, Time: now, Batch: batch, RequestID: id, Account: caller})
	})
	if err != nil {
		return common.Hash{}, err
	}
	c.log.Info("Requested output decryption", "batch", batch, "request", requestID, "provider", caller)
	return requestID, nil
}

// DecryptionContext returns the stored context for requestID.
func (c *Coordinator) DecryptionContext(requestID common.Hash) (*DecryptionContext, error) {
	var dc *DecryptionContext
	err := c.view(func(tx *stateTx) (err error) {
		dc, err = tx.decryptionContext(requestID)
		return
	})
	if err != nil {
		return nil, err
	}
	if dc == nil {
		return nil, ErrInvalidRequestID
	}
	return dc, nil
}
