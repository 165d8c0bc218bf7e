package fhebatch

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// exported returns the ciphertext bytes stored under key, materializing and
// persisting an encrypted zero the first time the key is touched.
func (tx *stateTx) exported(engine Engine, key []byte) ([]byte, error) {
	enc, err := tx.get(key)
	if err != nil || enc != nil {
		return enc, err
	}
	zero, err := engine.Encrypt(0)
	if err != nil {
		return nil, fmt.Errorf("encrypt zero: %w", err)
	}
	if err := tx.putHandle(engine, key, zero); err != nil {
		return nil, err
	}
	return tx.get(key)
}

func (tx *stateTx) handle(engine Engine, key []byte) (Handle, error) {
	enc, err := tx.exported(engine, key)
	if err != nil {
		return nil, err
	}
	return engine.Import(enc)
}

func (tx *stateTx) putHandle(engine Engine, key []byte, h Handle) error {
	if !engine.IsInitialized(h) {
		return ErrUninitializedHandle
	}
	enc, err := engine.Export(h)
	if err != nil {
		return fmt.Errorf("export handle: %w", err)
	}
	return tx.put(key, enc)
}

// SubmitModel adds an encrypted contribution to the current batch. The
// contribution is never decrypted; only the running encrypted sum changes.
func (c *Coordinator) SubmitModel(caller common.Address, contribution []byte) (uint64, error) {
	var batch uint64
	guards := []guard{onlyProvider, whenNotPaused, cooldown(ActionSubmit)}
	err := c.exec("submitModel", caller, guards, func(tx *stateTx, now uint64) error {
		current, err := tx.batchCounter()
		if err != nil {
			return err
		}
		open, err := tx.batchOpen(current)
		if err != nil {
			return err
		}
		if !open {
			return ErrBatchNotOpen
		}
		batch = current

		in, err := c.engine.Import(contribution)
		if err != nil {
			return fmt.Errorf("%w: contribution: %v", ErrInvalidValue, err)
		}
		acc, err := tx.handle(c.engine, accumulatorKey(batch))
		if err != nil {
			return err
		}
		sum, err := c.engine.Add(acc, in)
		if err != nil {
			return fmt.Errorf("homomorphic add: %w", err)
		}
		if err := tx.putHandle(c.engine, accumulatorKey(batch), sum); err != nil {
			return err
		}
		if err := tx.setLastAction(ActionSubmit, caller, now); err != nil {
			return err
		}
		return tx.emit(Event{Kind: EventContributionSubmitted, Time: now, Batch: batch, Account: caller})
	})
	if err != nil {
		return 0, err
	}
	return batch, nil
}

// RunEncryptedInference sets the batch output to accumulated * input,
// rerandomized. Each call replaces the previous output with new ciphertext
// bytes, even for an identical input. Inference is deliberately not rate
// limited, unlike submissions and decryption requests.
func (c *Coordinator) RunEncryptedInference(caller common.Address, batch uint64, input []byte) error {
	return c.exec("runEncryptedInference", caller, []guard{onlyProvider, whenNotPaused}, func(tx *stateTx, now uint64) error {
		if err := tx.requireOpen(batch); err != nil {
			return err
		}
		in, err := c.engine.Import(input)
		if err != nil {
			return fmt.Errorf("%w: input: %v", ErrInvalidValue, err)
		}
		acc, err := tx.handle(c.engine, accumulatorKey(batch))
		if err != nil {
			return err
		}
		out, err := c.engine.Mul(acc, in)
		if err != nil {
			return fmt.Errorf("homomorphic mul: %w", err)
		}
		// Mul is deterministic on some engines; every run must store fresh
		// bytes so a pending request over the old output no longer matches.
		zero, err := c.engine.Encrypt(0)
		if err != nil {
			return fmt.Errorf("encrypt zero: %w", err)
		}
		if out, err = c.engine.Add(out, zero); err != nil {
			return fmt.Errorf("rerandomize output: %w", err)
		}
		if err := tx.putHandle(c.engine, outputKey(batch), out); err != nil {
			return err
		}
		return tx.emit(Event{Kind: EventInferenceRun, Time: now, Batch: batch, Account: caller})
	})
}

// AccumulatedContribution returns the exported accumulated ciphertext of a
// batch. A nil result means the encrypted zero has not been materialized yet:
// no entry point has read or written the accumulator. Queries never
// materialize it.
func (c *Coordinator) AccumulatedContribution(batch uint64) ([]byte, error) {
	return c.ciphertext(accumulatorKey(batch))
}

// Output returns the exported output ciphertext of a batch, or nil while no
// inference or decryption request has materialized it.
func (c *Coordinator) Output(batch uint64) ([]byte, error) {
	return c.ciphertext(outputKey(batch))
}

func (c *Coordinator) ciphertext(key []byte) ([]byte, error) {
	var enc []byte
	err := c.view(func(tx *stateTx) (err error) {
		enc, err = tx.get(key)
		return
	})
	return common.CopyBytes(enc), err
}
