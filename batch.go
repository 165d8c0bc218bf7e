package fhebatch

import (
	"github.com/ethereum/go-ethereum/common"
)

// OpenBatch opens the next batch id. Only one batch is open at a time.
func (c *Coordinator) OpenBatch(caller common.Address) (uint64, error) {
	var id uint64
	err := c.exec("openBatch", caller, []guard{onlyAdmin, whenNotPaused}, func(tx *stateTx, now uint64) error {
		current, err := tx.batchCounter()
		if err != nil {
			return err
		}
		open, err := tx.batchOpen(current)
		if err != nil {
			return err
		}
		if open {
			return ErrBatchAlreadyOpen
		}
		id = current + 1
		if err := tx.setBatchCounter(id); err != nil {
			return err
		}
		if err := tx.setBatchOpen(id, true); err != nil {
			return err
		}
		return tx.emit(Event{Kind: EventBatchOpened, Time: now, Batch: id})
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

// CloseBatch closes the current batch. A closed batch never reopens.
func (c *Coordinator) CloseBatch(caller common.Address) error {
	return c.exec("closeBatch", caller, []guard{onlyAdmin, whenNotPaused}, func(tx *stateTx, now uint64) error {
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
		if err := tx.setBatchOpen(current, false); err != nil {
			return err
		}
		return tx.emit(Event{Kind: EventBatchClosed, Time: now, Batch: current})
	})
}

// requireOpen checks an explicit batch id: unknown ids (including 0) are
// ErrInvalidBatchID, known but closed ids are ErrBatchNotOpen.
func (tx *stateTx) requireOpen(id uint64) error {
	current, err := tx.batchCounter()
	if err != nil {
		return err
	}
	if id == 0 || id > current {
		return ErrInvalidBatchID
	}
	open, err := tx.batchOpen(id)
	if err != nil {
		return err
	}
	if !open {
		return ErrBatchNotOpen
	}
	return nil
}

// CurrentBatch returns the latest batch id and whether it is open. The id is
// 0 before the first batch is opened.
func (c *Coordinator) CurrentBatch() (uint64, bool, error) {
	var (
		id   uint64
		open bool
	)
	err := c.view(func(tx *stateTx) (err error) {
		if id, err = tx.batchCounter(); err != nil {
			return err
		}
		open, err = tx.batchOpen(id)
		return err
	})
	return id, open, err
}

func (c *Coordinator) IsBatchOpen(id uint64) (bool, error) {
	var open bool
	err := c.view(func(tx *stateTx) (err error) {
		open, err = tx.batchOpen(id)
		return
	})
	return open, err
}
