package fhebatch

import (
	"github.com/ethereum/go-ethereum/common"
)

// TransferOwnership hands the administrator role to newAdmin immediately.
func (c *Coordinator) TransferOwnership(caller, newAdmin common.Address) error {
	return c.exec("transferOwnership", caller, []guard{onlyAdmin}, func(tx *stateTx, now uint64) error {
		if newAdmin == (common.Address{}) {
			return ErrInvalidAddress
		}
		if err := tx.setAdmin(newAdmin); err != nil {
			return err
		}
		return tx.emit(Event{Kind: EventOwnershipTransferred, Time: now, Account: newAdmin, Previous: caller})
	})
}

// AddProvider grants provider status. Adding an existing provider is a no-op.
func (c *Coordinator) AddProvider(caller, addr common.Address) error {
	return c.exec("addProvider", caller, []guard{onlyAdmin}, func(tx *stateTx, now uint64) error {
		if addr == (common.Address{}) {
			return ErrInvalidAddress
		}
		ok, err := tx.isProvider(addr)
		if err != nil || ok {
			return err
		}
		if err := tx.setProvider(addr, true); err != nil {
			return err
		}
		return tx.emit(Event{Kind: EventProviderAdded, Time: now, Account: addr})
	})
}

// RemoveProvider revokes provider status. Removing a non-provider is a no-op.
// Requests already dispatched by addr are unaffected.
func (c *Coordinator) RemoveProvider(caller, addr common.Address) error {
	return c.exec("removeProvider", caller, []guard{onlyAdmin}, func(tx *stateTx, now uint64) error {
		ok, err := tx.isProvider(addr)
		if err != nil || !ok {
			return err
		}
		if err := tx.setProvider(addr, false); err != nil {
			return err
		}
		return tx.emit(Event{Kind: EventProviderRemoved, Time: now, Account: addr})
	})
}

// Pause rejects every provider-facing mutation until Unpause.
func (c *Coordinator) Pause(caller common.Address) error {
	return c.exec("pause", caller, []guard{onlyAdmin}, func(tx *stateTx, now uint64) error {
		paused, err := tx.paused()
		if err != nil {
			return err
		}
		if paused {
			return ErrAlreadyPaused
		}
		if err := tx.setPaused(true); err != nil {
			return err
		}
		return tx.emit(Event{Kind: EventPaused, Time: now, Account: caller})
	})
}

// Unpause is idempotent.
func (c *Coordinator) Unpause(caller common.Address) error {
	return c.exec("unpause", caller, []guard{onlyAdmin}, func(tx *stateTx, now uint64) error {
		paused, err := tx.paused()
		if err != nil || !paused {
			return err
		}
		if err := tx.setPaused(false); err != nil {
			return err
		}
		return tx.emit(Event{Kind: EventUnpaused, Time: now, Account: caller})
	})
}

func (c *Coordinator) Admin() (common.Address, error) {
	var admin common.Address
	err := c.view(func(tx *stateTx) (err error) {
		admin, err = tx.admin()
		return
	})
	return admin, err
}

func (c *Coordinator) IsProvider(addr common.Address) (bool, error) {
	var ok bool
	err := c.view(func(tx *stateTx) (err error) {
		ok, err = tx.isProvider(addr)
		return
	})
	return ok, err
}

func (c *Coordinator) Paused() (bool, error) {
	var paused bool
	err := c.view(func(tx *stateTx) (err error) {
		paused, err = tx.paused()
		return
	})
	return paused, err
}
