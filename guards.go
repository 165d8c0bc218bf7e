package fhebatch

import (
	"github.com/ethereum/go-ethereum/common"
)

// guard is a precondition checked before an entry point touches state. Guards
// run in order and the first failure rejects the call.
type guard func(tx *stateTx, caller common.Address, now uint64) error

func onlyAdmin(tx *stateTx, caller common.Address, _ uint64) error {
	admin, err := tx.admin()
	if err != nil {
		return err
	}
	if caller != admin {
		return ErrUnauthorized
	}
	return nil
}

func onlyProvider(tx *stateTx, caller common.Address, _ uint64) error {
	ok, err := tx.isProvider(caller)
	if err != nil {
		return err
	}
	if !ok {
		return ErrUnauthorized
	}
	return nil
}

func whenNotPaused(tx *stateTx, _ common.Address, _ uint64) error {
	paused, err := tx.paused()
	if err != nil {
		return err
	}
	if paused {
		return ErrPaused
	}
	return nil
}

// cooldown rejects callers that completed action less than the configured
// cooldown ago. A clock that went backwards counts as within the cooldown.
func cooldown(action Action) guard {
	return func(tx *stateTx, caller common.Address, now uint64) error {
		last, ok, err := tx.lastAction(action, caller)
		if err != nil || !ok {
			return err
		}
		secs, err := tx.cooldownSeconds()
		if err != nil {
			return err
		}
		if now < last || now-last < secs {
			return ErrCooldownActive
		}
		return nil
	}
}
