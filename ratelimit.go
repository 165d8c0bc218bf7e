package fhebatch

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// Action is a rate-limited action class. Each class keeps its own clock per
// address; both share the coordinator-wide cooldown duration.
type Action uint8

const (
	ActionSubmit Action = iota + 1
	ActionDecryptionRequest
)

func (a Action) String() string {
	switch a {
	case ActionSubmit:
		return "submit"
	case ActionDecryptionRequest:
		return "decryption-request"
	default:
		return fmt.Sprintf("Action(%d)", uint8(a))
	}
}

// SetCooldownSeconds changes the cooldown applied to both action classes.
func (c *Coordinator) SetCooldownSeconds(caller common.Address, n uint64) error {
	return c.exec("setCooldownSeconds", caller, []guard{onlyAdmin}, func(tx *stateTx, now uint64) error {
		if n == 0 {
			return ErrInvalidValue
		}
		old, err := tx.cooldownSeconds()
		if err != nil {
			return err
		}
		if err := tx.setCooldownSeconds(n); err != nil {
			return err
		}
		return tx.emit(Event{Kind: EventCooldownChanged, Time: now, Account: caller, OldValue: old, NewValue: n})
	})
}

func (c *Coordinator) CooldownSeconds() (uint64, error) {
	var n uint64
	err := c.view(func(tx *stateTx) (err error) {
		n, err = tx.cooldownSeconds()
		return
	})
	return n, err
}

// LastAction returns the unix time addr last completed action, and false if
// it never did.
func (c *Coordinator) LastAction(action Action, addr common.Address) (uint64, bool, error) {
	var (
		at uint64
		ok bool
	)
	err := c.view(func(tx *stateTx) (err error) {
		at, ok, err = tx.lastAction(action, addr)
		return
	})
	return at, ok, err
}
