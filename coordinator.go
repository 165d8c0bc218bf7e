package fhebatch

import (
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethdb"
	"github.com/ethereum/go-ethereum/event"
	"github.com/ethereum/go-ethereum/log"
)

// Options configure a Coordinator. Admin and CooldownSeconds only apply when
// the store is empty; a coordinator reopened on an existing store keeps the
// persisted values.
type Options struct {
	// Identity is the coordinator's own address. It is bound into every
	// decryption state hash.
	Identity        common.Address
	Admin           common.Address
	CooldownSeconds uint64

	Clock  func() time.Time
	Logger log.Logger
}

// Coordinator runs the batch lifecycle, the encrypted accumulator and the
// decryption request/callback protocol. Entry points are serialized: each one
// is applied atomically against the store before the next begins.
type Coordinator struct {
	mu sync.Mutex

	db       ethdb.KeyValueStore
	engine   Engine
	oracle   Dispatcher
	verifier ProofVerifier
	identity common.Address
	now      func() time.Time

	feed event.Feed
	log  log.Logger
}

// New opens a coordinator over db, initializing it on first use.
func New(db ethdb.KeyValueStore, engine Engine, oracle Dispatcher, verifier ProofVerifier, opts Options) (*Coordinator, error) {
	if opts.Identity == (common.Address{}) {
		return nil, fmt.Errorf("%w: coordinator identity", ErrInvalidAddress)
	}
	c := &Coordinator{
		db:       db,
		engine:   engine,
		oracle:   oracle,
		verifier: verifier,
		identity: opts.Identity,
		now:      opts.Clock,
		log:      opts.Logger,
	}
	if c.now == nil {
		c.now = time.Now
	}
	if c.log == nil {
		c.log = log.New("module", "coordinator", "identity", opts.Identity)
	}

	tx := newStateTx(db)
	ok, err := tx.initialized()
	if err != nil {
		return nil, err
	}
	if ok {
		head, err := tx.eventHead()
		if err != nil {
			return nil, err
		}
		c.log.Info("Resumed coordinator state", "events", head.Seq)
		return c, nil
	}

	if opts.Admin == (common.Address{}) {
		return nil, fmt.Errorf("%w: administrator", ErrInvalidAddress)
	}
	if opts.CooldownSeconds == 0 {
		return nil, fmt.Errorf("%w: cooldown must be positive", ErrInvalidValue)
	}
	now := c.timestamp()
	if err := tx.setAdmin(opts.Admin); err != nil {
		return nil, err
	}
	if err := tx.setCooldownSeconds(opts.CooldownSeconds); err != nil {
		return nil, err
	}
	if err := tx.emit(Event{Kind: EventOwnershipTransferred, Time: now, Account: opts.Admin}); err != nil {
		return nil, err
	}
	if err := tx.emit(Event{Kind: EventCooldownChanged, Time: now, NewValue: opts.CooldownSeconds}); err != nil {
		return nil, err
	}
	if err := tx.commit(); err != nil {
		return nil, err
	}
	c.log.Info("Initialized coordinator state", "admin", opts.Admin, "cooldown", opts.CooldownSeconds)
	return c, nil
}

func (c *Coordinator) timestamp() uint64 {
	return uint64(c.now().Unix())
}

// exec runs one mutating entry point: guards first, then fn, then a single
// atomic commit. Events are published only after the commit succeeded.
func (c *Coordinator) exec(op string, caller common.Address, guards []guard, fn func(tx *stateTx, now uint64) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	tx := newStateTx(c.db)
	now := c.timestamp()
	for _, g := range guards {
		if err := g(tx, caller, now); err != nil {
			c.log.Debug("Rejected call", "op", op, "caller", caller, "err", err)
			return err
		}
	}
	if err := fn(tx, now); err != nil {
		c.log.Debug("Rejected call", "op", op, "caller", caller, "err", err)
		return err
	}
	if err := tx.commit(); err != nil {
		return fmt.Errorf("%s: commit: %w", op, err)
	}
	c.log.Debug("Applied call", "op", op, "caller", caller, "events", len(tx.events))
	for _, ev := range tx.events {
		c.feed.Send(ev)
	}
	return nil
}

// view runs a read-only query against committed state.
func (c *Coordinator) view(fn func(tx *stateTx) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return fn(newStateTx(c.db))
}

// SubscribeEvents delivers every event emitted after the call to ch. Events
// are sent while entry points are serialized, so subscribers must keep ch
// drained.
func (c *Coordinator) SubscribeEvents(ch chan<- Event) event.Subscription {
	return c.feed.Subscribe(ch)
}

// Events returns the durable event log starting at sequence number from.
func (c *Coordinator) Events(from uint64) ([]Event, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return readEvents(c.db, from)
}

// History rebuilds the batch and decryption history from the event log.
func (c *Coordinator) History() (*History, error) {
	events, err := c.Events(1)
	if err != nil {
		return nil, err
	}
	return Replay(events)
}

// Identity is the address bound into decryption state hashes.
func (c *Coordinator) Identity() common.Address {
	return c.identity
}
