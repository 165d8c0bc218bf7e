package fhebatch

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethdb"
	"github.com/fxamacker/cbor/v2"
)

var (
	flagSet   = []byte{0x01}
	flagClear = []byte{0x00}
)

// stateTx is the state container seen by a single entry point. Reads fall
// through to the store, writes are staged in one batch so that an entry point
// either commits all of its effects or none.
type stateTx struct {
	db     ethdb.KeyValueReader
	batch  ethdb.Batch
	dirty  map[string][]byte
	events []Event
}

func newStateTx(db ethdb.KeyValueStore) *stateTx {
	return &stateTx{
		db:    db,
		batch: db.NewBatch(),
		dirty: make(map[string][]byte),
	}
}

// get returns nil for absent keys.
func (tx *stateTx) get(key []byte) ([]byte, error) {
	if v, ok := tx.dirty[string(key)]; ok {
		return v, nil
	}
	ok, err := tx.db.Has(key)
	if err != nil || !ok {
		return nil, err
	}
	return tx.db.Get(key)
}

func (tx *stateTx) put(key, value []byte) error {
	tx.dirty[string(key)] = value
	return tx.batch.Put(key, value)
}

func (tx *stateTx) commit() error {
	if len(tx.dirty) == 0 {
		return nil
	}
	return tx.batch.Write()
}

func (tx *stateTx) flag(key []byte) (bool, error) {
	v, err := tx.get(key)
	if err != nil {
		return false, err
	}
	return len(v) == 1 && v[0] == 0x01, nil
}

func (tx *stateTx) setFlag(key []byte, on bool) error {
	if on {
		return tx.put(key, flagSet)
	}
	return tx.put(key, flagClear)
}

func (tx *stateTx) uint64At(key []byte) (uint64, error) {
	v, err := tx.get(key)
	if err != nil {
		return 0, err
	}
	return decodeUint64(v), nil
}

func (tx *stateTx) initialized() (bool, error) {
	v, err := tx.get(adminKey)
	return v != nil, err
}

func (tx *stateTx) admin() (common.Address, error) {
	v, err := tx.get(adminKey)
	if err != nil {
		return common.Address{}, err
	}
	return common.BytesToAddress(v), nil
}

func (tx *stateTx) setAdmin(addr common.Address) error {
	return tx.put(adminKey, addr.Bytes())
}

func (tx *stateTx) isProvider(addr common.Address) (bool, error) {
	return tx.flag(providerKey(addr))
}

func (tx *stateTx) setProvider(addr common.Address, on bool) error {
	return tx.setFlag(providerKey(addr), on)
}

func (tx *stateTx) paused() (bool, error) {
	return tx.flag(pausedKey)
}

func (tx *stateTx) setPaused(on bool) error {
	return tx.setFlag(pausedKey, on)
}

func (tx *stateTx) cooldownSeconds() (uint64, error) {
	return tx.uint64At(cooldownKey)
}

func (tx *stateTx) setCooldownSeconds(n uint64) error {
	return tx.put(cooldownKey, encodeUint64(n))
}

// lastAction reports when addr last completed action, and whether it ever did.
func (tx *stateTx) lastAction(action Action, addr common.Address) (uint64, bool, error) {
	v, err := tx.get(lastActionKey(action, addr))
	if err != nil || v == nil {
		return 0, false, err
	}
	return decodeUint64(v), true, nil
}

func (tx *stateTx) setLastAction(action Action, addr common.Address, at uint64) error {
	return tx.put(lastActionKey(action, addr), encodeUint64(at))
}

func (tx *stateTx) batchCounter() (uint64, error) {
	return tx.uint64At(batchCounterKey)
}

func (tx *stateTx) setBatchCounter(id uint64) error {
	return tx.put(batchCounterKey, encodeUint64(id))
}

func (tx *stateTx) batchOpen(id uint64) (bool, error) {
	return tx.flag(batchOpenKey(id))
}

func (tx *stateTx) setBatchOpen(id uint64, open bool) error {
	return tx.setFlag(batchOpenKey(id), open)
}

func (tx *stateTx) decryptionContext(requestID common.Hash) (*DecryptionContext, error) {
	v, err := tx.get(contextKey(requestID))
	if err != nil || v == nil {
		return nil, err
	}
	dc := new(DecryptionContext)
	if err := cbor.Unmarshal(v, dc); err != nil {
		return nil, fmt.Errorf("decode decryption context %x: %w", requestID, err)
	}
	return dc, nil
}

func (tx *stateTx) putDecryptionContext(requestID common.Hash, dc *DecryptionContext) error {
	enc, err := cbor.Marshal(dc)
	if err != nil {
		return err
	}
	return tx.put(contextKey(requestID), enc)
}
