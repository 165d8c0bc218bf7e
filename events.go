package fhebatch

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethdb"
	"github.com/fxamacker/cbor/v2"
	"github.com/holiman/uint256"
	"github.com/zeebo/blake3"
)

var ErrEventLogCorrupt = errors.New("fhebatch: event log corrupt")

type EventKind uint8

const (
	EventOwnershipTransferred EventKind = iota + 1
	EventProviderAdded
	EventProviderRemoved
	EventPaused
	EventUnpaused
	EventCooldownChanged
	EventBatchOpened
	EventBatchClosed
	EventContributionSubmitted
	EventInferenceRun
	EventDecryptionRequested
	EventDecryptionCompleted
)

var eventKindNames = map[EventKind]string{
	EventOwnershipTransferred:  "OwnershipTransferred",
	EventProviderAdded:         "ProviderAdded",
	EventProviderRemoved:       "ProviderRemoved",
	EventPaused:                "Paused",
	EventUnpaused:              "Unpaused",
	EventCooldownChanged:       "CooldownChanged",
	EventBatchOpened:           "BatchOpened",
	EventBatchClosed:           "BatchClosed",
	EventContributionSubmitted: "ContributionSubmitted",
	EventInferenceRun:          "InferenceRun",
	EventDecryptionRequested:   "DecryptionRequested",
	EventDecryptionCompleted:   "DecryptionCompleted",
}

func (k EventKind) String() string {
	if name, ok := eventKindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("EventKind(%d)", uint8(k))
}

// Event is one entry of the append-only coordinator log. Which fields are set
// depends on Kind. Events never carry plaintext contributions or inputs; the
// only plaintext ever logged is a verified decryption result.
type Event struct {
	Seq  uint64
	Kind EventKind
	Time uint64

	// Account is the actor the event is about: the new administrator, the
	// provider added or removed, or the provider that submitted or requested.
	Account  common.Address
	Previous common.Address

	Batch     uint64
	RequestID common.Hash
	OldValue  uint64
	NewValue  uint64
	Result    *uint256.Int

	// Digest chains this event to every event before it.
	Digest common.Hash
}

type eventHead struct {
	Seq    uint64
	Digest common.Hash
}

func chainDigest(prev common.Hash, body []byte) common.Hash {
	h := blake3.New()
	h.Write(prev[:])
	h.Write(body)
	var d common.Hash
	copy(d[:], h.Sum(nil))
	return d
}

// eventBody is the encoding the digest is computed over.
func eventBody(ev Event) ([]byte, error) {
	ev.Digest = common.Hash{}
	return cbor.Marshal(ev)
}

func (tx *stateTx) eventHead() (eventHead, error) {
	var head eventHead
	v, err := tx.get(eventHeadKey)
	if err != nil || v == nil {
		return head, err
	}
	err = cbor.Unmarshal(v, &head)
	return head, err
}

// emit appends ev to the log within the transaction.
func (tx *stateTx) emit(ev Event) error {
	head, err := tx.eventHead()
	if err != nil {
		return err
	}
	ev.Seq = head.Seq + 1
	body, err := eventBody(ev)
	if err != nil {
		return err
	}
	ev.Digest = chainDigest(head.Digest, body)

	enc, err := cbor.Marshal(ev)
	if err != nil {
		return err
	}
	if err := tx.put(eventKey(ev.Seq), enc); err != nil {
		return err
	}
	encHead, err := cbor.Marshal(eventHead{Seq: ev.Seq, Digest: ev.Digest})
	if err != nil {
		return err
	}
	if err := tx.put(eventHeadKey, encHead); err != nil {
		return err
	}
	tx.events = append(tx.events, ev)
	return nil
}

// readEvents returns the stored events with sequence number >= from.
func readEvents(db ethdb.Iteratee, from uint64) ([]Event, error) {
	it := db.NewIterator(eventPrefix, encodeUint64(from))
	defer it.Release()

	var events []Event
	for it.Next() {
		var ev Event
		if err := cbor.Unmarshal(it.Value(), &ev); err != nil {
			return nil, fmt.Errorf("%w: event %x: %v", ErrEventLogCorrupt, it.Key(), err)
		}
		events = append(events, ev)
	}
	return events, it.Error()
}

// VerifyEventLog checks that events form an unbroken chain starting at
// sequence number 1.
func VerifyEventLog(events []Event) error {
	var prev common.Hash
	for i, ev := range events {
		if ev.Seq != uint64(i)+1 {
			return fmt.Errorf("%w: expected seq %d, got %d", ErrEventLogCorrupt, i+1, ev.Seq)
		}
		body, err := eventBody(ev)
		if err != nil {
			return err
		}
		if want := chainDigest(prev, body); want != ev.Digest {
			return fmt.Errorf("%w: digest mismatch at seq %d", ErrEventLogCorrupt, ev.Seq)
		}
		prev = ev.Digest
	}
	return nil
}

// BatchHistory is what the event log says about one batch.
type BatchHistory struct {
	ID          uint64
	Open        bool
	Submissions []common.Address
	Inferences  int
	Requests    []common.Hash
}

// RequestHistory is what the event log says about one decryption request.
type RequestHistory struct {
	ID        common.Hash
	Batch     uint64
	Requester common.Address
	Completed bool
	Result    *uint256.Int
}

// History is the coordinator state reconstructible from the event log alone.
type History struct {
	Admin     common.Address
	Providers map[common.Address]bool
	Paused    bool
	Cooldown  uint64
	Batches   map[uint64]*BatchHistory
	Requests  map[common.Hash]*RequestHistory
}

// Replay verifies the event chain and folds it into a History.
func Replay(events []Event) (*History, error) {
	if err := VerifyEventLog(events); err != nil {
		return nil, err
	}
	h := &History{
		Providers: make(map[common.Address]bool),
		Batches:   make(map[uint64]*BatchHistory),
		Requests:  make(map[common.Hash]*RequestHistory),
	}
	batch := func(id uint64) (*BatchHistory, error) {
		b, ok := h.Batches[id]
		if !ok {
			return nil, fmt.Errorf("%w: event for unknown batch %d", ErrEventLogCorrupt, id)
		}
		return b, nil
	}
	for _, ev := range events {
		switch ev.Kind {
		case EventOwnershipTransferred:
			h.Admin = ev.Account
		case EventProviderAdded:
			h.Providers[ev.Account] = true
		case EventProviderRemoved:
			delete(h.Providers, ev.Account)
		case EventPaused:
			h.Paused = true
		case EventUnpaused:
			h.Paused = false
		case EventCooldownChanged:
			h.Cooldown = ev.NewValue
		case EventBatchOpened:
			h.Batches[ev.Batch] = &BatchHistory{ID: ev.Batch, Open: true}
		case EventBatchClosed:
			b, err := batch(ev.Batch)
			if err != nil {
				return nil, err
			}
			b.Open = false
		case EventContributionSubmitted:
			b, err := batch(ev.Batch)
			if err != nil {
				return nil, err
			}
			b.Submissions = append(b.Submissions, ev.Account)
		case EventInferenceRun:
			b, err := batch(ev.Batch)
			if err != nil {
				return nil, err
			}
			b.Inferences++
		case EventDecryptionRequested:
			b, err := batch(ev.Batch)
			if err != nil {
				return nil, err
			}
			b.Requests = append(b.Requests, ev.RequestID)
			h.Requests[ev.RequestID] = &RequestHistory{ID: ev.RequestID, Batch: ev.Batch, Requester: ev.Account}
		case EventDecryptionCompleted:
			r, ok := h.Requests[ev.RequestID]
			if !ok {
				return nil, fmt.Errorf("%w: completion for unknown request %x", ErrEventLogCorrupt, ev.RequestID)
			}
			r.Completed = true
			r.Result = ev.Result
		default:
			return nil, fmt.Errorf("%w: unknown event kind %d", ErrEventLogCorrupt, ev.Kind)
		}
	}
	return h, nil
}
