package fhebatch

import (
	"encoding/binary"

	"github.com/ethereum/go-ethereum/common"
)

// Key layout of the coordinator store. Single upper-case letters prefix keyed
// families, lower-case words name singletons, so no family prefix is ever a
// prefix of a singleton key.
var (
	adminKey        = []byte("admin")
	pausedKey       = []byte("paused")
	cooldownKey     = []byte("cooldown")
	batchCounterKey = []byte("batch-counter")
	eventHeadKey    = []byte("event-head")

	providerPrefix    = []byte("P") // P + address -> 0x01 when provider
	lastActionPrefix  = []byte("L") // L + action + address -> unix seconds (8 bytes BE)
	batchOpenPrefix   = []byte("B") // B + batch id -> 0x01 while open
	accumulatorPrefix = []byte("A") // A + batch id -> exported accumulated contribution
	outputPrefix      = []byte("O") // O + batch id -> exported output
	contextPrefix     = []byte("D") // D + request id -> cbor DecryptionContext
	eventPrefix       = []byte("E") // E + seq -> cbor Event
)

func encodeUint64(v uint64) []byte {
	enc := make([]byte, 8)
	binary.BigEndian.PutUint64(enc, v)
	return enc
}

func decodeUint64(b []byte) uint64 {
	if len(b) != 8 {
		return 0
	}
	return binary.BigEndian.Uint64(b)
}

func prefixed(prefix []byte, parts ...[]byte) []byte {
	n := len(prefix)
	for _, p := range parts {
		n += len(p)
	}
	key := make([]byte, 0, n)
	key = append(key, prefix...)
	for _, p := range parts {
		key = append(key, p...)
	}
	return key
}

func providerKey(addr common.Address) []byte {
	return prefixed(providerPrefix, addr.Bytes())
}

func lastActionKey(action Action, addr common.Address) []byte {
	return prefixed(lastActionPrefix, []byte{byte(action)}, addr.Bytes())
}

func batchOpenKey(id uint64) []byte {
	return prefixed(batchOpenPrefix, encodeUint64(id))
}

func accumulatorKey(id uint64) []byte {
	return prefixed(accumulatorPrefix, encodeUint64(id))
}

func outputKey(id uint64) []byte {
	return prefixed(outputPrefix, encodeUint64(id))
}

func contextKey(requestID common.Hash) []byte {
	return prefixed(contextPrefix, requestID.Bytes())
}

func eventKey(seq uint64) []byte {
	return prefixed(eventPrefix, encodeUint64(seq))
}
