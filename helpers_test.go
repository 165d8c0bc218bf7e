package fhebatch

import (
	"crypto/ecdsa"
	"encoding/binary"
	"math/big"
	"math/rand"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethdb"
	"github.com/ethereum/go-ethereum/ethdb/memorydb"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"
)

type testClock struct {
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Unix(1_700_000_000, 0)}
}

func (c *testClock) Now() time.Time {
	return c.now
}

func (c *testClock) Advance(secs int) {
	c.now = c.now.Add(time.Duration(secs) * time.Second)
}

const plainModulus = 65537

// plainCiphertext carries its value in the clear next to a random nonce, so
// two encryptions of the same value export differently.
type plainCiphertext struct {
	value, nonce uint64
}

// plainEngine is a transparent stand-in for a homomorphic engine with the
// same plaintext space as the BFV engine.
type plainEngine struct{}

func (plainEngine) Encrypt(value uint64) (Handle, error) {
	if value >= plainModulus {
		return nil, ErrPlaintextOutOfRange
	}
	return &plainCiphertext{value: value, nonce: rand.Uint64()}, nil
}

func (plainEngine) Import(data []byte) (Handle, error) {
	if len(data) != 16 {
		return nil, ErrMalformedCiphertext
	}
	ct := &plainCiphertext{value: binary.BigEndian.Uint64(data), nonce: binary.BigEndian.Uint64(data[8:])}
	if ct.value >= plainModulus {
		return nil, ErrMalformedCiphertext
	}
	return ct, nil
}

func plainOperands(a, b Handle) (*plainCiphertext, *plainCiphertext, error) {
	x, ok := a.(*plainCiphertext)
	if !ok || x == nil {
		return nil, nil, ErrUninitializedHandle
	}
	y, ok := b.(*plainCiphertext)
	if !ok || y == nil {
		return nil, nil, ErrUninitializedHandle
	}
	return x, y, nil
}

func (plainEngine) Add(a, b Handle) (Handle, error) {
	x, y, err := plainOperands(a, b)
	if err != nil {
		return nil, err
	}
	return &plainCiphertext{value: (x.value + y.value) % plainModulus, nonce: x.nonce ^ y.nonce}, nil
}

func (plainEngine) Mul(a, b Handle) (Handle, error) {
	x, y, err := plainOperands(a, b)
	if err != nil {
		return nil, err
	}
	return &plainCiphertext{value: (x.value * y.value) % plainModulus, nonce: x.nonce ^ y.nonce}, nil
}

func (plainEngine) Export(h Handle) ([]byte, error) {
	ct, ok := h.(*plainCiphertext)
	if !ok || ct == nil {
		return nil, ErrUninitializedHandle
	}
	out := binary.BigEndian.AppendUint64(nil, ct.value)
	return binary.BigEndian.AppendUint64(out, ct.nonce), nil
}

func (plainEngine) IsInitialized(h Handle) bool {
	ct, ok := h.(*plainCiphertext)
	return ok && ct != nil
}

func (e plainEngine) Decrypt(data []byte) (*big.Int, error) {
	h, err := e.Import(data)
	if err != nil {
		return nil, err
	}
	return new(big.Int).SetUint64(h.(*plainCiphertext).value), nil
}

type scriptedRequest struct {
	id          common.Hash
	ciphertexts [][]byte
}

// scriptedOracle records dispatched requests; tests deliver callbacks
// themselves.
type scriptedOracle struct {
	requests []scriptedRequest
	err      error
	reuseID  *common.Hash
}

func (o *scriptedOracle) SubmitDecryptionRequest(ciphertexts [][]byte) (common.Hash, error) {
	if o.err != nil {
		return common.Hash{}, o.err
	}
	id := crypto.Keccak256Hash([]byte("request"), encodeUint64(uint64(len(o.requests)+1)))
	if o.reuseID != nil {
		id = *o.reuseID
	}
	o.requests = append(o.requests, scriptedRequest{id: id, ciphertexts: ciphertexts})
	return id, nil
}

func (o *scriptedOracle) last(t *testing.T) scriptedRequest {
	t.Helper()
	require.NotEmpty(t, o.requests)
	return o.requests[len(o.requests)-1]
}

type harness struct {
	t        *testing.T
	db       ethdb.KeyValueStore
	clock    *testClock
	engine   plainEngine
	oracle   *scriptedOracle
	signers  []*ecdsa.PrivateKey
	verifier *SignerSet
	c        *Coordinator

	identity, admin, alice, bob, carol common.Address
}

func testAddress(label string) common.Address {
	return common.BytesToAddress(crypto.Keccak256([]byte(label))[12:])
}

// newHarness returns a coordinator with cooldown 60 and providers alice and
// bob.
func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		t:        t,
		db:       memorydb.New(),
		clock:    newTestClock(),
		oracle:   new(scriptedOracle),
		identity: testAddress("coordinator"),
		admin:    testAddress("admin"),
		alice:    testAddress("alice"),
		bob:      testAddress("bob"),
		carol:    testAddress("carol"),
	}
	addrs := make([]common.Address, 3)
	for i := range addrs {
		key, err := crypto.GenerateKey()
		require.NoError(t, err)
		h.signers = append(h.signers, key)
		addrs[i] = crypto.PubkeyToAddress(key.PublicKey)
	}
	var err error
	h.verifier, err = NewSignerSet(addrs, 2)
	require.NoError(t, err)

	h.c = h.open()
	require.NoError(t, h.c.AddProvider(h.admin, h.alice))
	require.NoError(t, h.c.AddProvider(h.admin, h.bob))
	return h
}

// open creates a coordinator over the harness store.
func (h *harness) open() *Coordinator {
	h.t.Helper()
	c, err := New(h.db, h.engine, h.oracle, h.verifier, Options{
		Identity:        h.identity,
		Admin:           h.admin,
		CooldownSeconds: 60,
		Clock:           h.clock.Now,
	})
	require.NoError(h.t, err)
	return c
}

func (h *harness) seal(value uint64) []byte {
	h.t.Helper()
	ct, err := h.engine.Encrypt(value)
	require.NoError(h.t, err)
	enc, err := h.engine.Export(ct)
	require.NoError(h.t, err)
	return enc
}

func (h *harness) reveal(enc []byte) uint64 {
	h.t.Helper()
	v, err := h.engine.Decrypt(enc)
	require.NoError(h.t, err)
	return v.Uint64()
}

// result signs value as the answer to requestID.
func (h *harness) result(requestID common.Hash, value uint64) (cleartext, proof []byte) {
	h.t.Helper()
	cleartext = EncodeCleartext(uint256.NewInt(value))
	proof, err := SignResult(h.signers, requestID, cleartext)
	require.NoError(h.t, err)
	return cleartext, proof
}

// answer decrypts the ciphertext the oracle received and signs it.
func (h *harness) answer(req scriptedRequest) (cleartext, proof []byte) {
	h.t.Helper()
	require.Len(h.t, req.ciphertexts, 1)
	return h.result(req.id, h.reveal(req.ciphertexts[0]))
}

// scenario opens batch 1, accumulates 5 and 7 and runs inference with 2.
func (h *harness) scenario() uint64 {
	h.t.Helper()
	batch, err := h.c.OpenBatch(h.admin)
	require.NoError(h.t, err)
	_, err = h.c.SubmitModel(h.alice, h.seal(5))
	require.NoError(h.t, err)
	_, err = h.c.SubmitModel(h.bob, h.seal(7))
	require.NoError(h.t, err)
	require.NoError(h.t, h.c.RunEncryptedInference(h.alice, batch, h.seal(2)))
	return batch
}

func (h *harness) events() []Event {
	h.t.Helper()
	events, err := h.c.Events(1)
	require.NoError(h.t, err)
	return events
}

func (h *harness) lastEvent() Event {
	h.t.Helper()
	events := h.events()
	require.NotEmpty(h.t, events)
	return events[len(events)-1]
}
