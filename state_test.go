package fhebatch

import (
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/ethdb/leveldb"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStateSurvivesReopen(t *testing.T) {
	h := newHarness(t)
	batch := h.scenario()
	id, err := h.c.RequestModelOutputDecryption(h.alice, batch)
	require.NoError(t, err)
	before := h.events()

	h.clock.Advance(30)
	h.c = h.open()

	admin, err := h.c.Admin()
	require.NoError(t, err)
	assert.Equal(t, h.admin, admin)
	ok, err := h.c.IsProvider(h.bob)
	require.NoError(t, err)
	assert.True(t, ok)
	current, open, err := h.c.CurrentBatch()
	require.NoError(t, err)
	assert.Equal(t, batch, current)
	assert.True(t, open)
	assert.Equal(t, before, h.events())

	// cooldown clocks are persisted
	_, err = h.c.SubmitModel(h.alice, h.seal(1))
	require.ErrorIs(t, err, ErrCooldownActive)

	// so are pending contexts and their replay protection
	cleartext, proof := h.answer(h.oracle.last(t))
	require.NoError(t, h.c.OnDecryptionResult(id, cleartext, proof))
	h.c = h.open()
	require.ErrorIs(t, h.c.OnDecryptionResult(id, cleartext, proof), ErrReplayAttempt)

	events := h.events()
	require.NoError(t, VerifyEventLog(events))
	assert.Len(t, events, len(before)+1)
}

func TestReopenIgnoresInitialOptions(t *testing.T) {
	h := newHarness(t)
	c, err := New(h.db, h.engine, h.oracle, h.verifier, Options{
		Identity:        h.identity,
		Admin:           h.carol,
		CooldownSeconds: 5,
		Clock:           h.clock.Now,
	})
	require.NoError(t, err)
	admin, err := c.Admin()
	require.NoError(t, err)
	assert.Equal(t, h.admin, admin)
	n, err := c.CooldownSeconds()
	require.NoError(t, err)
	assert.Equal(t, uint64(60), n)
}

type brokenAddEngine struct {
	plainEngine
}

func (brokenAddEngine) Add(a, b Handle) (Handle, error) {
	return nil, errors.New("engine unavailable")
}

func TestFailedEntryPointLeavesNoTrace(t *testing.T) {
	h := newHarness(t)
	batch, err := h.c.OpenBatch(h.admin)
	require.NoError(t, err)
	n := len(h.events())

	c, err := New(h.db, brokenAddEngine{}, h.oracle, h.verifier, Options{Identity: h.identity, Clock: h.clock.Now})
	require.NoError(t, err)
	_, err = c.SubmitModel(h.alice, h.seal(5))
	require.Error(t, err)

	acc, err := h.c.AccumulatedContribution(batch)
	require.NoError(t, err)
	assert.Nil(t, acc, "encrypted zero from the failed call was not committed")
	_, ok, err := h.c.LastAction(ActionSubmit, h.alice)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Len(t, h.events(), n)

	_, err = h.c.SubmitModel(h.alice, h.seal(5))
	require.NoError(t, err)
}

func TestLevelDBPersistence(t *testing.T) {
	dir := t.TempDir()
	h := newHarness(t)
	db, err := leveldb.New(dir, 16, 16, "", false)
	require.NoError(t, err)
	h.db = db
	h.c = h.open()
	require.NoError(t, h.c.AddProvider(h.admin, h.alice))
	require.NoError(t, h.c.AddProvider(h.admin, h.bob))
	batch := h.scenario()
	id, err := h.c.RequestModelOutputDecryption(h.alice, batch)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	db, err = leveldb.New(dir, 16, 16, "", false)
	require.NoError(t, err)
	defer db.Close()
	h.db = db
	h.c = h.open()

	cleartext, proof := h.answer(h.oracle.last(t))
	require.NoError(t, h.c.OnDecryptionResult(id, cleartext, proof))
	assert.Equal(t, uint256.NewInt(24), h.lastEvent().Result)
	require.NoError(t, VerifyEventLog(h.events()))
}
