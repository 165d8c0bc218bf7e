package fhebatch

import (
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventLogChain(t *testing.T) {
	h := newHarness(t)
	batch := h.scenario()
	_, err := h.c.RequestModelOutputDecryption(h.alice, batch)
	require.NoError(t, err)

	events := h.events()
	require.NoError(t, VerifyEventLog(events))
	for i, ev := range events {
		assert.Equal(t, uint64(i+1), ev.Seq)
	}
	assert.Equal(t, EventOwnershipTransferred, events[0].Kind)
	assert.Equal(t, EventCooldownChanged, events[1].Kind)

	tail, err := h.c.Events(4)
	require.NoError(t, err)
	assert.Equal(t, events[3:], tail)
}

func TestEventLogTamperDetection(t *testing.T) {
	h := newHarness(t)
	h.scenario()
	events := h.events()

	edited := append([]Event(nil), events...)
	edited[2].Account = h.carol
	assert.ErrorIs(t, VerifyEventLog(edited), ErrEventLogCorrupt)

	dropped := append(append([]Event(nil), events[:2]...), events[3:]...)
	assert.ErrorIs(t, VerifyEventLog(dropped), ErrEventLogCorrupt)

	reordered := append([]Event(nil), events...)
	reordered[3], reordered[4] = reordered[4], reordered[3]
	assert.ErrorIs(t, VerifyEventLog(reordered), ErrEventLogCorrupt)

	_, err := Replay(edited)
	assert.ErrorIs(t, err, ErrEventLogCorrupt)
}

func TestReplayReconstructsHistory(t *testing.T) {
	h := newHarness(t)
	first := h.scenario()
	id, err := h.c.RequestModelOutputDecryption(h.alice, first)
	require.NoError(t, err)
	cleartext, proof := h.answer(h.oracle.last(t))
	require.NoError(t, h.c.OnDecryptionResult(id, cleartext, proof))
	require.NoError(t, h.c.CloseBatch(h.admin))

	second, err := h.c.OpenBatch(h.admin)
	require.NoError(t, err)
	pending, err := h.c.RequestModelOutputDecryption(h.bob, second)
	require.NoError(t, err)
	require.NoError(t, h.c.RemoveProvider(h.admin, h.bob))
	require.NoError(t, h.c.SetCooldownSeconds(h.admin, 90))
	require.NoError(t, h.c.Pause(h.admin))

	hist, err := h.c.History()
	require.NoError(t, err)
	assert.Equal(t, h.admin, hist.Admin)
	assert.Equal(t, map[common.Address]bool{h.alice: true}, hist.Providers)
	assert.True(t, hist.Paused)
	assert.Equal(t, uint64(90), hist.Cooldown)

	require.Len(t, hist.Batches, 2)
	b1 := hist.Batches[first]
	assert.False(t, b1.Open)
	assert.Equal(t, []common.Address{h.alice, h.bob}, b1.Submissions)
	assert.Equal(t, 1, b1.Inferences)
	assert.Equal(t, []common.Hash{id}, b1.Requests)
	assert.True(t, hist.Batches[second].Open)

	done := hist.Requests[id]
	require.NotNil(t, done)
	assert.True(t, done.Completed)
	assert.Equal(t, uint256.NewInt(24), done.Result)
	assert.Equal(t, h.alice, done.Requester)

	open := hist.Requests[pending]
	require.NotNil(t, open)
	assert.False(t, open.Completed)
	assert.Equal(t, second, open.Batch)
}

func TestSubscribeEvents(t *testing.T) {
	h := newHarness(t)
	ch := make(chan Event, 8)
	sub := h.c.SubscribeEvents(ch)
	defer sub.Unsubscribe()

	batch, err := h.c.OpenBatch(h.admin)
	require.NoError(t, err)
	_, err = h.c.OpenBatch(h.admin)
	require.ErrorIs(t, err, ErrBatchAlreadyOpen)
	_, err = h.c.SubmitModel(h.alice, h.seal(5))
	require.NoError(t, err)

	var got []EventKind
	for len(got) < 2 {
		select {
		case ev := <-ch:
			assert.Equal(t, batch, ev.Batch)
			got = append(got, ev.Kind)
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for events")
		}
	}
	assert.Equal(t, []EventKind{EventBatchOpened, EventContributionSubmitted}, got)
	select {
	case ev := <-ch:
		t.Fatalf("unexpected event %v", ev.Kind)
	default:
	}
}
