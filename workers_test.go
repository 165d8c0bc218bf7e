package fhebatch

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/niclabs/tcpaillier"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func paillierKeys(t *testing.T, n int) ([]*tcpaillier.KeyShare, *tcpaillier.PubKey) {
	t.Helper()
	sks, pk, err := tcpaillier.NewKey(512, 1, uint8(n), uint8(n))
	require.NoError(t, err)
	return sks, pk
}

func paillierDecrypt(t *testing.T, sks []*tcpaillier.KeyShare, pk *tcpaillier.PubKey, c *big.Int) *big.Int {
	t.Helper()
	parts := make([]*tcpaillier.DecryptionShare, len(sks))
	for i, sk := range sks {
		part, err := sk.PartialDecrypt(c)
		require.NoError(t, err)
		parts[i] = part
	}
	m, err := pk.CombineShares(parts...)
	require.NoError(t, err)
	return m.Mod(m, pk.N)
}

func TestSecretShareWorkers(t *testing.T) {
	const n = 4
	sks, pk := paillierKeys(t, n)
	a, _, err := pk.Encrypt(big.NewInt(20))
	require.NoError(t, err)

	ctx := context.Background()
	ch := newMultChannels()
	shares := make([]*big.Int, n)
	var g errgroup.Group
	g.Go(func() (err error) {
		shares[0], err = centralSecretShare(ctx, pk, sks[0], n, a, ch)
		return
	})
	for i := 1; i < n; i++ {
		i := i
		g.Go(func() (err error) {
			shares[i], err = outerSecretShare(ctx, pk, sks[i], a, ch)
			return
		})
	}
	require.NoError(t, g.Wait())

	sum := big.NewInt(0)
	for _, s := range shares {
		sum.Add(sum, s)
	}
	assert.Zero(t, sum.Mod(sum, pk.N).Cmp(big.NewInt(20)), "shares don't add up")
}

func TestMultWorkers(t *testing.T) {
	const n = 4
	sks, pk := paillierKeys(t, n)
	a, _, err := pk.Encrypt(big.NewInt(3))
	require.NoError(t, err)
	b, _, err := pk.Encrypt(big.NewInt(4))
	require.NoError(t, err)

	ctx := context.Background()
	ch := newMultChannels()
	prods := make([]*big.Int, n)
	var g errgroup.Group
	g.Go(func() (err error) {
		prods[0], err = centralMultWorker(ctx, pk, sks[0], n, a, b, ch)
		return
	})
	for i := 1; i < n; i++ {
		i := i
		g.Go(func() (err error) {
			prods[i], err = multWorker(ctx, pk, sks[i], a, b, ch)
			return
		})
	}
	require.NoError(t, g.Wait())

	for i, p := range prods {
		assert.Zero(t, paillierDecrypt(t, sks, pk, p).Cmp(big.NewInt(12)), "party %d", i)
	}
}

func TestMultWorkerStopsOnCancel(t *testing.T) {
	sks, pk := paillierKeys(t, 2)
	a, _, err := pk.Encrypt(big.NewInt(3))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	// no outer party ever joins
	_, err = centralMultWorker(ctx, pk, sks[0], 2, a, a, newMultChannels())
	require.ErrorIs(t, err, context.DeadlineExceeded)
}
