package fhebatch

import (
	"context"
	"crypto/rand"
	"math/big"

	"github.com/niclabs/tcpaillier"
)

// multChannels connects the central party of a multiplication round with the
// outer parties. The channels are shared by all outer parties; the protocol
// order keeps every message with its intended round.
type multChannels struct {
	masks     chan *big.Int                   // outer -> central: encrypted masks, then partial products
	broadcast chan []*big.Int                 // central -> outer: all masks, then all partial products
	decShares chan *tcpaillier.DecryptionShare // outer -> central
}

func newMultChannels() multChannels {
	return multChannels{
		masks:     make(chan *big.Int),
		broadcast: make(chan []*big.Int),
		decShares: make(chan *tcpaillier.DecryptionShare),
	}
}

func send[T any](ctx context.Context, ch chan<- T, v T) error {
	select {
	case ch <- v:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func recv[T any](ctx context.Context, ch <-chan T) (T, error) {
	select {
	case v := <-ch:
		return v, nil
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// randomEncrypted samples a mask d and its encryption.
func randomEncrypted(pk *tcpaillier.PubKey) (plain, cipher *big.Int, err error) {
	plain, err = rand.Int(rand.Reader, pk.N)
	if err != nil {
		return
	}
	cipher, _, err = pk.Encrypt(plain)
	return
}

// maskDecrypt adds all masks to a and partially decrypts the result.
func maskDecrypt(pk *tcpaillier.PubKey, sk *tcpaillier.KeyShare, a *big.Int, masks []*big.Int) (*tcpaillier.DecryptionShare, error) {
	terms := append([]*big.Int{a}, masks...)
	masked, err := pk.Add(terms...)
	if err != nil {
		return nil, err
	}
	return sk.PartialDecrypt(masked)
}

// centralSecretShare runs additive secret sharing of the encrypted value a
// from the central party. It returns the central party's share e - d.
func centralSecretShare(ctx context.Context, pk *tcpaillier.PubKey, sk *tcpaillier.KeyShare, parties int, a *big.Int, ch multChannels) (*big.Int, error) {
	d, dEnc, err := randomEncrypted(pk)
	if err != nil {
		return nil, err
	}

	all := make([]*big.Int, parties)
	all[0] = dEnc
	for i := 1; i < parties; i++ {
		if all[i], err = recv(ctx, ch.masks); err != nil {
			return nil, err
		}
	}
	for i := 1; i < parties; i++ {
		if err := send(ctx, ch.broadcast, all); err != nil {
			return nil, err
		}
	}

	part, err := maskDecrypt(pk, sk, a, all)
	if err != nil {
		return nil, err
	}
	parts := make([]*tcpaillier.DecryptionShare, parties)
	parts[0] = part
	for i := 1; i < parties; i++ {
		if parts[i], err = recv(ctx, ch.decShares); err != nil {
			return nil, err
		}
	}
	e, err := pk.CombineShares(parts...)
	if err != nil {
		return nil, err
	}

	share := new(big.Int).Sub(e, d)
	return share.Mod(share, pk.N), nil
}

// outerSecretShare is the outer party side of additive secret sharing. The
// share is -d.
func outerSecretShare(ctx context.Context, pk *tcpaillier.PubKey, sk *tcpaillier.KeyShare, a *big.Int, ch multChannels) (*big.Int, error) {
	d, dEnc, err := randomEncrypted(pk)
	if err != nil {
		return nil, err
	}
	if err := send(ctx, ch.masks, dEnc); err != nil {
		return nil, err
	}
	all, err := recv(ctx, ch.broadcast)
	if err != nil {
		return nil, err
	}
	part, err := maskDecrypt(pk, sk, a, all)
	if err != nil {
		return nil, err
	}
	if err := send(ctx, ch.decShares, part); err != nil {
		return nil, err
	}

	share := new(big.Int).Neg(d)
	return share.Mod(share, pk.N), nil
}

// centralMultWorker computes Enc(a*b) together with the outer parties: a is
// secret shared, each party multiplies b by its share and the partial
// products are summed.
func centralMultWorker(ctx context.Context, pk *tcpaillier.PubKey, sk *tcpaillier.KeyShare, parties int, a, b *big.Int, ch multChannels) (*big.Int, error) {
	share, err := centralSecretShare(ctx, pk, sk, parties, a, ch)
	if err != nil {
		return nil, err
	}
	prod, _, err := pk.Multiply(b, share)
	if err != nil {
		return nil, err
	}

	prods := make([]*big.Int, parties)
	prods[0] = prod
	for i := 1; i < parties; i++ {
		if prods[i], err = recv(ctx, ch.masks); err != nil {
			return nil, err
		}
	}
	for i := 1; i < parties; i++ {
		if err := send(ctx, ch.broadcast, prods); err != nil {
			return nil, err
		}
	}
	return pk.Add(prods...)
}

func multWorker(ctx context.Context, pk *tcpaillier.PubKey, sk *tcpaillier.KeyShare, a, b *big.Int, ch multChannels) (*big.Int, error) {
	share, err := outerSecretShare(ctx, pk, sk, a, ch)
	if err != nil {
		return nil, err
	}
	prod, _, err := pk.Multiply(b, share)
	if err != nil {
		return nil, err
	}
	if err := send(ctx, ch.masks, prod); err != nil {
		return nil, err
	}
	prods, err := recv(ctx, ch.broadcast)
	if err != nil {
		return nil, err
	}
	return pk.Add(prods...)
}
