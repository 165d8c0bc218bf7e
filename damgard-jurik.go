package fhebatch

import (
	"context"
	"fmt"
	"math/big"

	"github.com/niclabs/tcpaillier"
	"golang.org/x/sync/errgroup"
)

// PaillierCommittee holds n threshold Damgård-Jurik key shares (s = 1), all
// of which are needed to decrypt. Multiplication of two ciphertexts is an
// interactive protocol run among the shareholders.
type PaillierCommittee struct {
	pk     *tcpaillier.PubKey
	shares []*tcpaillier.KeyShare
}

func NewPaillierCommittee(bitSize, n int) (*PaillierCommittee, error) {
	if n < 2 || n > 255 {
		return nil, fmt.Errorf("%w: committee size %d", ErrInvalidValue, n)
	}
	shares, pk, err := tcpaillier.NewKey(bitSize, 1, uint8(n), uint8(n))
	if err != nil {
		return nil, err
	}
	return &PaillierCommittee{pk: pk, shares: shares}, nil
}

func (c *PaillierCommittee) Size() int {
	return len(c.shares)
}

func (c *PaillierCommittee) Engine() *PaillierEngine {
	nn := new(big.Int).Mul(c.pk.N, c.pk.N)
	return &PaillierEngine{committee: c, modulus: nn, width: (nn.BitLen() + 7) / 8}
}

// Decrypt collects a partial decryption from every shareholder and combines
// them.
func (c *PaillierCommittee) Decrypt(data []byte) (*big.Int, error) {
	ct := new(big.Int).SetBytes(data)
	parts := make([]*tcpaillier.DecryptionShare, len(c.shares))
	var g errgroup.Group
	for i, sk := range c.shares {
		i, sk := i, sk
		g.Go(func() (err error) {
			parts[i], err = sk.PartialDecrypt(ct)
			return
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	m, err := c.pk.CombineShares(parts...)
	if err != nil {
		return nil, err
	}
	return m.Mod(m, c.pk.N), nil
}

// Multiply returns Enc(a*b). Party 0 is the central party; every party
// computes the same product and the central party's result is returned.
func (c *PaillierCommittee) Multiply(ctx context.Context, a, b *big.Int) (*big.Int, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ch := newMultChannels()
	g, ctx := errgroup.WithContext(ctx)
	for _, sk := range c.shares[1:] {
		sk := sk
		g.Go(func() error {
			_, err := multWorker(ctx, c.pk, sk, a, b, ch)
			return err
		})
	}
	var prod *big.Int
	g.Go(func() (err error) {
		prod, err = centralMultWorker(ctx, c.pk, c.shares[0], len(c.shares), a, b, ch)
		return
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return prod, nil
}

// PaillierEngine evaluates on Damgård-Jurik ciphertexts. Ciphertexts are
// exported as fixed width big-endian integers modulo N^2.
type PaillierEngine struct {
	committee *PaillierCommittee
	modulus   *big.Int
	width     int
}

type paillierHandle struct {
	c *big.Int
}

func (e *PaillierEngine) value(h Handle) (*big.Int, error) {
	ph, ok := h.(paillierHandle)
	if !ok || ph.c == nil {
		return nil, ErrUninitializedHandle
	}
	return ph.c, nil
}

func (e *PaillierEngine) Encrypt(value uint64) (Handle, error) {
	m := new(big.Int).SetUint64(value)
	if m.Cmp(e.committee.pk.N) >= 0 {
		return nil, ErrPlaintextOutOfRange
	}
	c, _, err := e.committee.pk.Encrypt(m)
	if err != nil {
		return nil, err
	}
	return paillierHandle{c: c}, nil
}

func (e *PaillierEngine) Import(data []byte) (Handle, error) {
	if len(data) != e.width {
		return nil, fmt.Errorf("%w: %d bytes, want %d", ErrMalformedCiphertext, len(data), e.width)
	}
	c := new(big.Int).SetBytes(data)
	if c.Sign() == 0 || c.Cmp(e.modulus) >= 0 {
		return nil, fmt.Errorf("%w: not in Z*_{N^2}", ErrMalformedCiphertext)
	}
	return paillierHandle{c: c}, nil
}

func (e *PaillierEngine) Add(a, b Handle) (Handle, error) {
	x, err := e.value(a)
	if err != nil {
		return nil, err
	}
	y, err := e.value(b)
	if err != nil {
		return nil, err
	}
	sum, err := e.committee.pk.Add(x, y)
	if err != nil {
		return nil, err
	}
	return paillierHandle{c: sum}, nil
}

func (e *PaillierEngine) Mul(a, b Handle) (Handle, error) {
	x, err := e.value(a)
	if err != nil {
		return nil, err
	}
	y, err := e.value(b)
	if err != nil {
		return nil, err
	}
	prod, err := e.committee.Multiply(context.Background(), x, y)
	if err != nil {
		return nil, err
	}
	return paillierHandle{c: prod}, nil
}

func (e *PaillierEngine) Export(h Handle) ([]byte, error) {
	c, err := e.value(h)
	if err != nil {
		return nil, err
	}
	return c.FillBytes(make([]byte, e.width)), nil
}

func (e *PaillierEngine) IsInitialized(h Handle) bool {
	_, err := e.value(h)
	return err == nil
}
