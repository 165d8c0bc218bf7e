package fhebatch

import (
	"fmt"
	"math/big"

	"github.com/ldsec/lattigo/bfv"
	"github.com/ldsec/lattigo/dbfv"
	"github.com/ldsec/lattigo/ring"
	"golang.org/x/sync/errgroup"
)

// PCKS smudging noise, as used for collective key switching.
const pcksSigma = 3.19

// BFVParams returns a copy of a lattigo default parameter set with plaintext
// modulus 65537, which supports slot batching for every default ring degree.
func BFVParams(set int) *bfv.Parameters {
	params := *bfv.DefaultParams[set]
	params.T = 65537
	return &params
}

// BFVEngine evaluates on ciphertexts under the committee's collective public
// key. It holds no secret material.
type BFVEngine struct {
	params *bfv.Parameters
	pk     *bfv.PublicKey
	rlk    *bfv.EvaluationKey
}

type bfvHandle struct {
	ct *bfv.Ciphertext
}

func (e *BFVEngine) ciphertext(h Handle) (*bfv.Ciphertext, error) {
	bh, ok := h.(bfvHandle)
	if !ok || bh.ct == nil {
		return nil, ErrUninitializedHandle
	}
	return bh.ct, nil
}

func (e *BFVEngine) Encrypt(value uint64) (Handle, error) {
	if value >= e.params.T {
		return nil, fmt.Errorf("%w: %d >= %d", ErrPlaintextOutOfRange, value, e.params.T)
	}
	encoder := bfv.NewEncoder(e.params)
	pt := bfv.NewPlaintext(e.params)
	encoder.EncodeUint([]uint64{value}, pt)
	encryptor := bfv.NewEncryptorFromPk(e.params, e.pk)
	return bfvHandle{ct: encryptor.EncryptNew(pt)}, nil
}

func (e *BFVEngine) Import(data []byte) (Handle, error) {
	ct := new(bfv.Ciphertext)
	if err := ct.UnmarshalBinary(data); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedCiphertext, err)
	}
	return bfvHandle{ct: ct}, nil
}

func (e *BFVEngine) Add(a, b Handle) (Handle, error) {
	ac, err := e.ciphertext(a)
	if err != nil {
		return nil, err
	}
	bc, err := e.ciphertext(b)
	if err != nil {
		return nil, err
	}
	evaluator := bfv.NewEvaluator(e.params)
	return bfvHandle{ct: evaluator.AddNew(ac, bc)}, nil
}

// Mul multiplies and relinearizes back to a degree one ciphertext.
func (e *BFVEngine) Mul(a, b Handle) (Handle, error) {
	ac, err := e.ciphertext(a)
	if err != nil {
		return nil, err
	}
	bc, err := e.ciphertext(b)
	if err != nil {
		return nil, err
	}
	evaluator := bfv.NewEvaluator(e.params)
	prod := evaluator.MulNew(ac, bc)
	return bfvHandle{ct: evaluator.RelinearizeNew(prod, e.rlk)}, nil
}

func (e *BFVEngine) Export(h Handle) ([]byte, error) {
	ct, err := e.ciphertext(h)
	if err != nil {
		return nil, err
	}
	return ct.MarshalBinary()
}

func (e *BFVEngine) IsInitialized(h Handle) bool {
	_, err := e.ciphertext(h)
	return err == nil
}

// BFVCommittee holds the secret key shares of n parties. The collective
// public and relinearization keys are generated jointly, so no single party
// ever knows the full secret key. Decryption is a collective key switch to a
// target key held by the committee's combiner.
type BFVCommittee struct {
	params *bfv.Parameters
	crs    *ring.Poly
	crp    []*ring.Poly

	pk     *bfv.PublicKey
	rlk    *bfv.EvaluationKey
	shares []*bfv.SecretKey

	tpk *bfv.PublicKey
	tsk *bfv.SecretKey
}

// NewBFVCommittee runs distributed key generation among n parties. Party 0
// acts as central party, the others talk to it over one channel each.
func NewBFVCommittee(params *bfv.Parameters, n int) (*BFVCommittee, error) {
	if n < 1 {
		return nil, fmt.Errorf("%w: committee size %d", ErrInvalidValue, n)
	}
	c := &BFVCommittee{params: params, shares: make([]*bfv.SecretKey, n)}
	c.crs, c.crp = genCRP(params)

	channels := make([]chan interface{}, n-1)
	for i := range channels {
		channels[i] = make(chan interface{})
	}
	var g errgroup.Group
	for i := range channels {
		i := i
		g.Go(func() error {
			c.shares[i+1], _, _ = generateKeys(c, keygenLink{up: channels[i]})
			return nil
		})
	}
	c.shares[0], c.pk, c.rlk = generateKeys(c, keygenLink{peers: channels})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	c.tsk, c.tpk = bfv.NewKeyGenerator(params).GenKeyPair()
	return c, nil
}

// Engine returns the public evaluation capability of the committee.
func (c *BFVCommittee) Engine() *BFVEngine {
	return &BFVEngine{params: c.params, pk: c.pk, rlk: c.rlk}
}

func (c *BFVCommittee) Size() int {
	return len(c.shares)
}

// Decrypt switches the ciphertext to the target key with one PCKS share per
// party and decrypts slot 0.
func (c *BFVCommittee) Decrypt(data []byte) (*big.Int, error) {
	ct := new(bfv.Ciphertext)
	if err := ct.UnmarshalBinary(data); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedCiphertext, err)
	}

	parts := make([]dbfv.PCKSShare, len(c.shares))
	var g errgroup.Group
	for i, sk := range c.shares {
		i, sk := i, sk
		g.Go(func() error {
			pcks := dbfv.NewPCKSProtocol(c.params, pcksSigma)
			share := pcks.AllocateShares()
			pcks.GenShare(sk.Get(), c.tpk, ct, share)
			parts[i] = share
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	pcks := dbfv.NewPCKSProtocol(c.params, pcksSigma)
	combined := pcks.AllocateShares()
	for _, part := range parts {
		pcks.AggregateShares(part, combined, combined)
	}
	switched := bfv.NewCiphertext(c.params, 1)
	pcks.KeySwitch(combined, ct, switched)

	pt := bfv.NewPlaintext(c.params)
	bfv.NewDecryptor(c.params, c.tsk).Decrypt(switched, pt)
	dec := bfv.NewEncoder(c.params).DecodeUint(pt)
	return new(big.Int).SetUint64(dec[0]), nil
}

func genCRP(params *bfv.Parameters) (*ring.Poly, []*ring.Poly) {
	contextKeys, _ := ring.NewContextWithParams(1<<params.LogN, append(params.Qi, params.Pi...))
	crsGen := ring.NewCRPGenerator([]byte{'f', 'h', 'e', 'b', 'a', 't', 'c', 'h'}, contextKeys)
	crs := crsGen.ClockNew()
	crp := make([]*ring.Poly, params.Beta())
	for i := uint64(0); i < params.Beta(); i++ {
		crp[i] = crsGen.ClockNew()
	}
	return crs, crp
}

// keygenLink connects a party to the rest of the committee during key
// generation. The central party holds one channel per outer party; an outer
// party holds the channel to the central party.
type keygenLink struct {
	peers []chan interface{}
	up    chan interface{}
}

func (l keygenLink) central() bool {
	return l.up == nil
}

// round contributes share to one aggregation round. The central party folds
// its own and every peer share into acc; with broadcast set the aggregate is
// sent back and returned on every party.
func (l keygenLink) round(share, acc interface{}, fold func(share, acc interface{}), broadcast bool) interface{} {
	if !l.central() {
		l.up <- share
		if broadcast {
			return <-l.up
		}
		return nil
	}
	fold(share, acc)
	for _, ch := range l.peers {
		fold(<-ch, acc)
	}
	if broadcast {
		for _, ch := range l.peers {
			ch <- acc
		}
	}
	return acc
}

// generateKeys runs one party of the collective public key and
// relinearization key protocols. Only the central party returns the
// collective keys.
func generateKeys(c *BFVCommittee, link keygenLink) (*bfv.SecretKey, *bfv.PublicKey, *bfv.EvaluationKey) {
	sk := bfv.NewKeyGenerator(c.params).GenSecretKey()

	ckg := dbfv.NewCKGProtocol(c.params)
	ckgShare, ckgAcc := ckg.AllocateShares(), ckg.AllocateShares()
	ckg.GenShare(sk.Get(), c.crs, ckgShare)
	link.round(ckgShare, ckgAcc, func(share, acc interface{}) {
		ckg.AggregateShares(share.(dbfv.CKGShare), acc.(dbfv.CKGShare), acc.(dbfv.CKGShare))
	}, false)

	rkg := dbfv.NewEkgProtocol(c.params)
	contextKeys, _ := ring.NewContextWithParams(1<<c.params.LogN, append(c.params.Qi, c.params.Pi...))
	ephemeral := contextKeys.SampleTernaryMontgomeryNTTNew(1.0 / 3)
	one, two, three := rkg.AllocateShares()
	acc1, acc2, acc3 := rkg.AllocateShares()

	rkg.GenShareRoundOne(ephemeral, sk.Get(), c.crp, one)
	combined1 := link.round(one, acc1, func(share, acc interface{}) {
		rkg.AggregateShareRoundOne(share.(dbfv.RKGShareRoundOne), acc.(dbfv.RKGShareRoundOne), acc.(dbfv.RKGShareRoundOne))
	}, true).(dbfv.RKGShareRoundOne)

	rkg.GenShareRoundTwo(combined1, sk.Get(), c.crp, two)
	combined2 := link.round(two, acc2, func(share, acc interface{}) {
		rkg.AggregateShareRoundTwo(share.(dbfv.RKGShareRoundTwo), acc.(dbfv.RKGShareRoundTwo), acc.(dbfv.RKGShareRoundTwo))
	}, true).(dbfv.RKGShareRoundTwo)

	rkg.GenShareRoundThree(combined2, ephemeral, sk.Get(), three)
	link.round(three, acc3, func(share, acc interface{}) {
		rkg.AggregateShareRoundThree(share.(dbfv.RKGShareRoundThree), acc.(dbfv.RKGShareRoundThree), acc.(dbfv.RKGShareRoundThree))
	}, false)

	if !link.central() {
		return sk, nil, nil
	}
	pk := bfv.NewPublicKey(c.params)
	ckg.GenPublicKey(ckgAcc, c.crs, pk)
	rlk := bfv.NewRelinKey(c.params, 1)
	rkg.GenRelinearizationKey(combined2, acc3, rlk)
	return sk, pk, rlk
}
