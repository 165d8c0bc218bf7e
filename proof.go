package fhebatch

import (
	"crypto/ecdsa"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/fxamacker/cbor/v2"
)

var (
	ErrMalformedProof      = errors.New("fhebatch: malformed proof")
	ErrUnknownSigner       = errors.New("fhebatch: signature from unknown signer")
	ErrDuplicateSigner     = errors.New("fhebatch: duplicate signer")
	ErrInsufficientSigners = errors.New("fhebatch: not enough valid signatures")
)

// resultDigest is what every oracle signer signs for a result.
func resultDigest(requestID common.Hash, cleartext []byte) common.Hash {
	return crypto.Keccak256Hash(requestID.Bytes(), cleartext)
}

// SignResult produces a proof: one secp256k1 signature over the result digest
// per key, CBOR encoded as a list.
func SignResult(keys []*ecdsa.PrivateKey, requestID common.Hash, cleartext []byte) ([]byte, error) {
	digest := resultDigest(requestID, cleartext)
	sigs := make([][]byte, 0, len(keys))
	for _, key := range keys {
		sig, err := crypto.Sign(digest.Bytes(), key)
		if err != nil {
			return nil, err
		}
		sigs = append(sigs, sig)
	}
	return cbor.Marshal(sigs)
}

// SignerSet verifies proofs against a fixed set of oracle signers, requiring
// at least Threshold distinct known signers.
type SignerSet struct {
	signers   map[common.Address]struct{}
	threshold int
}

func NewSignerSet(signers []common.Address, threshold int) (*SignerSet, error) {
	if threshold < 1 || threshold > len(signers) {
		return nil, fmt.Errorf("%w: threshold %d for %d signers", ErrInvalidValue, threshold, len(signers))
	}
	set := &SignerSet{
		signers:   make(map[common.Address]struct{}, len(signers)),
		threshold: threshold,
	}
	for _, s := range signers {
		if s == (common.Address{}) {
			return nil, ErrInvalidAddress
		}
		set.signers[s] = struct{}{}
	}
	if len(set.signers) != len(signers) {
		return nil, ErrDuplicateSigner
	}
	return set, nil
}

func (s *SignerSet) Threshold() int {
	return s.threshold
}

func (s *SignerSet) VerifyProof(requestID common.Hash, cleartext, proof []byte) error {
	var sigs [][]byte
	if err := cbor.Unmarshal(proof, &sigs); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedProof, err)
	}
	digest := resultDigest(requestID, cleartext)
	seen := make(map[common.Address]struct{}, len(sigs))
	for _, sig := range sigs {
		if len(sig) != crypto.SignatureLength {
			return fmt.Errorf("%w: signature length %d", ErrMalformedProof, len(sig))
		}
		pub, err := crypto.SigToPub(digest.Bytes(), sig)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrMalformedProof, err)
		}
		addr := crypto.PubkeyToAddress(*pub)
		if _, ok := s.signers[addr]; !ok {
			return fmt.Errorf("%w: %s", ErrUnknownSigner, addr)
		}
		if _, ok := seen[addr]; ok {
			return fmt.Errorf("%w: %s", ErrDuplicateSigner, addr)
		}
		seen[addr] = struct{}{}
	}
	if len(seen) < s.threshold {
		return fmt.Errorf("%w: have %d, need %d", ErrInsufficientSigners, len(seen), s.threshold)
	}
	return nil
}
