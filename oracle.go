package fhebatch

import (
	"context"
	"crypto/ecdsa"
	"crypto/rand"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/log"
	"github.com/holiman/uint256"
	"github.com/zeebo/blake3"
)

var ErrOracleBusy = errors.New("fhebatch: oracle queue full")

type OracleConfig struct {
	QueueSize int

	// MaxDeliveryAttempts bounds retries of a callback that failed for a
	// reason other than a coordinator rejection.
	MaxDeliveryAttempts uint64
	InitialBackoff      time.Duration
}

func DefaultOracleConfig() OracleConfig {
	return OracleConfig{
		QueueSize:           64,
		MaxDeliveryAttempts: 5,
		InitialBackoff:      100 * time.Millisecond,
	}
}

type decryptionJob struct {
	id          common.Hash
	ciphertexts [][]byte
}

// Oracle is an in-process decryption service. Requests are queued and
// answered asynchronously: a worker decrypts through the key-holder
// committee, signs the result with every oracle signer and delivers it to a
// Receiver.
type Oracle struct {
	decrypter Decrypter
	signers   []*ecdsa.PrivateKey
	cfg       OracleConfig

	idKey   [32]byte
	mu      sync.Mutex
	counter uint64
	jobs    chan decryptionJob

	log log.Logger
}

func NewOracle(decrypter Decrypter, signers []*ecdsa.PrivateKey, cfg OracleConfig) (*Oracle, error) {
	if len(signers) == 0 {
		return nil, fmt.Errorf("%w: oracle needs at least one signer", ErrInvalidValue)
	}
	if cfg.QueueSize < 1 {
		return nil, fmt.Errorf("%w: queue size %d", ErrInvalidValue, cfg.QueueSize)
	}
	o := &Oracle{
		decrypter: decrypter,
		signers:   signers,
		cfg:       cfg,
		jobs:      make(chan decryptionJob, cfg.QueueSize),
		log:       log.New("module", "oracle"),
	}
	if _, err := rand.Read(o.idKey[:]); err != nil {
		return nil, err
	}
	return o, nil
}

// Signers returns the addresses whose signatures make up a proof.
func (o *Oracle) Signers() []common.Address {
	addrs := make([]common.Address, len(o.signers))
	for i, key := range o.signers {
		addrs[i] = crypto.PubkeyToAddress(key.PublicKey)
	}
	return addrs
}

// SubmitDecryptionRequest queues ciphertexts for decryption and returns the
// request id immediately. Ids are unique and unpredictable without the
// oracle's id key.
func (o *Oracle) SubmitDecryptionRequest(ciphertexts [][]byte) (common.Hash, error) {
	if len(ciphertexts) == 0 {
		return common.Hash{}, fmt.Errorf("%w: empty decryption request", ErrInvalidValue)
	}
	o.mu.Lock()
	o.counter++
	id := o.requestID(o.counter)
	o.mu.Unlock()

	job := decryptionJob{id: id, ciphertexts: make([][]byte, len(ciphertexts))}
	for i, ct := range ciphertexts {
		job.ciphertexts[i] = common.CopyBytes(ct)
	}
	select {
	case o.jobs <- job:
	default:
		return common.Hash{}, ErrOracleBusy
	}
	o.log.Debug("Queued decryption request", "request", id, "ciphertexts", len(ciphertexts))
	return id, nil
}

func (o *Oracle) requestID(n uint64) common.Hash {
	h, err := blake3.NewKeyed(o.idKey[:])
	if err != nil {
		panic(err) // key is always 32 bytes
	}
	h.Write(encodeUint64(n))
	var id common.Hash
	copy(id[:], h.Sum(nil))
	return id
}

// Pending is the number of queued, unprocessed requests.
func (o *Oracle) Pending() int {
	return len(o.jobs)
}

// Run answers queued requests until ctx is cancelled. A request that cannot
// be decrypted or delivered is logged and dropped.
func (o *Oracle) Run(ctx context.Context, r Receiver) error {
	for {
		if err := o.ProcessNext(ctx, r); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			o.log.Warn("Decryption request failed", "err", err)
		}
	}
}

// ProcessNext waits for the next queued request and answers it.
func (o *Oracle) ProcessNext(ctx context.Context, r Receiver) error {
	var job decryptionJob
	select {
	case <-ctx.Done():
		return ctx.Err()
	case job = <-o.jobs:
	}
	cleartext, err := o.decrypt(job.ciphertexts)
	if err != nil {
		return fmt.Errorf("request %x: %w", job.id, err)
	}
	proof, err := SignResult(o.signers, job.id, cleartext)
	if err != nil {
		return fmt.Errorf("request %x: sign: %w", job.id, err)
	}
	if err := o.deliver(ctx, r, job.id, cleartext, proof); err != nil {
		return fmt.Errorf("request %x: %w", job.id, err)
	}
	o.log.Debug("Delivered decryption result", "request", job.id)
	return nil
}

func (o *Oracle) decrypt(ciphertexts [][]byte) ([]byte, error) {
	words := make([]*uint256.Int, len(ciphertexts))
	for i, ct := range ciphertexts {
		v, err := o.decrypter.Decrypt(ct)
		if err != nil {
			return nil, fmt.Errorf("decrypt ciphertext %d: %w", i, err)
		}
		w, overflow := uint256.FromBig(v)
		if overflow || v.Sign() < 0 {
			return nil, fmt.Errorf("%w: plaintext %d does not fit a word", ErrPlaintextOutOfRange, i)
		}
		words[i] = w
	}
	return EncodeCleartext(words...), nil
}

// deliver retries transport failures with exponential backoff. Coordinator
// rejections are permanent.
func (o *Oracle) deliver(ctx context.Context, r Receiver, id common.Hash, cleartext, proof []byte) error {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = o.cfg.InitialBackoff
	policy := backoff.WithContext(backoff.WithMaxRetries(eb, o.cfg.MaxDeliveryAttempts), ctx)

	return backoff.Retry(func() error {
		err := r.OnDecryptionResult(id, cleartext, proof)
		switch {
		case err == nil:
			return nil
		case IsRejection(err):
			return backoff.Permanent(err)
		default:
			o.log.Debug("Callback delivery failed", "request", id, "err", err)
			return err
		}
	}, policy)
}
