package main

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethdb"
	"github.com/ethereum/go-ethereum/ethdb/leveldb"
	"github.com/ethereum/go-ethereum/ethdb/memorydb"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ontanj/fhebatch"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("fhebatch", flag.ContinueOnError)
	configFile := fs.String("config", "", "YAML configuration file")
	engine := fs.String("engine", "", "Encryption engine: bfv, paillier")
	cooldown := fs.Uint64("cooldown", 0, "Cooldown between rate limited actions, in seconds")
	committee := fs.Int("committee", 0, "Number of key-holder parties")
	datadir := fs.String("datadir", "", "Data directory for persistent state (empty = in-memory)")
	verbosity := fs.Int("verbosity", 3, "Log level 0-5 (0=silent, 5=trace)")
	timeout := fs.Duration("timeout", 2*time.Minute, "Maximum time to wait for the decryption result")

	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 2
	}
	setupLogging(*verbosity)

	cfg := fhebatch.DefaultConfig()
	if *configFile != "" {
		var err error
		if cfg, err = fhebatch.LoadConfig(*configFile); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
	}
	if *engine != "" {
		cfg.Engine = *engine
	}
	if *cooldown != 0 {
		cfg.CooldownSeconds = *cooldown
	}
	if *committee != 0 {
		cfg.CommitteeSize = *committee
	}
	if *datadir != "" {
		cfg.DataDir = *datadir
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	if err := runScenario(cfg, *timeout); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func setupLogging(verbosity int) {
	var lvl slog.Level
	switch {
	case verbosity <= 1:
		lvl = slog.LevelError
	case verbosity == 2:
		lvl = slog.LevelWarn
	case verbosity == 3:
		lvl = slog.LevelInfo
	case verbosity == 4:
		lvl = slog.LevelDebug
	default:
		lvl = log.LevelTrace
	}
	log.SetDefault(log.NewLogger(log.NewTerminalHandlerWithLevel(os.Stderr, lvl, true)))
}

func openDatabase(datadir string) (ethdb.KeyValueStore, error) {
	if datadir == "" {
		return memorydb.New(), nil
	}
	return leveldb.New(datadir, 16, 16, "fhebatch/db/", false)
}

// namedKey derives a stable key from a label so that a persisted deployment
// keeps its admin and providers across runs.
func namedKey(label string) *ecdsa.PrivateKey {
	key, err := crypto.ToECDSA(crypto.Keccak256([]byte("fhebatch/" + label)))
	if err != nil {
		panic(err)
	}
	return key
}

func address(label string) common.Address {
	return crypto.PubkeyToAddress(namedKey(label).PublicKey)
}

// runScenario opens a batch, accumulates two encrypted contributions (5 and
// 7), runs inference twice with input 2 and has the oracle decrypt the
// output, which must be 24.
func runScenario(cfg *fhebatch.Config, timeout time.Duration) error {
	log.Info("Generating committee keys", "engine", cfg.Engine, "parties", cfg.CommitteeSize)
	keyholders, engine, err := cfg.NewCommittee()
	if err != nil {
		return fmt.Errorf("key generation: %w", err)
	}

	signers := make([]*ecdsa.PrivateKey, cfg.Oracle.Signers)
	for i := range signers {
		if signers[i], err = crypto.GenerateKey(); err != nil {
			return err
		}
	}
	oracle, err := fhebatch.NewOracle(keyholders, signers, cfg.OracleConfig())
	if err != nil {
		return err
	}
	verifier, err := fhebatch.NewSignerSet(oracle.Signers(), cfg.Oracle.Threshold)
	if err != nil {
		return err
	}

	db, err := openDatabase(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	var (
		admin = address("admin")
		alice = address("provider/alice")
		bob   = address("provider/bob")
	)
	coord, err := fhebatch.New(db, engine, oracle, verifier, fhebatch.Options{
		Identity:        address("coordinator"),
		Admin:           admin,
		CooldownSeconds: cfg.CooldownSeconds,
	})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	go oracle.Run(ctx, coord)

	completed := make(chan fhebatch.Event, 64)
	sub := coord.SubscribeEvents(completed)
	defer sub.Unsubscribe()

	for _, p := range []common.Address{alice, bob} {
		if err := coord.AddProvider(admin, p); err != nil {
			return err
		}
	}
	if _, open, err := coord.CurrentBatch(); err != nil {
		return err
	} else if open {
		if err := coord.CloseBatch(admin); err != nil {
			return err
		}
	}
	batch, err := coord.OpenBatch(admin)
	if err != nil {
		return err
	}

	encrypt := func(v uint64) ([]byte, error) {
		h, err := engine.Encrypt(v)
		if err != nil {
			return nil, err
		}
		return engine.Export(h)
	}
	for _, contrib := range []struct {
		provider common.Address
		value    uint64
	}{{alice, 5}, {bob, 7}} {
		ct, err := encrypt(contrib.value)
		if err != nil {
			return err
		}
		if _, err := coord.SubmitModel(contrib.provider, ct); err != nil {
			return fmt.Errorf("submit from %s: %w", contrib.provider, err)
		}
	}

	input, err := encrypt(2)
	if err != nil {
		return err
	}
	for i := 0; i < 2; i++ {
		if err := coord.RunEncryptedInference(alice, batch, input); err != nil {
			return err
		}
	}

	id, err := coord.RequestModelOutputDecryption(alice, batch)
	if err != nil {
		return err
	}
	log.Info("Waiting for decryption result", "request", id)

	for {
		select {
		case ev := <-completed:
			if ev.Kind != fhebatch.EventDecryptionCompleted || ev.RequestID != id {
				continue
			}
			fmt.Printf("batch %d output: %s\n", batch, ev.Result.Dec())
			return printEvents(coord)
		case err := <-sub.Err():
			return err
		case <-ctx.Done():
			return errors.New("timed out waiting for decryption result")
		}
	}
}

func printEvents(coord *fhebatch.Coordinator) error {
	events, err := coord.Events(1)
	if err != nil {
		return err
	}
	if err := fhebatch.VerifyEventLog(events); err != nil {
		return err
	}
	for _, ev := range events {
		fmt.Printf("%4d %-22s %s\n", ev.Seq, ev.Kind, ev.Digest.Hex())
	}
	return nil
}
