package fhebatch

import (
	"fmt"
	"os"
	"time"

	"github.com/ldsec/lattigo/bfv"
	"gopkg.in/yaml.v3"
)

const (
	EngineBFV      = "bfv"
	EnginePaillier = "paillier"
)

var bfvParamSets = map[string]int{
	"PN12QP109": bfv.PN12QP109,
	"PN13QP218": bfv.PN13QP218,
	"PN14QP438": bfv.PN14QP438,
	"PN15QP880": bfv.PN15QP880,
}

// Config describes a coordinator deployment together with its key-holder
// committee and decryption oracle.
type Config struct {
	DataDir         string `yaml:"datadir"`
	CooldownSeconds uint64 `yaml:"cooldown_seconds"`

	Engine        string `yaml:"engine"`
	BFVParams     string `yaml:"bfv_params"`
	PaillierBits  int    `yaml:"paillier_bits"`
	CommitteeSize int    `yaml:"committee_size"`

	Oracle struct {
		Signers             int           `yaml:"signers"`
		Threshold           int           `yaml:"threshold"`
		QueueSize           int           `yaml:"queue_size"`
		MaxDeliveryAttempts uint64        `yaml:"max_delivery_attempts"`
		InitialBackoff      time.Duration `yaml:"initial_backoff"`
	} `yaml:"oracle"`
}

func DefaultConfig() *Config {
	cfg := &Config{
		CooldownSeconds: 60,
		Engine:          EngineBFV,
		BFVParams:       "PN13QP218",
		PaillierBits:    512,
		CommitteeSize:   3,
	}
	oc := DefaultOracleConfig()
	cfg.Oracle.Signers = 3
	cfg.Oracle.Threshold = 2
	cfg.Oracle.QueueSize = oc.QueueSize
	cfg.Oracle.MaxDeliveryAttempts = oc.MaxDeliveryAttempts
	cfg.Oracle.InitialBackoff = oc.InitialBackoff
	return cfg
}

// LoadConfig reads a YAML file on top of the defaults. Keys absent from the
// file keep their default value.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.CooldownSeconds == 0 {
		return fmt.Errorf("%w: cooldown must be positive", ErrInvalidValue)
	}
	switch c.Engine {
	case EngineBFV:
		if _, ok := bfvParamSets[c.BFVParams]; !ok {
			return fmt.Errorf("%w: unknown bfv parameter set %q", ErrInvalidValue, c.BFVParams)
		}
		if c.CommitteeSize < 1 {
			return fmt.Errorf("%w: committee size %d", ErrInvalidValue, c.CommitteeSize)
		}
	case EnginePaillier:
		if c.CommitteeSize < 2 || c.CommitteeSize > 255 {
			return fmt.Errorf("%w: paillier committee size %d", ErrInvalidValue, c.CommitteeSize)
		}
		if c.PaillierBits < 64 {
			return fmt.Errorf("%w: paillier key of %d bits", ErrInvalidValue, c.PaillierBits)
		}
	default:
		return fmt.Errorf("%w: unknown engine %q", ErrInvalidValue, c.Engine)
	}
	if c.Oracle.Threshold < 1 || c.Oracle.Threshold > c.Oracle.Signers {
		return fmt.Errorf("%w: threshold %d of %d signers", ErrInvalidValue, c.Oracle.Threshold, c.Oracle.Signers)
	}
	if c.Oracle.QueueSize < 1 {
		return fmt.Errorf("%w: oracle queue size %d", ErrInvalidValue, c.Oracle.QueueSize)
	}
	return nil
}

// OracleConfig extracts the oracle service settings.
func (c *Config) OracleConfig() OracleConfig {
	return OracleConfig{
		QueueSize:           c.Oracle.QueueSize,
		MaxDeliveryAttempts: c.Oracle.MaxDeliveryAttempts,
		InitialBackoff:      c.Oracle.InitialBackoff,
	}
}

// Committee is a key-holder committee: it decrypts and provides the matching
// evaluation engine.
type Committee interface {
	Decrypter
	Size() int
}

// NewCommittee generates keys for the configured engine and returns the
// committee and its engine.
func (c *Config) NewCommittee() (Committee, Engine, error) {
	switch c.Engine {
	case EngineBFV:
		set, ok := bfvParamSets[c.BFVParams]
		if !ok {
			return nil, nil, fmt.Errorf("%w: unknown bfv parameter set %q", ErrInvalidValue, c.BFVParams)
		}
		committee, err := NewBFVCommittee(BFVParams(set), c.CommitteeSize)
		if err != nil {
			return nil, nil, err
		}
		return committee, committee.Engine(), nil
	case EnginePaillier:
		committee, err := NewPaillierCommittee(c.PaillierBits, c.CommitteeSize)
		if err != nil {
			return nil, nil, err
		}
		return committee, committee.Engine(), nil
	default:
		return nil, nil, fmt.Errorf("%w: unknown engine %q", ErrInvalidValue, c.Engine)
	}
}
