// Package config defines the single validated configuration struct this
// core is constructed from (§6). It is a plain data holder with a
// Validate method, following lncfg's plain-struct convention; flag
// parsing and environment loading are explicitly out of scope (§1) and
// remain the surrounding CLI's job.
package config

import (
	"fmt"
	"time"
)

// MixConfig holds the per-packet delay mixer's parameters (§5).
type MixConfig struct {
	MinDelay   time.Duration
	DelayRange time.Duration
	Capacity   int
}

func (c MixConfig) validate() error {
	if c.MinDelay < 0 {
		return fmt.Errorf("mix.min_delay must be non-negative")
	}
	if c.DelayRange < 0 {
		return fmt.Errorf("mix.delay_range must be non-negative")
	}
	if c.Capacity <= 0 {
		return fmt.Errorf("mix.capacity must be positive")
	}
	return nil
}

// SessionConfig holds the session layer's segmentation and timeout
// parameters (§4.3).
type SessionConfig struct {
	MTU                 int
	FrameTimeout        time.Duration
	MaxIncompleteFrames int
	IdleTimeout         time.Duration
}

func (c SessionConfig) validate() error {
	if c.MTU <= 0 {
		return fmt.Errorf("session.mtu must be positive")
	}
	if c.FrameTimeout <= 0 {
		return fmt.Errorf("session.frame_timeout must be positive")
	}
	if c.MaxIncompleteFrames <= 0 {
		return fmt.Errorf("session.max_incomplete_frames must be positive")
	}
	if c.IdleTimeout <= 0 {
		return fmt.Errorf("session.idle_timeout must be positive")
	}
	return nil
}

// SurbConfig holds the SURB inventory balancer's targets (§4.3).
type SurbConfig struct {
	TargetInventory int64
	RefillRateMax   float64
}

func (c SurbConfig) validate() error {
	if c.TargetInventory <= 0 {
		return fmt.Errorf("surb.target_inventory must be positive")
	}
	if c.RefillRateMax <= 0 {
		return fmt.Errorf("surb.refill_rate_max must be positive")
	}
	return nil
}

// TicketConfig holds the network-wide ticket minimums (§4.1).
type TicketConfig struct {
	MinWinProb float64
	MinPrice   uint64
}

func (c TicketConfig) validate() error {
	if c.MinWinProb < 0 || c.MinWinProb > 1 {
		return fmt.Errorf("ticket.min_win_prob must be in [0, 1]")
	}
	return nil
}

// BloomConfig holds the tag-replay Bloom filter's sizing and persistence
// parameters (§4.4).
type BloomConfig struct {
	Capacity          uint64
	FalsePositiveRate float64
	PersistPath       string
}

func (c BloomConfig) validate() error {
	if c.Capacity == 0 {
		return fmt.Errorf("bloom.capacity must be positive")
	}
	if c.FalsePositiveRate <= 0 || c.FalsePositiveRate >= 1 {
		return fmt.Errorf("bloom.false_positive_rate must be in (0, 1)")
	}
	if c.PersistPath == "" {
		return fmt.Errorf("bloom.persist_path must be set")
	}
	return nil
}

// AckConfig holds the acknowledgement-wait timeout (§5).
type AckConfig struct {
	Timeout time.Duration
}

func (c AckConfig) validate() error {
	if c.Timeout <= 0 {
		return fmt.Errorf("ack.timeout must be positive")
	}
	return nil
}

// ProbeConfig holds the peer-health probe's thresholds (§5).
type ProbeConfig struct {
	RTTBudget      time.Duration
	UnhealthyAfter int
	HealthyAfter   int
}

func (c ProbeConfig) validate() error {
	if c.RTTBudget <= 0 {
		return fmt.Errorf("probe.rtt_budget must be positive")
	}
	if c.UnhealthyAfter <= 0 {
		return fmt.Errorf("probe.unhealthy_after must be positive")
	}
	if c.HealthyAfter <= 0 {
		return fmt.Errorf("probe.healthy_after must be positive")
	}
	return nil
}

// Config is the full set of the §6 config knobs, collected into a single
// validated struct.
type Config struct {
	Mix     MixConfig
	Session SessionConfig
	Surb    SurbConfig
	Ticket  TicketConfig
	Bloom   BloomConfig
	Ack     AckConfig
	Probe   ProbeConfig
}

// Validate checks every sub-config's invariants, returning the first
// violation found.
func (c Config) Validate() error {
	validators := []func() error{
		c.Mix.validate,
		c.Session.validate,
		c.Surb.validate,
		c.Ticket.validate,
		c.Bloom.validate,
		c.Ack.validate,
		c.Probe.validate,
	}

	for _, v := range validators {
		if err := v(); err != nil {
			return err
		}
	}

	return nil
}
