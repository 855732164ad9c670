package config

import "fmt"

// ConsensusSummary formats the resolved consensus/load/fee parameters for
// the `consensus` CLI diagnostic subcommand as a plain-text summary.
func (c *Config) ConsensusSummary() string {
	return fmt.Sprintf(
		"consensus:\n"+
			"  ledger_idle_interval:  %ds\n"+
			"  ledger_min_consensus:  %ds\n"+
			"  peer_position_timeout: %ds\n"+
			"  round_stall_threshold: %ds\n"+
			"  stall_quiet:           %ds\n"+
			"load:\n"+
			"  credit_rate:           %d/s\n"+
			"  credit_limit:          %d\n"+
			"  debit_warn:            %d\n"+
			"  debit_limit:           %d\n"+
			"  warn_interval_seconds: %d\n"+
			"fee:\n"+
			"  fee_escalation_fraction: 1/%d\n",
		c.Consensus.LedgerIdleInterval,
		c.Consensus.LedgerMinConsensus,
		c.Consensus.PeerPositionTimeout,
		c.Consensus.RoundStallThreshold,
		c.Consensus.StallQuiet,
		c.Load.CreditRate,
		c.Load.CreditLimit,
		c.Load.DebitWarn,
		c.Load.DebitLimit,
		c.Load.WarnIntervalSeconds,
		c.Fee.EscalationFraction,
	)
}

// ConsensusConfig holds the [consensus] section: timing knobs for the
// Ledger Timing Oracle and Consensus Round Driver.
type ConsensusConfig struct {
	// LedgerIdleInterval is the normal idle close cadence, in seconds.
	LedgerIdleInterval int `toml:"ledger_idle_interval" mapstructure:"ledger_idle_interval"`

	// LedgerMinConsensus is the minimum round length before agreement can
	// be declared, in seconds.
	LedgerMinConsensus int `toml:"ledger_min_consensus" mapstructure:"ledger_min_consensus"`

	// PeerPositionTimeout is how long a peer's last proposal is kept before
	// it is discarded as stale, in seconds.
	PeerPositionTimeout int `toml:"peer_position_timeout" mapstructure:"peer_position_timeout"`

	// RoundStallThreshold is how long the agreement predicate may fail
	// before a stall is reported, in seconds.
	RoundStallThreshold int `toml:"round_stall_threshold" mapstructure:"round_stall_threshold"`

	// StallQuiet is how long peer positions must be unchanged, on top of
	// RoundStallThreshold, before a stall event fires, in seconds.
	StallQuiet int `toml:"stall_quiet" mapstructure:"stall_quiet"`
}

// Validate checks the consensus timing configuration for internal
// consistency. All durations are seconds and must be positive; the minimum
// consensus time must be shorter than the idle interval so a round that
// never sees a transaction still closes on the idle cadence.
func (c *ConsensusConfig) Validate() error {
	if c.LedgerIdleInterval <= 0 {
		return fmt.Errorf("ledger_idle_interval must be positive, got %d", c.LedgerIdleInterval)
	}
	if c.LedgerMinConsensus <= 0 {
		return fmt.Errorf("ledger_min_consensus must be positive, got %d", c.LedgerMinConsensus)
	}
	if c.LedgerMinConsensus >= c.LedgerIdleInterval {
		return fmt.Errorf("ledger_min_consensus (%d) must be less than ledger_idle_interval (%d)", c.LedgerMinConsensus, c.LedgerIdleInterval)
	}
	if c.PeerPositionTimeout <= 0 {
		return fmt.Errorf("peer_position_timeout must be positive, got %d", c.PeerPositionTimeout)
	}
	if c.RoundStallThreshold <= 0 {
		return fmt.Errorf("round_stall_threshold must be positive, got %d", c.RoundStallThreshold)
	}
	if c.StallQuiet <= 0 {
		return fmt.Errorf("stall_quiet must be positive, got %d", c.StallQuiet)
	}
	return nil
}

// LoadAccountingConfig holds the [load] section: per-source credit accounting
// parameters for the Load Accountant.
type LoadAccountingConfig struct {
	// CreditRate is the credit regained per second of canonicalization.
	CreditRate int `toml:"credit_rate" mapstructure:"credit_rate"`

	// CreditLimit is the maximum balance a source may accrue.
	CreditLimit int `toml:"credit_limit" mapstructure:"credit_limit"`

	// DebitWarn is the balance threshold below which shouldWarn fires.
	DebitWarn int `toml:"debit_warn" mapstructure:"debit_warn"`

	// DebitLimit is the balance threshold below which shouldCutoff fires
	// for non-privileged sources.
	DebitLimit int `toml:"debit_limit" mapstructure:"debit_limit"`

	// WarnIntervalSeconds is the minimum gap between repeated warnings for
	// the same source.
	WarnIntervalSeconds int `toml:"warn_interval_seconds" mapstructure:"warn_interval_seconds"`
}

// Validate checks that the load accounting thresholds are ordered sensibly:
// debit limit below debit warn below zero below credit limit.
func (l *LoadAccountingConfig) Validate() error {
	if l.CreditLimit <= 0 {
		return fmt.Errorf("load.credit_limit must be positive, got %d", l.CreditLimit)
	}
	if l.DebitLimit >= 0 {
		return fmt.Errorf("load.debit_limit must be negative, got %d", l.DebitLimit)
	}
	if l.DebitWarn >= 0 {
		return fmt.Errorf("load.debit_warn must be negative, got %d", l.DebitWarn)
	}
	if l.DebitLimit >= l.DebitWarn {
		return fmt.Errorf("load.debit_limit (%d) must be below load.debit_warn (%d)", l.DebitLimit, l.DebitWarn)
	}
	if l.WarnIntervalSeconds <= 0 {
		return fmt.Errorf("load.warn_interval_seconds must be positive, got %d", l.WarnIntervalSeconds)
	}
	return nil
}

// FeeTrackConfig holds the [fee] section: the Fee Tracker's escalation
// step size.
type FeeTrackConfig struct {
	// EscalationFraction is the 1/N step size used by raiseLocalFee and
	// lowerLocalFee (default 16).
	EscalationFraction int `toml:"fee_escalation_fraction" mapstructure:"fee_escalation_fraction"`
}

// Validate checks that the escalation fraction denominator is usable.
func (f *FeeTrackConfig) Validate() error {
	if f.EscalationFraction <= 0 {
		return fmt.Errorf("fee.fee_escalation_fraction must be positive, got %d", f.EscalationFraction)
	}
	return nil
}
