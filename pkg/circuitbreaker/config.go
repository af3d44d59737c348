package circuitbreaker

import "time"

// Config holds circuit breaker configuration
type Config struct {
	FailureThreshold uint32        // consecutive failures that open the breaker
	ResetTimeout     time.Duration // how long the breaker stays open
	Timeout          time.Duration // advisory per-call timeout for callers
}

// DefaultConfig opens after 5 consecutive failures and probes after a minute.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		ResetTimeout:     60 * time.Second,
		Timeout:          10 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.FailureThreshold == 0 {
		c.FailureThreshold = d.FailureThreshold
	}
	if c.ResetTimeout <= 0 {
		c.ResetTimeout = d.ResetTimeout
	}
	if c.Timeout <= 0 {
		c.Timeout = d.Timeout
	}
	return c
}
