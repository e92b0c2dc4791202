package reconnect

import (
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// Policy names.
const (
	PolicyConstant    = "constant"
	PolicyExponential = "exponential"
)

// ErrUnknownPolicy is returned for a policy name other than constant or exponential.
var ErrUnknownPolicy = errors.New("unknown reconnect policy")

// Config configures the delay between reconnect attempts.
type Config struct {
	Policy     string        // constant or exponential
	Delay      time.Duration // Constant delay, or initial delay for exponential
	MaxDelay   time.Duration // Exponential ceiling
	Multiplier float64       // Exponential growth factor
	Jitter     float64       // Exponential randomization factor, 0 disables
}

// DefaultConfig returns a fixed 10 second delay with unlimited retries.
func DefaultConfig() Config {
	return Config{
		Policy:     PolicyConstant,
		Delay:      10 * time.Second,
		MaxDelay:   2 * time.Minute,
		Multiplier: 2,
		Jitter:     0.2,
	}
}

// NewPolicy returns a factory producing one fresh backoff.BackOff per
// scheduled session.
func NewPolicy(cfg Config) (func() backoff.BackOff, error) {
	switch cfg.Policy {
	case "", PolicyConstant:
		delay := cfg.Delay
		return func() backoff.BackOff {
			return backoff.NewConstantBackOff(delay)
		}, nil
	case PolicyExponential:
		return func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = cfg.Delay
			b.MaxInterval = cfg.MaxDelay
			b.Multiplier = cfg.Multiplier
			b.RandomizationFactor = cfg.Jitter
			b.Reset()
			return b
		}, nil
	default:
		return nil, ErrUnknownPolicy
	}
}
