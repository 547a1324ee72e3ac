package repository

import (
	"time"

	"github.com/okian/glucoscore/pkg/logger"
)

// Clock returns the creation timestamp for new observations.
type Clock func() time.Time

type options struct {
	clock  Clock
	logger logger.Logger
}

// Option applies a configuration option to a store backend.
type Option func(*options)

// WithClock overrides the timestamp source, mainly for tests.
func WithClock(clock Clock) Option {
	return func(o *options) {
		if clock != nil {
			o.clock = clock
		}
	}
}

// WithLogger sets the logger used by backends that log (migrations).
func WithLogger(l logger.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{
		clock: func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
