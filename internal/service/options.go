package service

import (
	"io"
	"log/slog"
	"time"
)

type options struct {
	now    func() time.Time
	rand   io.Reader
	logger *slog.Logger
}

// Option customises a service at construction.
type Option func(*options)

// WithClock replaces time.Now. Tests use it to pin window edges and expiry.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithRandom replaces crypto/rand as the secret source.
func WithRandom(r io.Reader) Option {
	return func(o *options) { o.rand = r }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

func buildOptions(opts []Option) options {
	o := options{now: time.Now, logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	return o
}
