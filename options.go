// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package taskloop

import (
	"fmt"

	"github.com/joeycumines/logiface"
)

// defaultPollBatch is the default readiness event batch size.
const defaultPollBatch = 128

// executorOptions holds configuration options for executor creation.
type executorOptions struct {
	logger       *logiface.Logger[logiface.Event]
	pollBatch    int
	lockOSThread bool
}

// Option configures an [Executor].
type Option interface {
	applyExecutor(*executorOptions) error
}

// optionImpl implements Option.
type optionImpl struct {
	applyExecutorFunc func(*executorOptions) error
}

func (x *optionImpl) applyExecutor(opts *executorOptions) error {
	return x.applyExecutorFunc(opts)
}

// WithLogger configures structured logging for the executor. The default is
// nil, which disables logging entirely. Pass any logiface logger, erased via
// its Logger method, e.g.
//
//	taskloop.WithLogger(stumpyLogger.Logger())
func WithLogger(logger *logiface.Logger[logiface.Event]) Option {
	return &optionImpl{func(opts *executorOptions) error {
		opts.logger = logger
		return nil
	}}
}

// WithPollBatch sets the maximum number of readiness events collected per
// blocking wait. Defaults to 128.
func WithPollBatch(n int) Option {
	return &optionImpl{func(opts *executorOptions) error {
		if n < 1 {
			return fmt.Errorf("taskloop: poll batch must be at least 1, got %d", n)
		}
		opts.pollBatch = n
		return nil
	}}
}

// WithLockOSThread sets whether the run loop locks its goroutine to an OS
// thread for the duration of [Executor.Run]. Defaults to true.
func WithLockOSThread(enabled bool) Option {
	return &optionImpl{func(opts *executorOptions) error {
		opts.lockOSThread = enabled
		return nil
	}}
}

// resolveExecutorOptions applies Option instances to executorOptions.
func resolveExecutorOptions(opts []Option) (*executorOptions, error) {
	cfg := &executorOptions{
		pollBatch:    defaultPollBatch,
		lockOSThread: true,
	}
	for _, opt := range opts {
		if opt == nil {
			continue // Skip nil options gracefully
		}
		if err := opt.applyExecutor(cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}
