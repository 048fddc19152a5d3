// Copyright 2021-2022, Offchain Labs, Inc.
// For license information, see https://github.com/nitro/blob/master/LICENSE

// Package stopwaiter manages the lifetime of background loops: a component
// embeds a StopWaiter, launches its threads through it and stops them all
// with StopAndWait.
package stopwaiter

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/log"
)

const slowStopWarningInterval = 30 * time.Second

var (
	ErrNotStarted   = errors.New("not started")
	ErrStartedTwice = errors.New("start after start")
)

type lifecycle uint8

const (
	idle lifecycle = iota
	running
	stopping
)

// StopWaiterSafe reports misuse as errors.
type StopWaiterSafe struct {
	mutex    sync.Mutex
	state    lifecycle
	stopSeen bool
	ctx      context.Context
	cancel   context.CancelFunc
	name     string
	done     chan struct{}
	threads  sync.WaitGroup
}

func componentName(parent any) string {
	if parent == nil {
		return "unknown"
	}
	return strings.TrimPrefix(reflect.TypeOf(parent).String(), "*")
}

// Start may be called once. Starting after StopAndWait succeeds, but the
// context is already cancelled so launched threads return immediately.
func (s *StopWaiterSafe) Start(ctx context.Context, parent any) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.ctx != nil {
		return ErrStartedTwice
	}
	s.name = componentName(parent)
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.state = running
	if s.stopSeen {
		s.cancel()
		s.state = stopping
	}
	return nil
}

func (s *StopWaiterSafe) Started() bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.ctx != nil
}

func (s *StopWaiterSafe) Stopped() bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.stopSeen
}

func (s *StopWaiterSafe) GetContext() (context.Context, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.ctx == nil {
		return nil, ErrNotStarted
	}
	return s.ctx, nil
}

// StopOnly cancels the threads without waiting for them.
func (s *StopWaiterSafe) StopOnly() {
	s.requestStop()
}

// requestStop returns the channel closed once every thread returned, or nil
// if there is nothing to wait for.
func (s *StopWaiterSafe) requestStop() chan struct{} {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.stopSeen = true
	if s.state != running {
		return s.done
	}
	s.state = stopping
	s.cancel()
	s.done = make(chan struct{})
	go func(done chan struct{}) {
		s.threads.Wait()
		close(done)
	}(s.done)
	return s.done
}

// StopAndWait may be called any number of times, even before Start.
func (s *StopWaiterSafe) StopAndWait() error {
	done := s.requestStop()
	if done == nil {
		return nil
	}
	waited := time.Duration(0)
	ticker := time.NewTicker(slowStopWarningInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return nil
		case <-ticker.C:
			waited += slowStopWarningInterval
			log.Warn("component is slow to stop", "name", s.name, "waited", waited)
		}
	}
}

// LaunchThread runs foo in a goroutine tracked by StopAndWait. Once a stop
// was requested, foo is silently dropped.
func (s *StopWaiterSafe) LaunchThread(foo func(context.Context)) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.ctx == nil {
		return ErrNotStarted
	}
	if s.stopSeen {
		return nil
	}
	s.threads.Add(1)
	go func(ctx context.Context) {
		defer s.threads.Done()
		foo(ctx)
	}(s.ctx)
	return nil
}

// CallIteratively calls foo until stopped, sleeping for the returned interval
// between calls.
func (s *StopWaiterSafe) CallIteratively(foo func(context.Context) time.Duration) error {
	return CallIterativelyWith[struct{}](s, func(ctx context.Context, _ struct{}) time.Duration {
		return foo(ctx)
	}, nil)
}

// CallIterativelyWith is CallIteratively with a wake up channel: a value
// received on trigger ends the current sleep early and is handed to the next
// call. Calls that were not triggered receive the zero value. A nil trigger
// never fires.
func CallIterativelyWith[T any](
	s *StopWaiterSafe,
	foo func(context.Context, T) time.Duration,
	trigger <-chan T,
) error {
	return s.LaunchThread(func(ctx context.Context) {
		var next T
		for ctx.Err() == nil {
			interval := foo(ctx, next)
			var zero T
			next = zero
			if ctx.Err() != nil {
				return
			}
			if interval <= 0 {
				continue
			}
			timer := time.NewTimer(interval)
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
			case next = <-trigger:
				timer.Stop()
			}
		}
	})
}

// StopWaiter panics where StopWaiterSafe would return an error.
type StopWaiter struct {
	StopWaiterSafe
}

func (s *StopWaiter) Start(ctx context.Context, parent any) {
	if err := s.StopWaiterSafe.Start(ctx, parent); err != nil {
		panic(err)
	}
}

func (s *StopWaiter) StopAndWait() {
	if err := s.StopWaiterSafe.StopAndWait(); err != nil {
		panic(err)
	}
}

func (s *StopWaiter) LaunchThread(foo func(context.Context)) {
	if err := s.StopWaiterSafe.LaunchThread(foo); err != nil {
		panic(err)
	}
}

func (s *StopWaiter) CallIteratively(foo func(context.Context) time.Duration) {
	if err := s.StopWaiterSafe.CallIteratively(foo); err != nil {
		panic(err)
	}
}

func (s *StopWaiter) GetContext() context.Context {
	ctx, err := s.StopWaiterSafe.GetContext()
	if err != nil {
		panic(err)
	}
	return ctx
}
