// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package cogbridge

import (
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
	"time"
)

// loopState represents the lifecycle state of a Loop.
type loopState int

const (
	loopStateIdle    loopState = iota // Created, not started
	loopStateRunning                  // Accepting and running jobs
	loopStateStopped                  // Stopped, jobs are refused
)

// String returns the string representation of a loopState.
func (s loopState) String() string {
	switch s {
	case loopStateIdle:
		return "idle"
	case loopStateRunning:
		return "running"
	case loopStateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Loop runs jobs one at a time, in posting order, on a single goroutine locked to
// its OS thread. Script engines that are bound to one thread and have no event
// loop of their own (V8 isolates, QuickJS runtimes) are driven from a Loop.
//
// The queue is unbounded so a job may post further jobs without blocking.
type Loop struct {
	name   string
	logger *slog.Logger

	mu    sync.Mutex
	state loopState
	queue []func()

	wake chan struct{}
	done chan struct{}

	lastUsedNano int64  // Timestamp of the last job (atomic, nanoseconds)
	jobCount     uint32 // Number of jobs run (atomic)
}

// NewLoop creates a loop. A nil logger disables panic logging.
func NewLoop(name string, logger *slog.Logger) *Loop {
	return &Loop{
		name:         name,
		logger:       logger,
		wake:         make(chan struct{}, 1),
		done:         make(chan struct{}),
		lastUsedNano: time.Now().UnixNano(),
	}
}

// Name returns the loop name.
func (l *Loop) Name() string {
	return l.name
}

// JobCount returns the number of jobs run so far.
func (l *Loop) JobCount() uint32 {
	return atomic.LoadUint32(&l.jobCount)
}

// LastUsed returns the time the last job finished.
func (l *Loop) LastUsed() time.Time {
	return time.Unix(0, atomic.LoadInt64(&l.lastUsedNano))
}

// Start launches the loop goroutine and runs init on it before any job. If init
// fails the loop stops and the error is returned. teardown, when not nil, runs on
// the loop goroutine after the last job.
func (l *Loop) Start(init func() error, teardown func()) error {
	l.mu.Lock()
	if l.state != loopStateIdle {
		state := l.state
		l.mu.Unlock()
		return fmt.Errorf("loop %s is %s", l.name, state)
	}
	l.state = loopStateRunning
	l.mu.Unlock()

	initCh := make(chan error, 1)
	go l.run(init, teardown, initCh)
	if err := <-initCh; err != nil {
		l.mu.Lock()
		l.state = loopStateStopped
		l.mu.Unlock()
		<-l.done
		return err
	}
	return nil
}

// Post queues a job. It reports false when the loop is not running.
func (l *Loop) Post(job func()) bool {
	l.mu.Lock()
	if l.state != loopStateRunning {
		l.mu.Unlock()
		return false
	}
	l.queue = append(l.queue, job)
	l.mu.Unlock()
	l.signal()
	return true
}

// Stop refuses new jobs, runs the jobs already queued, then runs teardown and
// waits for the loop goroutine to exit. It must not be called from a job.
func (l *Loop) Stop() {
	l.mu.Lock()
	switch l.state {
	case loopStateIdle:
		l.state = loopStateStopped
		l.mu.Unlock()
		return
	case loopStateStopped:
		l.mu.Unlock()
		<-l.done
		return
	}
	l.state = loopStateStopped
	l.mu.Unlock()
	l.signal()
	<-l.done
}

func (l *Loop) signal() {
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// run is the loop goroutine.
func (l *Loop) run(init func() error, teardown func(), initCh chan<- error) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	defer close(l.done)

	if init != nil {
		if err := l.safeInit(init); err != nil {
			if l.logger != nil {
				l.logger.Error("Failed to initialize loop",
					"loop", l.name,
					"error", err)
			}
			initCh <- err
			return
		}
	}
	initCh <- nil

	if teardown != nil {
		defer l.runJob(teardown)
	}

	for {
		l.mu.Lock()
		jobs := l.queue
		l.queue = nil
		stopped := l.state == loopStateStopped
		l.mu.Unlock()

		for _, job := range jobs {
			l.runJob(job)
		}
		if len(jobs) > 0 {
			continue
		}
		if stopped {
			return
		}
		<-l.wake
	}
}

func (l *Loop) safeInit(init func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in loop %s init: %v", l.name, r)
		}
	}()
	return init()
}

// runJob runs a single job, recovering panics.
func (l *Loop) runJob(job func()) {
	defer func() {
		if r := recover(); r != nil && l.logger != nil {
			l.logger.Error("Loop job panic",
				"loop", l.name,
				"job", l.JobCount(),
				"error", r)
		}
		atomic.StoreInt64(&l.lastUsedNano, time.Now().UnixNano())
		atomic.AddUint32(&l.jobCount, 1)
	}()
	job()
}
