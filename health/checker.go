// Copyright 2026 Hypergig, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package health

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/hypergig/envoy/internal"
	"github.com/hypergig/envoy/upstream"
)

// Prober performs a single-shot health probe of one host. Probers must
// be safe for concurrent use, as every member of a cluster is probed
// from its own goroutine.
type Prober interface {
	Probe(ctx context.Context, host upstream.HostDescription) State
}

// ProberFunc adapts a function to the Prober interface.
type ProberFunc func(ctx context.Context, host upstream.HostDescription) State

func (f ProberFunc) Probe(ctx context.Context, host upstream.HostDescription) State {
	return f(ctx, host)
}

// CheckerOption configures the checker processes a factory creates.
type CheckerOption interface {
	apply(*checkerOptions)
}

type checkerOptions struct {
	clock    internal.Clock
	logger   log.Logger
	timeout  time.Duration
	interval time.Duration
}

// WithCheckInterval sets the delay between consecutive probes of one
// host. Defaults to 15 seconds.
func WithCheckInterval(interval time.Duration) CheckerOption {
	return checkerOptionFunc(func(o *checkerOptions) {
		o.interval = interval
	})
}

// WithCheckTimeout bounds the duration of a single probe. Defaults to
// 5 seconds.
func WithCheckTimeout(timeout time.Duration) CheckerOption {
	return checkerOptionFunc(func(o *checkerOptions) {
		o.timeout = timeout
	})
}

// WithLogger supplies the logger probe failures are reported to.
// Defaults to a nop logger.
func WithLogger(logger log.Logger) CheckerOption {
	return checkerOptionFunc(func(o *checkerOptions) {
		o.logger = logger
	})
}

// WithClock substitutes the clock used to pace probes. Only useful in
// tests.
func WithClock(clock internal.Clock) CheckerOption {
	return checkerOptionFunc(func(o *checkerOptions) {
		o.clock = clock
	})
}

type checkerOptionFunc func(*checkerOptions)

func (f checkerOptionFunc) apply(o *checkerOptions) {
	f(o)
}

// NewCheckerFactory returns a factory whose checker processes poll
// every cluster member with prober. A probe outcome of StateUnhealthy
// sets the host's FailedActiveHC flag; any better outcome clears it.
// Flag transitions refresh the cluster's healthy views.
func NewCheckerFactory(prober Prober, opts ...CheckerOption) upstream.HealthCheckerFactory {
	o := checkerOptions{
		clock:    internal.NewRealClock(),
		logger:   log.NewNopLogger(),
		timeout:  5 * time.Second,
		interval: 15 * time.Second,
	}
	for _, opt := range opts {
		opt.apply(&o)
	}
	return &checkerFactory{prober: prober, options: o}
}

type checkerFactory struct {
	prober  Prober
	options checkerOptions
}

func (f *checkerFactory) New(cluster upstream.Cluster) io.Closer {
	ctx, cancel := context.WithCancel(context.Background())
	c := &checker{
		cluster: cluster,
		prober:  f.prober,
		options: f.options,
		logger:  log.With(f.options.logger, "component", "healthcheck", "cluster", cluster.Info().Name()),
		ctx:     ctx,
		cancel:  cancel,
		tasks:   make(map[string]*checkTask),
	}
	c.handle = cluster.AddMemberUpdateCb(c.onMembers)
	// Members that arrived before the checker attached get their
	// processes here; everything after comes through the callback.
	c.onMembers(cluster.Hosts(), nil)
	return c
}

// checker is the per-cluster health checking process. It owns one
// checkTask per current member.
type checker struct {
	cluster upstream.Cluster
	prober  Prober
	options checkerOptions
	logger  log.Logger

	ctx    context.Context
	cancel context.CancelFunc
	handle upstream.CallbackHandle

	mu     sync.Mutex
	closed bool
	tasks  map[string]*checkTask
	wg     sync.WaitGroup
}

func (c *checker) onMembers(added, removed []upstream.Host) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	for _, host := range removed {
		if task, ok := c.tasks[host.Address()]; ok {
			delete(c.tasks, host.Address())
			task.stop()
		}
	}
	for _, host := range added {
		if _, ok := c.tasks[host.Address()]; ok {
			continue
		}
		task := newCheckTask(c, host)
		c.tasks[host.Address()] = task
		c.wg.Add(1)
		go task.run()
	}
}

func (c *checker) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	tasks := c.tasks
	c.tasks = nil
	c.mu.Unlock()

	c.handle.Remove()
	c.cancel()
	for _, task := range tasks {
		task.stop()
	}
	c.wg.Wait()
	return nil
}

// checkTask probes a single host on a fixed cadence until stopped.
type checkTask struct {
	checker *checker
	host    upstream.Host

	// wake forces an immediate re-probe, used by SetUnhealthy so a
	// passively observed failure is confirmed or cleared without waiting
	// out the interval.
	wake     chan struct{}
	stopOnce sync.Once
	stopCh   chan struct{}
}

func newCheckTask(c *checker, host upstream.Host) *checkTask {
	task := &checkTask{
		checker: c,
		host:    host,
		wake:    make(chan struct{}, 1),
		stopCh:  make(chan struct{}),
	}
	host.SetHealthChecker(hostMonitor{task})
	return task
}

func (t *checkTask) run() {
	defer t.checker.wg.Done()
	clock := t.checker.options.clock
	for {
		t.probe()
		timer := clock.NewTimer(t.checker.options.interval)
		select {
		case <-timer.Chan():
		case <-t.wake:
			timer.Stop()
		case <-t.stopCh:
			timer.Stop()
			return
		}
	}
}

func (t *checkTask) probe() {
	ctx, cancel := context.WithTimeout(t.checker.ctx, t.checker.options.timeout)
	defer cancel()
	state := t.checker.prober.Probe(ctx, t.host)
	select {
	case <-t.stopCh:
		// The host was removed while the probe was in flight; its flags
		// no longer matter and the stats must not be touched.
		return
	default:
	}
	stats := t.checker.cluster.Info().Stats()
	if state >= StateUnhealthy {
		stats.Counter(upstream.StatHealthCheckFailure).Inc()
		if !t.host.HealthFlagGet(upstream.FailedActiveHC) {
			t.host.HealthFlagSet(upstream.FailedActiveHC)
			t.checker.cluster.RefreshHealth()
			level.Warn(t.checker.logger).Log("msg", "host failed health check", "host", t.host.Address(), "state", state)
		}
		return
	}
	stats.Counter(upstream.StatHealthCheckSuccess).Inc()
	if t.host.HealthFlagGet(upstream.FailedActiveHC) {
		t.host.HealthFlagClear(upstream.FailedActiveHC)
		t.checker.cluster.RefreshHealth()
		level.Info(t.checker.logger).Log("msg", "host passed health check", "host", t.host.Address())
	}
}

func (t *checkTask) stop() {
	t.stopOnce.Do(func() {
		close(t.stopCh)
	})
}

// hostMonitor is the handle installed on each host so the request path
// can feed passive observations back into the checker.
type hostMonitor struct {
	task *checkTask
}

var _ upstream.HealthCheckHostMonitor = hostMonitor{}

// SetUnhealthy marks the host failed immediately and schedules a probe
// to confirm or clear the verdict.
func (m hostMonitor) SetUnhealthy() {
	if !m.task.host.HealthFlagGet(upstream.FailedActiveHC) {
		m.task.host.HealthFlagSet(upstream.FailedActiveHC)
		m.task.checker.cluster.RefreshHealth()
	}
	select {
	case m.task.wake <- struct{}{}:
	default:
	}
}
