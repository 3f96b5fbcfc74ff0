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

package outlier

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/hypergig/envoy/internal"
	"github.com/hypergig/envoy/upstream"
)

// DetectorOption configures the detectors a factory creates.
type DetectorOption interface {
	apply(*detectorOptions)
}

type detectorOptions struct {
	clock               internal.Clock
	logger              log.Logger
	consecutiveFailures uint32
	baseEjectionTime    time.Duration
	sweepInterval       time.Duration
	maxEjectionPercent  uint32
}

// WithConsecutiveFailures sets how many failures in a row eject a host.
// Defaults to 5.
func WithConsecutiveFailures(n uint32) DetectorOption {
	return detectorOptionFunc(func(o *detectorOptions) {
		o.consecutiveFailures = n
	})
}

// WithBaseEjectionTime sets the ejection duration for a first ejection.
// Subsequent ejections of the same host last proportionally longer.
// Defaults to 30 seconds.
func WithBaseEjectionTime(d time.Duration) DetectorOption {
	return detectorOptionFunc(func(o *detectorOptions) {
		o.baseEjectionTime = d
	})
}

// WithMaxEjectionPercent caps the fraction of cluster members that may
// be ejected at once, as a percentage. Defaults to 10.
func WithMaxEjectionPercent(pct uint32) DetectorOption {
	return detectorOptionFunc(func(o *detectorOptions) {
		o.maxEjectionPercent = pct
	})
}

// WithSweepInterval sets how often expired ejections are swept and
// lifted. Defaults to 10 seconds.
func WithSweepInterval(d time.Duration) DetectorOption {
	return detectorOptionFunc(func(o *detectorOptions) {
		o.sweepInterval = d
	})
}

// WithLogger supplies the logger ejection events are reported to.
// Defaults to a nop logger.
func WithLogger(logger log.Logger) DetectorOption {
	return detectorOptionFunc(func(o *detectorOptions) {
		o.logger = logger
	})
}

// WithClock substitutes the clock used for ejection timing. Only useful
// in tests.
func WithClock(clock internal.Clock) DetectorOption {
	return detectorOptionFunc(func(o *detectorOptions) {
		o.clock = clock
	})
}

type detectorOptionFunc func(*detectorOptions)

func (f detectorOptionFunc) apply(o *detectorOptions) {
	f(o)
}

// NewDetectorFactory returns a factory creating consecutive-failure
// outlier detectors with the given options.
func NewDetectorFactory(opts ...DetectorOption) upstream.OutlierDetectorFactory {
	o := detectorOptions{
		clock:               internal.NewRealClock(),
		logger:              log.NewNopLogger(),
		consecutiveFailures: 5,
		baseEjectionTime:    30 * time.Second,
		sweepInterval:       10 * time.Second,
		maxEjectionPercent:  10,
	}
	for _, opt := range opts {
		opt.apply(&o)
	}
	return &detectorFactory{options: o}
}

type detectorFactory struct {
	options detectorOptions
}

func (f *detectorFactory) New(cluster upstream.Cluster) upstream.OutlierDetector {
	d := &detector{
		cluster: cluster,
		options: f.options,
		logger:  log.With(f.options.logger, "component", "outlier", "cluster", cluster.Info().Name()),
		hosts:   make(map[string]*hostState),
		stopCh:  make(chan struct{}),
	}
	d.handle = cluster.AddMemberUpdateCb(d.onMembers)
	d.onMembers(cluster.Hosts(), nil)
	d.wg.Add(1)
	go d.sweepLoop()
	return d
}

type detector struct {
	cluster upstream.Cluster
	options detectorOptions
	logger  log.Logger
	handle  upstream.CallbackHandle

	// mu guards membership of hosts plus every hostState's ejection
	// fields, so the percent cap is computed against a stable view.
	mu     sync.Mutex
	closed bool
	hosts  map[string]*hostState

	cbMu sync.Mutex
	cbs  []func(upstream.Host)

	stopCh chan struct{}
	wg     sync.WaitGroup
}

var _ upstream.OutlierDetector = (*detector)(nil)

// hostState is the per-host monitor installed on cluster members.
type hostState struct {
	detector *detector
	host     upstream.Host

	consecutiveFailures atomic.Uint32
	numEjections        atomic.Uint32

	// Guarded by detector.mu.
	ejected   bool
	ejectedAt time.Time
}

var _ upstream.OutlierDetectorHostMonitor = (*hostState)(nil)

func (s *hostState) PutResult(success bool) {
	if success {
		s.consecutiveFailures.Store(0)
		return
	}
	if s.consecutiveFailures.Add(1) == s.detector.options.consecutiveFailures {
		s.detector.maybeEject(s)
	}
}

func (s *hostState) NumEjections() uint32 {
	return s.numEjections.Load()
}

func (d *detector) onMembers(added, removed []upstream.Host) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	for _, host := range removed {
		if s, ok := d.hosts[host.Address()]; ok {
			delete(d.hosts, host.Address())
			if s.ejected {
				// The host left membership while ejected; the active
				// gauge must not leak its ejection.
				d.cluster.Info().Stats().Gauge(upstream.StatOutlierEjectionsActive).Dec()
			}
		}
	}
	for _, host := range added {
		if _, ok := d.hosts[host.Address()]; ok {
			continue
		}
		s := &hostState{detector: d, host: host}
		host.SetOutlierDetector(s)
		d.hosts[host.Address()] = s
	}
}

// maybeEject ejects the host unless the ejected fraction of the cluster
// is already at the cap.
func (d *detector) maybeEject(s *hostState) {
	d.mu.Lock()
	if d.closed || s.ejected {
		d.mu.Unlock()
		return
	}
	total := len(d.hosts)
	ejected := 0
	for _, other := range d.hosts {
		if other.ejected {
			ejected++
		}
	}
	if total == 0 || uint32(ejected*100/total) >= d.options.maxEjectionPercent {
		// Reset the failure run so a fresh run can trigger ejection
		// again once capacity under the cap frees up.
		s.consecutiveFailures.Store(0)
		d.mu.Unlock()
		level.Warn(d.logger).Log("msg", "ejection suppressed by percent cap", "host", s.host.Address(), "ejected", ejected, "total", total)
		return
	}
	s.ejected = true
	s.ejectedAt = d.options.clock.Now()
	s.numEjections.Add(1)
	s.consecutiveFailures.Store(0)
	d.mu.Unlock()

	s.host.HealthFlagSet(upstream.FailedOutlierCheck)
	d.cluster.RefreshHealth()
	stats := d.cluster.Info().Stats()
	stats.Counter(upstream.StatOutlierEjectionsTotal).Inc()
	stats.Gauge(upstream.StatOutlierEjectionsActive).Inc()
	level.Warn(d.logger).Log("msg", "host ejected", "host", s.host.Address(), "ejections", s.numEjections.Load())
	d.notifyChanged(s.host)
}

func (d *detector) sweepLoop() {
	defer d.wg.Done()
	ticker := d.options.clock.NewTicker(d.options.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.Chan():
			d.sweep()
		case <-d.stopCh:
			return
		}
	}
}

// sweep lifts every ejection whose time has elapsed. The ejection time
// scales with the host's ejection count, so repeat offenders stay out
// longer.
func (d *detector) sweep() {
	now := d.options.clock.Now()
	var lifted []*hostState
	d.mu.Lock()
	for _, s := range d.hosts {
		if !s.ejected {
			continue
		}
		duration := d.options.baseEjectionTime * time.Duration(s.numEjections.Load())
		if now.Sub(s.ejectedAt) >= duration {
			s.ejected = false
			lifted = append(lifted, s)
		}
	}
	d.mu.Unlock()

	for _, s := range lifted {
		s.host.HealthFlagClear(upstream.FailedOutlierCheck)
		d.cluster.Info().Stats().Gauge(upstream.StatOutlierEjectionsActive).Dec()
		level.Info(d.logger).Log("msg", "host ejection lifted", "host", s.host.Address())
	}
	if len(lifted) > 0 {
		d.cluster.RefreshHealth()
		for _, s := range lifted {
			d.notifyChanged(s.host)
		}
	}
}

func (d *detector) AddChangedStateCb(cb func(host upstream.Host)) {
	d.cbMu.Lock()
	defer d.cbMu.Unlock()
	d.cbs = append(d.cbs, cb)
}

func (d *detector) notifyChanged(host upstream.Host) {
	d.cbMu.Lock()
	cbs := make([]func(upstream.Host), len(d.cbs))
	copy(cbs, d.cbs)
	d.cbMu.Unlock()
	for _, cb := range cbs {
		cb(host)
	}
}

func (d *detector) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	d.mu.Unlock()

	d.handle.Remove()
	close(d.stopCh)
	d.wg.Wait()
	return nil
}
