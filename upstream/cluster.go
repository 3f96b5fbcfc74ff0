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

package upstream

import (
	"context"
	"io"
	"sync"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/hypergig/envoy/resolver"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"
)

// Option configures cluster and manager construction.
type Option interface {
	apply(*options)
}

type options struct {
	logger   log.Logger
	registry prometheus.Registerer
}

// WithLogger supplies the structured logger used for cluster lifecycle
// and membership-churn events. Defaults to a nop logger.
func WithLogger(logger log.Logger) Option {
	return optionFunc(func(o *options) {
		o.logger = logger
	})
}

// WithRegistry supplies the prometheus registry cluster stats register
// against. Defaults to the prometheus default registerer.
func WithRegistry(registry prometheus.Registerer) Option {
	return optionFunc(func(o *options) {
		o.registry = registry
	})
}

type optionFunc func(*options)

func (f optionFunc) apply(o *options) {
	f(o)
}

func buildOptions(opts []Option) options {
	o := options{
		logger:   log.NewNopLogger(),
		registry: prometheus.DefaultRegisterer,
	}
	for _, opt := range opts {
		opt.apply(&o)
	}
	return o
}

type initState int

const (
	clusterUninitialized initState = iota
	clusterInitializing
	clusterInitialized
)

// NewCluster constructs a cluster from its configuration. Configuration
// errors are returned synchronously and no cluster is created.
// Discovery does not start until Initialize.
func NewCluster(cfg ClusterConfig, opts ...Option) (Cluster, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	o := buildOptions(opts)
	info, err := newClusterInfo(cfg, o.registry)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &cluster{
		baseHostSet: newBaseHostSet(cfg.LocalLocality),
		info:        info,
		cfg:         cfg,
		phase:       cfg.InitializePhase,
		logger:      log.With(o.logger, "cluster", cfg.Name),
		ctx:         ctx,
		cancel:      cancel,
		refreshCh:   make(chan struct{}, 1),
	}, nil
}

type cluster struct {
	*baseHostSet
	info   *clusterInfo
	cfg    ClusterConfig
	phase  InitializePhase
	logger log.Logger

	ctx       context.Context
	cancel    context.CancelFunc
	refreshCh chan struct{}

	initMu    sync.Mutex
	initState initState
	initCb    func()

	task         io.Closer
	healthCloser io.Closer
	outlier      OutlierDetector

	closeOnce sync.Once
	closeErr  error
}

var _ Cluster = (*cluster)(nil)

func (c *cluster) Info() ClusterInfo {
	return c.info
}

func (c *cluster) OutlierDetector() OutlierDetector {
	return c.outlier
}

func (c *cluster) InitializePhase() InitializePhase {
	return c.phase
}

func (c *cluster) Initialize() {
	c.initMu.Lock()
	if c.initState != clusterUninitialized {
		c.initMu.Unlock()
		panic("upstream: cluster initialized twice")
	}
	c.initState = clusterInitializing
	c.initMu.Unlock()

	// Monitors attach before discovery so the very first membership
	// delta is already observed by them.
	if c.cfg.OutlierDetectorFactory != nil {
		c.outlier = c.cfg.OutlierDetectorFactory.New(c)
	}
	if c.cfg.HealthCheckerFactory != nil {
		c.healthCloser = c.cfg.HealthCheckerFactory.New(c)
	}
	// A static resolver delivers synchronously from New, which makes a
	// statically configured cluster initialized before this returns.
	c.task = c.cfg.Resolver.New(c.ctx, c.cfg.Target, discoveryReceiver{c}, c.refreshCh)
}

func (c *cluster) SetInitializedCb(cb func()) {
	c.initMu.Lock()
	if c.initState == clusterInitialized {
		c.initMu.Unlock()
		cb()
		return
	}
	if c.initCb != nil {
		level.Warn(c.logger).Log("msg", "replacing pending initialized callback")
	}
	c.initCb = cb
	c.initMu.Unlock()
}

func (c *cluster) RequestRefresh() {
	select {
	case c.refreshCh <- struct{}{}:
	default:
	}
}

// RefreshHealth shadows the embedded host set's method to keep the
// membership_healthy gauge in step with health-flag-only changes.
func (c *cluster) RefreshHealth() {
	c.baseHostSet.RefreshHealth()
	c.info.stats.Gauge(StatMembershipHealthy).Set(float64(len(c.HealthyHosts())))
}

func (c *cluster) Close() error {
	c.closeOnce.Do(func() {
		c.cancel()
		var group errgroup.Group
		if c.task != nil {
			group.Go(c.task.Close)
		}
		if c.healthCloser != nil {
			group.Go(c.healthCloser.Close)
		}
		if c.outlier != nil {
			group.Go(c.outlier.Close)
		}
		c.closeErr = group.Wait()
	})
	return c.closeErr
}

// discoveryReceiver adapts the cluster to the resolver.Receiver
// interface without exposing the receiver methods on Cluster.
type discoveryReceiver struct {
	c *cluster
}

func (r discoveryReceiver) OnResolve(addresses []resolver.Address) {
	r.c.applyMembership(addresses)
}

func (r discoveryReceiver) OnResolveError(err error) {
	r.c.info.stats.Counter(StatUpdateFailure).Inc()
	level.Warn(r.c.logger).Log("msg", "discovery failed", "err", err)
}

// applyMembership treats the delivery as the authoritative host list:
// it diffs against current membership, rebuilds the host set views, and
// fans the delta out to subscribers. Hosts that survive the update keep
// their identity (and therefore their health flags and in-flight
// connections); discovery-supplied weights are applied to them in
// place.
func (c *cluster) applyMembership(addresses []resolver.Address) {
	stats := c.info.stats
	stats.Counter(StatUpdateAttempt).Inc()

	currentByAddr := make(map[string]Host)
	for _, h := range c.Hosts() {
		currentByAddr[h.Address()] = h
	}

	hosts := make([]Host, 0, len(addresses))
	seen := make(map[string]struct{}, len(addresses))
	var maxWeight uint32
	for _, address := range addresses {
		if _, ok := seen[address.HostPort]; ok {
			// Discovery sent a duplicate; keep the first occurrence.
			continue
		}
		seen[address.HostPort] = struct{}{}
		h, ok := currentByAddr[address.HostPort]
		if ok {
			if address.Weight != 0 {
				h.SetWeight(address.Weight)
			}
		} else {
			h = NewHost(c.info, address)
		}
		if h.Weight() > maxWeight {
			maxWeight = h.Weight()
		}
		hosts = append(hosts, h)
	}

	added, removed := c.UpdateHosts(hosts)

	if len(hosts) == 0 {
		// Valid state, distinct from "no healthy hosts"; dashboards
		// watch for it separately.
		stats.Counter(StatUpdateEmpty).Inc()
	}
	if len(added) > 0 || len(removed) > 0 {
		stats.Counter(StatMembershipChange).Inc()
		level.Info(c.logger).Log(
			"msg", "membership changed",
			"added", len(added),
			"removed", len(removed),
			"total", len(hosts),
		)
	}
	stats.Counter(StatUpdateSuccess).Inc()
	stats.Gauge(StatMembershipTotal).Set(float64(len(hosts)))
	stats.Gauge(StatMembershipHealthy).Set(float64(len(c.HealthyHosts())))
	stats.Gauge(StatMaxHostWeight).Set(float64(maxWeight))

	c.markInitialized()
}

func (c *cluster) markInitialized() {
	c.initMu.Lock()
	if c.initState == clusterInitialized {
		c.initMu.Unlock()
		return
	}
	c.initState = clusterInitialized
	cb := c.initCb
	c.initCb = nil
	c.initMu.Unlock()

	level.Info(c.logger).Log("msg", "cluster initialized")
	if cb != nil {
		cb()
	}
}
