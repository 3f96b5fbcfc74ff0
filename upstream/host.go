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
	"sync"
	"sync/atomic"
	"time"

	"github.com/hypergig/envoy/network"
	"github.com/hypergig/envoy/resolver"
)

// NewHost creates a concrete host for the given resolved address. The
// weight reported by discovery is clamped to [1,100]; a zero (absent)
// weight becomes 1.
func NewHost(cluster ClusterInfo, address resolver.Address) Host {
	h := &host{
		cluster:  cluster,
		address:  address.HostPort,
		hostname: address.Hostname,
		locality: address.Locality,
	}
	h.SetWeight(address.Weight)
	return h
}

// host is the standard Host implementation. Identity fields are
// write-once at construction; only the health flags, weight, and used
// marker mutate afterwards, each through a single atomic word.
type host struct {
	cluster  ClusterInfo
	address  string
	hostname string
	locality resolver.Locality

	healthFlags atomic.Uint32
	weight      atomic.Uint32
	used        atomic.Bool

	healthChecker   HealthCheckHostMonitor
	outlierDetector OutlierDetectorHostMonitor
}

func (h *host) Address() string             { return h.address }
func (h *host) Hostname() string            { return h.hostname }
func (h *host) Locality() resolver.Locality { return h.locality }
func (h *host) Cluster() ClusterInfo        { return h.cluster }

func (h *host) CreateConnection(disp network.Dispatcher) CreateConnectionData {
	return createConnection(disp, h, h.address)
}

func (h *host) HealthFlagGet(flag HealthFlag) bool {
	return h.healthFlags.Load()&uint32(flag) != 0
}

func (h *host) HealthFlagSet(flag HealthFlag) {
	for {
		old := h.healthFlags.Load()
		if h.healthFlags.CompareAndSwap(old, old|uint32(flag)) {
			return
		}
	}
}

func (h *host) HealthFlagClear(flag HealthFlag) {
	for {
		old := h.healthFlags.Load()
		if h.healthFlags.CompareAndSwap(old, old&^uint32(flag)) {
			return
		}
	}
}

func (h *host) Healthy() bool {
	return h.healthFlags.Load() == 0
}

func (h *host) SetHealthChecker(monitor HealthCheckHostMonitor) {
	if h.healthChecker != nil {
		panic("upstream: health checker monitor installed twice")
	}
	h.healthChecker = monitor
}

func (h *host) HealthChecker() HealthCheckHostMonitor {
	return h.healthChecker
}

func (h *host) SetOutlierDetector(monitor OutlierDetectorHostMonitor) {
	if h.outlierDetector != nil {
		panic("upstream: outlier detector monitor installed twice")
	}
	h.outlierDetector = monitor
}

func (h *host) OutlierDetectorMonitor() OutlierDetectorHostMonitor {
	return h.outlierDetector
}

func (h *host) Weight() uint32 {
	return h.weight.Load()
}

// SetWeight stores the new weight, clamping values outside [1,100] to
// the nearest bound.
func (h *host) SetWeight(weight uint32) {
	if weight < 1 {
		weight = 1
	} else if weight > 100 {
		weight = 100
	}
	h.weight.Store(weight)
}

func (h *host) Used() bool {
	return h.used.Load()
}

func (h *host) SetUsed(used bool) {
	h.used.Store(used)
}

// createConnection dials hostPort on behalf of owner, wiring connection
// events into the owning cluster's stats.
func createConnection(disp network.Dispatcher, owner Host, hostPort string) CreateConnectionData {
	info := owner.Cluster()
	stats := info.Stats()
	stats.Counter(StatUpstreamCxTotal).Inc()
	stats.Gauge(StatUpstreamCxActive).Inc()

	conn := network.NewClientConnection(disp, hostPort, network.ConnectOptions{
		Timeout:       info.ConnectTimeout(),
		TLS:           info.TLSContext(),
		SourceAddress: info.SourceAddress(),
	})
	start := time.Now()
	conn.AddEventCallback(func(event network.ConnectionEvent) {
		switch event {
		case network.EventConnected:
			stats.Timer(StatUpstreamCxConnectMs).Observe(float64(time.Since(start).Milliseconds()))
		case network.EventConnectFailed:
			stats.Counter(StatUpstreamCxConnectFail).Inc()
			stats.Gauge(StatUpstreamCxActive).Dec()
		case network.EventLocalClose:
			stats.Counter(StatUpstreamCxDestroy).Inc()
			stats.Counter(StatUpstreamCxDestroyLocal).Inc()
			stats.Gauge(StatUpstreamCxActive).Dec()
		}
	})
	conn.Connect()
	return CreateConnectionData{Connection: conn, Host: owner}
}

// NewLogicalHost creates a host that aliases a single concrete
// destination which may change over time, e.g. a DNS name whose one
// logical host follows whatever address the name currently resolves
// to. Connections are created against the current real address, and
// CreateConnection returns the concrete host backing the connection
// rather than the logical receiver.
func NewLogicalHost(cluster ClusterInfo, hostname string, initial resolver.Address) *LogicalHost {
	lh := &LogicalHost{}
	inner := NewHost(cluster, resolver.Address{
		HostPort: initial.HostPort,
		Hostname: hostname,
		Locality: initial.Locality,
		Weight:   initial.Weight,
	})
	lh.host = inner.(*host)
	lh.real.Store(&realTarget{host: NewHost(cluster, initial)})
	return lh
}

// LogicalHost implements Host by delegating identity and health to a
// stable inner host while routing connections to a swappable real
// destination.
type LogicalHost struct {
	*host
	real atomic.Pointer[realTarget]
	mu   sync.Mutex
}

type realTarget struct {
	host Host
}

// SetRealAddress replaces the concrete destination the logical host
// currently points at. Existing connections are unaffected.
func (lh *LogicalHost) SetRealAddress(address resolver.Address) {
	lh.mu.Lock()
	defer lh.mu.Unlock()
	current := lh.real.Load()
	if current.host.Address() == address.HostPort {
		return
	}
	lh.real.Store(&realTarget{host: NewHost(lh.host.cluster, address)})
}

func (lh *LogicalHost) CreateConnection(disp network.Dispatcher) CreateConnectionData {
	real := lh.real.Load().host
	data := createConnection(disp, lh, real.Address())
	data.Host = real
	return data
}
