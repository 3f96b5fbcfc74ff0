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
	"crypto/tls"
	"io"
	"net"
	"time"

	"github.com/hypergig/envoy/network"
	"github.com/hypergig/envoy/resolver"
)

// HealthFlag is one independently settable health bit of a host. A host
// is healthy iff no flag is set.
type HealthFlag uint32

const (
	// FailedActiveHC means the host is currently failing active health
	// checks. Written only by the active health checking monitor.
	FailedActiveHC HealthFlag = 1 << 0
	// FailedOutlierCheck means the host is currently considered an
	// outlier and has been ejected. Written only by the outlier
	// detector.
	FailedOutlierCheck HealthFlag = 1 << 1
)

// HostDescription is the immutable identity of an upstream host.
type HostDescription interface {
	// Address returns the host:port the host connects to.
	Address() string
	// Hostname returns the canonical name the host was resolved from,
	// or "" if unknown.
	Hostname() string
	// Locality returns the topology tag of the host.
	Locality() resolver.Locality
	// Cluster returns the information of the cluster the host belongs to.
	Cluster() ClusterInfo
}

// CreateConnectionData is the result of creating a connection against a
// host.
type CreateConnectionData struct {
	Connection network.ClientConnection
	// Host is the *real* host that backs the connection. Some hosts are
	// logical and wrap another concrete destination; in that case a
	// different host is returned here than the one the connection was
	// created on. Callers must not assume identity with the receiver.
	Host HostDescription
}

// HealthCheckHostMonitor is the per-host handle installed by an active
// health checking monitor. It is assumed to be thread safe.
type HealthCheckHostMonitor interface {
	// SetUnhealthy asks the monitor to immediately consider the host
	// unhealthy, e.g. after a passive observation the checker should
	// take into account.
	SetUnhealthy()
}

// OutlierDetectorHostMonitor is the per-host handle installed by an
// outlier detector. The request path reports connection and request
// outcomes through it.
type OutlierDetectorHostMonitor interface {
	// PutResult records the outcome of one request or connection
	// attempt against the host.
	PutResult(success bool)
	// NumEjections returns how many times the host has been ejected.
	NumEjections() uint32
}

// Host is a single upstream destination. Hosts are shared by reference
// between the cluster's membership structures, per-worker host set
// replicas, and in-flight connections; the health flags, weight, and
// used marker are the only fields designed for concurrent mutation.
type Host interface {
	HostDescription

	// CreateConnection creates a new outbound connection to this host
	// under the given single-threaded execution context. The dial
	// completes asynchronously on the dispatcher; a dial failure is
	// returned as a connection already in the closed state, never as an
	// error.
	CreateConnection(disp network.Dispatcher) CreateConnectionData

	// HealthFlagGet atomically reads a health flag.
	HealthFlagGet(flag HealthFlag) bool
	// HealthFlagSet atomically sets a health flag.
	HealthFlagSet(flag HealthFlag)
	// HealthFlagClear atomically clears a health flag.
	HealthFlagClear(flag HealthFlag)
	// Healthy reports whether, in aggregate, the host is routable: true
	// iff no health flag is set. Lock-free and O(1).
	Healthy() bool

	// SetHealthChecker installs the host's health checker monitor.
	// Installation must happen before the host is shared across
	// goroutines; installing twice panics.
	SetHealthChecker(monitor HealthCheckHostMonitor)
	// HealthChecker returns the installed monitor, or nil.
	HealthChecker() HealthCheckHostMonitor
	// SetOutlierDetector installs the host's outlier detector monitor.
	// Same installation rules as SetHealthChecker.
	SetOutlierDetector(monitor OutlierDetectorHostMonitor)
	// OutlierDetectorMonitor returns the installed monitor, or nil.
	OutlierDetectorMonitor() OutlierDetectorHostMonitor

	// Weight returns the current load balancing weight of the host, in
	// the range [1,100].
	Weight() uint32
	// SetWeight sets the load balancing weight. Values outside [1,100]
	// are clamped to the nearest bound. Last write wins; there is no
	// atomicity relation to any other field.
	SetWeight(weight uint32)

	// Used reports whether the host is actively selected by any load
	// balancer instance. Used for stat bookkeeping.
	Used() bool
	// SetUsed stores the new used marker.
	SetUsed(used bool)
}

// MemberUpdateCb is invoked when cluster membership changes. It
// receives exactly the delta of the update, not the full membership. It
// runs synchronously on whatever goroutine performs the update, so it
// must not block.
type MemberUpdateCb func(hostsAdded, hostsRemoved []Host)

// CallbackHandle identifies a registered membership callback.
type CallbackHandle interface {
	// Remove deterministically unregisters the callback: it receives no
	// further invocations. Removing a handle twice panics. It is safe
	// to remove a handle from within a callback invocation for a
	// different callback.
	Remove()
}

// HostSet is a point-in-time view of cluster membership: all hosts,
// healthy hosts, and both partitioned by locality. All accessors return
// references into the current immutable snapshot; callers that need a
// stable view across multiple calls must hold the returned slices --
// the owner is free to swap in a new snapshot at any time.
type HostSet interface {
	// Hosts returns all hosts that make up the set at the current time.
	Hosts() []Host
	// HealthyHosts returns all hosts that were healthy at
	// snapshot-build time. This view is eventually consistent: a host
	// in it may have become unhealthy since the snapshot was built.
	HealthyHosts() []Host
	// HostsPerLocality returns hosts partitioned by locality. Index 0
	// is dedicated to hosts in the set owner's local locality (and may
	// be empty); localities at index >= 1 are sorted lexicographically
	// by locality key. An empty membership yields an empty partition.
	HostsPerLocality() [][]Host
	// HealthyHostsPerLocality is HostsPerLocality restricted to healthy
	// hosts.
	HealthyHostsPerLocality() [][]Host
	// AddMemberUpdateCb installs a callback invoked on every accepted
	// membership delta. Health-flag-only changes do not fire it.
	AddMemberUpdateCb(cb MemberUpdateCb) CallbackHandle
	// RefreshHealth rebuilds the healthy views from the current health
	// flags without changing membership and without firing membership
	// callbacks. Health monitors call it after flipping a flag.
	RefreshHealth()
}

// LoadBalancerType is the type of load balancing a cluster should use.
// Selection algorithms themselves live outside this package.
type LoadBalancerType int

const (
	LoadBalancerRoundRobin LoadBalancerType = iota
	LoadBalancerLeastRequest
	LoadBalancerRandom
	LoadBalancerRingHash
)

// Cluster feature bits.
const (
	// FeatureHTTP2 marks an upstream that supports a multiplexed
	// protocol. Used when creating connection pools.
	FeatureHTTP2 uint64 = 0x1
)

// ResourcePriority is the admission-control priority tier of a request.
type ResourcePriority int

const (
	PriorityDefault ResourcePriority = iota
	PriorityHigh
)

// ClusterInfo is the static, shared-by-reference configuration of a
// cluster. It is effectively read-only after construction (only the
// stats and resource managers it owns are mutable) and is freely shared
// across goroutines without synchronization.
type ClusterInfo interface {
	// Name returns the human readable name of the cluster.
	Name() string
	// AddedViaAPI reports whether the cluster was added via API. If
	// false the cluster was present in the initial configuration and
	// cannot be removed or updated.
	AddedViaAPI() bool
	// ConnectTimeout returns the dial timeout for hosts of this cluster.
	ConnectTimeout() time.Duration
	// PerConnectionBufferLimitBytes is the soft limit on read/write
	// buffer sizes of the cluster's connections.
	PerConnectionBufferLimitBytes() uint32
	// MaxRequestsPerConnection is the maximum number of requests a
	// connection pool will make on each upstream connection. 0 means no
	// maximum.
	MaxRequestsPerConnection() uint64
	// Features returns the feature bits supported by the cluster.
	Features() uint64
	// LBType returns the type of load balancing the cluster should use.
	LBType() LoadBalancerType
	// MaintenanceMode reports whether the cluster should currently not
	// be routed to. The answer is sampled from randomness and is NOT
	// required to be consistent across consecutive calls: callers must
	// sample it once per routing decision.
	MaintenanceMode() bool
	// ResourceManager returns the admission-control budgets for the
	// given priority tier. The managers are long-lived and shared.
	ResourceManager(priority ResourcePriority) ResourceManager
	// TLSContext returns the TLS client configuration to use when
	// connecting to the cluster, or nil for plaintext.
	TLSContext() *tls.Config
	// SourceAddress returns an optional local address to bind upstream
	// connections to, or nil if no bind need occur.
	SourceAddress() *net.TCPAddr
	// Stats returns the strongly named stats block of the cluster.
	Stats() *ClusterStats
}

// InitializePhase is the ordering tier controlling which clusters must
// finish initializing before others begin. It is fixed at construction.
type InitializePhase int

const (
	// InitializePrimary clusters initialize immediately at startup.
	InitializePrimary InitializePhase = iota
	// InitializeSecondary clusters initialize only after every primary
	// cluster has signaled initialized. Used for clusters whose hosts
	// are themselves resolved via another cluster.
	InitializeSecondary
)

// OutlierDetector is the cluster-level handle of an outlier detection
// implementation, exposed for introspection and stats.
type OutlierDetector interface {
	io.Closer
	// AddChangedStateCb registers a callback invoked whenever a host is
	// ejected or unejected.
	AddChangedStateCb(cb func(host Host))
}

// OutlierDetectorFactory creates a cluster's outlier detector. The
// returned detector is the only writer of the FailedOutlierCheck flag.
type OutlierDetectorFactory interface {
	New(cluster Cluster) OutlierDetector
}

// HealthCheckerFactory creates a cluster's active health checking
// process. The returned closer stops all probing when closed. The
// process is the only writer of the FailedActiveHC flag.
type HealthCheckerFactory interface {
	New(cluster Cluster) io.Closer
}

// Cluster is an upstream cluster: one authoritative HostSet plus the
// wiring to discovery, health checking, and outlier detection. The
// cluster is the "primary" singleton shared among all workers;
// individual host set replicas are used on the workers themselves.
type Cluster interface {
	HostSet

	// Info returns the information about this upstream cluster.
	Info() ClusterInfo
	// OutlierDetector returns the cluster's outlier detector, or nil if
	// none is configured.
	OutlierDetector() OutlierDetector
	// Initialize starts discovery and monitors. It is called either
	// immediately at creation (primary phase) or after all primary
	// clusters have initialized (secondary phase). Calling it twice
	// panics.
	Initialize()
	// InitializePhase returns the phase in which the cluster is
	// initialized at boot.
	InitializePhase() InitializePhase
	// SetInitializedCb sets a callback invoked exactly once, the first
	// time initialization completes (first successful discovery
	// delivery, or immediately for statically configured clusters).
	// Setting a new callback before the pending one fires replaces it
	// with a warning log. Setting one after initialization completed
	// invokes it immediately.
	SetInitializedCb(cb func())
	// RequestRefresh hints the discovery mechanism that new results are
	// needed, e.g. because no healthy hosts remain. Non-blocking.
	RequestRefresh()
	// Close stops discovery and monitors. The host set remains readable
	// after close.
	Close() error
}
