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
	"errors"
	"fmt"
	"math/rand"
	"net"
	"time"

	"github.com/hypergig/envoy/resolver"
	"github.com/prometheus/client_golang/prometheus"
)

// Configuration errors. They surface synchronously from cluster
// construction; a cluster with an invalid configuration is never
// created.
var (
	ErrMissingClusterName   = errors.New("cluster name is required")
	ErrMissingResolver      = errors.New("cluster resolver is required")
	ErrInvalidMaintenance   = errors.New("maintenance fraction must be within [0,1]")
	ErrDuplicateClusterName = errors.New("cluster name already in use")
)

// ClusterConfig is the full configuration of one upstream cluster. It
// is consumed at construction; the cluster never reads it afterwards.
type ClusterConfig struct {
	// Name is the cluster name. Required, and unique within a manager.
	Name string

	// Resolver supplies the discovery feed for the cluster's hosts.
	// Required; statically configured clusters use
	// [resolver.NewStaticResolver].
	Resolver resolver.Resolver
	// Target is the name handed to the resolver (e.g. a DNS name).
	Target string

	// InitializePhase fixes when the cluster initializes at boot.
	InitializePhase InitializePhase

	// LocalLocality is the locality of this proxy instance, used to
	// pin bucket 0 of the per-locality partitions.
	LocalLocality resolver.Locality

	ConnectTimeout                time.Duration
	PerConnectionBufferLimitBytes uint32
	MaxRequestsPerConnection      uint64
	Features                      uint64
	LBType                        LoadBalancerType
	TLS                           *tls.Config
	SourceAddress                 *net.TCPAddr
	AddedViaAPI                   bool

	// MaintenanceFraction is the probability, in [0,1], that
	// MaintenanceMode reports true on any given sample.
	MaintenanceFraction float64

	// CircuitBreakers configures the admission budgets per priority.
	// Missing tiers get defaults.
	CircuitBreakers map[ResourcePriority]ResourceLimits

	// HealthCheckerFactory, when non-nil, attaches active health
	// checking to the cluster at Initialize.
	HealthCheckerFactory HealthCheckerFactory
	// OutlierDetectorFactory, when non-nil, attaches outlier detection
	// to the cluster at Initialize.
	OutlierDetectorFactory OutlierDetectorFactory
}

func (c *ClusterConfig) validate() error {
	if c.Name == "" {
		return ErrMissingClusterName
	}
	if c.Resolver == nil {
		return fmt.Errorf("cluster %q: %w", c.Name, ErrMissingResolver)
	}
	if c.MaintenanceFraction < 0 || c.MaintenanceFraction > 1 {
		return fmt.Errorf("cluster %q: %w", c.Name, ErrInvalidMaintenance)
	}
	return nil
}

// clusterInfo implements ClusterInfo. All fields are write-once at
// construction; only the stats block and resource managers it owns are
// internally mutable. Shared across goroutines without synchronization.
type clusterInfo struct {
	name                          string
	addedViaAPI                   bool
	connectTimeout                time.Duration
	perConnectionBufferLimitBytes uint32
	maxRequestsPerConnection      uint64
	features                      uint64
	lbType                        LoadBalancerType
	tlsContext                    *tls.Config
	sourceAddress                 *net.TCPAddr
	maintenanceFraction           float64
	resourceManagers              [2]ResourceManager
	stats                         *ClusterStats
}

func newClusterInfo(cfg ClusterConfig, registry prometheus.Registerer) (*clusterInfo, error) {
	stats, err := NewClusterStats(cfg.Name, registry)
	if err != nil {
		return nil, err
	}
	info := &clusterInfo{
		name:                          cfg.Name,
		addedViaAPI:                   cfg.AddedViaAPI,
		connectTimeout:                cfg.ConnectTimeout,
		perConnectionBufferLimitBytes: cfg.PerConnectionBufferLimitBytes,
		maxRequestsPerConnection:      cfg.MaxRequestsPerConnection,
		features:                      cfg.Features,
		lbType:                        cfg.LBType,
		tlsContext:                    cfg.TLS,
		sourceAddress:                 cfg.SourceAddress,
		maintenanceFraction:           cfg.MaintenanceFraction,
		stats:                         stats,
	}
	for _, priority := range []ResourcePriority{PriorityDefault, PriorityHigh} {
		info.resourceManagers[priority] = NewResourceManager(cfg.CircuitBreakers[priority])
	}
	return info, nil
}

func (i *clusterInfo) Name() string                 { return i.name }
func (i *clusterInfo) AddedViaAPI() bool            { return i.addedViaAPI }
func (i *clusterInfo) ConnectTimeout() time.Duration {
	return i.connectTimeout
}
func (i *clusterInfo) PerConnectionBufferLimitBytes() uint32 {
	return i.perConnectionBufferLimitBytes
}
func (i *clusterInfo) MaxRequestsPerConnection() uint64 {
	return i.maxRequestsPerConnection
}
func (i *clusterInfo) Features() uint64        { return i.features }
func (i *clusterInfo) LBType() LoadBalancerType { return i.lbType }

// MaintenanceMode samples the maintenance gate. The answer need not be
// consistent across consecutive calls; callers sample once per routing
// decision.
func (i *clusterInfo) MaintenanceMode() bool {
	if i.maintenanceFraction <= 0 {
		return false
	}
	return rand.Float64() < i.maintenanceFraction
}

func (i *clusterInfo) ResourceManager(priority ResourcePriority) ResourceManager {
	return i.resourceManagers[priority]
}

func (i *clusterInfo) TLSContext() *tls.Config    { return i.tlsContext }
func (i *clusterInfo) SourceAddress() *net.TCPAddr { return i.sourceAddress }
func (i *clusterInfo) Stats() *ClusterStats        { return i.stats }
