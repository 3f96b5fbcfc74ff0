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
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"golang.org/x/sync/errgroup"
)

// ClusterManager owns every configured cluster, drives the two-phase
// initialization protocol between them, and serves lookups by name for
// dependent features (e.g. a rate limit service bound to a cluster).
type ClusterManager struct {
	logger  log.Logger
	options []Option

	mu       sync.RWMutex
	clusters map[string]Cluster
	order    []string
}

// NewClusterManager creates an empty manager. The given options are
// also applied to every cluster it constructs.
func NewClusterManager(opts ...Option) *ClusterManager {
	o := buildOptions(opts)
	return &ClusterManager{
		logger:   o.logger,
		options:  opts,
		clusters: make(map[string]Cluster),
	}
}

// AddCluster constructs a cluster from cfg and registers it under its
// name. Configuration errors, including a duplicate name, fail fast and
// leave the manager unchanged.
func (m *ClusterManager) AddCluster(cfg ClusterConfig) (Cluster, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.clusters[cfg.Name]; ok {
		return nil, fmt.Errorf("cluster %q: %w", cfg.Name, ErrDuplicateClusterName)
	}
	c, err := NewCluster(cfg, m.options...)
	if err != nil {
		return nil, err
	}
	m.clusters[cfg.Name] = c
	m.order = append(m.order, cfg.Name)
	return c, nil
}

// Get returns the cluster registered under name, or nil.
func (m *ClusterManager) Get(name string) Cluster {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.clusters[name]
}

// Clusters returns all registered clusters in registration order.
func (m *ClusterManager) Clusters() []Cluster {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Cluster, 0, len(m.order))
	for _, name := range m.order {
		out = append(out, m.clusters[name])
	}
	return out
}

// Initialize runs the two-phase initialization protocol: every
// primary-phase cluster is initialized first, and only after all of
// them have signaled initialized are the secondary-phase clusters
// initialized (secondary clusters depend on name resolution through
// primary ones). onAllInitialized, if non-nil, fires once after every
// cluster has initialized. Statically configured clusters complete
// synchronously, so the whole protocol may finish before Initialize
// returns.
func (m *ClusterManager) Initialize(onAllInitialized func()) {
	var primary, secondary []Cluster
	for _, c := range m.Clusters() {
		if c.InitializePhase() == InitializePrimary {
			primary = append(primary, c)
		} else {
			secondary = append(secondary, c)
		}
	}

	startSecondary := func() {
		level.Debug(m.logger).Log("msg", "all primary clusters initialized")
		m.initializeGroup(secondary, onAllInitialized)
	}
	m.initializeGroup(primary, startSecondary)
}

// initializeGroup initializes all the given clusters and calls done
// after the last of them signals initialized. done fires immediately
// for an empty group.
func (m *ClusterManager) initializeGroup(clusters []Cluster, done func()) {
	if len(clusters) == 0 {
		if done != nil {
			done()
		}
		return
	}
	var remaining atomic.Int64
	remaining.Store(int64(len(clusters)))
	for _, c := range clusters {
		c.SetInitializedCb(func() {
			if remaining.Add(-1) == 0 && done != nil {
				done()
			}
		})
	}
	for _, c := range clusters {
		c.Initialize()
	}
}

// Shutdown closes every cluster, stopping discovery and monitors.
func (m *ClusterManager) Shutdown() error {
	var group errgroup.Group
	for _, c := range m.Clusters() {
		group.Go(c.Close)
	}
	return group.Wait()
}
