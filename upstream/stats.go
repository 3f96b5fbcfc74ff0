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

	"github.com/prometheus/client_golang/prometheus"
)

// StatKind is the kind of one cluster stat.
type StatKind int

const (
	KindCounter StatKind = iota
	KindGauge
	KindTimer
)

// StatDef declares one named cluster stat.
type StatDef struct {
	Name string
	Kind StatKind
}

// Names of the cluster stats touched by this package. The full table is
// in clusterStatDefs.
const (
	StatMembershipChange      = "membership_change"
	StatMembershipHealthy     = "membership_healthy"
	StatMembershipTotal       = "membership_total"
	StatMaxHostWeight         = "max_host_weight"
	StatUpdateAttempt         = "update_attempt"
	StatUpdateSuccess         = "update_success"
	StatUpdateFailure         = "update_failure"
	StatUpdateEmpty           = "update_empty"
	StatUpstreamCxTotal       = "upstream_cx_total"
	StatUpstreamCxActive      = "upstream_cx_active"
	StatUpstreamCxConnectFail = "upstream_cx_connect_fail"
	StatUpstreamCxConnectMs   = "upstream_cx_connect_ms"
	StatUpstreamCxDestroy     = "upstream_cx_destroy"
	StatUpstreamCxDestroyLocal = "upstream_cx_destroy_local"
	StatUpstreamCxNoneHealthy = "upstream_cx_none_healthy"
	StatUpstreamRqMaintenanceMode = "upstream_rq_maintenance_mode"
	StatOutlierEjectionsActive = "outlier_detection_ejections_active"
	StatOutlierEjectionsTotal  = "outlier_detection_ejections_total"
	StatHealthCheckFailure     = "health_check_failure"
	StatHealthCheckSuccess     = "health_check_success"
)

// clusterStatDefs is the full, versioned cluster stat table. The names
// are an operational contract consumed by existing dashboards and
// alerts; do not rename entries.
var clusterStatDefs = []StatDef{
	{"lb_healthy_panic", KindCounter},
	{"lb_local_cluster_not_ok", KindCounter},
	{"lb_recalculate_zone_structures", KindCounter},
	{"lb_zone_cluster_too_small", KindCounter},
	{"lb_zone_no_capacity_left", KindCounter},
	{"lb_zone_number_differs", KindCounter},
	{"lb_zone_routing_all_directly", KindCounter},
	{"lb_zone_routing_sampled", KindCounter},
	{"lb_zone_routing_cross_zone", KindCounter},
	{"upstream_cx_total", KindCounter},
	{"upstream_cx_active", KindGauge},
	{"upstream_cx_http1_total", KindCounter},
	{"upstream_cx_http2_total", KindCounter},
	{"upstream_cx_connect_fail", KindCounter},
	{"upstream_cx_connect_timeout", KindCounter},
	{"upstream_cx_overflow", KindCounter},
	{"upstream_cx_connect_ms", KindTimer},
	{"upstream_cx_length_ms", KindTimer},
	{"upstream_cx_destroy", KindCounter},
	{"upstream_cx_destroy_local", KindCounter},
	{"upstream_cx_destroy_remote", KindCounter},
	{"upstream_cx_destroy_with_active_rq", KindCounter},
	{"upstream_cx_destroy_local_with_active_rq", KindCounter},
	{"upstream_cx_destroy_remote_with_active_rq", KindCounter},
	{"upstream_cx_close_notify", KindCounter},
	{"upstream_cx_rx_bytes_total", KindCounter},
	{"upstream_cx_rx_bytes_buffered", KindGauge},
	{"upstream_cx_tx_bytes_total", KindCounter},
	{"upstream_cx_tx_bytes_buffered", KindGauge},
	{"upstream_cx_protocol_error", KindCounter},
	{"upstream_cx_max_requests", KindCounter},
	{"upstream_cx_none_healthy", KindCounter},
	{"upstream_rq_total", KindCounter},
	{"upstream_rq_active", KindGauge},
	{"upstream_rq_pending_total", KindCounter},
	{"upstream_rq_pending_overflow", KindCounter},
	{"upstream_rq_pending_failure_eject", KindCounter},
	{"upstream_rq_pending_active", KindGauge},
	{"upstream_rq_cancelled", KindCounter},
	{"upstream_rq_maintenance_mode", KindCounter},
	{"upstream_rq_timeout", KindCounter},
	{"upstream_rq_per_try_timeout", KindCounter},
	{"upstream_rq_rx_reset", KindCounter},
	{"upstream_rq_tx_reset", KindCounter},
	{"upstream_rq_retry", KindCounter},
	{"upstream_rq_retry_success", KindCounter},
	{"upstream_rq_retry_overflow", KindCounter},
	{"upstream_flow_control_paused_reading_total", KindCounter},
	{"upstream_flow_control_resumed_reading_total", KindCounter},
	{"upstream_flow_control_backed_up_total", KindCounter},
	{"upstream_flow_control_drained_total", KindCounter},
	{"bind_errors", KindCounter},
	{"max_host_weight", KindGauge},
	{"membership_change", KindCounter},
	{"membership_healthy", KindGauge},
	{"membership_total", KindGauge},
	{"retry_or_shadow_abandoned", KindCounter},
	{"update_attempt", KindCounter},
	{"update_success", KindCounter},
	{"update_failure", KindCounter},
	{"update_empty", KindCounter},
	{"health_check_failure", KindCounter},
	{"health_check_success", KindCounter},
	{"outlier_detection_ejections_active", KindGauge},
	{"outlier_detection_ejections_total", KindCounter},
}

// ClusterStatDefs returns a copy of the cluster stat table.
func ClusterStatDefs() []StatDef {
	out := make([]StatDef, len(clusterStatDefs))
	copy(out, clusterStatDefs)
	return out
}

const (
	statNamespace = "envoy"
	statSubsystem = "cluster"
)

// ClusterStats is the fixed, named stats block of one cluster. Every
// stat from the table is registered at construction against the
// cluster's registry with a "cluster" label; lookups by name are how
// code paths touch them, so an unknown name is a programming error and
// panics.
type ClusterStats struct {
	counters   map[string]prometheus.Counter
	gauges     map[string]prometheus.Gauge
	timers     map[string]prometheus.Histogram
	collectors []prometheus.Collector
	registry   prometheus.Registerer
}

// NewClusterStats registers the full cluster stat table for the given
// cluster name. Registration fails if stats for the same cluster name
// are already registered, which surfaces duplicate cluster
// configuration as a hard error.
func NewClusterStats(clusterName string, registry prometheus.Registerer) (*ClusterStats, error) {
	stats := &ClusterStats{
		counters: make(map[string]prometheus.Counter),
		gauges:   make(map[string]prometheus.Gauge),
		timers:   make(map[string]prometheus.Histogram),
		registry: registry,
	}
	labels := prometheus.Labels{"cluster": clusterName}
	for _, def := range clusterStatDefs {
		var collector prometheus.Collector
		switch def.Kind {
		case KindCounter:
			c := prometheus.NewCounter(prometheus.CounterOpts{
				Namespace:   statNamespace,
				Subsystem:   statSubsystem,
				Name:        def.Name,
				Help:        "Cluster stat " + def.Name,
				ConstLabels: labels,
			})
			stats.counters[def.Name] = c
			collector = c
		case KindGauge:
			g := prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace:   statNamespace,
				Subsystem:   statSubsystem,
				Name:        def.Name,
				Help:        "Cluster stat " + def.Name,
				ConstLabels: labels,
			})
			stats.gauges[def.Name] = g
			collector = g
		case KindTimer:
			h := prometheus.NewHistogram(prometheus.HistogramOpts{
				Namespace:   statNamespace,
				Subsystem:   statSubsystem,
				Name:        def.Name,
				Help:        "Cluster stat " + def.Name + " (milliseconds)",
				ConstLabels: labels,
				Buckets:     prometheus.ExponentialBuckets(0.5, 2, 16),
			})
			stats.timers[def.Name] = h
			collector = h
		}
		if err := registry.Register(collector); err != nil {
			stats.Unregister()
			return nil, fmt.Errorf("registering stat %q for cluster %q: %w", def.Name, clusterName, err)
		}
		stats.collectors = append(stats.collectors, collector)
	}
	return stats, nil
}

// Counter returns the named counter. Panics on unknown names.
func (s *ClusterStats) Counter(name string) prometheus.Counter {
	c, ok := s.counters[name]
	if !ok {
		panic(fmt.Sprintf("upstream: unknown cluster counter %q", name))
	}
	return c
}

// Gauge returns the named gauge. Panics on unknown names.
func (s *ClusterStats) Gauge(name string) prometheus.Gauge {
	g, ok := s.gauges[name]
	if !ok {
		panic(fmt.Sprintf("upstream: unknown cluster gauge %q", name))
	}
	return g
}

// Timer returns the named timer histogram. Panics on unknown names.
func (s *ClusterStats) Timer(name string) prometheus.Histogram {
	t, ok := s.timers[name]
	if !ok {
		panic(fmt.Sprintf("upstream: unknown cluster timer %q", name))
	}
	return t
}

// Unregister removes all of the cluster's collectors from the registry.
// Called when a cluster is removed or replaced by a config update.
func (s *ClusterStats) Unregister() {
	for _, c := range s.collectors {
		s.registry.Unregister(c)
	}
	s.collectors = nil
}
