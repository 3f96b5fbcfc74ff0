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
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/hypergig/envoy/internal/clocktest"
	"github.com/hypergig/envoy/resolver"
	"github.com/hypergig/envoy/upstream"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func newDetectedCluster(t *testing.T, factory upstream.OutlierDetectorFactory, hostPorts ...string) upstream.Cluster {
	t.Helper()
	addresses := make([]resolver.Address, len(hostPorts))
	for i, hp := range hostPorts {
		addresses[i] = resolver.Address{HostPort: hp}
	}
	c, err := upstream.NewCluster(upstream.ClusterConfig{
		Name:                   "api_backend",
		Resolver:               resolver.NewStaticResolver(addresses),
		OutlierDetectorFactory: factory,
	}, upstream.WithRegistry(prometheus.NewRegistry()))
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, c.Close())
	})
	c.Initialize()
	return c
}

type changeRecorder struct {
	mu    sync.Mutex
	hosts []string
}

func (r *changeRecorder) record(host upstream.Host) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hosts = append(r.hosts, host.Address())
}

func (r *changeRecorder) recorded() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.hosts))
	copy(out, r.hosts)
	return out
}

func TestDetectorEjectsAfterConsecutiveFailures(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	clock := clocktest.NewFakeClock()
	factory := NewDetectorFactory(
		WithClock(clock),
		WithConsecutiveFailures(3),
		WithBaseEjectionTime(30*time.Second),
		WithSweepInterval(10*time.Second),
		WithMaxEjectionPercent(100),
	)
	c := newDetectedCluster(t, factory, "10.0.0.1:80")
	host := c.Hosts()[0]
	monitor := host.OutlierDetectorMonitor()
	require.NotNil(t, monitor)

	recorder := &changeRecorder{}
	c.OutlierDetector().AddChangedStateCb(recorder.record)

	// Two failures with a success in between never eject.
	monitor.PutResult(false)
	monitor.PutResult(false)
	monitor.PutResult(true)
	monitor.PutResult(false)
	monitor.PutResult(false)
	require.True(t, host.Healthy())
	require.Zero(t, monitor.NumEjections())

	// The third consecutive failure ejects.
	monitor.PutResult(false)
	require.True(t, host.HealthFlagGet(upstream.FailedOutlierCheck))
	require.Empty(t, c.HealthyHosts())
	require.Len(t, c.Hosts(), 1, "ejection never changes membership")
	require.Equal(t, uint32(1), monitor.NumEjections())

	stats := c.Info().Stats()
	require.Equal(t, float64(1), testutil.ToFloat64(stats.Counter(upstream.StatOutlierEjectionsTotal)))
	require.Equal(t, float64(1), testutil.ToFloat64(stats.Gauge(upstream.StatOutlierEjectionsActive)))
	require.Equal(t, []string{"10.0.0.1:80"}, recorder.recorded())

	// Once the ejection time elapses, a sweep lifts the ejection.
	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	clock.Advance(30 * time.Second)
	require.Eventually(t, func() bool {
		return host.Healthy() && len(c.HealthyHosts()) == 1
	}, 3*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool {
		return testutil.ToFloat64(stats.Gauge(upstream.StatOutlierEjectionsActive)) == 0
	}, 3*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool {
		return len(recorder.recorded()) == 2
	}, 3*time.Second, 10*time.Millisecond)
	require.Equal(t, uint32(1), monitor.NumEjections(), "unejection does not reset the count")
}

func TestDetectorMaxEjectionPercent(t *testing.T) {
	t.Parallel()
	clock := clocktest.NewFakeClock()
	factory := NewDetectorFactory(
		WithClock(clock),
		WithConsecutiveFailures(1),
		WithMaxEjectionPercent(50),
	)
	c := newDetectedCluster(t, factory, "10.0.0.1:80", "10.0.0.2:80")
	first := c.Hosts()[0]
	second := c.Hosts()[1]

	// The first ejection fits under the 50% cap.
	first.OutlierDetectorMonitor().PutResult(false)
	require.True(t, first.HealthFlagGet(upstream.FailedOutlierCheck))

	// Ejecting the second host would exceed the cap; it stays routable
	// even though its failure run crossed the threshold.
	second.OutlierDetectorMonitor().PutResult(false)
	require.True(t, second.Healthy())
	require.Equal(t, []string{"10.0.0.2:80"}, hostAddresses(c.HealthyHosts()))

	stats := c.Info().Stats()
	require.Equal(t, float64(1), testutil.ToFloat64(stats.Counter(upstream.StatOutlierEjectionsTotal)))
}

func TestDetectorEjectsSuppressedHostOnceCapacityFrees(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	clock := clocktest.NewFakeClock()
	factory := NewDetectorFactory(
		WithClock(clock),
		WithConsecutiveFailures(1),
		WithBaseEjectionTime(30*time.Second),
		WithSweepInterval(10*time.Second),
		WithMaxEjectionPercent(50),
	)
	c := newDetectedCluster(t, factory, "10.0.0.1:80", "10.0.0.2:80")
	first := c.Hosts()[0]
	second := c.Hosts()[1]

	first.OutlierDetectorMonitor().PutResult(false)
	require.True(t, first.HealthFlagGet(upstream.FailedOutlierCheck))

	// The second host's ejection is suppressed by the cap.
	second.OutlierDetectorMonitor().PutResult(false)
	require.True(t, second.Healthy())

	// Lifting the first ejection frees capacity under the cap.
	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	clock.Advance(30 * time.Second)
	require.Eventually(t, func() bool {
		return first.Healthy()
	}, 3*time.Second, 10*time.Millisecond)

	// A fresh failure run on the previously suppressed host must eject
	// it now that the cap allows.
	second.OutlierDetectorMonitor().PutResult(false)
	require.True(t, second.HealthFlagGet(upstream.FailedOutlierCheck))
	require.Equal(t, uint32(1), second.OutlierDetectorMonitor().NumEjections())
}

func TestDetectorStopsTrackingRemovedHosts(t *testing.T) {
	t.Parallel()
	clock := clocktest.NewFakeClock()
	factory := NewDetectorFactory(WithClock(clock), WithConsecutiveFailures(1), WithMaxEjectionPercent(100))

	discovery := &fakeDiscovery{}
	c, err := upstream.NewCluster(upstream.ClusterConfig{
		Name:                   "api_backend",
		Resolver:               discovery,
		OutlierDetectorFactory: factory,
	}, upstream.WithRegistry(prometheus.NewRegistry()))
	require.NoError(t, err)
	defer c.Close()
	c.Initialize()
	discovery.receiver.OnResolve([]resolver.Address{{HostPort: "10.0.0.1:80"}, {HostPort: "10.0.0.2:80"}})

	host := c.Hosts()[0]
	host.OutlierDetectorMonitor().PutResult(false)
	require.True(t, host.HealthFlagGet(upstream.FailedOutlierCheck))
	stats := c.Info().Stats()
	require.Equal(t, float64(1), testutil.ToFloat64(stats.Gauge(upstream.StatOutlierEjectionsActive)))

	// Dropping the ejected host from membership must not leak its
	// ejection in the active gauge.
	discovery.receiver.OnResolve([]resolver.Address{{HostPort: "10.0.0.2:80"}})
	require.Equal(t, []string{"10.0.0.2:80"}, hostAddresses(c.Hosts()))
	require.Equal(t, float64(0), testutil.ToFloat64(stats.Gauge(upstream.StatOutlierEjectionsActive)))
}

// fakeDiscovery hands the receiver back to the test so membership can
// be driven by hand.
type fakeDiscovery struct {
	receiver resolver.Receiver
}

func (d *fakeDiscovery) New(
	_ context.Context,
	_ string,
	receiver resolver.Receiver,
	_ <-chan struct{},
) io.Closer {
	d.receiver = receiver
	return closerFunc(func() error { return nil })
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

func hostAddresses(hosts []upstream.Host) []string {
	out := make([]string, len(hosts))
	for i, h := range hosts {
		out[i] = h.Address()
	}
	return out
}
