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
	"net"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hypergig/envoy/internal/clocktest"
	"github.com/hypergig/envoy/resolver"
	"github.com/hypergig/envoy/upstream"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

type stubProber struct {
	state atomic.Int32
}

func (p *stubProber) set(state State) {
	p.state.Store(int32(state))
}

func (p *stubProber) Probe(_ context.Context, _ upstream.HostDescription) State {
	return State(p.state.Load())
}

func newCheckedCluster(t *testing.T, factory upstream.HealthCheckerFactory, hostPorts ...string) upstream.Cluster {
	t.Helper()
	addresses := make([]resolver.Address, len(hostPorts))
	for i, hp := range hostPorts {
		addresses[i] = resolver.Address{HostPort: hp}
	}
	c, err := upstream.NewCluster(upstream.ClusterConfig{
		Name:                 "api_backend",
		Resolver:             resolver.NewStaticResolver(addresses),
		HealthCheckerFactory: factory,
	}, upstream.WithRegistry(prometheus.NewRegistry()))
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, c.Close())
	})
	c.Initialize()
	return c
}

func TestCheckerFlipsHealthFlag(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	clock := clocktest.NewFakeClock()
	prober := &stubProber{}
	prober.set(StateHealthy)
	factory := NewCheckerFactory(prober, WithClock(clock), WithCheckInterval(15*time.Second))

	c := newCheckedCluster(t, factory, "10.0.0.1:80")
	host := c.Hosts()[0]
	require.NotNil(t, host.HealthChecker(), "monitor installs when the check process starts")
	stats := c.Info().Stats()

	// The first probe runs as soon as the process starts.
	require.Eventually(t, func() bool {
		return testutil.ToFloat64(stats.Counter(upstream.StatHealthCheckSuccess)) >= 1
	}, 3*time.Second, 10*time.Millisecond)
	require.True(t, host.Healthy())

	// A failing probe on the next interval sets the flag and drops the
	// host from the healthy views.
	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	prober.set(StateUnhealthy)
	clock.Advance(15 * time.Second)
	require.Eventually(t, func() bool {
		return host.HealthFlagGet(upstream.FailedActiveHC)
	}, 3*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool {
		return len(c.HealthyHosts()) == 0
	}, 3*time.Second, 10*time.Millisecond)
	require.Len(t, c.Hosts(), 1, "failing health checks never change membership")

	// Recovery clears the flag.
	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	prober.set(StateHealthy)
	clock.Advance(15 * time.Second)
	require.Eventually(t, func() bool {
		return host.Healthy() && len(c.HealthyHosts()) == 1
	}, 3*time.Second, 10*time.Millisecond)
}

func TestCheckerSetUnhealthyTakesEffectImmediately(t *testing.T) {
	t.Parallel()
	clock := clocktest.NewFakeClock()
	prober := &stubProber{}
	prober.set(StateUnhealthy)
	factory := NewCheckerFactory(prober, WithClock(clock))

	c := newCheckedCluster(t, factory, "10.0.0.1:80")
	host := c.Hosts()[0]

	// Wait until the flag is set (the immediate first probe fails), then
	// verify a passive report keeps it set synchronously.
	require.Eventually(t, func() bool {
		return host.HealthFlagGet(upstream.FailedActiveHC)
	}, 3*time.Second, 10*time.Millisecond)

	host.HealthFlagClear(upstream.FailedActiveHC)
	host.HealthChecker().SetUnhealthy()
	require.True(t, host.HealthFlagGet(upstream.FailedActiveHC))
}

func TestHTTPProber(t *testing.T) {
	t.Parallel()
	var status atomic.Int32
	status.Store(http.StatusOK)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/healthz" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(int(status.Load()))
	}))
	defer server.Close()
	hostPort := server.Listener.Addr().String()

	prober := NewHTTPProber(server.Client(), "http", "/healthz")
	host := hostDescription{hostPort: hostPort}

	require.Equal(t, StateHealthy, prober.Probe(context.Background(), host))

	status.Store(http.StatusServiceUnavailable)
	require.Equal(t, StateUnhealthy, prober.Probe(context.Background(), host))

	// A host that refuses connections is unhealthy, not an error.
	require.Equal(t, StateUnhealthy, prober.Probe(context.Background(), hostDescription{hostPort: "127.0.0.1:1"}))
}

func TestTCPProber(t *testing.T) {
	t.Parallel()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer listener.Close()
	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}
			_ = conn.Close()
		}
	}()

	prober := NewTCPProber()
	require.Equal(t, StateHealthy, prober.Probe(context.Background(), hostDescription{hostPort: listener.Addr().String()}))
	require.Equal(t, StateUnhealthy, prober.Probe(context.Background(), hostDescription{hostPort: "127.0.0.1:1"}))
}

// hostDescription is a minimal HostDescription for prober tests.
type hostDescription struct {
	hostPort string
}

func (h hostDescription) Address() string             { return h.hostPort }
func (h hostDescription) Hostname() string            { return "" }
func (h hostDescription) Locality() resolver.Locality { return resolver.Locality{} }
func (h hostDescription) Cluster() upstream.ClusterInfo {
	return nil
}
