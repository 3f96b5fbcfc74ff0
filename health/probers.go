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
	"net/url"

	"github.com/hypergig/envoy/upstream"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// NewHTTPProber probes hosts with a GET of path (e.g. "/healthz") and
// treats any 2xx response as healthy. A 5xx is unhealthy; anything else,
// including a transport error, is also unhealthy. Pass "https" as the
// scheme for TLS upstreams; the client's transport must then be
// configured accordingly by the caller.
func NewHTTPProber(client *http.Client, scheme, path string) Prober {
	if client == nil {
		client = http.DefaultClient
	}
	return ProberFunc(func(ctx context.Context, host upstream.HostDescription) State {
		checkURL := &url.URL{
			Scheme: scheme,
			Host:   host.Address(),
			Path:   path,
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, checkURL.String(), http.NoBody)
		if err != nil {
			return StateUnhealthy
		}
		resp, err := client.Do(req)
		if err != nil {
			return StateUnhealthy
		}
		_ = resp.Body.Close()
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return StateHealthy
		}
		return StateUnhealthy
	})
}

// NewTCPProber probes hosts by dialing them: a completed connection is
// healthy. It is the cheapest prober and the right default when the
// upstream exposes no check endpoint.
func NewTCPProber() Prober {
	var dialer net.Dialer
	return ProberFunc(func(ctx context.Context, host upstream.HostDescription) State {
		conn, err := dialer.DialContext(ctx, "tcp", host.Address())
		if err != nil {
			return StateUnhealthy
		}
		_ = conn.Close()
		return StateHealthy
	})
}

// NewGRPCProber probes hosts with the standard grpc.health.v1 Check
// RPC. An empty service name queries the server's overall health. The
// channel is established per probe and torn down afterwards, so the
// probe also exercises connectivity.
func NewGRPCProber(service string, dialOpts ...grpc.DialOption) Prober {
	if len(dialOpts) == 0 {
		dialOpts = []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}
	}
	return ProberFunc(func(ctx context.Context, host upstream.HostDescription) State {
		cc, err := grpc.NewClient(host.Address(), dialOpts...)
		if err != nil {
			return StateUnhealthy
		}
		defer func() {
			_ = cc.Close()
		}()
		resp, err := healthpb.NewHealthClient(cc).Check(ctx, &healthpb.HealthCheckRequest{Service: service})
		if err != nil {
			return StateUnhealthy
		}
		if resp.GetStatus() == healthpb.HealthCheckResponse_SERVING {
			return StateHealthy
		}
		return StateUnhealthy
	})
}
