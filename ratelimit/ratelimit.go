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

package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	commonv3 "github.com/envoyproxy/go-control-plane/envoy/extensions/common/ratelimit/v3"
	rlsv3 "github.com/envoyproxy/go-control-plane/envoy/service/ratelimit/v3"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/hypergig/envoy/upstream"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

var (
	// ErrUnknownCluster is returned when a client factory is configured
	// against a cluster name the manager does not know.
	ErrUnknownCluster = errors.New("ratelimit: unknown cluster")
	// ErrNoHealthyUpstream is returned from Limit when the bound cluster
	// has no healthy member to dial.
	ErrNoHealthyUpstream = errors.New("ratelimit: no healthy upstream")
)

// DescriptorEntry is one key/value pair of a descriptor.
type DescriptorEntry struct {
	Key   string
	Value string
}

// Descriptor is an ordered list of entries identifying one quota to
// check, e.g. {("generic_key","global")} or
// {("header_match","login"),("remote_address","10.0.0.1")}.
type Descriptor struct {
	Entries []DescriptorEntry
}

// LimitStatus is the verdict of one rate limit check.
type LimitStatus int

const (
	// StatusOK means the request is within limits.
	StatusOK LimitStatus = iota
	// StatusOverLimit means the request is over limit and should be
	// rejected.
	StatusOverLimit
	// StatusError means the check could not be completed.
	StatusError
)

func (s LimitStatus) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusOverLimit:
		return "over_limit"
	case StatusError:
		return "error"
	default:
		return fmt.Sprintf("LimitStatus(%d)", int(s))
	}
}

// Client checks request quotas against the rate limit service.
type Client interface {
	io.Closer
	// Limit checks the given descriptors under domain, counting the
	// request hitsAddend times (0 is treated as 1 by the service). On
	// StatusError the underlying cause is also returned.
	Limit(ctx context.Context, domain string, descriptors []Descriptor, hitsAddend uint32) (LimitStatus, error)
}

// FactoryOption configures a client factory.
type FactoryOption interface {
	apply(*factoryOptions)
}

type factoryOptions struct {
	logger   log.Logger
	dialOpts []grpc.DialOption
}

// WithLogger supplies the logger limit-service errors are reported to.
// Defaults to a nop logger.
func WithLogger(logger log.Logger) FactoryOption {
	return factoryOptionFunc(func(o *factoryOptions) {
		o.logger = logger
	})
}

// WithDialOptions replaces the gRPC dial options used to reach the rate
// limit service. Defaults to insecure transport credentials.
func WithDialOptions(opts ...grpc.DialOption) FactoryOption {
	return factoryOptionFunc(func(o *factoryOptions) {
		o.dialOpts = opts
	})
}

type factoryOptionFunc func(*factoryOptions)

func (f factoryOptionFunc) apply(o *factoryOptions) {
	f(o)
}

// GrpcClientFactory creates clients bound to one rate limit service
// cluster.
type GrpcClientFactory struct {
	cluster upstream.Cluster
	options factoryOptions
}

// NewGrpcClientFactory binds a factory to the named cluster of manager.
// The cluster must already be registered; a missing name fails fast
// with ErrUnknownCluster rather than at the first check.
func NewGrpcClientFactory(manager *upstream.ClusterManager, clusterName string, opts ...FactoryOption) (*GrpcClientFactory, error) {
	cluster := manager.Get(clusterName)
	if cluster == nil {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCluster, clusterName)
	}
	o := factoryOptions{
		logger:   log.NewNopLogger(),
		dialOpts: []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())},
	}
	for _, opt := range opts {
		opt.apply(&o)
	}
	return &GrpcClientFactory{cluster: cluster, options: o}, nil
}

// New creates a client. Clients are cheap; the expected pattern is one
// per worker. The channel to the service is established lazily on the
// first Limit call and re-established when its host becomes unhealthy
// or leaves membership.
func (f *GrpcClientFactory) New() Client {
	return &grpcClient{
		factory: f,
		logger:  log.With(f.options.logger, "component", "ratelimit", "cluster", f.cluster.Info().Name()),
	}
}

type grpcClient struct {
	factory *GrpcClientFactory
	logger  log.Logger

	mu   sync.Mutex
	conn *grpc.ClientConn
	host upstream.Host
	rls  rlsv3.RateLimitServiceClient
}

func (c *grpcClient) Limit(ctx context.Context, domain string, descriptors []Descriptor, hitsAddend uint32) (LimitStatus, error) {
	host, rls, err := c.channel()
	if err != nil {
		return StatusError, err
	}
	req := &rlsv3.RateLimitRequest{
		Domain:      domain,
		Descriptors: toProtoDescriptors(descriptors),
		HitsAddend:  hitsAddend,
	}
	resp, err := rls.ShouldRateLimit(ctx, req)
	if monitor := host.OutlierDetectorMonitor(); monitor != nil {
		monitor.PutResult(err == nil)
	}
	if err != nil {
		level.Warn(c.logger).Log("msg", "rate limit check failed", "host", host.Address(), "err", err)
		return StatusError, err
	}
	switch resp.GetOverallCode() {
	case rlsv3.RateLimitResponse_OK:
		return StatusOK, nil
	case rlsv3.RateLimitResponse_OVER_LIMIT:
		return StatusOverLimit, nil
	default:
		return StatusError, fmt.Errorf("ratelimit: service returned code %v", resp.GetOverallCode())
	}
}

// channel returns the current channel, dialing a healthy cluster member
// if there is none or the previous host is no longer usable.
func (c *grpcClient) channel() (upstream.Host, rlsv3.RateLimitServiceClient, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil && c.host.Healthy() && c.hostStillMember() {
		return c.host, c.rls, nil
	}
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	hosts := c.factory.cluster.HealthyHosts()
	if len(hosts) == 0 {
		c.factory.cluster.RequestRefresh()
		return nil, nil, ErrNoHealthyUpstream
	}
	host := hosts[0]
	conn, err := grpc.NewClient(host.Address(), c.factory.options.dialOpts...)
	if err != nil {
		return nil, nil, fmt.Errorf("ratelimit: dial %s: %w", host.Address(), err)
	}
	c.conn = conn
	c.host = host
	c.rls = rlsv3.NewRateLimitServiceClient(conn)
	return c.host, c.rls, nil
}

// hostStillMember reports whether the cached host is still a member of
// the bound cluster. A host that left membership keeps zeroed health
// flags forever, so the health check alone cannot detect a departed
// backend.
func (c *grpcClient) hostStillMember() bool {
	for _, h := range c.factory.cluster.Hosts() {
		if h == c.host {
			return true
		}
	}
	return false
}

func (c *grpcClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

func toProtoDescriptors(descriptors []Descriptor) []*commonv3.RateLimitDescriptor {
	out := make([]*commonv3.RateLimitDescriptor, 0, len(descriptors))
	for _, d := range descriptors {
		entries := make([]*commonv3.RateLimitDescriptor_Entry, 0, len(d.Entries))
		for _, e := range d.Entries {
			entries = append(entries, &commonv3.RateLimitDescriptor_Entry{Key: e.Key, Value: e.Value})
		}
		out = append(out, &commonv3.RateLimitDescriptor{Entries: entries})
	}
	return out
}
