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

package resolver

import (
	"context"
	"net"
	"time"
)

// AddressFamilyAffinity is an option that allows control over the
// preference for which addresses to consider when resolving, based on
// their address family.
type AddressFamilyAffinity int

const (
	// AllFamilies will result in all addresses being used, regardless of
	// their address family.
	AllFamilies AddressFamilyAffinity = iota

	// PreferIPv4 will result in only IPv4 addresses being used, if any
	// IPv4 addresses are present. If no IPv4 addresses are resolved,
	// then all addresses will be used.
	PreferIPv4

	// PreferIPv6 will result in only IPv6 addresses being used, if any
	// IPv6 addresses are present. If no IPv6 addresses are resolved,
	// then all addresses will be used.
	PreferIPv6
)

// NewDNSResolver creates a new resolver that resolves DNS names.
// You can specify which kind of network addresses to resolve with the
// network parameter, which must be one of "ip", "ip4" or "ip6". Note
// that because net.Resolver does not expose record TTL values, this
// resolver re-resolves on the fixed ttl parameter. Hosts resolved via
// DNS carry no locality; locality-aware clusters use a discovery
// mechanism that supplies one.
func NewDNSResolver(
	netResolver *net.Resolver,
	network string,
	ttl time.Duration,
	affinity AddressFamilyAffinity,
) Resolver {
	return NewPollingResolver(
		&dnsResolveProber{
			resolver: netResolver,
			network:  network,
			affinity: affinity,
		},
		ttl,
	)
}

type dnsResolveProber struct {
	resolver *net.Resolver
	network  string
	affinity AddressFamilyAffinity
}

func (r *dnsResolveProber) ResolveOnce(
	ctx context.Context,
	target string,
) ([]Address, time.Duration, error) {
	host, port, err := net.SplitHostPort(target)
	if err != nil {
		// Assume this is a bare hostname without a port.
		host = target
		port = "443"
	}
	addresses, err := r.resolver.LookupNetIP(ctx, r.network, host)
	if err != nil {
		return nil, 0, err
	}
	switch r.affinity {
	case AllFamilies:
	case PreferIPv4:
		ip4Addresses := addresses[:0]
		for _, address := range addresses {
			if address.Is4() || address.Is4In6() {
				ip4Addresses = append(ip4Addresses, address)
			}
		}
		if len(ip4Addresses) > 0 {
			addresses = ip4Addresses
		}
	case PreferIPv6:
		ip6Addresses := addresses[:0]
		for _, address := range addresses {
			if address.Is6() && !address.Is4In6() {
				ip6Addresses = append(ip6Addresses, address)
			}
		}
		if len(ip6Addresses) > 0 {
			addresses = ip6Addresses
		}
	}
	result := make([]Address, len(addresses))
	for i, address := range addresses {
		result[i].HostPort = net.JoinHostPort(address.Unmap().String(), port)
		result[i].Hostname = host
	}
	return result, 0, nil
}
