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

// Package resolver provides the discovery feed for upstream clusters.
// Discovery is the process of resolving a cluster's target into the
// authoritative set of backend addresses -- where an address is a
// host:port plus an optional locality, weight, and custom metadata.
//
// It contains the core interface ([Resolver]) that can be implemented
// to create a custom discovery strategy. The interface is general
// enough that it can support any form of discovery, including ones
// backed by push mechanisms (like watching resources in etcd or
// Kubernetes, or an xDS management server).
//
// Every delivery to a [Receiver] is a full authoritative set, never an
// incremental patch: the consumer diffs consecutive deliveries itself.
//
// # Implementations
//
// This package contains a polling implementation that drives a
// single-shot [ResolveProber] whenever the result-set TTL expires. The
// one prober included uses DNS via a [net.Resolver]. It also contains a
// static resolver for clusters whose membership is fixed in
// configuration; it delivers its address list immediately, which is
// what lets statically configured clusters finish initialization
// without waiting on I/O.
package resolver
