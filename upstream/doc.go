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

// Package upstream is the authoritative model of upstream hosts, their
// health, and cluster membership. It tracks the set of backend
// destinations for a named cluster, maintains a health view of each
// host (fed by active health checks and outlier ejection), partitions
// hosts by network locality, and propagates membership deltas to every
// subscriber while traffic is concurrently flowing.
//
// The consistency contract is eventual: a [HostSet] hands out immutable
// snapshots published by a single atomic pointer swap, so the request
// path reads membership with one pointer load and no locks, while a
// separate control goroutine applies discovery updates and health
// flips. A host may appear healthy in a snapshot moments before its
// flags change; consumers must not assume liveness between snapshot and
// use.
//
// Load-balancer selection policies are out of scope: this package
// defines the data structures and consistency contract they read from,
// not the selection algorithm.
package upstream
