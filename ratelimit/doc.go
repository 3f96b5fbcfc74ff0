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

// Package ratelimit implements a client for the v3 rate limit service
// protocol. The rate limit service is itself an upstream cluster: the
// client factory is bound to a cluster by name at configuration time
// (an unknown name is a configuration error and fails fast) and each
// client dials a currently healthy member of that cluster. Call
// outcomes are reported to the member's outlier detector monitor, so a
// misbehaving rate limit backend is ejected like any other upstream.
//
// A transport or protocol error yields StatusError; the caller decides
// whether to fail open or closed.
package ratelimit
