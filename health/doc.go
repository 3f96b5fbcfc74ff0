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

// Package health implements active health checking for upstream
// clusters. A checker runs one probing process per cluster member,
// started and stopped as membership deltas arrive, and is the only
// writer of the FailedActiveHC health flag. Probe outcomes flip the
// flag and refresh the cluster's healthy views; they never remove a
// host from membership -- that is discovery's job.
//
// Probers are single-shot and pluggable: HTTP (expects a 2xx from a
// check path), TCP (a successful dial), and gRPC (the standard
// grpc.health.v1 protocol).
package health
