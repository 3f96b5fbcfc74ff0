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

// Package network provides the single-threaded execution context
// ([Dispatcher]) that worker threads use for upstream I/O, and the
// asynchronous [ClientConnection] created against an upstream host.
//
// A connection is created in the connecting state and returned
// immediately; the dial starts on Connect and its outcome is delivered
// as a [ConnectionEvent] on the owning dispatcher. A failed dial never
// surfaces as an error return -- the connection simply transitions to
// the closed state with [EventConnectFailed]. Event callbacks are
// registered between creation and Connect, so no caller can miss the
// dial outcome.
package network
