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

package upstream

import "sync/atomic"

// Resource is one admission-control budget (e.g. connections in
// flight). Counters serialize internally; budgets are shared across all
// workers routing to the cluster.
type Resource interface {
	// CanCreate reports whether the budget has room for one more.
	CanCreate() bool
	// Inc consumes one unit of the budget.
	Inc()
	// Dec returns one unit of the budget. Returning more than was
	// consumed is a programming error and panics.
	Dec()
	// Max returns the budget limit.
	Max() uint64
	// Count returns the currently consumed amount.
	Count() uint64
}

// ResourceManager holds the admission-control budgets a cluster exposes
// for one priority tier.
type ResourceManager interface {
	Connections() Resource
	PendingRequests() Resource
	Requests() Resource
	Retries() Resource
}

// ResourceLimits configures the budgets of one priority tier. A zero
// value falls back to the corresponding default.
type ResourceLimits struct {
	MaxConnections     uint64
	MaxPendingRequests uint64
	MaxRequests        uint64
	MaxRetries         uint64
}

// Default circuit-breaker budgets, matching common proxy defaults.
const (
	DefaultMaxConnections     = 1024
	DefaultMaxPendingRequests = 1024
	DefaultMaxRequests        = 1024
	DefaultMaxRetries         = 3
)

func (l ResourceLimits) withDefaults() ResourceLimits {
	if l.MaxConnections == 0 {
		l.MaxConnections = DefaultMaxConnections
	}
	if l.MaxPendingRequests == 0 {
		l.MaxPendingRequests = DefaultMaxPendingRequests
	}
	if l.MaxRequests == 0 {
		l.MaxRequests = DefaultMaxRequests
	}
	if l.MaxRetries == 0 {
		l.MaxRetries = DefaultMaxRetries
	}
	return l
}

// NewResourceManager creates a resource manager with the given limits,
// applying defaults for zero fields.
func NewResourceManager(limits ResourceLimits) ResourceManager {
	limits = limits.withDefaults()
	return &resourceManager{
		connections:     budget{max: limits.MaxConnections},
		pendingRequests: budget{max: limits.MaxPendingRequests},
		requests:        budget{max: limits.MaxRequests},
		retries:         budget{max: limits.MaxRetries},
	}
}

type resourceManager struct {
	connections     budget
	pendingRequests budget
	requests        budget
	retries         budget
}

func (m *resourceManager) Connections() Resource     { return &m.connections }
func (m *resourceManager) PendingRequests() Resource { return &m.pendingRequests }
func (m *resourceManager) Requests() Resource        { return &m.requests }
func (m *resourceManager) Retries() Resource         { return &m.retries }

type budget struct {
	max   uint64
	count atomic.Int64
}

func (b *budget) CanCreate() bool {
	return uint64(b.count.Load()) < b.max
}

func (b *budget) Inc() {
	b.count.Add(1)
}

func (b *budget) Dec() {
	if b.count.Add(-1) < 0 {
		panic("upstream: resource budget released more than it was consumed")
	}
}

func (b *budget) Max() uint64 {
	return b.max
}

func (b *budget) Count() uint64 {
	count := b.count.Load()
	if count < 0 {
		return 0
	}
	return uint64(count)
}
