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

import (
	"sync"

	"github.com/hypergig/envoy/resolver"
)

// HostSetReplica is a per-worker copy of a cluster's primary host set.
// It shares Host objects with the primary (so health flags are always
// current on the shared hosts) and converges its membership views by
// subscribing to the primary's membership deltas. Workers read their
// replica instead of the primary so that a worker-local locality can be
// applied and so reads never contend with the control goroutine's
// update bookkeeping.
type HostSetReplica struct {
	*baseHostSet
	primary   HostSet
	handle    CallbackHandle
	closeOnce sync.Once
}

// NewHostSetReplica creates a replica of primary partitioned around the
// given local locality. The replica immediately adopts the primary's
// current membership.
func NewHostSetReplica(primary HostSet, localLocality resolver.Locality) *HostSetReplica {
	r := &HostSetReplica{
		baseHostSet: newBaseHostSet(localLocality),
		primary:     primary,
	}
	r.handle = primary.AddMemberUpdateCb(func(_, _ []Host) {
		r.sync()
	})
	r.sync()
	return r
}

func (r *HostSetReplica) sync() {
	r.UpdateHosts(r.primary.Hosts())
}

// Close detaches the replica from the primary. The replica's last
// snapshot remains readable. Closing more than once is harmless.
func (r *HostSetReplica) Close() error {
	r.closeOnce.Do(r.handle.Remove)
	return nil
}
