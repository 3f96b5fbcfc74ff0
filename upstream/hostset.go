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
	"sort"
	"sync"
	"sync/atomic"

	"github.com/hypergig/envoy/resolver"
)

// hostSetSnapshot is one immutable membership view. Readers obtain the
// whole tuple with a single pointer load; it is never mutated after
// publication.
type hostSetSnapshot struct {
	all                []Host
	healthy            []Host
	perLocality        [][]Host
	healthyPerLocality [][]Host
}

// baseHostSet implements HostSet with an atomically swapped snapshot.
// Mutations (UpdateHosts, RefreshHealth) are expected to come from a
// single control goroutine; reads may come from anywhere and never
// block.
type baseHostSet struct {
	localLocality resolver.Locality
	snap          atomic.Pointer[hostSetSnapshot]

	// updateMu serializes snapshot rebuilds. It is not held while
	// membership callbacks run.
	updateMu sync.Mutex

	cbMu     sync.Mutex
	cbs      map[uint64]MemberUpdateCb
	nextCbID uint64
}

func newBaseHostSet(localLocality resolver.Locality) *baseHostSet {
	hs := &baseHostSet{
		localLocality: localLocality,
		cbs:           make(map[uint64]MemberUpdateCb),
	}
	hs.snap.Store(hs.buildSnapshot(nil))
	return hs
}

func (hs *baseHostSet) Hosts() []Host {
	return hs.snap.Load().all
}

func (hs *baseHostSet) HealthyHosts() []Host {
	return hs.snap.Load().healthy
}

func (hs *baseHostSet) HostsPerLocality() [][]Host {
	return hs.snap.Load().perLocality
}

func (hs *baseHostSet) HealthyHostsPerLocality() [][]Host {
	return hs.snap.Load().healthyPerLocality
}

// UpdateHosts replaces the membership with newHosts, rebuilding every
// view and publishing the new snapshot with one atomic swap. It returns
// the delta relative to the previous membership (matched by host
// address) and fires membership callbacks when the delta is non-empty.
func (hs *baseHostSet) UpdateHosts(newHosts []Host) (added, removed []Host) {
	all := make([]Host, len(newHosts))
	copy(all, newHosts)

	hs.updateMu.Lock()
	current := hs.snap.Load().all
	currentByAddr := make(map[string]Host, len(current))
	for _, h := range current {
		currentByAddr[h.Address()] = h
	}
	newByAddr := make(map[string]Host, len(all))
	for _, h := range all {
		newByAddr[h.Address()] = h
		if _, ok := currentByAddr[h.Address()]; !ok {
			added = append(added, h)
		}
	}
	for _, h := range current {
		if _, ok := newByAddr[h.Address()]; !ok {
			removed = append(removed, h)
		}
	}
	hs.snap.Store(hs.buildSnapshot(all))
	hs.updateMu.Unlock()

	if len(added) > 0 || len(removed) > 0 {
		hs.notifyMembers(added, removed)
	}
	return added, removed
}

// RefreshHealth rebuilds the healthy views from the current health
// flags. Membership callbacks do not fire: the membership itself did
// not change.
func (hs *baseHostSet) RefreshHealth() {
	hs.updateMu.Lock()
	defer hs.updateMu.Unlock()
	hs.snap.Store(hs.buildSnapshot(hs.snap.Load().all))
}

func (hs *baseHostSet) buildSnapshot(all []Host) *hostSetSnapshot {
	healthy := make([]Host, 0, len(all))
	for _, h := range all {
		if h.Healthy() {
			healthy = append(healthy, h)
		}
	}
	perLocality := partitionByLocality(all, hs.localLocality)
	return &hostSetSnapshot{
		all:                all,
		healthy:            healthy,
		perLocality:        perLocality,
		healthyPerLocality: filterHealthy(perLocality),
	}
}

// partitionByLocality splits hosts into locality buckets. Bucket 0 is
// always the local locality (possibly empty); remaining buckets are
// sorted lexicographically by locality key. Every host lands in exactly
// one bucket. An empty membership yields an empty partition with no
// buckets at all.
func partitionByLocality(hosts []Host, local resolver.Locality) [][]Host {
	if len(hosts) == 0 {
		return nil
	}
	localKey := local.Key()
	byKey := make(map[string][]Host)
	for _, h := range hosts {
		key := h.Locality().Key()
		byKey[key] = append(byKey[key], h)
	}

	otherKeys := make([]string, 0, len(byKey))
	for key := range byKey {
		if key != localKey {
			otherKeys = append(otherKeys, key)
		}
	}
	sort.Strings(otherKeys)

	out := make([][]Host, 0, len(otherKeys)+1)
	out = append(out, byKey[localKey]) // may be nil: local bucket is always index 0
	for _, key := range otherKeys {
		out = append(out, byKey[key])
	}
	return out
}

// filterHealthy mirrors the bucket structure of perLocality, restricted
// to healthy hosts. Buckets keep their position even when empty so both
// partitions line up index-for-index.
func filterHealthy(perLocality [][]Host) [][]Host {
	out := make([][]Host, len(perLocality))
	for i, bucket := range perLocality {
		var healthy []Host
		for _, h := range bucket {
			if h.Healthy() {
				healthy = append(healthy, h)
			}
		}
		out[i] = healthy
	}
	return out
}

// AddMemberUpdateCb registers cb for membership deltas. Callbacks are
// delivered synchronously, in registration order, on the goroutine that
// applies the update.
func (hs *baseHostSet) AddMemberUpdateCb(cb MemberUpdateCb) CallbackHandle {
	hs.cbMu.Lock()
	defer hs.cbMu.Unlock()
	id := hs.nextCbID
	hs.nextCbID++
	hs.cbs[id] = cb
	return &callbackHandle{owner: hs, id: id}
}

func (hs *baseHostSet) notifyMembers(added, removed []Host) {
	hs.cbMu.Lock()
	ids := make([]uint64, 0, len(hs.cbs))
	for id := range hs.cbs {
		ids = append(ids, id)
	}
	hs.cbMu.Unlock()
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for _, id := range ids {
		// Re-check registration per callback: an earlier callback in
		// this very delivery may have removed a later one.
		hs.cbMu.Lock()
		cb, ok := hs.cbs[id]
		hs.cbMu.Unlock()
		if ok {
			cb(added, removed)
		}
	}
}

type callbackHandle struct {
	owner *baseHostSet
	id    uint64
}

func (h *callbackHandle) Remove() {
	h.owner.cbMu.Lock()
	defer h.owner.cbMu.Unlock()
	if _, ok := h.owner.cbs[h.id]; !ok {
		panic("upstream: membership callback handle removed twice")
	}
	delete(h.owner.cbs, h.id)
}
