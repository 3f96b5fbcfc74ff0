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
	"io"
	"time"

	"github.com/hypergig/envoy/attribute"
	"github.com/hypergig/envoy/internal"
)

// Locality is the hierarchical topology tag of an upstream address,
// used to prefer nearby hosts when routing. Any of the fields may be
// empty. Localities compare by their Key.
type Locality struct {
	Region  string
	Zone    string
	SubZone string
}

// Key returns the canonical string form of the locality, suitable for
// lexicographic ordering of locality buckets.
func (l Locality) Key() string {
	return l.Region + "/" + l.Zone + "/" + l.SubZone
}

// IsZero reports whether no locality information is present.
func (l Locality) IsZero() bool {
	return l == Locality{}
}

// Address is one resolved upstream destination within a delivery.
type Address struct {
	// HostPort stores the host:port pair of the resolved address. It is
	// the identity of the address: two deliveries referring to the same
	// HostPort refer to the same backend.
	HostPort string

	// Hostname is the canonical name the address was resolved from, if
	// the discovery mechanism knows it. May be empty.
	Hostname string

	// Locality is the topology tag of the backend, if known.
	Locality Locality

	// Weight is the load-balancing weight reported by discovery, or 0
	// if discovery has no opinion. Consumers clamp it to their own
	// bounds.
	Weight uint32

	// Attributes is a collection of arbitrary key/value pairs.
	Attributes attribute.Values
}

// Resolver is an interface for continuous discovery.
type Resolver interface {
	// New creates a continuous discovery task for the given target name.
	// When the target is resolved into backend addresses, they are
	// provided to the given receiver.
	//
	// As new result sets arrive (since the set of addresses may change
	// over time), the receiver may be called repeatedly. Each time, the
	// entire set of addresses must be supplied.
	//
	// The resolver may report errors in addition to or instead of
	// addresses, but it should keep trying to resolve (and watch for
	// changes), even in the face of errors, until it is closed or the
	// given context is cancelled.
	//
	// The refresh channel receives signals from the consumer hinting
	// that it may need new results, for example because it ran out of
	// healthy hosts. This may be a no-op. The refresh channel will not
	// be closed until after Close() returns.
	//
	// The Close method on the return value must stop all goroutines and
	// free any resources before returning. After Close returns, there
	// are no subsequent calls to the receiver.
	New(
		ctx context.Context,
		target string,
		receiver Receiver,
		refresh <-chan struct{},
	) io.Closer
}

// Receiver is a client of a resolver and receives the resolved addresses.
type Receiver interface {
	// OnResolve is called when the set of addresses is resolved. It may
	// be called repeatedly as the set of addresses changes over time.
	// Each call must always supply the full set of resolved addresses
	// (no deltas).
	OnResolve([]Address)
	// OnResolveError is called when discovery encounters an error. This
	// can happen at any time, including after addresses are initially
	// resolved.
	OnResolveError(error)
}

// ResolveProber is an interface for types that provide single-shot
// resolution.
type ResolveProber interface {
	// ResolveOnce resolves the given target name once, returning a slice
	// of addresses. The second return value specifies the TTL of the
	// result, or 0 if there is no known TTL value.
	ResolveOnce(ctx context.Context, target string) (results []Address, ttl time.Duration, err error)
}

// NewPollingResolver creates a new resolver that polls an underlying
// single-shot prober whenever the result-set TTL expires. If the
// underlying prober does not return a TTL with the result set,
// defaultTTL is used.
func NewPollingResolver(prober ResolveProber, defaultTTL time.Duration) Resolver {
	return &pollingResolver{
		prober:     prober,
		defaultTTL: defaultTTL,
		clock:      internal.NewRealClock(),
	}
}

type pollingResolver struct {
	prober     ResolveProber
	defaultTTL time.Duration
	clock      internal.Clock
}

func (pr *pollingResolver) New(
	ctx context.Context,
	target string,
	receiver Receiver,
	refresh <-chan struct{},
) io.Closer {
	ctx, cancel := context.WithCancel(ctx)
	task := &pollingResolverTask{
		cancel:     cancel,
		doneSignal: make(chan struct{}),
		refreshCh:  refresh,
		resolver:   pr,
	}
	go task.run(ctx, target, receiver)
	return task
}

type pollingResolverTask struct {
	cancel     context.CancelFunc
	doneSignal chan struct{}
	refreshCh  <-chan struct{}
	resolver   *pollingResolver
}

func (task *pollingResolverTask) Close() error {
	task.cancel()
	<-task.doneSignal
	return nil
}

func (task *pollingResolverTask) run(ctx context.Context, target string, receiver Receiver) {
	defer close(task.doneSignal)
	defer task.cancel()

	for {
		addresses, ttl, err := task.resolver.prober.ResolveOnce(ctx, target)
		if err != nil {
			receiver.OnResolveError(err)
		} else {
			receiver.OnResolve(addresses)
		}

		if ttl == 0 {
			ttl = task.resolver.defaultTTL
		}
		timer := task.resolver.clock.NewTimer(ttl)

		select {
		case <-ctx.Done():
			if !timer.Stop() {
				<-timer.Chan()
			}
			return
		case <-task.refreshCh:
			if !timer.Stop() {
				<-timer.Chan()
			}
			// Re-resolve immediately.
		case <-timer.Chan():
		}
	}
}
