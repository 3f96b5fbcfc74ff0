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
)

// NewStaticResolver creates a resolver that always returns the given
// fixed set of addresses, ignoring the target name. The set is
// delivered to the receiver immediately when a task is created, and
// re-delivered on every refresh signal. Clusters configured with a
// static resolver therefore complete initialization synchronously.
func NewStaticResolver(addresses []Address) Resolver {
	clone := make([]Address, len(addresses))
	copy(clone, addresses)
	return &staticResolver{addresses: clone}
}

type staticResolver struct {
	addresses []Address
}

func (r *staticResolver) New(
	ctx context.Context,
	_ string,
	receiver Receiver,
	refresh <-chan struct{},
) io.Closer {
	// The first delivery happens synchronously so that callers observe
	// membership as soon as the task exists.
	receiver.OnResolve(r.addresses)

	ctx, cancel := context.WithCancel(ctx)
	task := &staticResolverTask{
		cancel:     cancel,
		doneSignal: make(chan struct{}),
	}
	go func() {
		defer close(task.doneSignal)
		for {
			select {
			case <-ctx.Done():
				return
			case <-refresh:
				receiver.OnResolve(r.addresses)
			}
		}
	}()
	return task
}

type staticResolverTask struct {
	cancel     context.CancelFunc
	doneSignal chan struct{}
}

func (t *staticResolverTask) Close() error {
	t.cancel()
	<-t.doneSignal
	return nil
}
