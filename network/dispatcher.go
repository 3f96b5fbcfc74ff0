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

package network

import "sync"

// Dispatcher is a single-threaded execution context. Functions posted
// to a dispatcher run serially, in order, on one goroutine. Each worker
// owns exactly one dispatcher; everything that touches a worker's
// connections runs on it.
type Dispatcher interface {
	// Post schedules fn to run on the dispatcher goroutine. It never
	// blocks on fn's execution. Posting to a closed dispatcher is a
	// no-op.
	Post(fn func())
}

// EventLoop is the standard Dispatcher implementation: a single
// goroutine draining a task queue.
type EventLoop struct {
	tasks     chan func()
	quit      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// NewEventLoop creates an event loop and starts its goroutine.
func NewEventLoop() *EventLoop {
	loop := &EventLoop{
		tasks: make(chan func(), 1024),
		quit:  make(chan struct{}),
		done:  make(chan struct{}),
	}
	go loop.run()
	return loop
}

func (l *EventLoop) run() {
	defer close(l.done)
	for {
		select {
		case <-l.quit:
			// Drain whatever was posted before close.
			for {
				select {
				case fn := <-l.tasks:
					fn()
				default:
					return
				}
			}
		case fn := <-l.tasks:
			fn()
		}
	}
}

// Post implements Dispatcher.
func (l *EventLoop) Post(fn func()) {
	select {
	case <-l.quit:
	case l.tasks <- fn:
	}
}

// Close stops the loop after draining already-posted tasks. It does not
// return until the loop goroutine has exited.
func (l *EventLoop) Close() error {
	l.closeOnce.Do(func() {
		close(l.quit)
	})
	<-l.done
	return nil
}
