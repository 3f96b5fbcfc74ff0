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

import (
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestEventLoopRunsTasksInOrder(t *testing.T) {
	t.Parallel()
	loop := NewEventLoop()

	var mu sync.Mutex
	var order []int
	done := make(chan struct{})
	for i := 0; i < 100; i++ {
		i := i
		loop.Post(func() {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			if i == 99 {
				close(done)
			}
		})
	}
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for tasks")
	}
	require.NoError(t, loop.Close())

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, order, 100)
	for i, got := range order {
		require.Equal(t, i, got)
	}
}

func TestEventLoopCloseDrainsAndIgnoresLatePosts(t *testing.T) {
	t.Parallel()
	loop := NewEventLoop()
	var ran sync.WaitGroup
	ran.Add(1)
	loop.Post(ran.Done)
	require.NoError(t, loop.Close())
	ran.Wait()

	// Posting after close must not block or run.
	loop.Post(func() {
		t.Error("task ran after close")
	})
}

func TestClientConnectionDialSuccess(t *testing.T) {
	t.Parallel()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer listener.Close()
	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}
			defer conn.Close()
		}
	}()

	loop := NewEventLoop()
	defer loop.Close()

	conn := NewClientConnection(loop, listener.Addr().String(), ConnectOptions{Timeout: 3 * time.Second})
	require.Equal(t, StateConnecting, conn.State())
	require.Equal(t, listener.Addr().String(), conn.RemoteHostPort())
	require.Nil(t, conn.Conn())

	events := make(chan ConnectionEvent, 4)
	conn.AddEventCallback(func(event ConnectionEvent) {
		events <- event
	})
	conn.Connect()

	require.Equal(t, EventConnected, waitEvent(t, events))
	require.Equal(t, StateOpen, conn.State())
	require.NotNil(t, conn.Conn())

	require.NoError(t, conn.Close())
	require.Equal(t, EventLocalClose, waitEvent(t, events))
	require.Equal(t, StateClosed, conn.State())
	require.Nil(t, conn.Conn())

	// Closing twice is harmless.
	require.NoError(t, conn.Close())
}

func TestClientConnectionDialFailure(t *testing.T) {
	t.Parallel()
	// Grab a port and close it again so the dial is refused.
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := listener.Addr().String()
	require.NoError(t, listener.Close())

	loop := NewEventLoop()
	defer loop.Close()

	conn := NewClientConnection(loop, addr, ConnectOptions{Timeout: 3 * time.Second})
	events := make(chan ConnectionEvent, 4)
	conn.AddEventCallback(func(event ConnectionEvent) {
		events <- event
	})
	conn.Connect()

	// A failed dial surfaces as a closed connection plus an event,
	// never as an error return.
	require.Equal(t, EventConnectFailed, waitEvent(t, events))
	require.Equal(t, StateClosed, conn.State())
	require.Nil(t, conn.Conn())
	require.NoError(t, conn.Close())
}

func TestClientConnectionCloseBeforeDialCompletes(t *testing.T) {
	t.Parallel()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer listener.Close()

	loop := NewEventLoop()
	defer loop.Close()

	conn := NewClientConnection(loop, listener.Addr().String(), ConnectOptions{Timeout: 3 * time.Second})
	events := make(chan ConnectionEvent, 4)
	conn.AddEventCallback(func(event ConnectionEvent) {
		events <- event
	})

	// Close before Connect: the close is observed as a local close, and
	// the dial outcome is discarded rather than delivered.
	require.NoError(t, conn.Close())
	conn.Connect()
	require.Equal(t, StateClosed, conn.State())
	require.Equal(t, EventLocalClose, waitEvent(t, events))

	time.Sleep(100 * time.Millisecond)
	select {
	case event := <-events:
		t.Fatalf("unexpected event %v after close", event)
	default:
	}
}

func waitEvent(t *testing.T, events <-chan ConnectionEvent) ConnectionEvent {
	t.Helper()
	select {
	case event := <-events:
		return event
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for connection event")
		return 0
	}
}
