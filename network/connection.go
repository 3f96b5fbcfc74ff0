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
	"crypto/tls"
	"fmt"
	"net"
	"sync"
	"time"
)

// ConnectionState is the lifecycle state of a client connection.
type ConnectionState int

const (
	StateConnecting ConnectionState = iota
	StateOpen
	StateClosed
)

func (s ConnectionState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("ConnectionState(%d)", int(s))
	}
}

// ConnectionEvent describes a state transition of a client connection.
type ConnectionEvent int

const (
	// EventConnected fires once when the dial completes successfully.
	EventConnected ConnectionEvent = iota
	// EventConnectFailed fires once when the dial fails. The connection
	// is in the closed state by the time callbacks observe it.
	EventConnectFailed
	// EventLocalClose fires when the local side closes the connection.
	// It also fires for a connection closed while its dial was still in
	// flight, in which case the dial outcome is discarded.
	EventLocalClose
)

// ClientConnection is an outbound connection to an upstream host. Its
// dial runs asynchronously; callers observe completion through event
// callbacks delivered on the owning dispatcher.
type ClientConnection interface {
	// State returns the current connection state. Safe to call from any
	// goroutine.
	State() ConnectionState
	// RemoteHostPort returns the address the connection was created for.
	RemoteHostPort() string
	// AddEventCallback registers a callback for connection events.
	// Callbacks run on the owning dispatcher in registration order.
	// Callbacks must be registered before Connect to observe the dial
	// outcome.
	AddEventCallback(cb func(ConnectionEvent))
	// Connect starts the asynchronous dial. It must be called exactly
	// once, after all interested event callbacks are registered.
	Connect()
	// Conn returns the underlying net.Conn once the connection is open,
	// or nil before then and after close.
	Conn() net.Conn
	// Close closes the connection. Closing a connection that never
	// opened, or closing twice, is harmless.
	Close() error
}

// ConnectOptions carries per-cluster dial parameters.
type ConnectOptions struct {
	// Timeout bounds the dial. Zero means no bound.
	Timeout time.Duration
	// TLS, when non-nil, upgrades the connection with a TLS client
	// handshake during dial.
	TLS *tls.Config
	// SourceAddress, when non-nil, is the local address to bind
	// outbound connections to.
	SourceAddress *net.TCPAddr
}

// NewClientConnection creates a connection to hostPort in the
// connecting state. The dial does not start until Connect is called;
// its outcome arrives as an event on the dispatcher.
func NewClientConnection(disp Dispatcher, hostPort string, opts ConnectOptions) ClientConnection {
	dialer := &net.Dialer{Timeout: opts.Timeout}
	if opts.SourceAddress != nil {
		dialer.LocalAddr = opts.SourceAddress
	}
	return &clientConnection{
		disp:     disp,
		hostPort: hostPort,
		dialer:   dialer,
		tlsCfg:   opts.TLS,
		state:    StateConnecting,
	}
}

type clientConnection struct {
	disp     Dispatcher
	hostPort string
	dialer   *net.Dialer
	tlsCfg   *tls.Config

	mu    sync.Mutex
	state ConnectionState
	conn  net.Conn
	cbs   []func(ConnectionEvent)
}

func (c *clientConnection) Connect() {
	go func() {
		var (
			raw net.Conn
			err error
		)
		if c.tlsCfg != nil {
			raw, err = tls.DialWithDialer(c.dialer, "tcp", c.hostPort, c.tlsCfg)
		} else {
			raw, err = c.dialer.Dial("tcp", c.hostPort)
		}
		c.disp.Post(func() {
			c.onDialDone(raw, err)
		})
	}()
}

func (c *clientConnection) onDialDone(raw net.Conn, err error) {
	c.mu.Lock()
	if c.state != StateConnecting {
		// Closed while dialing; discard the socket.
		c.mu.Unlock()
		if raw != nil {
			_ = raw.Close()
		}
		return
	}
	var event ConnectionEvent
	if err != nil {
		c.state = StateClosed
		event = EventConnectFailed
	} else {
		c.state = StateOpen
		c.conn = raw
		event = EventConnected
	}
	cbs := append([]func(ConnectionEvent){}, c.cbs...)
	c.mu.Unlock()

	for _, cb := range cbs {
		cb(event)
	}
}

func (c *clientConnection) State() ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *clientConnection) RemoteHostPort() string {
	return c.hostPort
}

func (c *clientConnection) AddEventCallback(cb func(ConnectionEvent)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cbs = append(c.cbs, cb)
}

func (c *clientConnection) Conn() net.Conn {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateOpen {
		return nil
	}
	return c.conn
}

func (c *clientConnection) Close() error {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return nil
	}
	c.state = StateClosed
	raw := c.conn
	c.conn = nil
	cbs := append([]func(ConnectionEvent){}, c.cbs...)
	c.mu.Unlock()

	var err error
	if raw != nil {
		err = raw.Close()
	}
	// Deliver EventLocalClose for connecting connections too, so owners
	// tracking connection lifetimes observe every close exactly once.
	c.disp.Post(func() {
		for _, cb := range cbs {
			cb(EventLocalClose)
		}
	})
	return err
}
