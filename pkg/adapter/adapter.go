// Package adapter defines the contract between the server and the network
// protocol it serves.
package adapter

import (
	"context"
	"net"
)

// Adapter serves one protocol on a listener prepared by the server.
//
// Lifecycle:
//  1. The server binds the socket, optionally detaches, then calls Listen
//  2. Serve runs the accept loop on the resulting listener
//  3. Cancelling ctx or calling Stop closes the listener and drains
//     every connection before Serve returns
//
// Serve is called once per Adapter. Stop may be called at any time and more
// than once.
type Adapter interface {
	// Serve accepts connections on ln until ctx is done or Stop is called.
	// ln is owned by the adapter from this point on.
	Serve(ctx context.Context, ln net.Listener) error

	// Stop initiates shutdown and waits for Serve to finish or ctx to end.
	Stop(ctx context.Context) error

	// Protocol returns a short name used in logs.
	Protocol() string

	// Port returns the configured TCP port.
	Port() int
}
