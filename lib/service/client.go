// Copyright 2026 The Kiln Authors
// SPDX-License-Identifier: Apache-2.0

package service

import (
	"context"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/kiln-build/kiln/lib/codec"
)

// dialTimeout is the maximum time to wait for a connection to the
// daemon socket. Separate from the response wait: it covers only the
// connect phase.
const dialTimeout = 5 * time.Second

// responseReadTimeout is how long a Call waits for the daemon's
// response after writing the request. A compile action can run a
// full build before answering, so the window covers the daemon's
// build timeout with queueing slack on top. A context with an
// earlier deadline shortens the wait.
const responseReadTimeout = 15 * time.Minute

// maxResponseBytes caps one CBOR response. Compiled artifacts are
// small, but the cap keeps a confused server from making the client
// buffer without bound.
const maxResponseBytes = 64 << 20

// ServiceError is returned by Call when the daemon answers with
// ok=false. It carries the daemon's error message and the action
// that failed.
type ServiceError struct {
	Action  string
	Message string
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("service error on %q: %s", e.Action, e.Message)
}

// Client sends CBOR requests to the build daemon's socket. Each Call
// opens a new connection, matching the server's one-request-per-
// connection model, so a Client carries no state and is safe for
// concurrent use.
type Client struct {
	socketPath string
}

// NewClient creates a client for the daemon socket at socketPath.
func NewClient(socketPath string) *Client {
	return &Client{socketPath: socketPath}
}

// Call sends a request for action and decodes the response.
//
// fields holds the action-specific request fields; the client adds
// "action" itself. Pass nil for actions that take no parameters. On
// success, if result is non-nil and the response carries data, the
// data is CBOR-decoded into result.
//
// A daemon-reported failure returns a *ServiceError. Connection and
// encoding failures return plain errors.
func (c *Client) Call(ctx context.Context, action string, fields map[string]any, result any) error {
	request := make(map[string]any, len(fields)+1)
	for key, value := range fields {
		request[key] = value
	}
	request["action"] = action

	response, err := c.send(ctx, request)
	if err != nil {
		return fmt.Errorf("calling %q on %s: %w", action, c.socketPath, err)
	}

	if !response.OK {
		return &ServiceError{Action: action, Message: response.Error}
	}

	if result != nil && len(response.Data) > 0 {
		if err := codec.Unmarshal(response.Data, result); err != nil {
			return fmt.Errorf("decoding response data for %q: %w", action, err)
		}
	}
	return nil
}

// send connects, writes the request, and reads the response.
func (c *Client) send(ctx context.Context, request any) (*Response, error) {
	dialer := net.Dialer{Timeout: dialTimeout}
	conn, err := dialer.DialContext(ctx, "unix", c.socketPath)
	if err != nil {
		return nil, fmt.Errorf("connecting: %w", err)
	}
	defer conn.Close()

	if err := codec.NewEncoder(conn).Encode(request); err != nil {
		return nil, fmt.Errorf("writing request: %w", err)
	}

	// Half-close the write side so the server's read loop sees a
	// clean EOF. CBOR is self-delimiting, so this is hygiene rather
	// than framing.
	if unixConn, ok := conn.(*net.UnixConn); ok {
		unixConn.CloseWrite()
	}

	deadline := time.Now().Add(responseReadTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	conn.SetReadDeadline(deadline)

	var response Response
	if err := codec.NewDecoder(io.LimitReader(conn, maxResponseBytes)).Decode(&response); err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	return &response, nil
}
