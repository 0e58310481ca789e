// Copyright 2026 The Kiln Authors
// SPDX-License-Identifier: Apache-2.0

package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"github.com/kiln-build/kiln/lib/codec"
)

// ActionFunc processes one socket request. raw is the complete CBOR
// request, including the routing "action" field; handlers decode
// their own request type from it.
//
// The returned value is marshaled into the response's "data" field.
// A nil value produces a bare {ok: true}; a returned error produces
// {ok: false, error: ...}.
type ActionFunc func(ctx context.Context, raw []byte) (any, error)

// Response is the wire envelope for every socket response.
type Response struct {
	OK    bool             `cbor:"ok"`
	Error string           `cbor:"error,omitempty"`
	Data  codec.RawMessage `cbor:"data,omitempty"`
}

const (
	// requestReadTimeout bounds how long the server waits for a
	// client to deliver its request. Clients write the request
	// immediately after dialing.
	requestReadTimeout = 30 * time.Second

	// responseWriteTimeout bounds writing the response.
	responseWriteTimeout = 10 * time.Second

	// maxRequestBytes caps one CBOR request. Contract sources are
	// text and run to tens of kilobytes; 4 MiB leaves headroom
	// without letting one connection exhaust memory.
	maxRequestBytes = 4 << 20
)

// SocketServer answers a CBOR request-response protocol on a Unix
// socket. Each connection carries exactly one cycle: the client
// writes one CBOR value, the server answers with one [Response], the
// connection closes.
//
// A compile action can run a full build before answering, so the
// read deadline covers only the request; handler execution is
// bounded by the handler's own timeouts.
//
// Register actions with Handle before calling Serve. Unknown actions
// receive an error response.
type SocketServer struct {
	socketPath string
	handlers   map[string]ActionFunc
	logger     *slog.Logger

	// active tracks in-flight handlers so Serve can drain them
	// before returning.
	active sync.WaitGroup
}

// NewSocketServer creates a server that will listen on socketPath.
func NewSocketServer(socketPath string, logger *slog.Logger) *SocketServer {
	return &SocketServer{
		socketPath: socketPath,
		handlers:   make(map[string]ActionFunc),
		logger:     logger,
	}
}

// Handle registers a handler for an action name. Panics on a
// duplicate registration: action tables are static wiring in main,
// and a duplicate is a programming error.
func (s *SocketServer) Handle(action string, handler ActionFunc) {
	if _, exists := s.handlers[action]; exists {
		panic(fmt.Sprintf("service.SocketServer: duplicate handler for action %q", action))
	}
	s.handlers[action] = handler
}

// Serve accepts connections and dispatches requests to registered
// handlers. It blocks until ctx is cancelled, then stops accepting
// and waits for active handlers to finish.
//
// A stale socket file at the configured path is removed before
// listening, and the socket file is removed again on return.
func (s *SocketServer) Serve(ctx context.Context) error {
	if err := os.Remove(s.socketPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing stale socket %s: %w", s.socketPath, err)
	}

	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.socketPath, err)
	}
	defer func() {
		listener.Close()
		os.Remove(s.socketPath)
	}()

	// Unblock Accept when the context is cancelled.
	go func() {
		<-ctx.Done()
		listener.Close()
	}()

	s.logger.Info("socket server listening", "path", s.socketPath)

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				break
			}
			s.logger.Error("accept failed", "error", err)
			continue
		}

		s.active.Add(1)
		go func() {
			defer s.active.Done()
			s.handleConnection(ctx, conn)
		}()
	}

	s.active.Wait()
	return nil
}

// handleConnection runs one request-response cycle.
func (s *SocketServer) handleConnection(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	action, raw, err := readRequest(conn)
	if err != nil {
		if errors.Is(err, io.EOF) {
			// Client connected but sent nothing.
			return
		}
		s.writeError(conn, err.Error())
		return
	}

	handler, exists := s.handlers[action]
	if !exists {
		s.writeError(conn, fmt.Sprintf("unknown action %q", action))
		return
	}

	start := time.Now()
	result, err := handler(ctx, raw)
	elapsed := time.Since(start)
	if err != nil {
		s.logger.Debug("action failed",
			"action", action,
			"elapsed", elapsed,
			"error", err,
		)
		s.writeError(conn, err.Error())
		return
	}

	s.logger.Debug("action handled", "action", action, "elapsed", elapsed)
	s.writeSuccess(conn, result)
}

// readRequest decodes one CBOR request from the connection and
// extracts its action field. CBOR is self-delimiting, so no framing
// protocol is needed; the LimitReader keeps a misbehaving client
// from exhausting memory.
func readRequest(conn net.Conn) (string, codec.RawMessage, error) {
	conn.SetReadDeadline(time.Now().Add(requestReadTimeout))

	var raw codec.RawMessage
	if err := codec.NewDecoder(io.LimitReader(conn, maxRequestBytes)).Decode(&raw); err != nil {
		if errors.Is(err, io.EOF) {
			return "", nil, io.EOF
		}
		return "", nil, fmt.Errorf("invalid request: %v", err)
	}

	var header struct {
		Action string `cbor:"action"`
	}
	if err := codec.Unmarshal(raw, &header); err != nil {
		return "", nil, fmt.Errorf("invalid request: %v", err)
	}
	if header.Action == "" {
		return "", nil, errors.New("missing required field: action")
	}
	return header.Action, raw, nil
}

// writeError sends {ok: false, error: ...}. Write failures are
// logged at debug level: the connection is closing regardless.
func (s *SocketServer) writeError(conn net.Conn, message string) {
	conn.SetWriteDeadline(time.Now().Add(responseWriteTimeout))
	if err := codec.NewEncoder(conn).Encode(Response{
		OK:    false,
		Error: message,
	}); err != nil {
		s.logger.Debug("failed to write error response", "error", err)
	}
}

// writeSuccess sends {ok: true}, with result marshaled into the data
// field when non-nil.
func (s *SocketServer) writeSuccess(conn net.Conn, result any) {
	conn.SetWriteDeadline(time.Now().Add(responseWriteTimeout))

	response := Response{OK: true}
	if result != nil {
		data, err := codec.Marshal(result)
		if err != nil {
			s.writeError(conn, fmt.Sprintf("internal: marshaling response: %v", err))
			return
		}
		response.Data = data
	}

	if err := codec.NewEncoder(conn).Encode(response); err != nil {
		s.logger.Debug("failed to write success response", "error", err)
	}
}
