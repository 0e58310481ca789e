// Copyright 2026 The Kiln Authors
// SPDX-License-Identifier: Apache-2.0

package service

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/kiln-build/kiln/lib/codec"
	"github.com/kiln-build/kiln/lib/testutil"
)

// startEchoServer runs a socket server with an "echo" action that
// returns the request's name field, and a "fail" action that always
// errors. Returns the socket path; the server stops with the test.
func startEchoServer(t *testing.T) string {
	t.Helper()

	socketPath := testSocketPath(t)
	server := NewSocketServer(socketPath, testLogger())
	server.Handle("echo", func(ctx context.Context, raw []byte) (any, error) {
		var request struct {
			Name string `cbor:"name"`
		}
		if err := codec.Unmarshal(raw, &request); err != nil {
			return nil, err
		}
		return map[string]any{"name": request.Name}, nil
	})
	server.Handle("fail", func(ctx context.Context, raw []byte) (any, error) {
		return nil, &testError{"cache directory is read-only"}
	})
	server.Handle("ping", func(ctx context.Context, raw []byte) (any, error) {
		return nil, nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		server.Serve(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		testutil.RequireClosed(t, done, 5*time.Second, "socket server shutdown")
	})

	waitForSocket(t, socketPath)
	return socketPath
}

func TestClientCall(t *testing.T) {
	socketPath := startEchoServer(t)
	client := NewClient(socketPath)

	var result struct {
		Name string `cbor:"name"`
	}
	err := client.Call(context.Background(), "echo", map[string]any{"name": "vault"}, &result)
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if result.Name != "vault" {
		t.Errorf("name = %q, want vault", result.Name)
	}
}

func TestClientCallNilFieldsAndResult(t *testing.T) {
	socketPath := startEchoServer(t)
	client := NewClient(socketPath)

	if err := client.Call(context.Background(), "ping", nil, nil); err != nil {
		t.Fatalf("Call: %v", err)
	}
}

func TestClientCallServiceError(t *testing.T) {
	socketPath := startEchoServer(t)
	client := NewClient(socketPath)

	err := client.Call(context.Background(), "fail", nil, nil)
	if err == nil {
		t.Fatal("Call succeeded, want server-reported failure")
	}

	var serviceErr *ServiceError
	if !errors.As(err, &serviceErr) {
		t.Fatalf("error = %T (%v), want *ServiceError", err, err)
	}
	if serviceErr.Action != "fail" {
		t.Errorf("action = %q, want fail", serviceErr.Action)
	}
	if serviceErr.Message != "cache directory is read-only" {
		t.Errorf("message = %q, want the handler's error", serviceErr.Message)
	}
}

func TestClientCallUnknownAction(t *testing.T) {
	socketPath := startEchoServer(t)
	client := NewClient(socketPath)

	err := client.Call(context.Background(), "decompile", nil, nil)
	var serviceErr *ServiceError
	if !errors.As(err, &serviceErr) {
		t.Fatalf("error = %T (%v), want *ServiceError", err, err)
	}
}

func TestClientCallConnectionRefused(t *testing.T) {
	client := NewClient(filepath.Join(testutil.SocketDir(t), "nobody-home.sock"))

	err := client.Call(context.Background(), "ping", nil, nil)
	if err == nil {
		t.Fatal("Call succeeded with no server listening")
	}

	// Transport failures are plain errors, not daemon-reported ones.
	var serviceErr *ServiceError
	if errors.As(err, &serviceErr) {
		t.Errorf("connection failure surfaced as *ServiceError: %v", err)
	}
}

func TestClientConcurrentCalls(t *testing.T) {
	socketPath := startEchoServer(t)
	client := NewClient(socketPath)

	const concurrency = 10
	var wg sync.WaitGroup
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var result struct {
				Name string `cbor:"name"`
			}
			if err := client.Call(context.Background(), "echo", map[string]any{"name": "vault"}, &result); err != nil {
				t.Errorf("Call: %v", err)
				return
			}
			if result.Name != "vault" {
				t.Errorf("name = %q, want vault", result.Name)
			}
		}()
	}
	wg.Wait()
}
