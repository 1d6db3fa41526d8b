// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package service

import (
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/bureau-foundation/agentrelay/lib/codec"
	"github.com/bureau-foundation/agentrelay/lib/testutil"
)

// startServer runs server until the test ends and returns its socket
// path once it is accepting connections.
func startServer(t *testing.T, register func(*SocketServer)) string {
	t.Helper()
	socketPath := filepath.Join(testutil.SocketDir(t), "relay.sock")
	server := NewSocketServer(socketPath, nil)
	register(server)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		server.Serve(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		testutil.RequireClosed(t, done, 5*time.Second, "waiting for Serve to return")
	})

	testutil.Eventually(t, 5*time.Second, func() bool {
		conn, err := net.Dial("unix", socketPath)
		if err != nil {
			return false
		}
		conn.Close()
		return true
	}, "waiting for socket "+socketPath)
	return socketPath
}

func TestSocketRoundTrip(t *testing.T) {
	t.Parallel()

	type echoRequest struct {
		Text string `cbor:"text"`
	}
	socketPath := startServer(t, func(server *SocketServer) {
		server.Handle("echo", func(ctx context.Context, raw []byte) (any, error) {
			var request echoRequest
			if err := codec.Unmarshal(raw, &request); err != nil {
				return nil, err
			}
			return map[string]string{"text": strings.ToUpper(request.Text)}, nil
		})
		server.Handle("nothing", func(ctx context.Context, raw []byte) (any, error) {
			return nil, nil
		})
	})
	client := NewClient(socketPath)
	ctx := context.Background()

	var result map[string]string
	if err := client.Call(ctx, "echo", map[string]any{"text": "hello"}, &result); err != nil {
		t.Fatalf("Call(echo): %v", err)
	}
	if result["text"] != "HELLO" {
		t.Errorf("echo = %q, want HELLO", result["text"])
	}

	if err := client.Call(ctx, "nothing", nil, nil); err != nil {
		t.Errorf("Call(nothing): %v", err)
	}
}

func TestSocketErrors(t *testing.T) {
	t.Parallel()

	socketPath := startServer(t, func(server *SocketServer) {
		server.Handle("fail", func(ctx context.Context, raw []byte) (any, error) {
			return nil, errors.New("job abc already completed")
		})
		server.Handle("crash", func(ctx context.Context, raw []byte) (any, error) {
			var jobs map[string]int
			jobs["abc"]++
			return nil, nil
		})
	})
	client := NewClient(socketPath)

	tests := []struct {
		action string
		want   string
	}{
		{"fail", "job abc already completed"},
		{"crash", "internal error"},
		{"missing", `unknown action "missing"`},
		{"", "missing required field: action"},
	}
	for _, test := range tests {
		err := client.Call(context.Background(), test.action, nil, nil)
		var serviceErr *ServiceError
		if !errors.As(err, &serviceErr) {
			t.Errorf("Call(%q) = %v, want *ServiceError", test.action, err)
			continue
		}
		if serviceErr.Message != test.want {
			t.Errorf("Call(%q) message = %q, want %q", test.action, serviceErr.Message, test.want)
		}
	}
}

func TestDispatchWithoutConnection(t *testing.T) {
	t.Parallel()

	server := NewSocketServer(filepath.Join(t.TempDir(), "unused.sock"), nil)
	server.Handle("status", func(ctx context.Context, raw []byte) (any, error) {
		return map[string]int{"jobs_total": 2}, nil
	})

	request, err := codec.Marshal(map[string]string{"action": "status"})
	if err != nil {
		t.Fatal(err)
	}
	response := server.dispatch(context.Background(), request)
	if !response.OK {
		t.Fatalf("got error %q, want ok", response.Error)
	}
	var data map[string]int
	if err := codec.Unmarshal(response.Data, &data); err != nil {
		t.Fatalf("decoding data: %v", err)
	}
	if data["jobs_total"] != 2 {
		t.Errorf("got %v, want jobs_total 2", data)
	}

	garbage := server.dispatch(context.Background(), []byte{0xff})
	if garbage.OK || !strings.HasPrefix(garbage.Error, "invalid request") {
		t.Errorf("got %+v, want invalid request", garbage)
	}
}

func TestSocketPermissions(t *testing.T) {
	t.Parallel()

	socketPath := startServer(t, func(*SocketServer) {})
	info, err := os.Stat(socketPath)
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if mode := info.Mode().Perm(); mode != 0o600 {
		t.Errorf("socket mode = %o, want 600", mode)
	}
}

func TestSocketRemovedOnShutdown(t *testing.T) {
	t.Parallel()

	socketPath := filepath.Join(testutil.SocketDir(t), "relay.sock")
	if err := os.WriteFile(socketPath, []byte("stale"), 0o600); err != nil {
		t.Fatal(err)
	}
	server := NewSocketServer(socketPath, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- server.Serve(ctx) }()

	testutil.Eventually(t, 5*time.Second, func() bool {
		info, err := os.Stat(socketPath)
		return err == nil && info.Mode()&os.ModeSocket != 0
	}, "waiting for the stale file to be replaced by a socket")

	cancel()
	if err := testutil.RequireReceive(t, done, 5*time.Second, "waiting for Serve"); err != nil {
		t.Fatalf("Serve: %v", err)
	}
	if _, err := os.Stat(socketPath); !os.IsNotExist(err) {
		t.Errorf("socket file still present after shutdown: %v", err)
	}
}

func TestDuplicateHandlerPanics(t *testing.T) {
	t.Parallel()

	server := NewSocketServer("/unused", nil)
	server.Handle("status", func(context.Context, []byte) (any, error) { return nil, nil })
	defer func() {
		if recover() == nil {
			t.Error("duplicate Handle did not panic")
		}
	}()
	server.Handle("status", func(context.Context, []byte) (any, error) { return nil, nil })
}

func TestClientHonorsContext(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	socketPath := startServer(t, func(server *SocketServer) {
		server.Handle("slow", func(ctx context.Context, raw []byte) (any, error) {
			<-release
			return nil, nil
		})
	})
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := NewClient(socketPath).Call(ctx, "slow", nil, nil)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Call = %v, want context.DeadlineExceeded", err)
	}
}
