// Copyright 2026 The Bureau Authors
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

	"github.com/bureau-foundation/agentrelay/lib/codec"
)

// ActionFunc processes one request. raw is the full CBOR request,
// including the "action" field; handlers decode their own fields from
// it. A nil result produces {ok: true} with no data.
type ActionFunc func(ctx context.Context, raw []byte) (any, error)

// Response is the envelope of every reply.
type Response struct {
	OK    bool             `cbor:"ok"`
	Error string           `cbor:"error,omitempty"`
	Data  codec.RawMessage `cbor:"data,omitempty"`
}

// SocketServer serves the protocol on a Unix socket. Register actions
// with Handle before calling Serve.
type SocketServer struct {
	socketPath string
	handlers   map[string]ActionFunc
	logger     *slog.Logger

	activeConnections sync.WaitGroup
}

// NewSocketServer creates a server that will listen on socketPath.
func NewSocketServer(socketPath string, logger *slog.Logger) *SocketServer {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &SocketServer{
		socketPath: socketPath,
		handlers:   make(map[string]ActionFunc),
		logger:     logger,
	}
}

// Handle registers a handler. Panics on a duplicate action.
func (s *SocketServer) Handle(action string, handler ActionFunc) {
	if _, exists := s.handlers[action]; exists {
		panic(fmt.Sprintf("service.SocketServer: duplicate handler for action %q", action))
	}
	s.handlers[action] = handler
}

// Actions returns the registered action names.
func (s *SocketServer) Actions() []string {
	actions := make([]string, 0, len(s.handlers))
	for action := range s.handlers {
		actions = append(actions, action)
	}
	return actions
}

// Serve accepts connections until ctx is cancelled, then waits for
// in-flight requests. A stale socket file is removed first; the socket
// file is removed on return.
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
	if err := os.Chmod(s.socketPath, 0o600); err != nil {
		return fmt.Errorf("restricting socket %s: %w", s.socketPath, err)
	}

	go func() {
		<-ctx.Done()
		listener.Close()
	}()

	s.logger.Info("socket server listening", "path", s.socketPath, "actions", len(s.handlers))

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				break
			}
			s.logger.Error("accept failed", "error", err)
			continue
		}

		s.activeConnections.Add(1)
		go func() {
			defer s.activeConnections.Done()
			s.handleConnection(ctx, conn)
		}()
	}

	s.activeConnections.Wait()
	return nil
}

const (
	// readTimeout bounds how long a client may take to send its
	// request after connecting.
	readTimeout = 30 * time.Second

	writeTimeout = 10 * time.Second

	// maxRequestSize bounds a single request. Prompts are the largest
	// field.
	maxRequestSize = 4 * 1024 * 1024
)

func (s *SocketServer) handleConnection(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(readTimeout))

	var raw codec.RawMessage
	if err := codec.NewDecoder(io.LimitReader(conn, maxRequestSize)).Decode(&raw); err != nil {
		if errors.Is(err, io.EOF) {
			return
		}
		s.reply(conn, failure(fmt.Sprintf("invalid request: %v", err)))
		return
	}
	s.reply(conn, s.dispatch(ctx, raw))
}

// dispatch routes one decoded request to its handler and builds the
// reply envelope.
func (s *SocketServer) dispatch(ctx context.Context, raw []byte) Response {
	var header struct {
		Action string `cbor:"action"`
	}
	if err := codec.Unmarshal(raw, &header); err != nil {
		return failure(fmt.Sprintf("invalid request: %v", err))
	}
	if header.Action == "" {
		return failure("missing required field: action")
	}
	handler, exists := s.handlers[header.Action]
	if !exists {
		return failure(fmt.Sprintf("unknown action %q", header.Action))
	}

	logger := s.logger.With("action", header.Action)
	started := time.Now()
	result, err := s.invoke(ctx, handler, raw, logger)
	if err != nil {
		logger.Debug("action failed", "duration", time.Since(started), "error", err)
		return failure(err.Error())
	}
	logger.Debug("action completed", "duration", time.Since(started))

	if result == nil {
		return Response{OK: true}
	}
	data, err := codec.Marshal(result)
	if err != nil {
		return failure(fmt.Sprintf("internal: marshaling response: %v", err))
	}
	return Response{OK: true, Data: data}
}

// invoke runs handler, turning a panic into an error so one bad
// request cannot take the service down.
func (s *SocketServer) invoke(ctx context.Context, handler ActionFunc, raw []byte, logger *slog.Logger) (result any, err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			logger.Error("action panicked", "panic", recovered)
			result, err = nil, fmt.Errorf("internal error")
		}
	}()
	return handler(ctx, raw)
}

func failure(message string) Response {
	return Response{OK: false, Error: message}
}

// reply writes response. Write failures are logged at debug level; the
// connection is closing regardless.
func (s *SocketServer) reply(conn net.Conn, response Response) {
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := codec.NewEncoder(conn).Encode(response); err != nil {
		s.logger.Debug("failed to write response", "ok", response.OK, "error", err)
	}
}
