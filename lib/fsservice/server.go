// Copyright 2026 The Stagefs Authors
// SPDX-License-Identifier: Apache-2.0

package fsservice

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/url"
	"os"
	"sync"
	"time"

	"github.com/stagefs/stagefs/lib/codec"
	"github.com/stagefs/stagefs/lib/stagedpath"
	"github.com/stagefs/stagefs/lib/stagefs"
)

// readTimeout is how long the server waits for the client to send its
// request. A well-behaved client sends the request immediately after
// connecting.
const readTimeout = 30 * time.Second

// writeTimeout is how long the server waits for a response or event
// frame to be written.
const writeTimeout = 10 * time.Second

// maxRequestSize is the maximum size of a single CBOR request. Write
// requests carry full file content, so the bound is sized for source
// files rather than protocol chatter.
const maxRequestSize = 64 * 1024 * 1024

// ActionFunc processes a request for a specific action. The raw
// parameter is the full CBOR request (including the "action" field);
// the handler decodes action-specific fields from it.
//
// Return a value to include in the success response, or an error for
// a failure response. If the returned value is nil, the response
// contains only {ok: true}.
type ActionFunc func(ctx context.Context, raw []byte) (any, error)

// StreamFunc processes a streaming action. The handler validates the
// request, calls open to send the {ok: true} acknowledgment, then
// writes event frames through the stream until it ends (client
// disconnect or context cancellation). An error returned before open
// becomes a failure response.
type StreamFunc func(ctx context.Context, raw []byte, stream *Stream) error

// Stream is the server-to-client event channel of a streaming action.
// Send is safe for concurrent use.
type Stream struct {
	mu     sync.Mutex
	conn   net.Conn
	opened bool
}

// open sends the {ok: true} acknowledgment that precedes all event
// frames.
func (s *Stream) open() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opened = true
	s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return codec.NewEncoder(s.conn).Encode(Response{OK: true})
}

// Send encodes one CBOR frame onto the connection.
func (s *Stream) Send(event any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return codec.NewEncoder(s.conn).Encode(event)
}

func (s *Stream) wasOpened() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opened
}

// Server serves the staged-filesystem protocol on a Unix socket. Each
// connection handles one request-response cycle; watch connections
// stay open streaming event frames until either side closes.
type Server struct {
	socketPath string
	provider   *stagefs.Provider
	handlers   map[string]ActionFunc
	streams    map[string]StreamFunc
	logger     *slog.Logger

	// activeConnections tracks in-flight handlers for graceful
	// shutdown. Serve waits for all of them before returning.
	activeConnections sync.WaitGroup
}

// NewServer creates a server for the given provider that will listen
// on socketPath. All protocol actions are pre-registered.
func NewServer(socketPath string, provider *stagefs.Provider, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	s := &Server{
		socketPath: socketPath,
		provider:   provider,
		handlers:   make(map[string]ActionFunc),
		streams:    make(map[string]StreamFunc),
		logger:     logger,
	}
	s.handle(ActionStat, s.stat)
	s.handle(ActionReadFile, s.readFile)
	s.handle(ActionWriteFile, s.writeFile)
	s.handle(ActionReadDir, s.readDir)
	s.handle(ActionStagedPaths, s.stagedPaths)
	s.handleStream(ActionWatch, s.watch)
	return s
}

func (s *Server) handle(action string, handler ActionFunc) {
	if _, exists := s.handlers[action]; exists {
		panic(fmt.Sprintf("fsservice.Server: duplicate handler for action %q", action))
	}
	s.handlers[action] = handler
}

func (s *Server) handleStream(action string, handler StreamFunc) {
	if _, exists := s.streams[action]; exists {
		panic(fmt.Sprintf("fsservice.Server: duplicate stream handler for action %q", action))
	}
	s.streams[action] = handler
}

// Serve starts accepting connections on the Unix socket and
// dispatches requests to action handlers. Blocks until ctx is
// cancelled, then stops accepting new connections and waits for
// active handlers to complete.
//
// Any existing socket file at the configured path is removed before
// listening. The socket file is removed on return.
func (s *Server) Serve(ctx context.Context) error {
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

	s.logger.Info("staged filesystem service listening", "path", s.socketPath)

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			if errors.Is(err, net.ErrClosed) {
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

// handleConnection processes one request. Unary actions run a single
// request-response cycle; stream actions hand the connection to the
// stream handler after acknowledging the subscription.
func (s *Server) handleConnection(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(readTimeout))

	// Decode one CBOR value from the connection. LimitReader keeps a
	// misbehaving client from exhausting memory.
	var raw codec.RawMessage
	if err := codec.NewDecoder(io.LimitReader(conn, maxRequestSize)).Decode(&raw); err != nil {
		if errors.Is(err, io.EOF) {
			// Client connected but sent nothing.
			return
		}
		s.writeError(conn, fmt.Sprintf("invalid request: %v", err))
		return
	}

	var header struct {
		Action string `cbor:"action"`
	}
	if err := codec.Unmarshal(raw, &header); err != nil {
		s.writeError(conn, fmt.Sprintf("invalid request: %v", err))
		return
	}
	if header.Action == "" {
		s.writeError(conn, "missing required field: action")
		return
	}

	if streamHandler, exists := s.streams[header.Action]; exists {
		s.handleStreamConnection(ctx, conn, header.Action, streamHandler, []byte(raw))
		return
	}

	handler, exists := s.handlers[header.Action]
	if !exists {
		s.writeError(conn, fmt.Sprintf("unknown action %q", header.Action))
		return
	}

	result, err := handler(ctx, []byte(raw))
	if err != nil {
		s.logger.Debug("action failed",
			"action", header.Action,
			"error", err,
		)
		s.writeError(conn, err.Error())
		return
	}

	s.writeSuccess(conn, result)
}

// handleStreamConnection runs a stream handler until the client
// disconnects or the server shuts down. A reader goroutine watches
// for the disconnect: the client never sends a second value, so any
// read completion means the connection is gone.
func (s *Server) handleStreamConnection(parent context.Context, conn net.Conn, action string, handler StreamFunc, raw []byte) {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	conn.SetReadDeadline(time.Time{})
	go func() {
		buffer := make([]byte, 1)
		conn.Read(buffer)
		cancel()
	}()

	stream := &Stream{conn: conn}
	if err := handler(ctx, raw, stream); err != nil {
		s.logger.Debug("stream handler failed",
			"action", action,
			"error", err,
		)
		if !stream.wasOpened() {
			s.writeError(conn, err.Error())
		}
	}
}

func (s *Server) writeError(conn net.Conn, message string) {
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := codec.NewEncoder(conn).Encode(Response{
		OK:    false,
		Error: message,
	}); err != nil {
		s.logger.Debug("failed to write error response", "error", err)
	}
}

func (s *Server) writeSuccess(conn net.Conn, result any) {
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))

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

// ---- Action handlers ----

func decodeURI(raw []byte) (*url.URL, error) {
	var request uriRequest
	if err := codec.Unmarshal(raw, &request); err != nil {
		return nil, fmt.Errorf("invalid request: %w", err)
	}
	if request.URI == "" {
		return nil, errors.New("missing required field: uri")
	}
	uri, err := url.Parse(request.URI)
	if err != nil {
		return nil, fmt.Errorf("parsing uri: %w", err)
	}
	return uri, nil
}

func (s *Server) stat(ctx context.Context, raw []byte) (any, error) {
	uri, err := decodeURI(raw)
	if err != nil {
		return nil, err
	}
	stat, err := s.provider.Stat(ctx, uri)
	if err != nil {
		return nil, err
	}
	return StatResult{
		Type:       stat.Type.String(),
		Size:       stat.Size,
		ModTime:    stat.ModTime,
		CreateTime: stat.CreateTime,
	}, nil
}

func (s *Server) readFile(ctx context.Context, raw []byte) (any, error) {
	uri, err := decodeURI(raw)
	if err != nil {
		return nil, err
	}
	content, err := s.provider.ReadFile(ctx, uri)
	if err != nil {
		return nil, err
	}
	return readResult{Content: content}, nil
}

func (s *Server) writeFile(ctx context.Context, raw []byte) (any, error) {
	var request writeRequest
	if err := codec.Unmarshal(raw, &request); err != nil {
		return nil, fmt.Errorf("invalid request: %w", err)
	}
	if request.URI == "" {
		return nil, errors.New("missing required field: uri")
	}
	uri, err := url.Parse(request.URI)
	if err != nil {
		return nil, fmt.Errorf("parsing uri: %w", err)
	}
	err = s.provider.WriteFile(ctx, uri, request.Content, stagefs.WriteOptions{
		Create:    request.Create,
		Overwrite: request.Overwrite,
	})
	if err != nil {
		return nil, err
	}
	return nil, nil
}

func (s *Server) readDir(ctx context.Context, raw []byte) (any, error) {
	uri, err := decodeURI(raw)
	if err != nil {
		return nil, err
	}
	children, err := s.provider.ReadDirectory(ctx, uri)
	if err != nil {
		return nil, err
	}
	results := make([]DirEntryResult, 0, len(children))
	for _, child := range children {
		results = append(results, DirEntryResult{
			Name: child.Name,
			Type: child.Type.String(),
		})
	}
	return results, nil
}

func (s *Server) stagedPaths(ctx context.Context, raw []byte) (any, error) {
	var request uriRequest
	if err := codec.Unmarshal(raw, &request); err != nil {
		return nil, fmt.Errorf("invalid request: %w", err)
	}
	if request.URI == "" {
		return nil, errors.New("missing required field: uri")
	}
	paths, err := s.provider.StagedPaths(ctx, request.URI)
	if err != nil {
		return nil, err
	}
	return pathsResult{Paths: paths}, nil
}

// watch subscribes the connection to index changes for the requested
// URI. Events are delivered directly to this connection, not to the
// provider's shared event stream, keeping concurrent watch clients
// isolated from one another.
func (s *Server) watch(ctx context.Context, raw []byte, stream *Stream) error {
	uri, err := decodeURI(raw)
	if err != nil {
		return err
	}
	// Shape violations must fail the request, not the stream: check
	// before the acknowledgment goes out so event frames can never
	// precede it.
	if _, err := stagedpath.ToLocal(uri); err != nil {
		return err
	}

	if err := stream.open(); err != nil {
		return fmt.Errorf("acknowledging watch subscription: %w", err)
	}

	subscription, err := s.provider.WatchFunc(ctx, uri, func(event stagefs.ChangeEvent) {
		if err := stream.Send(WatchEvent{URI: event.URI.String()}); err != nil {
			s.logger.Debug("dropping watch client: event write failed", "error", err)
		}
	})
	if err != nil {
		return err
	}
	defer subscription.Close()

	<-ctx.Done()
	return nil
}
