// Copyright 2026 The Stagefs Authors
// SPDX-License-Identifier: Apache-2.0

package fsservice

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/url"
	"time"

	"github.com/stagefs/stagefs/lib/codec"
)

// dialTimeout is the maximum time to wait for a connection to the
// service socket. This covers only the connect phase.
const dialTimeout = 5 * time.Second

// responseReadTimeout is how long the client waits for the server to
// send a response after writing the request. Matched to the server's
// readTimeout + writeTimeout to account for handler execution time.
const responseReadTimeout = 45 * time.Second

// maxResponseSize matches the server's maxRequestSize for symmetry:
// responses carry full file content too.
const maxResponseSize = 64 * 1024 * 1024

// Client sends CBOR requests to a staged filesystem service socket.
// Each call opens a new connection (matching the server's
// one-request-per-connection model), sends the request, reads the
// response, and closes the connection. Watch holds its connection
// open for the lifetime of the subscription.
type Client struct {
	socketPath string
}

// NewClient creates a client for the service listening on socketPath.
func NewClient(socketPath string) *Client {
	return &Client{socketPath: socketPath}
}

// Stat returns the file metadata for a virtual URI.
func (c *Client) Stat(ctx context.Context, uri string) (StatResult, error) {
	var result StatResult
	err := c.Call(ctx, ActionStat, map[string]any{"uri": uri}, &result)
	return result, err
}

// ReadFile returns the staged content (or working-tree fallback) for
// a virtual URI.
func (c *Client) ReadFile(ctx context.Context, uri string) ([]byte, error) {
	var result readResult
	if err := c.Call(ctx, ActionReadFile, map[string]any{"uri": uri}, &result); err != nil {
		return nil, err
	}
	return result.Content, nil
}

// WriteFile replaces the staged content for a virtual URI.
func (c *Client) WriteFile(ctx context.Context, uri string, content []byte, create, overwrite bool) error {
	return c.Call(ctx, ActionWriteFile, map[string]any{
		"uri":       uri,
		"content":   content,
		"create":    create,
		"overwrite": overwrite,
	}, nil)
}

// ReadDirectory lists the immediate children of a virtual directory
// URI.
func (c *Client) ReadDirectory(ctx context.Context, uri string) ([]DirEntryResult, error) {
	var result []DirEntryResult
	if err := c.Call(ctx, ActionReadDir, map[string]any{"uri": uri}, &result); err != nil {
		return nil, err
	}
	return result, nil
}

// StagedPaths lists the repository-relative paths with staged changes
// for the repository containing dir.
func (c *Client) StagedPaths(ctx context.Context, dir string) ([]string, error) {
	var result pathsResult
	if err := c.Call(ctx, ActionStagedPaths, map[string]any{"uri": dir}, &result); err != nil {
		return nil, err
	}
	return result.Paths, nil
}

// Call sends a CBOR request to the service and decodes the response.
//
// The fields parameter may contain any handler-specific request
// fields; the client adds "action" automatically. On success, if
// result is non-nil and the response contains data, the data is
// CBOR-decoded into result. On failure (response ok=false), returns a
// *ServiceError containing the server's error message.
func (c *Client) Call(ctx context.Context, action string, fields map[string]any, result any) error {
	request := buildRequest(action, fields)

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

// send connects to the socket, writes the request, and reads the
// response. Each call creates a new connection. The write side is
// half-closed after the request so the server's read sees a clean
// EOF.
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
	if unixConn, ok := conn.(*net.UnixConn); ok {
		unixConn.CloseWrite()
	}

	conn.SetReadDeadline(time.Now().Add(responseReadTimeout))
	var response Response
	if err := codec.NewDecoder(io.LimitReader(conn, maxResponseSize)).Decode(&response); err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	return &response, nil
}

// Watch subscribes to change events for a virtual URI. The returned
// channel delivers one event per observed index mutation and closes
// when ctx is cancelled or the connection drops. The subscription's
// connection stays open for its lifetime.
func (c *Client) Watch(ctx context.Context, uri string) (<-chan WatchEvent, error) {
	dialer := net.Dialer{Timeout: dialTimeout}
	conn, err := dialer.DialContext(ctx, "unix", c.socketPath)
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", c.socketPath, err)
	}

	if err := codec.NewEncoder(conn).Encode(buildRequest(ActionWatch, map[string]any{"uri": uri})); err != nil {
		conn.Close()
		return nil, fmt.Errorf("writing watch request: %w", err)
	}

	conn.SetReadDeadline(time.Now().Add(responseReadTimeout))
	decoder := codec.NewDecoder(io.LimitReader(conn, maxResponseSize))
	var ack Response
	if err := decoder.Decode(&ack); err != nil {
		conn.Close()
		return nil, fmt.Errorf("reading watch acknowledgment: %w", err)
	}
	if !ack.OK {
		conn.Close()
		return nil, &ServiceError{Action: ActionWatch, Message: ack.Error}
	}

	// Event frames arrive whenever the index changes; no deadline.
	conn.SetReadDeadline(time.Time{})

	events := make(chan WatchEvent)
	go func() {
		<-ctx.Done()
		conn.Close()
	}()
	go func() {
		defer close(events)
		defer conn.Close()
		for {
			var event WatchEvent
			if err := decoder.Decode(&event); err != nil {
				return
			}
			select {
			case events <- event:
			case <-ctx.Done():
				return
			}
		}
	}()

	return events, nil
}

// buildRequest constructs the CBOR request map: the caller's fields
// plus the "action" field.
func buildRequest(action string, fields map[string]any) map[string]any {
	request := make(map[string]any, len(fields)+1)
	for key, value := range fields {
		request[key] = value
	}
	request["action"] = action
	return request
}

// ParseEventURI parses a streamed event's URI field.
func ParseEventURI(event WatchEvent) (*url.URL, error) {
	return url.Parse(event.URI)
}
