// Copyright 2026 The Stagefs Authors
// SPDX-License-Identifier: Apache-2.0

package fsservice

import (
	"bytes"
	"context"
	"errors"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/stagefs/stagefs/lib/stagedpath"
	"github.com/stagefs/stagefs/lib/stagefs"
	"github.com/stagefs/stagefs/lib/testutil"
)

// initRepo creates a git repository with one committed file README.md
// and returns its resolved root.
func initRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	resolved, err := filepath.EvalSymlinks(dir)
	if err != nil {
		t.Fatalf("EvalSymlinks: %v", err)
	}
	dir = resolved

	run := func(args ...string) {
		t.Helper()
		cmd := exec.Command("git", append([]string{"-C", dir}, args...)...)
		output, err := cmd.CombinedOutput()
		if err != nil {
			t.Fatalf("git %v: %v\n%s", args, err, output)
		}
	}
	run("init")
	run("config", "user.email", "test@example.com")
	run("config", "user.name", "Test")
	if err := os.WriteFile(filepath.Join(dir, "README.md"), []byte("# readme\n"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	run("add", ".")
	run("commit", "-m", "initial")
	return dir
}

// startServer runs a server over a fresh provider on a socket in a
// short-path temp dir, returning a connected client. The server shuts
// down when the test ends.
func startServer(t *testing.T) *Client {
	t.Helper()

	provider := stagefs.New(stagefs.Options{})
	t.Cleanup(func() { provider.Close() })

	socketPath := filepath.Join(testutil.SocketDir(t), "fs.sock")
	server := NewServer(socketPath, provider, nil)

	ctx, cancel := context.WithCancel(context.Background())
	serveDone := make(chan error, 1)
	go func() {
		serveDone <- server.Serve(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		if err := testutil.RequireReceive(t, serveDone, 5*time.Second, "Serve did not return after cancellation"); err != nil {
			t.Errorf("Serve: %v", err)
		}
	})

	// Wait for the socket file to appear.
	deadline := time.Now().Add(5 * time.Second)
	for {
		if _, err := os.Stat(socketPath); err == nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("socket file never appeared")
		}
		time.Sleep(5 * time.Millisecond)
	}

	return NewClient(socketPath)
}

// stagedURI builds the virtual URI string for a path inside root.
func stagedURI(t *testing.T, root, relPath string) string {
	t.Helper()
	uri, err := stagedpath.FromLocal(&url.URL{
		Scheme: stagedpath.LocalScheme,
		Path:   filepath.Join(root, relPath),
	})
	if err != nil {
		t.Fatalf("FromLocal: %v", err)
	}
	return uri.String()
}

func TestReadFileServesStagedContent(t *testing.T) {
	t.Parallel()
	root := initRepo(t)
	client := startServer(t)

	content, err := client.ReadFile(context.Background(), stagedURI(t, root, "README.md"))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !bytes.Equal(content, []byte("# readme\n")) {
		t.Errorf("content = %q", content)
	}
}

func TestStatReportsFileSize(t *testing.T) {
	t.Parallel()
	root := initRepo(t)
	client := startServer(t)

	stat, err := client.Stat(context.Background(), stagedURI(t, root, "README.md"))
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if stat.Type != "file" {
		t.Errorf("Type = %q, want file", stat.Type)
	}
	if stat.Size != int64(len("# readme\n")) {
		t.Errorf("Size = %d", stat.Size)
	}
}

func TestWriteFileRoundTrip(t *testing.T) {
	t.Parallel()
	root := initRepo(t)
	client := startServer(t)

	uri := stagedURI(t, root, "README.md")
	want := []byte("replaced over the socket\n")
	if err := client.WriteFile(context.Background(), uri, want, false, true); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	got, err := client.ReadFile(context.Background(), uri)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Errorf("content = %q, want %q", got, want)
	}
}

func TestReadDirectoryListsChildren(t *testing.T) {
	t.Parallel()
	root := initRepo(t)
	client := startServer(t)

	entries, err := client.ReadDirectory(context.Background(), stagedURI(t, root, "."))
	if err != nil {
		t.Fatalf("ReadDirectory: %v", err)
	}
	found := false
	for _, entry := range entries {
		if entry.Name == "README.md" && entry.Type == "file" {
			found = true
		}
	}
	if !found {
		t.Errorf("README.md missing from listing: %v", entries)
	}
}

func TestStagedPathsListsPendingChanges(t *testing.T) {
	t.Parallel()
	root := initRepo(t)
	client := startServer(t)

	uri := stagedURI(t, root, "README.md")
	if err := client.WriteFile(context.Background(), uri, []byte("pending\n"), false, true); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	paths, err := client.StagedPaths(context.Background(), root)
	if err != nil {
		t.Fatalf("StagedPaths: %v", err)
	}
	if len(paths) != 1 || paths[0] != "README.md" {
		t.Errorf("paths = %v, want [README.md]", paths)
	}
}

func TestMissingFileIsServiceError(t *testing.T) {
	t.Parallel()
	root := initRepo(t)
	client := startServer(t)

	_, err := client.ReadFile(context.Background(), stagedURI(t, root, "absent.txt"))
	var serviceError *ServiceError
	if !errors.As(err, &serviceError) {
		t.Fatalf("error = %v, want *ServiceError", err)
	}
	if serviceError.Action != ActionReadFile {
		t.Errorf("Action = %q", serviceError.Action)
	}
}

func TestUnknownActionRejected(t *testing.T) {
	t.Parallel()
	initRepo(t)
	client := startServer(t)

	err := client.Call(context.Background(), "no-such-action", nil, nil)
	var serviceError *ServiceError
	if !errors.As(err, &serviceError) {
		t.Fatalf("error = %v, want *ServiceError", err)
	}
}

func TestWatchStreamsChangeEvents(t *testing.T) {
	t.Parallel()
	root := initRepo(t)
	client := startServer(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	uri := stagedURI(t, root, "README.md")
	events, err := client.Watch(ctx, uri)
	if err != nil {
		t.Fatalf("Watch: %v", err)
	}

	// Give the server's asynchronous root resolution time to attach
	// the inotify watch before mutating the index.
	time.Sleep(300 * time.Millisecond)

	if err := client.WriteFile(ctx, uri, []byte("new staged content\n"), false, true); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	event := testutil.RequireReceive(t, events, 5*time.Second, "waiting for change event")
	if event.URI != uri {
		t.Errorf("event URI = %q, want %q", event.URI, uri)
	}

	cancel()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case _, ok := <-events:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("event channel did not close after cancellation")
		}
	}
}

func TestWatchMalformedURIRejected(t *testing.T) {
	t.Parallel()
	initRepo(t)
	client := startServer(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, err := client.Watch(ctx, "stagefs://other/file.txt?bad=query")
	var serviceError *ServiceError
	if !errors.As(err, &serviceError) {
		t.Fatalf("error = %v, want *ServiceError", err)
	}
}
