//go:build integration

// Package integration provides end-to-end integration tests for the
// Sinfar Watch presence monitor and API.
package integration

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/corvase/sinfarwatch/internal/api"
	"github.com/corvase/sinfarwatch/internal/config"
	"github.com/corvase/sinfarwatch/internal/feed"
	"github.com/corvase/sinfarwatch/internal/monitor"
	"github.com/corvase/sinfarwatch/internal/store"
)

// TestApp holds all dependencies for integration tests: a fake game
// server, the store, the monitor, and the HTTP surface.
type TestApp struct {
	Server  *httptest.Server
	Store   *store.Store
	Monitor *monitor.Monitor
	Feed    *fakeGameServer

	cleanup func()
}

// NewTestApp wires up the full pipeline against a fake game server.
// Call Close() when done to release resources.
func NewTestApp(t *testing.T) *TestApp {
	t.Helper()

	tmpDir, err := os.MkdirTemp("", "sinfarwatch-integration-*")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}

	st, err := store.Open(filepath.Join(tmpDir, "test.sqlite"))
	if err != nil {
		os.RemoveAll(tmpDir)
		t.Fatalf("failed to open store: %v", err)
	}

	game := newFakeGameServer()

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	fd := feed.New(game.srv.URL, feed.WithBioRetries(0))
	mon := monitor.New(st, fd, config.MonitorConfig{
		PollInterval:    15 * time.Second,
		GapThreshold:    10 * time.Minute,
		StartupGapSlack: 2 * time.Minute,
		BackupInterval:  30 * time.Minute,
		EvictionDelay:   time.Hour,
	}, monitor.WithLogger(logger))

	server := api.NewServer("127.0.0.1:0", mon, api.WithLogger(logger))
	ts := httptest.NewServer(server.Handler())

	cleanup := func() {
		ts.Close()
		mon.Cleanup(context.Background())
		st.Close()
		game.srv.Close()
		os.RemoveAll(tmpDir)
	}

	return &TestApp{
		Server:  ts,
		Store:   st,
		Monitor: mon,
		Feed:    game,
		cleanup: cleanup,
	}
}

// Close releases all resources.
func (app *TestApp) Close() {
	if app.cleanup != nil {
		app.cleanup()
	}
}

// URL returns the base URL of the test server.
func (app *TestApp) URL() string {
	return app.Server.URL
}

// Poll runs one monitor update cycle against the fake game server.
func (app *TestApp) Poll(t *testing.T) []monitor.Event {
	t.Helper()
	events, err := app.Monitor.Update(context.Background())
	if err != nil {
		t.Fatalf("update cycle failed: %v", err)
	}
	return events
}

// fakeGameServer mimics the game server's presence endpoints with a
// settable snapshot body and per-character bios.
type fakeGameServer struct {
	mu   sync.Mutex
	body string
	bios map[string]string
	srv  *httptest.Server
}

func newFakeGameServer() *fakeGameServer {
	g := &fakeGameServer{body: "[]", bios: make(map[string]string)}
	g.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		g.mu.Lock()
		defer g.mu.Unlock()
		switch r.URL.Path {
		case "/getonlineplayers.php":
			io.WriteString(w, g.body)
		case "/getcharbio.php":
			bio, ok := g.bios[r.URL.Query().Get("pc_id")]
			if !ok {
				io.WriteString(w, "ERROR1")
				return
			}
			io.WriteString(w, bio)
		default:
			http.NotFound(w, r)
		}
	}))
	return g
}

// SetSnapshot replaces the online-player snapshot body.
func (g *fakeGameServer) SetSnapshot(body string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.body = body
}

// SetBio sets the bio returned for a character id.
func (g *fakeGameServer) SetBio(id, bio string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.bios[id] = bio
}
