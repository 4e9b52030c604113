//go:build integration

package integration

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/corvase/sinfarwatch/internal/store"
)

const snapshotAnnAsVex = `[
  {"playerId":"P1","playerName":"Ann","chatClient":"5121","pcId":"C1","pcName":"Vex","portrait":"vex.png"}
]`

// onlineRow mirrors the /online response shape for decoding.
type onlineRow struct {
	Portrait  string `json:"portrait"`
	Player    struct{ ID, Name string }  `json:"player"`
	Character *struct{ ID, Name string } `json:"character"`
	Client    struct{ ID, Name string }  `json:"client"`
	Tagged    bool                       `json:"tagged"`
}

func getOnline(t *testing.T, app *TestApp, query string) []onlineRow {
	t.Helper()
	resp, err := http.Get(app.URL() + "/online" + query)
	if err != nil {
		t.Fatalf("failed to make request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.StatusCode)
	}
	var rows []onlineRow
	if err := json.NewDecoder(resp.Body).Decode(&rows); err != nil {
		t.Fatalf("failed to parse JSON: %v", err)
	}
	return rows
}

// TestHealthEndpoint tests the /api/v1/health endpoint.
func TestHealthEndpoint(t *testing.T) {
	app := NewTestApp(t)
	defer app.Close()

	resp, err := http.Get(app.URL() + "/api/v1/health")
	if err != nil {
		t.Fatalf("failed to make request: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected status 200, got %d", resp.StatusCode)
	}

	var result map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		t.Fatalf("failed to parse JSON: %v", err)
	}
	if result["status"] != "ok" {
		t.Errorf("expected status 'ok', got %v", result["status"])
	}
}

// TestSecurityHeaders tests that security headers are present.
func TestSecurityHeaders(t *testing.T) {
	app := NewTestApp(t)
	defer app.Close()

	resp, err := http.Get(app.URL() + "/api/v1/health")
	if err != nil {
		t.Fatalf("failed to make request: %v", err)
	}
	defer resp.Body.Close()

	headers := map[string]string{
		"X-Content-Type-Options": "nosniff",
		"X-Frame-Options":        "DENY",
	}
	for name, expected := range headers {
		if got := resp.Header.Get(name); got != expected {
			t.Errorf("header %s = %q, want %q", name, got, expected)
		}
	}
	if resp.Header.Get("X-Request-ID") == "" {
		t.Error("missing X-Request-ID header")
	}
}

// TestPresenceFlow polls a login and a logout through the full
// pipeline and checks the online list at each step.
func TestPresenceFlow(t *testing.T) {
	app := NewTestApp(t)
	defer app.Close()

	if rows := getOnline(t, app, ""); len(rows) != 0 {
		t.Fatalf("expected empty online list, got %d rows", len(rows))
	}

	app.Feed.SetSnapshot(snapshotAnnAsVex)
	app.Poll(t)

	rows := getOnline(t, app, "")
	if len(rows) != 1 {
		t.Fatalf("expected 1 online row, got %d", len(rows))
	}
	row := rows[0]
	if row.Player.ID != "P1" || row.Character == nil || row.Character.ID != "C1" {
		t.Errorf("unexpected row %+v", row)
	}
	if row.Client.Name != "Sinfar" {
		t.Errorf("client name = %q, want %q", row.Client.Name, "Sinfar")
	}
	if row.Portrait != "vex.png" {
		t.Errorf("portrait = %q, want %q", row.Portrait, "vex.png")
	}

	app.Feed.SetSnapshot("[]")
	app.Poll(t)

	if rows := getOnline(t, app, ""); len(rows) != 0 {
		t.Fatalf("expected empty online list after logout, got %d rows", len(rows))
	}
}

// TestOnlineTagging tags a player via ?pid= and checks the flag.
func TestOnlineTagging(t *testing.T) {
	app := NewTestApp(t)
	defer app.Close()

	app.Feed.SetSnapshot(snapshotAnnAsVex)
	app.Poll(t)

	rows := getOnline(t, app, "?pid=P1")
	if len(rows) != 1 || !rows[0].Tagged {
		t.Fatalf("expected 1 tagged row, got %+v", rows)
	}

	rows = getOnline(t, app, "?pid=P9")
	if len(rows) != 1 || rows[0].Tagged {
		t.Fatalf("expected 1 untagged row, got %+v", rows)
	}
}

// TestSessionPersistedOnLogout checks that a completed session reaches
// the store once the logout cycle has reconciled.
func TestSessionPersistedOnLogout(t *testing.T) {
	app := NewTestApp(t)
	defer app.Close()

	app.Feed.SetSnapshot(snapshotAnnAsVex)
	app.Poll(t)
	app.Feed.SetSnapshot("[]")
	app.Poll(t)

	ctx := context.Background()
	for _, tc := range []struct {
		col store.Collection
		id  string
	}{
		{store.Players, "P1"},
		{store.Characters, "C1"},
	} {
		n, err := app.Store.CountLogs(ctx, tc.col, tc.id)
		if err != nil {
			t.Fatalf("count logs for %s: %v", tc.id, err)
		}
		if n != 1 {
			t.Errorf("expected 1 stored session for %s, got %d", tc.id, n)
		}
	}
}

// TestDumpEndpointsServeState checks the raw state dumps.
func TestDumpEndpointsServeState(t *testing.T) {
	app := NewTestApp(t)
	defer app.Close()

	app.Feed.SetSnapshot(snapshotAnnAsVex)
	app.Poll(t)

	for _, tc := range []struct {
		path string
		want string
	}{
		{"/pdata", "Ann"},
		{"/cdata", "Vex"},
		{"/players", "P1"},
		{"/characters", "C1"},
	} {
		resp, err := http.Get(app.URL() + tc.path)
		if err != nil {
			t.Fatalf("GET %s: %v", tc.path, err)
		}
		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			t.Fatalf("read %s body: %v", tc.path, err)
		}
		if resp.StatusCode != http.StatusOK {
			t.Errorf("GET %s: status %d", tc.path, resp.StatusCode)
		}
		if !strings.Contains(string(body), tc.want) {
			t.Errorf("GET %s: body does not contain %q", tc.path, tc.want)
		}
	}
}

// TestMetricsEndpoint checks that Prometheus metrics are exposed.
func TestMetricsEndpoint(t *testing.T) {
	app := NewTestApp(t)
	defer app.Close()

	app.Feed.SetSnapshot(snapshotAnnAsVex)
	app.Poll(t)

	resp, err := http.Get(app.URL() + "/metrics")
	if err != nil {
		t.Fatalf("failed to make request: %v", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read body: %v", err)
	}
	if !strings.Contains(string(body), "sinfarwatch_poll_cycles_total") {
		t.Error("metrics output missing sinfarwatch_poll_cycles_total")
	}
}
