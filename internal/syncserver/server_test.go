package syncserver

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/stepline/stepline/internal/remote"
)

func startServer(t *testing.T, cfg *Config) *Server {
	t.Helper()

	if cfg == nil {
		cfg = &Config{
			Port:    0,
			DataDir: t.TempDir(),
			Logger:  log.New(os.Stderr, "[test-server] ", 0),
		}
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(os.Stderr, "[test-server] ", 0)
	}

	s := New(cfg)
	if err := s.Start(); err != nil {
		t.Fatalf("failed to start server: %v", err)
	}
	t.Cleanup(func() { _ = s.Stop() })
	return s
}

func doRequest(t *testing.T, method, url, key string, body any) *http.Response {
	t.Helper()

	var reader io.Reader
	if body != nil {
		blob, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to marshal body: %v", err)
		}
		reader = bytes.NewReader(blob)
	}

	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("failed to build request: %v", err)
	}
	if key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s failed: %v", method, url, err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func TestCollectionRoundTrip(t *testing.T) {
	s := startServer(t, nil)
	url := s.URL() + "/v1/demo/challenges"

	records := map[string]json.RawMessage{
		"c1": json.RawMessage(`{"id":"c1","text":"one","order":1}`),
		"c2": json.RawMessage(`{"id":"c2","text":"two","order":2}`),
	}
	resp := doRequest(t, http.MethodPut, url, "", records)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("PUT: expected 204, got %d", resp.StatusCode)
	}

	resp = doRequest(t, http.MethodGet, url, "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET: expected 200, got %d", resp.StatusCode)
	}
	var got map[string]json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("expected 2 records, got %d", len(got))
	}
}

func TestSingleRecordPutAndDelete(t *testing.T) {
	s := startServer(t, nil)
	base := s.URL() + "/v1/demo/challenges"

	resp := doRequest(t, http.MethodPut, base+"/c1", "", map[string]any{"id": "c1", "text": "x", "order": 1})
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("PUT record: expected 204, got %d", resp.StatusCode)
	}

	resp = doRequest(t, http.MethodDelete, base+"/c1", "", nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("DELETE: expected 204, got %d", resp.StatusCode)
	}

	// Deleting again reports not found.
	resp = doRequest(t, http.MethodDelete, base+"/c1", "", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("second DELETE: expected 404, got %d", resp.StatusCode)
	}
}

func TestAuthRequired(t *testing.T) {
	s := startServer(t, &Config{Port: 0, DataDir: t.TempDir(), AccessKey: "sekrit"})
	url := s.URL() + "/v1/demo/challenges"

	resp := doRequest(t, http.MethodGet, url, "", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("no key: expected 401, got %d", resp.StatusCode)
	}

	resp = doRequest(t, http.MethodGet, url, "wrong", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("wrong key: expected 401, got %d", resp.StatusCode)
	}

	resp = doRequest(t, http.MethodGet, url, "sekrit", nil)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("valid key: expected 200, got %d", resp.StatusCode)
	}
}

func TestUnknownCollectionRejected(t *testing.T) {
	s := startServer(t, nil)

	resp := doRequest(t, http.MethodGet, s.URL()+"/v1/demo/gadgets", "", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404 for unknown collection, got %d", resp.StatusCode)
	}
}

func readEvent(t *testing.T, ctx context.Context, conn *websocket.Conn) remote.Event {
	t.Helper()

	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("failed to read feed event: %v", err)
	}
	var ev remote.Event
	if err := json.Unmarshal(data, &ev); err != nil {
		t.Fatalf("failed to decode feed event: %v", err)
	}
	return ev
}

func TestWatchFeedSnapshotsAndUpdates(t *testing.T) {
	s := startServer(t, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, s.URL()+"/v1/demo/watch", nil)
	if err != nil {
		t.Fatalf("failed to dial feed: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	// Two snapshot events arrive on connect, one per collection.
	seen := map[string]bool{}
	for i := 0; i < 2; i++ {
		ev := readEvent(t, ctx, conn)
		seen[ev.Collection] = true
	}
	if !seen[remote.CollectionChallenges] || !seen[remote.CollectionSessions] {
		t.Fatalf("expected snapshots for both collections, got %v", seen)
	}

	// A write produces a broadcast carrying the full collection.
	doRequest(t, http.MethodPut, s.URL()+"/v1/demo/challenges/c1", "",
		map[string]any{"id": "c1", "text": "hello", "order": 1})

	ev := readEvent(t, ctx, conn)
	if ev.Collection != remote.CollectionChallenges {
		t.Fatalf("expected challenges event, got %s", ev.Collection)
	}
	if len(ev.Records) != 1 {
		t.Errorf("expected full collection with 1 record, got %d", len(ev.Records))
	}
}

func TestWatchFeedScopedToProject(t *testing.T) {
	s := startServer(t, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, s.URL()+"/v1/family-a/watch", nil)
	if err != nil {
		t.Fatalf("failed to dial feed: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	readEvent(t, ctx, conn) // snapshots
	readEvent(t, ctx, conn)

	// A write to another project must not reach this feed; a write to
	// ours must. Only one event should arrive.
	doRequest(t, http.MethodPut, s.URL()+"/v1/family-b/challenges/x", "",
		map[string]any{"id": "x", "text": "other", "order": 1})
	doRequest(t, http.MethodPut, s.URL()+"/v1/family-a/challenges/mine", "",
		map[string]any{"id": "mine", "text": "ours", "order": 1})

	ev := readEvent(t, ctx, conn)
	if _, ok := ev.Records["mine"]; !ok {
		t.Errorf("expected event for our project's record, got %v", ev.Records)
	}
}

func TestPersistenceAcrossRestart(t *testing.T) {
	dataDir := t.TempDir()

	s := startServer(t, &Config{Port: 0, DataDir: dataDir})
	doRequest(t, http.MethodPut, s.URL()+"/v1/demo/challenges/c1", "",
		map[string]any{"id": "c1", "text": "kept", "order": 1})
	if err := s.Stop(); err != nil {
		t.Fatalf("stop failed: %v", err)
	}

	s2 := startServer(t, &Config{Port: 0, DataDir: dataDir})
	resp := doRequest(t, http.MethodGet, s2.URL()+"/v1/demo/challenges", "", nil)
	var got map[string]json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if _, ok := got["c1"]; !ok {
		t.Errorf("expected record to survive restart, got %v", got)
	}
}

func TestExternalEditBroadcast(t *testing.T) {
	dataDir := t.TempDir()
	s := startServer(t, &Config{Port: 0, DataDir: dataDir, WatchFiles: true})

	// Seed the project so its directory exists and is watched.
	doRequest(t, http.MethodPut, s.URL()+"/v1/demo/challenges/c1", "",
		map[string]any{"id": "c1", "text": "original", "order": 1})

	// Wait out the self-write suppression window from the seeding write,
	// then edit the document out from under the server.
	time.Sleep(2100 * time.Millisecond)
	doc := `{"c1": {"id":"c1","text":"edited","order":1}}`
	path := filepath.Join(dataDir, "demo", "challenges.json")
	if err := os.WriteFile(path, []byte(doc), 0600); err != nil {
		t.Fatalf("failed to edit document: %v", err)
	}

	// The server should reload the edit and serve it.
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		resp := doRequest(t, http.MethodGet, s.URL()+"/v1/demo/challenges", "", nil)
		var got map[string]struct {
			Text string `json:"text"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&got); err == nil {
			if rec, ok := got["c1"]; ok && rec.Text == "edited" {
				return
			}
		}
		time.Sleep(100 * time.Millisecond)
	}
	t.Error("external edit was never reloaded")
}
