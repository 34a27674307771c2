package app_test

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stepline/stepline/internal/app"
	"github.com/stepline/stepline/internal/remote"
	"github.com/stepline/stepline/internal/store"
	"github.com/stepline/stepline/internal/syncserver"
	"github.com/stepline/stepline/internal/types"
)

func testLogger(prefix string) *log.Logger {
	return log.New(os.Stderr, "["+prefix+"] ", 0)
}

func openStore(t *testing.T) *store.Store {
	t.Helper()

	s, err := store.Open(filepath.Join(t.TempDir(), "stepline.db"), testLogger("test-store"))
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// startOffline builds a controller with no remote and runs its startup.
func startOffline(t *testing.T) *app.Controller {
	t.Helper()
	return startOfflineWith(t, openStore(t))
}

// startOfflineWith runs a controller's startup against an existing
// store, for tests that seed the store beforehand.
func startOfflineWith(t *testing.T, st *store.Store) *app.Controller {
	t.Helper()

	c := app.New(st, nil, testLogger("test-app"))
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(c.Close)
	return c
}

func assertDenseOrder(t *testing.T, challenges []types.Challenge) {
	t.Helper()

	types.SortChallenges(challenges)
	for i, c := range challenges {
		if c.Order != i+1 {
			t.Fatalf("order not dense: position %d has order %d (want %d)", i, c.Order, i+1)
		}
	}
}

func TestStartOfflineMigratesAndStaysLocal(t *testing.T) {
	c := startOffline(t)

	if got := c.Status(); got != app.StatusOffline {
		t.Errorf("expected offline status, got %s", got)
	}

	tabs := c.Tabs()
	if len(tabs) != 1 {
		t.Fatalf("expected the migration-created tab, got %d tabs", len(tabs))
	}
	if tabs[0].Name != "Challenge" {
		t.Errorf("default tab name: got %q", tabs[0].Name)
	}
	if c.ActiveTabID() != tabs[0].ID {
		t.Errorf("active tab should point at the default tab")
	}

	data := c.Data()
	if len(data.Challenges) != 5 {
		t.Fatalf("expected the 5 default challenges, got %d", len(data.Challenges))
	}
	for _, challenge := range data.Challenges {
		if challenge.TabID != tabs[0].ID {
			t.Errorf("challenge %s not assigned to the default tab", challenge.ID)
		}
		if challenge.TimerType == "" || challenge.CompletionTimes == nil {
			t.Errorf("challenge %s missing backfilled fields", challenge.ID)
		}
	}
	assertDenseOrder(t, data.Challenges)
}

func TestAddChallengeAppendsWithDenseOrder(t *testing.T) {
	c := startOffline(t)

	added, err := c.AddChallenge("floss", types.EmojiIcon("🦷"), types.TimerNone, 0)
	if err != nil {
		t.Fatalf("AddChallenge: %v", err)
	}
	if added.Order != 6 {
		t.Errorf("new challenge should land at the end: got order %d", added.Order)
	}
	assertDenseOrder(t, c.ActiveChallenges())
}

func TestAddChallengeRejectsInvalid(t *testing.T) {
	c := startOffline(t)

	if _, err := c.AddChallenge("", types.EmojiIcon("🦷"), types.TimerNone, 0); err == nil {
		t.Error("empty text should be rejected")
	}
	if _, err := c.AddChallenge("race", types.EmojiIcon("🏁"), types.TimerDown, 0); err == nil {
		t.Error("countdown with no duration should be rejected")
	}
	if got := len(c.Data().Challenges); got != 5 {
		t.Errorf("rejected adds must not change state: got %d challenges", got)
	}
}

func TestDeleteChallengeClosesOrderGap(t *testing.T) {
	c := startOffline(t)

	challenges := c.ActiveChallenges()
	if err := c.DeleteChallenge(challenges[2].ID); err != nil {
		t.Fatalf("DeleteChallenge: %v", err)
	}

	remaining := c.ActiveChallenges()
	if len(remaining) != 4 {
		t.Fatalf("expected 4 challenges, got %d", len(remaining))
	}
	assertDenseOrder(t, remaining)
	// The two after the gap moved up, the two before stayed put.
	if remaining[0].ID != challenges[0].ID || remaining[2].ID != challenges[3].ID {
		t.Error("relative order not preserved across delete")
	}
}

func TestReorderChallengeMovesWithinTab(t *testing.T) {
	c := startOffline(t)

	before := c.ActiveChallenges()
	if err := c.ReorderChallenge(before[0].ID, 3); err != nil {
		t.Fatalf("ReorderChallenge: %v", err)
	}

	after := c.ActiveChallenges()
	assertDenseOrder(t, after)
	if after[2].ID != before[0].ID {
		t.Errorf("moved challenge should sit at position 3, found %s", after[2].ID)
	}
	if after[0].ID != before[1].ID {
		t.Errorf("displaced challenges should shift up")
	}

	// Out-of-range positions clamp instead of failing.
	if err := c.ReorderChallenge(before[0].ID, 99); err != nil {
		t.Fatalf("clamped reorder: %v", err)
	}
	final := c.ActiveChallenges()
	if final[len(final)-1].ID != before[0].ID {
		t.Error("position past the end should clamp to last")
	}
	assertDenseOrder(t, final)
}

func TestOrdersDenseAcrossTabs(t *testing.T) {
	c := startOffline(t)

	evening, err := c.AddTab("Evening", "🌙", types.TabColors[1])
	if err != nil {
		t.Fatalf("AddTab: %v", err)
	}
	if err := c.SetActiveTab(evening.ID); err != nil {
		t.Fatalf("SetActiveTab: %v", err)
	}

	// New challenges land at the end of the whole list, not at the start
	// of a per-tab numbering.
	dim, err := c.AddChallenge("dim the lights", types.EmojiIcon("💡"), types.TimerNone, 0)
	if err != nil {
		t.Fatalf("AddChallenge: %v", err)
	}
	lock, err := c.AddChallenge("lock the door", types.EmojiIcon("🔒"), types.TimerNone, 0)
	if err != nil {
		t.Fatalf("AddChallenge: %v", err)
	}
	if dim.Order != 6 || lock.Order != 7 {
		t.Errorf("second tab's challenges should take orders 6 and 7, got %d and %d", dim.Order, lock.Order)
	}

	all := c.Data().Challenges
	if len(all) != 7 {
		t.Fatalf("expected 7 challenges across both tabs, got %d", len(all))
	}
	assertDenseOrder(t, all)

	// Reordering inside one tab permutes only that tab's slots.
	firstTab := types.ChallengesForTab(c.Tabs()[0].ID, all)
	if err := c.ReorderChallenge(lock.ID, 1); err != nil {
		t.Fatalf("ReorderChallenge: %v", err)
	}
	after := c.Data().Challenges
	assertDenseOrder(t, after)
	for _, challenge := range after {
		switch challenge.ID {
		case lock.ID:
			if challenge.Order != 6 {
				t.Errorf("moved challenge should take the tab's first slot (6), got %d", challenge.Order)
			}
		case dim.ID:
			if challenge.Order != 7 {
				t.Errorf("displaced challenge should take slot 7, got %d", challenge.Order)
			}
		default:
			for _, before := range firstTab {
				if before.ID == challenge.ID && before.Order != challenge.Order {
					t.Errorf("challenge %s in the other tab moved from %d to %d", challenge.ID, before.Order, challenge.Order)
				}
			}
		}
	}
}

func TestTabCapEnforced(t *testing.T) {
	c := startOffline(t)

	// One tab exists from migration; three more reach the cap.
	names := []string{"Morning", "Evening", "Weekend"}
	for i, name := range names {
		if _, err := c.AddTab(name, "🌙", types.TabColors[i+1]); err != nil {
			t.Fatalf("AddTab %s: %v", name, err)
		}
	}

	if _, err := c.AddTab("One Too Many", "🎈", types.TabColors[0]); err == nil {
		t.Error("fifth tab should exceed the cap")
	}
	if got := len(c.Tabs()); got != types.MaxTabs {
		t.Errorf("expected %d tabs, got %d", types.MaxTabs, got)
	}
}

func TestRemoveTabDeletesItsChallenges(t *testing.T) {
	c := startOffline(t)

	tab, err := c.AddTab("Evening", "🌙", types.TabColors[1])
	if err != nil {
		t.Fatalf("AddTab: %v", err)
	}
	if err := c.SetActiveTab(tab.ID); err != nil {
		t.Fatalf("SetActiveTab: %v", err)
	}
	if _, err := c.AddChallenge("dim the lights", types.EmojiIcon("💡"), types.TimerNone, 0); err != nil {
		t.Fatalf("AddChallenge: %v", err)
	}

	if err := c.RemoveTab(tab.ID); err != nil {
		t.Fatalf("RemoveTab: %v", err)
	}

	if len(c.Tabs()) != 1 {
		t.Fatalf("expected 1 tab left, got %d", len(c.Tabs()))
	}
	if c.ActiveTabID() == tab.ID {
		t.Error("active tab should fall back after removal")
	}
	for _, challenge := range c.Data().Challenges {
		if challenge.TabID == tab.ID {
			t.Errorf("challenge %s should have been removed with its tab", challenge.ID)
		}
	}
}

func TestRemoveLastTabRefused(t *testing.T) {
	c := startOffline(t)

	if err := c.RemoveTab(c.Tabs()[0].ID); err == nil {
		t.Error("removing the only tab should fail")
	}
}

func TestCompleteChallengeTracksBestAndLast(t *testing.T) {
	c := startOffline(t)
	id := c.ActiveChallenges()[0].ID

	for _, seconds := range []int{42, 30, 55} {
		if err := c.CompleteChallenge(id, seconds); err != nil {
			t.Fatalf("CompleteChallenge: %v", err)
		}
	}

	var got types.Challenge
	for _, challenge := range c.Data().Challenges {
		if challenge.ID == id {
			got = challenge
		}
	}
	if len(got.CompletionTimes) != 3 {
		t.Fatalf("expected 3 completions, got %d", len(got.CompletionTimes))
	}
	if got.BestTime == nil || *got.BestTime != 30 {
		t.Errorf("best time: got %v, want 30", got.BestTime)
	}
	if got.LastTime == nil || *got.LastTime != 55 {
		t.Errorf("last time: got %v, want 55", got.LastTime)
	}
}

func TestRecordSessionAppendsNewestFirst(t *testing.T) {
	c := startOffline(t)

	first, err := c.RecordSession([]types.ChallengeSession{
		{ChallengeID: "1", TimeTaken: 20, Order: 1},
		{ChallengeID: "2", TimeTaken: 40, Order: 2},
	})
	if err != nil {
		t.Fatalf("RecordSession: %v", err)
	}
	if first.TotalTime != 60 {
		t.Errorf("total time: got %d, want 60", first.TotalTime)
	}

	time.Sleep(5 * time.Millisecond)
	second, err := c.RecordSession([]types.ChallengeSession{
		{ChallengeID: "1", TimeTaken: 15, Order: 1},
	})
	if err != nil {
		t.Fatalf("RecordSession: %v", err)
	}

	sessions := c.Data().Sessions
	if len(sessions) != 2 {
		t.Fatalf("expected 2 sessions, got %d", len(sessions))
	}
	if sessions[0].ID != second.ID {
		t.Error("sessions should be sorted newest first")
	}

	if _, err := c.RecordSession(nil); err == nil {
		t.Error("empty session should be rejected")
	}
}

func TestExportImportRoundTrip(t *testing.T) {
	c := startOffline(t)
	if _, err := c.AddChallenge("water the plants", types.EmojiIcon("🪴"), types.TimerNone, 0); err != nil {
		t.Fatalf("AddChallenge: %v", err)
	}

	exported := c.Export()
	if !strings.Contains(exported, "water the plants") {
		t.Fatal("export should contain the added challenge")
	}

	// A fresh controller imports the snapshot and ends up with the same
	// challenge set.
	c2 := startOffline(t)
	if err := c2.Import(exported); err != nil {
		t.Fatalf("Import: %v", err)
	}
	if got := len(c2.Data().Challenges); got != 6 {
		t.Errorf("expected 6 challenges after import, got %d", got)
	}
}

func TestImportRejectsGarbageUntouched(t *testing.T) {
	c := startOffline(t)
	before := c.Data()

	for _, bad := range []string{"", "not json", `{"challenges": 7}`} {
		if err := c.Import(bad); err == nil {
			t.Errorf("import of %q should fail", bad)
		}
	}

	after := c.Data()
	if len(after.Challenges) != len(before.Challenges) {
		t.Error("failed import must leave state untouched")
	}
}

func TestRunLifecycle(t *testing.T) {
	c := startOffline(t)
	want := c.ActiveChallenges()

	first, err := c.StartRun()
	if err != nil {
		t.Fatalf("StartRun: %v", err)
	}
	if first.ID != want[0].ID {
		t.Errorf("run should start at the first challenge, got %s", first.ID)
	}

	progress, current := c.RunState()
	if progress == nil || current == nil {
		t.Fatal("run state should be persisted after start")
	}
	if progress.Index != 0 || current.ID != first.ID {
		t.Errorf("run state: index %d at %s, want 0 at %s", progress.Index, current.ID, first.ID)
	}

	steps := 0
	for {
		_, done, err := c.AdvanceRun()
		if err != nil {
			t.Fatalf("AdvanceRun: %v", err)
		}
		steps++
		if done {
			break
		}
	}
	if steps != len(want) {
		t.Errorf("expected %d advances to finish, took %d", len(want), steps)
	}

	if progress, _ := c.RunState(); progress != nil {
		t.Error("a finished run should clear its state")
	}
	for _, challenge := range c.Data().Challenges {
		if len(challenge.CompletionTimes) != 1 {
			t.Errorf("challenge %s should record one completion, has %d", challenge.ID, len(challenge.CompletionTimes))
		}
	}

	if _, _, err := c.AdvanceRun(); err == nil {
		t.Error("advancing with no run in progress should fail")
	}
}

func TestAbortRunClearsState(t *testing.T) {
	c := startOffline(t)

	if _, err := c.StartRun(); err != nil {
		t.Fatalf("StartRun: %v", err)
	}
	c.AbortRun()

	if progress, _ := c.RunState(); progress != nil {
		t.Error("aborted run should clear its state")
	}
	for _, challenge := range c.Data().Challenges {
		if len(challenge.CompletionTimes) != 0 {
			t.Errorf("aborted run must not record completions, challenge %s has %d", challenge.ID, len(challenge.CompletionTimes))
		}
	}
}

func TestDanglingTabReferenceAdopted(t *testing.T) {
	st := openStore(t)

	// First startup migrates the defaults into the default tab.
	c1 := app.New(st, nil, testLogger("test-app"))
	if err := c1.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	c1.Close()

	// Seed a challenge whose tab no longer exists, as a remote writer
	// that removed the tab out from under us would leave behind.
	data := st.Load()
	data.Challenges = append(data.Challenges, types.Challenge{
		ID:        types.NewID(),
		TabID:     "tab-removed-elsewhere",
		Text:      "stranded",
		Icon:      types.EmojiIcon("🧩"),
		Order:     len(data.Challenges) + 1,
		TimerType: types.TimerNone,
		CreatedAt: time.Now(),
	})
	if !st.Save(data) {
		t.Fatal("failed to seed the store")
	}

	c2 := startOfflineWith(t, st)
	found := false
	for _, challenge := range c2.ActiveChallenges() {
		if challenge.Text == "stranded" {
			found = true
			if challenge.TabID != "" {
				t.Errorf("dead tab reference should be cleared, got %q", challenge.TabID)
			}
		}
	}
	if !found {
		t.Error("a challenge referencing a dead tab should surface in the active tab")
	}
}

const testKey = "test-access-key"

func startSynced(t *testing.T) (*app.Controller, *syncserver.Server) {
	t.Helper()

	srv := syncserver.New(&syncserver.Config{
		Port:      0,
		DataDir:   t.TempDir(),
		AccessKey: testKey,
		Logger:    testLogger("test-server"),
	})
	if err := srv.Start(); err != nil {
		t.Fatalf("failed to start sync server: %v", err)
	}
	t.Cleanup(func() { _ = srv.Stop() })

	st := openStore(t)
	adapter := remote.New(remote.Config{
		Endpoint:  srv.URL(),
		Project:   "testproj",
		AccessKey: testKey,
	}, st, testLogger("test-adapter"))

	c := app.New(st, adapter, testLogger("test-app"))
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(c.Close)
	return c, srv
}

func remoteRecordCount(t *testing.T, srv *syncserver.Server, collection string) int {
	t.Helper()

	req, err := http.NewRequest(http.MethodGet, srv.URL()+"/v1/testproj/"+collection, nil)
	if err != nil {
		t.Fatalf("failed to build request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+testKey)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	defer resp.Body.Close()

	var records map[string]json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&records); err != nil {
		t.Fatalf("failed to decode %s: %v", collection, err)
	}
	return len(records)
}

func TestSyncedStartupPushesLocalData(t *testing.T) {
	c, srv := startSynced(t)

	if got := c.Status(); got != app.StatusSynced {
		t.Errorf("expected synced status after startup, got %s", got)
	}

	// The migration output is pushed in the background.
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		if remoteRecordCount(t, srv, "challenges") == 5 {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Errorf("remote never received the 5 local challenges, has %d", remoteRecordCount(t, srv, "challenges"))
}

func TestMutationReachesRemote(t *testing.T) {
	c, srv := startSynced(t)

	if _, err := c.AddChallenge("stretch", types.EmojiIcon("🧘"), types.TimerNone, 0); err != nil {
		t.Fatalf("AddChallenge: %v", err)
	}

	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		if remoteRecordCount(t, srv, "challenges") == 6 {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Errorf("remote never received the added challenge, has %d", remoteRecordCount(t, srv, "challenges"))
}

func TestImportReachesRemote(t *testing.T) {
	seed := startOffline(t)
	if _, err := seed.RecordSession([]types.ChallengeSession{
		{ChallengeID: "1", TimeTaken: 20, Order: 1},
	}); err != nil {
		t.Fatalf("RecordSession: %v", err)
	}
	exported := seed.Export()

	c, srv := startSynced(t)
	if err := c.Import(exported); err != nil {
		t.Fatalf("Import: %v", err)
	}

	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		if remoteRecordCount(t, srv, "sessions") == 1 {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Errorf("remote never received the imported session, has %d", remoteRecordCount(t, srv, "sessions"))
}
