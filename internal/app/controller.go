// Package app holds the application state controller: the single owner of
// the in-memory dataset for the lifetime of a run. Every mutation goes
// through it, in a fixed order: memory first, then the local store, then
// an asynchronous remote push. The remote is allowed to fail; local use
// never blocks on it.
package app

import (
	"context"
	"fmt"
	"log"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/stepline/stepline/internal/migrate"
	"github.com/stepline/stepline/internal/remote"
	"github.com/stepline/stepline/internal/store"
	"github.com/stepline/stepline/internal/types"
)

// Status is the controller's sync state.
type Status string

const (
	// StatusOffline means no remote is configured; everything is local.
	StatusOffline Status = "offline"
	// StatusSyncing means the initial reconcile with the remote is running.
	StatusSyncing Status = "syncing"
	// StatusSynced means the last remote operation succeeded.
	StatusSynced Status = "synced"
	// StatusError means the last remote operation failed. Local state is
	// still valid and mutations keep working.
	StatusError Status = "error"
)

// Controller owns AppData, the tab list, and the active-tab pointer.
// Construct with New, call Start once, and Close when done.
type Controller struct {
	store   *store.Store
	adapter remote.Adapter
	logger  *log.Logger

	mu        sync.RWMutex
	data      types.AppData
	tabs      []types.Tab
	activeTab string
	status    Status

	unsubs []remote.Unsubscribe
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	closed bool
}

// New creates a Controller over the given store and adapter. The adapter
// may be nil, which behaves like an unconfigured one. If logger is nil, a
// default stderr logger is used.
func New(s *store.Store, adapter remote.Adapter, logger *log.Logger) *Controller {
	if logger == nil {
		logger = log.New(os.Stderr, "[app] ", log.LstdFlags)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Controller{
		store:   s,
		adapter: adapter,
		logger:  logger,
		status:  StatusOffline,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start loads local state, reconciles with the remote when one is
// configured, runs the tab migration if it has not run yet, and attaches
// the subscription feed. The local load is synchronous so callers have
// usable data the moment Start returns, even when the remote is down.
func (c *Controller) Start(ctx context.Context) error {
	local := c.store.Load()

	c.mu.Lock()
	c.data = local
	c.tabs = c.store.LoadTabs()
	c.activeTab = c.store.ActiveTabID()
	c.mu.Unlock()

	if c.remoteConfigured() {
		c.setStatus(StatusSyncing)
		data, err := c.adapter.Initialize(ctx)
		if err != nil {
			c.logger.Printf("Initial sync failed, continuing offline: %v", err)
			c.setStatus(StatusError)
		} else {
			c.setStatus(StatusSynced)
		}
		c.mu.Lock()
		c.data.Challenges = data.Challenges
		c.data.Sessions = data.Sessions
		c.mu.Unlock()
	}

	if err := c.runMigration(); err != nil {
		return err
	}

	c.mu.Lock()
	if c.activeTab == "" && len(c.tabs) > 0 {
		c.activeTab = c.tabs[0].ID
		c.store.SetActiveTabID(c.activeTab)
	}
	c.mu.Unlock()

	c.adoptOrphanedChallenges()

	if c.remoteConfigured() {
		c.mu.Lock()
		c.unsubs = append(c.unsubs,
			c.adapter.SubscribeChallenges(c.onRemoteChallenges),
			c.adapter.SubscribeSessions(c.onRemoteSessions),
		)
		c.mu.Unlock()
	}
	return nil
}

// runMigration performs the one-time tab migration, persisting and
// pushing its output when it changed anything.
func (c *Controller) runMigration() error {
	m := migrate.New(c.store, c.logger)
	if m.IsMigrated() {
		return nil
	}

	c.mu.Lock()
	res, err := m.Run(c.data.Challenges)
	if err != nil {
		c.mu.Unlock()
		return fmt.Errorf("migration failed: %w", err)
	}
	c.data.Challenges = res.Challenges
	c.tabs = c.store.LoadTabs()
	c.activeTab = c.store.ActiveTabID()
	snapshot := c.data.Clone()
	c.mu.Unlock()

	c.store.Save(snapshot)
	if res.Backfilled > 0 || res.CreatedTab {
		c.pushAsync("push migrated challenges", func(ctx context.Context) error {
			return c.adapter.SaveChallenges(ctx, snapshot.Challenges)
		})
	}
	return nil
}

// Close tears the controller down: feed subscriptions, the adapter, and
// any in-flight pushes. Safe to call more than once.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	unsubs := c.unsubs
	c.unsubs = nil
	c.mu.Unlock()

	for _, unsub := range unsubs {
		unsub()
	}
	if c.adapter != nil {
		c.adapter.Cleanup()
	}
	c.cancel()
	c.wg.Wait()
}

// Status returns the current sync status.
func (c *Controller) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status
}

// Data returns a deep copy of the dataset.
func (c *Controller) Data() types.AppData {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.data.Clone()
}

// Tabs returns a copy of the tab list, sorted by order.
func (c *Controller) Tabs() []types.Tab {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]types.Tab, len(c.tabs))
	copy(out, c.tabs)
	return out
}

// ActiveTabID returns the active tab's id, empty when no tabs exist.
func (c *Controller) ActiveTabID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.activeTab
}

// ActiveChallenges returns the active tab's challenges sorted by order.
func (c *Controller) ActiveChallenges() []types.Challenge {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return types.ChallengesForTab(c.activeTab, c.data.Clone().Challenges)
}

// AddChallenge appends a challenge to the end of the active tab. Order
// values are global: the new challenge takes the next slot after every
// existing challenge, whichever tab it lives in.
func (c *Controller) AddChallenge(text string, icon types.Icon, timer types.TimerType, durationSeconds int) (types.Challenge, error) {
	now := time.Now()

	c.mu.Lock()
	challenge := types.Challenge{
		ID:              types.NewID(),
		TabID:           c.activeTab,
		Text:            text,
		Icon:            icon,
		Order:           len(c.data.Challenges) + 1,
		TimerType:       timer,
		TimerDuration:   durationSeconds,
		CompletionTimes: []int{},
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := challenge.Validate(); err != nil {
		c.mu.Unlock()
		return types.Challenge{}, fmt.Errorf("invalid challenge: %w", err)
	}
	c.data.Challenges = append(c.data.Challenges, challenge)
	c.renumberLocked()
	snapshot := c.data.Clone()
	c.mu.Unlock()

	c.store.Save(snapshot)
	c.pushAsync("save challenge", func(ctx context.Context) error {
		return c.adapter.SaveChallenge(ctx, challenge)
	})
	return challenge, nil
}

// UpdateChallenge replaces the challenge with the same id.
func (c *Controller) UpdateChallenge(updated types.Challenge) error {
	if err := updated.Validate(); err != nil {
		return fmt.Errorf("invalid challenge: %w", err)
	}
	updated.UpdatedAt = time.Now()

	c.mu.Lock()
	idx := c.findChallengeLocked(updated.ID)
	if idx < 0 {
		c.mu.Unlock()
		return fmt.Errorf("no challenge with id %s", updated.ID)
	}
	c.data.Challenges[idx] = updated
	c.renumberLocked()
	snapshot := c.data.Clone()
	c.mu.Unlock()

	c.store.Save(snapshot)
	c.pushAsync("save challenge", func(ctx context.Context) error {
		return c.adapter.SaveChallenge(ctx, updated)
	})
	return nil
}

// DeleteChallenge removes a challenge. The survivors are renumbered so
// orders stay dense over the full set, and the closed gap is pushed
// wholesale so remote orders do not go stale.
func (c *Controller) DeleteChallenge(id string) error {
	c.mu.Lock()
	idx := c.findChallengeLocked(id)
	if idx < 0 {
		c.mu.Unlock()
		return fmt.Errorf("no challenge with id %s", id)
	}
	c.data.Challenges = append(c.data.Challenges[:idx], c.data.Challenges[idx+1:]...)
	c.renumberLocked()
	snapshot := c.data.Clone()
	c.mu.Unlock()

	c.store.Save(snapshot)
	c.pushAsync("delete challenge", func(ctx context.Context) error {
		if err := c.adapter.DeleteChallenge(ctx, id); err != nil {
			return err
		}
		return c.adapter.SaveChallenges(ctx, snapshot.Challenges)
	})
	return nil
}

// ReorderChallenge moves a challenge to the given 1-based position within
// its tab. Positions outside 1..N are clamped.
//
// Order values are global, so the tab's members are permuted across the
// order slots they already occupy: challenges in other tabs keep their
// values and the full set stays dense.
func (c *Controller) ReorderChallenge(id string, position int) error {
	c.mu.Lock()
	idx := c.findChallengeLocked(id)
	if idx < 0 {
		c.mu.Unlock()
		return fmt.Errorf("no challenge with id %s", id)
	}
	tabID := c.data.Challenges[idx].TabID

	// Indices of the tab's members, sorted by their current order.
	var members []int
	for i, challenge := range c.data.Challenges {
		if challenge.TabID == tabID || challenge.TabID == "" {
			members = append(members, i)
		}
	}
	sort.Slice(members, func(a, b int) bool {
		return c.data.Challenges[members[a]].Order < c.data.Challenges[members[b]].Order
	})

	slots := make([]int, len(members))
	current := 0
	for i, mi := range members {
		slots[i] = c.data.Challenges[mi].Order
		if mi == idx {
			current = i
		}
	}
	if position < 1 {
		position = 1
	}
	if position > len(members) {
		position = len(members)
	}
	target := position - 1

	moved := members[current]
	members = append(members[:current], members[current+1:]...)
	members = append(members[:target], append([]int{moved}, members[target:]...)...)
	for i, mi := range members {
		c.data.Challenges[mi].Order = slots[i]
	}

	c.data.Challenges[idx].UpdatedAt = time.Now()
	snapshot := c.data.Clone()
	c.mu.Unlock()

	c.store.Save(snapshot)
	c.pushAsync("save challenges", func(ctx context.Context) error {
		return c.adapter.SaveChallenges(ctx, snapshot.Challenges)
	})
	return nil
}

// CompleteChallenge records a completion duration on a challenge.
func (c *Controller) CompleteChallenge(id string, seconds int) error {
	c.mu.Lock()
	idx := c.findChallengeLocked(id)
	if idx < 0 {
		c.mu.Unlock()
		return fmt.Errorf("no challenge with id %s", id)
	}
	c.data.Challenges[idx].RecordCompletion(seconds)
	updated := c.data.Challenges[idx]
	snapshot := c.data.Clone()
	c.mu.Unlock()

	c.store.Save(snapshot)
	c.pushAsync("save challenge", func(ctx context.Context) error {
		return c.adapter.SaveChallenge(ctx, updated)
	})
	return nil
}

// RecordSession appends an immutable session for a completed run and
// clears any persisted run progress.
func (c *Controller) RecordSession(items []types.ChallengeSession) (types.Session, error) {
	if len(items) == 0 {
		return types.Session{}, fmt.Errorf("a session needs at least one challenge")
	}
	total := 0
	for _, item := range items {
		total += item.TimeTaken
	}
	session := types.Session{
		ID:         types.NewID(),
		Date:       time.Now(),
		Challenges: items,
		TotalTime:  total,
	}

	c.mu.Lock()
	c.data.Sessions = append(c.data.Sessions, session)
	types.SortSessions(c.data.Sessions)
	snapshot := c.data.Clone()
	c.mu.Unlock()

	c.store.Save(snapshot)
	c.store.ClearRunProgress()
	c.store.ClearTimerSession()
	c.pushAsync("save session", func(ctx context.Context) error {
		return c.adapter.SaveSession(ctx, session)
	})
	return session, nil
}

// AddTab creates a tab. Tabs are local-only: they are never pushed to the
// remote, matching the sync protocol's two collections.
func (c *Controller) AddTab(name, icon string, color types.TabColor) (types.Tab, error) {
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.tabs) >= types.MaxTabs {
		return types.Tab{}, fmt.Errorf("tab limit reached (%d)", types.MaxTabs)
	}
	tab := types.Tab{
		ID:        types.NewID(),
		Name:      name,
		Color:     color,
		Icon:      icon,
		Order:     len(c.tabs) + 1,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := tab.Validate(); err != nil {
		return types.Tab{}, fmt.Errorf("invalid tab: %w", err)
	}
	c.tabs = append(c.tabs, tab)
	c.store.SaveTabs(c.tabs)
	if c.activeTab == "" {
		c.activeTab = tab.ID
		c.store.SetActiveTabID(tab.ID)
	}
	return tab, nil
}

// RemoveTab deletes a tab and every challenge assigned to it. The last
// remaining tab cannot be removed.
func (c *Controller) RemoveTab(id string) error {
	c.mu.Lock()
	if len(c.tabs) <= 1 {
		c.mu.Unlock()
		return fmt.Errorf("cannot remove the last tab")
	}
	idx := -1
	for i, tab := range c.tabs {
		if tab.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		c.mu.Unlock()
		return fmt.Errorf("no tab with id %s", id)
	}
	c.tabs = append(c.tabs[:idx], c.tabs[idx+1:]...)
	for i := range c.tabs {
		c.tabs[i].Order = i + 1
	}

	kept := c.data.Challenges[:0]
	for _, challenge := range c.data.Challenges {
		if challenge.TabID != id {
			kept = append(kept, challenge)
		}
	}
	c.data.Challenges = kept
	c.renumberLocked()

	c.store.SaveTabs(c.tabs)
	if c.activeTab == id {
		c.activeTab = c.tabs[0].ID
		c.store.SetActiveTabID(c.activeTab)
	}
	snapshot := c.data.Clone()
	c.mu.Unlock()

	c.store.Save(snapshot)
	// One wholesale push: it removes the tab's records and carries the
	// renumbered survivors in the same write.
	c.pushAsync("save challenges", func(ctx context.Context) error {
		return c.adapter.SaveChallenges(ctx, snapshot.Challenges)
	})
	return nil
}

// RenameTab updates a tab's display name.
func (c *Controller) RenameTab(id, name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.tabs {
		if c.tabs[i].ID != id {
			continue
		}
		tab := c.tabs[i]
		tab.Name = name
		tab.UpdatedAt = time.Now()
		if err := tab.Validate(); err != nil {
			return fmt.Errorf("invalid tab: %w", err)
		}
		c.tabs[i] = tab
		c.store.SaveTabs(c.tabs)
		return nil
	}
	return fmt.Errorf("no tab with id %s", id)
}

// SetActiveTab switches the active tab pointer.
func (c *Controller) SetActiveTab(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, tab := range c.tabs {
		if tab.ID == id {
			c.activeTab = id
			c.store.SetActiveTabID(id)
			return nil
		}
	}
	return fmt.Errorf("no tab with id %s", id)
}

// adoptOrphanedChallenges clears tab references that point at tabs that
// no longer exist (deleted on another device, or lost to a partial
// restore). A cleared reference means the challenge shows in every tab,
// the same treatment pre-tab data gets.
func (c *Controller) adoptOrphanedChallenges() {
	c.mu.Lock()
	known := make(map[string]bool, len(c.tabs))
	for _, tab := range c.tabs {
		known[tab.ID] = true
	}
	changed := 0
	for i := range c.data.Challenges {
		if tabID := c.data.Challenges[i].TabID; tabID != "" && !known[tabID] {
			c.data.Challenges[i].TabID = ""
			changed++
		}
	}
	var snapshot types.AppData
	if changed > 0 {
		snapshot = c.data.Clone()
	}
	c.mu.Unlock()

	if changed > 0 {
		c.logger.Printf("Adopted %d challenges whose tab no longer exists", changed)
		c.store.Save(snapshot)
	}
}

// StartRun begins a timed run through the active tab, persisting the
// position and a timer for the first challenge so a new process can
// pick up where this one left off.
func (c *Controller) StartRun() (types.Challenge, error) {
	challenges := c.ActiveChallenges()
	if len(challenges) == 0 {
		return types.Challenge{}, fmt.Errorf("the active tab has no challenges")
	}
	first := challenges[0]
	now := time.Now()
	c.store.SaveRunProgress(types.RunProgress{
		TabID:     c.ActiveTabID(),
		Index:     0,
		StartedAt: now,
	})
	c.startTimer(first, now)
	return first, nil
}

// RunState returns the persisted run position and the challenge at it.
// Both are nil when no run is in progress; the challenge alone is nil
// when the position has run off the end of the tab.
func (c *Controller) RunState() (*types.RunProgress, *types.Challenge) {
	progress := c.store.RunProgress()
	if progress == nil {
		return nil, nil
	}
	challenges := types.ChallengesForTab(progress.TabID, c.Data().Challenges)
	if progress.Index < 0 || progress.Index >= len(challenges) {
		return progress, nil
	}
	current := challenges[progress.Index]
	return progress, &current
}

// AdvanceRun completes the current run challenge with the elapsed timer
// seconds and moves to the next one. When the completed challenge was
// the last, the run state is cleared and done is true; record the run
// with RecordSession.
func (c *Controller) AdvanceRun() (next types.Challenge, done bool, err error) {
	progress := c.store.RunProgress()
	if progress == nil {
		return types.Challenge{}, false, fmt.Errorf("no run in progress")
	}
	challenges := types.ChallengesForTab(progress.TabID, c.Data().Challenges)
	if progress.Index < 0 || progress.Index >= len(challenges) {
		c.store.ClearRunProgress()
		c.store.ClearTimerSession()
		return types.Challenge{}, true, nil
	}

	current := challenges[progress.Index]
	elapsed := 0
	if ts := c.store.TimerSession(); ts != nil && ts.ItemID == current.ID {
		elapsed = int((time.Now().UnixMilli() - ts.StartTime) / 1000)
	}
	if err := c.CompleteChallenge(current.ID, elapsed); err != nil {
		return types.Challenge{}, false, err
	}

	progress.Index++
	if progress.Index >= len(challenges) {
		c.store.ClearRunProgress()
		c.store.ClearTimerSession()
		return types.Challenge{}, true, nil
	}
	next = challenges[progress.Index]
	c.store.SaveRunProgress(*progress)
	c.startTimer(next, time.Now())
	return next, false, nil
}

// AbortRun discards an in-progress run without recording anything.
func (c *Controller) AbortRun() {
	c.store.ClearRunProgress()
	c.store.ClearTimerSession()
}

func (c *Controller) startTimer(challenge types.Challenge, now time.Time) {
	c.store.SaveTimerSession(types.TimerSession{
		ItemID:    challenge.ID,
		ItemType:  "challenge",
		TimerType: challenge.TimerType,
		StartTime: now.UnixMilli(),
		Duration:  challenge.TimerDuration,
		IsRunning: true,
	})
}

// Export returns the dataset as pretty-printed JSON.
func (c *Controller) Export() string {
	return store.ExportSnapshot(c.Data())
}

// Import replaces the dataset wholesale from exported JSON. A snapshot
// that fails validation leaves the current state untouched.
func (c *Controller) Import(text string) error {
	imported := store.ImportSnapshot(text)
	if imported == nil {
		return fmt.Errorf("snapshot is not a valid dataset")
	}

	c.mu.Lock()
	c.data = *imported
	snapshot := c.data.Clone()
	c.mu.Unlock()

	c.store.Save(snapshot)
	// Both collections go up wholesale; an import is a full replacement.
	c.pushAsync("push imported dataset", func(ctx context.Context) error {
		if err := c.adapter.SaveChallenges(ctx, snapshot.Challenges); err != nil {
			return err
		}
		return c.adapter.SaveSessions(ctx, snapshot.Sessions)
	})
	return nil
}

/// onRemoteChallenges applies a feed update: the remote collection
// replaces the local one and is persisted, without a push back.
func (c *Controller) onRemoteChallenges(challenges []types.Challenge) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.data.Challenges = challenges
	snapshot := c.data.Clone()
	c.mu.Unlock()

	c.store.Save(snapshot)
	c.setStatus(StatusSynced)
}

func (c *Controller) onRemoteSessions(sessions []types.Session) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.data.Sessions = sessions
	snapshot := c.data.Clone()
	c.mu.Unlock()

	c.store.Save(snapshot)
	c.setStatus(StatusSynced)
}

// pushAsync runs a remote write in the background, tracking its outcome
// in the status flag. A no-op when no remote is configured.
func (c *Controller) pushAsync(op string, fn func(context.Context) error) {
	if !c.remoteConfigured() {
		return
	}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.wg.Add(1)
	c.mu.Unlock()

	go func() {
		defer c.wg.Done()
		if err := fn(c.ctx); err != nil {
			if c.ctx.Err() == nil {
				c.logger.Printf("Remote %s failed: %v", op, err)
				c.setStatus(StatusError)
			}
			return
		}
		c.setStatus(StatusSynced)
	}()
}

func (c *Controller) remoteConfigured() bool {
	return c.adapter != nil && c.adapter.IsConfigured()
}

func (c *Controller) setStatus(s Status) {
	c.mu.Lock()
	c.status = s
	c.mu.Unlock()
}

// findChallengeLocked returns the index of the challenge with the given
// id, or -1. Callers hold c.mu.
func (c *Controller) findChallengeLocked(id string) int {
	for i := range c.data.Challenges {
		if c.data.Challenges[i].ID == id {
			return i
		}
	}
	return -1
}

// renumberLocked restores dense, unique 1..N orders over the full
// challenge set, preserving relative order. Callers hold c.mu.
func (c *Controller) renumberLocked() {
	types.Renumber(c.data.Challenges)
}
