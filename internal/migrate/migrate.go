// Package migrate performs the one-time upgrade that introduced tabs:
// legacy datasets have challenges with no tab membership and none of the
// timer or history fields. The migration creates a single default tab,
// assigns every un-tabbed challenge to it, and backfills the missing
// per-challenge fields without overwriting anything already present.
package migrate

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/stepline/stepline/internal/store"
	"github.com/stepline/stepline/internal/types"
)

// Defaults for the migration-created tab.
const (
	DefaultTabName = "Challenge"
	DefaultTabIcon = "🎯"
)

// Result describes what the migration did.
type Result struct {
	Tab        types.Tab         // the default tab (created or reused)
	Challenges []types.Challenge // backfilled copy of the input
	CreatedTab bool              // false when an existing default tab was reused
	Backfilled int               // challenges that had at least one field filled
}

// Migrator runs the tab migration against a store.
type Migrator struct {
	store  *store.Store
	logger *log.Logger
	now    func() time.Time
}

// New creates a Migrator. If logger is nil, a default stderr logger is
// used.
func New(s *store.Store, logger *log.Logger) *Migrator {
	if logger == nil {
		logger = log.New(os.Stderr, "[migrate] ", log.LstdFlags)
	}
	return &Migrator{store: s, logger: logger, now: time.Now}
}

// IsMigrated reports whether the migration already ran for this dataset.
func (m *Migrator) IsMigrated() bool {
	return m.store.IsMigrated()
}

// Run performs the migration and persists its outcome.
//
// The default tab is idempotent by its well-known name: if a previous run
// created the tab but the flag write was lost, the existing tab is reused
// and only the flag is rewritten, so repeated runs can never accumulate
// duplicate default tabs. When the tab has to be created, the tab, the
// active-tab pointer, and the flag commit in one store transaction.
//
// The returned challenges are a backfilled copy of the input; existing
// field values are never overwritten, only missing ones are filled.
func (m *Migrator) Run(challenges []types.Challenge) (*Result, error) {
	tab, created, err := m.ensureDefaultTab()
	if err != nil {
		return nil, err
	}

	upgraded, filled := Backfill(challenges, tab.ID, m.now())
	m.logger.Printf("Migration complete: tab=%s created=%t backfilled=%d/%d",
		tab.ID, created, filled, len(challenges))

	return &Result{
		Tab:        tab,
		Challenges: upgraded,
		CreatedTab: created,
		Backfilled: filled,
	}, nil
}

// ensureDefaultTab creates the default tab, or reuses one a previous
// partially-persisted run left behind.
func (m *Migrator) ensureDefaultTab() (types.Tab, bool, error) {
	for _, existing := range m.store.LoadTabs() {
		if existing.Name == DefaultTabName {
			if !m.store.MarkMigrated() {
				return types.Tab{}, false, fmt.Errorf("failed to persist migration flag")
			}
			return existing, false, nil
		}
	}

	now := m.now()
	tab := types.Tab{
		ID:        types.NewID(),
		Name:      DefaultTabName,
		Color:     types.TabColors[0],
		Icon:      DefaultTabIcon,
		Order:     1,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := m.store.CompleteMigration(tab); err != nil {
		return types.Tab{}, false, fmt.Errorf("failed to persist migration: %w", err)
	}
	return tab, true, nil
}

// Backfill returns a copy of challenges where missing optional fields are
// filled with defaults: tab membership, timer mode, completion history,
// and update timestamp. Fields already carrying a value are untouched, so
// applying Backfill to already-migrated data changes nothing.
func Backfill(challenges []types.Challenge, tabID string, now time.Time) ([]types.Challenge, int) {
	out := make([]types.Challenge, len(challenges))
	filled := 0
	for i, c := range challenges {
		touched := false
		if c.TabID == "" {
			c.TabID = tabID
			touched = true
		}
		if c.TimerType == "" {
			c.TimerType = types.TimerNone
			touched = true
		}
		if c.CompletionTimes == nil {
			c.CompletionTimes = []int{}
			touched = true
		}
		if c.UpdatedAt.IsZero() {
			c.UpdatedAt = now
			touched = true
		}
		if touched {
			filled++
		}
		out[i] = c
	}
	return out, filled
}
