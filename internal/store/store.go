// Package store provides the synchronous local persistence layer.
//
// All application state lives in one embedded SQLite database as a small
// key-value table, one row per logical dataset: the main data blob,
// the tab list, the active-tab pointer, the migration flag, run progress,
// the ephemeral timer session, the sound preference, and the custom icon
// list. Keys never overlap, so every write is a simple last-write-wins
// replace of a single row.
//
// The store never surfaces read errors to render paths: a missing or
// structurally invalid blob degrades to the built-in default dataset,
// and write failures are logged and reported as a boolean.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/stepline/stepline/internal/types"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// Fixed keys for each logical dataset.
const (
	keyAppData      = "app_data"
	keyTabs         = "tabs_v1"
	keyActiveTab    = "active_tab_v1"
	keyTabsMigrated = "tabs_migrated_v1"
	keyRunProgress  = "run_progress_v1"
	keyTimerSession = "timer_session_v1"
	keySoundEnabled = "sound_enabled_v1"
	keyCustomIcons  = "custom_icons_v1"
)

// Store is the synchronous key-value persistence layer.
type Store struct {
	conn   *sql.DB
	path   string
	logger *log.Logger
}

// Open creates or opens the store database at the given path.
//
// WAL mode is enabled so a reader (e.g. `stepline status`) never blocks a
// writer. The caller must Close() when done.
//
// If logger is nil, a default logger writing to stderr is used.
func Open(path string, logger *log.Logger) (*Store, error) {
	if logger == nil {
		logger = log.New(os.Stderr, "[store] ", log.LstdFlags)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", "file:"+path)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping store: %w", err)
	}

	s := &Store{conn: conn, path: path, logger: logger}

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := conn.Exec(pragma); err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	if _, err := conn.Exec(`
	CREATE TABLE IF NOT EXISTS kv (
		key        TEXT PRIMARY KEY,
		value      TEXT NOT NULL,
		updated_at TEXT NOT NULL
	)`); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return s, nil
}

// Close closes the underlying database, checkpointing the WAL first.
func (s *Store) Close() error {
	if s.conn == nil {
		return nil
	}
	if _, err := s.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		s.logger.Printf("Warning: failed to checkpoint WAL: %v", err)
	}
	if err := s.conn.Close(); err != nil {
		return fmt.Errorf("failed to close store: %w", err)
	}
	s.conn = nil
	return nil
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// get reads the raw value for a key. Missing keys return ("", false).
func (s *Store) get(key string) (string, bool) {
	var value string
	err := s.conn.QueryRow("SELECT value FROM kv WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false
	}
	if err != nil {
		s.logger.Printf("Error reading key %s: %v", key, err)
		return "", false
	}
	return value, true
}

// set writes the raw value for a key, replacing any previous value.
func (s *Store) set(key, value string) bool {
	_, err := s.conn.Exec(`
		INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		s.logger.Printf("Error writing key %s: %v", key, err)
		return false
	}
	return true
}

// delete removes a key. Missing keys are not an error.
func (s *Store) delete(key string) bool {
	if _, err := s.conn.Exec("DELETE FROM kv WHERE key = ?", key); err != nil {
		s.logger.Printf("Error deleting key %s: %v", key, err)
		return false
	}
	return true
}

// Load reads the main dataset.
//
// On first use (no blob persisted yet) the built-in default dataset is
// written and returned. A blob that fails to parse or is structurally
// invalid (missing challenges array) is logged, reset to the default
// dataset, and the default is returned. Load never fails from the
// caller's perspective.
func (s *Store) Load() types.AppData {
	raw, ok := s.get(keyAppData)
	if !ok {
		defaults := DefaultData()
		s.Save(defaults)
		return defaults
	}

	data, err := decodeAppData([]byte(raw))
	if err != nil {
		s.logger.Printf("Invalid stored data, resetting to defaults: %v", err)
		defaults := DefaultData()
		s.Save(defaults)
		return defaults
	}
	return *data
}

// Save serializes and persists the main dataset synchronously.
// Returns false (and logs) on any storage failure rather than failing
// the caller; in-memory state stays usable either way.
func (s *Store) Save(data types.AppData) bool {
	blob, err := json.Marshal(data)
	if err != nil {
		s.logger.Printf("Error serializing data: %v", err)
		return false
	}
	return s.set(keyAppData, string(blob))
}

// decodeAppData parses and structurally validates a dataset blob.
// The one structural requirement is a challenges array; everything else
// is tolerated so older schema versions still load.
func decodeAppData(blob []byte) (*types.AppData, error) {
	var probe struct {
		Challenges *json.RawMessage `json:"challenges"`
	}
	if err := json.Unmarshal(blob, &probe); err != nil {
		return nil, fmt.Errorf("failed to parse data: %w", err)
	}
	if probe.Challenges == nil {
		return nil, fmt.Errorf("missing challenges field")
	}
	var check []json.RawMessage
	if err := json.Unmarshal(*probe.Challenges, &check); err != nil {
		return nil, fmt.Errorf("challenges is not an array: %w", err)
	}

	var data types.AppData
	if err := json.Unmarshal(blob, &data); err != nil {
		return nil, fmt.Errorf("failed to parse data: %w", err)
	}
	if data.Sessions == nil {
		data.Sessions = []types.Session{}
	}
	return &data, nil
}

// ExportSnapshot produces a pretty-printed serialization of the full
// dataset, suitable for a backup file.
func ExportSnapshot(data types.AppData) string {
	blob, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		// Cannot happen for AppData's field types; keep the contract total.
		return "{}"
	}
	return string(blob)
}

// ImportSnapshot parses and structurally validates a backup document.
// Returns nil on any failure; it never partially applies bad data.
func ImportSnapshot(text string) *types.AppData {
	data, err := decodeAppData([]byte(text))
	if err != nil {
		return nil
	}
	return data
}

// LoadTabs reads the tab list, sorted by order. Errors and missing data
// degrade to an empty list.
func (s *Store) LoadTabs() []types.Tab {
	raw, ok := s.get(keyTabs)
	if !ok {
		return nil
	}
	var tabs []types.Tab
	if err := json.Unmarshal([]byte(raw), &tabs); err != nil {
		s.logger.Printf("Invalid stored tabs, ignoring: %v", err)
		return nil
	}
	sortTabs(tabs)
	return tabs
}

// SaveTabs persists the tab list.
func (s *Store) SaveTabs(tabs []types.Tab) bool {
	blob, err := json.Marshal(tabs)
	if err != nil {
		s.logger.Printf("Error serializing tabs: %v", err)
		return false
	}
	return s.set(keyTabs, string(blob))
}

// ActiveTabID returns the persisted active-tab pointer, or "" if unset.
func (s *Store) ActiveTabID() string {
	id, _ := s.get(keyActiveTab)
	return id
}

// SetActiveTabID persists the active-tab pointer.
func (s *Store) SetActiveTabID(id string) bool {
	return s.set(keyActiveTab, id)
}

// IsMigrated reads the one-time tab migration flag.
func (s *Store) IsMigrated() bool {
	v, _ := s.get(keyTabsMigrated)
	return v == "true"
}

// MarkMigrated sets the migration flag without touching tabs. Used when
// the default tab already exists and only the flag was lost.
func (s *Store) MarkMigrated() bool {
	return s.set(keyTabsMigrated, "true")
}

// CompleteMigration persists the migration outcome atomically: the
// default tab as the sole tab, the active-tab pointer, and the migration
// flag all commit in one transaction. Either the flag and the tab both
// land or neither does, so a partial failure can never leave the flag
// unset next to an already-created tab (or vice versa).
func (s *Store) CompleteMigration(tab types.Tab) error {
	blob, err := json.Marshal([]types.Tab{tab})
	if err != nil {
		return fmt.Errorf("failed to serialize default tab: %w", err)
	}

	tx, err := s.conn.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin migration transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC().Format(time.RFC3339)
	for key, value := range map[string]string{
		keyTabs:         string(blob),
		keyActiveTab:    tab.ID,
		keyTabsMigrated: "true",
	} {
		if _, err := tx.Exec(`
			INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
			ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
			key, value, now); err != nil {
			return fmt.Errorf("failed to write %s: %w", key, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit migration: %w", err)
	}
	return nil
}

// RunProgress reads the in-progress run position, or nil when no run is
// underway.
func (s *Store) RunProgress() *types.RunProgress {
	raw, ok := s.get(keyRunProgress)
	if !ok {
		return nil
	}
	var p types.RunProgress
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		s.logger.Printf("Invalid stored run progress, ignoring: %v", err)
		return nil
	}
	return &p
}

// SaveRunProgress persists the in-progress run position.
func (s *Store) SaveRunProgress(p types.RunProgress) bool {
	blob, err := json.Marshal(p)
	if err != nil {
		s.logger.Printf("Error serializing run progress: %v", err)
		return false
	}
	return s.set(keyRunProgress, string(blob))
}

// ClearRunProgress removes any persisted run position.
func (s *Store) ClearRunProgress() bool {
	return s.delete(keyRunProgress)
}

// TimerSession reads the persisted single-timer session, or nil.
func (s *Store) TimerSession() *types.TimerSession {
	raw, ok := s.get(keyTimerSession)
	if !ok {
		return nil
	}
	var ts types.TimerSession
	if err := json.Unmarshal([]byte(raw), &ts); err != nil {
		s.logger.Printf("Invalid stored timer session, ignoring: %v", err)
		return nil
	}
	return &ts
}

// SaveTimerSession persists the single-timer session.
func (s *Store) SaveTimerSession(ts types.TimerSession) bool {
	blob, err := json.Marshal(ts)
	if err != nil {
		s.logger.Printf("Error serializing timer session: %v", err)
		return false
	}
	return s.set(keyTimerSession, string(blob))
}

// ClearTimerSession removes any persisted timer session.
func (s *Store) ClearTimerSession() bool {
	return s.delete(keyTimerSession)
}

// SoundEnabled reads the sound preference. Sound defaults to on.
func (s *Store) SoundEnabled() bool {
	v, ok := s.get(keySoundEnabled)
	if !ok {
		return true
	}
	return v == "true"
}

// SetSoundEnabled persists the sound preference.
func (s *Store) SetSoundEnabled(enabled bool) bool {
	if enabled {
		return s.set(keySoundEnabled, "true")
	}
	return s.set(keySoundEnabled, "false")
}

// CustomIcons reads the user-curated icon list.
func (s *Store) CustomIcons() []types.Icon {
	raw, ok := s.get(keyCustomIcons)
	if !ok {
		return nil
	}
	var icons []types.Icon
	if err := json.Unmarshal([]byte(raw), &icons); err != nil {
		s.logger.Printf("Invalid stored custom icons, ignoring: %v", err)
		return nil
	}
	return icons
}

// SaveCustomIcons persists the user-curated icon list.
func (s *Store) SaveCustomIcons(icons []types.Icon) bool {
	blob, err := json.Marshal(icons)
	if err != nil {
		s.logger.Printf("Error serializing custom icons: %v", err)
		return false
	}
	return s.set(keyCustomIcons, string(blob))
}

func sortTabs(tabs []types.Tab) {
	sort.SliceStable(tabs, func(i, j int) bool {
		return tabs[i].Order < tabs[j].Order
	})
}
