package syncserver

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/stepline/stepline/internal/remote"
)

// state holds every project's collections in memory and mirrors them to
// JSON documents on disk (one file per collection, a map of record id to
// record). The documents are the durable copy; memory is authoritative
// between loads.
type state struct {
	dataDir string

	mu       sync.RWMutex
	projects map[string]*project

	// selfWrites records files this process just wrote, so the file
	// watcher can tell its own writes from external edits.
	selfWritesMu sync.Mutex
	selfWrites   map[string]time.Time
}

type project struct {
	mu          sync.RWMutex
	collections map[string]map[string]json.RawMessage
}

func newState(dataDir string) *state {
	return &state{
		dataDir:    dataDir,
		projects:   make(map[string]*project),
		selfWrites: make(map[string]time.Time),
	}
}

// loadAll reads every project directory under dataDir into memory.
// Missing or malformed documents are skipped; the server starts empty
// for those collections rather than refusing to start.
func (st *state) loadAll() error {
	entries, err := os.ReadDir(st.dataDir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read data directory: %w", err)
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		name := entry.Name()
		for _, collection := range []string{remote.CollectionChallenges, remote.CollectionSessions} {
			if err := st.loadDocument(name, collection); err != nil && !os.IsNotExist(err) {
				return err
			}
		}
	}
	return nil
}

// loadDocument reads one collection document from disk into memory,
// replacing whatever the collection held.
func (st *state) loadDocument(projectName, collection string) error {
	blob, err := os.ReadFile(st.documentPath(projectName, collection))
	if err != nil {
		return err
	}

	var records map[string]json.RawMessage
	if err := json.Unmarshal(blob, &records); err != nil {
		return fmt.Errorf("malformed document %s/%s: %w", projectName, collection, err)
	}
	if records == nil {
		records = make(map[string]json.RawMessage)
	}

	p := st.getProject(projectName)
	p.mu.Lock()
	p.collections[collection] = records
	p.mu.Unlock()
	return nil
}

// getProject returns the project, creating it on first use.
func (st *state) getProject(name string) *project {
	st.mu.Lock()
	defer st.mu.Unlock()
	p, ok := st.projects[name]
	if !ok {
		p = &project{collections: make(map[string]map[string]json.RawMessage)}
		st.projects[name] = p
	}
	return p
}

// snapshot returns a copy of a collection's records.
func (st *state) snapshot(projectName, collection string) map[string]json.RawMessage {
	p := st.getProject(projectName)
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make(map[string]json.RawMessage, len(p.collections[collection]))
	for id, rec := range p.collections[collection] {
		out[id] = rec
	}
	return out
}

// replace overwrites a collection wholesale and persists it.
func (st *state) replace(projectName, collection string, records map[string]json.RawMessage) error {
	if records == nil {
		records = make(map[string]json.RawMessage)
	}
	p := st.getProject(projectName)
	p.mu.Lock()
	p.collections[collection] = records
	p.mu.Unlock()

	return st.persist(projectName, collection)
}

// put sets one record and persists the collection.
func (st *state) put(projectName, collection, id string, record json.RawMessage) error {
	p := st.getProject(projectName)
	p.mu.Lock()
	if p.collections[collection] == nil {
		p.collections[collection] = make(map[string]json.RawMessage)
	}
	p.collections[collection][id] = record
	p.mu.Unlock()

	return st.persist(projectName, collection)
}

// delete removes one record and persists the collection. The second
// return value reports whether the record existed.
func (st *state) delete(projectName, collection, id string) (bool, error) {
	p := st.getProject(projectName)
	p.mu.Lock()
	_, existed := p.collections[collection][id]
	delete(p.collections[collection], id)
	p.mu.Unlock()

	if !existed {
		return false, nil
	}
	return true, st.persist(projectName, collection)
}

// persist writes a collection document atomically (temp file + rename)
// and records the write so the file watcher ignores it.
func (st *state) persist(projectName, collection string) error {
	records := st.snapshot(projectName, collection)

	// encoding/json emits map keys sorted, so documents diff cleanly.
	blob, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize %s/%s: %w", projectName, collection, err)
	}

	path := st.documentPath(projectName, collection)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create project directory: %w", err)
	}

	st.markSelfWrite(path)

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, blob, 0600); err != nil {
		return fmt.Errorf("failed to write document: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to replace document: %w", err)
	}
	return nil
}

func (st *state) documentPath(projectName, collection string) string {
	return filepath.Join(st.dataDir, projectName, collection+".json")
}

func (st *state) markSelfWrite(path string) {
	st.selfWritesMu.Lock()
	st.selfWrites[path] = time.Now()
	st.selfWritesMu.Unlock()
}

// isSelfWrite reports whether this process wrote the path recently
// enough that a watcher event for it is an echo, not an external edit.
func (st *state) isSelfWrite(path string) bool {
	st.selfWritesMu.Lock()
	defer st.selfWritesMu.Unlock()
	at, ok := st.selfWrites[path]
	if !ok {
		return false
	}
	if time.Since(at) > 2*time.Second {
		delete(st.selfWrites, path)
		return false
	}
	return true
}

// projectNames returns the known project names.
func (st *state) projectNames() []string {
	st.mu.RLock()
	defer st.mu.RUnlock()
	names := make([]string, 0, len(st.projects))
	for name := range st.projects {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
