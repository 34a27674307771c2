package syncserver

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/stepline/stepline/internal/remote"
)

// docWatcher watches the data directory for external edits to collection
// documents (restores, manual fixes) and feeds them back through the
// server as if they were API writes. Writes made by the server itself
// are recognized via the state's self-write log and skipped.
type docWatcher struct {
	server  *Server
	dataDir string
	fw      *fsnotify.Watcher

	// pending debounces rapid successive events per path.
	pending map[string]time.Time
}

func newDocWatcher(s *Server, dataDir string) (*docWatcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(dataDir, 0755); err != nil {
		_ = fw.Close()
		return nil, err
	}
	if err := fw.Add(dataDir); err != nil {
		_ = fw.Close()
		return nil, err
	}

	// Watch existing project directories; new ones are added as their
	// create events arrive.
	entries, err := os.ReadDir(dataDir)
	if err == nil {
		for _, entry := range entries {
			if entry.IsDir() {
				_ = fw.Add(filepath.Join(dataDir, entry.Name()))
			}
		}
	}

	return &docWatcher{
		server:  s,
		dataDir: dataDir,
		fw:      fw,
		pending: make(map[string]time.Time),
	}, nil
}

func (w *docWatcher) close() {
	_ = w.fw.Close()
}

// run processes watcher events until ctx is cancelled. Events are
// debounced so an editor's write-then-rename sequence reloads once.
func (w *docWatcher) run(ctx context.Context) {
	const debounce = 200 * time.Millisecond
	ticker := time.NewTicker(debounce)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.fw.Events:
			if !ok {
				return
			}
			w.handleEvent(event)

		case err, ok := <-w.fw.Errors:
			if !ok {
				return
			}
			w.server.logger.Printf("Watcher error: %v", err)

		case now := <-ticker.C:
			for path, queuedAt := range w.pending {
				if now.Sub(queuedAt) < debounce {
					continue
				}
				delete(w.pending, path)
				w.reload(path)
			}
		}
	}
}

func (w *docWatcher) handleEvent(event fsnotify.Event) {
	// A new project directory needs its own watch.
	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			_ = w.fw.Add(event.Name)
			return
		}
	}

	if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
		return
	}
	if !strings.HasSuffix(event.Name, ".json") || strings.HasSuffix(event.Name, ".tmp") {
		return
	}
	if w.server.state.isSelfWrite(event.Name) {
		return
	}

	w.pending[event.Name] = time.Now()
}

// reload re-reads an externally edited document and broadcasts it.
func (w *docWatcher) reload(path string) {
	projectName, collection, ok := w.parsePath(path)
	if !ok {
		return
	}

	if err := w.server.state.loadDocument(projectName, collection); err != nil {
		if !os.IsNotExist(err) {
			w.server.logger.Printf("Error reloading %s: %v", path, err)
		}
		return
	}

	w.server.logger.Printf("External edit: reloaded %s/%s", projectName, collection)
	w.server.announce(projectName, collection)
}

// parsePath maps dataDir/{project}/{collection}.json back to its
// project and collection.
func (w *docWatcher) parsePath(path string) (projectName, collection string, ok bool) {
	rel, err := filepath.Rel(w.dataDir, path)
	if err != nil {
		return "", "", false
	}
	parts := strings.Split(filepath.ToSlash(rel), "/")
	if len(parts) != 2 {
		return "", "", false
	}
	collection = strings.TrimSuffix(parts[1], ".json")
	if !remote.KnownCollection(collection) {
		return "", "", false
	}
	return parts[0], collection, true
}
