// Package syncserver implements the hosted side of the Stepline sync
// protocol: a small real-time store holding one challenges and one
// sessions collection per project, with REST reads and writes and a
// WebSocket feed that broadcasts full collections on every change.
//
// Collections are persisted as JSON documents under a data directory. A
// file watcher picks up external edits to those documents (manual fixes,
// restores from backup) and broadcasts them like any other write.
package syncserver

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/stepline/stepline/internal/remote"
)

// Config holds server configuration.
type Config struct {
	// Port to listen on. 0 picks an ephemeral port (useful in tests).
	Port int

	// DataDir is where collection documents are persisted.
	DataDir string

	// AccessKey is the bearer token clients must present. Empty
	// disables authentication.
	AccessKey string

	// WatchFiles enables the fsnotify watcher on collection documents.
	WatchFiles bool

	// Logger for server activity (default: stderr logger).
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Port:       8484,
		DataDir:    "data",
		WatchFiles: true,
		Logger:     log.New(log.Writer(), "[syncserver] ", log.LstdFlags),
	}
}

type broadcastMsg struct {
	project string
	event   remote.Event
}

// client is one connected feed subscriber.
type client struct {
	conn    *websocket.Conn
	project string
}

// Server is the sync server.
type Server struct {
	cfg   *Config
	state *state

	listener net.Listener
	server   *http.Server

	clientsMu sync.RWMutex
	clients   map[*client]bool

	broadcast chan broadcastMsg

	watcher *docWatcher

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	logger *log.Logger
}

// New creates a Server. Use Start to begin serving.
func New(cfg *Config) *Server {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(log.Writer(), "[syncserver] ", log.LstdFlags)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		cfg:       cfg,
		state:     newState(cfg.DataDir),
		clients:   make(map[*client]bool),
		broadcast: make(chan broadcastMsg, 100),
		ctx:       ctx,
		cancel:    cancel,
		logger:    cfg.Logger,
	}
}

// Start loads persisted collections, begins listening, and starts the
// broadcast loop and (when enabled) the document watcher. It returns
// once the server is accepting connections.
func (s *Server) Start() error {
	if err := s.state.loadAll(); err != nil {
		return fmt.Errorf("failed to load persisted collections: %w", err)
	}

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", s.cfg.Port))
	if err != nil {
		return fmt.Errorf("failed to listen on port %d: %w", s.cfg.Port, err)
	}
	s.listener = ln

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/", s.handleAPI)
	mux.HandleFunc("/health", s.handleHealth)

	s.server = &http.Server{
		Handler:     mux,
		ReadTimeout: 30 * time.Second,
	}

	s.wg.Add(1)
	go s.broadcastLoop()

	if s.cfg.WatchFiles {
		w, err := newDocWatcher(s, s.cfg.DataDir)
		if err != nil {
			s.logger.Printf("Warning: document watcher disabled: %v", err)
		} else {
			s.watcher = w
			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				w.run(s.ctx)
			}()
		}
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.logger.Printf("Sync server listening on %s", ln.Addr())
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Printf("Server error: %v", err)
		}
	}()

	return nil
}

// Stop gracefully shuts the server down.
func (s *Server) Stop() error {
	s.logger.Println("Stopping sync server")
	s.cancel()

	if s.watcher != nil {
		s.watcher.close()
	}

	s.clientsMu.Lock()
	for c := range s.clients {
		_ = c.conn.Close(websocket.StatusGoingAway, "server shutting down")
		delete(s.clients, c)
	}
	s.clientsMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown error: %w", err)
	}

	s.wg.Wait()
	return nil
}

// Addr returns the listening address.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return fmt.Sprintf(":%d", s.cfg.Port)
}

// URL returns the base HTTP URL for clients.
func (s *Server) URL() string {
	return "http://" + s.Addr()
}

// handleAPI routes /v1/{project}/{collection}[/{id}] and
// /v1/{project}/watch.
func (s *Server) handleAPI(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	parts := strings.Split(strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/"), "/"), "/")
	if len(parts) < 2 || parts[0] == "" {
		http.NotFound(w, r)
		return
	}
	projectName := parts[0]

	if parts[1] == "watch" {
		s.handleWatch(w, r, projectName)
		return
	}

	collection := parts[1]
	if !remote.KnownCollection(collection) {
		http.NotFound(w, r)
		return
	}

	switch len(parts) {
	case 2:
		s.handleCollection(w, r, projectName, collection)
	case 3:
		s.handleRecord(w, r, projectName, collection, parts[2])
	default:
		http.NotFound(w, r)
	}
}

// handleCollection serves whole-collection reads and wholesale writes.
func (s *Server) handleCollection(w http.ResponseWriter, r *http.Request, projectName, collection string) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, s.state.snapshot(projectName, collection))

	case http.MethodPut:
		var records map[string]json.RawMessage
		if err := readJSON(r, &records); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if err := s.state.replace(projectName, collection, records); err != nil {
			s.logger.Printf("Error replacing %s/%s: %v", projectName, collection, err)
			http.Error(w, "storage failure", http.StatusInternalServerError)
			return
		}
		s.logger.Printf("Replaced %s/%s (%d records)", projectName, collection, len(records))
		s.announce(projectName, collection)
		w.WriteHeader(http.StatusNoContent)

	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleRecord serves single-record writes and deletes.
func (s *Server) handleRecord(w http.ResponseWriter, r *http.Request, projectName, collection, id string) {
	switch r.Method {
	case http.MethodPut:
		var record json.RawMessage
		if err := readJSON(r, &record); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if err := s.state.put(projectName, collection, id, record); err != nil {
			s.logger.Printf("Error writing %s/%s/%s: %v", projectName, collection, id, err)
			http.Error(w, "storage failure", http.StatusInternalServerError)
			return
		}
		s.announce(projectName, collection)
		w.WriteHeader(http.StatusNoContent)

	case http.MethodDelete:
		existed, err := s.state.delete(projectName, collection, id)
		if err != nil {
			s.logger.Printf("Error deleting %s/%s/%s: %v", projectName, collection, id, err)
			http.Error(w, "storage failure", http.StatusInternalServerError)
			return
		}
		if !existed {
			http.NotFound(w, r)
			return
		}
		s.announce(projectName, collection)
		w.WriteHeader(http.StatusNoContent)

	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleWatch upgrades to a websocket feed for one project. The client
// immediately receives a snapshot event per collection, then an event
// for every subsequent change.
func (s *Server) handleWatch(w http.ResponseWriter, r *http.Request, projectName string) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		s.logger.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	c := &client{conn: conn, project: projectName}
	s.clientsMu.Lock()
	s.clients[c] = true
	total := len(s.clients)
	s.clientsMu.Unlock()
	s.logger.Printf("Feed client connected for %s (total: %d)", projectName, total)

	// Initial snapshots so the client is consistent before any change.
	for _, collection := range []string{remote.CollectionChallenges, remote.CollectionSessions} {
		s.send(c, remote.Event{
			Collection: collection,
			Records:    s.state.snapshot(projectName, collection),
		})
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.readLoop(c)
	}()
}

// readLoop drains client messages (none are expected) and detects
// disconnects.
func (s *Server) readLoop(c *client) {
	defer s.removeClient(c)
	for {
		if _, _, err := c.conn.Read(s.ctx); err != nil {
			return
		}
	}
}

func (s *Server) removeClient(c *client) {
	s.clientsMu.Lock()
	if _, ok := s.clients[c]; !ok {
		s.clientsMu.Unlock()
		return
	}
	delete(s.clients, c)
	total := len(s.clients)
	s.clientsMu.Unlock()

	_ = c.conn.Close(websocket.StatusNormalClosure, "")
	s.logger.Printf("Feed client disconnected (total: %d)", total)
}

// announce queues a full-collection broadcast for a project.
func (s *Server) announce(projectName, collection string) {
	msg := broadcastMsg{
		project: projectName,
		event: remote.Event{
			Collection: collection,
			Records:    s.state.snapshot(projectName, collection),
		},
	}
	select {
	case s.broadcast <- msg:
	case <-s.ctx.Done():
	default:
		s.logger.Println("Warning: broadcast channel full, dropping event")
	}
}

// broadcastLoop fans events out to the project's feed clients.
func (s *Server) broadcastLoop() {
	defer s.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			return
		case msg := <-s.broadcast:
			s.clientsMu.RLock()
			targets := make([]*client, 0, len(s.clients))
			for c := range s.clients {
				if c.project == msg.project {
					targets = append(targets, c)
				}
			}
			s.clientsMu.RUnlock()

			for _, c := range targets {
				s.send(c, msg.event)
			}
		}
	}
}

// send writes one event to one client, dropping the client on failure.
func (s *Server) send(c *client, ev remote.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		s.logger.Printf("Failed to marshal event: %v", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	err = c.conn.Write(ctx, websocket.MessageText, data)
	cancel()
	if err != nil {
		s.logger.Printf("Failed to send to client: %v", err)
		s.removeClient(c)
	}
}

// authorized checks the bearer token when an access key is configured.
func (s *Server) authorized(r *http.Request) bool {
	if s.cfg.AccessKey == "" {
		return true
	}
	return r.Header.Get("Authorization") == "Bearer "+s.cfg.AccessKey
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.clientsMu.RLock()
	clients := len(s.clients)
	s.clientsMu.RUnlock()

	writeJSON(w, map[string]any{
		"status":   "ok",
		"clients":  clients,
		"projects": s.state.projectNames(),
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func readJSON(r *http.Request, out any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, 32<<20))
	if err != nil {
		return fmt.Errorf("failed to read request body: %w", err)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	return nil
}
