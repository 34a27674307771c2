package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/stepline/stepline/internal/store"
	"github.com/stepline/stepline/internal/types"
)

// Config holds the connection parameters for the remote store.
// Empty or placeholder values leave the adapter unconfigured.
type Config struct {
	// Endpoint is the base URL of the sync server, e.g.
	// "https://sync.example.com".
	Endpoint string
	// Project scopes all collections; one project per shared dataset.
	Project string
	// AccessKey is sent as a bearer token on every request.
	AccessKey string
}

// IsConfigured reports whether every parameter is present and none is an
// obvious placeholder left over from a config template.
func (c Config) IsConfigured() bool {
	return !isPlaceholder(c.Endpoint) && !isPlaceholder(c.Project) && !isPlaceholder(c.AccessKey)
}

func isPlaceholder(v string) bool {
	switch {
	case v == "", v == "undefined":
		return true
	case strings.HasPrefix(v, "YOUR_"), strings.HasPrefix(v, "your-"):
		return true
	case strings.EqualFold(v, "changeme"):
		return true
	}
	return false
}

const (
	// saveAttempts bounds retries for remote writes. A write that still
	// fails after the last attempt surfaces its error to the caller.
	saveAttempts = 3
	// saveBackoff is the initial retry delay; it doubles per attempt.
	saveBackoff = 200 * time.Millisecond

	// maxEventSize bounds a single feed message. Collections carrying
	// data-URI raster icons can run well past the websocket default.
	maxEventSize = 16 << 20
)

type adapter struct {
	cfg    Config
	store  *store.Store
	client *http.Client
	logger *log.Logger

	mu            sync.Mutex
	closed        bool
	feedStarted   bool
	feedCancel    context.CancelFunc
	conn          *websocket.Conn
	nextSub       int
	challengeSubs map[int]func([]types.Challenge)
	sessionSubs   map[int]func([]types.Session)
}

// New creates an Adapter for the given configuration and local store.
//
// The local store is the fallback for every operation: an unconfigured or
// unreachable remote degrades to local data, never to an error the
// presentation layer has to handle.
//
// If logger is nil, a default logger writing to stderr is used.
func New(cfg Config, s *store.Store, logger *log.Logger) Adapter {
	if logger == nil {
		logger = log.New(os.Stderr, "[remote] ", log.LstdFlags)
	}
	return &adapter{
		cfg:           cfg,
		store:         s,
		client:        &http.Client{Timeout: 15 * time.Second},
		logger:        logger,
		challengeSubs: make(map[int]func([]types.Challenge)),
		sessionSubs:   make(map[int]func([]types.Session)),
	}
}

// IsConfigured implements Adapter.IsConfigured.
func (a *adapter) IsConfigured() bool {
	return a.cfg.IsConfigured()
}

// Initialize implements Adapter.Initialize.
func (a *adapter) Initialize(ctx context.Context) (types.AppData, error) {
	local := a.store.Load()
	if !a.IsConfigured() {
		return local, nil
	}

	var (
		wg         sync.WaitGroup
		challenges map[string]types.Challenge
		sessions   map[string]types.Session
		cErr, sErr error
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		cErr = a.getJSON(ctx, a.url(CollectionChallenges), &challenges)
	}()
	go func() {
		defer wg.Done()
		sErr = a.getJSON(ctx, a.url(CollectionSessions), &sessions)
	}()
	wg.Wait()

	if cErr != nil || sErr != nil {
		err := cErr
		if err == nil {
			err = sErr
		}
		a.logger.Printf("Initialize: remote fetch failed, falling back to local: %v", err)
		return local, fmt.Errorf("remote fetch failed: %w", err)
	}

	if len(challenges) > 0 {
		// Remote has data: it is authoritative at connect time.
		data := types.AppData{
			Challenges: sortedChallenges(challenges),
			Sessions:   sortedSessions(sessions),
		}
		a.store.Save(data)
		a.logger.Printf("Initialize: pulled %d challenges, %d sessions from remote",
			len(data.Challenges), len(data.Sessions))
		return data, nil
	}

	// Remote is empty: seed it from local, wholesale.
	if err := a.SaveChallenges(ctx, local.Challenges); err != nil {
		return local, fmt.Errorf("initial push failed: %w", err)
	}
	if err := a.SaveSessions(ctx, local.Sessions); err != nil {
		return local, fmt.Errorf("initial push failed: %w", err)
	}
	a.logger.Printf("Initialize: pushed %d challenges, %d sessions to empty remote",
		len(local.Challenges), len(local.Sessions))
	return local, nil
}

// SaveChallenges implements Adapter.SaveChallenges.
func (a *adapter) SaveChallenges(ctx context.Context, challenges []types.Challenge) error {
	if !a.IsConfigured() {
		return nil
	}
	records := make(map[string]types.Challenge, len(challenges))
	for _, c := range challenges {
		records[c.ID] = c
	}
	return a.withRetry(ctx, "save challenges", func() error {
		return a.sendJSON(ctx, http.MethodPut, a.url(CollectionChallenges), records)
	})
}

// SaveChallenge implements Adapter.SaveChallenge.
func (a *adapter) SaveChallenge(ctx context.Context, challenge types.Challenge) error {
	if !a.IsConfigured() {
		return nil
	}
	return a.withRetry(ctx, "save challenge", func() error {
		return a.sendJSON(ctx, http.MethodPut, a.url(CollectionChallenges, challenge.ID), challenge)
	})
}

// DeleteChallenge implements Adapter.DeleteChallenge.
func (a *adapter) DeleteChallenge(ctx context.Context, id string) error {
	if !a.IsConfigured() {
		return nil
	}
	return a.withRetry(ctx, "delete challenge", func() error {
		return a.sendJSON(ctx, http.MethodDelete, a.url(CollectionChallenges, id), nil)
	})
}

// SaveSession implements Adapter.SaveSession.
func (a *adapter) SaveSession(ctx context.Context, session types.Session) error {
	if !a.IsConfigured() {
		return nil
	}
	return a.withRetry(ctx, "save session", func() error {
		return a.sendJSON(ctx, http.MethodPut, a.url(CollectionSessions, session.ID), session)
	})
}

// SaveSessions implements Adapter.SaveSessions.
func (a *adapter) SaveSessions(ctx context.Context, sessions []types.Session) error {
	if !a.IsConfigured() {
		return nil
	}
	records := make(map[string]types.Session, len(sessions))
	for _, s := range sessions {
		records[s.ID] = s
	}
	return a.withRetry(ctx, "save sessions", func() error {
		return a.sendJSON(ctx, http.MethodPut, a.url(CollectionSessions), records)
	})
}

// SubscribeChallenges implements Adapter.SubscribeChallenges.
func (a *adapter) SubscribeChallenges(cb func([]types.Challenge)) Unsubscribe {
	if !a.IsConfigured() {
		return func() {}
	}

	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return func() {}
	}
	id := a.nextSub
	a.nextSub++
	a.challengeSubs[id] = cb
	a.mu.Unlock()

	a.ensureFeed()
	return func() {
		a.mu.Lock()
		delete(a.challengeSubs, id)
		a.mu.Unlock()
	}
}

// SubscribeSessions implements Adapter.SubscribeSessions.
func (a *adapter) SubscribeSessions(cb func([]types.Session)) Unsubscribe {
	if !a.IsConfigured() {
		return func() {}
	}

	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return func() {}
	}
	id := a.nextSub
	a.nextSub++
	a.sessionSubs[id] = cb
	a.mu.Unlock()

	a.ensureFeed()
	return func() {
		a.mu.Lock()
		delete(a.sessionSubs, id)
		a.mu.Unlock()
	}
}

// Cleanup implements Adapter.Cleanup.
func (a *adapter) Cleanup() {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.closed = true
	cancel := a.feedCancel
	conn := a.conn
	a.conn = nil
	a.challengeSubs = make(map[int]func([]types.Challenge))
	a.sessionSubs = make(map[int]func([]types.Session))
	a.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		_ = conn.Close(websocket.StatusNormalClosure, "cleanup")
	}
}

// ensureFeed starts the subscription feed once, on first subscribe.
func (a *adapter) ensureFeed() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed || a.feedStarted {
		return
	}
	a.feedStarted = true

	ctx, cancel := context.WithCancel(context.Background())
	a.feedCancel = cancel
	go a.runFeed(ctx)
}

// runFeed maintains the websocket connection, redialing with backoff
// until Cleanup.
func (a *adapter) runFeed(ctx context.Context) {
	backoff := time.Second
	for ctx.Err() == nil {
		conn, _, err := websocket.Dial(ctx, a.url("watch"), &websocket.DialOptions{
			HTTPClient: a.client,
			HTTPHeader: a.authHeader(),
		})
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			a.logger.Printf("Feed dial failed (retrying in %v): %v", backoff, err)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		conn.SetReadLimit(maxEventSize)

		a.mu.Lock()
		if a.closed {
			a.mu.Unlock()
			_ = conn.Close(websocket.StatusNormalClosure, "cleanup")
			return
		}
		a.conn = conn
		a.mu.Unlock()

		backoff = time.Second
		a.readLoop(ctx, conn)

		a.mu.Lock()
		a.conn = nil
		a.mu.Unlock()
	}
}

// readLoop dispatches feed events until the connection drops.
func (a *adapter) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if ctx.Err() == nil {
				a.logger.Printf("Feed closed: %v", err)
			}
			return
		}

		var ev Event
		if err := json.Unmarshal(data, &ev); err != nil {
			a.logger.Printf("Warning: dropping malformed feed event: %v", err)
			continue
		}
		a.dispatch(ev)
	}
}

// dispatch decodes a feed event and invokes the registered listeners.
func (a *adapter) dispatch(ev Event) {
	switch ev.Collection {
	case CollectionChallenges:
		records := make(map[string]types.Challenge, len(ev.Records))
		for id, raw := range ev.Records {
			var c types.Challenge
			if err := json.Unmarshal(raw, &c); err != nil {
				a.logger.Printf("Warning: skipping malformed challenge %s: %v", id, err)
				continue
			}
			records[id] = c
		}
		sorted := sortedChallenges(records)

		a.mu.Lock()
		subs := make([]func([]types.Challenge), 0, len(a.challengeSubs))
		for _, cb := range a.challengeSubs {
			subs = append(subs, cb)
		}
		a.mu.Unlock()
		for _, cb := range subs {
			cb(sorted)
		}

	case CollectionSessions:
		records := make(map[string]types.Session, len(ev.Records))
		for id, raw := range ev.Records {
			var s types.Session
			if err := json.Unmarshal(raw, &s); err != nil {
				a.logger.Printf("Warning: skipping malformed session %s: %v", id, err)
				continue
			}
			records[id] = s
		}
		sorted := sortedSessions(records)

		a.mu.Lock()
		subs := make([]func([]types.Session), 0, len(a.sessionSubs))
		for _, cb := range a.sessionSubs {
			subs = append(subs, cb)
		}
		a.mu.Unlock()
		for _, cb := range subs {
			cb(sorted)
		}

	default:
		a.logger.Printf("Warning: ignoring event for unknown collection %q", ev.Collection)
	}
}

// withRetry runs fn up to saveAttempts times with doubling backoff.
// The last error is returned when every attempt fails.
func (a *adapter) withRetry(ctx context.Context, op string, fn func() error) error {
	var err error
	delay := saveBackoff
	for attempt := 1; attempt <= saveAttempts; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if attempt == saveAttempts {
			break
		}
		a.logger.Printf("%s failed (attempt %d/%d, retrying in %v): %v",
			op, attempt, saveAttempts, delay, err)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		delay *= 2
	}
	return fmt.Errorf("%s: %w", op, err)
}

// url joins the endpoint, project, and path parts.
func (a *adapter) url(parts ...string) string {
	base := strings.TrimRight(a.cfg.Endpoint, "/")
	return base + "/v1/" + a.cfg.Project + "/" + strings.Join(parts, "/")
}

func (a *adapter) authHeader() http.Header {
	h := make(http.Header)
	h.Set("Authorization", "Bearer "+a.cfg.AccessKey)
	return h
}

// getJSON performs an authorized GET and decodes the response body.
func (a *adapter) getJSON(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header = a.authHeader()

	resp, err := a.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("GET %s: unexpected status %s", url, resp.Status)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// sendJSON performs an authorized write request. A nil body sends no
// payload. 404 on DELETE counts as success (idempotent delete).
func (a *adapter) sendJSON(ctx context.Context, method, url string, body any) error {
	var reader io.Reader
	if body != nil {
		blob, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to serialize request: %w", err)
		}
		reader = bytes.NewReader(blob)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return err
	}
	req.Header = a.authHeader()
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if method == http.MethodDelete && resp.StatusCode == http.StatusNotFound {
		return nil
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("%s %s: unexpected status %s", method, url, resp.Status)
	}
	return nil
}

// sortedChallenges flattens a record map to a slice sorted by order.
func sortedChallenges(records map[string]types.Challenge) []types.Challenge {
	out := make([]types.Challenge, 0, len(records))
	for _, c := range records {
		out = append(out, c)
	}
	types.SortChallenges(out)
	return out
}

// sortedSessions flattens a record map to a slice sorted newest first.
func sortedSessions(records map[string]types.Session) []types.Session {
	out := make([]types.Session, 0, len(records))
	for _, s := range records {
		out = append(out, s)
	}
	types.SortSessions(out)
	return out
}
