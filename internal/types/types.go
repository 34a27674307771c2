// Package types defines the Stepline data model: challenges, tabs,
// sessions, and the root AppData aggregate that the application state
// controller owns for the lifetime of a run.
package types

import (
	"fmt"
	"math/rand/v2"
	"sort"
	"strconv"
	"time"
)

// TimerType selects how a challenge's timer behaves.
type TimerType string

const (
	// TimerNone disables the timer for a challenge.
	TimerNone TimerType = "none"
	// TimerUp counts elapsed time from zero.
	TimerUp TimerType = "up"
	// TimerDown counts down from the challenge's TimerDuration.
	TimerDown TimerType = "down"
)

// IsValid reports whether tt is one of the three known timer modes.
func (tt TimerType) IsValid() bool {
	switch tt {
	case TimerNone, TimerUp, TimerDown:
		return true
	}
	return false
}

// TabColor is one of the four fixed color tokens a tab may use.
type TabColor string

const (
	ColorSoftBlue  TabColor = "soft-blue"
	ColorSoftGreen TabColor = "soft-green"
	ColorSoftLilac TabColor = "soft-lilac"
	ColorSoftTeal  TabColor = "soft-teal"
)

// TabColors lists the allowed color tokens in presentation order.
// The first entry is the default used for the migration-created tab.
var TabColors = []TabColor{ColorSoftBlue, ColorSoftGreen, ColorSoftLilac, ColorSoftTeal}

// Hex returns the display color for the token, or an empty string for
// unknown tokens.
func (c TabColor) Hex() string {
	switch c {
	case ColorSoftBlue:
		return "#A5D8DD"
	case ColorSoftGreen:
		return "#B8D4B8"
	case ColorSoftLilac:
		return "#D4C5E2"
	case ColorSoftTeal:
		return "#9FCFC0"
	}
	return ""
}

// IsValid reports whether c is one of the four known color tokens.
func (c TabColor) IsValid() bool {
	return c.Hex() != ""
}

const (
	// MaxTabs caps the number of live tabs. Creation beyond the cap is
	// rejected; too many tabs defeats the point of the tool.
	MaxTabs = 4

	// MaxChallengeText bounds the display text of a challenge.
	MaxChallengeText = 200

	// MaxTabName bounds the display name of a tab.
	MaxTabName = 50
)

// Challenge is a single task shown to the end user.
//
// Order is the authoritative sequence key: values are kept dense and
// unique (1..N over the full challenge set) after every insert, delete,
// and reorder. Array position is never relied upon.
type Challenge struct {
	ID    string `json:"id"`
	TabID string `json:"tabId,omitempty"`
	Text  string `json:"text"`
	Icon  Icon   `json:"iconUrl"`
	Order int    `json:"order"`

	TimerType     TimerType `json:"timerType,omitempty"`
	TimerDuration int       `json:"timerDuration,omitempty"` // seconds, countdown only

	CompletionTimes []int `json:"completionTimes,omitempty"` // seconds, oldest first
	BestTime        *int  `json:"bestTime,omitempty"`
	LastTime        *int  `json:"lastTime,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt,omitzero"`
}

// Validate checks field values a challenge must carry before it is
// persisted or pushed.
func (c *Challenge) Validate() error {
	if c.ID == "" {
		return fmt.Errorf("id is required")
	}
	if c.Text == "" {
		return fmt.Errorf("text is required")
	}
	if len(c.Text) > MaxChallengeText {
		return fmt.Errorf("text must be %d characters or less (got %d)", MaxChallengeText, len(c.Text))
	}
	if c.TimerType != "" && !c.TimerType.IsValid() {
		return fmt.Errorf("unknown timer type %q", c.TimerType)
	}
	if c.TimerType == TimerDown && c.TimerDuration <= 0 {
		return fmt.Errorf("countdown timer requires a positive duration")
	}
	if c.Order < 1 {
		return fmt.Errorf("order must be 1 or greater (got %d)", c.Order)
	}
	return nil
}

// RecordCompletion appends a completion duration and refreshes the
// best/last markers.
func (c *Challenge) RecordCompletion(seconds int) {
	c.CompletionTimes = append(c.CompletionTimes, seconds)
	s := seconds
	c.LastTime = &s
	if c.BestTime == nil || seconds < *c.BestTime {
		b := seconds
		c.BestTime = &b
	}
	c.UpdatedAt = time.Now()
}

// Tab is a named, colored grouping of challenges.
type Tab struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Color     TabColor  `json:"color"`
	Icon      string    `json:"icon,omitempty"` // emoji
	Order     int       `json:"order"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Validate checks field values a tab must carry.
func (t *Tab) Validate() error {
	if t.ID == "" {
		return fmt.Errorf("id is required")
	}
	if t.Name == "" {
		return fmt.Errorf("name is required")
	}
	if len(t.Name) > MaxTabName {
		return fmt.Errorf("name must be %d characters or less (got %d)", MaxTabName, len(t.Name))
	}
	if !t.Color.IsValid() {
		return fmt.Errorf("unknown tab color %q", t.Color)
	}
	return nil
}

// ChallengeSession records one challenge inside a completed run.
type ChallengeSession struct {
	ChallengeID string `json:"challengeId"`
	TimeTaken   int    `json:"timeTaken"` // seconds
	Order       int    `json:"order"`
}

// Session is an immutable record of one completed run through a tab's
// challenges. Sessions are appended to AppData.Sessions and never edited.
type Session struct {
	ID         string             `json:"id"`
	Date       time.Time          `json:"date"`
	Challenges []ChallengeSession `json:"challenges"`
	TotalTime  int                `json:"totalTime"` // seconds
}

// TimerSession is the ephemeral state of a single running timer,
// persisted so a reload can resume it.
type TimerSession struct {
	ItemID         string    `json:"itemId"`
	ItemType       string    `json:"itemType"` // "challenge"
	TimerType      TimerType `json:"timerType"`
	StartTime      int64     `json:"startTime"` // ms since epoch
	ElapsedSeconds int       `json:"elapsedSeconds"`
	Duration       int       `json:"duration,omitempty"` // seconds, countdown only
	IsRunning      bool      `json:"isRunning"`
	IsPaused       bool      `json:"isPaused"`
}

// RunProgress is the ephemeral position inside an in-progress run
// through a tab's challenges, persisted so a reload resumes mid-run.
type RunProgress struct {
	TabID     string    `json:"tabId,omitempty"`
	Index     int       `json:"index"` // 0-based position in the run
	StartedAt time.Time `json:"startedAt"`
}

// AppData is the root aggregate: everything the application persists as
// its main dataset.
type AppData struct {
	Challenges     []Challenge `json:"challenges"`
	Sessions       []Session   `json:"sessions"`
	CurrentSession *Session    `json:"currentSession"`
}

// Clone returns a deep copy. The controller hands copies to callbacks so
// callers can never alias its in-memory state.
func (d *AppData) Clone() AppData {
	out := AppData{
		Challenges: make([]Challenge, len(d.Challenges)),
		Sessions:   make([]Session, len(d.Sessions)),
	}
	for i, c := range d.Challenges {
		out.Challenges[i] = cloneChallenge(c)
	}
	for i, s := range d.Sessions {
		out.Sessions[i] = cloneSession(s)
	}
	if d.CurrentSession != nil {
		cs := cloneSession(*d.CurrentSession)
		out.CurrentSession = &cs
	}
	return out
}

func cloneChallenge(c Challenge) Challenge {
	if c.CompletionTimes != nil {
		times := make([]int, len(c.CompletionTimes))
		copy(times, c.CompletionTimes)
		c.CompletionTimes = times
	}
	if c.BestTime != nil {
		b := *c.BestTime
		c.BestTime = &b
	}
	if c.LastTime != nil {
		l := *c.LastTime
		c.LastTime = &l
	}
	return c
}

func cloneSession(s Session) Session {
	if s.Challenges != nil {
		cs := make([]ChallengeSession, len(s.Challenges))
		copy(cs, s.Challenges)
		s.Challenges = cs
	}
	return s
}

// NewID produces an opaque identifier combining the current time with
// randomness. Unique enough for interactive use; not cryptographic.
func NewID() string {
	return fmt.Sprintf("%d-%s", time.Now().UnixMilli(), randomSuffix(9))
}

func randomSuffix(n int) string {
	s := strconv.FormatUint(rand.Uint64(), 36)
	for len(s) < n {
		s += strconv.FormatUint(rand.Uint64(), 36)
	}
	return s[:n]
}

// Renumber rewrites Order over the given challenges so the values are
// exactly 1..N, preserving the existing relative ordering. Ties (which
// only occur on corrupted input) keep slice order.
func Renumber(challenges []Challenge) {
	sort.SliceStable(challenges, func(i, j int) bool {
		return challenges[i].Order < challenges[j].Order
	})
	for i := range challenges {
		challenges[i].Order = i + 1
	}
}

// SortChallenges orders challenges by Order ascending.
func SortChallenges(challenges []Challenge) {
	sort.SliceStable(challenges, func(i, j int) bool {
		return challenges[i].Order < challenges[j].Order
	})
}

// SortSessions orders sessions by date, newest first.
func SortSessions(sessions []Session) {
	sort.SliceStable(sessions, func(i, j int) bool {
		return sessions[i].Date.After(sessions[j].Date)
	})
}

// ChallengesForTab filters challenges belonging to the given tab, sorted
// by order. Challenges without a tab id predate the tab system and are
// treated as belonging to every tab.
func ChallengesForTab(tabID string, challenges []Challenge) []Challenge {
	var out []Challenge
	for _, c := range challenges {
		if c.TabID == tabID || c.TabID == "" {
			out = append(out, c)
		}
	}
	SortChallenges(out)
	return out
}
