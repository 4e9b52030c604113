// Package monitor implements the presence-tracking core: the poll
// cycle that diffs online snapshots against the previous ones, the
// session bookkeeping on the in-memory roster, the write-behind
// reconciliation against the store, and the periodic backup and
// eviction housekeeping.
package monitor

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/corvase/sinfarwatch/internal/config"
	"github.com/corvase/sinfarwatch/internal/feed"
	"github.com/corvase/sinfarwatch/internal/roster"
	"github.com/corvase/sinfarwatch/internal/store"
)

// Monitor owns all mutable presence state for one process. The poll
// scheduler guarantees cycles never overlap; the mutex exists for the
// read-only HTTP surface and the asynchronous bio fetches.
type Monitor struct {
	mu sync.RWMutex

	players    map[string]*roster.Player
	characters map[string]*roster.Character

	// Online snapshots, wholly replaced each cycle.
	onlinePlayers    map[string]*roster.OnlinePlayer
	onlineCharacters map[string]*roster.OnlineCharacter

	// Entity ids queued for creation and not yet resolved by a flush.
	pendingPlayers    map[string]struct{}
	pendingCharacters map[string]struct{}

	// Deferred eviction timers keyed by player id.
	evictions map[string]TimerHandle

	store *store.Store
	feed  *feed.Client
	log   logrus.FieldLogger

	gap         time.Duration
	slack       time.Duration
	backupEvery time.Duration
	evictAfter  time.Duration

	clock Clock
	after AfterFunc

	firstCycleDone bool
	lastBackup     time.Time

	bioWG sync.WaitGroup
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithClock sets the clock (for testing).
func WithClock(c Clock) Option {
	return func(m *Monitor) { m.clock = c }
}

// WithAfterFunc sets the timer scheduler (for testing).
func WithAfterFunc(af AfterFunc) Option {
	return func(m *Monitor) { m.after = af }
}

// WithLogger sets the logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(m *Monitor) { m.log = l }
}

// New creates a Monitor over the given store and feed client.
func New(st *store.Store, fd *feed.Client, cfg config.MonitorConfig, opts ...Option) *Monitor {
	m := &Monitor{
		players:           make(map[string]*roster.Player),
		characters:        make(map[string]*roster.Character),
		onlinePlayers:     make(map[string]*roster.OnlinePlayer),
		onlineCharacters:  make(map[string]*roster.OnlineCharacter),
		pendingPlayers:    make(map[string]struct{}),
		pendingCharacters: make(map[string]struct{}),
		evictions:         make(map[string]TimerHandle),
		store:             st,
		feed:              fd,
		log:               logrus.StandardLogger(),
		gap:               cfg.GapThreshold,
		slack:             cfg.StartupGapSlack,
		backupEvery:       cfg.BackupInterval,
		evictAfter:        cfg.EvictionDelay,
		clock:             DefaultClock,
		after:             DefaultAfterFunc,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.lastBackup = m.clock.Now()
	return m
}

// Restore seeds the roster from a previous run's snapshot files.
// Called once before the first cycle.
func (m *Monitor) Restore(players map[string]*roster.Player, characters map[string]*roster.Character) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if players != nil {
		m.players = players
	}
	if characters != nil {
		m.characters = characters
	}
}

// gapLocked returns the effective gap threshold. The startup slack
// applies until the first cycle completes, tolerating clock drift
// across a crash and restart.
func (m *Monitor) gapLocked() time.Duration {
	if m.firstCycleDone {
		return m.gap
	}
	return m.gap + m.slack
}

// Players returns a copy of the persistent player roster.
func (m *Monitor) Players() map[string]roster.Player {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]roster.Player, len(m.players))
	for id, p := range m.players {
		out[id] = copyPlayer(p)
	}
	return out
}

// Characters returns a copy of the persistent character roster.
func (m *Monitor) Characters() map[string]roster.Character {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]roster.Character, len(m.characters))
	for id, c := range m.characters {
		out[id] = copyCharacter(c)
	}
	return out
}

// OnlinePlayers returns a copy of the current online-player snapshot.
func (m *Monitor) OnlinePlayers() map[string]roster.OnlinePlayer {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]roster.OnlinePlayer, len(m.onlinePlayers))
	for id, p := range m.onlinePlayers {
		cp := *p
		cp.Clients = append([]roster.Client(nil), p.Clients...)
		out[id] = cp
	}
	return out
}

// OnlineCharacters returns a copy of the current online-character
// snapshot.
func (m *Monitor) OnlineCharacters() map[string]roster.OnlineCharacter {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]roster.OnlineCharacter, len(m.onlineCharacters))
	for id, c := range m.onlineCharacters {
		out[id] = *c
	}
	return out
}

func copyPlayer(p *roster.Player) roster.Player {
	cp := *p
	cp.Characters = append([]string(nil), p.Characters...)
	cp.Logs = append(cp.Logs[:0:0], p.Logs...)
	return cp
}

func copyCharacter(c *roster.Character) roster.Character {
	cp := *c
	cp.Players = append([]string(nil), c.Players...)
	cp.Logs = append(cp.Logs[:0:0], c.Logs...)
	cp.PendingPlayers = nil
	return cp
}

// logEvents writes the cycle separator followed by one line per event.
func (m *Monitor) logEvents(events []Event) {
	if len(events) == 0 {
		return
	}
	m.log.Infof("========================= %s ========================", m.clock.Now().UTC().Format(time.RFC1123))
	for _, ev := range events {
		m.log.Info(ev.Message())
	}
}
