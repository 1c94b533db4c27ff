package session

import (
	"context"
	"errors"
	"io"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrWong99/echovox/pkg/audio"
)

// Config holds the dependencies of a [Manager].
type Config struct {
	// Platform joins voice channels. Required.
	Platform audio.Platform

	// Presence counts human listeners. Required.
	Presence Presence

	// IdleStep is the idle watcher tick. Defaults to 15s.
	IdleStep time.Duration

	// IdleTimeout is how long the bot stays alone before leaving. Defaults to 60s.
	IdleTimeout time.Duration

	// Observer receives metrics events. Optional.
	Observer Observer
}

// Info is a point-in-time view of one guild's session.
type Info struct {
	GuildID   string
	ChannelID string
	State     State
}

// Manager owns one [Session] per guild, created on first use.
// All exported methods are safe for concurrent use.
type Manager struct {
	platform audio.Platform
	presence Presence
	observer Observer

	step    atomic.Int64
	timeout atomic.Int64

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewManager creates a Manager.
func NewManager(cfg Config) *Manager {
	m := &Manager{
		platform: cfg.Platform,
		presence: cfg.Presence,
		observer: cfg.Observer,
		sessions: make(map[string]*Session),
	}
	if m.observer == nil {
		m.observer = nopObserver{}
	}
	m.SetIdleTiming(cfg.IdleStep, cfg.IdleTimeout)
	return m
}

// SetIdleTiming changes the idle watcher timing for watchers started from now
// on. Non-positive values restore the defaults.
func (m *Manager) SetIdleTiming(step, timeout time.Duration) {
	if step <= 0 {
		step = DefaultIdleStep
	}
	if timeout <= 0 {
		timeout = DefaultIdleTimeout
	}
	m.step.Store(int64(step))
	m.timeout.Store(int64(timeout))
}

func (m *Manager) timing() (time.Duration, time.Duration) {
	return time.Duration(m.step.Load()), time.Duration(m.timeout.Load())
}

// Session returns the guild's session, creating it if needed.
func (m *Manager) Session(guildID string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[guildID]
	if !ok {
		s = newSession(guildID, m.platform, m.presence, m.observer, m.timing)
		m.sessions[guildID] = s
	}
	return s
}

func (m *Manager) lookup(guildID string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[guildID]
	return s, ok
}

// Play plays clip in channelID of guildID. See [Session.Play].
func (m *Manager) Play(ctx context.Context, guildID, channelID string, clip io.Reader, onStart func()) error {
	return m.Session(guildID).Play(ctx, channelID, clip, onStart)
}

// VoiceStateChanged must be called whenever a member joins, leaves or moves
// between voice channels of guildID.
func (m *Manager) VoiceStateChanged(guildID string) {
	if s, ok := m.lookup(guildID); ok {
		s.voiceStateChanged()
	}
}

// Disconnect leaves the guild's voice channel.
func (m *Manager) Disconnect(ctx context.Context, guildID string) error {
	s, ok := m.lookup(guildID)
	if !ok {
		return ErrNotConnected
	}
	return s.Disconnect(ctx)
}

// Close disconnects every session immediately.
func (m *Manager) Close() error {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()

	var errs []error
	for _, s := range sessions {
		if err := s.close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Snapshot returns the state of every known session, ordered by guild ID.
func (m *Manager) Snapshot() []Info {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()

	out := make([]Info, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, Info{GuildID: s.guildID, ChannelID: s.ChannelID(), State: s.State()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].GuildID < out[j].GuildID })
	return out
}

// Connected returns the number of sessions holding a live connection.
func (m *Manager) Connected() int {
	n := 0
	for _, info := range m.Snapshot() {
		if info.State != Disconnected && info.State != Connecting {
			n++
		}
	}
	return n
}
