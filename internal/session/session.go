// Package session owns the bot's voice presence in each guild.
//
// A [Session] serialises playback on one guild's voice connection: requests
// queue on a single admission slot, the connection is created lazily and
// moved between channels only between clips, and an idle watcher leaves the
// channel once no human has been listening for a while. The [Manager] keeps
// one Session per guild.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/echovox/pkg/audio"
)

// Default idle watcher timing.
const (
	DefaultIdleStep    = 15 * time.Second
	DefaultIdleTimeout = 60 * time.Second
)

var (
	// ErrConnection matches every *ConnectionError via errors.Is.
	ErrConnection = errors.New("session: voice connection failed")

	// ErrNotConnected is returned by Disconnect when there is nothing to leave.
	ErrNotConnected = errors.New("session: not connected")
)

// State is the lifecycle state of a Session.
type State int

const (
	Disconnected State = iota
	Connecting
	Idle
	Playing
)

// String returns the lower-case state name.
func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Idle:
		return "idle"
	case Playing:
		return "playing"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// ConnectionError reports a failed connect, move, play or disconnect.
type ConnectionError struct {
	Op        string
	GuildID   string
	ChannelID string
	Err       error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("session: %s guild=%s channel=%s: %v", e.Op, e.GuildID, e.ChannelID, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrConnection) true for every ConnectionError.
func (e *ConnectionError) Is(target error) bool { return target == ErrConnection }

// Presence counts the non-bot members in a voice channel.
type Presence interface {
	HumanCount(guildID, channelID string) int
}

// Observer receives session events for metrics. All methods must be cheap.
type Observer interface {
	PlaybackDone(ctx context.Context, guildID string, d time.Duration, err error)
	ConnectionsChanged(ctx context.Context, delta int)
	IdleDisconnect(ctx context.Context, guildID string)
}

type nopObserver struct{}

func (nopObserver) PlaybackDone(context.Context, string, time.Duration, error) {}
func (nopObserver) ConnectionsChanged(context.Context, int)                    {}
func (nopObserver) IdleDisconnect(context.Context, string)                     {}

// Session is the voice state of a single guild. It is safe for concurrent use.
type Session struct {
	guildID  string
	platform audio.Platform
	presence Presence
	observer Observer
	timing   func() (step, timeout time.Duration)

	// slot admits one playback (or leave) at a time.
	slot chan struct{}

	mu          sync.Mutex
	conn        audio.Connection
	state       State
	watchGen    uint64
	watchCancel context.CancelFunc

	// watchConn and watchChannel are what the running watcher observes.
	watchConn    audio.Connection
	watchChannel string
}

func newSession(guildID string, platform audio.Platform, presence Presence, observer Observer, timing func() (time.Duration, time.Duration)) *Session {
	return &Session{
		guildID:  guildID,
		platform: platform,
		presence: presence,
		observer: observer,
		timing:   timing,
		slot:     make(chan struct{}, 1),
	}
}

// GuildID returns the guild this session belongs to.
func (s *Session) GuildID() string { return s.guildID }

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// ChannelID returns the channel of the live connection, or "".
func (s *Session) ChannelID() string {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return ""
	}
	return conn.ChannelID()
}

// Play waits for its turn, makes sure the bot sits in channelID and plays
// clip. onStart runs right before audio starts. Play never overlaps another
// Play on the same session.
func (s *Session) Play(ctx context.Context, channelID string, clip io.Reader, onStart func()) error {
	if err := s.acquire(ctx); err != nil {
		return err
	}
	defer s.release()

	s.stopWatcher()

	conn, err := s.ensureConnected(ctx, channelID)
	if err != nil {
		return err
	}

	if onStart != nil {
		onStart()
	}
	s.transition(conn, Playing)

	start := time.Now()
	err = conn.Play(ctx, clip)
	elapsed := time.Since(start)
	s.transition(conn, Idle)
	s.observer.PlaybackDone(ctx, s.guildID, elapsed, err)

	if err != nil {
		return &ConnectionError{Op: "play", GuildID: s.guildID, ChannelID: channelID, Err: err}
	}
	slog.Debug("session: clip played", "guild_id", s.guildID, "channel_id", channelID, "elapsed", elapsed)

	if s.alone(conn) {
		s.startWatcher(false)
	}
	return nil
}

// Disconnect leaves the voice channel after any clip in progress finishes.
func (s *Session) Disconnect(ctx context.Context) error {
	if err := s.acquire(ctx); err != nil {
		return err
	}
	defer s.release()

	s.stopWatcher()
	conn := s.detach()
	if conn == nil {
		return ErrNotConnected
	}
	s.observer.ConnectionsChanged(ctx, -1)
	if err := conn.Disconnect(); err != nil {
		return &ConnectionError{Op: "disconnect", GuildID: s.guildID, ChannelID: conn.ChannelID(), Err: err}
	}
	slog.Info("session: left voice channel", "guild_id", s.guildID)
	return nil
}

// close tears the connection down immediately, interrupting playback.
func (s *Session) close() error {
	s.stopWatcher()
	conn := s.detach()
	if conn == nil {
		return nil
	}
	s.observer.ConnectionsChanged(context.Background(), -1)
	return conn.Disconnect()
}

func (s *Session) acquire(ctx context.Context) error {
	select {
	case s.slot <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Session) release() { <-s.slot }

func (s *Session) tryAcquire() bool {
	select {
	case s.slot <- struct{}{}:
		return true
	default:
		return false
	}
}

// ensureConnected returns a live connection in channelID, connecting or
// moving as needed. The caller holds the admission slot.
func (s *Session) ensureConnected(ctx context.Context, channelID string) (audio.Connection, error) {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()

	if conn != nil && !isDone(conn) {
		if conn.ChannelID() != channelID {
			if err := conn.Move(ctx, channelID); err != nil {
				return nil, &ConnectionError{Op: "move", GuildID: s.guildID, ChannelID: channelID, Err: err}
			}
			slog.Info("session: moved voice channel", "guild_id", s.guildID, "channel_id", channelID)
		}
		return conn, nil
	}
	if conn != nil && s.clear(conn) {
		s.observer.ConnectionsChanged(ctx, -1)
	}

	s.mu.Lock()
	s.state = Connecting
	s.mu.Unlock()

	conn, err := s.platform.Connect(ctx, s.guildID, channelID)
	if err != nil {
		s.mu.Lock()
		s.state = Disconnected
		s.mu.Unlock()
		return nil, &ConnectionError{Op: "connect", GuildID: s.guildID, ChannelID: channelID, Err: err}
	}

	s.mu.Lock()
	s.conn = conn
	s.state = Idle
	s.mu.Unlock()
	s.observer.ConnectionsChanged(ctx, 1)
	slog.Info("session: joined voice channel", "guild_id", s.guildID, "channel_id", channelID)

	go s.watchDrop(conn)
	return conn, nil
}

// watchDrop marks the session disconnected when the platform drops conn.
func (s *Session) watchDrop(conn audio.Connection) {
	<-conn.Done()
	if s.clear(conn) {
		slog.Info("session: voice connection dropped", "guild_id", s.guildID)
		s.observer.ConnectionsChanged(context.Background(), -1)
	}
}

// clear forgets conn if it is still current. It reports whether it did.
func (s *Session) clear(conn audio.Connection) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != conn {
		return false
	}
	s.conn = nil
	s.state = Disconnected
	return true
}

// detach forgets and returns the current connection.
func (s *Session) detach() audio.Connection {
	s.mu.Lock()
	defer s.mu.Unlock()
	conn := s.conn
	s.conn = nil
	s.state = Disconnected
	return conn
}

// transition sets state only while conn is still the live connection.
func (s *Session) transition(conn audio.Connection, st State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == conn {
		s.state = st
	}
}

func (s *Session) alone(conn audio.Connection) bool {
	return s.presence.HumanCount(s.guildID, conn.ChannelID()) == 0
}

func isDone(conn audio.Connection) bool {
	select {
	case <-conn.Done():
		return true
	default:
		return false
	}
}
