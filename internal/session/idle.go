package session

import (
	"context"
	"log/slog"
	"time"

	"github.com/MrWong99/echovox/pkg/audio"
)

// startWatcher launches an idle watcher for the current connection. A new
// watcher supersedes any running one unless keepRunning is set and the
// running watcher already observes the same connection in the same channel.
func (s *Session) startWatcher(keepRunning bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conn := s.conn
	if conn == nil {
		return
	}
	channelID := conn.ChannelID()
	if s.watchCancel != nil {
		if keepRunning && s.watchConn == conn && s.watchChannel == channelID {
			return
		}
		s.watchCancel()
	}

	s.watchGen++
	gen := s.watchGen
	ctx, cancel := context.WithCancel(context.Background())
	s.watchCancel = cancel
	s.watchConn, s.watchChannel = conn, channelID
	step, timeout := s.timing()

	slog.Debug("session: idle watcher started", "guild_id", s.guildID, "channel_id", channelID, "timeout", timeout)
	go s.watchIdle(ctx, gen, conn, channelID, step, timeout)
}

// stopWatcher cancels the running watcher, if any.
func (s *Session) stopWatcher() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clearWatcher()
}

// clearWatcher cancels the running watcher. Must be called with s.mu held.
func (s *Session) clearWatcher() {
	if s.watchCancel != nil {
		s.watchCancel()
		s.watchCancel = nil
	}
	s.watchConn, s.watchChannel = nil, ""
}

// watchIdle re-checks the channel every step and leaves once it has been
// without humans for timeout.
func (s *Session) watchIdle(ctx context.Context, gen uint64, conn audio.Connection, channelID string, step, timeout time.Duration) {
	defer s.watcherExited(gen)

	ticker := time.NewTicker(step)
	defer ticker.Stop()

	var waited time.Duration
	for {
		select {
		case <-ctx.Done():
			return
		case <-conn.Done():
			return
		case <-ticker.C:
		}

		waited += step
		if !s.checkIdle(gen, conn, channelID) {
			slog.Debug("session: idle watcher stopped", "guild_id", s.guildID, "waited", waited)
			return
		}
		if waited >= timeout {
			s.idleDisconnect(ctx, gen, conn)
			return
		}
	}
}

// checkIdle reports whether watcher gen should keep counting: conn is still
// the live connection, still in channelID and still without human listeners.
// A watcher that stops is retired under the same lock.
func (s *Session) checkIdle(gen uint64, conn audio.Connection, channelID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.watchGen != gen {
		return false
	}
	if s.conn == conn && !isDone(conn) && conn.ChannelID() == channelID &&
		s.presence.HumanCount(s.guildID, channelID) == 0 {
		return true
	}
	s.clearWatcher()
	return false
}

// idleDisconnect leaves the channel unless a newer watcher took over or a
// playback holds the admission slot.
func (s *Session) idleDisconnect(ctx context.Context, gen uint64, conn audio.Connection) {
	if !s.tryAcquire() {
		slog.Debug("session: idle timeout reached during playback", "guild_id", s.guildID)
		return
	}
	defer s.release()

	s.mu.Lock()
	if s.watchGen != gen || s.conn != conn || ctx.Err() != nil {
		s.mu.Unlock()
		return
	}
	s.conn = nil
	s.state = Disconnected
	s.mu.Unlock()

	if err := conn.Disconnect(); err != nil {
		slog.Warn("session: idle disconnect failed", "guild_id", s.guildID, "err", err)
	}
	slog.Info("session: left idle voice channel", "guild_id", s.guildID)
	s.observer.ConnectionsChanged(context.Background(), -1)
	s.observer.IdleDisconnect(context.Background(), s.guildID)
}

func (s *Session) watcherExited(gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.watchGen == gen {
		s.clearWatcher()
	}
}

// voiceStateChanged reacts to members joining or leaving: it starts a
// watcher when the bot is left alone and stops it when a human is back.
func (s *Session) voiceStateChanged() {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil || isDone(conn) {
		return
	}
	if s.alone(conn) {
		s.startWatcher(true)
		return
	}
	s.stopWatcher()
}
