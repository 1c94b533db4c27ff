package discord

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/bwmarrin/discordgo"

	"github.com/MrWong99/echovox/pkg/audio"
)

// Compile-time interface assertion.
var _ audio.Connection = (*Connection)(nil)

// ErrClosed is returned by Play and Move once the connection is gone.
var ErrClosed = errors.New("discord: voice connection closed")

// frameSource yields fixed-size PCM frames until io.EOF.
type frameSource interface {
	NextFrame() ([]byte, error)
}

// Connection wraps a discordgo.VoiceConnection and adapts it to the
// [audio.Connection] interface.
//
// Connection is safe for concurrent use.
type Connection struct {
	vc      *discordgo.VoiceConnection
	session *discordgo.Session
	guildID string

	mu        sync.Mutex
	channelID string

	done      chan struct{}
	closeOnce sync.Once

	removeHandler func() // removes the VoiceStateUpdate handler

	// Hooks below default to the discordgo implementation; tests override them.
	disconnectVC func() error
	joinVC       func(channelID string) (*discordgo.VoiceConnection, error)
	speaking     func(bool) error
	decode       func(io.Reader) (frameSource, error)
}

// newConnection initialises a Connection for an already-joined voice channel.
func newConnection(vc *discordgo.VoiceConnection, session *discordgo.Session, guildID, channelID string) *Connection {
	c := &Connection{
		vc:           vc,
		session:      session,
		guildID:      guildID,
		channelID:    channelID,
		done:         make(chan struct{}),
		disconnectVC: vc.Disconnect,
		speaking:     vc.Speaking,
		joinVC: func(channelID string) (*discordgo.VoiceConnection, error) {
			return session.ChannelVoiceJoin(guildID, channelID, false, true)
		},
		decode: decodeMP3,
	}
	c.removeHandler = session.AddHandler(c.handleVoiceStateUpdate)
	return c
}

func decodeMP3(r io.Reader) (frameSource, error) {
	return audio.DecodeMP3(r, opusFrameBytes)
}

// ChannelID returns the voice channel the bot currently sits in.
func (c *Connection) ChannelID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.channelID
}

// Done is closed once the connection has been torn down.
func (c *Connection) Done() <-chan struct{} {
	return c.done
}

// Move switches to channelID by re-issuing the voice join, which discordgo
// turns into a channel change for an existing guild connection.
func (c *Connection) Move(ctx context.Context, channelID string) error {
	if c.closed() {
		return ErrClosed
	}
	if c.ChannelID() == channelID {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	vc, err := c.joinVC(channelID)
	if err != nil {
		return fmt.Errorf("discord: move to voice channel %q: %w", channelID, err)
	}

	c.mu.Lock()
	c.channelID = channelID
	if vc != nil && vc != c.vc {
		c.vc = vc
		c.disconnectVC = vc.Disconnect
		c.speaking = vc.Speaking
	}
	c.mu.Unlock()
	return nil
}

// Play decodes clip and streams it as Opus. It returns once the last frame
// has been queued, or early when ctx ends or the connection drops.
func (c *Connection) Play(ctx context.Context, clip io.Reader) error {
	if c.closed() {
		return ErrClosed
	}

	src, err := c.decode(clip)
	if err != nil {
		return err
	}
	enc, err := newOpusEncoder()
	if err != nil {
		return err
	}

	c.mu.Lock()
	send := c.vc.OpusSend
	speaking := c.speaking
	c.mu.Unlock()

	setSpeaking(speaking, true)
	defer setSpeaking(speaking, false)

	for {
		frame, err := src.NextFrame()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}

		packet, err := enc.encode(frame)
		if err != nil {
			slog.Warn("discord: dropping frame", "error", err)
			continue
		}
		if err := c.sendPacket(ctx, send, packet); err != nil {
			return err
		}
	}
	for range trailingSilence {
		if err := c.sendPacket(ctx, send, opusSilence); err != nil {
			return err
		}
	}
	return nil
}

func (c *Connection) sendPacket(ctx context.Context, send chan<- []byte, packet []byte) error {
	select {
	case send <- packet:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return ErrClosed
	}
}

// Disconnect leaves the voice channel. It is safe to call more than once;
// subsequent calls return nil.
func (c *Connection) Disconnect() error {
	return c.teardown(true)
}

func (c *Connection) teardown(leave bool) error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		if c.removeHandler != nil {
			c.removeHandler()
		}
		c.mu.Lock()
		disconnect := c.disconnectVC
		c.mu.Unlock()
		if leave && disconnect != nil {
			err = disconnect()
		}
	})
	return err
}

func (c *Connection) closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// handleVoiceStateUpdate tracks the bot's own voice state. A move by a
// moderator updates the channel; being removed from voice ends the connection.
func (c *Connection) handleVoiceStateUpdate(s *discordgo.Session, vsu *discordgo.VoiceStateUpdate) {
	if vsu == nil || vsu.VoiceState == nil || vsu.GuildID != c.guildID {
		return
	}
	if s == nil || s.State == nil || s.State.User == nil || vsu.UserID != s.State.User.ID {
		return
	}

	if vsu.ChannelID == "" {
		slog.Info("discord: removed from voice channel", "guild_id", c.guildID)
		_ = c.teardown(false)
		return
	}

	c.mu.Lock()
	if c.channelID != vsu.ChannelID {
		slog.Debug("discord: voice channel changed externally", "guild_id", c.guildID, "channel_id", vsu.ChannelID)
		c.channelID = vsu.ChannelID
	}
	c.mu.Unlock()
}

func setSpeaking(fn func(bool) error, b bool) {
	if fn == nil {
		return
	}
	if err := fn(b); err != nil {
		slog.Warn("discord: speaking notification error", "speaking", b, "error", err)
	}
}
