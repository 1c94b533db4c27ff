// Package mock provides in-memory mock implementations of the [audio.Platform]
// and [audio.Connection] interfaces for use in unit tests.
//
// All mocks are safe for concurrent use. They record every method call so that
// tests can assert on call counts and arguments, and they expose exported fields
// that the test can set to control return values.
//
// Typical usage:
//
//	conn := mock.NewConnection("chan-1")
//	platform := &mock.Platform{Connections: []*mock.Connection{conn}}
//	got, err := platform.Connect(ctx, "guild-1", "chan-1")
package mock

import (
	"context"
	"io"
	"sync"

	"github.com/MrWong99/echovox/pkg/audio"
)

// ─── Connection ───────────────────────────────────────────────────────────────

// Connection is a mock implementation of [audio.Connection].
//
// Play reads the whole clip and, if Gate is non-nil, blocks until a value is
// received from Gate. If ctx ends first Play returns ctx.Err(). This lets tests hold a playback open and
// observe what other callers do meanwhile.
type Connection struct {
	mu sync.Mutex

	channelID string
	done      chan struct{}
	closeOnce sync.Once

	// Gate, when non-nil, must deliver one value per Play call before Play returns.
	Gate chan struct{}

	// PlayErr is returned by Play after the clip has been consumed.
	PlayErr error

	// MoveErr is returned by Move.
	MoveErr error

	// DisconnectErr is returned by the first Disconnect call.
	DisconnectErr error

	// Played holds the bytes of every clip passed to Play, in order.
	Played [][]byte

	// Moves records every channel passed to Move.
	Moves []string

	// CallCountDisconnect records how many times Disconnect was called.
	CallCountDisconnect int

	active     int
	maxActive  int
	playStarts chan struct{}
}

// NewConnection returns a live Connection sitting in channelID.
func NewConnection(channelID string) *Connection {
	return &Connection{
		channelID:  channelID,
		done:       make(chan struct{}),
		playStarts: make(chan struct{}, 64),
	}
}

// ChannelID implements [audio.Connection].
func (c *Connection) ChannelID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.channelID
}

// Move implements [audio.Connection].
func (c *Connection) Move(_ context.Context, channelID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Moves = append(c.Moves, channelID)
	if c.MoveErr != nil {
		return c.MoveErr
	}
	c.channelID = channelID
	return nil
}

// Play implements [audio.Connection].
func (c *Connection) Play(ctx context.Context, clip io.Reader) error {
	data, err := io.ReadAll(clip)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.Played = append(c.Played, data)
	c.active++
	if c.active > c.maxActive {
		c.maxActive = c.active
	}
	gate := c.Gate
	c.mu.Unlock()

	select {
	case c.playStarts <- struct{}{}:
	default:
	}

	var ctxErr error
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			ctxErr = ctx.Err()
		case <-c.done:
		}
	}

	c.mu.Lock()
	c.active--
	playErr := c.PlayErr
	c.mu.Unlock()
	if ctxErr != nil {
		return ctxErr
	}
	return playErr
}

// Done implements [audio.Connection].
func (c *Connection) Done() <-chan struct{} {
	return c.done
}

// Disconnect implements [audio.Connection].
func (c *Connection) Disconnect() error {
	c.mu.Lock()
	c.CallCountDisconnect++
	first := c.CallCountDisconnect == 1
	err := c.DisconnectErr
	c.mu.Unlock()

	c.Drop()
	if first {
		return err
	}
	return nil
}

// Drop simulates the platform tearing the connection down (kick, channel
// deleted) without a Disconnect call.
func (c *Connection) Drop() {
	c.closeOnce.Do(func() { close(c.done) })
}

// PlayStarted returns a channel that receives once for every Play call after
// the clip has been read.
func (c *Connection) PlayStarted() <-chan struct{} {
	return c.playStarts
}

// MaxConcurrentPlays returns the highest number of Play calls that were ever
// in flight at the same time.
func (c *Connection) MaxConcurrentPlays() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.maxActive
}

// Disconnects returns the number of Disconnect calls. Thread-safe.
func (c *Connection) Disconnects() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.CallCountDisconnect
}

// PlayCount returns the number of Play calls. Thread-safe.
func (c *Connection) PlayCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.Played)
}

// ─── Platform ─────────────────────────────────────────────────────────────────

// ConnectCall records the arguments of a single Connect invocation.
type ConnectCall struct {
	GuildID   string
	ChannelID string
}

// Platform is a mock implementation of [audio.Platform].
//
// Each Connect call hands out the next entry from Connections. When the list
// is exhausted a fresh Connection is created for the requested channel.
type Platform struct {
	mu sync.Mutex

	// Connections are returned by successive Connect calls.
	Connections []*Connection

	// ConnectErr, if non-nil, is returned by Connect.
	ConnectErr error

	// ConnectCalls records every Connect invocation.
	ConnectCalls []ConnectCall

	next int
}

// Connect implements [audio.Platform].
func (p *Platform) Connect(_ context.Context, guildID, channelID string) (audio.Connection, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ConnectCalls = append(p.ConnectCalls, ConnectCall{GuildID: guildID, ChannelID: channelID})
	if p.ConnectErr != nil {
		return nil, p.ConnectErr
	}
	if p.next < len(p.Connections) {
		c := p.Connections[p.next]
		p.next++
		c.mu.Lock()
		c.channelID = channelID
		c.mu.Unlock()
		return c, nil
	}
	c := NewConnection(channelID)
	p.Connections = append(p.Connections, c)
	p.next++
	return c, nil
}

// ConnectCount returns the number of Connect calls. Thread-safe.
func (p *Platform) ConnectCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.ConnectCalls)
}

// Last returns the most recently handed-out connection, or nil.
func (p *Platform) Last() *Connection {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.next == 0 {
		return nil
	}
	return p.Connections[p.next-1]
}

var (
	_ audio.Connection = (*Connection)(nil)
	_ audio.Platform   = (*Platform)(nil)
)
