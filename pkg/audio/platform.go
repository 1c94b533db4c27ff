// Package audio defines the interfaces and types for voice-channel playback
// within Echovox.
//
// The two primary abstractions are:
//
//   - [Platform] joins a voice channel and returns a [Connection].
//   - [Connection] represents the bot's presence in one guild's voice channel.
//     It can move between channels, play encoded clips and report when the
//     platform has torn it down.
//
// Implementations of these interfaces are provided by platform-specific adapter
// packages (e.g., audio/discord). The session layer only ever sees these
// interfaces, which keeps admission and idle logic testable without a gateway.
//
// This package lives under pkg/ because external code (third-party platform adapters)
// is expected to implement [Platform] and [Connection].
package audio

import (
	"context"
	"io"
)

// Connection represents the bot's active voice connection in a single guild.
//
// Implementations must be safe for concurrent use, but callers never run two
// Play calls on the same connection at once.
type Connection interface {
	// ChannelID returns the voice channel the connection currently sits in.
	ChannelID() string

	// Move switches the connection to channelID within the same guild. Moving to
	// the current channel is a no-op.
	Move(ctx context.Context, channelID string) error

	// Play decodes clip (MP3) and streams it to the channel. It blocks until the
	// whole clip has been sent, ctx is cancelled or the connection drops.
	Play(ctx context.Context, clip io.Reader) error

	// Done is closed once the connection is gone, whether through Disconnect or
	// because the platform dropped it (kicked, channel deleted, ...).
	Done() <-chan struct{}

	// Disconnect leaves the voice channel. It is safe to call Disconnect more
	// than once; subsequent calls are no-ops and return nil.
	Disconnect() error
}

// Platform is the entry point for a voice-channel provider.
//
// Implementations must be safe for concurrent use.
type Platform interface {
	// Connect joins channelID in guildID and returns an active [Connection].
	// The supplied ctx bounds the join attempt only.
	Connect(ctx context.Context, guildID, channelID string) (Connection, error)
}
