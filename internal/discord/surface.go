package discord

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/bwmarrin/discordgo"

	"github.com/MrWong99/echovox/internal/reply"
)

// Messenger is the part of the Discord REST API the bot uses.
// *discordgo.Session satisfies it.
type Messenger interface {
	MessageReactionAdd(channelID, messageID, emojiID string, options ...discordgo.RequestOption) error
	MessageReactionRemove(channelID, messageID, emojiID, userID string, options ...discordgo.RequestOption) error
	ChannelMessageSend(channelID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageSendEmbed(channelID string, embed *discordgo.MessageEmbed, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageEditEmbed(channelID, messageID string, embed *discordgo.MessageEmbed, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessage(channelID, messageID string, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

var _ Messenger = (*discordgo.Session)(nil)

// Surface shows a reply lifecycle on one Discord message: markers are
// reactions on the message and the status is an embed sent to its channel,
// created on the first Publish and edited afterwards.
//
// Thread-safe for concurrent use.
type Surface struct {
	m         Messenger
	channelID string
	messageID string

	mu       sync.Mutex
	statusID string
}

var _ reply.Surface = (*Surface)(nil)

// NewSurface creates a Surface for the message messageID in channelID.
func NewSurface(m Messenger, channelID, messageID string) *Surface {
	return &Surface{m: m, channelID: channelID, messageID: messageID}
}

// AddMarker implements [reply.Surface].
func (s *Surface) AddMarker(_ context.Context, marker string) error {
	if err := s.m.MessageReactionAdd(s.channelID, s.messageID, marker); err != nil {
		return fmt.Errorf("discord: add reaction %s: %w", marker, err)
	}
	return nil
}

// RemoveMarker implements [reply.Surface].
func (s *Surface) RemoveMarker(_ context.Context, marker string) error {
	err := s.m.MessageReactionRemove(s.channelID, s.messageID, marker, "@me")
	if err != nil && !isNotFound(err) {
		return fmt.Errorf("discord: remove reaction %s: %w", marker, err)
	}
	return nil
}

// Publish implements [reply.Surface].
func (s *Surface) Publish(_ context.Context, st reply.Status) error {
	embed := StatusEmbed(st)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.statusID != "" {
		if _, err := s.m.ChannelMessageEditEmbed(s.channelID, s.statusID, embed); err != nil {
			return fmt.Errorf("discord: edit status: %w", err)
		}
		return nil
	}
	msg, err := s.m.ChannelMessageSendEmbed(s.channelID, embed)
	if err != nil {
		return fmt.Errorf("discord: send status: %w", err)
	}
	s.statusID = msg.ID
	return nil
}

// Notify implements [reply.Surface].
func (s *Surface) Notify(_ context.Context, text string) error {
	if _, err := s.m.ChannelMessageSend(s.channelID, text); err != nil {
		return fmt.Errorf("discord: notify: %w", err)
	}
	return nil
}

// StatusID returns the ID of the status embed message, or "" before the
// first Publish.
func (s *Surface) StatusID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.statusID
}

// StatusEmbed renders st as a Discord embed.
func StatusEmbed(st reply.Status) *discordgo.MessageEmbed {
	return &discordgo.MessageEmbed{
		Description: st.Text,
		Color:       st.Color,
		Footer:      &discordgo.MessageEmbedFooter{Text: st.Footer()},
	}
}

func isNotFound(err error) bool {
	var rerr *discordgo.RESTError
	return errors.As(err, &rerr) && rerr.Response != nil && rerr.Response.StatusCode == http.StatusNotFound
}
