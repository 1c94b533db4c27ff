// Package mock provides test doubles for the Discord REST calls the bot
// makes.
package mock

import (
	"fmt"
	"strconv"
	"sync"

	"github.com/bwmarrin/discordgo"
)

// Reaction records one reaction add or remove.
type Reaction struct {
	ChannelID string
	MessageID string
	Emoji     string

	// UserID is "@me" for the bot's own reactions.
	UserID string
}

// Sent records one message sent or edited.
type Sent struct {
	ChannelID string
	MessageID string
	Content   string
	Embed     *discordgo.MessageEmbed
	Edit      bool
}

// Messenger is a mock implementation of the Discord REST calls used by the
// bot. Set the Err fields to inject errors.
type Messenger struct {
	mu sync.Mutex

	// Messages are served by ChannelMessage, keyed by message ID.
	Messages map[string]*discordgo.Message

	ReactionErr error
	RemoveErr   error
	SendErr     error

	// Ops records every call as a short string ("+⏳", "-🔄@u2", "embed",
	// "edit", "send") in order.
	Ops []string

	Added   []Reaction
	Removed []Reaction
	Sent    []Sent

	next int
}

// MessageReactionAdd records the reaction.
func (m *Messenger) MessageReactionAdd(channelID, messageID, emojiID string, _ ...discordgo.RequestOption) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Ops = append(m.Ops, "+"+emojiID)
	m.Added = append(m.Added, Reaction{ChannelID: channelID, MessageID: messageID, Emoji: emojiID, UserID: "@me"})
	return m.ReactionErr
}

// MessageReactionRemove records the removal.
func (m *Messenger) MessageReactionRemove(channelID, messageID, emojiID, userID string, _ ...discordgo.RequestOption) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	op := "-" + emojiID
	if userID != "@me" {
		op += "@" + userID
	}
	m.Ops = append(m.Ops, op)
	m.Removed = append(m.Removed, Reaction{ChannelID: channelID, MessageID: messageID, Emoji: emojiID, UserID: userID})
	return m.RemoveErr
}

// ChannelMessageSend records a plain message.
func (m *Messenger) ChannelMessageSend(channelID, content string, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Ops = append(m.Ops, "send")
	if m.SendErr != nil {
		return nil, m.SendErr
	}
	msg := m.newMessage(channelID)
	m.Sent = append(m.Sent, Sent{ChannelID: channelID, MessageID: msg.ID, Content: content})
	return msg, nil
}

// ChannelMessageSendEmbed records a new embed message.
func (m *Messenger) ChannelMessageSendEmbed(channelID string, embed *discordgo.MessageEmbed, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Ops = append(m.Ops, "embed")
	if m.SendErr != nil {
		return nil, m.SendErr
	}
	msg := m.newMessage(channelID)
	m.Sent = append(m.Sent, Sent{ChannelID: channelID, MessageID: msg.ID, Embed: embed})
	return msg, nil
}

// ChannelMessageEditEmbed records an embed edit.
func (m *Messenger) ChannelMessageEditEmbed(channelID, messageID string, embed *discordgo.MessageEmbed, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Ops = append(m.Ops, "edit")
	if m.SendErr != nil {
		return nil, m.SendErr
	}
	m.Sent = append(m.Sent, Sent{ChannelID: channelID, MessageID: messageID, Embed: embed, Edit: true})
	return &discordgo.Message{ID: messageID, ChannelID: channelID}, nil
}

// ChannelMessage returns the message from Messages.
func (m *Messenger) ChannelMessage(channelID, messageID string, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg, ok := m.Messages[messageID]
	if !ok {
		return nil, fmt.Errorf("mock: message %s/%s not found", channelID, messageID)
	}
	return msg, nil
}

// LastSent returns the most recent send or edit, or the zero value.
func (m *Messenger) LastSent() Sent {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.Sent) == 0 {
		return Sent{}
	}
	return m.Sent[len(m.Sent)-1]
}

// OpsSnapshot returns a copy of Ops. Thread-safe.
func (m *Messenger) OpsSnapshot() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.Ops...)
}

func (m *Messenger) newMessage(channelID string) *discordgo.Message {
	m.next++
	return &discordgo.Message{ID: "sent-" + strconv.Itoa(m.next), ChannelID: channelID}
}
