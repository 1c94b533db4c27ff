package discord

import (
	"context"
	"errors"
	"log/slog"

	"github.com/bwmarrin/discordgo"

	"github.com/MrWong99/echovox/internal/app"
	"github.com/MrWong99/echovox/internal/reply"
	"github.com/MrWong99/echovox/internal/session"
)

// MarkerLeft is added to a leave command once the bot has left.
const MarkerLeft = "👋"

// bind registers the built-in commands against r.
func (b *Bot) bind(r Requests, voice VoiceStates) {
	b.requests = r
	b.voice = voice
	b.router.RegisterCommand("help", b.cmdHelp)
	b.router.RegisterCommand("stats", b.cmdStats)
	b.router.RegisterCommand("leave", b.cmdLeave)
	b.router.RegisterReplayable("ask", b.cmdAsk)
	b.router.SetFallback(b.cmdSpeak)
}

func (b *Bot) requestContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(b.ctx, b.timeout)
}

func (b *Bot) onMessageCreate(m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.Bot || m.GuildID == "" {
		return
	}
	ctx, cancel := b.requestContext()
	defer cancel()
	b.router.Dispatch(ctx, Command{Message: m.Message, By: m.Author, Member: m.Member})
}

// onReactionAdd replays a message when a user adds the replay marker. The
// user's reaction is removed again so the marker can be reused.
func (b *Bot) onReactionAdd(r *discordgo.MessageReactionAdd) {
	if r.GuildID == "" || r.Emoji.Name != reply.MarkerReplay || r.UserID == b.selfID() {
		return
	}
	if r.Member != nil && r.Member.User != nil && r.Member.User.Bot {
		return
	}

	msg, err := b.message(r.ChannelID, r.MessageID)
	if err != nil {
		slog.Warn("discord: replay: fetch message", "message_id", r.MessageID, "err", err)
		return
	}
	if msg.Author == nil || msg.Author.Bot {
		return
	}
	if _, _, _, ok := b.router.Match(msg.Content, true); !ok {
		return
	}
	if msg.GuildID == "" {
		msg.GuildID = r.GuildID
	}

	if err := b.messenger.MessageReactionRemove(r.ChannelID, r.MessageID, reply.MarkerReplay, r.UserID); err != nil && !isNotFound(err) {
		slog.Debug("discord: replay: remove reaction", "err", err)
	}

	by := &discordgo.User{ID: r.UserID}
	if r.Member != nil && r.Member.User != nil {
		by = r.Member.User
	}

	ctx, cancel := b.requestContext()
	defer cancel()
	b.router.Dispatch(ctx, Command{Message: msg, By: by, Member: r.Member, Replay: true})
}

func (b *Bot) onVoiceStateUpdate(v *discordgo.VoiceStateUpdate) {
	if b.voice != nil && v.VoiceState != nil {
		b.voice.VoiceStateChanged(v.GuildID)
	}
}

// message returns a message from the state cache, falling back to the API.
func (b *Bot) message(channelID, messageID string) (*discordgo.Message, error) {
	if m, err := b.state.Message(channelID, messageID); err == nil {
		cp := *m
		return &cp, nil
	}
	return b.messenger.ChannelMessage(channelID, messageID)
}

func (b *Bot) cmdSpeak(ctx context.Context, c Command) {
	msg, by := b.request(c)
	if err := b.requests.Speak(ctx, msg, by, NewSurface(b.messenger, msg.ChannelID, msg.ID)); err != nil {
		slog.Debug("discord: speak failed", "message_id", msg.ID, "err", err)
	}
}

func (b *Bot) cmdAsk(ctx context.Context, c Command) {
	msg, by := b.request(c)
	if err := b.requests.Ask(ctx, msg, by, NewSurface(b.messenger, msg.ChannelID, msg.ID)); err != nil {
		slog.Debug("discord: ask failed", "message_id", msg.ID, "err", err)
	}
}

func (b *Bot) cmdHelp(_ context.Context, c Command) {
	b.send(c.Message.ChannelID, b.requests.Help())
}

func (b *Bot) cmdStats(_ context.Context, c Command) {
	text, err := b.requests.Stats()
	if err != nil {
		slog.Warn("discord: stats", "err", err)
		text = "Stats are not available right now."
	}
	b.send(c.Message.ChannelID, text)
}

func (b *Bot) cmdLeave(ctx context.Context, c Command) {
	if !b.perms.IsAdmin(c.Member) {
		b.send(c.Message.ChannelID, "<@"+c.By.ID+"> only admins can make me leave.")
		return
	}
	err := b.requests.Leave(ctx, c.Message.GuildID)
	switch {
	case errors.Is(err, session.ErrNotConnected):
		b.send(c.Message.ChannelID, "I'm not in a voice channel.")
	case err != nil:
		slog.Warn("discord: leave", "guild_id", c.Message.GuildID, "err", err)
		b.send(c.Message.ChannelID, "Could not leave the voice channel.")
	default:
		if err := b.messenger.MessageReactionAdd(c.Message.ChannelID, c.Message.ID, MarkerLeft); err != nil {
			slog.Debug("discord: leave: react", "err", err)
		}
	}
}

// request converts a routed command into the app layer's types.
func (b *Bot) request(c Command) (app.Message, app.User) {
	m := c.Message
	msg := app.Message{
		ID:        m.ID,
		GuildID:   m.GuildID,
		ChannelID: m.ChannelID,
		Author:    app.User{ID: m.Author.ID, Name: b.locator.DisplayName(m.GuildID, m.Author, m.Member)},
		Text:      c.Args,
		Replay:    c.Replay,
	}
	by := msg.Author
	if c.By != nil && c.By.ID != m.Author.ID {
		by = app.User{ID: c.By.ID, Name: b.locator.DisplayName(m.GuildID, c.By, c.Member)}
	}
	return msg, by
}

func (b *Bot) send(channelID, text string) {
	if _, err := b.messenger.ChannelMessageSend(channelID, text); err != nil {
		slog.Warn("discord: send message", "channel_id", channelID, "err", err)
	}
}
