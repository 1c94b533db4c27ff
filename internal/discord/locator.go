package discord

import (
	"github.com/bwmarrin/discordgo"
)

// Locator answers voice questions from the gateway state cache: which voice
// channel a user is in, and how many humans share a channel with the bot.
// It needs the GuildVoiceStates intent.
type Locator struct {
	state *discordgo.State
}

// NewLocator creates a Locator over state.
func NewLocator(state *discordgo.State) *Locator {
	return &Locator{state: state}
}

// VoiceChannel returns the voice channel userID is connected to in guildID.
// It scans the guild's cached voice states, so it works for members whose
// member record was never cached.
func (l *Locator) VoiceChannel(guildID, userID string) (string, bool) {
	g, err := l.state.Guild(guildID)
	if err != nil {
		return "", false
	}
	l.state.RLock()
	defer l.state.RUnlock()
	for _, vs := range g.VoiceStates {
		if vs.UserID == userID && vs.ChannelID != "" {
			return vs.ChannelID, true
		}
	}
	return "", false
}

// HumanCount returns the number of non-bot users in channelID, not counting
// the bot itself. Users whose member record is not cached count as humans.
func (l *Locator) HumanCount(guildID, channelID string) int {
	g, err := l.state.Guild(guildID)
	if err != nil {
		return 0
	}

	l.state.RLock()
	self := ""
	if l.state.User != nil {
		self = l.state.User.ID
	}
	var users []*discordgo.VoiceState
	for _, vs := range g.VoiceStates {
		if vs.ChannelID == channelID && vs.UserID != self {
			users = append(users, vs)
		}
	}
	l.state.RUnlock()

	n := 0
	for _, vs := range users {
		if !l.isBot(guildID, vs) {
			n++
		}
	}
	return n
}

func (l *Locator) isBot(guildID string, vs *discordgo.VoiceState) bool {
	if vs.Member != nil && vs.Member.User != nil {
		return vs.Member.User.Bot
	}
	m, err := l.state.Member(guildID, vs.UserID)
	if err != nil || m.User == nil {
		return false
	}
	return m.User.Bot
}

// DisplayName returns the name to show for user in guildID: the guild
// nickname, the global name, the username or finally the user ID.
func (l *Locator) DisplayName(guildID string, user *discordgo.User, member *discordgo.Member) string {
	if member == nil && user != nil {
		member, _ = l.state.Member(guildID, user.ID)
	}
	if member != nil {
		if member.Nick != "" {
			return member.Nick
		}
		if user == nil {
			user = member.User
		}
	}
	if user == nil {
		return ""
	}
	switch {
	case user.GlobalName != "":
		return user.GlobalName
	case user.Username != "":
		return user.Username
	default:
		return user.ID
	}
}
