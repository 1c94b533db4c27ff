// Package discord is the chat layer of echovox. It owns the discordgo
// session, turns prefixed messages and replay reactions into requests for
// the app layer and shows their progress as reactions and status embeds.
package discord

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/MrWong99/echovox/internal/app"
	"github.com/MrWong99/echovox/internal/reply"
	"github.com/MrWong99/echovox/pkg/audio"
	discordaudio "github.com/MrWong99/echovox/pkg/audio/discord"
)

// DefaultRequestTimeout bounds one request including its wait for the
// guild's voice connection.
const DefaultRequestTimeout = 5 * time.Minute

// Config holds Discord bot configuration.
type Config struct {
	// Token is the bot token, with or without the "Bot " prefix.
	Token string

	// Prefix starts every command message. Defaults to ";".
	Prefix string

	// AdminRoleID restricts privileged commands. Empty allows everyone.
	AdminRoleID string

	// Status is the "playing" presence set on connect.
	Status string

	RequestTimeout time.Duration
}

// Requests is what the bot asks the app layer to do. *app.App satisfies it.
type Requests interface {
	Speak(ctx context.Context, msg app.Message, by app.User, surface reply.Surface) error
	Ask(ctx context.Context, msg app.Message, by app.User, surface reply.Surface) error
	Help() string
	Stats() (string, error)
	Leave(ctx context.Context, guildID string) error
}

// VoiceStates is told about every voice state change in a guild.
type VoiceStates interface {
	VoiceStateChanged(guildID string)
}

// Bot owns the Discord gateway connection and routes messages and
// reactions to the app layer.
type Bot struct {
	session   *discordgo.Session
	messenger Messenger
	state     *discordgo.State
	platform  *discordaudio.Platform
	locator   *Locator
	router    *CommandRouter
	perms     *PermissionChecker
	status    string
	timeout   time.Duration

	requests Requests
	voice    VoiceStates

	ctx    context.Context
	cancel context.CancelFunc

	connected atomic.Bool
	mu        sync.Mutex
	remove    []func()
	closeOnce sync.Once
}

// New creates a Bot. The gateway connection is opened by [Bot.Run]; until
// then the platform and locator can already be handed to other components.
func New(cfg Config) (*Bot, error) {
	if cfg.Token == "" {
		return nil, errors.New("discord: token is required")
	}
	token := cfg.Token
	if !strings.HasPrefix(token, "Bot ") {
		token = "Bot " + token
	}
	session, err := discordgo.New(token)
	if err != nil {
		return nil, fmt.Errorf("discord: create session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsGuildMessageReactions |
		discordgo.IntentsGuildVoiceStates |
		discordgo.IntentsMessageContent

	b := newBot(cfg, session, session.State)
	b.session = session
	b.platform = discordaudio.New(session)
	return b, nil
}

func newBot(cfg Config, m Messenger, state *discordgo.State) *Bot {
	if cfg.Prefix == "" {
		cfg.Prefix = ";"
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Bot{
		messenger: m,
		state:     state,
		locator:   NewLocator(state),
		router:    NewCommandRouter(cfg.Prefix),
		perms:     NewPermissionChecker(cfg.AdminRoleID),
		status:    cfg.Status,
		timeout:   cfg.RequestTimeout,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Platform returns the audio.Platform for voice channel connections.
func (b *Bot) Platform() audio.Platform {
	return b.platform
}

// Locator returns the voice channel locator, which also counts listeners.
func (b *Bot) Locator() *Locator {
	return b.locator
}

// Router returns the command router.
func (b *Bot) Router() *CommandRouter {
	return b.router
}

// Permissions returns the permission checker.
func (b *Bot) Permissions() *PermissionChecker {
	return b.perms
}

// Connected reports whether the gateway session is up.
func (b *Bot) Connected() bool {
	return b.connected.Load()
}

// Run wires r and voice into the event handlers, opens the gateway
// connection and blocks until ctx is cancelled. It closes the bot before
// returning.
func (b *Bot) Run(ctx context.Context, r Requests, voice VoiceStates) error {
	if b.session == nil {
		return errors.New("discord: bot has no session")
	}
	b.bind(r, voice)

	b.mu.Lock()
	b.remove = append(b.remove,
		b.session.AddHandler(func(_ *discordgo.Session, m *discordgo.MessageCreate) { b.onMessageCreate(m) }),
		b.session.AddHandler(func(_ *discordgo.Session, r *discordgo.MessageReactionAdd) { b.onReactionAdd(r) }),
		b.session.AddHandler(func(_ *discordgo.Session, v *discordgo.VoiceStateUpdate) { b.onVoiceStateUpdate(v) }),
		b.session.AddHandler(b.onReady),
		b.session.AddHandler(func(*discordgo.Session, *discordgo.Disconnect) { b.connected.Store(false) }),
		b.session.AddHandler(func(*discordgo.Session, *discordgo.Resumed) { b.connected.Store(true) }),
	)
	b.mu.Unlock()

	if err := b.session.Open(); err != nil {
		return fmt.Errorf("discord: open session: %w", err)
	}
	slog.Info("discord session opened", "prefix", b.router.Prefix())

	<-ctx.Done()
	if err := b.Close(); err != nil {
		return err
	}
	return ctx.Err()
}

// Close cancels in-flight requests and disconnects from Discord.
func (b *Bot) Close() error {
	var closeErr error
	b.closeOnce.Do(func() {
		b.cancel()

		b.mu.Lock()
		for _, rm := range b.remove {
			rm()
		}
		b.remove = nil
		b.mu.Unlock()

		b.connected.Store(false)
		if b.session != nil {
			if err := b.session.Close(); err != nil {
				closeErr = fmt.Errorf("discord: close session: %w", err)
			}
		}
		slog.Info("discord bot closed")
	})
	return closeErr
}

func (b *Bot) onReady(s *discordgo.Session, r *discordgo.Ready) {
	b.connected.Store(true)
	if b.status != "" {
		if err := s.UpdateGameStatus(0, b.status); err != nil {
			slog.Warn("discord: set status", "err", err)
		}
	}
	slog.Info("discord ready", "user", r.User.Username, "guilds", len(r.Guilds))
}

// selfID returns the bot's user ID once the session is ready.
func (b *Bot) selfID() string {
	b.state.RLock()
	defer b.state.RUnlock()
	if b.state.User == nil {
		return ""
	}
	return b.state.User.ID
}
