package discord

import (
	"context"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"unicode"

	"github.com/bwmarrin/discordgo"
)

// Command is one prefixed message routed to a handler.
type Command struct {
	// Name is the matched command word, or "" for the fallback.
	Name string

	// Args is the message text after the prefix and command word.
	Args string

	Message *discordgo.Message

	// By is the user who triggered this run: the author, or the user who
	// reacted with the replay marker.
	By *discordgo.User

	// Member is By's guild member, when Discord sent it.
	Member *discordgo.Member

	// Replay is true when the command was triggered by a reaction.
	Replay bool
}

// HandlerFunc handles a routed command.
type HandlerFunc func(ctx context.Context, c Command)

type commandEntry struct {
	handler HandlerFunc

	// replayable commands are re-run by the replay marker.
	replayable bool
}

// CommandRouter dispatches prefixed text messages to registered handlers.
// A message whose first word is not a registered command goes to the
// fallback handler with the whole text as Args.
type CommandRouter struct {
	mu       sync.RWMutex
	prefix   string
	commands map[string]commandEntry
	fallback HandlerFunc
}

// NewCommandRouter creates an empty router for messages starting with
// prefix.
func NewCommandRouter(prefix string) *CommandRouter {
	return &CommandRouter{prefix: prefix, commands: make(map[string]commandEntry)}
}

// RegisterCommand registers handler for the command word name
// (case-insensitive).
func (r *CommandRouter) RegisterCommand(name string, handler HandlerFunc) {
	r.register(name, handler, false)
}

// RegisterReplayable registers a command that the replay marker re-runs.
func (r *CommandRouter) RegisterReplayable(name string, handler HandlerFunc) {
	r.register(name, handler, true)
}

func (r *CommandRouter) register(name string, handler HandlerFunc, replayable bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.commands[strings.ToLower(name)] = commandEntry{handler: handler, replayable: replayable}
}

// SetFallback sets the handler for prefixed messages without a command
// word. The fallback is always replayable.
func (r *CommandRouter) SetFallback(handler HandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fallback = handler
}

// Names returns the registered command words, sorted.
func (r *CommandRouter) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.commands))
	for n := range r.commands {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}

// Prefix returns the command prefix.
func (r *CommandRouter) Prefix() string { return r.prefix }

// Match finds the handler for content. ok is false when content does not
// start with the prefix, or when nothing handles it. With replay set only
// replayable commands match.
func (r *CommandRouter) Match(content string, replay bool) (name, args string, handler HandlerFunc, ok bool) {
	rest, found := strings.CutPrefix(content, r.prefix)
	if !found {
		return "", "", nil, false
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	word, tail := splitWord(rest)
	if e, known := r.commands[strings.ToLower(word)]; known && word != "" {
		if replay && !e.replayable {
			return "", "", nil, false
		}
		return strings.ToLower(word), tail, e.handler, true
	}
	if r.fallback == nil {
		return "", "", nil, false
	}
	return "", rest, r.fallback, true
}

// Dispatch routes c.Message's content. It reports whether a handler ran.
func (r *CommandRouter) Dispatch(ctx context.Context, c Command) bool {
	name, args, handler, ok := r.Match(c.Message.Content, c.Replay)
	if !ok {
		return false
	}
	c.Name = name
	c.Args = args
	slog.Debug("discord: command", "name", name, "message_id", c.Message.ID, "replay", c.Replay)
	handler(ctx, c)
	return true
}

// splitWord splits off the first whitespace-delimited word of s.
func splitWord(s string) (word, rest string) {
	i := strings.IndexFunc(s, unicode.IsSpace)
	if i < 0 {
		return s, ""
	}
	return s[:i], strings.TrimSpace(s[i:])
}
