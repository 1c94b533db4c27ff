// Package app holds the request flow of the bot: it turns a chat message
// into a spoken clip and keeps the message's reply in sync while doing so.
//
// An [App] is built once in main and handed to the chat layer. It owns no
// platform types; the chat layer supplies a [Locator] for voice channels and
// a reply.Surface per message.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/echovox/internal/observe"
	"github.com/MrWong99/echovox/internal/reply"
	"github.com/MrWong99/echovox/internal/resilience"
	"github.com/MrWong99/echovox/internal/session"
	"github.com/MrWong99/echovox/internal/ttscache"
	"github.com/MrWong99/echovox/internal/voice"
	"github.com/MrWong99/echovox/pkg/provider/llm"
	"github.com/MrWong99/echovox/pkg/provider/tts"
)

var (
	// ErrNoVoiceChannel is returned when the requester is not in a voice
	// channel of the message's guild.
	ErrNoVoiceChannel = errors.New("app: requester is not in a voice channel")

	// ErrRateLimited is returned when a user sends requests faster than the
	// configured per-user rate.
	ErrRateLimited = errors.New("app: rate limited")

	// ErrAskDisabled is returned by [App.Ask] when no LLM is configured.
	ErrAskDisabled = errors.New("app: no language model configured")

	// ErrNoAnswer wraps a failed completion.
	ErrNoAnswer = errors.New("app: no answer")
)

// DefaultSystemPrompt steers ;ask answers towards something worth hearing.
const DefaultSystemPrompt = "You answer questions from a Discord voice chat. " +
	"Reply in one to three short spoken sentences, without markdown, lists or emoji."

// User identifies a chat user.
type User struct {
	ID   string
	Name string
}

// Mention returns the chat mention for u.
func (u User) Mention() string { return "<@" + u.ID + ">" }

// Message is a chat message addressed to the bot.
type Message struct {
	ID        string
	GuildID   string
	ChannelID string
	Author    User

	// Text is the message content after the command prefix (and command
	// word, for commands) was removed.
	Text string

	// Replay is set when the request re-runs an earlier message, so markers
	// from the previous run are still on it.
	Replay bool
}

// Locator finds the voice channel a user is connected to.
type Locator interface {
	VoiceChannel(guildID, userID string) (channelID string, ok bool)
}

// Player plays clips in guild voice channels.
type Player interface {
	Play(ctx context.Context, guildID, channelID string, clip io.Reader, onStart func()) error
	Disconnect(ctx context.Context, guildID string) error
	Connected() int
}

// Config holds the dependencies and tunables of an [App].
type Config struct {
	Catalog *voice.Catalog
	Cache   *ttscache.Cache
	TTS     tts.Provider
	Player  Player
	Locator Locator

	// LLM is optional; without it [App.Ask] fails with [ErrAskDisabled].
	LLM          llm.Provider
	SystemPrompt string

	Prefix    string
	MaxLength int
	UnitCost  float64

	// RatePerMinute and Burst bound requests per user. Zero rate disables
	// limiting.
	RatePerMinute float64
	Burst         int

	// Metrics is optional.
	Metrics *observe.Metrics
}

// App is the bot's request handler. It is safe for concurrent use.
type App struct {
	catalog  *voice.Catalog
	cache    *ttscache.Cache
	tts      tts.Provider
	llm      llm.Provider
	player   Player
	locator  Locator
	metrics  *observe.Metrics
	limiter  *userLimiter
	recent   *recentStats
	prefix   string
	sysPrmpt string

	mu      sync.RWMutex
	builder voice.Builder
}

// New validates cfg and creates an App.
func New(cfg Config) (*App, error) {
	var errs []error
	if cfg.Catalog == nil {
		errs = append(errs, errors.New("catalog is required"))
	}
	if cfg.Cache == nil {
		errs = append(errs, errors.New("cache is required"))
	}
	if cfg.TTS == nil {
		errs = append(errs, errors.New("tts provider is required"))
	}
	if cfg.Player == nil {
		errs = append(errs, errors.New("player is required"))
	}
	if cfg.Locator == nil {
		errs = append(errs, errors.New("locator is required"))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}

	if cfg.Metrics == nil {
		m, err := observe.NewMetrics(noop.NewMeterProvider())
		if err != nil {
			return nil, fmt.Errorf("app: metrics: %w", err)
		}
		cfg.Metrics = m
	}
	if cfg.Prefix == "" {
		cfg.Prefix = ";"
	}
	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = DefaultSystemPrompt
	}

	return &App{
		catalog:  cfg.Catalog,
		cache:    cfg.Cache,
		tts:      cfg.TTS,
		llm:      cfg.LLM,
		player:   cfg.Player,
		locator:  cfg.Locator,
		metrics:  cfg.Metrics,
		limiter:  newUserLimiter(cfg.RatePerMinute, cfg.Burst),
		recent:   newRecentStats(defaultWindow),
		prefix:   cfg.Prefix,
		sysPrmpt: cfg.SystemPrompt,
		builder: voice.Builder{
			Catalog:   cfg.Catalog,
			MaxLength: cfg.MaxLength,
			UnitCost:  cfg.UnitCost,
		},
	}, nil
}

// SetRequestLimits replaces the length ceiling and unit cost used for new
// requests.
func (a *App) SetRequestLimits(maxLength int, unitCost float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.builder.MaxLength = maxLength
	a.builder.UnitCost = unitCost
}

// SetRateLimit replaces the per-user rate limit.
func (a *App) SetRateLimit(perMinute float64, burst int) {
	a.limiter.set(perMinute, burst)
}

func (a *App) currentBuilder() voice.Builder {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.builder
}

// Speak speaks msg.Text in the voice channel of by. by is the author for a
// first run and the reacting user for a replay. Progress is shown on
// surface; the returned error has already been reported there.
func (a *App) Speak(ctx context.Context, msg Message, by User, surface reply.Surface) error {
	b := a.currentBuilder()
	return a.run(ctx, "app.speak", msg, by, surface, func(context.Context) (voice.Request, error) {
		return b.Build(msg.Text, msg.Author.ID, msg.ID)
	})
}

// Ask answers the question in msg.Text with the LLM and speaks the answer.
// The question may start with a voice name like any other message. A replay
// speaks the stored answer again without asking a second time.
func (a *App) Ask(ctx context.Context, msg Message, by User, surface reply.Surface) error {
	b := a.currentBuilder()
	return a.run(ctx, "app.ask", msg, by, surface, func(ctx context.Context) (voice.Request, error) {
		if e, ok := a.cache.Lookup(msg.ID); ok && e.Request.Prompt != "" {
			return e.Request, nil
		}
		if a.llm == nil {
			return voice.Request{}, ErrAskDisabled
		}
		question, err := b.Build(msg.Text, msg.Author.ID, msg.ID)
		if err != nil {
			return voice.Request{}, err
		}
		answer, err := a.complete(ctx, question.Text)
		if err != nil {
			return voice.Request{}, err
		}
		return b.WithAnswer(question, answer)
	})
}

func (a *App) complete(ctx context.Context, question string) (string, error) {
	ctx, span := observe.StartSpan(ctx, "app.complete")
	defer span.End()

	start := time.Now()
	resp, err := a.llm.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: a.sysPrmpt,
		Messages:     []llm.Message{{Role: "user", Content: question}},
		Temperature:  0.7,
		MaxTokens:    200,
	})
	elapsed := time.Since(start)
	a.metrics.LLMDuration.Record(ctx, elapsed.Seconds())
	a.metrics.RecordProviderRequest(ctx, "llm", "complete", err)
	if err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("%w: %w", ErrNoAnswer, err)
	}
	if resp == nil || strings.TrimSpace(resp.Content) == "" {
		return "", fmt.Errorf("%w: empty completion", ErrNoAnswer)
	}
	a.recent.answered(elapsed)
	return resp.Content, nil
}

// run drives one request through its reply lifecycle. Every return leaves
// the message with a terminal marker.
func (a *App) run(ctx context.Context, op string, msg Message, by User, surface reply.Surface, build func(context.Context) (voice.Request, error)) error {
	ctx, span := observe.StartSpan(ctx, op, trace.WithAttributes(observe.MessageAttrs(msg.GuildID, msg.ChannelID, msg.ID)...))
	defer span.End()
	ctx = observe.WithLogAttrs(ctx, "guild_id", msg.GuildID, "message_id", msg.ID, "user", by.Name)
	log := observe.Logger(ctx)

	lc := reply.New(surface, by.Mention())
	if err := lc.Begin(ctx, msg.Replay); err != nil {
		log.Warn("reply: begin", "err", err)
	}

	err := a.speak(ctx, lc, msg, by, build)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		log.Info("request failed", "err", err)
		if ferr := lc.Fail(ctx, a.reason(err)); ferr != nil {
			log.Warn("reply: fail", "err", ferr)
		}
		a.metrics.RecordReply(ctx, false)
		a.recent.finished(false)
		return err
	}
	if serr := lc.Succeed(ctx); serr != nil {
		log.Warn("reply: succeed", "err", serr)
	}
	a.metrics.RecordReply(ctx, true)
	a.recent.finished(true)
	return nil
}

func (a *App) speak(ctx context.Context, lc *reply.Lifecycle, msg Message, by User, build func(context.Context) (voice.Request, error)) error {
	log := observe.Logger(ctx)

	if !a.limiter.allow(by.ID) {
		return ErrRateLimited
	}
	req, err := build(ctx)
	if err != nil {
		return err
	}
	v, ok := a.catalog.Lookup(req.Voice)
	if !ok {
		return fmt.Errorf("app: voice %q is no longer available: %w", req.Voice, voice.ErrNoVoices)
	}

	cached := a.cache.Has(msg.ID)
	st := reply.Status{
		Text:   req.Text,
		Voice:  req.Voice,
		Random: !req.Explicit,
		Author: msg.Author.Name,
		Cost:   req.EstimatedCost,
		Cached: cached,
		Hint:   req.Hint,
	}
	if by.ID != msg.Author.ID || cached {
		st.Requester = by.Name
	}
	if err := lc.Attach(ctx, st); err != nil {
		log.Warn("reply: attach", "err", err)
	}
	if err := lc.Working(ctx); err != nil {
		log.Warn("reply: working", "err", err)
	}

	channelID, ok := a.locator.VoiceChannel(msg.GuildID, by.ID)
	if !ok {
		return ErrNoVoiceChannel
	}

	entry, err := a.cache.GetOrCreate(ctx, msg.ID, req, func(ctx context.Context) ([]byte, error) {
		return a.tts.Synthesize(ctx, req.Text, v.Profile)
	})
	if err != nil {
		return err
	}
	if !entry.Cached && entry.Elapsed > 0 {
		a.recent.synthesized(entry.Elapsed)
	}
	log.Debug("clip ready", "voice", req.Voice, "cached", entry.Cached, "elapsed", entry.Elapsed)

	f, err := os.Open(entry.Path)
	if err != nil {
		return fmt.Errorf("app: open clip: %w", err)
	}
	defer f.Close()

	return a.player.Play(ctx, msg.GuildID, channelID, f, func() {
		info := reply.PlayInfo{Elapsed: entry.Elapsed, Cost: entry.Cost, Cached: entry.Cached}
		if err := lc.Playing(ctx, info); err != nil {
			log.Warn("reply: playing", "err", err)
		}
	})
}

// reason turns err into the text shown to the requester.
func (a *App) reason(err error) string {
	var pe *tts.ProviderError
	switch {
	case errors.Is(err, voice.ErrTooLong):
		return fmt.Sprintf("Message too long, please keep it under %d characters.", a.maxLength())
	case errors.Is(err, voice.ErrEmptyText):
		return "There is nothing to say."
	case errors.Is(err, ErrNoVoiceChannel):
		return "You must be in a voice channel to play a message."
	case errors.Is(err, ErrRateLimited):
		return "Slow down, you are sending messages too fast."
	case errors.Is(err, voice.ErrNoVoices):
		return "No voices are available right now."
	case errors.Is(err, ErrAskDisabled):
		return "Asking questions is not enabled."
	case errors.Is(err, ErrNoAnswer):
		return "Could not come up with an answer, try again later."
	case errors.Is(err, resilience.ErrCircuitOpen):
		return "Voice generation is temporarily unavailable, try again later."
	case errors.As(err, &pe):
		return "Voice generation failed."
	case errors.Is(err, context.DeadlineExceeded):
		return "The request timed out, try again later."
	case errors.Is(err, context.Canceled):
		return "The request was cancelled."
	case errors.Is(err, session.ErrConnection):
		return "Could not join your voice channel."
	default:
		return "Something went wrong."
	}
}

func (a *App) maxLength() int {
	if n := a.currentBuilder().MaxLength; n > 0 {
		return n
	}
	return voice.DefaultMaxLength
}

// Help lists the voices and the command syntax.
func (a *App) Help() string {
	names := a.catalog.Names()
	quoted := make([]string, len(names))
	for i, n := range names {
		quoted[i] = "`" + n + "`"
	}
	var b strings.Builder
	b.WriteString("**voices**: ")
	b.WriteString(strings.Join(quoted, ", "))
	fmt.Fprintf(&b, "\n**usage**: `%s[text]` or `%s[voice]: [text]`", a.prefix, a.prefix)
	if a.llm != nil {
		fmt.Fprintf(&b, "\n**ask**: `%sask [question]` or `%sask [voice]: [question]`", a.prefix, a.prefix)
	}
	return b.String()
}

// Recent returns request latencies and outcomes since start.
func (a *App) Recent() Recent { return a.recent.snapshot() }

// Stats summarises the clip cache, the voice connections and recent
// request activity.
func (a *App) Stats() (string, error) {
	st, err := a.cache.Stats()
	if err != nil {
		return "", fmt.Errorf("app: stats: %w", err)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "**clips**: %s (%s)\n**spend**: $%s\n**voice channels**: %d",
		humanize.Comma(int64(st.Clips)),
		humanize.Bytes(uint64(st.Bytes)),
		humanize.CommafWithDigits(st.Spend, 4),
		a.player.Connected(),
	)
	r := a.recent.snapshot()
	fmt.Fprintf(&b, "\n**requests**: %s ok, %s failed",
		humanize.Comma(r.Succeeded), humanize.Comma(r.Failed))
	if r.Synthesis.N > 0 {
		fmt.Fprintf(&b, "\n**synthesis**: p50 %.2fs, p95 %.2fs", r.Synthesis.P50.Seconds(), r.Synthesis.P95.Seconds())
	}
	if r.Answer.N > 0 {
		fmt.Fprintf(&b, "\n**answers**: p50 %.2fs, p95 %.2fs", r.Answer.P50.Seconds(), r.Answer.P95.Seconds())
	}
	return b.String(), nil
}

// Leave disconnects from the voice channel of guildID.
func (a *App) Leave(ctx context.Context, guildID string) error {
	return a.player.Disconnect(ctx, guildID)
}
