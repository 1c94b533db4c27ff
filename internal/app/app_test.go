package app_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/echovox/internal/app"
	"github.com/MrWong99/echovox/internal/reply"
	"github.com/MrWong99/echovox/internal/resilience"
	"github.com/MrWong99/echovox/internal/session"
	"github.com/MrWong99/echovox/internal/ttscache"
	"github.com/MrWong99/echovox/internal/voice"
	audiomock "github.com/MrWong99/echovox/pkg/audio/mock"
	"github.com/MrWong99/echovox/pkg/provider/llm"
	llmmock "github.com/MrWong99/echovox/pkg/provider/llm/mock"
	"github.com/MrWong99/echovox/pkg/provider/tts"
	ttsmock "github.com/MrWong99/echovox/pkg/provider/tts/mock"
)

// ─── fakes ───────────────────────────────────────────────────────────────────

// surface records every call in order.
type surface struct {
	mu       sync.Mutex
	ops      []string
	statuses []reply.Status
	notices  []string
}

func (s *surface) AddMarker(_ context.Context, m string) error {
	s.record("+" + m)
	return nil
}

func (s *surface) RemoveMarker(_ context.Context, m string) error {
	s.record("-" + m)
	return nil
}

func (s *surface) Publish(_ context.Context, st reply.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ops = append(s.ops, "publish")
	s.statuses = append(s.statuses, st)
	return nil
}

func (s *surface) Notify(_ context.Context, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ops = append(s.ops, "notify")
	s.notices = append(s.notices, text)
	return nil
}

func (s *surface) record(op string) {
	s.mu.Lock()
	s.ops = append(s.ops, op)
	s.mu.Unlock()
}

func (s *surface) last() reply.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.statuses) == 0 {
		return reply.Status{}
	}
	return s.statuses[len(s.statuses)-1]
}

// locator maps user IDs to voice channels.
type locator map[string]string

func (l locator) VoiceChannel(_, userID string) (string, bool) {
	ch, ok := l[userID]
	return ch, ok
}

type listeners struct{}

func (listeners) HumanCount(_, _ string) int { return 1 }

// ─── fixture ─────────────────────────────────────────────────────────────────

var (
	alice = app.User{ID: "u1", Name: "alice"}
	bob   = app.User{ID: "u2", Name: "bob"}
)

type fixture struct {
	app      *app.App
	tts      *ttsmock.Provider
	llm      *llmmock.Provider
	platform *audiomock.Platform
	cache    *ttscache.Cache
}

type option func(*app.Config)

func newFixture(t *testing.T, opts ...option) *fixture {
	t.Helper()

	cache, err := ttscache.New(t.TempDir())
	if err != nil {
		t.Fatalf("ttscache.New: %v", err)
	}
	f := &fixture{
		tts:      &ttsmock.Provider{SynthesizeResult: []byte("ID3-clip")},
		platform: &audiomock.Platform{},
		cache:    cache,
	}
	mgr := session.NewManager(session.Config{Platform: f.platform, Presence: listeners{}})
	t.Cleanup(func() { _ = mgr.Close() })

	cfg := app.Config{
		Catalog: voice.NewCatalog([]tts.VoiceProfile{
			{ID: "v-crystal", Name: "Crystal"},
			{ID: "v-rex", Name: "Rex"},
		}),
		Cache:     cache,
		TTS:       f.tts,
		Player:    mgr,
		Locator:   locator{alice.ID: "voice-1", bob.ID: "voice-1"},
		MaxLength: 40,
		UnitCost:  0.0002,
	}
	for _, o := range opts {
		o(&cfg)
	}
	if p, ok := cfg.LLM.(*llmmock.Provider); ok {
		f.llm = p
	}
	a, err := app.New(cfg)
	if err != nil {
		t.Fatalf("app.New: %v", err)
	}
	f.app = a
	return f
}

func withLLM(answer string) option {
	return func(c *app.Config) {
		c.LLM = &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: answer}}
	}
}

func message(id, text string) app.Message {
	return app.Message{ID: id, GuildID: "g1", ChannelID: "text-1", Author: alice, Text: text}
}

// ─── tests ───────────────────────────────────────────────────────────────────

func TestNew_RequiresDependencies(t *testing.T) {
	t.Parallel()

	_, err := app.New(app.Config{})
	if err == nil {
		t.Fatal("expected error for empty config")
	}
	for _, want := range []string{"catalog", "cache", "tts", "player", "locator"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %s", err, want)
		}
	}
}

func TestSpeak_HappyPath(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	s := &surface{}
	if err := f.app.Speak(context.Background(), message("m1", "rex: hello there"), alice, s); err != nil {
		t.Fatalf("Speak: %v", err)
	}

	want := []string{
		"+⏳",
		"publish", "+🔄",
		"publish", "-⏳", "+🔊",
		"publish", "-🔊", "+✅",
	}
	if strings.Join(s.ops, " ") != strings.Join(want, " ") {
		t.Errorf("ops = %v\nwant  %v", s.ops, want)
	}

	if len(f.tts.SynthesizeCalls) != 1 {
		t.Fatalf("synthesize calls = %d, want 1", len(f.tts.SynthesizeCalls))
	}
	call := f.tts.SynthesizeCalls[0]
	if call.Text != "hello there" || call.Voice.ID != "v-rex" {
		t.Errorf("synthesize(%q, %q)", call.Text, call.Voice.ID)
	}

	conn := f.platform.Last()
	if conn == nil || conn.PlayCount() != 1 || string(conn.Played[0]) != "ID3-clip" {
		t.Fatalf("clip not played: %+v", conn)
	}

	st := s.last()
	if st.Color != reply.ColorSuccess || st.Voice != "rex" || st.Random || st.Requester != "" {
		t.Errorf("final status = %+v", st)
	}
	if st.Cached || st.Cost == 0 {
		t.Errorf("first run should be charged: %+v", st)
	}
}

func TestSpeak_ReplayIsCachedAndNamesRequester(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	msg := message("m2", "crystal: again and again")
	if err := f.app.Speak(context.Background(), msg, alice, &surface{}); err != nil {
		t.Fatalf("first Speak: %v", err)
	}

	s := &surface{}
	msg.Replay = true
	if err := f.app.Speak(context.Background(), msg, bob, s); err != nil {
		t.Fatalf("replay Speak: %v", err)
	}
	if got := strings.Join(s.ops[:5], " "); got != "-✅ -❌ -⏳ -🔊 +⏳" {
		t.Errorf("replay should clear old markers first, ops = %v", s.ops)
	}
	if n := f.tts.SynthesizeCallCount(); n != 1 {
		t.Errorf("synthesize calls = %d, want 1", n)
	}
	st := s.last()
	if !st.Cached || st.Requester != "bob" || st.Author != "alice" {
		t.Errorf("replay status = %+v", st)
	}
	if !strings.Contains(st.Footer(), "(🔄 by @bob)") {
		t.Errorf("footer %q missing replay requester", st.Footer())
	}
	if f.platform.Last().PlayCount() != 2 {
		t.Errorf("played %d times, want 2", f.platform.Last().PlayCount())
	}
}

func TestSpeak_Failures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		text       string
		by         app.User
		tts        *ttsmock.Provider
		wantErr    error
		wantReason string
		attached   bool
	}{
		{
			name:       "too long",
			text:       strings.Repeat("word ", 20),
			by:         alice,
			wantErr:    voice.ErrTooLong,
			wantReason: "Message too long, please keep it under 40 characters.",
		},
		{
			name:       "empty after voice",
			text:       "rex:",
			by:         alice,
			wantErr:    voice.ErrEmptyText,
			wantReason: "There is nothing to say.",
		},
		{
			name:       "not in voice",
			text:       "hi",
			by:         app.User{ID: "u9", Name: "carol"},
			wantErr:    app.ErrNoVoiceChannel,
			wantReason: "You must be in a voice channel to play a message.",
			attached:   true,
		},
		{
			name:       "provider down",
			text:       "hi",
			by:         alice,
			tts:        &ttsmock.Provider{SynthesizeErr: tts.WrapError("elevenlabs", "synthesize", errors.New("boom"))},
			wantReason: "Voice generation failed.",
			attached:   true,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			var opts []option
			if tc.tts != nil {
				opts = append(opts, func(c *app.Config) { c.TTS = tc.tts })
			}
			f := newFixture(t, opts...)
			s := &surface{}
			msg := message("fail1", tc.text)
			msg.Author = tc.by
			err := f.app.Speak(context.Background(), msg, tc.by, s)
			if err == nil {
				t.Fatal("expected error")
			}
			if tc.wantErr != nil && !errors.Is(err, tc.wantErr) {
				t.Errorf("err = %v, want %v", err, tc.wantErr)
			}
			if len(s.notices) != 1 || s.notices[0] != "<@"+tc.by.ID+"> "+tc.wantReason {
				t.Errorf("notices = %q", s.notices)
			}
			if got := s.ops[len(s.ops)-2]; got != "+❌" {
				t.Errorf("second to last op = %q, want +❌", got)
			}
			if tc.attached {
				st := s.last()
				if st.Color != reply.ColorFailure || st.Text != "Failed! "+tc.wantReason {
					t.Errorf("failure status = %+v", st)
				}
			} else if len(s.statuses) != 0 {
				t.Errorf("no status expected before attach, got %d", len(s.statuses))
			}
		})
	}
}

func TestSpeak_OpenBreakerReason(t *testing.T) {
	t.Parallel()

	backend := &ttsmock.Provider{SynthesizeErr: errors.New("503")}
	guard := resilience.NewTTSGuard("elevenlabs", backend, resilience.CircuitBreakerConfig{
		MaxFailures:  1,
		ResetTimeout: time.Hour,
	})
	f := newFixture(t, func(c *app.Config) { c.TTS = guard })

	_ = f.app.Speak(context.Background(), message("b1", "first"), alice, &surface{})
	s := &surface{}
	err := f.app.Speak(context.Background(), message("b2", "second"), alice, s)
	if !errors.Is(err, resilience.ErrCircuitOpen) {
		t.Fatalf("err = %v, want ErrCircuitOpen", err)
	}
	if !strings.HasSuffix(s.notices[0], "Voice generation is temporarily unavailable, try again later.") {
		t.Errorf("notice = %q", s.notices[0])
	}
	if backend.SynthesizeCallCount() != 1 {
		t.Errorf("backend calls = %d, want 1", backend.SynthesizeCallCount())
	}
}

func TestSpeak_TimeoutReason(t *testing.T) {
	t.Parallel()

	const reason = "The request timed out, try again later."

	t.Run("during playback", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		conn := audiomock.NewConnection("")
		conn.Gate = make(chan struct{})
		f.platform.Connections = []*audiomock.Connection{conn}

		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()
		s := &surface{}
		err := f.app.Speak(ctx, message("t1", "hello"), alice, s)
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Fatalf("err = %v, want DeadlineExceeded", err)
		}
		if len(s.notices) != 1 || !strings.HasSuffix(s.notices[0], reason) {
			t.Errorf("notices = %q, want %q", s.notices, reason)
		}
	})

	t.Run("while queued", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		conn := audiomock.NewConnection("")
		conn.Gate = make(chan struct{})
		f.platform.Connections = []*audiomock.Connection{conn}

		first := make(chan error, 1)
		go func() { first <- f.app.Speak(context.Background(), message("t2", "first"), alice, &surface{}) }()
		<-conn.PlayStarted()

		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()
		s := &surface{}
		err := f.app.Speak(ctx, message("t3", "second"), bob, s)
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Fatalf("err = %v, want DeadlineExceeded", err)
		}
		if len(s.notices) != 1 || !strings.HasSuffix(s.notices[0], reason) {
			t.Errorf("notices = %q, want %q", s.notices, reason)
		}

		conn.Gate <- struct{}{}
		if err := <-first; err != nil {
			t.Errorf("first Speak: %v", err)
		}
	})
}

func TestSpeak_RateLimited(t *testing.T) {
	t.Parallel()

	f := newFixture(t, func(c *app.Config) {
		c.RatePerMinute = 1
		c.Burst = 1
	})
	ctx := context.Background()
	if err := f.app.Speak(ctx, message("r1", "one"), alice, &surface{}); err != nil {
		t.Fatalf("first Speak: %v", err)
	}
	err := f.app.Speak(ctx, message("r2", "two"), alice, &surface{})
	if !errors.Is(err, app.ErrRateLimited) {
		t.Fatalf("err = %v, want ErrRateLimited", err)
	}
	// Another user has their own bucket.
	other := message("r3", "three")
	other.Author = bob
	if err := f.app.Speak(ctx, other, bob, &surface{}); err != nil {
		t.Errorf("bob Speak: %v", err)
	}

	f.app.SetRateLimit(0, 0)
	if err := f.app.Speak(ctx, message("r4", "four"), alice, &surface{}); err != nil {
		t.Errorf("Speak after disabling limit: %v", err)
	}
}

func TestSetRequestLimits(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.app.SetRequestLimits(5, 0.001)
	s := &surface{}
	err := f.app.Speak(context.Background(), message("l1", "far too long"), alice, s)
	if !errors.Is(err, voice.ErrTooLong) {
		t.Fatalf("err = %v, want ErrTooLong", err)
	}
	if !strings.Contains(s.notices[0], "under 5 characters") {
		t.Errorf("notice = %q", s.notices[0])
	}
}

func TestAsk_SpeaksAnswerAndReplaysWithoutAsking(t *testing.T) {
	t.Parallel()

	f := newFixture(t, withLLM("Forty-two, obviously."))
	ctx := context.Background()
	msg := message("a1", "crystal: what is the answer?")

	s := &surface{}
	if err := f.app.Ask(ctx, msg, alice, s); err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if f.llm.CallCount() != 1 {
		t.Fatalf("llm calls = %d, want 1", f.llm.CallCount())
	}
	req := f.llm.CompleteCalls[0]
	if req.Messages[0].Content != "what is the answer?" || req.SystemPrompt != app.DefaultSystemPrompt {
		t.Errorf("completion request = %+v", req)
	}
	call := f.tts.SynthesizeCalls[0]
	if call.Text != "Forty-two, obviously." || call.Voice.ID != "v-crystal" {
		t.Errorf("synthesize(%q, %q)", call.Text, call.Voice.ID)
	}
	if s.last().Text != "Forty-two, obviously." {
		t.Errorf("status text = %q", s.last().Text)
	}

	if err := f.app.Ask(ctx, msg, bob, &surface{}); err != nil {
		t.Fatalf("replay Ask: %v", err)
	}
	if f.llm.CallCount() != 1 {
		t.Errorf("replay asked again: %d llm calls", f.llm.CallCount())
	}
	if f.tts.SynthesizeCallCount() != 1 {
		t.Errorf("replay synthesized again: %d calls", f.tts.SynthesizeCallCount())
	}
}

func TestAsk_Failures(t *testing.T) {
	t.Parallel()

	t.Run("disabled", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		s := &surface{}
		err := f.app.Ask(context.Background(), message("d1", "why?"), alice, s)
		if !errors.Is(err, app.ErrAskDisabled) {
			t.Fatalf("err = %v, want ErrAskDisabled", err)
		}
		if !strings.HasSuffix(s.notices[0], "Asking questions is not enabled.") {
			t.Errorf("notice = %q", s.notices[0])
		}
	})

	t.Run("llm error", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t, func(c *app.Config) {
			c.LLM = &llmmock.Provider{CompleteErr: errors.New("quota")}
		})
		err := f.app.Ask(context.Background(), message("d2", "why?"), alice, &surface{})
		if !errors.Is(err, app.ErrNoAnswer) {
			t.Fatalf("err = %v, want ErrNoAnswer", err)
		}
		if f.tts.SynthesizeCallCount() != 0 {
			t.Error("nothing should be synthesized without an answer")
		}
	})

	t.Run("empty completion", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t, withLLM("   "))
		err := f.app.Ask(context.Background(), message("d3", "why?"), alice, &surface{})
		if !errors.Is(err, app.ErrNoAnswer) {
			t.Fatalf("err = %v, want ErrNoAnswer", err)
		}
	})
}

func TestHelp(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	want := "**voices**: `crystal`, `rex`\n**usage**: `;[text]` or `;[voice]: [text]`"
	if got := f.app.Help(); got != want {
		t.Errorf("Help() = %q\nwant      %q", got, want)
	}

	withAsk := newFixture(t, withLLM("x"))
	if !strings.Contains(withAsk.app.Help(), "`;ask [question]`") {
		t.Errorf("Help() with LLM = %q", withAsk.app.Help())
	}
}

func TestStatsAndLeave(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	if err := f.app.Speak(ctx, message("s1", "hello"), alice, &surface{}); err != nil {
		t.Fatalf("Speak: %v", err)
	}

	stats, err := f.app.Stats()
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	for _, want := range []string{"**clips**: 1 (8 B)", "**spend**: $0.001", "**voice channels**: 1", "**requests**: 1 ok, 0 failed", "**synthesis**: p50 "} {
		if !strings.Contains(stats, want) {
			t.Errorf("Stats() = %q, missing %q", stats, want)
		}
	}

	if err := f.app.Leave(ctx, "g1"); err != nil {
		t.Fatalf("Leave: %v", err)
	}
	if f.platform.Last().Disconnects() != 1 {
		t.Error("connection still open after Leave")
	}
	if err := f.app.Leave(ctx, "g1"); !errors.Is(err, session.ErrNotConnected) {
		t.Errorf("second Leave err = %v, want ErrNotConnected", err)
	}
}
