package reply_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/echovox/internal/reply"
)

// surface records every call as a short string, e.g. "+⏳", "-🔊",
// "publish:0x808080", "notify:<@1> reason".
type surface struct {
	mu        sync.Mutex
	ops       []string
	published []reply.Status
	addErr    error
}

func (s *surface) AddMarker(_ context.Context, m string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ops = append(s.ops, "+"+m)
	return s.addErr
}

func (s *surface) RemoveMarker(_ context.Context, m string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ops = append(s.ops, "-"+m)
	return nil
}

func (s *surface) Publish(_ context.Context, st reply.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ops = append(s.ops, "publish")
	s.published = append(s.published, st)
	return nil
}

func (s *surface) Notify(_ context.Context, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ops = append(s.ops, "notify:"+text)
	return nil
}

func (s *surface) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ops, s.published = nil, nil
}

func equalOps(t *testing.T, got, want []string) {
	t.Helper()
	if strings.Join(got, " ") != strings.Join(want, " ") {
		t.Errorf("ops =\n  %v\nwant\n  %v", got, want)
	}
}

func TestLifecycle_HappyPath(t *testing.T) {
	t.Parallel()

	s := &surface{}
	l := reply.New(s, "<@1>")
	ctx := context.Background()

	steps := []func() error{
		func() error { return l.Begin(ctx, false) },
		func() error {
			return l.Attach(ctx, reply.Status{Text: "hello", Voice: "bob", Random: true, Author: "ann", Cost: 0.001})
		},
		func() error { return l.Working(ctx) },
		func() error { return l.Playing(ctx, reply.PlayInfo{Elapsed: 1500 * time.Millisecond, Cost: 0.001}) },
		func() error { return l.Succeed(ctx) },
	}
	for i, step := range steps {
		if err := step(); err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
	}

	equalOps(t, s.ops, []string{
		"+⏳",
		"publish", "+🔄",
		"publish", "-⏳", "+🔊",
		"publish", "-🔊", "+✅",
	})
	colors := []int{reply.ColorQueued, reply.ColorPlaying, reply.ColorSuccess}
	for i, c := range colors {
		if s.published[i].Color != c {
			t.Errorf("publish %d color = %#x, want %#x", i, s.published[i].Color, c)
		}
	}
	if got := s.published[1].Footer(); !strings.HasSuffix(got, " in 1.50s") {
		t.Errorf("playing footer = %q", got)
	}
	if l.Stage() != reply.Succeeded {
		t.Errorf("stage = %v", l.Stage())
	}
}

func TestLifecycle_BeginClearsMarkersOnlyOnReplay(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		replay bool
		want   []string
	}{
		{"first run", false, []string{"+⏳"}},
		{"replay", true, []string{"-✅", "-❌", "-⏳", "-🔊", "+⏳"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			s := &surface{}
			l := reply.New(s, "<@1>")
			if err := l.Begin(context.Background(), tc.replay); err != nil {
				t.Fatalf("Begin: %v", err)
			}
			equalOps(t, s.ops, tc.want)
		})
	}
}

func TestLifecycle_OutOfOrder(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	tests := []struct {
		name string
		prep func(*reply.Lifecycle)
		call func(*reply.Lifecycle) error
	}{
		{"attach before begin", func(*reply.Lifecycle) {}, func(l *reply.Lifecycle) error { return l.Attach(ctx, reply.Status{}) }},
		{"playing before working", func(l *reply.Lifecycle) {
			_ = l.Begin(ctx, false)
			_ = l.Attach(ctx, reply.Status{})
		}, func(l *reply.Lifecycle) error { return l.Playing(ctx, reply.PlayInfo{}) }},
		{"succeed before playing", func(l *reply.Lifecycle) { _ = l.Begin(ctx, false) }, func(l *reply.Lifecycle) error { return l.Succeed(ctx) }},
		{"begin twice", func(l *reply.Lifecycle) { _ = l.Begin(ctx, false) }, func(l *reply.Lifecycle) error { return l.Begin(ctx, false) }},
		{"fail after fail", func(l *reply.Lifecycle) { _ = l.Fail(ctx, "x") }, func(l *reply.Lifecycle) error { return l.Fail(ctx, "y") }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			s := &surface{}
			l := reply.New(s, "<@1>")
			tc.prep(l)
			before := l.Stage()
			s.reset()

			if err := tc.call(l); !errors.Is(err, reply.ErrTransition) {
				t.Fatalf("expected ErrTransition, got %v", err)
			}
			if len(s.ops) != 0 {
				t.Errorf("rejected transition touched the surface: %v", s.ops)
			}
			if l.Stage() != before {
				t.Errorf("stage moved from %v to %v", before, l.Stage())
			}
		})
	}
}

func TestLifecycle_FailBeforeAttach(t *testing.T) {
	t.Parallel()

	s := &surface{}
	l := reply.New(s, "<@1>")
	ctx := context.Background()
	_ = l.Begin(ctx, false)
	s.reset()

	if err := l.Fail(ctx, "Message too long, please keep it under 420 characters."); err != nil {
		t.Fatalf("Fail: %v", err)
	}
	equalOps(t, s.ops, []string{
		"-⏳", "+❌", "notify:<@1> Message too long, please keep it under 420 characters.",
	})
}

func TestLifecycle_FailAfterAttach(t *testing.T) {
	t.Parallel()

	s := &surface{}
	l := reply.New(s, "<@1>")
	ctx := context.Background()
	_ = l.Begin(ctx, false)
	_ = l.Attach(ctx, reply.Status{Text: "hi", Voice: "bob", Author: "ann"})
	_ = l.Working(ctx)
	s.reset()

	reason := "You must be in a voice channel to play a message."
	if err := l.Fail(ctx, reason); err != nil {
		t.Fatalf("Fail: %v", err)
	}
	if len(s.published) != 1 {
		t.Fatalf("published %d times, want 1", len(s.published))
	}
	st := s.published[0]
	if st.Color != reply.ColorFailure || st.Text != "Failed! "+reason {
		t.Errorf("failed status = %+v", st)
	}
	equalOps(t, s.ops, []string{"publish", "-⏳", "+❌", "notify:<@1> " + reason})
}

func TestLifecycle_FailWhilePlaying(t *testing.T) {
	t.Parallel()

	s := &surface{}
	l := reply.New(s, "<@1>")
	ctx := context.Background()
	_ = l.Begin(ctx, false)
	_ = l.Attach(ctx, reply.Status{})
	_ = l.Working(ctx)
	_ = l.Playing(ctx, reply.PlayInfo{})
	s.reset()

	_ = l.Fail(ctx, "voice connection lost")
	equalOps(t, s.ops, []string{"publish", "-🔊", "+❌", "notify:<@1> voice connection lost"})
}

func TestLifecycle_SurfaceErrorsStillAdvance(t *testing.T) {
	t.Parallel()

	s := &surface{addErr: errors.New("missing permission")}
	l := reply.New(s, "<@1>")
	if err := l.Begin(context.Background(), false); err == nil {
		t.Fatal("expected surface error to be reported")
	}
	if l.Stage() != reply.Pending {
		t.Errorf("stage = %v, want pending", l.Stage())
	}
}

func TestStatus_Footer(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		st   reply.Status
		want string
	}{
		{
			"random first run",
			reply.Status{Voice: "bob", Random: true, Author: "ann", Cost: 0.0022},
			"- bob (random) (by @ann) cost: $0.0022",
		},
		{
			"explicit replay cached",
			reply.Status{Voice: "crystal", Author: "ann", Requester: "ben", Cached: true},
			"- crystal (by @ann) (🔄 by @ben) cost: $0 (cached!)",
		},
		{
			"timed with hint",
			reply.Status{Voice: "bob", Random: true, Author: "ann", Cost: 0.001, Elapsed: 2340 * time.Millisecond, Hint: "crystal"},
			`- bob (random) (by @ann) cost: $0.001 in 2.34s (did you mean "crystal"?)`,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := tc.st.Footer(); got != tc.want {
				t.Errorf("Footer() = %q, want %q", got, tc.want)
			}
		})
	}
}
