package voice_test

import (
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/MrWong99/echovox/internal/voice"
)

func TestBuild_ExplicitScenario(t *testing.T) {
	t.Parallel()

	b := voice.Builder{Catalog: testCatalog(), MaxLength: 420, UnitCost: 0.0002}
	req, err := b.Build("crystal: hello there", "user-1", "42")
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if req.Voice != "crystal" || req.VoiceHandle != "c1" || !req.Explicit {
		t.Errorf("voice = %q/%q explicit=%v", req.Voice, req.VoiceHandle, req.Explicit)
	}
	if req.Text != "hello there" {
		t.Errorf("Text = %q", req.Text)
	}
	if req.RawText != "crystal: hello there" || req.SenderID != "user-1" || req.MessageID != "42" {
		t.Errorf("identity fields not kept: %+v", req)
	}
	if req.EstimatedCost != 0.0022 {
		t.Errorf("EstimatedCost = %v, want 0.0022", req.EstimatedCost)
	}
}

func TestBuild_LengthBoundary(t *testing.T) {
	t.Parallel()

	b := voice.Builder{Catalog: testCatalog(), MaxLength: 420}
	tests := []struct {
		name    string
		text    string
		wantErr error
	}{
		{"exactly max", strings.Repeat("a", 420), nil},
		{"one over", strings.Repeat("a", 421), voice.ErrTooLong},
		{"max runes multibyte", strings.Repeat("ü", 420), nil},
		{"prefix not counted", "bob: " + strings.Repeat("a", 420), nil},
		{"empty", "   ", voice.ErrEmptyText},
		{"prefix only", "alice:", voice.ErrEmptyText},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := b.Build(tc.text, "u", "1")
			if !errors.Is(err, tc.wantErr) {
				t.Errorf("Build error = %v, want %v", err, tc.wantErr)
			}
		})
	}
}

func TestBuild_EmptyCatalog(t *testing.T) {
	t.Parallel()

	b := voice.Builder{Catalog: voice.NewCatalog(nil)}
	if _, err := b.Build("hello", "u", "1"); !errors.Is(err, voice.ErrNoVoices) {
		t.Errorf("expected ErrNoVoices, got %v", err)
	}
}

func TestBuild_SameMessageSameVoice(t *testing.T) {
	t.Parallel()

	b := voice.Builder{Catalog: testCatalog()}
	first, err := b.Build("hello", "u", "1096873925469790279")
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	for range 5 {
		again, _ := b.Build("hello", "other-user", "1096873925469790279")
		if again.Voice != first.Voice {
			t.Fatalf("voice changed on replay: %q vs %q", again.Voice, first.Voice)
		}
	}
}

func TestWithAnswer(t *testing.T) {
	t.Parallel()

	b := voice.Builder{Catalog: testCatalog(), MaxLength: 20}
	req, err := b.Build("bob: what is go", "u", "5")
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	ans, err := b.WithAnswer(req, "Go is a programming language from Google.")
	if err != nil {
		t.Fatalf("WithAnswer: %v", err)
	}
	if ans.Prompt != "what is go" {
		t.Errorf("Prompt = %q", ans.Prompt)
	}
	if utf8.RuneCountInString(ans.Text) > 20 || ans.Text != "Go is a programming" {
		t.Errorf("Text = %q", ans.Text)
	}
	if ans.Voice != "bob" {
		t.Errorf("answer changed voice to %q", ans.Voice)
	}
	if _, err := b.WithAnswer(req, "   "); !errors.Is(err, voice.ErrEmptyText) {
		t.Errorf("expected ErrEmptyText, got %v", err)
	}
}

func TestEstimateCost(t *testing.T) {
	t.Parallel()

	tests := []struct {
		text string
		unit float64
		want float64
	}{
		{"", 0.0002, 0},
		{"hello", 0.0002, 0.001},
		{"ääää", 0.0002, 0.0008},
		{"abc", 0.000000001, 0.00000000},
		{"abc", 0.00000001, 0.00000003},
	}
	for _, tc := range tests {
		if got := voice.EstimateCost(tc.text, tc.unit); got != tc.want {
			t.Errorf("EstimateCost(%q, %v) = %v, want %v", tc.text, tc.unit, got, tc.want)
		}
	}
}

func TestTruncate(t *testing.T) {
	t.Parallel()

	if got := voice.Truncate("short", 10); got != "short" {
		t.Errorf("Truncate(short) = %q", got)
	}
	if got := voice.Truncate("abcdefghij", 4); got != "abcd" {
		t.Errorf("Truncate without spaces = %q", got)
	}
}
