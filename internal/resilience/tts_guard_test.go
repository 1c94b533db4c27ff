package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MrWong99/echovox/pkg/provider/tts"
	ttsmock "github.com/MrWong99/echovox/pkg/provider/tts/mock"
)

func TestTTSGuard_ForwardsSynthesis(t *testing.T) {
	t.Parallel()

	backend := &ttsmock.Provider{SynthesizeResult: []byte("ID3")}
	g := NewTTSGuard("elevenlabs", backend, CircuitBreakerConfig{})

	voice := tts.VoiceProfile{ID: "v1", Name: "crystal"}
	clip, err := g.Synthesize(context.Background(), "hello", voice)
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if string(clip) != "ID3" {
		t.Errorf("clip = %q, want ID3", clip)
	}
	if len(backend.SynthesizeCalls) != 1 || backend.SynthesizeCalls[0].Voice.ID != "v1" {
		t.Errorf("unexpected calls: %+v", backend.SynthesizeCalls)
	}
}

func TestTTSGuard_FastFailsWhenOpen(t *testing.T) {
	t.Parallel()

	backend := &ttsmock.Provider{SynthesizeErr: errTest}
	g := NewTTSGuard("elevenlabs", backend, CircuitBreakerConfig{MaxFailures: 2, ResetTimeout: time.Hour})
	ctx := context.Background()

	for range 2 {
		_, _ = g.Synthesize(ctx, "hello", tts.VoiceProfile{ID: "v1"})
	}
	_, err := g.Synthesize(ctx, "hello", tts.VoiceProfile{ID: "v1"})

	var pe *tts.ProviderError
	if !errors.As(err, &pe) {
		t.Fatalf("err = %v, want *tts.ProviderError", err)
	}
	if !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("err = %v, want ErrCircuitOpen", err)
	}
	if n := len(backend.SynthesizeCalls); n != 2 {
		t.Errorf("backend called %d times, want 2 (no retries, no call while open)", n)
	}
	if g.Breaker().State() != StateOpen {
		t.Errorf("breaker state = %v, want open", g.Breaker().State())
	}
}

func TestTTSGuard_EmptyClipCountsAsFailure(t *testing.T) {
	t.Parallel()

	backend := &ttsmock.Provider{SynthesizeResult: nil}
	g := NewTTSGuard("elevenlabs", backend, CircuitBreakerConfig{MaxFailures: 1})

	_, err := g.Synthesize(context.Background(), "hello", tts.VoiceProfile{ID: "v1"})
	if !errors.Is(err, tts.ErrEmptyAudio) {
		t.Fatalf("err = %v, want ErrEmptyAudio", err)
	}
	if g.Breaker().State() != StateOpen {
		t.Errorf("breaker state = %v, want open", g.Breaker().State())
	}
}

func TestTTSGuard_ListVoices(t *testing.T) {
	t.Parallel()

	backend := &ttsmock.Provider{ListVoicesResult: []tts.VoiceProfile{{ID: "a", Name: "alice"}}}
	g := NewTTSGuard("elevenlabs", backend, CircuitBreakerConfig{})

	voices, err := g.ListVoices(context.Background())
	if err != nil {
		t.Fatalf("ListVoices: %v", err)
	}
	if len(voices) != 1 || voices[0].Name != "alice" {
		t.Errorf("voices = %+v", voices)
	}
}
