package resilience

import (
	"context"

	"github.com/MrWong99/echovox/pkg/provider/tts"
)

// TTSGuard implements [tts.Provider] by forwarding to a single backend behind
// a circuit breaker. Calls rejected by an open breaker come back as a
// *tts.ProviderError wrapping [ErrCircuitOpen].
type TTSGuard struct {
	name    string
	next    tts.Provider
	breaker *CircuitBreaker
}

// Compile-time interface assertion.
var _ tts.Provider = (*TTSGuard)(nil)

// NewTTSGuard wraps next. name labels errors and breaker logs.
func NewTTSGuard(name string, next tts.Provider, cfg CircuitBreakerConfig) *TTSGuard {
	if cfg.Name == "" {
		cfg.Name = "tts/" + name
	}
	return &TTSGuard{name: name, next: next, breaker: NewCircuitBreaker(cfg)}
}

// Breaker exposes the breaker for readiness checks.
func (g *TTSGuard) Breaker() *CircuitBreaker { return g.breaker }

// Synthesize forwards to the backend unless the breaker is open.
func (g *TTSGuard) Synthesize(ctx context.Context, text string, voice tts.VoiceProfile) ([]byte, error) {
	var clip []byte
	err := g.breaker.Execute(ctx, func(ctx context.Context) error {
		var err error
		clip, err = g.next.Synthesize(ctx, text, voice)
		if err == nil && len(clip) == 0 {
			err = tts.ErrEmptyAudio
		}
		return err
	})
	if err != nil {
		return nil, tts.WrapError(g.name, "synthesize", err)
	}
	return clip, nil
}

// ListVoices forwards to the backend unless the breaker is open.
func (g *TTSGuard) ListVoices(ctx context.Context) ([]tts.VoiceProfile, error) {
	var voices []tts.VoiceProfile
	err := g.breaker.Execute(ctx, func(ctx context.Context) error {
		var err error
		voices, err = g.next.ListVoices(ctx)
		return err
	})
	if err != nil {
		return nil, tts.WrapError(g.name, "list voices", err)
	}
	return voices, nil
}
