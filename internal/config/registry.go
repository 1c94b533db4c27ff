package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/MrWong99/echovox/pkg/provider/llm"
	"github.com/MrWong99/echovox/pkg/provider/tts"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory has
// been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// TTSFactory builds a speech provider from its config entry and the tts
// section (voice tuning).
type TTSFactory func(entry ProviderEntry, settings TTSConfig) (tts.Provider, error)

// LLMFactory builds a language model provider from its config entry.
type LLMFactory func(entry ProviderEntry) (llm.Provider, error)

// Registry maps provider names to constructors. It is safe for concurrent
// use.
type Registry struct {
	mu  sync.RWMutex
	tts map[string]TTSFactory
	llm map[string]LLMFactory
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		tts: make(map[string]TTSFactory),
		llm: make(map[string]LLMFactory),
	}
}

// RegisterTTS registers a TTS provider factory under name. A later call with
// the same name overwrites the earlier one.
func (r *Registry) RegisterTTS(name string, factory TTSFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tts[name] = factory
}

// RegisterLLM registers an LLM provider factory under name. One factory may
// be registered under several names.
func (r *Registry) RegisterLLM(name string, factory LLMFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.llm[name] = factory
}

// CreateTTS instantiates the TTS provider named by cfg.Providers.TTS.
func (r *Registry) CreateTTS(cfg *Config) (tts.Provider, error) {
	entry := cfg.Providers.TTS
	r.mu.RLock()
	factory, ok := r.tts[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: tts/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry, cfg.TTS)
}

// CreateLLM instantiates the LLM provider named by entry. It returns nil, nil
// when entry names no provider.
func (r *Registry) CreateLLM(entry ProviderEntry) (llm.Provider, error) {
	if entry.Name == "" {
		return nil, nil
	}
	r.mu.RLock()
	factory, ok := r.llm[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: llm/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}
