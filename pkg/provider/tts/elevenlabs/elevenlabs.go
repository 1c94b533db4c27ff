// Package elevenlabs provides an ElevenLabs-backed TTS provider. Clips are
// synthesized over the stream-input WebSocket API and collected into a single
// encoded buffer; the voice catalogue comes from the REST API. It implements
// the tts.Provider interface.
package elevenlabs

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/coder/websocket"

	"github.com/MrWong99/echovox/pkg/provider/tts"
)

const (
	providerName = "elevenlabs"

	defaultWSBase    = "wss://api.elevenlabs.io"
	defaultHTTPBase  = "https://api.elevenlabs.io"
	defaultModel     = "eleven_multilingual_v2"
	defaultOutputFmt = "mp3_44100_128"

	defaultStability       = 0.35
	defaultSimilarityBoost = 0.75

	// maxClipBytes bounds a single collected clip. 420 characters of speech at
	// 128 kbit/s is far below this.
	maxClipBytes = 16 << 20
)

// Option is a functional option for configuring the ElevenLabs Provider.
type Option func(*Provider)

// WithModel sets the ElevenLabs model ID (e.g., "eleven_multilingual_v2").
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithOutputFormat sets the audio output format (e.g., "mp3_44100_128").
func WithOutputFormat(format string) Option {
	return func(p *Provider) {
		p.outputFormat = format
	}
}

// WithVoiceSettings overrides stability and similarity boost. Zero fields keep
// the defaults.
func WithVoiceSettings(s tts.VoiceSettings) Option {
	return func(p *Provider) {
		if s.Stability > 0 {
			p.settings.Stability = s.Stability
		}
		if s.SimilarityBoost > 0 {
			p.settings.SimilarityBoost = s.SimilarityBoost
		}
	}
}

// WithBaseURL points both the REST and WebSocket endpoints at baseURL
// (http/https; the WebSocket scheme is derived). Used for proxies and tests.
func WithBaseURL(baseURL string) Option {
	return func(p *Provider) {
		base := strings.TrimRight(baseURL, "/")
		p.httpBase = base
		switch {
		case strings.HasPrefix(base, "https://"):
			p.wsBase = "wss://" + strings.TrimPrefix(base, "https://")
		case strings.HasPrefix(base, "http://"):
			p.wsBase = "ws://" + strings.TrimPrefix(base, "http://")
		default:
			p.wsBase = base
		}
	}
}

// WithHTTPClient replaces the HTTP client used for REST calls and the
// WebSocket handshake.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) {
		if c != nil {
			p.httpClient = c
		}
	}
}

// Provider implements tts.Provider backed by the ElevenLabs API.
type Provider struct {
	apiKey       string
	model        string
	outputFormat string
	settings     tts.VoiceSettings
	httpBase     string
	wsBase       string
	httpClient   *http.Client
}

// Compile-time interface assertion.
var _ tts.Provider = (*Provider)(nil)

// New creates a new ElevenLabs Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("elevenlabs: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:       apiKey,
		model:        defaultModel,
		outputFormat: defaultOutputFmt,
		settings: tts.VoiceSettings{
			Stability:       defaultStability,
			SimilarityBoost: defaultSimilarityBoost,
		},
		httpBase:   defaultHTTPBase,
		wsBase:     defaultWSBase,
		httpClient: &http.Client{},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// ---- WebSocket message types ----

// textMessage is the JSON payload sent to ElevenLabs for each text fragment.
type textMessage struct {
	Text                 string         `json:"text"`
	TryTriggerGeneration bool           `json:"try_trigger_generation,omitempty"`
	VoiceSettings        *voiceSettings `json:"voice_settings,omitempty"`
}

// voiceSettings mirrors the ElevenLabs voice_settings object.
type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
}

// audioResponse is the JSON message received from ElevenLabs over the WebSocket.
type audioResponse struct {
	Audio   string `json:"audio"` // base64-encoded clip bytes
	IsFinal bool   `json:"isFinal"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// boiMessage is used for the initial "begin of input" handshake.
type boiMessage struct {
	Text          string         `json:"text"`
	VoiceSettings *voiceSettings `json:"voice_settings,omitempty"`
	XiAPIKey      string         `json:"xi_api_key"`
}

// Synthesize opens a stream-input WebSocket for voice, sends text followed by
// the end-of-input marker and collects every audio chunk until ElevenLabs
// reports the final message.
func (p *Provider) Synthesize(ctx context.Context, text string, voice tts.VoiceProfile) ([]byte, error) {
	if voice.ID == "" {
		return nil, tts.WrapError(providerName, "synthesize", errors.New("voice.ID must not be empty"))
	}
	if strings.TrimSpace(text) == "" {
		return nil, tts.WrapError(providerName, "synthesize", errors.New("text must not be empty"))
	}

	conn, _, err := websocket.Dial(ctx, p.streamURL(voice.ID), &websocket.DialOptions{HTTPClient: p.httpClient})
	if err != nil {
		return nil, tts.WrapError(providerName, "synthesize", fmt.Errorf("dial: %w", err))
	}
	defer conn.CloseNow()
	conn.SetReadLimit(maxClipBytes)

	vs := &voiceSettings{Stability: p.settings.Stability, SimilarityBoost: p.settings.SimilarityBoost}
	msgs := []any{
		// ElevenLabs requires a non-empty first text value.
		boiMessage{Text: " ", VoiceSettings: vs, XiAPIKey: p.apiKey},
		textMessage{Text: text + " ", TryTriggerGeneration: true},
		textMessage{Text: ""},
	}
	for _, m := range msgs {
		b, err := json.Marshal(m)
		if err != nil {
			return nil, tts.WrapError(providerName, "synthesize", err)
		}
		if err := conn.Write(ctx, websocket.MessageText, b); err != nil {
			return nil, tts.WrapError(providerName, "synthesize", fmt.Errorf("send: %w", err))
		}
	}

	clip, err := collectAudio(ctx, conn)
	if err != nil {
		return nil, tts.WrapError(providerName, "synthesize", err)
	}
	conn.Close(websocket.StatusNormalClosure, "done")
	if len(clip) == 0 {
		return nil, tts.WrapError(providerName, "synthesize", tts.ErrEmptyAudio)
	}
	return clip, nil
}

// collectAudio reads stream messages until the final one (or a normal close)
// and concatenates the decoded audio.
func collectAudio(ctx context.Context, conn *websocket.Conn) ([]byte, error) {
	var buf bytes.Buffer
	for {
		_, msg, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				return buf.Bytes(), nil
			}
			return nil, fmt.Errorf("read: %w", err)
		}
		resp, err := parseAudioResponse(msg)
		if err != nil {
			return nil, err
		}
		if resp.Audio != "" {
			chunk, err := base64.StdEncoding.DecodeString(resp.Audio)
			if err != nil {
				return nil, fmt.Errorf("decode audio chunk: %w", err)
			}
			buf.Write(chunk)
		}
		if resp.IsFinal {
			return buf.Bytes(), nil
		}
	}
}

// parseAudioResponse decodes a stream message and turns server-side error
// reports into errors.
func parseAudioResponse(msg []byte) (audioResponse, error) {
	var resp audioResponse
	if err := json.Unmarshal(msg, &resp); err != nil {
		return resp, fmt.Errorf("decode message: %w", err)
	}
	if resp.Error != "" {
		if resp.Message != "" {
			return resp, fmt.Errorf("%s: %s", resp.Error, resp.Message)
		}
		return resp, errors.New(resp.Error)
	}
	return resp, nil
}

// ---- ListVoices ----

// voicesResponse is the top-level response from GET /v1/voices.
type voicesResponse struct {
	Voices []elevenLabsVoice `json:"voices"`
}

// elevenLabsVoice is a single voice entry from the ElevenLabs API.
type elevenLabsVoice struct {
	VoiceID  string            `json:"voice_id"`
	Name     string            `json:"name"`
	Category string            `json:"category"`
	Labels   map[string]string `json:"labels"`
}

// ListVoices returns all voices available from ElevenLabs for the configured
// API key, in the order the API lists them.
func (p *Provider) ListVoices(ctx context.Context) ([]tts.VoiceProfile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.httpBase+"/v1/voices", nil)
	if err != nil {
		return nil, tts.WrapError(providerName, "list voices", err)
	}
	req.Header.Set("xi-api-key", p.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, tts.WrapError(providerName, "list voices", fmt.Errorf("http: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, tts.WrapError(providerName, "list voices", fmt.Errorf("unexpected status %d", resp.StatusCode))
	}

	var vr voicesResponse
	if err := json.NewDecoder(resp.Body).Decode(&vr); err != nil {
		return nil, tts.WrapError(providerName, "list voices", fmt.Errorf("decode: %w", err))
	}
	return vr.profiles(), nil
}

// ---- helpers ----

// streamURL constructs the stream-input WebSocket URL for a voice.
func (p *Provider) streamURL(voiceID string) string {
	q := url.Values{}
	q.Set("model_id", p.model)
	q.Set("output_format", p.outputFormat)
	return fmt.Sprintf("%s/v1/text-to-speech/%s/stream-input?%s", p.wsBase, url.PathEscape(voiceID), q.Encode())
}

// parseVoicesResponse parses a raw JSON byte slice (matching the ElevenLabs
// /v1/voices response) into a slice of VoiceProfile values.
func parseVoicesResponse(data []byte) ([]tts.VoiceProfile, error) {
	var vr voicesResponse
	if err := json.Unmarshal(data, &vr); err != nil {
		return nil, err
	}
	return vr.profiles(), nil
}

func (vr voicesResponse) profiles() []tts.VoiceProfile {
	profiles := make([]tts.VoiceProfile, 0, len(vr.Voices))
	for _, v := range vr.Voices {
		meta := make(map[string]string, len(v.Labels)+1)
		for k, val := range v.Labels {
			meta[k] = val
		}
		if v.Category != "" {
			meta["category"] = v.Category
		}
		profiles = append(profiles, tts.VoiceProfile{
			ID:       v.VoiceID,
			Name:     v.Name,
			Provider: providerName,
			Metadata: meta,
		})
	}
	return profiles
}
