package elevenlabs

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/coder/websocket"

	"github.com/MrWong99/echovox/pkg/provider/tts"
)

// ---- URL construction ----

func TestStreamURL(t *testing.T) {
	t.Parallel()

	p, err := New("key", WithModel("eleven_flash_v2_5"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	got := p.streamURL("voice-abc123")
	for _, want := range []string{
		"wss://api.elevenlabs.io/v1/text-to-speech/voice-abc123/stream-input?",
		"model_id=eleven_flash_v2_5",
		"output_format=mp3_44100_128",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("streamURL = %q, missing %q", got, want)
		}
	}
}

func TestWithBaseURL_DerivesWebSocketScheme(t *testing.T) {
	t.Parallel()

	tests := []struct {
		base   string
		wantWS string
	}{
		{"http://127.0.0.1:9000/", "ws://127.0.0.1:9000"},
		{"https://proxy.example", "wss://proxy.example"},
	}
	for _, tc := range tests {
		p, _ := New("key", WithBaseURL(tc.base))
		if p.wsBase != tc.wantWS {
			t.Errorf("WithBaseURL(%q): wsBase = %q, want %q", tc.base, p.wsBase, tc.wantWS)
		}
		if strings.HasSuffix(p.httpBase, "/") {
			t.Errorf("WithBaseURL(%q): httpBase %q keeps trailing slash", tc.base, p.httpBase)
		}
	}
}

// ---- voices parsing ----

func TestParseVoicesResponse_Success(t *testing.T) {
	t.Parallel()

	data := []byte(`{
		"voices": [
			{"voice_id": "v1", "name": "Rachel", "category": "premade", "labels": {"accent": "american"}},
			{"voice_id": "v2", "name": "Crystal", "category": "cloned"}
		]
	}`)
	profiles, err := parseVoicesResponse(data)
	if err != nil {
		t.Fatalf("parseVoicesResponse: %v", err)
	}
	if len(profiles) != 2 {
		t.Fatalf("expected 2 profiles, got %d", len(profiles))
	}
	if profiles[0].Category() != tts.CategoryPremade {
		t.Errorf("profiles[0].Category() = %q, want premade", profiles[0].Category())
	}
	if profiles[0].Metadata["accent"] != "american" {
		t.Errorf("expected accent label to be kept, got %v", profiles[0].Metadata)
	}
	if profiles[1].ID != "v2" || profiles[1].Name != "Crystal" || profiles[1].Provider != "elevenlabs" {
		t.Errorf("unexpected profile: %+v", profiles[1])
	}
}

func TestParseVoicesResponse_InvalidJSON(t *testing.T) {
	t.Parallel()

	if _, err := parseVoicesResponse([]byte("not json")); err == nil {
		t.Error("expected error for invalid JSON")
	}
}

func TestParseAudioResponse_ServerError(t *testing.T) {
	t.Parallel()

	_, err := parseAudioResponse([]byte(`{"error":"quota_exceeded","message":"out of credits"}`))
	if err == nil || !strings.Contains(err.Error(), "out of credits") {
		t.Fatalf("expected quota error, got %v", err)
	}
}

// ---- Constructor tests ----

func TestNew_EmptyAPIKey(t *testing.T) {
	t.Parallel()

	if _, err := New(""); err == nil {
		t.Error("expected error for empty API key")
	}
}

func TestNew_Defaults(t *testing.T) {
	t.Parallel()

	p, err := New("key")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if p.model != defaultModel {
		t.Errorf("expected model %q, got %q", defaultModel, p.model)
	}
	if p.outputFormat != defaultOutputFmt {
		t.Errorf("expected outputFormat %q, got %q", defaultOutputFmt, p.outputFormat)
	}
	if p.settings.Stability != 0.35 {
		t.Errorf("expected stability 0.35, got %f", p.settings.Stability)
	}
}

func TestNew_WithVoiceSettings_KeepsDefaultsForZero(t *testing.T) {
	t.Parallel()

	p, _ := New("key", WithVoiceSettings(tts.VoiceSettings{Stability: 0.6}))
	if p.settings.Stability != 0.6 {
		t.Errorf("stability = %f, want 0.6", p.settings.Stability)
	}
	if p.settings.SimilarityBoost != defaultSimilarityBoost {
		t.Errorf("similarity = %f, want default", p.settings.SimilarityBoost)
	}
}

// ---- HTTP / WebSocket round trips ----

func TestListVoices_HTTP(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/voices" {
			http.NotFound(w, r)
			return
		}
		if r.Header.Get("xi-api-key") != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`{"voices":[{"voice_id":"a","name":"Alice","category":"cloned"}]}`))
	}))
	defer srv.Close()

	p, _ := New("secret", WithBaseURL(srv.URL))
	voices, err := p.ListVoices(context.Background())
	if err != nil {
		t.Fatalf("ListVoices: %v", err)
	}
	if len(voices) != 1 || voices[0].Name != "Alice" {
		t.Fatalf("unexpected voices: %+v", voices)
	}

	bad, _ := New("wrong", WithBaseURL(srv.URL))
	_, err = bad.ListVoices(context.Background())
	var pe *tts.ProviderError
	if !errors.As(err, &pe) {
		t.Fatalf("expected *tts.ProviderError, got %v", err)
	}
}

func TestSynthesize_CollectsChunks(t *testing.T) {
	t.Parallel()

	type handshake struct {
		boi  boiMessage
		text []textMessage
	}
	got := make(chan handshake, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/v1/text-to-speech/voice-1/stream-input") {
			http.NotFound(w, r)
			return
		}
		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer c.CloseNow()
		ctx := r.Context()

		var hs handshake
		_, first, err := c.Read(ctx)
		if err != nil {
			return
		}
		_ = json.Unmarshal(first, &hs.boi)
		for range 2 {
			_, msg, err := c.Read(ctx)
			if err != nil {
				return
			}
			var tm textMessage
			_ = json.Unmarshal(msg, &tm)
			hs.text = append(hs.text, tm)
		}
		got <- hs
		for _, chunk := range []string{"ID3", "frames"} {
			out, _ := json.Marshal(audioResponse{Audio: base64.StdEncoding.EncodeToString([]byte(chunk))})
			_ = c.Write(ctx, websocket.MessageText, out)
		}
		final, _ := json.Marshal(audioResponse{IsFinal: true})
		_ = c.Write(ctx, websocket.MessageText, final)
		c.Close(websocket.StatusNormalClosure, "")
	}))
	defer srv.Close()

	p, _ := New("secret", WithBaseURL(srv.URL))
	clip, err := p.Synthesize(context.Background(), "hello there", tts.VoiceProfile{ID: "voice-1"})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if string(clip) != "ID3frames" {
		t.Errorf("clip = %q, want %q", clip, "ID3frames")
	}
	hs := <-got
	if hs.boi.XiAPIKey != "secret" || hs.boi.VoiceSettings == nil || hs.boi.VoiceSettings.Stability != 0.35 {
		t.Errorf("unexpected BOI message: %+v", hs.boi)
	}
	if len(hs.text) != 2 || hs.text[0].Text != "hello there " || hs.text[1].Text != "" {
		t.Errorf("unexpected text messages: %+v", hs.text)
	}
}

func TestSynthesize_EmptyVoice(t *testing.T) {
	t.Parallel()

	p, _ := New("key")
	_, err := p.Synthesize(context.Background(), "hi", tts.VoiceProfile{})
	var pe *tts.ProviderError
	if !errors.As(err, &pe) {
		t.Fatalf("expected *tts.ProviderError, got %v", err)
	}
}
