package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/teslashibe/go-wayfinder/internal/httpc"
)

const (
	openAISpeechURL = "https://api.openai.com/v1/audio/speech"
	openAIModelsURL = "https://api.openai.com/v1/models"
	providerOpenAI  = "openai"

	// openAIWAVRate is the sample rate of OpenAI's WAV output.
	openAIWAVRate = 24000
)

// OpenAI voice and model options.
const (
	VoiceAlloy   = "alloy"
	VoiceNova    = "nova"
	VoiceShimmer = "shimmer"

	ModelTTS1   = "tts-1"
	ModelTTS1HD = "tts-1-hd"
)

type speechRequest struct {
	Model  string `json:"model"`
	Voice  string `json:"voice"`
	Input  string `json:"input"`
	Format string `json:"response_format"`
}

// OpenAI synthesizes with the OpenAI speech endpoint. Audio is requested
// as WAV so aplay can play it without transcoding.
type OpenAI struct {
	cfg    *Config
	url    string
	client *http.Client
	logger *slog.Logger
}

// NewOpenAI creates an OpenAI provider. An API key is required.
func NewOpenAI(opts ...Option) (*OpenAI, error) {
	cfg := DefaultConfig()
	cfg.ModelID = ModelTTS1
	cfg.VoiceID = VoiceShimmer
	cfg.Apply(opts...)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.VoiceID == "" {
		cfg.VoiceID = VoiceShimmer
	}
	if cfg.ModelID == "" {
		cfg.ModelID = ModelTTS1
	}

	url := openAISpeechURL
	if cfg.BaseURL != "" {
		url = cfg.BaseURL
	}
	return &OpenAI{
		cfg:    cfg,
		url:    url,
		client: httpc.NewClient(cfg.Timeout),
		logger: cfg.Logger.With("component", "tts.openai", "voice", cfg.VoiceID),
	}, nil
}

// Synthesize implements Provider.
func (o *OpenAI) Synthesize(ctx context.Context, text string) (*AudioResult, error) {
	if text == "" {
		return nil, WrapError(providerOpenAI, ErrEmptyText)
	}
	body, err := json.Marshal(speechRequest{
		Model:  o.cfg.ModelID,
		Voice:  o.cfg.VoiceID,
		Input:  text,
		Format: "wav",
	})
	if err != nil {
		return nil, WrapError(providerOpenAI, err)
	}

	start := time.Now()
	var audio []byte
	for attempt := 0; ; attempt++ {
		audio, err = o.post(ctx, body)
		var apiErr *APIError
		if err == nil || attempt >= o.cfg.MaxRetries || !errors.As(err, &apiErr) || !apiErr.IsRetryable() {
			break
		}
		o.logger.Warn("speech request failed, retrying", "attempt", attempt+1, "status", apiErr.StatusCode)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(o.cfg.RetryDelay * time.Duration(attempt+1)):
		}
	}
	if err != nil {
		return nil, err
	}

	latency := time.Since(start).Milliseconds()
	o.logger.Debug("synthesized", "chars", len(text), "bytes", len(audio), "latency_ms", latency)
	return &AudioResult{
		Audio:     audio,
		Format:    AudioFormat{Encoding: EncodingWAV, SampleRate: openAIWAVRate, Channels: 1},
		CharCount: len(text),
		LatencyMs: latency,
	}, nil
}

// post makes one request and returns the audio body.
func (o *OpenAI) post(ctx context.Context, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.url, bytes.NewReader(body))
	if err != nil {
		return nil, WrapError(providerOpenAI, err)
	}
	req.Header.Set("Authorization", "Bearer "+o.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return nil, WrapError(providerOpenAI, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, decodeAPIError(resp)
	}
	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, WrapError(providerOpenAI, fmt.Errorf("read audio: %w", err))
	}
	if len(audio) == 0 {
		return nil, WrapError(providerOpenAI, ErrEmptyAudio)
	}
	return audio, nil
}

// Health lists models to check the key and the uplink.
func (o *OpenAI) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, openAIModelsURL, nil)
	if err != nil {
		return WrapError(providerOpenAI, err)
	}
	req.Header.Set("Authorization", "Bearer "+o.cfg.APIKey)

	resp, err := o.client.Do(req)
	if err != nil {
		return WrapError(providerOpenAI, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return decodeAPIError(resp)
	}
	return nil
}

// Close releases idle connections.
func (o *OpenAI) Close() error {
	o.client.CloseIdleConnections()
	return nil
}

func decodeAPIError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	apiErr := &APIError{StatusCode: resp.StatusCode, Message: string(raw), Provider: providerOpenAI}

	var body struct {
		Error struct {
			Message string `json:"message"`
			Code    string `json:"code"`
		} `json:"error"`
	}
	if json.Unmarshal(raw, &body) == nil && body.Error.Message != "" {
		apiErr.Message = body.Error.Message
		apiErr.Code = body.Error.Code
	}
	return apiErr
}

var _ Provider = (*OpenAI)(nil)
