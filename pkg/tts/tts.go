// Package tts turns announcement text into audio and plays it on the
// wearable's speaker.
//
// A Provider synthesizes a complete utterance (the device never streams:
// announcements are a few words long). Local providers shell out to an
// on-device engine such as RHVoice; OpenAI is available when the device is
// online. Chain tries providers in order, and Voice couples a Provider with
// a playback Sink so it can serve as the speech broker's synthesizer.
//
// Example usage:
//
//	local, _ := tts.NewCommand(tts.WithCommand("RHVoice-client", "-s", "angela"))
//	voice := tts.NewVoice(local, tts.NewPlayer("aplay", "-q"))
//	_ = voice.Speak(ctx, "Left: person")
package tts

import (
	"context"
	"time"
)

// Provider synthesizes speech audio.
type Provider interface {
	// Synthesize converts text to a complete audio buffer.
	Synthesize(ctx context.Context, text string) (*AudioResult, error)

	// Health checks that the provider can synthesize right now.
	Health(ctx context.Context) error

	// Close releases any resources held by the provider.
	Close() error
}

// AudioResult is a synthesized utterance.
type AudioResult struct {
	Audio     []byte
	Format    AudioFormat
	CharCount int
	LatencyMs int64
}

// AudioFormat describes the audio container and sample rate.
type AudioFormat struct {
	Encoding   Encoding
	SampleRate int
	Channels   int
}

// Encoding is the audio container or codec.
type Encoding string

const (
	EncodingWAV   Encoding = "wav"
	EncodingMP3   Encoding = "mp3"
	EncodingPCM16 Encoding = "pcm_16000"
	EncodingPCM24 Encoding = "pcm_24000"
)

// EstimateDuration guesses playback length for raw PCM16 mono audio.
// Containers return zero.
func EstimateDuration(r *AudioResult) time.Duration {
	if r == nil || r.Format.SampleRate == 0 {
		return 0
	}
	switch r.Format.Encoding {
	case EncodingPCM16, EncodingPCM24:
		samples := len(r.Audio) / 2
		return time.Duration(samples) * time.Second / time.Duration(r.Format.SampleRate)
	}
	return 0
}
