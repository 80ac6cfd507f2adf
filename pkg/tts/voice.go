package tts

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// Sink plays synthesized audio. Play blocks until playback ends.
type Sink interface {
	Play(ctx context.Context, audio *AudioResult) error
}

// Player is a Sink that pipes audio into an external player such as aplay.
// Raw PCM is described to the player with aplay's format flags.
type Player struct {
	argv []string
}

// NewPlayer creates a Player running name with args.
func NewPlayer(name string, args ...string) *Player {
	return &Player{argv: append([]string{name}, args...)}
}

// Play implements Sink.
func (p *Player) Play(ctx context.Context, audio *AudioResult) error {
	if audio == nil || len(audio.Audio) == 0 {
		return ErrEmptyAudio
	}

	args := append([]string(nil), p.argv[1:]...)
	switch audio.Format.Encoding {
	case EncodingPCM16, EncodingPCM24:
		args = append(args, "-t", "raw", "-f", "S16_LE",
			"-r", strconv.Itoa(audio.Format.SampleRate),
			"-c", strconv.Itoa(max(audio.Format.Channels, 1)))
	case EncodingMP3:
		return fmt.Errorf("tts: %s cannot play %s audio", p.argv[0], audio.Format.Encoding)
	}

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, p.argv[0], args...)
	cmd.Stdin = bytes.NewReader(audio.Audio)
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return fmt.Errorf("tts: play: %w: %s", err, msg)
		}
		return fmt.Errorf("tts: play: %w", err)
	}
	return nil
}

// Voice couples a Provider with a Sink. It satisfies the speech broker's
// Synthesizer contract: Speak returns once the utterance has been heard.
type Voice struct {
	provider Provider
	sink     Sink
}

// NewVoice creates a Voice.
func NewVoice(provider Provider, sink Sink) *Voice {
	return &Voice{provider: provider, sink: sink}
}

// Speak synthesizes text and plays it.
func (v *Voice) Speak(ctx context.Context, text string) error {
	audio, err := v.provider.Synthesize(ctx, text)
	if err != nil {
		return err
	}
	return v.sink.Play(ctx, audio)
}

// Close releases the provider.
func (v *Voice) Close() error {
	return v.provider.Close()
}
