package audio

import (
	"path/filepath"
	"testing"
	"time"
)

func TestWAVFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tone.wav")
	clip := Clip{PCM: Tone(16000, 440, 8000, 250*time.Millisecond), SampleRate: 16000, Channels: 1}
	if err := WriteWAVFile(path, clip); err != nil {
		t.Fatalf("write: %v", err)
	}

	got, err := ReadWAVFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got.SampleRate != 16000 || got.Channels != 1 {
		t.Fatalf("unexpected format: %d Hz, %d ch", got.SampleRate, got.Channels)
	}
	if len(got.PCM) != len(clip.PCM) {
		t.Fatalf("expected %d bytes, got %d", len(clip.PCM), len(got.PCM))
	}
	if got.Duration() != 250*time.Millisecond {
		t.Fatalf("unexpected duration %v", got.Duration())
	}

	d, err := WAVDuration(path)
	if err != nil {
		t.Fatalf("duration: %v", err)
	}
	if d < 240*time.Millisecond || d > 260*time.Millisecond {
		t.Fatalf("unexpected header duration %v", d)
	}
}

func TestRMS(t *testing.T) {
	if RMS(Silence(16000, 1, 100*time.Millisecond)) != 0 {
		t.Fatal("expected zero energy for silence")
	}
	rms := RMS(Tone(16000, 440, 8000, 100*time.Millisecond))
	// a sine of amplitude A has RMS A/sqrt(2)
	if rms < 5500 || rms > 5800 {
		t.Fatalf("unexpected rms %.1f", rms)
	}
}

func TestWriteWAVRejectsOddPayload(t *testing.T) {
	if err := WriteWAVFile(filepath.Join(t.TempDir(), "bad.wav"), Clip{PCM: []byte{1}, SampleRate: 16000, Channels: 1}); err == nil {
		t.Fatal("expected alignment error")
	}
}
