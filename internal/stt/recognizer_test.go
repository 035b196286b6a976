package stt

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"cloud.google.com/go/speech/apiv1/speechpb"
	"github.com/loqalabs/loqa-interpreter/internal/audio"
	"github.com/loqalabs/loqa-interpreter/internal/config"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func speech() Request {
	return Request{PCM: audio.Tone(16000, 300, 6000, 200*time.Millisecond), SampleRate: 16000, Channels: 1, Language: "bn-BD"}
}

func TestMockRecognizer(t *testing.T) {
	r := NewMockRecognizer("আমি ভালো আছি", "")
	res, err := r.Transcribe(context.Background(), speech())
	if err != nil || res.Text != "আমি ভালো আছি" {
		t.Fatalf("unexpected result %+v err=%v", res, err)
	}
	if _, err := r.Transcribe(context.Background(), speech()); !errors.Is(err, ErrNoSpeech) {
		t.Fatalf("expected ErrNoSpeech for empty queued transcript, got %v", err)
	}
	silent := Request{PCM: audio.Silence(16000, 1, 200*time.Millisecond), SampleRate: 16000, Channels: 1}
	if _, err := r.Transcribe(context.Background(), silent); !errors.Is(err, ErrNoSpeech) {
		t.Fatalf("expected ErrNoSpeech for silence, got %v", err)
	}
	if r.Calls() != 3 {
		t.Fatalf("expected 3 calls, got %d", r.Calls())
	}
}

func TestParseGoogleResponse(t *testing.T) {
	body := `{"result":[]}
{"result":[{"alternative":[{"transcript":"আমি ভালো আছি","confidence":0.92},{"transcript":"আমি ভাল আছি"}],"final":true}],"result_index":0}
`
	res, err := parseGoogleResponse(strings.NewReader(body))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if res.Text != "আমি ভালো আছি" || res.Confidence != 0.92 {
		t.Fatalf("unexpected result %+v", res)
	}

	if _, err := parseGoogleResponse(strings.NewReader(`{"result":[]}`)); !errors.Is(err, ErrNoSpeech) {
		t.Fatalf("expected ErrNoSpeech, got %v", err)
	}
}

func TestGoogleRecognizerRequest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("lang"); got != "bn-BD" {
			t.Errorf("expected lang bn-BD, got %q", got)
		}
		if ct := r.Header.Get("Content-Type"); ct != "audio/l16; rate=16000" {
			t.Errorf("unexpected content type %q", ct)
		}
		io.WriteString(w, `{"result":[{"alternative":[{"transcript":"ধন্যবাদ","confidence":0.8}],"final":true}]}`)
	}))
	defer srv.Close()

	cfg := config.Default().STT
	cfg.Mode = "google"
	cfg.Endpoint = srv.URL
	cfg.APIKey = "test"
	r, err := New(context.Background(), cfg, config.CloudConfig{}, newLogger())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	res, err := r.Transcribe(context.Background(), speech())
	if err != nil || res.Text != "ধন্যবাদ" {
		t.Fatalf("unexpected result %+v err=%v", res, err)
	}
}

func TestGoogleRecognizerStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	cfg := config.Default().STT
	cfg.Endpoint = srv.URL
	r := NewGoogleRecognizer(cfg, newLogger())
	if _, err := r.Transcribe(context.Background(), speech()); err == nil || errors.Is(err, ErrNoSpeech) {
		t.Fatalf("expected service error, got %v", err)
	}
}

func writeScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "stt.sh")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}
	return path
}

func TestExecRecognizer(t *testing.T) {
	cfg := config.Default().STT
	cfg.Command = writeScript(t, `printf '{"text":" ধন্যবাদ ","confidence":0.5}'`)
	r, err := NewExecRecognizer(cfg)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	res, err := r.Transcribe(context.Background(), speech())
	if err != nil || res.Text != "ধন্যবাদ" {
		t.Fatalf("unexpected result %+v err=%v", res, err)
	}

	cfg.Command = writeScript(t, `printf '{"text":""}'`)
	r, _ = NewExecRecognizer(cfg)
	if _, err := r.Transcribe(context.Background(), speech()); !errors.Is(err, ErrNoSpeech) {
		t.Fatalf("expected ErrNoSpeech, got %v", err)
	}
}

func TestBestAlternative(t *testing.T) {
	results := []*speechpb.SpeechRecognitionResult{
		{},
		{Alternatives: []*speechpb.SpeechRecognitionAlternative{{Transcript: "  "}}},
		{Alternatives: []*speechpb.SpeechRecognitionAlternative{{Transcript: " আমি ভালো আছি ", Confidence: 0.75}}},
	}
	res, err := bestAlternative(results)
	if err != nil || res.Text != "আমি ভালো আছি" || res.Confidence != 0.75 {
		t.Fatalf("unexpected result %+v err=%v", res, err)
	}
	if _, err := bestAlternative(nil); !errors.Is(err, ErrNoSpeech) {
		t.Fatalf("expected ErrNoSpeech, got %v", err)
	}

	cfg := recognitionConfig(speech(), "bn-BD")
	if cfg.GetEncoding() != speechpb.RecognitionConfig_LINEAR16 || cfg.GetSampleRateHertz() != 16000 || cfg.GetLanguageCode() != "bn-BD" {
		t.Fatalf("unexpected recognition config %v", cfg)
	}
}

func TestToBigEndian(t *testing.T) {
	got := toBigEndian([]byte{0x01, 0x02, 0x03, 0x04, 0x05})
	want := []byte{0x02, 0x01, 0x04, 0x03}
	if string(got) != string(want) {
		t.Fatalf("got %x want %x", got, want)
	}
}
