package translate

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	gtranslate "cloud.google.com/go/translate"
	"github.com/loqalabs/loqa-interpreter/internal/config"
	"golang.org/x/text/language"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

var bnToEn = Request{Text: "আমি ভালো আছি", Source: "bn", Target: "en"}

func TestMockTranslator(t *testing.T) {
	m := NewMockTranslator()
	res, err := m.Translate(context.Background(), bnToEn)
	if err != nil || res.Text != "I am fine" {
		t.Fatalf("unexpected result %+v err=%v", res, err)
	}
	res, _ = m.Translate(context.Background(), Request{Text: "unknown words", Source: "bn", Target: "en"})
	if res.Text != "unknown words" {
		t.Fatalf("expected passthrough, got %q", res.Text)
	}
	if _, err := m.Translate(context.Background(), Request{Text: "  "}); !errors.Is(err, ErrEmptyTranslation) {
		t.Fatalf("expected ErrEmptyTranslation, got %v", err)
	}
	if m.Calls() != 3 {
		t.Fatalf("expected 3 calls, got %d", m.Calls())
	}
}

func TestMockTranslatorDelayHonoursContext(t *testing.T) {
	m := &MockTranslator{Delay: time.Second}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := m.Translate(ctx, bnToEn); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestGoogleTranslator(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if r.URL.Path != "/translate_a/single" || q.Get("client") != "gtx" || q.Get("sl") != "bn" || q.Get("tl") != "en" {
			t.Errorf("unexpected request %s", r.URL)
		}
		if q.Get("q") != "আমি ভালো আছি" {
			t.Errorf("unexpected query text %q", q.Get("q"))
		}
		io.WriteString(w, `[[["I am ","আমি ",null,null,10],["fine","ভালো আছি",null,null,10]],null,"bn"]`)
	}))
	defer srv.Close()

	cfg := config.Default().Translate
	cfg.Mode = "google"
	cfg.Endpoint = srv.URL
	tr, err := New(context.Background(), cfg, config.CloudConfig{}, newLogger())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	res, err := tr.Translate(context.Background(), bnToEn)
	if err != nil || res.Text != "I am fine" {
		t.Fatalf("unexpected result %+v err=%v", res, err)
	}
}

func TestJoinSegmentsRejectsBadShapes(t *testing.T) {
	cases := []string{`[]`, `["x"]`, `[[]]`}
	for _, body := range cases {
		var payload []any
		if err := json.Unmarshal([]byte(body), &payload); err != nil {
			t.Fatalf("unmarshal %s: %v", body, err)
		}
		if _, err := joinSegments(payload); err == nil {
			t.Errorf("expected error for %s", body)
		}
	}
}

func TestOllamaTranslator(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req ollamaRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.Prompt != "আমি ভালো আছি" || req.Model != "llama3.2:latest" || !req.Stream {
			t.Errorf("unexpected request %+v", req)
		}
		io.WriteString(w, `{"response":"\"I am","done":false}`+"\n")
		io.WriteString(w, `{"response":" fine\"","done":true,"eval_count":4}`+"\n")
	}))
	defer srv.Close()

	tr := NewOllamaTranslator(srv.URL, "", newLogger())
	res, err := tr.Translate(context.Background(), bnToEn)
	if err != nil || res.Text != "I am fine" {
		t.Fatalf("unexpected result %+v err=%v", res, err)
	}
}

func TestExecTranslator(t *testing.T) {
	script := filepath.Join(t.TempDir(), "translate.sh")
	body := "#!/bin/sh\ncat >/dev/null\nprintf '{\"text\":\"Thank you\"}'\n"
	if err := os.WriteFile(script, []byte(body), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}
	tr, err := NewExecTranslator(script)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	res, err := tr.Translate(context.Background(), Request{Text: "ধন্যবাদ", Source: "bn", Target: "en"})
	if err != nil || res.Text != "Thank you" {
		t.Fatalf("unexpected result %+v err=%v", res, err)
	}
}

func TestNewRejectsUnknownMode(t *testing.T) {
	if _, err := New(context.Background(), config.TranslateConfig{Mode: "babelfish"}, config.CloudConfig{}, newLogger()); err == nil {
		t.Fatal("expected error")
	}
}

func TestCloudParams(t *testing.T) {
	target, opts, err := cloudParams(bnToEn)
	if err != nil {
		t.Fatalf("params: %v", err)
	}
	if target != language.English || opts.Source != language.Bengali || opts.Format != gtranslate.Text {
		t.Fatalf("unexpected params target=%v opts=%+v", target, opts)
	}

	_, opts, err = cloudParams(Request{Text: "x", Target: "en"})
	if err != nil || opts.Source != language.Und {
		t.Fatalf("expected undetermined source, got %+v err=%v", opts, err)
	}
	if _, _, err := cloudParams(Request{Text: "x", Source: "bn", Target: "not a tag!"}); err == nil {
		t.Fatal("expected error for malformed target")
	}
}
