package capture

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/loqalabs/loqa-interpreter/internal/config"
	"github.com/mattn/go-shellwords"
)

// frames buffered between captures; older audio is dropped
const streamCapacity = 16

// ExecSource reads raw 16-bit little-endian PCM from a recorder process such
// as arecord. The process is restarted on the next capture after it dies.
type ExecSource struct {
	args     []string
	listener *listener
	cfg      config.CaptureConfig
	log      *slog.Logger

	mu     sync.Mutex
	cmd    *exec.Cmd
	stream *frameStream
	cancel context.CancelFunc
	closed bool
}

func NewExecSource(cfg config.CaptureConfig, log *slog.Logger) (*ExecSource, error) {
	command := cfg.Command
	if cfg.Device != "" {
		command = strings.ReplaceAll(command, "{device}", cfg.Device)
	}
	args, err := shellwords.NewParser().Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse capture command: %w", err)
	}
	if len(args) == 0 {
		return nil, errors.New("capture command is empty")
	}
	return &ExecSource{
		args:     args,
		listener: newListener(listenerFromConfig(cfg)),
		cfg:      cfg,
		log:      log,
	}, nil
}

func (s *ExecSource) Capture(ctx context.Context, timeout, phraseLimit time.Duration) (Utterance, error) {
	stream, err := s.ensureStream()
	if err != nil {
		return Utterance{}, fmt.Errorf("%w: %v", ErrTransient, err)
	}
	return s.listener.listen(ctx, stream, timeout, phraseLimit)
}

func (s *ExecSource) ensureStream() (*frameStream, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, errors.New("capture source closed")
	}
	if s.stream != nil && s.stream.failed() == nil {
		return s.stream, nil
	}
	if s.stream != nil {
		s.log.Warn("recorder exited, restarting", slog.String("error", errString(s.stream.failed())))
		s.stopLocked()
	}

	procCtx, cancel := context.WithCancel(context.Background())
	cmd := exec.CommandContext(procCtx, s.args[0], s.args[1:]...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("recorder stdout: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("recorder stderr: %w", err)
	}
	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("start recorder: %w", err)
	}

	stream := newFrameStream(streamCapacity)
	go s.logStderr(stderr)
	go func() {
		stream.pump(stdout, s.listener.cfg.frameBytes())
		_ = cmd.Wait()
	}()

	s.log.Info("recorder started", slog.String("command", s.args[0]))
	s.cmd, s.stream, s.cancel = cmd, stream, cancel
	return stream, nil
}

func (s *ExecSource) logStderr(r io.Reader) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		s.log.Debug("recorder", slog.String("stderr", scanner.Text()))
	}
}

func (s *ExecSource) stopLocked() {
	if s.cancel != nil {
		s.cancel()
	}
	if s.stream != nil {
		s.stream.fail(io.EOF)
	}
	s.cmd, s.stream, s.cancel = nil, nil, nil
}

func (s *ExecSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.stopLocked()
	return nil
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
