package translate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"

	"github.com/mattn/go-shellwords"
)

type execTranslator struct {
	cmd []string
}

type execRequest struct {
	Text   string `json:"text"`
	Source string `json:"source"`
	Target string `json:"target"`
}

type execResponse struct {
	Text string `json:"text"`
}

// NewExecTranslator runs command once per request, writing a JSON request to
// stdin and reading {"text": ...} from stdout.
func NewExecTranslator(command string) (Translator, error) {
	args, err := shellwords.NewParser().Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse translate command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("translate command empty")
	}
	return &execTranslator{cmd: args}, nil
}

func (e *execTranslator) Translate(ctx context.Context, req Request) (Result, error) {
	input, err := json.Marshal(execRequest{Text: req.Text, Source: req.Source, Target: req.Target})
	if err != nil {
		return Result{}, err
	}

	cmd := exec.CommandContext(ctx, e.cmd[0], e.cmd[1:]...)
	cmd.Stdin = bytes.NewReader(input)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	output, err := cmd.Output()
	if err != nil {
		if ctx.Err() != nil {
			return Result{}, ctx.Err()
		}
		return Result{}, fmt.Errorf("translate exec command failed: %w: %s", err, strings.TrimSpace(stderr.String()))
	}

	var resp execResponse
	if err := json.Unmarshal(output, &resp); err != nil {
		return Result{}, fmt.Errorf("decode translate response: %w", err)
	}
	text := strings.TrimSpace(resp.Text)
	if text == "" {
		return Result{}, ErrEmptyTranslation
	}
	return Result{Text: text}, nil
}
