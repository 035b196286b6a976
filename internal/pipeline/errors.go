package pipeline

import (
	"errors"
	"log/slog"
)

var (
	ErrRecognition = errors.New("recognition failed")
	ErrTranslation = errors.New("translation failed")
	ErrTimeout     = errors.New("stage timed out")
	// ErrFatalInit marks failures to build a backend or open a device at
	// startup. The process cannot continue.
	ErrFatalInit = errors.New("initialization failed")
)

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
