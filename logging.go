package knnemd

import (
	"fmt"
	"io"

	"github.com/mattn/go-colorable"
	"github.com/rs/zerolog"
)

// Verbosity controls diagnostic output. It never changes results.
type Verbosity string

const (
	VerbosityDebug    Verbosity = "debug"
	VerbosityInfo     Verbosity = "info"
	VerbosityWarning  Verbosity = "warning"
	VerbosityError    Verbosity = "error"
	VerbosityCritical Verbosity = "critical"
)

// Level maps the verbosity onto a zerolog level.
func (v Verbosity) Level() (zerolog.Level, error) {
	switch v {
	case VerbosityDebug:
		return zerolog.DebugLevel, nil
	case VerbosityInfo, "":
		return zerolog.InfoLevel, nil
	case VerbosityWarning:
		return zerolog.WarnLevel, nil
	case VerbosityError:
		return zerolog.ErrorLevel, nil
	case VerbosityCritical:
		return zerolog.FatalLevel, nil
	default:
		return zerolog.NoLevel, fmt.Errorf("knnemd: Verbosity must be one of debug, info, warning, error, critical, got %q", string(v))
	}
}

// NewLogger returns a console logger writing to w at the given verbosity.
// A nil w writes colored output to stderr; other writers get plain text.
func NewLogger(v Verbosity, w io.Writer) zerolog.Logger {
	lvl, err := v.Level()
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	out := zerolog.ConsoleWriter{Out: w, TimeFormat: "15:04:05.000", NoColor: true}
	if w == nil {
		out.Out = colorable.NewColorableStderr()
		out.NoColor = false
	}
	return zerolog.New(out).Level(lvl).With().Timestamp().Str("component", "knnemd").Logger()
}
