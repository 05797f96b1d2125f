package logging

import (
	"errors"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// ErrFatal is passed to the fatal callback after a fatal message is written.
var ErrFatal = errors.New("fatal log written")

// Helper helps with writing logs to io.Writers.
// Helper implements logger.Logger interface.
// Each writer receives one JSON line per message, the level filter is applied before writing.
type Helper struct {
	log       zerolog.Logger
	callOnErr func(error)
	callOnFat func(error)
}

func init() {
	zerolog.TimestampFieldName = "created_at"
	zerolog.MessageFieldName = "msg"
}

type errWriter struct {
	w         io.Writer
	callOnErr func(error)
}

func (e errWriter) Write(p []byte) (int, error) {
	n, err := e.w.Write(p)
	if err != nil && e.callOnErr != nil {
		e.callOnErr(err)
	}
	return n, err
}

// New creates new Helper writing to all of the writers.
// callOnErr is called when a writer fails, callOnFatal is called after a fatal log is written.
func New(callOnErr, callOnFatal func(error), writers ...io.Writer) Helper {
	ws := make([]io.Writer, 0, len(writers))
	for _, w := range writers {
		ws = append(ws, errWriter{w: w, callOnErr: callOnErr})
	}
	l := zerolog.New(zerolog.MultiLevelWriter(ws...)).With().Timestamp().Logger()
	return Helper{log: l, callOnErr: callOnErr, callOnFat: callOnFatal}
}

// NewConsole creates a Helper printing human readable lines to stderr.
func NewConsole(callOnErr, callOnFatal func(error)) Helper {
	return New(callOnErr, callOnFatal, zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly})
}

// WithLevel returns a copy of the helper dropping messages below level.
// Level is one of debug, info, warn, error, fatal; an unknown level keeps debug.
func (h Helper) WithLevel(level string) Helper {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.DebugLevel
	}
	h.log = h.log.Level(lvl)
	return h
}

// Debug writes debug log.
func (h Helper) Debug(msg string) {
	h.log.Debug().Msg(msg)
}

// Info writes info log.
func (h Helper) Info(msg string) {
	h.log.Info().Msg(msg)
}

// Warn writes warning log.
func (h Helper) Warn(msg string) {
	h.log.Warn().Msg(msg)
}

// Error writes error log.
func (h Helper) Error(msg string) {
	h.log.Error().Msg(msg)
}

// Fatal writes fatal log and calls the fatal callback. It does not exit the process.
func (h Helper) Fatal(msg string) {
	h.log.WithLevel(zerolog.FatalLevel).Msg(msg)
	if h.callOnFat != nil {
		h.callOnFat(errors.Join(ErrFatal, errors.New(msg)))
	}
}
