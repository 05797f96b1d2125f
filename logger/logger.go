package logger

import (
	"time"
)

// Log is a single log entry as written by the helpers implementing Logger.
type Log struct {
	CreatedAt time.Time `json:"created_at" yaml:"created_at"`
	Level     string    `json:"level"      yaml:"level"`
	Msg       string    `json:"msg"        yaml:"msg"`
}

// Logger provides logging methods for debug, info, warning, error and fatal.
type Logger interface {
	Debug(msg string)
	Info(msg string)
	Warn(msg string)
	Error(msg string)
	Fatal(msg string)
}
