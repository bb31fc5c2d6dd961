package logger

import (
	"errors"
	"testing"
)

func TestGetReturnsUsableLogger(t *testing.T) {
	l := Get()
	l.Info().Str("key", "value").Msg("direct logger use")
}

func TestPackageLevelHelpers(t *testing.T) {
	Init()
	Info("informational message")
	Warn("warning message")
	Error("failure message", errors.New("boom"))
	Debug("debug message")
}
