// Package logger предоставляет уровневый логгер поверх log/slog.
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// Logger — интерфейс логгера, используемый во всех слоях приложения.
type Logger interface {
	Debugf(format string, args ...any)
	Infof(format string, args ...any)
	Warnf(format string, args ...any)
	Errorf(err error, format string, args ...any)
	// With возвращает логгер с дополнительными структурированными атрибутами.
	With(args ...any) Logger
}

type slogLogger struct {
	l *slog.Logger
}

// NewSlogLogger создаёт JSON-логгер в stdout. Уровень берётся из LOG_LEVEL.
func NewSlogLogger() Logger {
	return NewSlogLoggerWithLevel(os.Getenv("LOG_LEVEL"), os.Stdout)
}

// NewSlogLoggerWithLevel создаёт JSON-логгер с указанным уровнем и writer'ом.
func NewSlogLoggerWithLevel(level string, w io.Writer) Logger {
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: parseLevel(level),
	})

	return &slogLogger{l: slog.New(handler)}
}

// NewDiscardLogger возвращает логгер, который ничего не пишет. Используется в тестах.
func NewDiscardLogger() Logger {
	return &slogLogger{l: slog.New(slog.NewTextHandler(io.Discard, nil))}
}

func (s *slogLogger) Debugf(format string, args ...any) {
	s.log(slog.LevelDebug, nil, format, args...)
}

func (s *slogLogger) Infof(format string, args ...any) {
	s.log(slog.LevelInfo, nil, format, args...)
}

func (s *slogLogger) Warnf(format string, args ...any) {
	s.log(slog.LevelWarn, nil, format, args...)
}

func (s *slogLogger) Errorf(err error, format string, args ...any) {
	s.log(slog.LevelError, err, format, args...)
}

func (s *slogLogger) With(args ...any) Logger {
	return &slogLogger{l: s.l.With(args...)}
}

func (s *slogLogger) log(level slog.Level, err error, format string, args ...any) {
	ctx := context.Background()
	if !s.l.Enabled(ctx, level) {
		return
	}

	msg := fmt.Sprintf(format, args...)
	if err != nil {
		s.l.Log(ctx, level, msg, slog.String("error", err.Error()))
		return
	}
	s.l.Log(ctx, level, msg)
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
