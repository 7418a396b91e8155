// Package rlog provides the structured logging seam every other package in
// this module depends on through the Logger interface, shaped the same way
// as a plain Debugf/Infof/Errorf logger so call sites never construct log
// lines themselves.
package rlog

import (
	"go.uber.org/zap"
)

// Logger is the logging seam used throughout crawler, fetcher, krpc and
// scraper. Debugf/Infof/Errorf mirror a conventional leveled-logger
// shape so call sites read the same regardless of backing implementation.
type Logger interface {
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

// zapLogger backs Logger with a zap.SugaredLogger.
type zapLogger struct {
	s *zap.SugaredLogger
}

// New builds a production zap logger (JSON encoding, info level) wrapped as
// a Logger.
func New() (Logger, error) {
	l, err := zap.NewProduction()
	if err != nil {
		return nil, err
	}
	return &zapLogger{s: l.Sugar()}, nil
}

// NewDevelopment builds a human-readable console logger, useful for the
// cmd/dhtscrape example binary and for tests that want readable output.
func NewDevelopment() (Logger, error) {
	l, err := zap.NewDevelopment()
	if err != nil {
		return nil, err
	}
	return &zapLogger{s: l.Sugar()}, nil
}

func (z *zapLogger) Debugf(format string, args ...interface{}) { z.s.Debugf(format, args...) }
func (z *zapLogger) Infof(format string, args ...interface{})  { z.s.Infof(format, args...) }
func (z *zapLogger) Errorf(format string, args ...interface{}) { z.s.Errorf(format, args...) }

// Nop discards everything. Used as the default when a caller does not
// supply a Logger, the same role STX5-dht's NullLogger played, except it
// writes nothing rather than going to stdlib log.
type Nop struct{}

func (Nop) Debugf(string, ...interface{}) {}
func (Nop) Infof(string, ...interface{})  {}
func (Nop) Errorf(string, ...interface{}) {}
