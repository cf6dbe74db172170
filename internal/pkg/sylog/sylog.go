// Copyright (c) 2024-2026, Hyperware Authors. All rights reserved.
// This software is licensed under a 3-clause BSD license. Please consult the
// LICENSE.md file distributed with the sources of this project regarding your
// rights to use or distribute this software.

// Package sylog implements the verbosity-tagged terminal printout channel
// that every component in the kernel writes through. Level 0 is always
// shown, level 3 is trace-level noise; the `terminal` runtime service
// registers with AddSubscriber to fan every emitted printout out to its
// subscribers.
package sylog

import (
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
)

// Level mirrors the four printout verbosities named in the spec's error
// handling design: 0=always, 1=info, 2=debug, 3=trace.
type Level int32

const (
	LevelError   Level = 0
	LevelWarning Level = 0
	LevelInfo    Level = 1
	LevelVerbose Level = 2
	LevelDebug   Level = 3
)

var (
	level   atomic.Int32
	logger  = logrus.New()
	mu      sync.Mutex
	writers []io.Writer
)

func init() {
	level.Store(int32(LevelInfo))
	logger.SetFormatter(&logrus.TextFormatter{
		DisableTimestamp: false,
		FullTimestamp:    true,
	})
	logger.SetOutput(os.Stderr)
}

// SetLevel sets the global printout verbosity.
func SetLevel(l int) {
	level.Store(int32(l))
}

// SetLevelFromString parses a config-file log_level string ("error",
// "warn", "info", "verbose", "debug") into a Level, defaulting to
// LevelInfo on anything unrecognized rather than erroring boot over a typo.
func SetLevelFromString(s string) {
	switch s {
	case "error", "warn", "warning":
		SetLevel(int(LevelError))
	case "verbose":
		SetLevel(int(LevelVerbose))
	case "debug", "trace":
		SetLevel(int(LevelDebug))
	default:
		SetLevel(int(LevelInfo))
	}
}

// GetLevel returns the global printout verbosity.
func GetLevel() int {
	return int(level.Load())
}

// Writer returns an io.Writer that copies each write to every writer
// registered with AddSubscriber; every printout that passes the global level
// is written to it.
func Writer() io.Writer {
	return fanout{}
}

// AddSubscriber registers w to receive a copy of every future printout.
// Used by the terminal runtime service to forward printouts to its
// subscribers.
func AddSubscriber(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	writers = append(writers, w)
}

type fanout struct{}

func (fanout) Write(p []byte) (int, error) {
	mu.Lock()
	subs := append([]io.Writer(nil), writers...)
	mu.Unlock()
	for _, w := range subs {
		_, _ = w.Write(p)
	}
	return len(p), nil
}

func emit(lvl Level, color *color.Color, prefix, format string, args ...interface{}) {
	if int32(lvl) > level.Load() {
		return
	}
	msg := fmt.Sprintf(format, args...)
	line := color.Sprintf("%s %s\n", prefix, msg)
	_, _ = Writer().Write([]byte(line))
	switch lvl {
	case LevelError:
		logger.Error(msg)
	case LevelInfo:
		logger.Info(msg)
	default:
		logger.Debug(msg)
	}
}

func Errorf(format string, args ...interface{}) {
	emit(LevelError, color.New(color.FgRed, color.Bold), "ERROR:", format, args...)
}

func Warningf(format string, args ...interface{}) {
	emit(LevelWarning, color.New(color.FgYellow), "WARNING:", format, args...)
}

func Infof(format string, args ...interface{}) {
	emit(LevelInfo, color.New(color.FgCyan), "INFO:", format, args...)
}

func Verbosef(format string, args ...interface{}) {
	emit(LevelVerbose, color.New(color.FgWhite), "VERBOSE:", format, args...)
}

func Debugf(format string, args ...interface{}) {
	emit(LevelDebug, color.New(color.FgHiBlack), "DEBUG:", format, args...)
}

// Fatalf prints at LevelError and terminates the process. Reserved for
// KernelFatal conditions (§7): on-disk keyfile missing when required, and
// similar truly unrecoverable boot failures.
func Fatalf(format string, args ...interface{}) {
	Errorf(format, args...)
	os.Exit(1)
}
