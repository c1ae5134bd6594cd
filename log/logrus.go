// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package log

import (
	"fmt"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/sirupsen/logrus"
)

// NewLogrusOutputter returns an Outputter that writes through the given
// logrus logger. The logger's level decides which messages are kept;
// each entry carries a "caller" field of the form file.go:line.
func NewLogrusOutputter(l *logrus.Logger) Outputter {
	return logrusOutputter{l}
}

// NewLogrusLogger returns a logrus logger at the given level writing in
// the given format, "text" or "json".
func NewLogrusLogger(level Level, format string) (*logrus.Logger, error) {
	l := logrus.New()
	switch strings.ToLower(format) {
	case "", "text":
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	case "json":
		l.SetFormatter(&logrus.JSONFormatter{})
	default:
		return nil, fmt.Errorf("invalid log format %q", format)
	}
	l.SetLevel(toLogrus(level))
	if level == Off {
		l.SetLevel(logrus.PanicLevel)
	}
	return l, nil
}

type logrusOutputter struct {
	l *logrus.Logger
}

func (o logrusOutputter) Level() Level {
	switch lvl := o.l.GetLevel(); {
	case lvl >= logrus.DebugLevel:
		return Debug
	case lvl >= logrus.InfoLevel:
		return Info
	case lvl >= logrus.ErrorLevel:
		return Error
	default:
		return Off
	}
}

func (o logrusOutputter) Output(calldepth int, level Level, s string) error {
	if level > o.Level() {
		return nil
	}
	entry := logrus.NewEntry(o.l)
	if _, file, line, ok := runtime.Caller(calldepth); ok {
		entry = entry.WithField("caller", fmt.Sprintf("%s:%d", filepath.Base(file), line))
	}
	entry.Log(toLogrus(level), strings.TrimSuffix(s, "\n"))
	return nil
}

func toLogrus(level Level) logrus.Level {
	switch {
	case level >= Debug:
		return logrus.DebugLevel
	case level == Info:
		return logrus.InfoLevel
	default:
		return logrus.ErrorLevel
	}
}
