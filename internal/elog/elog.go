// Package elog is the engine's single logging entry point: one
// package-level logrus.Logger, configured once at process start, the
// way the teacher gathered every log call behind one trace flag and
// minilog gathers every logger behind one package-level table
// (SPEC_FULL.md, AMBIENT STACK, Logging).
package elog

import (
	"os"

	"github.com/sirupsen/logrus"
)

var base = newDefault()

func newDefault() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetLevel(logrus.WarnLevel)
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	return l
}

// SetLevel parses a level name (debug/info/warn/error/fatal) and
// applies it to the package logger. Unknown names leave the level
// unchanged.
func SetLevel(name string) {
	lvl, err := logrus.ParseLevel(name)
	if err != nil {
		return
	}
	base.SetLevel(lvl)
}

// With returns an entry carrying the given fields, for call sites that
// want {node, peer, pid} attached to every line they emit.
func With(fields logrus.Fields) *logrus.Entry {
	return base.WithFields(fields)
}

func Debugf(format string, args ...interface{}) { base.Debugf(format, args...) }
func Infof(format string, args ...interface{})  { base.Infof(format, args...) }
func Warnf(format string, args ...interface{})  { base.Warnf(format, args...) }
func Errorf(format string, args ...interface{}) { base.Errorf(format, args...) }
