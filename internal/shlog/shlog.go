// Package shlog is a thin structured-logging facade over logrus,
// mirroring the shape of the teacher's own shared/logger package as
// observed at its call sites (logger.Debug(msg, logger.Ctx{...}),
// logger.AddContext(...) returning a context-bound logger) even though
// that package's own source was never part of the retrieval pack — only
// its call sites were. Every shell invocation gets a ulid-derived
// session id folded into its base context so logs from concurrent
// invocations piped through a shared aggregator can be told apart.
package shlog

import (
	"math/rand"
	"os"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"
)

// Ctx is a structured logging context, the same shape logger.Ctx takes
// at the teacher's call sites.
type Ctx map[string]any

// Logger wraps a logrus.Entry carrying a base context.
type Logger struct {
	entry *logrus.Entry
}

var base = logrus.New()

func init() {
	base.SetOutput(os.Stderr)
	base.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
}

// SetLevel sets the package-wide log level (wired to --debug in
// cmd/myshell).
func SetLevel(debug bool) {
	if debug {
		base.SetLevel(logrus.DebugLevel)
	} else {
		base.SetLevel(logrus.InfoLevel)
	}
}

// NewSession returns a Logger whose base context carries a fresh ulid
// session id, for one shell invocation's lifetime.
func NewSession() *Logger {
	entropy := ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0)
	id := ulid.MustNew(ulid.Timestamp(time.Now()), entropy)
	return &Logger{entry: base.WithField("session", id.String())}
}

// AddContext returns a Logger with additional fields merged into the
// base context, matching logger.AddContext's call shape.
func (l *Logger) AddContext(ctx Ctx) *Logger {
	return &Logger{entry: l.entry.WithFields(logrus.Fields(ctx))}
}

func (l *Logger) Debug(msg string, ctx ...Ctx) { l.log(logrus.DebugLevel, msg, ctx...) }
func (l *Logger) Info(msg string, ctx ...Ctx)  { l.log(logrus.InfoLevel, msg, ctx...) }
func (l *Logger) Warn(msg string, ctx ...Ctx)  { l.log(logrus.WarnLevel, msg, ctx...) }
func (l *Logger) Error(msg string, ctx ...Ctx) { l.log(logrus.ErrorLevel, msg, ctx...) }

func (l *Logger) log(level logrus.Level, msg string, ctx ...Ctx) {
	entry := l.entry
	if len(ctx) > 0 {
		entry = entry.WithFields(logrus.Fields(ctx[0]))
	}
	entry.Log(level, msg)
}
