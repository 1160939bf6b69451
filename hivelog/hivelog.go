// Package hivelog wraps the standard library logger with the small set of
// conveniences the listener core needs: a peer-scoped prefix and leveled
// helpers, without introducing a structured logging framework.
package hivelog

import (
	"io"
	"log"
	"os"
)

// Logger is a thin wrapper around *log.Logger.
type Logger struct {
	l *log.Logger
}

// New returns a Logger writing to w (os.Stderr if w is nil) with the given prefix.
func New(w io.Writer, prefix string) *Logger {
	if w == nil {
		w = os.Stderr
	}
	return &Logger{l: log.New(w, prefix, log.LstdFlags)}
}

// Default returns a Logger writing to os.Stderr with no prefix.
func Default() *Logger {
	return New(os.Stderr, "")
}

// WithPeer returns a derived Logger whose lines are prefixed with the peer id.
func (lg *Logger) WithPeer(peer string) *Logger {
	if lg == nil {
		return Default().WithPeer(peer)
	}
	return &Logger{l: log.New(lg.l.Writer(), "["+peer+"] ", log.LstdFlags)}
}

func (lg *Logger) Debugf(format string, args ...any) {
	if lg == nil {
		return
	}
	lg.l.Printf("DEBUG "+format, args...)
}

func (lg *Logger) Infof(format string, args ...any) {
	if lg == nil {
		return
	}
	lg.l.Printf("INFO "+format, args...)
}

func (lg *Logger) Warnf(format string, args ...any) {
	if lg == nil {
		return
	}
	lg.l.Printf("WARN "+format, args...)
}

func (lg *Logger) Errorf(format string, args ...any) {
	if lg == nil {
		return
	}
	lg.l.Printf("ERROR "+format, args...)
}
