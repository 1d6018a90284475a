// Package xclog is the gateway's logging sink: standard output (or
// stderr for errors) when running attached to a terminal, syslog when
// daemonised — mirroring the original gateway's Info/Error split between
// vprintf/vfprintf and vsyslog.
package xclog

import (
	"fmt"
	"log"
	"log/syslog"
	"os"
	"sync/atomic"
)

// Logger writes informational and error lines either to stdout/stderr or
// to syslog, and gates informational lines on a runtime-toggleable
// verbose flag (the "xcomfort/0/set/debug" MQTT topic flips it live).
type Logger struct {
	verbose atomic.Bool

	sys    *syslog.Writer
	stdout *log.Logger
	stderr *log.Logger
}

// New constructs a Logger. When daemon is true, output goes to syslog
// (LOG_DAEMON facility, tagged "xcomfortd"); otherwise it goes to
// stdout/stderr.
func New(daemon bool, verbose bool) (*Logger, error) {
	l := &Logger{
		stdout: log.New(os.Stdout, "", log.LstdFlags),
		stderr: log.New(os.Stderr, "", log.LstdFlags),
	}
	l.verbose.Store(verbose)

	if daemon {
		sys, err := syslog.New(syslog.LOG_DAEMON, "xcomfortd")
		if err != nil {
			return nil, err
		}
		l.sys = sys
	}
	return l, nil
}

// SetVerbose implements mqttbridge.VerbositySetter.
func (l *Logger) SetVerbose(v bool) {
	l.verbose.Store(v)
}

// Infof logs an informational line when verbose logging is enabled.
func (l *Logger) Infof(format string, args ...interface{}) {
	if !l.verbose.Load() {
		return
	}
	if l.sys != nil {
		l.sys.Info(fmt.Sprintf(format, args...))
		return
	}
	l.stdout.Printf(format, args...)
}

// Errorf always logs, regardless of the verbose flag.
func (l *Logger) Errorf(format string, args ...interface{}) {
	if l.sys != nil {
		l.sys.Err(fmt.Sprintf(format, args...))
		return
	}
	l.stderr.Printf(format, args...)
}
