// Package logging wires hopwatch's diagnostic output through a small
// leveled logger, namespaced per subsystem so HOPWATCH_LOG can filter it.
package logging

import (
	"os"
	"strings"

	"github.com/olekukonko/ll"
)

// Namespaces used across the codebase. Keeping them as constants avoids
// typos silently producing a logger nothing enables.
const (
	NSSession   = "session"
	NSTransport = "transport"
	NSConfig    = "config"
	NSEnrich    = "enrich"
	NSResolve   = "resolve"
	NSCLI       = "cli"
)

var initialized bool

// Init reads the HOPWATCH_LOG filter once at startup. The value is a
// comma-separated list of namespaces to enable, or "*"/"all" to enable
// everything. An empty or unset value enables nothing beyond warnings and
// errors, which every namespace logger emits regardless of filter state.
func Init() {
	if initialized {
		return
	}
	initialized = true

	filter := strings.TrimSpace(os.Getenv("HOPWATCH_LOG"))
	if filter == "" {
		return
	}
	if filter == "*" || strings.EqualFold(filter, "all") {
		ll.New(NSSession).Enable()
		ll.New(NSTransport).Enable()
		ll.New(NSConfig).Enable()
		ll.New(NSEnrich).Enable()
		ll.New(NSResolve).Enable()
		ll.New(NSCLI).Enable()
		return
	}
	for _, ns := range strings.Split(filter, ",") {
		ns = strings.TrimSpace(ns)
		if ns == "" {
			continue
		}
		ll.New(ns).Enable()
	}
}

// Logger is a namespace-scoped handle onto the leveled logger. Callers get
// one via New and hold onto it rather than constructing a fresh *ll.Logger
// per call site.
type Logger struct {
	l *ll.Logger
}

// New returns the logger for namespace, respecting whatever Init enabled.
func New(namespace string) *Logger {
	return &Logger{l: ll.New(namespace)}
}

func (lg *Logger) Debug(format string, args ...any) { lg.l.Debugf(format, args...) }
func (lg *Logger) Info(format string, args ...any)  { lg.l.Infof(format, args...) }
func (lg *Logger) Warn(format string, args ...any)  { lg.l.Warnf(format, args...) }
func (lg *Logger) Error(format string, args ...any) { lg.l.Errorf(format, args...) }
