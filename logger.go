package texshare

import (
	"context"
	"log/slog"
	"sync/atomic"
)

// discard drops every record. Enabled reports false, so disabled calls
// never build attributes.
type discard struct{}

func (discard) Enabled(context.Context, slog.Level) bool  { return false }
func (discard) Handle(context.Context, slog.Record) error { return nil }
func (discard) WithAttrs([]slog.Attr) slog.Handler        { return discard{} }
func (discard) WithGroup(string) slog.Handler             { return discard{} }

var silent = slog.New(discard{})

// pkgLogger is read on every log call of devices created without WithLogger.
var pkgLogger atomic.Pointer[slog.Logger]

func init() {
	pkgLogger.Store(silent)
}

// SetLogger sets the logger of devices created without WithLogger. The
// change applies to existing devices too. nil silences output, which is
// the default. SetLogger may be called at any time from any goroutine.
//
// texshare logs stream lifecycle events:
//   - [slog.LevelDebug]: device setup, skipped stale registrations, throttled
//     watcher searches
//   - [slog.LevelInfo]: producer registered or closed, consumer connected,
//     producer gone, watcher state changes
//   - [slog.LevelWarn]: failed connects, reclaimed registrations, registry
//     scan and cleanup errors
//
// Every message starts with "texshare: ". Streams are identified by the
// "stream" attribute in pid/name form.
func SetLogger(l *slog.Logger) {
	if l == nil {
		l = silent
	}
	pkgLogger.Store(l)
}

// Logger returns the logger set by SetLogger.
func Logger() *slog.Logger {
	return pkgLogger.Load()
}
