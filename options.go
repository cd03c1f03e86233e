package texshare

import (
	"log/slog"
	"time"

	"github.com/gogpu/texshare/metrics"
)

// Option configures a Device or a discovery call.
//
// Example:
//
//	dev, err := texshare.NewDevice(b,
//		texshare.WithDir("/run/user/1000/texshare"),
//		texshare.WithLogger(slog.Default()),
//	)
type Option func(*options)

// options holds optional configuration for devices and discovery.
type options struct {
	dir          string
	slots        int
	metrics      *metrics.Metrics
	logger       *slog.Logger
	copyTimeout  time.Duration
	flushTimeout time.Duration
	adapter      uint64
	pid          int
}

// Default timeouts.
const (
	DefaultCopyTimeout  = 100 * time.Millisecond
	DefaultFlushTimeout = 2 * time.Second
)

// defaultOptions returns the default options.
func defaultOptions() options {
	return options{
		copyTimeout:  DefaultCopyTimeout,
		flushTimeout: DefaultFlushTimeout,
	}
}

func applyOptions(opts []Option) options {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// log returns the configured logger, or the package logger at call time.
func (o *options) log() *slog.Logger {
	if o.logger != nil {
		return o.logger
	}
	return Logger()
}

// directory returns the configured registry directory or DefaultDir.
func (o *options) directory() string {
	if o.dir != "" {
		return o.dir
	}
	return DefaultDir()
}

// WithDir sets the registry directory. All processes that share streams
// must use the same directory. The default is DefaultDir().
func WithDir(dir string) Option {
	return func(o *options) {
		o.dir = dir
	}
}

// WithSlots sets the slot count used when the registry file is created.
// An existing registry keeps its slot count.
func WithSlots(n int) Option {
	return func(o *options) {
		o.slots = n
	}
}

// WithMetrics records producer and consumer activity in m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}

// WithLogger sets a logger for the device instead of the package logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// WithCopyTimeout bounds how long Consumer.Texture retries to obtain a
// consistent copy of a frame that is being rewritten.
func WithCopyTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.copyTimeout = d
		}
	}
}

// WithFlushTimeout bounds the GPU flush performed by Producer.SignalFrame.
func WithFlushTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.flushTimeout = d
		}
	}
}

// WithAdapter restricts discovery to streams shared from adapter id. Streams
// registered with adapter zero match every filter.
func WithAdapter(id uint64) Option {
	return func(o *options) {
		o.adapter = id
	}
}

// WithPID restricts discovery to streams of one process.
func WithPID(pid int) Option {
	return func(o *options) {
		o.pid = pid
	}
}
