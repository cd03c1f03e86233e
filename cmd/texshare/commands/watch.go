package commands

import (
	"context"
	"errors"
	"fmt"
	"image/png"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/gogpu/texshare"
)

var (
	watchPID           int
	watchName          string
	watchSnapshot      string
	watchSnapshotEvery uint64
	watchMetrics       string
	watchDuration      time.Duration
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Follow a stream, reconnecting when its producer goes away",
	Long: `Follow a stream through the connection state machine.

The watcher searches for a matching stream, connects, waits for frames and
searches again when the producer exits or stops signaling. Without --pid or
--name the first stream found is followed.

Examples:
  texshare watch
  texshare watch --name bars --snapshot frame.png --snapshot-every 60
  texshare watch --pid 4242 --metrics-addr :9464`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := GetConfig()
		if watchMetrics == "" {
			watchMetrics = cfg.MetricsAddr
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		if watchDuration > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, watchDuration)
			defer cancel()
		}
		g, gctx := errgroup.WithContext(ctx)

		if watchMetrics != "" {
			m, reg := newMetrics()
			cfg.metrics = m
			g.Go(func() error { return serveMetrics(gctx, watchMetrics, reg) })
		}

		dev, err := openDevice(cfg)
		if err != nil {
			return err
		}
		defer closeDevice(dev)

		w := dev.NewWatcher(cfg.watcherConfig("watch", selector(watchPID, watchName)))
		defer w.Close()

		r := &watchReporter{out: cmd.OutOrStdout(), snapshot: watchSnapshot, every: watchSnapshotEvery}
		g.Go(func() error { return w.Run(gctx, r.handle) })

		err = g.Wait()
		r.summary()
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil
		}
		return err
	},
}

func init() {
	f := watchCmd.Flags()
	f.IntVar(&watchPID, "pid", 0, "follow streams of this process")
	f.StringVarP(&watchName, "name", "n", "", "follow the stream with this name")
	f.StringVar(&watchSnapshot, "snapshot", "", "write frames to this PNG file")
	f.Uint64Var(&watchSnapshotEvery, "snapshot-every", 1, "write every Nth observed frame")
	f.StringVar(&watchMetrics, "metrics-addr", "", "serve Prometheus metrics on this address")
	f.DurationVar(&watchDuration, "duration", 0, "stop after this long (0 runs until interrupted)")
	rootCmd.AddCommand(watchCmd)
}

// selector returns the watcher selector for the pid and name filters.
func selector(pid int, name string) texshare.Selector {
	switch {
	case pid != 0 && name != "":
		byName := texshare.SelectByName(name)
		return func(descs []texshare.StreamDescriptor) (texshare.StreamDescriptor, bool) {
			var own []texshare.StreamDescriptor
			for _, d := range descs {
				if d.PID == pid {
					own = append(own, d)
				}
			}
			return byName(own)
		}
	case pid != 0:
		return texshare.SelectByPID(pid)
	case name != "":
		return texshare.SelectByName(name)
	}
	return texshare.SelectFirst
}

// watchReporter prints state changes and writes snapshots.
type watchReporter struct {
	out      io.Writer
	snapshot string
	every    uint64

	frames    uint64
	connected time.Time
	lost      int
}

func (r *watchReporter) handle(ev texshare.Event) error {
	if ev.Changed() {
		r.transition(ev)
	}
	if !ev.Frame {
		return nil
	}
	r.frames++
	if r.snapshot == "" || r.every == 0 || r.frames%r.every != 0 {
		return nil
	}
	if err := writeSnapshot(r.snapshot, ev.Consumer); err != nil {
		slog.Warn("snapshot failed", "path", r.snapshot, "error", err)
	}
	return nil
}

func (r *watchReporter) transition(ev texshare.Event) {
	switch ev.State {
	case texshare.Connecting:
		fmt.Fprintf(r.out, "%s %s\n", dimStyle.Render("connecting"), ev.Descriptor)
	case texshare.Connected:
		r.connected = time.Now()
		fmt.Fprintf(r.out, "%s %s\n", okStyle.Render("connected"), ev.Descriptor.Key())
	case texshare.Disconnected:
		r.lost++
		var stats texshare.ConsumerStats
		if ev.Consumer != nil {
			stats = ev.Consumer.Stats()
		}
		fmt.Fprintf(r.out, "%s %v (observed %d, skipped %d, after %s)\n", errStyle.Render("lost"), ev.Err,
			stats.Observed, stats.Skipped, time.Since(r.connected).Truncate(time.Millisecond))
	case texshare.Searching:
		if ev.Err != nil {
			fmt.Fprintf(r.out, "%s %v\n", errStyle.Render("connect failed"), ev.Err)
		} else {
			fmt.Fprintln(r.out, dimStyle.Render("searching"))
		}
	}
}

func (r *watchReporter) summary() {
	fmt.Fprintf(r.out, "%s %d frames, %d producers lost\n", dimStyle.Render("done"), r.frames, r.lost)
}

// writeSnapshot copies the consumer's latest frame into a PNG file. The
// file is replaced atomically.
func writeSnapshot(path string, c *texshare.Consumer) error {
	tex, err := c.Texture()
	if err != nil {
		return err
	}
	img, err := texshare.Image(tex)
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".snapshot-*.png")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if err := png.Encode(tmp, img); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
