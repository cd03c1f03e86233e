package commands

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	xdraw "golang.org/x/image/draw"
	"golang.org/x/sync/errgroup"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/texshare"
	"github.com/gogpu/texshare/backend"
)

var (
	muxName    string
	muxWidth   int
	muxHeight  int
	muxFPS     float64
	muxMetrics string
)

var muxCmd = &cobra.Command{
	Use:   "mux <input>...",
	Short: "Composite several streams into one broadcast",
	Long: `Follow several streams and broadcast them side by side as one stream.

Each input is "pid/name", "pid" or "name". Every input has its own
watcher, so inputs reconnect independently; a lost input shows black until
its producer is back.

Examples:
  texshare mux left right --name stereo
  texshare mux 4242/camera 4243/camera --width 1920 --height 540`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := GetConfig()
		if muxMetrics == "" {
			muxMetrics = cfg.MetricsAddr
		}
		inputs := make([]muxInput, len(args))
		for i, a := range args {
			in, err := parseInput(a)
			if err != nil {
				return err
			}
			inputs[i] = in
		}
		if muxFPS <= 0 {
			return fmt.Errorf("--fps must be positive")
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		g, gctx := errgroup.WithContext(ctx)

		if muxMetrics != "" {
			m, reg := newMetrics()
			cfg.metrics = m
			g.Go(func() error { return serveMetrics(gctx, muxMetrics, reg) })
		}

		dev, err := openDevice(cfg)
		if err != nil {
			return err
		}
		defer closeDevice(dev)

		out, err := dev.CreateTexture(muxWidth, muxHeight, gputypes.TextureFormatBGRA8Unorm, nil)
		if err != nil {
			return err
		}
		m := &muxer{dev: dev, out: out, log: cmd.OutOrStdout()}
		for i := range inputs {
			m.clear(tile(out, i, len(inputs)))
		}
		p, err := dev.CreateProducer(muxName, out)
		if err != nil {
			return err
		}
		defer p.Close()
		fmt.Fprintf(cmd.OutOrStdout(), "%s %s from %d inputs\n", okStyle.Render("broadcasting"), p.Descriptor(), len(inputs))

		for i, in := range inputs {
			w := dev.NewWatcher(cfg.watcherConfig("mux-"+strconv.Itoa(i), excludeSelf(in.selector())))
			defer w.Close()
			rect := tile(out, i, len(inputs))
			g.Go(func() error {
				return w.Run(gctx, func(ev texshare.Event) error {
					return m.handle(ev, in, rect)
				})
			})
		}
		g.Go(func() error { return m.broadcast(gctx, p, muxFPS) })

		if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s after %d frames\n", dimStyle.Render("stopped"), p.Frame())
		return nil
	},
}

func init() {
	f := muxCmd.Flags()
	f.StringVarP(&muxName, "name", "n", "mux", "output stream name")
	f.IntVar(&muxWidth, "width", 1280, "output width")
	f.IntVar(&muxHeight, "height", 360, "output height")
	f.Float64Var(&muxFPS, "fps", 30, "output frames per second")
	f.StringVar(&muxMetrics, "metrics-addr", "", "serve Prometheus metrics on this address")
	rootCmd.AddCommand(muxCmd)
}

// muxInput selects one input stream.
type muxInput struct {
	pid  int
	name string
}

func (in muxInput) String() string {
	switch {
	case in.pid != 0 && in.name != "":
		return fmt.Sprintf("%d/%s", in.pid, in.name)
	case in.pid != 0:
		return strconv.Itoa(in.pid)
	}
	return in.name
}

func (in muxInput) selector() texshare.Selector { return selector(in.pid, in.name) }

// parseInput parses "pid/name", "pid" or "name".
func parseInput(s string) (muxInput, error) {
	if s == "" {
		return muxInput{}, fmt.Errorf("empty input")
	}
	if pidStr, name, ok := strings.Cut(s, "/"); ok {
		pid, err := strconv.Atoi(pidStr)
		if err != nil || pid <= 0 {
			return muxInput{}, fmt.Errorf("input %q: invalid pid", s)
		}
		if name == "" {
			return muxInput{}, fmt.Errorf("input %q: empty name", s)
		}
		return muxInput{pid: pid, name: name}, nil
	}
	if pid, err := strconv.Atoi(s); err == nil {
		if pid <= 0 {
			return muxInput{}, fmt.Errorf("input %q: invalid pid", s)
		}
		return muxInput{pid: pid}, nil
	}
	return muxInput{name: s}, nil
}

// excludeSelf keeps the muxer from following its own output.
func excludeSelf(sel texshare.Selector) texshare.Selector {
	self := os.Getpid()
	return func(descs []texshare.StreamDescriptor) (texshare.StreamDescriptor, bool) {
		others := descs[:0:0]
		for _, d := range descs {
			if d.PID != self {
				others = append(others, d)
			}
		}
		return sel(others)
	}
}

// tile returns the rectangle of input i of n in the output.
func tile(out backend.Texture, i, n int) image.Rectangle {
	w := out.Width()
	return image.Rect(w*i/n, 0, w*(i+1)/n, out.Height())
}

// muxer composites input frames into the output texture.
type muxer struct {
	dev *texshare.Device
	out backend.Texture
	log io.Writer

	mu       sync.Mutex
	rejected map[*texshare.Consumer]bool
}

// handle updates the tile of one input. An input whose frames cannot be
// blitted into the output is reported once per connection and its tile
// stays blank; the other inputs keep running.
func (m *muxer) handle(ev texshare.Event, in muxInput, rect image.Rectangle) error {
	switch {
	case ev.Frame:
		tex, err := ev.Consumer.Texture()
		if err != nil {
			if errors.Is(err, texshare.ErrFrameBusy) {
				return nil
			}
			return err
		}
		m.mu.Lock()
		defer m.mu.Unlock()
		if err := m.dev.BlitRegion(tex, m.out, rect); err != nil {
			if !m.rejected[ev.Consumer] {
				if m.rejected == nil {
					m.rejected = make(map[*texshare.Consumer]bool)
				}
				m.rejected[ev.Consumer] = true
				fmt.Fprintf(m.log, "%s input %s: %v\n", errStyle.Render("skipped"), in, err)
			}
			m.clear(rect)
		}
	case ev.State == texshare.Connected && ev.Changed():
		fmt.Fprintf(m.log, "%s input %s: %s\n", okStyle.Render("connected"), in, ev.Descriptor)
	case ev.State == texshare.Disconnected:
		fmt.Fprintf(m.log, "%s input %s: %v\n", errStyle.Render("lost"), in, ev.Err)
		m.mu.Lock()
		delete(m.rejected, ev.Consumer)
		m.clear(rect)
		m.mu.Unlock()
	}
	return nil
}

// clear paints rect opaque black. Callers hold mu once broadcasting.
func (m *muxer) clear(rect image.Rectangle) {
	img := &image.RGBA{
		Pix:    m.out.Pixels(),
		Stride: m.out.Stride(),
		Rect:   image.Rect(0, 0, m.out.Width(), m.out.Height()),
	}
	xdraw.Draw(img, rect, image.NewUniform(color.Black), image.Point{}, xdraw.Src)
}

// broadcast signals the output at fps.
func (m *muxer) broadcast(ctx context.Context, p *texshare.Producer, fps float64) error {
	ticker := time.NewTicker(time.Duration(float64(time.Second) / fps))
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		m.mu.Lock()
		err := p.SignalFrameContext(ctx)
		m.mu.Unlock()
		if err != nil {
			return err
		}
	}
}
