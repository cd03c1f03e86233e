package commands

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/gogpu/texshare"
	"github.com/gogpu/texshare/backend"
)

var (
	produceName    string
	produceWidth   int
	produceHeight  int
	produceFormat  string
	produceFPS     float64
	produceFrames  uint64
	produceMetrics string
)

var produceCmd = &cobra.Command{
	Use:   "produce",
	Short: "Broadcast an animated test pattern",
	Long: `Broadcast SMPTE color bars as a stream of this process.

A marker in the bottom band moves by one step per frame, so consumers can
see frames advance. The stream ends on interrupt, or after --frames frames.

Examples:
  texshare produce --name bars --width 1280 --height 720
  texshare produce --format r32float --fps 10 --frames 100`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := GetConfig()
		if produceMetrics == "" {
			produceMetrics = cfg.MetricsAddr
		}
		format, err := backend.ParseFormat(produceFormat)
		if err != nil {
			return err
		}
		if produceFPS <= 0 {
			return fmt.Errorf("--fps must be positive")
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		g, gctx := errgroup.WithContext(ctx)

		if produceMetrics != "" {
			m, reg := newMetrics()
			cfg.metrics = m
			g.Go(func() error { return serveMetrics(gctx, produceMetrics, reg) })
		}

		dev, err := openDevice(cfg)
		if err != nil {
			return err
		}
		defer closeDevice(dev)

		tex, err := dev.CreateTexture(produceWidth, produceHeight, format, nil)
		if err != nil {
			return err
		}
		p, err := dev.CreateProducer(produceName, tex)
		if err != nil {
			return err
		}
		defer p.Close()

		fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", okStyle.Render("broadcasting"), p.Descriptor())

		g.Go(func() error {
			defer stop()
			return runPattern(gctx, p, produceFPS, produceFrames)
		})
		if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s after %d frames\n", dimStyle.Render("stopped"), p.Frame())
		return nil
	},
}

func init() {
	f := produceCmd.Flags()
	f.StringVarP(&produceName, "name", "n", "bars", "stream name")
	f.IntVar(&produceWidth, "width", 640, "texture width")
	f.IntVar(&produceHeight, "height", 360, "texture height")
	f.StringVar(&produceFormat, "format", "bgra8unorm", "pixel format")
	f.Float64Var(&produceFPS, "fps", 60, "frames per second")
	f.Uint64Var(&produceFrames, "frames", 0, "stop after this many frames (0 runs until interrupted)")
	f.StringVar(&produceMetrics, "metrics-addr", "", "serve Prometheus metrics on this address")
	rootCmd.AddCommand(produceCmd)
}

// runPattern renders and signals frames at fps until ctx is done or limit
// frames were signaled.
func runPattern(ctx context.Context, p *texshare.Producer, fps float64, limit uint64) error {
	tex := p.Texture()
	img := image.NewRGBA(image.Rect(0, 0, tex.Width(), tex.Height()))
	ticker := time.NewTicker(time.Duration(float64(time.Second) / fps))
	defer ticker.Stop()

	for frame := uint64(1); limit == 0 || frame <= limit; frame++ {
		drawBars(img, frame)
		if err := writeImage(tex, img); err != nil {
			return err
		}
		if err := p.SignalFrameContext(ctx); err != nil {
			return err
		}
		if frame%uint64(max(fps, 1)*10) == 0 {
			slog.Info("producer", "stream", p.Name(), "frame", frame)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}
