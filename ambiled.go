package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	exitOK    = 0
	exitFatal = 1
	exitUsage = 2
)

// options are the parsed command line flags.
type options struct {
	fps      int
	logLevel zerolog.Level
	device   string
	frames   int
	tui      bool
}

// Overridable in tests.
var (
	newCapturer = NewCapturer
	scratchDir  = filepath.Join(os.TempDir(), "ambiled")
)

func main() {
	os.Exit(run(os.Args[1:], os.Stderr))
}

func parseFlags(args []string, stderr io.Writer) (options, error) {
	fs := flag.NewFlagSet("ambiled", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fps := fs.Int("fps", defaultFPS, fmt.Sprintf("frames per second (%d-%d)", minFPS, maxFPS))
	level := fs.String("loglevel", "info", "log level: critical, error, warning, info, debug")
	device := fs.String("device", "", "serial device of the strip controller (default: autodetect)")
	frames := fs.Int("frames", 0, "stop after this many frames (0 = run until interrupted)")
	tui := fs.Bool("tui", false, "show a live monitor of the strip")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}

	o := options{fps: *fps, device: *device, frames: *frames, tui: *tui}
	if o.fps < minFPS || o.fps > maxFPS {
		return options{}, fmt.Errorf("invalid --fps %d (choose from %d-%d)", o.fps, minFPS, maxFPS)
	}
	if o.frames < 0 {
		return options{}, fmt.Errorf("invalid --frames %d", o.frames)
	}
	lvl, err := parseLogLevel(*level)
	if err != nil {
		return options{}, err
	}
	o.logLevel = lvl
	return o, nil
}

// run is the whole program. It returns the process exit code.
func run(args []string, stderr io.Writer) int {
	opts, err := parseFlags(args, stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitOK
		}
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitUsage
	}
	debug := opts.logLevel == zerolog.DebugLevel

	var console io.Writer = stderr
	logFile := ""
	if debug || opts.tui {
		if err := os.MkdirAll(scratchDir, 0o755); err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return exitFatal
		}
		logFile = filepath.Join(scratchDir, "ambiled.log")
	}
	if opts.tui {
		console = nil
	}
	closer, err := setupLogging(opts.logLevel, console, logFile)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitFatal
	}
	defer closer.Close()

	p, err := newPipeline(opts, debug)
	if err != nil {
		critical().Err(err).Msg("startup failed")
		return exitFatal
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if opts.tui {
		err = runMonitor(ctx, p)
	} else {
		err = p.run(ctx, p.opts.device, nil)
	}
	if err != nil {
		critical().Err(err).Msg("stopped")
		return exitFatal
	}
	log.Info().Msg("stopped")
	return exitOK
}

// pipeline is everything built at startup that the frame loop needs.
type pipeline struct {
	opts     options
	debug    bool
	geometry Geometry
	zones    *ZoneMap
	encoder  *Encoder
}

func newPipeline(opts options, debug bool) (*pipeline, error) {
	g := defaultGeometry
	sw, sh := 0, 0
	if samplingStrategy == StrategyDirect {
		w, h, err := screenSize()
		if err != nil {
			return nil, err
		}
		sw, sh = w, h
	}
	w, h, radius := g.SampleSize(samplingStrategy, sw, sh)
	zones, err := BuildZoneMap(g, w, h, radius)
	if err != nil {
		return nil, err
	}
	enc, err := NewEncoder(g, defaultWiring, OrderGRB)
	if err != nil {
		return nil, err
	}
	log.Debug().
		Stringer("strategy", samplingStrategy).
		Int("width", w).Int("height", h).
		Int("leds", g.Total()).
		Msg("zone map built")
	return &pipeline{opts: opts, debug: debug, geometry: g, zones: zones, encoder: enc}, nil
}

// openTransport opens the strip, simulating it in debug mode when no
// device can be opened.
func (p *pipeline) openTransport(hint string) (Transport, error) {
	return OpenTransport(TransportOptions{
		Hint:        hint,
		Simulate:    p.debug,
		SnapshotDir: scratchDir,
		Channels:    p.encoder.channels,
	})
}

// run opens the transport and the capturer and loops until ctx is done.
func (p *pipeline) run(ctx context.Context, device string, onFrame func(FrameStats)) error {
	t, err := p.openTransport(device)
	if err != nil {
		return err
	}
	return p.runWith(ctx, t, onFrame)
}

// runWith owns t for the rest of the run and closes it on return.
func (p *pipeline) runWith(ctx context.Context, t Transport, onFrame func(FrameStats)) error {
	defer func() {
		if err := t.Close(); err != nil {
			log.Warn().Err(err).Str("device", t.Name()).Msg("closing transport")
		}
	}()

	c, method, err := newCapturer(p.zones.Width, p.zones.Height)
	if err != nil {
		return err
	}
	defer c.Close()

	r, err := NewRunner(RunnerConfig{
		FPS:       p.opts.fps,
		Source:    c,
		Zones:     p.zones,
		Encoder:   p.encoder,
		Transport: t,
		MaxFrames: p.opts.frames,
		OnFrame:   onFrame,
	})
	if err != nil {
		return err
	}
	log.Info().
		Str("capture", method).
		Str("device", t.Name()).
		Int("fps", p.opts.fps).
		Dur("interval", r.Interval()).
		Msg("starting")
	return r.Run(ctx)
}
