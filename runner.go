package main

import (
	"context"
	"fmt"
	"image"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	minFPS     = 1
	maxFPS     = 30
	defaultFPS = 24
)

// FrameInterval returns the time budget of one frame at fps.
func FrameInterval(fps int) time.Duration {
	return time.Second / time.Duration(fps)
}

// RunnerState is the lifecycle state of a Runner.
type RunnerState int32

const (
	StateIdle RunnerState = iota
	StateRunning
	StateStopping
	StateStopped
)

func (s RunnerState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// Clock measures frame work and waits out the rest of the frame.
type Clock interface {
	Now() time.Time
	// Sleep waits for d or until ctx is done.
	Sleep(ctx context.Context, d time.Duration)
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) Sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// FrameSource supplies captured frames.
type FrameSource interface {
	CaptureFrame() (*image.RGBA, error)
}

// FrameStats describes one completed iteration.
type FrameStats struct {
	Index   int
	Work    time.Duration
	Sleep   time.Duration
	Overrun bool
	Colors  ZoneColors
	Wire    []byte
}

// RunnerConfig wires a Runner to its collaborators.
type RunnerConfig struct {
	FPS       int
	Source    FrameSource
	Zones     *ZoneMap
	Encoder   *Encoder
	Transport Transport
	Clock     Clock
	// MaxFrames stops the loop after that many frames; 0 runs until cancelled.
	MaxFrames int
	// OnFrame, if set, is called after every transmitted frame.
	OnFrame func(FrameStats)
}

// Runner drives capture, sampling, encoding and transmission at a fixed
// cadence. All work happens on the goroutine that calls Run.
type Runner struct {
	cfg      RunnerConfig
	interval time.Duration
	state    atomic.Int32
}

// NewRunner validates cfg and returns an idle Runner.
func NewRunner(cfg RunnerConfig) (*Runner, error) {
	if cfg.FPS < minFPS || cfg.FPS > maxFPS {
		return nil, fmt.Errorf("fps %d out of range %d-%d", cfg.FPS, minFPS, maxFPS)
	}
	if cfg.Source == nil || cfg.Zones == nil || cfg.Encoder == nil || cfg.Transport == nil {
		return nil, fmt.Errorf("runner: source, zones, encoder and transport are required")
	}
	if cfg.Clock == nil {
		cfg.Clock = realClock{}
	}
	return &Runner{cfg: cfg, interval: FrameInterval(cfg.FPS)}, nil
}

// Interval returns the target frame interval.
func (r *Runner) Interval() time.Duration {
	return r.interval
}

// State returns the current lifecycle state. Safe to call from any goroutine.
func (r *Runner) State() RunnerState {
	return RunnerState(r.state.Load())
}

func (r *Runner) setState(s RunnerState) {
	r.state.Store(int32(s))
	log.Debug().Stringer("state", s).Msg("runner state")
}

// Run loops until ctx is cancelled, MaxFrames is reached or a frame fails.
// Cancellation is checked before each frame and again before transmission,
// so a frame is either written whole or not at all. Cancellation is not an
// error; any other stop returns the cause.
func (r *Runner) Run(ctx context.Context) error {
	if !r.state.CompareAndSwap(int32(StateIdle), int32(StateRunning)) {
		return fmt.Errorf("runner is %s", r.State())
	}
	log.Debug().Stringer("state", StateRunning).Dur("interval", r.interval).Msg("runner state")
	defer r.setState(StateStopped)

	clock := r.cfg.Clock
	for idx := 1; ; idx++ {
		if ctx.Err() != nil {
			r.setState(StateStopping)
			return nil
		}

		start := clock.Now()
		stats, sent, err := r.frame(ctx, idx)
		if err != nil {
			r.setState(StateStopping)
			return err
		}
		if !sent {
			r.setState(StateStopping)
			return nil
		}

		stats.Work = clock.Now().Sub(start)
		stats.Sleep = r.interval - stats.Work
		log.Info().Msgf("Run #%d: %1.3f ms", idx, ms(stats.Work))
		if stats.Sleep <= 0 {
			stats.Sleep = 0
			stats.Overrun = true
			log.Debug().Int("frame", idx).Dur("work", stats.Work).Dur("interval", r.interval).Msg("frame overrun, not sleeping")
		}
		if r.cfg.OnFrame != nil {
			r.cfg.OnFrame(stats)
		}

		if r.cfg.MaxFrames > 0 && idx >= r.cfg.MaxFrames {
			r.setState(StateStopping)
			return nil
		}
		if stats.Sleep > 0 {
			log.Info().Msgf("Sleep: %1.3f ms", ms(stats.Sleep))
			clock.Sleep(ctx, stats.Sleep)
		}
	}
}

// frame performs one iteration. sent is false when ctx was cancelled after
// encoding; the message is then dropped without any I/O.
func (r *Runner) frame(ctx context.Context, idx int) (FrameStats, bool, error) {
	img, err := r.cfg.Source.CaptureFrame()
	if err != nil {
		return FrameStats{}, false, fmt.Errorf("frame %d: capturing: %w", idx, err)
	}
	if e := log.Debug(); e.Enabled() {
		e.Int("frame", idx).Stringer("average", AverageColor(img)).Msg("captured")
	}
	colors, err := Sample(img, r.cfg.Zones)
	if err != nil {
		return FrameStats{}, false, fmt.Errorf("frame %d: sampling: %w", idx, err)
	}
	msg, _, err := r.cfg.Encoder.Encode(colors)
	if err != nil {
		return FrameStats{}, false, fmt.Errorf("frame %d: encoding: %w", idx, err)
	}

	if ctx.Err() != nil {
		log.Debug().Int("frame", idx).Msg("interrupted, dropping encoded frame")
		return FrameStats{}, false, nil
	}
	if err := r.cfg.Transport.Write(msg); err != nil {
		return FrameStats{}, false, fmt.Errorf("frame %d: %w", idx, err)
	}
	return FrameStats{Index: idx, Colors: colors, Wire: msg}, true, nil
}

func ms(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
