package main

import (
	"bytes"
	"context"
	"errors"
	"image"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	now    time.Time
	sleeps []time.Duration
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Sleep(_ context.Context, d time.Duration) {
	c.sleeps = append(c.sleeps, d)
	c.now = c.now.Add(d)
}

// fakeSource returns frame and advances the clock by work on every capture.
type fakeSource struct {
	clock  *fakeClock
	frame  *image.RGBA
	work   time.Duration
	err    error
	calls  int
	onCall func(n int)
}

func (s *fakeSource) CaptureFrame() (*image.RGBA, error) {
	s.calls++
	if s.onCall != nil {
		s.onCall(s.calls)
	}
	if s.clock != nil {
		s.clock.now = s.clock.now.Add(s.work)
	}
	return s.frame, s.err
}

type fakeTransport struct {
	msgs [][]byte
	err  error
}

func (t *fakeTransport) Write(msg []byte) error {
	if t.err != nil {
		return t.err
	}
	t.msgs = append(t.msgs, msg)
	return nil
}

func (t *fakeTransport) Close() error { return nil }
func (t *fakeTransport) Name() string { return "fake" }

type runnerFixture struct {
	clock     *fakeClock
	source    *fakeSource
	transport *fakeTransport
	cfg       RunnerConfig
}

func newRunnerFixture(t *testing.T, fps int, work time.Duration) *runnerFixture {
	t.Helper()
	g := Geometry{Top: 4, Right: 2, Bottom: 4, Left: 2}
	w, h, r := g.SampleSize(StrategyDownsample, 0, 0)
	zm, err := BuildZoneMap(g, w, h, r)
	require.NoError(t, err)
	enc, err := NewEncoder(g, defaultWiring, OrderGRB)
	require.NoError(t, err)

	f := &runnerFixture{
		clock:     &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)},
		transport: &fakeTransport{},
	}
	f.source = &fakeSource{clock: f.clock, frame: gradientFrame(w, h), work: work}
	f.cfg = RunnerConfig{
		FPS:       fps,
		Source:    f.source,
		Zones:     zm,
		Encoder:   enc,
		Transport: f.transport,
		Clock:     f.clock,
	}
	return f
}

func TestFrameInterval(t *testing.T) {
	assert.Equal(t, time.Second, FrameInterval(1))
	assert.Equal(t, 41666666*time.Nanosecond, FrameInterval(24))
	assert.Equal(t, 33333333*time.Nanosecond, FrameInterval(30))
}

func TestNewRunner_Validation(t *testing.T) {
	f := newRunnerFixture(t, 24, 0)

	for _, fps := range []int{0, -1, 31, 120} {
		cfg := f.cfg
		cfg.FPS = fps
		_, err := NewRunner(cfg)
		assert.Error(t, err, "fps %d", fps)
	}

	cfg := f.cfg
	cfg.Transport = nil
	_, err := NewRunner(cfg)
	assert.Error(t, err)

	cfg = f.cfg
	cfg.Clock = nil
	r, err := NewRunner(cfg)
	require.NoError(t, err)
	assert.Equal(t, realClock{}, r.cfg.Clock)
	assert.Equal(t, FrameInterval(24), r.Interval())
}

func TestRunner_SleepsRemainderOfInterval(t *testing.T) {
	f := newRunnerFixture(t, 24, 10*time.Millisecond)
	f.cfg.MaxFrames = 4
	var stats []FrameStats
	f.cfg.OnFrame = func(s FrameStats) { stats = append(stats, s) }

	r, err := NewRunner(f.cfg)
	require.NoError(t, err)
	require.NoError(t, r.Run(context.Background()))

	// No sleep after the last frame.
	require.Len(t, f.clock.sleeps, 3)
	for _, d := range f.clock.sleeps {
		assert.Equal(t, 31666666*time.Nanosecond, d)
	}
	require.Len(t, stats, 4)
	for i, s := range stats {
		assert.Equal(t, i+1, s.Index)
		assert.Equal(t, 10*time.Millisecond, s.Work)
		assert.False(t, s.Overrun)
		assert.Len(t, s.Colors, 12)
	}
	assert.Len(t, f.transport.msgs, 4)
	assert.Equal(t, StateStopped, r.State())
}

func TestRunner_OverrunSkipsSleep(t *testing.T) {
	f := newRunnerFixture(t, 30, 50*time.Millisecond)
	f.cfg.MaxFrames = 3
	overruns := 0
	f.cfg.OnFrame = func(s FrameStats) {
		if s.Overrun {
			overruns++
		}
		assert.Zero(t, s.Sleep)
	}

	r, err := NewRunner(f.cfg)
	require.NoError(t, err)
	require.NoError(t, r.Run(context.Background()))

	assert.Empty(t, f.clock.sleeps)
	assert.Equal(t, 3, overruns)
	assert.Len(t, f.transport.msgs, 3)
}

func TestRunner_MessagesMatchEncoder(t *testing.T) {
	f := newRunnerFixture(t, 24, 0)
	f.cfg.MaxFrames = 1

	r, err := NewRunner(f.cfg)
	require.NoError(t, err)
	require.NoError(t, r.Run(context.Background()))

	require.Len(t, f.transport.msgs, 1)
	assert.Equal(t, "0030ab0020ab0010ab0000ab2030ab1030ab3030ab3020ab3010ab3000ab2000ab1000ab\n", string(f.transport.msgs[0]))
}

func TestRunner_CancelDuringFrameDropsMessage(t *testing.T) {
	f := newRunnerFixture(t, 24, time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.source.onCall = func(n int) {
		if n == 3 {
			cancel()
		}
	}

	r, err := NewRunner(f.cfg)
	require.NoError(t, err)
	require.NoError(t, r.Run(ctx))

	assert.Equal(t, 3, f.source.calls)
	assert.Len(t, f.transport.msgs, 2)
	assert.Equal(t, StateStopped, r.State())
}

func TestRunner_AlreadyCancelled(t *testing.T) {
	f := newRunnerFixture(t, 24, 0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r, err := NewRunner(f.cfg)
	require.NoError(t, err)
	require.NoError(t, r.Run(ctx))

	assert.Zero(t, f.source.calls)
	assert.Empty(t, f.transport.msgs)
}

func TestRunner_Errors(t *testing.T) {
	t.Run("capture", func(t *testing.T) {
		f := newRunnerFixture(t, 24, 0)
		f.source.err = errors.New("display gone")
		r, err := NewRunner(f.cfg)
		require.NoError(t, err)

		err = r.Run(context.Background())
		assert.ErrorIs(t, err, f.source.err)
		assert.Contains(t, err.Error(), "frame 1: capturing")
	})

	t.Run("dimension mismatch", func(t *testing.T) {
		f := newRunnerFixture(t, 24, 0)
		f.source.frame = gradientFrame(10, 10)
		r, err := NewRunner(f.cfg)
		require.NoError(t, err)

		assert.ErrorIs(t, r.Run(context.Background()), ErrDimensionMismatch)
		assert.Empty(t, f.transport.msgs)
	})

	t.Run("write", func(t *testing.T) {
		f := newRunnerFixture(t, 24, 0)
		f.transport.err = errors.New("device unplugged")
		r, err := NewRunner(f.cfg)
		require.NoError(t, err)

		err = r.Run(context.Background())
		assert.ErrorIs(t, err, f.transport.err)
		assert.Equal(t, StateStopped, r.State())
	})
}

func TestRunner_RunTwice(t *testing.T) {
	f := newRunnerFixture(t, 24, 0)
	f.cfg.MaxFrames = 1
	r, err := NewRunner(f.cfg)
	require.NoError(t, err)
	assert.Equal(t, StateIdle, r.State())

	require.NoError(t, r.Run(context.Background()))
	err = r.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "stopped")
}

func TestRunner_StateDuringRun(t *testing.T) {
	f := newRunnerFixture(t, 24, 0)
	f.cfg.MaxFrames = 2
	var seen []RunnerState
	r, err := NewRunner(f.cfg)
	require.NoError(t, err)
	f.source.onCall = func(int) { seen = append(seen, r.State()) }

	require.NoError(t, r.Run(context.Background()))
	assert.Equal(t, []RunnerState{StateRunning, StateRunning}, seen)
	assert.Equal(t, "stopped", r.State().String())
}

func TestRunner_LogsFrameTimingAtInfo(t *testing.T) {
	origLogger, origLevel := log.Logger, zerolog.GlobalLevel()
	t.Cleanup(func() {
		log.Logger = origLogger
		zerolog.SetGlobalLevel(origLevel)
	})
	var out bytes.Buffer
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	log.Logger = zerolog.New(&out)

	f := newRunnerFixture(t, 24, 10*time.Millisecond)
	f.cfg.MaxFrames = 2
	r, err := NewRunner(f.cfg)
	require.NoError(t, err)
	require.NoError(t, r.Run(context.Background()))

	logged := out.String()
	assert.Contains(t, logged, "Run #1: 10.000 ms")
	assert.Contains(t, logged, "Sleep: 31.667 ms")
	assert.Contains(t, logged, "Run #2: 10.000 ms")
	assert.NotContains(t, logged, `"level":"debug"`)
}
