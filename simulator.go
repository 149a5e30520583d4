package main

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	snapshotName     = "strip.png"
	snapshotInterval = time.Second
)

// simulatedTransport stands in for the strip when no device is attached.
// It logs every message and periodically renders the strip as an image with
// one pixel per LED in transmission order.
type simulatedTransport struct {
	dir      string
	channels ChannelOrder
	every    time.Duration
	now      func() time.Time

	frames   int
	lastSnap time.Time
}

func newSimulatedTransport(dir string, channels ChannelOrder) *simulatedTransport {
	if channels == (ChannelOrder{}) {
		channels = OrderGRB
	}
	return &simulatedTransport{
		dir:      dir,
		channels: channels,
		every:    snapshotInterval,
		now:      time.Now,
	}
}

func (s *simulatedTransport) Write(msg []byte) error {
	s.frames++
	frame, err := ParseWireMessage(msg, s.channels)
	if err != nil {
		return fmt.Errorf("simulated strip: %w", err)
	}
	log.Debug().Int("frame", s.frames).Int("leds", len(frame)).Bytes("wire", msg[:len(msg)-1]).Msg("simulated write")

	if s.dir == "" {
		return nil
	}
	now := s.now()
	if !s.lastSnap.IsZero() && now.Sub(s.lastSnap) < s.every {
		return nil
	}
	s.lastSnap = now
	if err := writeStripPreview(filepath.Join(s.dir, snapshotName), frame); err != nil {
		log.Warn().Err(err).Msg("cannot write strip preview")
	}
	return nil
}

func (s *simulatedTransport) Close() error {
	log.Debug().Int("frames", s.frames).Msg("simulated strip closed")
	return nil
}

func (s *simulatedTransport) Name() string {
	return "simulated"
}

// writeStripPreview saves frame as a len(frame) x 1 PNG. The file is
// replaced atomically so viewers never see a partial image.
func writeStripPreview(path string, frame ColorFrame) error {
	if len(frame) == 0 {
		return nil
	}
	img := image.NewRGBA(image.Rect(0, 0, len(frame), 1))
	for i, c := range frame {
		img.SetRGBA(i, 0, color.RGBA{R: c.R, G: c.G, B: c.B, A: 0xff})
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".strip-*.png")
	if err != nil {
		return err
	}
	if err := png.Encode(tmp, img); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}
