package main

import (
	"fmt"
	"image"
	"io"
	"os/exec"
	"sync"
	"time"

	"github.com/kbinani/screenshot"
)

// Capturer delivers screen frames at a fixed size.
type Capturer interface {
	CaptureFrame() (*image.RGBA, error)
	Close() error
}

// x11Capturer wraps the kbinani/screenshot-based capture and scales every
// frame itself.
type x11Capturer struct {
	width, height int
}

func (c x11Capturer) CaptureFrame() (*image.RGBA, error) {
	img, err := CaptureScreen()
	if err != nil {
		return nil, err
	}
	return resizeFrame(img, c.width, c.height), nil
}

func (x11Capturer) Close() error { return nil }

// NewCapturer tries PipeWire → FFmpeg → X11 and returns the first that works.
// Every backend delivers frames of exactly width x height pixels.
func NewCapturer(width, height int) (Capturer, string, error) {
	c, method, err := newPipeWireCapturer(width, height)
	if err == nil {
		return c, method, nil
	}

	c, method, err = newFFmpegCapturer(width, height)
	if err == nil {
		return c, method, nil
	}

	if screenshot.NumActiveDisplays() == 0 {
		return nil, "", fmt.Errorf("no capture backend available: no active displays")
	}
	return x11Capturer{width: width, height: height}, "X11", nil
}

// frameStream keeps the most recent raw RGB24 frame read from a child
// process that writes fixed-size frames to its stdout.
type frameStream struct {
	width, height int
	done          chan struct{}
	ready         chan struct{} // closed when first frame is available

	mu    sync.Mutex
	frame []byte
	err   error // why readFrames stopped
}

func newFrameStream(width, height int) *frameStream {
	return &frameStream{
		width:  width,
		height: height,
		done:   make(chan struct{}),
		ready:  make(chan struct{}),
	}
}

func (s *frameStream) frameSize() int {
	return s.width * s.height * 3
}

func (s *frameStream) readFrames(r io.Reader) {
	defer close(s.done)
	buf := make([]byte, s.frameSize())
	first := true
	for {
		_, err := io.ReadFull(r, buf)
		if err != nil {
			s.mu.Lock()
			s.err = err
			s.mu.Unlock()
			return
		}
		s.mu.Lock()
		if s.frame == nil {
			s.frame = make([]byte, len(buf))
		}
		copy(s.frame, buf)
		s.mu.Unlock()
		if first {
			close(s.ready)
			first = false
		}
	}
}

// waitFirst blocks until the first frame arrives, the stream ends or the
// timeout expires.
func (s *frameStream) waitFirst(timeout time.Duration) error {
	select {
	case <-s.ready:
		return nil
	case <-s.done:
		select {
		case <-s.ready:
			return nil
		default:
			return fmt.Errorf("stream ended before the first frame")
		}
	case <-time.After(timeout):
		return fmt.Errorf("timed out waiting for first frame")
	}
}

// latest returns a copy of the newest frame. Once the stream has ended it
// returns an error instead, so a dead capture process is never mistaken for
// a still screen.
func (s *frameStream) latest() (*image.RGBA, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case <-s.done:
		return nil, fmt.Errorf("capture stream ended: %w", s.err)
	default:
	}
	if s.frame == nil {
		return nil, fmt.Errorf("no frame captured yet")
	}
	return toRGBA(s.frame, s.width, s.height), nil
}

// toRGBA expands a raw RGB24 buffer into a new RGBA image.
func toRGBA(buf []byte, width, height int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for i, j := 0, 0; i+2 < len(buf) && j+3 < len(img.Pix); i, j = i+3, j+4 {
		img.Pix[j] = buf[i]
		img.Pix[j+1] = buf[i+1]
		img.Pix[j+2] = buf[i+2]
		img.Pix[j+3] = 0xff
	}
	return img
}

// hasExecutable reports whether the named program is on PATH.
func hasExecutable(name string) bool {
	_, err := exec.LookPath(name)
	return err == nil
}

// screenSize returns the dimensions of display 0 using kbinani/screenshot.
func screenSize() (int, int, error) {
	n := screenshot.NumActiveDisplays()
	if n == 0 {
		return 0, 0, fmt.Errorf("no active displays")
	}
	b := screenshot.GetDisplayBounds(0)
	return b.Dx(), b.Dy(), nil
}
