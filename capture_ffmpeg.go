package main

import (
	"context"
	"fmt"
	"image"
	"os"
	"os/exec"
	"time"
)

type ffmpegCapturer struct {
	*frameStream
	cancel context.CancelFunc
	cmd    *exec.Cmd
}

func newFFmpegCapturer(width, height int) (Capturer, string, error) {
	if !hasExecutable("ffmpeg") {
		return nil, "", fmt.Errorf("ffmpeg not found")
	}

	display := os.Getenv("DISPLAY")
	if display == "" {
		return nil, "", fmt.Errorf("DISPLAY not set")
	}

	w, h, err := screenSize()
	if err != nil {
		return nil, "", err
	}

	ctx, cancel := context.WithCancel(context.Background())

	// The area scaler averages every source pixel into the target grid.
	cmd := exec.CommandContext(ctx, "ffmpeg",
		"-nostdin",
		"-loglevel", "error",
		"-f", "x11grab",
		"-framerate", "30",
		"-video_size", fmt.Sprintf("%dx%d", w, h),
		"-i", display+".0",
		"-vf", fmt.Sprintf("scale=%d:%d:flags=area", width, height),
		"-f", "rawvideo",
		"-pix_fmt", "rgb24",
		"pipe:1",
	)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, "", fmt.Errorf("ffmpeg stdout pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		cancel()
		return nil, "", fmt.Errorf("starting ffmpeg: %w", err)
	}

	c := &ffmpegCapturer{
		frameStream: newFrameStream(width, height),
		cancel:      cancel,
		cmd:         cmd,
	}

	go c.readFrames(stdout)

	// Wait for the first frame so CaptureFrame is immediately usable.
	if err := c.waitFirst(5 * time.Second); err != nil {
		c.cancel()
		<-c.done
		_ = c.cmd.Wait()
		return nil, "", fmt.Errorf("ffmpeg: %w", err)
	}

	return c, "FFmpeg", nil
}

func (c *ffmpegCapturer) CaptureFrame() (*image.RGBA, error) {
	return c.latest()
}

func (c *ffmpegCapturer) Close() error {
	c.cancel()
	<-c.done
	return c.cmd.Wait()
}
