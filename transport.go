package main

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"runtime"
	"time"

	"github.com/rs/zerolog/log"
	"go.bug.st/serial.v1"
)

// ErrNoSerialDeviceFound is returned by OpenTransport when no strip
// controller could be opened and simulation is not allowed.
var ErrNoSerialDeviceFound = errors.New("no serial device found")

const baudRate = 115200

// Transport delivers wire messages to the LED strip.
type Transport interface {
	Write(msg []byte) error
	Close() error
	Name() string
}

// devicePatterns lists the USB-serial device names per platform.
var devicePatterns = map[string][]string{
	"linux":   {"/dev/ttyUSB*", "/dev/ttyACM*"},
	"darwin":  {"/dev/cu.usbserial*", "/dev/cu.usbmodem*", "/dev/tty.usbserial*", "/dev/tty.usbmodem*"},
	"windows": {"COM*"},
}

// Overridable in tests.
var (
	listPorts = serial.GetPortsList
	openPort  = func(path string, mode *serial.Mode) (serialPort, error) {
		return serial.Open(path, mode)
	}
)

// serialPort is the part of serial.Port the transport uses.
type serialPort interface {
	io.WriteCloser
	ResetInputBuffer() error
}

// DiscoverDevices returns the serial ports that look like a USB-serial
// strip controller on this platform.
func DiscoverDevices() ([]string, error) {
	ports, err := listPorts()
	if err != nil {
		return nil, fmt.Errorf("listing serial ports: %w", err)
	}
	return matchDevices(ports, devicePatterns[runtime.GOOS]), nil
}

func matchDevices(ports, patterns []string) []string {
	var out []string
	for _, p := range ports {
		for _, pat := range patterns {
			if ok, _ := filepath.Match(pat, p); ok {
				out = append(out, p)
				break
			}
		}
	}
	return out
}

// TransportOptions controls device selection in OpenTransport.
type TransportOptions struct {
	// Hint is tried before any discovered device.
	Hint string
	// Simulate substitutes a simulated transport when no device opens.
	Simulate bool
	// SnapshotDir receives the strip preview of the simulated transport.
	SnapshotDir string
	// Channels is the channel order used to decode messages for the preview.
	Channels ChannelOrder
}

// OpenTransport opens the first usable strip controller. The candidates
// are, in order, the hint, the remembered device and the discovered ports.
func OpenTransport(opts TransportOptions) (Transport, error) {
	candidates, remembered := deviceCandidates(opts.Hint)

	var errs []error
	for _, path := range candidates {
		t, err := openSerial(path)
		if err != nil {
			log.Debug().Err(err).Str("device", path).Msg("cannot open device")
			errs = append(errs, err)
			if path == remembered {
				if err := ForgetDevice(path); err != nil {
					log.Debug().Err(err).Str("device", path).Msg("cannot forget device")
				}
			}
			continue
		}
		if err := RememberDevice(DeviceRecord{Path: path, BaudRate: baudRate, LastOpened: time.Now()}); err != nil {
			log.Warn().Err(err).Msg("cannot remember device")
		}
		return t, nil
	}

	if opts.Simulate {
		log.Info().Str("dir", opts.SnapshotDir).Msg("no serial device found, using simulated strip")
		return newSimulatedTransport(opts.SnapshotDir, opts.Channels), nil
	}
	if len(errs) == 0 {
		return nil, ErrNoSerialDeviceFound
	}
	return nil, fmt.Errorf("%w: %w", ErrNoSerialDeviceFound, errors.Join(errs...))
}

// deviceCandidates returns the deduplicated candidate list and the
// remembered device path, if any.
func deviceCandidates(hint string) ([]string, string) {
	var list []string
	seen := map[string]bool{}
	add := func(p string) {
		if p != "" && !seen[p] {
			seen[p] = true
			list = append(list, p)
		}
	}

	add(hint)
	var remembered string
	if rec, found, err := LastDevice(); err != nil {
		log.Debug().Err(err).Msg("cannot read remembered devices")
	} else if found {
		remembered = rec.Path
		add(rec.Path)
	}
	found, err := DiscoverDevices()
	if err != nil {
		log.Debug().Err(err).Msg("device discovery failed")
	}
	for _, p := range found {
		add(p)
	}
	return list, remembered
}

type serialTransport struct {
	port serialPort
	path string
}

func openSerial(path string) (*serialTransport, error) {
	port, err := openPort(path, &serial.Mode{BaudRate: baudRate})
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	if err := port.ResetInputBuffer(); err != nil {
		_ = port.Close()
		return nil, fmt.Errorf("resetting %s: %w", path, err)
	}
	log.Info().Str("device", path).Int("baud", baudRate).Msg("serial device opened")
	return &serialTransport{port: port, path: path}, nil
}

// Write sends msg without waiting for any acknowledgement.
func (s *serialTransport) Write(msg []byte) error {
	n, err := s.port.Write(msg)
	if err != nil {
		return fmt.Errorf("writing to %s: %w", s.path, err)
	}
	if n != len(msg) {
		return fmt.Errorf("writing to %s: short write %d of %d bytes", s.path, n, len(msg))
	}
	return nil
}

func (s *serialTransport) Close() error {
	return s.port.Close()
}

func (s *serialTransport) Name() string {
	return s.path
}
