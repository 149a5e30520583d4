package main

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
)

// ErrMalformedMessage is returned when a wire message cannot be decoded.
var ErrMalformedMessage = errors.New("malformed wire message")

// messageTerminator ends every wire message so the strip firmware can find
// message boundaries on the byte stream.
const messageTerminator = '\n'

// hexPerLED is the number of characters one LED takes in a wire message.
const hexPerLED = 6

// ChannelOrder is the order in which the strip expects the color channels,
// e.g. "GRB".
type ChannelOrder [3]byte

// OrderGRB is the channel order of the reference strip firmware.
var OrderGRB = ChannelOrder{'G', 'R', 'B'}

func (o ChannelOrder) String() string { return string(o[:]) }

// put writes c into dst in channel order.
func (o ChannelOrder) put(dst []byte, c RGB) {
	for i, ch := range o {
		switch ch {
		case 'R':
			dst[i] = c.R
		case 'G':
			dst[i] = c.G
		case 'B':
			dst[i] = c.B
		}
	}
}

// get reads a color stored in channel order from src.
func (o ChannelOrder) get(src []byte) RGB {
	var c RGB
	for i, ch := range o {
		switch ch {
		case 'R':
			c.R = src[i]
		case 'G':
			c.G = src[i]
		case 'B':
			c.B = src[i]
		}
	}
	return c
}

// Wiring describes how the physical strip runs around the screen: the order
// in which the sides are chained and whether the chained sequence has to be
// reversed before transmission.
type Wiring struct {
	Sides   [4]Side
	Reverse bool
}

// The reference strip starts at the end of its wired run, so the first
// color sent lands on the last LED of the left, bottom, right, top chain.
// Top, right, bottom, left without reversal lights the wrong LEDs on the
// same hardware.
var (
	sideWiringOrder     = [4]Side{SideLeft, SideBottom, SideRight, SideTop}
	reverseBeforeEncode = true

	defaultWiring = Wiring{Sides: sideWiringOrder, Reverse: reverseBeforeEncode}
)

// Validate checks that every side appears exactly once.
func (w Wiring) Validate() error {
	var seen [4]bool
	for _, s := range w.Sides {
		if s < SideTop || s > SideLeft || seen[s] {
			return fmt.Errorf("wiring %v: want each side exactly once", w.Sides)
		}
		seen[s] = true
	}
	return nil
}

// ColorFrame is one frame of LED colors in strip transmission order.
type ColorFrame []RGB

// Encoder turns sampled zone colors into wire messages and back.
type Encoder struct {
	geometry Geometry
	wiring   Wiring
	channels ChannelOrder
	order    []ZoneID // transmission order
}

// NewEncoder precomputes the transmission order of every zone of g.
func NewEncoder(g Geometry, w Wiring, channels ChannelOrder) (*Encoder, error) {
	if err := g.Validate(); err != nil {
		return nil, err
	}
	if err := w.Validate(); err != nil {
		return nil, err
	}
	order := make([]ZoneID, 0, g.Total())
	for _, s := range w.Sides {
		order = append(order, g.Zones(s)...)
	}
	if w.Reverse {
		for i, j := 0, len(order)-1; i < j; i, j = i+1, j-1 {
			order[i], order[j] = order[j], order[i]
		}
	}
	return &Encoder{geometry: g, wiring: w, channels: channels, order: order}, nil
}

// TransmissionOrder returns the zones in the order they are sent.
func (e *Encoder) TransmissionOrder() []ZoneID {
	out := make([]ZoneID, len(e.order))
	copy(out, e.order)
	return out
}

// Order arranges colors in transmission order.
func (e *Encoder) Order(colors ZoneColors) (ColorFrame, error) {
	frame := make(ColorFrame, len(e.order))
	for i, id := range e.order {
		c, ok := colors[id]
		if !ok {
			return nil, fmt.Errorf("no color sampled for zone %s", id)
		}
		frame[i] = c
	}
	return frame, nil
}

// Encode orders colors and renders them as a wire message.
func (e *Encoder) Encode(colors ZoneColors) ([]byte, ColorFrame, error) {
	frame, err := e.Order(colors)
	if err != nil {
		return nil, nil, err
	}
	return BuildWireMessage(frame, e.channels), frame, nil
}

// Decode inverts Encode.
func (e *Encoder) Decode(msg []byte) (ZoneColors, error) {
	frame, err := ParseWireMessage(msg, e.channels)
	if err != nil {
		return nil, err
	}
	if len(frame) != len(e.order) {
		return nil, fmt.Errorf("%w: %d LEDs, want %d", ErrMalformedMessage, len(frame), len(e.order))
	}
	out := make(ZoneColors, len(frame))
	for i, id := range e.order {
		out[id] = frame[i]
	}
	return out, nil
}

// BuildWireMessage renders frame as lower-case hex, three channels per LED
// in the given channel order, followed by the message terminator.
func BuildWireMessage(frame ColorFrame, channels ChannelOrder) []byte {
	msg := make([]byte, len(frame)*hexPerLED+1)
	var raw [3]byte
	for i, c := range frame {
		channels.put(raw[:], c)
		hex.Encode(msg[i*hexPerLED:], raw[:])
	}
	msg[len(msg)-1] = messageTerminator
	return msg
}

// ParseWireMessage decodes a wire message back to true RGB colors.
func ParseWireMessage(msg []byte, channels ChannelOrder) (ColorFrame, error) {
	body, ok := bytes.CutSuffix(msg, []byte{messageTerminator})
	if !ok {
		return nil, fmt.Errorf("%w: missing terminator", ErrMalformedMessage)
	}
	if len(body)%hexPerLED != 0 {
		return nil, fmt.Errorf("%w: body length %d is not a multiple of %d", ErrMalformedMessage, len(body), hexPerLED)
	}
	frame := make(ColorFrame, len(body)/hexPerLED)
	var raw [3]byte
	for i := range frame {
		if _, err := hex.Decode(raw[:], body[i*hexPerLED:(i+1)*hexPerLED]); err != nil {
			return nil, fmt.Errorf("%w: LED %d: %v", ErrMalformedMessage, i, err)
		}
		frame[i] = channels.get(raw[:])
	}
	return frame, nil
}
