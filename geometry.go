package main

import (
	"errors"
	"fmt"
)

// ErrInvalidGeometry is returned when a strip layout or capture size cannot
// produce one distinct sampling position per zone.
var ErrInvalidGeometry = errors.New("invalid geometry")

// Side identifies one edge of the screen.
type Side int

const (
	SideTop Side = iota
	SideRight
	SideBottom
	SideLeft
)

var sideNames = [...]string{"top", "right", "bottom", "left"}

func (s Side) String() string {
	if s < SideTop || s > SideLeft {
		return fmt.Sprintf("side(%d)", int(s))
	}
	return sideNames[s]
}

// prefix is the short LED name prefix used in zone identifiers.
func (s Side) prefix() string {
	return sideNames[s][:1]
}

// horizontal reports whether zones on this side run along the x axis.
func (s Side) horizontal() bool {
	return s == SideTop || s == SideBottom
}

// ZoneID names one LED's sampling region, e.g. t0 or l8.
type ZoneID struct {
	Side  Side
	Index int
}

func (z ZoneID) String() string {
	return fmt.Sprintf("%s%d", z.Side.prefix(), z.Index)
}

// Geometry holds the number of LEDs on each side of the screen.
type Geometry struct {
	Top, Right, Bottom, Left int
}

// defaultGeometry is the strip fitted to the reference screen.
var defaultGeometry = Geometry{Top: 12, Right: 9, Bottom: 12, Left: 9}

// Count returns the number of zones on side s.
func (g Geometry) Count(s Side) int {
	switch s {
	case SideTop:
		return g.Top
	case SideRight:
		return g.Right
	case SideBottom:
		return g.Bottom
	case SideLeft:
		return g.Left
	}
	return 0
}

// Total returns the number of LEDs on the whole strip.
func (g Geometry) Total() int {
	return g.Top + g.Right + g.Bottom + g.Left
}

// Zones returns the zone identifiers of side s in sampling order.
func (g Geometry) Zones(s Side) []ZoneID {
	n := g.Count(s)
	ids := make([]ZoneID, n)
	for i := range ids {
		ids[i] = ZoneID{Side: s, Index: i}
	}
	return ids
}

// Validate checks that every side has at least one zone.
func (g Geometry) Validate() error {
	for s := SideTop; s <= SideLeft; s++ {
		if g.Count(s) <= 0 {
			return fmt.Errorf("%w: %s side has %d zones", ErrInvalidGeometry, s, g.Count(s))
		}
	}
	return nil
}

// horizontalZones is the widest of the top and bottom sides.
func (g Geometry) horizontalZones() int {
	return max(g.Top, g.Bottom)
}

// verticalZones is the tallest of the left and right sides.
func (g Geometry) verticalZones() int {
	return max(g.Left, g.Right)
}

// Strategy selects how a captured frame is reduced to one color per zone.
type Strategy int

const (
	// StrategyDownsample resizes the frame so that one pixel is one zone.
	StrategyDownsample Strategy = iota
	// StrategyDirect samples a block around each zone in the full frame.
	StrategyDirect
)

func (s Strategy) String() string {
	switch s {
	case StrategyDownsample:
		return "downsample"
	case StrategyDirect:
		return "direct"
	}
	return fmt.Sprintf("strategy(%d)", int(s))
}

const (
	samplingStrategy = StrategyDownsample
	// directBlockRadius is the half-size of the averaged block for StrategyDirect.
	directBlockRadius = 4
)

// SampleSize returns the frame size the capturer must deliver for strategy st.
// For StrategyDirect the screen size is used as given.
func (g Geometry) SampleSize(st Strategy, screenW, screenH int) (w, h, radius int) {
	if st == StrategyDirect {
		return screenW, screenH, directBlockRadius
	}
	return max(2, g.horizontalZones()), g.verticalZones() + 2, 0
}
