package main

import (
	"fmt"
	"image"
)

// ZoneMap is the precomputed sampling rectangle of every zone for one
// frame size. It is built once per run and never modified.
type ZoneMap struct {
	Width, Height int
	Radius        int

	geometry Geometry
	rects    [4][]image.Rectangle
}

// BuildZoneMap places every zone of g on the border of a width x height
// frame. Zones on the top and bottom rows are spread over the full width;
// zones on the left and right columns are spread over the rows between
// them, so corner pixels belong to the horizontal sides. Each point is grown
// by radius pixels in every direction and clipped to the frame.
func BuildZoneMap(g Geometry, width, height, radius int) (*ZoneMap, error) {
	if err := g.Validate(); err != nil {
		return nil, err
	}
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("%w: source size %dx%d", ErrInvalidGeometry, width, height)
	}
	if width < max(2, g.horizontalZones()) || height < g.verticalZones()+2 {
		return nil, fmt.Errorf("%w: source size %dx%d too small for %d+%d horizontal and %d+%d vertical zones",
			ErrInvalidGeometry, width, height, g.Top, g.Bottom, g.Left, g.Right)
	}
	if radius < 0 {
		radius = 0
	}

	zm := &ZoneMap{Width: width, Height: height, Radius: radius, geometry: g}
	bounds := image.Rect(0, 0, width, height)
	for s := SideTop; s <= SideLeft; s++ {
		n := g.Count(s)
		rects := make([]image.Rectangle, n)
		for i := 0; i < n; i++ {
			p := zonePoint(s, i, n, width, height)
			rects[i] = image.Rect(p.X-radius, p.Y-radius, p.X+radius+1, p.Y+radius+1).Intersect(bounds)
		}
		zm.rects[s] = rects
	}
	return zm, nil
}

func zonePoint(s Side, i, n, width, height int) image.Point {
	switch s {
	case SideTop:
		return image.Pt(width*i/n, 0)
	case SideBottom:
		return image.Pt(width*i/n, height-1)
	case SideLeft:
		return image.Pt(0, 1+(height-2)*i/n)
	default:
		return image.Pt(width-1, 1+(height-2)*i/n)
	}
}

// Geometry returns the layout the map was built for.
func (zm *ZoneMap) Geometry() Geometry {
	return zm.geometry
}

// Rect returns the sampling rectangle of zone id.
func (zm *ZoneMap) Rect(id ZoneID) (image.Rectangle, bool) {
	if id.Side < SideTop || id.Side > SideLeft {
		return image.Rectangle{}, false
	}
	rects := zm.rects[id.Side]
	if id.Index < 0 || id.Index >= len(rects) {
		return image.Rectangle{}, false
	}
	return rects[id.Index], true
}

// point returns the center pixel of zone id.
func (zm *ZoneMap) point(id ZoneID) (image.Point, bool) {
	if _, ok := zm.Rect(id); !ok {
		return image.Point{}, false
	}
	return zonePoint(id.Side, id.Index, zm.geometry.Count(id.Side), zm.Width, zm.Height), true
}
