package scene

import (
	"errors"
	"fmt"
	"math"

	"github.com/dokzlo13/huestatus/internal/capability"
	"github.com/dokzlo13/huestatus/internal/hue"
)

var ErrInvalidColorState = errors.New("invalid color state")

// Brightness bounds accepted by the v1 API.
const (
	MinBrightness = 1
	MaxBrightness = 254
	MaxSaturation = 254
)

// HueSat is a hue/saturation colour. Hue spans the full uint16 range.
type HueSat struct {
	Hue uint16 `json:"hue"`
	Sat uint8  `json:"sat"`
}

// XY is a CIE 1931 chromaticity coordinate.
type XY struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// ColorState is one light's target state. Exactly one of HueSat and XY is
// set.
type ColorState struct {
	On     bool    `json:"on"`
	Bri    uint8   `json:"bri"`
	HueSat *HueSat `json:"huesat,omitempty"`
	XY     *XY     `json:"xy,omitempty"`
	Effect string  `json:"effect,omitempty"`
}

// Validate checks the state before it is sent anywhere.
func (c ColorState) Validate() error {
	switch {
	case c.HueSat != nil && c.XY != nil:
		return fmt.Errorf("%w: both hue/sat and xy set", ErrInvalidColorState)
	case c.HueSat == nil && c.XY == nil:
		return fmt.Errorf("%w: no color representation", ErrInvalidColorState)
	}
	if c.Bri < MinBrightness || c.Bri > MaxBrightness {
		return fmt.Errorf("%w: brightness %d outside %d-%d", ErrInvalidColorState, c.Bri, MinBrightness, MaxBrightness)
	}
	if c.HueSat != nil && c.HueSat.Sat > MaxSaturation {
		return fmt.Errorf("%w: saturation %d above %d", ErrInvalidColorState, c.HueSat.Sat, MaxSaturation)
	}
	if c.XY != nil && (!inUnit(c.XY.X) || !inUnit(c.XY.Y)) {
		return fmt.Errorf("%w: xy (%g, %g) outside [0, 1]", ErrInvalidColorState, c.XY.X, c.XY.Y)
	}
	return nil
}

func inUnit(v float64) bool {
	return !math.IsNaN(v) && v >= 0 && v <= 1
}

// Mode returns the representation in use.
func (c ColorState) Mode() capability.ColorMode {
	switch {
	case c.XY != nil:
		return capability.ModeXY
	case c.HueSat != nil:
		return capability.ModeHueSat
	default:
		return capability.ModeNone
	}
}

// lightState converts to the wire form. Fields of the unused representation
// are omitted, as is the effect unless one was chosen.
func (c ColorState) lightState(transition *uint16) hue.SceneLightState {
	st := hue.SceneLightState{
		On:             c.On,
		Bri:            c.Bri,
		Effect:         c.Effect,
		TransitionTime: transition,
	}
	if c.HueSat != nil {
		h, s := c.HueSat.Hue, c.HueSat.Sat
		st.Hue = &h
		st.Sat = &s
	}
	if c.XY != nil {
		st.XY = []float64{round4(c.XY.X), round4(c.XY.Y)}
	}
	return st
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}

// ClampToGamut returns the closest point to p inside gamut.
func ClampToGamut(p XY, gamut capability.Gamut) XY {
	r, g, b := gamut[0], gamut[1], gamut[2]
	if inTriangle(p, r, g, b) {
		return p
	}

	best := closestOnSegment(p, r, g)
	bestDist := dist2(p, best)
	for _, candidate := range []XY{closestOnSegment(p, g, b), closestOnSegment(p, b, r)} {
		if d := dist2(p, candidate); d < bestDist {
			best, bestDist = candidate, d
		}
	}
	return best
}

func cross(o capability.Point, a capability.Point, p XY) float64 {
	return (a.X-o.X)*(p.Y-o.Y) - (a.Y-o.Y)*(p.X-o.X)
}

func inTriangle(p XY, a, b, c capability.Point) bool {
	d1 := cross(a, b, p)
	d2 := cross(b, c, p)
	d3 := cross(c, a, p)
	hasNeg := d1 < 0 || d2 < 0 || d3 < 0
	hasPos := d1 > 0 || d2 > 0 || d3 > 0
	return !(hasNeg && hasPos)
}

func closestOnSegment(p XY, a, b capability.Point) XY {
	abx, aby := b.X-a.X, b.Y-a.Y
	lenSq := abx*abx + aby*aby
	if lenSq == 0 {
		return XY{X: a.X, Y: a.Y}
	}
	t := ((p.X-a.X)*abx + (p.Y-a.Y)*aby) / lenSq
	t = math.Max(0, math.Min(1, t))
	return XY{X: a.X + t*abx, Y: a.Y + t*aby}
}

func dist2(p, q XY) float64 {
	dx, dy := p.X-q.X, p.Y-q.Y
	return dx*dx + dy*dy
}
