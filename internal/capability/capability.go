// Package capability resolves what the bridge and its lights can do.
//
// A Snapshot is advisory: it is taken before scene creation and never cached
// beyond one run.
package capability

import (
	"strconv"
	"strings"

	"github.com/dokzlo13/huestatus/internal/hue"
)

// ColorMode is the colour representation used for a light.
type ColorMode int

const (
	ModeNone ColorMode = iota
	ModeHueSat
	ModeXY
)

// String returns a human-readable name for the mode.
func (m ColorMode) String() string {
	switch m {
	case ModeHueSat:
		return "huesat"
	case ModeXY:
		return "xy"
	default:
		return "none"
	}
}

// Point is a CIE 1931 chromaticity coordinate.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Gamut is the triangle of colours a light can show: red, green, blue.
type Gamut [3]Point

// Effect names understood by the v1 API.
const (
	EffectNone      = "none"
	EffectColorLoop = "colorloop"
)

// LightRef summarises one light's control capabilities.
type LightRef struct {
	ID                 string   `json:"id"`
	Name               string   `json:"name"`
	Type               string   `json:"type"`
	ModelID            string   `json:"model_id"`
	Reachable          bool     `json:"reachable"`
	SupportsColor      bool     `json:"supports_color"`
	SupportsBrightness bool     `json:"supports_brightness"`
	GamutType          string   `json:"gamut_type,omitempty"`
	Gamut              *Gamut   `json:"gamut,omitempty"`
	Effects            []string `json:"effects,omitempty"`
}

// SupportsEffect reports whether the light confirmed support for effect.
// "none" is always accepted.
func (l LightRef) SupportsEffect(effect string) bool {
	if effect == "" || effect == EffectNone {
		return true
	}
	for _, e := range l.Effects {
		if e == effect {
			return true
		}
	}
	return false
}

// FromLight builds a LightRef from a v1 light descriptor.
func FromLight(light hue.Light) LightRef {
	ref := LightRef{
		ID:        light.ID,
		Name:      light.Name,
		Type:      light.Type,
		ModelID:   light.ModelID,
		Reachable: light.State.Reachable != nil && *light.State.Reachable,
	}

	var control *hue.LightControl
	if light.Capabilities != nil {
		control = &light.Capabilities.Control
	}

	if control != nil {
		ref.GamutType = control.ColorGamutType
		ref.Gamut = parseGamut(control.ColorGamut)
	}

	typ := strings.ToLower(light.Type)
	ref.SupportsColor = ref.Gamut != nil || ref.GamutType != "" ||
		strings.Contains(typ, "color light") ||
		light.State.Hue != nil || len(light.State.XY) == 2
	ref.SupportsBrightness = light.State.Bri != nil ||
		(control != nil && control.MinDimLevel > 0) ||
		strings.Contains(typ, "dimmable") || ref.SupportsColor

	// Only the advertised list counts; a state.effect field alone does not
	// mean the bridge accepts an effect in a scene.
	if control != nil && len(control.Effects) > 0 {
		ref.Effects = append([]string(nil), control.Effects...)
	}

	return ref
}

func parseGamut(raw [][]float64) *Gamut {
	if len(raw) != 3 {
		return nil
	}
	var g Gamut
	for i, p := range raw {
		if len(p) != 2 || p[0] < 0 || p[0] > 1 || p[1] < 0 || p[1] > 1 {
			return nil
		}
		g[i] = Point{X: p[0], Y: p[1]}
	}
	return &g
}

// Representation picks the colour representation for a light: xy when the
// light reports a precise gamut, hue/sat for other colour lights.
func Representation(light LightRef) ColorMode {
	switch {
	case light.Gamut != nil && isKnownGamut(light.GamutType):
		return ModeXY
	case light.SupportsColor:
		return ModeHueSat
	default:
		return ModeNone
	}
}

func isKnownGamut(t string) bool {
	switch strings.ToUpper(t) {
	case "A", "B", "C":
		return true
	}
	return false
}

// lessID orders light ids numerically when both are numbers.
func lessID(a, b string) bool {
	ai, aerr := strconv.Atoi(a)
	bi, berr := strconv.Atoi(b)
	if aerr == nil && berr == nil {
		return ai < bi
	}
	return a < b
}
