package scene

import "github.com/dokzlo13/huestatus/internal/capability"

// Template is a named colour recipe applied to every light in a pattern.
type Template struct {
	Name   string
	Hue    uint16
	Sat    uint8
	Bri    uint8
	XY     XY
	Effect string // optional; kept only for lights that confirm support
}

// Built-in templates.
var (
	Success = Template{
		Name: "success",
		Hue:  21845, // 120°
		Sat:  254,
		Bri:  254,
		XY:   XY{X: 0.409, Y: 0.518},
	}
	Failure = Template{
		Name: "failure",
		Hue:  0,
		Sat:  254,
		Bri:  254,
		XY:   XY{X: 0.675, Y: 0.322},
	}
)

// WithEffect returns a copy of t that requests effect.
func (t Template) WithEffect(effect string) Template {
	t.Effect = effect
	return t
}

// StateFor builds the state of t for light in the light's own colour
// representation. It reports false when the light cannot show colour.
func (t Template) StateFor(light capability.LightRef) (ColorState, bool) {
	state := ColorState{On: true, Bri: t.Bri}

	switch capability.Representation(light) {
	case capability.ModeXY:
		xy := ClampToGamut(t.XY, *light.Gamut)
		state.XY = &xy
	case capability.ModeHueSat:
		state.HueSat = &HueSat{Hue: t.Hue, Sat: t.Sat}
	default:
		return ColorState{}, false
	}

	if t.Effect != "" && t.Effect != capability.EffectNone && light.SupportsEffect(t.Effect) {
		state.Effect = t.Effect
	}
	return state, true
}
