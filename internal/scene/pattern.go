package scene

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/huestatus/internal/capability"
	"github.com/dokzlo13/huestatus/internal/hue"
)

var ErrNoUsableLights = errors.New("no selected light can show the pattern")

// Pattern is a template resolved against concrete lights.
type Pattern struct {
	Name     string
	Template Template
	Lights   []capability.LightRef
	States   map[string]ColorState
	Warnings []string
}

// BuildPattern resolves tpl for each light. Lights that cannot show the
// template are dropped with a warning; only an empty result is an error.
func BuildPattern(name string, lights []capability.LightRef, tpl Template) (*Pattern, error) {
	p := &Pattern{
		Name:     name,
		Template: tpl,
		Lights:   make([]capability.LightRef, 0, len(lights)),
		States:   make(map[string]ColorState, len(lights)),
	}

	for _, light := range lights {
		state, ok := tpl.StateFor(light)
		if !ok {
			p.warn(light, "does not support color")
			continue
		}
		if err := state.Validate(); err != nil {
			p.warn(light, err.Error())
			continue
		}
		if tpl.Effect != "" && tpl.Effect != capability.EffectNone && state.Effect == "" {
			p.Warnings = append(p.Warnings, fmt.Sprintf("light %s (%s): effect %q not supported, omitted",
				light.ID, hue.Truncate(light.Name, 64), tpl.Effect))
		}
		p.Lights = append(p.Lights, light)
		p.States[light.ID] = state
	}

	if len(p.Lights) == 0 {
		return p, fmt.Errorf("%s: %w", name, ErrNoUsableLights)
	}
	return p, nil
}

func (p *Pattern) warn(light capability.LightRef, reason string) {
	msg := fmt.Sprintf("light %s (%s) dropped: %s", light.ID, hue.Truncate(light.Name, 64), reason)
	p.Warnings = append(p.Warnings, msg)
	log.Warn().Str("pattern", p.Name).Str("light", light.ID).Msg(msg)
}

// LightIDs returns the ids of the lights in the pattern.
func (p *Pattern) LightIDs() []string {
	ids := make([]string, len(p.Lights))
	for i, l := range p.Lights {
		ids[i] = l.ID
	}
	return ids
}

// Request builds the scene creation body.
func (p *Pattern) Request(transition *uint16) hue.CreateSceneRequest {
	req := hue.CreateSceneRequest{
		Name:        p.Name,
		Lights:      p.LightIDs(),
		Recycle:     true,
		LightStates: make(map[string]hue.SceneLightState, len(p.States)),
	}
	for id, state := range p.States {
		req.LightStates[id] = state.lightState(transition)
	}
	return req
}
