package capability

import (
	"errors"
	"sort"
	"strings"
)

var ErrNoSuitableLights = errors.New("no suitable lights found")

// Criteria selects lights for status patterns.
type Criteria struct {
	RequireColor     bool
	RequireReachable bool
	ExcludeTypes     []string // matched case-insensitively
	IncludeTypes     []string // empty means any type
	IDs              []string // empty means any light
}

// StatusCriteria are the defaults for status patterns: reachable colour
// lights, sensors excluded.
func StatusCriteria() Criteria {
	return Criteria{
		RequireColor:     true,
		RequireReachable: true,
		ExcludeTypes:     []string{"Motion sensor", "Daylight"},
	}
}

// Matches reports whether light satisfies c.
func (c Criteria) Matches(light LightRef) bool {
	if c.RequireColor && Representation(light) == ModeNone {
		return false
	}
	if c.RequireReachable && !light.Reachable {
		return false
	}
	if containsFold(c.ExcludeTypes, light.Type) {
		return false
	}
	if len(c.IncludeTypes) > 0 && !containsFold(c.IncludeTypes, light.Type) {
		return false
	}
	if len(c.IDs) > 0 && !contains(c.IDs, light.ID) {
		return false
	}
	return true
}

// SelectLights returns the lights matching c, ordered by id.
func SelectLights(lights []LightRef, c Criteria) ([]LightRef, error) {
	selected := make([]LightRef, 0, len(lights))
	for _, l := range lights {
		if c.Matches(l) {
			selected = append(selected, l)
		}
	}
	if len(selected) == 0 {
		return nil, ErrNoSuitableLights
	}
	sort.Slice(selected, func(i, j int) bool {
		return lessID(selected[i].ID, selected[j].ID)
	})
	return selected, nil
}

func containsFold(list []string, s string) bool {
	for _, v := range list {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
