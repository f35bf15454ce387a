package capability

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/huestatus/internal/hue"
)

// Fallback limits for bridges that predate /capabilities.
const (
	DefaultMaxScenes      = 200
	DefaultMaxLightStates = 2048
)

// BridgeLimits are the bridge's scene storage limits.
type BridgeLimits struct {
	MaxScenes            int `json:"max_scenes"`
	AvailableScenes      int `json:"available_scenes"`
	MaxLightStates       int `json:"max_light_states"`
	AvailableLightStates int `json:"available_light_states"`
}

// Snapshot is the result of one resolve.
type Snapshot struct {
	Lights     []LightRef   `json:"lights"`
	Limits     BridgeLimits `json:"limits"`
	ResolvedAt time.Time    `json:"resolved_at"`
}

// Light returns the light with id.
func (s *Snapshot) Light(id string) (LightRef, bool) {
	for _, l := range s.Lights {
		if l.ID == id {
			return l, true
		}
	}
	return LightRef{}, false
}

// Source is the subset of the bridge client the resolver needs.
type Source interface {
	GetLights(ctx context.Context) (map[string]hue.Light, error)
	GetCapabilities(ctx context.Context) (*hue.Capabilities, error)
}

// Resolver queries light inventory and bridge limits.
type Resolver struct {
	source Source
	now    func() time.Time
}

// NewResolver creates a resolver over source.
func NewResolver(source Source) *Resolver {
	return &Resolver{source: source, now: time.Now}
}

// Resolve fetches a fresh snapshot. A rejected credential surfaces as
// hue.ErrUnauthorized and is never retried here.
func (r *Resolver) Resolve(ctx context.Context) (*Snapshot, error) {
	lights, err := r.source.GetLights(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get lights: %w", err)
	}

	limits, err := r.limits(ctx)
	if err != nil {
		return nil, err
	}

	snap := &Snapshot{
		Lights:     make([]LightRef, 0, len(lights)),
		Limits:     limits,
		ResolvedAt: r.now(),
	}
	for id, light := range lights {
		light.ID = id
		snap.Lights = append(snap.Lights, FromLight(light))
	}
	sort.Slice(snap.Lights, func(i, j int) bool {
		return lessID(snap.Lights[i].ID, snap.Lights[j].ID)
	})

	log.Debug().
		Int("lights", len(snap.Lights)).
		Int("available_scenes", limits.AvailableScenes).
		Int("available_light_states", limits.AvailableLightStates).
		Msg("Resolved bridge capabilities")

	return snap, nil
}

func (r *Resolver) limits(ctx context.Context) (BridgeLimits, error) {
	caps, err := r.source.GetCapabilities(ctx)
	if err != nil {
		var apiErr *hue.APIError
		if errors.As(err, &apiErr) && (apiErr.Type == hue.ErrorTypeResourceNotAvailable ||
			apiErr.Type == hue.ErrorTypeMethodNotAvailable) {
			log.Warn().Msg("Bridge does not report capabilities, assuming defaults")
			return BridgeLimits{
				MaxScenes:            DefaultMaxScenes,
				AvailableScenes:      DefaultMaxScenes,
				MaxLightStates:       DefaultMaxLightStates,
				AvailableLightStates: DefaultMaxLightStates,
			}, nil
		}
		return BridgeLimits{}, fmt.Errorf("failed to get capabilities: %w", err)
	}

	return BridgeLimits{
		MaxScenes:            caps.Scenes.Total,
		AvailableScenes:      caps.Scenes.Available,
		MaxLightStates:       caps.Scenes.LightStates.Total,
		AvailableLightStates: caps.Scenes.LightStates.Available,
	}, nil
}
