// Package scene creates, validates and recalls the status patterns.
package scene

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/huestatus/internal/capability"
	"github.com/dokzlo13/huestatus/internal/hue"
)

// ErrSceneNotFound means the bridge no longer has the scene. Retrying cannot
// help; the pattern has to be set up again.
var ErrSceneNotFound = errors.New("scene not found on bridge")

// Handle references a scene stored on the bridge.
type Handle struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	AutoCreated   bool      `json:"auto_created"`
	LastValidated time.Time `json:"last_validated,omitempty"`
}

// Bridge is the subset of the bridge client the engine needs.
type Bridge interface {
	CreateScene(ctx context.Context, req hue.CreateSceneRequest) (string, error)
	GetScene(ctx context.Context, sceneID string) (*hue.Scene, error)
	DeleteScene(ctx context.Context, sceneID string) error
	ActivateScene(ctx context.Context, groupID, sceneID string) error
}

// Options configures an Engine.
type Options struct {
	Group          string  // group used for recall (default: hue.DefaultGroup)
	TransitionTime *uint16 // deciseconds; nil leaves the bridge default
	Now            func() time.Time
}

// Engine manages status patterns on one bridge. Within one engine a pattern
// is created at most once; later calls reuse the handle until Invalidate.
type Engine struct {
	bridge  Bridge
	opts    Options
	handles map[string]Handle
}

// NewEngine creates a scene engine.
func NewEngine(bridge Bridge, opts Options) *Engine {
	if opts.Group == "" {
		opts.Group = hue.DefaultGroup
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Engine{
		bridge:  bridge,
		opts:    opts,
		handles: make(map[string]Handle),
	}
}

// Invalidate forgets the handle for name; the next CreatePattern creates a
// new scene.
func (e *Engine) Invalidate(name string) {
	delete(e.handles, name)
}

// CreatePattern builds the pattern for lights and stores it on the bridge
// with a single creation request. A handle already known to the engine is
// returned without contacting the bridge.
func (e *Engine) CreatePattern(ctx context.Context, name string, lights []capability.LightRef, tpl Template, limits capability.BridgeLimits) (Handle, *Pattern, error) {
	pattern, err := BuildPattern(name, lights, tpl)
	if err != nil {
		return Handle{}, pattern, err
	}

	if h, ok := e.handles[name]; ok {
		log.Debug().Str("pattern", name).Str("scene", h.ID).Msg("Reusing existing scene")
		return h, pattern, nil
	}

	if err := checkCapacity(limits, len(pattern.Lights)); err != nil {
		return Handle{}, pattern, fmt.Errorf("%s: %w", name, err)
	}

	id, err := e.bridge.CreateScene(ctx, pattern.Request(e.opts.TransitionTime))
	if err != nil {
		return Handle{}, pattern, fmt.Errorf("failed to create scene %s: %w", name, err)
	}

	h := Handle{
		ID:            id,
		Name:          name,
		AutoCreated:   true,
		LastValidated: e.opts.Now(),
	}
	e.handles[name] = h

	log.Info().
		Str("pattern", name).
		Str("scene", id).
		Int("lights", len(pattern.Lights)).
		Int("dropped", len(lights)-len(pattern.Lights)).
		Msg("Scene created")

	return h, pattern, nil
}

func checkCapacity(limits capability.BridgeLimits, lights int) error {
	if limits.MaxScenes == 0 && limits.MaxLightStates == 0 {
		return nil // limits unknown
	}
	if limits.AvailableScenes < 1 {
		return fmt.Errorf("%w: %d/%d scenes in use", hue.ErrCapacityExceeded, limits.MaxScenes-limits.AvailableScenes, limits.MaxScenes)
	}
	if limits.AvailableLightStates < lights {
		return fmt.Errorf("%w: %d light states needed, %d available", hue.ErrCapacityExceeded, lights, limits.AvailableLightStates)
	}
	return nil
}

// ExecutePattern recalls the scene on the configured group. Recall is
// idempotent and retried by the transport; a missing scene is reported as
// ErrSceneNotFound and never retried.
func (e *Engine) ExecutePattern(ctx context.Context, h Handle) error {
	if h.ID == "" {
		return fmt.Errorf("%s: %w", h.Name, ErrSceneNotFound)
	}

	err := e.bridge.ActivateScene(ctx, e.opts.Group, h.ID)
	if err == nil {
		return nil
	}
	if isSceneMissing(err) {
		return fmt.Errorf("%w: %s (%s): %w", ErrSceneNotFound, h.Name, h.ID, err)
	}
	return fmt.Errorf("failed to recall scene %s: %w", h.Name, err)
}

// isSceneMissing recognises the bridge's answers for an unknown scene id.
func isSceneMissing(err error) bool {
	if errors.Is(err, hue.ErrResourceNotAvailable) {
		return true
	}
	var apiErr *hue.APIError
	return errors.As(err, &apiErr) &&
		apiErr.Type == hue.ErrorTypeInvalidValue &&
		strings.Contains(apiErr.Address, "scene")
}

// ValidatePattern reports whether the scene still exists on the bridge and
// references at least one light.
func (e *Engine) ValidatePattern(ctx context.Context, h Handle) (bool, error) {
	if h.ID == "" {
		return false, nil
	}
	scene, err := e.bridge.GetScene(ctx, h.ID)
	if err != nil {
		if isSceneMissing(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to validate scene %s: %w", h.Name, err)
	}
	return len(scene.Lights) > 0, nil
}

// DeletePattern removes an auto-created scene. Scenes the user supplied are
// left alone, and a scene that is already gone is not an error.
func (e *Engine) DeletePattern(ctx context.Context, h Handle) error {
	e.Invalidate(h.Name)
	if !h.AutoCreated || h.ID == "" {
		return nil
	}
	if err := e.bridge.DeleteScene(ctx, h.ID); err != nil && !isSceneMissing(err) {
		return fmt.Errorf("failed to delete scene %s: %w", h.Name, err)
	}
	log.Info().Str("pattern", h.Name).Str("scene", h.ID).Msg("Scene deleted")
	return nil
}
