package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/huestatus/internal/auth"
	"github.com/dokzlo13/huestatus/internal/capability"
	"github.com/dokzlo13/huestatus/internal/config"
	"github.com/dokzlo13/huestatus/internal/discovery"
	"github.com/dokzlo13/huestatus/internal/hue"
	"github.com/dokzlo13/huestatus/internal/scene"
	"github.com/dokzlo13/huestatus/internal/storage/kv"
)

// Prompter is the interactive side of setup.
type Prompter interface {
	// ManualAddress asks for a bridge address after discovery failed.
	// An empty answer gives up.
	ManualAddress(ctx context.Context, cause error) (string, error)
	// WaitForPress blocks until the user reports the link button pressed.
	WaitForPress(ctx context.Context) error
	// SelectLights picks the lights for the status patterns out of the
	// suitable candidates.
	SelectLights(ctx context.Context, candidates []capability.LightRef) ([]capability.LightRef, error)
}

// Deps are the collaborators an Orchestrator uses. Zero values select the
// production implementations.
type Deps struct {
	HTTPClient *http.Client
	Clock      auth.Clock
	MDNSQuery  discovery.QueryFunc
	Validated  kv.Bucket // recently validated scene markers; nil validates by LastValidated
	Now        func() time.Time
}

// Orchestrator runs setup and status invocations strictly in sequence.
type Orchestrator struct {
	cfg       *config.Config
	transport *hue.Transport
	deps      Deps
}

// NewOrchestrator creates an orchestrator for cfg.
func NewOrchestrator(cfg *config.Config, deps Deps) *Orchestrator {
	if deps.Clock == nil {
		deps.Clock = auth.SystemClock{}
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}

	transport := hue.NewTransport(hue.TransportConfig{
		Timeout: cfg.Bridge.Timeout.Duration(),
		Retry: hue.RetryPolicy{
			MaxAttempts: cfg.Bridge.RetryAttempts,
			Delay:       cfg.Bridge.RetryDelay.Duration(),
		},
		RateLimitRPS: cfg.Bridge.RateLimitRPS,
		HTTPClient:   deps.HTTPClient,
	})

	return &Orchestrator{cfg: cfg, transport: transport, deps: deps}
}

// Close releases idle connections.
func (o *Orchestrator) Close() {
	o.transport.Close()
}

type patternDef struct {
	key       string
	sceneName string
	template  scene.Template
}

func (o *Orchestrator) patternDefs() []patternDef {
	return []patternDef{
		{PatternSuccess, o.cfg.Scenes.SuccessName, scene.Success.WithEffect(o.cfg.Scenes.SuccessEffect)},
		{PatternFailure, o.cfg.Scenes.FailureName, scene.Failure.WithEffect(o.cfg.Scenes.FailureEffect)},
	}
}

func (o *Orchestrator) engine(client *hue.Client) *scene.Engine {
	return scene.NewEngine(client, scene.Options{
		TransitionTime: o.cfg.Scenes.TransitionDeciseconds(),
		Now:            o.deps.Now,
	})
}

// RunSetup discovers and pairs with a bridge, picks the lights and creates
// both status scenes. The returned state is not persisted.
func (o *Orchestrator) RunSetup(ctx context.Context, p Prompter) (*State, error) {
	found, err := o.discover(ctx, p)
	if err != nil {
		return nil, o.setupError(ctx, "discovery", err, hintNetwork)
	}

	client := hue.NewClient(found.Address, "", o.transport)
	credential, err := o.pair(ctx, client, p)
	if err != nil {
		return nil, o.setupError(ctx, "pairing", err, hintButton)
	}
	client = client.WithCredential(credential)

	snapshot, err := capability.NewResolver(client).Resolve(ctx)
	if err != nil {
		return nil, o.setupError(ctx, "capability check", err, "")
	}

	candidates, err := capability.SelectLights(snapshot.Lights, capability.StatusCriteria())
	if err != nil {
		return nil, o.setupError(ctx, "light selection", err, hintLights)
	}
	lights, err := p.SelectLights(ctx, candidates)
	if err == nil && len(lights) == 0 {
		err = capability.ErrNoSuitableLights
	}
	if err != nil {
		return nil, o.setupError(ctx, "light selection", err, hintLights)
	}

	patterns, err := o.createPatterns(ctx, client, lights, snapshot.Limits)
	if err != nil {
		return nil, o.setupError(ctx, "scene creation", err, "")
	}

	st := &State{
		Address:      found.Address,
		BridgeID:     found.Bridge.BridgeID,
		BridgeName:   found.Bridge.Name,
		DiscoveredBy: found.Method,
		Credential:   credential,
		Patterns:     patterns,
		CreatedAt:    o.deps.Now().UTC(),
	}
	for _, l := range lights {
		st.Lights = append(st.Lights, l.ID)
	}

	log.Info().
		Str("bridge_id", st.BridgeID).
		Str("address", st.Address.String()).
		Str("credential", st.CredentialPrefix()).
		Int("lights", len(st.Lights)).
		Msg("Setup completed")

	return st, nil
}

func (o *Orchestrator) setupError(ctx context.Context, step string, err error, hint string) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return &SetupError{Step: step, Err: err, Hint: hint}
}

func (o *Orchestrator) prober() discovery.Prober {
	// One attempt per candidate, bounded by a single transport timeout
	return &discovery.BridgeProber{Transport: o.transport.WithPolicy(hue.NoRetry())}
}

func (o *Orchestrator) strategies() ([]discovery.Strategy, error) {
	if o.cfg.Bridge.Address != "" {
		addr, err := hue.ParseAddress(o.cfg.Bridge.Address)
		if err != nil {
			return nil, err
		}
		return []discovery.Strategy{&discovery.ManualStrategy{Address: addr}}, nil
	}

	var strategies []discovery.Strategy
	if !o.cfg.Discovery.DisableRemote {
		strategies = append(strategies, &discovery.RemoteStrategy{
			URL:       o.cfg.Discovery.RemoteURL,
			Transport: o.transport,
		})
	}
	if !o.cfg.Discovery.DisableMDNS {
		strategies = append(strategies, &discovery.MDNSStrategy{
			Service: o.cfg.Discovery.MDNSService,
			Window:  o.cfg.Discovery.MDNSWindow.Duration(),
			Query:   o.deps.MDNSQuery,
		})
	}
	return strategies, nil
}

// discover runs the automatic strategies, then asks the prompter for an
// address once if all of them failed.
func (o *Orchestrator) discover(ctx context.Context, p Prompter) (*discovery.Result, error) {
	strategies, err := o.strategies()
	if err != nil {
		return nil, err
	}

	found, err := discovery.New(o.prober(), strategies...).Discover(ctx)
	if err == nil || ctx.Err() != nil || o.cfg.Bridge.Address != "" {
		return found, err
	}

	log.Warn().Err(err).Msg("Automatic discovery failed")
	answer, perr := p.ManualAddress(ctx, err)
	if perr != nil {
		return nil, errors.Join(err, perr)
	}
	if answer == "" {
		return nil, err
	}
	addr, perr := hue.ParseAddress(answer)
	if perr != nil {
		return nil, perr
	}
	return discovery.New(o.prober(), &discovery.ManualStrategy{Address: addr}).Discover(ctx)
}

func (o *Orchestrator) pair(ctx context.Context, client *hue.Client, p Prompter) (string, error) {
	instance := o.cfg.Auth.InstanceName
	if instance == "" {
		instance = uuid.NewString()[:8]
	}

	machine := auth.NewMachine(client, auth.Config{
		DeviceType:   auth.DeviceType(o.cfg.Auth.AppName, instance),
		PollInterval: o.cfg.Auth.PollInterval.Duration(),
		Deadline:     o.cfg.Auth.Deadline.Duration(),
		Clock:        o.deps.Clock,
	})
	return machine.Run(ctx, auth.ButtonSignalFunc(p.WaitForPress))
}

// createPatterns creates both scenes. If the second one fails the first is
// removed again so setup leaves nothing behind.
func (o *Orchestrator) createPatterns(ctx context.Context, client *hue.Client, lights []capability.LightRef, limits capability.BridgeLimits) (map[string]scene.Handle, error) {
	engine := o.engine(client)
	patterns := make(map[string]scene.Handle, 2)

	for _, def := range o.patternDefs() {
		h, pattern, err := engine.CreatePattern(ctx, def.sceneName, lights, def.template, limits)
		if err != nil {
			for _, created := range patterns {
				if derr := engine.DeletePattern(ctx, created); derr != nil {
					log.Warn().Err(derr).Str("scene", created.ID).Msg("Failed to remove partially created scene")
				}
			}
			return nil, err
		}
		for _, w := range pattern.Warnings {
			log.Warn().Str("pattern", def.key).Msg(w)
		}
		patterns[def.key] = h

		limits.AvailableScenes--
		limits.AvailableLightStates -= len(pattern.Lights)
	}

	return patterns, nil
}

// RemovePatterns deletes the auto-created scenes of st. Failures are logged
// and otherwise ignored.
func (o *Orchestrator) RemovePatterns(ctx context.Context, st *State) {
	if !st.Configured() {
		return
	}
	engine := o.engine(hue.NewClient(st.Address, st.Credential, o.transport))
	for key, h := range st.Patterns {
		if err := engine.DeletePattern(ctx, h); err != nil {
			log.Warn().Err(err).Str("pattern", key).Msg("Failed to delete old scene")
		}
	}
}

// ApplyStatus recalls the scene for pattern. The scene is checked first when
// it has not been validated within the configured interval. A missing scene
// or rejected credential is reported with a hint and never repaired here.
func (o *Orchestrator) ApplyStatus(ctx context.Context, pattern string, st *State) error {
	if !st.Configured() {
		return &StatusError{Pattern: pattern, Err: ErrNotConfigured, Hint: hintSetup}
	}
	h, ok := st.Patterns[pattern]
	if !ok {
		return &StatusError{Pattern: pattern, Err: fmt.Errorf("%w: %q", ErrUnknownPattern, pattern), Hint: hintResetup}
	}

	engine := o.engine(hue.NewClient(st.Address, st.Credential, o.transport))

	if o.needsValidation(h) {
		valid, err := engine.ValidatePattern(ctx, h)
		if err != nil {
			return o.statusError(pattern, err)
		}
		if !valid {
			o.forgetValidated(h)
			return o.statusError(pattern, fmt.Errorf("%w: %s (%s)", scene.ErrSceneNotFound, h.Name, h.ID))
		}
		st.Patterns[pattern] = o.markValidated(h)
	}

	if err := engine.ExecutePattern(ctx, h); err != nil {
		if errors.Is(err, scene.ErrSceneNotFound) {
			o.forgetValidated(h)
		}
		return o.statusError(pattern, err)
	}

	log.Info().Str("pattern", pattern).Str("scene", h.ID).Msg("Status applied")
	return nil
}

// ValidatePatterns checks every scene of st on the bridge.
func (o *Orchestrator) ValidatePatterns(ctx context.Context, st *State) (map[string]bool, error) {
	if !st.Configured() {
		return nil, &StatusError{Pattern: "validate", Err: ErrNotConfigured, Hint: hintSetup}
	}

	engine := o.engine(hue.NewClient(st.Address, st.Credential, o.transport))
	results := make(map[string]bool, len(st.Patterns))
	for key, h := range st.Patterns {
		valid, err := engine.ValidatePattern(ctx, h)
		if err != nil {
			return nil, o.statusError(key, err)
		}
		results[key] = valid
		if valid {
			st.Patterns[key] = o.markValidated(h)
		} else {
			o.forgetValidated(h)
		}
	}
	return results, nil
}

func (o *Orchestrator) statusError(pattern string, err error) error {
	se := &StatusError{Pattern: pattern, Err: err}
	switch {
	case errors.Is(err, scene.ErrSceneNotFound), errors.Is(err, hue.ErrUnauthorized):
		se.Hint = hintResetup
	case hue.IsTransport(err):
		se.Hint = hintNetwork
	}
	return se
}

func validationKey(h scene.Handle) string {
	return h.Name + ":" + h.ID
}

func (o *Orchestrator) needsValidation(h scene.Handle) bool {
	interval := o.cfg.Scenes.ValidationInterval.Duration()
	if interval <= 0 {
		return false
	}
	if o.deps.Validated != nil {
		fresh, err := o.deps.Validated.Exists(validationKey(h))
		if err == nil {
			return !fresh
		}
		log.Warn().Err(err).Msg("Failed to read validation marker")
	}
	return o.deps.Now().Sub(h.LastValidated) >= interval
}

func (o *Orchestrator) markValidated(h scene.Handle) scene.Handle {
	now := o.deps.Now().UTC()
	h.LastValidated = now
	if o.deps.Validated != nil {
		err := o.deps.Validated.Store(validationKey(h), now.Format(time.RFC3339), &kv.StoreOptions{
			TTL: o.cfg.Scenes.ValidationInterval.Duration(),
		})
		if err != nil {
			log.Warn().Err(err).Msg("Failed to store validation marker")
		}
	}
	return h
}

func (o *Orchestrator) forgetValidated(h scene.Handle) {
	if o.deps.Validated == nil {
		return
	}
	if _, err := o.deps.Validated.Delete(validationKey(h)); err != nil {
		log.Warn().Err(err).Msg("Failed to drop validation marker")
	}
}

// lastValidated returns when h was last confirmed on the bridge, preferring
// the marker over the saved handle.
func (o *Orchestrator) lastValidated(h scene.Handle) time.Time {
	if o.deps.Validated != nil {
		v, err := o.deps.Validated.Get(validationKey(h))
		if err != nil {
			log.Warn().Err(err).Msg("Failed to read validation marker")
		}
		if s, ok := v.(string); ok {
			if t, err := time.Parse(time.RFC3339, s); err == nil {
				return t
			}
		}
	}
	return h.LastValidated
}
