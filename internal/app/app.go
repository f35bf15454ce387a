package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/huestatus/internal/config"
	"github.com/dokzlo13/huestatus/internal/hue"
	"github.com/dokzlo13/huestatus/internal/ledger"
	"github.com/dokzlo13/huestatus/internal/scene"
)

const ledgerSource = "cli"

// App is the application container for one invocation. It owns the
// persistence services and the orchestrator, and records every outcome in
// the ledger.
type App struct {
	cfg          *config.Config
	services     *Services
	orchestrator *Orchestrator
	invocationID string
}

// New creates a new App. deps may be zero.
func New(cfg *config.Config, deps Deps) (*App, error) {
	services, err := NewServices(cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStorage, err)
	}
	services.Cleanup()

	if deps.Validated == nil {
		validated := services.Validated
		if deps.Now != nil {
			validated = validated.WithClock(deps.Now)
		}
		deps.Validated = validated
	}

	return &App{
		cfg:          cfg,
		services:     services,
		orchestrator: NewOrchestrator(cfg, deps),
		invocationID: uuid.NewString(),
	}, nil
}

// InvocationID identifies this invocation in the ledger.
func (a *App) InvocationID() string {
	return a.invocationID
}

// State loads the saved bridge state. It returns ErrNotConfigured when setup
// never ran.
func (a *App) State() (*State, error) {
	st, version, err := a.services.Bridge.Get(stateID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStorage, err)
	}
	if version == 0 {
		return nil, ErrNotConfigured
	}
	return &st, nil
}

func (a *App) saveState(st *State) error {
	if err := a.services.Bridge.Set(stateID, *st); err != nil {
		return fmt.Errorf("%w: %w", ErrStorage, err)
	}
	return nil
}

// Setup runs the interactive setup and saves the result. An existing setup
// is only replaced with force; its auto-created scenes are then removed from
// the bridge after the new ones exist.
func (a *App) Setup(ctx context.Context, p Prompter, force bool) (*State, error) {
	previous, err := a.State()
	switch {
	case err == nil && !force:
		return nil, &SetupError{Step: "preflight", Err: ErrAlreadyConfigured, Hint: "pass --force to pair again and recreate the scenes"}
	case err != nil && !errors.Is(err, ErrNotConfigured):
		return nil, err
	}

	st, err := a.orchestrator.RunSetup(ctx, p)
	if err != nil {
		a.record(ledger.EventSetupFailed, map[string]any{"error": diagnostic(err)})
		return nil, err
	}

	if previous != nil {
		a.orchestrator.RemovePatterns(ctx, previous)
	}

	// Fresh scenes count as validated
	if err := a.services.Validated.Clear(); err != nil {
		log.Warn().Err(err).Msg("Failed to reset validation markers")
	}
	for key, h := range st.Patterns {
		st.Patterns[key] = a.orchestrator.markValidated(h)
	}

	if err := a.saveState(st); err != nil {
		a.record(ledger.EventSetupFailed, map[string]any{"error": diagnostic(err)})
		return nil, err
	}

	a.record(ledger.EventSetupCompleted, map[string]any{
		"bridge_id":     st.BridgeID,
		"address":       st.Address.String(),
		"discovered_by": string(st.DiscoveredBy),
		"lights":        len(st.Lights),
		"success_scene": st.Patterns[PatternSuccess].ID,
		"failure_scene": st.Patterns[PatternFailure].ID,
	})
	return st, nil
}

// Status shows the pattern for status, either PatternSuccess or
// PatternFailure.
func (a *App) Status(ctx context.Context, status string) error {
	start := time.Now()

	st, err := a.State()
	if errors.Is(err, ErrNotConfigured) {
		err = &StatusError{Pattern: status, Err: err, Hint: hintSetup}
	}
	if err == nil {
		before := st.Patterns[status].LastValidated
		err = a.orchestrator.ApplyStatus(ctx, status, st)
		if err == nil && !st.Patterns[status].LastValidated.Equal(before) {
			if serr := a.updatePatterns(st.Patterns); serr != nil {
				log.Warn().Err(serr).Msg("Failed to save validation time")
			}
		}
	}

	if err != nil {
		a.record(ledger.EventStatusFailed, map[string]any{
			"pattern": status,
			"error":   diagnostic(err),
		})
		return err
	}

	a.record(ledger.EventStatusApplied, map[string]any{
		"pattern":     status,
		"scene":       st.Patterns[status].ID,
		"duration_ms": time.Since(start).Milliseconds(),
	})
	return nil
}

// Validate checks every saved scene on the bridge.
func (a *App) Validate(ctx context.Context) (map[string]bool, error) {
	st, err := a.State()
	if err != nil {
		return nil, err
	}
	results, err := a.orchestrator.ValidatePatterns(ctx, st)
	if err != nil {
		return nil, err
	}
	if err := a.updatePatterns(st.Patterns); err != nil {
		return nil, err
	}
	return results, nil
}

// updatePatterns stores the validation times of patterns on top of the
// saved state, leaving everything else as it is on disk.
func (a *App) updatePatterns(patterns map[string]scene.Handle) error {
	err := a.services.Bridge.Update(stateID, func(cur State) State {
		if cur.Patterns == nil {
			return cur
		}
		for key, h := range patterns {
			if saved, ok := cur.Patterns[key]; ok && saved.ID == h.ID {
				cur.Patterns[key] = h
			}
		}
		return cur
	})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrStorage, err)
	}
	return nil
}

// TestPatterns recalls every pattern once, pausing between them, so the
// user can see both. The recalls are not recorded in the ledger.
func (a *App) TestPatterns(ctx context.Context, pause time.Duration) error {
	st, err := a.State()
	if err != nil {
		return err
	}
	for i, key := range []string{PatternSuccess, PatternFailure} {
		if i > 0 && pause > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(pause):
			}
		}
		if err := a.orchestrator.ApplyStatus(ctx, key, st); err != nil {
			return err
		}
	}
	return nil
}

// Doctor checks the saved setup against the bridge. The returned error is
// reserved for local failures; failed checks are reported in the Report.
func (a *App) Doctor(ctx context.Context) (*Report, error) {
	report := &Report{}

	st, err := a.State()
	if errors.Is(err, ErrNotConfigured) {
		report.add(Check{Name: "state", Err: err, Hint: hintSetup})
		return report, nil
	}
	if err != nil {
		return nil, err
	}
	if !st.Configured() {
		report.add(Check{Name: "state", Err: ErrNotConfigured, Hint: hintResetup})
		return report, nil
	}
	report.add(Check{
		Name:   "state",
		Detail: fmt.Sprintf("bridge %s, %d lights, set up %s", st.BridgeID, len(st.Lights), st.CreatedAt.Local().Format(time.DateTime)),
	})

	diagnosis := a.orchestrator.Diagnose(ctx, st)
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	report.Checks = append(report.Checks, diagnosis.Checks...)

	if err := a.updatePatterns(st.Patterns); err != nil {
		log.Warn().Err(err).Msg("Failed to save validation time")
	}
	return report, nil
}

// HistoryFilter narrows History. Zero fields match everything.
type HistoryFilter struct {
	Limit int
	Type  ledger.EventType
	Since time.Time
}

// History returns the newest ledger entries matching f.
func (a *App) History(f HistoryFilter) ([]*ledger.Entry, error) {
	var entries []*ledger.Entry
	var err error

	switch {
	case f.Type != "":
		// Entries come newest first, so the cut-off only trims the tail
		entries, err = a.services.Ledger.GetByType(f.Type, f.Limit)
		if err == nil && !f.Since.IsZero() {
			entries = newerThan(entries, f.Since)
		}
	case !f.Since.IsZero():
		entries, err = a.services.Ledger.GetByTimeRange(f.Since, time.Now(), f.Limit)
	default:
		entries, err = a.services.Ledger.GetRecent(f.Limit)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStorage, err)
	}
	return entries, nil
}

func newerThan(entries []*ledger.Entry, since time.Time) []*ledger.Entry {
	for i, e := range entries {
		if e.Timestamp.Before(since.Truncate(time.Second)) {
			return entries[:i]
		}
	}
	return entries
}

func (a *App) record(event ledger.EventType, payload map[string]any) {
	if err := a.services.Ledger.AppendWithSource(event, a.invocationID, ledgerSource, payload); err != nil {
		log.Warn().Err(err).Str("event", string(event)).Msg("Failed to record ledger event")
	}
}

func diagnostic(err error) string {
	return hue.Truncate(err.Error(), hue.MaxDiagnosticLength)
}

// Close releases all resources.
func (a *App) Close() {
	if a.orchestrator != nil {
		a.orchestrator.Close()
	}
	if a.services != nil {
		a.services.Close()
	}
}

// SignalContext creates a context that is cancelled when SIGINT or SIGTERM is received.
func SignalContext() context.Context {
	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		log.Warn().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	return ctx
}
