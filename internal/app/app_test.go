package app

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/dokzlo13/huestatus/internal/auth"
	"github.com/dokzlo13/huestatus/internal/capability"
	"github.com/dokzlo13/huestatus/internal/config"
	"github.com/dokzlo13/huestatus/internal/discovery"
	"github.com/dokzlo13/huestatus/internal/hue"
	"github.com/dokzlo13/huestatus/internal/hue/huetest"
	"github.com/dokzlo13/huestatus/internal/ledger"
	"github.com/dokzlo13/huestatus/internal/scene"
)

type stubPrompter struct {
	manualAddress string
	manualCalls   int
	presses       int
}

func (p *stubPrompter) ManualAddress(ctx context.Context, cause error) (string, error) {
	p.manualCalls++
	return p.manualAddress, nil
}

func (p *stubPrompter) WaitForPress(ctx context.Context) error {
	p.presses++
	return nil
}

func (p *stubPrompter) SelectLights(ctx context.Context, candidates []capability.LightRef) ([]capability.LightRef, error) {
	return candidates, nil
}

func newFakeBridge(t *testing.T) *huetest.Bridge {
	t.Helper()
	bridge := huetest.NewBridge(t)
	bridge.AddLight("1", huetest.ColorLight("Desk"))
	bridge.AddLight("2", huetest.HueSatLight("Shelf"))
	bridge.AddLight("3", huetest.WhiteLight("Hall"))
	bridge.SetDiscovery([]huetest.DiscoveryEntry{{ID: huetest.BridgeID, InternalIPAddress: "192.168.1.50"}})
	return bridge
}

func testConfig(t *testing.T, bridge *huetest.Bridge) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Database.Path = filepath.Join(t.TempDir(), "huestatus.sqlite")
	cfg.Discovery.RemoteURL = bridge.DiscoveryURL()
	cfg.Discovery.DisableMDNS = true
	cfg.Auth.InstanceName = "test"
	cfg.Auth.PollInterval = config.Duration(10 * time.Millisecond)
	cfg.Bridge.RetryDelay = config.Duration(10 * time.Millisecond)
	cfg.Bridge.RateLimitRPS = 0
	return cfg
}

func TestEndToEnd_SetupThenStatus(t *testing.T) {
	bridge := newFakeBridge(t)
	bridge.SetPairFailures(3)
	cfg := testConfig(t, bridge)

	a, err := New(cfg, Deps{HTTPClient: huetest.RedirectClient(bridge.Address())})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer a.Close()

	ctx := context.Background()
	prompter := &stubPrompter{}

	st, err := a.Setup(ctx, prompter, false)
	if err != nil {
		t.Fatalf("Setup() error = %v", err)
	}

	if st.Credential != huetest.Username {
		t.Errorf("Credential = %q, want %q", st.Credential, huetest.Username)
	}
	if st.BridgeID != huetest.BridgeID || st.DiscoveredBy != discovery.MethodRemote {
		t.Errorf("bridge = %s via %s", st.BridgeID, st.DiscoveredBy)
	}
	if st.Address.Host != "192.168.1.50" {
		t.Errorf("Address = %s, want the advertised address", st.Address)
	}
	if prompter.presses != 1 {
		t.Errorf("WaitForPress called %d times, want 1", prompter.presses)
	}
	if len(st.Lights) != 2 {
		t.Errorf("Lights = %v, want the two colour lights", st.Lights)
	}
	if bridge.SceneCount() != 2 {
		t.Fatalf("bridge has %d scenes, want 2", bridge.SceneCount())
	}

	saved, err := a.State()
	if err != nil {
		t.Fatalf("State() error = %v", err)
	}
	if saved.Patterns[PatternSuccess].ID != st.Patterns[PatternSuccess].ID {
		t.Errorf("saved success scene = %q, want %q", saved.Patterns[PatternSuccess].ID, st.Patterns[PatternSuccess].ID)
	}

	if err := a.Status(ctx, PatternSuccess); err != nil {
		t.Fatalf("Status(success) error = %v", err)
	}
	if got := bridge.Calls("PUT groups/0/action"); got != 1 {
		t.Errorf("group actions = %d, want 1", got)
	}
	if got := bridge.Calls("GET scenes/:id"); got != 0 {
		t.Errorf("freshly created scene was validated %d times", got)
	}
	if recalled := bridge.Recalled(); len(recalled) != 1 || recalled[0] != st.Patterns[PatternSuccess].ID {
		t.Errorf("Recalled() = %v", recalled)
	}

	history, err := a.History(HistoryFilter{Limit: 10})
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != 2 {
		t.Fatalf("History() = %d entries, want 2", len(history))
	}
	types := map[ledger.EventType]bool{}
	for _, e := range history {
		types[e.EventType] = true
		if e.InvocationID != a.InvocationID() {
			t.Errorf("entry %d has invocation %q", e.ID, e.InvocationID)
		}
	}
	if !types[ledger.EventSetupCompleted] || !types[ledger.EventStatusApplied] {
		t.Errorf("History() types = %v", types)
	}
}

func TestStatus_SceneMissingIsNotRepaired(t *testing.T) {
	bridge := newFakeBridge(t)
	cfg := testConfig(t, bridge)

	a, err := New(cfg, Deps{HTTPClient: huetest.RedirectClient(bridge.Address())})
	if err != nil {
		t.Fatal(err)
	}
	defer a.Close()

	ctx := context.Background()
	if _, err := a.Setup(ctx, &stubPrompter{}, false); err != nil {
		t.Fatalf("Setup() error = %v", err)
	}

	bridge.DeleteAllScenes()

	err = a.Status(ctx, PatternFailure)
	if !errors.Is(err, scene.ErrSceneNotFound) {
		t.Fatalf("Status() error = %v, want ErrSceneNotFound", err)
	}
	var statusErr *StatusError
	if !errors.As(err, &statusErr) || statusErr.Hint == "" {
		t.Errorf("Status() error %v carries no hint", err)
	}
	if Classify(err) != CategoryScene {
		t.Errorf("Classify() = %s, want scene", Classify(err))
	}
	if got := bridge.Calls("PUT groups/0/action"); got != 1 {
		t.Errorf("group actions = %d, a missing scene must not be retried", got)
	}
	if got := bridge.Calls("POST scenes"); got != 2 {
		t.Errorf("scene creations = %d, a missing scene must not be recreated", got)
	}

	failed, _ := a.services.Ledger.GetByType(ledger.EventStatusFailed, 10)
	if len(failed) != 1 || failed[0].Payload["pattern"] != PatternFailure {
		t.Errorf("status_failed entries = %v", failed)
	}
}

func TestSetup_RequiresForceToReplace(t *testing.T) {
	bridge := newFakeBridge(t)
	cfg := testConfig(t, bridge)

	a, err := New(cfg, Deps{HTTPClient: huetest.RedirectClient(bridge.Address())})
	if err != nil {
		t.Fatal(err)
	}
	defer a.Close()

	ctx := context.Background()
	first, err := a.Setup(ctx, &stubPrompter{}, false)
	if err != nil {
		t.Fatalf("Setup() error = %v", err)
	}

	if _, err := a.Setup(ctx, &stubPrompter{}, false); !errors.Is(err, ErrAlreadyConfigured) {
		t.Fatalf("second Setup() error = %v, want ErrAlreadyConfigured", err)
	}

	second, err := a.Setup(ctx, &stubPrompter{}, true)
	if err != nil {
		t.Fatalf("forced Setup() error = %v", err)
	}
	if second.Patterns[PatternSuccess].ID == first.Patterns[PatternSuccess].ID {
		t.Error("forced setup must create new scenes")
	}
	if _, ok := bridge.Scene(first.Patterns[PatternSuccess].ID); ok {
		t.Error("old auto-created scene was not removed")
	}
	if bridge.SceneCount() != 2 {
		t.Errorf("bridge has %d scenes, want 2", bridge.SceneCount())
	}
}

func TestStatus_NotConfigured(t *testing.T) {
	bridge := newFakeBridge(t)
	a, err := New(testConfig(t, bridge), Deps{HTTPClient: huetest.RedirectClient(bridge.Address())})
	if err != nil {
		t.Fatal(err)
	}
	defer a.Close()

	err = a.Status(context.Background(), PatternSuccess)
	if !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("Status() error = %v, want ErrNotConfigured", err)
	}
	if Hint(err) == "" || Classify(err) != CategoryConfig {
		t.Errorf("hint %q, category %s", Hint(err), Classify(err))
	}
}

func TestRunSetup_ManualFallback(t *testing.T) {
	bridge := newFakeBridge(t)
	cfg := testConfig(t, bridge)
	cfg.Discovery.DisableRemote = true

	o := NewOrchestrator(cfg, Deps{})
	defer o.Close()

	prompter := &stubPrompter{manualAddress: bridge.Address().String()}
	st, err := o.RunSetup(context.Background(), prompter)
	if err != nil {
		t.Fatalf("RunSetup() error = %v", err)
	}
	if prompter.manualCalls != 1 {
		t.Errorf("ManualAddress called %d times, want 1", prompter.manualCalls)
	}
	if st.DiscoveredBy != discovery.MethodManual {
		t.Errorf("DiscoveredBy = %s, want manual", st.DiscoveredBy)
	}
}

func TestRunSetup_DiscoveryGivesUp(t *testing.T) {
	bridge := newFakeBridge(t)
	cfg := testConfig(t, bridge)
	cfg.Discovery.DisableRemote = true

	o := NewOrchestrator(cfg, Deps{})
	defer o.Close()

	_, err := o.RunSetup(context.Background(), &stubPrompter{})
	if !errors.Is(err, discovery.ErrAllMethodsFailed) {
		t.Fatalf("RunSetup() error = %v, want ErrAllMethodsFailed", err)
	}
	if Classify(err) != CategoryNetwork || Hint(err) == "" {
		t.Errorf("category %s, hint %q", Classify(err), Hint(err))
	}
}

func TestRunSetup_PairingRejected(t *testing.T) {
	bridge := newFakeBridge(t)
	bridge.SetPairError(&hue.APIError{Type: hue.ErrorTypeInvalidValue, Address: "/devicetype", Description: "invalid value"})
	cfg := testConfig(t, bridge)

	o := NewOrchestrator(cfg, Deps{HTTPClient: huetest.RedirectClient(bridge.Address())})
	defer o.Close()

	_, err := o.RunSetup(context.Background(), &stubPrompter{})
	if !errors.Is(err, auth.ErrRejected) {
		t.Fatalf("RunSetup() error = %v, want ErrRejected", err)
	}
	if Classify(err) != CategoryAuth {
		t.Errorf("Classify() = %s, want auth", Classify(err))
	}
	if bridge.SceneCount() != 0 {
		t.Error("rejected pairing must not create scenes")
	}
}

func TestApplyStatus_ValidatesStaleScene(t *testing.T) {
	bridge := newFakeBridge(t)
	cfg := testConfig(t, bridge)
	now := time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)

	o := NewOrchestrator(cfg, Deps{
		HTTPClient: huetest.RedirectClient(bridge.Address()),
		Now:        func() time.Time { return now },
	})
	defer o.Close()

	ctx := context.Background()
	st, err := o.RunSetup(ctx, &stubPrompter{})
	if err != nil {
		t.Fatalf("RunSetup() error = %v", err)
	}

	tests := []struct {
		name      string
		advance   time.Duration
		wantGets  int
		wantCalls int
	}{
		{"fresh after setup", time.Hour, 0, 1},
		{"stale after interval", 24 * time.Hour, 1, 2},
		{"fresh after validation", time.Minute, 1, 3},
	}

	for _, tt := range tests {
		now = now.Add(tt.advance)
		if err := o.ApplyStatus(ctx, PatternSuccess, st); err != nil {
			t.Fatalf("%s: ApplyStatus() error = %v", tt.name, err)
		}
		if got := bridge.Calls("GET scenes/:id"); got != tt.wantGets {
			t.Errorf("%s: validations = %d, want %d", tt.name, got, tt.wantGets)
		}
		if got := bridge.Calls("PUT groups/0/action"); got != tt.wantCalls {
			t.Errorf("%s: group actions = %d, want %d", tt.name, got, tt.wantCalls)
		}
	}
	if !st.Patterns[PatternSuccess].LastValidated.Equal(now.Add(-time.Minute)) {
		t.Errorf("LastValidated = %v", st.Patterns[PatternSuccess].LastValidated)
	}
}

func TestApplyStatus_Unauthorized(t *testing.T) {
	bridge := newFakeBridge(t)
	cfg := testConfig(t, bridge)

	o := NewOrchestrator(cfg, Deps{HTTPClient: huetest.RedirectClient(bridge.Address())})
	defer o.Close()

	st, err := o.RunSetup(context.Background(), &stubPrompter{})
	if err != nil {
		t.Fatal(err)
	}
	st.Credential = "revoked-credential"

	err = o.ApplyStatus(context.Background(), PatternFailure, st)
	if !errors.Is(err, hue.ErrUnauthorized) {
		t.Fatalf("ApplyStatus() error = %v, want ErrUnauthorized", err)
	}
	if Hint(err) == "" || Classify(err) != CategoryAuth {
		t.Errorf("hint %q, category %s", Hint(err), Classify(err))
	}
}

func TestSetup_SavesValidationTime(t *testing.T) {
	bridge := newFakeBridge(t)
	cfg := testConfig(t, bridge)
	now := time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)

	a, err := New(cfg, Deps{
		HTTPClient: huetest.RedirectClient(bridge.Address()),
		Now:        func() time.Time { return now },
	})
	if err != nil {
		t.Fatal(err)
	}
	defer a.Close()

	if _, err := a.Setup(context.Background(), &stubPrompter{}, false); err != nil {
		t.Fatalf("Setup() error = %v", err)
	}

	saved, err := a.State()
	if err != nil {
		t.Fatal(err)
	}
	for _, key := range []string{PatternSuccess, PatternFailure} {
		h := saved.Patterns[key]
		if !h.LastValidated.Equal(now) {
			t.Errorf("saved %s LastValidated = %v, want %v", key, h.LastValidated, now)
		}
		if fresh, _ := a.services.Validated.WithClock(func() time.Time { return now }).Exists(validationKey(h)); !fresh {
			t.Errorf("no validation marker for %s", key)
		}
	}
}

func TestDoctor(t *testing.T) {
	tests := []struct {
		name      string
		setup     bool
		mutate    func(t *testing.T, a *App, bridge *huetest.Bridge)
		wantErr   error
		wantCheck string
	}{
		{name: "not configured", wantErr: ErrNotConfigured, wantCheck: "state"},
		{name: "healthy", setup: true},
		{
			name:  "scenes deleted",
			setup: true,
			mutate: func(t *testing.T, a *App, bridge *huetest.Bridge) {
				bridge.DeleteAllScenes()
			},
			wantErr:   scene.ErrSceneNotFound,
			wantCheck: "scene failure",
		},
		{
			name:  "credential revoked",
			setup: true,
			mutate: func(t *testing.T, a *App, bridge *huetest.Bridge) {
				st, err := a.State()
				if err != nil {
					t.Fatal(err)
				}
				st.Credential = "revoked-credential"
				if err := a.saveState(st); err != nil {
					t.Fatal(err)
				}
			},
			wantErr:   hue.ErrUnauthorized,
			wantCheck: "credential",
		},
		{
			name:  "different bridge at address",
			setup: true,
			mutate: func(t *testing.T, a *App, bridge *huetest.Bridge) {
				st, err := a.State()
				if err != nil {
					t.Fatal(err)
				}
				st.BridgeID = "001788FFFE000000"
				if err := a.saveState(st); err != nil {
					t.Fatal(err)
				}
			},
			wantErr:   ErrBridgeMismatch,
			wantCheck: "bridge",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bridge := newFakeBridge(t)
			a, err := New(testConfig(t, bridge), Deps{HTTPClient: huetest.RedirectClient(bridge.Address())})
			if err != nil {
				t.Fatal(err)
			}
			defer a.Close()

			ctx := context.Background()
			if tt.setup {
				if _, err := a.Setup(ctx, &stubPrompter{}, false); err != nil {
					t.Fatalf("Setup() error = %v", err)
				}
			}
			if tt.mutate != nil {
				tt.mutate(t, a, bridge)
			}

			report, err := a.Doctor(ctx)
			if err != nil {
				t.Fatalf("Doctor() error = %v", err)
			}

			err = report.Err()
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("report.Err() = %v", err)
				}
				if len(report.Checks) != 6 {
					t.Errorf("ran %d checks, want state, bridge, credential, lights and two scenes", len(report.Checks))
				}
				return
			}

			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("report.Err() = %v, want %v", err, tt.wantErr)
			}
			var doctorErr *DoctorError
			if !errors.As(err, &doctorErr) || doctorErr.Check != tt.wantCheck {
				t.Errorf("failed check = %v, want %q", err, tt.wantCheck)
			}
			if Hint(err) == "" {
				t.Errorf("report.Err() = %v carries no hint", err)
			}
		})
	}
}

func TestDoctor_MissingSceneDropsMarker(t *testing.T) {
	bridge := newFakeBridge(t)
	a, err := New(testConfig(t, bridge), Deps{HTTPClient: huetest.RedirectClient(bridge.Address())})
	if err != nil {
		t.Fatal(err)
	}
	defer a.Close()

	ctx := context.Background()
	st, err := a.Setup(ctx, &stubPrompter{}, false)
	if err != nil {
		t.Fatal(err)
	}
	key := validationKey(st.Patterns[PatternSuccess])
	if ok, _ := a.services.Validated.Exists(key); !ok {
		t.Fatal("setup left no validation marker")
	}

	bridge.DeleteAllScenes()
	if _, err := a.Doctor(ctx); err != nil {
		t.Fatal(err)
	}
	if ok, _ := a.services.Validated.Exists(key); ok {
		t.Error("marker of a missing scene survived")
	}

	// Without the marker the next status checks the scene and fails fast
	if err := a.Status(ctx, PatternSuccess); !errors.Is(err, scene.ErrSceneNotFound) {
		t.Errorf("Status() error = %v, want ErrSceneNotFound", err)
	}
	if got := bridge.Calls("PUT groups/0/action"); got != 0 {
		t.Errorf("group actions = %d, want 0", got)
	}
}

func TestTestPatterns_RecallsBothWithoutRecording(t *testing.T) {
	bridge := newFakeBridge(t)
	a, err := New(testConfig(t, bridge), Deps{HTTPClient: huetest.RedirectClient(bridge.Address())})
	if err != nil {
		t.Fatal(err)
	}
	defer a.Close()

	ctx := context.Background()
	st, err := a.Setup(ctx, &stubPrompter{}, false)
	if err != nil {
		t.Fatal(err)
	}

	if err := a.TestPatterns(ctx, 0); err != nil {
		t.Fatalf("TestPatterns() error = %v", err)
	}

	recalled := bridge.Recalled()
	if len(recalled) != 2 || recalled[0] != st.Patterns[PatternSuccess].ID || recalled[1] != st.Patterns[PatternFailure].ID {
		t.Errorf("Recalled() = %v, want success then failure", recalled)
	}
	history, _ := a.History(HistoryFilter{Limit: 10})
	if len(history) != 1 || history[0].EventType != ledger.EventSetupCompleted {
		t.Errorf("History() = %d entries, want only setup_completed", len(history))
	}
}

func TestHistory_Filters(t *testing.T) {
	bridge := newFakeBridge(t)
	cfg := testConfig(t, bridge)
	deps := Deps{HTTPClient: huetest.RedirectClient(bridge.Address())}

	ctx := context.Background()
	first, err := New(cfg, deps)
	if err != nil {
		t.Fatal(err)
	}
	defer first.Close()
	if _, err := first.Setup(ctx, &stubPrompter{}, false); err != nil {
		t.Fatal(err)
	}

	// Each invocation records at most one event per type
	for _, status := range []string{PatternSuccess, PatternFailure} {
		a, err := New(cfg, deps)
		if err != nil {
			t.Fatal(err)
		}
		if err := a.Status(ctx, status); err != nil {
			t.Fatalf("Status(%s) error = %v", status, err)
		}
		a.Close()
	}

	tests := []struct {
		name   string
		filter HistoryFilter
		want   int
	}{
		{"all", HistoryFilter{Limit: 10}, 3},
		{"limit", HistoryFilter{Limit: 2}, 2},
		{"by type", HistoryFilter{Limit: 10, Type: ledger.EventStatusApplied}, 2},
		{"by type and limit", HistoryFilter{Limit: 1, Type: ledger.EventStatusApplied}, 1},
		{"since an hour ago", HistoryFilter{Limit: 10, Since: time.Now().Add(-time.Hour)}, 3},
		{"since the future", HistoryFilter{Limit: 10, Since: time.Now().Add(time.Hour)}, 0},
		{"type and future", HistoryFilter{Limit: 10, Type: ledger.EventSetupCompleted, Since: time.Now().Add(time.Hour)}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := first.History(tt.filter)
			if err != nil {
				t.Fatal(err)
			}
			if len(got) != tt.want {
				t.Errorf("History(%+v) = %d entries, want %d", tt.filter, len(got), tt.want)
			}
			for _, e := range got {
				if tt.filter.Type != "" && e.EventType != tt.filter.Type {
					t.Errorf("entry of type %s leaked through the filter", e.EventType)
				}
			}
		})
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Category
	}{
		{"nil", nil, CategoryNone},
		{"not configured", ErrNotConfigured, CategoryConfig},
		{"bad address", hue.ErrInvalidAddress, CategoryConfig},
		{"timed out", auth.ErrTimedOut, CategoryAuth},
		{"capacity", hue.ErrCapacityExceeded, CategoryScene},
		{"storage", ErrStorage, CategoryIO},
		{"transport", &hue.TransportError{Kind: hue.Unreachable, Err: errors.New("refused")}, CategoryNetwork},
		{"no lights", capability.ErrNoSuitableLights, CategoryOther},
		{"bridge replaced", &DoctorError{Check: "bridge", Err: ErrBridgeMismatch}, CategoryConfig},
		{"doctor scene", &DoctorError{Check: "scene success", Err: scene.ErrSceneNotFound}, CategoryScene},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.err); got != tt.want {
				t.Errorf("Classify(%v) = %s, want %s", tt.err, got, tt.want)
			}
		})
	}
	if CategoryAuth.ExitCode() != 3 || CategoryIO.ExitCode() != 5 {
		t.Error("exit codes drifted")
	}
}
