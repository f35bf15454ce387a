package app

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/dokzlo13/huestatus/internal/capability"
	"github.com/dokzlo13/huestatus/internal/hue"
	"github.com/dokzlo13/huestatus/internal/scene"
)

// Check is the outcome of one doctor check.
type Check struct {
	Name   string
	Detail string
	Err    error
	Hint   string
}

// OK reports whether the check passed.
func (c Check) OK() bool { return c.Err == nil }

// Report lists the doctor checks in the order they ran. Checks that depend
// on a failed one are skipped.
type Report struct {
	Checks []Check
}

func (r *Report) add(c Check) {
	r.Checks = append(r.Checks, c)
}

// Err returns the first failed check as a *DoctorError, or nil.
func (r *Report) Err() error {
	for _, c := range r.Checks {
		if !c.OK() {
			return &DoctorError{Check: c.Name, Err: c.Err, Hint: c.Hint}
		}
	}
	return nil
}

// Diagnose checks st against the live bridge: the bridge answers at the
// saved address, the credential is accepted, the saved lights are reachable
// and every scene still exists. Scenes that pass are marked validated.
func (o *Orchestrator) Diagnose(ctx context.Context, st *State) *Report {
	report := &Report{}

	cfg, err := o.prober().Probe(ctx, st.Address)
	if err != nil {
		report.add(Check{Name: "bridge", Err: err, Hint: hintNetwork})
		return report
	}
	if !strings.EqualFold(cfg.BridgeID, st.BridgeID) {
		report.add(Check{
			Name: "bridge",
			Err:  fmt.Errorf("%w: %s answers as %s, saved %s", ErrBridgeMismatch, st.Address, cfg.BridgeID, st.BridgeID),
			Hint: hintResetup,
		})
		return report
	}
	report.add(Check{Name: "bridge", Detail: fmt.Sprintf("%s (%s) at %s, API %s", cfg.Name, cfg.BridgeID, st.Address, cfg.APIVersion)})

	client := hue.NewClient(st.Address, st.Credential, o.transport)
	snapshot, err := capability.NewResolver(client).Resolve(ctx)
	if err != nil {
		hint := hintNetwork
		if errors.Is(err, hue.ErrUnauthorized) {
			hint = hintResetup
		}
		report.add(Check{Name: "credential", Err: err, Hint: hint})
		return report
	}
	report.add(Check{Name: "credential", Detail: "accepted (" + st.CredentialPrefix() + "...)"})

	report.add(checkLights(snapshot, st.Lights))

	engine := o.engine(client)
	keys := make([]string, 0, len(st.Patterns))
	for key := range st.Patterns {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		h := st.Patterns[key]
		check := Check{Name: "scene " + key}
		previous := o.lastValidated(h)

		valid, err := engine.ValidatePattern(ctx, h)
		switch {
		case err != nil:
			check.Err = err
			check.Hint = hintNetwork
		case !valid:
			o.forgetValidated(h)
			check.Err = fmt.Errorf("%w: %s (%s)", scene.ErrSceneNotFound, h.Name, h.ID)
			check.Hint = hintResetup
		default:
			st.Patterns[key] = o.markValidated(h)
			check.Detail = fmt.Sprintf("%s (%s), previously validated %s", h.Name, h.ID, formatValidated(previous))
		}
		report.add(check)
	}

	return report
}

func checkLights(snapshot *capability.Snapshot, ids []string) Check {
	check := Check{Name: "lights"}

	var reachable int
	var missing, offline []string
	for _, id := range ids {
		light, ok := snapshot.Light(id)
		switch {
		case !ok:
			missing = append(missing, id)
		case !light.Reachable:
			offline = append(offline, id)
		default:
			reachable++
		}
	}

	check.Detail = fmt.Sprintf("%d of %d reachable", reachable, len(ids))
	if len(missing) > 0 {
		check.Detail += fmt.Sprintf(", missing %v", missing)
	}
	if len(offline) > 0 {
		check.Detail += fmt.Sprintf(", unreachable %v", offline)
	}
	if reachable == 0 {
		check.Err = fmt.Errorf("%w: %s", capability.ErrNoSuitableLights, check.Detail)
		check.Hint = hintLights
	}
	return check
}

func formatValidated(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return t.Local().Format(time.DateTime)
}
