// Package auth implements the link-button pairing handshake.
//
// The bridge only issues a credential within a short window after its
// physical link button is pressed. Machine models the handshake as a finite
// state machine with an injected clock and button signal so the timing can
// be driven deterministically.
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/huestatus/internal/hue"
)

const (
	// DefaultPollInterval is how often pairing is retried after the press.
	DefaultPollInterval = 1 * time.Second

	// MaxPollInterval is the slowest allowed polling rate.
	MaxPollInterval = 1 * time.Second

	// DefaultDeadline is the bridge's link-button window.
	DefaultDeadline = 30 * time.Second

	// MaxDeadline is the longest allowed deadline. The bridge closes the
	// window after 30s, so polling longer never succeeds.
	MaxDeadline = 30 * time.Second

	// maxDeviceTypeLength is the bridge's devicetype limit.
	maxDeviceTypeLength = 40
)

var (
	ErrTimedOut = errors.New("link button was not confirmed in time")
	ErrRejected = errors.New("pairing rejected by bridge")
)

// State is a handshake state.
type State int

const (
	Idle State = iota
	AwaitingButtonPress
	Polling
	Authenticated
	Failed
)

// String returns a human-readable name for the state.
func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case AwaitingButtonPress:
		return "awaiting_button_press"
	case Polling:
		return "polling"
	case Authenticated:
		return "authenticated"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether no transition leaves s.
func (s State) Terminal() bool {
	return s == Authenticated || s == Failed
}

// Reason explains a Failed state.
type Reason int

const (
	ReasonNone Reason = iota
	ReasonTimedOut
	ReasonRejected
)

// String returns a human-readable name for the reason.
func (r Reason) String() string {
	switch r {
	case ReasonTimedOut:
		return "timed_out"
	case ReasonRejected:
		return "rejected"
	default:
		return "none"
	}
}

// Pairer issues one pairing request. *hue.Client implements it.
type Pairer interface {
	Pair(ctx context.Context, deviceType string) (string, error)
}

// Clock abstracts time for the polling loop.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

// SystemClock is the wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time                         { return time.Now() }
func (SystemClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// ButtonSignal blocks until the user reports pressing the link button.
type ButtonSignal interface {
	WaitForPress(ctx context.Context) error
}

// ButtonSignalFunc adapts a function to ButtonSignal.
type ButtonSignalFunc func(ctx context.Context) error

// WaitForPress implements ButtonSignal.
func (f ButtonSignalFunc) WaitForPress(ctx context.Context) error { return f(ctx) }

// Config configures a Machine.
type Config struct {
	DeviceType   string        // "<app>#<instance>"
	PollInterval time.Duration // default: 1s, capped at 1s
	Deadline     time.Duration // default: 30s from the button press, capped at 30s
	Clock        Clock         // default: SystemClock
}

// DeviceType builds the pairing identifier "<app>#<instance>" within the
// bridge's length limit.
func DeviceType(app, instance string) string {
	if instance == "" {
		return clip(app, maxDeviceTypeLength)
	}
	app = clip(app, 20)
	return app + "#" + clip(instance, maxDeviceTypeLength-len(app)-1)
}

func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// Machine runs one pairing handshake. A Machine is single use: once it
// reaches Authenticated or Failed it stays there, and a new attempt needs a
// new Machine.
type Machine struct {
	pairer Pairer
	cfg    Config

	state      State
	reason     Reason
	credential string
	attempts   int
	err        error
}

// NewMachine creates a machine in the Idle state.
func NewMachine(pairer Pairer, cfg Config) *Machine {
	if cfg.PollInterval <= 0 || cfg.PollInterval > MaxPollInterval {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.Deadline <= 0 || cfg.Deadline > MaxDeadline {
		cfg.Deadline = DefaultDeadline
	}
	if cfg.Clock == nil {
		cfg.Clock = SystemClock{}
	}
	return &Machine{pairer: pairer, cfg: cfg, state: Idle}
}

// State returns the current state.
func (m *Machine) State() State { return m.state }

// Reason returns why the machine failed, or ReasonNone.
func (m *Machine) Reason() Reason { return m.reason }

// Credential returns the issued credential once Authenticated.
func (m *Machine) Credential() string { return m.credential }

// Attempts returns the number of pairing requests issued while polling.
func (m *Machine) Attempts() int { return m.attempts }

// Start issues the initial pairing request and moves to AwaitingButtonPress
// whatever the bridge answers. Only cancellation keeps the machine Idle.
func (m *Machine) Start(ctx context.Context) error {
	if m.state != Idle {
		return nil
	}

	_, err := m.pairer.Pair(ctx, m.cfg.DeviceType)
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err != nil {
		log.Debug().Err(err).Msg("Initial pairing request answered")
	}

	m.state = AwaitingButtonPress
	return nil
}

// Run drives the machine to a terminal state and returns the credential.
// It waits on signal for the button press, then polls until the bridge
// issues a credential, rejects the request, or the deadline passes.
// Cancelling ctx aborts cleanly; nothing is allocated on the bridge until
// pairing succeeds.
func (m *Machine) Run(ctx context.Context, signal ButtonSignal) (string, error) {
	if m.state.Terminal() {
		return m.credential, m.err
	}

	if m.state == Idle {
		if err := m.Start(ctx); err != nil {
			return "", err
		}
	}

	if m.state == AwaitingButtonPress {
		if err := signal.WaitForPress(ctx); err != nil {
			return "", err
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		m.state = Polling
	}

	return m.poll(ctx)
}

func (m *Machine) poll(ctx context.Context) (string, error) {
	clock := m.cfg.Clock
	pressedAt := clock.Now()
	deadline := pressedAt.Add(m.cfg.Deadline)

	log.Info().
		Dur("deadline", m.cfg.Deadline).
		Dur("interval", m.cfg.PollInterval).
		Msg("Polling bridge for credential")

	var lastErr error
	for {
		remaining := deadline.Sub(clock.Now())
		if remaining <= 0 {
			return "", m.fail(ReasonTimedOut, m.timeoutError(lastErr))
		}

		attemptCtx, cancel := context.WithTimeout(ctx, remaining)
		m.attempts++
		credential, err := m.pairer.Pair(attemptCtx, m.cfg.DeviceType)
		cancel()

		if err == nil {
			m.state = Authenticated
			m.credential = credential
			log.Info().
				Int("attempts", m.attempts).
				Dur("elapsed", clock.Now().Sub(pressedAt)).
				Msg("Bridge issued credential")
			return credential, nil
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}

		var apiErr *hue.APIError
		if errors.As(err, &apiErr) && apiErr.Type != hue.ErrorTypeLinkButtonNotPressed {
			return "", m.fail(ReasonRejected, fmt.Errorf("%w: %w", ErrRejected, apiErr))
		}

		lastErr = err
		log.Debug().Err(err).Int("attempt", m.attempts).Msg("Link button not confirmed yet")

		remaining = deadline.Sub(clock.Now())
		if remaining <= 0 {
			continue
		}
		wait := m.cfg.PollInterval
		if remaining < wait {
			wait = remaining
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-clock.After(wait):
		}
	}
}

func (m *Machine) fail(reason Reason, err error) error {
	m.state = Failed
	m.reason = reason
	m.err = err
	log.Warn().Str("reason", reason.String()).Int("attempts", m.attempts).Msg("Pairing failed")
	return err
}

func (m *Machine) timeoutError(lastErr error) error {
	if lastErr != nil && !errors.Is(lastErr, hue.ErrLinkButtonNotPressed) {
		return fmt.Errorf("%w after %s (%d attempts, last error: %v)", ErrTimedOut, m.cfg.Deadline, m.attempts, lastErr)
	}
	return fmt.Errorf("%w after %s (%d attempts)", ErrTimedOut, m.cfg.Deadline, m.attempts)
}
