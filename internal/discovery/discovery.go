// Package discovery locates a Hue bridge on the local network.
//
// Strategies are tried in order (remote service, mDNS, manual address) and
// the first candidate that passes the liveness probe wins. Each strategy runs
// at most once per Discover call; retrying a probe is the transport's job.
package discovery

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/huestatus/internal/hue"
)

var (
	// ErrAllMethodsFailed is returned when no strategy produced a live bridge.
	ErrAllMethodsFailed = errors.New("bridge discovery failed: all methods exhausted")

	// ErrNoCandidates means a strategy found nothing to probe.
	ErrNoCandidates = errors.New("no candidate addresses")

	// ErrRateLimited means the remote discovery service answered 429.
	ErrRateLimited = errors.New("discovery service rate limit")
)

// Method identifies a discovery strategy.
type Method string

const (
	MethodRemote Method = "remote"
	MethodMDNS   Method = "mdns"
	MethodManual Method = "manual"
)

// Result is a bridge that passed the liveness probe.
type Result struct {
	Address hue.BridgeAddress
	Bridge  hue.BridgeConfig
	Method  Method
}

// Prober checks that a candidate address is a live bridge.
type Prober interface {
	Probe(ctx context.Context, addr hue.BridgeAddress) (*hue.BridgeConfig, error)
}

// BridgeProber probes candidates with GET /api/0/config.
type BridgeProber struct {
	Transport *hue.Transport
}

// Probe implements Prober.
func (p *BridgeProber) Probe(ctx context.Context, addr hue.BridgeAddress) (*hue.BridgeConfig, error) {
	return hue.NewClient(addr, "", p.Transport).Config(ctx)
}

// Strategy produces at most one live bridge per call.
type Strategy interface {
	Method() Method
	Discover(ctx context.Context, prober Prober) (*Result, error)
}

// Discoverer runs strategies in order until one succeeds.
type Discoverer struct {
	prober     Prober
	strategies []Strategy
}

// New creates a discoverer over the given strategies, tried in order.
func New(prober Prober, strategies ...Strategy) *Discoverer {
	return &Discoverer{prober: prober, strategies: strategies}
}

// Discover returns the first bridge found. When every strategy fails the
// error matches ErrAllMethodsFailed and wraps each strategy's cause.
func (d *Discoverer) Discover(ctx context.Context) (*Result, error) {
	var errs []error

	for _, strategy := range d.strategies {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		method := strategy.Method()
		log.Debug().Str("method", string(method)).Msg("Trying discovery method")

		result, err := strategy.Discover(ctx, d.prober)
		if err == nil {
			log.Info().
				Str("method", string(method)).
				Str("address", result.Address.String()).
				Str("bridge_id", result.Bridge.BridgeID).
				Msg("Bridge discovered")
			return result, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		log.Debug().Err(err).Str("method", string(method)).Msg("Discovery method failed")
		errs = append(errs, fmt.Errorf("%s: %w", method, err))
	}

	if len(errs) == 0 {
		return nil, ErrAllMethodsFailed
	}
	return nil, fmt.Errorf("%w: %w", ErrAllMethodsFailed, errors.Join(errs...))
}

// probeSequential probes candidates one by one and returns the first live one.
func probeSequential(ctx context.Context, prober Prober, method Method, candidates []hue.BridgeAddress) (*Result, error) {
	if len(candidates) == 0 {
		return nil, ErrNoCandidates
	}

	var errs []error
	for _, addr := range candidates {
		info, err := prober.Probe(ctx, addr)
		if err == nil {
			return &Result{Address: addr, Bridge: *info, Method: method}, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		log.Debug().Err(err).Str("address", addr.String()).Msg("Candidate failed liveness probe")
		errs = append(errs, fmt.Errorf("%s: %w", addr, err))
	}
	return nil, errors.Join(errs...)
}
