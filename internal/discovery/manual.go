package discovery

import (
	"context"

	"github.com/dokzlo13/huestatus/internal/hue"
)

// ManualStrategy accepts a caller-supplied address once it passes the probe.
type ManualStrategy struct {
	Address hue.BridgeAddress
}

// Method implements Strategy.
func (s *ManualStrategy) Method() Method { return MethodManual }

// Discover implements Strategy.
func (s *ManualStrategy) Discover(ctx context.Context, prober Prober) (*Result, error) {
	if s.Address.IsZero() {
		return nil, ErrNoCandidates
	}
	return probeSequential(ctx, prober, MethodManual, []hue.BridgeAddress{s.Address})
}
