package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/huestatus/internal/hue"
)

// DefaultRemoteURL is the Hue N-UPnP discovery endpoint.
const DefaultRemoteURL = "https://discovery.meethue.com/"

// maxRemoteCandidates bounds how many advertised addresses are probed.
const maxRemoteCandidates = 16

type remoteEntry struct {
	ID                string `json:"id"`
	InternalIPAddress string `json:"internalipaddress"`
	Port              int    `json:"port"`
}

// RemoteStrategy asks the cloud discovery service for bridges registered
// from this network.
type RemoteStrategy struct {
	URL       string
	Transport *hue.Transport
}

// Method implements Strategy.
func (s *RemoteStrategy) Method() Method { return MethodRemote }

// Discover issues one request to the service and probes the advertised
// addresses in order.
func (s *RemoteStrategy) Discover(ctx context.Context, prober Prober) (*Result, error) {
	url := s.URL
	if url == "" {
		url = DefaultRemoteURL
	}

	// One request only; the service rate limits aggressively
	resp, err := s.Transport.WithPolicy(hue.NoRetry()).Send(ctx, &hue.Request{
		Method:     http.MethodGet,
		URL:        url,
		Idempotent: true,
	})
	if err != nil {
		return nil, err
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, ErrRateLimited
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("%w: discovery service returned HTTP %d", hue.ErrUnexpectedResponse, resp.StatusCode)
	}

	var entries []remoteEntry
	if err := json.Unmarshal(resp.Body, &entries); err != nil {
		return nil, fmt.Errorf("%w: %v", hue.ErrUnexpectedResponse, err)
	}

	candidates := make([]hue.BridgeAddress, 0, len(entries))
	for _, e := range entries {
		if len(candidates) == maxRemoteCandidates {
			break
		}
		addr, err := remoteAddress(e)
		if err != nil {
			log.Debug().Err(err).Msg("Skipping discovery entry")
			continue
		}
		candidates = append(candidates, addr)
	}

	log.Debug().Int("candidates", len(candidates)).Msg("Remote discovery answered")
	return probeSequential(ctx, prober, MethodRemote, candidates)
}

func remoteAddress(e remoteEntry) (hue.BridgeAddress, error) {
	raw := e.InternalIPAddress
	if e.Port != 0 && e.Port != 80 && e.Port != 443 {
		raw += ":" + strconv.Itoa(e.Port)
	}
	return hue.ParseAddress(raw)
}
