package discovery

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/hashicorp/mdns"
	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/huestatus/internal/hue"
)

// DefaultMDNSService is the service name advertised by Hue bridges.
const DefaultMDNSService = "_hue._tcp"

// Collection window bounds for mDNS responses.
const (
	DefaultMDNSWindow = 3 * time.Second
	MinMDNSWindow     = 2 * time.Second
	MaxMDNSWindow     = 5 * time.Second
)

// QueryFunc runs an mDNS query; mdns.Query in production.
type QueryFunc func(params *mdns.QueryParam) error

// MDNSStrategy browses the local network for bridges. Responders are probed
// concurrently as they arrive; the first live bridge wins.
type MDNSStrategy struct {
	Service string
	Window  time.Duration
	Query   QueryFunc
}

// Method implements Strategy.
func (s *MDNSStrategy) Method() Method { return MethodMDNS }

// window clamps the configured window to [MinMDNSWindow, MaxMDNSWindow].
func (s *MDNSStrategy) window() time.Duration {
	w := s.Window
	if w == 0 {
		w = DefaultMDNSWindow
	}
	if w < MinMDNSWindow {
		w = MinMDNSWindow
	}
	if w > MaxMDNSWindow {
		w = MaxMDNSWindow
	}
	return w
}

type probeOutcome struct {
	addr hue.BridgeAddress
	info *hue.BridgeConfig
	err  error
}

// Discover implements Strategy.
func (s *MDNSStrategy) Discover(ctx context.Context, prober Prober) (*Result, error) {
	service := s.Service
	if service == "" {
		service = DefaultMDNSService
	}
	query := s.Query
	if query == nil {
		query = mdns.Query
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	entries := make(chan *mdns.ServiceEntry, 8)
	go func() {
		params := &mdns.QueryParam{
			Service:             service,
			Domain:              "local",
			Timeout:             s.window(),
			Entries:             entries,
			DisableIPv6:         true,
			WantUnicastResponse: true,
		}
		if err := query(params); err != nil {
			log.Debug().Err(err).Msg("mDNS query failed")
		}
		close(entries)
	}()
	// Unblock the query goroutine if we return early
	defer func() {
		go func() {
			for range entries {
			}
		}()
	}()

	results := make(chan probeOutcome)
	seen := make(map[string]bool)
	pending := 0
	source := entries
	var errs []error

	for source != nil || pending > 0 {
		select {
		case entry, ok := <-source:
			if !ok {
				source = nil
				continue
			}
			addr, valid := entryAddress(entry)
			if !valid || seen[addr.String()] {
				continue
			}
			seen[addr.String()] = true
			log.Debug().Str("address", addr.String()).Str("name", hue.Truncate(entry.Name, 64)).Msg("mDNS responder")

			pending++
			go func(addr hue.BridgeAddress) {
				info, err := prober.Probe(ctx, addr)
				select {
				case results <- probeOutcome{addr: addr, info: info, err: err}:
				case <-ctx.Done():
				}
			}(addr)

		case out := <-results:
			pending--
			if out.err == nil {
				return &Result{Address: out.addr, Bridge: *out.info, Method: MethodMDNS}, nil
			}
			errs = append(errs, out.err)

		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if len(seen) == 0 {
		return nil, ErrNoCandidates
	}
	return nil, errors.Join(errs...)
}

// entryAddress extracts a probeable address. The bridge advertises its
// HTTPS port; the v1 API is reached on the default HTTP port.
func entryAddress(entry *mdns.ServiceEntry) (hue.BridgeAddress, bool) {
	if entry == nil {
		return hue.BridgeAddress{}, false
	}
	ip := entry.AddrV4
	if ip == nil || ip.IsUnspecified() {
		ip = entry.Addr
	}
	if ip == nil || ip.IsUnspecified() {
		return hue.BridgeAddress{}, false
	}

	addr := hue.BridgeAddress{Host: ip.String()}
	if entry.Port != 0 && entry.Port != 80 && entry.Port != 443 {
		addr.Port = entry.Port
	}
	if net.ParseIP(addr.Host) == nil {
		return hue.BridgeAddress{}, false
	}
	return addr, true
}
