package discovery

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hashicorp/mdns"

	"github.com/dokzlo13/huestatus/internal/hue"
	"github.com/dokzlo13/huestatus/internal/hue/huetest"
)

func testTransport() *hue.Transport {
	return hue.NewTransport(hue.TransportConfig{
		Timeout: time.Second,
		Retry:   hue.NoRetry(),
	})
}

// notABridge answers every request with a JSON object lacking a bridge id.
func notABridge(t *testing.T) hue.BridgeAddress {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"name":"nas"}`))
	}))
	t.Cleanup(srv.Close)
	addr, err := hue.ParseAddress(srv.Listener.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	return addr
}

func stubQuery(entries ...*mdns.ServiceEntry) QueryFunc {
	return func(p *mdns.QueryParam) error {
		for _, e := range entries {
			p.Entries <- e
		}
		return nil
	}
}

func entryFor(addr hue.BridgeAddress) *mdns.ServiceEntry {
	return &mdns.ServiceEntry{
		Name:   "Philips Hue - 123456._hue._tcp.local.",
		AddrV4: net.ParseIP(addr.Host),
		Port:   addr.Port,
	}
}

func TestDiscover_FallbackOrder(t *testing.T) {
	bridge := huetest.NewBridge(t)
	bogus := notABridge(t)
	bridge.SetDiscovery([]huetest.DiscoveryEntry{
		{ID: "bogus", InternalIPAddress: bogus.Host, Port: bogus.Port},
	})

	tr := testTransport()
	d := New(&BridgeProber{Transport: tr},
		&RemoteStrategy{URL: bridge.DiscoveryURL(), Transport: tr},
		&MDNSStrategy{Query: stubQuery(entryFor(bridge.Address()))},
		&ManualStrategy{Address: bogus},
	)

	result, err := d.Discover(context.Background())
	if err != nil {
		t.Fatalf("Discover() error = %v", err)
	}
	if result.Method != MethodMDNS {
		t.Errorf("Method = %q, want %q", result.Method, MethodMDNS)
	}
	if result.Address != bridge.Address() {
		t.Errorf("Address = %v, want %v", result.Address, bridge.Address())
	}
	if result.Bridge.BridgeID != huetest.BridgeID {
		t.Errorf("BridgeID = %q, want %q", result.Bridge.BridgeID, huetest.BridgeID)
	}
}

func TestDiscover_RemoteWins(t *testing.T) {
	bridge := huetest.NewBridge(t)
	addr := bridge.Address()
	bridge.SetDiscovery([]huetest.DiscoveryEntry{
		{ID: huetest.BridgeID, InternalIPAddress: addr.Host, Port: addr.Port},
	})

	var mdnsCalls int32
	tr := testTransport()
	d := New(&BridgeProber{Transport: tr},
		&RemoteStrategy{URL: bridge.DiscoveryURL(), Transport: tr},
		&MDNSStrategy{Query: func(p *mdns.QueryParam) error {
			atomic.AddInt32(&mdnsCalls, 1)
			return nil
		}},
	)

	result, err := d.Discover(context.Background())
	if err != nil {
		t.Fatalf("Discover() error = %v", err)
	}
	if result.Method != MethodRemote || result.Address != addr {
		t.Errorf("result = %+v, want remote %v", result, addr)
	}
	if got := atomic.LoadInt32(&mdnsCalls); got != 0 {
		t.Errorf("mDNS queried %d times after remote success", got)
	}
	if got := bridge.Calls("GET /discovery"); got != 1 {
		t.Errorf("remote discovery calls = %d, want 1", got)
	}
}

func TestDiscover_AllMethodsFailed(t *testing.T) {
	bridge := huetest.NewBridge(t)
	tr := testTransport()

	d := New(&BridgeProber{Transport: tr},
		&RemoteStrategy{URL: bridge.DiscoveryURL(), Transport: tr},
		&MDNSStrategy{Query: stubQuery()},
		&ManualStrategy{},
	)

	_, err := d.Discover(context.Background())
	if !errors.Is(err, ErrAllMethodsFailed) {
		t.Fatalf("Discover() error = %v, want ErrAllMethodsFailed", err)
	}
	if !errors.Is(err, ErrNoCandidates) {
		t.Errorf("Discover() error = %v, want wrapped ErrNoCandidates", err)
	}
}

func TestRemoteStrategy_RateLimited(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	tr := hue.NewTransport(hue.TransportConfig{Timeout: time.Second})
	s := &RemoteStrategy{URL: srv.URL, Transport: tr}

	_, err := s.Discover(context.Background(), &BridgeProber{Transport: tr})
	if !errors.Is(err, ErrRateLimited) {
		t.Errorf("Discover() error = %v, want ErrRateLimited", err)
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Errorf("calls = %d, want exactly one request", got)
	}
}

func TestMDNSStrategy_FirstLiveResponderWins(t *testing.T) {
	bridge := huetest.NewBridge(t)
	bogus := notABridge(t)

	s := &MDNSStrategy{Query: stubQuery(
		entryFor(bogus),
		&mdns.ServiceEntry{Name: "no address"},
		entryFor(bridge.Address()),
		entryFor(bridge.Address()),
	)}

	result, err := s.Discover(context.Background(), &BridgeProber{Transport: testTransport()})
	if err != nil {
		t.Fatalf("Discover() error = %v", err)
	}
	if result.Address != bridge.Address() {
		t.Errorf("Address = %v, want %v", result.Address, bridge.Address())
	}
	if got := bridge.Calls("GET config"); got != 1 {
		t.Errorf("probes of duplicate responder = %d, want 1", got)
	}
}

func TestMDNSStrategy_QueryParams(t *testing.T) {
	tests := []struct {
		name   string
		window time.Duration
		want   time.Duration
	}{
		{"default", 0, DefaultMDNSWindow},
		{"below_min", 500 * time.Millisecond, MinMDNSWindow},
		{"above_max", time.Minute, MaxMDNSWindow},
		{"in_range", 4 * time.Second, 4 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got *mdns.QueryParam
			s := &MDNSStrategy{Window: tt.window, Query: func(p *mdns.QueryParam) error {
				got = p
				return nil
			}}

			_, err := s.Discover(context.Background(), &BridgeProber{Transport: testTransport()})
			if !errors.Is(err, ErrNoCandidates) {
				t.Errorf("Discover() error = %v, want ErrNoCandidates", err)
			}
			if got == nil {
				t.Fatal("query not issued")
			}
			if got.Timeout != tt.want {
				t.Errorf("Timeout = %v, want %v", got.Timeout, tt.want)
			}
			if got.Service != DefaultMDNSService || got.Domain != "local" {
				t.Errorf("Service/Domain = %q/%q", got.Service, got.Domain)
			}
		})
	}
}

func TestDiscover_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	d := New(&BridgeProber{Transport: testTransport()}, &ManualStrategy{Address: hue.BridgeAddress{Host: "192.0.2.1"}})
	if _, err := d.Discover(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Discover() error = %v, want context.Canceled", err)
	}
}
