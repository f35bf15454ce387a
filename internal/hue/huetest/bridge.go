// Package huetest provides an in-process fake of the v1 bridge API.
package huetest

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/dokzlo13/huestatus/internal/hue"
)

// Username is the credential issued by the fake bridge.
const Username = "fake-username-0123456789"

// BridgeID is reported by the fake bridge's config endpoint.
const BridgeID = "001788FFFE123456"

// Bridge is a fake v1 bridge served by httptest.
type Bridge struct {
	Server *httptest.Server

	mu           sync.Mutex
	lights       map[string]hue.Light
	caps         hue.Capabilities
	scenes       map[string]hue.CreateSceneRequest
	nextScene    int
	pairFailures int
	pairError    *hue.APIError
	recalled     []string
	calls        map[string]int
	discovery    []DiscoveryEntry
}

// DiscoveryEntry is one element of the remote discovery response.
type DiscoveryEntry struct {
	ID                string `json:"id"`
	InternalIPAddress string `json:"internalipaddress"`
	Port              int    `json:"port,omitempty"`
}

// NewBridge starts a fake bridge. It is closed when the test ends.
func NewBridge(t testing.TB) *Bridge {
	t.Helper()
	b := &Bridge{
		lights: map[string]hue.Light{},
		caps: hue.Capabilities{
			Lights: hue.ResourceLimits{Available: 63, Total: 63},
			Groups: hue.ResourceLimits{Available: 64, Total: 64},
			Scenes: hue.SceneLimits{
				Available:   200,
				Total:       200,
				LightStates: hue.ResourceLimits{Available: 2048, Total: 2048},
			},
		},
		scenes: map[string]hue.CreateSceneRequest{},
		calls:  map[string]int{},
	}
	b.Server = httptest.NewServer(http.HandlerFunc(b.serve))
	t.Cleanup(b.Server.Close)
	return b
}

// Address returns the bridge address of the fake server.
func (b *Bridge) Address() hue.BridgeAddress {
	addr, err := hue.ParseAddress(b.Server.Listener.Addr().String())
	if err != nil {
		panic(err)
	}
	return addr
}

// AddLight registers a light under id.
func (b *Bridge) AddLight(id string, light hue.Light) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lights[id] = light
}

// SetCapabilities replaces the reported bridge limits.
func (b *Bridge) SetCapabilities(caps hue.Capabilities) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.caps = caps
}

// SetPairFailures makes the next n pairing requests answer error 101.
func (b *Bridge) SetPairFailures(n int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pairFailures = n
}

// SetPairError makes every pairing request answer err.
func (b *Bridge) SetPairError(err *hue.APIError) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pairError = err
}

// SetDiscovery sets the remote discovery response served at /discovery.
func (b *Bridge) SetDiscovery(entries []DiscoveryEntry) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.discovery = entries
}

// DiscoveryURL is the URL of the fake remote discovery endpoint.
func (b *Bridge) DiscoveryURL() string {
	return b.Server.URL + "/discovery"
}

// DeleteAllScenes drops every stored scene, simulating a bridge reset.
func (b *Bridge) DeleteAllScenes() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.scenes = map[string]hue.CreateSceneRequest{}
}

// Scene returns a stored scene by id.
func (b *Bridge) Scene(id string) (hue.CreateSceneRequest, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.scenes[id]
	return s, ok
}

// SceneCount returns the number of stored scenes.
func (b *Bridge) SceneCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.scenes)
}

// Recalled returns the scene ids recalled through group actions, in order.
func (b *Bridge) Recalled() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.recalled...)
}

// Calls returns how many times "METHOD route" was requested. Routes use the
// credential-free form, e.g. "PUT groups/0/action" or "POST /api".
func (b *Bridge) Calls(route string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls[route]
}

func (b *Bridge) serve(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	defer b.mu.Unlock()

	path := strings.Trim(r.URL.Path, "/")
	parts := strings.Split(path, "/")

	switch {
	case path == "discovery":
		b.calls[r.Method+" /discovery"]++
		entries := b.discovery
		if entries == nil {
			entries = []DiscoveryEntry{}
		}
		writeJSON(w, entries)
		return
	case path == "api" && r.Method == http.MethodPost:
		b.calls["POST /api"]++
		b.pair(w)
		return
	case len(parts) == 3 && parts[0] == "api" && parts[1] == "0" && parts[2] == "config":
		b.calls["GET config"]++
		writeJSON(w, hue.BridgeConfig{
			BridgeID:   BridgeID,
			Name:       "Fake Bridge",
			ModelID:    "BSB002",
			APIVersion: "1.60.0",
		})
		return
	case len(parts) < 3 || parts[0] != "api":
		http.NotFound(w, r)
		return
	}

	if parts[1] != Username {
		writeError(w, hue.ErrorTypeUnauthorized, "/"+strings.Join(parts[2:], "/"), "unauthorized user")
		return
	}

	route := strings.Join(parts[2:], "/")
	b.calls[r.Method+" "+routeKey(parts[2:])]++

	switch {
	case r.Method == http.MethodGet && route == "lights":
		writeJSON(w, b.lights)
	case r.Method == http.MethodGet && route == "capabilities":
		writeJSON(w, b.caps)
	case r.Method == http.MethodPost && route == "scenes":
		b.createScene(w, r)
	case r.Method == http.MethodGet && len(parts) == 4 && parts[2] == "scenes":
		b.getScene(w, parts[3])
	case r.Method == http.MethodDelete && len(parts) == 4 && parts[2] == "scenes":
		b.deleteScene(w, parts[3])
	case r.Method == http.MethodPut && len(parts) == 5 && parts[2] == "groups" && parts[4] == "action":
		b.groupAction(w, r, parts[3])
	default:
		writeError(w, hue.ErrorTypeResourceNotAvailable, "/"+route, "resource, /"+route+", not available")
	}
}

// routeKey collapses resource ids so call counts are stable: scenes/<id> -> scenes/:id.
func routeKey(parts []string) string {
	if len(parts) == 2 && parts[0] == "scenes" {
		return "scenes/:id"
	}
	return strings.Join(parts, "/")
}

func (b *Bridge) pair(w http.ResponseWriter) {
	if b.pairError != nil {
		writeError(w, b.pairError.Type, b.pairError.Address, b.pairError.Description)
		return
	}
	if b.pairFailures > 0 {
		b.pairFailures--
		writeError(w, hue.ErrorTypeLinkButtonNotPressed, "", "link button not pressed")
		return
	}
	writeJSON(w, []map[string]any{{"success": map[string]string{"username": Username}}})
}

func (b *Bridge) createScene(w http.ResponseWriter, r *http.Request) {
	var req hue.CreateSceneRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, hue.ErrorTypeInvalidJSON, "/scenes", "body contains invalid json")
		return
	}
	if len(b.scenes) >= b.caps.Scenes.Total {
		writeError(w, hue.ErrorTypeSceneBufferFull, "/scenes", "scene buffer full")
		return
	}
	for _, id := range req.Lights {
		if _, ok := b.lights[id]; !ok {
			writeError(w, hue.ErrorTypeInvalidValue, "/scenes/lights", "invalid value, "+id+", for parameter, lights")
			return
		}
	}
	for id, st := range req.LightStates {
		if st.Effect != "" && st.Effect != "none" {
			light := b.lights[id]
			if !hasEffect(light, st.Effect) {
				writeError(w, hue.ErrorTypeInvalidValue, "/scenes/lightstates/"+id+"/effect", "invalid value, "+st.Effect+", for parameter, effect")
				return
			}
		}
	}

	b.nextScene++
	id := "scene" + strconv.Itoa(b.nextScene)
	b.scenes[id] = req
	writeJSON(w, []map[string]any{{"success": map[string]string{"id": id}}})
}

func hasEffect(light hue.Light, effect string) bool {
	if light.Capabilities == nil {
		return false
	}
	for _, e := range light.Capabilities.Control.Effects {
		if e == effect {
			return true
		}
	}
	return false
}

func (b *Bridge) getScene(w http.ResponseWriter, id string) {
	req, ok := b.scenes[id]
	if !ok {
		writeError(w, hue.ErrorTypeResourceNotAvailable, "/scenes/"+id, "resource, /scenes/"+id+", not available")
		return
	}
	writeJSON(w, hue.Scene{
		Name:        req.Name,
		Type:        "LightScene",
		Lights:      req.Lights,
		Owner:       Username,
		Recycle:     req.Recycle,
		LightStates: req.LightStates,
	})
}

func (b *Bridge) deleteScene(w http.ResponseWriter, id string) {
	if _, ok := b.scenes[id]; !ok {
		writeError(w, hue.ErrorTypeResourceNotAvailable, "/scenes/"+id, "resource, /scenes/"+id+", not available")
		return
	}
	delete(b.scenes, id)
	writeJSON(w, []map[string]any{{"success": "/scenes/" + id + " deleted"}})
}

func (b *Bridge) groupAction(w http.ResponseWriter, r *http.Request, group string) {
	var body struct {
		Scene string `json:"scene"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, hue.ErrorTypeInvalidJSON, "/groups/"+group+"/action", "body contains invalid json")
		return
	}
	if _, ok := b.scenes[body.Scene]; !ok {
		writeError(w, hue.ErrorTypeResourceNotAvailable, "/groups/"+group+"/action/scene",
			"resource, /scenes/"+body.Scene+", not available")
		return
	}
	b.recalled = append(b.recalled, body.Scene)
	writeJSON(w, []map[string]any{{"success": map[string]string{"/groups/" + group + "/action/scene": body.Scene}}})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, typ int, address, description string) {
	writeJSON(w, []map[string]any{{"error": hue.APIError{Type: typ, Address: address, Description: description}}})
}

// RedirectClient returns an http.Client that dials target for every host,
// so addresses such as 192.168.1.50 reach the fake bridge.
func RedirectClient(target hue.BridgeAddress) *http.Client {
	dialer := &net.Dialer{}
	return &http.Client{
		Transport: &http.Transport{
			DialContext: func(ctx context.Context, network, _ string) (net.Conn, error) {
				return dialer.DialContext(ctx, network, target.String())
			},
		},
	}
}

// ColorLight returns an extended colour light with a gamut C triangle.
func ColorLight(name string) hue.Light {
	reachable := true
	return hue.Light{
		Name:             name,
		Type:             "Extended color light",
		ModelID:          "LCT015",
		ManufacturerName: "Signify Netherlands B.V.",
		State:            hue.LightState{On: true, Reachable: &reachable},
		Capabilities: &hue.LightCapabilities{
			Certified: true,
			Control: hue.LightControl{
				MinDimLevel:    1000,
				MaxLumen:       806,
				ColorGamutType: "C",
				ColorGamut:     [][]float64{{0.6915, 0.3083}, {0.17, 0.7}, {0.1532, 0.0475}},
			},
		},
	}
}

// HueSatLight returns a colour light without precise gamut data.
func HueSatLight(name string) hue.Light {
	reachable := true
	return hue.Light{
		Name:             name,
		Type:             "Color light",
		ModelID:          "LLC010",
		ManufacturerName: "Philips",
		State:            hue.LightState{On: true, Reachable: &reachable},
	}
}

// WhiteLight returns a dimmable light with no colour support.
func WhiteLight(name string) hue.Light {
	reachable := true
	return hue.Light{
		Name:             name,
		Type:             "Dimmable light",
		ModelID:          "LWB010",
		ManufacturerName: "Signify Netherlands B.V.",
		State:            hue.LightState{On: true, Reachable: &reachable},
		Capabilities: &hue.LightCapabilities{
			Control: hue.LightControl{MinDimLevel: 5000, MaxLumen: 806},
		},
	}
}

// String describes the fake for test failure messages.
func (b *Bridge) String() string {
	return fmt.Sprintf("fake bridge at %s", b.Server.URL)
}
