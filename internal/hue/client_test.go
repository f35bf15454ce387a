package hue_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dokzlo13/huestatus/internal/hue"
	"github.com/dokzlo13/huestatus/internal/hue/huetest"
)

func newClient(t *testing.T, bridge *huetest.Bridge, credential string) *hue.Client {
	t.Helper()
	tr := hue.NewTransport(hue.TransportConfig{
		Timeout: time.Second,
		Retry:   hue.RetryPolicy{MaxAttempts: 2},
	})
	client := hue.NewClient(bridge.Address(), credential, tr)
	t.Cleanup(client.Close)
	return client
}

func TestClient_Config(t *testing.T) {
	bridge := huetest.NewBridge(t)
	client := newClient(t, bridge, "")

	cfg, err := client.Config(context.Background())
	if err != nil {
		t.Fatalf("Config() error = %v", err)
	}
	if cfg.BridgeID != huetest.BridgeID {
		t.Errorf("BridgeID = %q, want %q", cfg.BridgeID, huetest.BridgeID)
	}
}

func TestClient_ConfigRejectsNonBridge(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"name":"printer"}`))
	}))
	defer srv.Close()

	addr, err := hue.ParseAddress(srv.Listener.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	client := hue.NewClient(addr, "", hue.NewTransport(hue.TransportConfig{Timeout: time.Second}))

	if _, err := client.Config(context.Background()); !errors.Is(err, hue.ErrNotABridge) {
		t.Errorf("Config() error = %v, want ErrNotABridge", err)
	}
}

func TestClient_Pair(t *testing.T) {
	bridge := huetest.NewBridge(t)
	bridge.SetPairFailures(1)
	client := newClient(t, bridge, "")

	_, err := client.Pair(context.Background(), "huestatus#test")
	if !errors.Is(err, hue.ErrLinkButtonNotPressed) {
		t.Fatalf("first Pair() error = %v, want ErrLinkButtonNotPressed", err)
	}
	var apiErr *hue.APIError
	if !errors.As(err, &apiErr) || apiErr.Type != hue.ErrorTypeLinkButtonNotPressed {
		t.Errorf("first Pair() error = %#v, want *APIError type 101", err)
	}

	username, err := client.Pair(context.Background(), "huestatus#test")
	if err != nil {
		t.Fatalf("second Pair() error = %v", err)
	}
	if username != huetest.Username {
		t.Errorf("username = %q, want %q", username, huetest.Username)
	}
	// A rejected pairing is an application error and must not be replayed
	if got := bridge.Calls("POST /api"); got != 2 {
		t.Errorf("POST /api calls = %d, want 2", got)
	}
}

func TestClient_GetLights(t *testing.T) {
	bridge := huetest.NewBridge(t)
	bridge.AddLight("1", huetest.ColorLight("Desk"))
	bridge.AddLight("2", huetest.WhiteLight("Hall"))
	client := newClient(t, bridge, huetest.Username)

	lights, err := client.GetLights(context.Background())
	if err != nil {
		t.Fatalf("GetLights() error = %v", err)
	}
	if len(lights) != 2 {
		t.Fatalf("len(lights) = %d, want 2", len(lights))
	}
	if lights["1"].ID != "1" || lights["1"].Name != "Desk" {
		t.Errorf("lights[1] = %+v", lights["1"])
	}
	if lights["1"].Capabilities == nil || lights["1"].Capabilities.Control.ColorGamutType != "C" {
		t.Errorf("lights[1] capabilities = %+v", lights["1"].Capabilities)
	}
}

func TestClient_Unauthorized(t *testing.T) {
	bridge := huetest.NewBridge(t)
	client := newClient(t, bridge, "stale-credential")

	_, err := client.GetLights(context.Background())
	if !errors.Is(err, hue.ErrUnauthorized) {
		t.Errorf("GetLights() error = %v, want ErrUnauthorized", err)
	}
	if hue.IsTransport(err) {
		t.Error("unauthorized must not be a transport error")
	}
}

func TestClient_SceneLifecycle(t *testing.T) {
	bridge := huetest.NewBridge(t)
	bridge.AddLight("1", huetest.ColorLight("Desk"))
	client := newClient(t, bridge, huetest.Username)
	ctx := context.Background()

	hueVal := uint16(21845)
	sat := uint8(254)
	id, err := client.CreateScene(ctx, hue.CreateSceneRequest{
		Name:    "huestatus-success",
		Lights:  []string{"1"},
		Recycle: true,
		LightStates: map[string]hue.SceneLightState{
			"1": {On: true, Bri: 254, Hue: &hueVal, Sat: &sat},
		},
	})
	if err != nil {
		t.Fatalf("CreateScene() error = %v", err)
	}

	scene, err := client.GetScene(ctx, id)
	if err != nil {
		t.Fatalf("GetScene() error = %v", err)
	}
	if scene.ID != id || scene.Name != "huestatus-success" {
		t.Errorf("scene = %+v", scene)
	}

	if err := client.ActivateScene(ctx, hue.DefaultGroup, id); err != nil {
		t.Fatalf("ActivateScene() error = %v", err)
	}
	if got := bridge.Recalled(); len(got) != 1 || got[0] != id {
		t.Errorf("Recalled() = %v, want [%s]", got, id)
	}

	if err := client.DeleteScene(ctx, id); err != nil {
		t.Fatalf("DeleteScene() error = %v", err)
	}
	if _, err := client.GetScene(ctx, id); !errors.Is(err, hue.ErrResourceNotAvailable) {
		t.Errorf("GetScene() after delete error = %v, want ErrResourceNotAvailable", err)
	}
	if err := client.ActivateScene(ctx, hue.DefaultGroup, id); !errors.Is(err, hue.ErrResourceNotAvailable) {
		t.Errorf("ActivateScene() after delete error = %v, want ErrResourceNotAvailable", err)
	}
}

func TestClient_CreateSceneCapacity(t *testing.T) {
	bridge := huetest.NewBridge(t)
	bridge.AddLight("1", huetest.ColorLight("Desk"))
	bridge.SetCapabilities(hue.Capabilities{
		Scenes: hue.SceneLimits{Available: 0, Total: 0},
	})
	client := newClient(t, bridge, huetest.Username)

	_, err := client.CreateScene(context.Background(), hue.CreateSceneRequest{
		Name:        "huestatus-failure",
		Lights:      []string{"1"},
		LightStates: map[string]hue.SceneLightState{"1": {On: true, Bri: 254}},
	})
	if !errors.Is(err, hue.ErrCapacityExceeded) {
		t.Errorf("CreateScene() error = %v, want ErrCapacityExceeded", err)
	}
	if got := bridge.Calls("POST scenes"); got != 1 {
		t.Errorf("POST scenes calls = %d, want 1", got)
	}
}
