package hue

// BridgeConfig is the unauthenticated subset of /api/0/config.
type BridgeConfig struct {
	BridgeID   string `json:"bridgeid"`
	Name       string `json:"name"`
	ModelID    string `json:"modelid"`
	APIVersion string `json:"apiversion"`
	SWVersion  string `json:"swversion"`
	MAC        string `json:"mac"`
}

// Light represents a Hue light (v1 API)
type Light struct {
	ID               string             `json:"-"`
	Name             string             `json:"name"`
	Type             string             `json:"type"`
	ModelID          string             `json:"modelid"`
	ManufacturerName string             `json:"manufacturername"`
	ProductName      string             `json:"productname,omitempty"`
	State            LightState         `json:"state"`
	Capabilities     *LightCapabilities `json:"capabilities,omitempty"`
}

// LightState represents the current state of a light (v1 API)
type LightState struct {
	On        bool      `json:"on"`
	Bri       *uint8    `json:"bri,omitempty"`
	Hue       *uint16   `json:"hue,omitempty"`
	Sat       *uint8    `json:"sat,omitempty"`
	Effect    string    `json:"effect,omitempty"`
	XY        []float64 `json:"xy,omitempty"`
	CT        *uint16   `json:"ct,omitempty"`
	ColorMode string    `json:"colormode,omitempty"`
	Reachable *bool     `json:"reachable,omitempty"`
}

// LightCapabilities describes what a light can do.
type LightCapabilities struct {
	Certified bool         `json:"certified"`
	Control   LightControl `json:"control"`
}

// LightControl holds colour and dimming capabilities.
type LightControl struct {
	MinDimLevel    int         `json:"mindimlevel,omitempty"`
	MaxLumen       int         `json:"maxlumen,omitempty"`
	ColorGamutType string      `json:"colorgamuttype,omitempty"`
	ColorGamut     [][]float64 `json:"colorgamut,omitempty"`
	CT             *struct {
		Min int `json:"min"`
		Max int `json:"max"`
	} `json:"ct,omitempty"`
	Effects []string `json:"effects,omitempty"`
}

// ResourceLimits is one available/total pair from /capabilities.
type ResourceLimits struct {
	Available int `json:"available"`
	Total     int `json:"total"`
}

// SceneLimits carries scene and light-state storage limits.
type SceneLimits struct {
	Available   int            `json:"available"`
	Total       int            `json:"total"`
	LightStates ResourceLimits `json:"lightstates"`
}

// Capabilities represents bridge-wide resource limits (v1 API)
type Capabilities struct {
	Lights ResourceLimits `json:"lights"`
	Groups ResourceLimits `json:"groups"`
	Scenes SceneLimits    `json:"scenes"`
}

// SceneLightState is the per-light state stored in a scene.
// Hue and Sat are pointers because red is hue 0.
type SceneLightState struct {
	On             bool      `json:"on"`
	Bri            uint8     `json:"bri,omitempty"`
	Hue            *uint16   `json:"hue,omitempty"`
	Sat            *uint8    `json:"sat,omitempty"`
	XY             []float64 `json:"xy,omitempty"`
	Effect         string    `json:"effect,omitempty"`
	TransitionTime *uint16   `json:"transitiontime,omitempty"`
}

// Scene represents a Hue scene (v1 API)
type Scene struct {
	ID          string                     `json:"-"`
	Name        string                     `json:"name"`
	Type        string                     `json:"type"`
	Group       string                     `json:"group,omitempty"`
	Lights      []string                   `json:"lights"`
	Owner       string                     `json:"owner"`
	Recycle     bool                       `json:"recycle"`
	Locked      bool                       `json:"locked"`
	LightStates map[string]SceneLightState `json:"lightstates,omitempty"`
}

// CreateSceneRequest is the body of POST /api/<credential>/scenes.
type CreateSceneRequest struct {
	Name        string                     `json:"name"`
	Lights      []string                   `json:"lights"`
	Recycle     bool                       `json:"recycle"`
	LightStates map[string]SceneLightState `json:"lightstates"`
}

