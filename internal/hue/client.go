package hue

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/rs/zerolog/log"
)

// DefaultGroup is the v1 group that contains every light.
const DefaultGroup = "0"

// Client speaks the v1 control protocol to one bridge.
type Client struct {
	address    BridgeAddress
	credential string
	transport  *Transport
}

// NewClient creates a new Hue client. credential may be empty until pairing.
func NewClient(address BridgeAddress, credential string, transport *Transport) *Client {
	return &Client{
		address:    address,
		credential: credential,
		transport:  transport,
	}
}

// WithCredential returns a client for the same bridge using credential.
func (c *Client) WithCredential(credential string) *Client {
	return NewClient(c.address, credential, c.transport)
}

// Address returns the bridge address
func (c *Client) Address() BridgeAddress {
	return c.address
}

// Close closes idle connections
func (c *Client) Close() {
	c.transport.Close()
}

func (c *Client) baseURL() string {
	return fmt.Sprintf("http://%s/api", c.address)
}

func (c *Client) v1URL(path string) string {
	return fmt.Sprintf("http://%s/api/%s/%s", c.address, url.PathEscape(c.credential), path)
}

// get fetches url and decodes the body into out.
func (c *Client) get(ctx context.Context, url string, out any) error {
	resp, err := c.transport.Send(ctx, &Request{Method: http.MethodGet, URL: url, Idempotent: true})
	if err != nil {
		return err
	}
	if err := errorFromBody(resp.Body); err != nil {
		return err
	}
	if err := json.Unmarshal(resp.Body, out); err != nil {
		return &TransportError{Kind: Malformed, Method: http.MethodGet, URL: url, Err: err}
	}
	return nil
}

// write sends a mutating request and returns the success payloads.
func (c *Client) write(ctx context.Context, method, url string, body any, idempotent bool) ([]json.RawMessage, error) {
	resp, err := c.transport.Send(ctx, &Request{Method: method, URL: url, Body: body, Idempotent: idempotent})
	if err != nil {
		return nil, err
	}
	successes, err := parseEnvelope(resp.Body)
	if err != nil {
		if _, ok := err.(*APIError); ok {
			return nil, err
		}
		return nil, &TransportError{Kind: Malformed, Method: method, URL: url, Err: err}
	}
	return successes, nil
}

// Config fetches the unauthenticated bridge configuration. It doubles as the
// liveness probe: the peer must answer with a bridge id.
func (c *Client) Config(ctx context.Context) (*BridgeConfig, error) {
	var cfg BridgeConfig
	if err := c.get(ctx, c.baseURL()+"/0/config", &cfg); err != nil {
		return nil, err
	}
	if cfg.BridgeID == "" {
		return nil, fmt.Errorf("%s: %w", c.address, ErrNotABridge)
	}
	return &cfg, nil
}

// Pair issues one pairing request. It returns the issued credential, or the
// bridge's *APIError (type 101 until the link button is pressed).
func (c *Client) Pair(ctx context.Context, deviceType string) (string, error) {
	successes, err := c.write(ctx, http.MethodPost, c.baseURL(), map[string]string{"devicetype": deviceType}, false)
	if err != nil {
		return "", err
	}

	var result struct {
		Username string `json:"username"`
	}
	if err := json.Unmarshal(successes[0], &result); err != nil || result.Username == "" {
		return "", fmt.Errorf("%w: pairing response without username", ErrUnexpectedResponse)
	}
	return result.Username, nil
}

// GetLights returns all lights keyed by id (v1 API)
func (c *Client) GetLights(ctx context.Context) (map[string]Light, error) {
	var raw map[string]Light
	if err := c.get(ctx, c.v1URL("lights"), &raw); err != nil {
		return nil, err
	}
	for id, light := range raw {
		light.ID = id
		raw[id] = light
	}
	return raw, nil
}

// GetCapabilities returns bridge-wide resource limits (v1 API)
func (c *Client) GetCapabilities(ctx context.Context) (*Capabilities, error) {
	var caps Capabilities
	if err := c.get(ctx, c.v1URL("capabilities"), &caps); err != nil {
		return nil, err
	}
	return &caps, nil
}

// CreateScene creates a scene and returns its bridge id. Creation is not
// idempotent, so it is only replayed when the bridge never answered.
func (c *Client) CreateScene(ctx context.Context, req CreateSceneRequest) (string, error) {
	successes, err := c.write(ctx, http.MethodPost, c.v1URL("scenes"), req, false)
	if err != nil {
		return "", err
	}

	var result struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(successes[0], &result); err != nil || result.ID == "" {
		return "", fmt.Errorf("%w: scene creation response without id", ErrUnexpectedResponse)
	}

	log.Debug().
		Str("scene", result.ID).
		Str("name", req.Name).
		Int("lights", len(req.Lights)).
		Msg("Scene created")

	return result.ID, nil
}

// GetScene returns a scene by id (v1 API)
func (c *Client) GetScene(ctx context.Context, sceneID string) (*Scene, error) {
	var scene Scene
	if err := c.get(ctx, c.v1URL("scenes/"+url.PathEscape(sceneID)), &scene); err != nil {
		return nil, err
	}
	scene.ID = sceneID
	return &scene, nil
}

// DeleteScene removes a scene (v1 API)
func (c *Client) DeleteScene(ctx context.Context, sceneID string) error {
	_, err := c.write(ctx, http.MethodDelete, c.v1URL("scenes/"+url.PathEscape(sceneID)), nil, true)
	return err
}

// ActivateScene recalls a scene through a group action (v1 API).
// Recall is idempotent and is retried under the transport policy.
func (c *Client) ActivateScene(ctx context.Context, groupID, sceneID string) error {
	path := fmt.Sprintf("groups/%s/action", url.PathEscape(groupID))
	if _, err := c.write(ctx, http.MethodPut, c.v1URL(path), map[string]string{"scene": sceneID}, true); err != nil {
		return err
	}

	log.Debug().
		Str("group", groupID).
		Str("scene", sceneID).
		Msg("Scene activated")

	return nil
}
