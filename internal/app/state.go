package app

import (
	"time"

	"github.com/dokzlo13/huestatus/internal/discovery"
	"github.com/dokzlo13/huestatus/internal/hue"
	"github.com/dokzlo13/huestatus/internal/scene"
)

// Pattern keys understood by ApplyStatus.
const (
	PatternSuccess = "success"
	PatternFailure = "failure"
)

// Storage location of the bridge state.
const (
	stateKind = "bridge"
	stateID   = "default"
)

// State is everything a status invocation needs, produced by setup.
type State struct {
	Address      hue.BridgeAddress       `json:"address"`
	BridgeID     string                  `json:"bridge_id"`
	BridgeName   string                  `json:"bridge_name,omitempty"`
	DiscoveredBy discovery.Method        `json:"discovered_by"`
	Credential   string                  `json:"credential"`
	Lights       []string                `json:"lights"`
	Patterns     map[string]scene.Handle `json:"patterns"`
	CreatedAt    time.Time               `json:"created_at"`
}

// Configured reports whether s can drive a status invocation.
func (s *State) Configured() bool {
	return s != nil && s.Credential != "" && !s.Address.IsZero() && len(s.Patterns) > 0
}

// CredentialPrefix returns a loggable prefix of the credential.
func (s *State) CredentialPrefix() string {
	if len(s.Credential) <= 8 {
		return s.Credential
	}
	return s.Credential[:8]
}
